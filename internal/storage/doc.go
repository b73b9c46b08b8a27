// Package storage persists the history of finished dispatch loops.
//
// Schedules and in-flight run state are not stored; only the
// per-loop summary (requested, completed, succeeded, cancelled) is kept.
package storage

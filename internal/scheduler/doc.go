// Package scheduler fires a multi-user dispatch once at a wall-clock time.
//
// Each Schedule call owns one cron trigger, rendered as a calendar spec in a
// fixed timezone and removed after it fires. Users map to at most one
// trigger; cancelling the last user of a trigger removes it.
package scheduler

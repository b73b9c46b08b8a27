package config

// Config is the on-disk service configuration (JSON or YAML).
//
// Decoding starts from Default(), so omitted fields keep their defaults.
// Unknown keys are rejected.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Logging   LoggingConfig   `json:"logging"`
	Remote    RemoteConfig    `json:"remote"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Defaults  DefaultsConfig  `json:"defaults"`
	Profiles  []ProfileConfig `json:"profiles"`

	Storage  *StorageConfig  `json:"storage,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

// ServerConfig controls the HTTP listener. Durations are Go duration strings.
// Changes require a restart.
type ServerConfig struct {
	Addr         string `json:"addr"`
	StaticDir    string `json:"static_dir,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	// Pprof mounts /debug/pprof/ on the same listener.
	Pprof bool `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram mirrors log lines to telegram.chat_id. It needs the
// telegram section.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// RemoteConfig points at the registration endpoint.
type RemoteConfig struct {
	URL     string `json:"url"`
	Referer string `json:"referer,omitempty"`
	// Timeout bounds a single request; "0s" disables it.
	Timeout string `json:"timeout,omitempty"`
	// ErrorCode is the response "code" that marks a soft failure.
	ErrorCode int64 `json:"error_code,omitempty"`
}

type DispatchConfig struct {
	// MaxRatePerSec caps remote calls across all users; 0 disables the cap.
	MaxRatePerSec float64 `json:"max_rate_per_sec,omitempty"`
}

type SchedulerConfig struct {
	Timezone string `json:"timezone"`
}

// DefaultsConfig fills user configs that omit a field.
type DefaultsConfig struct {
	CredentialPrimary   string `json:"credential_primary"`
	CredentialSecondary string `json:"credential_secondary"`
	RequestCount        int    `json:"request_count"`
	DelayMs             int    `json:"delay_ms"`
	DailyStartTime      string `json:"daily_start_time"`
}

// ProfileConfig is a predefined user loaded into the store at boot.
type ProfileConfig struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	CredentialPrimary   string `json:"credential_primary"`
	CredentialSecondary string `json:"credential_secondary"`
}

// StorageConfig enables run history.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./autoreg.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// TelegramConfig enables the progress relay and the log sink.
type TelegramConfig struct {
	Token      string `json:"token"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	RetryMax   int    `json:"retry_max,omitempty"`
	// Events lists relayed categories: complete, error, scheduled,
	// cancelled, info. Empty means complete, error, scheduled, cancelled.
	Events []string `json:"events,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":3000",
			StaticDir:    "./public",
			ReadTimeout:  "15s",
			WriteTimeout: "0s",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
		Remote: RemoteConfig{
			URL:       "https://comensales.uncp.edu.pe/api/registros",
			Referer:   "https://comensales.uncp.edu.pe/",
			Timeout:   "30s",
			ErrorCode: 500,
		},
		Scheduler: SchedulerConfig{Timezone: "America/Lima"},
		Defaults: DefaultsConfig{
			RequestCount:   50,
			DelayMs:        100,
			DailyStartTime: "07:00",
		},
		Profiles: []ProfileConfig{{ID: "custom", Name: "Custom"}},
	}
}

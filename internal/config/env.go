package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"

	"autoreg/internal/userconfig"
)

// envOverlay lists the environment variables that override file values.
// Counts are strings so malformed values fall back instead of failing.
type envOverlay struct {
	Port           string `envconfig:"PORT"`
	DNI            string `envconfig:"DNI"`
	Codigo         string `envconfig:"CODIGO"`
	NumSolicitudes string `envconfig:"NUM_SOLICITUDES"`
	IntervaloMs    string `envconfig:"INTERVALO_MS"`
	HoraInicio     string `envconfig:"HORA_INICIO"`
	LogLevel       string `envconfig:"LOG_LEVEL"`
	TZName         string `envconfig:"TZ_NAME"`
	RemoteURL      string `envconfig:"REMOTE_URL"`
	TelegramToken  string `envconfig:"TELEGRAM_TOKEN"`
}

// ApplyEnv overlays environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	var env envOverlay
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("env: %w", err)
	}
	env.apply(cfg)
	return nil
}

func (e envOverlay) apply(cfg *Config) {
	if p := strings.TrimSpace(e.Port); p != "" {
		if !strings.Contains(p, ":") {
			p = ":" + p
		}
		cfg.Server.Addr = p
	}
	if e.DNI != "" {
		cfg.Defaults.CredentialPrimary = e.DNI
	}
	if e.Codigo != "" {
		cfg.Defaults.CredentialSecondary = e.Codigo
	}
	if n, ok := userconfig.ParseInt(e.NumSolicitudes); ok && n > 0 {
		cfg.Defaults.RequestCount = n
	}
	if n, ok := userconfig.ParseInt(e.IntervaloMs); ok && n >= 0 {
		cfg.Defaults.DelayMs = n
	}
	if e.HoraInicio != "" {
		cfg.Defaults.DailyStartTime = e.HoraInicio
	}
	if e.LogLevel != "" {
		cfg.Logging.Level = e.LogLevel
	}
	if e.TZName != "" {
		cfg.Scheduler.Timezone = e.TZName
	}
	if e.RemoteURL != "" {
		cfg.Remote.URL = e.RemoteURL
	}
	if e.TelegramToken != "" && cfg.Telegram != nil {
		cfg.Telegram.Token = e.TelegramToken
	}
}

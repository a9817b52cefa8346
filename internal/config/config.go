package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config keeps runtime settings for the planner.
type Config struct {
	TelegramToken  string        `toml:"telegram_token"`
	DatabaseURL    string        `toml:"database_url"`
	ReportInterval time.Duration `toml:"-"`

	// ReportIntervalHours mirrors REPORT_INTERVAL_HOURS for the TOML file.
	ReportIntervalHours int `toml:"report_interval_hours"`
}

// Load reads configuration from an optional TOML file (path in
// PLANNER_CONFIG, default planner.toml if present) with environment
// variables taking precedence.
func Load() (Config, error) {
	cfg, err := loadFile()
	if err != nil {
		return cfg, err
	}

	if v := strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")); v != "" {
		cfg.TelegramToken = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	if v := parseInterval(strings.TrimSpace(os.Getenv("REPORT_INTERVAL_HOURS"))); v > 0 {
		cfg.ReportInterval = v
	} else if cfg.ReportIntervalHours > 0 {
		cfg.ReportInterval = time.Duration(cfg.ReportIntervalHours) * time.Hour
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "org_planner.db"
	}
	if cfg.ReportInterval == 0 {
		cfg.ReportInterval = 5 * time.Hour
	}
	if cfg.TelegramToken == "" {
		return cfg, fmt.Errorf("TELEGRAM_TOKEN is required")
	}

	return cfg, nil
}

func loadFile() (Config, error) {
	var cfg Config

	path := strings.TrimSpace(os.Getenv("PLANNER_CONFIG"))
	explicit := path != ""
	if !explicit {
		path = "planner.toml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		if os.IsNotExist(err) {
			return cfg, fmt.Errorf("config file %q not found", path)
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}

func parseInterval(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	hours, err := time.ParseDuration(raw + "h")
	if err != nil || hours <= 0 {
		return 0
	}
	return hours
}

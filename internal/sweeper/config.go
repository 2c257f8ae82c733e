package sweeper

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines rental sweep configuration.
type Config struct {
	Interval         time.Duration `yaml:"interval"`
	ExpiryNoticeDays int           `yaml:"expiry_notice_days"`
	WebhookURL       string        `yaml:"webhook_url"`
}

// LoadConfig loads config from yaml or env.
func LoadConfig() (Config, error) {
	cfg := Config{
		Interval:         getenvDuration("SWEEPER_INTERVAL", time.Hour),
		ExpiryNoticeDays: getenvIntDefault("SWEEPER_EXPIRY_NOTICE_DAYS", 7),
		WebhookURL:       os.Getenv("SWEEPER_WEBHOOK_URL"),
	}

	if path := os.Getenv("SWEEPER_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.ExpiryNoticeDays < 0 {
		cfg.ExpiryNoticeDays = 0
	}
	return cfg, nil
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

package core

import (
	"fmt"
	"strings"
	"time"
)

type SchedulingConfig struct {
	Secret string `koanf:"secret" mapstructure:"secret"`
}

type PaymentsConfig struct {
	// Secrets holds every currently valid signing secret; more than one
	// entry covers provider-side key rotation.
	Secrets      []string      `koanf:"secrets" mapstructure:"secrets"`
	ReplayWindow time.Duration `koanf:"replay_window" mapstructure:"replay_window"`
}

type SourcesConfig struct {
	Scheduling SchedulingConfig `koanf:"scheduling" mapstructure:"scheduling"`
	Payments   PaymentsConfig   `koanf:"payments" mapstructure:"payments"`
}

type ThrottleConfig struct {
	Cooldown  time.Duration `koanf:"cooldown" mapstructure:"cooldown"`
	MaxPerDay int           `koanf:"max_per_day" mapstructure:"max_per_day"`
}

type TrackerConfig struct {
	BaseURL      string `koanf:"base_url" mapstructure:"base_url"`
	CollectionID string `koanf:"collection_id" mapstructure:"collection_id"`
	APIToken     string `koanf:"api_token" mapstructure:"api_token"`
}

type MailerConfig struct {
	TokenURL     string `koanf:"token_url" mapstructure:"token_url"`
	ClientID     string `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret string `koanf:"client_secret" mapstructure:"client_secret"`
	SendURL      string `koanf:"send_url" mapstructure:"send_url"`
	From         string `koanf:"from" mapstructure:"from"`
}

// Config is the single explicit configuration value constructed at startup
// and passed through the pipeline. Components never read ambient globals.
type Config struct {
	ServiceName string         `koanf:"service_name" mapstructure:"service_name"`
	Sources     SourcesConfig  `koanf:"sources" mapstructure:"sources"`
	Throttle    ThrottleConfig `koanf:"throttle" mapstructure:"throttle"`
	Tracker     TrackerConfig  `koanf:"tracker" mapstructure:"tracker"`
	Mailer      MailerConfig   `koanf:"mailer" mapstructure:"mailer"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "intake",
		Sources: SourcesConfig{
			Payments: PaymentsConfig{ReplayWindow: 5 * time.Minute},
		},
		Throttle: ThrottleConfig{
			Cooldown:  10 * time.Minute,
			MaxPerDay: 3,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Throttle.Cooldown < 0 {
		return fmt.Errorf("core: throttle cooldown must not be negative")
	}
	if c.Throttle.MaxPerDay < 0 {
		return fmt.Errorf("core: throttle max_per_day must not be negative")
	}
	return nil
}

package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all configuration for the Ostrom price bridge.
type Config struct {
	// Service
	ServiceName    string `env:"SERVICE_NAME" envDefault:"ostrom-bridge"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPListenAddr string `env:"HTTP_LISTEN_ADDR" envDefault:":8080"`
	TZ             string `env:"TZ" envDefault:"Europe/Berlin"`

	// Ostrom API credentials
	ClientID     string `env:"OSTROM_CLIENT_ID"`
	ClientSecret string `env:"OSTROM_CLIENT_SECRET"`
	ZipCode      string `env:"OSTROM_ZIP_CODE"`

	// Ostrom API endpoints (overridable for testing)
	AuthURL string `env:"OSTROM_AUTH_URL" envDefault:"https://auth.production.ostrom-api.io/oauth2/token"`
	APIURL  string `env:"OSTROM_API_URL" envDefault:"https://production.ostrom-api.io"`

	// Refresh cadence in seconds
	RefreshIntervalS int `env:"REFRESH_INTERVAL_S" envDefault:"300"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the required credentials are present.
// Presence only; the Ostrom API is the authority on whether they work.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("OSTROM_CLIENT_ID is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("OSTROM_CLIENT_SECRET is required")
	}
	if c.ZipCode == "" {
		return fmt.Errorf("OSTROM_ZIP_CODE is required")
	}
	return nil
}

// RefreshInterval returns the refresh cadence as a duration.
func (c *Config) RefreshInterval() time.Duration {
	if c.RefreshIntervalS <= 0 {
		return 300 * time.Second
	}
	return time.Duration(c.RefreshIntervalS) * time.Second
}

// Location returns the configured timezone location.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Package config loads the demo worker configuration from STRIX_ environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const prefix = "STRIX"

type Config struct {
	// URL selects the broker. When empty the server named by Server is taken from the specification.
	URL    string `envconfig:"URL"`
	Server string `envconfig:"SERVER"`

	// Channel limits listening to one channel. Empty listens on every subscribed channel.
	Channel string `envconfig:"CHANNEL"`

	RepublishErrors  bool          `envconfig:"REPUBLISH_ERRORS" default:"false"`
	OperationTimeout time.Duration `envconfig:"OPERATION_TIMEOUT" default:"0s"`
	QueueSize        int           `envconfig:"QUEUE_SIZE" default:"64"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process(prefix, &c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if c.OperationTimeout < 0 {
		return fmt.Errorf("config: %s_OPERATION_TIMEOUT must not be negative", prefix)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("config: %s_QUEUE_SIZE must be positive", prefix)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel. Unknown levels are an error.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("config: %s_LOG_LEVEL: %w", prefix, err)
	}
	return lvl, nil
}

package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/grovetools/statesync/errors"
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	durations := map[string]string{
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"push.write_timeout":      c.Push.WriteTimeout,
		"flush.interval":          c.Flush.Interval,
	}
	for field, value := range durations {
		if value == "" {
			continue
		}
		if err := validateDuration(value); err != nil {
			return errors.Wrap(err, errors.ErrCodeConfigValidation, fmt.Sprintf("invalid duration for %s", field)).
				WithDetail("field", field).
				WithDetail("value", value)
		}
	}

	if c.Push.FragmentSize < 0 || c.Push.FragmentSize > 4095 {
		return errors.New(errors.ErrCodeConfigValidation, "push.fragment_size must be between 1 and 4095").
			WithDetail("value", c.Push.FragmentSize)
	}

	switch c.Signals.Mode {
	case "", SignalModeSync, SignalModeAsync:
	default:
		return errors.New(errors.ErrCodeConfigValidation, fmt.Sprintf("unknown signals.mode '%s'", c.Signals.Mode)).
			WithDetail("value", c.Signals.Mode)
	}

	if c.Server.Socket != "" && !filepath.IsAbs(c.Server.Socket) {
		return errors.New(errors.ErrCodeConfigValidation, "server.socket must be an absolute path").
			WithDetail("value", c.Server.Socket)
	}

	return nil
}

func validateDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive, got %s", value)
	}
	return nil
}

package model

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a missing or invalid configuration value.
// It is fatal at startup.
type ConfigurationError struct {
	Key     string
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Key == "" {
		return "configuration: " + e.Message
	}
	return fmt.Sprintf("configuration %s: %s", e.Key, e.Message)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err (or any error in its chain)
// is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

func configErrorf(key, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Key: key, Message: fmt.Sprintf(format, args...)}
}

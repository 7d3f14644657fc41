package nk

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is matched by every *ConfigError
	ErrConfiguration = errors.New("nk: invalid configuration")

	// ErrUnauthorized is returned when an operation needs a valid token and none is available
	ErrUnauthorized = errors.New("nk: not authenticated")
)

// ConfigError reports an invalid or missing configuration value.
// It is fatal for the operation and is meant for the integrator, not the end user.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("nk: invalid configuration %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

package runner

import "fmt"

// ConfigError marks an unresolvable reference or a malformed command
// template. It is fatal to the whole suite run: nothing about the
// configuration will improve by moving to the next experiment.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "config error: " + e.Reason }

func configErrorf(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

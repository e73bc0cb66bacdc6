package planner

import "errors"

// ValidationError is returned when a decoded value does not satisfy the plan schema.
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return "plan does not match schema: " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ConfigurationError is returned when a request cannot be built from the caller's input.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "planner configuration: " + e.Message
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConfiguration reports whether err is, or wraps, a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

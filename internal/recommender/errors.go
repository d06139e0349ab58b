package recommender

import (
	"errors"
	"strings"
)

// ConfigurationError reports a fit input or engine option that can never
// succeed, such as a table with none of the reference indicators.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "recommender: configuration: " + strings.Join(e.Problems, "; ")
}

// UnfittedModelError is returned when fitted state is required but no fit
// (or restore) has completed.
type UnfittedModelError struct{}

func (e *UnfittedModelError) Error() string {
	return "recommender: model is not fitted; call fit before transform"
}

// ValidationError reports malformed input: an empty fit table or a persisted
// record that is inconsistent or of an unknown schema.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "recommender: invalid input: " + e.Msg
}

// IsConfigurationError reports whether err carries a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsUnfitted reports whether err carries an UnfittedModelError.
func IsUnfitted(err error) bool {
	var ue *UnfittedModelError
	return errors.As(err, &ue)
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

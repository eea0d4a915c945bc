package ml

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned when prediction is requested before any model has
// been trained or loaded. It is a service-unavailable condition, never fatal;
// it resolves once training or a successful load occurs.
var ErrNotReady = errors.New("model not ready: train a model or load a saved one first")

// ErrIncompleteArtifact is returned when the model store finds some but not
// all of the persisted components of a generation. Callers treat it as
// "no model", not as a fatal startup error.
var ErrIncompleteArtifact = errors.New("incomplete model artifact")

// ValidationError describes a training dataset that cannot be trained on:
// too few samples, missing columns, malformed labels. No partial training is
// attempted when one is returned.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "training data validation failed: " + e.Reason
}

func validationErrorf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a dataset validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

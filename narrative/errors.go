package narrative

import "github.com/cockroachdb/errors"

var (
	// ErrValidation marks failures caused by the input itself. They are the
	// only failures recorded in the negative cache.
	ErrValidation = errors.New("validation failed")
	// ErrGeneration marks failures of the generator: transport, quota, empty output.
	ErrGeneration = errors.New("generation failed")
	// ErrNegativeCached is returned when a recent validation failure is on record for the key.
	ErrNegativeCached = errors.New("recent failure on record")
)

// IsValidation reports whether err was caused by the input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

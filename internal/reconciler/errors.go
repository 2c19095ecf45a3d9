package reconciler

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrInvalidSpec marks specs that cannot become valid by retrying.
var ErrInvalidSpec = errors.New("invalid spec")

// TransientError asks the caller to try again after Delay.
type TransientError struct {
	Err   error
	Delay time.Duration
}

// Transient wraps err as a TransientError with the given delay.
func Transient(err error, delay time.Duration) *TransientError {
	return &TransientError{Err: err, Delay: delay}
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%v (retry in %s)", e.Err, e.Delay)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// AsTransient reports whether err carries a TransientError and returns it.
func AsTransient(err error) (*TransientError, bool) {
	var transient *TransientError
	if errors.As(err, &transient) {
		return transient, true
	}

	return nil, false
}

// IsInvalidSpec reports whether err was caused by a malformed spec.
func IsInvalidSpec(err error) bool {
	return errors.Is(err, ErrInvalidSpec)
}

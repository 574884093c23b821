package snapshot

import (
	"errors"
	"fmt"
)

// TransientError marks a provider failure worth retrying: timeouts, rate
// limits, transport errors. Exhausted retries surface to the step as an
// UNCERTAIN outcome, never FAILED.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient provider error during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// NotFoundError reports that a resource legitimately does not exist
// (for example a deleted cluster). This is a classification, not a fault.
type NotFoundError struct {
	ResourceType string
	Filter       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found (filter %q)", e.ResourceType, e.Filter)
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

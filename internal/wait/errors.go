package wait

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeout matches any *TimeoutError via errors.Is.
var ErrTimeout = errors.New("wait timed out")

// TimeoutError is returned when a predicate is not satisfied within the timeout.
type TimeoutError struct {
	Description string
	Elapsed     time.Duration
	Polls       int
	// LastValue is the value of the last unsatisfied evaluation, if any.
	LastValue any
	// LastErr is the ignorable error seen on the last poll, if any. It is
	// kept for diagnostics only and is not unwrapped, so a timeout never
	// matches the ignorable error it swallowed.
	LastErr error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timed out after %s waiting for %s (%d polls)", e.Elapsed.Round(time.Millisecond), e.Description, e.Polls)
	if e.LastErr != nil {
		msg += ": last error: " + e.LastErr.Error()
	}
	return msg
}

// Is reports ErrTimeout equivalence.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// IsTimeout reports whether err is, or wraps, a wait timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

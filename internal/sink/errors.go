package sink

import (
	"errors"
	"fmt"
)

// ErrSink is wrapped by every error the client returns for a failed call.
var ErrSink = errors.New("metadata sink")

// TransientError is a failure worth retrying: the sink was unreachable, timed
// out or answered 5xx/429.
type TransientError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s: http %d: %v", ErrSink, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", ErrSink, e.Op, e.Err)
}

func (e *TransientError) Unwrap() []error { return []error{ErrSink, e.Err} }

// RejectedError is a definitive refusal: a 4xx answer or an import report
// with status ERROR. It is never retried.
type RejectedError struct {
	Op         string
	StatusCode int
	Status     string
	Message    string
	Reports    []ErrorReport
}

func (e *RejectedError) Error() string {
	msg := e.Message
	if msg == "" && len(e.Reports) > 0 {
		msg = e.Reports[0].Message
	}
	return fmt.Sprintf("%s: %s rejected (http %d, status %s): %s", ErrSink, e.Op, e.StatusCode, e.Status, msg)
}

func (e *RejectedError) Unwrap() error { return ErrSink }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

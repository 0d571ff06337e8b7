package fetch

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	// KindTransient covers timeouts, connection resets and 5xx responses.
	// Worth retrying with backoff.
	KindTransient ErrorKind = "transient"
	// KindBlocked means the source is actively refusing automated access
	// (403, 429, challenge pages). Never retried within a run.
	KindBlocked ErrorKind = "blocked"
	// KindNotFound means the document is gone (404, 410).
	KindNotFound ErrorKind = "not_found"
)

// Error is a classified fetch failure.
type Error struct {
	Kind   ErrorKind
	URL    string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d)", e.URL, e.Kind, e.Status)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func kindOf(err error) (ErrorKind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// IsBlocked reports whether err is a fetch error caused by the source
// refusing automated access.
func IsBlocked(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindBlocked
}

// IsTransient reports whether err is a retryable fetch error.
func IsTransient(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindTransient
}

// IsNotFound reports whether err means the document no longer exists.
func IsNotFound(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindNotFound
}

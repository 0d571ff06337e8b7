package storage

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorKind string

const (
	KindIO         ErrorKind = "io"
	KindCorruption ErrorKind = "corruption"
)

// Error wraps a store failure. Storage errors are fatal for a run: a
// partial price ledger is worse than no run at all.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsStorageError reports whether err originated in a history store.
func IsStorageError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := KindIO
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "malformed") || strings.Contains(msg, "corrupt") {
		kind = KindCorruption
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

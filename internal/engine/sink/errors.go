package sink

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrClosed is returned by writes after the sinks were finalized.
var ErrClosed = errors.New("sink is closed")

// ErrDesynchronized is returned once a failed write could not be rolled back
// and the two sinks may hold different records.
var ErrDesynchronized = errors.New("text and json sinks are desynchronized")

// IoError reports a failed operation on one sink file.
type IoError struct {
	Op   string // "open", "write", "sync", "truncate", "seek", "close"
	Path string
	Err  error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("sink %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *IoError) Unwrap() error {
	return e.Err
}

// IsIoError reports whether err is, or wraps, an *IoError.
func IsIoError(err error) bool {
	var ioErr *IoError
	return errors.As(err, &ioErr)
}

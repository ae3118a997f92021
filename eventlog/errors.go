package eventlog

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrReadOnly = errors.New("event log is read only")
	ErrWrite    = errors.New("failed to write event to log file")
	ErrStopped  = errors.New("event log is stopped")

	// ErrConfirmation is returned once appended events can no longer be
	// read back from the log.
	ErrConfirmation = errors.New("event confirmation stopped")
)

// WriteError is returned when an event could not be appended. It matches
// ErrWrite with errors.Is.
type WriteError struct {
	File string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write event to %s: %v", e.File, e.Err)
}
func (e *WriteError) Unwrap() error        { return e.Err }
func (e *WriteError) Is(target error) bool { return target == ErrWrite }

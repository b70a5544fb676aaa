package rsync

import (
	"fmt"
)

// ConfigurationError reports a tuning value that cannot work on this host,
// such as a sort batch size that needs more chunk files than the process
// may open.
type ConfigurationError struct {
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ArgumentError reports an invalid synchronization root or an invalid
// combination of options.
type ArgumentError struct {
	Msg string
	Err error
}

func (e *ArgumentError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *ArgumentError) Unwrap() error { return e.Err }

// TransferError reports a failed Copy action.
type TransferError struct {
	Src string
	Dst string
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("copying %s to %s: %v", e.Src, e.Dst, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// DeleteError reports a failed Remove action.
type DeleteError struct {
	Path string
	Err  error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("removing %s: %v", e.Path, e.Err)
}

func (e *DeleteError) Unwrap() error { return e.Err }

// AbortError is returned when an action fails and the session was not
// asked to continue on error.
type AbortError struct {
	Action Action
	Err    error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("aborting after failure on %s: %v", e.Action, e.Err)
}

func (e *AbortError) Unwrap() error { return e.Err }

// FailureError is returned by a session that ran to completion but could
// not apply every action.
type FailureError struct {
	Count int64
}

func (e *FailureError) Error() string {
	plural := ""
	if e.Count != 1 {
		plural = "s"
	}
	return fmt.Sprintf("%d file%s/object%s could not be copied/removed", e.Count, plural, plural)
}

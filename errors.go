package filesync

import (
	"errors"
	"fmt"
)

// Common filesystem errors
var (
	ErrNotExist         = errors.New("file does not exist")
	ErrExist            = errors.New("file already exists")
	ErrPermission       = errors.New("permission denied")
	ErrNotDir           = errors.New("not a directory")
	ErrIsDir            = errors.New("is a directory")
	ErrInvalidName      = errors.New("invalid name")
	ErrInvalidURL       = errors.New("invalid storage url")
	ErrNotSupported     = errors.New("operation not supported")
	ErrNotAllowed       = errors.New("operation not allowed")
	ErrReadOnly         = errors.New("filesystem is read-only")
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// PathError records an error and the operation and file path that caused it
type PathError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface
func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *PathError) Unwrap() error {
	return e.Err
}

// WrapPathErr wraps err in a PathError unless it already is one.
func WrapPathErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PathError
	if errors.As(err, &pe) {
		return err
	}
	return &PathError{Op: op, Path: path, Err: err}
}

// IsNotExist reports whether an error indicates that a file or directory
// does not exist
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNotExist)
}

// IsExist reports whether an error indicates that a file or directory
// already exists
func IsExist(err error) bool {
	return errors.Is(err, ErrExist)
}

// IsPermission reports whether an error indicates that permission is denied
func IsPermission(err error) bool {
	return errors.Is(err, ErrPermission)
}

package reconstruction

import (
	"errors"
	"fmt"

	"mrivolumes/pkg/series"
)

// Failure kinds. Use errors.Is against these to classify a FileError or a
// GroupResult error.
var (
	// ErrHeaderRead marks a file skipped during discovery.
	ErrHeaderRead = series.ErrHeaderRead

	// ErrDecode marks a file whose pixel data could not be decoded; the file
	// is dropped and the group continues.
	ErrDecode = errors.New("decode error")

	// ErrEmptyGroup aborts a group in which no file decoded.
	ErrEmptyGroup = errors.New("empty group")

	// ErrShapeMismatch aborts a group whose slices differ in in-plane shape.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrIOWrite aborts a group whose volume could not be written.
	ErrIOWrite = errors.New("write error")
)

// FileError ties a failure kind to the file it happened on.
type FileError struct {
	Kind error
	Path string
	Err  error
}

func (e *FileError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", e.Kind, e.Path)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Path, e.Err)
}

func (e *FileError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// StatusOK is the status of a group that produced an output file.
const StatusOK = "ok"

// statusOf names the failure kind of err for reports and the run manifest.
func statusOf(err error) string {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrEmptyGroup):
		return "empty_group"
	case errors.Is(err, ErrShapeMismatch):
		return "shape_mismatch"
	case errors.Is(err, ErrIOWrite):
		return "io_write"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrHeaderRead):
		return "header_read"
	default:
		return "error"
	}
}

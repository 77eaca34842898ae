package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration aborts a run before any file is processed.
	ErrConfiguration = errors.New("configuration error")
	// ErrFileIO is fatal for a single file only.
	ErrFileIO = errors.New("file i/o error")
	// ErrResolution never escapes the resolver pool; it is absorbed into an invalid verdict.
	ErrResolution = errors.New("resolution error")
	// ErrAllFilesFailed is returned when every input file of a run failed.
	ErrAllFilesFailed = errors.New("all input files failed")
)

// FileError describes a failed file operation with its path.
type FileError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() []error {
	return []error{ErrFileIO, e.Err}
}

// NewFileError wraps err as a FileError for path.
func NewFileError(op, path string, err error) error {
	return &FileError{Op: op, Path: path, Err: err}
}

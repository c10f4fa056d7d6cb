package loader

import (
	"errors"
	"fmt"
)

var (
	// ErrNotDirectory is returned when the root is not a directory.
	ErrNotDirectory = errors.New("not a directory")
	// ErrSymlinkCycle is returned when a symlink points back at one of its
	// own ancestor directories.
	ErrSymlinkCycle = errors.New("symlink cycle")
	// ErrCacheBudget is returned when the loaded content would exceed
	// Options.MaxBytes.
	ErrCacheBudget = errors.New("cache size budget exceeded")
)

// LoadError describes why building the cache failed. A failed load is
// never retried.
type LoadError struct {
	Op   string
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

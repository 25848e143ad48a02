package plugin

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a plugin root that is missing, unreadable or not a
	// directory. It is fatal to a discovery pass.
	ErrNotFound = errors.New("plugin directory not found")

	// ErrLoad marks a single module that could not be loaded. It is
	// recovered by the discovery pass.
	ErrLoad = errors.New("plugin load failed")
)

// NotFoundError reports an unusable plugin root.
type NotFoundError struct {
	Path string
	Err  error
}

func (e *NotFoundError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("plugin directory %q not found", e.Path)
	}
	return fmt.Sprintf("plugin directory %q not found: %v", e.Path, e.Err)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNotFound) match any *NotFoundError.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// LoadError reports a module that failed to load or did not expose the
// expected extension point.
type LoadError struct {
	Module string
	Path   string
	Kind   Kind
	Err    error
}

// NewLoadError wraps cause for the given module.
func NewLoadError(ref ModuleRef, cause error) *LoadError {
	return &LoadError{Module: ref.Name, Path: ref.Path, Kind: ref.Kind, Err: cause}
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load module %s: %v", e.Module, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrLoad }

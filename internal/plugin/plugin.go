// Package plugin defines the values that flow through a discovery pass:
// module references produced by the scanner, extensions produced by the
// loader, and the error taxonomy shared by both.
package plugin

import (
	"context"
	"fmt"
)

// Kind distinguishes single-file modules from package directories.
type Kind string

const (
	KindFile    Kind = "file"    // a single .go file
	KindPackage Kind = "package" // a directory of .go files
	KindBuiltin Kind = "builtin" // compiled into the host
)

// ModuleRef identifies one discoverable unit. It is created by the scanner
// and never mutated afterwards.
type ModuleRef struct {
	Name string // unique within a scan
	Path string // location as listed under the root
	Key  string // canonical location, symlinks resolved
	Kind Kind
}

func (r ModuleRef) String() string {
	return fmt.Sprintf("%s (%s)", r.Name, r.Path)
}

// HandlerFunc is the shape every extension point must have.
type HandlerFunc func(input string) (string, error)

// Extension is the extension point extracted from a loaded module.
// Identity is the pointer: two references resolving to the same
// *Extension are one entry.
type Extension struct {
	Name        string
	Module      ModuleRef
	Description string
	Handler     HandlerFunc
}

// Invoke calls the extension's handler. Panics raised by plugin code are
// returned as errors.
func (e *Extension) Invoke(ctx context.Context, input string) (string, error) {
	if e.Handler == nil {
		return "", fmt.Errorf("extension %s has no handler", e.Name)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("extension %s panicked: %v", e.Name, r)}
			}
		}()
		o, err := e.Handler(input)
		done <- result{out: o, err: err}
	}()

	select {
	case res := <-done:
		return res.out, res.err
	case <-ctx.Done():
		return "", fmt.Errorf("extension %s: %w", e.Name, ctx.Err())
	}
}

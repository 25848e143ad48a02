package loader

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	pathpkg "path"
	"sort"
	"strconv"
	"strings"
	"time"

	"plugdisc/internal/logging"
	"plugdisc/internal/plugin"
	"plugdisc/internal/scanner"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"
)

// =============================================================================
// YAEGI INTERPRETER LOADER
// =============================================================================
// Plugins are plain Go source evaluated at runtime, so the host never shells
// out to `go build` and never links foreign code. Each module gets its own
// interpreter; only allow-listed stdlib packages are visible to it.
//
// A module must export:
//
//	func Handler(input string) (string, error)
//
// and may export a string named Description.

// Interpreter loads modules by evaluating them with yaegi.
type Interpreter struct {
	accessor string
	allowed  map[string]bool
	symbols  interp.Exports
	timeout  time.Duration
	logger   *zap.Logger
}

// DefaultAllowedImports is the stdlib allow-list used when none is configured.
var DefaultAllowedImports = []string{
	"bytes",
	"encoding/base64",
	"encoding/json",
	"errors",
	"fmt",
	"math",
	"path",
	"path/filepath",
	"regexp",
	"sort",
	"strconv",
	"strings",
	"time",
	"unicode",
}

var (
	// ErrForbiddenImport marks modules importing outside the allow-list.
	ErrForbiddenImport = errors.New("forbidden imports detected")
	// ErrAccessor marks modules whose extension point is missing or mistyped.
	ErrAccessor = errors.New("invalid extension point")
)

// InterpreterOption configures an Interpreter.
type InterpreterOption func(*Interpreter)

// WithAccessor changes the exported function name looked up in each module.
func WithAccessor(name string) InterpreterOption {
	return func(l *Interpreter) {
		if name != "" {
			l.accessor = name
		}
	}
}

// WithAllowedImports replaces the stdlib allow-list.
func WithAllowedImports(pkgs ...string) InterpreterOption {
	return func(l *Interpreter) {
		l.allowed = make(map[string]bool, len(pkgs))
		for _, p := range pkgs {
			l.allowed[p] = true
		}
	}
}

// WithLoadTimeout bounds the evaluation of a single module. Zero disables it.
func WithLoadTimeout(d time.Duration) InterpreterOption {
	return func(l *Interpreter) { l.timeout = d }
}

// WithLogger sets the loader's logger.
func WithLogger(logger *zap.Logger) InterpreterOption {
	return func(l *Interpreter) { l.logger = logging.For(logger, logging.CategoryLoader) }
}

// NewInterpreter creates a yaegi-backed loader.
func NewInterpreter(opts ...InterpreterOption) *Interpreter {
	l := &Interpreter{
		accessor: DefaultAccessor,
		logger:   zap.NewNop(),
	}
	WithAllowedImports(DefaultAllowedImports...)(l)
	for _, opt := range opts {
		opt(l)
	}
	l.symbols = stdlibSubset(l.allowed)
	return l
}

// Accessor returns the function name resolved in each module.
func (l *Interpreter) Accessor() string { return l.accessor }

// Load evaluates the module and extracts its handler.
func (l *Interpreter) Load(ctx context.Context, ref plugin.ModuleRef) (ext *plugin.Extension, err error) {
	defer func() {
		if r := recover(); r != nil {
			ext = nil
			err = plugin.NewLoadError(ref, fmt.Errorf("panic while loading: %v", r))
		}
	}()

	sources, err := readSources(ref)
	if err != nil {
		return nil, plugin.NewLoadError(ref, err)
	}

	pkgName, code, err := l.inspect(sources)
	if err != nil {
		return nil, plugin.NewLoadError(ref, err)
	}

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	i := interp.New(interp.Options{})
	if err := i.Use(l.symbols); err != nil {
		return nil, plugin.NewLoadError(ref, fmt.Errorf("failed to load stdlib: %w", err))
	}

	if _, err := i.EvalWithContext(ctx, code); err != nil {
		return nil, plugin.NewLoadError(ref, fmt.Errorf("evaluate %s: %w", ref.Path, err))
	}

	symbol := pkgName + "." + l.accessor
	v, err := i.EvalWithContext(ctx, symbol)
	if err != nil {
		return nil, plugin.NewLoadError(ref, fmt.Errorf("%w: %s not found: %w", ErrAccessor, symbol, err))
	}
	if !v.IsValid() || !v.CanInterface() {
		return nil, plugin.NewLoadError(ref, fmt.Errorf("%w: %s is not a value", ErrAccessor, symbol))
	}
	fn, ok := v.Interface().(func(string) (string, error))
	if !ok || fn == nil {
		return nil, plugin.NewLoadError(ref, fmt.Errorf("%w: %s has incorrect signature %s (expected: func(string) (string, error))", ErrAccessor, symbol, v.Type()))
	}

	ext = &plugin.Extension{
		Name:    ref.Name,
		Module:  ref,
		Handler: fn,
	}
	if d, err := i.EvalWithContext(ctx, pkgName+"."+DescriptionSymbol); err == nil && d.IsValid() && d.CanInterface() {
		if s, ok := d.Interface().(string); ok {
			ext.Description = s
		}
	}

	l.logger.Debug("Module loaded",
		zap.String("module", ref.Name),
		zap.String("package", pkgName),
		zap.Int("files", len(sources)))
	return ext, nil
}

type source struct {
	path string
	code string
}

func readSources(ref plugin.ModuleRef) ([]source, error) {
	paths := []string{ref.Path}
	if ref.Kind == plugin.KindPackage {
		files, err := scanner.SourceFiles(ref.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to list package: %w", err)
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("package has no Go files")
		}
		paths = files
	}

	sources := make([]source, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read source: %w", err)
		}
		sources = append(sources, source{path: p, code: string(data)})
	}
	return sources, nil
}

// inspect parses package clauses and imports, returning the package name
// and the code to evaluate. All files of a package module must agree on the
// name. Package files are merged into one unit so declarations may refer to
// each other regardless of file order.
func (l *Interpreter) inspect(sources []source) (string, string, error) {
	fset := token.NewFileSet()
	pkgName := ""
	var forbidden []string
	var files []*ast.File

	for _, src := range sources {
		f, err := parser.ParseFile(fset, src.path, src.code, parser.ImportsOnly)
		if err != nil {
			return "", "", fmt.Errorf("parse: %w", err)
		}
		if pkgName == "" {
			pkgName = f.Name.Name
		} else if f.Name.Name != pkgName {
			return "", "", fmt.Errorf("mixed package names %q and %q", pkgName, f.Name.Name)
		}
		for _, imp := range f.Imports {
			path, err := strconv.Unquote(imp.Path.Value)
			if err != nil {
				return "", "", fmt.Errorf("bad import %s: %w", imp.Path.Value, err)
			}
			if !l.allowed[path] {
				forbidden = append(forbidden, path)
			}
		}
		files = append(files, f)
	}

	if len(forbidden) > 0 {
		sort.Strings(forbidden)
		return "", "", fmt.Errorf("%w: %v (allowed: %v)", ErrForbiddenImport, forbidden, l.allowedList())
	}
	if len(sources) == 1 {
		return pkgName, sources[0].code, nil
	}

	code, err := mergeFiles(fset, pkgName, sources, files)
	if err != nil {
		return "", "", err
	}
	return pkgName, code, nil
}

// mergeFiles joins the files of one package into a single source with a
// shared import block. Each body keeps its original positions through a
// //line directive so evaluation errors still name the right file.
func mergeFiles(fset *token.FileSet, pkgName string, sources []source, files []*ast.File) (string, error) {
	type spec struct{ name, path string }
	var imports []spec
	seen := make(map[spec]bool)
	bound := make(map[string]string)

	var bodies strings.Builder
	for idx, f := range files {
		for _, imp := range f.Imports {
			path, _ := strconv.Unquote(imp.Path.Value)
			s := spec{path: path}
			if imp.Name != nil {
				s.name = imp.Name.Name
			}
			if seen[s] {
				continue
			}
			local := s.name
			if local == "" {
				local = pathpkg.Base(path)
			}
			if local != "_" && local != "." {
				if prev, ok := bound[local]; ok && prev != path {
					return "", fmt.Errorf("import name %s refers to both %q and %q", local, prev, path)
				}
				bound[local] = path
			}
			seen[s] = true
			imports = append(imports, s)
		}

		start := f.Name.End()
		for _, decl := range f.Decls {
			gen, ok := decl.(*ast.GenDecl)
			if !ok || gen.Tok != token.IMPORT {
				break
			}
			start = gen.End()
		}
		pos := fset.Position(start)
		fmt.Fprintf(&bodies, "\n//line %s:%d:%d\n", sources[idx].path, pos.Line, pos.Column)
		bodies.WriteString(sources[idx].code[pos.Offset:])
		bodies.WriteString("\n")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "package %s\n", pkgName)
	if len(imports) > 0 {
		b.WriteString("\nimport (\n")
		for _, s := range imports {
			if s.name != "" {
				fmt.Fprintf(&b, "\t%s %q\n", s.name, s.path)
			} else {
				fmt.Fprintf(&b, "\t%q\n", s.path)
			}
		}
		b.WriteString(")\n")
	}
	b.WriteString(bodies.String())
	return b.String(), nil
}

func (l *Interpreter) allowedList() []string {
	pkgs := make([]string, 0, len(l.allowed))
	for p := range l.allowed {
		pkgs = append(pkgs, p)
	}
	sort.Strings(pkgs)
	return pkgs
}

// stdlibSubset keeps the yaegi stdlib symbols whose import path is allowed.
// Symbol keys have the form "<import path>/<package name>".
func stdlibSubset(allowed map[string]bool) interp.Exports {
	out := make(interp.Exports)
	for key, symbols := range stdlib.Symbols {
		path := key
		if idx := strings.LastIndex(key, "/"); idx > 0 {
			path = key[:idx]
		}
		if allowed[path] {
			out[key] = symbols
		}
	}
	return out
}

// Package scanner enumerates the plugin modules found under a root
// directory. Scanning is read-only and recomputed on every iteration.
package scanner

import (
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"plugdisc/internal/logging"
	"plugdisc/internal/plugin"

	"go.uber.org/zap"
)

// Directories that are never plugin packages.
var alwaysSkippedDirs = map[string]bool{
	"testdata": true,
	"vendor":   true,
	"internal": true,
}

// Scanner lists candidate modules under a root directory.
type Scanner struct {
	// ReservedNames are file or directory names that are never modules.
	ReservedNames []string
	// ReservedSuffixes exclude helper directories such as "util_support".
	ReservedSuffixes []string
	// Sorted yields modules ordered by name instead of directory order.
	Sorted bool

	logger *zap.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithReservedNames replaces the reserved name list.
func WithReservedNames(names ...string) Option {
	return func(s *Scanner) { s.ReservedNames = names }
}

// WithReservedSuffixes replaces the reserved directory suffix list.
func WithReservedSuffixes(suffixes ...string) Option {
	return func(s *Scanner) { s.ReservedSuffixes = suffixes }
}

// WithSorted toggles deterministic name ordering.
func WithSorted(sorted bool) Option {
	return func(s *Scanner) { s.Sorted = sorted }
}

// WithLogger sets the logger used for skip warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scanner) { s.logger = logging.For(logger, logging.CategoryScanner) }
}

// New returns a Scanner with the default reserved names ("doc.go") and
// suffixes ("_support", "_helpers").
func New(opts ...Option) *Scanner {
	s := &Scanner{
		ReservedNames:    []string{"doc.go"},
		ReservedSuffixes: []string{"_support", "_helpers"},
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan validates root and returns a lazy sequence of module references.
// Each range over the sequence lists the directory again. A root that is
// missing, unreadable or not a directory fails with *plugin.NotFoundError;
// if the directory becomes unreadable later the sequence yields that error
// once and stops.
func (s *Scanner) Scan(root string) (iter.Seq2[plugin.ModuleRef, error], error) {
	if err := checkRoot(root); err != nil {
		return nil, err
	}

	return func(yield func(plugin.ModuleRef, error) bool) {
		refs, err := s.list(root)
		if err != nil {
			yield(plugin.ModuleRef{}, err)
			return
		}
		for _, ref := range refs {
			if !yield(ref, nil) {
				return
			}
		}
	}, nil
}

// Collect drains a full scan into a slice.
func (s *Scanner) Collect(root string) ([]plugin.ModuleRef, error) {
	seq, err := s.Scan(root)
	if err != nil {
		return nil, err
	}
	var refs []plugin.ModuleRef
	for ref, err := range seq {
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func checkRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return &plugin.NotFoundError{Path: root, Err: err}
	}
	if !info.IsDir() {
		return &plugin.NotFoundError{Path: root, Err: fmt.Errorf("not a directory")}
	}
	f, err := os.Open(root)
	if err != nil {
		return &plugin.NotFoundError{Path: root, Err: err}
	}
	return f.Close()
}

func (s *Scanner) list(root string) ([]plugin.ModuleRef, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, &plugin.NotFoundError{Path: root, Err: err}
	}

	var refs []plugin.ModuleRef
	seen := make(map[string]string)

	for _, entry := range entries {
		name := entry.Name()
		if s.excluded(name) {
			s.logger.Debug("Skipping reserved entry", zap.String("entry", name))
			continue
		}

		path := filepath.Join(root, name)
		info, err := os.Stat(path) // follows symlinks
		if err != nil {
			s.logger.Warn("Skipping unreadable entry", zap.String("entry", name), zap.Error(err))
			continue
		}

		var ref plugin.ModuleRef
		switch {
		case info.IsDir():
			if s.reservedDir(name) {
				s.logger.Debug("Skipping reserved directory", zap.String("entry", name))
				continue
			}
			if !hasGoSources(path) {
				continue
			}
			ref = plugin.ModuleRef{Name: name, Path: path, Kind: plugin.KindPackage}
		case isModuleFile(name):
			ref = plugin.ModuleRef{Name: strings.TrimSuffix(name, ".go"), Path: path, Kind: plugin.KindFile}
		default:
			continue
		}

		ref.Key = canonical(path)

		if prev, dup := seen[ref.Name]; dup {
			s.logger.Warn("Skipping module with duplicate name",
				zap.String("module", ref.Name),
				zap.String("path", path),
				zap.String("kept", prev))
			continue
		}
		seen[ref.Name] = path
		refs = append(refs, ref)
	}

	if s.Sorted {
		sort.SliceStable(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	}
	return refs, nil
}

func (s *Scanner) excluded(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
		return true
	}
	for _, reserved := range s.ReservedNames {
		if name == reserved {
			return true
		}
	}
	return false
}

func (s *Scanner) reservedDir(name string) bool {
	if alwaysSkippedDirs[name] {
		return true
	}
	for _, suffix := range s.ReservedSuffixes {
		if suffix != "" && strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func isModuleFile(name string) bool {
	return strings.HasSuffix(name, ".go") && !strings.HasSuffix(name, "_test.go")
}

func hasGoSources(dir string) bool {
	files, err := SourceFiles(dir)
	return err == nil && len(files) > 0
}

// SourceFiles lists the non-test .go files directly inside a package
// directory, in lexical order. Hidden and underscore-prefixed files are
// ignored, as the go tool does.
func SourceFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !isModuleFile(name) || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	return files, nil
}

// canonical resolves symlinks so two names for one location share a key.
func canonical(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

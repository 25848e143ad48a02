package registry

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"plugdisc/internal/loader"
	"plugdisc/internal/logging"
	"plugdisc/internal/plugin"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ModuleSource produces module references for a root directory. It is
// satisfied by *scanner.Scanner.
type ModuleSource interface {
	Scan(root string) (iter.Seq2[plugin.ModuleRef, error], error)
}

// Observer is notified once per completed discovery pass.
type Observer interface {
	ObservePass(report *Report)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(report *Report)

func (f ObserverFunc) ObservePass(report *Report) { f(report) }

// Report describes one discovery pass.
type Report struct {
	PassID    string
	Root      string
	StartedAt time.Time
	Duration  time.Duration
	// Scanned counts every module reference the scanner produced.
	Scanned  int
	Registry *Registry
	// Failures holds one entry per module that failed to load, in scan order.
	Failures []*plugin.LoadError
	// Duplicates lists modules whose extension was already registered
	// through an earlier module.
	Duplicates []plugin.ModuleRef
}

// Discoverer runs discovery passes: scan, load, register.
type Discoverer struct {
	source      ModuleSource
	loader      loader.Loader
	parallelism int
	observers   []Observer
	logger      *zap.Logger
}

// Option configures a Discoverer.
type Option func(*Discoverer)

// WithLogger sets the logger used for pass summaries and load failures.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Discoverer) { d.logger = logging.For(logger, logging.CategoryRegistry) }
}

// WithParallelism loads up to n modules concurrently. Registration order
// stays the scan order. Values below 1 mean sequential loading.
func WithParallelism(n int) Option {
	return func(d *Discoverer) {
		if n < 1 {
			n = 1
		}
		d.parallelism = n
	}
}

// WithObserver adds an observer notified after each successful pass.
func WithObserver(o Observer) Option {
	return func(d *Discoverer) {
		if o != nil {
			d.observers = append(d.observers, o)
		}
	}
}

// NewDiscoverer wires a module source and a loader together.
func NewDiscoverer(source ModuleSource, l loader.Loader, opts ...Option) *Discoverer {
	d := &Discoverer{
		source:      source,
		loader:      l,
		parallelism: 1,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Discover runs one pass over root and returns the resulting registry.
// Individual module failures are logged and skipped; only an unusable root
// (plugin.ErrNotFound) or a cancelled context fails the call, and then no
// registry is returned.
func (d *Discoverer) Discover(ctx context.Context, root string) (*Registry, error) {
	report, err := d.DiscoverReport(ctx, root)
	if err != nil {
		return nil, err
	}
	return report.Registry, nil
}

// DiscoverReport is Discover with pass details.
func (d *Discoverer) DiscoverReport(ctx context.Context, root string) (*Report, error) {
	report := &Report{
		PassID:    uuid.NewString(),
		Root:      root,
		StartedAt: time.Now(),
		Registry:  New(),
	}
	logger := d.logger.With(zap.String("pass_id", report.PassID), zap.String("root", root))
	logger.Debug("Discovery pass started")

	seq, err := d.source.Scan(root)
	if err != nil {
		logger.Error("Plugin directory unusable", zap.Error(err))
		return nil, err
	}

	memo := newPassMemo(d.loader)

	var outcomes []outcome
	if d.parallelism > 1 {
		outcomes, err = d.loadParallel(ctx, seq, memo)
	} else {
		outcomes, err = d.loadSequential(ctx, seq, memo)
	}
	if err != nil {
		logger.Error("Discovery pass aborted", zap.Error(err))
		return nil, err
	}

	report.Scanned = len(outcomes)
	for _, o := range outcomes {
		if o.err != nil {
			logger.Warn("Skipping module that failed to load",
				zap.String("module", o.ref.Name),
				zap.String("path", o.ref.Path),
				zap.Error(o.err.Err))
			report.Failures = append(report.Failures, o.err)
			continue
		}
		if !report.Registry.Add(o.ext) {
			logger.Debug("Module resolves to an already registered extension",
				zap.String("module", o.ref.Name),
				zap.String("extension", o.ext.Name))
			report.Duplicates = append(report.Duplicates, o.ref)
		}
	}

	report.Duration = time.Since(report.StartedAt)
	logger.Info("Discovery pass finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("registered", report.Registry.Len()),
		zap.Int("failed", len(report.Failures)),
		zap.Int("duplicates", len(report.Duplicates)),
		zap.Duration("duration", report.Duration))

	for _, o := range d.observers {
		o.ObservePass(report)
	}
	return report, nil
}

type outcome struct {
	ref plugin.ModuleRef
	ext *plugin.Extension
	err *plugin.LoadError
}

func (d *Discoverer) loadSequential(ctx context.Context, seq iter.Seq2[plugin.ModuleRef, error], memo *passMemo) ([]outcome, error) {
	var outcomes []outcome
	for ref, err := range seq {
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		o := memo.load(ctx, ref)
		if o.err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

func (d *Discoverer) loadParallel(ctx context.Context, seq iter.Seq2[plugin.ModuleRef, error], memo *passMemo) ([]outcome, error) {
	var refs []plugin.ModuleRef
	for ref, err := range seq {
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}

	outcomes := make([]outcome, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.parallelism)
	for i, ref := range refs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = memo.load(gctx, ref)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// passMemo loads each location at most once per pass. References sharing a
// key (for example a symlink and its target) get the same extension.
type passMemo struct {
	loader  loader.Loader
	mu      sync.Mutex
	entries map[string]*memoEntry
}

type memoEntry struct {
	once sync.Once
	ext  *plugin.Extension
	err  error
}

func newPassMemo(l loader.Loader) *passMemo {
	return &passMemo{loader: l, entries: make(map[string]*memoEntry)}
}

func (m *passMemo) load(ctx context.Context, ref plugin.ModuleRef) outcome {
	key := memoKey(ref)

	m.mu.Lock()
	entry, ok := m.entries[key]
	if !ok {
		entry = &memoEntry{}
		m.entries[key] = entry
	}
	m.mu.Unlock()

	entry.once.Do(func() {
		entry.ext, entry.err = safeLoad(ctx, m.loader, ref)
	})

	if entry.err != nil {
		return outcome{ref: ref, err: asLoadError(ref, entry.err)}
	}
	return outcome{ref: ref, ext: entry.ext}
}

func memoKey(ref plugin.ModuleRef) string {
	switch {
	case ref.Key != "":
		return "key:" + ref.Key
	case ref.Path != "":
		return "path:" + ref.Path
	default:
		return "name:" + ref.Name
	}
}

func safeLoad(ctx context.Context, l loader.Loader, ref plugin.ModuleRef) (ext *plugin.Extension, err error) {
	defer func() {
		if r := recover(); r != nil {
			ext = nil
			err = fmt.Errorf("panic while loading: %v", r)
		}
	}()

	ext, err = l.Load(ctx, ref)
	if err == nil && ext == nil {
		err = errors.New("loader returned no extension")
	}
	return ext, err
}

// asLoadError normalises err so it names ref, even when the cached error
// was produced for another reference to the same location.
func asLoadError(ref plugin.ModuleRef, err error) *plugin.LoadError {
	var le *plugin.LoadError
	if errors.As(err, &le) {
		if le.Module == ref.Name && le.Kind == ref.Kind {
			return le
		}
		return plugin.NewLoadError(ref, le.Err)
	}
	return plugin.NewLoadError(ref, err)
}

package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"plugdisc/internal/loader"
	"plugdisc/internal/plugin"
	"plugdisc/internal/scanner"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func validModule(pkg string) string {
	return "package " + pkg + "\n\nfunc Handler(input string) (string, error) { return \"" + pkg + ":\" + input, nil }\n"
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newInterpDiscoverer(logger *zap.Logger, opts ...Option) *Discoverer {
	opts = append([]Option{WithLogger(logger)}, opts...)
	return NewDiscoverer(
		scanner.New(scanner.WithSorted(true)),
		loader.NewInterpreter(),
		opts...,
	)
}

func TestRegistry_AddDeduplicatesByIdentity(t *testing.T) {
	r := New()
	a := &plugin.Extension{Name: "a"}
	twin := &plugin.Extension{Name: "a"}

	assert.True(t, r.Add(a))
	assert.False(t, r.Add(a))
	assert.True(t, r.Add(twin), "equal value but distinct identity is a separate entry")
	assert.False(t, r.Add(nil))

	assert.Equal(t, 2, r.Len())
	assert.True(t, r.Contains(a))
	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Same(t, a, got, "first registration owns the name")
}

func TestRegistry_ListIsACopy(t *testing.T) {
	r := New()
	r.Add(&plugin.Extension{Name: "a"})
	list := r.List()
	list[0] = &plugin.Extension{Name: "mutated"}
	assert.Equal(t, []string{"a"}, r.Names())
}

func TestRegistry_ConcurrentAdd(t *testing.T) {
	r := New()
	shared := &plugin.Extension{Name: "shared"}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Add(shared)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, r.Len())
}

func TestDiscover_TwoValidFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.go", validModule("b"))
	writeFile(t, dir, "a.go", validModule("a"))

	reg, err := newInterpDiscoverer(zap.NewNop()).Discover(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, reg.Names())

	ext, ok := reg.Get("b")
	require.True(t, ok)
	out, err := ext.Invoke(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "b:x", out)
}

func TestDiscover_FailingModuleIsSkippedAndLoggedOnce(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", validModule("a"))
	writeFile(t, dir, "b.go", "package b\n\nvar armed = explode()\n\nfunc explode() int { panic(\"import failed\") }\n\nfunc Handler(s string) (string, error) { return s, nil }\n")

	core, logs := observer.New(zapcore.DebugLevel)
	report, err := newInterpDiscoverer(zap.New(core)).DiscoverReport(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, report.Registry.Names())
	assert.Equal(t, 2, report.Scanned)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "b", report.Failures[0].Module)
	assert.ErrorIs(t, report.Failures[0], plugin.ErrLoad)
	assert.Equal(t, plugin.KindFile, report.Failures[0].Kind)

	warnings := logs.FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, warnings, 1)
	assert.Equal(t, "b", warnings[0].ContextMap()["module"])
}

func TestDiscover_EmptyDirectory(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	report, err := newInterpDiscoverer(zap.New(core)).DiscoverReport(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Registry.Len())
	assert.Empty(t, report.Failures)
	assert.Zero(t, logs.Len())
}

func TestDiscover_ReservedHelperNeverLoaded(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", validModule("a"))
	writeFile(t, dir, "doc.go", "package broken\n\nthis would never compile\n")
	writeFile(t, dir, "_scratch.go", "also broken")
	writeFile(t, dir, "shared_support/util.go", "package shared\n\nnot go either\n")

	var seen []string
	l := loader.Func(func(ctx context.Context, ref plugin.ModuleRef) (*plugin.Extension, error) {
		seen = append(seen, ref.Name)
		return loader.NewInterpreter().Load(ctx, ref)
	})
	report, err := NewDiscoverer(scanner.New(), l).DiscoverReport(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, seen)
	assert.Equal(t, []string{"a"}, report.Registry.Names())
	assert.Empty(t, report.Failures)
}

func TestDiscover_MissingRootIsFatal(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	called := false
	obs := ObserverFunc(func(*Report) { called = true })

	reg, err := newInterpDiscoverer(zap.NewNop(), WithObserver(obs)).Discover(context.Background(), missing)
	assert.Nil(t, reg)
	require.Error(t, err)
	assert.ErrorIs(t, err, plugin.ErrNotFound)
	assert.False(t, errors.Is(err, plugin.ErrLoad))
	assert.False(t, called)
}

func TestDiscover_AliasedModulesRegisterOnce(t *testing.T) {
	static := loader.NewStatic()
	static.Register("echo", "", func(s string) (string, error) { return s, nil })
	require.NoError(t, static.Alias("parrot", "echo"))

	dir := t.TempDir()
	writeFile(t, dir, "echo.go", "package echo\n")
	writeFile(t, dir, "parrot.go", "package parrot\n")

	report, err := NewDiscoverer(scanner.New(scanner.WithSorted(true)), static).DiscoverReport(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo"}, report.Registry.Names())
	require.Len(t, report.Duplicates, 1)
	assert.Equal(t, "parrot", report.Duplicates[0].Name)
}

func TestDiscover_SymlinkedModuleLoadsOnce(t *testing.T) {
	dir := t.TempDir()
	target := writeFile(t, dir, "real.go", validModule("real"))
	if err := os.Symlink(target, filepath.Join(dir, "zlink.go")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	var loads atomic.Int32
	inner := loader.NewInterpreter()
	l := loader.Func(func(ctx context.Context, ref plugin.ModuleRef) (*plugin.Extension, error) {
		loads.Add(1)
		return inner.Load(ctx, ref)
	})

	report, err := NewDiscoverer(scanner.New(scanner.WithSorted(true)), l).DiscoverReport(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, int32(1), loads.Load())
	assert.Equal(t, []string{"real"}, report.Registry.Names())
	assert.Len(t, report.Duplicates, 1)
}

func TestDiscover_Idempotent(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"c", "a", "b"} {
		writeFile(t, dir, name+".go", validModule(name))
	}
	writeFile(t, dir, "bad.go", "package bad\n")

	d := newInterpDiscoverer(zap.NewNop())
	first, err := d.Discover(context.Background(), dir)
	require.NoError(t, err)
	second, err := d.Discover(context.Background(), dir)
	require.NoError(t, err)

	if diff := cmp.Diff(first.Names(), second.Names()); diff != "" {
		t.Errorf("registries differ (-first +second):\n%s", diff)
	}
}

func TestDiscover_ParallelKeepsScanOrder(t *testing.T) {
	dir := t.TempDir()
	names := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, name := range names {
		writeFile(t, dir, name+".go", "package "+name+"\n")
	}

	// Earlier modules finish last.
	l := loader.Func(func(ctx context.Context, ref plugin.ModuleRef) (*plugin.Extension, error) {
		delay := time.Duration('h'-ref.Name[0]) * 5 * time.Millisecond
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &plugin.Extension{Name: ref.Name, Module: ref}, nil
	})

	reg, err := NewDiscoverer(scanner.New(scanner.WithSorted(true)), l, WithParallelism(4)).
		Discover(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, names, reg.Names())
}

func TestDiscover_CancelledContextAborts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", validModule("a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, n := range []int{1, 3} {
		reg, err := newInterpDiscoverer(zap.NewNop(), WithParallelism(n)).Discover(ctx, dir)
		assert.Nil(t, reg)
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestDiscover_LoaderPanicBecomesLoadError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a\n")

	l := loader.Func(func(context.Context, plugin.ModuleRef) (*plugin.Extension, error) {
		panic("loader bug")
	})
	report, err := NewDiscoverer(scanner.New(), l).DiscoverReport(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].Error(), "loader bug")
}

func TestDiscover_FailureCarriesModuleKind(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pkg/a.go", "package pkg\n")

	l := loader.Func(func(_ context.Context, ref plugin.ModuleRef) (*plugin.Extension, error) {
		return nil, &plugin.LoadError{Module: ref.Name, Err: errors.New("bare")}
	})
	report, err := NewDiscoverer(scanner.New(), l).DiscoverReport(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "pkg", report.Failures[0].Module)
	assert.Equal(t, plugin.KindPackage, report.Failures[0].Kind)
	assert.Equal(t, filepath.Join(dir, "pkg"), report.Failures[0].Path)
}

func TestDiscover_NilExtensionIsAFailure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a\n")

	l := loader.Func(func(context.Context, plugin.ModuleRef) (*plugin.Extension, error) {
		return nil, nil
	})
	report, err := NewDiscoverer(scanner.New(), l).DiscoverReport(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, report.Failures, 1)
	assert.Zero(t, report.Registry.Len())
}

func TestDiscover_ObserverSeesReport(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", validModule("a"))

	var got *Report
	d := newInterpDiscoverer(zap.NewNop(), WithObserver(ObserverFunc(func(r *Report) { got = r })), WithObserver(nil))
	report, err := d.DiscoverReport(context.Background(), dir)
	require.NoError(t, err)
	assert.Same(t, report, got)
	assert.NotEmpty(t, got.PassID)
	assert.Equal(t, dir, got.Root)
}

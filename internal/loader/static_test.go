package loader

import (
	"context"
	"testing"

	"plugdisc/internal/plugin"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echo(s string) (string, error) { return s, nil }

func TestStatic_LoadRegistered(t *testing.T) {
	s := NewStatic()
	want := s.Register("echo", "returns its input", echo)

	got, err := s.Load(context.Background(), plugin.ModuleRef{Name: "echo"})
	require.NoError(t, err)
	assert.Same(t, want, got)
	assert.Equal(t, plugin.KindBuiltin, got.Module.Kind)
}

func TestStatic_UnknownModule(t *testing.T) {
	_, err := NewStatic().Load(context.Background(), plugin.ModuleRef{Name: "nope"})
	require.Error(t, err)
	assert.ErrorIs(t, err, plugin.ErrLoad)
	assert.ErrorIs(t, err, ErrUnknownModule)
}

func TestStatic_AliasSharesIdentity(t *testing.T) {
	s := NewStatic()
	s.Register("echo", "", echo)
	require.NoError(t, s.Alias("parrot", "echo"))

	a, err := s.Load(context.Background(), plugin.ModuleRef{Name: "echo"})
	require.NoError(t, err)
	b, err := s.Load(context.Background(), plugin.ModuleRef{Name: "parrot"})
	require.NoError(t, err)
	assert.Same(t, a, b)

	assert.ErrorIs(t, s.Alias("x", "missing"), ErrUnknownModule)
	assert.Error(t, s.Alias("parrot", "echo"))
}

func TestStatic_DuplicateRegistrationPanics(t *testing.T) {
	s := NewStatic()
	s.Register("echo", "", echo)
	assert.Panics(t, func() { s.Register("echo", "", echo) })
}

func TestStatic_CancelledContext(t *testing.T) {
	s := NewStatic()
	s.Register("echo", "", echo)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Load(ctx, plugin.ModuleRef{Name: "echo"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFunc_AdaptsLoader(t *testing.T) {
	var l Loader = Func(func(_ context.Context, ref plugin.ModuleRef) (*plugin.Extension, error) {
		return &plugin.Extension{Name: ref.Name}, nil
	})
	ext, err := l.Load(context.Background(), plugin.ModuleRef{Name: "f"})
	require.NoError(t, err)
	assert.Equal(t, "f", ext.Name)
}

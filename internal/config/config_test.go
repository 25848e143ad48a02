package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"plugdisc/internal/loader"
)

// =============================================================================
// CONFIG TESTS
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Plugins.Accessor != "Handler" {
		t.Errorf("expected Accessor=Handler, got %s", cfg.Plugins.Accessor)
	}
	if !cfg.Plugins.Sorted {
		t.Error("expected sorted discovery by default")
	}
	if cfg.Plugins.Parallelism != 1 {
		t.Errorf("expected Parallelism=1, got %d", cfg.Plugins.Parallelism)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestDefaultConfig_AllowedImportsMatchLoader(t *testing.T) {
	cfg := DefaultConfig()
	if !reflect.DeepEqual(cfg.Loader.AllowedImports, loader.DefaultAllowedImports) {
		t.Errorf("expected %v, got %v", loader.DefaultAllowedImports, cfg.Loader.AllowedImports)
	}

	cfg.Loader.AllowedImports[0] = "os"
	if loader.DefaultAllowedImports[0] == "os" {
		t.Error("default config must not alias the loader allow-list")
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	t.Setenv("PLUGDISC_PLUGIN_DIR", "")
	t.Setenv("PLUGDISC_CATALOG_PATH", "")

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "plugdisc.yaml")

	cfg := DefaultConfig()
	cfg.Plugins.Dir = "/srv/plugins"
	cfg.Plugins.Parallelism = 4
	cfg.Loader.AllowedImports = []string{"strings"}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Plugins.Dir != "/srv/plugins" {
		t.Errorf("expected Dir=/srv/plugins, got %s", loaded.Plugins.Dir)
	}
	if loaded.Plugins.Parallelism != 4 {
		t.Errorf("expected Parallelism=4, got %d", loaded.Plugins.Parallelism)
	}
	if len(loaded.Loader.AllowedImports) != 1 || loaded.Loader.AllowedImports[0] != "strings" {
		t.Errorf("unexpected AllowedImports: %v", loaded.Loader.AllowedImports)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Plugins.Dir != "plugins" {
		t.Errorf("expected default dir, got %s", cfg.Plugins.Dir)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("plugins: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestConfig_Getters(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.GetLoadTimeout(); got != 10*time.Second {
		t.Errorf("GetLoadTimeout = %v", got)
	}
	cfg.Loader.LoadTimeout = ""
	if got := cfg.GetLoadTimeout(); got != 0 {
		t.Errorf("empty timeout should disable, got %v", got)
	}
	cfg.Watch.Debounce = "garbage"
	if got := cfg.GetDebounce(); got != 500*time.Millisecond {
		t.Errorf("GetDebounce fallback = %v", got)
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"plugdisc/internal/loader"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for configuration when --config is unset.
const DefaultPath = "plugdisc.yaml"

// Config holds all plugdisc configuration.
type Config struct {
	Plugins PluginsConfig `yaml:"plugins"`
	Loader  LoaderConfig  `yaml:"loader"`
	Logging LoggingConfig `yaml:"logging"`
	Catalog CatalogConfig `yaml:"catalog"`
	Server  ServerConfig  `yaml:"server"`
	Watch   WatchConfig   `yaml:"watch"`
}

// PluginsConfig configures scanning and the discovery pass.
type PluginsConfig struct {
	Dir              string   `yaml:"dir" validate:"required"`
	Accessor         string   `yaml:"accessor" validate:"required"`
	Sorted           bool     `yaml:"sorted"`
	Parallelism      int      `yaml:"parallelism" validate:"gte=1,lte=64"`
	ReservedNames    []string `yaml:"reserved_names"`
	ReservedSuffixes []string `yaml:"reserved_suffixes"`
}

// LoaderConfig configures the interpreter loader.
type LoaderConfig struct {
	// Allowed stdlib import paths. Anything else fails the module.
	AllowedImports []string `yaml:"allowed_imports" validate:"dive,required"`
	LoadTimeout    string   `yaml:"load_timeout"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console text"`
	File   string `yaml:"file"`
}

// CatalogConfig configures the SQLite pass history.
type CatalogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Driver  string `yaml:"driver" validate:"omitempty,oneof=sqlite sqlite3"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Listen string `yaml:"listen" validate:"required,hostname_port"`
}

// WatchConfig configures the directory watcher.
type WatchConfig struct {
	Debounce string `yaml:"debounce"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Plugins: PluginsConfig{
			Dir:              "plugins",
			Accessor:         loader.DefaultAccessor,
			Sorted:           true,
			Parallelism:      1,
			ReservedNames:    []string{"doc.go"},
			ReservedSuffixes: []string{"_support", "_helpers"},
		},
		Loader: LoaderConfig{
			AllowedImports: append([]string(nil), loader.DefaultAllowedImports...),
			LoadTimeout:    "10s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Catalog: CatalogConfig{
			Enabled: false,
			Driver:  "sqlite",
			Path:    filepath.Join(".plugdisc", "catalog.db"),
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8089",
		},
		Watch: WatchConfig{
			Debounce: "500ms",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("PLUGDISC_PLUGIN_DIR"); dir != "" {
		c.Plugins.Dir = dir
	}
	if level := os.Getenv("PLUGDISC_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if path := os.Getenv("PLUGDISC_CATALOG_PATH"); path != "" {
		c.Catalog.Path = path
		c.Catalog.Enabled = true
	}
	if addr := os.Getenv("PLUGDISC_LISTEN"); addr != "" {
		c.Server.Listen = addr
	}
}

var validate = validator.New()

// Validate checks struct constraints and duration fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	for name, value := range map[string]string{
		"loader.load_timeout": c.Loader.LoadTimeout,
		"watch.debounce":      c.Watch.Debounce,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid config: %s: %w", name, err)
		}
	}

	return nil
}

// GetLoadTimeout returns the per-module load timeout. Zero disables it.
func (c *Config) GetLoadTimeout() time.Duration {
	if c.Loader.LoadTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Loader.LoadTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetDebounce returns the watcher debounce window.
func (c *Config) GetDebounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

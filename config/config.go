// Package config loads harness settings from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Swind/embedder-harness/platformview"
	"github.com/Swind/embedder-harness/pointer"
)

const (
	ThreadsShared    = "shared"
	ThreadsDedicated = "dedicated"
)

// Config is the harness configuration file.
type Config struct {
	Label   string        `yaml:"label"`
	Threads string        `yaml:"threads"`
	Surface SurfaceConfig `yaml:"surface"`
	Pointer string        `yaml:"pointer_strategy"`
	Isolate IsolateConfig `yaml:"isolate"`
	Metrics MetricsConfig `yaml:"metrics"`
	Trace   TraceConfig   `yaml:"trace"`
	Log     LogConfig     `yaml:"log"`
}

type SurfaceConfig struct {
	Backend string `yaml:"backend"`
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
}

type IsolateConfig struct {
	FixturesDir   string        `yaml:"fixtures_dir"`
	KernelFile    string        `yaml:"kernel_file"`
	NativeLibrary string        `yaml:"native_library"`
	MemoryLimitMB int           `yaml:"memory_limit_mb"`
	RunTimeout    time.Duration `yaml:"run_timeout"`
}

type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the endpoint.
	Addr string `yaml:"addr"`
}

type TraceConfig struct {
	// DB is the SQLite file events are written to. Empty disables tracing.
	DB string `yaml:"db"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Label:   "harness",
		Threads: ThreadsShared,
		Surface: SurfaceConfig{Backend: platformview.BackendGL, Width: 800, Height: 600},
		Isolate: IsolateConfig{
			FixturesDir: filepath.Join("testdata", "fixtures"),
			KernelFile:  "plugin_registrant.js",
			RunTimeout:  10 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over Default. Fields absent from the file keep their
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.Label == "" {
		errs = append(errs, errors.New("label must not be empty"))
	}
	switch c.Threads {
	case ThreadsShared, ThreadsDedicated:
	default:
		errs = append(errs, fmt.Errorf("threads: unknown mode %q", c.Threads))
	}
	switch c.Surface.Backend {
	case platformview.BackendGL, platformview.BackendMock:
	default:
		errs = append(errs, fmt.Errorf("surface.backend: unknown backend %q", c.Surface.Backend))
	}
	if c.Surface.Width < 0 || c.Surface.Height < 0 {
		errs = append(errs, fmt.Errorf("surface: negative size %dx%d", c.Surface.Width, c.Surface.Height))
	}
	if c.Pointer != "" {
		if _, err := pointer.MakerFor(c.Pointer); err != nil {
			errs = append(errs, fmt.Errorf("pointer_strategy: %w", err))
		}
	}
	if c.Isolate.MemoryLimitMB < 0 {
		errs = append(errs, errors.New("isolate.memory_limit_mb must not be negative"))
	}
	if c.Isolate.RunTimeout <= 0 {
		errs = append(errs, errors.New("isolate.run_timeout must be positive"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	return errors.Join(errs...)
}

// KernelPath joins the fixtures directory and kernel file.
func (c Config) KernelPath() string {
	if filepath.IsAbs(c.Isolate.KernelFile) {
		return c.Isolate.KernelFile
	}
	return filepath.Join(c.Isolate.FixturesDir, c.Isolate.KernelFile)
}

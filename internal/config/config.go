package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/scriptbridge/internal/config/loader"
	scriptlua "github.com/dshills/scriptbridge/internal/script/lua"
	"github.com/dshills/scriptbridge/internal/script/watchdog"
)

// maxIncludeDepth limits nested @include directives.
const maxIncludeDepth = 8

// Config is the scriptbridge configuration.
type Config struct {
	Log      LogConfig      `json:"log"`
	Watchdog WatchdogConfig `json:"watchdog"`
	Engine   EngineConfig   `json:"engine"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `json:"level" validate:"loglevel" jsonschema:"enum=debug,enum=info,enum=warn,enum=warning,enum=error,default=info"`
	// Format is console or json.
	Format string `json:"format" validate:"oneof=console json" jsonschema:"enum=console,enum=json,default=console"`
}

// WatchdogConfig configures the execution watchdog.
type WatchdogConfig struct {
	// Ceiling is how long a script runs before the blocked-script hook is asked.
	Ceiling Duration `json:"ceiling" validate:"gt=0"`
	// CheckInterval is the number of VM instructions between watchdog ticks.
	CheckInterval int `json:"checkInterval" validate:"gte=1" jsonschema:"minimum=1,default=1000"`
	// Nudge is the background nudger period. Zero selects half the ceiling.
	Nudge Duration `json:"nudge" validate:"gte=0"`
	// IdleClear runs the background nudger, which also clears the start of
	// idle watchdogs. Without it only instruction counts trigger ticks.
	IdleClear bool `json:"idleClear" jsonschema:"default=true"`
}

// EngineConfig configures the Lua state.
type EngineConfig struct {
	// Libraries are the standard libraries to open.
	Libraries StringList `json:"libraries" validate:"dive,oneof=base table string math os"`
	// CallStackSize is the maximum call depth.
	CallStackSize int `json:"callStackSize" validate:"gte=0" jsonschema:"minimum=0"`
	// RegistrySize is the initial register count.
	RegistrySize int `json:"registrySize" validate:"gte=0" jsonschema:"minimum=0"`
	// GCInterval is the period of host-driven collection. Zero disables it.
	GCInterval Duration `json:"gcInterval" validate:"gte=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Watchdog: WatchdogConfig{
			Ceiling:       Duration(watchdog.DefaultCeiling),
			CheckInterval: scriptlua.DefaultCheckInterval,
			IdleClear:     true,
		},
		Engine: EngineConfig{
			Libraries:     slices.Clone(scriptlua.DefaultLibraries),
			CallStackSize: lua.CallStackSize,
			RegistrySize:  lua.RegistrySize,
			GCInterval:    Duration(10 * time.Second),
		},
	}
}

// Load loads the configuration from the file at path (if path is not
// empty) and SCRIPTBRIDGE_* environment variables.
func Load(path string) (*Config, error) {
	return LoadFrom(loader.DefaultFS(), path, loader.NewEnvLoader(loader.DefaultEnvPrefix))
}

// LoadFrom loads the configuration from path in fsys and from env, either
// of which may be empty.
func LoadFrom(fsys loader.FileSystem, path string, env loader.Loader) (*Config, error) {
	merged, err := Default().ToMap()
	if err != nil {
		return nil, err
	}

	if path != "" {
		if _, err := fsys.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
			}
			return nil, err
		}
		file, err := loader.LoadWithIncludes(fsys, path, maxIncludeDepth)
		if err != nil {
			return nil, err
		}
		merged = loader.DeepMerge(merged, file)
	}

	if env != nil {
		vars, err := env.Load()
		if err != nil {
			return nil, fmt.Errorf("loading environment: %w", err)
		}
		merged = loader.DeepMerge(merged, vars)
	}

	return FromMap(merged)
}

// FromMap decodes and validates a configuration map.
func FromMap(m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	cfg := &Config{}
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(cfg); err != nil {
		if errors.Is(err, ErrDecode) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ToMap returns the configuration as a generic map, in the shape the
// loaders produce.
func (c *Config) ToMap() (map[string]any, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ContextOptions returns the script context options for the configuration.
func (c *Config) ContextOptions(opts ...scriptlua.Option) []scriptlua.Option {
	nudge := c.Watchdog.Nudge.Std()
	if !c.Watchdog.IdleClear {
		nudge = -1
	}
	out := []scriptlua.Option{
		scriptlua.WithLibraries(c.Engine.Libraries...),
		scriptlua.WithCeiling(c.Watchdog.Ceiling.Std()),
		scriptlua.WithCheckInterval(c.Watchdog.CheckInterval),
		scriptlua.WithNudge(nudge),
		scriptlua.WithCallStackSize(c.Engine.CallStackSize),
		scriptlua.WithRegistrySize(c.Engine.RegistrySize),
	}
	return append(out, opts...)
}

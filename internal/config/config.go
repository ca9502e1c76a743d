// Package config loads evmstack.toml, the machine and generator settings of
// a project.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"

	"evmstack/internal/layout"
	"evmstack/internal/stack"
)

// FileName is the name searched for by Find.
const FileName = "evmstack.toml"

type Config struct {
	Machine MachineConfig `toml:"machine"`
	Layout  LayoutConfig  `toml:"layout"`
	Spill   SpillConfig   `toml:"spill"`
	Cache   CacheConfig   `toml:"cache"`
}

type MachineConfig struct {
	MaxDepth        int `toml:"max_depth"`
	MaxLiteralBytes int `toml:"max_literal_bytes"`
}

type LayoutConfig struct {
	CompressThreshold      int `toml:"compress_threshold"`
	ExhaustiveCombineLimit int `toml:"exhaustive_combine_limit"`
	MaxFixupRounds         int `toml:"max_fixup_rounds"`
	// Jobs is the number of entry points laid out concurrently, 0 for one
	// per CPU.
	Jobs int `toml:"jobs"`
}

type SpillConfig struct {
	Enabled   bool   `toml:"enabled"`
	Base      uint64 `toml:"base"`
	SlotSize  uint64 `toml:"slot_size"`
	MaxRounds int    `toml:"max_rounds"`
}

type CacheConfig struct {
	Enabled bool `toml:"enabled"`
	// Dir defaults to the user cache directory.
	Dir string `toml:"dir"`
}

func Default() *Config {
	opts := layout.DefaultOptions()
	spill := layout.DefaultSpillOptions()
	return &Config{
		Machine: MachineConfig{
			MaxDepth:        opts.Policy.MaxDepth,
			MaxLiteralBytes: opts.Policy.MaxLiteralBytes,
		},
		Layout: LayoutConfig{
			CompressThreshold:      opts.CompressThreshold,
			ExhaustiveCombineLimit: opts.ExhaustiveCombineLimit,
			MaxFixupRounds:         opts.MaxFixupRounds,
		},
		Spill: SpillConfig{
			Enabled:   true,
			Base:      spill.Base,
			SlotSize:  spill.SlotSize,
			MaxRounds: spill.MaxRounds,
		},
	}
}

// Find looks for evmstack.toml in startDir and its parents.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Load reads a config file on top of the defaults. Keys that are not part
// of the schema are errors.
func Load(path string) (*Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if meta.IsDefined("cache", "dir") && strings.TrimSpace(cfg.Cache.Dir) == "" {
		return nil, fmt.Errorf("%s: [cache].dir must not be empty", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadNearest loads the config found by Find, or the defaults if there is
// none. The returned path is empty in the latter case.
func LoadNearest(startDir string) (*Config, string, error) {
	path, ok, err := Find(startDir)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return Default(), "", nil
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

func (c *Config) Validate() error {
	var errs []error
	if err := c.LayoutOptions().Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.SpillOptions().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Layout.Jobs < 0 {
		errs = append(errs, fmt.Errorf("jobs must not be negative, got %d", c.Layout.Jobs))
	}
	return errors.Join(errs...)
}

func (c *Config) Policy() stack.Policy {
	return stack.Policy{
		MaxDepth:        c.Machine.MaxDepth,
		MaxLiteralBytes: c.Machine.MaxLiteralBytes,
	}
}

func (c *Config) LayoutOptions() layout.Options {
	return layout.Options{
		Policy:                 c.Policy(),
		CompressThreshold:      c.Layout.CompressThreshold,
		ExhaustiveCombineLimit: c.Layout.ExhaustiveCombineLimit,
		MaxFixupRounds:         c.Layout.MaxFixupRounds,
	}
}

func (c *Config) SpillOptions() layout.SpillOptions {
	return layout.SpillOptions{
		Base:      c.Spill.Base,
		SlotSize:  c.Spill.SlotSize,
		MaxRounds: c.Spill.MaxRounds,
	}
}

// Jobs resolves the configured job count.
func (c *Config) Jobs() int {
	if c.Layout.Jobs > 0 {
		return c.Layout.Jobs
	}
	return runtime.GOMAXPROCS(0)
}

// CacheDir resolves the cache directory.
func (c *Config) CacheDir() (string, error) {
	if c.Cache.Dir != "" {
		return c.Cache.Dir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate cache directory: %w", err)
	}
	return filepath.Join(base, "evmstack"), nil
}

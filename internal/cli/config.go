package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/artifactcache/pkg/artifactcache"
)

// ConfigFileName is the project config file looked up in the working directory.
const ConfigFileName = ".artcache.json"

// Duration is a [time.Duration] that reads and writes as a Go duration
// string such as "36h" or "15m".
type Duration time.Duration

// UnmarshalJSON implements [json.Unmarshaler].
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string

	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"24h\": %w", err)
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}

	*d = Duration(parsed)

	return nil
}

// MarshalJSON implements [json.Marshaler].
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// String returns the duration in Go syntax.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// Config holds all configuration options.
type Config struct {
	// From config files (serialized)
	CacheDir         string   `json:"cache_dir"`
	Version          int      `json:"version,omitempty"`
	CleanupInterval  Duration `json:"cleanup_interval,omitempty"`
	StaleAfter       Duration `json:"stale_after,omitempty"`
	MinTouchInterval Duration `json:"min_touch_interval,omitempty"`
	MaxScanEntries   int      `json:"max_scan_entries,omitempty"`

	// Resolved paths (computed, not serialized)
	EffectiveCwd string `json:"-"`
	CacheDirAbs  string `json:"-"`

	Sources ConfigSources `json:"-"`
}

// ConfigSources tracks which config files were loaded.
type ConfigSources struct {
	Global  string
	Project string
}

// DefaultConfig returns the default configuration. The cache lives in
// $XDG_CACHE_HOME/artcache, falling back to ~/.cache/artcache and then
// to .artcache in the working directory.
func DefaultConfig(env map[string]string) Config {
	cacheDir := ".artcache"

	if xdgCache := env["XDG_CACHE_HOME"]; xdgCache != "" {
		cacheDir = filepath.Join(xdgCache, "artcache")
	} else if home := env["HOME"]; home != "" {
		cacheDir = filepath.Join(home, ".cache", "artcache")
	}

	return Config{
		CacheDir:         cacheDir,
		Version:          artifactcache.DefaultVersion,
		CleanupInterval:  Duration(artifactcache.DefaultCleanupInterval),
		StaleAfter:       Duration(artifactcache.DefaultStaleAfter),
		MinTouchInterval: Duration(artifactcache.DefaultMinTouchInterval),
		MaxScanEntries:   artifactcache.DefaultMaxScanEntries,
	}
}

// CacheOptions converts the config into cache options. Logger, registry and
// filesystem are left for the caller.
func (c Config) CacheOptions() artifactcache.Options {
	return artifactcache.Options{
		Dir:              c.CacheDirAbs,
		Version:          c.Version,
		CleanupInterval:  time.Duration(c.CleanupInterval),
		StaleAfter:       time.Duration(c.StaleAfter),
		MinTouchInterval: time.Duration(c.MinTouchInterval),
		MaxScanEntries:   c.MaxScanEntries,
	}
}

// globalConfigPath returns $XDG_CONFIG_HOME/artcache/config.json, or
// ~/.config/artcache/config.json. Empty when neither variable is set.
func globalConfigPath(env map[string]string) string {
	if xdgConfig := env["XDG_CONFIG_HOME"]; xdgConfig != "" {
		return filepath.Join(xdgConfig, "artcache", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "artcache", "config.json")
	}

	return ""
}

// LoadConfigInput holds the inputs for LoadConfig.
type LoadConfigInput struct {
	WorkDirOverride  string // -C/--cwd; os.Getwd() when empty
	ConfigPath       string // -c/--config
	CacheDirOverride string // --cache-dir
	Env              map[string]string
}

// LoadConfig loads configuration with the following precedence (highest wins):
//  1. Defaults
//  2. Global user config ($XDG_CONFIG_HOME/artcache/config.json)
//  3. Project config (.artcache.json), or the file named by -c
//  4. CLI overrides
//
// Config files are JSON with comments and trailing commas allowed.
func LoadConfig(input LoadConfigInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := DefaultConfig(input.Env)

	if path := globalConfigPath(input.Env); path != "" {
		globalCfg, loaded, err := loadConfigFile(path, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg = mergeConfig(cfg, globalCfg)
			cfg.Sources.Global = path
		}
	}

	projectPath := filepath.Join(workDir, ConfigFileName)
	mustExist := false

	if input.ConfigPath != "" {
		projectPath = input.ConfigPath
		if !filepath.IsAbs(projectPath) {
			projectPath = filepath.Join(workDir, projectPath)
		}

		if _, err := os.Stat(projectPath); err != nil {
			return Config{}, fmt.Errorf("%w: %s", ErrConfigFileNotFound, input.ConfigPath)
		}

		mustExist = true
	}

	projectCfg, loaded, err := loadConfigFile(projectPath, mustExist)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg = mergeConfig(cfg, projectCfg)
		cfg.Sources.Project = projectPath
	}

	if input.CacheDirOverride != "" {
		cfg.CacheDir = input.CacheDirOverride
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	cfg.EffectiveCwd = workDir

	if filepath.IsAbs(cfg.CacheDir) {
		cfg.CacheDirAbs = cfg.CacheDir
	} else {
		cfg.CacheDirAbs = filepath.Join(workDir, cfg.CacheDir)
	}

	return cfg, nil
}

// loadConfigFile reads and parses path. A missing file is not an error
// unless mustExist is set.
func loadConfigFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w: %s: %w", ErrConfigFileRead, path, err)
	}

	cfg, err := parseConfig(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, true, nil
}

func parseConfig(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	// An explicit "" would otherwise be indistinguishable from "not set".
	var raw map[string]json.RawMessage

	_ = json.Unmarshal(standardized, &raw)

	if v, ok := raw["cache_dir"]; ok && string(v) == `""` {
		return Config{}, ErrCacheDirEmpty
	}

	return cfg, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.CacheDir != "" {
		base.CacheDir = overlay.CacheDir
	}

	if overlay.Version != 0 {
		base.Version = overlay.Version
	}

	if overlay.CleanupInterval != 0 {
		base.CleanupInterval = overlay.CleanupInterval
	}

	if overlay.StaleAfter != 0 {
		base.StaleAfter = overlay.StaleAfter
	}

	if overlay.MinTouchInterval != 0 {
		base.MinTouchInterval = overlay.MinTouchInterval
	}

	if overlay.MaxScanEntries != 0 {
		base.MaxScanEntries = overlay.MaxScanEntries
	}

	return base
}

func validateConfig(cfg Config) error {
	if cfg.CacheDir == "" {
		return ErrCacheDirEmpty
	}

	switch {
	case cfg.Version < 0:
		return fmt.Errorf("%w: version", ErrNegativeValue)
	case cfg.CleanupInterval < 0:
		return fmt.Errorf("%w: cleanup_interval", ErrNegativeValue)
	case cfg.StaleAfter < 0:
		return fmt.Errorf("%w: stale_after", ErrNegativeValue)
	case cfg.MinTouchInterval < 0:
		return fmt.Errorf("%w: min_touch_interval", ErrNegativeValue)
	case cfg.MaxScanEntries < 0:
		return fmt.Errorf("%w: max_scan_entries", ErrNegativeValue)
	}

	return nil
}

// Package config resolves librarian's settings from defaults, JSONC config
// files, the environment and command-line overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"

	"librarian/library"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Supported storage backends.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Environment variables consulted by Load.
const (
	EnvDB     = "LIBRARIAN_DB"
	EnvConfig = "LIBRARIAN_CONFIG"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config")
	ErrConfigExists       = errors.New("config file already exists")
)

// Config holds all configuration options.
type Config struct {
	DBPath   string `json:"db_path"`
	LoanDays int    `json:"loan_days"`
	LogLevel string `json:"log_level"`
	Store    string `json:"store"`

	// Sources tracks which config files were loaded (for diagnostics).
	Sources Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global   string `json:"global,omitempty"`
	Explicit string `json:"explicit,omitempty"`
}

// Default returns the built-in configuration.
func Default(env map[string]string) Config {
	return Config{
		DBPath:   defaultDBPath(env),
		LoanDays: library.DefaultLoanDays,
		LogLevel: "warn",
		Store:    StoreSQLite,
	}
}

// defaultDBPath places the database under $XDG_DATA_HOME/librarian, falling
// back to ~/.local/share/librarian and finally the working directory.
func defaultDBPath(env map[string]string) string {
	if dir := env["XDG_DATA_HOME"]; dir != "" {
		return filepath.Join(dir, "librarian", "library.db")
	}
	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".local", "share", "librarian", "library.db")
	}
	return "library.db"
}

// GlobalPath returns $XDG_CONFIG_HOME/librarian/config.json, or
// ~/.config/librarian/config.json. It is empty when neither is known.
func GlobalPath(env map[string]string) string {
	if dir := env["XDG_CONFIG_HOME"]; dir != "" {
		return filepath.Join(dir, "librarian", "config.json")
	}
	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "librarian", "config.json")
	}
	return ""
}

// LoadInput holds the inputs for Load. Zero override fields are ignored.
type LoadInput struct {
	ConfigPath string            // --config flag value
	Env        map[string]string // environment variables
	Overrides  Config            // values of flags the user actually set
}

// Load resolves configuration with the following precedence (highest wins):
//  1. Defaults
//  2. Global config ($XDG_CONFIG_HOME/librarian/config.json)
//  3. Explicit config file (--config, else LIBRARIAN_CONFIG)
//  4. LIBRARIAN_DB
//  5. CLI overrides
func Load(in LoadInput) (Config, error) {
	cfg := Default(in.Env)

	if path := GlobalPath(in.Env); path != "" {
		global, loaded, err := loadFile(path, false)
		if err != nil {
			return Config{}, err
		}
		if loaded {
			cfg = merge(cfg, global)
			cfg.Sources.Global = path
		}
	}

	explicit := in.ConfigPath
	if explicit == "" {
		explicit = in.Env[EnvConfig]
	}
	if explicit != "" {
		fileCfg, _, err := loadFile(explicit, true)
		if err != nil {
			return Config{}, err
		}
		cfg = merge(cfg, fileCfg)
		cfg.Sources.Explicit = explicit
	}

	if db := in.Env[EnvDB]; db != "" {
		cfg.DBPath = db
	}
	cfg = merge(cfg, in.Overrides)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile reads a JSONC config file. A missing optional file is not an error.
func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if mustExist {
				return Config{}, false, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
			}
			return Config{}, false, nil
		}
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigFileRead, path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}
	return cfg, true, nil
}

// Parse decodes JSONC (JSON with comments and trailing commas).
func Parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.DBPath != "" {
		base.DBPath = overlay.DBPath
	}
	if overlay.LoanDays != 0 {
		base.LoanDays = overlay.LoanDays
	}
	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}
	if overlay.Store != "" {
		base.Store = overlay.Store
	}
	return base
}

// Validate rejects settings the rest of the program cannot honour.
func (c Config) Validate() error {
	if c.LoanDays < 1 {
		return fmt.Errorf("%w: loan_days must be at least 1, got %d", ErrConfigInvalid, c.LoanDays)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	switch c.Store {
	case StoreSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("%w: db_path is empty", ErrConfigInvalid)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("%w: unknown store %q (want %s or %s)", ErrConfigInvalid, c.Store, StoreSQLite, StoreMemory)
	}
	return nil
}

// ParseLevel maps debug, info, warn or error onto a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}

const template = `// librarian configuration (JSON with comments).
{
  // SQLite database file. LIBRARIAN_DB and --db take precedence.
  "db_path": %q,

  // Loan period used when "loan borrow" is given no --days.
  "loan_days": %d,

  // debug, info, warn or error.
  "log_level": %q,

  // sqlite, or memory for a throwaway session.
  "store": %q,
}
`

// Render returns cfg as a commented JSONC document.
func Render(cfg Config) string {
	return fmt.Sprintf(template, cfg.DBPath, cfg.LoanDays, cfg.LogLevel, cfg.Store)
}

// WriteFile atomically writes cfg to path. An existing file is only replaced
// when force is set.
func WriteFile(path string, cfg Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := atomic.WriteFile(path, strings.NewReader(Render(cfg))); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Environ snapshots the process environment as a map.
func Environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// Package config resolves chisel's state paths and loads its optional
// configuration files: config.yaml for run defaults and presets.toml for
// render quality tuning.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// chiselDir is the per-user state directory name under $HOME.
const chiselDir = ".chisel"

// Paths holds all resolved chisel state file paths.
// Use ResolvePaths() to populate this struct with defaults + env overrides.
type Paths struct {
	ChiselHome  string // ~/.chisel or CHISEL_HOME
	DataDir     string // designs/ or CHISEL_DATA_DIR
	RunLogPath  string // runlog.db or CHISEL_RUNLOG_PATH
	ConfigPath  string // config.yaml or CHISEL_CONFIG
	PresetsPath string // presets.toml (respects CHISEL_HOME)
}

// ResolvePaths returns all chisel paths, respecting env var overrides.
// Environment variables:
//   - CHISEL_HOME: base directory for all chisel state (default: ~/.chisel)
//   - CHISEL_DATA_DIR: where generated designs land (default: $CHISEL_HOME/designs)
//   - CHISEL_RUNLOG_PATH: run log database (default: $CHISEL_HOME/runlog.db)
//   - CHISEL_CONFIG: configuration file (default: $CHISEL_HOME/config.yaml)
//
// If CHISEL_HOME is set, it becomes the base for all default paths. Specific
// env vars override both the default and the CHISEL_HOME base.
func ResolvePaths() (*Paths, error) {
	home, err := resolveChiselHome()
	if err != nil {
		return nil, err
	}

	return &Paths{
		ChiselHome:  home,
		DataDir:     resolvePathWithEnv("CHISEL_DATA_DIR", home, "designs"),
		RunLogPath:  resolvePathWithEnv("CHISEL_RUNLOG_PATH", home, "runlog.db"),
		ConfigPath:  resolvePathWithEnv("CHISEL_CONFIG", home, "config.yaml"),
		PresetsPath: filepath.Join(home, "presets.toml"),
	}, nil
}

// EnsureDirs creates the state and data directories if missing.
func (p *Paths) EnsureDirs() error {
	for _, dir := range []string{p.ChiselHome, p.DataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// resolveChiselHome returns the chisel home directory from CHISEL_HOME or
// ~/.chisel.
func resolveChiselHome() (string, error) {
	if v := os.Getenv("CHISEL_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, chiselDir), nil
}

// resolvePathWithEnv returns the path from envKey if set, otherwise joins
// base + suffix.
func resolvePathWithEnv(envKey, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return filepath.Join(base, suffix)
}

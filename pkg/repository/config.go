package repository

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config carries every path the lifecycle manager needs. Collaborating
// packages receive these explicitly; nothing reads global state.
type Config struct {
	RepositoryPath string // root of the sharded item tree
	EditorsFile    string // editor role membership, admin-writable only
	DatabasePath   string // sqlite file for the user store and search index
	StagingDir     string // scratch space for in-flight imports
}

// DefaultConfig returns the standard single-host layout under
// /var/lib/kimkit.
func DefaultConfig() *Config {
	root := "/var/lib/kimkit"
	return &Config{
		RepositoryPath: filepath.Join(root, "repository"),
		EditorsFile:    filepath.Join(root, "editors.txt"),
		DatabasePath:   filepath.Join(root, "kimkit.db"),
		StagingDir:     filepath.Join(root, "staging"),
	}
}

// ConfigFromEnv loads config from environment variables.
// KIMKIT_REPOSITORY_PATH, KIMKIT_EDITORS_FILE, KIMKIT_DB_PATH,
// KIMKIT_STAGING_DIR
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()
	if v := os.Getenv("KIMKIT_REPOSITORY_PATH"); v != "" {
		cfg.RepositoryPath = v
	}
	if v := os.Getenv("KIMKIT_EDITORS_FILE"); v != "" {
		cfg.EditorsFile = v
	}
	if v := os.Getenv("KIMKIT_DB_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("KIMKIT_STAGING_DIR"); v != "" {
		cfg.StagingDir = v
	}
	return cfg
}

// EnsureLayout creates the directories the config points at and an
// empty editors file if none exists. The editors file's ownership is
// what defines the Administrator, so an existing file is left alone.
func (c *Config) EnsureLayout() error {
	for _, dir := range []string{c.RepositoryPath, c.StagingDir, filepath.Dir(c.DatabasePath), filepath.Dir(c.EditorsFile)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(c.EditorsFile, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("create editors file: %w", err)
	}
	return f.Close()
}

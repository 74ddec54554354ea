package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openkim/KIMkit/pkg/build"
	"github.com/openkim/KIMkit/pkg/index"
	"github.com/openkim/KIMkit/pkg/repository"
	"github.com/openkim/KIMkit/pkg/users"
)

var (
	runAsEditor        bool
	runAsAdministrator bool
	comment            string
)

var rootCmd = &cobra.Command{
	Use:   "kimkit",
	Short: "Manage a KIMkit interatomic model repository",
	Long: `kimkit stores versioned interatomic models, simulator models, and
model drivers in a content-tracked repository.

Every item carries validated metadata (kimspec.json) and an append-only
provenance ledger (kimprovenance.json). Paths are taken from the
KIMKIT_REPOSITORY_PATH, KIMKIT_EDITORS_FILE, KIMKIT_DB_PATH, and
KIMKIT_STAGING_DIR environment variables, with defaults under
/var/lib/kimkit.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&runAsEditor, "run-as-editor", false, "Confirm acting with Editor privileges")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(forkCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(deleteFieldCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(discontinueCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(indexCmd)
}

// openRepo wires the lifecycle manager from the environment config. The
// sqlite file carries both the user store and the search index.
func openRepo() (*repository.Repository, *index.Store, error) {
	cfg := repository.ConfigFromEnv()
	if err := cfg.EnsureLayout(); err != nil {
		return nil, nil, err
	}

	db, err := index.Open(cfg.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	userStore := users.NewStore(db)
	if err := userStore.AutoMigrate(); err != nil {
		return nil, nil, err
	}
	gate, err := users.NewGate(userStore, cfg.EditorsFile)
	if err != nil {
		return nil, nil, err
	}
	idx := index.NewStore(db, cfg.RepositoryPath)
	if err := idx.AutoMigrate(); err != nil {
		return nil, nil, err
	}

	repo := repository.New(cfg, gate, idx, build.NewExecBuilder(""))
	return repo, idx, nil
}

// readMetadataFile decodes a JSON metadata document, "" meaning none.
func readMetadataFile(path string) (map[string]any, error) {
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata file: %w", err)
	}
	var metadata map[string]any
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("decode metadata file: %w", err)
	}
	return metadata, nil
}

// Package main implements the skillmeat CLI, a thin Cobra command surface
// over the synchronization engine's public verbs.
//
// # File Index
//
//   - main.go          - entry point, rootCmd, global flags, engine wiring
//   - cmd_drift.go      - check-drift
//   - cmd_sync.go       - pull, push, resolve
//   - cmd_snapshot.go   - snapshot create|list|restore
//   - cmd_refresh.go    - refresh
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"skillmeat/internal/config"
	"skillmeat/internal/logging"
	"skillmeat/internal/store"
	"skillmeat/internal/sync"
	"skillmeat/internal/versiongraph"
)

var (
	verbose        bool
	collectionPath string
	configPath     string

	logger *zap.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "skillmeat",
	Short: "skillmeat - sync a personal collection of AI-assistant artifacts across projects",
	Long: `skillmeat keeps one canonical collection of skills, commands, agents,
hooks, and MCP-server definitions in sync with however many projects deploy
them, tracking drift and three-way merging local edits.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		if collectionPath != "" {
			abs, err := filepath.Abs(collectionPath)
			if err != nil {
				return fmt.Errorf("resolve --collection: %w", err)
			}
			cfg.CollectionPath = abs
			cfg.SnapshotsDir = filepath.Join(abs, ".skillmeat", "snapshots")
			cfg.DatabasePath = filepath.Join(abs, ".skillmeat", "skillmeat.db")
		}

		if err := logging.Initialize(cfg.CollectionPath); err != nil {
			fmt.Fprintf(os.Stderr, "warning: file logging not initialized: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&collectionPath, "collection", "c", "", "collection root (default: config's collection_path)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to skillmeat config file")

	rootCmd.AddCommand(
		checkDriftCmd,
		pullCmd,
		pushCmd,
		resolveCmd,
		snapshotCmd,
		refreshCmd,
	)
}

// openCoordinator builds a Sync Coordinator against the resolved
// collection, opening the embedded store and version graph it needs.
func openCoordinator() (*sync.Coordinator, *store.Store, error) {
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	graph := versiongraph.New(st)
	coord := sync.New(cfg.CollectionPath, filepath.Base(cfg.CollectionPath), cfg.SnapshotsDir, graph, cfg)
	return coord, st, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/malloctag/mtag/pkg/mtagconfig"
)

// initCmd validates configuration and reports the effective profiler
// limits without starting anything long-running — useful for checking a
// config file before wiring an embedding process to it.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Validate configuration and print effective profiler limits",
	Long: `init loads the mtag configuration (defaulting to ./mtag.yaml) and
reports the effective profiler, storage, and database settings an
embedding process would run with.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := mtagconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("mtagctl init: %w", err)
	}
	if err := cfg.EnsureLocalStorageDir(); err != nil {
		return fmt.Errorf("mtagctl init: %w", err)
	}

	logger := GetLogger()
	logger.Info("profiler.max_nodes = %d", cfg.Profiler.MaxNodes)
	logger.Info("profiler.max_levels = %d", cfg.Profiler.MaxLevels)
	logger.Info("profiler.max_siblings = %d", cfg.Profiler.MaxSiblings)
	logger.Info("profiler.max_trees = %d", cfg.Profiler.MaxTrees)
	logger.Info("profiler.allocator = %s", cfg.Profiler.Allocator)
	logger.Info("profiler.snapshot_interval_sec = %d", cfg.Profiler.SnapshotIntervalSec)
	logger.Info("storage.type = %s", cfg.Storage.Type)
	logger.Info("database.type = %s", cfg.Database.Type)
	logger.Info("telemetry.enabled = %v", cfg.Telemetry.Enabled)
	logger.Info("mtagctl init: configuration OK")
	return nil
}

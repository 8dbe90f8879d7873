package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/malloctag/mtag/pkg/mtaglog"
)

var (
	// Global flags
	verbose    bool
	configPath string

	logger mtaglog.Logger
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "mtagctl",
	Short: "Drive and inspect an always-on malloc-tag memory profiler",
	Long: `mtagctl drives the malloctag core from outside a profiled process.

It supports running a nested-scope demo driver, printing on-demand
allocation stats in JSON/DOT/human form, running a ticker-driven
snapshot loop, and post-processing or rendering previously written
snapshot documents.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logLevel := mtaglog.LevelInfo
		if verbose {
			logLevel = mtaglog.LevelDebug
		}
		logger = mtaglog.NewDefaultLogger(logLevel, os.Stdout)
		return nil
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to mtag config file (defaults to ./mtag.yaml)")

	binName := BinName()
	rootCmd.Example = `  # Run the nested-scope demo driver
  ` + binName + ` scope --duration 5s

  # Print current stats as JSON
  ` + binName + ` collect --format json

  # Run a snapshot loop, writing every 30s
  ` + binName + ` snapshot --interval 30s

  # Aggregate worker-* threads in a written snapshot
  ` + binName + ` postprocess -i snapshot.json -r rules.json -o aggregated.json

  # Render a snapshot as a DOT call graph
  ` + binName + ` dot -i snapshot.json -o snapshot.dot`
}

// GetLogger returns the configured logger.
func GetLogger() mtaglog.Logger {
	return logger
}

// BinName returns the base name of the current executable.
func BinName() string {
	return filepath.Base(os.Args[0])
}

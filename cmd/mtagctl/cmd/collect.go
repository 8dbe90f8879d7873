package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/malloctag/mtag/internal/engine"
	"github.com/malloctag/mtag/internal/tagoutput"
	"github.com/malloctag/mtag/pkg/mtagconfig"
)

var collectFormat string

// collectCmd initialises a fresh engine, runs one scope with a single
// allocation to have something worth reporting, and prints the stats in
// the requested format — a quick way to sanity-check a config's limits
// and the output collaborators without embedding the engine in a real
// process.
var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Print current stats as JSON, DOT, or human-readable text",
	RunE:  runCollect,
}

func init() {
	rootCmd.AddCommand(collectCmd)
	collectCmd.Flags().StringVarP(&collectFormat, "format", "f", "human", "Output format: json, dot, human")
}

func parseFormat(s string) (tagoutput.Format, error) {
	switch s {
	case "json":
		return tagoutput.FormatJSON, nil
	case "dot":
		return tagoutput.FormatDOT, nil
	case "human":
		return tagoutput.FormatHuman, nil
	default:
		return 0, fmt.Errorf("unknown format %q (want json, dot, or human)", s)
	}
}

func runCollect(cmd *cobra.Command, args []string) error {
	format, err := parseFormat(collectFormat)
	if err != nil {
		return fmt.Errorf("mtagctl collect: %w", err)
	}

	cfg, err := mtagconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("mtagctl collect: %w", err)
	}

	defer engine.BindThread()()

	e := engine.New()
	if err := e.Init(cfg.Profiler.MaxNodes, cfg.Profiler.MaxLevels, cfg.Profiler.SnapshotIntervalSec); err != nil {
		return fmt.Errorf("mtagctl collect: %w", err)
	}

	scope := e.EnterScope("collect")
	ptr, ok := e.TrackedMalloc(128)
	if ok {
		e.TrackedFree(ptr)
	}
	scope.Leave()

	stats, err := e.CollectStats(format)
	if err != nil {
		return fmt.Errorf("mtagctl collect: %w", err)
	}
	fmt.Println(stats)
	return nil
}

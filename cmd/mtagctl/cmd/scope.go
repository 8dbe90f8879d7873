package cmd

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/malloctag/mtag/internal/engine"
	"github.com/malloctag/mtag/internal/tagoutput"
	"github.com/malloctag/mtag/pkg/mtagconfig"
)

var (
	scopeThreads  int
	scopeDuration time.Duration
)

// scopeCmd is a runnable analogue of the original minimal example: it
// spins up a handful of threads, each entering nested scopes and driving
// tracked allocations for a fixed duration, then prints the resulting
// stats.
var scopeCmd = &cobra.Command{
	Use:   "scope",
	Short: "Run a nested-scope demo driver and print the resulting stats",
	Long: `scope starts a small number of goroutines, each bound to its own
OS thread, entering an outer "worker" scope and a nested "step" scope
while driving tracked malloc/free calls, then prints the accumulated
stats once the run duration elapses.`,
	RunE: runScope,
}

func init() {
	rootCmd.AddCommand(scopeCmd)
	scopeCmd.Flags().IntVarP(&scopeThreads, "threads", "n", 4, "Number of demo worker threads")
	scopeCmd.Flags().DurationVarP(&scopeDuration, "duration", "d", 2*time.Second, "How long each worker runs")
}

func runScope(cmd *cobra.Command, args []string) error {
	cfg, err := mtagconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("mtagctl scope: %w", err)
	}

	defer engine.BindThread()()
	e := engine.New()
	if err := e.Init(cfg.Profiler.MaxNodes, cfg.Profiler.MaxLevels, cfg.Profiler.SnapshotIntervalSec); err != nil {
		return fmt.Errorf("mtagctl scope: %w", err)
	}

	logger := GetLogger()
	logger.Info("mtagctl scope: starting %d worker threads for %s", scopeThreads, scopeDuration)

	var wg sync.WaitGroup
	deadline := time.Now().Add(scopeDuration)
	for i := 0; i < scopeThreads; i++ {
		wg.Add(1)
		go demoWorker(e, i, deadline, &wg)
	}
	wg.Wait()

	stats, err := e.CollectStats(tagoutput.FormatHuman)
	if err != nil {
		return fmt.Errorf("mtagctl scope: %w", err)
	}
	fmt.Println(stats)
	return nil
}

func demoWorker(e *engine.Engine, index int, deadline time.Time, wg *sync.WaitGroup) {
	defer wg.Done()
	defer engine.BindThread()()

	outer := e.EnterScope(fmt.Sprintf("worker-%d", index))
	defer outer.Leave()

	for time.Now().Before(deadline) {
		step := e.EnterScope("step")
		ptr, ok := e.TrackedMalloc(uint64(64 + index*16))
		if ok {
			e.TrackedFree(ptr)
		}
		step.Leave()
		time.Sleep(time.Millisecond)
	}
}

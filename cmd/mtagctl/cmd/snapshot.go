package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/malloctag/mtag/internal/engine"
	"github.com/malloctag/mtag/internal/tagoutput"
	"github.com/malloctag/mtag/internal/tagscheduler"
	"github.com/malloctag/mtag/internal/tagsink"
	"github.com/malloctag/mtag/pkg/mtagconfig"
	"github.com/malloctag/mtag/pkg/mtaglog"
	"github.com/malloctag/mtag/pkg/mtagtelemetry"
)

var (
	snapshotInterval time.Duration
	snapshotFormat   string
	snapshotPrefix   string
)

// snapshotCmd demonstrates the caller-driven interval snapshot loop: it
// starts a demo scope driver on one goroutine and an IntervalRunner
// calling WriteSnapshotIfNeeded on another, exactly the split the core
// requires — the engine itself never starts its own goroutine.
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Run a ticker-driven snapshot loop against a demo scope driver",
	Long: `snapshot starts one demo worker goroutine generating allocation
activity and a second goroutine polling WriteSnapshotIfNeeded on a
fixed interval, writing through the configured storage sink, until
interrupted.`,
	RunE: runSnapshot,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.Flags().DurationVar(&snapshotInterval, "interval", 30*time.Second, "Snapshot poll interval")
	snapshotCmd.Flags().StringVar(&snapshotFormat, "format", "json", "Snapshot format: json, dot, all")
	snapshotCmd.Flags().StringVar(&snapshotPrefix, "prefix", "", "Snapshot path prefix (defaults to storage.local_path/snapshot)")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	var format tagoutput.Format
	if snapshotFormat == "all" {
		format = tagoutput.FormatAll
	} else {
		var err error
		format, err = parseFormat(snapshotFormat)
		if err != nil {
			return fmt.Errorf("mtagctl snapshot: %w", err)
		}
	}

	cfg, err := mtagconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("mtagctl snapshot: %w", err)
	}
	if err := cfg.EnsureLocalStorageDir(); err != nil {
		return fmt.Errorf("mtagctl snapshot: %w", err)
	}

	sink, err := tagsink.NewSink(&cfg.Storage)
	if err != nil {
		return fmt.Errorf("mtagctl snapshot: %w", err)
	}

	protocol := "grpc"
	if cfg.Telemetry.UseHTTP {
		protocol = "http/protobuf"
	}
	mtagtelemetry.SetConfig(&mtagtelemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: "unknown",
		Endpoint:       cfg.Telemetry.Endpoint,
		Protocol:       protocol,
		Sampler:        "always_on",
	})
	shutdownTelemetry, err := mtagtelemetry.Init(context.Background())
	if err != nil {
		GetLogger().Warn("mtagctl snapshot: telemetry init failed, continuing without spans: %v", err)
	}
	defer shutdownTelemetry(context.Background())

	defer engine.BindThread()()
	e := engine.New(engine.WithSink(sink))
	if err := e.Init(cfg.Profiler.MaxNodes, cfg.Profiler.MaxLevels, cfg.Profiler.SnapshotIntervalSec); err != nil {
		return fmt.Errorf("mtagctl snapshot: %w", err)
	}
	e.SetSnapshotInterval(int(snapshotInterval.Seconds()))

	prefix := snapshotPrefix
	if prefix == "" {
		prefix = cfg.SnapshotPath("snapshot")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runDemoUntilCancelled(ctx, e)

	runner := tagscheduler.New(&tagscheduler.Config{
		PollInterval: snapshotInterval,
		Format:       format,
		Prefix:       prefix,
	}, e, GetLogger(), mtaglog.NewRealClock())
	runner.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	mtaglog.WithPID(GetLogger(), os.Getpid()).Info("mtagctl snapshot: shutting down, wrote %d snapshots", runner.WrittenCount())
	runner.Stop()
	cancel()
	return nil
}

func runDemoUntilCancelled(ctx context.Context, e *engine.Engine) {
	defer engine.BindThread()()
	outer := e.EnterScope("snapshot-demo")
	defer outer.Leave()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		ptr, ok := e.TrackedMalloc(64)
		if ok {
			e.TrackedFree(ptr)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Swind/go-uthread/core"
	"github.com/Swind/go-uthread/internal/config"
	"github.com/Swind/go-uthread/internal/logging"
	"github.com/Swind/go-uthread/internal/workload"
	uprom "github.com/Swind/go-uthread/observability/prometheus"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		stackSize   int
		maxThreads  int
		queue       string
		limit       int
		metricsAddr string
		terminate   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the fan-out workload",
		Long: `Runs the fan-out workload: every thread prints a greeting, spawns two
children at priority 2 while the spawn limit allows, yields to priority 1
and exits. Thread output goes to stdout, logs go to stderr.

With --terminate the main goroutine is handed to the scheduler and the
process exits with status 0 when the last thread exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := appConfig
			flags := cmd.Flags()
			if flags.Changed("stack-size") {
				cfg.Scheduler.StackSize = stackSize
			}
			if flags.Changed("max-threads") {
				cfg.Scheduler.MaxThreads = maxThreads
			}
			if flags.Changed("queue") {
				cfg.Scheduler.Queue = queue
			}
			if flags.Changed("limit") {
				cfg.Workload.Limit = limit
			}
			if flags.Changed("metrics-addr") {
				cfg.Metrics.Addr = metricsAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runWorkload(cmd.Context(), cfg, cmd.OutOrStdout(), terminate)
		},
	}

	cmd.Flags().IntVar(&stackSize, "stack-size", core.DefaultStackSize, "Stack size per thread in bytes")
	cmd.Flags().IntVar(&maxThreads, "max-threads", 0, "Maximum live threads (0 = unbounded)")
	cmd.Flags().StringVar(&queue, "queue", string(core.QueueCircular), "Ready queue implementation (circular, heap)")
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of children to spawn")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address")
	cmd.Flags().BoolVar(&terminate, "terminate", false, "Exit the process from the last thread")

	return cmd
}

func runWorkload(ctx context.Context, cfg config.Config, out io.Writer, terminate bool) error {
	reg := prom.NewRegistry()

	sc := cfg.SchedulerConfig()
	sc.Logger = logging.NewSlogLogger(logger.With("component", "scheduler"))
	exporter, err := uprom.NewMetricsExporter("uthread", reg, uprom.ExporterOptions{Scheduler: sc.Name})
	if err != nil {
		return fmt.Errorf("create metrics exporter: %w", err)
	}
	sc.Metrics = exporter

	sched, err := core.NewScheduler(sc)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	poller, err := uprom.NewSnapshotPoller(reg, cfg.PollInterval())
	if err != nil {
		return fmt.Errorf("create snapshot poller: %w", err)
	}
	poller.AddScheduler(sched.Name(), sched)
	poller.Start(ctx)
	defer poller.Stop()

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           NewRouter(sched, reg, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("serving metrics", "addr", cfg.Metrics.Addr)
	}

	wl := workload.NewFanOut(sched, out, cfg.Workload.Limit)
	if err := wl.Start(); err != nil {
		return fmt.Errorf("start workload: %w", err)
	}

	if terminate {
		logger.Debug("handing main goroutine to the scheduler")
		sched.Exit()
	}

	if err := sched.Run(ctx); err != nil {
		return fmt.Errorf("run scheduler: %w", err)
	}

	stats := sched.Stats()
	logger.Info("workload finished",
		"threads", wl.Threads(),
		"spawned", wl.Spawned(),
		"dispatched", stats.Dispatched,
		"yields", stats.Yields,
		"yields_rejected", stats.YieldsRejected,
	)
	if err := wl.Err(); err != nil {
		logger.Warn("workload could not spawn every thread", "error", err)
	}
	return nil
}

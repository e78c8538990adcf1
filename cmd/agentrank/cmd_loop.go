package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"agentrank/internal/engine"
	"agentrank/internal/format"
	"agentrank/internal/logging"
	"agentrank/internal/optimizer"
)

func newMetricsCmd(g *globalFlags) *cobra.Command {
	var recompute bool
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show the latest metric snapshot per agent",
		Args:  cobra.NoArgs,
		RunE: withApp(g, func(cmd *cobra.Command, a *app, _ []string) error {
			if recompute {
				resp := a.engine.RecomputeMetrics(cmd.Context())
				return a.emit(resp.Status, resp, func() string { return format.Metrics(a.mode, ptrs(resp.Rows)) })
			}
			resp := a.engine.ListMetrics(cmd.Context())
			return a.emit(resp.Status, resp, func() string { return format.Metrics(a.mode, resp.Rows) })
		}),
	}
	cmd.Flags().BoolVar(&recompute, "recompute", false, "Append a fresh snapshot before showing it")
	return cmd
}

func newLeaderboardCmd(g *globalFlags) *cobra.Command {
	var rank bool
	var limit int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show the leaderboard and recent insights",
		Args:  cobra.NoArgs,
		RunE: withApp(g, func(cmd *cobra.Command, a *app, _ []string) error {
			if rank {
				resp := a.engine.RankLeaderboard(cmd.Context())
				return a.emit(resp.Status, resp, func() string {
					return format.Leaderboard(a.mode, ptrs(resp.Rows), ptrs(resp.Insights))
				})
			}
			resp := a.engine.GetLeaderboard(cmd.Context(), limit)
			return a.emit(resp.Status, resp, func() string {
				return format.Leaderboard(a.mode, resp.Rows, resp.Insights)
			})
		}),
	}
	cmd.Flags().BoolVar(&rank, "rank", false, "Recompute the ranking from the latest metrics first")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum rows (0 = all)")
	return cmd
}

func newTuneCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tune",
		Short: "Enable or disable behaviors from the mean impact of their reflections",
		Args:  cobra.NoArgs,
		RunE: withApp(g, func(cmd *cobra.Command, a *app, _ []string) error {
			resp := a.engine.TuneBehaviors(cmd.Context())
			return a.emit(resp.Status, resp, func() string {
				return format.Tune(a.mode, &optimizer.Result{
					Boosted:   resp.Boosted,
					Disabled:  resp.Disabled,
					Decisions: resp.Decisions,
				})
			})
		}),
	}
}

func newCycleCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run one loop iteration: reflect, recompute metrics, rank, tune",
		Args:  cobra.NoArgs,
		RunE: withApp(g, func(cmd *cobra.Command, a *app, _ []string) error {
			resp := a.engine.RunCycle(cmd.Context())
			return a.emit(resp.Status, resp, func() string { return cycleTable(a.mode, resp) })
		}),
	}
}

func cycleTable(m format.Mode, resp engine.CycleResponse) string {
	tb := format.NewTable(m)
	tb.Header("Stage", "Reflected", "Failed", "Metrics", "Ranked", "Insights", "Boosted", "Disabled")
	reflected, failed := 0, 0
	if resp.Reflections != nil {
		reflected, failed = resp.Reflections.Reflected, resp.Reflections.Failed
	}
	tb.Row(resp.Stage, reflected, failed, resp.MetricsUpdated, resp.Ranked, resp.Insights, resp.Boosted, resp.Disabled)
	out := tb.String()
	if resp.Reflections != nil && resp.Reflections.Failed > 0 {
		out += "\n\n" + format.ReflectionBatch(m, resp.Reflections)
	}
	return out
}

func newLoopCmd(g *globalFlags) *cobra.Command {
	var interval time.Duration
	var listen string
	cmd := &cobra.Command{
		Use:   "loop",
		Short: "Run the cycle on a schedule until interrupted",
		Long: `Runs one cycle immediately and then every --interval. A failed cycle is
logged and the next tick retries. With --listen, Prometheus metrics are
served on /metrics for the lifetime of the loop.`,
		Args: cobra.NoArgs,
		RunE: withApp(g, func(cmd *cobra.Command, a *app, _ []string) error {
			if interval <= 0 {
				interval = a.cfg.Schedule.Interval
			}
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}
			if listen == "" {
				listen = a.cfg.Telemetry.ListenAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runLoop(ctx, a.engine, interval, listen)
		}),
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "Time between cycles (default: schedule.interval, 1h)")
	cmd.Flags().StringVar(&listen, "listen", "", "Serve Prometheus metrics on this address, e.g. :9090")
	return cmd
}

// runLoop runs a cycle now and on every tick until ctx is done.
func runLoop(ctx context.Context, e *engine.Engine, interval time.Duration, listen string) error {
	logger := logging.New("loop")
	g, ctx := errgroup.WithContext(ctx)

	if listen != "" && e.Telemetry() != nil {
		g.Go(func() error {
			logger.Info("serving metrics", "addr", listen)
			return e.Telemetry().Serve(ctx, listen)
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		logger.Info("loop started", "interval", interval)
		for {
			resp := e.RunCycle(ctx)
			if !resp.Success {
				logger.Warn("cycle failed", "stage", resp.Stage, "code", resp.Code, "error", resp.Message)
			}
			select {
			case <-ctx.Done():
				logger.Info("loop stopped")
				return nil
			case <-ticker.C:
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

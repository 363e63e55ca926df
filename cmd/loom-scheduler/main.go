package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/loopkit/loom/pkg/cmd"
	"github.com/loopkit/loom/pkg/config"
	"github.com/loopkit/loom/pkg/log"
	"github.com/loopkit/loom/pkg/otelhelper"
	"github.com/loopkit/loom/pkg/workflow"
)

func main() {
	command := &cli.Command{
		Name:                  "loom-scheduler",
		Usage:                 "Start the loom timer scheduler service",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "scheduler-id",
				Aliases: []string{"id"},
				Usage:   "Custom scheduler ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("SCHEDULER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the optional advance lock",
				Value:   "",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "How often to poll for due timers",
				Value:   5 * time.Second,
				Sources: cli.EnvVars("SCHEDULER_POLL_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "Listen address for Prometheus metrics",
				Value:   ":9091",
				Sources: cli.EnvVars("METRICS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			schedulerID := command.String("scheduler-id")
			if schedulerID == "" {
				schedulerID = fmt.Sprintf("scheduler-%s", uuid.New().String()[:8])
			}

			logger := log.WithModule("loom-scheduler").With("scheduler_id", schedulerID)
			logger.Info("Initializing loom scheduler")

			tracer, err := otelhelper.NewTracer(ctx, "loom-scheduler")
			if err != nil {
				logger.Warn("Tracing disabled", "error", err)
			}

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return fmt.Errorf("failed to initialize persistence: %w", err)
			}
			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.Error("Failed to close persistence", "error", err)
				}
			}()

			runtime, err := cmd.NewRuntime(store, config.RuntimeFromEnv(), logger, command.String("redis-url"), tracer)
			if err != nil {
				return fmt.Errorf("failed to initialize runtime: %w", err)
			}

			cmd.ServeMetrics(ctx, logger, command.String("metrics-addr"))

			scheduler := workflow.NewScheduler(store, runtime, logger,
				workflow.WithSchedulerInterval(command.Duration("poll-interval")))

			return scheduler.Run(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		slog.Error("loom-scheduler exited", "error", err)
		os.Exit(1)
	}
}

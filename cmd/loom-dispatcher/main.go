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
	"github.com/loopkit/loom/pkg/log"
	"github.com/loopkit/loom/pkg/outbox"
)

func main() {
	command := &cli.Command{
		Name:                  "loom-dispatcher",
		Usage:                 "Start the loom outbox dispatcher service",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dispatcher-id",
				Aliases: []string{"id"},
				Usage:   "Custom dispatcher ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("DISPATCHER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "channel",
				Usage:   "Broker channel type (kafka, rabbitmq)",
				Value:   "kafka",
				Sources: cli.EnvVars("CHANNEL_TYPE"),
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "Maximum outbox rows per dispatch batch",
				Value:   100,
				Sources: cli.EnvVars("DISPATCHER_BATCH_SIZE"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "How often to poll the outbox",
				Value:   2 * time.Second,
				Sources: cli.EnvVars("DISPATCHER_POLL_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "Listen address for Prometheus metrics",
				Value:   ":9092",
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

			dispatcherID := command.String("dispatcher-id")
			if dispatcherID == "" {
				dispatcherID = fmt.Sprintf("dispatcher-%s", uuid.New().String()[:8])
			}

			logger := log.WithModule("loom-dispatcher").With("dispatcher_id", dispatcherID)
			logger.Info("Initializing loom dispatcher")

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return fmt.Errorf("failed to initialize persistence: %w", err)
			}
			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.Error("Failed to close persistence", "error", err)
				}
			}()

			channel, err := cmd.NewChannel(command.String("channel"), logger, "loom-dispatcher")
			if err != nil {
				return fmt.Errorf("failed to initialize broker channel: %w", err)
			}
			defer func() {
				if err := channel.Close(); err != nil {
					logger.Error("Failed to close broker channel", "error", err)
				}
			}()

			cmd.ServeMetrics(ctx, logger, command.String("metrics-addr"))

			dispatcher := outbox.NewDispatcher(store.Outbox(), channel, logger,
				outbox.WithBatchSize(int(command.Int("batch-size"))),
				outbox.WithPollInterval(command.Duration("poll-interval")))

			return dispatcher.Run(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		slog.Error("loom-dispatcher exited", "error", err)
		os.Exit(1)
	}
}

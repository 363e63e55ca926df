// Package cmd wires the shared collaborators used by the loom binaries.
package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	log_action "github.com/loopkit/loom/pkg/actions/log"
	"github.com/loopkit/loom/pkg/actions/webhook"
	"github.com/loopkit/loom/pkg/bucketing"
	"github.com/loopkit/loom/pkg/channels/kafka"
	"github.com/loopkit/loom/pkg/channels/rabbitmq"
	"github.com/loopkit/loom/pkg/config"
	"github.com/loopkit/loom/pkg/executors/automatic"
	"github.com/loopkit/loom/pkg/executors/end"
	"github.com/loopkit/loom/pkg/executors/gateway"
	"github.com/loopkit/loom/pkg/executors/humantask"
	"github.com/loopkit/loom/pkg/executors/join"
	"github.com/loopkit/loom/pkg/executors/start"
	"github.com/loopkit/loom/pkg/executors/timer"
	"github.com/loopkit/loom/pkg/lock"
	"github.com/loopkit/loom/pkg/outbox"
	"github.com/loopkit/loom/pkg/persistence"
	"github.com/loopkit/loom/pkg/persistence/memory"
	"github.com/loopkit/loom/pkg/persistence/postgresql"
	"github.com/loopkit/loom/pkg/prune"
	"github.com/loopkit/loom/pkg/registry"
	"github.com/loopkit/loom/pkg/workflow"
)

// NewPersistence picks the store implementation from the URL scheme.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	if strings.HasPrefix(databaseURL, "memory://") {
		return memory.NewPersistence(), nil
	}

	return postgresql.NewPersistence(ctx, logger, databaseURL)
}

// NewChannel picks the broker channel for the outbox dispatcher.
func NewChannel(channelType string, logger *slog.Logger, serviceName string) (outbox.Publisher, error) {
	switch channelType {
	case "rabbitmq":
		return rabbitmq.NewChannel(logger)
	default:
		return kafka.NewChannel(logger, serviceName)
	}
}

// NewRuntime builds the workflow runtime with the full executor set.
func NewRuntime(store persistence.Persistence, cfg config.Runtime, logger *slog.Logger, redisURL string, tracer trace.Tracer) (*workflow.Runtime, error) {
	emitter := outbox.NewEmitter(logger)
	hasher := bucketing.NewHasher(cfg.HashSeed)
	pruner := prune.NewPruner(cfg.MaxGatewayDecisionsPerNode, emitter, logger)

	reg := registry.NewRegistry(logger)
	reg.RegisterExecutor(start.NewStartExecutor())
	reg.RegisterExecutor(end.NewEndExecutor())
	reg.RegisterExecutor(humantask.NewHumanTaskExecutor(store.Tasks(), emitter))
	reg.RegisterExecutor(automatic.NewAutomaticExecutor(reg))
	reg.RegisterExecutor(gateway.NewGatewayExecutor(hasher, pruner, emitter, cfg.VerboseDiagnostics))
	reg.RegisterExecutor(timer.NewTimerExecutor(emitter))
	reg.RegisterExecutor(join.NewJoinExecutor())

	reg.RegisterAction(webhook.NewWebhookActionFactory())
	reg.RegisterAction(log_action.NewLogActionFactory())

	opts := []workflow.Option{}

	if tracer != nil {
		opts = append(opts, workflow.WithTracer(tracer))
	}

	if redisURL != "" {
		redisOpts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, err
		}

		opts = append(opts, workflow.WithAdvanceLock(lock.NewRedisLock(redis.NewClient(redisOpts))))
	}

	return workflow.NewRuntime(store, reg, emitter, cfg, logger, opts...), nil
}

// ServeMetrics exposes the Prometheus registry on addr. Errors other
// than a clean shutdown are logged, never fatal.
func ServeMetrics(ctx context.Context, logger *slog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", "error", err)
		}
	}()
}

// Command agentgraph runs the workflow kernel: the scheduling engine, its
// persistence stores, and the HTTP control surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/BaSui01/agentgraph/api"
	"github.com/BaSui01/agentgraph/config"
	"github.com/BaSui01/agentgraph/internal/metrics"
	"github.com/BaSui01/agentgraph/internal/telemetry"
	"github.com/BaSui01/agentgraph/persistence"
	"github.com/BaSui01/agentgraph/workflow"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "agentgraph: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tele, err := telemetry.Setup(ctx, cfg.Telemetry, logger)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector("agentgraph", logger)

	var store persistence.RunStore
	var artifacts persistence.ArtifactStore
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		redisStore := persistence.NewRedisRunStore(client, logger,
			persistence.WithKeyPrefix(cfg.Redis.KeyPrefix),
			persistence.WithTerminalTTL(cfg.Redis.TerminalTTL),
			persistence.WithArtifactTTL(cfg.Redis.ArtifactTTL),
		)
		store = persistence.NewRetryStore(redisStore, cfg.Redis.RetryAttempts, cfg.Redis.RetryBackoff)
		artifacts = redisStore
		logger.Info("using redis run store", zap.String("addr", cfg.Redis.Addr))
	} else {
		mem := persistence.NewMemoryRunStore()
		store = mem
		artifacts = mem
		logger.Warn("no redis configured, run snapshots are process-local")
	}

	var archive *persistence.ArchiveStore
	if cfg.Archive.Path != "" {
		archive, err = persistence.NewArchiveStore(cfg.Archive.Path, logger)
		if err != nil {
			return err
		}
		logger.Info("archive store open", zap.String("path", cfg.Archive.Path))
	}

	if cfg.Engine.AgentEndpoint == "" {
		return errors.New("engine.agent_endpoint must be set")
	}

	sink := workflow.NewBufferedSink(cfg.Engine.EventBufferSize, logger)
	defer sink.Close()

	engine := workflow.NewEngine(newHTTPExecutor(cfg.Engine.AgentEndpoint), store,
		workflow.WithLogger(logger),
		workflow.WithSink(sink),
		workflow.WithMetrics(collector),
		workflow.WithArtifactStore(artifacts),
		workflow.WithMaxConcurrent(cfg.Engine.MaxConcurrent),
		workflow.WithDispatchRate(rate.Limit(cfg.Engine.DispatchRate), cfg.Engine.DispatchBurst),
		workflow.WithInvocationTimeout(cfg.Engine.InvocationTimeout),
	)

	repaired, err := engine.Rehydrate(ctx)
	if err != nil {
		return fmt.Errorf("rehydrate interrupted runs: %w", err)
	}
	if len(repaired) > 0 {
		logger.Warn("marked interrupted runs failed", zap.Strings("run_ids", repaired))
	}

	// Terminal events flow from the engine sink to the websocket hub; runs
	// reaching a terminal status are also copied into the archive.
	streamEvents := make(chan workflow.Event, cfg.Engine.EventBufferSize)
	go pumpEvents(ctx, sink, streamEvents, engine, archive, logger)

	server := api.NewServer(cfg.Server.Addr, engine, streamEvents, logger,
		api.WithArchive(archive),
		api.WithServerMetrics(collector),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Error("engine shutdown", zap.Error(err))
	}
	if err := tele.Shutdown(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown", zap.Error(err))
	}
	return nil
}

// pumpEvents forwards engine events to the websocket stream and archives
// terminal runs.
func pumpEvents(
	ctx context.Context,
	sink *workflow.BufferedSink,
	out chan<- workflow.Event,
	engine *workflow.Engine,
	archive *persistence.ArchiveStore,
	logger *zap.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sink.Events():
			select {
			case out <- ev:
			default:
			}
			if archive == nil {
				continue
			}
			if ev.Type != workflow.EventRunCompleted && ev.Type != workflow.EventRunFailed {
				continue
			}
			actx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			snap, err := engine.State(actx, ev.RunID)
			if err == nil {
				err = archive.Archive(actx, &snap)
			}
			cancel()
			if err != nil {
				logger.Error("archive terminal run failed",
					zap.String("run_id", ev.RunID), zap.Error(err))
			}
		}
	}
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

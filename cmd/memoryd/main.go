// Command memoryd is the adaptive retrieval engine's composition root: it
// loads configuration, constructs the configured store and embedding
// provider, wires the engine.Service, starts the C10 scheduler, and runs
// until interrupted. It exposes no HTTP surface — the transport layer is an
// external collaborator per the core's scope.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"adaptivememory/internal/classifier"
	"adaptivememory/internal/config"
	"adaptivememory/internal/dispatch"
	"adaptivememory/internal/embedding"
	"adaptivememory/internal/engine"
	"adaptivememory/internal/events"
	"adaptivememory/internal/memory"
	"adaptivememory/internal/observability"
	"adaptivememory/internal/scheduler"
	"adaptivememory/internal/store/memstore"
	"adaptivememory/internal/store/postgres"
	"adaptivememory/internal/store/qdrant"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	configPath := flag.String("config", "config.yaml", "path to the engine configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.Logging.LogPath, cfg.Logging.Level)
	log := observability.LoggerWithTrace(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.OTel.Enabled {
		shutdown, err := observability.InitOTel(ctx, observability.ObsConfig{
			OTLP:           cfg.OTel.OTLPEndpoint,
			ServiceName:    cfg.OTel.ServiceName,
			ServiceVersion: cfg.OTel.ServiceVersion,
			Environment:    cfg.OTel.Environment,
		})
		if err != nil {
			log.Warn().Err(err).Msg("otel_init_failed_continuing")
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	store, err := buildStore(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("store_init_failed")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("store_close_failed")
		}
	}()

	embedder := embedding.NewHTTPProvider(cfg.Embedding)
	pool := dispatch.New(cfg.Dispatch.Workers, cfg.Dispatch.QueueSize)
	defer pool.Stop()

	opts := []engine.Option{
		engine.WithEventSink(buildEventSink(cfg.Events)),
	}
	if c := buildClassifier(cfg.Classifier); c != nil {
		opts = append(opts, engine.WithClassifier(c))
	}
	svc := engine.New(store, embedder, pool, *cfg, opts...)
	_ = svc // wired for an external transport layer to call; none is started here

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(
			store,
			memory.NewPatternMiner(store, time.Duration(cfg.PatternMiner.SequenceWindowMinutes)*time.Minute),
			memory.NewRelationshipSuggester(store),
			memory.NewMaintenanceAnalyzer(store),
			cfg.Scheduler.Interval(),
			cfg.Scheduler.AutoApplyRelationship,
			func() bool { return pool.Dropped() > 0 },
		)
		if err := sched.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("scheduler_start_failed")
		}
		defer sched.Stop()
	}

	log.Info().Msg("memoryd_started")
	<-ctx.Done()
	log.Info().Msg("memoryd_shutting_down")
}

func buildStore(ctx context.Context, cfg config.StoreConfig) (memory.Store, error) {
	var base memory.Store
	switch cfg.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		pg := postgres.New(pool)
		if err := pg.Init(ctx); err != nil {
			return nil, fmt.Errorf("init postgres schema: %w", err)
		}
		base = pg
	default:
		base = memstore.New()
	}

	if cfg.VectorBackend == "qdrant" {
		wrapped, err := qdrant.New(base, cfg.QdrantAddr, cfg.QdrantCollection, cfg.EmbeddingDims, "cosine")
		if err != nil {
			return nil, fmt.Errorf("connect qdrant: %w", err)
		}
		return wrapped, nil
	}
	return base, nil
}

func buildClassifier(cfg config.ClassifierConfig) classifier.Classifier {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil
	}
	return classifier.NewAnthropicClassifier(cfg)
}

func buildEventSink(cfg config.EventsConfig) events.Sink {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		return events.NoopSink{}
	}
	return events.NewKafkaSink(cfg.Brokers, cfg.Topic)
}

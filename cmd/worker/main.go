// Command worker runs the ingestion pipeline orchestrator: it subscribes to
// the per-session NATS ingest subjects and drives each episode through
// Chunker -> Extractor -> Resolver -> Invalidator -> Writer.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/graphweave/engine/engine/domain"
	"github.com/graphweave/engine/engine/pipeline"
	"github.com/graphweave/engine/engine/write"
	"github.com/graphweave/engine/internal/mlclient"
	"github.com/graphweave/engine/internal/store/graphdb"
	"github.com/graphweave/engine/internal/store/vectordb"
	"github.com/graphweave/engine/pkg/clock"
	"github.com/graphweave/engine/pkg/metrics"
	"github.com/graphweave/engine/pkg/resilience"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

var met = metrics.New()

// Config is the worker's environment-based configuration.
type Config struct {
	NatsURL      string
	Neo4jURL     string
	Neo4jUser    string
	Neo4jPass    string
	QdrantAddr   string
	MLWorkerAddr string
	EmbedDims    uint64
	MetricsPort  int
}

func loadConfig() Config {
	return Config{
		NatsURL:      envOr("NATS_URL", nats.DefaultURL),
		Neo4jURL:     envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:    envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:    envOr("NEO4J_PASS", "password"),
		QdrantAddr:   envOr("QDRANT_ADDR", "localhost:6334"),
		MLWorkerAddr: envOr("ML_WORKER_ADDR", "localhost:50051"),
		EmbedDims:    768,
		MetricsPort:  9092,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	cfg := loadConfig()
	if err := run(cfg, log); err != nil {
		log.Error("worker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	met.ServeAsync(cfg.MetricsPort)

	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return err
	}
	defer driver.Close(ctx)
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return err
	}
	log.Info("connected to neo4j")

	graphStore := graphdb.New(driver)
	if err := graphStore.EnsureFullTextIndex(ctx); err != nil {
		log.Warn("ensure fulltext index failed", "err", err)
	}

	vectorStore, err := vectordb.New(cfg.QdrantAddr)
	if err != nil {
		return err
	}
	defer vectorStore.Close()
	namespaces := []string{
		domain.NamespaceEntity, domain.NamespaceStatement, domain.NamespaceEpisode,
		domain.NamespaceCompactedSession, domain.NamespaceLabel,
	}
	for _, ns := range namespaces {
		if err := vectorStore.EnsureNamespace(ctx, ns, cfg.EmbedDims); err != nil {
			log.Warn("ensure namespace failed", "namespace", ns, "err", err)
		}
	}
	log.Info("connected to qdrant")

	ml, err := mlclient.Dial(cfg.MLWorkerAddr, cfg.EmbedDims)
	if err != nil {
		return err
	}
	defer ml.Close()

	breaker := resilience.NewBreaker(resilience.DefaultBreakerOpts)

	writer := &write.Writer{
		Graph:    graphStore,
		Vectors:  vectorStore,
		Embedder: ml,
		Breaker:  breaker,
		Metrics:  met,
	}

	orch := pipeline.NewOrchestrator(graphStore, vectorStore, ml, ml, breaker, writer, clock.System{}, log)

	nc, err := nats.Connect(cfg.NatsURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("nats reconnected")
		}),
	)
	if err != nil {
		return err
	}
	defer nc.Close()

	sub, err := pipeline.StartConsumer(nc, orch)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	log.Info("worker listening", "subjects", pipeline.IngestSubjectPrefix+".session.*")

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

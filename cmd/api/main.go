// Command api is the thin HTTP surface over the ingestion pipeline and
// retrieval engine: POST /api/v1/ingest enqueues an episode, POST
// /api/v1/search runs a query. Authn/session/billing surfaces are out of
// scope (spec.md §1); this binary only represents their narrow call
// contract.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/graphweave/engine/engine/domain"
	"github.com/graphweave/engine/engine/pipeline"
	"github.com/graphweave/engine/engine/retrieval"
	"github.com/graphweave/engine/internal/mlclient"
	"github.com/graphweave/engine/internal/store/graphdb"
	"github.com/graphweave/engine/internal/store/vectordb"
	"github.com/graphweave/engine/pkg/mid"
	"github.com/graphweave/engine/pkg/natsutil"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Config holds all environment-based configuration.
type Config struct {
	Port         string
	NatsURL      string
	Neo4jURL     string
	Neo4jUser    string
	Neo4jPass    string
	QdrantAddr   string
	MLWorkerAddr string
	EmbedDims    uint64
	CORSOrigin   string
}

func loadConfig() Config {
	return Config{
		Port:         envOr("PORT", "8080"),
		NatsURL:      envOr("NATS_URL", nats.DefaultURL),
		Neo4jURL:     envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:    envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:    envOr("NEO4J_PASS", "password"),
		QdrantAddr:   envOr("QDRANT_ADDR", "localhost:6334"),
		MLWorkerAddr: envOr("ML_WORKER_ADDR", "localhost:50051"),
		EmbedDims:    768,
		CORSOrigin:   envOr("CORS_ORIGIN", "*"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()
	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer driver.Close(ctx)
	graphStore := graphdb.New(driver)

	vectorStore, err := vectordb.New(cfg.QdrantAddr)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectorStore.Close()

	ml, err := mlclient.Dial(cfg.MLWorkerAddr, cfg.EmbedDims)
	if err != nil {
		return fmt.Errorf("dial ml worker: %w", err)
	}
	defer ml.Close()

	nc, err := nats.Connect(cfg.NatsURL)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	retrievalEngine := &retrieval.Engine{
		Graph: graphStore, Vectors: vectorStore, Embedder: ml, Model: ml, Reranker: ml, Log: logger,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", handleHealth)
	mux.HandleFunc("POST /api/v1/ingest", handleIngest(nc, logger))
	mux.HandleFunc("POST /api/v1/search", handleSearch(retrievalEngine, logger))

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ingestRequestBody is spec.md §6's Ingest request shape.
type ingestRequestBody struct {
	EpisodeBody   string            `json:"episodeBody"`
	ReferenceTime time.Time         `json:"referenceTime"`
	Type          string            `json:"type"`
	Source        string            `json:"source"`
	SessionID     string            `json:"sessionId"`
	UserID        string            `json:"userId"`
	Title         string            `json:"title,omitempty"`
	LabelIDs      []string          `json:"labelIds,omitempty"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
}

type ingestResponseBody struct {
	ID string `json:"id"`
}

// handleIngest enqueues one ProcessRequest onto the per-session NATS
// subject; the worker process (cmd/worker) drives it through the pipeline.
func handleIngest(nc *nats.Conn, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body ingestRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if body.Source == "" {
			body.Source = "core"
		}
		if body.ReferenceTime.IsZero() {
			body.ReferenceTime = time.Now().UTC()
		}
		epType := domain.EpisodeType(body.Type)
		if epType == "" {
			epType = domain.EpisodeConversation
		}

		req := pipeline.ProcessRequest{
			UserID:        body.UserID,
			SessionID:     body.SessionID,
			Content:       body.EpisodeBody,
			Type:          epType,
			Source:        body.Source,
			ReferenceTime: body.ReferenceTime,
		}
		if err := domain.ValidateIngestRequest(domain.IngestRequest{
			UserID: req.UserID, SessionID: req.SessionID, Content: req.Content, Type: req.Type,
		}); err != nil {
			http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusBadRequest)
			return
		}

		if err := natsutil.Publish(r.Context(), nc, pipeline.IngestSubject(req.SessionID), req); err != nil {
			logger.Error("enqueue ingest failed", "err", err)
			http.Error(w, `{"error":"queue full"}`, http.StatusTooManyRequests)
			return
		}

		id := uuid.NewString()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ingestResponseBody{ID: id})
	}
}

// searchRequestBody is spec.md §6's Search request shape.
type searchRequestBody struct {
	Query              string    `json:"query"`
	UserID             string    `json:"userId"`
	Limit              int       `json:"limit,omitempty"`
	ValidAt            time.Time `json:"validAt,omitempty"`
	StartTime          time.Time `json:"startTime,omitempty"`
	IncludeInvalidated bool      `json:"includeInvalidated,omitempty"`
	LabelIDs           []string  `json:"labelIds,omitempty"`
	SessionID          string    `json:"sessionId,omitempty"`
	Sources            []string  `json:"sources,omitempty"`
	Mode               string    `json:"mode,omitempty"`
}

type searchResultBody struct {
	EpisodeUUID       string                    `json:"episodeUuid"`
	Score             float64                   `json:"score"`
	MatchedStatements []matchedStatementBody    `json:"matchedStatements"`
	AdjacentChunks    *adjacentChunksBody       `json:"adjacentChunks,omitempty"`
}

type matchedStatementBody struct {
	UUID      string     `json:"uuid"`
	Fact      string     `json:"fact"`
	ValidAt   time.Time  `json:"validAt"`
	InvalidAt *time.Time `json:"invalidAt,omitempty"`
	Aspect    string     `json:"aspect"`
}

type adjacentChunksBody struct {
	Previous *string `json:"previous,omitempty"`
	Next     *string `json:"next,omitempty"`
}

type searchResponseBody struct {
	Results  []searchResultBody `json:"results"`
	Degraded bool               `json:"degraded,omitempty"`
}

func handleSearch(engine *retrieval.Engine, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body searchRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}

		resp, err := engine.Search(r.Context(), body.UserID, body.Query, retrieval.Options{
			Mode:               retrieval.Mode(body.Mode),
			LabelIDs:           body.LabelIDs,
			SessionID:          body.SessionID,
			Sources:            body.Sources,
			ValidAt:            body.ValidAt,
			StartTime:          body.StartTime,
			IncludeInvalidated: body.IncludeInvalidated,
			Limit:              body.Limit,
		})
		if err != nil {
			logger.Error("search failed", "err", err)
			http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusBadRequest)
			return
		}

		out := searchResponseBody{Results: make([]searchResultBody, 0, len(resp.Results)), Degraded: resp.Degraded}
		for _, res := range resp.Results {
			sb := searchResultBody{EpisodeUUID: res.Episode.UUID, Score: res.Score}
			for _, st := range res.MatchedStatements {
				sb.MatchedStatements = append(sb.MatchedStatements, matchedStatementBody{
					UUID: st.UUID, Fact: st.Fact, ValidAt: st.ValidAt, InvalidAt: st.InvalidAt, Aspect: string(st.Aspect),
				})
			}
			if len(res.AdjacentChunks) > 0 {
				adj := &adjacentChunksBody{}
				for _, a := range res.AdjacentChunks {
					if a.ChunkIndex < res.Episode.ChunkIndex {
						id := a.UUID
						adj.Previous = &id
					} else if a.ChunkIndex > res.Episode.ChunkIndex {
						id := a.UUID
						adj.Next = &id
					}
				}
				sb.AdjacentChunks = adj
			}
			out.Results = append(out.Results, sb)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

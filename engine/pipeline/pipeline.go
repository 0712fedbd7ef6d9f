// Package pipeline is the ingestion orchestrator: it wires Chunker ->
// Extractor -> Resolver -> Invalidator -> Writer into the fixed stage order
// of SPEC_FULL.md §5.10, drives it from one core NATS subscription on the
// per-session ingest subjects, and republishes failed episodes with a
// retry-count header up to a bounded attempt count before routing to a
// dead-letter subject.
// Grounded on engine/ingest.NewPipeline's fn.Then composition chain and
// engine/ingest.StartConsumer's subscription-as-driver + DLQ idiom.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/graphweave/engine/engine/chunk"
	"github.com/graphweave/engine/engine/domain"
	"github.com/graphweave/engine/engine/extract"
	"github.com/graphweave/engine/engine/invalidate"
	"github.com/graphweave/engine/engine/resolve"
	"github.com/graphweave/engine/engine/version"
	"github.com/graphweave/engine/engine/write"
	"github.com/graphweave/engine/internal/ports"
	"github.com/graphweave/engine/pkg/clock"
	"github.com/graphweave/engine/pkg/fn"
	"github.com/graphweave/engine/pkg/natsutil"
	"github.com/graphweave/engine/pkg/resilience"
	"github.com/nats-io/nats.go"
)

const (
	// IngestSubjectPrefix is the NATS subject prefix for incoming ingest
	// requests; the full subject is IngestSubjectPrefix + ".session." +
	// sessionID. StartConsumer reads all sessions from one subscription and
	// handles one message at a time, so different sessions are not
	// processed in parallel, and a retried request is republished behind
	// any later message already queued for its session.
	IngestSubjectPrefix = "engine.ingest"
	// DLQSubject receives episodes that exhausted MaxRetries or failed with
	// a non-retryable error.
	DLQSubject = "engine.ingest.dlq"
	// MaxRetries is the attempt count after which a failed episode is
	// published to DLQSubject; no episode status is written on that path.
	MaxRetries = 3
	// ChunkWorkers bounds per-episode chunk-extraction concurrency.
	ChunkWorkers = 4
)

// IngestSubject returns the per-session subject for sessionID.
func IngestSubject(sessionID string) string {
	return IngestSubjectPrefix + ".session." + sessionID
}

// Orchestrator drives one episode through the fixed stage order.
type Orchestrator struct {
	graph        ports.GraphStore
	extractStage fn.Stage[extract.Input, extract.Output]
	resolver     *resolve.Resolver
	invalidator  *invalidate.Invalidator
	writer       *write.Writer
	versioner    *version.Engine
	clock        clock.Source
	log          *slog.Logger
}

// NewOrchestrator builds an Orchestrator from the given ports, wiring the
// Extractor behind retry+breaker exactly as engine/extract.Stage specifies.
func NewOrchestrator(graph ports.GraphStore, vectors ports.VectorStore, embedder ports.Embedder, model ports.ModelClient, breaker *resilience.Breaker, w *write.Writer, clk clock.Source, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		graph:        graph,
		extractStage: extract.Stage(model, breaker),
		resolver:     &resolve.Resolver{Graph: graph, Vectors: vectors, Embedder: embedder, Model: model, Clock: clk},
		invalidator:  &invalidate.Invalidator{Graph: graph, Model: model},
		writer:       w,
		versioner:    &version.Engine{Graph: graph},
		clock:        clk,
		log:          log,
	}
}

// EpisodeOutcome reports what ProcessEpisode wrote for one chunk episode.
type EpisodeOutcome struct {
	EpisodeUUID      string
	StatementUUIDs   []string
	InvalidatedUUIDs []string
}

// ProcessRequest is one content submission: a session-scoped episode (or
// document, split into chunk episodes by the Chunker).
type ProcessRequest struct {
	UserID      string
	WorkspaceID string
	SessionID   string
	Content     string
	Type        domain.EpisodeType
	Source      string
	ReferenceTime time.Time
}

// Process runs the full Chunker -> Extractor -> Resolver -> Invalidator ->
// Writer chain for req. For a DOCUMENT arriving under a sessionID that
// already has episodes, the Versioning Engine decides which chunks actually
// changed and only those are re-ingested.
func (o *Orchestrator) Process(ctx context.Context, req ProcessRequest) ([]EpisodeOutcome, error) {
	if err := domain.ValidateIngestRequest(domain.IngestRequest{
		UserID: req.UserID, SessionID: req.SessionID, Content: req.Content, Type: req.Type,
	}); err != nil {
		return nil, err
	}

	chunks := chunk.Split(req.Content, chunk.DefaultChunkSize, chunk.DefaultOverlap)
	hashes := make([]string, len(chunks))
	for i, c := range chunks {
		hashes[i] = c.ContentHash
	}

	changedIndices := allIndices(len(chunks))
	version := 0
	if req.Type == domain.EpisodeDocument {
		plan, err := o.versioner.Resolve(ctx, req.SessionID, hashes)
		if err != nil {
			return nil, err
		}
		if plan.Idempotent {
			o.log.Info("pipeline: document unchanged, skipping", "sessionId", req.SessionID)
			return nil, nil
		}
		newEpisodeUUID := fmt.Sprintf("%s-v%d", req.SessionID, plan.NewVersion)
		if err := o.versioner.InvalidatePrevious(ctx, plan, newEpisodeUUID, o.now(ctx)); err != nil {
			return nil, err
		}
		changedIndices = plan.ChangedIndices
		version = plan.NewVersion
	}

	wanted := map[int]bool{}
	for _, i := range changedIndices {
		wanted[i] = true
	}
	var toProcess []chunk.Chunk
	for _, c := range chunks {
		if wanted[c.Index] {
			toProcess = append(toProcess, c)
		}
	}

	outcomes := fn.ParMap(toProcess, ChunkWorkers, func(c chunk.Chunk) EpisodeOutcome {
		out, err := o.processChunk(ctx, req, c, len(chunks), version, adjacentWindow(chunks, c.Index))
		if err != nil {
			o.log.Error("pipeline: chunk failed", "error", err, "sessionId", req.SessionID, "chunkIndex", c.Index)
			return EpisodeOutcome{}
		}
		return out
	})
	return outcomes, nil
}

// adjacentWindow builds the previous/next chunk context for the chunk at
// index within the episode's full chunk list, so the Extractor can resolve
// references that only make sense next to their neighbors.
func adjacentWindow(chunks []chunk.Chunk, index int) ports.ExtractContext {
	var w ports.ExtractContext
	if index > 0 && index-1 < len(chunks) {
		w.PreviousChunk = chunks[index-1].Text
	}
	if index+1 < len(chunks) {
		w.NextChunk = chunks[index+1].Text
	}
	return w
}

func (o *Orchestrator) processChunk(ctx context.Context, req ProcessRequest, c chunk.Chunk, totalChunks, version int, window ports.ExtractContext) (EpisodeOutcome, error) {
	now := o.now(ctx)
	ep := domain.Episode{
		UUID:        fmt.Sprintf("%s-%d-%d", req.SessionID, now.UnixNano(), c.Index),
		UserID:      req.UserID,
		WorkspaceID: req.WorkspaceID,
		Content:     c.Text,
		Source:      req.Source,
		SessionID:   req.SessionID,
		Type:        req.Type,
		ChunkIndex:  c.Index,
		TotalChunks: totalChunks,
		Version:     version,
		ContentHash: c.ContentHash,
		ValidAt:     now,
		Status:      domain.StatusProcessing,
		CreatedAt:   now,
	}

	refTime := req.ReferenceTime
	if refTime.IsZero() {
		refTime = now
	}
	extracted := o.extractStage(ctx, extract.Input{Episode: ep, ReferenceTime: refTime, Window: window})
	if extracted.IsErr() {
		_, err := extracted.Unwrap()
		return EpisodeOutcome{}, &domain.ExtractionError{Wrapped: err}
	}
	out, _ := extracted.Unwrap()
	out = extract.NormalizeAspects(out)
	if err := extract.Validate(out); err != nil {
		return EpisodeOutcome{}, err
	}

	outcome := EpisodeOutcome{EpisodeUUID: ep.UUID}
	for _, t := range out.Triples {
		rt, dup, err := o.resolver.Resolve(ctx, req.UserID, t, ep)
		if err != nil {
			return outcome, err
		}
		if dup {
			if err := o.graph.LinkProvenance(ctx, rt.Statement.UUID, ep.UUID); err != nil {
				return outcome, err
			}
			continue
		}

		var candidates []domain.Statement
		if existing, found, err := o.findCandidates(ctx, req.UserID, rt); err == nil && found {
			candidates = existing
		}
		invalidated, err := o.invalidator.Invalidate(ctx, rt.Statement, candidates, now)
		if err != nil {
			return outcome, err
		}

		res, err := o.writer.Commit(ctx, rt, ep.UUID, invalidated)
		if err != nil {
			return outcome, err
		}
		outcome.StatementUUIDs = append(outcome.StatementUUIDs, res.StatementUUID)
		outcome.InvalidatedUUIDs = append(outcome.InvalidatedUUIDs, res.InvalidatedUUIDs...)
	}

	ep.Status = domain.StatusCompleted
	if err := o.writer.CommitEpisode(ctx, ep); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// findCandidates looks up every currently-active statement sharing the
// resolved triple's subject, the Invalidator's candidate set per spec.md
// §4.4.
func (o *Orchestrator) findCandidates(ctx context.Context, userID string, rt resolve.ResolvedTriple) ([]domain.Statement, bool, error) {
	stmts, err := o.graph.ActiveStatementsForSubject(ctx, userID, rt.Statement.SubjectUUID)
	if err != nil {
		return nil, false, err
	}
	return stmts, len(stmts) > 0, nil
}

func (o *Orchestrator) now(ctx context.Context) time.Time {
	if o.clock != nil {
		return o.clock.Now()
	}
	return time.Now().UTC()
}

func allIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// dlqMessage is published to DLQSubject on repeated failure.
type dlqMessage struct {
	Request ProcessRequest `json:"request"`
	Error   string         `json:"error"`
	Retries int            `json:"retries"`
}

// StartConsumer subscribes to every session's ingest subject via a
// wildcard and drives each ProcessRequest through the Orchestrator, retrying
// with an incrementing X-Retry-Count header up to MaxRetries before routing
// to DLQSubject, matching engine/ingest.StartConsumer's retry/DLQ shape. A
// non-retryable error goes to DLQSubject at once. Messages are handled one
// at a time, whatever their session.
func StartConsumer(nc *nats.Conn, o *Orchestrator) (*nats.Subscription, error) {
	return nc.Subscribe(IngestSubjectPrefix+".session.*", func(msg *nats.Msg) {
		var req ProcessRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			o.log.Error("pipeline: unmarshal failed", "error", err)
			return
		}

		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get("X-Retry-Count"); v != "" {
				fmt.Sscanf(v, "%d", &retries)
			}
		}

		ctx := context.Background()
		_, err := o.Process(ctx, req)
		if err != nil {
			retries++
			o.log.Error("pipeline: process failed", "error", err, "sessionId", req.SessionID, "retry", retries)

			if retries >= MaxRetries || !domain.IsRetryable(err) {
				dlq := dlqMessage{Request: req, Error: err.Error(), Retries: retries}
				if pubErr := natsutil.Publish(ctx, nc, DLQSubject, dlq); pubErr != nil {
					o.log.Error("pipeline: DLQ publish failed", "error", pubErr)
				}
			} else {
				retryMsg := nats.NewMsg(IngestSubject(req.SessionID))
				retryMsg.Data = msg.Data
				retryMsg.Header = nats.Header{}
				retryMsg.Header.Set("X-Retry-Count", fmt.Sprintf("%d", retries))
				if pubErr := nc.PublishMsg(retryMsg); pubErr != nil {
					o.log.Error("pipeline: retry publish failed", "error", pubErr)
				}
			}
		} else {
			o.log.Info("pipeline: episode processed", "sessionId", req.SessionID)
		}

		if msg.Reply != "" {
			_ = msg.Ack()
		}
	})
}

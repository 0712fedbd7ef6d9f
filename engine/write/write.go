// Package write persists resolved pipeline output transactionally. Grounded
// on engine/ingest.NewStore's upsert-component/upsert-vectors split and
// engine/graph.GraphStore's ExecuteWrite transaction idiom: each surviving
// candidate statement is written to the graph as a sequence of GraphStore
// calls (entities, then the statement with its three role edges in one
// transaction, then its provenance link); invalidations are applied by the
// Invalidator before the Writer runs, not here. The statement vector
// upsert follows as a separate, non-transactional step — the vector store
// is strictly subordinate to the graph per spec.md §5, so a vector failure
// never rolls back a graph write.
package write

import (
	"context"
	"errors"

	"github.com/graphweave/engine/engine/domain"
	"github.com/graphweave/engine/engine/resolve"
	"github.com/graphweave/engine/internal/ports"
	"github.com/graphweave/engine/pkg/metrics"
	"github.com/graphweave/engine/pkg/resilience"
)

// ErrVectorSyncExhausted is returned internally when a vector upsert fails
// both on first attempt and after a single re-embed retry; the caller flags
// VectorSyncFailed rather than propagating this to the pipeline.
var ErrVectorSyncExhausted = errors.New("vector upsert failed after retry")

// Writer commits resolved triples and their invalidations to the graph and
// vector stores in the five-step order of spec.md §4.5.
type Writer struct {
	Graph    ports.GraphStore
	Vectors  ports.VectorStore
	Embedder ports.Embedder
	Breaker  *resilience.Breaker
	Metrics  *metrics.Registry

	vectorSyncFailed *metrics.Counter
}

// Result reports what a Commit call wrote, for pipeline bookkeeping.
type Result struct {
	StatementUUID     string
	InvalidatedUUIDs  []string
	NewEntityUUIDs    []string
	VectorSyncFailed  bool
}

func (w *Writer) failedCounter() *metrics.Counter {
	if w.vectorSyncFailed != nil {
		return w.vectorSyncFailed
	}
	if w.Metrics == nil {
		return nil
	}
	w.vectorSyncFailed = w.Metrics.Counter("maintenance_vector_sync_failed_total",
		"Vector upserts that failed permanently and were flagged for maintenance reconciliation")
	return w.vectorSyncFailed
}

// Commit writes one resolved triple: it re-upserts the subject/predicate/
// object entities, saves the statement (which writes its three role
// edges) and links it to episodeUUID. invalidated is only reported in the
// Result; Commit writes no invalidation. Only the statement vector is
// upserted here (the Resolver upserts entity vectors), once the graph
// write succeeds; a permanent vector failure is recorded on the domain object
// rather than failing the commit, per the vector-reconciliation policy.
func (w *Writer) Commit(ctx context.Context, rt resolve.ResolvedTriple, episodeUUID string, invalidated []string) (Result, error) {
	st := rt.Statement

	subj, err := w.Graph.GetEntity(ctx, st.SubjectUUID)
	if err != nil {
		return Result{}, domain.NewTransientStoreError("write.getSubject", err)
	}
	pred, err := w.Graph.GetEntity(ctx, st.PredicateUUID)
	if err != nil {
		return Result{}, domain.NewTransientStoreError("write.getPredicate", err)
	}
	obj, err := w.Graph.GetEntity(ctx, st.ObjectUUID)
	if err != nil {
		return Result{}, domain.NewTransientStoreError("write.getObject", err)
	}

	// Step 1: upsert entities (idempotent on UUID; resolve already created
	// new ones, this re-asserts them inside the same logical write).
	for _, e := range []domain.Entity{subj, pred, obj} {
		if err := w.Graph.UpsertEntity(ctx, e); err != nil {
			return Result{}, domain.NewTransientStoreError("write.upsertEntity", err)
		}
	}

	// Step 2: upsert the statement.
	if err := w.Graph.SaveStatement(ctx, st); err != nil {
		return Result{}, domain.NewTransientStoreError("write.saveStatement", err)
	}

	// Step 3: the HAS_SUBJECT/HAS_PREDICATE/HAS_OBJECT edges are written by
	// SaveStatement itself (see internal/store/graphdb); HAS_PROVENANCE
	// links the statement back to the originating episode.
	if err := w.Graph.LinkProvenance(ctx, st.UUID, episodeUUID); err != nil {
		return Result{}, domain.NewTransientStoreError("write.linkProvenance", err)
	}

	// Step 4: report the invalidations the Invalidator already applied.
	res := Result{StatementUUID: st.UUID, InvalidatedUUIDs: invalidated}
	if rt.IsNewSubject {
		res.NewEntityUUIDs = append(res.NewEntityUUIDs, subj.UUID)
	}
	if rt.IsNewPredicate {
		res.NewEntityUUIDs = append(res.NewEntityUUIDs, pred.UUID)
	}
	if rt.IsNewObject {
		res.NewEntityUUIDs = append(res.NewEntityUUIDs, obj.UUID)
	}

	// Step 5: vector upserts, subordinate to the graph write above.
	points := []ports.VectorPoint{
		{ID: st.UUID, Vector: st.FactEmbedding, Payload: map[string]any{
			"userId": st.UserID, "fact": st.Fact, "aspect": string(st.Aspect),
		}},
	}
	if err := w.upsertVectorsWithRetry(ctx, domain.NamespaceStatement, points, st.Fact); err != nil {
		st.VectorSyncFailed = true
		res.VectorSyncFailed = true
		if c := w.failedCounter(); c != nil {
			c.Inc()
		}
		_ = w.Graph.SaveStatement(ctx, st) // persist the flag; best-effort
	}

	return res, nil
}

// upsertVectorsWithRetry upserts points into namespace, guarded by the
// circuit breaker. On failure it re-embeds text once (the embedding may
// have been stale or truncated) and retries a single time before giving up
// permanently — at which point the caller flags vectorSyncFailed rather
// than blocking the pipeline on the vector store.
func (w *Writer) upsertVectorsWithRetry(ctx context.Context, namespace string, points []ports.VectorPoint, text string) error {
	call := func(ctx context.Context) error { return w.Vectors.Upsert(ctx, namespace, points) }
	if w.Breaker != nil {
		call = func(ctx context.Context) error {
			return w.Breaker.Call(ctx, func(ctx context.Context) error { return w.Vectors.Upsert(ctx, namespace, points) })
		}
	}

	if err := call(ctx); err == nil {
		return nil
	}

	if w.Embedder != nil && text != "" {
		if vec, err := w.Embedder.Embed(ctx, text); err == nil {
			for i := range points {
				points[i].Vector = vec
			}
			if err := call(ctx); err == nil {
				return nil
			}
		}
	}
	return domain.NewPermanentStoreError("write.upsertVectors", ErrVectorSyncExhausted)
}

// CommitEpisode upserts the episode's content vector once all of its chunks
// have been written, per spec.md §4.5 step 5's "after all its chunks are
// written" ordering.
func (w *Writer) CommitEpisode(ctx context.Context, ep domain.Episode) error {
	if err := w.Graph.SaveEpisode(ctx, ep); err != nil {
		return domain.NewTransientStoreError("write.saveEpisode", err)
	}
	if len(ep.ContentEmbedding) == 0 {
		return nil
	}
	points := []ports.VectorPoint{
		{ID: ep.UUID, Vector: ep.ContentEmbedding, Payload: map[string]any{
			"userId": ep.UserID, "sessionId": ep.SessionID, "type": string(ep.Type),
		}},
	}
	if err := w.upsertVectorsWithRetry(ctx, domain.NamespaceEpisode, points, ep.Content); err != nil {
		ep.VectorSyncFailed = true
		if c := w.failedCounter(); c != nil {
			c.Inc()
		}
		return w.Graph.SaveEpisode(ctx, ep)
	}
	return nil
}

// Package maintenance implements the periodic and post-ingest sweeps that
// keep the graph and vector stores consistent with each other and with
// themselves: entity dedup by normalized name, orphan entity deletion,
// label vector reconciliation, and re-sync of nodes the Writer flagged
// vectorSyncFailed. Grounded on cmd/backfill's sequential progress-logged
// loop idiom, generalized from Component linking to Entity/Statement/
// Episode reconciliation.
package maintenance

import (
	"context"
	"log/slog"
	"sort"

	"github.com/graphweave/engine/engine/domain"
	"github.com/graphweave/engine/internal/ports"
	"github.com/graphweave/engine/pkg/metrics"
)

// ThresholdLabel is the embedding-similarity cutoff above which an episode
// is auto-assigned a label (spec.md §4.9's θ_label).
const ThresholdLabel = 0.80

// Sweeper bundles the ports and registry a maintenance run needs. All
// fields are required except Log, which falls back to slog.Default, and
// Metrics, which falls back to a fresh registry from metrics.New.
type Sweeper struct {
	Graph    ports.GraphStore
	Vectors  ports.VectorStore
	Embedder ports.Embedder
	Metrics  *metrics.Registry
	Log      *slog.Logger

	reconciled  *metrics.Counter
	dedupCount  *metrics.Counter
	orphanCount *metrics.Counter
}

func (sw *Sweeper) logger() *slog.Logger {
	if sw.Log != nil {
		return sw.Log
	}
	return slog.Default()
}

func (sw *Sweeper) reconciledCounter() *metrics.Counter {
	if sw.reconciled == nil {
		if sw.Metrics == nil {
			sw.Metrics = metrics.New()
		}
		sw.reconciled = sw.Metrics.Counter("maintenance_vector_reconciled_total", "vectors re-synced after a prior upsert failure")
	}
	return sw.reconciled
}

func (sw *Sweeper) dedupCounter() *metrics.Counter {
	if sw.dedupCount == nil {
		if sw.Metrics == nil {
			sw.Metrics = metrics.New()
		}
		sw.dedupCount = sw.Metrics.Counter("maintenance_entities_merged_total", "entities merged by the dedup sweep")
	}
	return sw.dedupCount
}

func (sw *Sweeper) orphanCounter() *metrics.Counter {
	if sw.orphanCount == nil {
		if sw.Metrics == nil {
			sw.Metrics = metrics.New()
		}
		sw.orphanCount = sw.Metrics.Counter("maintenance_orphans_deleted_total", "entities deleted by the orphan sweep")
	}
	return sw.orphanCount
}

// OrphanSweep deletes every Entity with zero incoming role edges, up to
// limit per call (0 defaults to the store's own page size).
func (sw *Sweeper) OrphanSweep(ctx context.Context, limit int) (int, error) {
	orphans, err := sw.Graph.OrphanEntities(ctx, limit)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, e := range orphans {
		if err := sw.Graph.DeleteEntity(ctx, e.UUID); err != nil {
			sw.logger().Warn("orphan delete failed", "entity", e.UUID, "err", err)
			continue
		}
		deleted++
	}
	sw.orphanCounter().Add(int64(deleted))
	return deleted, nil
}

// DedupEntities groups a user's entities by lower(name), keeps the oldest
// of each group as canonical, unions attributes across the group (newer
// CreatedAt wins on key conflicts), and merges the rest into it.
func (sw *Sweeper) DedupEntities(ctx context.Context, userID string, limit int) (int, error) {
	entities, err := sw.Graph.ListEntitiesByUser(ctx, userID, limit)
	if err != nil {
		return 0, err
	}
	groups := make(map[string][]domain.Entity)
	for _, e := range entities {
		groups[e.NameLower] = append(groups[e.NameLower], e)
	}

	merged := 0
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].CreatedAt.Before(group[j].CreatedAt) })
		keep := group[0]
		attrs := map[string]any{}
		for k, v := range keep.Attributes {
			attrs[k] = v
		}
		for _, dup := range group[1:] {
			for k, v := range dup.Attributes {
				attrs[k] = v // newer wins: group is oldest-first, so later entries overwrite
			}
		}
		keep.Attributes = attrs
		if err := sw.Graph.UpsertEntity(ctx, keep); err != nil {
			return merged, err
		}
		for _, dup := range group[1:] {
			if err := sw.Graph.MergeEntities(ctx, keep.UUID, dup.UUID); err != nil {
				sw.logger().Warn("merge failed", "keep", keep.UUID, "drop", dup.UUID, "err", err)
				continue
			}
			merged++
		}
	}
	sw.dedupCounter().Add(int64(merged))
	return merged, nil
}

// ReconcileLabel re-embeds a label's name and upserts its vector in the
// LABEL namespace, run on every label create/update.
func (sw *Sweeper) ReconcileLabel(ctx context.Context, l domain.Label) error {
	vec, err := sw.Embedder.Embed(ctx, l.Name)
	if err != nil {
		return err
	}
	l.NameEmbedding = vec
	if err := sw.Graph.UpsertLabel(ctx, l); err != nil {
		return err
	}
	return sw.Vectors.Upsert(ctx, domain.NamespaceLabel, []ports.VectorPoint{
		{ID: l.UUID, Vector: vec, Payload: map[string]any{"userId": l.UserID, "name": l.Name}},
	})
}

// AutoAssignLabels searches the LABEL namespace for labels whose name
// embedding clears ThresholdLabel against the episode's content embedding
// and assigns them, returning the assigned label UUIDs.
func (sw *Sweeper) AutoAssignLabels(ctx context.Context, ep domain.Episode) ([]string, error) {
	if len(ep.ContentEmbedding) == 0 {
		return nil, nil
	}
	matches, err := sw.Vectors.SearchFiltered(ctx, domain.NamespaceLabel, ep.ContentEmbedding, 10,
		map[string]any{"userId": ep.UserID})
	if err != nil {
		return nil, err
	}
	var assigned []string
	for _, m := range matches {
		if float64(m.Score) < ThresholdLabel {
			continue
		}
		assigned = append(assigned, m.ID)
	}
	if len(assigned) == 0 {
		return nil, nil
	}
	if err := sw.Graph.AssignLabels(ctx, ep.UUID, assigned); err != nil {
		return nil, err
	}
	return assigned, nil
}

// ReconcileVectors re-embeds and re-upserts every Entity, Statement, and
// Episode flagged vectorSyncFailed by the Writer, clearing the flag on
// success. This is the sweeper side of spec.md §5's "vector store is
// strictly subordinate" policy: a failed upsert leaves the graph node
// intact and only this sweep, not the write path, retries indefinitely.
func (sw *Sweeper) ReconcileVectors(ctx context.Context, limit int) (int, error) {
	fixed := 0

	entities, err := sw.Graph.EntitiesWithVectorSyncFailed(ctx, limit)
	if err != nil {
		return fixed, err
	}
	for _, e := range entities {
		vec, err := sw.Embedder.Embed(ctx, e.Name)
		if err != nil {
			sw.logger().Warn("reconcile entity embed failed", "entity", e.UUID, "err", err)
			continue
		}
		if err := sw.Vectors.Upsert(ctx, domain.NamespaceEntity, []ports.VectorPoint{
			{ID: e.UUID, Vector: vec, Payload: map[string]any{"userId": e.UserID, "name": e.Name}},
		}); err != nil {
			sw.logger().Warn("reconcile entity upsert failed", "entity", e.UUID, "err", err)
			continue
		}
		if err := sw.Graph.ClearEntityVectorSyncFailed(ctx, e.UUID); err != nil {
			sw.logger().Warn("clear entity flag failed", "entity", e.UUID, "err", err)
			continue
		}
		fixed++
	}

	statements, err := sw.Graph.StatementsWithVectorSyncFailed(ctx, limit)
	if err != nil {
		return fixed, err
	}
	for _, st := range statements {
		vec, err := sw.Embedder.Embed(ctx, st.Fact)
		if err != nil {
			sw.logger().Warn("reconcile statement embed failed", "statement", st.UUID, "err", err)
			continue
		}
		if err := sw.Vectors.Upsert(ctx, domain.NamespaceStatement, []ports.VectorPoint{
			{ID: st.UUID, Vector: vec, Payload: map[string]any{"userId": st.UserID, "fact": st.Fact}},
		}); err != nil {
			sw.logger().Warn("reconcile statement upsert failed", "statement", st.UUID, "err", err)
			continue
		}
		if err := sw.Graph.ClearStatementVectorSyncFailed(ctx, st.UUID); err != nil {
			sw.logger().Warn("clear statement flag failed", "statement", st.UUID, "err", err)
			continue
		}
		fixed++
	}

	episodes, err := sw.Graph.EpisodesWithVectorSyncFailed(ctx, limit)
	if err != nil {
		return fixed, err
	}
	for _, ep := range episodes {
		if ep.Content == "" {
			continue
		}
		vec, err := sw.Embedder.Embed(ctx, ep.Content)
		if err != nil {
			sw.logger().Warn("reconcile episode embed failed", "episode", ep.UUID, "err", err)
			continue
		}
		if err := sw.Vectors.Upsert(ctx, domain.NamespaceEpisode, []ports.VectorPoint{
			{ID: ep.UUID, Vector: vec, Payload: map[string]any{"userId": ep.UserID, "sessionId": ep.SessionID}},
		}); err != nil {
			sw.logger().Warn("reconcile episode upsert failed", "episode", ep.UUID, "err", err)
			continue
		}
		if err := sw.Graph.ClearEpisodeVectorSyncFailed(ctx, ep.UUID); err != nil {
			sw.logger().Warn("clear episode flag failed", "episode", ep.UUID, "err", err)
			continue
		}
		fixed++
	}

	sw.reconciledCounter().Add(int64(fixed))
	return fixed, nil
}

// RunReport counts what one Run did.
type RunReport struct {
	OrphansDeleted    int
	EntitiesMerged    int
	VectorsReconciled int
}

// Run executes the full maintenance pass for one user: orphan sweep, entity
// dedup, then vector reconciliation. Label reconciliation is driven
// separately, on label create/update, not by this periodic pass.
func (sw *Sweeper) Run(ctx context.Context, userID string, pageLimit int) (RunReport, error) {
	var rep RunReport
	var err error

	rep.OrphansDeleted, err = sw.OrphanSweep(ctx, pageLimit)
	if err != nil {
		return rep, err
	}
	rep.EntitiesMerged, err = sw.DedupEntities(ctx, userID, pageLimit)
	if err != nil {
		return rep, err
	}
	rep.VectorsReconciled, err = sw.ReconcileVectors(ctx, pageLimit)
	if err != nil {
		return rep, err
	}
	sw.logger().Info("maintenance run complete", "userId", userID,
		"orphansDeleted", rep.OrphansDeleted, "entitiesMerged", rep.EntitiesMerged,
		"vectorsReconciled", rep.VectorsReconciled)
	return rep, nil
}

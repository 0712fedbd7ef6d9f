// Package version implements the document versioning engine (spec.md
// §4.6): when a session re-ingests a DOCUMENT episode, its chunk hashes are
// diffed positionally against the latest version, and only the changed
// chunk indices are invalidated and re-ingested. Grounded on the Writer's
// idempotent-MERGE idiom and engine/graph.GraphStore's batch-transaction
// pattern, generalized to a diff-then-invalidate step ahead of the normal
// write path.
package version

import (
	"context"
	"time"

	"github.com/graphweave/engine/engine/domain"
	"github.com/graphweave/engine/internal/ports"
)

// Diff is the result of comparing two chunk-hash vectors positionally: the
// set of chunk indices whose hash changed, plus any index present only on
// one side (an episode that grew or shrank chunk count).
type Diff struct {
	ChangedIndices []int
	Unchanged      bool
}

// ComputeDiff compares previous and next chunk hashes index-by-index.
// Unchanged is true only when the vectors are identical length and content,
// in which case the caller returns idempotently without touching the graph.
func ComputeDiff(previous, next []string) Diff {
	n := len(previous)
	if len(next) > n {
		n = len(next)
	}
	var changed []int
	for i := 0; i < n; i++ {
		var p, nx string
		if i < len(previous) {
			p = previous[i]
		}
		if i < len(next) {
			nx = next[i]
		}
		if p != nx {
			changed = append(changed, i)
		}
	}
	return Diff{ChangedIndices: changed, Unchanged: len(changed) == 0}
}

// Engine drives the re-ingestion decision for a new DOCUMENT episode
// arriving under an existing sessionID.
type Engine struct {
	Graph ports.GraphStore
}

// Plan describes what the pipeline must do for this arrival: the new
// version number, which chunk indices changed, and the statements to
// invalidate: every statement with provenance in a changed chunk's
// episode, whether or not an unchanged chunk's episode also provides it.
type Plan struct {
	NewVersion      int
	ChangedIndices  []int
	Idempotent      bool
	ToInvalidate    []domain.Statement
}

// Resolve fetches the latest version for sessionID, diffs its chunk hashes
// against nextHashes, and — when the diff is non-empty — collects the
// statements to invalidate (every statement with provenance in a changed
// chunk's episode; provenance from unchanged chunks is not checked).
func (e *Engine) Resolve(ctx context.Context, sessionID string, nextHashes []string) (Plan, error) {
	latestVersion, err := e.Graph.LatestVersion(ctx, sessionID)
	if err != nil {
		return Plan{}, domain.NewTransientStoreError("version.latestVersion", err)
	}

	previousEpisodes, err := e.Graph.ListEpisodesBySession(ctx, sessionID, latestVersion)
	if err != nil {
		return Plan{}, domain.NewTransientStoreError("version.listEpisodes", err)
	}

	previousHashes := hashesByChunkIndex(previousEpisodes)
	diff := ComputeDiff(previousHashes, nextHashes)
	if diff.Unchanged {
		return Plan{NewVersion: latestVersion, Idempotent: true}, nil
	}

	changedEpisodeUUIDs := episodesAtIndices(previousEpisodes, diff.ChangedIndices)

	var toInvalidate []domain.Statement
	seen := map[string]bool{}
	for _, epUUID := range changedEpisodeUUIDs {
		stmts, err := e.Graph.StatementsByProvenance(ctx, epUUID)
		if err != nil {
			return Plan{}, domain.NewTransientStoreError("version.statementsByProvenance", err)
		}
		for _, s := range stmts {
			if !seen[s.UUID] {
				seen[s.UUID] = true
				toInvalidate = append(toInvalidate, s)
			}
		}
	}

	return Plan{
		NewVersion:     latestVersion + 1,
		ChangedIndices: diff.ChangedIndices,
		ToInvalidate:   toInvalidate,
	}, nil
}

// InvalidatePrevious marks every statement in plan.ToInvalidate as invalid
// as of at, attributing the change to newEpisodeUUID — this is
// invalidateStatementsFromPreviousVersion from spec.md §4.6.
func (e *Engine) InvalidatePrevious(ctx context.Context, plan Plan, newEpisodeUUID string, at time.Time) error {
	for _, s := range plan.ToInvalidate {
		if err := e.Graph.InvalidateStatement(ctx, s.UUID, at, newEpisodeUUID); err != nil {
			return domain.NewTransientStoreError("version.invalidateStatement", err)
		}
	}
	return nil
}

func hashesByChunkIndex(episodes []domain.Episode) []string {
	maxIdx := -1
	for _, e := range episodes {
		if e.ChunkIndex > maxIdx {
			maxIdx = e.ChunkIndex
		}
	}
	if maxIdx < 0 {
		return nil
	}
	hashes := make([]string, maxIdx+1)
	for _, e := range episodes {
		hashes[e.ChunkIndex] = e.ContentHash
	}
	return hashes
}

func episodesAtIndices(episodes []domain.Episode, indices []int) []string {
	want := map[int]bool{}
	for _, i := range indices {
		want[i] = true
	}
	var uuids []string
	for _, e := range episodes {
		if want[e.ChunkIndex] {
			uuids = append(uuids, e.UUID)
		}
	}
	return uuids
}

package version

import (
	"context"
	"testing"
	"time"

	"github.com/graphweave/engine/engine/domain"
	"github.com/graphweave/engine/internal/ports"
)

type fakeGraph struct {
	ports.GraphStore
	latestVersion int
	episodes      []domain.Episode
	statements    map[string][]domain.Statement
	invalidated   []string
}

func (f *fakeGraph) LatestVersion(ctx context.Context, sessionID string) (int, error) {
	return f.latestVersion, nil
}

func (f *fakeGraph) ListEpisodesBySession(ctx context.Context, sessionID string, version int) ([]domain.Episode, error) {
	return f.episodes, nil
}

func (f *fakeGraph) StatementsByProvenance(ctx context.Context, episodeUUID string) ([]domain.Statement, error) {
	return f.statements[episodeUUID], nil
}

func (f *fakeGraph) InvalidateStatement(ctx context.Context, uuid string, invalidAt time.Time, invalidatedBy string) error {
	f.invalidated = append(f.invalidated, uuid)
	return nil
}

func TestComputeDiff_NoChange(t *testing.T) {
	d := ComputeDiff([]string{"a", "b", "c"}, []string{"a", "b", "c"})
	if !d.Unchanged {
		t.Fatal("expected unchanged diff")
	}
}

func TestComputeDiff_OneChangedChunk(t *testing.T) {
	d := ComputeDiff([]string{"a", "b", "c"}, []string{"a", "x", "c"})
	if d.Unchanged {
		t.Fatal("expected change")
	}
	if len(d.ChangedIndices) != 1 || d.ChangedIndices[0] != 1 {
		t.Errorf("expected index 1 changed, got %v", d.ChangedIndices)
	}
}

func TestComputeDiff_GrownEpisode(t *testing.T) {
	d := ComputeDiff([]string{"a", "b"}, []string{"a", "b", "c"})
	if len(d.ChangedIndices) != 1 || d.ChangedIndices[0] != 2 {
		t.Errorf("expected index 2 (new chunk) changed, got %v", d.ChangedIndices)
	}
}

func TestEngine_Resolve_IdempotentWhenUnchanged(t *testing.T) {
	g := &fakeGraph{
		latestVersion: 2,
		episodes: []domain.Episode{
			{UUID: "ep0", ChunkIndex: 0, ContentHash: "h0"},
			{UUID: "ep1", ChunkIndex: 1, ContentHash: "h1"},
		},
	}
	e := &Engine{Graph: g}
	plan, err := e.Resolve(context.Background(), "sess1", []string{"h0", "h1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !plan.Idempotent {
		t.Error("expected idempotent plan")
	}
	if plan.NewVersion != 2 {
		t.Errorf("expected version to stay at 2, got %d", plan.NewVersion)
	}
}

func TestEngine_Resolve_CollectsStatementsFromChangedChunkOnly(t *testing.T) {
	g := &fakeGraph{
		latestVersion: 1,
		episodes: []domain.Episode{
			{UUID: "ep0", ChunkIndex: 0, ContentHash: "h0"},
			{UUID: "ep1", ChunkIndex: 1, ContentHash: "h1"},
		},
		statements: map[string][]domain.Statement{
			"ep0": {{UUID: "s-unchanged"}},
			"ep1": {{UUID: "s-changed"}},
		},
	}
	e := &Engine{Graph: g}
	plan, err := e.Resolve(context.Background(), "sess1", []string{"h0", "h1-new"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.NewVersion != 2 {
		t.Errorf("expected version bump to 2, got %d", plan.NewVersion)
	}
	if len(plan.ToInvalidate) != 1 || plan.ToInvalidate[0].UUID != "s-changed" {
		t.Errorf("expected only s-changed to be queued for invalidation, got %v", plan.ToInvalidate)
	}
}

func TestEngine_InvalidatePrevious(t *testing.T) {
	g := &fakeGraph{}
	e := &Engine{Graph: g}
	plan := Plan{ToInvalidate: []domain.Statement{{UUID: "s1"}, {UUID: "s2"}}}
	if err := e.InvalidatePrevious(context.Background(), plan, "newEp", time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.invalidated) != 2 {
		t.Errorf("expected 2 invalidations, got %v", g.invalidated)
	}
}

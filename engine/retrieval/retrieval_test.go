package retrieval

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/graphweave/engine/engine/domain"
	"github.com/graphweave/engine/internal/ports"
)

type fakeGraph struct {
	ports.GraphStore
	fulltext map[string][]ports.StatementMatch
	episodes map[string]domain.Episode
	byStmt   map[string][]domain.Episode
	siblings []domain.Episode
}

func (f *fakeGraph) FullTextSearchStatements(ctx context.Context, userID, query string, limit int) ([]ports.StatementMatch, error) {
	return f.fulltext[userID], nil
}
func (f *fakeGraph) GetEpisode(ctx context.Context, uuid string) (domain.Episode, error) {
	return f.episodes[uuid], nil
}
func (f *fakeGraph) GetStatement(ctx context.Context, uuid string) (domain.Statement, error) {
	return domain.Statement{}, nil
}
func (f *fakeGraph) EpisodesByStatement(ctx context.Context, statementUUID string) ([]domain.Episode, error) {
	return f.byStmt[statementUUID], nil
}
func (f *fakeGraph) ListEpisodesBySession(ctx context.Context, sessionID string, version int) ([]domain.Episode, error) {
	return f.siblings, nil
}
func (f *fakeGraph) FindEntityByName(ctx context.Context, userID, nameLower string) (domain.Entity, bool, error) {
	return domain.Entity{}, false, nil
}
func (f *fakeGraph) EpisodeGraphSearch(ctx context.Context, userID string, seeds []string, hops int) ([]domain.Episode, error) {
	return nil, nil
}

type fakeVectors struct{ ports.VectorStore }

func (fakeVectors) SearchFiltered(ctx context.Context, namespace string, vector []float32, limit int, filter map[string]any) ([]ports.VectorMatch, error) {
	return nil, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}
func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}
func (fakeEmbedder) Dimensions() uint64 { return 2 }

func TestSearch_BM25PlanGroupsByEpisode(t *testing.T) {
	ep := domain.Episode{UUID: "ep1", SessionID: "s1", ValidAt: time.Unix(100, 0)}
	st := domain.Statement{UUID: "st1", Fact: "Alice likes coffee"}
	g := &fakeGraph{
		fulltext: map[string][]ports.StatementMatch{"u1": {{Statement: st, Score: 0.9}}},
		episodes: map[string]domain.Episode{"ep1": ep},
		byStmt:   map[string][]domain.Episode{"st1": {ep}},
	}
	e := &Engine{Graph: g, Vectors: fakeVectors{}, Embedder: fakeEmbedder{}}

	resp, err := e.Search(context.Background(), "u1", "coffee", Options{Mode: ModeLexical, Limit: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(resp.Results))
	}
	if resp.Results[0].Episode.UUID != "ep1" {
		t.Errorf("expected ep1, got %s", resp.Results[0].Episode.UUID)
	}
}

type failingFulltextGraph struct {
	fakeGraph
}

func (f *failingFulltextGraph) FullTextSearchStatements(ctx context.Context, userID, query string, limit int) ([]ports.StatementMatch, error) {
	return nil, errFulltext
}

var errFulltext = fmt.Errorf("fulltext index unavailable")

func TestSearch_MarksDegradedWhenASubPlanFails(t *testing.T) {
	g := &failingFulltextGraph{}
	e := &Engine{Graph: g, Vectors: fakeVectors{}, Embedder: fakeEmbedder{}}

	resp, err := e.Search(context.Background(), "u1", "coffee", Options{Mode: ModeLexical, Limit: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Degraded {
		t.Error("expected Degraded=true when the lexical sub-plan fails")
	}
}

func TestSearch_RejectsInvalidQuery(t *testing.T) {
	e := &Engine{Graph: &fakeGraph{}, Vectors: fakeVectors{}, Embedder: fakeEmbedder{}}
	_, err := e.Search(context.Background(), "u1", "a", Options{})
	if err == nil {
		t.Fatal("expected error for too-short query")
	}
}

func TestFuse_ReciprocalRankAccumulates(t *testing.T) {
	epA := rankedEpisode{episodeUUID: "a", episode: domain.Episode{UUID: "a"}, score: 1}
	epB := rankedEpisode{episodeUUID: "b", episode: domain.Episode{UUID: "b"}, score: 1}
	list1 := []rankedEpisode{epA, epB}
	list2 := []rankedEpisode{epB, epA}

	fused := fuse([][]rankedEpisode{list1, list2})
	if len(fused) != 2 {
		t.Fatalf("expected 2 fused episodes, got %d", len(fused))
	}
	// Both appear at rank 0 in one list and rank 1 in the other, so scores tie.
	if fused[0].score != fused[1].score {
		t.Errorf("expected tied RRF scores, got %f vs %f", fused[0].score, fused[1].score)
	}
}

func TestHydrate_FindsAdjacentChunks(t *testing.T) {
	g := &fakeGraph{
		siblings: []domain.Episode{
			{UUID: "c0", ChunkIndex: 0},
			{UUID: "c1", ChunkIndex: 1},
			{UUID: "c2", ChunkIndex: 2},
		},
	}
	e := &Engine{Graph: g}
	adjacent := e.hydrate(context.Background(), domain.Episode{UUID: "c1", SessionID: "s1", ChunkIndex: 1}, 1)
	if len(adjacent) != 2 {
		t.Fatalf("expected 2 adjacent chunks, got %d", len(adjacent))
	}
}

func TestExtractKeywords_FiltersStopWords(t *testing.T) {
	kws := extractKeywords("What is the best coffee for Alice?")
	for _, kw := range kws {
		if kw == "what" || kw == "the" || kw == "for" {
			t.Errorf("expected stop word filtered out, found %s", kw)
		}
	}
	found := false
	for _, kw := range kws {
		if kw == "coffee" {
			found = true
		}
	}
	if !found {
		t.Error("expected 'coffee' to survive keyword extraction")
	}
}

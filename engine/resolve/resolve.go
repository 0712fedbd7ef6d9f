// Package resolve turns extracted triples into canonical graph references:
// entity names are matched to existing Entity nodes (exact match, then
// vector similarity, then LLM adjudication on close calls) and statements
// are deduplicated against the active statement for the same
// (subject, predicate) pair. Grounded on the teacher's pkg/repo MERGE-on-id
// idempotent-write idiom, generalized from a single id-keyed upsert into a
// multi-stage dedup decision.
package resolve

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/graphweave/engine/engine/domain"
	"github.com/graphweave/engine/internal/ports"
	"github.com/graphweave/engine/pkg/clock"
)

// Thresholds for entity/statement vector-similarity dedup.
const (
	ThresholdEntity    = 0.82
	ThresholdStatement = 0.90
)

// Resolver resolves extracted triples to canonical Entity/Statement nodes.
type Resolver struct {
	Graph    ports.GraphStore
	Vectors  ports.VectorStore
	Embedder ports.Embedder
	Model    ports.ModelClient
	Clock    clock.Source
}

// ResolvedTriple is an ExtractedTriple with subject/predicate/object resolved
// to canonical Entity UUIDs and wrapped into a not-yet-written Statement.
type ResolvedTriple struct {
	Statement domain.Statement
	IsNewSubject, IsNewPredicate, IsNewObject bool
}

// ResolveEntity finds or creates the canonical Entity for name, scoped to
// userID. Resolution order: exact case-insensitive name match, then vector
// similarity above ThresholdEntity, then (on a near-threshold tie) LLM
// adjudication; otherwise a new Entity is created.
func (r *Resolver) ResolveEntity(ctx context.Context, userID, name, entityType string) (domain.Entity, bool, error) {
	nameLower := domain.NormalizeEntityName(name)

	if e, found, err := r.Graph.FindEntityByName(ctx, userID, nameLower); err != nil {
		return domain.Entity{}, false, err
	} else if found {
		return e, false, nil
	}

	vec, err := r.Embedder.Embed(ctx, name)
	if err != nil {
		return domain.Entity{}, false, &domain.ExtractionError{Wrapped: err}
	}

	matches, err := r.Vectors.SearchFiltered(ctx, domain.NamespaceEntity, vec, 5, map[string]any{"userId": userID})
	if err != nil {
		return domain.Entity{}, false, domain.NewTransientStoreError("ResolveEntity.search", err)
	}

	if best, ok := bestMatch(matches); ok && best.Score >= ThresholdEntity {
		e, err := r.Graph.GetEntity(ctx, best.ID)
		if err == nil {
			return e, false, nil
		}
	} else if ok && best.Score >= ThresholdEntity-0.1 && r.Model != nil {
		// Close but inconclusive — ask the adjudicator rather than guess.
		candidateName, _ := best.Payload["name"].(string)
		verdict, err := r.Model.Adjudicate(ctx, "Do these refer to the same entity?", []string{name, candidateName})
		if err == nil && verdict.Same && verdict.Confidence >= 0.6 {
			e, err := r.Graph.GetEntity(ctx, best.ID)
			if err == nil {
				return e, false, nil
			}
		}
	}

	now := r.now(ctx)
	e := domain.Entity{
		UUID:          uuid.NewString(),
		UserID:        userID,
		Name:          name,
		NameLower:     nameLower,
		Type:          entityType,
		NameEmbedding: vec,
		CreatedAt:     now,
	}
	if err := r.Graph.UpsertEntity(ctx, e); err != nil {
		return domain.Entity{}, false, err
	}
	if err := r.Vectors.Upsert(ctx, domain.NamespaceEntity, []ports.VectorPoint{
		{ID: e.UUID, Vector: vec, Payload: map[string]any{"userId": userID, "name": name}},
	}); err != nil {
		e.VectorSyncFailed = true
	}
	return e, true, nil
}

// Resolve turns one ExtractedTriple into a ResolvedTriple: subject,
// predicate, and object entities are resolved/created, then the fact
// embedding is checked against the existing active statement for this
// (subject, predicate) pair above ThresholdStatement to avoid re-asserting
// an unchanged fact.
func (r *Resolver) Resolve(ctx context.Context, userID string, t ports.ExtractedTriple, episode domain.Episode) (ResolvedTriple, bool, error) {
	subj, newSubj, err := r.ResolveEntity(ctx, userID, t.Subject, "")
	if err != nil {
		return ResolvedTriple{}, false, err
	}
	pred, newPred, err := r.ResolveEntity(ctx, userID, t.Predicate, domain.PredicateType)
	if err != nil {
		return ResolvedTriple{}, false, err
	}
	obj, newObj, err := r.ResolveEntity(ctx, userID, t.Object, "")
	if err != nil {
		return ResolvedTriple{}, false, err
	}

	factVec, err := r.Embedder.Embed(ctx, t.Fact)
	if err != nil {
		return ResolvedTriple{}, false, &domain.ExtractionError{Wrapped: err}
	}

	validAt := episode.ValidAt
	if t.ValidAt != nil {
		validAt = *t.ValidAt
	}

	if existing, found, err := r.Graph.FindActiveStatement(ctx, userID, subj.UUID, pred.UUID); err != nil {
		return ResolvedTriple{}, false, err
	} else if found {
		sim := cosineSimilarity(existing.FactEmbedding, factVec)
		if sim >= ThresholdStatement {
			// duplicate of existing statement; caller links this episode's
			// provenance to it instead of writing a new one.
			return ResolvedTriple{Statement: existing}, true, nil
		}
	}

	now := r.now(ctx)
	st := domain.Statement{
		UUID:            uuid.NewString(),
		UserID:          userID,
		SubjectUUID:     subj.UUID,
		PredicateUUID:   pred.UUID,
		ObjectUUID:      obj.UUID,
		Fact:            t.Fact,
		FactEmbedding:   factVec,
		ValidAt:         validAt,
		Aspect:          domain.NormalizeAspect(t.Aspect),
		ProvenanceCount: 1,
		CreatedAt:       now,
	}
	return ResolvedTriple{Statement: st, IsNewSubject: newSubj, IsNewPredicate: newPred, IsNewObject: newObj}, false, nil
}

func (r *Resolver) now(ctx context.Context) time.Time {
	if r.Clock != nil {
		return r.Clock.Now()
	}
	if t, err := r.Graph.Now(ctx); err == nil {
		return t
	}
	return time.Now().UTC()
}

func bestMatch(matches []ports.VectorMatch) (ports.VectorMatch, bool) {
	if len(matches) == 0 {
		return ports.VectorMatch{}, false
	}
	best := matches[0]
	for _, m := range matches[1:] {
		if m.Score > best.Score {
			best = m
		}
	}
	return best, true
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

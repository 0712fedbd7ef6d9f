// Package invalidate detects contradictions introduced by a newly written
// Statement and closes out the statements it supersedes. Event and
// Observation aspect statements are exempt — they coexist rather than
// invalidate one another, since a new event doesn't negate a prior one.
// Each eligible candidate is adjudicated with its own ModelClient call (up
// to four run concurrently); there is no batched adjudication call.
package invalidate

import (
	"context"
	"time"

	"github.com/graphweave/engine/engine/domain"
	"github.com/graphweave/engine/internal/ports"
	"github.com/graphweave/engine/pkg/fn"
)

// Invalidator closes out statements contradicted by a new one.
type Invalidator struct {
	Graph ports.GraphStore
	Model ports.ModelClient
}

// Invalidate finds currently-active statements that share the new
// statement's subject and checks each for contradiction, invalidating any
// that the adjudicator confirms are superseded. Returns the UUIDs
// invalidated.
func (inv *Invalidator) Invalidate(ctx context.Context, newStatement domain.Statement, candidates []domain.Statement, at time.Time) ([]string, error) {
	if domain.CoexistingAspects[newStatement.Aspect] {
		return nil, nil
	}

	eligible := fn.Filter(candidates, func(s domain.Statement) bool {
		return s.UUID != newStatement.UUID &&
			s.InvalidAt == nil &&
			s.SubjectUUID == newStatement.SubjectUUID &&
			!domain.CoexistingAspects[s.Aspect]
	})
	if len(eligible) == 0 {
		return nil, nil
	}

	verdicts := fn.ParMapResult(eligible, 4, func(old domain.Statement) fn.Result[bool] {
		if old.PredicateUUID == newStatement.PredicateUUID && old.ObjectUUID != newStatement.ObjectUUID {
			// Same (subject,predicate) but a different object: a direct
			// contradiction, no adjudication call needed.
			return fn.Ok(true)
		}
		if inv.Model == nil {
			return fn.Ok(false)
		}
		verdict, err := inv.Model.Adjudicate(ctx,
			"Does the new statement contradict the old one?",
			[]string{old.Fact, newStatement.Fact})
		if err != nil {
			return fn.Err[bool](&domain.AdjudicationError{StatementUUID: old.UUID, Wrapped: err})
		}
		return fn.Ok(verdict.Same && verdict.Confidence >= 0.6)
	})

	var invalidated []string
	for i, v := range verdicts {
		if v.IsErr() {
			continue // an adjudication failure skips that candidate, not the whole batch
		}
		contradicted, _ := v.Unwrap()
		if !contradicted {
			continue
		}
		old := eligible[i]
		if err := inv.Graph.InvalidateStatement(ctx, old.UUID, at, newStatement.UUID); err != nil {
			return invalidated, err
		}
		invalidated = append(invalidated, old.UUID)
	}
	return invalidated, nil
}

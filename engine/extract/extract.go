// Package extract runs episode content through a ModelClient to produce
// candidate (subject, predicate, object) triples, generalizing the
// teacher's engine/ingest.NewEmbed gRPC-client-wrapped-as-Stage pattern
// from embedding calls to extraction calls.
package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/graphweave/engine/engine/domain"
	"github.com/graphweave/engine/internal/ports"
	"github.com/graphweave/engine/pkg/fn"
	"github.com/graphweave/engine/pkg/resilience"
)

// Input is one chunk of episode content to extract triples from, plus the
// adjacent-chunk context (previous/next chunk text) the model can use to
// resolve references the chunk's own text leaves dangling.
type Input struct {
	Episode       domain.Episode
	ReferenceTime time.Time
	Window        ports.ExtractContext
}

// Output pairs the source episode with its extracted triples.
type Output struct {
	Episode  domain.Episode
	Triples  []ports.ExtractedTriple
}

// Stage builds an fn.Stage that calls client.ExtractTriples, wrapped in the
// circuit breaker and retry policy applied to every ModelClient call.
func Stage(client ports.ModelClient, breaker *resilience.Breaker) fn.Stage[Input, Output] {
	base := func(ctx context.Context, in Input) fn.Result[Output] {
		triples, err := client.ExtractTriples(ctx, in.Episode.Content, in.ReferenceTime, in.Window)
		if err != nil {
			return fn.Err[Output](&domain.ExtractionError{EpisodeUUID: in.Episode.UUID, Wrapped: err})
		}
		return fn.Ok(Output{Episode: in.Episode, Triples: triples})
	}
	retried := fn.RetryStage(fn.RetryOpts{
		MaxAttempts: 3,
		InitialWait: 200 * time.Millisecond,
		MaxWait:     5 * time.Second,
		Jitter:      true,
	}, base)
	if breaker == nil {
		return retried
	}
	return resilience.BreakerStage(breaker, retried)
}

// NormalizeAspects coerces every extracted triple's aspect to the closed
// domain.Aspect enum, degrading unknown model output to Attribute.
func NormalizeAspects(out Output) Output {
	for i := range out.Triples {
		out.Triples[i].Aspect = string(domain.NormalizeAspect(out.Triples[i].Aspect))
	}
	return out
}

// Validate rejects triples missing a subject/predicate/object name or fact
// sentence before they reach the Resolver — malformed model output should
// fail this episode's extraction, not silently produce half-formed facts.
func Validate(out Output) error {
	for i, t := range out.Triples {
		if t.Subject == "" || t.Predicate == "" || t.Object == "" {
			return fmt.Errorf("extract: triple %d missing subject/predicate/object", i)
		}
		if t.Fact == "" {
			return fmt.Errorf("extract: triple %d missing fact sentence", i)
		}
	}
	return nil
}

package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateIngestRequest_Valid(t *testing.T) {
	r := IngestRequest{
		UserID:    "u1",
		SessionID: "s1",
		Content:   "Alice prefers dark roast coffee.",
		Type:      EpisodeConversation,
	}
	if err := ValidateIngestRequest(r); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestValidateIngestRequest_MissingUserID(t *testing.T) {
	r := IngestRequest{SessionID: "s1", Content: "hello", Type: EpisodeConversation}
	if err := ValidateIngestRequest(r); !errors.Is(err, ErrMissingUserID) {
		t.Fatalf("expected ErrMissingUserID, got %v", err)
	}
}

func TestValidateIngestRequest_MissingSessionID(t *testing.T) {
	r := IngestRequest{UserID: "u1", Content: "hello", Type: EpisodeConversation}
	if err := ValidateIngestRequest(r); !errors.Is(err, ErrMissingSessionID) {
		t.Fatalf("expected ErrMissingSessionID, got %v", err)
	}
}

func TestValidateIngestRequest_EmptyContent(t *testing.T) {
	r := IngestRequest{UserID: "u1", SessionID: "s1", Content: "   ", Type: EpisodeConversation}
	if err := ValidateIngestRequest(r); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
}

func TestValidateIngestRequest_TooLarge(t *testing.T) {
	r := IngestRequest{UserID: "u1", SessionID: "s1", Content: strings.Repeat("a", maxIngestBytes+1), Type: EpisodeConversation}
	if err := ValidateIngestRequest(r); !errors.Is(err, ErrContentTooLarge) {
		t.Fatalf("expected ErrContentTooLarge, got %v", err)
	}
}

func TestValidateIngestRequest_Injection(t *testing.T) {
	cases := []string{
		"please DETACH DELETE all NODE data",
		"note ${process.env.SECRET}",
		`fact {"$gt": 1}`,
	}
	for _, c := range cases {
		r := IngestRequest{UserID: "u1", SessionID: "s1", Content: c, Type: EpisodeConversation}
		if err := ValidateIngestRequest(r); !errors.Is(err, ErrInjection) {
			t.Errorf("expected ErrInjection for %q, got %v", c, err)
		}
	}
}

func TestValidateIngestRequest_InvalidType(t *testing.T) {
	r := IngestRequest{UserID: "u1", SessionID: "s1", Content: "hello", Type: EpisodeType("BOGUS")}
	if err := ValidateIngestRequest(r); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestValidateSearchRequest_DefaultsLimit(t *testing.T) {
	r := SearchRequest{UserID: "u1", Query: "coffee preference"}
	if err := ValidateSearchRequest(&r); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
	if r.Limit != defaultSearchLimit {
		t.Fatalf("expected default limit %d, got %d", defaultSearchLimit, r.Limit)
	}
}

func TestValidateSearchRequest_ClampsLimit(t *testing.T) {
	r := SearchRequest{UserID: "u1", Query: "coffee", Limit: 10000}
	if err := ValidateSearchRequest(&r); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
	if r.Limit != maxSearchLimit {
		t.Fatalf("expected clamped limit %d, got %d", maxSearchLimit, r.Limit)
	}
}

func TestValidateSearchRequest_TooShort(t *testing.T) {
	r := SearchRequest{UserID: "u1", Query: "a"}
	if err := ValidateSearchRequest(&r); !errors.Is(err, ErrQueryTooShort) {
		t.Fatalf("expected ErrQueryTooShort, got %v", err)
	}
}

func TestNormalizeEntityName(t *testing.T) {
	if got := NormalizeEntityName("  Alice Smith  "); got != "alice smith" {
		t.Fatalf("expected 'alice smith', got %q", got)
	}
}

func TestNormalizeAspect_Unknown(t *testing.T) {
	if got := NormalizeAspect("Mood"); got != AspectAttribute {
		t.Fatalf("expected degrade to AspectAttribute, got %s", got)
	}
}

func TestNormalizeAspect_Known(t *testing.T) {
	if got := NormalizeAspect("Event"); got != AspectEvent {
		t.Fatalf("expected AspectEvent, got %s", got)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(NewTransientStoreError("upsert", errors.New("timeout"))) {
		t.Error("transient store error should be retryable")
	}
	if IsRetryable(NewPermanentStoreError("upsert", errors.New("constraint"))) {
		t.Error("permanent store error should not be retryable")
	}
	if IsRetryable(NewValidationError("content", "", ErrEmptyContent)) {
		t.Error("validation error should not be retryable")
	}
	if IsRetryable(&CancelledError{Stage: "extract"}) {
		t.Error("cancelled error should not be retryable")
	}
}

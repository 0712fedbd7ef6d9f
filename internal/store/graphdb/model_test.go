package graphdb

import (
	"testing"
	"time"

	"github.com/graphweave/engine/engine/domain"
)

func TestEntityToMapFromProps_Roundtrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	e := domain.Entity{
		UUID: "e1", UserID: "u1", WorkspaceID: "w1",
		Name: "Alice", NameLower: "alice", Type: "Person",
		Attributes: map[string]any{"city": "Boston"},
		CreatedAt:  now,
	}

	got := entityFromProps(entityToMap(e))

	if got.UUID != e.UUID || got.Name != e.Name || got.NameLower != e.NameLower {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}
	if got.Attributes["city"] != "Boston" {
		t.Errorf("Attributes not preserved: %+v", got.Attributes)
	}
}

func TestStatementToMapFromProps_RoundtripWithInvalidAt(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	invalidAt := now.Add(time.Hour)
	s := domain.Statement{
		UUID: "s1", UserID: "u1", SubjectUUID: "subj", PredicateUUID: "pred", ObjectUUID: "obj",
		Fact: "Alice likes tea", ValidAt: now, Aspect: domain.AspectPreference,
		ProvenanceCount: 2, InvalidAt: &invalidAt, InvalidatedBy: "s2",
		Attributes: map[string]any{"confidence": 0.9},
		CreatedAt:  now,
	}

	m := statementToMap(s)
	got, err := statementFromProps(m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.UUID != s.UUID || got.Fact != s.Fact || got.Aspect != s.Aspect {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
	if got.InvalidAt == nil || !got.InvalidAt.Equal(invalidAt) {
		t.Errorf("InvalidAt = %v, want %v", got.InvalidAt, invalidAt)
	}
	if got.InvalidatedBy != "s2" {
		t.Errorf("InvalidatedBy = %q", got.InvalidatedBy)
	}
	if got.Attributes["confidence"] != 0.9 {
		t.Errorf("Attributes not preserved: %+v", got.Attributes)
	}
}

func TestStatementFromProps_NoInvalidAt(t *testing.T) {
	m := statementToMap(domain.Statement{UUID: "s1", ValidAt: time.Now().UTC()})
	got, err := statementFromProps(m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.InvalidAt != nil {
		t.Errorf("expected nil InvalidAt, got %v", got.InvalidAt)
	}
}

func TestPropHelpers_MissingKeysReturnZeroValues(t *testing.T) {
	props := map[string]any{}
	if got := strProp(props, "missing"); got != "" {
		t.Errorf("strProp = %q", got)
	}
	if got := intProp(props, "missing"); got != 0 {
		t.Errorf("intProp = %d", got)
	}
	if got := boolProp(props, "missing"); got != false {
		t.Errorf("boolProp = %v", got)
	}
	if got := timeProp(props, "missing"); !got.IsZero() {
		t.Errorf("timeProp = %v, want zero", got)
	}
}

func TestLabelToMap_FieldsPreserved(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	l := domain.Label{UUID: "l1", UserID: "u1", Name: "car-repair", CreatedAt: now}
	m := labelToMap(l)
	if m["uuid"] != "l1" || m["name"] != "car-repair" {
		t.Fatalf("labelToMap output missing fields: %+v", m)
	}
}

package domain

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// injectionPatterns are fragments that should never appear in ingest content
// or a search query — cheap guard against prompt/Cypher injection attempts
// riding along in user-supplied text.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(DROP|DETACH\s+DELETE)\b.*\b(TABLE|NODE|GRAPH)\b`),
	regexp.MustCompile(`(?i)\$\{.*\}`),
	regexp.MustCompile(`(?i)\{\s*"\$[a-z]+"\s*:`),
}

const (
	minQueryLength  = 2
	maxIngestBytes  = 1 << 20 // 1 MiB per ingest request
	maxSearchLimit  = 200
	defaultSearchLimit = 20
)

// ValidateIngestRequest validates an IngestRequest at the pipeline's entry
// boundary. Everything past this point assumes well-formed input.
func ValidateIngestRequest(r IngestRequest) error {
	if strings.TrimSpace(r.UserID) == "" {
		return NewValidationError("userId", r.UserID, ErrMissingUserID)
	}
	if strings.TrimSpace(r.SessionID) == "" {
		return NewValidationError("sessionId", r.SessionID, ErrMissingSessionID)
	}
	content := strings.TrimSpace(r.Content)
	if content == "" {
		return NewValidationError("content", content, ErrEmptyContent)
	}
	if len(r.Content) > maxIngestBytes {
		return NewValidationError("content", "<omitted>", ErrContentTooLarge)
	}
	for _, pat := range injectionPatterns {
		if pat.MatchString(content) {
			return NewValidationError("content", "<omitted>", ErrInjection)
		}
	}
	if r.Type != EpisodeConversation && r.Type != EpisodeDocument {
		return NewValidationError("type", string(r.Type), ErrValidation)
	}
	return nil
}

// ValidateSearchRequest validates a SearchRequest and fills in the default
// limit, clamped to maxSearchLimit.
func ValidateSearchRequest(r *SearchRequest) error {
	if strings.TrimSpace(r.UserID) == "" {
		return NewValidationError("userId", r.UserID, ErrMissingUserID)
	}
	query := strings.TrimSpace(r.Query)
	if utf8.RuneCountInString(query) < minQueryLength {
		return NewValidationError("query", query, ErrQueryTooShort)
	}
	for _, pat := range injectionPatterns {
		if pat.MatchString(query) {
			return NewValidationError("query", "<omitted>", ErrInjection)
		}
	}
	if r.Limit <= 0 {
		r.Limit = defaultSearchLimit
	}
	if r.Limit > maxSearchLimit {
		r.Limit = maxSearchLimit
	}
	return nil
}

// NormalizeEntityName lowercases and trims an entity name for the
// case-insensitive dedup key used by the Resolver's exact-match pass.
func NormalizeEntityName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Package ports defines the external-collaborator interfaces the engine
// depends on: graph storage, vector storage, and the three model-backed
// services (completion, embedding, reranking). Every concrete adapter
// (internal/store/graphdb, internal/store/vectordb, the gRPC model
// clients) implements one of these so pipeline and retrieval code depend
// only on the interface, never the driver.
package ports

import (
	"context"
	"time"

	"github.com/graphweave/engine/engine/domain"
)

// GraphStore is the temporal knowledge-graph persistence port: entities,
// episodes, statements, and the edges between them.
type GraphStore interface {
	UpsertEntity(ctx context.Context, e domain.Entity) error
	GetEntity(ctx context.Context, uuid string) (domain.Entity, error)
	FindEntityByName(ctx context.Context, userID, nameLower string) (domain.Entity, bool, error)
	ListEntitiesByUser(ctx context.Context, userID string, limit int) ([]domain.Entity, error)

	SaveEpisode(ctx context.Context, ep domain.Episode) error
	GetEpisode(ctx context.Context, uuid string) (domain.Episode, error)
	ListEpisodesBySession(ctx context.Context, sessionID string, version int) ([]domain.Episode, error)
	LatestVersion(ctx context.Context, sessionID string) (int, error)

	SaveStatement(ctx context.Context, s domain.Statement) error
	GetStatement(ctx context.Context, uuid string) (domain.Statement, error)
	FindActiveStatement(ctx context.Context, userID, subjectUUID, predicateUUID string) (domain.Statement, bool, error)
	ActiveStatementsForSubject(ctx context.Context, userID, subjectUUID string) ([]domain.Statement, error)
	InvalidateStatement(ctx context.Context, uuid string, invalidAt time.Time, invalidatedBy string) error
	StatementsByProvenance(ctx context.Context, episodeUUID string) ([]domain.Statement, error)
	EpisodesByStatement(ctx context.Context, statementUUID string) ([]domain.Episode, error)

	LinkProvenance(ctx context.Context, statementUUID, episodeUUID string) error
	LinkCompaction(ctx context.Context, sessionUUID string, episodeUUIDs []string) error
	SaveCompactedSession(ctx context.Context, cs domain.CompactedSession) error

	Neighbors(ctx context.Context, entityUUID string, hops int) ([]domain.Entity, error)
	EpisodeGraphSearch(ctx context.Context, userID string, seedEntityUUIDs []string, hops int) ([]domain.Episode, error)
	FullTextSearchStatements(ctx context.Context, userID, query string, limit int) ([]StatementMatch, error)

	OrphanEntities(ctx context.Context, limit int) ([]domain.Entity, error)
	DeleteEntity(ctx context.Context, uuid string) error
	MergeEntities(ctx context.Context, keepUUID, dropUUID string) error

	UpsertLabel(ctx context.Context, l domain.Label) error
	ListLabels(ctx context.Context, userID string) ([]domain.Label, error)
	AssignLabels(ctx context.Context, episodeUUID string, labelUUIDs []string) error

	EntitiesWithVectorSyncFailed(ctx context.Context, limit int) ([]domain.Entity, error)
	StatementsWithVectorSyncFailed(ctx context.Context, limit int) ([]domain.Statement, error)
	EpisodesWithVectorSyncFailed(ctx context.Context, limit int) ([]domain.Episode, error)
	ClearEntityVectorSyncFailed(ctx context.Context, uuid string) error
	ClearStatementVectorSyncFailed(ctx context.Context, uuid string) error
	ClearEpisodeVectorSyncFailed(ctx context.Context, uuid string) error

	NodeCounts(ctx context.Context) (map[string]int64, error)
	RelationshipCounts(ctx context.Context) (map[string]int64, error)

	Now(ctx context.Context) (time.Time, error)
	Close(ctx context.Context) error
}

// StatementMatch is one BM25 fulltext-search hit over statement.fact.
type StatementMatch struct {
	Statement domain.Statement
	Score     float64
}

// VectorPoint is one upserted vector record: an embedding plus its payload,
// addressable by the same UUID as the graph node it mirrors.
type VectorPoint struct {
	ID        string
	Vector    []float32
	Payload   map[string]any
}

// VectorMatch is one similarity-search hit.
type VectorMatch struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// VectorStore is the semantic-similarity index port, partitioned into
// namespaces (domain.NamespaceEntity, NamespaceStatement, NamespaceEpisode,
// NamespaceCompactedSession, NamespaceLabel).
type VectorStore interface {
	EnsureNamespace(ctx context.Context, namespace string, dim uint64) error
	Upsert(ctx context.Context, namespace string, points []VectorPoint) error
	Delete(ctx context.Context, namespace string, ids []string) error
	Search(ctx context.Context, namespace string, vector []float32, limit int) ([]VectorMatch, error)
	SearchFiltered(ctx context.Context, namespace string, vector []float32, limit int, filter map[string]any) ([]VectorMatch, error)
	Close() error
}

// ExtractedTriple is one (subject, predicate, object, fact) tuple produced
// by ModelClient.ExtractTriples, prior to entity/statement resolution.
type ExtractedTriple struct {
	Subject   string
	Predicate string
	Object    string
	Fact      string
	Aspect    string
	ValidAt   *time.Time
}

// AdjudicationVerdict is the ModelClient's answer to "are these the same
// entity/statement" or "does the new statement contradict the old one".
type AdjudicationVerdict struct {
	Same       bool
	Confidence float64
	Reason     string
}

// ExtractContext is the read-only adjacent-chunk context passed alongside
// the chunk being extracted, so the model can resolve cross-chunk
// references (pronouns, "there", continuations) that the chunk's own text
// doesn't settle. It carries no persona/cluster context.
type ExtractContext struct {
	PreviousChunk string
	NextChunk     string
}

// ModelClient is the LLM-backed completion port used for triple extraction
// and adjudication (dedup / contradiction detection).
type ModelClient interface {
	ExtractTriples(ctx context.Context, content string, referenceTime time.Time, window ExtractContext) ([]ExtractedTriple, error)
	Adjudicate(ctx context.Context, question string, candidates []string) (AdjudicationVerdict, error)
	Summarize(ctx context.Context, episodes []domain.Episode) (string, error)
}

// Embedder is the embedding-generation port used by the Resolver (entity
// name / statement fact vectors) and the Retrieval Engine (query vector).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() uint64
}

// Reranker is the optional cross-encoder rescoring port applied to the
// fused retrieval candidate set before hydration.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []string) ([]float64, error)
}

// KeyValueStore is a small cache/lock port used for session-scoped
// idempotency keys and resolver caching.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// RelationalStore is a port for bookkeeping tables that don't belong in the
// graph — episode processing audit log, DLQ inspection, job-status queries.
type RelationalStore interface {
	RecordEpisodeStatus(ctx context.Context, episodeUUID string, status domain.EpisodeStatus, errMsg string) error
	EpisodeHistory(ctx context.Context, sessionID string) ([]domain.Episode, error)
	Close() error
}

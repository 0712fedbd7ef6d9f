// Package graphdb is the Neo4j-backed implementation of ports.GraphStore.
// It generalizes the teacher's engine/graph package (Component nodes wired
// with ad-hoc relationship types) into the Entity/Episode/Statement node
// model, keeping its MERGE-on-id idempotent write pattern, its
// sanitizeRelType guard on dynamically-built Cypher, and its
// batch-transaction idiom for the writer.
package graphdb

import (
	"context"
	"fmt"
	"time"

	"github.com/graphweave/engine/engine/domain"
	"github.com/graphweave/engine/internal/ports"
	"github.com/graphweave/engine/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// Store is the Neo4j adapter. It satisfies ports.GraphStore.
type Store struct {
	driver     neo4j.DriverWithContext
	entities   *repo.Neo4jRepo[domain.Entity, string]
	episodes   *repo.Neo4jRepo[domain.Episode, string]
	statements *repo.Neo4jRepo[domain.Statement, string]
}

var _ ports.GraphStore = (*Store)(nil)

// New wires a Store on top of an existing Neo4j driver connection.
func New(driver neo4j.DriverWithContext) *Store {
	return &Store{
		driver:     driver,
		entities:   repo.NewNeo4jRepo[domain.Entity, string](driver, "Entity", entityToMap, entityFromRecord, repo.WithIDKey[domain.Entity, string]("uuid")),
		episodes:   repo.NewNeo4jRepo[domain.Episode, string](driver, "Episode", episodeToMap, episodeFromRecord, repo.WithIDKey[domain.Episode, string]("uuid")),
		statements: repo.NewNeo4jRepo[domain.Statement, string](driver, "Statement", statementToMap, statementFromRecord, repo.WithIDKey[domain.Statement, string]("uuid")),
	}
}

// FullTextIndexName is the Neo4j fulltext index backing BM25-style search
// over statement facts (retrieval engine's lexical sub-plan).
const FullTextIndexName = "statementFactIndex"

// EnsureFullTextIndex creates the statement-fact fulltext index if absent.
// Safe to call on every startup; Neo4j's IF NOT EXISTS makes it idempotent.
func (s *Store) EnsureFullTextIndex(ctx context.Context) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	_, err := sess.Run(ctx,
		fmt.Sprintf(`CREATE FULLTEXT INDEX %s IF NOT EXISTS FOR (n:Statement) ON EACH [n.fact]`, FullTextIndexName),
		nil)
	if err != nil {
		return domain.NewTransientStoreError("EnsureFullTextIndex", err)
	}
	return nil
}

func (s *Store) session(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{})
}

func (s *Store) Close(ctx context.Context) error { return s.driver.Close(ctx) }

// --- Entity ---

func (s *Store) UpsertEntity(ctx context.Context, e domain.Entity) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	_, err := sess.Run(ctx, `MERGE (n:Entity {uuid: $uuid}) SET n += $props`, map[string]any{
		"uuid": e.UUID, "props": entityToMap(e),
	})
	if err != nil {
		return domain.NewTransientStoreError("UpsertEntity", err)
	}
	return nil
}

func (s *Store) GetEntity(ctx context.Context, uuid string) (domain.Entity, error) {
	return s.entities.Get(ctx, uuid)
}

func (s *Store) FindEntityByName(ctx context.Context, userID, nameLower string) (domain.Entity, bool, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	result, err := sess.Run(ctx,
		`MATCH (n:Entity {userId: $userId, nameLower: $nameLower}) RETURN n LIMIT 1`,
		map[string]any{"userId": userID, "nameLower": nameLower})
	if err != nil {
		return domain.Entity{}, false, domain.NewTransientStoreError("FindEntityByName", err)
	}
	if !result.Next(ctx) {
		return domain.Entity{}, false, nil
	}
	e, err := entityFromRecord(result.Record())
	return e, err == nil, err
}

func (s *Store) ListEntitiesByUser(ctx context.Context, userID string, limit int) ([]domain.Entity, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	if limit <= 0 {
		limit = 100
	}
	result, err := sess.Run(ctx,
		`MATCH (n:Entity {userId: $userId}) RETURN n LIMIT $limit`,
		map[string]any{"userId": userID, "limit": int64(limit)})
	if err != nil {
		return nil, domain.NewTransientStoreError("ListEntitiesByUser", err)
	}
	return collect(ctx, result, entityFromRecord)
}

// --- Episode ---

func (s *Store) SaveEpisode(ctx context.Context, ep domain.Episode) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	_, err := sess.Run(ctx, `MERGE (n:Episode {uuid: $uuid}) SET n += $props`, map[string]any{
		"uuid": ep.UUID, "props": episodeToMap(ep),
	})
	if err != nil {
		return domain.NewTransientStoreError("SaveEpisode", err)
	}
	return nil
}

func (s *Store) GetEpisode(ctx context.Context, uuid string) (domain.Episode, error) {
	return s.episodes.Get(ctx, uuid)
}

func (s *Store) ListEpisodesBySession(ctx context.Context, sessionID string, version int) ([]domain.Episode, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	result, err := sess.Run(ctx,
		`MATCH (n:Episode {sessionId: $sessionId, version: $version}) RETURN n ORDER BY n.chunkIndex ASC`,
		map[string]any{"sessionId": sessionID, "version": int64(version)})
	if err != nil {
		return nil, domain.NewTransientStoreError("ListEpisodesBySession", err)
	}
	return collect(ctx, result, episodeFromRecord)
}

func (s *Store) LatestVersion(ctx context.Context, sessionID string) (int, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	result, err := sess.Run(ctx,
		`MATCH (n:Episode {sessionId: $sessionId}) RETURN max(n.version) AS v`,
		map[string]any{"sessionId": sessionID})
	if err != nil {
		return 0, domain.NewTransientStoreError("LatestVersion", err)
	}
	if !result.Next(ctx) {
		return 0, nil
	}
	v, ok := result.Record().Get("v")
	if !ok || v == nil {
		return 0, nil
	}
	if iv, ok := v.(int64); ok {
		return int(iv), nil
	}
	return 0, nil
}

// --- Statement ---

func (s *Store) SaveStatement(ctx context.Context, st domain.Statement) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `MERGE (n:Statement {uuid: $uuid}) SET n += $props`, map[string]any{
			"uuid": st.UUID, "props": statementToMap(st),
		}); err != nil {
			return nil, err
		}
		edges := []struct {
			rel string
			to  string
		}{
			{domain.EdgeHasSubject, st.SubjectUUID},
			{domain.EdgeHasPredicate, st.PredicateUUID},
			{domain.EdgeHasObject, st.ObjectUUID},
		}
		for _, e := range edges {
			cypher := fmt.Sprintf(
				`MATCH (s:Statement {uuid: $sid}), (e:Entity {uuid: $eid}) MERGE (s)-[:%s]->(e)`,
				sanitizeRelType(e.rel))
			if _, err := tx.Run(ctx, cypher, map[string]any{"sid": st.UUID, "eid": e.to}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return domain.NewTransientStoreError("SaveStatement", err)
	}
	return nil
}

func (s *Store) GetStatement(ctx context.Context, uuid string) (domain.Statement, error) {
	return s.statements.Get(ctx, uuid)
}

func (s *Store) FindActiveStatement(ctx context.Context, userID, subjectUUID, predicateUUID string) (domain.Statement, bool, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	result, err := sess.Run(ctx,
		`MATCH (n:Statement {userId: $userId, subjectUuid: $subjectUuid, predicateUuid: $predicateUuid})
		 WHERE n.invalidAt IS NULL
		 RETURN n LIMIT 1`,
		map[string]any{"userId": userID, "subjectUuid": subjectUUID, "predicateUuid": predicateUUID})
	if err != nil {
		return domain.Statement{}, false, domain.NewTransientStoreError("FindActiveStatement", err)
	}
	if !result.Next(ctx) {
		return domain.Statement{}, false, nil
	}
	st, err := statementFromRecord(result.Record())
	return st, err == nil, err
}

// ActiveStatementsForSubject returns every currently-active statement for
// subjectUUID, the Invalidator's candidate set per spec.md §4.4 ("query
// statements sharing the subject").
func (s *Store) ActiveStatementsForSubject(ctx context.Context, userID, subjectUUID string) ([]domain.Statement, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	result, err := sess.Run(ctx,
		`MATCH (n:Statement {userId: $userId, subjectUuid: $subjectUuid})
		 WHERE n.invalidAt IS NULL
		 RETURN n`,
		map[string]any{"userId": userID, "subjectUuid": subjectUUID})
	if err != nil {
		return nil, domain.NewTransientStoreError("ActiveStatementsForSubject", err)
	}
	return collect(ctx, result, statementFromRecord)
}

func (s *Store) InvalidateStatement(ctx context.Context, uuid string, invalidAt time.Time, invalidatedBy string) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	_, err := sess.Run(ctx,
		`MATCH (n:Statement {uuid: $uuid}) SET n.invalidAt = $invalidAt, n.invalidatedBy = $invalidatedBy`,
		map[string]any{"uuid": uuid, "invalidAt": invalidAt, "invalidatedBy": invalidatedBy})
	if err != nil {
		return domain.NewTransientStoreError("InvalidateStatement", err)
	}
	return nil
}

func (s *Store) StatementsByProvenance(ctx context.Context, episodeUUID string) ([]domain.Statement, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	cypher := fmt.Sprintf(
		`MATCH (ep:Episode {uuid: $epUuid})<-[:%s]-(n:Statement) RETURN n`,
		sanitizeRelType(domain.EdgeHasProvenance))
	result, err := sess.Run(ctx, cypher, map[string]any{"epUuid": episodeUUID})
	if err != nil {
		return nil, domain.NewTransientStoreError("StatementsByProvenance", err)
	}
	return collect(ctx, result, statementFromRecord)
}

// EpisodesByStatement is the inverse of StatementsByProvenance: every
// episode a statement was extracted from, for grouping sub-plan hits back
// into episode-scored results.
func (s *Store) EpisodesByStatement(ctx context.Context, statementUUID string) ([]domain.Episode, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	cypher := fmt.Sprintf(
		`MATCH (st:Statement {uuid: $stUuid})-[:%s]->(n:Episode) RETURN n`,
		sanitizeRelType(domain.EdgeHasProvenance))
	result, err := sess.Run(ctx, cypher, map[string]any{"stUuid": statementUUID})
	if err != nil {
		return nil, domain.NewTransientStoreError("EpisodesByStatement", err)
	}
	return collect(ctx, result, episodeFromRecord)
}

func (s *Store) LinkProvenance(ctx context.Context, statementUUID, episodeUUID string) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	cypher := fmt.Sprintf(
		`MATCH (s:Statement {uuid: $sid}), (e:Episode {uuid: $eid}) MERGE (s)-[:%s]->(e)`,
		sanitizeRelType(domain.EdgeHasProvenance))
	_, err := sess.Run(ctx, cypher, map[string]any{"sid": statementUUID, "eid": episodeUUID})
	if err != nil {
		return domain.NewTransientStoreError("LinkProvenance", err)
	}
	return nil
}

func (s *Store) LinkCompaction(ctx context.Context, sessionUUID string, episodeUUIDs []string) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		cypher := fmt.Sprintf(
			`MATCH (c:CompactedSession {uuid: $cid}), (e:Episode {uuid: $eid}) MERGE (c)-[:%s]->(e)`,
			sanitizeRelType(domain.EdgeCompacts))
		for _, epID := range episodeUUIDs {
			if _, err := tx.Run(ctx, cypher, map[string]any{"cid": sessionUUID, "eid": epID}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return domain.NewTransientStoreError("LinkCompaction", err)
	}
	return nil
}

func (s *Store) SaveCompactedSession(ctx context.Context, cs domain.CompactedSession) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	_, err := sess.Run(ctx, `MERGE (n:CompactedSession {uuid: $uuid}) SET n += $props`, map[string]any{
		"uuid": cs.UUID,
		"props": map[string]any{
			"uuid": cs.UUID, "userId": cs.UserID, "sessionId": cs.SessionID,
			"summary": cs.Summary, "episodeCount": int64(cs.EpisodeCount),
			"startTime": cs.StartTime, "endTime": cs.EndTime,
			"compressionRatio": cs.CompressionRatio, "createdAt": cs.CreatedAt,
		},
	})
	if err != nil {
		return domain.NewTransientStoreError("SaveCompactedSession", err)
	}
	return nil
}

// --- Traversal ---

func (s *Store) Neighbors(ctx context.Context, entityUUID string, hops int) ([]domain.Entity, error) {
	if hops <= 0 {
		hops = 1
	}
	sess := s.session(ctx)
	defer sess.Close(ctx)
	cypher := fmt.Sprintf(
		`MATCH (start:Entity {uuid: $uuid})-[*1..%d]-(n:Entity)
		 WHERE n.uuid <> $uuid
		 RETURN DISTINCT n`, hops)
	result, err := sess.Run(ctx, cypher, map[string]any{"uuid": entityUUID})
	if err != nil {
		return nil, domain.NewTransientStoreError("Neighbors", err)
	}
	return collect(ctx, result, entityFromRecord)
}

func (s *Store) EpisodeGraphSearch(ctx context.Context, userID string, seedEntityUUIDs []string, hops int) ([]domain.Episode, error) {
	if hops <= 0 {
		hops = 2
	}
	sess := s.session(ctx)
	defer sess.Close(ctx)
	cypher := fmt.Sprintf(
		`MATCH (seed:Entity) WHERE seed.uuid IN $seeds
		 MATCH (seed)<-[:%s|%s|%s*1..%d]-(st:Statement)-[:%s]->(ep:Episode {userId: $userId})
		 RETURN DISTINCT ep`,
		sanitizeRelType(domain.EdgeHasSubject), sanitizeRelType(domain.EdgeHasPredicate),
		sanitizeRelType(domain.EdgeHasObject), hops, sanitizeRelType(domain.EdgeHasProvenance))
	result, err := sess.Run(ctx, cypher, map[string]any{"seeds": seedEntityUUIDs, "userId": userID})
	if err != nil {
		return nil, domain.NewTransientStoreError("EpisodeGraphSearch", err)
	}
	return collect(ctx, result, episodeFromRecord)
}

// FullTextSearchStatements runs a BM25-scored fulltext query over
// statement.fact via the core Neo4j fulltext index, scoped to userID.
func (s *Store) FullTextSearchStatements(ctx context.Context, userID, query string, limit int) ([]ports.StatementMatch, error) {
	if limit <= 0 {
		limit = 100
	}
	sess := s.session(ctx)
	defer sess.Close(ctx)
	cypher := fmt.Sprintf(
		`CALL db.index.fulltext.queryNodes('%s', $query) YIELD node, score
		 WHERE node.userId = $userId
		 RETURN node, score LIMIT $limit`, FullTextIndexName)
	result, err := sess.Run(ctx, cypher, map[string]any{"query": query, "userId": userID, "limit": int64(limit)})
	if err != nil {
		return nil, domain.NewTransientStoreError("FullTextSearchStatements", err)
	}
	var matches []ports.StatementMatch
	for result.Next(ctx) {
		rec := result.Record()
		nodeVal, _ := rec.Get("node")
		node, ok := nodeVal.(dbtype.Node)
		if !ok {
			continue
		}
		st, err := statementFromProps(node.Props)
		if err != nil {
			continue
		}
		scoreVal, _ := rec.Get("score")
		score, _ := scoreVal.(float64)
		matches = append(matches, ports.StatementMatch{Statement: st, Score: score})
	}
	return matches, nil
}

// --- Maintenance ---

func (s *Store) OrphanEntities(ctx context.Context, limit int) ([]domain.Entity, error) {
	if limit <= 0 {
		limit = 500
	}
	sess := s.session(ctx)
	defer sess.Close(ctx)
	result, err := sess.Run(ctx,
		`MATCH (n:Entity) WHERE NOT (n)--() RETURN n LIMIT $limit`,
		map[string]any{"limit": int64(limit)})
	if err != nil {
		return nil, domain.NewTransientStoreError("OrphanEntities", err)
	}
	return collect(ctx, result, entityFromRecord)
}

func (s *Store) DeleteEntity(ctx context.Context, uuid string) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	_, err := sess.Run(ctx, `MATCH (n:Entity {uuid: $uuid}) DETACH DELETE n`, map[string]any{"uuid": uuid})
	if err != nil {
		return domain.NewTransientStoreError("DeleteEntity", err)
	}
	return nil
}

// MergeEntities redirects every edge from dropUUID onto keepUUID and deletes
// dropUUID, the Neo4j analogue of the resolver's exact-name dedup merge.
func (s *Store) MergeEntities(ctx context.Context, keepUUID, dropUUID string) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, rel := range []string{domain.EdgeHasSubject, domain.EdgeHasPredicate, domain.EdgeHasObject} {
			cypher := fmt.Sprintf(
				`MATCH (drop:Entity {uuid: $drop})<-[r:%s]-(st:Statement), (keep:Entity {uuid: $keep})
				 MERGE (st)-[:%s]->(keep)
				 DELETE r`,
				sanitizeRelType(rel), sanitizeRelType(rel))
			if _, err := tx.Run(ctx, cypher, map[string]any{"drop": dropUUID, "keep": keepUUID}); err != nil {
				return nil, err
			}
		}
		if _, err := tx.Run(ctx, `MATCH (drop:Entity {uuid: $drop}) DETACH DELETE drop`,
			map[string]any{"drop": dropUUID}); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return domain.NewTransientStoreError("MergeEntities", err)
	}
	return nil
}

func (s *Store) UpsertLabel(ctx context.Context, l domain.Label) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	_, err := sess.Run(ctx,
		`MERGE (n:Label {uuid: $uuid}) SET n += $props`,
		map[string]any{"uuid": l.UUID, "props": labelToMap(l)})
	if err != nil {
		return domain.NewTransientStoreError("UpsertLabel", err)
	}
	return nil
}

func (s *Store) ListLabels(ctx context.Context, userID string) ([]domain.Label, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	result, err := sess.Run(ctx,
		`MATCH (n:Label {userId: $userId}) RETURN n`,
		map[string]any{"userId": userID})
	if err != nil {
		return nil, domain.NewTransientStoreError("ListLabels", err)
	}
	return collect(ctx, result, labelFromRecord)
}

func (s *Store) AssignLabels(ctx context.Context, episodeUUID string, labelUUIDs []string) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	_, err := sess.Run(ctx,
		fmt.Sprintf(`MATCH (ep:Episode {uuid: $epUuid}), (l:Label) WHERE l.uuid IN $labelUuids
		 MERGE (ep)-[:%s]->(l)`, sanitizeRelType(domain.EdgeHasLabel)),
		map[string]any{"epUuid": episodeUUID, "labelUuids": labelUUIDs})
	if err != nil {
		return domain.NewTransientStoreError("AssignLabels", err)
	}
	return nil
}

func (s *Store) EntitiesWithVectorSyncFailed(ctx context.Context, limit int) ([]domain.Entity, error) {
	if limit <= 0 {
		limit = 500
	}
	sess := s.session(ctx)
	defer sess.Close(ctx)
	result, err := sess.Run(ctx,
		`MATCH (n:Entity) WHERE n.vectorSyncFailed = true RETURN n LIMIT $limit`,
		map[string]any{"limit": int64(limit)})
	if err != nil {
		return nil, domain.NewTransientStoreError("EntitiesWithVectorSyncFailed", err)
	}
	return collect(ctx, result, entityFromRecord)
}

func (s *Store) StatementsWithVectorSyncFailed(ctx context.Context, limit int) ([]domain.Statement, error) {
	if limit <= 0 {
		limit = 500
	}
	sess := s.session(ctx)
	defer sess.Close(ctx)
	result, err := sess.Run(ctx,
		`MATCH (n:Statement) WHERE n.vectorSyncFailed = true RETURN n LIMIT $limit`,
		map[string]any{"limit": int64(limit)})
	if err != nil {
		return nil, domain.NewTransientStoreError("StatementsWithVectorSyncFailed", err)
	}
	return collect(ctx, result, statementFromRecord)
}

func (s *Store) EpisodesWithVectorSyncFailed(ctx context.Context, limit int) ([]domain.Episode, error) {
	if limit <= 0 {
		limit = 500
	}
	sess := s.session(ctx)
	defer sess.Close(ctx)
	result, err := sess.Run(ctx,
		`MATCH (n:Episode) WHERE n.vectorSyncFailed = true RETURN n LIMIT $limit`,
		map[string]any{"limit": int64(limit)})
	if err != nil {
		return nil, domain.NewTransientStoreError("EpisodesWithVectorSyncFailed", err)
	}
	return collect(ctx, result, episodeFromRecord)
}

func (s *Store) ClearEntityVectorSyncFailed(ctx context.Context, uuid string) error {
	return s.clearVectorSyncFailed(ctx, "Entity", uuid)
}

func (s *Store) ClearStatementVectorSyncFailed(ctx context.Context, uuid string) error {
	return s.clearVectorSyncFailed(ctx, "Statement", uuid)
}

func (s *Store) ClearEpisodeVectorSyncFailed(ctx context.Context, uuid string) error {
	return s.clearVectorSyncFailed(ctx, "Episode", uuid)
}

func (s *Store) clearVectorSyncFailed(ctx context.Context, label, uuid string) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	_, err := sess.Run(ctx,
		fmt.Sprintf(`MATCH (n:%s {uuid: $uuid}) SET n.vectorSyncFailed = false`, label),
		map[string]any{"uuid": uuid})
	if err != nil {
		return domain.NewTransientStoreError("clearVectorSyncFailed", err)
	}
	return nil
}

// DistinctEntityUserIDs lists every userId with at least one Entity node.
// Not part of ports.GraphStore: it's a maintenance-runner convenience, not
// something pipeline or retrieval code needs.
func (s *Store) DistinctEntityUserIDs(ctx context.Context) ([]string, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	result, err := sess.Run(ctx, `MATCH (n:Entity) RETURN DISTINCT n.userId AS userId`, nil)
	if err != nil {
		return nil, domain.NewTransientStoreError("DistinctEntityUserIDs", err)
	}
	var ids []string
	for result.Next(ctx) {
		if v, ok := result.Record().Get("userId"); ok && v != nil {
			if s, ok := v.(string); ok && s != "" {
				ids = append(ids, s)
			}
		}
	}
	return ids, nil
}

func (s *Store) NodeCounts(ctx context.Context) (map[string]int64, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	result, err := sess.Run(ctx, `MATCH (n) RETURN labels(n)[0] AS type, count(*) AS count`, nil)
	if err != nil {
		return nil, domain.NewTransientStoreError("NodeCounts", err)
	}
	return countsFromResult(ctx, result, "type")
}

func (s *Store) RelationshipCounts(ctx context.Context) (map[string]int64, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	result, err := sess.Run(ctx, `MATCH ()-[r]->() RETURN type(r) AS type, count(*) AS count`, nil)
	if err != nil {
		return nil, domain.NewTransientStoreError("RelationshipCounts", err)
	}
	return countsFromResult(ctx, result, "type")
}

func (s *Store) Now(ctx context.Context) (time.Time, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	result, err := sess.Run(ctx, `RETURN datetime() AS now`, nil)
	if err != nil {
		return time.Time{}, domain.NewTransientStoreError("Now", err)
	}
	if !result.Next(ctx) {
		return time.Now().UTC(), nil
	}
	v, _ := result.Record().Get("now")
	if dt, ok := v.(dbtype.DateTime); ok {
		return time.Time(dt), nil
	}
	return time.Now().UTC(), nil
}

func countsFromResult(ctx context.Context, result neo4j.ResultWithContext, key string) (map[string]int64, error) {
	counts := make(map[string]int64)
	for result.Next(ctx) {
		rec := result.Record()
		typ, _ := rec.Get(key)
		cnt, _ := rec.Get("count")
		if t, ok := typ.(string); ok {
			if c, ok := cnt.(int64); ok {
				counts[t] = c
			}
		}
	}
	return counts, nil
}

func collect[T any](ctx context.Context, result neo4j.ResultWithContext, from func(*neo4j.Record) (T, error)) ([]T, error) {
	var items []T
	for result.Next(ctx) {
		item, err := from(result.Record())
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// sanitizeRelType guards against building an unsafe Cypher relationship
// type string from dynamic input; kept from the teacher's engine/graph.
func sanitizeRelType(t string) string {
	safe := make([]byte, 0, len(t))
	for i := range t {
		c := t[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			safe = append(safe, c)
		}
	}
	if len(safe) == 0 {
		return "RELATED_TO"
	}
	for i := range safe {
		if safe[i] >= 'a' && safe[i] <= 'z' {
			safe[i] -= 32
		}
	}
	return string(safe)
}

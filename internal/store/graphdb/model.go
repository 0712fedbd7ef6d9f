package graphdb

import (
	"encoding/json"
	"time"

	"github.com/graphweave/engine/engine/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

func entityToMap(e domain.Entity) map[string]any {
	m := map[string]any{
		"uuid": e.UUID, "userId": e.UserID, "workspaceId": e.WorkspaceID,
		"name": e.Name, "nameLower": e.NameLower, "type": e.Type,
		"createdAt": e.CreatedAt,
	}
	if len(e.Attributes) > 0 {
		if b, err := json.Marshal(e.Attributes); err == nil {
			m["attributesJson"] = string(b)
		}
	}
	return m
}

func entityFromRecord(rec *neo4j.Record) (domain.Entity, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return domain.Entity{}, err
	}
	return entityFromProps(node.Props), nil
}

func entityFromProps(props map[string]any) domain.Entity {
	e := domain.Entity{
		UUID:        strProp(props, "uuid"),
		UserID:      strProp(props, "userId"),
		WorkspaceID: strProp(props, "workspaceId"),
		Name:        strProp(props, "name"),
		NameLower:   strProp(props, "nameLower"),
		Type:        strProp(props, "type"),
		CreatedAt:   timeProp(props, "createdAt"),
	}
	if raw := strProp(props, "attributesJson"); raw != "" {
		var attrs map[string]any
		if json.Unmarshal([]byte(raw), &attrs) == nil {
			e.Attributes = attrs
		}
	}
	return e
}

func episodeToMap(ep domain.Episode) map[string]any {
	return map[string]any{
		"uuid": ep.UUID, "userId": ep.UserID, "workspaceId": ep.WorkspaceID,
		"content": ep.Content, "originalContent": ep.OriginalContent,
		"source": ep.Source, "sessionId": ep.SessionID, "type": string(ep.Type),
		"chunkIndex": int64(ep.ChunkIndex), "totalChunks": int64(ep.TotalChunks),
		"version": int64(ep.Version), "contentHash": ep.ContentHash,
		"previousVersionSessionId": ep.PreviousVersionSession,
		"validAt":                  ep.ValidAt, "status": string(ep.Status),
		"error": ep.Error, "vectorSyncFailed": ep.VectorSyncFailed,
		"createdAt": ep.CreatedAt,
	}
}

func episodeFromRecord(rec *neo4j.Record) (domain.Episode, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return domain.Episode{}, err
	}
	props := node.Props
	return domain.Episode{
		UUID: strProp(props, "uuid"), UserID: strProp(props, "userId"),
		WorkspaceID: strProp(props, "workspaceId"), Content: strProp(props, "content"),
		OriginalContent: strProp(props, "originalContent"), Source: strProp(props, "source"),
		SessionID: strProp(props, "sessionId"), Type: domain.EpisodeType(strProp(props, "type")),
		ChunkIndex: intProp(props, "chunkIndex"), TotalChunks: intProp(props, "totalChunks"),
		Version: intProp(props, "version"), ContentHash: strProp(props, "contentHash"),
		PreviousVersionSession: strProp(props, "previousVersionSessionId"),
		ValidAt:                timeProp(props, "validAt"),
		Status:                 domain.EpisodeStatus(strProp(props, "status")),
		Error:                  strProp(props, "error"),
		VectorSyncFailed:       boolProp(props, "vectorSyncFailed"),
		CreatedAt:              timeProp(props, "createdAt"),
	}, nil
}

func statementToMap(s domain.Statement) map[string]any {
	m := map[string]any{
		"uuid": s.UUID, "userId": s.UserID, "workspaceId": s.WorkspaceID,
		"subjectUuid": s.SubjectUUID, "predicateUuid": s.PredicateUUID, "objectUuid": s.ObjectUUID,
		"fact": s.Fact, "validAt": s.ValidAt, "aspect": string(s.Aspect),
		"provenanceCount": int64(s.ProvenanceCount), "vectorSyncFailed": s.VectorSyncFailed,
		"createdAt": s.CreatedAt,
	}
	if s.InvalidAt != nil {
		m["invalidAt"] = *s.InvalidAt
		m["invalidatedBy"] = s.InvalidatedBy
	}
	if len(s.Attributes) > 0 {
		if b, err := json.Marshal(s.Attributes); err == nil {
			m["attributesJson"] = string(b)
		}
	}
	return m
}

func statementFromRecord(rec *neo4j.Record) (domain.Statement, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return domain.Statement{}, err
	}
	return statementFromProps(node.Props)
}

func statementFromProps(props map[string]any) (domain.Statement, error) {
	st := domain.Statement{
		UUID: strProp(props, "uuid"), UserID: strProp(props, "userId"),
		WorkspaceID: strProp(props, "workspaceId"), SubjectUUID: strProp(props, "subjectUuid"),
		PredicateUUID: strProp(props, "predicateUuid"), ObjectUUID: strProp(props, "objectUuid"),
		Fact: strProp(props, "fact"), ValidAt: timeProp(props, "validAt"),
		Aspect: domain.Aspect(strProp(props, "aspect")), ProvenanceCount: intProp(props, "provenanceCount"),
		VectorSyncFailed: boolProp(props, "vectorSyncFailed"),
		InvalidatedBy:    strProp(props, "invalidatedBy"),
		CreatedAt:        timeProp(props, "createdAt"),
	}
	if v, ok := props["invalidAt"]; ok && v != nil {
		t := timeProp(props, "invalidAt")
		st.InvalidAt = &t
	}
	if raw := strProp(props, "attributesJson"); raw != "" {
		var attrs map[string]any
		if json.Unmarshal([]byte(raw), &attrs) == nil {
			st.Attributes = attrs
		}
	}
	return st, nil
}

func labelToMap(l domain.Label) map[string]any {
	return map[string]any{
		"uuid": l.UUID, "userId": l.UserID, "name": l.Name, "createdAt": l.CreatedAt,
	}
}

func labelFromRecord(rec *neo4j.Record) (domain.Label, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return domain.Label{}, err
	}
	props := node.Props
	return domain.Label{
		UUID: strProp(props, "uuid"), UserID: strProp(props, "userId"),
		Name: strProp(props, "name"), CreatedAt: timeProp(props, "createdAt"),
	}, nil
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func intProp(props map[string]any, key string) int {
	if v, ok := props[key]; ok {
		if i, ok := v.(int64); ok {
			return int(i)
		}
	}
	return 0
}

func boolProp(props map[string]any, key string) bool {
	if v, ok := props[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

func timeProp(props map[string]any, key string) time.Time {
	v, ok := props[key]
	if !ok || v == nil {
		return time.Time{}
	}
	switch t := v.(type) {
	case time.Time:
		return t
	case dbtype.DateTime:
		return time.Time(t)
	case dbtype.LocalDateTime:
		return time.Time(t)
	}
	return time.Time{}
}

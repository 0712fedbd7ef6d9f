// Package vectordb is the Qdrant-backed implementation of ports.VectorStore.
// It generalizes the teacher's engine/semantic package, which owned a
// single collection, into one Qdrant collection per retrieval namespace
// (domain.NamespaceEntity, NamespaceStatement, ...), keeping its payload
// type-switch conversion and filter-condition builder.
package vectordb

import (
	"context"
	"fmt"

	"github.com/graphweave/engine/internal/ports"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Store is the Qdrant adapter. It satisfies ports.VectorStore, with each
// namespace mapped 1:1 onto a Qdrant collection of the same name.
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
}

var _ ports.VectorStore = (*Store)(nil)

// New dials Qdrant at addr over gRPC.
func New(addr string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("vectordb: dial qdrant %s: %w", addr, err)
	}
	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}, nil
}

func (s *Store) Close() error { return s.conn.Close() }

func (s *Store) EnsureNamespace(ctx context.Context, namespace string, dim uint64) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("vectordb: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == namespace {
			return nil
		}
	}
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: namespace,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{Size: dim, Distance: pb.Distance_Cosine},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vectordb: create collection %s: %w", namespace, err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, namespace string, points []ports.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}
	pbPoints := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		payload := make(map[string]*pb.Value, len(p.Payload))
		for k, val := range p.Payload {
			payload[k] = toPBValue(val)
		}
		pbPoints[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}}},
			Payload: payload,
		}
	}
	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: namespace,
		Wait:           &wait,
		Points:         pbPoints,
	})
	if err != nil {
		return fmt.Errorf("vectordb: upsert %d points into %s: %w", len(points), namespace, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pbIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pbIDs[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
	}
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: namespace,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: pbIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vectordb: delete %d points from %s: %w", len(ids), namespace, err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, namespace string, vector []float32, limit int) ([]ports.VectorMatch, error) {
	return s.SearchFiltered(ctx, namespace, vector, limit, nil)
}

func (s *Store) SearchFiltered(ctx context.Context, namespace string, vector []float32, limit int, filter map[string]any) ([]ports.VectorMatch, error) {
	req := &pb.SearchPoints{
		CollectionName: namespace,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(filter) > 0 {
		must := make([]*pb.Condition, 0, len(filter))
		for k, v := range filter {
			must = append(must, fieldMatch(k, v))
		}
		req.Filter = &pb.Filter{Must: must}
	}
	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vectordb: search %s: %w", namespace, err)
	}
	matches := make([]ports.VectorMatch, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		payload := make(map[string]any, len(r.GetPayload()))
		for k, val := range r.GetPayload() {
			payload[k] = fromPBValue(val)
		}
		matches[i] = ports.VectorMatch{ID: r.GetId().GetUuid(), Score: r.GetScore(), Payload: payload}
	}
	return matches, nil
}

func toPBValue(val any) *pb.Value {
	switch tv := val.(type) {
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
	}
}

func fromPBValue(v *pb.Value) any {
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_IntegerValue:
		return k.IntegerValue
	case *pb.Value_DoubleValue:
		return k.DoubleValue
	case *pb.Value_BoolValue:
		return k.BoolValue
	default:
		return nil
	}
}

func fieldMatch(key string, value any) *pb.Condition {
	var match *pb.Match
	switch v := value.(type) {
	case string:
		match = &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: v}}
	case bool:
		match = &pb.Match{MatchValue: &pb.Match_Boolean{Boolean: v}}
	case int:
		match = &pb.Match{MatchValue: &pb.Match_Integer{Integer: int64(v)}}
	case int64:
		match = &pb.Match{MatchValue: &pb.Match_Integer{Integer: v}}
	default:
		match = &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: fmt.Sprint(v)}}
	}
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{Key: key, Match: match},
		},
	}
}

// Package mlclient is the gRPC client adapter for the three model-backed
// ports (ModelClient, Embedder, Reranker). Grounded on engine/rag.Service's
// mlpb.EmbedServiceClient/ChatServiceClient wiring, but since no .proto
// source shipped with the retrieved example pack (see DESIGN.md), requests
// and responses are carried as structpb.Struct rather than generated
// message types — grpc's default codec marshals structpb.Struct like any
// other proto.Message, so the wire format stays real protobuf without
// inventing generated stubs.
package mlclient

import (
	"context"
	"fmt"
	"time"

	"github.com/graphweave/engine/engine/domain"
	"github.com/graphweave/engine/internal/ports"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client dials a single ML worker endpoint and exposes it as all three
// model ports; cmd/worker and cmd/api share one instance.
type Client struct {
	conn *grpc.ClientConn
	dims uint64
}

// Dial connects to the ML worker at addr. dims is the embedding dimension
// the worker is configured to return (reported by Dimensions()).
func Dial(addr string, dims uint64) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial ml worker: %w", err)
	}
	return &Client{conn: conn, dims: dims}, nil
}

var (
	_ ports.Embedder    = (*Client)(nil)
	_ ports.ModelClient = (*Client)(nil)
	_ ports.Reranker    = (*Client)(nil)
)

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) invoke(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	reqStruct, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, reqStruct, resp); err != nil {
		return nil, fmt.Errorf("invoke %s: %w", method, err)
	}
	return resp, nil
}

// --- Embedder ---

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.invoke(ctx, "/wessley.ml.v1.EmbedService/Embed", map[string]any{"text": text})
	if err != nil {
		return nil, err
	}
	return floatsFromValue(resp.Fields["values"]), nil
}

func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	anyTexts := make([]any, len(texts))
	for i, t := range texts {
		anyTexts[i] = t
	}
	resp, err := c.invoke(ctx, "/wessley.ml.v1.EmbedService/EmbedBatch", map[string]any{"texts": anyTexts})
	if err != nil {
		return nil, err
	}
	list := resp.Fields["embeddings"].GetListValue().GetValues()
	out := make([][]float32, len(list))
	for i, v := range list {
		out[i] = floatsFromValue(v.GetStructValue().Fields["values"])
	}
	return out, nil
}

func (c *Client) Dimensions() uint64 { return c.dims }

// --- ModelClient ---

func (c *Client) ExtractTriples(ctx context.Context, content string, referenceTime time.Time, window ports.ExtractContext) ([]ports.ExtractedTriple, error) {
	resp, err := c.invoke(ctx, "/wessley.ml.v1.ChatService/ExtractTriples", map[string]any{
		"content":       content,
		"referenceTime": referenceTime.Format(time.RFC3339),
		"previousChunk": window.PreviousChunk,
		"nextChunk":     window.NextChunk,
	})
	if err != nil {
		return nil, err
	}
	list := resp.Fields["triples"].GetListValue().GetValues()
	out := make([]ports.ExtractedTriple, 0, len(list))
	for _, v := range list {
		f := v.GetStructValue().Fields
		t := ports.ExtractedTriple{
			Subject:   f["subject"].GetStringValue(),
			Predicate: f["predicate"].GetStringValue(),
			Object:    f["object"].GetStringValue(),
			Fact:      f["fact"].GetStringValue(),
			Aspect:    f["aspect"].GetStringValue(),
		}
		if raw := f["validAt"].GetStringValue(); raw != "" {
			if ts, err := time.Parse(time.RFC3339, raw); err == nil {
				t.ValidAt = &ts
			}
		}
		out = append(out, t)
	}
	return out, nil
}

func (c *Client) Adjudicate(ctx context.Context, question string, candidates []string) (ports.AdjudicationVerdict, error) {
	anyCandidates := make([]any, len(candidates))
	for i, s := range candidates {
		anyCandidates[i] = s
	}
	resp, err := c.invoke(ctx, "/wessley.ml.v1.ChatService/Adjudicate", map[string]any{
		"question":   question,
		"candidates": anyCandidates,
	})
	if err != nil {
		return ports.AdjudicationVerdict{}, err
	}
	f := resp.Fields
	return ports.AdjudicationVerdict{
		Same:       f["same"].GetBoolValue(),
		Confidence: f["confidence"].GetNumberValue(),
		Reason:     f["reason"].GetStringValue(),
	}, nil
}

func (c *Client) Summarize(ctx context.Context, episodes []domain.Episode) (string, error) {
	contents := make([]any, len(episodes))
	for i, ep := range episodes {
		contents[i] = ep.Content
	}
	resp, err := c.invoke(ctx, "/wessley.ml.v1.ChatService/Summarize", map[string]any{"episodes": contents})
	if err != nil {
		return "", err
	}
	return resp.Fields["summary"].GetStringValue(), nil
}

// --- Reranker ---

func (c *Client) Rerank(ctx context.Context, query string, candidates []string) ([]float64, error) {
	anyCandidates := make([]any, len(candidates))
	for i, s := range candidates {
		anyCandidates[i] = s
	}
	resp, err := c.invoke(ctx, "/wessley.ml.v1.RerankService/Rerank", map[string]any{
		"query":      query,
		"candidates": anyCandidates,
	})
	if err != nil {
		return nil, err
	}
	list := resp.Fields["scores"].GetListValue().GetValues()
	out := make([]float64, len(list))
	for i, v := range list {
		out[i] = v.GetNumberValue()
	}
	return out, nil
}

func floatsFromValue(v *structpb.Value) []float32 {
	list := v.GetListValue().GetValues()
	out := make([]float32, len(list))
	for i, e := range list {
		out[i] = float32(e.GetNumberValue())
	}
	return out
}

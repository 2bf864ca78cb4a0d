package qdrantdb

import (
	"context"
	"crypto/tls"
	"fmt"
	"sort"

	qdrantclient "github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"study-rag/internal/config"
	"study-rag/internal/models"
	"study-rag/internal/store"
)

const (
	payloadDocumentID = "document_id"
	payloadChunkIndex = "chunk_index"
	payloadContent    = "content"

	upsertBatchSize = 100
)

// Index stores chunk vectors in a Qdrant collection over gRPC.
type Index struct {
	conn        *grpc.ClientConn
	collections qdrantclient.CollectionsClient
	points      qdrantclient.PointsClient
	collection  string
}

var _ store.SimilarityIndex = (*Index)(nil)

// Connect dials Qdrant and makes sure the collection exists with cosine
// distance and the given vector size.
func Connect(ctx context.Context, cfg *config.QdrantConfig, vectorSize int) (*Index, error) {
	creds := insecure.NewCredentials()
	if cfg.UseTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if cfg.APIKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
	}

	target := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant at %s: %w", target, err)
	}

	idx := newIndex(qdrantclient.NewCollectionsClient(conn), qdrantclient.NewPointsClient(conn), cfg.Collection)
	idx.conn = conn
	if err := idx.ensureCollection(ctx, vectorSize); err != nil {
		conn.Close()
		return nil, err
	}
	log.Info().Str("target", target).Str("collection", cfg.Collection).Msg("Connected to Qdrant")
	return idx, nil
}

func newIndex(collections qdrantclient.CollectionsClient, points qdrantclient.PointsClient, collection string) *Index {
	return &Index{collections: collections, points: points, collection: collection}
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func (i *Index) ensureCollection(ctx context.Context, vectorSize int) error {
	list, err := i.collections.List(ctx, &qdrantclient.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == i.collection {
			return nil
		}
	}

	log.Info().Str("collection", i.collection).Int("vector_size", vectorSize).Msg("Creating Qdrant collection")
	_, err = i.collections.Create(ctx, &qdrantclient.CreateCollection{
		CollectionName: i.collection,
		VectorsConfig: &qdrantclient.VectorsConfig{
			Config: &qdrantclient.VectorsConfig_Params{
				Params: &qdrantclient.VectorParams{
					Size:     uint64(vectorSize),
					Distance: qdrantclient.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func (i *Index) IndexChunks(ctx context.Context, chunks []models.Chunk) error {
	wait := true
	for start := 0; start < len(chunks); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(chunks))
		points := make([]*qdrantclient.PointStruct, 0, end-start)
		for _, c := range chunks[start:end] {
			points = append(points, toPoint(c))
		}
		_, err := i.points.Upsert(ctx, &qdrantclient.UpsertPoints{
			CollectionName: i.collection,
			Wait:           &wait,
			Points:         points,
		})
		if err != nil {
			return fmt.Errorf("failed to upsert points: %w", err)
		}
	}
	return nil
}

// Match filters on the candidate documents server side. Qdrant keeps
// scores equal to the threshold, so those are dropped here.
func (i *Index) Match(ctx context.Context, q store.MatchQuery) ([]models.ScoredChunk, error) {
	if len(q.DocumentIDs) == 0 || len(q.Vector) == 0 {
		return nil, nil
	}
	resp, err := i.points.Search(ctx, searchRequest(i.collection, q))
	if err != nil {
		return nil, fmt.Errorf("failed to search in qdrant: %w", err)
	}

	results := make([]models.ScoredChunk, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		if float64(p.GetScore()) <= q.Threshold {
			continue
		}
		results = append(results, fromPoint(p))
	}
	sort.SliceStable(results, func(a, b int) bool { return results[a].Similarity > results[b].Similarity })
	return results, nil
}

func searchRequest(collection string, q store.MatchQuery) *qdrantclient.SearchPoints {
	threshold := float32(q.Threshold)
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	return &qdrantclient.SearchPoints{
		CollectionName: collection,
		Vector:         q.Vector,
		Limit:          uint64(limit),
		ScoreThreshold: &threshold,
		Filter: &qdrantclient.Filter{
			Must: []*qdrantclient.Condition{documentCondition(q.DocumentIDs...)},
		},
		WithPayload: &qdrantclient.WithPayloadSelector{
			SelectorOptions: &qdrantclient.WithPayloadSelector_Enable{Enable: true},
		},
	}
}

func documentCondition(ids ...string) *qdrantclient.Condition {
	match := &qdrantclient.Match{MatchValue: &qdrantclient.Match_Keywords{
		Keywords: &qdrantclient.RepeatedStrings{Strings: ids},
	}}
	if len(ids) == 1 {
		match = &qdrantclient.Match{MatchValue: &qdrantclient.Match_Keyword{Keyword: ids[0]}}
	}
	return &qdrantclient.Condition{
		ConditionOneOf: &qdrantclient.Condition_Field{
			Field: &qdrantclient.FieldCondition{Key: payloadDocumentID, Match: match},
		},
	}
}

func (i *Index) DeleteDocument(ctx context.Context, documentID string) error {
	wait := true
	_, err := i.points.Delete(ctx, &qdrantclient.DeletePoints{
		CollectionName: i.collection,
		Wait:           &wait,
		Points: &qdrantclient.PointsSelector{
			PointsSelectorOneOf: &qdrantclient.PointsSelector_Filter{
				Filter: &qdrantclient.Filter{Must: []*qdrantclient.Condition{documentCondition(documentID)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

func (i *Index) Close() error {
	if i.conn == nil {
		return nil
	}
	return i.conn.Close()
}

func toPoint(c models.Chunk) *qdrantclient.PointStruct {
	return &qdrantclient.PointStruct{
		Id: &qdrantclient.PointId{
			PointIdOptions: &qdrantclient.PointId_Uuid{Uuid: c.ID},
		},
		Vectors: &qdrantclient.Vectors{
			VectorsOptions: &qdrantclient.Vectors_Vector{
				Vector: &qdrantclient.Vector{Data: c.Embedding},
			},
		},
		Payload: map[string]*qdrantclient.Value{
			payloadDocumentID: {Kind: &qdrantclient.Value_StringValue{StringValue: c.DocumentID}},
			payloadChunkIndex: {Kind: &qdrantclient.Value_IntegerValue{IntegerValue: int64(c.ChunkIndex)}},
			payloadContent:    {Kind: &qdrantclient.Value_StringValue{StringValue: c.Content}},
		},
	}
}

func fromPoint(p *qdrantclient.ScoredPoint) models.ScoredChunk {
	payload := p.GetPayload()
	return models.ScoredChunk{
		Chunk: models.Chunk{
			ID:         p.GetId().GetUuid(),
			DocumentID: payload[payloadDocumentID].GetStringValue(),
			ChunkIndex: int(payload[payloadChunkIndex].GetIntegerValue()),
			Content:    payload[payloadContent].GetStringValue(),
		},
		Similarity: float64(p.GetScore()),
	}
}

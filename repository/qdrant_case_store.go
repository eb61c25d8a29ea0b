package repository

import (
	"context"
	"fmt"
	"time"

	"satlegal-backend/models"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// QdrantCaseStore keeps decision and chunk vectors in two Qdrant collections
type QdrantCaseStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	documents   string
	chunks      string
}

// NewQdrantCaseStore connects to Qdrant at the given gRPC address
func NewQdrantCaseStore(addr, documents, chunks string) (*QdrantCaseStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial qdrant %s: %w", addr, err)
	}
	return &QdrantCaseStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		documents:   documents,
		chunks:      chunks,
	}, nil
}

// Close closes the underlying gRPC connection
func (q *QdrantCaseStore) Close() error {
	return q.conn.Close()
}

// Ping checks that Qdrant answers
func (q *QdrantCaseStore) Ping(ctx context.Context) error {
	if _, err := q.collections.List(ctx, &pb.ListCollectionsRequest{}); err != nil {
		return storeErr("ping qdrant", err)
	}
	return nil
}

// EnsureCollections creates both collections with cosine distance if missing
func (q *QdrantCaseStore) EnsureCollections(ctx context.Context, dims int) error {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return storeErr("list qdrant collections", err)
	}
	existing := make(map[string]bool)
	for _, c := range list.GetCollections() {
		existing[c.GetName()] = true
	}

	for _, name := range []string{q.documents, q.chunks} {
		if existing[name] {
			continue
		}
		_, err := q.collections.Create(ctx, &pb.CreateCollection{
			CollectionName: name,
			VectorsConfig: &pb.VectorsConfig{
				Config: &pb.VectorsConfig_Params{
					Params: &pb.VectorParams{
						Size:     uint64(dims),
						Distance: pb.Distance_Cosine,
					},
				},
			},
		})
		if err != nil {
			return storeErr("create qdrant collection "+name, err)
		}
	}
	return nil
}

// UpsertDocuments stores decision summary vectors keyed by decision id
func (q *QdrantCaseStore) UpsertDocuments(ctx context.Context, docs []models.CaseDocument) error {
	points := make([]*pb.PointStruct, 0, len(docs))
	for _, d := range docs {
		points = append(points, point(uint64(d.ID), d.Embedding, map[string]*pb.Value{
			"case_title":      stringValue(d.Title),
			"citation_number": stringValue(d.CitationNumber),
			"case_topic":      stringValue(d.Topic),
			"reasons_summary": stringValue(d.Summary),
			"catchwords":      stringValue(d.Catchwords),
			"case_url":        stringValue(d.URL),
			"decision_date":   dateValue(d.DecisionDate),
		}))
	}
	return q.upsert(ctx, q.documents, points)
}

// UpsertChunks stores chunk vectors keyed by chunk id
func (q *QdrantCaseStore) UpsertChunks(ctx context.Context, chunks []models.CaseChunk) error {
	points := make([]*pb.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		points = append(points, point(uint64(c.ID), c.Embedding, map[string]*pb.Value{
			"case_id":         {Kind: &pb.Value_IntegerValue{IntegerValue: c.CaseID}},
			"chunk_index":     {Kind: &pb.Value_IntegerValue{IntegerValue: int64(c.ChunkIndex)}},
			"chunk_text":      stringValue(c.Text),
			"case_topic":      stringValue(c.Topic),
			"case_title":      stringValue(c.Title),
			"citation_number": stringValue(c.CitationNumber),
			"case_url":        stringValue(c.URL),
			"decision_date":   dateValue(c.DecisionDate),
		}))
	}
	return q.upsert(ctx, q.chunks, points)
}

// DeleteChunks removes every chunk point of a decision so a rebuild with
// fewer chunks leaves no stale vectors behind
func (q *QdrantCaseStore) DeleteChunks(ctx context.Context, caseID int64) error {
	wait := true
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.chunks,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{integerMatch("case_id", caseID)},
				},
			},
		},
	})
	if err != nil {
		return storeErr(fmt.Sprintf("delete chunks of case %d from %s", caseID, q.chunks), err)
	}
	return nil
}

func (q *QdrantCaseStore) upsert(ctx context.Context, collection string, points []*pb.PointStruct) error {
	if len(points) == 0 {
		return nil
	}
	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return storeErr(fmt.Sprintf("upsert %d points into %s", len(points), collection), err)
	}
	return nil
}

// SearchDocuments returns the nearest decisions by summary embedding
func (q *QdrantCaseStore) SearchDocuments(ctx context.Context, embedding models.Embedding, topic string, limit int) ([]models.ScoredDocument, error) {
	hits, err := q.search(ctx, q.documents, embedding, topic, limit)
	if err != nil {
		return nil, err
	}
	docs := make([]models.ScoredDocument, len(hits))
	for i, h := range hits {
		p := h.GetPayload()
		docs[i] = models.ScoredDocument{
			Document: models.CaseDocument{
				ID:             int64(h.GetId().GetNum()),
				Title:          p["case_title"].GetStringValue(),
				CitationNumber: p["citation_number"].GetStringValue(),
				Topic:          p["case_topic"].GetStringValue(),
				Summary:        p["reasons_summary"].GetStringValue(),
				Catchwords:     p["catchwords"].GetStringValue(),
				URL:            p["case_url"].GetStringValue(),
				DecisionDate:   parseDate(p["decision_date"].GetStringValue()),
				Embedding:      vectorOf(h),
			},
			Score: float64(h.GetScore()),
		}
	}
	return docs, nil
}

// SearchChunks returns the nearest reasons chunks
func (q *QdrantCaseStore) SearchChunks(ctx context.Context, embedding models.Embedding, topic string, limit int) ([]models.ScoredChunk, error) {
	hits, err := q.search(ctx, q.chunks, embedding, topic, limit)
	if err != nil {
		return nil, err
	}
	chunks := make([]models.ScoredChunk, len(hits))
	for i, h := range hits {
		p := h.GetPayload()
		chunks[i] = models.ScoredChunk{
			Chunk: models.CaseChunk{
				ID:             int64(h.GetId().GetNum()),
				CaseID:         p["case_id"].GetIntegerValue(),
				ChunkIndex:     int(p["chunk_index"].GetIntegerValue()),
				Text:           p["chunk_text"].GetStringValue(),
				Topic:          p["case_topic"].GetStringValue(),
				Title:          p["case_title"].GetStringValue(),
				CitationNumber: p["citation_number"].GetStringValue(),
				URL:            p["case_url"].GetStringValue(),
				DecisionDate:   parseDate(p["decision_date"].GetStringValue()),
				Embedding:      vectorOf(h),
			},
			Score: float64(h.GetScore()),
		}
	}
	return chunks, nil
}

func (q *QdrantCaseStore) search(ctx context.Context, collection string, embedding models.Embedding, topic string, limit int) ([]*pb.ScoredPoint, error) {
	req := &pb.SearchPoints{
		CollectionName: collection,
		Vector:         toFloat32(embedding),
		Limit:          uint64(limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	}
	if topic != "" {
		req.Filter = &pb.Filter{Must: []*pb.Condition{fieldMatch("case_topic", topic)}}
	}

	resp, err := q.points.Search(ctx, req)
	if err != nil {
		return nil, storeErr("search "+collection, err)
	}
	return resp.GetResult(), nil
}

func point(id uint64, embedding models.Embedding, payload map[string]*pb.Value) *pb.PointStruct {
	return &pb.PointStruct{
		Id: &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: id}},
		Vectors: &pb.Vectors{
			VectorsOptions: &pb.Vectors_Vector{
				Vector: &pb.Vector{Data: toFloat32(embedding)},
			},
		},
		Payload: payload,
	}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func integerMatch(key string, value int64) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Integer{Integer: value},
				},
			},
		},
	}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func dateValue(t time.Time) *pb.Value {
	if t.IsZero() {
		return stringValue("")
	}
	return stringValue(t.UTC().Format(time.DateOnly))
}

func parseDate(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func vectorOf(h *pb.ScoredPoint) models.Embedding {
	data := h.GetVectors().GetVector().GetData()
	out := make(models.Embedding, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out
}

func toFloat32(e models.Embedding) []float32 {
	out := make([]float32, len(e))
	for i, v := range e {
		out[i] = float32(v)
	}
	return out
}

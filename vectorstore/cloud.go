package vectorstore

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// Cloud is the Qdrant-backed implementation of Store, the second leg of
// spec.md §4.4's backend polymorphism alongside Local. Chunk metadata
// needed to reconstruct a Result (filename, source location, document
// id) travels as point payload since Qdrant only returns vectors and
// payload on query, never caller-side joins.
type Cloud struct {
	client     *qdrant.Client
	collection string
}

// CloudConfig configures the Qdrant connection and collection.
type CloudConfig struct {
	Host           string
	Port           int
	APIKey         string
	UseTLS         bool
	CollectionName string
	Dimensions     int
}

// NewCloud connects to Qdrant and ensures the target collection exists
// with the configured vector dimension, cosine distance (matching the
// local backend's similarity metric so retrieval scoring stays
// consistent across backends).
func NewCloud(ctx context.Context, cfg CloudConfig) (*Cloud, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: connecting to qdrant: %w", err)
	}

	exists, err := client.CollectionExists(ctx, cfg.CollectionName)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: checking collection: %w", err)
	}
	if !exists {
		err = client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: cfg.CollectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(cfg.Dimensions),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return nil, fmt.Errorf("vectorstore: creating collection: %w", err)
		}
	}

	return &Cloud{client: client, collection: cfg.CollectionName}, nil
}

func (c *Cloud) Name() string { return "qdrant" }

func (c *Cloud) Insert(ctx context.Context, cv ChunkVector) error {
	_, err := c.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: c.collection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewIDNum(uint64(cv.ChunkID)),
				Vectors: qdrant.NewVectors(cv.Embedding...),
				Payload: qdrant.NewValueMap(map[string]any{
					"document_id": cv.DocumentID,
					"content":     cv.Content,
					"filename":    cv.Filename,
					"source_kind": cv.SourceKind,
					"page":        cv.Page,
					"line_start":  cv.LineStart,
					"line_end":    cv.LineEnd,
				}),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: qdrant upsert: %w", err)
	}
	return nil
}

// Search performs a k-NN query, clamping ef_search to at least topK
// (spec.md §4.4) and translating a document-id filter into a Qdrant
// payload match condition.
func (c *Cloud) Search(ctx context.Context, query []float32, topK, efSearch int, documentFilter []int64) ([]Result, error) {
	efSearch = clampEfSearch(efSearch, topK)

	req := &qdrant.QueryPoints{
		CollectionName: c.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		Params: &qdrant.SearchParams{
			HnswEf: qdrant.PtrOf(uint64(efSearch)),
		},
		WithPayload: qdrant.NewWithPayload(true),
	}
	if len(documentFilter) > 0 {
		req.Filter = documentIDFilter(documentFilter)
	}

	points, err := c.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: qdrant query: %w", err)
	}

	results := make([]Result, 0, len(points))
	for _, p := range points {
		results = append(results, resultFromPayload(p.Id, p.Score, p.Payload))
	}
	return results, nil
}

func (c *Cloud) DeleteByDocument(ctx context.Context, docID int64) error {
	_, err := c.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: c.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: documentIDFilter([]int64{docID}),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: qdrant delete: %w", err)
	}
	return nil
}

func documentIDFilter(documentIDs []int64) *qdrant.Filter {
	should := make([]*qdrant.Condition, len(documentIDs))
	for i, id := range documentIDs {
		should[i] = qdrant.NewMatchInt("document_id", id)
	}
	return &qdrant.Filter{Should: should}
}

func resultFromPayload(id *qdrant.PointId, score float32, payload map[string]*qdrant.Value) Result {
	get := func(key string) string {
		if v, ok := payload[key]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	getInt := func(key string) int {
		if v, ok := payload[key]; ok {
			return int(v.GetIntegerValue())
		}
		return 0
	}
	return Result{
		ChunkID:    int64(id.GetNum()),
		DocumentID: int64(getInt("document_id")),
		Content:    get("content"),
		Filename:   get("filename"),
		SourceKind: get("source_kind"),
		Page:       getInt("page"),
		LineStart:  getInt("line_start"),
		LineEnd:    getInt("line_end"),
		Score:      float64(score),
	}
}

var _ Store = (*Cloud)(nil)

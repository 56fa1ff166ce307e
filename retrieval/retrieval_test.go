package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/bbiangul/goreason/store"
	"github.com/bbiangul/goreason/vectorstore"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, f.err
}

func (f *fakeEmbedder) Dimensions() int                   { return len(f.vec) }
func (f *fakeEmbedder) HealthCheck(context.Context) error { return nil }
func (f *fakeEmbedder) Name() string                      { return "fake" }

type fakeVectors struct {
	results []store.RetrievalResult
	err     error
}

func (f *fakeVectors) Insert(ctx context.Context, cv vectorstore.ChunkVector) error { return nil }

func (f *fakeVectors) Search(ctx context.Context, query []float32, topK, efSearch int, documentFilter []int64) ([]vectorstore.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	if topK < len(f.results) {
		return f.results[:topK], nil
	}
	return f.results, nil
}

func (f *fakeVectors) DeleteByDocument(ctx context.Context, docID int64) error { return nil }
func (f *fakeVectors) Name() string                                           { return "fake" }

var _ vectorstore.Store = (*fakeVectors)(nil)

func sampleChunks() []store.RetrievalResult {
	return []store.RetrievalResult{
		{ChunkID: 1, DocumentID: 10, Filename: "a.pdf", Page: 1, Content: "The tensile strength is 500 MPa for steel alloys.", Score: 0.9},
		{ChunkID: 2, DocumentID: 10, Filename: "a.pdf", Page: 2, Content: "Quality management follows ISO 9001 standards.", Score: 0.5},
		{ChunkID: 3, DocumentID: 11, Filename: "b.pdf", Page: 1, Content: "Unrelated content about shipping logistics.", Score: 0.1},
	}
}

func newTestEngine(results []store.RetrievalResult) *Engine {
	return New(&fakeEmbedder{vec: []float32{0.1, 0.2, 0.3}}, &fakeVectors{results: results}, 40)
}

func TestSearchFiltersBySimilarityThreshold(t *testing.T) {
	e := newTestEngine(sampleChunks())
	res, err := e.Search(context.Background(), QueryRequest{Question: "tensile strength steel", SimilarityThreshold: 0.3, Rerank: false})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.NotFound {
		t.Fatal("expected results")
	}
	if len(res.Chunks) != 2 {
		t.Fatalf("expected 2 chunks above threshold 0.3, got %d", len(res.Chunks))
	}
}

func TestSearchReturnsNotFoundWhenNothingClearsThreshold(t *testing.T) {
	e := newTestEngine(sampleChunks())
	res, err := e.Search(context.Background(), QueryRequest{Question: "anything", SimilarityThreshold: 0.99})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !res.NotFound {
		t.Fatal("expected NotFound when threshold exceeds every observed similarity")
	}
}

func TestSearchAppliesDefaults(t *testing.T) {
	req := QueryRequest{Question: "x"}.WithDefaults()
	if req.TopK != DefaultTopK {
		t.Errorf("TopK default: got %d, want %d", req.TopK, DefaultTopK)
	}
	if req.SimilarityThreshold != DefaultSimilarityThreshold {
		t.Errorf("SimilarityThreshold default: got %f, want %f", req.SimilarityThreshold, DefaultSimilarityThreshold)
	}
}

func TestSearchTruncatesToTopK(t *testing.T) {
	chunks := sampleChunks()
	e := newTestEngine(chunks)
	res, err := e.Search(context.Background(), QueryRequest{Question: "content", TopK: 1, SimilarityThreshold: 0.05, Rerank: false})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Chunks) != 1 {
		t.Fatalf("expected exactly 1 chunk (TopK=1), got %d", len(res.Chunks))
	}
}

func TestLexicalRerankBoostsTermOverlap(t *testing.T) {
	chunks := []store.RetrievalResult{
		{ChunkID: 1, Filename: "a.pdf", Content: "completely unrelated filler text here", Score: 0.6},
		{ChunkID: 2, Filename: "b.pdf", Content: "tensile strength steel alloy specification document", Score: 0.55},
	}
	reranked := lexicalRerank("tensile strength steel", chunks)
	if reranked[0].ChunkID != 2 {
		t.Errorf("expected chunk 2 (higher term overlap) to rank first, got chunk %d", reranked[0].ChunkID)
	}
}

func TestLexicalRerankNoTermsFallsBackToSimilarity(t *testing.T) {
	chunks := []store.RetrievalResult{
		{ChunkID: 1, Score: 0.2},
		{ChunkID: 2, Score: 0.8},
	}
	reranked := lexicalRerank("? ! .", chunks)
	if reranked[0].ChunkID != 2 {
		t.Errorf("expected similarity-only ordering when no significant terms, got chunk %d first", reranked[0].ChunkID)
	}
}

func TestBuildContextUsesSourceMarkerFormat(t *testing.T) {
	ctxStr := buildContext([]store.RetrievalResult{
		{Filename: "a.pdf", Page: 3, Content: "hello"},
		{Filename: "b.txt", LineStart: 10, LineEnd: 12, Content: "world"},
	})
	if !strings.Contains(ctxStr, "[Source: a.pdf, Page 3]") {
		t.Errorf("missing page-form header: %q", ctxStr)
	}
	if !strings.Contains(ctxStr, "[Source: b.txt, Lines 10-12]") {
		t.Errorf("missing lines-form header: %q", ctxStr)
	}
}

func TestHighlightWrapsMatchesCaseInsensitively(t *testing.T) {
	out := highlight("The Tensile strength is high.", []string{"tensile"})
	if !strings.Contains(out, "<mark>Tensile</mark>") {
		t.Errorf("expected case-preserving highlight, got %q", out)
	}
}

func TestSignificantTermsDropsShortWords(t *testing.T) {
	terms := significantTerms("Is it ok?")
	for _, term := range terms {
		if len(term) < 3 {
			t.Errorf("expected terms of length >= 3, got %q", term)
		}
	}
}

func TestStringSearchComputesOffsetAndSnippet(t *testing.T) {
	s := &fakeScanner{results: []store.RetrievalResult{
		{Filename: "notes.txt", Content: "before context photosynthesis after context", ChunkID: 1},
	}}
	e := newTestEngine(nil)
	out, err := e.StringSearch(context.Background(), s, "photosynthesis")
	if err != nil {
		t.Fatalf("StringSearch: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 match, got %d", len(out))
	}
	if out[0].Filename != "notes.txt" {
		t.Errorf("filename: got %q", out[0].Filename)
	}
	if !strings.Contains(out[0].Snippet, "photosynthesis") {
		t.Errorf("snippet should contain the match: %q", out[0].Snippet)
	}
}

func TestStringSearchSkipsNonMatches(t *testing.T) {
	// ScanPlainText already filters at the SQL layer, but a defensive
	// re-check keeps StringSearch correct if that contract ever loosens.
	s := &fakeScanner{results: []store.RetrievalResult{
		{Filename: "notes.txt", Content: "nothing relevant here", ChunkID: 1},
	}}
	e := newTestEngine(nil)
	out, err := e.StringSearch(context.Background(), s, "photosynthesis")
	if err != nil {
		t.Fatalf("StringSearch: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected 0 matches, got %d", len(out))
	}
}

// fakeScanner adapts a fixed result set to plainTextScanner, avoiding a
// real *store.Store in unit tests.
type fakeScanner struct {
	results []store.RetrievalResult
	err     error
}

func (f *fakeScanner) ScanPlainText(ctx context.Context, needle string) ([]store.RetrievalResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

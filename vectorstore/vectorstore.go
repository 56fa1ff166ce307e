// Package vectorstore provides the polymorphic C4 contract of spec.md
// §4.4 over two backends: the local SQLite + sqlite-vec substrate
// (store.Store) and a Qdrant cloud collection.
package vectorstore

import (
	"context"
	"log/slog"

	"github.com/bbiangul/goreason/store"
)

// Result mirrors store.RetrievalResult, kept as its own type so callers
// don't need to import store for the cloud backend's return shape.
type Result = store.RetrievalResult

// ChunkVector is everything a backend needs to index a chunk. Local
// ignores every field but ChunkID/Embedding (the metadata already lives
// in the chunks table); Cloud carries the rest as point payload so a
// query can reconstruct a Result without a side join.
type ChunkVector struct {
	ChunkID    int64
	DocumentID int64
	Content    string
	Filename   string
	SourceKind string
	Page       int
	LineStart  int
	LineEnd    int
	Embedding  []float32
}

// Store is the vector index contract: insert, k-NN search with an optional
// document-id filter, and document-scoped deletion. Cloud applies the
// filter before ranking; Local applies it to the k nearest chunks (see
// store.Store.VectorSearch).
type Store interface {
	Insert(ctx context.Context, cv ChunkVector) error
	Search(ctx context.Context, query []float32, topK int, efSearch int, documentFilter []int64) ([]Result, error)
	DeleteByDocument(ctx context.Context, docID int64) error
	Name() string
}

// clampEfSearch enforces spec.md §4.4's invariant that ef_search is
// never below top_k, logging when the configured value had to be
// raised.
func clampEfSearch(efSearch, topK int) int {
	if efSearch < topK {
		slog.Warn("vectorstore: ef_search below top_k, clamping", "ef_search", efSearch, "top_k", topK)
		return topK
	}
	return efSearch
}

// Local wraps the SQLite/sqlite-vec backend (store.Store), the default
// per spec.md §6's storage_path configuration.
type Local struct {
	s *store.Store
}

func NewLocal(s *store.Store) *Local { return &Local{s: s} }

func (l *Local) Name() string { return "local" }

func (l *Local) Insert(ctx context.Context, cv ChunkVector) error {
	return l.s.InsertEmbedding(ctx, cv.ChunkID, cv.Embedding)
}

func (l *Local) Search(ctx context.Context, query []float32, topK, efSearch int, documentFilter []int64) ([]Result, error) {
	_ = clampEfSearch(efSearch, topK) // sqlite-vec's KNN operator has no distinct ef_search knob; the clamp governs the cloud backend's HNSW search params instead.
	return l.s.VectorSearch(ctx, query, topK, documentFilter)
}

func (l *Local) DeleteByDocument(ctx context.Context, docID int64) error {
	_, err := l.s.TombstoneByDocument(ctx, docID)
	return err
}

// Rebuild compacts tombstoned rows once they exceed the configured
// ratio, per spec.md §4.4's lazy-rebuild semantics.
func (l *Local) Rebuild(ctx context.Context, staleThreshold float64) error {
	return l.s.RebuildIfStale(ctx, staleThreshold)
}

var _ Store = (*Local)(nil)

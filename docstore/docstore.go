// Package docstore persists the original file bytes and extracted text
// for each ingested document, per spec.md §6's {doc_id}/raw +
// {doc_id}/text.txt layout. Two backends: Local (filesystem) and Cloud
// (S3-compatible), mirroring the vectorstore package's polymorphism.
package docstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a document has no stored raw bytes or
// text under the requested id.
var ErrNotFound = errors.New("docstore: document not found")

// Store persists and retrieves a document's raw source bytes and its
// extracted plain text, keyed by document id.
type Store interface {
	PutRaw(ctx context.Context, docID int64, data []byte) error
	PutText(ctx context.Context, docID int64, text string) error
	GetRaw(ctx context.Context, docID int64) ([]byte, error)
	GetText(ctx context.Context, docID int64) (string, error)
	Delete(ctx context.Context, docID int64) error
	Name() string
}

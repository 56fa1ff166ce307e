// Package store implements the local persistence backend for the document
// registry (C5-adjacent: filename/hash bookkeeping lives here even though
// raw bytes are delegated to the docstore package) and the vector/FTS
// search substrate (C4), backed by SQLite + sqlite-vec + FTS5.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Document represents a row in the documents table.
type Document struct {
	ID          int64  `json:"id"`
	Filename    string `json:"filename"`
	FileType    string `json:"file_type"`
	ContentHash string `json:"content_hash"`
	ByteSize    int64  `json:"byte_size"`
	TotalPages  int    `json:"total_pages"`
	TotalChunks int    `json:"total_chunks"`
	Status      string `json:"status"`
	StorageURI  string `json:"storage_uri,omitempty"`
	Metadata    string `json:"metadata,omitempty"` // JSON-encoded map
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Chunk represents a row in the chunks table. Exactly one of the
// ChunkSource fields (Page; LineStart/LineEnd; OffsetStart/OffsetLength)
// is populated, selected by SourceKind.
type Chunk struct {
	ID            int64  `json:"id"`
	DocumentID    int64  `json:"document_id"`
	Ordinal       int    `json:"ordinal"`
	Content       string `json:"content"`
	Filename      string `json:"filename"`
	SourceKind    string `json:"source_kind"` // "page" | "lines" | "offset"
	Page          int    `json:"page,omitempty"`
	LineStart     int    `json:"line_start,omitempty"`
	LineEnd       int    `json:"line_end,omitempty"`
	OffsetStart   int    `json:"offset_start,omitempty"`
	OffsetLength  int    `json:"offset_length,omitempty"`
}

// RetrievalResult holds a chunk with its retrieval score and document info.
type RetrievalResult struct {
	ChunkID    int64   `json:"chunk_id"`
	DocumentID int64   `json:"document_id"`
	Content    string  `json:"content"`
	Filename   string  `json:"filename"`
	SourceKind string  `json:"source_kind"`
	Page       int     `json:"page,omitempty"`
	LineStart  int     `json:"line_start,omitempty"`
	LineEnd    int     `json:"line_end,omitempty"`
	Score      float64 `json:"score"`
}

// QAInteraction mirrors spec.md §3's QAInteraction record (C12).
type QAInteraction struct {
	ID            string `json:"id"`
	Question      string `json:"question"`
	Answer        string `json:"answer"`
	Filenames     string `json:"filenames"`    // JSON array
	TopScore      float64 `json:"top_score"`
	FeedbackScore *int   `json:"feedback_score,omitempty"`
	DocumentIDs   string `json:"document_ids"` // JSON array, sorted
	CreatedAt     string `json:"created_at"`
}

// Store wraps the SQLite database for goreason's document registry and
// vector/FTS search.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including sqlite-vec and FTS5 virtual tables.
func New(dbPath string, embeddingDim int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Document operations ---

// FindDocumentByHash implements the dedup lookup of spec.md §4.6: a
// second ingest with a matching content hash must return the existing
// document, not create a new one.
func (s *Store) FindDocumentByHash(ctx context.Context, hash string) (*Document, error) {
	return s.scanDocumentRow(s.db.QueryRowContext(ctx, documentSelectCols+" WHERE content_hash = ?", hash))
}

// CreateDocument inserts a new document row. Callers must have already
// checked FindDocumentByHash for dedup.
func (s *Store) CreateDocument(ctx context.Context, doc Document) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (filename, file_type, content_hash, byte_size, total_pages, total_chunks, status, storage_uri, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.Filename, doc.FileType, doc.ContentHash, doc.ByteSize, doc.TotalPages, doc.TotalChunks, doc.Status, doc.StorageURI, doc.Metadata)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	return s.scanDocumentRow(s.db.QueryRowContext(ctx, documentSelectCols+" WHERE id = ?", id))
}

const documentSelectCols = `
	SELECT id, filename, file_type, content_hash, byte_size, total_pages, total_chunks, status, COALESCE(storage_uri, ''), COALESCE(metadata, ''), created_at, updated_at
	FROM documents`

func (s *Store) scanDocumentRow(row *sql.Row) (*Document, error) {
	var d Document
	if err := row.Scan(&d.ID, &d.Filename, &d.FileType, &d.ContentHash, &d.ByteSize,
		&d.TotalPages, &d.TotalChunks, &d.Status, &d.StorageURI, &d.Metadata,
		&d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDocuments returns all documents ordered by creation time, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, documentSelectCols+" ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Filename, &d.FileType, &d.ContentHash, &d.ByteSize,
			&d.TotalPages, &d.TotalChunks, &d.Status, &d.StorageURI, &d.Metadata,
			&d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// AllDocumentIDs returns the full set of live document ids, used by the
// answer cache to decide whether a cached tuple has diverged (spec.md §4.12).
func (s *Store) AllDocumentIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM documents ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetTotalChunks updates a document's total_chunks count and marks it ready.
func (s *Store) SetTotalChunks(ctx context.Context, id int64, total int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE documents SET total_chunks = ?, status = 'ready', updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		total, id)
	return err
}

// DeleteDocument removes a document and cascades to its chunks/embeddings.
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM vec_chunks WHERE chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

// --- Chunk operations ---

// InsertChunks inserts a batch of chunks for a single document in ordinal
// order and returns their assigned database IDs in the same order.
func (s *Store) InsertChunks(ctx context.Context, chunks []Chunk) ([]int64, error) {
	ids := make([]int64, len(chunks))

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (document_id, ordinal, content, filename, source_kind, page, line_start, line_end, offset_start, offset_length)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, c := range chunks {
			res, err := stmt.ExecContext(ctx, c.DocumentID, c.Ordinal, c.Content, c.Filename,
				c.SourceKind, nullIfZero(c.Page), nullIfZero(c.LineStart), nullIfZero(c.LineEnd),
				nullIfZero(c.OffsetStart), nullIfZero(c.OffsetLength))
			if err != nil {
				return err
			}
			ids[i], err = res.LastInsertId()
			if err != nil {
				return err
			}
		}
		return nil
	})

	return ids, err
}

func nullIfZero(v int) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

// GetChunksByDocument returns all (non-tombstoned) chunks for a document,
// in ordinal order.
func (s *Store) GetChunksByDocument(ctx context.Context, docID int64) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, ordinal, content, filename, source_kind,
			COALESCE(page, 0), COALESCE(line_start, 0), COALESCE(line_end, 0),
			COALESCE(offset_start, 0), COALESCE(offset_length, 0)
		FROM chunks WHERE document_id = ? AND tombstoned = 0 ORDER BY ordinal
	`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.Content, &c.Filename, &c.SourceKind,
			&c.Page, &c.LineStart, &c.LineEnd, &c.OffsetStart, &c.OffsetLength); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// --- Embedding / vector search operations (C4) ---

// InsertEmbedding stores a vector embedding for a chunk.
func (s *Store) InsertEmbedding(ctx context.Context, chunkID int64, embedding []float32) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)",
		chunkID, serializeFloat32(embedding))
	return err
}

// VectorSearch performs a KNN search for the top-k nearest chunks, cosine
// similarity descending, optionally restricted to documentFilter. The
// filter is applied to the k nearest chunks after the KNN step, so a
// filtered search returns only those of the k nearest that belong to the
// listed documents, which can be fewer than k. efSearch is clamped to at
// least k by the caller.
func (s *Store) VectorSearch(ctx context.Context, queryEmbedding []float32, k int, documentFilter []int64) ([]RetrievalResult, error) {
	args := []interface{}{serializeFloat32(queryEmbedding), k}
	query := `
		SELECT v.chunk_id, v.distance,
			c.content, c.filename, c.source_kind, COALESCE(c.page,0), COALESCE(c.line_start,0), COALESCE(c.line_end,0),
			c.document_id
		FROM vec_chunks v
		JOIN chunks c ON c.id = v.chunk_id
		WHERE v.embedding MATCH ? AND k = ? AND c.tombstoned = 0`
	if len(documentFilter) > 0 {
		query += " AND c.document_id IN (?" + repeatPlaceholders(len(documentFilter)-1) + ")"
		for _, id := range documentFilter {
			args = append(args, id)
		}
	}
	query += " ORDER BY v.distance"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RetrievalResult
	for rows.Next() {
		var r RetrievalResult
		var distance float64
		if err := rows.Scan(&r.ChunkID, &distance, &r.Content, &r.Filename, &r.SourceKind,
			&r.Page, &r.LineStart, &r.LineEnd, &r.DocumentID); err != nil {
			return nil, err
		}
		r.Score = 1.0 - distance
		results = append(results, r)
	}
	return results, rows.Err()
}

// FTSSearch performs a full-text search using FTS5 BM25 ranking.
// StringSearch uses ScanPlainText and the lexical re-ranker computes its
// term overlap in memory; neither calls FTSSearch.
func (s *Store) FTSSearch(ctx context.Context, query string, limit int) ([]RetrievalResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.rowid, f.rank,
			c.content, c.filename, c.source_kind, COALESCE(c.page,0), COALESCE(c.line_start,0), COALESCE(c.line_end,0),
			c.document_id
		FROM chunks_fts f
		JOIN chunks c ON c.id = f.rowid
		WHERE chunks_fts MATCH ? AND c.tombstoned = 0
		ORDER BY f.rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RetrievalResult
	for rows.Next() {
		var r RetrievalResult
		var rank float64
		if err := rows.Scan(&r.ChunkID, &rank, &r.Content, &r.Filename, &r.SourceKind,
			&r.Page, &r.LineStart, &r.LineEnd, &r.DocumentID); err != nil {
			return nil, err
		}
		r.Score = -rank
		results = append(results, r)
	}
	return results, rows.Err()
}

// ScanPlainText performs a literal case-insensitive substring scan across
// chunk content, for the StringSearch classifier branch (spec.md §4.8).
func (s *Store) ScanPlainText(ctx context.Context, needle string) ([]RetrievalResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, filename, source_kind, COALESCE(page,0), COALESCE(line_start,0), COALESCE(line_end,0), document_id
		FROM chunks
		WHERE tombstoned = 0 AND content LIKE '%' || ? || '%' COLLATE NOCASE
	`, needle)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RetrievalResult
	for rows.Next() {
		var r RetrievalResult
		if err := rows.Scan(&r.ChunkID, &r.Content, &r.Filename, &r.SourceKind,
			&r.Page, &r.LineStart, &r.LineEnd, &r.DocumentID); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// TombstoneByDocument marks every chunk of a document as tombstoned rather
// than deleting rows outright, per spec.md §4.4's lazy-rebuild note. The
// vector rows are removed immediately (cheap, point deletes); the chunk
// rows are kept until RebuildIfStale compacts them.
func (s *Store) TombstoneByDocument(ctx context.Context, docID int64) (int, error) {
	var count int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM vec_chunks WHERE chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)`, docID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "UPDATE chunks SET tombstoned = 1 WHERE document_id = ? AND tombstoned = 0", docID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		count = int(n)
		return err
	})
	return count, err
}

// TombstoneRatio reports the fraction of chunk rows currently tombstoned,
// used to decide whether RebuildIfStale should compact the table.
func (s *Store) TombstoneRatio(ctx context.Context) (float64, error) {
	var total, dead int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&total); err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks WHERE tombstoned = 1").Scan(&dead); err != nil {
		return 0, err
	}
	return float64(dead) / float64(total), nil
}

// RebuildIfStale physically deletes tombstoned chunk rows once they exceed
// staleThreshold of the table, reclaiming space. Called lazily from the
// ingestion orchestrator after a delete, never on the read path.
func (s *Store) RebuildIfStale(ctx context.Context, staleThreshold float64) error {
	ratio, err := s.TombstoneRatio(ctx)
	if err != nil {
		return err
	}
	if ratio < staleThreshold {
		return nil
	}
	slog.Info("rebuilding chunk index: tombstone ratio exceeded threshold", "ratio", ratio, "threshold", staleThreshold)
	_, err = s.db.ExecContext(ctx, "DELETE FROM chunks WHERE tombstoned = 1")
	return err
}

// --- Knowledge store (C12) ---

// InsertInteraction appends a QAInteraction to the knowledge store.
func (s *Store) InsertInteraction(ctx context.Context, qa QAInteraction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO qa_interactions (id, question, answer, filenames, top_score, feedback_score, document_ids)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, qa.ID, qa.Question, qa.Answer, qa.Filenames, qa.TopScore, qa.FeedbackScore, qa.DocumentIDs)
	return err
}

// SetFeedback updates an interaction's feedback score (+1/0/-1).
func (s *Store) SetFeedback(ctx context.Context, id string, score int) error {
	res, err := s.db.ExecContext(ctx, "UPDATE qa_interactions SET feedback_score = ? WHERE id = ?", score, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListInteractionsEligible returns every interaction whose feedback score
// is null (never rated) or >= 0, the eligibility rule of spec.md §4.12.
func (s *Store) ListInteractionsEligible(ctx context.Context) ([]QAInteraction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question, answer, filenames, top_score, feedback_score, document_ids, created_at
		FROM qa_interactions
		WHERE feedback_score IS NULL OR feedback_score >= 0
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QAInteraction
	for rows.Next() {
		var qa QAInteraction
		var fb sql.NullInt64
		if err := rows.Scan(&qa.ID, &qa.Question, &qa.Answer, &qa.Filenames, &qa.TopScore, &fb, &qa.DocumentIDs, &qa.CreatedAt); err != nil {
			return nil, err
		}
		if fb.Valid {
			v := int(fb.Int64)
			qa.FeedbackScore = &v
		}
		out = append(out, qa)
	}
	return out, rows.Err()
}

// --- Diagnostics ---

// DBStats holds counts of key database objects.
type DBStats struct {
	Chunks      int `json:"chunks"`
	Embeddings  int `json:"embeddings"`
	Documents   int `json:"documents"`
	Interactions int `json:"interactions"`
}

func (s *Store) Stats(ctx context.Context) (*DBStats, error) {
	stats := &DBStats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM chunks WHERE tombstoned = 0", &stats.Chunks},
		{"SELECT COUNT(*) FROM vec_chunks", &stats.Embeddings},
		{"SELECT COUNT(*) FROM documents", &stats.Documents},
		{"SELECT COUNT(*) FROM qa_interactions", &stats.Interactions},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func repeatPlaceholders(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// ContentHash computes the SHA-256 hash used for ingestion dedup (spec.md §4.6).
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MarshalMetadata JSON-encodes a user metadata map for storage.
func MarshalMetadata(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

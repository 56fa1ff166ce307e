// Package goreason wires the parse, chunk, embed, index, retrieve, and
// reason stages into a single ingestion and query engine (spec.md §4.6).
package goreason

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bbiangul/goreason/cache"
	"github.com/bbiangul/goreason/chunker"
	"github.com/bbiangul/goreason/classifier"
	"github.com/bbiangul/goreason/docstore"
	"github.com/bbiangul/goreason/embedding"
	"github.com/bbiangul/goreason/jobqueue"
	"github.com/bbiangul/goreason/llm"
	"github.com/bbiangul/goreason/parser"
	"github.com/bbiangul/goreason/reasoning"
	"github.com/bbiangul/goreason/retrieval"
	"github.com/bbiangul/goreason/store"
	"github.com/bbiangul/goreason/vectorstore"
)

// Engine is the public surface every HTTP handler drives.
type Engine interface {
	Ingest(ctx context.Context, filename string, data []byte, opts ...IngestOption) (*store.Document, []store.Chunk, error)
	IngestAsync(files []jobqueue.InputFile) (string, error)
	JobProgress(jobID string) (*jobqueue.JobProgress, error)
	JobStats() jobqueue.Stats
	CancelJob(jobID string) error

	Query(ctx context.Context, question string, opts ...QueryOption) (*QueryResponse, error)
	Feedback(ctx context.Context, interactionID string, score int) error

	ListDocuments(ctx context.Context) ([]store.Document, error)
	GetDocument(ctx context.Context, id int64) (*store.Document, error)
	DeleteDocument(ctx context.Context, id int64) error

	HealthCheck(ctx context.Context) error
	Close() error
}

// QueryResponse mirrors spec.md §6's QueryResponse record.
type QueryResponse struct {
	Answer           string                  `json:"answer"`
	Citations        []reasoning.Citation    `json:"citations"`
	ChunksRetrieved  int                     `json:"chunks_retrieved"`
	ProcessingTimeMs int64                   `json:"processing_time_ms"`
	InteractionID    string                  `json:"interaction_id,omitempty"`
	RawChunks        []store.RetrievalResult `json:"raw_chunks,omitempty"`
}

type engine struct {
	cfg Config

	db       *store.Store
	parsers  *parser.Registry
	chunkCfg chunker.Config
	chunks   *chunker.Chunker
	embedder embedding.Provider
	vectors  vectorstore.Store
	docs     docstore.Store

	retriever *retrieval.Engine
	reasoner  *reasoning.Engine

	knowledge *cache.KnowledgeStore
	answers   cache.AnswerStore

	jobs *jobqueue.Queue

	// visionProvider captions extracted images during Ingest when a
	// caller passes WithExtractImages(true). Nil when config.Vision is
	// disabled or the configured chat provider doesn't support images,
	// in which case WithExtractImages is a documented no-op.
	visionProvider llm.VisionProvider
}

// New wires every stage described across spec.md §4.1-§4.12 into one
// Engine, using the concrete backends the config selects.
func New(ctx context.Context, cfg Config) (Engine, error) {
	db, err := store.New(cfg.VectorDB.StoragePath, cfg.Embeddings.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("%w: opening store: %v", ErrInvalidConfig, err)
	}

	parsers := parser.NewRegistry()
	if cfg.ExternalParser.Enabled {
		parsers.SetLlamaParse(parser.LlamaParseConfig{
			APIKey:      cfg.ExternalParser.APIKey,
			BaseURL:     cfg.ExternalParser.BaseURL,
			PollTimeout: cfg.ExternalParser.pollTimeout(),
		})
	}
	var visionProvider llm.VisionProvider
	if cfg.Vision.Enabled {
		visionLLM, err := llm.NewProvider(llm.Config{
			Provider:       cfg.Vision.Provider,
			Model:          cfg.Vision.Model,
			BaseURL:        cfg.Vision.BaseURL,
			APIKey:         cfg.Vision.APIKey,
			RequestTimeout: cfg.LLM.requestTimeout(),
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: building vision provider: %v", ErrInvalidConfig, err)
		}
		if vp, ok := visionLLM.(llm.VisionProvider); ok {
			parsers.SetVisionProvider(vp)
			visionProvider = vp
		} else {
			slog.Warn("vision provider does not support image chat; scanned-image OCR fallback and WithExtractImages captioning disabled",
				"provider", cfg.Vision.Provider)
		}
	}

	chunkCfg := chunker.Config{
		ChunkSize:        cfg.Chunking.ChunkSize,
		ChunkOverlap:     cfg.Chunking.ChunkOverlap,
		MinChunkSize:     cfg.Chunking.MinChunkSize,
		RespectSentences: cfg.Chunking.RespectSentences,
	}

	embedder, err := embedding.New(embedding.Config{
		Config: llm.Config{
			Provider:       cfg.Embeddings.Provider,
			Model:          cfg.Embeddings.Model,
			BaseURL:        cfg.Embeddings.BaseURL,
			APIKey:         cfg.Embeddings.APIKey,
			RequestTimeout: cfg.Embeddings.requestTimeout(),
		},
		Dimensions: cfg.Embeddings.Dimensions,
		BatchSize:  cfg.Embeddings.BatchSize,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: building embedding provider: %v", ErrInvalidConfig, err)
	}

	vectors, err := newVectorStore(ctx, cfg, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	docs, err := newDocumentStore(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	chat, err := llm.NewProvider(llm.Config{
		Provider:       cfg.LLM.Provider,
		Model:          cfg.LLM.GenerateModel,
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		RequestTimeout: cfg.LLM.requestTimeout(),
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: building chat provider: %v", ErrInvalidConfig, err)
	}

	retriever := retrieval.New(embedder, vectors, cfg.VectorDB.HNSWEfSearch)
	reasoner := reasoning.New(chat, cfg.LLM.Provider, reasoning.Config{
		Model:               cfg.LLM.GenerateModel,
		Temperature:         cfg.LLM.Temperature,
		MaxTokens:           cfg.LLM.ContextSize,
		MaxRetries:          cfg.LLM.MaxRetries,
		RequestTimeout:      cfg.LLM.requestTimeout(),
		MaxRounds:           cfg.Reasoning.MaxRounds,
		ConfidenceThreshold: cfg.Reasoning.ConfidenceThreshold,
		LearningExamples:    cfg.Reasoning.LearningExamples,
	})

	knowledge := cache.NewKnowledgeStore(db.ListInteractionsEligible)
	answers, err := newAnswerStore(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	e := &engine{
		cfg:       cfg,
		db:        db,
		parsers:   parsers,
		chunkCfg:  chunkCfg,
		chunks:    chunker.New(chunkCfg),
		embedder:  embedder,
		vectors:   vectors,
		docs:      docs,
		retriever: retriever,
		reasoner:  reasoner,
		knowledge: knowledge,
		answers:   answers,

		visionProvider: visionProvider,
	}

	e.jobs = jobqueue.New(ctx, e, jobqueue.Config{
		Workers:          cfg.Jobs.Workers,
		QueueCapacity:    cfg.Jobs.QueueCapacity,
		ChunkConcurrency: cfg.Jobs.ChunkConcurrency,
		Retention:        cfg.Jobs.jobRetention(),
	})

	return e, nil
}

func newVectorStore(ctx context.Context, cfg Config, db *store.Store) (vectorstore.Store, error) {
	switch cfg.VectorDB.Backend {
	case "qdrant":
		cloud, err := vectorstore.NewCloud(ctx, vectorstore.CloudConfig{
			Host:           cfg.VectorDB.QdrantHost,
			Port:           cfg.VectorDB.QdrantPort,
			APIKey:         cfg.VectorDB.QdrantAPIKey,
			UseTLS:         cfg.VectorDB.QdrantUseTLS,
			CollectionName: cfg.VectorDB.QdrantCollection,
			Dimensions:     cfg.Embeddings.Dimensions,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: connecting to qdrant: %v", ErrVectorStoreFailed, err)
		}
		return cloud, nil
	default:
		return vectorstore.NewLocal(db), nil
	}
}

func newDocumentStore(cfg Config) (docstore.Store, error) {
	switch cfg.DocumentStore.Backend {
	case "s3":
		cloud, err := docstore.NewCloud(context.Background(), docstore.CloudConfig{
			Region:       cfg.DocumentStore.S3Region,
			Bucket:       cfg.DocumentStore.S3Bucket,
			Prefix:       cfg.DocumentStore.S3Prefix,
			AccessKey:    cfg.DocumentStore.S3AccessKey,
			SecretKey:    cfg.DocumentStore.S3SecretKey,
			Endpoint:     cfg.DocumentStore.S3Endpoint,
			UsePathStyle: cfg.DocumentStore.S3PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: connecting to s3: %v", ErrInvalidConfig, err)
		}
		return cloud, nil
	default:
		local, err := docstore.NewLocal(cfg.DocumentStore.LocalDir)
		if err != nil {
			return nil, fmt.Errorf("%w: opening document store dir: %v", ErrInvalidConfig, err)
		}
		return local, nil
	}
}

func newAnswerStore(cfg Config) (cache.AnswerStore, error) {
	switch cfg.Cache.Backend {
	case "redis":
		store, err := cache.NewRedisAnswerStore(cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			TTL:      time.Duration(cfg.Cache.RedisTTLSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: connecting to redis answer cache: %v", ErrInvalidConfig, err)
		}
		return store, nil
	default:
		return cache.NewAnswerCache(cfg.Cache.AnswerCacheCapacity), nil
	}
}

// Close releases every owned resource.
func (e *engine) Close() error {
	return e.db.Close()
}

// HealthCheck verifies the embedding and chat providers, and the
// database connection, are reachable.
func (e *engine) HealthCheck(ctx context.Context) error {
	if err := e.embedder.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%w: embedding provider: %v", ErrLLMUnavailable, err)
	}
	if err := e.reasoner.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%w: chat provider: %v", ErrLLMUnavailable, err)
	}
	if err := e.db.DB().PingContext(ctx); err != nil {
		return fmt.Errorf("%w: database: %v", ErrStoreClosed, err)
	}
	return nil
}

// --- Ingestion (C6) ---

type ingestOptions struct {
	chunkSize     int
	chunkOverlap  int
	extractImages bool
}

// IngestOption customizes a single Ingest call, per SPEC_FULL.md §D's
// IngestOptions supplement.
type IngestOption func(*ingestOptions)

// WithChunkSize overrides the configured chunk_size for this ingest call.
func WithChunkSize(n int) IngestOption { return func(o *ingestOptions) { o.chunkSize = n } }

// WithChunkOverlap overrides the configured chunk_overlap for this ingest call.
func WithChunkOverlap(n int) IngestOption { return func(o *ingestOptions) { o.chunkOverlap = n } }

// WithExtractImages requests that images the parser pulled out of the
// document (parser.ParsedDocument.Images) be captioned by the configured
// vision provider and folded into the indexed content as
// "[Image: caption]" text, so a question about a diagram or photo can
// retrieve it like any other chunk. A no-op when config.Vision is
// disabled or the configured provider doesn't support image chat.
func WithExtractImages(b bool) IngestOption { return func(o *ingestOptions) { o.extractImages = b } }

// Ingest runs the synchronous C6 pipeline for one file: parse, chunk,
// embed, index, persist, and register. Re-ingesting identical bytes is
// idempotent (spec.md §4.6, §8).
func (e *engine) Ingest(ctx context.Context, filename string, data []byte, opts ...IngestOption) (*store.Document, []store.Chunk, error) {
	var o ingestOptions
	for _, opt := range opts {
		opt(&o)
	}

	hash := store.ContentHash(data)
	if existing, err := e.db.FindDocumentByHash(ctx, hash); err != nil {
		return nil, nil, fmt.Errorf("%w: checking existing document: %v", ErrStoreClosed, err)
	} else if existing != nil {
		return existing, nil, nil
	}

	parsed, attempts, err := parser.ParseFile(ctx, e.parsers, filename, data)
	if err != nil {
		slog.Warn("ingest: parse failed", "filename", filename, "attempts", len(attempts), "error", err)
		if errors.Is(err, parser.ErrUnsupportedFormat) {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
		}
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrParsingFailed, filename, err)
	}

	if o.extractImages && e.visionProvider != nil && len(parsed.Images) > 0 {
		parsed.Content += captionImages(ctx, e.visionProvider, filename, parsed.Images)
	}

	ck := e.chunks
	if o.chunkSize > 0 || o.chunkOverlap > 0 {
		cfg := e.chunkCfg
		if o.chunkSize > 0 {
			cfg.ChunkSize = o.chunkSize
		}
		if o.chunkOverlap > 0 {
			cfg.ChunkOverlap = o.chunkOverlap
		}
		ck = chunker.New(cfg)
	}

	docID, err := e.db.CreateDocument(ctx, store.Document{
		Filename:    filename,
		FileType:    parsed.FileType,
		ContentHash: parsed.ContentHash,
		ByteSize:    int64(len(data)),
		TotalPages:  parsed.TotalPages,
		Status:      "indexed",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: registering document: %v", ErrStoreClosed, err)
	}

	chunks, err := e.indexChunks(ctx, ck, docID, filename, parsed)
	if err != nil {
		e.rollbackDocument(ctx, docID)
		return nil, nil, err
	}

	if err := e.db.SetTotalChunks(ctx, docID, len(chunks)); err != nil {
		e.rollbackDocument(ctx, docID)
		return nil, nil, fmt.Errorf("%w: finalizing chunk count: %v", ErrStoreClosed, err)
	}

	if err := e.docs.PutRaw(ctx, docID, data); err != nil {
		e.rollbackDocument(ctx, docID)
		return nil, nil, fmt.Errorf("goreason: persisting raw bytes: %w", err)
	}
	if err := e.docs.PutText(ctx, docID, parsed.Content); err != nil {
		e.rollbackDocument(ctx, docID)
		return nil, nil, fmt.Errorf("goreason: persisting extracted text: %w", err)
	}

	doc, err := e.db.GetDocument(ctx, docID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reloading document: %v", ErrStoreClosed, err)
	}

	slog.Info("ingest: completed", "filename", filename, "document_id", docID, "chunks", len(chunks))
	return doc, chunks, nil
}

// captionImages asks a vision provider to describe each extracted image
// and returns them as "[Image: ...]" blocks appended to the document
// content, one captioning failure logged and skipped rather than
// failing the whole ingest.
func captionImages(ctx context.Context, vp llm.VisionProvider, filename string, images []parser.ExtractedImage) string {
	var b strings.Builder
	for i, img := range images {
		caption, err := captionImage(ctx, vp, img)
		if err != nil {
			slog.Warn("ingest: image captioning failed", "filename", filename, "image", i, "error", err)
			continue
		}
		b.WriteString("\n\n[Image: ")
		b.WriteString(caption)
		b.WriteString("]")
	}
	return b.String()
}

func captionImage(ctx context.Context, vp llm.VisionProvider, img parser.ExtractedImage) (string, error) {
	resp, err := vp.ChatWithImages(ctx, llm.VisionChatRequest{
		Messages: []llm.VisionMessage{
			{
				Role: "user",
				Content: []llm.ContentPart{
					{Type: "text", Text: "Describe this image in one or two sentences, focused on any text, labels, or data it contains."},
					{Type: "image_url", ImageURL: &llm.ImageURL{
						URL: "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
					}},
				},
			},
		},
		MaxTokens: 256,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// indexChunks splits, embeds (in config.BatchSize batches, with bounded
// retry), and indexes one document's chunks.
func (e *engine) indexChunks(ctx context.Context, ck *chunker.Chunker, docID int64, filename string, parsed *parser.ParsedDocument) ([]store.Chunk, error) {
	raw := ck.Chunk(parsed)
	if len(raw) == 0 {
		return nil, nil
	}
	for i := range raw {
		raw[i].DocumentID = docID
		raw[i].Filename = filename
	}

	ids, err := e.db.InsertChunks(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: persisting chunks: %v", ErrStoreClosed, err)
	}
	for i := range raw {
		raw[i].ID = ids[i]
	}

	texts := make([]string, len(raw))
	for i, c := range raw {
		texts[i] = c.Content
	}

	vecs, err := e.embedWithRetry(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	for i, c := range raw {
		if err := e.vectors.Insert(ctx, vectorstore.ChunkVector{
			ChunkID:    c.ID,
			DocumentID: docID,
			Content:    c.Content,
			Filename:   c.Filename,
			SourceKind: c.SourceKind,
			Page:       c.Page,
			LineStart:  c.LineStart,
			LineEnd:    c.LineEnd,
			Embedding:  vecs[i],
		}); err != nil {
			return nil, fmt.Errorf("%w: indexing chunk %d: %v", ErrVectorStoreFailed, c.ID, err)
		}
	}

	return raw, nil
}

// embedWithRetry retries a batch embedding call with exponential
// backoff capped at 3 attempts by default, per spec.md §4.6.
func (e *engine) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	maxAttempts := e.cfg.LLM.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		vecs, err := e.embedder.EmbedBatch(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		slog.Warn("ingest: embedding attempt failed", "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

// rollbackDocument removes a transient document's registry row, chunks,
// and any already-indexed vectors, per spec.md §4.6's failure semantics.
func (e *engine) rollbackDocument(ctx context.Context, docID int64) {
	if err := e.vectors.DeleteByDocument(ctx, docID); err != nil {
		slog.Error("ingest: rollback: vector store cleanup failed", "document_id", docID, "error", err)
	}
	if err := e.db.DeleteDocument(ctx, docID); err != nil {
		slog.Error("ingest: rollback: document cleanup failed", "document_id", docID, "error", err)
	}
}

// --- Async ingestion (C7) ---

// IngestAsync submits files to the bounded job queue and returns
// immediately with a job id (spec.md §4.6, §4.7).
func (e *engine) IngestAsync(files []jobqueue.InputFile) (string, error) {
	id, err := e.jobs.Submit(files)
	if err != nil {
		if errors.Is(err, jobqueue.ErrQueueFull) {
			return "", fmt.Errorf("%w: %v", ErrQueueFull, err)
		}
		return "", err
	}
	return id, nil
}

// JobProgress returns the current JobProgress for a job id.
func (e *engine) JobProgress(jobID string) (*jobqueue.JobProgress, error) {
	p, err := e.jobs.GetJobProgress(jobID)
	if err != nil {
		if errors.Is(err, jobqueue.ErrJobNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrJobNotFound, err)
		}
		return nil, err
	}
	return p, nil
}

// JobStats returns queue depth, worker activity, and retained jobs.
func (e *engine) JobStats() jobqueue.Stats {
	return e.jobs.ListJobs()
}

// CancelJob flips the cooperative-cancellation flag for a job.
func (e *engine) CancelJob(jobID string) error {
	if err := e.jobs.Cancel(jobID); err != nil {
		if errors.Is(err, jobqueue.ErrJobNotFound) {
			return fmt.Errorf("%w: %v", ErrJobNotFound, err)
		}
		return err
	}
	return nil
}

// ProcessFile implements jobqueue.Processor: it runs the same
// parse/chunk/embed/index pipeline as the synchronous Ingest, reporting
// per-file sub-state as it goes and embedding chunks concurrently up to
// the job's per-file chunk concurrency cap.
func (e *engine) ProcessFile(ctx context.Context, fc *jobqueue.FileContext, filename string, data []byte) error {
	fc.SetStatus(jobqueue.FileParsing)

	hash := store.ContentHash(data)
	if existing, err := e.db.FindDocumentByHash(ctx, hash); err != nil {
		return fmt.Errorf("%w: checking existing document: %v", ErrStoreClosed, err)
	} else if existing != nil {
		return nil
	}

	parsed, attempts, err := parser.ParseFile(ctx, e.parsers, filename, data)
	if err != nil {
		slog.Warn("async ingest: parse failed", "filename", filename, "attempts", len(attempts), "error", err)
		if errors.Is(err, parser.ErrUnsupportedFormat) {
			return fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
		}
		return fmt.Errorf("%w: %s: %v", ErrParsingFailed, filename, err)
	}

	fc.SetStatus(jobqueue.FileChunking)
	docID, err := e.db.CreateDocument(ctx, store.Document{
		Filename:    filename,
		FileType:    parsed.FileType,
		ContentHash: parsed.ContentHash,
		ByteSize:    int64(len(data)),
		TotalPages:  parsed.TotalPages,
		Status:      "indexed",
	})
	if err != nil {
		return fmt.Errorf("%w: registering document: %v", ErrStoreClosed, err)
	}

	raw := e.chunks.Chunk(parsed)
	for i := range raw {
		raw[i].DocumentID = docID
		raw[i].Filename = filename
	}
	if len(raw) == 0 {
		return e.db.SetTotalChunks(ctx, docID, 0)
	}

	ids, err := e.db.InsertChunks(ctx, raw)
	if err != nil {
		e.rollbackDocument(ctx, docID)
		return fmt.Errorf("%w: persisting chunks: %v", ErrStoreClosed, err)
	}
	for i := range raw {
		raw[i].ID = ids[i]
	}

	fc.SetStatus(jobqueue.FileEmbedding)
	if err := e.embedAndIndexConcurrently(ctx, fc, raw); err != nil {
		e.rollbackDocument(ctx, docID)
		return err
	}

	fc.SetStatus(jobqueue.FileIndexing)
	if err := e.db.SetTotalChunks(ctx, docID, len(raw)); err != nil {
		e.rollbackDocument(ctx, docID)
		return fmt.Errorf("%w: finalizing chunk count: %v", ErrStoreClosed, err)
	}
	if err := e.docs.PutRaw(ctx, docID, data); err != nil {
		e.rollbackDocument(ctx, docID)
		return fmt.Errorf("goreason: persisting raw bytes: %w", err)
	}
	if err := e.docs.PutText(ctx, docID, parsed.Content); err != nil {
		e.rollbackDocument(ctx, docID)
		return fmt.Errorf("goreason: persisting extracted text: %w", err)
	}

	return nil
}

// embedAndIndexConcurrently embeds and indexes one document's chunks up
// to the job's per-job concurrency cap (spec.md §4.7), bailing out on
// the first error or on cooperative cancellation.
func (e *engine) embedAndIndexConcurrently(ctx context.Context, fc *jobqueue.FileContext, chunks []store.Chunk) error {
	sem := fc.ChunkSemaphore()
	errs := make(chan error, len(chunks))
	submitted := 0

	for _, c := range chunks {
		if fc.Cancelled() {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		submitted++
		go func(c store.Chunk) {
			defer sem.Release(1)
			vec, err := e.embedder.Embed(ctx, c.Content)
			if err != nil {
				errs <- fmt.Errorf("embedding chunk %d: %w", c.ID, err)
				return
			}
			errs <- e.vectors.Insert(ctx, vectorstore.ChunkVector{
				ChunkID:    c.ID,
				DocumentID: c.DocumentID,
				Content:    c.Content,
				Filename:   c.Filename,
				SourceKind: c.SourceKind,
				Page:       c.Page,
				LineStart:  c.LineStart,
				LineEnd:    c.LineEnd,
				Embedding:  vec,
			})
		}(c)
	}

	var firstErr error
	for i := 0; i < submitted; i++ {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if submitted < len(chunks) && firstErr == nil {
		firstErr = fmt.Errorf("async ingest: cancelled before all chunks were embedded")
	}
	return firstErr
}

// --- Query (C8, C9, C10, C11, C12) ---

type queryOptions struct {
	topK                int
	similarityThreshold float64
	rerank              bool
	documentFilter      []int64
	maxRounds           int
	includeChunks       bool
	useLearning         bool
}

// QueryOption customizes a single Query call.
type QueryOption func(*queryOptions)

func WithTopK(n int) QueryOption { return func(o *queryOptions) { o.topK = n } }

func WithSimilarityThreshold(t float64) QueryOption {
	return func(o *queryOptions) { o.similarityThreshold = t }
}

func WithRerank(b bool) QueryOption { return func(o *queryOptions) { o.rerank = b } }

func WithDocumentFilter(ids []int64) QueryOption {
	return func(o *queryOptions) { o.documentFilter = ids }
}

func WithMaxRounds(n int) QueryOption      { return func(o *queryOptions) { o.maxRounds = n } }
func WithIncludeChunks(b bool) QueryOption { return func(o *queryOptions) { o.includeChunks = b } }
func WithLearning(b bool) QueryOption      { return func(o *queryOptions) { o.useLearning = b } }

// Query classifies the input (C8) and routes it to either the
// retrieval+reasoning pipeline or a literal string search.
func (e *engine) Query(ctx context.Context, question string, opts ...QueryOption) (*QueryResponse, error) {
	o := queryOptions{useLearning: true}
	for _, opt := range opts {
		opt(&o)
	}

	if classifier.Classify(question) == classifier.StringSearch {
		return e.stringSearchResponse(ctx, question)
	}
	return e.questionResponse(ctx, question, o)
}

func (e *engine) questionResponse(ctx context.Context, question string, o queryOptions) (*QueryResponse, error) {
	start := time.Now()

	liveIDs, err := e.db.AllDocumentIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: listing live documents: %v", ErrStoreClosed, err)
	}

	if cached, ok := e.answers.Get(ctx, question, liveIDs); ok {
		return &QueryResponse{
			Answer:           cached.Answer,
			ChunksRetrieved:  len(cached.Citations),
			ProcessingTimeMs: time.Since(start).Milliseconds(),
			InteractionID:    cached.InteractionID,
			RawChunks:        cached.Citations,
		}, nil
	}

	result, err := e.retriever.Search(ctx, retrieval.QueryRequest{
		Question:            question,
		TopK:                 o.topK,
		SimilarityThreshold:  o.similarityThreshold,
		Rerank:               o.rerank,
		DocumentFilter:       o.documentFilter,
		IncludeChunks:        o.includeChunks,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVectorStoreFailed, err)
	}

	if result.NotFound {
		return &QueryResponse{
			Answer:           "I don't have information about this in the documents.",
			ChunksRetrieved:  0,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}

	var answer *reasoning.Answer
	if o.useLearning {
		pastQA, lookupErr := e.knowledge.FindSimilar(ctx, question, e.cfg.Reasoning.LearningExamples)
		if lookupErr != nil {
			slog.Warn("query: knowledge lookup failed, continuing without learning examples", "error", lookupErr)
		}
		answer, err = e.reasoner.GenerateWithLearning(ctx, question, result.Chunks, pastQA, reasoning.Options{MaxRounds: o.maxRounds})
	} else {
		answer, err = e.reasoner.GenerateAnswer(ctx, question, result.Chunks, reasoning.Options{MaxRounds: o.maxRounds})
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLLMUnavailable, err)
	}

	interactionID := uuid.NewString()
	docIDs := documentIDsOf(result.Chunks)
	if err := e.db.InsertInteraction(ctx, store.QAInteraction{
		ID:          interactionID,
		Question:    question,
		Answer:      answer.Text,
		Filenames:   marshalStrings(filenamesOf(result.Chunks)),
		TopScore:    topScoreOf(result.Chunks),
		DocumentIDs: marshalInt64s(docIDs),
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		slog.Error("query: recording interaction failed", "error", err)
	}

	e.answers.Set(ctx, cache.CachedAnswer{
		Question:      question,
		Answer:        answer.Text,
		Citations:     result.Chunks,
		DocumentIDs:   docIDs,
		InteractionID: interactionID,
	})

	resp := &QueryResponse{
		Answer:           answer.Text,
		Citations:        answer.Citations,
		ChunksRetrieved:  len(result.Chunks),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		InteractionID:    interactionID,
	}
	if o.includeChunks {
		resp.RawChunks = result.Chunks
	}
	return resp, nil
}

func (e *engine) stringSearchResponse(ctx context.Context, needle string) (*QueryResponse, error) {
	start := time.Now()
	results, err := e.retriever.StringSearch(ctx, e.db, needle)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreClosed, err)
	}

	var b []byte
	for i, r := range results {
		if i > 0 {
			b = append(b, '\n')
		}
		b = append(b, []byte(fmt.Sprintf("[Source: %s] %s", r.Filename, r.Snippet))...)
	}

	return &QueryResponse{
		Answer:           string(b),
		ChunksRetrieved:  len(results),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// Feedback updates an interaction's feedback_score (spec.md §4.12).
func (e *engine) Feedback(ctx context.Context, interactionID string, score int) error {
	if err := e.db.SetFeedback(ctx, interactionID, score); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreClosed, err)
	}
	return nil
}

// --- Document registry ---

func (e *engine) ListDocuments(ctx context.Context) ([]store.Document, error) {
	docs, err := e.db.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreClosed, err)
	}
	return docs, nil
}

func (e *engine) GetDocument(ctx context.Context, id int64) (*store.Document, error) {
	doc, err := e.db.GetDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDocumentNotFound, err)
	}
	return doc, nil
}

// DeleteDocument removes a document, its chunks, and its vectors
// (spec.md §3's Document lifecycle: "destroyed by explicit delete").
func (e *engine) DeleteDocument(ctx context.Context, id int64) error {
	if err := e.vectors.DeleteByDocument(ctx, id); err != nil {
		slog.Warn("delete: vector store cleanup failed", "document_id", id, "error", err)
	}
	if err := e.docs.Delete(ctx, id); err != nil {
		slog.Warn("delete: document store cleanup failed", "document_id", id, "error", err)
	}
	if err := e.db.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("%w: %v", ErrDocumentNotFound, err)
	}
	return nil
}

// --- interaction-record helpers ---

func filenamesOf(chunks []store.RetrievalResult) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range chunks {
		if !seen[c.Filename] {
			seen[c.Filename] = true
			out = append(out, c.Filename)
		}
	}
	return out
}

func documentIDsOf(chunks []store.RetrievalResult) []int64 {
	seen := make(map[int64]bool)
	var out []int64
	for _, c := range chunks {
		if !seen[c.DocumentID] {
			seen[c.DocumentID] = true
			out = append(out, c.DocumentID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func topScoreOf(chunks []store.RetrievalResult) float64 {
	var top float64
	for _, c := range chunks {
		if c.Score > top {
			top = c.Score
		}
	}
	return top
}

func marshalStrings(v []string) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func marshalInt64s(v []int64) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

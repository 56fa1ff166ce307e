// Package embedding adapts an llm.Provider into the capability surface
// spec.md §4.3 expects of an embedding backend: single and batched
// embedding, a fixed output dimension, a name for diagnostics, and a
// cheap health check.
package embedding

import (
	"context"
	"fmt"

	"github.com/bbiangul/goreason/llm"
)

// Provider is the embedding backend contract. Every concrete backend
// (Ollama, OpenAI-compatible, LM Studio, ...) is reached through
// llm.NewProvider and wrapped by New.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	HealthCheck(ctx context.Context) error
	Name() string
}

// defaultBatchSize mirrors ruvector-rag/src/config.rs's
// embeddings.batch_size default.
const defaultBatchSize = 32

type llmProvider struct {
	inner     llm.Provider
	name      string
	dims      int
	batchSize int
}

// Config selects and sizes the embedding backend.
type Config struct {
	llm.Config
	Dimensions int
	BatchSize  int
}

// New builds a Provider from an llm.Config, wiring the embedding
// dimension and batch size spec.md §4.3/§6 require alongside it.
func New(cfg Config) (Provider, error) {
	inner, err := llm.NewProvider(cfg.Config)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &llmProvider{
		inner:     inner,
		name:      cfg.Provider,
		dims:      cfg.Dimensions,
		batchSize: batchSize,
	}, nil
}

func (p *llmProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.inner.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedding: provider %s returned no vectors", p.name)
	}
	return p.validate(vecs[0])
}

// EmbedBatch embeds texts in groups of at most batchSize, preserving
// input order across sub-batches.
func (p *llmProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.batchSize {
		end := start + p.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := p.inner.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding: batch [%d:%d]: %w", start, end, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedding: provider %s returned %d vectors for %d inputs", p.name, len(vecs), end-start)
		}
		for _, v := range vecs {
			validated, err := p.validate(v)
			if err != nil {
				return nil, err
			}
			out = append(out, validated)
		}
	}
	return out, nil
}

func (p *llmProvider) validate(v []float32) ([]float32, error) {
	if p.dims > 0 && len(v) != p.dims {
		return nil, fmt.Errorf("embedding: provider %s returned dimension %d, want %d", p.name, len(v), p.dims)
	}
	return v, nil
}

func (p *llmProvider) Dimensions() int { return p.dims }

func (p *llmProvider) Name() string { return p.name }

// HealthCheck embeds a one-word probe text to confirm the backend is
// reachable and returns vectors of the configured dimension.
func (p *llmProvider) HealthCheck(ctx context.Context) error {
	_, err := p.Embed(ctx, "ping")
	if err != nil {
		return fmt.Errorf("embedding: health check failed for %s: %w", p.name, err)
	}
	return nil
}

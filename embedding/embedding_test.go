package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/bbiangul/goreason/llm"
)

type fakeLLM struct {
	dims       int
	shouldFail bool
	calls      int
}

func (f *fakeLLM) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLLM) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.shouldFail {
		return nil, errors.New("boom")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dims)
	}
	return out, nil
}

func newTestProvider(t *testing.T, fake *fakeLLM, dims, batchSize int) Provider {
	t.Helper()
	p := &llmProvider{inner: fake, name: "fake", dims: dims, batchSize: batchSize}
	return p
}

func TestEmbedSingle(t *testing.T) {
	p := newTestProvider(t, &fakeLLM{dims: 4}, 4, 32)
	vec, err := p.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 4 {
		t.Errorf("len(vec) = %d, want 4", len(vec))
	}
}

func TestEmbedBatchSplitsAcrossBatchSize(t *testing.T) {
	fake := &fakeLLM{dims: 3}
	p := newTestProvider(t, fake, 3, 2)

	texts := []string{"a", "b", "c", "d", "e"}
	vecs, err := p.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}
	if fake.calls != 3 { // ceil(5/2) = 3
		t.Errorf("got %d provider calls, want 3", fake.calls)
	}
}

func TestEmbedDimensionMismatchErrors(t *testing.T) {
	p := newTestProvider(t, &fakeLLM{dims: 8}, 4, 32)
	if _, err := p.Embed(context.Background(), "hello"); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestHealthCheckPropagatesFailure(t *testing.T) {
	p := newTestProvider(t, &fakeLLM{dims: 4}, 4, 32)
	if err := p.HealthCheck(context.Background()); err != nil {
		t.Errorf("unexpected health check failure: %v", err)
	}

	failing := newTestProvider(t, &fakeLLM{dims: 4, shouldFail: true}, 4, 32)
	if err := failing.HealthCheck(context.Background()); err == nil {
		t.Error("expected health check to propagate provider failure")
	}
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	p := newTestProvider(t, &fakeLLM{dims: 4}, 4, 32)
	vecs, err := p.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vecs != nil {
		t.Errorf("expected nil result for empty input, got %v", vecs)
	}
}

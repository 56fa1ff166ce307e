package llm

import "context"

// xaiProvider implements Provider for xAI (Grok).
// xAI uses the OpenAI-compatible API format.
//
// API key: set via config, XAI_API_KEY env var, or the server's
// RAG_LLM_API_KEY env var (xAI is a chat-only provider in config.go's
// llm_endpoint section — it has no embeddings endpoint this client uses).
type xaiProvider struct {
	base openAICompatClient
}

// NewXAI creates a provider for xAI (Grok). Defaults to Grok's current
// flagship chat model when the config leaves Model unset.
func NewXAI(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.x.ai"
	}
	if cfg.Model == "" {
		cfg.Model = "grok-3-latest"
	}
	return &xaiProvider{base: newOpenAICompatClient(cfg)}
}

func (p *xaiProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.base.chat(ctx, req)
}

func (p *xaiProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.base.embed(ctx, texts)
}

// Package reasoning builds prompts from retrieved context, invokes the
// configured LLM, and links the resulting answer back to its supporting
// chunks (spec.md §4.10, §4.11).
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bbiangul/goreason/cache"
	"github.com/bbiangul/goreason/llm"
	"github.com/bbiangul/goreason/store"
)

// ErrLLMExhausted is returned when every retry attempt against the LLM
// provider failed.
var ErrLLMExhausted = errors.New("reasoning: llm provider exhausted retries")

// Config holds reasoning engine configuration.
type Config struct {
	Model               string
	Temperature         float64 // clamped to <= 0.3 per spec.md §4.10
	MaxTokens           int
	MaxRetries          int
	RequestTimeout      time.Duration
	MaxRounds           int
	ConfidenceThreshold float64
	LearningExamples    int // up to K prior Q&A pairs folded into the prompt
}

// Options configures a single answer generation call.
type Options struct {
	MaxRounds int
}

// Answer is the final output of the reasoning pipeline.
type Answer struct {
	Text             string     `json:"text"`
	Confidence       float64    `json:"confidence"`
	Citations        []Citation `json:"citations"`
	Reasoning        []Step     `json:"reasoning,omitempty"`
	ModelUsed        string     `json:"model_used"`
	Rounds           int        `json:"rounds"`
	PromptTokens     int        `json:"prompt_tokens"`
	CompletionTokens int        `json:"completion_tokens"`
	TotalTokens      int        `json:"total_tokens"`
}

// Step records a single round of the reasoning pipeline, kept for
// debugging/replay; it is an internal implementation detail of the
// single-call GenerateAnswer/GenerateWithLearning contract.
type Step struct {
	Round      int      `json:"round"`
	Action     string   `json:"action"`
	Input      string   `json:"input,omitempty"`
	Output     string   `json:"output,omitempty"`
	Prompt     string   `json:"prompt,omitempty"`
	Response   string   `json:"response,omitempty"`
	Validation string   `json:"validation,omitempty"`
	ChunksUsed int      `json:"chunks_used,omitempty"`
	Tokens     int      `json:"tokens,omitempty"`
	ElapsedMs  int64    `json:"elapsed_ms,omitempty"`
	Issues     []string `json:"issues,omitempty"`
}

// Engine generates grounded answers over retrieved chunks.
type Engine struct {
	chat llm.Provider
	name string
	cfg  Config
}

// New creates a reasoning engine bound to an LLM provider.
func New(chat llm.Provider, providerName string, cfg Config) *Engine {
	if cfg.MaxRounds == 0 {
		cfg.MaxRounds = 3
	}
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = 0.7
	}
	if cfg.Temperature > 0.3 {
		cfg.Temperature = 0.3
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.LearningExamples == 0 {
		cfg.LearningExamples = 3
	}
	return &Engine{chat: chat, name: providerName, cfg: cfg}
}

// Name returns the underlying provider's identifier.
func (e *Engine) Name() string { return e.name }

// Model returns the configured generation model.
func (e *Engine) Model() string { return e.cfg.Model }

// HealthCheck verifies the provider is reachable with a minimal request.
func (e *Engine) HealthCheck(ctx context.Context) error {
	_, err := e.chat.Chat(ctx, llm.ChatRequest{
		Model:       e.cfg.Model,
		Messages:    []llm.Message{{Role: "user", Content: "ping"}},
		MaxTokens:   1,
		Temperature: 0,
	})
	if err != nil {
		return fmt.Errorf("reasoning: health check: %w", err)
	}
	return nil
}

// GenerateAnswer answers a question from retrieved chunks alone.
func (e *Engine) GenerateAnswer(ctx context.Context, question string, chunks []store.RetrievalResult, opts Options) (*Answer, error) {
	return e.generate(ctx, question, chunks, nil, opts)
}

// GenerateWithLearning is GenerateAnswer plus a learning block built from
// prior Q&A interactions with non-negative feedback, chosen by lexical
// similarity to the current question (spec.md §4.10, §4.12).
func (e *Engine) GenerateWithLearning(ctx context.Context, question string, chunks []store.RetrievalResult, pastQA []store.QAInteraction, opts Options) (*Answer, error) {
	return e.generate(ctx, question, chunks, selectLearningExamples(question, pastQA, e.cfg.LearningExamples), opts)
}

func (e *Engine) generate(ctx context.Context, question string, chunks []store.RetrievalResult, learning []store.QAInteraction, opts Options) (*Answer, error) {
	maxRounds := opts.MaxRounds
	if maxRounds == 0 {
		maxRounds = e.cfg.MaxRounds
	}

	var steps []Step
	var currentAnswer string
	var modelUsed string
	var promptTokens, completionTokens, totalTokens int

	slog.Info("reasoning: generating answer", "question_len", len(question), "chunks", len(chunks), "learning_examples", len(learning))
	contextStr := buildContext(chunks)
	round1Start := time.Now()
	initialPrompt := buildAnswerPrompt(question, contextStr, learning)

	resp, err := e.chatWithRetry(ctx, initialPrompt)
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}
	round1Elapsed := time.Since(round1Start)

	currentAnswer = resp.Content
	modelUsed = resp.Model
	promptTokens += resp.PromptTokens
	completionTokens += resp.CompletionTokens
	totalTokens += resp.TotalTokens
	steps = append(steps, Step{
		Round:      1,
		Action:     "initial_answer",
		Input:      question,
		Output:     currentAnswer,
		Prompt:     initialPrompt,
		Response:   resp.Content,
		ChunksUsed: len(chunks),
		Tokens:     resp.TotalTokens,
		ElapsedMs:  round1Elapsed.Milliseconds(),
	})

	var confidence float64
	if maxRounds >= 2 {
		validation := validate(currentAnswer, chunks)
		steps = append(steps, Step{
			Round:      2,
			Action:     "validation",
			Input:      currentAnswer,
			Output:     validation.summary(),
			Validation: validation.summary(),
			Issues:     append(append(append([]string{}, validation.citationIssues...), validation.consistencyIssues...), validation.completenessIssues...),
		})
		confidence = validation.confidence()

		if maxRounds >= 3 && confidence < e.cfg.ConfidenceThreshold {
			round3Start := time.Now()
			refinementPrompt := buildRefinementPrompt(question, currentAnswer, contextStr, validation)

			resp, err = e.chatWithRetry(ctx, refinementPrompt)
			if err == nil {
				round3Elapsed := time.Since(round3Start)
				currentAnswer = resp.Content
				promptTokens += resp.PromptTokens
				completionTokens += resp.CompletionTokens
				totalTokens += resp.TotalTokens
				steps = append(steps, Step{
					Round:      3,
					Action:     "refinement",
					Input:      validation.summary(),
					Output:     currentAnswer,
					Prompt:     refinementPrompt,
					Response:   resp.Content,
					ChunksUsed: len(chunks),
					Tokens:     resp.TotalTokens,
					ElapsedMs:  round3Elapsed.Milliseconds(),
				})
				confidence = validate(currentAnswer, chunks).confidence()
			}
		}
	} else {
		confidence = ComputeConfidence(currentAnswer, chunks, DefaultConfidenceWeights())
	}

	linkedText, citations := LinkCitations(currentAnswer, chunks)

	return &Answer{
		Text:             linkedText,
		Confidence:       confidence,
		Citations:        citations,
		Reasoning:        steps,
		ModelUsed:        modelUsed,
		Rounds:           len(steps),
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      totalTokens,
	}, nil
}

// chatWithRetry retries transport failures with exponential backoff, up
// to cfg.MaxRetries attempts, per spec.md §4.10.
func (e *Engine) chatWithRetry(ctx context.Context, prompt string) (*llm.ChatResponse, error) {
	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt < e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		reqCtx := ctx
		var cancel context.CancelFunc
		if e.cfg.RequestTimeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, e.cfg.RequestTimeout)
		}
		resp, err := e.chat.Chat(reqCtx, llm.ChatRequest{
			Model: e.cfg.Model,
			Messages: []llm.Message{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: prompt},
			},
			Temperature: e.cfg.Temperature,
			MaxTokens:   e.cfg.MaxTokens,
		})
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return resp, nil
		}
		lastErr = err
		slog.Warn("reasoning: chat attempt failed", "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("%w: %v", ErrLLMExhausted, lastErr)
}

const systemPrompt = `You are a precise document analysis assistant. Answer questions based ONLY on the provided context.
Rules:
1. Only state facts that are directly supported by the provided sources.
2. Cite every claim with a marker in the exact form [Source: filename, Page N] or [Source: filename, Lines A-B].
3. If the context doesn't contain enough information to answer, say so explicitly rather than guessing.
4. Be concise but thorough.`

// buildContext assembles the retrieved chunks into the spec's
// "[Source: filename(, Page N|, Lines A-B)]" header format.
func buildContext(chunks []store.RetrievalResult) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(renderMarker(c))
		b.WriteString("\n")
		b.WriteString(c.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}

func buildAnswerPrompt(question, contextStr string, learning []store.QAInteraction) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	b.WriteString(contextStr)

	if len(learning) > 0 {
		b.WriteString("\nPreviously answered questions that were marked helpful (for style and scope guidance only, not as a source of facts):\n")
		for _, qa := range learning {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n\n", qa.Question, qa.Answer)
		}
	}

	fmt.Fprintf(&b, "\nQuestion: %s\n\nProvide a detailed answer based only on the context above, citing every claim.", question)
	return b.String()
}

func buildRefinementPrompt(question, previousAnswer, contextStr string, v *validationResult) string {
	return fmt.Sprintf(`Context:
%s

Question: %s

Previous answer:
%s

Issues found during validation:
%s

Provide an improved answer that addresses the validation issues. Ensure every claim carries a [Source: ...] marker.`, contextStr, question, previousAnswer, v.summary())
}

// selectLearningExamples picks the top-k prior interactions by token-set
// Jaccard similarity to question, ties broken by recency, per spec.md §4.12.
// Only interactions with a non-negative feedback score are eligible. The
// ranking itself is the cache package's (C12's) canonical
// RankBySimilarity, so C10 and C12 share one similarity implementation.
func selectLearningExamples(question string, pastQA []store.QAInteraction, k int) []store.QAInteraction {
	eligible := make([]store.QAInteraction, 0, len(pastQA))
	for _, qa := range pastQA {
		if qa.FeedbackScore != nil && *qa.FeedbackScore >= 0 {
			eligible = append(eligible, qa)
		}
	}
	return cache.RankBySimilarity(question, eligible, k)
}

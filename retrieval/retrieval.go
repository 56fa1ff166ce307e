// Package retrieval implements spec.md §4.9's retrieval pipeline:
// embed the question, overfetch from the vector store, drop anything
// under the similarity threshold, optionally re-rank lexically, and
// assemble highlighted citations plus a prompt-ready context block.
package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/bbiangul/goreason/chunker"
	"github.com/bbiangul/goreason/embedding"
	"github.com/bbiangul/goreason/store"
	"github.com/bbiangul/goreason/vectorstore"
)

const (
	DefaultTopK               = 15
	DefaultSimilarityThreshold = 0.20

	// requirementBoost nudges normative chunks (SHALL/MUST/REQUIRED
	// language, per chunker.ContentType) ahead of same-scoring prose
	// when the question itself asks in normative terms — "what must
	// the contractor do" should surface the obligation clause over a
	// background paragraph that merely mentions the same words.
	requirementBoost = 0.05
)

// QueryRequest mirrors spec.md §3's QueryRequest record.
type QueryRequest struct {
	Question           string
	TopK               int
	SimilarityThreshold float64
	Rerank              bool
	DocumentFilter      []int64
	IncludeChunks       bool
}

// WithDefaults fills a zero TopK and SimilarityThreshold with spec.md §3's
// defaults. Rerank is not defaulted: a false Rerank stays false.
func (r QueryRequest) WithDefaults() QueryRequest {
	if r.TopK <= 0 {
		r.TopK = DefaultTopK
	}
	if r.SimilarityThreshold <= 0 {
		r.SimilarityThreshold = DefaultSimilarityThreshold
	}
	return r
}

// Result is the outcome of a Search call: the filtered, ranked, and
// (optionally) rerank-truncated chunks, the assembled context block
// ready to feed a prompt, and highlighted citation snippets.
type Result struct {
	Chunks     []store.RetrievalResult
	Context    string
	Citations  []HighlightedCitation
	NotFound   bool
}

// HighlightedCitation carries a chunk's content with <mark> tags around
// every literal, case-insensitive match of a query term (len >= 3).
type HighlightedCitation struct {
	ChunkID    int64
	DocumentID int64
	Filename   string
	SourceKind string
	Page       int
	LineStart  int
	LineEnd    int
	Score      float64
	Highlighted string
}

// Engine performs embedding-based retrieval over a vectorstore.Store.
type Engine struct {
	embedder embedding.Provider
	vectors  vectorstore.Store
	efSearch int
}

// New creates a retrieval engine. efSearch is the vector backend's
// search-quality knob (spec.md §6's vector_db.hnsw_ef_search).
func New(embedder embedding.Provider, vectors vectorstore.Store, efSearch int) *Engine {
	return &Engine{embedder: embedder, vectors: vectors, efSearch: efSearch}
}

// Search runs the full C9 pipeline for a question-style query.
func (e *Engine) Search(ctx context.Context, req QueryRequest) (*Result, error) {
	req = req.WithDefaults()

	vec, err := e.embedder.Embed(ctx, req.Question)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embedding question: %w", err)
	}

	overfetch := req.TopK * 2
	raw, err := e.vectors.Search(ctx, vec, overfetch, e.efSearch, req.DocumentFilter)
	if err != nil {
		return nil, fmt.Errorf("retrieval: vector search: %w", err)
	}

	filtered := make([]store.RetrievalResult, 0, len(raw))
	for _, r := range raw {
		if r.Score >= req.SimilarityThreshold {
			filtered = append(filtered, r)
		}
	}

	if req.Rerank {
		filtered = lexicalRerank(req.Question, filtered)
	} else {
		sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Score > filtered[j].Score })
	}

	if len(filtered) > req.TopK {
		filtered = filtered[:req.TopK]
	}

	if len(filtered) == 0 {
		return &Result{NotFound: true}, nil
	}

	return &Result{
		Chunks:    filtered,
		Context:   buildContext(filtered),
		Citations: buildCitations(req.Question, filtered),
	}, nil
}

// lexicalRerank re-scores each chunk as 0.7*similarity + 0.3*term_overlap
// (over query terms of length >= 3) and re-sorts descending, per
// spec.md §4.9.
func lexicalRerank(question string, chunks []store.RetrievalResult) []store.RetrievalResult {
	terms := significantTerms(question)
	if len(terms) == 0 {
		sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Score > chunks[j].Score })
		return chunks
	}
	askingForRequirement := chunker.IsRequirement(question)

	type scored struct {
		chunk store.RetrievalResult
		score float64
	}
	rescored := make([]scored, len(chunks))
	for i, c := range chunks {
		overlap := termOverlap(terms, c.Content)
		score := 0.7*c.Score + 0.3*(overlap/float64(len(terms)))
		if askingForRequirement && chunker.ContentType(c.Content) == "requirement" {
			score += requirementBoost
		}
		rescored[i] = scored{chunk: c, score: score}
	}
	sort.SliceStable(rescored, func(i, j int) bool { return rescored[i].score > rescored[j].score })

	out := make([]store.RetrievalResult, len(rescored))
	for i, s := range rescored {
		out[i] = s.chunk
		out[i].Score = s.score
	}
	return out
}

func termOverlap(terms []string, content string) float64 {
	lower := strings.ToLower(content)
	count := 0.0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			count++
		}
	}
	return count
}

// significantTerms lowercases and splits the question, keeping terms of
// length >= 3 (spec.md §4.9's lexical rerank and highlight input).
func significantTerms(question string) []string {
	fields := strings.Fields(strings.ToLower(question))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()[]")
		if len(f) >= 3 {
			out = append(out, f)
		}
	}
	return out
}

// buildContext assembles retrieved chunks into per-chunk
// "[Source: filename(, Page N|, Lines A-B)]" headers, ready for the
// prompt builder (C10) to consume and for the citation linker (C11) to
// resolve markers against.
func buildContext(chunks []store.RetrievalResult) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(header(c))
		b.WriteString("\n")
		b.WriteString(c.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}

func header(c store.RetrievalResult) string {
	switch {
	case c.Page > 0:
		return fmt.Sprintf("[Source: %s, Page %d]", c.Filename, c.Page)
	case c.LineStart > 0:
		return fmt.Sprintf("[Source: %s, Lines %d-%d]", c.Filename, c.LineStart, c.LineEnd)
	default:
		return fmt.Sprintf("[Source: %s]", c.Filename)
	}
}

// buildCitations highlights every case-insensitive match of a
// significant query term with <mark> tags.
func buildCitations(question string, chunks []store.RetrievalResult) []HighlightedCitation {
	terms := significantTerms(question)
	out := make([]HighlightedCitation, len(chunks))
	for i, c := range chunks {
		out[i] = HighlightedCitation{
			ChunkID:     c.ChunkID,
			DocumentID:  c.DocumentID,
			Filename:    c.Filename,
			SourceKind:  c.SourceKind,
			Page:        c.Page,
			LineStart:   c.LineStart,
			LineEnd:     c.LineEnd,
			Score:       c.Score,
			Highlighted: highlight(c.Content, terms),
		}
	}
	return out
}

func highlight(content string, terms []string) string {
	if len(terms) == 0 {
		return content
	}
	escaped := make([]string, len(terms))
	for i, t := range terms {
		escaped[i] = regexp.QuoteMeta(t)
	}
	pattern := regexp.MustCompile(`(?i)(` + strings.Join(escaped, "|") + `)`)
	return pattern.ReplaceAllString(content, "<mark>$1</mark>")
}

// StringSearchResult is a single literal match, per spec.md §6's
// POST /api/string-search response shape.
type StringSearchResult struct {
	Filename string
	Snippet  string
	Offset   int
}

// plainTextScanner is the narrow surface StringSearch needs from
// *store.Store, kept as an interface so it's fakeable in tests.
type plainTextScanner interface {
	ScanPlainText(ctx context.Context, needle string) ([]store.RetrievalResult, error)
}

// StringSearch bypasses embedding entirely, scanning persisted plain
// text for literal case-insensitive matches (the StringSearch branch of
// the C8 query classifier).
func (e *Engine) StringSearch(ctx context.Context, s plainTextScanner, needle string) ([]StringSearchResult, error) {
	matches, err := s.ScanPlainText(ctx, needle)
	if err != nil {
		return nil, fmt.Errorf("retrieval: string search: %w", err)
	}

	out := make([]StringSearchResult, 0, len(matches))
	lowerNeedle := strings.ToLower(needle)
	for _, m := range matches {
		lowerContent := strings.ToLower(m.Content)
		offset := strings.Index(lowerContent, lowerNeedle)
		if offset < 0 {
			continue
		}
		out = append(out, StringSearchResult{
			Filename: m.Filename,
			Snippet:  snippetAround(m.Content, offset, len(needle)),
			Offset:   offset,
		})
	}
	return out, nil
}

// snippetAround returns up to 60 characters of context on either side
// of a match, trimmed to whitespace boundaries.
func snippetAround(content string, offset, matchLen int) string {
	const radius = 60
	start := offset - radius
	if start < 0 {
		start = 0
	}
	end := offset + matchLen + radius
	if end > len(content) {
		end = len(content)
	}
	snippet := content[start:end]
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(content) {
		snippet = snippet + "..."
	}
	return snippet
}

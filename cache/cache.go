// Package cache implements spec.md §4.12's two knowledge-layer stores:
// a lexical-similarity lookup over past question/answer interactions,
// and an LRU answer cache keyed by normalized question text.
package cache

import (
	"context"
	"sort"
	"strings"

	"github.com/bbiangul/goreason/store"
)

// KnowledgeStore finds past interactions lexically similar to a new
// question, for use as few-shot learning examples (C10).
type KnowledgeStore struct {
	fetch func(ctx context.Context) ([]store.QAInteraction, error)
}

// NewKnowledgeStore wraps the interaction fetcher the live store exposes
// (store.Store.ListInteractionsEligible), keeping this package free of a
// direct *store.Store dependency so it stays unit-testable.
func NewKnowledgeStore(fetch func(ctx context.Context) ([]store.QAInteraction, error)) *KnowledgeStore {
	return &KnowledgeStore{fetch: fetch}
}

// FindSimilar returns the top-k interactions yielded by the fetch
// function, ranked by token-set Jaccard similarity to question, ties
// broken by recency (CreatedAt descending). It does not filter by
// feedback_score itself; eligibility is whatever fetch returns.
func (k *KnowledgeStore) FindSimilar(ctx context.Context, question string, topK int) ([]store.QAInteraction, error) {
	all, err := k.fetch(ctx)
	if err != nil {
		return nil, err
	}
	return RankBySimilarity(question, all, topK), nil
}

// RankBySimilarity ranks candidates by token-set Jaccard similarity to
// question, ties broken by recency (CreatedAt descending), truncated to
// topK. It is the canonical similarity ranking for C12; the reasoning
// package's learning-example selection (C10) calls into this directly
// rather than keeping its own copy.
func RankBySimilarity(question string, candidates []store.QAInteraction, topK int) []store.QAInteraction {
	if topK <= 0 || len(candidates) == 0 {
		return nil
	}

	qTokens := tokenSet(question)
	type scored struct {
		qa    store.QAInteraction
		score float64
	}
	scoredAll := make([]scored, 0, len(candidates))
	for _, qa := range candidates {
		scoredAll = append(scoredAll, scored{qa: qa, score: jaccard(qTokens, tokenSet(qa.Question))})
	}

	sort.SliceStable(scoredAll, func(i, j int) bool {
		if scoredAll[i].score != scoredAll[j].score {
			return scoredAll[i].score > scoredAll[j].score
		}
		return scoredAll[i].qa.CreatedAt > scoredAll[j].qa.CreatedAt
	})

	if topK > len(scoredAll) {
		topK = len(scoredAll)
	}
	out := make([]store.QAInteraction, topK)
	for i := 0; i < topK; i++ {
		out[i] = scoredAll[i].qa
	}
	return out
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[tok] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if b[tok] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// CachedAnswer is an answer-cache entry (spec.md §4.12).
type CachedAnswer struct {
	Question      string                  `json:"question"`
	Answer        string                  `json:"answer"`
	Citations     []store.RetrievalResult `json:"citations"`
	DocumentIDs   []int64                 `json:"document_ids"`
	InteractionID string                  `json:"interaction_id"`
}

// normalize collapses a question to the cache's lookup key: lowercased,
// whitespace-collapsed.
func normalize(question string) string {
	return strings.Join(strings.Fields(strings.ToLower(question)), " ")
}

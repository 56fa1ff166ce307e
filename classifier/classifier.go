// Package classifier implements spec.md §4.8's query-type decision
// tree: route a user's query to either the embedding-based Question
// pipeline (C9) or the literal StringSearch pipeline, without ever
// calling an embedding provider to make that decision.
package classifier

import "strings"

// QueryType is the outcome of Classify.
type QueryType int

const (
	// StringSearch bypasses embedding and scans persisted plain text
	// for literal, case-insensitive matches.
	StringSearch QueryType = iota
	// Question is answered through the embedding + retrieval + LLM
	// pipeline.
	Question
)

func (t QueryType) String() string {
	if t == Question {
		return "Question"
	}
	return "StringSearch"
}

// questionWords are the first-token triggers that mark a query as a
// Question even without a trailing "?" (spec.md §4.8).
var questionWords = map[string]bool{
	"what": true, "how": true, "why": true, "when": true, "where": true,
	"who": true, "which": true, "can": true, "could": true, "would": true,
	"should": true, "is": true, "are": true, "do": true, "does": true,
	"explain": true, "describe": true, "tell": true, "show": true,
	"find": true, "list": true,
}

// Classify runs the decision tree:
//  1. trimmed input ending in "?" is a Question.
//  2. otherwise, if the first word is a question word, it's a Question.
//  3. otherwise, five or more tokens is treated as a Question (longer
//     inputs read as natural-language asks rather than literal lookups).
//  4. otherwise, StringSearch.
func Classify(input string) QueryType {
	trimmed := strings.TrimSpace(input)
	if strings.HasSuffix(trimmed, "?") {
		return Question
	}

	tokens := strings.Fields(strings.ToLower(trimmed))
	if len(tokens) == 0 {
		return StringSearch
	}
	if questionWords[tokens[0]] {
		return Question
	}
	if len(tokens) >= 5 {
		return Question
	}
	return StringSearch
}

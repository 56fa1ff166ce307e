package reasoning

import (
	"strings"
	"testing"

	"github.com/bbiangul/goreason/store"
)

func testChunks() []store.RetrievalResult {
	return []store.RetrievalResult{
		{
			ChunkID:    1,
			DocumentID: 100,
			Content:    "The tensile strength shall be at least 500 MPa as specified in section 3.2.",
			SourceKind: "pdf",
			Page:       5,
			Filename:   "spec-doc.pdf",
			Score:      0.95,
		},
		{
			ChunkID:    2,
			DocumentID: 100,
			Content:    "All materials must comply with ISO 9001 quality management standards.",
			SourceKind: "pdf",
			Page:       8,
			Filename:   "spec-doc.pdf",
			Score:      0.88,
		},
		{
			ChunkID:    3,
			DocumentID: 101,
			Content:    "The contractor shall perform risk assessment per ISO 31000 guidelines.",
			SourceKind: "pdf",
			Page:       12,
			Filename:   "contract.pdf",
			Score:      0.75,
		},
	}
}

func TestValidation(t *testing.T) {
	chunks := testChunks()

	tests := []struct {
		name              string
		answer            string
		wantCitationValid bool
		wantConsistValid  bool
	}{
		{
			name:              "answer with a resolvable marker",
			answer:            "The tensile strength must be at least 500 MPa [Source: spec-doc.pdf, Page 5].",
			wantCitationValid: true,
			wantConsistValid:  true,
		},
		{
			name:              "answer with no marker at all",
			answer:            "The tensile strength is 500 MPa.",
			wantCitationValid: false,
			wantConsistValid:  true,
		},
		{
			name:              "answer with marker to an unknown file",
			answer:            "The value is 500 MPa [Source: unknown-file.pdf].",
			wantCitationValid: false,
			wantConsistValid:  true,
		},
		{
			name:              "answer using external knowledge",
			answer:            "Based on my knowledge, the standard requirement is 500 MPa [Source: spec-doc.pdf].",
			wantCitationValid: true,
			wantConsistValid:  false,
		},
		{
			name:              "answer with contradiction language",
			answer:            "The document states 500 MPa [Source: spec-doc.pdf]. However, the document says the opposite about this requirement.",
			wantCitationValid: true,
			wantConsistValid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validate(tt.answer, chunks)

			if result.citationValid != tt.wantCitationValid {
				t.Errorf("citationValid: got %v, want %v (issues: %v)",
					result.citationValid, tt.wantCitationValid, result.citationIssues)
			}
			if result.consistencyValid != tt.wantConsistValid {
				t.Errorf("consistencyValid: got %v, want %v (issues: %v)",
					result.consistencyValid, tt.wantConsistValid, result.consistencyIssues)
			}
		})
	}
}

func TestLinkCitationsResolvesByFilenameAndPage(t *testing.T) {
	chunks := testChunks()
	answer := "The tensile strength is 500 MPa [Source: spec-doc.pdf, Page 5]."

	_, citations := LinkCitations(answer, chunks)
	if len(citations) != 1 {
		t.Fatalf("expected 1 citation, got %d: %+v", len(citations), citations)
	}
	if citations[0].ChunkID != 1 {
		t.Errorf("expected chunk 1 (page 5 match), got chunk %d", citations[0].ChunkID)
	}
}

func TestLinkCitationsPrefersPageOverFilenameOnly(t *testing.T) {
	chunks := testChunks()
	// Page 8 belongs to chunk 2, even though chunk 1 shares the filename.
	answer := "Materials comply with ISO 9001 [Source: spec-doc.pdf, Page 8]."

	_, citations := LinkCitations(answer, chunks)
	if len(citations) != 1 || citations[0].ChunkID != 2 {
		t.Fatalf("expected chunk 2, got %+v", citations)
	}
}

func TestLinkCitationsSubstringFilenameMatch(t *testing.T) {
	chunks := testChunks()
	answer := "Risk assessment is required [Source: contract]."

	_, citations := LinkCitations(answer, chunks)
	if len(citations) != 1 || citations[0].ChunkID != 3 {
		t.Fatalf("expected chunk 3 via substring match, got %+v", citations)
	}
}

func TestLinkCitationsDedupesRepeatedMarkers(t *testing.T) {
	chunks := testChunks()
	answer := "Per [Source: spec-doc.pdf, Page 5], the value is 500 MPa. Again, [Source: spec-doc.pdf, Page 5] confirms this."

	_, citations := LinkCitations(answer, chunks)
	if len(citations) != 1 {
		t.Fatalf("expected a single deduped citation, got %d: %+v", len(citations), citations)
	}
}

func TestLinkCitationsFallbackWhenNoMarkers(t *testing.T) {
	chunks := testChunks()
	answer := "The tensile strength is 500 MPa with no citation markers at all."

	text, citations := LinkCitations(answer, chunks)
	if len(citations) != 3 {
		t.Fatalf("expected fallback to pick all 3 chunks, got %d", len(citations))
	}
	if !strings.Contains(text, "Sources used:") {
		t.Errorf("expected fallback text to append a Sources used block, got %q", text)
	}
}

func TestLinkCitationsFallbackWithNoChunks(t *testing.T) {
	text, citations := LinkCitations("No evidence was retrieved for this question.", nil)
	if citations != nil {
		t.Errorf("expected no citations with no chunks, got %+v", citations)
	}
	if strings.Contains(text, "Sources used:") {
		t.Errorf("should not append a sources block with no chunks available")
	}
}

func TestLinkCitationsFillsSnippet(t *testing.T) {
	chunks := testChunks()
	answer := "The tensile strength is 500 MPa [Source: spec-doc.pdf, Page 5]."

	_, citations := LinkCitations(answer, chunks)
	if len(citations) != 1 {
		t.Fatalf("expected 1 citation, got %d", len(citations))
	}
	if citations[0].Snippet == "" {
		t.Errorf("expected a non-empty snippet")
	}
}

func TestTruncateAtWordBoundaryShortContentUnchanged(t *testing.T) {
	if got := truncateAtWordBoundary("short content", maxSnippetChars); got != "short content" {
		t.Errorf("expected unchanged short content, got %q", got)
	}
}

func TestTruncateAtWordBoundaryBacksOffToSpace(t *testing.T) {
	content := strings.Repeat("word ", 100) + "tail"
	got := truncateAtWordBoundary(content, 20)
	if strings.HasSuffix(got, "wor…") || !strings.HasSuffix(got, "…") {
		t.Errorf("expected truncation to end at a word boundary with an ellipsis, got %q", got)
	}
	if strings.Contains(got, "word word word word word word") {
		t.Errorf("expected content truncated well below original length, got %q", got)
	}
}

func TestConfidenceScoring(t *testing.T) {
	chunks := testChunks()
	weights := DefaultConfidenceWeights()

	tests := []struct {
		name    string
		answer  string
		minConf float64
		maxConf float64
	}{
		{
			name:    "well-cited answer",
			answer:  "The tensile strength is at least 500 MPa [Source: spec-doc.pdf, Page 5]. This is confirmed by ISO 9001 compliance [Source: spec-doc.pdf, Page 8].",
			minConf: 0.4,
			maxConf: 1.0,
		},
		{
			name:    "uncertain answer",
			answer:  "I'm not sure about this. It's unclear from the provided documents. Cannot determine the exact requirement.",
			minConf: 0.0,
			maxConf: 0.5,
		},
		{
			name:    "empty answer",
			answer:  "",
			minConf: 0.0,
			maxConf: 0.5,
		},
		{
			name:    "very short answer",
			answer:  "500 MPa",
			minConf: 0.0,
			maxConf: 0.6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := ComputeConfidence(tt.answer, chunks, weights)

			if conf < tt.minConf || conf > tt.maxConf {
				t.Errorf("confidence: got %f, want between %f and %f",
					conf, tt.minConf, tt.maxConf)
			}
		})
	}
}

func TestConfidenceWeightsDefault(t *testing.T) {
	w := DefaultConfidenceWeights()

	sum := w.SourceCoverage + w.CitationAccuracy + w.SelfConsistency + w.AnswerLength
	if diff := sum - 1.0; diff < -0.01 || diff > 0.01 {
		t.Errorf("default weights should sum to 1.0, got %f", sum)
	}
}

func TestComputeConfidenceEmptyChunks(t *testing.T) {
	weights := DefaultConfidenceWeights()
	conf := ComputeConfidence("Some answer text here for testing purposes.", nil, weights)

	if conf < 0 || conf > 1 {
		t.Errorf("confidence should be between 0 and 1, got %f", conf)
	}
}

func TestValidationResultConfidence(t *testing.T) {
	tests := []struct {
		name    string
		result  validationResult
		minConf float64
		maxConf float64
	}{
		{
			name: "all valid",
			result: validationResult{
				citationValid:     true,
				consistencyValid:  true,
				completenessValid: true,
			},
			minConf: 1.0,
			maxConf: 1.0,
		},
		{
			name: "citation issues",
			result: validationResult{
				citationValid:     false,
				citationIssues:    []string{"missing references"},
				consistencyValid:  true,
				completenessValid: true,
			},
			minConf: 0.8,
			maxConf: 0.9,
		},
		{
			name: "consistency issues",
			result: validationResult{
				citationValid:      true,
				consistencyValid:   false,
				consistencyIssues:  []string{"contradiction found"},
				completenessValid:  true,
			},
			minConf: 0.7,
			maxConf: 0.9,
		},
		{
			name: "multiple issues",
			result: validationResult{
				citationValid:      false,
				citationIssues:     []string{"no refs", "fabricated ref"},
				consistencyValid:   false,
				consistencyIssues:  []string{"contradiction"},
				completenessValid:  false,
				completenessIssues: []string{"incomplete"},
			},
			minConf: 0.0,
			maxConf: 0.5,
		},
		{
			name: "many issues lower bound clamped",
			result: validationResult{
				citationValid:      false,
				citationIssues:     []string{"a", "b", "c", "d", "e", "f", "g"},
				consistencyValid:   false,
				consistencyIssues:  []string{"x", "y", "z"},
				completenessValid:  false,
				completenessIssues: []string{"1", "2", "3"},
			},
			minConf: 0.0,
			maxConf: 0.01,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := tt.result.confidence()

			if conf < tt.minConf || conf > tt.maxConf {
				t.Errorf("confidence: got %f, want between %f and %f",
					conf, tt.minConf, tt.maxConf)
			}
		})
	}
}

func TestValidationResultSummary(t *testing.T) {
	t.Run("all passed", func(t *testing.T) {
		v := &validationResult{
			citationValid:     true,
			consistencyValid:  true,
			completenessValid: true,
		}
		summary := v.summary()
		if summary != "All validations passed." {
			t.Errorf("expected 'All validations passed.', got %q", summary)
		}
	})

	t.Run("citation issues", func(t *testing.T) {
		v := &validationResult{
			citationValid:     false,
			citationIssues:    []string{"no source references"},
			consistencyValid:  true,
			completenessValid: true,
		}
		summary := v.summary()
		if !strings.Contains(summary, "Citation issues") {
			t.Errorf("expected summary to contain 'Citation issues', got %q", summary)
		}
		if !strings.Contains(summary, "no source references") {
			t.Errorf("expected summary to contain issue text, got %q", summary)
		}
	})

	t.Run("multiple issue types", func(t *testing.T) {
		v := &validationResult{
			citationValid:      false,
			citationIssues:     []string{"missing refs"},
			consistencyValid:   false,
			consistencyIssues:  []string{"contradiction found"},
			completenessValid:  false,
			completenessIssues: []string{"incomplete analysis"},
		}
		summary := v.summary()
		if !strings.Contains(summary, "Citation issues") {
			t.Errorf("expected Citation issues in summary, got %q", summary)
		}
		if !strings.Contains(summary, "Consistency issues") {
			t.Errorf("expected Consistency issues in summary, got %q", summary)
		}
		if !strings.Contains(summary, "Completeness issues") {
			t.Errorf("expected Completeness issues in summary, got %q", summary)
		}
	})
}

func TestAnswerLengthScore(t *testing.T) {
	tests := []struct {
		name      string
		wordCount int
		expected  float64
	}{
		{"very short", 5, 0.2},
		{"short", 20, 0.5},
		{"medium", 60, 0.8},
		{"long", 200, 1.0},
		{"very long", 600, 0.9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			words := make([]string, tt.wordCount)
			for i := range words {
				words[i] = "word"
			}
			answer := strings.Join(words, " ")
			score := answerLengthScore(answer)
			if score != tt.expected {
				t.Errorf("answerLengthScore(%d words): got %f, want %f",
					tt.wordCount, score, tt.expected)
			}
		})
	}
}

func TestSelfConsistencyScore(t *testing.T) {
	tests := []struct {
		name    string
		answer  string
		minConf float64
		maxConf float64
	}{
		{
			name:    "consistent answer",
			answer:  "The requirement is clearly stated in the document.",
			minConf: 0.99,
			maxConf: 1.0,
		},
		{
			name:    "contradictory answer",
			answer:  "The value is 500 MPa. On the other hand, it contradicts the earlier specification.",
			minConf: 0.5,
			maxConf: 0.8,
		},
		{
			name:    "uncertain answer",
			answer:  "I'm not sure about this and cannot determine the exact value.",
			minConf: 0.3,
			maxConf: 0.7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := selfConsistencyScore(tt.answer)
			if score < tt.minConf || score > tt.maxConf {
				t.Errorf("selfConsistencyScore: got %f, want between %f and %f",
					score, tt.minConf, tt.maxConf)
			}
		})
	}
}

func TestSelectLearningExamplesFiltersNegativeFeedback(t *testing.T) {
	neg := -1
	pos := 1
	pastQA := []store.QAInteraction{
		{Question: "what is the tensile strength", Answer: "500 MPa", FeedbackScore: &pos, CreatedAt: "2026-01-01"},
		{Question: "what is the tensile strength requirement", Answer: "bad answer", FeedbackScore: &neg, CreatedAt: "2026-01-02"},
		{Question: "unrelated question about pricing", Answer: "n/a", FeedbackScore: &pos, CreatedAt: "2026-01-03"},
	}

	selected := selectLearningExamples("what is the tensile strength requirement", pastQA, 2)
	if len(selected) != 2 {
		t.Fatalf("expected 2 examples, got %d: %+v", len(selected), selected)
	}
	for _, qa := range selected {
		if qa.FeedbackScore != nil && *qa.FeedbackScore < 0 {
			t.Errorf("negative-feedback interaction should not be selected: %+v", qa)
		}
	}
	if selected[0].Question != "what is the tensile strength" {
		t.Errorf("expected the most lexically similar question first, got %q", selected[0].Question)
	}
}

func TestSelectLearningExamplesEmptyWithZeroK(t *testing.T) {
	pos := 1
	pastQA := []store.QAInteraction{{Question: "q", Answer: "a", FeedbackScore: &pos}}
	if got := selectLearningExamples("q", pastQA, 0); got != nil {
		t.Errorf("expected nil with k=0, got %+v", got)
	}
}

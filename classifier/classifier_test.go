package classifier

import "testing"

func TestClassifyLiteralExamples(t *testing.T) {
	tests := []struct {
		input string
		want  QueryType
	}{
		{"How does X work?", Question},
		{"photosynthesis", StringSearch},
		{"climate change report 2023 summary", Question}, // >= 5 tokens
		{"what is the meaning of life", Question},
		{"Explain the warranty clause", Question},
		{"tensile strength", StringSearch},
		{"PN-4021", StringSearch},
		{"", StringSearch},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Classify(tt.input); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestClassifyTrailingQuestionMarkAlwaysWins(t *testing.T) {
	if got := Classify("widget"); got != StringSearch {
		t.Fatalf("sanity check failed: got %v", got)
	}
	if got := Classify("widget?"); got != Question {
		t.Errorf("trailing '?' should force Question, got %v", got)
	}
}

func TestClassifyFirstWordCaseInsensitive(t *testing.T) {
	if got := Classify("WHAT is this"); got != Question {
		t.Errorf("expected Question for uppercase question word, got %v", got)
	}
}

func TestQueryTypeString(t *testing.T) {
	if Question.String() != "Question" {
		t.Errorf("Question.String() = %q", Question.String())
	}
	if StringSearch.String() != "StringSearch" {
		t.Errorf("StringSearch.String() = %q", StringSearch.String())
	}
}

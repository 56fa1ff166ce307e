package reasoning

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/bbiangul/goreason/store"
)

// Citation is a user-visible reference from an answer back to the chunk
// that supports it (spec.md §3's Citation data model).
type Citation struct {
	ChunkID    int64   `json:"chunk_id"`
	DocumentID int64   `json:"document_id"`
	Filename   string  `json:"filename"`
	SourceKind string  `json:"source_kind"`
	Page       int     `json:"page,omitempty"`
	LineStart  int      `json:"line_start,omitempty"`
	LineEnd    int      `json:"line_end,omitempty"`
	Score      float64 `json:"score"`
	Snippet    string  `json:"snippet"`
}

// markerPattern matches [Source: <filename>(, Page <n>|, Lines <a>(-<b>)?)?],
// the stable citation marker format of spec.md §6.
var markerPattern = regexp.MustCompile(`\[Source:\s*([^,\]]+?)(?:,\s*Page\s*(\d+)|,\s*Lines\s*(\d+)(?:-(\d+))?)?\]`)

type marker struct {
	filename    string
	page        int
	lineStart   int
	lineEnd     int
	hasPage     bool
	hasLines    bool
}

// parseMarkers scans answer text for citation markers.
func parseMarkers(answer string) []marker {
	matches := markerPattern.FindAllStringSubmatch(answer, -1)
	out := make([]marker, 0, len(matches))
	for _, m := range matches {
		mk := marker{filename: strings.TrimSpace(m[1])}
		if m[2] != "" {
			if n, err := strconv.Atoi(m[2]); err == nil {
				mk.page = n
				mk.hasPage = true
			}
		}
		if m[3] != "" {
			if n, err := strconv.Atoi(m[3]); err == nil {
				mk.lineStart = n
				mk.hasLines = true
				mk.lineEnd = n
				if m[4] != "" {
					if e, err := strconv.Atoi(m[4]); err == nil {
						mk.lineEnd = e
					}
				}
			}
		}
		out = append(out, mk)
	}
	return out
}

// LinkCitations resolves every marker in answer to one of the retrieved
// chunks, per spec.md §4.11's precedence: exact filename+page, exact
// filename+line_start, exact filename, substring filename (either
// direction). A marker that resolves to an already-linked chunk is
// dropped (dedup by chunk id). If no markers parse but chunks exist, the
// fallback picks the top 3 by score and appends a "Sources used:" block
// so no answer ships unsourced.
func LinkCitations(answer string, chunks []store.RetrievalResult) (string, []Citation) {
	markers := parseMarkers(answer)
	if len(markers) == 0 {
		return fallbackCitations(answer, chunks)
	}

	linked := make([]Citation, 0, len(markers))
	seen := make(map[int64]bool)
	for _, mk := range markers {
		c, ok := resolve(mk, chunks)
		if !ok || seen[c.ChunkID] {
			continue
		}
		seen[c.ChunkID] = true
		linked = append(linked, toCitation(c))
	}
	return answer, linked
}

func resolve(mk marker, chunks []store.RetrievalResult) (store.RetrievalResult, bool) {
	// 1. Exact filename AND matching page.
	if mk.hasPage {
		for _, c := range chunks {
			if strings.EqualFold(c.Filename, mk.filename) && c.Page == mk.page {
				return c, true
			}
		}
	}
	// 2. Exact filename AND matching line_start.
	if mk.hasLines {
		for _, c := range chunks {
			if strings.EqualFold(c.Filename, mk.filename) && c.LineStart == mk.lineStart {
				return c, true
			}
		}
	}
	// 3. Filename exact match.
	for _, c := range chunks {
		if strings.EqualFold(c.Filename, mk.filename) {
			return c, true
		}
	}
	// 4. Substring filename match, either direction.
	lowerRef := strings.ToLower(mk.filename)
	for _, c := range chunks {
		lowerFn := strings.ToLower(c.Filename)
		if strings.Contains(lowerFn, lowerRef) || strings.Contains(lowerRef, lowerFn) {
			return c, true
		}
	}
	return store.RetrievalResult{}, false
}

// fallbackCitations picks the top 3 chunks by score when the answer
// carries no parseable marker, so the client never sees an unsourced
// answer despite having retrieved evidence.
func fallbackCitations(answer string, chunks []store.RetrievalResult) (string, []Citation) {
	if len(chunks) == 0 {
		return answer, nil
	}
	n := 3
	if len(chunks) < n {
		n = len(chunks)
	}
	top := chunks[:n]

	var b strings.Builder
	b.WriteString(answer)
	b.WriteString("\n\nSources used:\n")
	citations := make([]Citation, 0, n)
	for _, c := range top {
		citations = append(citations, toCitation(c))
		b.WriteString("- ")
		b.WriteString(renderMarker(c))
		b.WriteString("\n")
	}
	return b.String(), citations
}

func renderMarker(c store.RetrievalResult) string {
	switch {
	case c.Page > 0:
		return "[Source: " + c.Filename + ", Page " + strconv.Itoa(c.Page) + "]"
	case c.LineStart > 0:
		return "[Source: " + c.Filename + ", Lines " + strconv.Itoa(c.LineStart) + "-" + strconv.Itoa(c.LineEnd) + "]"
	default:
		return "[Source: " + c.Filename + "]"
	}
}

func toCitation(c store.RetrievalResult) Citation {
	return Citation{
		ChunkID:    c.ChunkID,
		DocumentID: c.DocumentID,
		Filename:   c.Filename,
		SourceKind: c.SourceKind,
		Page:       c.Page,
		LineStart:  c.LineStart,
		LineEnd:    c.LineEnd,
		Score:      c.Score,
		Snippet:    truncateAtWordBoundary(c.Content, maxSnippetChars),
	}
}

// maxSnippetChars is the citation snippet's default configured maximum
// (spec.md §3's "short snippet, truncated at word boundary").
const maxSnippetChars = 280

// truncateAtWordBoundary shortens content to at most max characters,
// backing off to the preceding space so a citation never ends mid-word.
func truncateAtWordBoundary(content string, max int) string {
	content = strings.TrimSpace(content)
	if len(content) <= max {
		return content
	}
	cut := strings.LastIndexByte(content[:max], ' ')
	if cut <= 0 {
		cut = max
	}
	return strings.TrimSpace(content[:cut]) + "…"
}

package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bbiangul/goreason/parser"
	"github.com/bbiangul/goreason/store"
)

// Config controls the sliding-window chunking behaviour (spec.md §4.2).
type Config struct {
	ChunkSize        int  // target window size, in characters.
	ChunkOverlap     int  // overlap between consecutive windows, in characters.
	MinChunkSize     int  // windows smaller than this are dropped, except the final window.
	RespectSentences bool // extend windows to the next sentence boundary when possible.
}

// sentenceExtensionFactor bounds how far a window may grow past
// ChunkSize while hunting for a sentence or clause boundary.
const sentenceExtensionFactor = 1.25

// Chunker converts a parsed document into store-ready chunks.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration. Zero-value size
// fields fall back to the defaults from ruvector-rag's chunking section
// (chunk_size=1024, chunk_overlap=200, min_chunk_size=100);
// RespectSentences is used exactly as given.
func New(cfg Config) *Chunker {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 1024
	}
	if cfg.ChunkOverlap == 0 {
		cfg.ChunkOverlap = 200
	}
	if cfg.MinChunkSize == 0 {
		cfg.MinChunkSize = 100
	}
	return &Chunker{cfg: cfg}
}

// Chunk splits a parsed document into ordered, dense-ordinal chunks.
// Code files are routed to the declaration-aware code chunker; every
// other file type uses the character sliding window.
func (c *Chunker) Chunk(doc *parser.ParsedDocument) []store.Chunk {
	if doc.FileType == "code" {
		return c.chunkCode(doc)
	}
	return c.chunkText(doc)
}

// chunkText implements the sliding window of spec.md §4.2: advance by
// chunk_size-chunk_overlap, extend to a sentence (or, for numbered
// legal-style text, a clause) boundary up to chunk_size*1.25, falling
// back to the nearest whitespace run and finally to a hard cut.
func (c *Chunker) chunkText(doc *parser.ParsedDocument) []store.Chunk {
	content := doc.Content
	n := len(content)
	if n == 0 {
		return nil
	}

	clauseBoundaries := DetectClauseBoundaries(content)
	step := c.cfg.ChunkSize - c.cfg.ChunkOverlap
	if step <= 0 {
		step = c.cfg.ChunkSize
	}

	var chunks []store.Chunk
	ordinal := 0
	start := 0

	for start < n {
		naiveEnd := start + c.cfg.ChunkSize
		if naiveEnd > n {
			naiveEnd = n
		}
		maxEnd := start + int(float64(c.cfg.ChunkSize)*sentenceExtensionFactor)
		if maxEnd > n {
			maxEnd = n
		}

		end := naiveEnd
		isFinal := naiveEnd >= n

		if !isFinal {
			if c.cfg.RespectSentences {
				if boundary, ok := nextBoundary(content, naiveEnd, maxEnd, clauseBoundaries); ok {
					end = boundary
				} else if ws, ok := nextWhitespace(content, naiveEnd, maxEnd); ok {
					end = ws
				}
			} else if ws, ok := nextWhitespace(content, naiveEnd, maxEnd); ok {
				end = ws
			}
			end = snapToRuneBoundary(content, end)
			isFinal = end >= n
		}

		window := content[start:end]
		trimmed := strings.TrimSpace(window)
		if len(trimmed) >= c.cfg.MinChunkSize || isFinal {
			if trimmed != "" {
				chunks = append(chunks, c.buildChunk(doc, ordinal, start, end, trimmed))
				ordinal++
			}
		}

		if end >= n {
			break
		}
		next := start + step
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

// nextBoundary finds the earliest sentence or clause boundary in
// [from, to), returning the offset just past the boundary.
func nextBoundary(content string, from, to int, clauses []int) (int, bool) {
	best := -1

	for i := from; i < to && i < len(content); i++ {
		r := content[i]
		if r == '.' || r == '!' || r == '?' {
			next := i + 1
			if next >= len(content) || isSpaceByte(content[next]) {
				best = next
				break
			}
		}
	}

	for _, cb := range clauses {
		if cb >= from && cb < to {
			if best == -1 || cb < best {
				best = cb
			}
			break
		}
	}

	if best == -1 {
		return 0, false
	}
	return best, true
}

// nextWhitespace finds the first whitespace rune in [from, to), used as
// the fallback boundary when no sentence/clause end is found.
func nextWhitespace(content string, from, to int) (int, bool) {
	if to > len(content) {
		to = len(content)
	}
	for i := from; i < to; i++ {
		if isSpaceByte(content[i]) {
			return i, true
		}
	}
	return 0, false
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}

func snapToRuneBoundary(content string, idx int) int {
	for idx > 0 && idx < len(content) && !utf8.RuneStart(content[idx]) {
		idx--
	}
	return idx
}

// buildChunk assembles a store.Chunk for the window [start,end), resolving
// its source location from the parser's hints.
func (c *Chunker) buildChunk(doc *parser.ParsedDocument, ordinal, start, end int, content string) store.Chunk {
	page := pageAt(doc.Hints, start)
	lineStart := strings.Count(doc.Content[:start], "\n") + 1
	lineEnd := strings.Count(doc.Content[:end], "\n") + 1

	sourceKind := "offset"
	switch {
	case page > 0:
		sourceKind = "page"
	case doc.FileType == "text" || doc.FileType == "markdown" || doc.FileType == "code":
		sourceKind = "line"
	}

	return store.Chunk{
		Ordinal:      ordinal,
		Content:      content,
		SourceKind:   sourceKind,
		Page:         page,
		LineStart:    lineStart,
		LineEnd:      lineEnd,
		OffsetStart:  start,
		OffsetLength: end - start,
	}
}

// pageAt returns the page number in effect at offset, from the hint with
// the greatest Offset <= offset, or 0 if the document is not paginated.
func pageAt(hints []parser.SourceHint, offset int) int {
	idx := sort.Search(len(hints), func(i int) bool { return hints[i].Offset > offset })
	if idx == 0 {
		return 0
	}
	return hints[idx-1].Page
}

// ---------------------------------------------------------------------------
// code chunker
// ---------------------------------------------------------------------------

// declarationKeywords lists common top-level declaration keywords
// across the languages most likely to appear in ingested source files.
var declarationKeywords = []string{
	"func ", "func(", "type ", "class ", "def ", "struct ", "interface ",
	"impl ", "fn ", "public ", "private ", "protected ", "export ",
}

// chunkCode chunks source files at declaration boundaries, falling back
// to the text sliding window only when the file has no detectable
// declaration at all. A span with no boundary within the extension
// bound (e.g. a single oversized function body) is grown to the next
// boundary, or to EOF, and kept as one chunk; it is not split further.
func (c *Chunker) chunkCode(doc *parser.ParsedDocument) []store.Chunk {
	content := doc.Content
	if strings.TrimSpace(content) == "" {
		return nil
	}

	boundaries := declarationBoundaries(content)
	if len(boundaries) == 0 {
		return c.chunkText(doc)
	}

	var chunks []store.Chunk
	ordinal := 0
	start := 0
	bi := 0

	for start < len(content) {
		// Find the farthest declaration boundary that still keeps this
		// window within the extension bound.
		limit := start + int(float64(c.cfg.ChunkSize)*sentenceExtensionFactor)
		end := -1
		for bi < len(boundaries) && boundaries[bi] <= start {
			bi++
		}
		j := bi
		for j < len(boundaries) && boundaries[j] <= limit {
			end = boundaries[j]
			j++
		}

		if end == -1 || end-start < c.cfg.MinChunkSize {
			// No usable boundary yet: grow to the next one regardless of
			// size, or to EOF if this is the last declaration.
			if j < len(boundaries) {
				end = boundaries[j]
			} else {
				end = len(content)
			}
		}
		if end <= start {
			end = len(content)
		}

		trimmed := strings.TrimSpace(content[start:end])
		if trimmed != "" {
			chunks = append(chunks, c.buildChunk(doc, ordinal, start, end, trimmed))
			ordinal++
		}
		start = end
		bi = j
	}

	return chunks
}

// declarationBoundaries returns the byte offsets of lines that begin a
// top-level declaration (no leading indentation), used as hard cut
// points so chunks never split a function or type mid-body.
func declarationBoundaries(content string) []int {
	var boundaries []int
	offset := 0
	for _, line := range strings.Split(content, "\n") {
		if isDeclarationStart(line) {
			boundaries = append(boundaries, offset)
		}
		offset += len(line) + 1
	}
	return boundaries
}

func isDeclarationStart(line string) bool {
	if line == "" || unicode.IsSpace(rune(line[0])) {
		return false
	}
	for _, kw := range declarationKeywords {
		if strings.HasPrefix(line, kw) {
			return true
		}
	}
	return false
}

// ContentHash returns the SHA-256 hex digest of text, used to detect
// unchanged chunk content across re-ingestion of the same document.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/bbiangul/goreason/store"
)

// FileTier classifies the structural difficulty of an input file, which
// selects the parser strategy (spec.md §4.1).
type FileTier string

const (
	TierSimpleText   FileTier = "simple-text"
	TierLayout       FileTier = "text-with-layout"
	TierScannedImage FileTier = "scanned-image"
	TierCorrupt      FileTier = "corrupt"
)

// ParserAttemptRecord diagnoses a single parser attempt against a file.
type ParserAttemptRecord struct {
	Name    string    `json:"name"`
	Started time.Time `json:"started"`
	Ended   time.Time `json:"ended"`
	Error   string    `json:"error,omitempty"`
}

// SourceHint anchors a byte offset in the flattened document content to a
// page number (paginated formats) or a line number (line-oriented
// formats). Hints are sorted ascending by Offset; the chunker maps a
// window's starting offset to the hint with the greatest Offset <= it.
type SourceHint struct {
	Offset int
	Page   int // 1-based; 0 if not paginated
	Line   int // 1-based; 0 if not line-oriented
}

// ParsedDocument is the normalized output of the parser stage (C1's
// contract in spec.md §4.1).
type ParsedDocument struct {
	Content     string
	FileType    string
	ContentHash string
	TotalPages  int
	Hints       []SourceHint
	Images      []ExtractedImage
}

// AllParsersFailedError is returned when every tier-appropriate parser
// attempt failed to yield content, preserving the full attempt list for
// diagnostics (spec.md §4.1).
type AllParsersFailedError struct {
	Filename string
	Attempts []ParserAttemptRecord
}

func (e *AllParsersFailedError) Error() string {
	return fmt.Sprintf("goreason: all parsers failed for %q (%d attempts)", e.Filename, len(e.Attempts))
}

// ClassifyTier runs the lightweight analysis pass that picks a FileTier
// for filename/content before any parser actually runs.
func ClassifyTier(filename string, path string) FileTier {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt", ".md", ".csv", ".json":
		return TierSimpleText
	case ".pdf":
		score, err := DetectComplexity(path)
		if err != nil {
			return TierCorrupt
		}
		if score.IsComplex() {
			return TierScannedImage
		}
		return TierLayout
	case ".docx", ".xlsx", ".pptx":
		return TierLayout
	case ".doc", ".xls", ".ppt":
		return TierLayout
	default:
		return TierSimpleText
	}
}

// fileTypeFromExt maps an extension to spec.md §3's Document.file_type enum.
func fileTypeFromExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return "pdf"
	case ".txt":
		return "text"
	case ".md":
		return "markdown"
	case ".html", ".htm":
		return "html"
	case ".docx", ".doc", ".xlsx", ".xls", ".pptx", ".ppt":
		return "office"
	case ".go", ".py", ".js", ".ts", ".java", ".rs", ".c", ".cpp", ".rb":
		return "code"
	default:
		return "text"
	}
}

// tierOrder returns the parser strategies to try, in order, for a tier.
// Each entry is a strategy name that ParseFile resolves through
// Registry.GetStrategy and records in the attempt list.
func tierOrder(tier FileTier) []string {
	switch tier {
	case TierSimpleText:
		return []string{"native"}
	case TierLayout:
		return []string{"native", "llamaparse"}
	case TierScannedImage:
		return []string{"vision", "native"}
	default:
		return []string{"native"}
	}
}

// ParseFile runs the tiered parser strategy of spec.md §4.1: classify,
// then try parsers in tier-appropriate order until one yields non-empty
// content, recording every attempt.
func ParseFile(ctx context.Context, reg *Registry, filename string, data []byte) (*ParsedDocument, []ParserAttemptRecord, error) {
	tmpFile, err := writeTemp(filename, data)
	if err != nil {
		return nil, nil, fmt.Errorf("goreason: writing temp file: %w", err)
	}
	defer os.Remove(tmpFile)

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	tier := ClassifyTier(filename, tmpFile)
	if tier == TierCorrupt {
		return nil, nil, fmt.Errorf("goreason: %s: %w", filename, ErrCorruptFile)
	}

	if _, err := reg.Get(ext); err != nil {
		return nil, nil, fmt.Errorf("goreason: %s: %w", filename, ErrUnsupportedFormat)
	}

	var attempts []ParserAttemptRecord
	strategies := tierOrder(tier)

	for _, strategy := range strategies {
		p, err := reg.GetStrategy(ext, strategy)
		if err != nil {
			// Strategy not configured for this deployment (e.g. no vision
			// provider or no LlamaParse API key) — not a parse failure,
			// just an unavailable attempt. Try the next strategy.
			attempts = append(attempts, ParserAttemptRecord{
				Name:  strategy,
				Error: err.Error(),
			})
			continue
		}

		rec := ParserAttemptRecord{Name: strategy, Started: time.Now()}
		result, err := p.Parse(ctx, tmpFile)
		rec.Ended = time.Now()
		if err != nil {
			rec.Error = err.Error()
			attempts = append(attempts, rec)
			continue
		}
		content := flattenSections(result.Sections)
		if strings.TrimSpace(content) == "" {
			rec.Error = "empty content"
			attempts = append(attempts, rec)
			continue
		}
		attempts = append(attempts, rec)

		doc := &ParsedDocument{
			Content:     normalizeText(content),
			FileType:    fileTypeFromExt(filename),
			ContentHash: store.ContentHash(data),
			TotalPages:  maxPage(result.Sections),
			Hints:       buildHints(result.Sections),
			Images:      result.Images,
		}
		return doc, attempts, nil
	}

	return nil, attempts, &AllParsersFailedError{Filename: filename, Attempts: attempts}
}

func writeTemp(filename string, data []byte) (string, error) {
	f, err := os.CreateTemp("", "goreason-*-"+filepath.Base(filename))
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return "", err
	}
	return f.Name(), nil
}

// flattenSections concatenates section content depth-first, separated by
// blank lines, preserving a stable traversal order for offset hints.
func flattenSections(sections []Section) string {
	var b strings.Builder
	flattenInto(&b, sections)
	return b.String()
}

func flattenInto(b *strings.Builder, sections []Section) {
	for _, sec := range sections {
		if sec.Heading != "" {
			b.WriteString(sec.Heading)
			b.WriteString("\n\n")
		}
		if sec.Content != "" {
			b.WriteString(sec.Content)
			b.WriteString("\n\n")
		}
		flattenInto(b, sec.Children)
	}
}

// buildHints walks sections in the same order as flattenSections,
// recording the byte offset at which each section's page begins.
func buildHints(sections []Section) []SourceHint {
	var hints []SourceHint
	offset := 0
	var walk func([]Section)
	walk = func(secs []Section) {
		for _, sec := range secs {
			if sec.PageNumber > 0 {
				hints = append(hints, SourceHint{Offset: offset, Page: sec.PageNumber})
			}
			if sec.Heading != "" {
				offset += len(sec.Heading) + 2
			}
			if sec.Content != "" {
				offset += len(sec.Content) + 2
			}
			walk(sec.Children)
		}
	}
	walk(sections)
	return hints
}

func maxPage(sections []Section) int {
	max := 0
	var walk func([]Section)
	walk = func(secs []Section) {
		for _, sec := range secs {
			if sec.PageNumber > max {
				max = sec.PageNumber
			}
			walk(sec.Children)
		}
	}
	walk(sections)
	return max
}

// normalizeText applies spec.md §4.1's text normalization: BOM strip,
// CRLF→LF, Unicode NFC, trim trailing per-line whitespace.
func normalizeText(s string) string {
	s = strings.TrimPrefix(s, "﻿")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = norm.NFC.String(s)

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}
	return strings.Join(lines, "\n")
}

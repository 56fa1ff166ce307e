package parser

import (
	"fmt"
	"time"

	"github.com/bbiangul/goreason/llm"
)

// LlamaParseConfig configures the external layout-aware parsing fallback
// (spec.md §4.1's "text-with-layout" tier's second attempt).
type LlamaParseConfig struct {
	APIKey      string
	BaseURL     string
	PollTimeout time.Duration // 0 means the llamaparse package's own default
}

// Registry resolves a parser both by file format (Get, used outside the
// tiered retry loop) and by tier strategy name (GetStrategy, used by
// ParseFile). SetLlamaParse/SetVisionProvider register additional
// strategies alongside the native parsers rather than displacing them,
// so a format's native parser stays reachable even once a fallback
// strategy is configured for it.
type Registry struct {
	native     map[string]Parser
	llamaParse Parser
	vision     Parser
}

func NewRegistry() *Registry {
	r := &Registry{native: make(map[string]Parser)}
	// Register built-in parsers
	pdf := &PDFParser{}
	docx := &DOCXParser{}
	xlsx := &XLSXParser{}
	pptx := &PPTXParser{}
	text := &TextParser{}
	legacy := &LegacyParser{}

	for _, p := range []Parser{pdf, docx, xlsx, pptx, text, legacy} {
		for _, f := range p.SupportedFormats() {
			r.native[f] = p
		}
	}
	return r
}

// SetLlamaParse registers the external layout-extraction fallback.
// LlamaParse accepts any of its SupportedFormats directly, so one
// instance serves every format's "llamaparse" strategy.
func (r *Registry) SetLlamaParse(cfg LlamaParseConfig) {
	r.llamaParse = NewLlamaParseParser(cfg)
}

// SetVisionProvider registers the vision-LLM OCR fallback used for
// TierScannedImage (spec.md §4.1's "OCR fallback" step). Call only with
// a provider that actually implements llm.VisionProvider — goreason.New
// skips registration when the configured chat provider doesn't support
// ChatWithImages, in which case the "vision" strategy is simply
// unavailable and ParseFile falls through to its next strategy.
func (r *Registry) SetVisionProvider(provider llm.VisionProvider) {
	r.vision = NewPDFVisionParser(provider)
}

// Get resolves a format's native parser.
func (r *Registry) Get(format string) (Parser, error) {
	p, ok := r.native[format]
	if !ok {
		return nil, fmt.Errorf("no parser for format: %s", format)
	}
	return p, nil
}

// GetStrategy resolves the parser for one tier strategy name (tierOrder's
// "native", "llamaparse", "vision"), so ParseFile's retry loop tries a
// genuinely different implementation on each iteration instead of
// replaying the same parser against the same file.
func (r *Registry) GetStrategy(format, strategy string) (Parser, error) {
	switch strategy {
	case "llamaparse":
		if r.llamaParse == nil {
			return nil, fmt.Errorf("llamaparse strategy not configured")
		}
		return r.llamaParse, nil
	case "vision":
		if r.vision == nil {
			return nil, fmt.Errorf("vision strategy not configured")
		}
		return r.vision, nil
	default:
		return r.Get(format)
	}
}

// Register adds or overrides the native parser for format.
func (r *Registry) Register(format string, p Parser) {
	r.native[format] = p
}

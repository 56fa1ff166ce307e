package parser

import (
	"context"
	"fmt"
)

// LegacyParser claims the pre-XML Office binary formats so the native
// strategy in tierOrder's text-with-layout order has *something* to
// fail fast with, pushing ParseFile straight on to the "llamaparse"
// strategy rather than reporting ErrUnsupportedFormat outright.
type LegacyParser struct{}

func (p *LegacyParser) SupportedFormats() []string { return []string{"doc", "xls", "ppt"} }

func (p *LegacyParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	return nil, fmt.Errorf("legacy binary Office format has no native parser; set external_parser.enabled in config to extract it via LlamaParse")
}

package parser

import "errors"

var (
	// ErrCorruptFile is returned when a file fails structural validation
	// before any parser attempt is made (spec.md §4.1, FileTier corrupt).
	ErrCorruptFile = errors.New("file is corrupt or unreadable")
	// ErrUnsupportedFormat is returned when no registered parser claims
	// the file's extension.
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

package goreason

import "errors"

// ErrorKind classifies an error for the HTTP error envelope (spec.md §7):
// {"error": {"type": <kind>, "message": <string>}}.
type ErrorKind string

const (
	KindConfig              ErrorKind = "Config"
	KindFileParse            ErrorKind = "FileParse"
	KindUnsupportedFileType  ErrorKind = "UnsupportedFileType"
	KindEmbedding            ErrorKind = "Embedding"
	KindVectorDb             ErrorKind = "VectorDb"
	KindLlm                  ErrorKind = "Llm"
	KindDocumentNotFound     ErrorKind = "DocumentNotFound"
	KindIo                   ErrorKind = "Io"
	KindJson                 ErrorKind = "Json"
	KindHttp                 ErrorKind = "Http"
	KindInternal             ErrorKind = "Internal"
)

// HTTPStatus returns the stable HTTP status for a kind, per spec.md §7's table.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindConfig, KindFileParse, KindUnsupportedFileType, KindJson:
		return 400
	case KindDocumentNotFound:
		return 404
	case KindLlm:
		return 503
	case KindHttp:
		return 502
	case KindEmbedding, KindVectorDb, KindIo, KindInternal:
		return 500
	default:
		return 500
	}
}

var (
	// ErrDocumentNotFound is returned when a document ID does not exist.
	ErrDocumentNotFound = errors.New("goreason: document not found")

	// ErrUnsupportedFormat is returned for unrecognized file formats.
	ErrUnsupportedFormat = errors.New("goreason: unsupported document format")

	// ErrParsingFailed is returned when every parser tier failed to decode a file.
	ErrParsingFailed = errors.New("goreason: parsing failed")

	// ErrEmbeddingFailed is returned when embedding generation fails.
	ErrEmbeddingFailed = errors.New("goreason: embedding generation failed")

	// ErrLLMUnavailable is returned when the LLM provider is unreachable.
	ErrLLMUnavailable = errors.New("goreason: LLM provider unavailable")

	// ErrVectorStoreFailed is returned on vector index read/write failure.
	ErrVectorStoreFailed = errors.New("goreason: vector store failure")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("goreason: store is closed")

	// ErrNoResults is returned when retrieval yields no matching chunks.
	ErrNoResults = errors.New("goreason: no results found")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("goreason: invalid configuration")

	// ErrQueueFull is returned when the job queue is at capacity (C7).
	ErrQueueFull = errors.New("goreason: job queue is full")

	// ErrJobNotFound is returned for an unknown or evicted job id.
	ErrJobNotFound = errors.New("goreason: job not found")
)

// KindOf maps a sentinel error (possibly wrapped) to its ErrorKind, for the
// HTTP layer's error envelope. Unrecognized errors classify as Internal.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrDocumentNotFound), errors.Is(err, ErrJobNotFound):
		return KindDocumentNotFound
	case errors.Is(err, ErrUnsupportedFormat):
		return KindUnsupportedFileType
	case errors.Is(err, ErrParsingFailed):
		return KindFileParse
	case errors.Is(err, ErrEmbeddingFailed):
		return KindEmbedding
	case errors.Is(err, ErrVectorStoreFailed):
		return KindVectorDb
	case errors.Is(err, ErrLLMUnavailable):
		return KindLlm
	case errors.Is(err, ErrInvalidConfig):
		return KindConfig
	default:
		return KindInternal
	}
}

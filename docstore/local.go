package docstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Local stores each document under baseDir/{doc_id}/raw and
// baseDir/{doc_id}/text.txt.
type Local struct {
	baseDir string
}

// NewLocal creates the base directory if it does not already exist.
func NewLocal(baseDir string) (*Local, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("docstore: creating base dir: %w", err)
	}
	return &Local{baseDir: baseDir}, nil
}

func (l *Local) Name() string { return "local" }

func (l *Local) docDir(docID int64) string {
	return filepath.Join(l.baseDir, strconv.FormatInt(docID, 10))
}

func (l *Local) PutRaw(ctx context.Context, docID int64, data []byte) error {
	return l.write(docID, "raw", data)
}

func (l *Local) PutText(ctx context.Context, docID int64, text string) error {
	return l.write(docID, "text.txt", []byte(text))
}

func (l *Local) write(docID int64, name string, data []byte) error {
	dir := l.docDir(docID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("docstore: creating doc dir: %w", err)
	}
	path := filepath.Join(dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("docstore: writing %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("docstore: committing %s: %w", name, err)
	}
	return nil
}

func (l *Local) GetRaw(ctx context.Context, docID int64) ([]byte, error) {
	return l.read(docID, "raw")
}

func (l *Local) GetText(ctx context.Context, docID int64) (string, error) {
	data, err := l.read(docID, "text.txt")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (l *Local) read(docID int64, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.docDir(docID), name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("docstore: reading %s: %w", name, err)
	}
	return data, nil
}

func (l *Local) Delete(ctx context.Context, docID int64) error {
	if err := os.RemoveAll(l.docDir(docID)); err != nil {
		return fmt.Errorf("docstore: deleting doc dir: %w", err)
	}
	return nil
}

var _ Store = (*Local)(nil)

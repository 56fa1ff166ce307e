package docstore

import (
	"context"
	"errors"
	"testing"
)

func TestLocalPutAndGet(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	ctx := context.Background()

	if err := l.PutRaw(ctx, 1, []byte("raw-bytes")); err != nil {
		t.Fatalf("PutRaw: %v", err)
	}
	if err := l.PutText(ctx, 1, "extracted text"); err != nil {
		t.Fatalf("PutText: %v", err)
	}

	raw, err := l.GetRaw(ctx, 1)
	if err != nil {
		t.Fatalf("GetRaw: %v", err)
	}
	if string(raw) != "raw-bytes" {
		t.Errorf("GetRaw = %q, want %q", raw, "raw-bytes")
	}

	text, err := l.GetText(ctx, 1)
	if err != nil {
		t.Fatalf("GetText: %v", err)
	}
	if text != "extracted text" {
		t.Errorf("GetText = %q, want %q", text, "extracted text")
	}
}

func TestLocalGetMissingReturnsErrNotFound(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	if _, err := l.GetRaw(context.Background(), 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRaw on missing doc: got %v, want ErrNotFound", err)
	}
}

func TestLocalDeleteRemovesBoth(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	ctx := context.Background()
	if err := l.PutRaw(ctx, 2, []byte("x")); err != nil {
		t.Fatalf("PutRaw: %v", err)
	}
	if err := l.PutText(ctx, 2, "y"); err != nil {
		t.Fatalf("PutText: %v", err)
	}
	if err := l.Delete(ctx, 2); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := l.GetRaw(ctx, 2); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRaw after delete: got %v, want ErrNotFound", err)
	}
}

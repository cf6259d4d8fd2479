package imagefeatures

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"testing"

	"github.com/kirillkom/docsense/internal/core/domain"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R', 0, 0, 0, 1, 0, 0, 0, 1, 8, 2, 0, 0, 0}

type fakeStorage struct {
	files map[string][]byte
}

func (f *fakeStorage) Save(context.Context, string, io.Reader) error { return nil }

func (f *fakeStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	raw, ok := f.files[key]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (f *fakeStorage) Exists(_ context.Context, key string) (bool, error) {
	_, ok := f.files[key]
	return ok, nil
}

func (f *fakeStorage) Delete(context.Context, string) error { return nil }

func TestExtractEncodesImage(t *testing.T) {
	e := NewExtractor(&fakeStorage{files: map[string][]byte{"a.png": pngHeader}}, 0)

	features, err := e.Extract(context.Background(), "a.png")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if features.MimeType != "image/png" {
		t.Fatalf("expected image/png, got %q", features.MimeType)
	}
	if features.Encoded != base64.StdEncoding.EncodeToString(pngHeader) {
		t.Fatalf("unexpected encoding")
	}
	if features.ContentHandle != "a.png" {
		t.Fatalf("expected handle to be carried, got %q", features.ContentHandle)
	}
}

func TestExtractRejectsNonImage(t *testing.T) {
	e := NewExtractor(&fakeStorage{files: map[string][]byte{"a.txt": []byte("hello world")}}, 0)
	_, err := e.Extract(context.Background(), "a.txt")
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestExtractRejectsOversized(t *testing.T) {
	e := NewExtractor(&fakeStorage{files: map[string][]byte{"a.png": pngHeader}}, 8)
	_, err := e.Extract(context.Background(), "a.png")
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestExtractMissingContent(t *testing.T) {
	e := NewExtractor(&fakeStorage{files: map[string][]byte{}}, 0)
	_, err := e.Extract(context.Background(), "gone.png")
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

package imagefeatures

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/kirillkom/docsense/internal/core/domain"
	"github.com/kirillkom/docsense/internal/core/ports"
)

const DefaultMaxBytes int64 = 20 << 20

// Extractor reads a stored image once and produces model-ready features.
type Extractor struct {
	storage  ports.ObjectStorage
	maxBytes int64
}

func NewExtractor(storage ports.ObjectStorage, maxBytes int64) *Extractor {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Extractor{storage: storage, maxBytes: maxBytes}
}

func (e *Extractor) Extract(ctx context.Context, contentHandle string) (domain.VisualFeatures, error) {
	reader, err := e.storage.Open(ctx, contentHandle)
	if err != nil {
		if domain.IsKind(err, domain.ErrDocumentNotFound) || domain.IsKind(err, domain.ErrInvalidInput) {
			return domain.VisualFeatures{}, err
		}
		return domain.VisualFeatures{}, domain.WrapError(domain.ErrStoreUnavailable, "open document image", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(io.LimitReader(reader, e.maxBytes+1))
	if err != nil {
		return domain.VisualFeatures{}, domain.WrapError(domain.ErrStoreUnavailable, "read document image", err)
	}
	if int64(len(raw)) > e.maxBytes {
		return domain.VisualFeatures{}, fmt.Errorf("%w: image exceeds %d bytes", domain.ErrInvalidInput, e.maxBytes)
	}
	if len(raw) == 0 {
		return domain.VisualFeatures{}, fmt.Errorf("%w: empty image", domain.ErrInvalidInput)
	}

	mt := mimetype.Detect(raw)
	if !strings.HasPrefix(mt.String(), "image/") {
		return domain.VisualFeatures{}, fmt.Errorf("%w: unsupported content type %s", domain.ErrInvalidInput, mt.String())
	}

	return domain.VisualFeatures{
		ContentHandle: contentHandle,
		MimeType:      mt.String(),
		Encoded:       base64.StdEncoding.EncodeToString(raw),
	}, nil
}

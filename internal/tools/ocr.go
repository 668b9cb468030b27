package tools

import (
	"context"

	"github.com/echogarden-io/echogarden/internal/apperr"
	"github.com/echogarden-io/echogarden/pkg/provider/vision"
	"github.com/echogarden-io/echogarden/pkg/store"
)

// OCR implements the ocr registry tool: ocr({blob_id}) -> {text, language?, conf}.
type OCR struct {
	blobs    store.BlobRepo
	provider vision.Provider
}

// NewOCR constructs the ocr tool.
func NewOCR(blobs store.BlobRepo, provider vision.Provider) *OCR {
	return &OCR{blobs: blobs, provider: provider}
}

func (t *OCR) Name() string { return "ocr" }

func (t *OCR) InputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"required":   []string{"blob_id"},
		"properties": map[string]any{"blob_id": map[string]any{"type": "string"}},
	}
}

func (t *OCR) OutputSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"text", "conf"},
		"properties": map[string]any{
			"text":     map[string]any{"type": "string"},
			"language": map[string]any{"type": "string"},
			"conf":     map[string]any{"type": "number"},
		},
	}
}

func (t *OCR) Run(ctx context.Context, in map[string]any) (map[string]any, error) {
	blobID, _ := in["blob_id"].(string)
	if blobID == "" {
		return nil, apperr.New(apperr.InvalidInput, "ocr: blob_id must not be empty")
	}

	blob, err := t.blobs.Get(ctx, blobID)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "ocr: resolve blob", err)
	}

	result, err := t.provider.OCR(ctx, blob.Path)
	if err != nil {
		return nil, apperr.Wrap(apperr.DependencyUnavailable, "ocr: recognize", err)
	}

	return map[string]any{
		"text":     result.Text,
		"language": result.Language,
		"conf":     result.Confidence,
	}, nil
}

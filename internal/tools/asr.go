package tools

import (
	"context"

	"github.com/echogarden-io/echogarden/internal/apperr"
	asrprovider "github.com/echogarden-io/echogarden/pkg/provider/asr"
	"github.com/echogarden-io/echogarden/pkg/store"
)

// ASR wraps an asrprovider.Provider as the asr registry tool:
// asr({blob_id}) -> {text, language, segments?}.
type ASR struct {
	blobs    store.BlobRepo
	provider asrprovider.Provider
}

// NewASR constructs the asr tool.
func NewASR(blobs store.BlobRepo, provider asrprovider.Provider) *ASR {
	return &ASR{blobs: blobs, provider: provider}
}

func (t *ASR) Name() string { return "asr" }

func (t *ASR) InputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"required":   []string{"blob_id"},
		"properties": map[string]any{"blob_id": map[string]any{"type": "string"}},
	}
}

func (t *ASR) OutputSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"text", "language"},
		"properties": map[string]any{
			"text":     map[string]any{"type": "string"},
			"language": map[string]any{"type": "string"},
			"segments": map[string]any{"type": "array"},
		},
	}
}

func (t *ASR) Run(ctx context.Context, in map[string]any) (map[string]any, error) {
	blobID, _ := in["blob_id"].(string)
	if blobID == "" {
		return nil, apperr.New(apperr.InvalidInput, "asr: blob_id must not be empty")
	}

	blob, err := t.blobs.Get(ctx, blobID)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "asr: resolve blob", err)
	}

	transcript, err := t.provider.Transcribe(ctx, blob.Path)
	if err != nil {
		return nil, apperr.Wrap(apperr.DependencyUnavailable, "asr: transcribe", err)
	}

	segments := make([]map[string]any, len(transcript.Segments))
	for i, seg := range transcript.Segments {
		segments[i] = map[string]any{"start": seg.Start, "end": seg.End, "text": seg.Text}
	}

	return map[string]any{
		"text":     transcript.Text,
		"language": transcript.Language,
		"segments": segments,
	}, nil
}

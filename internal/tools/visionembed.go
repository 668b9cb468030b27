package tools

import (
	"context"

	"github.com/echogarden-io/echogarden/internal/apperr"
	"github.com/echogarden-io/echogarden/pkg/ids"
	"github.com/echogarden-io/echogarden/pkg/provider/vision"
	"github.com/echogarden-io/echogarden/pkg/store"
)

// VisionEmbed implements the vision_embed registry tool:
// vision_embed({blob_id}) -> {vector_ref}.
type VisionEmbed struct {
	blobs    store.BlobRepo
	provider vision.Provider
}

// NewVisionEmbed constructs the vision_embed tool.
func NewVisionEmbed(blobs store.BlobRepo, provider vision.Provider) *VisionEmbed {
	return &VisionEmbed{blobs: blobs, provider: provider}
}

func (t *VisionEmbed) Name() string { return "vision_embed" }

func (t *VisionEmbed) InputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"required":   []string{"blob_id"},
		"properties": map[string]any{"blob_id": map[string]any{"type": "string"}},
	}
}

func (t *VisionEmbed) OutputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"required":   []string{"vector_ref"},
		"properties": map[string]any{"vector_ref": map[string]any{"type": "string"}},
	}
}

func (t *VisionEmbed) Run(ctx context.Context, in map[string]any) (map[string]any, error) {
	blobID, _ := in["blob_id"].(string)
	if blobID == "" {
		return nil, apperr.New(apperr.InvalidInput, "vision_embed: blob_id must not be empty")
	}

	blob, err := t.blobs.Get(ctx, blobID)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "vision_embed: resolve blob", err)
	}

	vec, err := t.provider.Embed(ctx, blob.Path)
	if err != nil {
		return nil, apperr.Wrap(apperr.DependencyUnavailable, "vision_embed: embed", err)
	}

	return map[string]any{
		"vector_ref": ids.Prefixed("vec"),
		"vector":     vec,
		"dimensions": t.provider.Dimensions(),
	}, nil
}

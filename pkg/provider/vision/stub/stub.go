// Package stub provides a deterministic vision.Provider used when
// vision_mode=stub, so ingest and its tests can run without tesseract or
// a vision model on the host.
package stub

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"

	"github.com/echogarden-io/echogarden/pkg/provider/vision"
)

const dimensions = 64

var _ vision.Provider = (*Provider)(nil)

// Provider returns fixed, file-content-derived results so repeated stub
// calls on the same image are identical across runs.
type Provider struct{}

// New constructs a stub Provider.
func New() *Provider { return &Provider{} }

func (Provider) Dimensions() int { return dimensions }

func (Provider) OCR(ctx context.Context, path string) (vision.OCRResult, error) {
	digest, size, err := digestOf(path)
	if err != nil {
		return vision.OCRResult{}, err
	}
	return vision.OCRResult{
		Text:       fmt.Sprintf("[stub ocr of image %s, %d bytes]", digest, size),
		Language:   "en",
		Confidence: 0.5,
	}, nil
}

func (Provider) Embed(ctx context.Context, path string) ([]float32, error) {
	digest, _, err := digestOf(path)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256([]byte(digest))
	vec := make([]float32, dimensions)
	for i := range vec {
		vec[i] = float32(sum[i%len(sum)]) / 255.0
	}
	return vec, nil
}

func digestOf(path string) (digest string, size int64, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, fmt.Errorf("vision/stub: read %q: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)[:8], int64(len(data)), nil
}

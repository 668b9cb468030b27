// Package local provides a vision.Provider for vision_mode=local. No OCR
// engine or image-embedding model ships in Go, and none of the example
// repos bind one, so OCR shells out to a local tesseract binary (the same
// exec.Command subprocess idiom the teacher uses to launch MCP servers)
// and Embed computes a coarse color-histogram vector with the standard
// library's image package rather than a learned embedding.
package local

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"strings"

	"github.com/echogarden-io/echogarden/pkg/provider/vision"
)

const histogramBuckets = 64 // 4x4x4 RGB histogram

var _ vision.Provider = (*Provider)(nil)

// Provider implements vision.Provider using a local tesseract binary for
// OCR and a stdlib color histogram for Embed.
type Provider struct {
	tesseractPath string
}

// Option configures a Provider.
type Option func(*Provider)

// WithTesseractPath overrides the tesseract binary looked up on PATH.
func WithTesseractPath(path string) Option {
	return func(p *Provider) { p.tesseractPath = path }
}

// New constructs a local Provider. tesseract defaults to "tesseract" on PATH.
func New(opts ...Option) *Provider {
	p := &Provider{tesseractPath: "tesseract"}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Dimensions() int { return histogramBuckets }

// OCR shells out to "tesseract <path> stdout" and returns its output.
func (p *Provider) OCR(ctx context.Context, path string) (vision.OCRResult, error) {
	cmd := exec.CommandContext(ctx, p.tesseractPath, path, "stdout")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return vision.OCRResult{}, fmt.Errorf("vision/local: tesseract: %w: %s", err, stderr.String())
	}
	return vision.OCRResult{
		Text:       strings.TrimSpace(stdout.String()),
		Language:   "en",
		Confidence: 0.8,
	}, nil
}

// Embed decodes the image and returns a normalized 4x4x4 RGB color
// histogram. It captures coarse visual similarity, not semantic content.
func (p *Provider) Embed(ctx context.Context, path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vision/local: open %q: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("vision/local: decode %q: %w", path, err)
	}

	var hist [histogramBuckets]float64
	bounds := img.Bounds()
	var total float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			bucket := bucketIndex(r) | bucketIndex(g)<<2 | bucketIndex(b)<<4
			hist[bucket]++
			total++
		}
	}

	vec := make([]float32, histogramBuckets)
	if total == 0 {
		return vec, nil
	}
	for i, count := range hist {
		vec[i] = float32(count / total)
	}
	return vec, nil
}

// bucketIndex maps a 16-bit color channel into one of 4 buckets.
func bucketIndex(c uint32) int {
	return int(c >> 14) // top 2 bits of a 16-bit channel
}

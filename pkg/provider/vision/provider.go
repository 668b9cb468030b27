// Package vision defines the provider abstraction behind the ocr and
// vision_embed tools. Unlike the teacher's LLM and embeddings providers,
// no OCR or image-embedding library appears anywhere in the example
// corpus, so the "local" implementation here is a deliberately modest,
// CLI-wrapping and stdlib-image-based fallback rather than a bound
// ecosystem SDK; see DESIGN.md for the full justification.
package vision

import "context"

// OCRResult is the text recognized in an image.
type OCRResult struct {
	Text       string
	Language   string
	Confidence float64
}

// Provider recognizes text in, and embeds, image files addressed by path.
type Provider interface {
	// OCR extracts any text visible in the image at path.
	OCR(ctx context.Context, path string) (OCRResult, error)

	// Embed computes a fixed-length vector representation of the image at
	// path, in the same vector space as every other call on this Provider
	// instance.
	Embed(ctx context.Context, path string) ([]float32, error)

	// Dimensions returns the fixed length of vectors returned by Embed.
	Dimensions() int
}

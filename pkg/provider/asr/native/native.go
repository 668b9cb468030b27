// Package native provides an asr.Provider backed by whisper.cpp's CGO
// bindings, adapted from the teacher's live-streaming NativeProvider to a
// batch, one-file-at-a-time transcription contract: the whole file is
// decoded to PCM once and handed to a single whisper.cpp Process call
// instead of being fed incrementally through a silence-detection buffer.
package native

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/echogarden-io/echogarden/pkg/provider/asr"
)

var _ asr.Provider = (*Provider)(nil)

// Provider implements asr.Provider using a whisper.cpp model loaded once at
// startup and shared across all Transcribe calls.
type Provider struct {
	model    whisperlib.Model
	language string
}

// Option configures a Provider.
type Option func(*Provider)

// WithLanguage sets the BCP-47 language hint passed to whisper.cpp. Empty
// (the default) lets the model auto-detect.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// New loads the whisper.cpp model at modelPath. The caller must call Close
// when the provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("asr/native: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("asr/native: load model %q: %w", modelPath, err)
	}
	p := &Provider{model: model}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Close releases the underlying whisper.cpp model.
func (p *Provider) Close() error {
	return p.model.Close()
}

// Transcribe decodes path as a 16kHz mono WAV file and runs a single
// whisper.cpp full-decode pass over it.
func (p *Provider) Transcribe(ctx context.Context, path string) (asr.Transcript, error) {
	samples, err := decodeWAVMono16k(path)
	if err != nil {
		return asr.Transcript{}, fmt.Errorf("asr/native: decode %q: %w", path, err)
	}

	wctx, err := p.model.NewContext()
	if err != nil {
		return asr.Transcript{}, fmt.Errorf("asr/native: new context: %w", err)
	}
	if p.language != "" {
		if err := wctx.SetLanguage(p.language); err != nil {
			return asr.Transcript{}, fmt.Errorf("asr/native: set language: %w", err)
		}
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return asr.Transcript{}, fmt.Errorf("asr/native: process: %w", err)
	}

	var (
		segments []asr.Segment
		fullText string
	)
	for {
		seg, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return asr.Transcript{}, fmt.Errorf("asr/native: next segment: %w", err)
		}
		segments = append(segments, asr.Segment{
			Start: seg.Start.Seconds(),
			End:   seg.End.Seconds(),
			Text:  seg.Text,
		})
		fullText += seg.Text
	}

	lang := p.language
	if lang == "" {
		lang = wctx.DetectedLanguage()
	}

	return asr.Transcript{Text: fullText, Language: lang, Segments: segments}, nil
}

// decodeWAVMono16k reads the PCM samples from a canonical 16-bit mono WAV
// file and normalizes them to float32 in [-1, 1], the format whisper.cpp
// expects. It does not resample and does not read the fmt chunk, so the
// sample rate, channel count and bit depth are not checked: any other WAV
// layout is decoded as if it were 16kHz mono 16-bit PCM.
func decodeWAVMono16k(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return nil, fmt.Errorf("read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a WAV file")
	}

	var dataOffset, dataSize int64
	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(f, chunkHeader[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("read chunk header: %w", err)
		}
		chunkID := string(chunkHeader[0:4])
		chunkSize := int64(binary.LittleEndian.Uint32(chunkHeader[4:8]))

		if chunkID == "data" {
			pos, _ := f.Seek(0, io.SeekCurrent)
			dataOffset = pos
			dataSize = chunkSize
			break
		}
		if _, err := f.Seek(chunkSize, io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("skip chunk %q: %w", chunkID, err)
		}
	}
	if dataSize == 0 {
		return nil, fmt.Errorf("no data chunk found")
	}

	if _, err := f.Seek(dataOffset, io.SeekStart); err != nil {
		return nil, err
	}
	raw := make([]byte, dataSize)
	if _, err := io.ReadFull(f, raw); err != nil {
		return nil, fmt.Errorf("read pcm data: %w", err)
	}

	samples := make([]float32, len(raw)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
		samples[i] = float32(v) / 32768.0
	}
	return samples, nil
}

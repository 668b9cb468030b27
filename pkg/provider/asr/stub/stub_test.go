package stub_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echogarden-io/echogarden/pkg/provider/asr/stub"
)

func TestTranscribeIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.wav")
	require.NoError(t, os.WriteFile(path, []byte("fake-audio-bytes"), 0o600))

	p := stub.New()
	first, err := p.Transcribe(context.Background(), path)
	require.NoError(t, err)
	second, err := p.Transcribe(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotEmpty(t, first.Text)
	assert.Equal(t, "en", first.Language)
}

package capture

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echogarden-io/echogarden/internal/graphsvc"
	"github.com/echogarden-io/echogarden/internal/ingest"
	"github.com/echogarden-io/echogarden/internal/registry"
	"github.com/echogarden-io/echogarden/internal/tools"
	embeddingsmock "github.com/echogarden-io/echogarden/pkg/provider/embeddings/mock"
	"github.com/echogarden-io/echogarden/pkg/store"
	"github.com/echogarden-io/echogarden/pkg/store/memstore"
)

func TestWatcherEnqueuesJobForNewFile(t *testing.T) {
	ms := memstore.New()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "note.txt"), []byte("hello EchoGarden"), 0o600))

	w := New(root, ms.Blobs(), ms.Jobs(), nil, WithPollInterval(time.Hour))
	w.scan(context.Background())

	jobs, err := ms.Jobs().List(context.Background(), store.JobQueued, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, store.JobTypeIngestBlob, jobs[0].Type)

	status := w.Status()
	assert.Equal(t, int64(1), status.FilesScanned)
	assert.Equal(t, int64(1), status.JobsEnqueued)
}

func TestWatcherSkipsUnchangedFileOnRescan(t *testing.T) {
	ms := memstore.New()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "note.txt"), []byte("hello EchoGarden"), 0o600))

	w := New(root, ms.Blobs(), ms.Jobs(), nil, WithPollInterval(time.Hour))
	w.scan(context.Background())
	w.scan(context.Background())

	jobs, err := ms.Jobs().List(context.Background(), store.JobQueued, 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestWatcherSkipsIgnoredDirectories(t *testing.T) {
	ms := memstore.New()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "pkg.json"), []byte("{}"), 0o600))

	w := New(root, ms.Blobs(), ms.Jobs(), nil, WithPollInterval(time.Hour))
	w.scan(context.Background())

	jobs, err := ms.Jobs().List(context.Background(), store.JobQueued, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func newTestOrchestrator(t *testing.T) (*ingest.Orchestrator, store.Store) {
	t.Helper()
	ms := memstore.New()
	reg := registry.New(ms.Exec(), nil)

	reg.Register(tools.NewDocParse(ms.Blobs()))
	reg.Register(tools.NewSummarizer(nil, ""))
	reg.Register(tools.NewExtractor(nil))
	reg.Register(tools.NewTextEmbed(&embeddingsmock.Provider{EmbedResult: []float32{0.1, 0.2, 0.3}, DimensionsValue: 3}))
	reg.Register(tools.NewGraphBuilder(graphsvc.New(ms.Graph())))

	return ingest.New(ms, reg, nil), ms
}

func enqueueIngestJob(t *testing.T, ms store.Store, blobID, traceID string) {
	t.Helper()
	payloadJSON, err := json.Marshal(store.IngestBlobPayload{BlobID: blobID, TraceID: traceID})
	require.NoError(t, err)
	_, err = ms.Jobs().Enqueue(context.Background(), store.JobTypeIngestBlob, payloadJSON, traceID)
	require.NoError(t, err)
}

func TestWorkerPoolProcessesLeasedJobAndCompletesIt(t *testing.T) {
	orch, ms := newTestOrchestrator(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("EchoGarden keeps a growing knowledge garden."), 0o600))

	blob, err := ms.Blobs().InsertBlob(ctx, store.Blob{SHA256: "abc", Path: path, Mime: "text/plain", CreatedTs: time.Now()})
	require.NoError(t, err)

	enqueueIngestJob(t, ms, blob.BlobID, "trace-1")

	pool := NewWorkerPool(ms.Jobs(), orch, nil, WithWorkerCount(1))
	require.True(t, pool.leaseAndProcessOne(ctx, "worker-test"))

	jobs, err := ms.Jobs().List(ctx, store.JobDone, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	cards, err := ms.Cards().List(ctx, store.CardFilter{})
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "doc", cards[0].Type)
}

func TestWorkerPoolBacksOffOnFailureAndMarksDeadAfterMaxAttempts(t *testing.T) {
	// A blob id that was never inserted makes the orchestrator fail to
	// resolve the blob, which is the one failure mode IngestBlob propagates
	// as an error rather than absorbing into a placeholder card.
	ms := memstore.New()
	reg := registry.New(ms.Exec(), nil)
	orch := ingest.New(ms, reg, nil)
	ctx := context.Background()

	enqueueIngestJob(t, ms, "blob_does_not_exist", "trace-2")

	pool := NewWorkerPool(ms.Jobs(), orch, nil, WithMaxAttempts(1))
	require.True(t, pool.leaseAndProcessOne(ctx, "worker-test"))

	jobs, err := ms.Jobs().List(ctx, store.JobDead, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 1, jobs[0].Attempts)
	assert.NotEmpty(t, jobs[0].ErrorText)
}

func newTestBrowserCapture(t *testing.T) (*BrowserCapture, store.Store) {
	t.Helper()
	ms := memstore.New()
	reg := registry.New(ms.Exec(), nil)
	reg.Register(tools.NewSummarizer(nil, ""))
	reg.Register(tools.NewExtractor(nil))
	reg.Register(tools.NewTextEmbed(&embeddingsmock.Provider{EmbedResult: []float32{0.1, 0.2, 0.3}, DimensionsValue: 3}))
	reg.Register(tools.NewGraphBuilder(graphsvc.New(ms.Graph())))
	return NewBrowserCapture(ms, reg, nil), ms
}

func TestBrowserCaptureHighlightCommitsCardWithSourceBoostType(t *testing.T) {
	bc, ms := newTestBrowserCapture(t)
	ctx := context.Background()

	memoryID, err := bc.Highlight(ctx, "https://example.com/article", "Example Article", "EchoGarden keeps local notes.")
	require.NoError(t, err)
	require.NotEmpty(t, memoryID)

	card, err := ms.Cards().Get(ctx, memoryID)
	require.NoError(t, err)
	assert.Equal(t, "browser_highlight", card.Type)
	assert.Equal(t, "https://example.com/article", card.Metadata.URL)
	assert.NotEmpty(t, card.Summary)
}

func TestBrowserCaptureHighlightRejectsEmptyQuote(t *testing.T) {
	bc, _ := newTestBrowserCapture(t)
	_, err := bc.Highlight(context.Background(), "https://example.com", "title", "")
	assert.Error(t, err)
}

func TestBrowserCaptureImportHistoryCountsSuccesses(t *testing.T) {
	bc, ms := newTestBrowserCapture(t)
	ctx := context.Background()

	count, err := bc.ImportHistory(ctx, []HistoryEntry{
		{URL: "https://a.example.com", Title: "A", VisitedAt: time.Now()},
		{URL: "https://b.example.com", Title: "B", VisitedAt: time.Now()},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	cards, err := ms.Cards().List(ctx, store.CardFilter{})
	require.NoError(t, err)
	assert.Len(t, cards, 2)
}

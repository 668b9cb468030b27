package ingest_test

import (
	"context"
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
	visionstub "github.com/echogarden-io/echogarden/pkg/provider/vision/stub"
	"github.com/echogarden-io/echogarden/pkg/store"
	"github.com/echogarden-io/echogarden/pkg/store/memstore"
)

func newTestOrchestrator(t *testing.T) (*ingest.Orchestrator, store.Store) {
	t.Helper()
	ms := memstore.New()
	reg := registry.New(ms.Exec(), nil)

	reg.Register(tools.NewDocParse(ms.Blobs()))
	reg.Register(tools.NewOCR(ms.Blobs(), visionstub.New()))
	reg.Register(tools.NewVisionEmbed(ms.Blobs(), visionstub.New()))
	reg.Register(tools.NewSummarizer(nil, ""))
	reg.Register(tools.NewExtractor(nil))
	reg.Register(tools.NewTextEmbed(&embeddingsmock.Provider{EmbedResult: []float32{0.1, 0.2, 0.3}, DimensionsValue: 3}))
	reg.Register(tools.NewGraphBuilder(graphsvc.New(ms.Graph())))

	return ingest.New(ms, reg, nil), ms
}

func TestIngestBlobTextPipelineCommitsCard(t *testing.T) {
	orch, ms := newTestOrchestrator(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("EchoGarden is a local-first knowledge garden."), 0o600))

	blob, err := ms.Blobs().InsertBlob(ctx, store.Blob{
		SHA256:    "abc123",
		Path:      path,
		Mime:      "text/plain",
		SizeBytes: 42,
		CreatedTs: time.Now(),
	})
	require.NoError(t, err)

	card, err := orch.IngestBlob(ctx, ingest.Payload{
		BlobID:    blob.BlobID,
		SHA256:    blob.SHA256,
		Mime:      blob.Mime,
		SizeBytes: blob.SizeBytes,
		TraceID:   "trace-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "doc", card.Type)
	assert.Contains(t, card.ContentText, "EchoGarden")
	assert.NotEmpty(t, card.Summary)
	assert.Equal(t, blob.BlobID, card.Metadata.BlobID)
	assert.Contains(t, card.Metadata.Entities, "EchoGarden")

	trace, err := ms.Exec().GetTrace(ctx, "trace-1")
	require.NoError(t, err)
	assert.Equal(t, store.TraceOK, trace.Status)

	_, found, err := ms.Graph().GetNode(ctx, "ent:echogarden")
	require.NoError(t, err)
	assert.True(t, found, "extractor's entities should reach graph_builder and land an ent: node")
}

func TestIngestBlobIsIdempotentByBlobAndTrace(t *testing.T) {
	orch, ms := newTestOrchestrator(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("EchoGarden is a local-first knowledge garden."), 0o600))

	blob, err := ms.Blobs().InsertBlob(ctx, store.Blob{SHA256: "abc123", Path: path, Mime: "text/plain", CreatedTs: time.Now()})
	require.NoError(t, err)

	payload := ingest.Payload{BlobID: blob.BlobID, Mime: blob.Mime, TraceID: "trace-1"}
	first, err := orch.IngestBlob(ctx, payload)
	require.NoError(t, err)

	second, err := orch.IngestBlob(ctx, payload)
	require.NoError(t, err)

	assert.Equal(t, first.MemoryID, second.MemoryID)

	cards, err := ms.Cards().List(ctx, store.CardFilter{})
	require.NoError(t, err)
	assert.Len(t, cards, 1)
}

func TestIngestBlobOversizeProducesPlaceholder(t *testing.T) {
	orch, ms := newTestOrchestrator(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "huge.txt")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o600))

	blob, err := ms.Blobs().InsertBlob(ctx, store.Blob{SHA256: "big", Path: path, Mime: "text/plain", CreatedTs: time.Now()})
	require.NoError(t, err)

	card, err := orch.IngestBlob(ctx, ingest.Payload{
		BlobID:    blob.BlobID,
		Mime:      blob.Mime,
		SizeBytes: 100 * 1024 * 1024,
		MaxFileMB: 20,
		TraceID:   "trace-big",
	})
	require.NoError(t, err)
	assert.Equal(t, "placeholder", card.Type)
}

func TestIngestTextContentTextRoundTrips(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	ctx := context.Background()

	card, err := orch.IngestText(ctx, ingest.TextPayload{Text: "EchoGarden is a local-first knowledge garden."})
	require.NoError(t, err)
	assert.Equal(t, "note", card.Type)
	assert.Equal(t, "EchoGarden is a local-first knowledge garden.", card.ContentText)
	assert.NotEmpty(t, card.Summary)
}

func TestIngestTextRejectsEmptyText(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	_, err := orch.IngestText(context.Background(), ingest.TextPayload{Text: "   "})
	assert.Error(t, err)
}

func TestIngestBlobImagePipelineForksOcrAndVisionEmbed(t *testing.T) {
	orch, ms := newTestOrchestrator(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "photo.png")
	require.NoError(t, os.WriteFile(path, []byte("not a real png, just bytes"), 0o600))

	blob, err := ms.Blobs().InsertBlob(ctx, store.Blob{
		SHA256:    "img1",
		Path:      path,
		Mime:      "image/png",
		SizeBytes: 27,
		CreatedTs: time.Now(),
	})
	require.NoError(t, err)

	_, err = orch.IngestBlob(ctx, ingest.Payload{
		BlobID:  blob.BlobID,
		Mime:    blob.Mime,
		TraceID: "trace-img",
	})
	require.NoError(t, err)

	calls, err := ms.Exec().ListToolCalls(ctx, "trace-img", 0)
	require.NoError(t, err)
	callIDByTool := map[string]string{}
	for _, c := range calls {
		callIDByTool[c.ToolName] = c.CallID
	}
	require.Contains(t, callIDByTool, "ocr")
	require.Contains(t, callIDByTool, "vision_embed")
	require.Contains(t, callIDByTool, "summarizer")

	nodes, edges, err := ms.Exec().Graph(ctx, "trace-img")
	require.NoError(t, err)

	nodeIDByCallID := map[string]string{}
	for _, n := range nodes {
		nodeIDByCallID[n.CallID] = n.ExecNodeID
	}
	ocrNode := nodeIDByCallID[callIDByTool["ocr"]]
	visNode := nodeIDByCallID[callIDByTool["vision_embed"]]
	summarizerNode := nodeIDByCallID[callIDByTool["summarizer"]]
	require.NotEmpty(t, ocrNode)
	require.NotEmpty(t, visNode)
	require.NotEmpty(t, summarizerNode)

	var hasOcrToSummarizer, hasVisionToSummarizer, hasOcrToVision bool
	for _, e := range edges {
		switch {
		case e.FromExecNode == ocrNode && e.ToExecNode == summarizerNode:
			hasOcrToSummarizer = true
		case e.FromExecNode == visNode && e.ToExecNode == summarizerNode:
			hasVisionToSummarizer = true
		case e.FromExecNode == ocrNode && e.ToExecNode == visNode, e.FromExecNode == visNode && e.ToExecNode == ocrNode:
			hasOcrToVision = true
		}
	}
	assert.True(t, hasOcrToSummarizer, "expected an on_ok edge from ocr to summarizer")
	assert.True(t, hasVisionToSummarizer, "expected an on_ok edge from vision_embed to summarizer")
	assert.False(t, hasOcrToVision, "ocr and vision_embed must be independent siblings, not chained")
}

func TestIngestDispatchCallIDMatchesRecordedToolCall(t *testing.T) {
	orch, ms := newTestOrchestrator(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("EchoGarden is a local-first knowledge garden."), 0o600))

	blob, err := ms.Blobs().InsertBlob(ctx, store.Blob{SHA256: "abc123", Path: path, Mime: "text/plain", CreatedTs: time.Now()})
	require.NoError(t, err)

	_, err = orch.IngestBlob(ctx, ingest.Payload{BlobID: blob.BlobID, Mime: blob.Mime, TraceID: "trace-call-id"})
	require.NoError(t, err)

	nodes, _, err := ms.Exec().Graph(ctx, "trace-call-id")
	require.NoError(t, err)
	require.NotEmpty(t, nodes)

	calls, err := ms.Exec().ListToolCalls(ctx, "trace-call-id", 0)
	require.NoError(t, err)
	require.NotEmpty(t, calls)

	recordedCallIDs := map[string]bool{}
	for _, c := range calls {
		recordedCallIDs[c.CallID] = true
	}
	for _, n := range nodes {
		assert.True(t, recordedCallIDs[n.CallID], "exec node %s has call_id %q with no matching ToolCall", n.ExecNodeID, n.CallID)
	}
}

func TestClassifyRoutesByMimeAndExtension(t *testing.T) {
	assert.Equal(t, ingest.ClassTextDocument, ingest.Classify("text/plain", "a.txt"))
	assert.Equal(t, ingest.ClassTextDocument, ingest.Classify("", "a.pdf"))
	assert.Equal(t, ingest.ClassImage, ingest.Classify("image/png", "a.png"))
	assert.Equal(t, ingest.ClassAudio, ingest.Classify("", "a.wav"))
	assert.Equal(t, ingest.ClassUnknown, ingest.Classify("application/zip", "a.zip"))
}

package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echogarden-io/echogarden/internal/capture"
	"github.com/echogarden-io/echogarden/internal/graphsvc"
	"github.com/echogarden-io/echogarden/internal/health"
	"github.com/echogarden-io/echogarden/internal/httpapi"
	"github.com/echogarden-io/echogarden/internal/ingest"
	"github.com/echogarden-io/echogarden/internal/qa"
	"github.com/echogarden-io/echogarden/internal/registry"
	"github.com/echogarden-io/echogarden/internal/retrieval"
	"github.com/echogarden-io/echogarden/internal/tools"
	embeddingsmock "github.com/echogarden-io/echogarden/pkg/provider/embeddings/mock"
	"github.com/echogarden-io/echogarden/pkg/store"
	"github.com/echogarden-io/echogarden/pkg/store/memstore"
)

// newTestServer wires a Server the way app.go would, but against an
// in-memory store and stub providers so the whole router can be exercised
// without any external dependency.
func newTestServer(t *testing.T, opts ...httpapi.Option) (*httptest.Server, store.Store) {
	t.Helper()
	ms := memstore.New()
	reg := registry.New(ms.Exec(), nil)

	graph := graphsvc.New(ms.Graph())
	embedder := &embeddingsmock.Provider{EmbedResult: []float32{0.1, 0.2, 0.3}, DimensionsValue: 3}

	reg.Register(tools.NewDocParse(ms.Blobs()))
	reg.Register(tools.NewSummarizer(nil, ""))
	reg.Register(tools.NewExtractor(nil))
	reg.Register(tools.NewTextEmbed(embedder))
	reg.Register(tools.NewGraphBuilder(graph))

	retriever := retrieval.New(ms.Cards(), ms.Graph(), embedder)
	reg.Register(tools.NewRetrieval(retriever))
	reg.Register(tools.NewWeaver(nil))
	reg.Register(tools.NewVerifier(nil))

	ing := ingest.New(ms, reg, nil)
	qaOrch := qa.New(ms, reg, nil)
	healthHandler := health.New(health.Checker{Name: "store", Check: func(context.Context) error { return nil }})
	browser := capture.NewBrowserCapture(ms, reg, nil)

	srv := httpapi.New(ms, reg, ing, retriever, qaOrch, graph, nil, browser, healthHandler, nil, opts...)
	return httptest.NewServer(srv.Router()), ms
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body any) *http.Response {
	t.Helper()
	var r *http.Request
	var err error
	if body != nil {
		b, merr := json.Marshal(body)
		require.NoError(t, merr)
		r, err = http.NewRequest(method, ts.URL+path, bytes.NewReader(b))
	} else {
		r, err = http.NewRequest(method, ts.URL+path, nil)
	}
	require.NoError(t, err)
	r.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(r)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, ts, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestReadyz(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, ts, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestIngestTextThenGetCard(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, ts, http.MethodPost, "/ingest", map[string]any{
		"text": "EchoGarden is a local-first knowledge garden.",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ingestOut map[string]any
	decodeBody(t, resp, &ingestOut)
	memoryID, _ := ingestOut["memory_id"].(string)
	require.NotEmpty(t, memoryID)

	resp = doJSON(t, ts, http.MethodGet, "/cards/"+memoryID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var card store.MemoryCard
	decodeBody(t, resp, &card)
	assert.Equal(t, memoryID, card.MemoryID)
}

func TestIngestTextRejectsEmptyBody(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, ts, http.MethodPost, "/ingest", map[string]any{"text": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestListCards(t *testing.T) {
	ts, ms := newTestServer(t)
	defer ts.Close()

	_, err := ms.Cards().Upsert(context.Background(), store.MemoryCard{
		MemoryID:    "mem1",
		Summary:     "a note",
		ContentText: "a note about gardens",
		CreatedAt:   time.Now(),
		TraceID:     "trace1",
	})
	require.NoError(t, err)

	resp := doJSON(t, ts, http.MethodGet, "/cards", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cards []store.MemoryCard
	decodeBody(t, resp, &cards)
	require.Len(t, cards, 1)
	assert.Equal(t, "mem1", cards[0].MemoryID)
}

func TestGetCardNotFound(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, ts, http.MethodGet, "/cards/nonexistent", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestRetrieveRejectsEmptyQuery(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, ts, http.MethodPost, "/retrieve", map[string]any{"query": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestRetrieveReturnsHits(t *testing.T) {
	ts, ms := newTestServer(t)
	defer ts.Close()

	_, err := ms.Cards().Upsert(context.Background(), store.MemoryCard{
		MemoryID:    "mem1",
		Summary:     "EchoGarden is a local-first knowledge garden.",
		ContentText: "EchoGarden is a local-first knowledge garden that grows from captured notes.",
		CreatedAt:   time.Now(),
		TraceID:     "trace1",
	})
	require.NoError(t, err)

	resp := doJSON(t, ts, http.MethodPost, "/retrieve", map[string]any{"query": "knowledge garden"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	decodeBody(t, resp, &out)
	results, ok := out["results"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, results)
}

func TestChatAbstainsWithoutEvidence(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, ts, http.MethodPost, "/chat", map[string]any{"message": "What is the meaning of life?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	decodeBody(t, resp, &out)
	assert.Equal(t, string(store.VerdictAbstain), out["verdict"])
}

func TestChatThenListConversations(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, ts, http.MethodPost, "/chat", map[string]any{"message": "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var chatOut map[string]any
	decodeBody(t, resp, &chatOut)
	conversationID, _ := chatOut["conversation_id"].(string)
	require.NotEmpty(t, conversationID)

	resp = doJSON(t, ts, http.MethodGet, "/conversations", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var convos []store.Conversation
	decodeBody(t, resp, &convos)
	require.Len(t, convos, 1)

	resp = doJSON(t, ts, http.MethodGet, "/conversations/"+conversationID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var detail map[string]any
	decodeBody(t, resp, &detail)
	turns, ok := detail["turns"].([]any)
	require.True(t, ok)
	assert.Len(t, turns, 1)
}

func TestGraphUpsertAndQuery(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, ts, http.MethodPost, "/graph/upsert", map[string]any{
		"nodes": []map[string]any{
			{"node_id": "n1", "type": "entity", "props": map[string]any{"label": "Ada Lovelace"}},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var upsertOut map[string]any
	decodeBody(t, resp, &upsertOut)
	assert.EqualValues(t, 1, upsertOut["nodes_upserted"])

	resp = doJSON(t, ts, http.MethodPost, "/graph/query?node_id=n1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var node store.GraphNode
	decodeBody(t, resp, &node)
	assert.Equal(t, "n1", node.NodeID)
}

func TestGraphQueryMissingNodeID(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, ts, http.MethodPost, "/graph/query", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestGraphNeighborsMissingNodeID(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, ts, http.MethodGet, "/graph/neighbors", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestExecTraceNotFound(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, ts, http.MethodGet, "/exec/nonexistent", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestExecTraceAfterChat(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, ts, http.MethodPost, "/chat", map[string]any{"message": "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var chatOut map[string]any
	decodeBody(t, resp, &chatOut)
	traceID, _ := chatOut["trace_id"].(string)
	require.NotEmpty(t, traceID)

	resp = doJSON(t, ts, http.MethodGet, "/exec/"+traceID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	decodeBody(t, resp, &out)
	assert.NotNil(t, out["tool_calls"])
}

func TestToolCalls(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	doJSON(t, ts, http.MethodPost, "/chat", map[string]any{"message": "hello"}).Body.Close()

	resp := doJSON(t, ts, http.MethodGet, "/tool_calls", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var calls []store.ToolCall
	decodeBody(t, resp, &calls)
	assert.NotEmpty(t, calls)
}

func TestListTools(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, ts, http.MethodGet, "/tools", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var names []string
	decodeBody(t, resp, &names)
	assert.Contains(t, names, "weaver")
}

func TestDigestDefaultsTo24h(t *testing.T) {
	ts, ms := newTestServer(t)
	defer ts.Close()

	_, err := ms.Cards().Upsert(context.Background(), store.MemoryCard{
		MemoryID:    "mem1",
		Summary:     "recent note",
		ContentText: "recent note",
		CreatedAt:   time.Now(),
		TraceID:     "t1",
	})
	require.NoError(t, err)

	resp := doJSON(t, ts, http.MethodGet, "/digest", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	decodeBody(t, resp, &out)
	assert.Equal(t, "24h", out["window"])
}

func TestDigestRejectsInvalidWindow(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, ts, http.MethodGet, "/digest?window=9001h", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestFeedToday(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, ts, http.MethodGet, "/feed/today", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	decodeBody(t, resp, &out)
	assert.Contains(t, out, "activity_summary")
}

func TestCaptureStatusDisabledWithoutWatcher(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, ts, http.MethodGet, "/capture/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	decodeBody(t, resp, &out)
	assert.Equal(t, true, out["disabled"])
}

func TestCaptureBrowserRequiresKeyWhenConfigured(t *testing.T) {
	ts, ms := newTestServer(t, httpapi.WithCaptureAPIKey("sekret"))
	defer ts.Close()
	_ = ms

	resp := doJSON(t, ts, http.MethodPost, "/capture/browser/bookmark", map[string]any{
		"url": "https://example.com", "title": "Example",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestCaptureBrowserBookmarkWithValidKey(t *testing.T) {
	ts, _ := newTestServer(t, httpapi.WithCaptureAPIKey("sekret"))
	defer ts.Close()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/capture/browser/bookmark", bytes.NewReader(
		mustJSON(t, map[string]any{"url": "https://example.com", "title": "Example"}),
	))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-EG-KEY", "sekret")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

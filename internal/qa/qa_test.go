package qa_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echogarden-io/echogarden/internal/qa"
	"github.com/echogarden-io/echogarden/internal/registry"
	"github.com/echogarden-io/echogarden/internal/retrieval"
	"github.com/echogarden-io/echogarden/internal/tools"
	"github.com/echogarden-io/echogarden/pkg/store"
	"github.com/echogarden-io/echogarden/pkg/store/memstore"
)

func newTestOrchestrator(t *testing.T) (*qa.Orchestrator, store.Store) {
	t.Helper()
	ms := memstore.New()
	reg := registry.New(ms.Exec(), nil)

	retriever := retrieval.New(ms.Cards(), ms.Graph(), nil)
	reg.Register(tools.NewRetrieval(retriever))
	reg.Register(tools.NewWeaver(nil))
	reg.Register(tools.NewVerifier(nil))

	return qa.New(ms, reg, nil), ms
}

func seedCard(t *testing.T, ms store.Store) {
	t.Helper()
	_, err := ms.Cards().Upsert(context.Background(), store.MemoryCard{
		MemoryID:    "mem1",
		Summary:     "EchoGarden is a local-first knowledge garden.",
		ContentText: "EchoGarden is a local-first knowledge garden that grows from captured notes.",
		CreatedAt:   time.Now(),
		TraceID:     "seed-trace",
	})
	require.NoError(t, err)
}

func TestHandleChatAnswersWithCitationFromStubWeaver(t *testing.T) {
	orch, ms := newTestOrchestrator(t)
	seedCard(t, ms)

	resp, err := orch.HandleChat(context.Background(), "", "What is EchoGarden?")
	require.NoError(t, err)

	assert.Equal(t, store.VerdictPass, resp.Verdict)
	assert.NotEmpty(t, resp.Answer)
	assert.Contains(t, resp.Answer, "[")
	require.Len(t, resp.Citations, 1)
	assert.Equal(t, "mem1", resp.Citations[0].MemoryID)
	assert.NotEmpty(t, resp.TraceID)

	trace, err := ms.Exec().GetTrace(context.Background(), resp.TraceID)
	require.NoError(t, err)
	assert.Equal(t, store.TraceOK, trace.Status)

	_, turns, err := ms.Conversations().GetConversation(context.Background(), resp.ConversationID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "What is EchoGarden?", turns[0].UserText)
}

func TestHandleChatAbstainsWithoutEvidence(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	resp, err := orch.HandleChat(context.Background(), "", "What is the meaning of life?")
	require.NoError(t, err)

	assert.Equal(t, store.VerdictAbstain, resp.Verdict)
	assert.Empty(t, resp.Citations)
	assert.NotContains(t, resp.Answer, "[")
}

func TestHandleChatRejectsOverlongMessage(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	huge := strings.Repeat("a", 5000)
	_, err := orch.HandleChat(context.Background(), "", huge)
	assert.Error(t, err)
}

func TestHandleChatRejectsEmptyMessage(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	_, err := orch.HandleChat(context.Background(), "", "   ")
	assert.Error(t, err)
}

func TestHandleChatRejectsHighNonPrintableRatio(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	binary := string([]byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 'a', 'b'})
	_, err := orch.HandleChat(context.Background(), "", binary)
	assert.Error(t, err)
}

package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echogarden-io/echogarden/internal/registry"
	"github.com/echogarden-io/echogarden/pkg/store"
	"github.com/echogarden-io/echogarden/pkg/store/memstore"
)

type echoTool struct {
	name string
	err  error
}

func (t echoTool) Name() string                 { return t.name }
func (t echoTool) InputSchema() map[string]any  { return map[string]any{"type": "object"} }
func (t echoTool) OutputSchema() map[string]any { return map[string]any{"type": "object"} }
func (t echoTool) Run(ctx context.Context, in map[string]any) (map[string]any, error) {
	if t.err != nil {
		return nil, t.err
	}
	return map[string]any{"echo": in["text"]}, nil
}

func TestDispatchRecordsToolCall(t *testing.T) {
	ctx := context.Background()
	ms := memstore.New()
	reg := registry.New(ms.Exec(), nil)
	reg.Register(echoTool{name: "doc_parse"})

	out, err := reg.Dispatch(ctx, "doc_parse", map[string]any{"text": "hello"}, "trace-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", out["echo"])

	calls, err := ms.Exec().ListToolCalls(ctx, "trace-1", 10)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "doc_parse", calls[0].ToolName)
	assert.Equal(t, store.ToolCallOK, calls[0].Status)
}

func TestDispatchRecordsErrorStatus(t *testing.T) {
	ctx := context.Background()
	ms := memstore.New()
	reg := registry.New(ms.Exec(), nil)
	reg.Register(echoTool{name: "ocr", err: errors.New("boom")})

	_, err := reg.Dispatch(ctx, "ocr", map[string]any{}, "trace-2")
	require.Error(t, err)

	calls, err := ms.Exec().ListToolCalls(ctx, "trace-2", 10)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, store.ToolCallError, calls[0].Status)
}

func TestDispatchUnknownToolReturnsNotFound(t *testing.T) {
	reg := registry.New(nil, nil)
	_, err := reg.Dispatch(context.Background(), "nope", nil, "")
	require.Error(t, err)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	reg := registry.New(nil, nil)
	reg.Register(echoTool{name: "doc_parse"})
	assert.Panics(t, func() { reg.Register(echoTool{name: "doc_parse"}) })
}

// Package registry implements the process-wide tool registry described by
// the orchestrator design: every tool is identified by name, declares input
// and output JSON schemas, and is invoked exclusively through Dispatch so
// that every call is recorded as a ToolCall row with timing and status.
//
// Calling a Tool's Run method directly, bypassing Dispatch, is a contract
// violation — Dispatch is what gives the exec trace its observability.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/echogarden-io/echogarden/internal/apperr"
	"github.com/echogarden-io/echogarden/pkg/store"
)

// Tool is the contract every registry entry implements.
type Tool interface {
	// Name is the tool's unique identifier, e.g. "doc_parse".
	Name() string

	// InputSchema and OutputSchema return a JSON Schema document describing
	// the tool's input and output shape, for the /tools/{name}/schema
	// introspection endpoint.
	InputSchema() map[string]any
	OutputSchema() map[string]any

	// Run executes the tool. inputs and the returned outputs are plain
	// JSON-marshalable maps; Dispatch snapshots both onto the ToolCall row.
	Run(ctx context.Context, inputs map[string]any) (map[string]any, error)
}

// Registry is a process-wide, concurrency-safe set of registered tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	exec  store.ExecRepo
	log   *slog.Logger
}

// New constructs a Registry that records every dispatch via exec.
func New(exec store.ExecRepo, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		tools: make(map[string]Tool),
		exec:  exec,
		log:   log,
	}
}

// Register adds tool to the registry. Intended for init-time use; panics on
// duplicate registration since that always indicates a wiring bug.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; exists {
		panic(fmt.Sprintf("registry: tool %q already registered", tool.Name()))
	}
	r.tools[tool.Name()] = tool
}

// Names returns every registered tool name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetSchema returns the input/output schema pair for name.
func (r *Registry) GetSchema(name string) (input, output map[string]any, err error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, apperr.New(apperr.NotFound, fmt.Sprintf("tool %q not registered", name))
	}
	return tool.InputSchema(), tool.OutputSchema(), nil
}

// Dispatch invokes the named tool, recording a ToolCall row with timing,
// status, and input/output snapshots, and propagating traceID. The store
// assigns the ToolCall's id.
func (r *Registry) Dispatch(ctx context.Context, name string, inputs map[string]any, traceID string) (map[string]any, error) {
	outputs, _, err := r.dispatch(ctx, name, inputs, traceID, "")
	return outputs, err
}

// DispatchWithCallID behaves like Dispatch but records the ToolCall under
// callID instead of letting the store mint one, so a caller that already
// generated an id for its own bookkeeping (e.g. an orchestrator's exec
// node) can keep the two in sync. It returns the call id actually
// recorded, which is callID unless the store overrides it.
func (r *Registry) DispatchWithCallID(ctx context.Context, name string, inputs map[string]any, traceID, callID string) (map[string]any, string, error) {
	return r.dispatch(ctx, name, inputs, traceID, callID)
}

func (r *Registry) dispatch(ctx context.Context, name string, inputs map[string]any, traceID, callID string) (map[string]any, string, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, "", apperr.New(apperr.NotFound, fmt.Sprintf("tool %q not registered", name))
	}

	inputJSON, err := json.Marshal(inputs)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.InvalidInput, "marshal tool inputs", err)
	}

	start := time.Now()
	outputs, runErr := tool.Run(ctx, inputs)
	elapsed := time.Since(start)

	status := store.ToolCallOK
	outputJSON := []byte("{}")
	if runErr != nil {
		status = store.ToolCallError
		outputJSON, _ = json.Marshal(map[string]any{"error": runErr.Error()})
	} else if outputs != nil {
		if b, merr := json.Marshal(outputs); merr == nil {
			outputJSON = b
		}
	}

	recordedID := callID
	if r.exec != nil {
		recorded, recErr := r.exec.RecordToolCall(ctx, store.ToolCall{
			CallID:   callID,
			ToolName: name,
			Ts:       start,
			Inputs:   inputJSON,
			Outputs:  outputJSON,
			Status:   status,
			TraceID:  traceID,
		})
		if recErr != nil {
			r.log.Warn("registry: record tool call failed", "tool", name, "error", recErr)
		} else {
			recordedID = recorded.CallID
		}
	}

	r.log.Debug("registry: dispatch", "tool", name, "trace_id", traceID, "status", status, "elapsed_ms", elapsed.Milliseconds())

	if runErr != nil {
		return nil, recordedID, fmt.Errorf("registry: dispatch %s: %w", name, runErr)
	}
	return outputs, recordedID, nil
}

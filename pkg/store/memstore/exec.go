package memstore

import (
	"context"
	"fmt"
	"time"

	"github.com/echogarden-io/echogarden/pkg/store"
)

type execRepo struct{ s *Store }

func (r execRepo) CreateTrace(ctx context.Context, trace store.ExecTrace) (store.ExecTrace, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if trace.TraceID == "" {
		trace.TraceID = r.s.nextID("trace")
	}
	if trace.StartedTs.IsZero() {
		trace.StartedTs = time.Now()
	}
	if trace.Status == "" {
		trace.Status = store.TraceRunning
	}
	r.s.traces[trace.TraceID] = trace
	return trace, nil
}

func (r execRepo) FinishTrace(ctx context.Context, traceID string, status store.TraceStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.traces[traceID]
	if !ok {
		return fmt.Errorf("memstore: trace %q not found", traceID)
	}
	now := time.Now()
	t.FinishedTs = &now
	t.Status = status
	r.s.traces[traceID] = t
	return nil
}

func (r execRepo) GetTrace(ctx context.Context, traceID string) (store.ExecTrace, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.traces[traceID]
	if !ok {
		return store.ExecTrace{}, fmt.Errorf("memstore: trace %q not found", traceID)
	}
	return t, nil
}

func (r execRepo) CreateNode(ctx context.Context, node store.ExecNode) (store.ExecNode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if node.ExecNodeID == "" {
		node.ExecNodeID = r.s.nextID("node")
	}
	r.s.execNodes[node.ExecNodeID] = node
	return node, nil
}

func (r execRepo) UpdateNodeStatus(ctx context.Context, execNodeID string, state store.ExecNodeState) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n, ok := r.s.execNodes[execNodeID]
	if !ok {
		return fmt.Errorf("memstore: exec node %q not found", execNodeID)
	}
	n.State = state
	r.s.execNodes[execNodeID] = n
	return nil
}

func (r execRepo) CreateEdge(ctx context.Context, edge store.ExecEdge) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.execEdges = append(r.s.execEdges, edge)
	return nil
}

func (r execRepo) Graph(ctx context.Context, traceID string) ([]store.ExecNode, []store.ExecEdge, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var nodes []store.ExecNode
	nodeIDs := map[string]bool{}
	for _, n := range r.s.execNodes {
		if n.TraceID == traceID {
			nodes = append(nodes, n)
			nodeIDs[n.ExecNodeID] = true
		}
	}
	var edges []store.ExecEdge
	for _, e := range r.s.execEdges {
		if nodeIDs[e.FromExecNode] || nodeIDs[e.ToExecNode] {
			edges = append(edges, e)
		}
	}
	return nodes, edges, nil
}

func (r execRepo) RecordToolCall(ctx context.Context, call store.ToolCall) (store.ToolCall, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if call.CallID == "" {
		call.CallID = r.s.nextID("call")
	}
	if call.Ts.IsZero() {
		call.Ts = time.Now()
	}
	r.s.toolCalls = append(r.s.toolCalls, call)
	return call, nil
}

func (r execRepo) ListToolCalls(ctx context.Context, traceID string, limit int) ([]store.ToolCall, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []store.ToolCall
	for i := len(r.s.toolCalls) - 1; i >= 0; i-- {
		c := r.s.toolCalls[i]
		if traceID != "" && c.TraceID != traceID {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

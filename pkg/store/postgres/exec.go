package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/echogarden-io/echogarden/pkg/ids"
	"github.com/echogarden-io/echogarden/pkg/store"
)

type execRepo struct{ pool *pgxpool.Pool }

func (r execRepo) CreateTrace(ctx context.Context, trace store.ExecTrace) (store.ExecTrace, error) {
	if trace.TraceID == "" {
		trace.TraceID = ids.Prefixed("trace")
	}
	if trace.StartedTs.IsZero() {
		trace.StartedTs = time.Now()
	}
	if trace.Status == "" {
		trace.Status = store.TraceRunning
	}
	metadata, err := json.Marshal(trace.Metadata)
	if err != nil {
		return store.ExecTrace{}, fmt.Errorf("postgres: exec: marshal trace metadata: %w", err)
	}
	const q = `
		INSERT INTO exec_traces (trace_id, started_ts, status, root_call_id, metadata)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.pool.Exec(ctx, q, trace.TraceID, trace.StartedTs, string(trace.Status), trace.RootCallID, metadata); err != nil {
		return store.ExecTrace{}, fmt.Errorf("postgres: exec: create trace: %w", err)
	}
	return trace, nil
}

func (r execRepo) FinishTrace(ctx context.Context, traceID string, status store.TraceStatus) error {
	const q = `UPDATE exec_traces SET status = $2, finished_ts = now() WHERE trace_id = $1`
	tag, err := r.pool.Exec(ctx, q, traceID, string(status))
	if err != nil {
		return fmt.Errorf("postgres: exec: finish trace: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: exec: finish trace: trace %q not found", traceID)
	}
	return nil
}

func (r execRepo) GetTrace(ctx context.Context, traceID string) (store.ExecTrace, error) {
	const q = `SELECT trace_id, started_ts, finished_ts, status, root_call_id, metadata FROM exec_traces WHERE trace_id = $1`
	var (
		t        store.ExecTrace
		status   string
		metadata []byte
	)
	err := r.pool.QueryRow(ctx, q, traceID).Scan(&t.TraceID, &t.StartedTs, &t.FinishedTs, &status, &t.RootCallID, &metadata)
	if err != nil {
		return store.ExecTrace{}, fmt.Errorf("postgres: exec: get trace: %w", err)
	}
	t.Status = store.TraceStatus(status)
	if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
		return store.ExecTrace{}, fmt.Errorf("postgres: exec: unmarshal trace metadata: %w", err)
	}
	return t, nil
}

func (r execRepo) CreateNode(ctx context.Context, node store.ExecNode) (store.ExecNode, error) {
	if node.ExecNodeID == "" {
		node.ExecNodeID = ids.Prefixed("node")
	}
	const q = `
		INSERT INTO exec_nodes (exec_node_id, trace_id, call_id, state, attempt, timeout_ms)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.pool.Exec(ctx, q, node.ExecNodeID, node.TraceID, node.CallID, string(node.State), node.Attempt, node.TimeoutMs); err != nil {
		return store.ExecNode{}, fmt.Errorf("postgres: exec: create node: %w", err)
	}
	return node, nil
}

func (r execRepo) UpdateNodeStatus(ctx context.Context, execNodeID string, state store.ExecNodeState) error {
	const q = `UPDATE exec_nodes SET state = $2 WHERE exec_node_id = $1`
	tag, err := r.pool.Exec(ctx, q, execNodeID, string(state))
	if err != nil {
		return fmt.Errorf("postgres: exec: update node status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: exec: update node status: node %q not found", execNodeID)
	}
	return nil
}

func (r execRepo) CreateEdge(ctx context.Context, edge store.ExecEdge) error {
	const q = `
		INSERT INTO exec_edges (from_exec_node, to_exec_node, condition)
		VALUES ($1, $2, $3)
		ON CONFLICT (from_exec_node, to_exec_node) DO UPDATE SET condition = EXCLUDED.condition`
	if _, err := r.pool.Exec(ctx, q, edge.FromExecNode, edge.ToExecNode, string(edge.Condition)); err != nil {
		return fmt.Errorf("postgres: exec: create edge: %w", err)
	}
	return nil
}

func (r execRepo) Graph(ctx context.Context, traceID string) ([]store.ExecNode, []store.ExecEdge, error) {
	nodeRows, err := r.pool.Query(ctx, `
		SELECT exec_node_id, trace_id, call_id, state, attempt, timeout_ms
		FROM exec_nodes WHERE trace_id = $1`, traceID)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: exec: graph nodes: %w", err)
	}
	nodes, err := pgx.CollectRows(nodeRows, func(row pgx.CollectableRow) (store.ExecNode, error) {
		var n store.ExecNode
		var state string
		if err := row.Scan(&n.ExecNodeID, &n.TraceID, &n.CallID, &state, &n.Attempt, &n.TimeoutMs); err != nil {
			return store.ExecNode{}, err
		}
		n.State = store.ExecNodeState(state)
		return n, nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: exec: scan graph nodes: %w", err)
	}

	edgeRows, err := r.pool.Query(ctx, `
		SELECT ee.from_exec_node, ee.to_exec_node, ee.condition
		FROM exec_edges ee
		JOIN exec_nodes n ON n.exec_node_id = ee.from_exec_node
		WHERE n.trace_id = $1`, traceID)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: exec: graph edges: %w", err)
	}
	edges, err := pgx.CollectRows(edgeRows, func(row pgx.CollectableRow) (store.ExecEdge, error) {
		var e store.ExecEdge
		var condition string
		if err := row.Scan(&e.FromExecNode, &e.ToExecNode, &condition); err != nil {
			return store.ExecEdge{}, err
		}
		e.Condition = store.ExecEdgeCondition(condition)
		return e, nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: exec: scan graph edges: %w", err)
	}

	return nodes, edges, nil
}

func (r execRepo) RecordToolCall(ctx context.Context, call store.ToolCall) (store.ToolCall, error) {
	if call.CallID == "" {
		call.CallID = ids.Prefixed("call")
	}
	if call.Ts.IsZero() {
		call.Ts = time.Now()
	}
	const q = `
		INSERT INTO tool_calls (call_id, tool_name, ts, inputs, outputs, status, trace_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := r.pool.Exec(ctx, q, call.CallID, call.ToolName, call.Ts, call.Inputs, call.Outputs, string(call.Status), call.TraceID); err != nil {
		return store.ToolCall{}, fmt.Errorf("postgres: exec: record tool call: %w", err)
	}
	return call, nil
}

func (r execRepo) ListToolCalls(ctx context.Context, traceID string, limit int) ([]store.ToolCall, error) {
	args := []any{}
	where := ""
	if traceID != "" {
		args = append(args, traceID)
		where = "WHERE trace_id = $1"
	}
	args = append(args, nonZeroOr(limit, 50))
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT call_id, tool_name, ts, inputs, outputs, status, trace_id
		FROM tool_calls %s ORDER BY ts DESC LIMIT %s`, where, limitArg)

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: exec: list tool calls: %w", err)
	}
	defer rows.Close()

	var out []store.ToolCall
	for rows.Next() {
		var c store.ToolCall
		var status string
		if err := rows.Scan(&c.CallID, &c.ToolName, &c.Ts, &c.Inputs, &c.Outputs, &status, &c.TraceID); err != nil {
			return nil, fmt.Errorf("postgres: exec: scan tool call: %w", err)
		}
		c.Status = store.ToolCallStatus(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

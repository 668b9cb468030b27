package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPServerConfig describes an externally-hosted MCP tool server to connect
// to, either over stdio (spawn Command with Args) or streamable-HTTP (URL).
type MCPServerConfig struct {
	Name    string
	Command string
	Args    []string
	URL     string
}

// MCPTool adapts a single tool advertised by an external MCP server into the
// registry's Tool interface, so a document parser, OCR engine, or LLM that
// runs as its own process can be registered and dispatched exactly like an
// in-process tool — calling code never needs to know the difference.
type MCPTool struct {
	name         string
	inputSchema  map[string]any
	outputSchema map[string]any
	session      *mcpsdk.ClientSession
}

var _ Tool = (*MCPTool)(nil)

func (t *MCPTool) Name() string                 { return t.name }
func (t *MCPTool) InputSchema() map[string]any  { return t.inputSchema }
func (t *MCPTool) OutputSchema() map[string]any { return t.outputSchema }

// Run calls the tool on the remote MCP server and concatenates its text
// content. If that text is a JSON object it is returned as-is; otherwise it
// is wrapped under a "text" key so callers always get a map.
func (t *MCPTool) Run(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	result, err := t.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.name,
		Arguments: inputs,
	})
	if err != nil {
		return nil, fmt.Errorf("registry: mcp call %s: %w", t.name, err)
	}

	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if result.IsError {
		return nil, fmt.Errorf("registry: mcp tool %s returned an error: %s", t.name, sb.String())
	}
	if sb.Len() == 0 {
		return map[string]any{}, nil
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(sb.String()), &out); err != nil {
		return map[string]any{"text": sb.String()}, nil
	}
	return out, nil
}

// ConnectMCPServer connects to an external MCP server and returns one
// [MCPTool] per tool it advertises, ready to pass to [Registry.Register].
// The returned close function disconnects the session and should be added
// to the caller's shutdown sequence.
func ConnectMCPServer(ctx context.Context, cfg MCPServerConfig) ([]*MCPTool, func() error, error) {
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "echogarden-registry", Version: "1.0.0"}, nil)

	var transport mcpsdk.Transport
	switch {
	case cfg.URL != "":
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	case cfg.Command != "":
		transport = &mcpsdk.CommandTransport{Command: exec.CommandContext(ctx, cfg.Command, cfg.Args...)}
	default:
		return nil, nil, fmt.Errorf("registry: mcp server %q requires Command or URL", cfg.Name)
	}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("registry: connect to mcp server %q: %w", cfg.Name, err)
	}

	var tools []*MCPTool
	for tool, iterErr := range session.Tools(ctx, nil) {
		if iterErr != nil {
			_ = session.Close()
			return nil, nil, fmt.Errorf("registry: list tools for mcp server %q: %w", cfg.Name, iterErr)
		}
		tools = append(tools, &MCPTool{
			name:         tool.Name,
			inputSchema:  schemaToMap(tool.InputSchema),
			outputSchema: map[string]any{"type": "object"},
			session:      session,
		})
	}
	return tools, session.Close, nil
}

// schemaToMap normalizes an SDK-provided schema value (already a map, or a
// JSON-roundtrippable struct) into a plain map[string]any.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

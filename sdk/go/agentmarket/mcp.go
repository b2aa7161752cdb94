package agentmarket

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// RPCError is a JSON-RPC error returned by the MCP endpoint.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("agentmarket rpc error %d: %s", e.Code, e.Message)
}

// ToolError is returned when a tool call reports isError.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("agentmarket tool %s failed: %s", e.Tool, e.Message)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

type toolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

// CallTool invokes an MCP tool and returns its text content.
func (c *Client) CallTool(ctx context.Context, name string, args any) (string, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.rpcID.Add(1),
		Method:  "tools/call",
		Params:  map[string]any{"name": name, "arguments": args},
	}
	var resp rpcResponse
	if err := c.post(ctx, "/mcp", req, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", resp.Error
	}
	var result toolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", fmt.Errorf("decode tool result: %w", err)
	}
	var text strings.Builder
	for _, item := range result.Content {
		if item.Type == "text" {
			text.WriteString(item.Text)
		}
	}
	if result.IsError {
		return "", &ToolError{Tool: name, Message: strings.TrimPrefix(text.String(), "Error: ")}
	}
	return text.String(), nil
}

// Hire hires one agent through the hire_agent tool.
func (c *Client) Hire(ctx context.Context, params HireParams) (*HireResult, error) {
	text, err := c.CallTool(ctx, "hire_agent", params)
	if err != nil {
		return nil, err
	}
	var out HireResult
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("decode hire result: %w", err)
	}
	return &out, nil
}

package mcp

import "encoding/json"

// 协议与服务标识。
const (
	ProtocolVersion = "2024-11-05"
	ServerName      = "agent-marketplace"
	ServerVersion   = "1.0.0"
)

// JSON-RPC 2.0 错误码。
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
)

// Request 是一次 JSON-RPC 调用。ID 保留原始 JSON，可以是数字、字符串或缺省。
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response 是 JSON-RPC 响应，Result 与 Error 二者只出现其一。
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError 描述 JSON-RPC 错误。
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Tool 描述一个可调用的工具。
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

// InputSchema 是工具参数的 JSON Schema 子集。
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property 描述单个参数。
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ToolResult 是 tools/call 的返回值。
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content 是工具结果中的一段内容。
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// 工具名称。
const (
	ToolDiscoverAgents = "discover_agents"
	ToolHireAgent      = "hire_agent"
	ToolGetAgent       = "get_agent"
)

// Tools 返回对外声明的工具列表。
func Tools() []Tool {
	return []Tool{
		{
			Name:        ToolDiscoverAgents,
			Description: "Browse available agents on the GOAT Network ERC-8004 registry",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"capability":     {Type: "string", Description: "Filter by capability keyword (matches name or description)"},
					"min_reputation": {Type: "number", Description: "Accepted for compatibility and ignored; reputation is not filtered"},
					"x402_only":      {Type: "boolean", Description: "Only return agents with x402 payment support"},
				},
			},
		},
		{
			Name: ToolHireAgent,
			Description: "Hire an agent and pay via x402 on GOAT Testnet3. " +
				"WARNING: caller_private_key is transmitted over HTTPS. " +
				"Only use on trusted deployments. For production, implement a signing proxy.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"agent_id":        {Type: "number", Description: "ERC-8004 token ID of the agent to hire"},
					"task":            {Type: "string", Description: "Task type: 'summarize', 'translate', or 'explain-code'"},
					"input":           {Type: "string", Description: "The text or code input for the agent"},
					"budget_usdt":     {Type: "string", Description: "Maximum budget in USDT (no ceiling when omitted)"},
					"target_language": {Type: "string", Description: "Target language for translation tasks"},
					"caller_private_key": {Type: "string", Description: "Private key of the calling agent's wallet. This agent pays for the hire. " +
						"If omitted, the marketplace wallet pays."},
					"caller_address": {Type: "string", Description: "Public address of the calling agent (for logging and proof)."},
				},
				Required: []string{"agent_id", "task", "input"},
			},
		},
		{
			Name:        ToolGetAgent,
			Description: "Get details of a specific agent by ERC-8004 token ID",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"agent_id": {Type: "number", Description: "ERC-8004 token ID"},
				},
				Required: []string{"agent_id"},
			},
		},
	}
}

// ToolNames 返回工具名称，用于服务发现文档。
func ToolNames() []string {
	tools := Tools()
	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
	}
	return names
}

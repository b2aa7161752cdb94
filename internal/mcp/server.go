package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/orchestrator"
	"AgentMarket-Chain/internal/registry"
	"AgentMarket-Chain/pkg/logger"
)

const maxRequestBytes = 1 << 20

// Directory 提供智能体查询，由 registry.Resolver 实现。
type Directory interface {
	ListAgents(ctx context.Context) registry.Directory
	GetAgent(ctx context.Context, id uint64) (registry.AgentInfo, error)
}

// Hirer 执行单次雇佣，由 orchestrator.Orchestrator 实现。
type Hirer interface {
	Hire(ctx context.Context, req orchestrator.HireRequest) (*orchestrator.HireResult, error)
}

// Server 通过 JSON-RPC 2.0 暴露智能体市场工具。
type Server struct {
	agents Directory
	hirer  Hirer
	log    *slog.Logger
}

// NewServer 构造工具服务。
func NewServer(agents Directory, hirer Hirer) *Server {
	return &Server{agents: agents, hirer: hirer, log: logger.Named("mcp")}
}

// ServeHTTP 处理 GET 服务发现与 POST JSON-RPC 调用。
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, map[string]any{
			"name":            ServerName,
			"version":         ServerVersion,
			"protocol":        "MCP",
			"protocolVersion": ProtocolVersion,
			"tools":           ToolNames(),
			"description":     "Agent Economy Marketplace: discover and hire AI agents on GOAT Network via ERC-8004 + x402",
		})
	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
		if err != nil {
			writeJSON(w, errorResponse(nil, CodeParseError, "Parse error"))
			return
		}
		writeJSON(w, s.Handle(r.Context(), body))
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// Handle 解析并分派一次 JSON-RPC 调用。
func (s *Server) Handle(ctx context.Context, body []byte) Response {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return errorResponse(nil, CodeParseError, "Parse error")
	}
	if req.JSONRPC != "2.0" || strings.TrimSpace(req.Method) == "" {
		return errorResponse(req.ID, CodeInvalidRequest, "Invalid Request")
	}

	switch req.Method {
	case "initialize":
		return result(req.ID, map[string]any{
			"protocolVersion": ProtocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]string{"name": ServerName, "version": ServerVersion},
		})
	case "notifications/initialized":
		return result(req.ID, map[string]any{})
	case "tools/list":
		return result(req.ID, map[string]any{"tools": Tools()})
	case "tools/call":
		return s.callTool(ctx, req)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, "Method not found: "+req.Method)
	}
}

func (s *Server) callTool(ctx context.Context, req Request) Response {
	var params callParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, "Invalid params")
		}
	}
	if strings.TrimSpace(params.Name) == "" {
		return errorResponse(req.ID, CodeInvalidParams, "Missing tool name")
	}

	var handler func(context.Context, json.RawMessage) (any, error)
	switch params.Name {
	case ToolDiscoverAgents:
		handler = s.discoverAgents
	case ToolHireAgent:
		handler = s.hireAgent
	case ToolGetAgent:
		handler = s.getAgent
	default:
		return errorResponse(req.ID, CodeInvalidParams, "Unknown tool: "+params.Name)
	}

	out, err := handler(ctx, params.Arguments)
	if err != nil {
		s.log.Warn("工具调用失败",
			slog.String("tool", params.Name),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.Any("error", err))
		return result(req.ID, ToolResult{
			Content: []Content{{Type: "text", Text: "Error: " + xerrors.DetailOf(err)}},
			IsError: true,
		})
	}
	text, err := prettyJSON(out)
	if err != nil {
		return result(req.ID, ToolResult{
			Content: []Content{{Type: "text", Text: "Error: " + err.Error()}},
			IsError: true,
		})
	}
	return result(req.ID, ToolResult{Content: []Content{{Type: "text", Text: text}}})
}

func prettyJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", errors.New("结果序列化失败: " + err.Error())
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func result(id json.RawMessage, v any) Response {
	return Response{JSONRPC: "2.0", ID: normaliseID(id), Result: v}
}

func errorResponse(id json.RawMessage, code int, message string) Response {
	return Response{JSONRPC: "2.0", ID: normaliseID(id), Error: &RPCError{Code: code, Message: message}}
}

func normaliseID(id json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(id)) == 0 {
		return json.RawMessage("null")
	}
	return id
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

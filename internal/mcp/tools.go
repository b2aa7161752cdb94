package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/orchestrator"
	"AgentMarket-Chain/internal/registry"

	"github.com/shopspring/decimal"
)

// AgentSummary 是 discover_agents 返回的条目。
type AgentSummary struct {
	ID          uint64 `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
	MerchantID  string `json:"merchantId"`
	X402Support bool   `json:"x402Support"`
}

// AgentDetail 是 get_agent 的返回值，Endpoint 为空时输出 null。
type AgentDetail struct {
	ID          uint64  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	X402Support bool    `json:"x402Support"`
	Active      bool    `json:"active"`
	MerchantID  string  `json:"merchantId"`
	Price       string  `json:"price"`
	Endpoint    *string `json:"endpoint"`
}

// toolError 是业务层面的失败，以普通结果返回给调用方。
type toolError struct {
	Error string `json:"error"`
}

// discoverArgs 不解析 min_reputation：该参数仅为兼容而声明，取值不影响结果。
type discoverArgs struct {
	Capability string `json:"capability"`
	X402Only   bool   `json:"x402_only"`
}

type agentIDArgs struct {
	AgentID json.RawMessage `json:"agent_id"`
}

type hireArgs struct {
	AgentID          json.RawMessage `json:"agent_id"`
	Task             string          `json:"task"`
	Input            string          `json:"input"`
	BudgetUSDT       json.RawMessage `json:"budget_usdt"`
	TargetLanguage   string          `json:"target_language"`
	CallerPrivateKey string          `json:"caller_private_key"`
	CallerAddress    string          `json:"caller_address"`
}

func priceLabel(agent registry.AgentInfo) string {
	return agent.PriceUSDT + " USDT"
}

func (s *Server) discoverAgents(ctx context.Context, raw json.RawMessage) (any, error) {
	var args discoverArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	dir := s.agents.ListAgents(ctx).Filter(args.Capability, args.X402Only)
	out := make([]AgentSummary, 0, len(dir.Agents))
	for _, agent := range dir.Agents {
		out = append(out, AgentSummary{
			ID:          agent.ID,
			Name:        agent.Name,
			Description: agent.Description,
			Price:       priceLabel(agent),
			MerchantID:  agent.MerchantID,
			X402Support: agent.X402Support,
		})
	}
	return out, nil
}

func (s *Server) getAgent(ctx context.Context, raw json.RawMessage) (any, error) {
	var args agentIDArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	id, err := parseAgentID(args.AgentID)
	if err != nil {
		return nil, err
	}
	agent, err := s.agents.GetAgent(ctx, id)
	if err != nil {
		if xerrors.CodeOf(err) == registry.CodeAgentNotFound {
			return toolError{Error: xerrors.DetailOf(err)}, nil
		}
		return nil, err
	}
	detail := AgentDetail{
		ID:          agent.ID,
		Name:        agent.Name,
		Description: agent.Description,
		X402Support: agent.X402Support,
		Active:      agent.Active,
		MerchantID:  agent.MerchantID,
		Price:       priceLabel(agent),
	}
	if agent.Callable() {
		endpoint := agent.Endpoint
		detail.Endpoint = &endpoint
	}
	return detail, nil
}

func (s *Server) hireAgent(ctx context.Context, raw json.RawMessage) (any, error) {
	var args hireArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	id, err := parseAgentID(args.AgentID)
	if err != nil {
		return nil, err
	}
	budget, err := parseBudget(args.BudgetUSDT)
	if err != nil {
		return nil, err
	}

	res, err := s.hirer.Hire(ctx, orchestrator.HireRequest{
		AgentID:        id,
		Task:           args.Task,
		Input:          args.Input,
		BudgetUSDT:     budget,
		TargetLanguage: args.TargetLanguage,
		CallerKey:      args.CallerPrivateKey,
		CallerAddress:  args.CallerAddress,
	})
	if err != nil {
		switch xerrors.CodeOf(err) {
		case registry.CodeAgentNotFound, orchestrator.CodeAgentNotHireable, orchestrator.CodeNoCallableEndpoint, orchestrator.CodeBudgetExceeded:
			return toolError{Error: xerrors.DetailOf(err)}, nil
		}
		return nil, err
	}
	return res, nil
}

func decodeArgs(raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "工具参数解析失败")
	}
	return nil
}

// parseAgentID 接受非负整数或其字符串形式。
func parseAgentID(raw json.RawMessage) (uint64, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "agent_id is required")
	}
	if unquoted, err := strconv.Unquote(trimmed); err == nil {
		trimmed = strings.TrimSpace(unquoted)
	}
	if id, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
		return id, nil
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || f < 0 || f != math.Trunc(f) || f >= 1<<63 {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("agent_id %s is not a valid token id", trimmed))
	}
	return uint64(f), nil
}

// parseBudget 接受字符串或数字，缺省时不设上限。
func parseBudget(raw json.RawMessage) (decimal.NullDecimal, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || trimmed == `""` {
		return decimal.NullDecimal{}, nil
	}
	if unquoted, err := strconv.Unquote(trimmed); err == nil {
		trimmed = strings.TrimSpace(unquoted)
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.NullDecimal{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("budget_usdt %q is not a decimal amount", trimmed))
	}
	if value.IsNegative() {
		return decimal.NullDecimal{}, xerrors.New(xerrors.CodeInvalidArgument, "budget_usdt must not be negative")
	}
	return decimal.NullDecimal{Decimal: value, Valid: true}, nil
}

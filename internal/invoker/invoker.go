package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/registry"
	"AgentMarket-Chain/pkg/logger"
)

const (
	// CodeInvocationTimeout 智能体调用超过超时时间。
	CodeInvocationTimeout xerrors.Code = "INVOCATION_TIMEOUT"
	// CodeInvocationFailed 智能体调用失败或返回异常响应。
	CodeInvocationFailed xerrors.Code = "INVOCATION_FAILED"
)

func init() {
	xerrors.Register(CodeInvocationTimeout, xerrors.Attributes{
		Message:  "agent invocation timed out",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeInvocationFailed, xerrors.Attributes{
		Message:  "agent invocation failed",
		Severity: xerrors.SeverityWarning,
	})
}

const (
	// PaymentHeader 携带结算交易哈希作为付款凭证。
	PaymentHeader = "X-Payment"
	// NoOutput 是智能体既没有 result 也没有 error 时的占位输出。
	NoOutput = "No output"

	defaultTimeout   = 10 * time.Second
	maxResponseBytes = 1 << 20
)

// Payment 是随调用一起发送的付款凭证。
type Payment struct {
	TxHash      string `json:"txHash"`
	OrderID     string `json:"orderId"`
	ExplorerURL string `json:"explorerUrl"`
}

// Request 是一次调用的输入，与端点形态无关。
type Request struct {
	Task           string
	Input          string
	TargetLanguage string
	Payment        Payment
}

// RemoteRequest 是发往绝对 URL 端点的通用信封。
type RemoteRequest struct {
	Task           string  `json:"task"`
	Input          string  `json:"input"`
	TargetLanguage string  `json:"targetLanguage,omitempty"`
	Payment        Payment `json:"payment"`
}

// LocalRequest 是内置本地智能体沿用的请求体。
type LocalRequest struct {
	Text           string `json:"text"`
	TargetLanguage string `json:"targetLanguage,omitempty"`
	Code           string `json:"code,omitempty"`
}

// PaymentRequired 是智能体返回 402 时的响应体。
type PaymentRequired struct {
	Error    string `json:"error"`
	Amount   string `json:"amount,omitempty"`
	Currency string `json:"currency,omitempty"`
	Address  string `json:"address,omitempty"`
	ChainID  int64  `json:"chainId,omitempty"`
	Network  string `json:"network,omitempty"`
}

func (p PaymentRequired) String() string {
	msg := p.Error
	if msg == "" {
		msg = "Payment required"
	}
	if p.Amount != "" {
		msg += fmt.Sprintf(" (%s %s to %s on chain %d)", p.Amount, p.Currency, p.Address, p.ChainID)
	}
	return msg
}

// Outcome 是一次调用的结果。Text 总是非空；失败时 Err 携带错误码。
type Outcome struct {
	Text string
	Err  error
}

// Failed 判断调用是否失败。
func (o Outcome) Failed() bool {
	return o.Err != nil
}

type agentResponse struct {
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// Config 配置 Invoker。
type Config struct {
	// LocalBaseURL 与相对路径端点拼接。
	LocalBaseURL string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// Invoker 调用已付款的智能体并规整其输出。
type Invoker struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	log        *slog.Logger
}

// New 创建 Invoker。
func New(cfg Config) *Invoker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Invoker{
		baseURL:    strings.TrimRight(cfg.LocalBaseURL, "/"),
		timeout:    timeout,
		httpClient: client,
		log:        logger.Named("invoker"),
	}
}

// Invoke 调用智能体端点。任何失败都转换为 Outcome，不会向上抛出。
func (i *Invoker) Invoke(ctx context.Context, agent registry.AgentInfo, req Request) Outcome {
	started := time.Now()
	text, err := i.invoke(ctx, agent, req)
	if err != nil {
		i.log.Warn("智能体调用失败",
			slog.String("agent", agent.Name),
			slog.String("endpoint", agent.Endpoint),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.Duration("elapsed", time.Since(started)),
			slog.Any("error", err))
		if text == "" {
			text = "Error: " + xerrors.DetailOf(err)
		}
		return Outcome{Text: text, Err: err}
	}
	i.log.Debug("智能体调用完成",
		slog.String("agent", agent.Name),
		slog.Duration("elapsed", time.Since(started)))
	return Outcome{Text: text}
}

func (i *Invoker) invoke(ctx context.Context, agent registry.AgentInfo, req Request) (string, error) {
	target, body, err := i.buildRequest(agent, req)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", xerrors.Wrap(CodeInvocationFailed, err, "编码请求失败")
	}

	callCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return "", xerrors.Wrap(CodeInvocationFailed, err, "构造请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Payment.TxHash != "" {
		httpReq.Header.Set(PaymentHeader, req.Payment.TxHash)
	}

	resp, err := i.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", xerrors.New(CodeInvocationTimeout,
				fmt.Sprintf("agent %s did not respond within %s", agent.Name, i.timeout))
		}
		return "", xerrors.Wrap(CodeInvocationFailed, err, fmt.Sprintf("agent %s unreachable", agent.Name))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", xerrors.New(CodeInvocationTimeout,
				fmt.Sprintf("agent %s did not respond within %s", agent.Name, i.timeout))
		}
		return "", xerrors.Wrap(CodeInvocationFailed, err, "读取响应失败")
	}

	if resp.StatusCode == http.StatusPaymentRequired {
		var required PaymentRequired
		_ = json.Unmarshal(raw, &required)
		return "", xerrors.New(CodeInvocationFailed, "payment required: "+required.String(),
			xerrors.WithMetadata("status", "402"))
	}

	var parsed agentResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		if resp.StatusCode >= 300 {
			return "", xerrors.New(CodeInvocationFailed,
				fmt.Sprintf("agent %s returned HTTP %d", agent.Name, resp.StatusCode))
		}
		return "", xerrors.Wrap(CodeInvocationFailed, err, fmt.Sprintf("agent %s returned invalid JSON", agent.Name))
	}

	if result := rawText(parsed.Result); result != "" {
		return result, nil
	}
	if msg := rawText(parsed.Error); msg != "" {
		return msg, xerrors.New(CodeInvocationFailed, msg,
			xerrors.WithMetadata("status", fmt.Sprint(resp.StatusCode)))
	}
	if resp.StatusCode >= 300 {
		return "", xerrors.New(CodeInvocationFailed,
			fmt.Sprintf("agent %s returned HTTP %d", agent.Name, resp.StatusCode))
	}
	return NoOutput, nil
}

// buildRequest 根据端点形态构造目标地址与请求体。
func (i *Invoker) buildRequest(agent registry.AgentInfo, req Request) (string, any, error) {
	switch agent.Route {
	case registry.EndpointRemote:
		return agent.Endpoint, RemoteRequest{
			Task:           req.Task,
			Input:          req.Input,
			TargetLanguage: req.TargetLanguage,
			Payment:        req.Payment,
		}, nil
	case registry.EndpointLocal:
		if i.baseURL == "" {
			return "", nil, xerrors.New(CodeInvocationFailed, "本地智能体地址未配置")
		}
		path := agent.Endpoint
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		body := LocalRequest{Text: req.Input}
		if isTranslator(agent, req.Task) {
			body.TargetLanguage = req.TargetLanguage
		}
		if isCodeExplainer(agent, req.Task) {
			body.Code = req.Input
		}
		return i.baseURL + path, body, nil
	default:
		return "", nil, xerrors.New(CodeInvocationFailed, fmt.Sprintf("agent %s has no callable endpoint", agent.Name))
	}
}

func isTranslator(agent registry.AgentInfo, task string) bool {
	return task == "translate" || strings.EqualFold(agent.Name, "Translator")
}

func isCodeExplainer(agent registry.AgentInfo, task string) bool {
	return task == "explain-code" || strings.EqualFold(agent.Name, "Code Explainer")
}

// rawText 将 JSON 字段转换为文本：字符串取其值，其他类型保留 JSON 表示。
func rawText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	return string(trimmed)
}

package agenthost

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"AgentMarket-Chain/internal/invoker"
	"AgentMarket-Chain/internal/llm"
	"AgentMarket-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// 内置智能体的路由路径，与回退注册表中的本地端点一致。
const (
	SummarizePath = "/api/agents/summarize"
	TranslatePath = "/api/agents/translate"
)

const (
	defaultTargetLanguage = "French"
	maxBodyBytes          = 1 << 20
)

// Verifier 检查链上付款，由 settlement.Engine 实现。
type Verifier interface {
	VerifyPayment(ctx context.Context, txHash, payee string, amount decimal.Decimal) (bool, error)
}

// Config 描述内置智能体的收款参数。
type Config struct {
	// Wallets 以智能体键（summarizer、translator）索引收款地址。
	Wallets  map[string]string
	Price    decimal.Decimal
	Currency string
	ChainID  int64
	Network  string
}

// Host 提供按次付费的本地智能体：缺少付款凭证时返回 402，验证通过后调用大模型。
type Host struct {
	cfg      Config
	model    llm.Client
	verifier Verifier
	agents   []*localAgent
	log      *slog.Logger
}

type localAgent struct {
	key    string
	name   string
	path   string
	wallet string
	prompt func(body taskBody) (system string, lang string)
}

type taskBody struct {
	Text           string `json:"text"`
	TargetLanguage string `json:"targetLanguage"`
}

// ProofOfPayment 回显验证通过的付款信息。
type ProofOfPayment struct {
	TxHash      string `json:"txHash"`
	FromAddress string `json:"fromAddress,omitempty"`
	ToAddress   string `json:"toAddress"`
	ChainID     int64  `json:"chainId"`
}

// TaskResponse 是本地智能体的成功响应。
type TaskResponse struct {
	Result         string         `json:"result"`
	Agent          string         `json:"agent"`
	TargetLanguage string         `json:"targetLanguage,omitempty"`
	ProofOfPayment ProofOfPayment `json:"proofOfPayment"`
}

// New 创建本地智能体宿主。未配置收款地址的智能体仍会注册，但付款校验无法通过。
func New(cfg Config, model llm.Client, verifier Verifier) (*Host, error) {
	if model == nil {
		return nil, errors.New("内置智能体需要配置大模型客户端")
	}
	if verifier == nil {
		return nil, errors.New("内置智能体需要配置付款校验器")
	}
	if !cfg.Price.IsPositive() {
		cfg.Price = decimal.RequireFromString("0.10")
	}
	if cfg.Currency == "" {
		cfg.Currency = "USDT"
	}

	h := &Host{cfg: cfg, model: model, verifier: verifier, log: logger.Named("agenthost")}
	h.agents = []*localAgent{
		{
			key:  "summarizer",
			name: "Summarizer",
			path: SummarizePath,
			prompt: func(taskBody) (string, string) {
				return "You are a summarization agent. Summarize the given text into 3-5 concise bullet points.", ""
			},
		},
		{
			key:  "translator",
			name: "Translator",
			path: TranslatePath,
			prompt: func(body taskBody) (string, string) {
				lang := strings.TrimSpace(body.TargetLanguage)
				if lang == "" {
					lang = defaultTargetLanguage
				}
				return "You are a translation agent. Translate the given text to " + lang + ". Return only the translation.", lang
			},
		},
	}
	for _, agent := range h.agents {
		wallet := strings.TrimSpace(cfg.Wallets[agent.key])
		if wallet != "" && !common.IsHexAddress(wallet) {
			return nil, errors.New("智能体 " + agent.key + " 的收款地址不合法: " + wallet)
		}
		if wallet == "" {
			h.log.Warn("内置智能体未配置收款地址", slog.String("agent", agent.name))
		}
		agent.wallet = wallet
	}
	return h, nil
}

// Register 将内置智能体挂载到路由上。
func (h *Host) Register(mux *http.ServeMux) {
	for _, agent := range h.agents {
		mux.Handle("POST "+agent.path, h.handler(agent))
	}
}

// Paths 返回已注册的路由路径。
func (h *Host) Paths() []string {
	paths := make([]string, 0, len(h.agents))
	for _, agent := range h.agents {
		paths = append(paths, agent.path)
	}
	return paths
}

func (h *Host) handler(agent *localAgent) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "仅支持 POST"})
			return
		}

		header := strings.TrimSpace(r.Header.Get(invoker.PaymentHeader))
		if header == "" {
			writeJSON(w, http.StatusPaymentRequired, invoker.PaymentRequired{
				Error:    "Payment required",
				Amount:   h.cfg.Price.StringFixed(2),
				Currency: h.cfg.Currency,
				Address:  agent.wallet,
				ChainID:  h.cfg.ChainID,
				Network:  h.cfg.Network,
			})
			return
		}

		// 凭证格式为 txHash 或 txHash:fromAddress。
		txHash, fromAddress, _ := strings.Cut(header, ":")
		ok, err := h.verifier.VerifyPayment(r.Context(), txHash, agent.wallet, h.cfg.Price)
		if err != nil {
			h.log.Error("付款校验失败", slog.String("agent", agent.name), slog.String("tx_hash", txHash), slog.Any("error", err))
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "Payment verification unavailable"})
			return
		}
		if !ok {
			logger.Audit().Warn("local_agent_payment_rejected",
				slog.String("agent", agent.name),
				slog.String("tx_hash", txHash))
			writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": "Invalid payment"})
			return
		}

		var body taskBody
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "请求体解析失败"})
			return
		}
		if strings.TrimSpace(body.Text) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text 不能为空"})
			return
		}

		system, lang := agent.prompt(body)
		resp, err := h.model.Generate(r.Context(), llm.Request{System: system, Prompt: body.Text})
		if err != nil {
			h.log.Error("大模型调用失败", slog.String("agent", agent.name), slog.Any("error", err))
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "Model unavailable"})
			return
		}

		logger.Audit().Info("local_agent_served",
			slog.String("agent", agent.name),
			slog.String("tx_hash", txHash),
			slog.String("from", fromAddress))
		writeJSON(w, http.StatusOK, TaskResponse{
			Result:         resp.Text,
			Agent:          agent.name,
			TargetLanguage: lang,
			ProofOfPayment: ProofOfPayment{
				TxHash:      txHash,
				FromAddress: fromAddress,
				ToAddress:   agent.wallet,
				ChainID:     h.cfg.ChainID,
			},
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

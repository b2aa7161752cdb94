package orchestrator

import (
	"context"
	"log/slog"
	"strings"

	"AgentMarket-Chain/internal/auth"
	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/observability/metrics"
	"AgentMarket-Chain/internal/settlement"
	"AgentMarket-Chain/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// HireRequest 描述对单个智能体的雇佣。CallerKey 非空时由调用方自行付款。
type HireRequest struct {
	AgentID        uint64
	Task           string
	Input          string
	BudgetUSDT     decimal.NullDecimal
	TargetLanguage string
	CallerKey      string
	CallerAddress  string
}

// HireResult 是单次雇佣的结果，Run 为同结构的编排结果。
type HireResult struct {
	JobID       string  `json:"job_id"`
	Agent       string  `json:"agent"`
	TxHash      string  `json:"tx_hash,omitempty"`
	OrderID     string  `json:"order_id,omitempty"`
	Result      string  `json:"result"`
	ExplorerURL string  `json:"explorer_url,omitempty"`
	PaidBy      string  `json:"paid_by,omitempty"`
	SelfFunded  bool    `json:"self_funded"`
	DemoMode    bool    `json:"demo_mode"`
	Run         *Result `json:"run"`
}

// Hire 雇佣指定智能体。智能体不存在、不可雇佣、无端点、超预算或私钥非法时在付款前返回错误；
// 付款与调用失败记录在结果中。
func (o *Orchestrator) Hire(ctx context.Context, req HireRequest) (*HireResult, error) {
	req.Task = strings.TrimSpace(req.Task)
	if req.Task == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}

	agent, err := o.agents.GetAgent(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}
	if err := checkHire(agent, req.BudgetUSDT); err != nil {
		metrics.ObserveHire(agent.Name, string(xerrors.CodeOf(err)))
		return nil, err
	}

	payer := settlement.OrchestratorPayer()
	if strings.TrimSpace(req.CallerKey) != "" {
		payer, err = settlement.CallerPayer(req.CallerKey)
		if err != nil {
			return nil, err
		}
	}

	out := o.hire(ctx, agent, hireParams{
		task:           req.Task,
		input:          req.Input,
		targetLanguage: req.TargetLanguage,
		budget:         req.BudgetUSDT,
		payer:          payer,
	})
	out.key = agent.Name

	run := o.newResult(req.Task, "")
	o.record(run, out)

	res := &HireResult{
		JobID:      "job_" + uuid.NewString(),
		Agent:      agent.Name,
		Result:     out.output,
		SelfFunded: payer.SelfFunded(),
		DemoMode:   run.DemoMode,
		Run:        run,
	}
	if p := out.payment; p != nil {
		res.TxHash = p.TxHash
		res.OrderID = p.OrderID
		res.ExplorerURL = p.ExplorerURL
		res.PaidBy = out.paidBy
	}
	if req.CallerAddress != "" {
		res.PaidBy = req.CallerAddress
	}

	logger.Audit().Info("agent_hired",
		slog.String("job_id", res.JobID),
		slog.String("caller", callerName(ctx)),
		slog.String("agent", agent.Name),
		slog.Uint64("agent_id", agent.ID),
		slog.String("tx_hash", res.TxHash),
		slog.Any("payer", payer),
		slog.Bool("failed", out.err != nil))
	return res, nil
}

// callerName 返回经认证中间件写入上下文的调用方名称，后台任务等无主体的上下文记为 internal。
func callerName(ctx context.Context) string {
	if subject := auth.SubjectFromContext(ctx); subject != nil && subject.Name != "" {
		return subject.Name
	}
	return "internal"
}

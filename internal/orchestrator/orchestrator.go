package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/invoker"
	"AgentMarket-Chain/internal/observability/metrics"
	"AgentMarket-Chain/internal/registry"
	"AgentMarket-Chain/internal/settlement"
	"AgentMarket-Chain/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	// CodeNoCallableEndpoint 智能体可被发现但没有可调用端点。
	CodeNoCallableEndpoint xerrors.Code = "NO_CALLABLE_ENDPOINT"
	// CodeBudgetExceeded 智能体价格超出调用方预算。
	CodeBudgetExceeded xerrors.Code = "BUDGET_EXCEEDED"
	// CodeAgentNotHireable 智能体未激活或不支持 x402。
	CodeAgentNotHireable xerrors.Code = "AGENT_NOT_HIREABLE"
)

func init() {
	xerrors.Register(CodeNoCallableEndpoint, xerrors.Attributes{
		Message:  "agent has no callable endpoint",
		Severity: xerrors.SeverityInfo,
		Status:   http.StatusUnprocessableEntity,
	})
	xerrors.Register(CodeAgentNotHireable, xerrors.Attributes{
		Message:  "agent is not hireable",
		Severity: xerrors.SeverityInfo,
		Status:   http.StatusUnprocessableEntity,
	})
	xerrors.Register(CodeBudgetExceeded, xerrors.Attributes{
		Message:  "agent price exceeds budget",
		Severity: xerrors.SeverityInfo,
		Status:   http.StatusUnprocessableEntity,
	})
}

// 支持的任务标签。
const (
	TaskFullPipeline = "full-pipeline"
	TaskSummarize    = "summarize"
	TaskTranslate    = "translate"
	TaskExplainCode  = "explain-code"
)

// capabilities 将单智能体任务映射到其能力名称。
var capabilities = map[string]string{
	TaskSummarize:   "Summarizer",
	TaskTranslate:   "Translator",
	TaskExplainCode: "Code Explainer",
}

// PaidByOrchestrator 标记由编排器钱包付款的交易。
const PaidByOrchestrator = "orchestrator"

// Directory 提供智能体集合，由 registry.Resolver 实现。
type Directory interface {
	ListAgents(ctx context.Context) registry.Directory
	GetAgent(ctx context.Context, id uint64) (registry.AgentInfo, error)
}

// Settler 执行付款，由 settlement.Engine 实现。
type Settler interface {
	PayAgent(ctx context.Context, req settlement.PayRequest) (*settlement.PaymentResult, error)
	Mode() settlement.Mode
	ChainID() int64
}

// Caller 调用已付款的智能体，由 invoker.Invoker 实现。
type Caller interface {
	Invoke(ctx context.Context, agent registry.AgentInfo, req invoker.Request) invoker.Outcome
}

// RunRequest 描述一次编排请求。
type RunRequest struct {
	Task           string              `json:"task"`
	Input          string              `json:"input"`
	TargetLanguage string              `json:"targetLanguage,omitempty"`
	BudgetUSDT     decimal.NullDecimal `json:"budgetUsdt"`
}

// Transaction 记录一次成功的付款。
type Transaction struct {
	Agent     string `json:"agent"`
	TxHash    string `json:"txHash"`
	OrderID   string `json:"orderId"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	ChainID   int64  `json:"chainId"`
	Explorer  string `json:"explorer"`
	PaidBy    string `json:"paidBy"`
	Simulated bool   `json:"simulated,omitempty"`
}

// Result 是一次编排的汇总结果。
type Result struct {
	RunID        string          `json:"runId"`
	Task         string          `json:"task"`
	Timestamp    time.Time       `json:"timestamp"`
	AgentSource  registry.Origin `json:"agentSource,omitempty"`
	Transactions []Transaction   `json:"transactions"`
	Outputs      Outputs         `json:"outputs"`
	DemoMode     bool            `json:"demoMode"`
}

// Orchestrator 选择智能体、逐个付款并调用，汇总各自的输出。
type Orchestrator struct {
	agents     Directory
	settler    Settler
	caller     Caller
	maxWorkers int
	log        *slog.Logger
	now        func() time.Time
}

// Option 定义可选的 Orchestrator 配置。
type Option func(*Orchestrator)

// WithMaxWorkers 限制并发雇佣的数量，0 表示与选中的智能体数量一致。
func WithMaxWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxWorkers = n
		}
	}
}

// WithLogger 替换默认日志器。
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

// New 创建编排器。
func New(agents Directory, settler Settler, caller Caller, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		agents:  agents,
		settler: settler,
		caller:  caller,
		log:     logger.Named("orchestrator"),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// DemoMode 判断结算是否处于模拟模式。
func (o *Orchestrator) DemoMode() bool {
	return o.settler.Mode() == settlement.ModeSimulated
}

// Select 按任务标签选出雇佣集合，保持输入顺序。
func Select(task string, agents []registry.AgentInfo) []registry.AgentInfo {
	if task == TaskFullPipeline {
		return append([]registry.AgentInfo(nil), agents...)
	}
	name, ok := capabilities[task]
	if !ok {
		return nil
	}
	for _, agent := range agents {
		if strings.EqualFold(strings.TrimSpace(agent.Name), name) {
			return []registry.AgentInfo{agent}
		}
	}
	return nil
}

// KnownTask 判断任务标签是否受支持。
func KnownTask(task string) bool {
	_, ok := capabilities[task]
	return ok || task == TaskFullPipeline
}

// Run 执行一次编排。只有请求本身不合法时才返回错误，单个智能体的失败记录在输出中。
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*Result, error) {
	req.Task = strings.TrimSpace(req.Task)
	if req.Task == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	if req.BudgetUSDT.Valid && req.BudgetUSDT.Decimal.IsNegative() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "budget 不能为负数")
	}

	dir := o.agents.ListAgents(ctx)
	metrics.ObserveAgentSource(string(dir.Origin))
	selected := Select(req.Task, dir.Agents)

	result := o.newResult(req.Task, dir.Origin)
	o.log.Info("开始编排",
		slog.String("run_id", result.RunID),
		slog.String("caller", callerName(ctx)),
		slog.String("task", req.Task),
		slog.String("agent_source", string(dir.Origin)),
		slog.Int("selected", len(selected)))

	hire := hireParams{
		task:           req.Task,
		input:          req.Input,
		targetLanguage: req.TargetLanguage,
		budget:         req.BudgetUSDT,
		payer:          settlement.OrchestratorPayer(),
	}
	outcomes := o.fanOut(ctx, selected, hire)
	for _, out := range outcomes {
		o.record(result, out)
	}

	logger.Audit().Info("orchestration_completed",
		slog.String("run_id", result.RunID),
		slog.String("task", req.Task),
		slog.String("agent_source", string(dir.Origin)),
		slog.Int("outputs", result.Outputs.Len()),
		slog.Int("transactions", len(result.Transactions)),
		slog.Bool("demo_mode", result.DemoMode))
	return result, nil
}

// fanOut 并发执行各智能体的雇佣流程，按选中顺序返回结果。
func (o *Orchestrator) fanOut(ctx context.Context, agents []registry.AgentInfo, hire hireParams) []hireOutcome {
	outcomes := make([]hireOutcome, len(agents))
	if len(agents) == 0 {
		return outcomes
	}
	limit := len(agents)
	if o.maxWorkers > 0 && o.maxWorkers < limit {
		limit = o.maxWorkers
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, agent := range agents {
		g.Go(func() error {
			outcomes[i] = o.hire(ctx, agent, hire)
			return nil
		})
	}
	_ = g.Wait()

	taken := make(map[string]bool, len(outcomes))
	for i := range outcomes {
		outcomes[i].key = uniqueKey(taken, outcomes[i].agent)
		taken[outcomes[i].key] = true
	}
	return outcomes
}

// uniqueKey 返回未被占用的输出键：先用名称，再用 "名称 #ID"，仍冲突时追加序号。
func uniqueKey(taken map[string]bool, agent registry.AgentInfo) string {
	if !taken[agent.Name] {
		return agent.Name
	}
	base := fmt.Sprintf("%s #%d", agent.Name, agent.ID)
	key := base
	for n := 2; taken[key]; n++ {
		key = fmt.Sprintf("%s (%d)", base, n)
	}
	return key
}

type hireParams struct {
	task           string
	input          string
	targetLanguage string
	budget         decimal.NullDecimal
	payer          settlement.Payer
}

type hireOutcome struct {
	agent   registry.AgentInfo
	key     string
	output  string
	payment *settlement.PaymentResult
	paidBy  string
	err     error
}

// hire 依次执行端点检查、预算检查、付款与调用。任一步失败都转换为错误输出。
func (o *Orchestrator) hire(ctx context.Context, agent registry.AgentInfo, p hireParams) (out hireOutcome) {
	out.agent = agent
	started := time.Now()
	defer func() {
		outcome := "ok"
		if out.err != nil {
			outcome = string(xerrors.CodeOf(out.err))
			out.output = errorOutput(out.err, out.output)
		}
		metrics.ObserveHire(agent.Name, outcome)
		o.log.Info("雇佣完成",
			slog.String("agent", agent.Name),
			slog.Uint64("agent_id", agent.ID),
			slog.String("outcome", outcome),
			slog.Duration("elapsed", time.Since(started)))
	}()

	if err := checkHire(agent, p.budget); err != nil {
		out.err = err
		return out
	}

	price := agent.Price()
	var payment invoker.Payment
	if price.IsPositive() {
		paid, err := o.settler.PayAgent(ctx, settlement.PayRequest{
			MerchantID: agent.MerchantID,
			AmountUSDT: price,
			Payer:      p.payer,
			Memo:       agent.Name,
		})
		if err != nil {
			out.err = err
			return out
		}
		out.payment = paid
		out.paidBy = PaidByOrchestrator
		if p.payer.SelfFunded() {
			out.paidBy = p.payer.Address()
		}
		payment = invoker.Payment{TxHash: paid.TxHash, OrderID: paid.OrderID, ExplorerURL: paid.ExplorerURL}
	}

	called := o.caller.Invoke(ctx, agent, invoker.Request{
		Task:           p.task,
		Input:          p.input,
		TargetLanguage: p.targetLanguage,
		Payment:        payment,
	})
	out.output = called.Text
	out.err = called.Err
	return out
}

// checkHire 在付款前检查雇佣资格、端点与预算。
func checkHire(agent registry.AgentInfo, budget decimal.NullDecimal) error {
	if !agent.Hireable() {
		return xerrors.New(CodeAgentNotHireable,
			fmt.Sprintf("Agent #%d (%s) is not hireable: it must be active and support x402.", agent.ID, agent.Name))
	}
	if !agent.Callable() {
		return xerrors.New(CodeNoCallableEndpoint,
			fmt.Sprintf("Agent #%d (%s) has no callable endpoint. It may be discoverable but not hirable.", agent.ID, agent.Name))
	}
	if budget.Valid && agent.Price().GreaterThan(budget.Decimal) {
		return xerrors.New(CodeBudgetExceeded,
			fmt.Sprintf("Agent price (%s USDT) exceeds budget (%s USDT)", agent.PriceUSDT, budget.Decimal.String()))
	}
	return nil
}

// errorOutput 生成错误输出；调用方已给出文本时沿用。
func errorOutput(err error, text string) string {
	if text != "" {
		return text
	}
	return "Error: " + xerrors.DetailOf(err)
}

func (o *Orchestrator) newResult(task string, origin registry.Origin) *Result {
	return &Result{
		RunID:        uuid.NewString(),
		Task:         task,
		Timestamp:    o.now().UTC(),
		AgentSource:  origin,
		Transactions: []Transaction{},
		DemoMode:     o.DemoMode(),
	}
}

// record 追加一条输出；付款成功时同时追加交易。
func (o *Orchestrator) record(r *Result, out hireOutcome) {
	if p := out.payment; p != nil {
		r.Transactions = append(r.Transactions, Transaction{
			Agent:     out.key,
			TxHash:    p.TxHash,
			OrderID:   p.OrderID,
			Amount:    p.Amount,
			Currency:  p.Currency,
			ChainID:   o.settler.ChainID(),
			Explorer:  p.ExplorerURL,
			PaidBy:    out.paidBy,
			Simulated: p.Simulated,
		})
	}
	r.Outputs.Set(out.key, out.output)
}

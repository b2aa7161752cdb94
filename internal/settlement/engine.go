package settlement

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/observability/alerting"
	"AgentMarket-Chain/internal/observability/metrics"
	"AgentMarket-Chain/internal/web3"
	"AgentMarket-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
)

// Config 是结算引擎的运行参数，由 config.SettlementConfig 与链定义组合得到。
type Config struct {
	Mode            Mode
	ChainID         int64
	Token           common.Address
	Decimals        int32
	Currency        string
	DefaultMerchant string
	ExplorerURL     string
	PollInterval    time.Duration
	PollTimeout     time.Duration
	TransferTimeout time.Duration
	OrchestratorKey *ecdsa.PrivateKey
}

// Engine 执行 "向商户支付" 的结算流程：创建订单、链上转账、轮询确认；
// 演示模式下直接合成结构一致的结果。
type Engine struct {
	cfg    Config
	orders *OrderClient
	chain  web3.TokenTransferer
	alerts alerting.Dispatcher
	log    *slog.Logger
}

// Option 定义可选的 Engine 配置。
type Option func(*Engine)

// WithAlerts 配置结算异常告警。
func WithAlerts(d alerting.Dispatcher) Option {
	return func(e *Engine) {
		e.alerts = d
	}
}

// WithLogger 替换默认日志器。
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// New 创建结算引擎。live 模式要求订单客户端、链客户端与编排器私钥齐全。
func New(cfg Config, orders *OrderClient, chain web3.TokenTransferer, opts ...Option) (*Engine, error) {
	if cfg.Decimals <= 0 {
		cfg.Decimals = 6
	}
	if cfg.Currency == "" {
		cfg.Currency = "USDT"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = 60 * time.Second
	}

	switch cfg.Mode {
	case ModeSimulated:
	case ModeLive:
		if orders == nil {
			return nil, errors.New("live 结算需要订单 API 客户端")
		}
		if chain == nil {
			return nil, errors.New("live 结算需要链客户端")
		}
		if cfg.OrchestratorKey == nil {
			return nil, errors.New("live 结算需要编排器私钥")
		}
		if cfg.Token == (common.Address{}) {
			return nil, errors.New("live 结算需要代币合约地址")
		}
	default:
		return nil, fmt.Errorf("未知的结算模式: %q", cfg.Mode)
	}

	e := &Engine{cfg: cfg, orders: orders, chain: chain, log: logger.Named("settlement")}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// Mode 返回注入的结算模式。
func (e *Engine) Mode() Mode { return e.cfg.Mode }

// Currency 返回结算币种。
func (e *Engine) Currency() string { return e.cfg.Currency }

// ChainID 返回结算链 ID。
func (e *Engine) ChainID() int64 { return e.cfg.ChainID }

// ExplorerURL 返回交易的浏览器链接。
func (e *Engine) ExplorerURL(txHash string) string {
	return web3.ExplorerTxURL(e.cfg.ExplorerURL, txHash)
}

// PayAgent 向商户支付指定金额。每一步失败都直接返回不同的错误码，不做隐式重试。
func (e *Engine) PayAgent(ctx context.Context, req PayRequest) (*PaymentResult, error) {
	started := time.Now()
	if !req.AmountUSDT.IsPositive() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("支付金额必须大于 0: %s", req.AmountUSDT))
	}
	if req.MerchantID == "" {
		req.MerchantID = e.cfg.DefaultMerchant
	}

	var (
		result *PaymentResult
		err    error
	)
	if e.cfg.Mode == ModeSimulated {
		result, err = e.simulate(req)
	} else {
		result, err = e.payLive(ctx, req)
	}

	outcome := "ok"
	if err != nil {
		outcome = string(xerrors.CodeOf(err))
		e.log.Warn("结算失败",
			slog.String("merchant_id", req.MerchantID),
			slog.String("agent", req.Memo),
			slog.Any("payer", req.Payer),
			slog.String("code", outcome),
			slog.Any("error", err))
		if e.alerts != nil && xerrors.ShouldAlert(err) {
			if alertErr := e.alerts.Notify(context.WithoutCancel(ctx), alerting.FromError(err, req.Memo)); alertErr != nil {
				e.log.Error("发送结算告警失败", slog.Any("error", alertErr))
			}
		}
	} else {
		logger.Audit().Info("payment_settled",
			slog.String("agent", req.Memo),
			slog.String("merchant_id", req.MerchantID),
			slog.String("amount", result.Amount),
			slog.String("tx_hash", result.TxHash),
			slog.String("order_id", result.OrderID),
			slog.Any("payer", req.Payer),
			slog.Bool("simulated", result.Simulated))
	}
	metrics.ObservePayment(string(e.cfg.Mode), outcome, time.Since(started))
	return result, err
}

func (e *Engine) simulate(req PayRequest) (*PaymentResult, error) {
	var buf [common.HashLength]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, xerrors.Wrap(CodeSettlementFailed, err, "生成模拟交易哈希失败")
	}
	txHash := common.BytesToHash(buf[:]).Hex()
	e.log.Info("模拟结算",
		slog.String("agent", req.Memo),
		slog.String("merchant_id", req.MerchantID),
		slog.String("amount", req.AmountUSDT.String()),
		slog.String("tx_hash", txHash))
	return &PaymentResult{
		TxHash:        txHash,
		OrderID:       "demo_order_" + uuid.NewString(),
		ExplorerURL:   e.ExplorerURL(txHash),
		CallerAddress: req.Payer.Address(),
		Amount:        formatAmount(req.AmountUSDT),
		Currency:      e.cfg.Currency,
		Simulated:     true,
	}, nil
}

func (e *Engine) payLive(ctx context.Context, req PayRequest) (*PaymentResult, error) {
	amount, err := ToSmallestUnit(req.AmountUSDT, e.cfg.Decimals)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "支付金额不合法")
	}
	key := e.cfg.OrchestratorKey
	if req.Payer.SelfFunded() {
		key = req.Payer.key
	}

	order, err := e.orders.CreateOrder(ctx, req.MerchantID, e.cfg.ChainID, e.cfg.Token, amount,
		map[string]string{"hired_agent": req.Memo})
	if err != nil {
		return nil, xerrors.Wrap(CodeSettlementFailed, err, "创建支付订单失败",
			xerrors.WithMetadata("merchant_id", req.MerchantID))
	}
	e.log.Debug("订单已创建", slog.String("order_id", order.OrderID), slog.String("pay_to", order.PayToAddress.Hex()))

	txHash, err := e.transfer(ctx, key, order)
	if err != nil {
		return nil, err
	}
	if err := e.awaitConfirmation(ctx, req.MerchantID, order, txHash); err != nil {
		return nil, err
	}

	return &PaymentResult{
		TxHash:        txHash,
		OrderID:       order.OrderID,
		ExplorerURL:   e.ExplorerURL(txHash),
		CallerAddress: req.Payer.Address(),
		Amount:        formatAmount(FromSmallestUnit(order.Amount, e.cfg.Decimals)),
		Currency:      e.cfg.Currency,
	}, nil
}

// transfer 提交 ERC-20 转账并等待上链，成功后订单进入 Paid。
func (e *Engine) transfer(ctx context.Context, key *ecdsa.PrivateKey, order *PaymentOrder) (string, error) {
	txCtx, cancel := context.WithTimeout(ctx, e.cfg.TransferTimeout)
	defer cancel()

	tx, err := e.chain.TransferERC20(txCtx, key, e.cfg.Token, order.PayToAddress, order.Amount)
	if err != nil {
		_ = order.Advance(StatusFailed)
		return "", xerrors.Wrap(CodeSettlementFailed, err, "提交转账失败",
			xerrors.WithMetadata("order_id", order.OrderID))
	}
	txHash := tx.Hash().Hex()

	receipt, err := e.chain.WaitMined(txCtx, tx.Hash())
	if err != nil {
		_ = order.Advance(StatusFailed)
		return "", xerrors.Wrap(CodeSettlementFailed, err, "等待转账上链失败",
			xerrors.WithMetadata("order_id", order.OrderID),
			xerrors.WithMetadata("tx_hash", txHash),
			xerrors.WithAlert(true))
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		_ = order.Advance(StatusFailed)
		return "", xerrors.New(CodeSettlementFailed, "转账交易执行失败",
			xerrors.WithMetadata("order_id", order.OrderID),
			xerrors.WithMetadata("tx_hash", txHash))
	}
	if err := order.Advance(StatusPaid); err != nil {
		return "", xerrors.Wrap(CodeSettlementFailed, err, "订单状态异常")
	}
	return txHash, nil
}

// awaitConfirmation 按固定间隔轮询订单直到 CONFIRMED 或截止时间。
func (e *Engine) awaitConfirmation(ctx context.Context, merchantID string, order *PaymentOrder, txHash string) error {
	pollCtx, cancel := context.WithTimeout(ctx, e.cfg.PollTimeout)
	defer cancel()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	timeout := func() error {
		_ = order.Advance(StatusTimedOut)
		return xerrors.New(CodeSettlementTimeout,
			fmt.Sprintf("x402 order %s not confirmed within %s", order.OrderID, e.cfg.PollTimeout),
			xerrors.WithMetadata("order_id", order.OrderID),
			xerrors.WithMetadata("tx_hash", txHash))
	}

	for {
		status, err := e.orders.OrderStatus(pollCtx, merchantID, order.OrderID)
		if err != nil {
			if pollCtx.Err() != nil {
				return timeout()
			}
			_ = order.Advance(StatusFailed)
			return xerrors.Wrap(CodeSettlementFailed, err, "查询订单状态失败",
				xerrors.WithMetadata("order_id", order.OrderID),
				xerrors.WithMetadata("tx_hash", txHash),
				xerrors.WithAlert(true))
		}
		if status == StatusConfirmed.String() {
			if err := order.Advance(StatusConfirmed); err != nil {
				return xerrors.Wrap(CodeSettlementFailed, err, "订单状态异常")
			}
			return nil
		}

		select {
		case <-pollCtx.Done():
			return timeout()
		case <-ticker.C:
		}
	}
}

package settlement

import (
	"fmt"
	"math/big"

	xerrors "AgentMarket-Chain/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const (
	// CodeSettlementFailed 订单创建、转账提交或上链失败。
	CodeSettlementFailed xerrors.Code = "SETTLEMENT_FAILED"
	// CodeSettlementTimeout 截止时间内未观察到订单确认。
	CodeSettlementTimeout xerrors.Code = "SETTLEMENT_TIMEOUT"
)

func init() {
	xerrors.Register(CodeSettlementFailed, xerrors.Attributes{
		Message:  "settlement failed",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeSettlementTimeout, xerrors.Attributes{
		Message:  "settlement not confirmed before deadline",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}

// Mode 决定结算是否真实发生。
type Mode string

const (
	ModeLive      Mode = "live"
	ModeSimulated Mode = "simulated"
)

// Status 是单次支付订单的状态。
type Status int

const (
	StatusPending Status = iota
	StatusPaid
	StatusConfirmed
	StatusTimedOut
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusPaid:
		return "PAID"
	case StatusConfirmed:
		return "CONFIRMED"
	case StatusTimedOut:
		return "TIMED_OUT"
	case StatusFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Terminal 判断状态是否已结束。
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusTimedOut || s == StatusFailed
}

// PaymentOrder 是一次雇佣尝试的结算意图，仅存在于单次调用期间。
type PaymentOrder struct {
	OrderID      string
	PayToAddress common.Address
	Amount       *big.Int
	Status       Status
}

// Advance 推进订单状态。状态只能前进：Pending → Paid → Confirmed，
// 非终态可进入 TimedOut 或 Failed。
func (o *PaymentOrder) Advance(next Status) error {
	if o.Status.Terminal() {
		return fmt.Errorf("订单 %s 已处于终态 %s，不能转换为 %s", o.OrderID, o.Status, next)
	}
	switch next {
	case StatusPaid:
		if o.Status != StatusPending {
			return fmt.Errorf("订单 %s 不能从 %s 转换为 %s", o.OrderID, o.Status, next)
		}
	case StatusConfirmed:
		if o.Status != StatusPaid {
			return fmt.Errorf("订单 %s 不能从 %s 转换为 %s", o.OrderID, o.Status, next)
		}
	case StatusTimedOut, StatusFailed:
	default:
		return fmt.Errorf("订单 %s 不能转换为 %s", o.OrderID, next)
	}
	o.Status = next
	return nil
}

// PayRequest 描述一次 "向商户支付金额" 的请求。Payer 必须显式给出。
type PayRequest struct {
	MerchantID string
	AmountUSDT decimal.Decimal
	Payer      Payer
	// Memo 记录在订单 metadata 中，一般为被雇佣的智能体名称。
	Memo string
}

// PaymentResult 是返回给编排器的结算结果。
type PaymentResult struct {
	TxHash        string `json:"txHash"`
	OrderID       string `json:"orderId"`
	ExplorerURL   string `json:"explorerUrl"`
	CallerAddress string `json:"callerAddress,omitempty"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Simulated     bool   `json:"simulated"`
}

// ToSmallestUnit 将十进制金额换算为代币最小单位，精度超出 decimals 时报错。
func ToSmallestUnit(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	shifted := amount.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("金额 %s 超出代币精度 %d", amount, decimals)
	}
	return shifted.BigInt(), nil
}

// FromSmallestUnit 是 ToSmallestUnit 的逆运算。
func FromSmallestUnit(amount *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(amount, -decimals)
}

// formatAmount 以至少两位小数输出金额，与注册表中的价格格式一致。
func formatAmount(amount decimal.Decimal) string {
	if amount.Equal(amount.Round(2)) {
		return amount.StringFixed(2)
	}
	return amount.String()
}

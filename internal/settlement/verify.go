package settlement

import (
	"context"
	"errors"

	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/web3/ethereum"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

// VerifyPayment 检查交易回执中是否存在向 payee 转账不少于 amount 的 ERC-20 Transfer 事件。
// 演示模式下始终返回 true；交易不存在或尚未上链返回 false。
func (e *Engine) VerifyPayment(ctx context.Context, txHash, payee string, amount decimal.Decimal) (bool, error) {
	if e.cfg.Mode == ModeSimulated {
		return true, nil
	}
	if !isTxHash(txHash) || !common.IsHexAddress(payee) {
		return false, nil
	}
	expected, err := ToSmallestUnit(amount, e.cfg.Decimals)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "期望金额不合法")
	}

	receipt, err := e.chain.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, gethcore.NotFound) {
			return false, nil
		}
		return false, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "查询交易回执失败")
	}
	if receipt == nil || receipt.Status != coretypes.ReceiptStatusSuccessful {
		return false, nil
	}

	to := common.HexToAddress(payee)
	for _, log := range receipt.Logs {
		if log == nil {
			continue
		}
		transfer, ok := ethereum.DecodeTokenTransfer(*log)
		if !ok {
			continue
		}
		if e.cfg.Token != (common.Address{}) && transfer.Token != e.cfg.Token {
			continue
		}
		if transfer.To == to && transfer.Value.Cmp(expected) >= 0 {
			return true, nil
		}
	}
	return false, nil
}

func isTxHash(s string) bool {
	if len(s) != 2+2*common.HashLength || s[:2] != "0x" {
		return false
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

package settlement

import (
	"crypto/ecdsa"
	"log/slog"
	"strings"

	xerrors "AgentMarket-Chain/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Payer 指明由谁付款。零值等价于 OrchestratorPayer。
type Payer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// OrchestratorPayer 使用编排器自身的钱包付款。
func OrchestratorPayer() Payer {
	return Payer{}
}

// CallerPayer 使用调用方提供的私钥付款。私钥只在本次调用中使用，不会被记录。
func CallerPayer(hexKey string) (Payer, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return Payer{}, xerrors.New(xerrors.CodeInvalidArgument, "caller_private_key 不是合法的 secp256k1 私钥")
	}
	return Payer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// SelfFunded 判断是否由调用方自行付款。
func (p Payer) SelfFunded() bool {
	return p.key != nil
}

// Address 返回调用方地址；编排器付款时为空。
func (p Payer) Address() string {
	if p.key == nil {
		return ""
	}
	return p.address.Hex()
}

// LogValue 只输出付款方身份。
func (p Payer) LogValue() slog.Value {
	if p.key == nil {
		return slog.StringValue("orchestrator")
	}
	return slog.StringValue("caller:" + p.address.Hex())
}

// String 与 LogValue 一致，避免 fmt 打印私钥。
func (p Payer) String() string {
	return p.LogValue().String()
}

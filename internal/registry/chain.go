package registry

import (
	"context"
	"fmt"
	"math/big"

	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/web3"
	"AgentMarket-Chain/internal/web3/ethereum"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// Record 是注册表中单个 token 的原始读取结果。Err 非空表示仅该 token 读取失败。
type Record struct {
	ID  uint64
	URI string
	Err error
}

// Source 枚举权威注册表中的全部智能体。返回错误表示整个注册表不可用。
type Source interface {
	Records(ctx context.Context) ([]Record, error)
}

// ChainSource 读取 ERC-8004 风格的身份注册合约：通过零地址 Transfer 日志枚举已铸造的
// token，再逐个调用 tokenURI。
type ChainSource struct {
	reader    web3.ContractReader
	contract  common.Address
	fromBlock uint64
}

// NewChainSource 创建链上注册表读取器。
func NewChainSource(reader web3.ContractReader, contract common.Address, fromBlock uint64) *ChainSource {
	return &ChainSource{reader: reader, contract: contract, fromBlock: fromBlock}
}

// Records 按铸造顺序返回 token 记录。
func (s *ChainSource) Records(ctx context.Context) ([]Record, error) {
	logs, err := s.reader.FilterLogs(ctx, gethcore.FilterQuery{
		FromBlock: new(big.Int).SetUint64(s.fromBlock),
		Addresses: []common.Address{s.contract},
		Topics:    [][]common.Hash{{ethereum.TransferTopic}, {common.Hash{}}},
	})
	if err != nil {
		return nil, xerrors.Wrap(CodeRegistryUnavailable, err, "枚举注册表 token 失败")
	}

	seen := make(map[uint64]struct{}, len(logs))
	records := make([]Record, 0, len(logs))
	for _, log := range logs {
		if log.Removed {
			continue
		}
		tokenID, ok := ethereum.MintedTokenID(log)
		if !ok || !tokenID.IsUint64() {
			continue
		}
		id := tokenID.Uint64()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if err := ctx.Err(); err != nil {
			return nil, xerrors.Wrap(CodeRegistryUnavailable, err, "读取注册表超时")
		}
		uri, err := s.tokenURI(ctx, tokenID)
		records = append(records, Record{ID: id, URI: uri, Err: err})
	}
	return records, nil
}

func (s *ChainSource) tokenURI(ctx context.Context, tokenID *big.Int) (string, error) {
	data, err := ethereum.PackTokenURI(tokenID)
	if err != nil {
		return "", err
	}
	out, err := s.reader.CallContract(ctx, gethcore.CallMsg{To: &s.contract, Data: data}, nil)
	if err != nil {
		return "", fmt.Errorf("调用 tokenURI(%s) 失败: %w", tokenID, err)
	}
	return ethereum.UnpackTokenURI(out)
}

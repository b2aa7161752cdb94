package web3

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainSnapshot represents summarized network metadata for health reporting.
type ChainSnapshot struct {
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// ContractReader is the read-only subset used by the agent registry.
type ContractReader interface {
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, query gethcore.FilterQuery) ([]types.Log, error)
}

// TokenTransferer moves ERC-20 tokens and observes the resulting receipts.
type TokenTransferer interface {
	TransferERC20(ctx context.Context, key *ecdsa.PrivateKey, token, to common.Address, amount *big.Int) (*types.Transaction, error)
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Client defines the common interface that any chain implementation must
// provide so higher layers can interact with different networks uniformly.
type Client interface {
	ContractReader
	TokenTransferer
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	Close()
}

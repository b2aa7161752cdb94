package ethereum

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
)

func newSimulatedClient(t *testing.T) (*Client, *simulated.Backend, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	balance, _ := new(big.Int).SetString("1000000000000000000000", 10)
	sim := simulated.NewBackend(coretypes.GenesisAlloc{from: {Balance: balance}})
	t.Cleanup(func() { _ = sim.Close() })

	client := NewClientFromBackend("simulated", sim.Client(), 10*time.Millisecond)
	t.Cleanup(client.Close)
	return client, sim, key
}

func TestTransferERC20IsMinedWithTransferCalldata(t *testing.T) {
	client, sim, key := newSimulatedClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	token := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	payee := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	amount := big.NewInt(100_000)

	tx, err := client.TransferERC20(ctx, key, token, payee, amount)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if tx.To() == nil || *tx.To() != token {
		t.Fatalf("transaction should target the token contract")
	}
	want, _ := PackTransfer(payee, amount)
	if !bytes.Equal(tx.Data(), want) {
		t.Fatalf("unexpected calldata %x", tx.Data())
	}

	sim.Commit()
	receipt, err := client.WaitMined(ctx, tx.Hash())
	if err != nil {
		t.Fatalf("wait mined: %v", err)
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		t.Fatalf("unexpected receipt status %d", receipt.Status)
	}

	snapshot, err := client.FetchChainSnapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.BlockNumber == "0x0" {
		t.Fatalf("expected block number to advance")
	}
}

func TestConcurrentTransfersUseDistinctNonces(t *testing.T) {
	client, sim, key := newSimulatedClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	token := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		nonces = map[uint64]bool{}
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payee := common.BigToAddress(big.NewInt(int64(0x100 + i)))
			tx, err := client.TransferERC20(ctx, key, token, payee, big.NewInt(1))
			if err != nil {
				t.Errorf("transfer %d: %v", i, err)
				return
			}
			mu.Lock()
			nonces[tx.Nonce()] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	sim.Commit()

	if len(nonces) != 3 {
		t.Fatalf("expected 3 distinct nonces, got %v", nonces)
	}
}

func TestWaitMinedHonoursContext(t *testing.T) {
	client, _, _ := newSimulatedClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := client.WaitMined(ctx, common.HexToHash("0x01")); err == nil {
		t.Fatalf("expected context error for unknown transaction")
	}
}

// receiptBackend answers receipt queries only; WaitMined needs nothing else.
type receiptBackend struct {
	Backend
	mu    sync.Mutex
	calls int
	errs  []error
}

func (b *receiptBackend) TransactionReceipt(context.Context, common.Hash) (*coretypes.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if len(b.errs) > 0 {
		err := b.errs[0]
		b.errs = b.errs[1:]
		return nil, err
	}
	return &coretypes.Receipt{Status: coretypes.ReceiptStatusSuccessful}, nil
}

func TestWaitMinedUsesConfiguredInterval(t *testing.T) {
	backend := &receiptBackend{errs: []error{gethcore.NotFound, gethcore.NotFound}}
	client := NewClientFromBackend("fake", backend, 5*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	receipt, err := client.WaitMined(ctx, common.HexToHash("0x01"))
	if err != nil {
		t.Fatalf("wait mined: %v", err)
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful || backend.calls != 3 {
		t.Fatalf("unexpected receipt %+v after %d calls", receipt, backend.calls)
	}
}

func TestWaitMinedReturnsRPCErrorImmediately(t *testing.T) {
	rpcErr := errors.New("502 bad gateway")
	backend := &receiptBackend{errs: []error{rpcErr}}
	client := NewClientFromBackend("fake", backend, time.Hour)

	_, err := client.WaitMined(context.Background(), common.HexToHash("0x01"))
	if !errors.Is(err, rpcErr) {
		t.Fatalf("expected rpc error, got %v", err)
	}
	if backend.calls != 1 {
		t.Fatalf("expected a single receipt query, got %d", backend.calls)
	}
}

func TestDecodeTransferLogs(t *testing.T) {
	token := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	payee := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	erc20 := coretypes.Log{
		Address: token,
		Topics: []common.Hash{
			TransferTopic,
			common.BytesToHash(common.HexToAddress("0x01").Bytes()),
			common.BytesToHash(payee.Bytes()),
		},
		Data: common.LeftPadBytes(big.NewInt(100_000).Bytes(), 32),
	}
	transfer, ok := DecodeTokenTransfer(erc20)
	if !ok || transfer.To != payee || transfer.Value.Int64() != 100_000 {
		t.Fatalf("unexpected decode %+v %v", transfer, ok)
	}
	if _, ok := MintedTokenID(erc20); ok {
		t.Fatalf("erc20 transfer must not decode as a mint")
	}

	mint := coretypes.Log{
		Topics: []common.Hash{
			TransferTopic,
			{},
			common.BytesToHash(payee.Bytes()),
			common.BigToHash(big.NewInt(7)),
		},
	}
	id, ok := MintedTokenID(mint)
	if !ok || id.Int64() != 7 {
		t.Fatalf("unexpected mint decode %v %v", id, ok)
	}
	if _, ok := DecodeTokenTransfer(mint); ok {
		t.Fatalf("erc721 transfer must not decode as erc20")
	}
}

func TestTokenURIRoundTrip(t *testing.T) {
	packed, err := PackTokenURI(big.NewInt(3))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if len(packed) != 4+32 {
		t.Fatalf("unexpected calldata length %d", len(packed))
	}

	encoded, err := tokenABI.Methods["tokenURI"].Outputs.Pack("data:application/json;base64,e30=")
	if err != nil {
		t.Fatalf("pack output: %v", err)
	}
	uri, err := UnpackTokenURI(encoded)
	if err != nil || uri != "data:application/json;base64,e30=" {
		t.Fatalf("unexpected uri %q %v", uri, err)
	}
}

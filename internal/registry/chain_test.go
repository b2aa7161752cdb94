package registry

import (
	"context"
	stdErrors "errors"
	"math/big"
	"testing"

	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/web3/ethereum"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

type fakeReader struct {
	logs    []coretypes.Log
	uris    map[int64]string
	logsErr error
	query   gethcore.FilterQuery
}

func (f *fakeReader) FilterLogs(_ context.Context, q gethcore.FilterQuery) ([]coretypes.Log, error) {
	f.query = q
	return f.logs, f.logsErr
}

func (f *fakeReader) CallContract(_ context.Context, msg gethcore.CallMsg, _ *big.Int) ([]byte, error) {
	tokenID := new(big.Int).SetBytes(msg.Data[4:]).Int64()
	uri, ok := f.uris[tokenID]
	if !ok {
		return nil, stdErrors.New("execution reverted: nonexistent token")
	}
	return tokenURIOutput(uri)
}

func tokenURIOutput(uri string) ([]byte, error) {
	stringType, err := abi.NewType("string", "", nil)
	if err != nil {
		return nil, err
	}
	return abi.Arguments{{Type: stringType}}.Pack(uri)
}

func mintLog(contract common.Address, id int64) coretypes.Log {
	return coretypes.Log{
		Address: contract,
		Topics: []common.Hash{
			ethereum.TransferTopic,
			{},
			common.BytesToHash(common.HexToAddress("0x01").Bytes()),
			common.BigToHash(big.NewInt(id)),
		},
	}
}

func TestChainSourceEnumeratesMintsInOrder(t *testing.T) {
	contract := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	summarizer, _ := EncodeTokenURI(Metadata{Name: "Summarizer", X402Support: true, Active: true})
	translator, _ := EncodeTokenURI(Metadata{Name: "Translator", X402Support: true, Active: true})

	reader := &fakeReader{
		logs: []coretypes.Log{
			mintLog(contract, 3),
			mintLog(contract, 1),
			mintLog(contract, 3),
			mintLog(contract, 4),
		},
		uris: map[int64]string{3: summarizer, 1: translator},
	}
	source := NewChainSource(reader, contract, 100)

	records, err := source.Records(context.Background())
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 unique tokens, got %d", len(records))
	}
	if records[0].ID != 3 || records[1].ID != 1 || records[2].ID != 4 {
		t.Fatalf("unexpected order %+v", records)
	}
	if records[0].URI != summarizer || records[2].Err == nil {
		t.Fatalf("unexpected records %+v", records)
	}
	if reader.query.FromBlock.Uint64() != 100 || reader.query.Addresses[0] != contract {
		t.Fatalf("unexpected filter query %+v", reader.query)
	}
}

func TestChainSourceReportsUnavailable(t *testing.T) {
	source := NewChainSource(&fakeReader{logsErr: stdErrors.New("timeout")}, common.Address{}, 0)
	_, err := source.Records(context.Background())
	if xerrors.CodeOf(err) != CodeRegistryUnavailable {
		t.Fatalf("expected REGISTRY_UNAVAILABLE, got %v", err)
	}
}

func TestResolverOverChainSource(t *testing.T) {
	contract := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	meta, _ := EncodeTokenURI(Metadata{Name: "Auditor", X402Support: true, Active: true, Endpoint: "https://auditor.example"})
	reader := &fakeReader{logs: []coretypes.Log{mintLog(contract, 0)}, uris: map[int64]string{0: meta}}

	r, err := NewResolver(Options{Source: NewChainSource(reader, contract, 0), Defaults: testDefaults()})
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	dir := r.ListAgents(context.Background())
	if dir.Origin != OriginRegistry || len(dir.Agents) != 1 || dir.Agents[0].Name != "Auditor" {
		t.Fatalf("unexpected directory %+v", dir)
	}
}

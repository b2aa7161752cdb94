package orchestrator

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"AgentMarket-Chain/internal/invoker"
	"AgentMarket-Chain/internal/registry"
	"AgentMarket-Chain/internal/settlement"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// instantChain mines every transfer immediately.
type instantChain struct {
	mu   sync.Mutex
	sent int
}

func (c *instantChain) TransferERC20(_ context.Context, _ *ecdsa.PrivateKey, token, to common.Address, amount *big.Int) (*coretypes.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent++
	return coretypes.NewTx(&coretypes.DynamicFeeTx{Nonce: uint64(c.sent), To: &to, Value: amount}), nil
}

func (c *instantChain) WaitMined(_ context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	return &coretypes.Receipt{TxHash: hash, Status: coretypes.ReceiptStatusSuccessful}, nil
}

func (c *instantChain) TransactionReceipt(context.Context, common.Hash) (*coretypes.Receipt, error) {
	return nil, nil
}

func newOrderAPI(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/orders":
			var body struct {
				Amount string `json:"amount"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"order_id":       "o1",
				"pay_to_address": "0x00000000000000000000000000000000000000bb",
				"amount":         body.Amount,
			})
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/orders/"):
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "CONFIRMED"})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newPipeline(t *testing.T, agentHandler http.Handler) (*Orchestrator, *instantChain) {
	t.Helper()
	orderAPI := newOrderAPI(t)
	agents := httptest.NewServer(agentHandler)
	t.Cleanup(agents.Close)

	resolver, err := registry.NewResolver(registry.Options{})
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	orders, err := settlement.NewOrderClient(settlement.OrderAPIConfig{BaseURL: orderAPI.URL, APIKey: "k"})
	if err != nil {
		t.Fatalf("orders: %v", err)
	}
	key, _ := crypto.GenerateKey()
	chain := &instantChain{}
	engine, err := settlement.New(settlement.Config{
		Mode:            settlement.ModeLive,
		ChainID:         48816,
		Token:           common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		DefaultMerchant: "agents_marketplace",
		ExplorerURL:     "https://explorer.testnet3.goat.network",
		PollInterval:    5 * time.Millisecond,
		PollTimeout:     time.Second,
		OrchestratorKey: key,
	}, orders, chain)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	inv := invoker.New(invoker.Config{LocalBaseURL: agents.URL, Timeout: 100 * time.Millisecond})
	return New(resolver, engine, inv), chain
}

func TestSummarizeEndToEnd(t *testing.T) {
	var gotPayment string
	var mu sync.Mutex
	o, _ := newPipeline(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPayment = r.Header.Get(invoker.PaymentHeader)
		mu.Unlock()
		if r.URL.Path != "/api/agents/summarize" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"result":"three bullet points"}`))
	}))

	res, err := o.Run(context.Background(), RunRequest{Task: TaskSummarize, Input: "long text"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.AgentSource != registry.OriginFallback || res.DemoMode {
		t.Fatalf("unexpected run metadata %+v", res)
	}
	if len(res.Transactions) != 1 {
		t.Fatalf("expected one transaction, got %+v", res.Transactions)
	}
	tx := res.Transactions[0]
	if tx.Agent != "Summarizer" || tx.OrderID != "o1" || tx.Amount != "0.10" || tx.ChainID != 48816 || tx.PaidBy != PaidByOrchestrator {
		t.Fatalf("unexpected transaction %+v", tx)
	}
	if tx.Explorer != "https://explorer.testnet3.goat.network/tx/"+tx.TxHash {
		t.Fatalf("unexpected explorer %s", tx.Explorer)
	}
	if out, _ := res.Outputs.Get("Summarizer"); out != "three bullet points" {
		t.Fatalf("unexpected output %q", out)
	}
	mu.Lock()
	defer mu.Unlock()
	if gotPayment != tx.TxHash {
		t.Fatalf("proof of payment header %q does not match %s", gotPayment, tx.TxHash)
	}
}

func TestFullPipelineWithUncallableAgent(t *testing.T) {
	o, chain := newPipeline(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/agents/summarize":
			_, _ = w.Write([]byte(`{"result":"summary"}`))
		case "/api/agents/translate":
			// Never answers within the invoker timeout.
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		default:
			http.NotFound(w, r)
		}
	}))

	started := time.Now()
	res, err := o.Run(context.Background(), RunRequest{Task: TaskFullPipeline, Input: "text", TargetLanguage: "French"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 1500*time.Millisecond {
		t.Fatalf("timed out agent blocked the run for %s", elapsed)
	}
	if got := strings.Join(res.Outputs.Keys(), ","); got != "Summarizer,Translator,Code Explainer" {
		t.Fatalf("unexpected output order %s", got)
	}
	if out, _ := res.Outputs.Get("Code Explainer"); !strings.Contains(out, "no callable endpoint") {
		t.Fatalf("unexpected code explainer output %q", out)
	}
	if out, _ := res.Outputs.Get("Translator"); !strings.Contains(out, "did not respond") {
		t.Fatalf("expected translator timeout, got %q", out)
	}
	if out, _ := res.Outputs.Get("Summarizer"); out != "summary" {
		t.Fatalf("unexpected summarizer output %q", out)
	}
	if len(res.Transactions) != 2 || chain.sent != 2 {
		t.Fatalf("expected 2 transactions, got %d (sent %d)", len(res.Transactions), chain.sent)
	}
}

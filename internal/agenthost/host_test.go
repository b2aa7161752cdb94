package agenthost

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"AgentMarket-Chain/internal/invoker"
	"AgentMarket-Chain/internal/llm"
	"AgentMarket-Chain/internal/registry"

	"github.com/shopspring/decimal"
)

const (
	summarizerWallet = "0x00000000000000000000000000000000000000a1"
	translatorWallet = "0x00000000000000000000000000000000000000a2"
	validTx          = "0x1111111111111111111111111111111111111111111111111111111111111111"
)

type fakeModel struct {
	mu       sync.Mutex
	requests []llm.Request
	err      error
}

func (m *fakeModel) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	return &llm.Response{Text: "generated: " + req.Prompt}, nil
}

type fakeVerifier struct {
	mu     sync.Mutex
	payees []string
	valid  bool
	err    error
}

func (v *fakeVerifier) VerifyPayment(_ context.Context, txHash, payee string, amount decimal.Decimal) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.payees = append(v.payees, payee+"|"+txHash+"|"+amount.String())
	return v.valid, v.err
}

func newTestHost(t *testing.T, model *fakeModel, verifier *fakeVerifier) *httptest.Server {
	t.Helper()
	host, err := New(Config{
		Wallets: map[string]string{"summarizer": summarizerWallet, "translator": translatorWallet},
		ChainID: 48816,
		Network: "GOAT Testnet3",
	}, model, verifier)
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	mux := http.NewServeMux()
	host.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, payment, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if payment != "" {
		req.Header.Set(invoker.PaymentHeader, payment)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestMissingPaymentReturns402(t *testing.T) {
	model := &fakeModel{}
	srv := newTestHost(t, model, &fakeVerifier{valid: true})

	resp, body := post(t, srv.URL+SummarizePath, "", `{"text":"hello"}`)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", resp.StatusCode)
	}
	if body["error"] != "Payment required" || body["amount"] != "0.10" || body["currency"] != "USDT" ||
		body["address"] != summarizerWallet || body["chainId"] != float64(48816) || body["network"] != "GOAT Testnet3" {
		t.Fatalf("unexpected 402 body %+v", body)
	}
	if len(model.requests) != 0 {
		t.Fatalf("model must not be called without payment")
	}
}

func TestInvalidPaymentRejected(t *testing.T) {
	model := &fakeModel{}
	verifier := &fakeVerifier{valid: false}
	srv := newTestHost(t, model, verifier)

	resp, body := post(t, srv.URL+SummarizePath, validTx+":0xfrom", `{"text":"hello"}`)
	if resp.StatusCode != http.StatusPaymentRequired || body["error"] != "Invalid payment" {
		t.Fatalf("unexpected response %d %+v", resp.StatusCode, body)
	}
	if len(verifier.payees) != 1 || verifier.payees[0] != summarizerWallet+"|"+validTx+"|0.1" {
		t.Fatalf("unexpected verification %+v", verifier.payees)
	}
	if len(model.requests) != 0 {
		t.Fatalf("model must not be called for invalid payment")
	}
}

func TestSummarizerServesPaidRequest(t *testing.T) {
	model := &fakeModel{}
	srv := newTestHost(t, model, &fakeVerifier{valid: true})

	resp, body := post(t, srv.URL+SummarizePath, validTx+":0xfrom", `{"text":"long text"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d %+v", resp.StatusCode, body)
	}
	if body["result"] != "generated: long text" || body["agent"] != "Summarizer" {
		t.Fatalf("unexpected body %+v", body)
	}
	if _, ok := body["targetLanguage"]; ok {
		t.Fatalf("summarizer must not echo a target language")
	}
	proof, _ := body["proofOfPayment"].(map[string]any)
	if proof["txHash"] != validTx || proof["fromAddress"] != "0xfrom" || proof["toAddress"] != summarizerWallet {
		t.Fatalf("unexpected proof %+v", proof)
	}
	if !strings.Contains(model.requests[0].System, "3-5 concise bullet points") {
		t.Fatalf("unexpected system prompt %q", model.requests[0].System)
	}
}

func TestTranslatorDefaultsToFrench(t *testing.T) {
	model := &fakeModel{}
	srv := newTestHost(t, model, &fakeVerifier{valid: true})

	_, body := post(t, srv.URL+TranslatePath, validTx, `{"text":"hello"}`)
	if body["targetLanguage"] != "French" || body["agent"] != "Translator" {
		t.Fatalf("unexpected body %+v", body)
	}
	_, body = post(t, srv.URL+TranslatePath, validTx, `{"text":"hello","targetLanguage":"German"}`)
	if body["targetLanguage"] != "German" {
		t.Fatalf("unexpected body %+v", body)
	}
	if !strings.Contains(model.requests[1].System, "Translate the given text to German") {
		t.Fatalf("unexpected system prompt %q", model.requests[1].System)
	}
}

func TestModelFailureSurfacesError(t *testing.T) {
	srv := newTestHost(t, &fakeModel{err: errors.New("quota")}, &fakeVerifier{valid: true})

	resp, body := post(t, srv.URL+SummarizePath, validTx, `{"text":"hello"}`)
	if resp.StatusCode != http.StatusBadGateway || body["error"] != "Model unavailable" {
		t.Fatalf("unexpected response %d %+v", resp.StatusCode, body)
	}
}

func TestInvokerAgainstHost(t *testing.T) {
	srv := newTestHost(t, &fakeModel{}, &fakeVerifier{valid: true})
	inv := invoker.New(invoker.Config{LocalBaseURL: srv.URL})

	agentInfo := localSummarizer()
	out := inv.Invoke(context.Background(), agentInfo, invoker.Request{
		Task:    "summarize",
		Input:   "some text",
		Payment: invoker.Payment{TxHash: validTx},
	})
	if out.Failed() || out.Text != "generated: some text" {
		t.Fatalf("unexpected outcome %+v", out)
	}

	out = inv.Invoke(context.Background(), agentInfo, invoker.Request{Task: "summarize", Input: "x"})
	if !out.Failed() || !strings.Contains(out.Text, "payment required") {
		t.Fatalf("expected payment required outcome, got %+v", out)
	}
}

func TestNewRejectsInvalidWallet(t *testing.T) {
	_, err := New(Config{Wallets: map[string]string{"summarizer": "not-an-address"}}, &fakeModel{}, &fakeVerifier{})
	if err == nil {
		t.Fatalf("expected invalid wallet error")
	}
}

func localSummarizer() registry.AgentInfo {
	return registry.AgentInfo{
		ID:          0,
		Name:        "Summarizer",
		Endpoint:    SummarizePath,
		Route:       registry.EndpointLocal,
		PriceUSDT:   "0.10",
		X402Support: true,
		Active:      true,
	}
}

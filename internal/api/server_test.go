package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"AgentMarket-Chain/internal/auth"
	"AgentMarket-Chain/internal/invoker"
	"AgentMarket-Chain/internal/job"
	"AgentMarket-Chain/internal/mcp"
	"AgentMarket-Chain/internal/orchestrator"
	"AgentMarket-Chain/internal/registry"
	"AgentMarket-Chain/internal/settlement"
	"AgentMarket-Chain/internal/web3"
)

type testEnv struct {
	server *httptest.Server
	store  *job.MemoryStore
}

func newTestEnv(t *testing.T, token string, extra ...Option) *testEnv {
	t.Helper()
	agents := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":"done by ` + r.URL.Path + `"}`))
	}))
	t.Cleanup(agents.Close)

	resolver, err := registry.NewResolver(registry.Options{})
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	engine, err := settlement.New(settlement.Config{Mode: settlement.ModeSimulated, ChainID: 48816}, nil, nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	orch := orchestrator.New(resolver, engine, invoker.New(invoker.Config{LocalBaseURL: agents.URL, Timeout: time.Second}))

	store := job.NewMemoryStore(time.Hour)
	jobs := job.NewService(store, job.NewMemoryQueue(16))

	opts := append([]Option{
		WithJobs(jobs),
		WithMCP(mcp.NewServer(resolver, orch)),
		WithAuth(auth.NewService(token)),
	}, extra...)
	srv := NewServer(":0", resolver, orch, opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, store: store}
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	req, _ := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded
}

func TestOrchestrateSummarize(t *testing.T) {
	env := newTestEnv(t, "")

	status, body := env.do(t, http.MethodPost, "/api/orchestrate", `{"task":"summarize","input":"long text","budgetUsdt":"1"}`, nil)
	if status != http.StatusOK {
		t.Fatalf("unexpected status %d: %+v", status, body)
	}
	if body["demoMode"] != true || body["agentSource"] != "fallback" {
		t.Fatalf("unexpected run metadata %+v", body)
	}
	txs, _ := body["transactions"].([]any)
	if len(txs) != 1 {
		t.Fatalf("expected one transaction, got %+v", body["transactions"])
	}
	outputs, _ := body["outputs"].(map[string]any)
	if outputs["Summarizer"] != "done by /api/agents/summarize" {
		t.Fatalf("unexpected outputs %+v", outputs)
	}
}

func TestOrchestrateRejectsInvalidRequests(t *testing.T) {
	env := newTestEnv(t, "")

	cases := []struct {
		name string
		body string
	}{
		{"malformed", `{"task":`},
		{"empty task", `{"task":"  ","input":"x"}`},
		{"negative budget", `{"task":"summarize","budgetUsdt":"-1"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := env.do(t, http.MethodPost, "/api/orchestrate", tc.body, nil)
			if status != http.StatusBadRequest || body["code"] != "INVALID_ARGUMENT" {
				t.Fatalf("expected 400, got %d %+v", status, body)
			}
		})
	}

	status, _ := env.do(t, http.MethodGet, "/api/orchestrate", "", nil)
	if status != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", status)
	}
}

func TestAgentsEndpoints(t *testing.T) {
	env := newTestEnv(t, "")

	status, body := env.do(t, http.MethodGet, "/api/agents?capability=code", "", nil)
	if status != http.StatusOK {
		t.Fatalf("unexpected status %d", status)
	}
	agents, _ := body["agents"].([]any)
	if len(agents) != 1 || agents[0].(map[string]any)["name"] != "Code Explainer" {
		t.Fatalf("unexpected agents %+v", body)
	}

	status, body = env.do(t, http.MethodGet, "/api/agents/1", "", nil)
	if status != http.StatusOK || body["name"] != "Translator" {
		t.Fatalf("unexpected agent %d %+v", status, body)
	}

	status, body = env.do(t, http.MethodGet, "/api/agents/77", "", nil)
	if status != http.StatusNotFound || body["code"] != string(registry.CodeAgentNotFound) {
		t.Fatalf("expected 404, got %d %+v", status, body)
	}

	status, _ = env.do(t, http.MethodGet, "/api/agents/abc", "", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid id, got %d", status)
	}
}

func TestJobsEndpoints(t *testing.T) {
	env := newTestEnv(t, "")

	status, body := env.do(t, http.MethodPost, "/api/jobs", `{"task":"translate","input":"hi","targetLanguage":"German"}`, nil)
	if status != http.StatusAccepted || body["status"] != "pending" {
		t.Fatalf("unexpected submit response %d %+v", status, body)
	}
	id, _ := body["id"].(string)

	status, body = env.do(t, http.MethodGet, "/api/jobs/"+id, "", nil)
	if status != http.StatusOK || body["id"] != id {
		t.Fatalf("unexpected detail %d %+v", status, body)
	}
	request, _ := body["request"].(map[string]any)
	if request["targetLanguage"] != "German" {
		t.Fatalf("request not preserved: %+v", request)
	}

	if err := env.store.MarkFailed(context.Background(), id, job.CodeJobProcessing, "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	status, body = env.do(t, http.MethodGet, "/api/jobs?status=failed", "", nil)
	jobs, _ := body["jobs"].([]any)
	if status != http.StatusOK || len(jobs) != 1 {
		t.Fatalf("unexpected job list %d %+v", status, body)
	}
	status, body = env.do(t, http.MethodGet, "/api/jobs?status=pending", "", nil)
	jobs, _ = body["jobs"].([]any)
	if status != http.StatusOK || len(jobs) != 0 {
		t.Fatalf("expected no pending jobs, got %+v", body)
	}

	status, _ = env.do(t, http.MethodGet, "/api/jobs?status=bogus", "", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", status)
	}
	status, _ = env.do(t, http.MethodGet, "/api/jobs/missing", "", nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
	status, _ = env.do(t, http.MethodPost, "/api/jobs", `{"task":""}`, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty task, got %d", status)
	}
}

func TestTokenGuardsPaidEndpoints(t *testing.T) {
	env := newTestEnv(t, "secret")

	status, _ := env.do(t, http.MethodPost, "/api/orchestrate", `{"task":"summarize","input":"x"}`, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}
	status, _ = env.do(t, http.MethodPost, "/mcp", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, map[string]string{auth.TokenHeader: "wrong"})
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong token, got %d", status)
	}

	status, body := env.do(t, http.MethodPost, "/mcp", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, map[string]string{auth.TokenHeader: "secret"})
	if status != http.StatusOK || body["result"] == nil {
		t.Fatalf("unexpected mcp response %d %+v", status, body)
	}

	// 只读接口不需要令牌。
	status, _ = env.do(t, http.MethodGet, "/api/agents", "", nil)
	if status != http.StatusOK {
		t.Fatalf("expected open agent listing, got %d", status)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, "secret")

	status, body := env.do(t, http.MethodGet, "/healthz", "", nil)
	if status != http.StatusOK || body["status"] != "ok" || body["demo_mode"] != true || body["auth"] != "token" {
		t.Fatalf("unexpected health %d %+v", status, body)
	}

	resp, err := http.Get(env.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	raw := new(strings.Builder)
	_, _ = io.Copy(raw, resp.Body)
	if !strings.Contains(raw.String(), `handler="GET /healthz"`) {
		t.Fatalf("expected instrumented health route in metrics output")
	}
}

type fakeChain struct {
	snapshot web3.ChainSnapshot
	err      error
}

func (f fakeChain) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	return f.snapshot, f.err
}

func TestHealthReportsChain(t *testing.T) {
	env := newTestEnv(t, "", WithChain(fakeChain{snapshot: web3.ChainSnapshot{ChainID: "0xbea0", BlockNumber: "0x2a"}}))

	status, body := env.do(t, http.MethodGet, "/healthz", "", nil)
	if status != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("unexpected health %d %+v", status, body)
	}
	chain, ok := body["chain"].(map[string]any)
	if !ok || chain["chain_id"] != "0xbea0" || chain["block_number"] != "0x2a" {
		t.Fatalf("unexpected chain section %+v", body["chain"])
	}
}

func TestHealthDegradedWhenChainUnreachable(t *testing.T) {
	env := newTestEnv(t, "", WithChain(fakeChain{err: errors.New("dial tcp: connection refused")}))

	status, body := env.do(t, http.MethodGet, "/healthz", "", nil)
	if status != http.StatusOK || body["status"] != "degraded" {
		t.Fatalf("unexpected health %d %+v", status, body)
	}
	if !strings.Contains(body["chain_error"].(string), "connection refused") {
		t.Fatalf("unexpected chain error %+v", body["chain_error"])
	}
	if _, ok := body["chain"]; ok {
		t.Fatalf("chain section must be absent on failure")
	}
}

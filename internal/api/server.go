package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"AgentMarket-Chain/internal/agenthost"
	"AgentMarket-Chain/internal/auth"
	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/job"
	"AgentMarket-Chain/internal/observability/metrics"
	"AgentMarket-Chain/internal/orchestrator"
	"AgentMarket-Chain/internal/registry"
	"AgentMarket-Chain/internal/web3"
	"AgentMarket-Chain/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Orchestrator 是 API 层依赖的编排能力，由 orchestrator.Orchestrator 实现。
type Orchestrator interface {
	Run(ctx context.Context, req orchestrator.RunRequest) (*orchestrator.Result, error)
	DemoMode() bool
}

// Directory 提供智能体查询，由 registry.Resolver 实现。
type Directory interface {
	ListAgents(ctx context.Context) registry.Directory
	GetAgent(ctx context.Context, id uint64) (registry.AgentInfo, error)
}

// ChainReporter 报告链端点的基础状态，由 web3.Client 实现。
type ChainReporter interface {
	FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error)
}

// Server 负责暴露 REST 接口与工具调用入口。
type Server struct {
	addr         string
	orchestrator Orchestrator
	agents       Directory
	jobs         *job.Service
	mcp          http.Handler
	auth         *auth.Service
	host         *agenthost.Host
	chain        ChainReporter
	log          *slog.Logger
}

// Option 定义可选的 Server 配置。
type Option func(*Server)

// WithJobs 启用异步编排接口。
func WithJobs(svc *job.Service) Option {
	return func(s *Server) { s.jobs = svc }
}

// WithMCP 挂载 JSON-RPC 工具入口。
func WithMCP(handler http.Handler) Option {
	return func(s *Server) { s.mcp = handler }
}

// WithAuth 为会产生付款的接口启用令牌校验。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) { s.auth = svc }
}

// WithAgentHost 挂载内置的本地付费智能体。
func WithAgentHost(host *agenthost.Host) Option {
	return func(s *Server) { s.host = host }
}

// WithChain 在健康检查中附带链 ID 与最新区块高度。
func WithChain(chain ChainReporter) Option {
	return func(s *Server) { s.chain = chain }
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, agents Directory, orch Orchestrator, opts ...Option) *Server {
	s := &Server{addr: addr, agents: agents, orchestrator: orch, log: logger.Named("api")}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.auth == nil {
		s.auth = auth.NewService("")
	}
	return s
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	guard := func(event string, h http.Handler) http.Handler {
		return s.auth.Middleware(auth.MiddlewareConfig{AuditEvent: event})(h)
	}

	mux.Handle("POST /api/orchestrate", guard("orchestrate", http.HandlerFunc(s.handleOrchestrate)))
	mux.HandleFunc("GET /api/agents", s.handleListAgents)
	mux.HandleFunc("GET /api/agents/{id}", s.handleGetAgent)
	mux.Handle("POST /api/jobs", guard("submit_job", http.HandlerFunc(s.handleSubmitJob)))
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleJobDetail)
	if s.mcp != nil {
		mux.Handle("/mcp", guard("mcp", s.mcp))
	}
	if s.host != nil {
		s.host.Register(mux)
	}
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	return instrument(mux)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("API 服务已启动", slog.String("address", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// handleOrchestrate 执行一次同步编排。单个智能体的失败体现在输出中，仍返回 200。
func (s *Server) handleOrchestrate(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.RunRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.orchestrator.Run(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	x402Only, _ := strconv.ParseBool(query.Get("x402_only"))
	dir := s.agents.ListAgents(r.Context()).Filter(query.Get("capability"), x402Only)
	writeJSON(w, http.StatusOK, dir)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "agent id 必须是非负整数"))
		return
	}
	agent, err := s.agents.GetAgent(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "异步任务未启用"})
		return
	}
	var req orchestrator.RunRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.jobs.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "异步任务未启用"})
		return
	}
	query := r.URL.Query()
	opts := []job.ListOption{job.WithTask(query.Get("task"))}
	if raw := query.Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 {
			opts = append(opts, job.WithLimit(limit))
		}
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []job.Status
		for _, part := range strings.Split(raw, ",") {
			status := job.Status(strings.TrimSpace(part))
			if !job.IsValidStatus(status) {
				writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "未知的任务状态: "+string(status)))
				return
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, job.WithStatuses(statuses...))
	}
	if query.Get("order") == "asc" {
		opts = append(opts, job.WithSortOrder(job.SortByUpdatedAsc))
	}

	jobs, err := s.jobs.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "异步任务未启用"})
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空"))
		return
	}
	found, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"demo_mode": s.orchestrator.DemoMode(),
		"auth":      string(s.auth.Mode()),
	}
	if s.jobs != nil {
		stats, err := s.jobs.Stats(r.Context())
		if err != nil {
			body["status"] = "degraded"
			body["jobs_error"] = xerrors.DetailOf(err)
		} else {
			body["jobs"] = stats
		}
	}
	if s.chain != nil {
		snapshot, err := s.chain.FetchChainSnapshot(r.Context())
		if err != nil {
			body["status"] = "degraded"
			body["chain_error"] = err.Error()
		} else {
			body["chain"] = snapshot
		}
	}
	writeJSON(w, http.StatusOK, body)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func decodeBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "读取请求体失败")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := xerrors.StatusOf(err)
	if status >= http.StatusInternalServerError {
		logger.L().Error("请求处理失败", slog.Any("error", err))
	}
	writeJSON(w, status, errorBody{Error: xerrors.DetailOf(err), Code: string(code)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

// instrument 按路由模式记录请求数与耗时。
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveHTTPRequest(route, r.Method, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"AgentMarket-Chain/internal/api"
	"AgentMarket-Chain/internal/auth"
	"AgentMarket-Chain/internal/config"
	"AgentMarket-Chain/internal/invoker"
	"AgentMarket-Chain/internal/job"
	"AgentMarket-Chain/internal/mcp"
	"AgentMarket-Chain/internal/observability/metrics"
	"AgentMarket-Chain/internal/orchestrator"
	"AgentMarket-Chain/internal/web3/provider"
	"AgentMarket-Chain/pkg/logger"
)

// main 是 AgentMarket 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("marketd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("AGENTMARKET_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "marketd.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	lg := logger.Named("marketd")

	// 演示模式下允许没有链端点。
	chains, err := provider.NewRegistry(ctx, cfg.Web3)
	switch {
	case errors.Is(err, provider.ErrNoChains):
		if cfg.Settlement.Mode == config.SettlementLive {
			return errors.New("live 结算模式需要配置链 RPC 端点")
		}
		lg.Warn("未配置链端点，注册表使用回退智能体，结算处于演示模式")
		chains = nil
	case err != nil:
		return err
	default:
		defer chains.Close()
	}

	alerts := buildAlerts(cfg)

	resolver, closeCache, err := buildResolver(cfg, chains)
	if err != nil {
		return err
	}
	defer closeCache()

	engine, err := buildSettlement(cfg, chains, alerts)
	if err != nil {
		return err
	}
	lg.Info("结算引擎就绪",
		slog.String("mode", string(engine.Mode())),
		slog.Int64("chain_id", engine.ChainID()))

	inv := invoker.New(invoker.Config{
		LocalBaseURL: cfg.Invoker.LocalBaseURL,
		Timeout:      time.Duration(cfg.Invoker.TimeoutSeconds) * time.Second,
	})
	orch := orchestrator.New(resolver, engine, inv,
		orchestrator.WithMaxWorkers(cfg.Orchestrator.MaxWorkers))

	store, queue, err := buildJobs(cfg)
	if err != nil {
		return err
	}
	jobs := job.NewService(store, queue)
	defer func() {
		if err := jobs.Close(); err != nil {
			lg.Warn("关闭任务存储或队列失败", slog.Any("error", err))
		}
	}()

	processor := job.NewProcessor(orch, store, queue,
		job.WithWorkerCount(cfg.Jobs.Workers),
		job.WithAlertDispatcher(alerts),
	)
	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()

	opts := []api.Option{
		api.WithJobs(jobs),
		api.WithMCP(mcp.NewServer(resolver, orch)),
		api.WithAuth(auth.NewService(cfg.Server.APIToken)),
	}
	if chains != nil {
		client, err := chains.DefaultClient()
		if err != nil {
			return err
		}
		opts = append(opts, api.WithChain(client))
	}
	host, err := buildAgentHost(cfg, engine)
	if err != nil {
		return err
	}
	if host != nil {
		opts = append(opts, api.WithAgentHost(host))
		lg.Info("内置付费智能体已启用", slog.Any("paths", host.Paths()))
	}

	if addr := cfg.Metrics.Address; addr != "" {
		go func() {
			if err := metrics.StartServer(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, resolver, orch, opts...)
	lg.Info("marketd 启动", slog.String("address", cfg.Server.Address))
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

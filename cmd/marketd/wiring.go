package main

import (
	"fmt"
	"strings"
	"time"

	"AgentMarket-Chain/internal/agenthost"
	"AgentMarket-Chain/internal/config"
	"AgentMarket-Chain/internal/job"
	"AgentMarket-Chain/internal/llm/openai"
	"AgentMarket-Chain/internal/observability/alerting"
	"AgentMarket-Chain/internal/registry"
	"AgentMarket-Chain/internal/settlement"
	"AgentMarket-Chain/internal/web3/provider"
	"AgentMarket-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

func buildAlerts(cfg *config.Config) alerting.Dispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if url := strings.TrimSpace(cfg.Alerting.WebhookURL); url != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: url})
	}
	return alerting.NewFanout(notifiers...)
}

// buildResolver 组装注册表解析器。chains 为 nil 时只使用回退集合。
func buildResolver(cfg *config.Config, chains *provider.Registry) (*registry.Resolver, func(), error) {
	rc := cfg.Registry
	price, err := decimal.NewFromString(rc.DefaultPriceUSDT)
	if err != nil {
		return nil, nil, fmt.Errorf("default_price_usdt 非法: %w", err)
	}

	var fallback []registry.FallbackAgent
	if rc.FallbackFile != "" {
		fallback, err = registry.LoadFallbackFile(rc.FallbackFile)
		if err != nil {
			return nil, nil, err
		}
	}

	opts := registry.Options{
		Fallback: fallback,
		Defaults: registry.Defaults{
			PriceUSDT:       price,
			MerchantID:      cfg.Settlement.MerchantID,
			LegacyEndpoints: rc.LegacyEndpoints,
		},
		Timeout: time.Duration(rc.TimeoutSeconds) * time.Second,
		Logger:  logger.Named("registry"),
	}

	address := strings.TrimSpace(rc.Address)
	if chains != nil {
		if address == "" {
			address = chains.DefaultDefinition().RegistryAddress
		}
		if address != "" {
			if !common.IsHexAddress(address) {
				return nil, nil, fmt.Errorf("注册表合约地址非法: %s", address)
			}
			client, err := chains.DefaultClient()
			if err != nil {
				return nil, nil, err
			}
			opts.Source = registry.NewChainSource(client, common.HexToAddress(address), rc.FromBlock)
		}
	}

	closeCache := func() {}
	ttl := time.Duration(rc.Cache.TTLSeconds) * time.Second
	switch rc.Cache.Driver {
	case "memory":
		opts.Cache = registry.NewMemoryCache(ttl)
	case "redis":
		cache, err := registry.NewRedisCache(registry.RedisCacheConfig{
			Address:  rc.Cache.Redis.Address,
			Password: rc.Cache.Redis.Password,
			DB:       rc.Cache.Redis.DB,
			Key:      rc.Cache.Redis.Key,
			TTL:      ttl,
		}, logger.Named("registry"))
		if err != nil {
			return nil, nil, err
		}
		opts.Cache = cache
		closeCache = func() { _ = cache.Close() }
	case "none":
	default:
		return nil, nil, fmt.Errorf("未知的注册表缓存驱动: %s", rc.Cache.Driver)
	}

	resolver, err := registry.NewResolver(opts)
	if err != nil {
		closeCache()
		return nil, nil, err
	}
	return resolver, closeCache, nil
}

// buildSettlement 组装结算引擎。链定义中的 chain_id、浏览器与代币地址优先。
func buildSettlement(cfg *config.Config, chains *provider.Registry, alerts alerting.Dispatcher) (*settlement.Engine, error) {
	sc := cfg.Settlement
	engineCfg := settlement.Config{
		Mode:            settlement.ModeSimulated,
		ChainID:         cfg.Web3.ChainID,
		Decimals:        sc.TokenDecimals,
		Currency:        sc.Currency,
		DefaultMerchant: sc.MerchantID,
		ExplorerURL:     cfg.Web3.ExplorerURL,
		PollInterval:    sc.PollInterval(),
		PollTimeout:     sc.PollTimeout(),
		TransferTimeout: sc.TransferTimeout(),
	}
	token := strings.TrimSpace(sc.TokenAddress)
	if chains != nil {
		def := chains.DefaultDefinition()
		if def.ChainID != 0 {
			engineCfg.ChainID = def.ChainID
		}
		if def.ExplorerURL != "" {
			engineCfg.ExplorerURL = def.ExplorerURL
		}
		if token == "" {
			token = def.TokenAddress
		}
	}
	if token != "" {
		if !common.IsHexAddress(token) {
			return nil, fmt.Errorf("token_address 非法: %s", token)
		}
		engineCfg.Token = common.HexToAddress(token)
	}

	opts := []settlement.Option{settlement.WithAlerts(alerts), settlement.WithLogger(logger.Named("settlement"))}
	if sc.Mode != config.SettlementLive {
		return settlement.New(engineCfg, nil, nil, opts...)
	}

	engineCfg.Mode = settlement.ModeLive
	key, err := crypto.HexToECDSA(strings.TrimPrefix(sc.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("编排器私钥非法: %w", err)
	}
	engineCfg.OrchestratorKey = key

	orders, err := settlement.NewOrderClient(settlement.OrderAPIConfig{
		BaseURL:     sc.APIURL,
		APIKey:      sc.APIKey,
		Credentials: sc.MerchantCredentials,
	})
	if err != nil {
		return nil, err
	}
	client, err := chains.DefaultClient()
	if err != nil {
		return nil, err
	}
	return settlement.New(engineCfg, orders, client, opts...)
}

// buildJobs 按配置选择任务存储与队列。
func buildJobs(cfg *config.Config) (job.Store, job.Queue, error) {
	jc := cfg.Jobs
	ttl := time.Duration(jc.TTLSeconds) * time.Second

	var store job.Store
	switch jc.Store.Driver {
	case "memory":
		store = job.NewMemoryStore(ttl)
	case "redis":
		s, err := job.NewRedisStore(job.RedisStoreConfig{
			Address:  jc.Store.Redis.Address,
			Password: jc.Store.Redis.Password,
			DB:       jc.Store.Redis.DB,
			Prefix:   jc.Store.Redis.Key,
			TTL:      ttl,
		})
		if err != nil {
			return nil, nil, err
		}
		store = s
	default:
		return nil, nil, fmt.Errorf("未知的任务存储驱动: %s", jc.Store.Driver)
	}

	var queue job.Queue
	switch jc.Queue.Driver {
	case "memory":
		queue = job.NewMemoryQueue(1024)
	case "redis":
		q, err := job.NewRedisQueue(job.RedisQueueConfig{
			Address:   jc.Queue.Redis.Address,
			Password:  jc.Queue.Redis.Password,
			DB:        jc.Queue.Redis.DB,
			Queue:     jc.Queue.Redis.Key,
			BlockWait: time.Duration(jc.Queue.Redis.BlockWait) * time.Second,
		})
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		queue = q
	case "rabbitmq":
		q, err := job.NewRabbitMQQueue(job.RabbitMQConfig{
			URL:        jc.Queue.RabbitMQ.URL,
			Queue:      jc.Queue.RabbitMQ.Queue,
			Prefetch:   jc.Queue.RabbitMQ.Prefetch,
			Durable:    jc.Queue.RabbitMQ.Durable,
			AutoDelete: jc.Queue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		queue = q
	default:
		_ = store.Close()
		return nil, nil, fmt.Errorf("未知的任务队列驱动: %s", jc.Queue.Driver)
	}
	return store, queue, nil
}

// buildAgentHost 在启用且配置了大模型时创建内置智能体，否则返回 nil。
func buildAgentHost(cfg *config.Config, engine *settlement.Engine) (*agenthost.Host, error) {
	if !cfg.AgentHost.Enabled {
		return nil, nil
	}
	lg := logger.Named("marketd")
	if cfg.LLM.Provider != "" && cfg.LLM.Provider != "openai" {
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
	if cfg.LLM.OpenAI.APIKey == "" {
		lg.Warn("未配置大模型 API Key，内置智能体不会启动")
		return nil, nil
	}
	model, err := openai.NewClient(openai.Config{
		APIKey:  cfg.LLM.OpenAI.APIKey,
		BaseURL: cfg.LLM.OpenAI.BaseURL,
		Model:   cfg.LLM.OpenAI.Model,
		Timeout: cfg.LLM.OpenAI.Timeout(),
	})
	if err != nil {
		return nil, err
	}
	price, err := decimal.NewFromString(cfg.Registry.DefaultPriceUSDT)
	if err != nil {
		return nil, err
	}
	return agenthost.New(agenthost.Config{
		Wallets:  cfg.AgentHost.Wallets,
		Price:    price,
		Currency: engine.Currency(),
		ChainID:  engine.ChainID(),
		Network:  cfg.AgentHost.Network,
	}, model, engine)
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SettlementMode 决定结算引擎是否真正上链转账。
type SettlementMode string

const (
	// SettlementAuto 根据是否配置了凭证自动选择模式。
	SettlementAuto SettlementMode = "auto"
	// SettlementLive 通过订单 API 与链上转账完成真实结算。
	SettlementLive SettlementMode = "live"
	// SettlementSimulated 伪造结构一致的交易回执，用于演示。
	SettlementSimulated SettlementMode = "simulated"
)

// Config 描述了 AgentMarket 在启动阶段需要加载的核心配置。
type Config struct {
	Server       ServerConfig       `json:"server"`
	Logging      LoggingConfig      `json:"logging"`
	Metrics      MetricsConfig      `json:"metrics"`
	Web3         Web3Config         `json:"web3"`
	Registry     RegistryConfig     `json:"registry"`
	Settlement   SettlementConfig   `json:"settlement"`
	Invoker      InvokerConfig      `json:"invoker"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Jobs         JobsConfig         `json:"jobs"`
	AgentHost    AgentHostConfig    `json:"agent_host"`
	LLM          LLMConfig          `json:"llm"`
	Alerting     AlertingConfig     `json:"alerting"`
}

// ServerConfig 控制 API 服务的监听地址与调用方认证。
type ServerConfig struct {
	Address     string `json:"address"`
	APIToken    string `json:"api_token"`
	APITokenEnv string `json:"api_token_env"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志文件。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// MetricsConfig 控制独立的 /metrics 服务。
type MetricsConfig struct {
	Address string `json:"address"`
}

// Web3Config 包含访问区块链节点所需的信息。
type Web3Config struct {
	RPCURL       string `json:"rpc_url"`
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
	ChainID      int64  `json:"chain_id"`
	ExplorerURL  string `json:"explorer_url"`
}

// RegistryConfig 描述链上智能体注册表及其回退策略。
type RegistryConfig struct {
	Address          string            `json:"address"`
	FromBlock        uint64            `json:"from_block"`
	TimeoutSeconds   int               `json:"timeout_seconds"`
	FallbackFile     string            `json:"fallback_file"`
	LegacyEndpoints  map[string]string `json:"legacy_endpoints"`
	DefaultPriceUSDT string            `json:"default_price_usdt"`
	Cache            CacheConfig       `json:"cache"`
}

// CacheConfig 控制注册表读取结果的缓存。
type CacheConfig struct {
	Driver     string      `json:"driver"`
	TTLSeconds int         `json:"ttl_seconds"`
	Redis      RedisConfig `json:"redis"`
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Key      string `json:"key"`
}

// SettlementConfig 描述 x402 订单服务、代币与付款钱包。
type SettlementConfig struct {
	Mode               SettlementMode            `json:"mode"`
	APIURL             string                    `json:"api_url"`
	APIKey             string                    `json:"api_key"`
	APIKeyEnv          string                    `json:"api_key_env"`
	MerchantID         string                    `json:"merchant_id"`
	TokenAddress       string                    `json:"token_address"`
	TokenDecimals      int32                     `json:"token_decimals"`
	Currency           string                    `json:"currency"`
	PrivateKey         string                    `json:"private_key"`
	PrivateKeyEnv      string                    `json:"private_key_env"`
	PollIntervalMillis int                       `json:"poll_interval_ms"`
	PollTimeoutSeconds int                       `json:"poll_timeout_seconds"`
	TransferTimeoutSec int                       `json:"transfer_timeout_seconds"`
	Merchants          map[string]MerchantConfig `json:"merchants"`

	// MerchantCredentials 在 Load 时由 Merchants 解析得到，键为商户 ID。
	MerchantCredentials map[string]string `json:"-"`
}

// MerchantConfig 为单个商户覆盖订单 API 凭证。
type MerchantConfig struct {
	APIKey    string `json:"api_key"`
	APIKeyEnv string `json:"api_key_env"`
}

// InvokerConfig 控制调用智能体任务端点的方式。
type InvokerConfig struct {
	TimeoutSeconds int    `json:"timeout_seconds"`
	LocalBaseURL   string `json:"local_base_url"`
}

// OrchestratorConfig 控制编排并发度。
type OrchestratorConfig struct {
	MaxWorkers int `json:"max_workers"`
}

// JobsConfig 描述异步编排任务的队列与临时存储。
type JobsConfig struct {
	Workers    int         `json:"workers"`
	TTLSeconds int         `json:"ttl_seconds"`
	Store      StoreConfig `json:"store"`
	Queue      QueueConfig `json:"queue"`
}

// StoreConfig 选择任务状态的临时存储后端。
type StoreConfig struct {
	Driver string      `json:"driver"`
	Redis  RedisConfig `json:"redis"`
}

// QueueConfig 选择任务队列后端。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisQueue     `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisQueue 描述 Redis list 队列。
type RedisQueue struct {
	RedisConfig
	BlockWait int `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// AgentHostConfig 控制内置的本地付费智能体。
type AgentHostConfig struct {
	Enabled bool              `json:"enabled"`
	Wallets map[string]string `json:"wallets"`
	Network string            `json:"network"`
}

// LLMConfig 用于配置内置智能体调用大模型的方式。
type LLMConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
}

// OpenAIConfig 描述 OpenAI 兼容接口。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回调用超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AlertingConfig 配置结算异常告警。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.resolve(os.Getenv); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.APITokenEnv == "" {
		c.Server.APITokenEnv = "AGENT_API_TOKEN"
	}

	if c.Web3.ChainID == 0 {
		c.Web3.ChainID = 48816
	}
	if c.Web3.ExplorerURL == "" {
		c.Web3.ExplorerURL = "https://explorer.testnet3.goat.network"
	}
	c.Web3.ChainConfig = resolvePath(baseDir, c.Web3.ChainConfig)

	if c.Registry.TimeoutSeconds <= 0 {
		c.Registry.TimeoutSeconds = 5
	}
	if c.Registry.DefaultPriceUSDT == "" {
		c.Registry.DefaultPriceUSDT = "0.10"
	}
	if c.Registry.Cache.Driver == "" {
		c.Registry.Cache.Driver = "memory"
	}
	if c.Registry.Cache.TTLSeconds <= 0 {
		c.Registry.Cache.TTLSeconds = 60
	}
	c.Registry.FallbackFile = resolvePath(baseDir, c.Registry.FallbackFile)

	s := &c.Settlement
	if s.Mode == "" {
		s.Mode = SettlementAuto
	}
	if s.APIURL == "" {
		s.APIURL = "https://x402-api-lx58aabp0r.testnet3.goat.network"
	}
	if s.APIKeyEnv == "" {
		s.APIKeyEnv = "GOATX402_API_KEY"
	}
	if s.PrivateKeyEnv == "" {
		s.PrivateKeyEnv = "AGENT_PRIVATE_KEY"
	}
	if s.MerchantID == "" {
		s.MerchantID = "agents_marketplace"
	}
	if s.TokenDecimals <= 0 {
		s.TokenDecimals = 6
	}
	if s.Currency == "" {
		s.Currency = "USDT"
	}
	if s.PollIntervalMillis <= 0 {
		s.PollIntervalMillis = 2000
	}
	if s.PollTimeoutSeconds <= 0 {
		s.PollTimeoutSeconds = 30
	}
	if s.TransferTimeoutSec <= 0 {
		s.TransferTimeoutSec = 60
	}

	if c.Invoker.TimeoutSeconds <= 0 {
		c.Invoker.TimeoutSeconds = 10
	}
	if c.Invoker.LocalBaseURL == "" {
		c.Invoker.LocalBaseURL = "http://localhost" + listenPort(c.Server.Address)
	}

	if c.Jobs.Workers <= 0 {
		c.Jobs.Workers = 4
	}
	if c.Jobs.TTLSeconds <= 0 {
		c.Jobs.TTLSeconds = 3600
	}
	if c.Jobs.Store.Driver == "" {
		c.Jobs.Store.Driver = "memory"
	}
	if c.Jobs.Queue.Driver == "" {
		c.Jobs.Queue.Driver = "memory"
	}

	if c.AgentHost.Network == "" {
		c.AgentHost.Network = "GOAT Testnet3"
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}

	for i, out := range c.Logging.OutputPaths {
		if out != "stdout" && out != "stderr" {
			c.Logging.OutputPaths[i] = resolvePath(baseDir, out)
		}
	}
	c.Logging.Audit.Path = resolvePath(baseDir, c.Logging.Audit.Path)
}

// resolve 从环境变量读取密钥，并一次性确定结算模式与商户凭证。
func (c *Config) resolve(getenv func(string) string) error {
	c.Server.APIToken = firstNonEmpty(c.Server.APIToken, getenv(c.Server.APITokenEnv))

	s := &c.Settlement
	s.APIKey = firstNonEmpty(s.APIKey, getenv(s.APIKeyEnv))
	s.PrivateKey = firstNonEmpty(s.PrivateKey, getenv(s.PrivateKeyEnv))

	s.MerchantCredentials = make(map[string]string, len(s.Merchants))
	for merchantID, merchant := range s.Merchants {
		key := strings.TrimSpace(merchant.APIKey)
		if key == "" && merchant.APIKeyEnv != "" {
			key = strings.TrimSpace(getenv(merchant.APIKeyEnv))
		}
		if key == "" {
			return fmt.Errorf("商户 %s 未配置 api_key 或 api_key_env", merchantID)
		}
		s.MerchantCredentials[merchantID] = key
	}

	switch s.Mode {
	case SettlementAuto:
		if s.APIKey != "" && s.PrivateKey != "" {
			s.Mode = SettlementLive
		} else {
			s.Mode = SettlementSimulated
		}
	case SettlementLive:
		if s.APIKey == "" || s.PrivateKey == "" {
			return errors.New("live 结算模式需要配置订单 API Key 与付款私钥")
		}
		if strings.TrimSpace(s.TokenAddress) == "" {
			return errors.New("live 结算模式需要配置 token_address")
		}
	case SettlementSimulated:
	default:
		return fmt.Errorf("未知的结算模式: %s", s.Mode)
	}

	c.LLM.OpenAI.APIKey = firstNonEmpty(c.LLM.OpenAI.APIKey, getenv(c.LLM.OpenAI.APIKeyEnv))
	return nil
}

// PollInterval 返回订单状态轮询间隔。
func (s SettlementConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMillis) * time.Millisecond
}

// PollTimeout 返回订单确认的最长等待时间。
func (s SettlementConfig) PollTimeout() time.Duration {
	return time.Duration(s.PollTimeoutSeconds) * time.Second
}

// TransferTimeout 返回等待转账上链的最长时间。
func (s SettlementConfig) TransferTimeout() time.Duration {
	return time.Duration(s.TransferTimeoutSec) * time.Second
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func listenPort(addr string) string {
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		return addr[idx:]
	}
	return ":8080"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	xerrors "AgentMarket-Chain/internal/errors"

	"golang.org/x/sync/singleflight"
)

// Options 配置 Resolver。
type Options struct {
	// Source 为权威注册表；nil 表示未配置，始终使用回退集合。
	Source   Source
	Fallback []FallbackAgent
	Defaults Defaults
	Cache    Cache
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Resolver 将智能体标识解析为元数据，优先读取链上注册表，不可用时回退到静态集合。
type Resolver struct {
	source   Source
	fallback []AgentInfo
	defaults Defaults
	cache    Cache
	timeout  time.Duration
	log      *slog.Logger
	group    singleflight.Group
}

// NewResolver 创建解析器。回退集合在此处一次性构造。
func NewResolver(opts Options) (*Resolver, error) {
	defs := opts.Fallback
	if defs == nil {
		defs = BuiltinFallback()
	}
	if opts.Defaults.PriceUSDT.IsZero() {
		opts.Defaults.PriceUSDT = DefaultPriceUSDT
	}
	if opts.Defaults.LegacyEndpoints == nil {
		opts.Defaults.LegacyEndpoints = DefaultLegacyEndpoints()
	}
	fallback, err := buildFallback(defs, opts.Defaults)
	if err != nil {
		return nil, err
	}
	cache := opts.Cache
	if cache == nil {
		cache = noopCache{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		source:   opts.Source,
		fallback: fallback,
		defaults: opts.Defaults,
		cache:    cache,
		timeout:  timeout,
		log:      log,
	}, nil
}

// ListAgents 返回可雇佣的智能体集合。注册表不可用或没有可雇佣智能体时返回回退集合。
func (r *Resolver) ListAgents(ctx context.Context) Directory {
	agents, err := r.registryAgents(ctx)
	if err != nil {
		r.log.Warn("注册表不可用，使用回退智能体",
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.Any("error", err))
		return r.fallbackDirectory()
	}

	hireable := make([]AgentInfo, 0, len(agents))
	for _, agent := range agents {
		if agent.Hireable() {
			hireable = append(hireable, agent)
		}
	}
	if len(hireable) == 0 {
		r.log.Info("注册表中没有可雇佣的智能体，使用回退智能体")
		return r.fallbackDirectory()
	}
	return Directory{Agents: hireable, Origin: OriginRegistry}
}

// GetAgent 先在注册表（不按标志过滤）中查找，再查回退集合。
func (r *Resolver) GetAgent(ctx context.Context, id uint64) (AgentInfo, error) {
	agents, err := r.registryAgents(ctx)
	if err == nil {
		for _, agent := range agents {
			if agent.ID == id {
				return agent, nil
			}
		}
	} else {
		r.log.Debug("注册表不可用，仅查询回退智能体", slog.Any("error", err))
	}
	for _, agent := range r.fallback {
		if agent.ID == id {
			return agent, nil
		}
	}
	return AgentInfo{}, xerrors.New(CodeAgentNotFound, fmt.Sprintf("Agent #%d not found", id),
		xerrors.WithMetadata("agent_id", strconv.FormatUint(id, 10)))
}

// Refresh 丢弃缓存，下一次读取将直接访问注册表。
func (r *Resolver) Refresh(ctx context.Context) {
	r.cache.Invalidate(ctx)
}

func (r *Resolver) fallbackDirectory() Directory {
	agents := make([]AgentInfo, 0, len(r.fallback))
	for _, agent := range r.fallback {
		if agent.Hireable() {
			agents = append(agents, agent)
		}
	}
	return Directory{Agents: agents, Origin: OriginFallback}
}

// registryAgents 返回注册表中全部可解析的智能体，合并并发读取。
func (r *Resolver) registryAgents(ctx context.Context) ([]AgentInfo, error) {
	if r.source == nil {
		return nil, xerrors.New(CodeRegistryUnavailable, "未配置注册表合约")
	}
	if cached, ok := r.cache.Get(ctx); ok {
		return cached, nil
	}

	v, err, _ := r.group.Do("registry", func() (any, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		records, err := r.source.Records(readCtx)
		if err != nil {
			if _, ok := xerrors.From(err); !ok {
				err = xerrors.Wrap(CodeRegistryUnavailable, err, "读取注册表失败")
			}
			return nil, err
		}
		agents := r.decode(records)
		if len(agents) > 0 {
			r.cache.Set(readCtx, agents)
		}
		return agents, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]AgentInfo(nil), v.([]AgentInfo)...), nil
}

func (r *Resolver) decode(records []Record) []AgentInfo {
	agents := make([]AgentInfo, 0, len(records))
	for _, rec := range records {
		agent, err := r.decodeRecord(rec)
		if err != nil {
			r.log.Warn("跳过无法解析的智能体元数据",
				slog.Uint64("token_id", rec.ID),
				slog.String("code", string(CodeMetadataMalformed)),
				slog.Any("error", err))
			continue
		}
		agents = append(agents, agent)
	}
	return agents
}

func (r *Resolver) decodeRecord(rec Record) (AgentInfo, error) {
	if rec.Err != nil {
		return AgentInfo{}, xerrors.Wrap(CodeMetadataMalformed, rec.Err, "读取 tokenURI 失败")
	}
	meta, err := DecodeTokenURI(rec.ID, rec.URI)
	if err != nil {
		return AgentInfo{}, err
	}
	return r.defaults.build(rec.ID, meta)
}

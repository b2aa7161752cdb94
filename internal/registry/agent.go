package registry

import (
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// EndpointKind 描述智能体端点的调用形态，在构造 AgentInfo 时确定一次。
type EndpointKind int

const (
	// EndpointNone 表示可被发现但不可雇佣。
	EndpointNone EndpointKind = iota
	// EndpointLocal 为相对路径，拼接本地服务地址后调用。
	EndpointLocal
	// EndpointRemote 为绝对 URL。
	EndpointRemote
)

func (k EndpointKind) String() string {
	switch k {
	case EndpointLocal:
		return "local"
	case EndpointRemote:
		return "remote"
	default:
		return "none"
	}
}

// Origin 标识智能体集合的来源。
type Origin string

const (
	OriginRegistry Origin = "registry"
	OriginFallback Origin = "fallback"
)

// AgentInfo 描述一个可被雇佣的智能体。构造后不再修改。
type AgentInfo struct {
	ID          uint64       `json:"id"`
	Type        string       `json:"type,omitempty"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Endpoint    string       `json:"endpoint,omitempty"`
	Route       EndpointKind `json:"-"`
	MerchantID  string       `json:"merchantId"`
	PriceUSDT   string       `json:"priceUsdt"`
	X402Support bool         `json:"x402Support"`
	Active      bool         `json:"active"`
}

// Hireable 判断智能体是否可进入雇佣集合。
func (a AgentInfo) Hireable() bool {
	return a.Active && a.X402Support
}

// Callable 判断智能体是否存在可调用端点。
func (a AgentInfo) Callable() bool {
	return a.Route != EndpointNone
}

// Price 返回价格的十进制表示。PriceUSDT 在构造时已校验。
func (a AgentInfo) Price() decimal.Decimal {
	price, err := decimal.NewFromString(a.PriceUSDT)
	if err != nil {
		return decimal.Zero
	}
	return price
}

// MatchesCapability 判断名称或描述是否包含关键字，大小写不敏感。
func (a AgentInfo) MatchesCapability(keyword string) bool {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return true
	}
	return strings.Contains(strings.ToLower(a.Name), keyword) ||
		strings.Contains(strings.ToLower(a.Description), keyword)
}

// Directory 是一次解析得到的智能体集合及其来源。
type Directory struct {
	Agents []AgentInfo `json:"agents"`
	Origin Origin      `json:"origin"`
}

// Filter 按能力关键字与支付支持过滤，保持原有顺序。
func (d Directory) Filter(capability string, x402Only bool) Directory {
	out := Directory{Origin: d.Origin, Agents: make([]AgentInfo, 0, len(d.Agents))}
	for _, agent := range d.Agents {
		if x402Only && !agent.X402Support {
			continue
		}
		if !agent.MatchesCapability(capability) {
			continue
		}
		out.Agents = append(out.Agents, agent)
	}
	return out
}

// DefaultPriceUSDT 是元数据未声明价格时的默认价格。
var DefaultPriceUSDT = decimal.RequireFromString("0.10")

// Defaults 为缺失字段提供回退值。
type Defaults struct {
	PriceUSDT       decimal.Decimal
	MerchantID      string
	LegacyEndpoints map[string]string
}

// DefaultLegacyEndpoints 是内置本地智能体的名称到路径映射。
func DefaultLegacyEndpoints() map[string]string {
	return map[string]string{
		"Summarizer": "/api/agents/summarize",
		"Translator": "/api/agents/translate",
	}
}

// build 根据元数据与默认值构造 AgentInfo，同时解析端点形态与价格。
func (d Defaults) build(id uint64, meta Metadata) (AgentInfo, error) {
	price := d.PriceUSDT
	if raw := strings.TrimSpace(meta.PriceUSDT); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil || parsed.IsNegative() {
			return AgentInfo{}, malformed(id, "priceUsdt 不是合法的非负小数")
		}
		price = parsed
	}

	endpoint := strings.TrimSpace(meta.Endpoint)
	if endpoint == "" {
		endpoint = d.LegacyEndpoints[meta.Name]
	}

	merchant := strings.TrimSpace(meta.MerchantID)
	if merchant == "" {
		merchant = d.MerchantID
	}

	return AgentInfo{
		ID:          id,
		Type:        meta.Type,
		Name:        meta.Name,
		Description: meta.Description,
		Endpoint:    endpoint,
		Route:       classifyEndpoint(endpoint),
		MerchantID:  merchant,
		PriceUSDT:   FormatUSDT(price),
		X402Support: meta.X402Support,
		Active:      meta.Active,
	}, nil
}

// FormatUSDT 以至少两位小数输出金额，更高精度原样保留。
func FormatUSDT(amount decimal.Decimal) string {
	if amount.Equal(amount.Round(2)) {
		return amount.StringFixed(2)
	}
	return amount.String()
}

func classifyEndpoint(endpoint string) EndpointKind {
	if endpoint == "" {
		return EndpointNone
	}
	if u, err := url.Parse(endpoint); err == nil && u.IsAbs() && u.Host != "" {
		if u.Scheme == "http" || u.Scheme == "https" {
			return EndpointRemote
		}
		return EndpointNone
	}
	return EndpointLocal
}

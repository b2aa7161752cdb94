package registry

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	xerrors "AgentMarket-Chain/internal/errors"
)

const (
	// CodeRegistryUnavailable 注册表不可达或超时，由回退集合兜底。
	CodeRegistryUnavailable xerrors.Code = "REGISTRY_UNAVAILABLE"
	// CodeMetadataMalformed 单个 token 的元数据无法解析，跳过该 token。
	CodeMetadataMalformed xerrors.Code = "AGENT_METADATA_MALFORMED"
	// CodeAgentNotFound 注册表与回退集合中都不存在该智能体。
	CodeAgentNotFound xerrors.Code = "AGENT_NOT_FOUND"
)

func init() {
	xerrors.Register(CodeRegistryUnavailable, xerrors.Attributes{
		Message:  "agent registry unavailable",
		Severity: xerrors.SeverityWarning,
		Status:   http.StatusBadGateway,
	})
	xerrors.Register(CodeMetadataMalformed, xerrors.Attributes{
		Message:  "agent metadata malformed",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeAgentNotFound, xerrors.Attributes{
		Message:  "agent not found",
		Severity: xerrors.SeverityInfo,
		Status:   http.StatusNotFound,
	})
}

const dataURIPrefix = "data:application/json;base64,"

// Metadata 是 tokenURI 指向的智能体自描述文档。
type Metadata struct {
	Type        string `json:"type" yaml:"type"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	X402Support bool   `json:"x402Support" yaml:"x402_support"`
	Active      bool   `json:"active" yaml:"active"`
	MerchantID  string `json:"merchantId" yaml:"merchant_id"`
	Endpoint    string `json:"endpoint,omitempty" yaml:"endpoint"`
	PriceUSDT   string `json:"priceUsdt,omitempty" yaml:"price_usdt"`
}

// DecodeTokenURI 解析 base64 JSON data URI 形式的元数据。
func DecodeTokenURI(id uint64, uri string) (Metadata, error) {
	uri = strings.TrimSpace(uri)
	if !strings.HasPrefix(uri, dataURIPrefix) {
		return Metadata{}, malformed(id, "tokenURI 不是 base64 JSON data URI")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, dataURIPrefix))
	if err != nil {
		return Metadata{}, xerrors.Wrap(CodeMetadataMalformed, err, "base64 解码失败",
			xerrors.WithMetadata("token_id", strconv.FormatUint(id, 10)))
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, xerrors.Wrap(CodeMetadataMalformed, err, "元数据 JSON 解析失败",
			xerrors.WithMetadata("token_id", strconv.FormatUint(id, 10)))
	}
	meta.Name = strings.TrimSpace(meta.Name)
	if meta.Name == "" {
		return Metadata{}, malformed(id, "元数据缺少 name")
	}
	return meta, nil
}

// EncodeTokenURI 生成与 DecodeTokenURI 对应的 data URI。
func EncodeTokenURI(meta Metadata) (string, error) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return dataURIPrefix + base64.StdEncoding.EncodeToString(raw), nil
}

func malformed(id uint64, reason string) error {
	return xerrors.New(CodeMetadataMalformed, fmt.Sprintf("token %d: %s", id, reason),
		xerrors.WithMetadata("token_id", strconv.FormatUint(id, 10)))
}

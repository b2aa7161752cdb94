package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OrderAPIConfig 描述 x402 订单服务。
type OrderAPIConfig struct {
	BaseURL string
	// APIKey 为默认凭证；Credentials 按商户 ID 覆盖。
	APIKey      string
	Credentials map[string]string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// OrderClient 调用 x402 订单 API。请求失败直接返回，不做重试，
// 重复创建订单会导致重复付款。
type OrderClient struct {
	baseURL     string
	apiKey      string
	credentials map[string]string
	httpClient  *http.Client
}

// NewOrderClient 创建订单 API 客户端。
func NewOrderClient(cfg OrderAPIConfig) (*OrderClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("订单 API 地址不能为空")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("订单 API 地址不合法: %w", err)
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	creds := make(map[string]string, len(cfg.Credentials))
	for k, v := range cfg.Credentials {
		creds[k] = v
	}
	return &OrderClient{baseURL: base, apiKey: cfg.APIKey, credentials: creds, httpClient: client}, nil
}

type createOrderRequest struct {
	MerchantID string            `json:"merchant_id"`
	ChainID    int64             `json:"chain_id"`
	Token      string            `json:"token"`
	Amount     string            `json:"amount"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type createOrderResponse struct {
	OrderID      string `json:"order_id"`
	PayToAddress string `json:"pay_to_address"`
	Amount       string `json:"amount"`
}

type orderStatusResponse struct {
	Status string `json:"status"`
}

// HTTPError 表示订单 API 返回的非成功响应。
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// CreateOrder 创建支付订单，返回 Pending 状态的 PaymentOrder。
func (c *OrderClient) CreateOrder(ctx context.Context, merchantID string, chainID int64, token common.Address, amount *big.Int, metadata map[string]string) (*PaymentOrder, error) {
	body := createOrderRequest{
		MerchantID: merchantID,
		ChainID:    chainID,
		Token:      token.Hex(),
		Amount:     amount.String(),
		Metadata:   metadata,
	}
	var resp createOrderResponse
	if err := c.do(ctx, http.MethodPost, "/orders", merchantID, body, &resp); err != nil {
		return nil, fmt.Errorf("x402 createOrder 失败: %w", err)
	}
	if resp.OrderID == "" {
		return nil, errors.New("x402 createOrder 响应缺少 order_id")
	}
	if !common.IsHexAddress(resp.PayToAddress) {
		return nil, fmt.Errorf("x402 createOrder 返回的收款地址不合法: %q", resp.PayToAddress)
	}

	orderAmount := new(big.Int).Set(amount)
	if resp.Amount != "" {
		parsed, ok := new(big.Int).SetString(resp.Amount, 10)
		if !ok || parsed.Sign() <= 0 {
			return nil, fmt.Errorf("x402 createOrder 返回的金额不合法: %q", resp.Amount)
		}
		orderAmount = parsed
	}
	return &PaymentOrder{
		OrderID:      resp.OrderID,
		PayToAddress: common.HexToAddress(resp.PayToAddress),
		Amount:       orderAmount,
		Status:       StatusPending,
	}, nil
}

// OrderStatus 查询订单状态，返回 PENDING、PAID 或 CONFIRMED 等原始字符串。
func (c *OrderClient) OrderStatus(ctx context.Context, merchantID, orderID string) (string, error) {
	var resp orderStatusResponse
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), merchantID, nil, &resp); err != nil {
		return "", fmt.Errorf("x402 poll 失败: %w", err)
	}
	return strings.ToUpper(strings.TrimSpace(resp.Status)), nil
}

func (c *OrderClient) credential(merchantID string) string {
	if key, ok := c.credentials[merchantID]; ok {
		return key
	}
	return c.apiKey
}

func (c *OrderClient) do(ctx context.Context, method, path, merchantID string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("编码请求失败: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("构造请求失败: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := c.credential(merchantID); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}

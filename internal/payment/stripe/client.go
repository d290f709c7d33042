// Package stripe 以表单编码的 REST 请求对接 Stripe Checkout，并校验其 webhook。
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	xerrors "Nara-Wallet/internal/errors"
	"Nara-Wallet/internal/payment"
	"Nara-Wallet/pkg/logger"
)

const (
	defaultAPIURL  = "https://api.stripe.com/v1"
	defaultExpiry  = 1800 * time.Second
	defaultTimeout = 10 * time.Second
)

// Config 描述 Stripe 客户端配置。
type Config struct {
	APIURL        string
	APIKey        string
	PublicBaseURL string
	Expiry        time.Duration
	Timeout       time.Duration
}

// Client 实现 payment.Gateway。
type Client struct {
	apiURL     string
	apiKey     string
	baseURL    string
	expiry     time.Duration
	httpClient *http.Client
	now        func() time.Time
	log        *slog.Logger
}

var _ payment.Gateway = (*Client)(nil)

// New 创建 Stripe 客户端。
func New(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Stripe API Key")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("未配置对外访问地址")
	}
	apiURL := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = defaultExpiry
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiURL:     apiURL,
		apiKey:     apiKey,
		baseURL:    baseURL,
		expiry:     expiry,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
		log:        logger.Named("stripe"),
	}, nil
}

// CreateCheckoutSession 创建单行商品的美元结账会话，订单信息同时写入会话与 PaymentIntent 元数据。
func (c *Client) CreateCheckoutSession(ctx context.Context, req payment.Request) (*payment.GatewaySession, error) {
	form := c.checkoutForm(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("构建 Stripe 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePaymentGateway, err, "请求 Stripe 失败",
			xerrors.WithMetadata("order_id", req.OrderID))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePaymentGateway, err, "读取 Stripe 响应失败")
	}
	if resp.StatusCode != http.StatusOK {
		c.log.Error("创建结账会话失败",
			slog.String("order_id", req.OrderID),
			slog.Int("status", resp.StatusCode),
			slog.String("asset", req.Asset),
			slog.Int64("amount_minor", req.AmountMinor))
		return nil, xerrors.New(xerrors.CodePaymentGateway,
			fmt.Sprintf("Stripe 返回错误状态 %d", resp.StatusCode),
			xerrors.WithMetadata("status", strconv.Itoa(resp.StatusCode)),
			xerrors.WithMetadata("body", strings.TrimSpace(string(body))),
			xerrors.WithMetadata("order_id", req.OrderID))
	}

	var decoded struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodePaymentGateway, err, "解析 Stripe 响应失败")
	}
	if decoded.URL == "" {
		return nil, xerrors.New(xerrors.CodePaymentGateway, "Stripe 响应缺少结账链接",
			xerrors.WithMetadata("body", strings.TrimSpace(string(body))))
	}
	return &payment.GatewaySession{ID: decoded.ID, URL: decoded.URL}, nil
}

func (c *Client) checkoutForm(req payment.Request) url.Values {
	coin := strings.ToLower(strings.TrimSpace(req.Asset))
	minor := strconv.FormatInt(req.AmountMinor, 10)

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", c.baseURL+"/order/success?session_id={CHECKOUT_SESSION_ID}")
	form.Set("cancel_url", c.baseURL+"/cancel")
	form.Set("expires_at", strconv.FormatInt(c.now().Add(c.expiry).Unix(), 10))

	metadata := map[string]string{
		MetaOrderID:     req.OrderID,
		MetaCoinType:    coin,
		MetaDestination: req.Destination,
		MetaAmountMinor: minor,
	}
	for key, value := range metadata {
		form.Set("metadata["+key+"]", value)
		form.Set("payment_intent_data[metadata]["+key+"]", value)
	}

	form.Set("line_items[0][price_data][currency]", "usd")
	form.Set("line_items[0][price_data][product_data][name]", fmt.Sprintf("Buy %s with the amount of %s", strings.ToUpper(coin), minor))
	form.Set("line_items[0][price_data][unit_amount]", minor)
	form.Set("line_items[0][quantity]", "1")
	return form
}

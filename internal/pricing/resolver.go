// Package pricing 把资产数量换算为美元报价。
//
// 对话场景使用 BestEffortQuote，失败时返回零值报价而不阻塞对话；
// 结算场景使用 StrictSpot，失败时必须返回 PRICE_UNAVAILABLE。
package pricing

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	xerrors "Nara-Wallet/internal/errors"
	"Nara-Wallet/internal/observability/metrics"
	"Nara-Wallet/internal/units"
	"Nara-Wallet/pkg/logger"
)

const (
	defaultCoinGeckoURL     = "https://api.coingecko.com/api/v3"
	defaultCryptoCompareURL = "https://min-api.cryptocompare.com"
	defaultTimeout          = 10 * time.Second
	defaultCacheTTL         = 30 * time.Second
)

// ErrPriceUnavailable 表示所有价格源都无法给出正价格。
var ErrPriceUnavailable = xerrors.New(xerrors.CodePriceUnavailable, "price unavailable")

// Config 描述价格源地址与超时。
type Config struct {
	CoinGeckoURL     string
	CryptoCompareURL string
	Timeout          time.Duration
	CacheTTL         time.Duration
}

// Quote 是一次尽力报价的结果。
type Quote struct {
	Symbol string
	USD    decimal.Decimal
	Text   string
}

// Resolver 负责资产标识解析与美元报价。
type Resolver struct {
	catalog          *units.Catalog
	coingeckoURL     string
	cryptocompareURL string
	httpClient       *http.Client
	cache            Cache
	cacheTTL         time.Duration
	log              *slog.Logger
}

// Option 定义 Resolver 的可选配置。
type Option func(*Resolver)

// WithCache 为尽力报价启用缓存。
func WithCache(cache Cache) Option {
	return func(r *Resolver) {
		r.cache = cache
	}
}

// WithHTTPClient 替换默认的 HTTP 客户端。
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) {
		if client != nil {
			r.httpClient = client
		}
	}
}

// NewResolver 创建价格解析器。
func NewResolver(catalog *units.Catalog, cfg Config, opts ...Option) *Resolver {
	if catalog == nil {
		catalog = units.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	r := &Resolver{
		catalog:          catalog,
		coingeckoURL:     trimURL(cfg.CoinGeckoURL, defaultCoinGeckoURL),
		cryptocompareURL: trimURL(cfg.CryptoCompareURL, defaultCryptoCompareURL),
		httpClient:       &http.Client{Timeout: timeout},
		cacheTTL:         ttl,
		log:              logger.Named("pricing"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func trimURL(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		value = fallback
	}
	return strings.TrimRight(value, "/")
}

// Target 是价格查询使用的标识。
type Target struct {
	ID     string
	Symbol string
}

// Resolve 将自由文本的资产标签解析为价格查询标识：先查静态目录，再调用搜索接口，最后猜测。
func (r *Resolver) Resolve(ctx context.Context, label string) Target {
	label = strings.TrimSpace(label)
	if asset, err := r.catalog.Lookup(label); err == nil && asset.PriceID != "" {
		return Target{ID: asset.PriceID, Symbol: asset.Symbol}
	}
	if target, ok := r.search(ctx, label); ok {
		return target
	}
	return Target{
		ID:     strings.ReplaceAll(strings.ToLower(label), " ", "-"),
		Symbol: strings.ToUpper(label),
	}
}

// StrictSpot 返回当前单位美元价格。任何失败都以 ErrPriceUnavailable 返回，不读缓存。
func (r *Resolver) StrictSpot(ctx context.Context, label string) (decimal.Decimal, error) {
	if strings.TrimSpace(label) == "" {
		return decimal.Zero, xerrors.New(xerrors.CodePriceUnavailable, "empty asset label")
	}
	target := r.Resolve(ctx, label)
	price, err := r.spot(ctx, target)
	if err != nil {
		return decimal.Zero, err
	}
	if r.cache != nil {
		r.cache.Set(ctx, target.ID, price, r.cacheTTL)
	}
	return price, nil
}

// BestEffortQuote 计算 amount 个资产的美元价值，失败时返回零值报价。
func (r *Resolver) BestEffortQuote(ctx context.Context, label string, amount decimal.Decimal) Quote {
	quote := Quote{Symbol: strings.ToUpper(strings.TrimSpace(label)), USD: decimal.Zero, Text: units.ZeroUSD}
	if !amount.IsPositive() || quote.Symbol == "" {
		return quote
	}

	target := r.Resolve(ctx, label)
	quote.Symbol = target.Symbol

	var (
		price decimal.Decimal
		ok    bool
	)
	if r.cache != nil {
		price, ok = r.cache.Get(ctx, target.ID)
	}
	if !ok {
		fetched, err := r.spot(ctx, target)
		if err != nil {
			r.log.Warn("尽力报价失败，返回零值", slog.String("asset", target.Symbol), slog.Any("error", err))
			return quote
		}
		price = fetched
		if r.cache != nil {
			r.cache.Set(ctx, target.ID, price, r.cacheTTL)
		}
	}

	quote.USD = price.Mul(amount)
	quote.Text = units.FormatUSD(quote.USD)
	return quote
}

func (r *Resolver) spot(ctx context.Context, target Target) (decimal.Decimal, error) {
	price, err := r.fetchCoinGecko(ctx, target.ID)
	if err == nil {
		metrics.ObservePriceLookup("coingecko", "ok")
		return price, nil
	}
	metrics.ObservePriceLookup("coingecko", "error")
	r.log.Debug("主价格源失败，尝试备用价格源", slog.String("id", target.ID), slog.Any("error", err))

	price, secondaryErr := r.fetchCryptoCompare(ctx, target.Symbol)
	if secondaryErr == nil {
		metrics.ObservePriceLookup("cryptocompare", "ok")
		return price, nil
	}
	metrics.ObservePriceLookup("cryptocompare", "error")

	return decimal.Zero, xerrors.Wrap(xerrors.CodePriceUnavailable, secondaryErr,
		"price unavailable for "+target.Symbol,
		xerrors.WithMetadata("asset", target.Symbol),
		xerrors.WithMetadata("primary_error", err.Error()))
}

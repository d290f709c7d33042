package settlement

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	xerrors "Nara-Wallet/internal/errors"
	"Nara-Wallet/internal/events"
	"Nara-Wallet/internal/ledger"
	"Nara-Wallet/internal/observability/alerting"
	"Nara-Wallet/internal/observability/metrics"
	"Nara-Wallet/internal/payment"
	"Nara-Wallet/internal/payment/stripe"
	"Nara-Wallet/internal/units"
	"Nara-Wallet/internal/web3"
	"Nara-Wallet/pkg/logger"
)

// 结算结果状态，作为 webhook 响应中的 status 字段。
const (
	OutcomeOK        = "ok"
	OutcomeIgnored   = "ignored"
	OutcomeExpired   = "expired"
	OutcomeDuplicate = "duplicate"
)

const (
	defaultFreshness = 300 * time.Second
	extraDivDigits   = 8
)

// PriceSource 提供结算时刻的严格现货价格。
type PriceSource interface {
	StrictSpot(ctx context.Context, label string) (decimal.Decimal, error)
}

// PoolSender 从托管池发送代币。
type PoolSender interface {
	PoolSend(ctx context.Context, controller ledger.Caller, asset, destination string, amount *big.Int) (string, error)
}

// CheckoutLookup 读取本地登记的结账会话。
type CheckoutLookup interface {
	GetCheckout(ctx context.Context, orderID string) (*payment.CheckoutSession, error)
}

// Config 描述 webhook 校验参数。
type Config struct {
	Secret string
	// RequireSignature 为 false 且 Secret 为空时跳过签名校验，仅用于开发模式。
	RequireSignature   bool
	SignatureTolerance time.Duration
	Freshness          time.Duration
}

// Outcome 是一次 webhook 处理的结果。
type Outcome struct {
	Status      string
	OrderID     string
	TxReference string
	Reason      string
	// Code 是非成功结果对应的错误码。
	Code xerrors.Code
}

// Handler 把支付完成通知转换为一次托管池转账。
type Handler struct {
	cfg        Config
	store      Store
	prices     PriceSource
	pool       PoolSender
	controller ledger.Caller
	catalog    *units.Catalog
	checkouts  CheckoutLookup
	publisher  events.Publisher
	alerts     alerting.Dispatcher
	now        func() time.Time
	log        *slog.Logger
}

// Option 定义 Handler 的可选配置。
type Option func(*Handler)

// WithCheckouts 设置结账会话查询，用于事件缺少创建时间时判断新鲜度。
func WithCheckouts(lookup CheckoutLookup) Option {
	return func(h *Handler) { h.checkouts = lookup }
}

// WithPublisher 设置结算事件投递。
func WithPublisher(p events.Publisher) Option {
	return func(h *Handler) {
		if p != nil {
			h.publisher = p
		}
	}
}

// WithAlerts 设置告警分发。
func WithAlerts(d alerting.Dispatcher) Option {
	return func(h *Handler) { h.alerts = d }
}

// WithCatalog 替换资产目录。
func WithCatalog(c *units.Catalog) Option {
	return func(h *Handler) {
		if c != nil {
			h.catalog = c
		}
	}
}

// WithClock 替换时间源。
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler 创建结算处理器。
func NewHandler(cfg Config, store Store, prices PriceSource, pool PoolSender, controller ledger.Caller, opts ...Option) *Handler {
	if cfg.Freshness <= 0 {
		cfg.Freshness = defaultFreshness
	}
	if cfg.SignatureTolerance <= 0 {
		cfg.SignatureTolerance = stripe.DefaultTolerance
	}
	h := &Handler{
		cfg:        cfg,
		store:      store,
		prices:     prices,
		pool:       pool,
		controller: controller,
		catalog:    units.Default(),
		publisher:  events.Discard{},
		now:        time.Now,
		log:        logger.Named("settlement"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// HandleWebhook 校验并处理一次 webhook 投递。
//
// 签名或元数据错误返回 INVALID_SIGNATURE / INVALID_ARGUMENT，且不产生任何副作用；
// 过期会话与非结账事件返回对应的 Outcome；同一订单至多发送一次。
func (h *Handler) HandleWebhook(ctx context.Context, payload []byte, signature string) (*Outcome, error) {
	outcome, err := h.handle(ctx, payload, signature)
	switch {
	case err != nil:
		metrics.ObserveSettlement(string(xerrors.CodeOf(err)))
	default:
		metrics.ObserveSettlement(outcome.Status)
	}
	return outcome, err
}

func (h *Handler) handle(ctx context.Context, payload []byte, signature string) (*Outcome, error) {
	now := h.now()
	if err := h.verify(payload, signature, now); err != nil {
		h.log.Warn("webhook 签名校验失败", slog.Any("error", err))
		return nil, err
	}

	ev, err := stripe.ParseEvent(payload)
	if err != nil {
		return nil, err
	}
	if ev.Type != stripe.EventCheckoutCompleted {
		h.log.Debug("忽略非结账事件", slog.String("type", ev.Type))
		return &Outcome{Status: OutcomeIgnored, Reason: ev.Type}, nil
	}

	md, err := ev.CheckoutMetadata()
	if err != nil {
		return nil, err
	}
	orderID := md.OrderID
	if orderID == "" {
		orderID = md.SessionID
	}
	if orderID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "事件缺少订单号", xerrors.WithMetadata("event_id", ev.ID))
	}
	if !units.IsBuiltin(md.Asset) {
		return &Outcome{Status: OutcomeIgnored, OrderID: orderID, Reason: "unsupported asset " + md.Asset, Code: xerrors.CodeUnsupportedAsset}, nil
	}
	if md.AmountMinor <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "支付金额无效", xerrors.WithMetadata("order_id", orderID))
	}
	if err := web3.ValidateDestination(md.Asset, md.Destination); err != nil {
		return nil, err
	}

	if stale, reason := h.stale(ctx, orderID, md.Created, now); stale {
		staleErr := xerrors.New(xerrors.CodeStaleSession, reason, xerrors.WithMetadata("order_id", orderID))
		h.log.Info("结账会话已过期", slog.String("order_id", orderID), slog.String("code", string(staleErr.Code())), slog.String("reason", reason))
		h.publish(ctx, events.Event{
			Type: events.TypeSettlementExpired, OrderID: orderID, Asset: md.Asset,
			Destination: md.Destination, AmountMinor: md.AmountMinor, Error: staleErr.Error(),
		})
		return &Outcome{Status: OutcomeExpired, OrderID: orderID, Reason: reason, Code: staleErr.Code()}, nil
	}

	rec, claimed, err := h.store.Claim(ctx, orderID, now)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "登记结算记录失败", xerrors.WithMetadata("order_id", orderID))
	}
	if !claimed {
		h.log.Info("重复投递的结算通知", slog.String("order_id", orderID), slog.String("status", string(rec.Status)))
		return &Outcome{Status: OutcomeDuplicate, OrderID: orderID, TxReference: rec.TxReference, Reason: string(rec.Status)}, nil
	}

	amount, err := h.tokenAmount(ctx, md)
	if err != nil {
		if xerrors.IsCode(err, xerrors.CodePriceUnavailable) {
			// 尚未发送，释放记录以便网关重投时重试。
			h.release(ctx, orderID)
		} else {
			h.fail(ctx, orderID, md, err, now)
		}
		return nil, err
	}

	tx, err := h.pool.PoolSend(ctx, h.controller, md.Asset, md.Destination, amount)
	if err != nil {
		h.fail(ctx, orderID, md, err, now)
		return nil, err
	}

	if err := h.store.Complete(ctx, orderID, tx, amount.String(), h.now()); err != nil {
		h.log.Error("记录结算结果失败", slog.String("order_id", orderID), slog.String("tx", tx), slog.Any("error", err))
		h.alert(ctx, xerrors.Wrap(xerrors.CodeStorageFailure, err, "记录结算结果失败"), orderID)
	}
	logger.Audit().Info("settlement completed",
		slog.String("order_id", orderID),
		slog.String("asset", md.Asset),
		slog.String("destination", md.Destination),
		slog.Int64("amount_minor", md.AmountMinor),
		slog.String("amount_smallest", amount.String()),
		slog.String("tx", tx),
	)
	h.publish(ctx, events.Event{
		Type: events.TypeSettlementSettled, OrderID: orderID, Asset: md.Asset, Destination: md.Destination,
		AmountMinor: md.AmountMinor, AmountSmallest: amount.String(), TxReference: tx,
	})
	return &Outcome{Status: OutcomeOK, OrderID: orderID, TxReference: tx}, nil
}

func (h *Handler) verify(payload []byte, signature string, now time.Time) error {
	if h.cfg.Secret == "" && !h.cfg.RequireSignature {
		h.log.Warn("未配置 webhook 密钥，跳过签名校验")
		return nil
	}
	return stripe.VerifySignature(payload, signature, h.cfg.Secret, h.cfg.SignatureTolerance, now)
}

// stale 判断会话是否超过有效期。事件未携带创建时间时使用本地登记的时间，两者都没有视为过期。
func (h *Handler) stale(ctx context.Context, orderID string, created int64, now time.Time) (bool, string) {
	if created <= 0 && h.checkouts != nil {
		if cs, err := h.checkouts.GetCheckout(ctx, orderID); err == nil {
			created = cs.CreatedAt
		} else if !errors.Is(err, payment.ErrCheckoutNotFound) {
			h.log.Warn("读取结账会话失败", slog.String("order_id", orderID), slog.Any("error", err))
		}
	}
	if created <= 0 {
		return true, "session creation time unknown"
	}
	if now.Sub(time.Unix(created, 0)) > h.cfg.Freshness {
		return true, "payment link expired"
	}
	return false, ""
}

// tokenAmount 用结算时刻的现货价格把已付美元换算为最小单位数量。
func (h *Handler) tokenAmount(ctx context.Context, md *stripe.Metadata) (*big.Int, error) {
	asset, err := h.catalog.Lookup(md.Asset)
	if err != nil {
		return nil, err
	}
	price, err := h.prices.StrictSpot(ctx, md.Asset)
	if err != nil {
		return nil, err
	}
	if !price.IsPositive() {
		return nil, xerrors.New(xerrors.CodePriceUnavailable, "现货价格无效", xerrors.WithMetadata("asset", md.Asset))
	}
	usd := decimal.New(md.AmountMinor, -2)
	tokens := usd.DivRound(price, asset.Exponent+extraDivDigits)
	amount, err := h.catalog.ToSmallestDecimal(asset.Symbol, tokens)
	if err != nil {
		return nil, err
	}
	if amount.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "换算得到的代币数量为零",
			xerrors.WithMetadata("asset", md.Asset),
			xerrors.WithMetadata("price", price.String()))
	}
	return amount, nil
}

func (h *Handler) release(ctx context.Context, orderID string) {
	if err := h.store.Release(ctx, orderID); err != nil {
		h.log.Error("释放结算记录失败", slog.String("order_id", orderID), slog.Any("error", err))
	}
}

func (h *Handler) fail(ctx context.Context, orderID string, md *stripe.Metadata, cause error, now time.Time) {
	h.log.Error("结算失败", slog.String("order_id", orderID), slog.Any("error", cause))
	if err := h.store.Fail(ctx, orderID, cause.Error(), now); err != nil {
		h.log.Error("记录结算失败状态出错", slog.String("order_id", orderID), slog.Any("error", err))
	}
	h.publish(ctx, events.Event{
		Type: events.TypeSettlementFailed, OrderID: orderID, Asset: md.Asset, Destination: md.Destination,
		AmountMinor: md.AmountMinor, Error: cause.Error(),
	})
	h.alert(ctx, cause, orderID)
}

func (h *Handler) alert(ctx context.Context, cause error, orderID string) {
	if h.alerts == nil || !xerrors.ShouldAlert(cause) {
		return
	}
	if err := h.alerts.Notify(ctx, alerting.FromError(cause, orderID, h.now())); err != nil {
		h.log.Warn("发送告警失败", slog.Any("error", err))
	}
}

func (h *Handler) publish(ctx context.Context, ev events.Event) {
	if err := h.publisher.Publish(ctx, events.Stamp(ev, h.now())); err != nil {
		h.log.Warn("投递结算事件失败", slog.String("type", string(ev.Type)), slog.String("order_id", ev.OrderID), slog.Any("error", err))
	}
}

// Package payment 创建支付网关结账会话并记录会话元数据。
package payment

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	xerrors "Nara-Wallet/internal/errors"
	"Nara-Wallet/internal/events"
	"Nara-Wallet/pkg/logger"
)

// DefaultSettlementWindow 是业务规则允许的结账有效期，短于网关层面的过期时间。
const DefaultSettlementWindow = 300 * time.Second

// CheckoutSession 是一次法币结账请求，结算时最多被消费一次。
type CheckoutSession struct {
	OrderID          string `json:"order_id"`
	GatewaySessionID string `json:"gateway_session_id"`
	Sender           string `json:"sender"`
	Asset            string `json:"asset"`
	Destination      string `json:"destination"`
	AmountMinor      int64  `json:"amount_minor"`
	URL              string `json:"url"`
	CreatedAt        int64  `json:"created_at"`
	ExpiresAt        int64  `json:"expires_at"`
}

// Request 描述创建结账会话所需的订单信息。
type Request struct {
	OrderID     string
	Sender      string
	Asset       string
	Destination string
	AmountMinor int64
}

// GatewaySession 是网关返回的会话。
type GatewaySession struct {
	ID  string
	URL string
}

// Gateway 是支付网关的最小抽象。
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req Request) (*GatewaySession, error)
}

// Repository 持久化结账会话。
type Repository interface {
	SaveCheckout(ctx context.Context, session CheckoutSession) error
	GetCheckout(ctx context.Context, orderID string) (*CheckoutSession, error)
}

// ErrCheckoutNotFound 表示订单不存在。
var ErrCheckoutNotFound = xerrors.New(xerrors.CodeNotFound, "checkout session not found")

// Manager 负责创建结账会话并登记。
type Manager struct {
	gateway Gateway
	repo    Repository
	events  events.Publisher
	window  time.Duration
	now     func() time.Time
	log     *slog.Logger
}

// Option 定义 Manager 的可选配置。
type Option func(*Manager)

// WithWindow 覆盖结算有效期。
func WithWindow(window time.Duration) Option {
	return func(m *Manager) {
		if window > 0 {
			m.window = window
		}
	}
}

// WithPublisher 设置 checkout.created 事件的投递目标。
func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) {
		if p != nil {
			m.events = p
		}
	}
}

// WithClock 替换时间源。
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager 创建结账会话管理器。
func NewManager(gateway Gateway, repo Repository, opts ...Option) *Manager {
	m := &Manager{
		gateway: gateway,
		repo:    repo,
		events:  events.Discard{},
		window:  DefaultSettlementWindow,
		now:     time.Now,
		log:     logger.Named("payment"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// CreateSession 在网关创建结账会话并保存记录，返回带结账链接的会话。
func (m *Manager) CreateSession(ctx context.Context, req Request) (*CheckoutSession, error) {
	if strings.TrimSpace(req.OrderID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "订单号不能为空")
	}
	if req.AmountMinor <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "支付金额必须为正数")
	}
	if req.Asset == "" || req.Destination == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "资产与收款地址不能为空")
	}

	created := m.now()
	gs, err := m.gateway.CreateCheckoutSession(ctx, req)
	if err != nil {
		return nil, err
	}

	session := CheckoutSession{
		OrderID:          req.OrderID,
		GatewaySessionID: gs.ID,
		Sender:           req.Sender,
		Asset:            req.Asset,
		Destination:      req.Destination,
		AmountMinor:      req.AmountMinor,
		URL:              gs.URL,
		CreatedAt:        created.Unix(),
		ExpiresAt:        created.Add(m.window).Unix(),
	}
	if m.repo != nil {
		if err := m.repo.SaveCheckout(ctx, session); err != nil {
			// 网关会话已存在，结算仍可依赖网关元数据完成。
			m.log.Error("保存结账会话失败", slog.String("order_id", req.OrderID), slog.Any("error", err))
		}
	}

	logger.Audit().Info("checkout session created",
		slog.String("order_id", session.OrderID),
		slog.String("sender", session.Sender),
		slog.String("asset", session.Asset),
		slog.String("destination", session.Destination),
		slog.Int64("amount_minor", session.AmountMinor),
	)
	ev := events.Event{
		Type:        events.TypeCheckoutCreated,
		OrderID:     session.OrderID,
		Asset:       session.Asset,
		Destination: session.Destination,
		AmountMinor: session.AmountMinor,
		OccurredAt:  session.CreatedAt,
	}
	if err := m.events.Publish(ctx, ev); err != nil {
		m.log.Warn("投递结账事件失败", slog.String("order_id", session.OrderID), slog.Any("error", err))
	}
	return &session, nil
}

// MemoryRepository 是 Repository 的内存实现。
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]CheckoutSession
}

// NewMemoryRepository 创建内存仓库。
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]CheckoutSession)}
}

// SaveCheckout 实现 Repository 接口。
func (r *MemoryRepository) SaveCheckout(_ context.Context, session CheckoutSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[session.OrderID]; exists {
		return xerrors.New(xerrors.CodeInvalidArgument, "订单号重复: "+session.OrderID)
	}
	r.sessions[session.OrderID] = session
	return nil
}

// GetCheckout 实现 Repository 接口。
func (r *MemoryRepository) GetCheckout(_ context.Context, orderID string) (*CheckoutSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[orderID]
	if !ok {
		return nil, ErrCheckoutNotFound
	}
	return &session, nil
}

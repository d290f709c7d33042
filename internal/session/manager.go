package session

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	xerrors "Nara-Wallet/internal/errors"
	"Nara-Wallet/internal/identity"
	"Nara-Wallet/pkg/logger"
)

// Manager 在每个发送方的锁内执行会话状态的读改写。
type Manager struct {
	store  Store
	locks  *KeyedLocker
	sealer *identity.Sealer
	now    func() time.Time
	gen    func(sender string) (*identity.Identity, error)
	log    *slog.Logger
}

// Option 定义 Manager 的可选配置。
type Option func(*Manager)

// WithSealer 启用私钥静态加密。
func WithSealer(sealer *identity.Sealer) Option {
	return func(m *Manager) {
		m.sealer = sealer
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

// NewManager 创建会话管理器。
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		locks: NewKeyedLocker(),
		now:   time.Now,
		gen:   identity.Generate,
		log:   logger.Named("session"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// WithSender 获取发送方的锁并在锁内执行 fn。
func (m *Manager) WithSender(ctx context.Context, sender string, fn func(tx *Tx) error) error {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "发送方不能为空")
	}
	unlock, err := m.locks.Lock(ctx, sender)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "等待会话锁超时")
	}
	defer unlock()
	return fn(&Tx{ctx: ctx, m: m, sender: sender})
}

// Tx 是持有某个发送方锁期间可用的操作集合。
type Tx struct {
	ctx    context.Context
	m      *Manager
	sender string
}

// Sender 返回当前发送方。
func (tx *Tx) Sender() string { return tx.sender }

// Identity 读取身份。
func (tx *Tx) Identity() (*identity.Identity, error) {
	id, err := tx.m.store.GetIdentity(tx.ctx, tx.sender)
	if err != nil {
		return nil, storageErr(err, "读取身份失败")
	}
	return id, nil
}

// EnsureIdentity 返回已有身份，不存在时生成一个新身份。已有身份永远不会被重新生成。
func (tx *Tx) EnsureIdentity() (*identity.Identity, bool, error) {
	existing, err := tx.m.store.GetIdentity(tx.ctx, tx.sender)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrIdentityNotFound) {
		return nil, false, storageErr(err, "读取身份失败")
	}

	fresh, err := tx.m.gen(tx.sender)
	if err != nil {
		return nil, false, err
	}
	fresh.CreatedAt = tx.m.now().Unix()
	sealed, err := tx.m.sealer.Seal(fresh.PrivateKey)
	if err != nil {
		return nil, false, fmt.Errorf("加密私钥失败: %w", err)
	}
	fresh.PrivateKey = sealed

	stored, err := tx.m.store.CreateIdentity(tx.ctx, fresh)
	if err != nil {
		return nil, false, storageErr(err, "保存身份失败")
	}
	created := stored.Principal == fresh.Principal
	if created {
		tx.m.log.Info("已为发送方创建身份", slog.String("sender", tx.sender), slog.String("principal", stored.Principal))
	}
	return stored, created, nil
}

// SigningKey 从存储中还原发送方的签名私钥。
func (tx *Tx) SigningKey() (*identity.Identity, ed25519.PrivateKey, error) {
	id, _, err := tx.EnsureIdentity()
	if err != nil {
		return nil, nil, err
	}
	plain, err := tx.m.sealer.Open(id.PrivateKey)
	if err != nil {
		return nil, nil, xerrors.Wrap(xerrors.CodeInvalidKeyFormat, err, "无法解密私钥")
	}
	key, err := identity.ParsePrivateKey(plain)
	if err != nil {
		return nil, nil, err
	}
	return id, key, nil
}

// SetPending 保存待确认意图，替换之前的意图。
func (tx *Tx) SetPending(kind Kind, function string, args Arguments) (*PendingIntent, error) {
	intent := PendingIntent{
		Sender:    tx.sender,
		Kind:      kind,
		Function:  function,
		Arguments: args,
		CreatedAt: tx.m.now().Unix(),
	}
	if err := tx.m.store.PutPending(tx.ctx, intent); err != nil {
		return nil, storageErr(err, "保存待确认意图失败")
	}
	return &intent, nil
}

// TakePending 取出并删除待确认意图。
func (tx *Tx) TakePending() (*PendingIntent, error) {
	intent, err := tx.m.store.TakePending(tx.ctx, tx.sender)
	if err != nil {
		return nil, storageErr(err, "读取待确认意图失败")
	}
	return intent, nil
}

func storageErr(err error, message string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, message)
}

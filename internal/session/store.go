// Package session 管理每个会话发送方的身份记录与待确认意图。
//
// 所有读改写都必须通过 Manager.WithSender 在该发送方的锁内完成。
package session

import (
	"context"

	xerrors "Nara-Wallet/internal/errors"
	"Nara-Wallet/internal/identity"
)

// Kind 表示待确认意图的类型。
type Kind string

const (
	KindTransfer Kind = "transfer"
	KindPurchase Kind = "purchase"
)

// Arguments 是待确认意图的结构化参数。
type Arguments struct {
	Asset       string `json:"asset"`
	Destination string `json:"destination,omitempty"`
	Amount      string `json:"amount"`
}

// PendingIntent 是等待用户回复 yes 的转账或购买请求，每个发送方至多一个。
type PendingIntent struct {
	Sender    string    `json:"sender"`
	Kind      Kind      `json:"kind"`
	Function  string    `json:"function"`
	Arguments Arguments `json:"arguments"`
	CreatedAt int64     `json:"created_at"`
}

// ErrIdentityNotFound 表示发送方尚未建立身份。
var ErrIdentityNotFound = xerrors.New(xerrors.CodeNotFound, "identity not found")

// Store 定义会话状态的持久化接口。实现只需保证单条语句的原子性，
// 同一发送方的串行化由 Manager 负责。
type Store interface {
	// GetIdentity 返回发送方的身份，不存在时返回 ErrIdentityNotFound。
	GetIdentity(ctx context.Context, sender string) (*identity.Identity, error)
	// CreateIdentity 写入身份；若已存在则保留旧记录并将其返回。
	CreateIdentity(ctx context.Context, id *identity.Identity) (*identity.Identity, error)
	// PutPending 写入待确认意图，覆盖旧值。
	PutPending(ctx context.Context, intent PendingIntent) error
	// TakePending 读取并删除待确认意图，没有时返回 nil。
	TakePending(ctx context.Context, sender string) (*PendingIntent, error)
}

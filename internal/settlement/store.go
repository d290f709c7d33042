package settlement

import (
	"context"
	"sync"
	"time"

	xerrors "Nara-Wallet/internal/errors"
)

// Status 表示订单结算记录的状态。
type Status string

const (
	StatusProcessing Status = "processing"
	StatusSettled    Status = "settled"
	StatusFailed     Status = "failed"
)

// Record 是一个订单的结算结果，每个订单至多一条。
type Record struct {
	OrderID        string `json:"order_id"`
	Status         Status `json:"status"`
	TxReference    string `json:"tx_reference,omitempty"`
	Error          string `json:"error,omitempty"`
	AmountSmallest string `json:"amount_smallest,omitempty"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
}

// ErrRecordNotFound 表示订单没有结算记录。
var ErrRecordNotFound = xerrors.New(xerrors.CodeNotFound, "settlement record not found")

// Store 持久化结算记录。Claim 必须是原子的：同一订单只有一个调用方能拿到 claimed=true。
type Store interface {
	Claim(ctx context.Context, orderID string, now time.Time) (*Record, bool, error)
	Complete(ctx context.Context, orderID, txReference, amountSmallest string, now time.Time) error
	Fail(ctx context.Context, orderID, message string, now time.Time) error
	Release(ctx context.Context, orderID string) error
	Get(ctx context.Context, orderID string) (*Record, error)
}

// MemoryStore 是 Store 的内存实现，仅用于测试和开发。
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore 创建内存结算存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Claim 实现 Store 接口。
func (s *MemoryStore) Claim(_ context.Context, orderID string, now time.Time) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[orderID]; ok {
		return &existing, false, nil
	}
	rec := Record{OrderID: orderID, Status: StatusProcessing, CreatedAt: now.Unix(), UpdatedAt: now.Unix()}
	s.records[orderID] = rec
	return &rec, true, nil
}

// Complete 实现 Store 接口。
func (s *MemoryStore) Complete(_ context.Context, orderID, txReference, amountSmallest string, now time.Time) error {
	return s.update(orderID, func(rec *Record) {
		rec.Status = StatusSettled
		rec.TxReference = txReference
		rec.AmountSmallest = amountSmallest
		rec.UpdatedAt = now.Unix()
	})
}

// Fail 实现 Store 接口。
func (s *MemoryStore) Fail(_ context.Context, orderID, message string, now time.Time) error {
	return s.update(orderID, func(rec *Record) {
		rec.Status = StatusFailed
		rec.Error = message
		rec.UpdatedAt = now.Unix()
	})
}

// Release 实现 Store 接口。
func (s *MemoryStore) Release(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[orderID]; ok && rec.Status == StatusProcessing {
		delete(s.records, orderID)
	}
	return nil
}

// Get 实现 Store 接口。
func (s *MemoryStore) Get(_ context.Context, orderID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[orderID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) update(orderID string, fn func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[orderID]
	if !ok {
		return ErrRecordNotFound
	}
	fn(&rec)
	s.records[orderID] = rec
	return nil
}

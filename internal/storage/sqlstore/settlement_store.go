package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"Nara-Wallet/internal/settlement"
)

// Claim 实现 settlement.Store：依赖主键保证同一订单只能被认领一次。
func (s *Store) Claim(ctx context.Context, orderID string, now time.Time) (*settlement.Record, bool, error) {
	rec := settlement.Record{
		OrderID:   orderID,
		Status:    settlement.StatusProcessing,
		CreatedAt: now.Unix(),
		UpdatedAt: now.Unix(),
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO settlements
(order_id, status, tx_reference, error_message, amount_smallest, created_at, updated_at)
VALUES (?, ?, '', '', '', ?, ?)`, rec.OrderID, string(rec.Status), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			existing, getErr := s.Get(ctx, orderID)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("认领结算记录失败: %w", err)
	}
	return &rec, true, nil
}

// Complete 实现 settlement.Store。
func (s *Store) Complete(ctx context.Context, orderID, txReference, amountSmallest string, now time.Time) error {
	return s.updateSettlement(ctx, `UPDATE settlements SET status = ?, tx_reference = ?, amount_smallest = ?, updated_at = ?
WHERE order_id = ?`, string(settlement.StatusSettled), txReference, amountSmallest, now.Unix(), orderID)
}

// Fail 实现 settlement.Store。
func (s *Store) Fail(ctx context.Context, orderID, message string, now time.Time) error {
	return s.updateSettlement(ctx, `UPDATE settlements SET status = ?, error_message = ?, updated_at = ?
WHERE order_id = ?`, string(settlement.StatusFailed), message, now.Unix(), orderID)
}

// Release 实现 settlement.Store，只删除仍处于 processing 的记录。
func (s *Store) Release(ctx context.Context, orderID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settlements WHERE order_id = ? AND status = ?`,
		orderID, string(settlement.StatusProcessing)); err != nil {
		return fmt.Errorf("释放结算记录失败: %w", err)
	}
	return nil
}

// Get 实现 settlement.Store。
func (s *Store) Get(ctx context.Context, orderID string) (*settlement.Record, error) {
	var (
		rec    settlement.Record
		status string
	)
	err := s.db.QueryRowContext(ctx, `SELECT order_id, status, tx_reference, error_message, amount_smallest, created_at, updated_at
FROM settlements WHERE order_id = ?`, orderID).Scan(
		&rec.OrderID, &status, &rec.TxReference, &rec.Error, &rec.AmountSmallest, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, settlement.ErrRecordNotFound
		}
		return nil, fmt.Errorf("查询结算记录失败: %w", err)
	}
	rec.Status = settlement.Status(status)
	return &rec, nil
}

func (s *Store) updateSettlement(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("更新结算记录失败: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return settlement.ErrRecordNotFound
	}
	return nil
}

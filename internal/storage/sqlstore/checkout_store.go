package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	xerrors "Nara-Wallet/internal/errors"
	"Nara-Wallet/internal/payment"
)

// SaveCheckout 实现 payment.Repository。
func (s *Store) SaveCheckout(ctx context.Context, c payment.CheckoutSession) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO checkout_sessions
(order_id, gateway_session_id, sender, asset, destination, amount_minor, checkout_url, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.OrderID, c.GatewaySessionID, c.Sender, c.Asset, c.Destination, c.AmountMinor, c.URL, c.CreatedAt, c.ExpiresAt)
	if err != nil {
		if isDuplicateKey(err) {
			return xerrors.New(xerrors.CodeInvalidArgument, "订单号重复: "+c.OrderID)
		}
		return fmt.Errorf("写入结账会话失败: %w", err)
	}
	return nil
}

// GetCheckout 实现 payment.Repository。
func (s *Store) GetCheckout(ctx context.Context, orderID string) (*payment.CheckoutSession, error) {
	var c payment.CheckoutSession
	err := s.db.QueryRowContext(ctx, `SELECT order_id, gateway_session_id, sender, asset, destination, amount_minor,
checkout_url, created_at, expires_at FROM checkout_sessions WHERE order_id = ?`, orderID).Scan(
		&c.OrderID, &c.GatewaySessionID, &c.Sender, &c.Asset, &c.Destination, &c.AmountMinor,
		&c.URL, &c.CreatedAt, &c.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, payment.ErrCheckoutNotFound
		}
		return nil, fmt.Errorf("查询结账会话失败: %w", err)
	}
	return &c, nil
}

package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"Nara-Wallet/internal/identity"
	"Nara-Wallet/internal/session"
)

// GetIdentity 实现 session.Store。
func (s *Store) GetIdentity(ctx context.Context, sender string) (*identity.Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT sender, principal, public_key, private_key, created_at
FROM identities WHERE sender = ?`, sender)
	var id identity.Identity
	if err := row.Scan(&id.Sender, &id.Principal, &id.PublicKey, &id.PrivateKey, &id.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, session.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("查询身份失败: %w", err)
	}
	return &id, nil
}

// CreateIdentity 实现 session.Store，主键冲突时返回已有身份。
func (s *Store) CreateIdentity(ctx context.Context, id *identity.Identity) (*identity.Identity, error) {
	_, err := s.db.ExecContext(ctx, `INSERT INTO identities (sender, principal, public_key, private_key, created_at)
VALUES (?, ?, ?, ?, ?)`, id.Sender, id.Principal, id.PublicKey, id.PrivateKey, id.CreatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return s.GetIdentity(ctx, id.Sender)
		}
		return nil, fmt.Errorf("写入身份失败: %w", err)
	}
	clone := *id
	return &clone, nil
}

// PutPending 实现 session.Store。
func (s *Store) PutPending(ctx context.Context, intent session.PendingIntent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer rollback(tx)

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_intents WHERE sender = ?`, intent.Sender); err != nil {
		return fmt.Errorf("清理待确认意图失败: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO pending_intents
(sender, kind, function_name, asset, destination, amount, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		intent.Sender, string(intent.Kind), intent.Function,
		intent.Arguments.Asset, intent.Arguments.Destination, intent.Arguments.Amount, intent.CreatedAt); err != nil {
		return fmt.Errorf("写入待确认意图失败: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交待确认意图失败: %w", err)
	}
	return nil
}

// TakePending 实现 session.Store。删除影响行数为 0 时说明已被其他实例取走。
func (s *Store) TakePending(ctx context.Context, sender string) (*session.PendingIntent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("开启事务失败: %w", err)
	}
	defer rollback(tx)

	var (
		intent session.PendingIntent
		kind   string
	)
	err = tx.QueryRowContext(ctx, `SELECT sender, kind, function_name, asset, destination, amount, created_at
FROM pending_intents WHERE sender = ?`, sender).Scan(
		&intent.Sender, &kind, &intent.Function,
		&intent.Arguments.Asset, &intent.Arguments.Destination, &intent.Arguments.Amount, &intent.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询待确认意图失败: %w", err)
	}
	intent.Kind = session.Kind(kind)

	res, err := tx.ExecContext(ctx, `DELETE FROM pending_intents WHERE sender = ?`, sender)
	if err != nil {
		return nil, fmt.Errorf("删除待确认意图失败: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("提交事务失败: %w", err)
	}
	return &intent, nil
}

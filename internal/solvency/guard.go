// Package solvency 在购买确认前检查托管池库存是否足以履约。
package solvency

import (
	"context"
	"log/slog"
	"math/big"

	xerrors "Nara-Wallet/internal/errors"
	"Nara-Wallet/internal/ledger"
	"Nara-Wallet/internal/units"
	"Nara-Wallet/pkg/logger"
)

// PoolReader 读取托管池余额。
type PoolReader interface {
	PoolBalances(ctx context.Context, controller ledger.Caller) (map[string]*big.Int, error)
}

// Check 是一次库存检查的结果。
type Check struct {
	Asset            string
	Requested        *big.Int
	Available        *big.Int
	AvailableDisplay string
}

// Guard 比较请求数量与托管池可用余额。
type Guard struct {
	catalog    *units.Catalog
	pool       PoolReader
	controller ledger.Caller
	log        *slog.Logger
}

// NewGuard 创建库存检查器，controller 是读取托管池时使用的身份。
func NewGuard(catalog *units.Catalog, pool PoolReader, controller ledger.Caller) *Guard {
	if catalog == nil {
		catalog = units.Default()
	}
	return &Guard{
		catalog:    catalog,
		pool:       pool,
		controller: controller,
		log:        logger.Named("solvency"),
	}
}

// Check 把展示数量换算为最小单位后与托管池余额比较。
// 余额无法读取时按零处理；请求超过可用余额返回 INSUFFICIENT_INVENTORY。
func (g *Guard) Check(ctx context.Context, asset, amount string) (*Check, error) {
	symbol := units.Normalize(asset)
	requested, err := g.catalog.ToSmallest(symbol, amount)
	if err != nil {
		return nil, err
	}

	available := g.available(ctx, symbol)
	display, err := g.catalog.ToDisplay(symbol, available)
	if err != nil {
		return nil, err
	}
	result := &Check{
		Asset:            symbol,
		Requested:        requested,
		Available:        available,
		AvailableDisplay: display,
	}

	if requested.Cmp(available) > 0 {
		g.log.Info("托管池库存不足",
			slog.String("asset", symbol),
			slog.String("requested", requested.String()),
			slog.String("available", available.String()))
		return result, xerrors.New(xerrors.CodeInsufficientInventory, "托管池库存不足",
			xerrors.WithMetadata("asset", symbol),
			xerrors.WithMetadata("requested", amount),
			xerrors.WithMetadata("available", display))
	}
	return result, nil
}

func (g *Guard) available(ctx context.Context, symbol string) *big.Int {
	if g.pool == nil {
		return new(big.Int)
	}
	balances, err := g.pool.PoolBalances(ctx, g.controller)
	if err != nil {
		g.log.Warn("读取托管池余额失败，按零处理", slog.String("asset", symbol), slog.Any("error", err))
		return new(big.Int)
	}
	if n, ok := balances[symbol]; ok && n != nil && n.Sign() >= 0 {
		return n
	}
	return new(big.Int)
}

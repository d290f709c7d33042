package solvency

import (
	"context"
	"errors"
	"math/big"
	"testing"

	xerrors "Nara-Wallet/internal/errors"
	"Nara-Wallet/internal/ledger"
)

type stubPool struct {
	balances map[string]*big.Int
	err      error
	calls    int
}

func (s *stubPool) PoolBalances(ctx context.Context, controller ledger.Caller) (map[string]*big.Int, error) {
	s.calls++
	return s.balances, s.err
}

func TestCheckWithinInventory(t *testing.T) {
	pool := &stubPool{balances: map[string]*big.Int{"BTC": big.NewInt(150000000)}}
	g := NewGuard(nil, pool, ledger.Caller{})

	check, err := g.Check(context.Background(), "btc", "1.5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if check.Requested.Int64() != 150000000 || check.AvailableDisplay != "1.5" {
		t.Fatalf("unexpected check: %+v", check)
	}
}

func TestCheckInsufficientCarriesAvailable(t *testing.T) {
	pool := &stubPool{balances: map[string]*big.Int{"ETH": big.NewInt(250000000000000000)}}
	g := NewGuard(nil, pool, ledger.Caller{})

	check, err := g.Check(context.Background(), "ETH", "1")
	if !xerrors.IsCode(err, xerrors.CodeInsufficientInventory) {
		t.Fatalf("expected insufficient inventory, got %v", err)
	}
	if check == nil || check.AvailableDisplay != "0.25" {
		t.Fatalf("unexpected check: %+v", check)
	}
	if xerrors.MetadataOf(err, "available") != "0.25" || xerrors.MetadataOf(err, "requested") != "1" {
		t.Fatalf("unexpected metadata: %v", err)
	}
}

func TestUnreadableBalanceCountsAsZero(t *testing.T) {
	for name, pool := range map[string]*stubPool{
		"error":   {err: errors.New("canister down")},
		"missing": {balances: map[string]*big.Int{"BTC": big.NewInt(10)}},
		"nil":     {balances: map[string]*big.Int{"SOL": nil}},
	} {
		g := NewGuard(nil, pool, ledger.Caller{})
		check, err := g.Check(context.Background(), "SOL", "0.000000001")
		if !xerrors.IsCode(err, xerrors.CodeInsufficientInventory) {
			t.Fatalf("%s: expected insufficient inventory, got %v", name, err)
		}
		if check.AvailableDisplay != "0" {
			t.Fatalf("%s: expected zero available, got %s", name, check.AvailableDisplay)
		}
	}
}

func TestCheckRejectsBadInput(t *testing.T) {
	pool := &stubPool{}
	g := NewGuard(nil, pool, ledger.Caller{})
	if _, err := g.Check(context.Background(), "DOGE", "1"); !xerrors.IsCode(err, xerrors.CodeUnsupportedAsset) {
		t.Fatalf("expected unsupported asset, got %v", err)
	}
	if _, err := g.Check(context.Background(), "BTC", "abc"); !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if pool.calls != 0 {
		t.Fatalf("pool should not be queried for invalid input")
	}
}

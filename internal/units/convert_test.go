package units

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	xerrors "Nara-Wallet/internal/errors"
)

func TestBitcoinWholeCoin(t *testing.T) {
	c := Default()
	got, err := c.ToDisplay("BTC", big.NewInt(100000000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "1" {
		t.Fatalf("expected 1, got %q", got)
	}

	n, err := c.ToSmallest("btc", "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Cmp(big.NewInt(100000000)) != 0 {
		t.Fatalf("expected 100000000, got %s", n)
	}
}

func TestToDisplayTrimsAndAvoidsExponent(t *testing.T) {
	c := Default()
	wei, _ := new(big.Int).SetString("1000000000000000001", 10)
	cases := []struct {
		asset string
		n     *big.Int
		want  string
	}{
		{"ETH", wei, "1.000000000000000001"},
		{"ETH", big.NewInt(1), "0.000000000000000001"},
		{"SOL", big.NewInt(1500000000), "1.5"},
		{"ICP", big.NewInt(0), "0"},
		{"BTC", big.NewInt(10), "0.0000001"},
	}
	for _, tc := range cases {
		got, err := c.ToDisplay(tc.asset, tc.n)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != tc.want {
			t.Fatalf("ToDisplay(%s, %s) = %q, want %q", tc.asset, tc.n, got, tc.want)
		}
	}
}

func TestRoundTripRecoversSmallestUnits(t *testing.T) {
	c := Default()
	huge, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	values := []*big.Int{big.NewInt(0), big.NewInt(1), big.NewInt(99), big.NewInt(123456789), huge}
	for _, symbol := range c.Symbols() {
		for _, n := range values {
			display, err := c.ToDisplay(symbol, n)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			back, err := c.ToSmallest(symbol, display)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if back.Cmp(n) != 0 {
				t.Fatalf("%s: round trip of %s gave %s via %q", symbol, n, back, display)
			}
		}
	}
}

func TestToSmallestTruncatesTowardZero(t *testing.T) {
	n, err := Default().ToSmallest("BTC", "0.123456789")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Cmp(big.NewInt(12345678)) != 0 {
		t.Fatalf("expected truncation to 12345678, got %s", n)
	}
}

func TestUnsupportedAsset(t *testing.T) {
	_, err := Default().ToSmallest("DOGE", "1")
	if !errors.Is(err, ErrUnsupportedAsset) {
		t.Fatalf("expected unsupported asset error, got %v", err)
	}
	if xerrors.CodeOf(err) != xerrors.CodeUnsupportedAsset {
		t.Fatalf("unexpected code: %s", xerrors.CodeOf(err))
	}
}

func TestToSmallestRejectsNegativeAndGarbage(t *testing.T) {
	for _, in := range []string{"-1", "abc", ""} {
		if _, err := Default().ToSmallest("SOL", in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestParseAmountRejectsOutOfRange(t *testing.T) {
	for _, in := range []string{
		"1e50000000",
		"1e-50000000",
		"0e50000000",
		"12345678901234567890123456789012345678901",
		"0.0000000000000000000000000000000000001",
		"1" + strings.Repeat("0", 80),
	} {
		if _, err := ParseAmount(in); !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
			t.Fatalf("expected invalid argument for %q, got %v", in, err)
		}
	}
	if _, err := Default().ToSmallest("ETH", "1e50000000"); err == nil {
		t.Fatalf("expected ToSmallest to reject huge exponent")
	}

	for _, in := range []string{"0.000000000000000001", "1234567890123456789012345678901234567890", "1e39", "2.5"} {
		if _, err := ParseAmount(in); err != nil {
			t.Fatalf("unexpected error for %q: %v", in, err)
		}
	}
}

func TestCatalogExtension(t *testing.T) {
	c, err := NewCatalog(Asset{Symbol: "usdc", Exponent: 6, PriceID: "usd-coin"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	asset, err := c.Lookup("USDC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if asset.DisplayPrecision != 6 || asset.Network != "USDC" {
		t.Fatalf("defaults not applied: %+v", asset)
	}
	if _, err := NewCatalog(Asset{Symbol: "BTC", Exponent: 8}); err == nil {
		t.Fatalf("expected builtin override to fail")
	}
}

func TestFormatUSD(t *testing.T) {
	cases := map[string]string{
		"1234.5":                  "$1234.50",
		"0.01":                    "$0.01",
		"0.005":                   "$0.005",
		"0.0000001230":            "$0.000000123",
		"0":                       "$0.00",
		"0.000000000000000000001": "$0.00",
	}
	for in, want := range cases {
		if got := FormatUSD(decimal.RequireFromString(in)); got != want {
			t.Fatalf("FormatUSD(%s) = %q, want %q", in, got, want)
		}
	}
}

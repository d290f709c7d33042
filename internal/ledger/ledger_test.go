package ledger

import (
	"encoding/json"
	"errors"
	"testing"

	xerrors "Nara-Wallet/internal/errors"
)

func TestUnwrapOk(t *testing.T) {
	cases := map[string]string{
		`[{"Ok":"tx-1"}]`:  `"tx-1"`,
		`[[{"Ok":42}]]`:    `42`,
		`{"Ok":{"a":1}}`:   `{"a":1}`,
		`"plain"`:          `"plain"`,
		`[1,2]`:            `[1,2]`,
		`{"bitcoin":1000}`: `{"bitcoin":1000}`,
	}
	for in, want := range cases {
		got, err := Unwrap(json.RawMessage(in))
		if err != nil {
			t.Fatalf("Unwrap(%s): unexpected error: %v", in, err)
		}
		if compact(got) != want {
			t.Fatalf("Unwrap(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestUnwrapErr(t *testing.T) {
	_, err := Unwrap(json.RawMessage(`[{"Err":{"InsufficientFunds":{"balance":0}}}]`))
	if !errors.Is(err, ErrLedger) {
		t.Fatalf("expected ledger error, got %v", err)
	}
	if xerrors.MetadataOf(err, "err") != `{"InsufficientFunds":{"balance":0}}` {
		t.Fatalf("unexpected metadata: %q", xerrors.MetadataOf(err, "err"))
	}
}

func TestParseAmount(t *testing.T) {
	cases := map[string]string{
		`1000`:                     "1000",
		`"1000000000000000000000"`: "1000000000000000000000",
		` 7 `:                      "7",
	}
	for in, want := range cases {
		n, err := ParseAmount(json.RawMessage(in))
		if err != nil {
			t.Fatalf("ParseAmount(%s): %v", in, err)
		}
		if n.String() != want {
			t.Fatalf("ParseAmount(%s) = %s", in, n)
		}
	}
	for _, bad := range []string{`null`, `"abc"`, `-5`, `1.5`} {
		if _, err := ParseAmount(json.RawMessage(bad)); err == nil {
			t.Fatalf("expected error for %s", bad)
		}
	}
}

func TestParseText(t *testing.T) {
	if got := ParseText(json.RawMessage(`"abc"`)); got != "abc" {
		t.Fatalf("unexpected text: %q", got)
	}
	if got := ParseText(json.RawMessage(`{ "block": 5 }`)); got != `{"block":5}` {
		t.Fatalf("unexpected text: %q", got)
	}
}

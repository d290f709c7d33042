package canister

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	xerrors "Nara-Wallet/internal/errors"
	"Nara-Wallet/internal/ledger"
)

type recordedCall struct {
	Path   string
	Method string
	Args   []json.RawMessage
}

type fakeGateway struct {
	mu      sync.Mutex
	calls   []recordedCall
	results map[string]string
	status  int
	pub     ed25519.PublicKey
	t       *testing.T
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	ts := r.Header.Get(headerTimestamp)
	sig, err := base64.StdEncoding.DecodeString(r.Header.Get(headerSignature))
	if err != nil || !ed25519.Verify(g.pub, append([]byte(ts+"."), body...), sig) {
		g.t.Errorf("invalid request signature")
	}
	if r.Header.Get(headerPrincipal) == "" || r.Header.Get(headerPublicKey) == "" {
		g.t.Errorf("missing caller headers")
	}

	var req struct {
		Method string            `json:"method"`
		Args   []json.RawMessage `json:"args"`
	}
	_ = json.Unmarshal(body, &req)
	g.mu.Lock()
	g.calls = append(g.calls, recordedCall{Path: r.URL.Path, Method: req.Method, Args: req.Args})
	g.mu.Unlock()

	if g.status != 0 {
		http.Error(w, "boom", g.status)
		return
	}
	result, ok := g.results[req.Method]
	if !ok {
		result = `null`
	}
	_, _ = w.Write([]byte(`{"result":` + result + `}`))
}

func newTestClient(t *testing.T, g *fakeGateway) (*Client, ledger.Caller) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	g.pub = pub
	g.t = t
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)

	c, err := New(Config{GatewayURL: srv.URL + "/", WalletCanister: "wallet-id", Timeout: time.Second})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	c.httpClient = srv.Client()
	return c, ledger.Caller{Principal: "owner-principal", Key: priv}
}

func TestNewRequiresGatewayAndCanister(t *testing.T) {
	if _, err := New(Config{WalletCanister: "x"}); err == nil {
		t.Fatalf("expected error without gateway")
	}
	if _, err := New(Config{GatewayURL: "http://gw"}); err == nil {
		t.Fatalf("expected error without wallet canister")
	}
	c, err := New(Config{GatewayURL: "http://gw", WalletCanister: "w"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.icpLedger != defaultICPLedger {
		t.Fatalf("expected default icp ledger, got %s", c.icpLedger)
	}
}

func TestAddressAndBalance(t *testing.T) {
	g := &fakeGateway{results: map[string]string{
		"ethereum_address": `"0xabc"`,
		"ethereum_balance": `[{"Ok":"1500000000000000000"}]`,
		"icrc1_balance_of": `250000000`,
	}}
	c, caller := newTestClient(t, g)
	ctx := context.Background()

	addr, err := c.Address(ctx, caller, "eth")
	if err != nil || addr != "0xabc" {
		t.Fatalf("unexpected address %q (%v)", addr, err)
	}
	icpAddr, err := c.Address(ctx, caller, "ICP")
	if err != nil || icpAddr != caller.Principal {
		t.Fatalf("icp address should be principal, got %q (%v)", icpAddr, err)
	}

	bal, err := c.Balance(ctx, caller, "ETH")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal.String() != "1500000000000000000" {
		t.Fatalf("unexpected balance: %s", bal)
	}
	last := g.calls[len(g.calls)-1]
	if last.Path != "/api/v1/canisters/wallet-id/call" || string(last.Args[0]) != `"0xabc"` {
		t.Fatalf("unexpected balance call: %+v", last)
	}

	icpBal, err := c.Balance(ctx, caller, "ICP")
	if err != nil || icpBal.Int64() != 250000000 {
		t.Fatalf("unexpected icp balance %v (%v)", icpBal, err)
	}
	last = g.calls[len(g.calls)-1]
	if !strings.Contains(last.Path, defaultICPLedger) || !strings.Contains(string(last.Args[0]), `"owner":"owner-principal"`) {
		t.Fatalf("unexpected icp call: %+v", last)
	}
}

func TestSendArgumentShapes(t *testing.T) {
	g := &fakeGateway{results: map[string]string{
		"bitcoin_send":   `{"Ok":"btc-tx"}`,
		"solana_send":    `"sol-tx"`,
		"icrc1_transfer": `{"Ok":42}`,
	}}
	c, caller := newTestClient(t, g)
	ctx := context.Background()

	tx, err := c.Send(ctx, caller, "BTC", "bc1qdest", big.NewInt(1000))
	if err != nil || tx != "btc-tx" {
		t.Fatalf("unexpected btc send %q (%v)", tx, err)
	}
	if got := string(g.calls[0].Args[0]); !strings.Contains(got, `"amount_in_satoshi":1000`) {
		t.Fatalf("unexpected btc args: %s", got)
	}

	tx, err = c.Send(ctx, caller, "SOL", "SoLdest", big.NewInt(5))
	if err != nil || tx != "sol-tx" {
		t.Fatalf("unexpected sol send %q (%v)", tx, err)
	}
	if len(g.calls[1].Args) != 2 || string(g.calls[1].Args[1]) != "5" {
		t.Fatalf("unexpected sol args: %+v", g.calls[1].Args)
	}

	tx, err = c.Send(ctx, caller, "ICP", "dest-principal", big.NewInt(7))
	if err != nil || tx != "42" {
		t.Fatalf("unexpected icp send %q (%v)", tx, err)
	}

	if _, err := c.Send(ctx, caller, "DOGE", "x", big.NewInt(1)); !xerrors.IsCode(err, xerrors.CodeUnsupportedAsset) {
		t.Fatalf("expected unsupported asset, got %v", err)
	}
}

func TestCanisterErrorBecomesLedgerError(t *testing.T) {
	g := &fakeGateway{results: map[string]string{"solana_send": `{"Err":"insufficient funds"}`}}
	c, caller := newTestClient(t, g)

	_, err := c.Send(context.Background(), caller, "SOL", "dest", big.NewInt(1))
	if !xerrors.IsCode(err, xerrors.CodeLedger) {
		t.Fatalf("expected ledger error, got %v", err)
	}
	if !strings.Contains(err.Error(), "insufficient funds") {
		t.Fatalf("error should carry canister detail: %v", err)
	}
}

func TestGatewayStatusError(t *testing.T) {
	g := &fakeGateway{status: http.StatusBadGateway}
	c, caller := newTestClient(t, g)

	_, err := c.Address(context.Background(), caller, "BTC")
	if !xerrors.IsCode(err, xerrors.CodeLedger) {
		t.Fatalf("expected ledger error, got %v", err)
	}
	if xerrors.MetadataOf(err, "status") != "502" {
		t.Fatalf("expected status metadata, got %v", err)
	}
}

func TestPoolOperations(t *testing.T) {
	g := &fakeGateway{results: map[string]string{
		"canister_wallet_balance": `{"bitcoin":120000,"ethereum":"3000000000000000000","solana":"oops","icp":500}`,
		"canister_send_token":     `{"Ok":"pool-tx"}`,
	}}
	c, controller := newTestClient(t, g)
	ctx := context.Background()

	balances, err := c.PoolBalances(ctx, controller)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balances["BTC"].Int64() != 120000 || balances["ETH"].String() != "3000000000000000000" || balances["ICP"].Int64() != 500 {
		t.Fatalf("unexpected balances: %v", balances)
	}
	if _, ok := balances["SOL"]; ok {
		t.Fatalf("unreadable balance should be skipped")
	}

	tx, err := c.PoolSend(ctx, controller, "ETH", "0xdest", big.NewInt(9))
	if err != nil || tx != "pool-tx" {
		t.Fatalf("unexpected pool send %q (%v)", tx, err)
	}
	last := g.calls[len(g.calls)-1]
	if len(last.Args) != 3 || string(last.Args[2]) != `"eth"` {
		t.Fatalf("unexpected pool send args: %+v", last.Args)
	}
}

func TestMissingKeyIsRejected(t *testing.T) {
	g := &fakeGateway{}
	c, _ := newTestClient(t, g)
	_, err := c.Address(context.Background(), ledger.Caller{Principal: "p"}, "BTC")
	if !xerrors.IsCode(err, xerrors.CodeInvalidKeyFormat) {
		t.Fatalf("expected invalid key error, got %v", err)
	}
	if len(g.calls) != 0 {
		t.Fatalf("no request should be sent without a key")
	}
}

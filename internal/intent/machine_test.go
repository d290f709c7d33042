package intent

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	xerrors "Nara-Wallet/internal/errors"
	"Nara-Wallet/internal/ledger"
	"Nara-Wallet/internal/llm"
	"Nara-Wallet/internal/payment"
	"Nara-Wallet/internal/pricing"
	"Nara-Wallet/internal/session"
	"Nara-Wallet/internal/solvency"
	"Nara-Wallet/internal/units"
)

const ethDestination = "0x52908400098527886e0f7030069857d2e4169ee7"

// scriptedLLM 第一轮返回预设的函数调用，第二轮回显最后一条工具结果。
type scriptedLLM struct {
	mu       sync.Mutex
	calls    []llm.FunctionCall
	requests []llm.Request
	err      error
}

func (s *scriptedLLM) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(req.Tools) > 0 {
		return &llm.Response{Calls: s.calls}, nil
	}
	last := req.Messages[len(req.Messages)-1]
	return &llm.Response{Content: "answer: " + last.Content}, nil
}

func (s *scriptedLLM) rounds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type fakeLedger struct {
	mu      sync.Mutex
	sends   []string
	sendErr error
}

func (f *fakeLedger) Address(_ context.Context, caller ledger.Caller, asset string) (string, error) {
	if asset == units.ICP {
		return caller.Principal, nil
	}
	return "addr-" + strings.ToLower(asset), nil
}

func (f *fakeLedger) Balance(context.Context, ledger.Caller, string) (*big.Int, error) {
	return big.NewInt(150000000), nil
}

func (f *fakeLedger) Send(_ context.Context, _ ledger.Caller, asset, destination string, amount *big.Int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sends = append(f.sends, asset+":"+destination+":"+amount.String())
	return "tx-1", nil
}

func (f *fakeLedger) PoolBalances(context.Context, ledger.Caller) (map[string]*big.Int, error) {
	return nil, nil
}

func (f *fakeLedger) PoolSend(context.Context, ledger.Caller, string, string, *big.Int) (string, error) {
	return "", errors.New("not used")
}

type fixedPrices struct{ usd decimal.Decimal }

func (p fixedPrices) BestEffortQuote(_ context.Context, label string, amount decimal.Decimal) pricing.Quote {
	total := p.usd.Mul(amount)
	return pricing.Quote{Symbol: units.Normalize(label), USD: total, Text: units.FormatUSD(total)}
}

type stubGuard struct {
	err   error
	calls int
}

func (g *stubGuard) Check(_ context.Context, asset, amount string) (*solvency.Check, error) {
	g.calls++
	return &solvency.Check{Asset: asset}, g.err
}

type stubPayments struct {
	requests []payment.Request
	err      error
}

func (p *stubPayments) CreateSession(_ context.Context, req payment.Request) (*payment.CheckoutSession, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.requests = append(p.requests, req)
	return &payment.CheckoutSession{
		OrderID:     req.OrderID,
		AmountMinor: req.AmountMinor,
		URL:         "https://checkout.example/" + req.OrderID,
	}, nil
}

type fixture struct {
	machine  *Machine
	llm      *scriptedLLM
	ledger   *fakeLedger
	guard    *stubGuard
	payments *stubPayments
}

func newFixture(t *testing.T, calls ...llm.FunctionCall) *fixture {
	t.Helper()
	f := &fixture{
		llm:      &scriptedLLM{calls: calls},
		ledger:   &fakeLedger{},
		guard:    &stubGuard{},
		payments: &stubPayments{},
	}
	m, err := New(Deps{
		Sessions: session.NewManager(session.NewMemoryStore()),
		LLM:      f.llm,
		Ledger:   f.ledger,
		Prices:   fixedPrices{usd: decimal.NewFromInt(2000)},
		Guard:    f.guard,
		Payments: f.payments,
	})
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	m.orderID = func() string { return "order-1" }
	f.machine = m
	return f
}

func call(name string, args map[string]any) llm.FunctionCall {
	raw, _ := json.Marshal(args)
	return llm.FunctionCall{ID: "call-" + name, Name: name, Arguments: string(raw)}
}

func TestNoFunctionCallReturnsWelcome(t *testing.T) {
	f := newFixture(t)
	reply, err := f.machine.HandleMessage(context.Background(), "alice", "tell me a joke")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != welcomeMessage {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if f.llm.rounds() != 1 {
		t.Fatalf("expected a single completion round, got %d", f.llm.rounds())
	}
	if f.llm.requests[0].Temperature != selectionTemperature || len(f.llm.requests[0].Tools) != len(menu) {
		t.Fatalf("unexpected first round request: %+v", f.llm.requests[0])
	}
}

func TestImmediateCallRunsSecondRound(t *testing.T) {
	f := newFixture(t, call(string(OpGetBitcoinBalance), nil))
	reply, err := f.machine.HandleMessage(context.Background(), "alice", "what's my btc balance")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != `answer: "1.5"` {
		t.Fatalf("unexpected reply: %q", reply)
	}
	second := f.llm.requests[1]
	if len(second.Tools) != 0 || second.Temperature != answerTemperature {
		t.Fatalf("second round must not offer tools: %+v", second)
	}
	if tool := second.Messages[len(second.Messages)-1]; tool.Role != llm.RoleTool || tool.ToolCallID != "call-"+string(OpGetBitcoinBalance) {
		t.Fatalf("unexpected tool message: %+v", tool)
	}
}

func TestFailedToolReportsError(t *testing.T) {
	f := newFixture(t, llm.FunctionCall{ID: "c1", Name: "launch_rocket"})
	reply, err := f.machine.HandleMessage(context.Background(), "alice", "launch")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(reply, "Tool execution failed") || !strings.Contains(reply, `"status":"failed"`) {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestTransferRequiresConfirmation(t *testing.T) {
	f := newFixture(t, call(string(OpSendEthereum), map[string]any{"destinationAddress": ethDestination, "amount": 0.5}))
	ctx := context.Background()

	reply, err := f.machine.HandleMessage(ctx, "bob", "send 0.5 eth")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(reply, "Please confirm your transfer request") || !strings.Contains(reply, "- Amount: 0.5 ETH") {
		t.Fatalf("unexpected prompt: %q", reply)
	}
	if len(f.ledger.sends) != 0 {
		t.Fatalf("transfer executed before confirmation")
	}

	reply, err = f.machine.HandleMessage(ctx, "bob", "  YES ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(reply, "tx-1") {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if len(f.ledger.sends) != 1 || f.ledger.sends[0] != "ETH:"+ethDestination+":500000000000000000" {
		t.Fatalf("unexpected sends: %v", f.ledger.sends)
	}

	// 意图只能被执行一次，第二次 yes 按新查询处理。
	f.llm.calls = nil
	reply, _ = f.machine.HandleMessage(ctx, "bob", "yes")
	if reply != welcomeMessage || len(f.ledger.sends) != 1 {
		t.Fatalf("pending intent executed twice: %q %v", reply, f.ledger.sends)
	}
}

func TestNonAffirmativeDiscardsAndReprocesses(t *testing.T) {
	f := newFixture(t, call(string(OpSendSolana), map[string]any{"destinationAddress": "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T", "amount": "2"}))
	ctx := context.Background()

	if _, err := f.machine.HandleMessage(ctx, "carol", "send 2 sol"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := f.llm.rounds()
	f.llm.calls = nil
	reply, err := f.machine.HandleMessage(ctx, "carol", "yes please")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != welcomeMessage {
		t.Fatalf("expected fresh processing, got %q", reply)
	}
	if f.llm.rounds() != before+1 {
		t.Fatalf("message was not reprocessed")
	}
	if len(f.ledger.sends) != 0 {
		t.Fatalf("discarded transfer was executed")
	}
}

func TestAffirmativeIsNormalized(t *testing.T) {
	for _, text := range []string{"yes", " Yes\n", "ＹＥＳ", "ｙｅｓ"} {
		if !IsAffirmative(text) {
			t.Fatalf("expected %q to be affirmative", text)
		}
	}
	for _, text := range []string{"y", "yes!", "ok", "no"} {
		if IsAffirmative(text) {
			t.Fatalf("expected %q to be rejected", text)
		}
	}
}

func TestInvalidDestinationIsNotStaged(t *testing.T) {
	f := newFixture(t, call(string(OpSendEthereum), map[string]any{"destinationAddress": "0x1234", "amount": 1}))
	reply, err := f.machine.HandleMessage(context.Background(), "dave", "send 1 eth")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(reply, "I couldn't prepare that request") {
		t.Fatalf("unexpected reply: %q", reply)
	}
	f.llm.calls = nil
	_, _ = f.machine.HandleMessage(context.Background(), "dave", "yes")
	if len(f.ledger.sends) != 0 {
		t.Fatalf("invalid transfer executed")
	}
}

func TestPurchaseCreatesPaymentLink(t *testing.T) {
	f := newFixture(t, call(string(OpBuyCrypto), map[string]any{"coin_type": "eth", "amount": "0.25"}))
	ctx := context.Background()

	reply, err := f.machine.HandleMessage(ctx, "erin", "buy 0.25 eth")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(reply, "Estimated cost: $500.00") {
		t.Fatalf("unexpected prompt: %q", reply)
	}

	reply, err = f.machine.HandleMessage(ctx, "erin", "yes")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(reply, "https://checkout.example/order-1") || !strings.Contains(reply, "5 minutes") {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if len(f.payments.requests) != 1 {
		t.Fatalf("expected one checkout session, got %d", len(f.payments.requests))
	}
	req := f.payments.requests[0]
	if req.AmountMinor != 50000 || req.Asset != units.ETH || req.Destination != "addr-eth" || req.Sender != "erin" {
		t.Fatalf("unexpected checkout request: %+v", req)
	}
}

func TestPurchaseBlockedByInventory(t *testing.T) {
	f := newFixture(t, call(string(OpBuyCrypto), map[string]any{"coinType": "BTC", "amount": 3}))
	f.guard.err = xerrors.New(xerrors.CodeInsufficientInventory, "insufficient inventory",
		xerrors.WithMetadata("available", "1.2"))
	ctx := context.Background()

	if _, err := f.machine.HandleMessage(ctx, "frank", "buy 3 btc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reply, err := f.machine.HandleMessage(ctx, "frank", "yes")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(reply, "- Available: 1.2 BTC") {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if f.guard.calls != 1 || len(f.payments.requests) != 0 || len(f.ledger.sends) != 0 {
		t.Fatalf("purchase should stop at the guard")
	}
}

func TestPurchaseRejectsUnsupportedAsset(t *testing.T) {
	f := newFixture(t, call(string(OpBuyCrypto), map[string]any{"coin_type": "DOGE", "amount": 10}))
	reply, err := f.machine.HandleMessage(context.Background(), "gina", "buy doge")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(reply, "Asset DOGE is not supported") {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestTransferFailureClearsPending(t *testing.T) {
	f := newFixture(t, call(string(OpSendICP), map[string]any{"destinationAddress": "aaaaa-aa", "amount": "1"}))
	f.ledger.sendErr = xerrors.New(xerrors.CodeLedger, "canister returned error: InsufficientFunds")
	ctx := context.Background()

	if _, err := f.machine.HandleMessage(ctx, "hank", "send 1 icp"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reply, _ := f.machine.HandleMessage(ctx, "hank", "yes")
	if !strings.HasPrefix(reply, "Transfer failed") {
		t.Fatalf("unexpected reply: %q", reply)
	}
	f.llm.calls = nil
	if reply, _ := f.machine.HandleMessage(ctx, "hank", "yes"); reply != welcomeMessage {
		t.Fatalf("pending intent should be cleared after failure, got %q", reply)
	}
}

func TestCompletionErrorIsReported(t *testing.T) {
	f := newFixture(t)
	f.llm.err = errors.New("upstream unavailable")
	reply, err := f.machine.HandleMessage(context.Background(), "ivy", "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "An error occurred while processing your request: upstream unavailable" {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestStartSessionIsStable(t *testing.T) {
	f := newFixture(t)
	first, err := f.machine.StartSession(context.Background(), "jack")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := f.machine.StartSession(context.Background(), "jack")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.Created || second.Created || first.Principal != second.Principal {
		t.Fatalf("unexpected sessions: %+v %+v", first, second)
	}
	if !strings.Contains(first.Greeting, first.Principal) {
		t.Fatalf("greeting should name the principal: %q", first.Greeting)
	}
}

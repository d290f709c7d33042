// Package intent 把补全服务选择的函数调用转换为立即查询或待确认的资金操作，
// 并在发送方下一条消息到达时执行或丢弃待确认意图。
package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	xerrors "Nara-Wallet/internal/errors"
	"Nara-Wallet/internal/ledger"
	"Nara-Wallet/internal/llm"
	"Nara-Wallet/internal/observability/metrics"
	"Nara-Wallet/internal/payment"
	"Nara-Wallet/internal/pricing"
	"Nara-Wallet/internal/session"
	"Nara-Wallet/internal/solvency"
	"Nara-Wallet/internal/units"
	"Nara-Wallet/internal/web3"
	"Nara-Wallet/pkg/logger"
)

const (
	selectionTemperature = 0.2
	answerTemperature    = 0.7
)

// Quoter 给出尽力而为的美元报价，失败时返回零值报价。
type Quoter interface {
	BestEffortQuote(ctx context.Context, label string, amount decimal.Decimal) pricing.Quote
}

// InventoryGuard 在购买前检查托管池库存。
type InventoryGuard interface {
	Check(ctx context.Context, asset, amount string) (*solvency.Check, error)
}

// Checkout 创建支付结账会话。
type Checkout interface {
	CreateSession(ctx context.Context, req payment.Request) (*payment.CheckoutSession, error)
}

// Deps 是 Machine 的依赖。
type Deps struct {
	Sessions *session.Manager
	LLM      llm.Client
	Ledger   ledger.Client
	Prices   Quoter
	Guard    InventoryGuard
	Payments Checkout
	Catalog  *units.Catalog
	// Window 是支付链接的业务有效期，仅用于提示文本。
	Window time.Duration
}

// Machine 是意图确认状态机。
type Machine struct {
	sessions *session.Manager
	llm      llm.Client
	ledger   ledger.Client
	prices   Quoter
	guard    InventoryGuard
	payments Checkout
	catalog  *units.Catalog
	window   time.Duration
	orderID  func() string
	log      *slog.Logger
}

// New 创建状态机。
func New(deps Deps) (*Machine, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("缺少会话管理器")
	case deps.LLM == nil:
		return nil, errors.New("缺少补全服务客户端")
	case deps.Ledger == nil:
		return nil, errors.New("缺少账本客户端")
	case deps.Prices == nil:
		return nil, errors.New("缺少价格服务")
	}
	catalog := deps.Catalog
	if catalog == nil {
		catalog = units.Default()
	}
	window := deps.Window
	if window <= 0 {
		window = payment.DefaultSettlementWindow
	}
	return &Machine{
		sessions: deps.Sessions,
		llm:      deps.LLM,
		ledger:   deps.Ledger,
		prices:   deps.Prices,
		guard:    deps.Guard,
		payments: deps.Payments,
		catalog:  catalog,
		window:   window,
		orderID:  func() string { return uuid.NewString() },
		log:      logger.Named("intent"),
	}, nil
}

// SessionInfo 是会话开始时返回给发送方的信息。
type SessionInfo struct {
	Principal string `json:"principal"`
	Created   bool   `json:"created"`
	Greeting  string `json:"greeting"`
}

// StartSession 为发送方建立身份，已存在时保持不变。
func (m *Machine) StartSession(ctx context.Context, sender string) (*SessionInfo, error) {
	var info *SessionInfo
	err := m.sessions.WithSender(ctx, sender, func(tx *session.Tx) error {
		id, created, err := tx.EnsureIdentity()
		if err != nil {
			return err
		}
		if created {
			m.log.Info("为发送方创建身份", slog.String("sender", sender), slog.String("principal", id.Principal))
		}
		info = &SessionInfo{
			Principal: id.Principal,
			Created:   created,
			Greeting:  fmt.Sprintf(sessionStartedMessage, id.Principal),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// HandleMessage 处理发送方的一条消息并返回回复文本。
//
// 整个处理过程持有该发送方的锁：待确认意图先被取出删除，回复 yes 时执行，
// 其他回复丢弃意图后按新查询处理。
func (m *Machine) HandleMessage(ctx context.Context, sender, text string) (string, error) {
	var reply string
	err := m.sessions.WithSender(ctx, sender, func(tx *session.Tx) error {
		if _, _, err := tx.EnsureIdentity(); err != nil {
			return err
		}
		pending, err := tx.TakePending()
		if err != nil {
			return err
		}
		if pending != nil {
			if IsAffirmative(text) {
				metrics.ObserveIntent(string(pending.Kind), "executed")
				reply = m.execute(ctx, tx, pending)
				return nil
			}
			metrics.ObserveIntent(string(pending.Kind), "discarded")
			m.log.Debug("丢弃待确认意图", slog.String("sender", sender), slog.String("function", pending.Function))
		}
		reply = m.query(ctx, tx, text)
		return nil
	})
	return reply, err
}

// IsAffirmative 判断回复经 NFKC 归一化、去空白并转小写后是否为 yes。
func IsAffirmative(text string) bool {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(text))) == AffirmativeToken
}

func (m *Machine) query(ctx context.Context, tx *session.Tx, text string) string {
	user := llm.Message{Role: llm.RoleUser, Content: text}
	first, err := m.llm.Generate(ctx, llm.Request{
		Messages:    []llm.Message{user},
		Tools:       Tools(),
		Temperature: selectionTemperature,
	})
	if err != nil {
		m.log.Error("补全服务调用失败", slog.Any("error", err))
		return processingErrorMessage(err)
	}
	if len(first.Calls) == 0 {
		return welcomeMessage
	}

	history := []llm.Message{user, first.Message()}
	for _, call := range first.Calls {
		op, err := ParseOperation(call.Name)
		if err != nil {
			history = append(history, toolMessage(call.ID, failure(err)))
			continue
		}
		args, err := ParseArgs(call.Arguments)
		if err != nil {
			history = append(history, toolMessage(call.ID, failure(err)))
			continue
		}
		if op.Kind() != KindImmediate {
			return m.stage(ctx, tx, op, args)
		}
		result, err := m.immediate(ctx, tx, op, args)
		if err != nil {
			m.log.Warn("查询执行失败", slog.String("function", string(op)), slog.Any("error", err))
			history = append(history, toolMessage(call.ID, failure(err)))
			continue
		}
		history = append(history, toolMessage(call.ID, result))
	}

	final, err := m.llm.Generate(ctx, llm.Request{Messages: history, Temperature: answerTemperature})
	if err != nil {
		m.log.Error("补全服务调用失败", slog.Any("error", err))
		return processingErrorMessage(err)
	}
	return final.Content
}

func toolMessage(id string, content any) llm.Message {
	encoded, err := json.Marshal(content)
	if err != nil {
		encoded = []byte(`"unserializable result"`)
	}
	return llm.Message{Role: llm.RoleTool, ToolCallID: id, Content: string(encoded)}
}

func failure(err error) map[string]string {
	return map[string]string{"error": "Tool execution failed: " + err.Error(), "status": "failed"}
}

func (m *Machine) immediate(ctx context.Context, tx *session.Tx, op Operation, args Args) (any, error) {
	def := definitions[op]
	switch def.action {
	case actionHelp:
		return helpMessage, nil
	case actionPrice:
		amount := decimal.NewFromInt(1)
		if args.Amount != "" {
			parsed, err := units.ParseAmount(string(args.Amount))
			if err != nil {
				return nil, err
			}
			amount = parsed
		}
		return m.prices.BestEffortQuote(ctx, args.Coin(), amount).Text, nil
	case actionAddress:
		caller, err := m.caller(tx)
		if err != nil {
			return nil, err
		}
		return m.ledger.Address(ctx, caller, def.asset)
	case actionBalance:
		caller, err := m.caller(tx)
		if err != nil {
			return nil, err
		}
		balance, err := m.ledger.Balance(ctx, caller, def.asset)
		if err != nil {
			return nil, err
		}
		return m.catalog.ToDisplay(def.asset, balance)
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "not an immediate function: "+string(op))
	}
}

func (m *Machine) caller(tx *session.Tx) (ledger.Caller, error) {
	id, key, err := tx.SigningKey()
	if err != nil {
		return ledger.Caller{}, err
	}
	return ledger.Caller{Principal: id.Principal, Key: key}, nil
}

// stage 校验资金操作参数，保存待确认意图并返回确认提示。
func (m *Machine) stage(ctx context.Context, tx *session.Tx, op Operation, args Args) string {
	asset := op.Asset()
	if op.Kind() == KindPurchase {
		asset = units.Normalize(args.Coin())
		if !units.IsBuiltin(asset) {
			return unsupportedPurchaseMessage(asset)
		}
	}
	amount, err := units.ParseAmount(string(args.Amount))
	if err == nil && !amount.IsPositive() {
		err = xerrors.New(xerrors.CodeInvalidArgument, "amount must be positive")
	}
	if err != nil {
		return invalidRequestMessage(err)
	}
	destination := strings.TrimSpace(args.Destination)
	if destination != "" || op.Kind() == KindTransfer {
		if err := web3.ValidateDestination(asset, destination); err != nil {
			return invalidRequestMessage(err)
		}
	}

	kind := session.KindTransfer
	if op.Kind() == KindPurchase {
		kind = session.KindPurchase
	}
	stored, err := tx.SetPending(kind, string(op), session.Arguments{
		Asset:       asset,
		Destination: destination,
		Amount:      amount.String(),
	})
	if err != nil {
		m.log.Error("保存待确认意图失败", slog.Any("error", err))
		return processingErrorMessage(err)
	}
	metrics.ObserveIntent(string(kind), "staged")

	staged := stored.Arguments
	if kind == session.KindTransfer {
		return transferPrompt(staged.Asset, staged.Destination, staged.Amount)
	}
	estimate := m.prices.BestEffortQuote(ctx, staged.Asset, amount).Text
	return purchasePrompt(staged.Asset, staged.Destination, staged.Amount, estimate)
}

func (m *Machine) execute(ctx context.Context, tx *session.Tx, pending *session.PendingIntent) string {
	switch pending.Kind {
	case session.KindTransfer:
		return m.transfer(ctx, tx, pending.Arguments)
	case session.KindPurchase:
		return m.purchase(ctx, tx, pending.Arguments)
	default:
		return processingErrorMessage(xerrors.New(xerrors.CodeInvalidArgument, "unknown pending intent "+string(pending.Kind)))
	}
}

func (m *Machine) transfer(ctx context.Context, tx *session.Tx, args session.Arguments) string {
	amount, err := m.catalog.ToSmallest(args.Asset, args.Amount)
	if err != nil {
		return transferFailedMessage(err)
	}
	caller, err := m.caller(tx)
	if err != nil {
		return transferFailedMessage(err)
	}
	ref, err := m.ledger.Send(ctx, caller, args.Asset, args.Destination, amount)
	if err != nil {
		m.log.Error("转账失败", slog.String("sender", tx.Sender()), slog.String("asset", args.Asset), slog.Any("error", err))
		return transferFailedMessage(err)
	}
	logger.Audit().Info("transfer submitted",
		slog.String("sender", tx.Sender()),
		slog.String("asset", args.Asset),
		slog.String("destination", args.Destination),
		slog.String("amount_smallest", amount.String()),
		slog.String("tx", ref),
	)
	return transferDoneMessage(args.Asset, args.Destination, args.Amount, ref)
}

func (m *Machine) purchase(ctx context.Context, tx *session.Tx, args session.Arguments) string {
	if !units.IsBuiltin(args.Asset) {
		return unsupportedPurchaseMessage(args.Asset)
	}
	if m.payments == nil {
		return paymentFailedMessage(xerrors.New(xerrors.CodeInitializationFailure, "payments are not configured"))
	}

	destination := args.Destination
	if destination == "" {
		caller, err := m.caller(tx)
		if err != nil {
			return paymentFailedMessage(err)
		}
		destination, err = m.ledger.Address(ctx, caller, args.Asset)
		if err != nil {
			return paymentFailedMessage(err)
		}
	}

	if m.guard != nil {
		if _, err := m.guard.Check(ctx, args.Asset, args.Amount); err != nil {
			if xerrors.IsCode(err, xerrors.CodeInsufficientInventory) {
				return insufficientMessage(args.Asset, args.Amount, xerrors.MetadataOf(err, "available"))
			}
			return paymentFailedMessage(err)
		}
	}

	amount, err := units.ParseAmount(args.Amount)
	if err != nil {
		return paymentFailedMessage(err)
	}
	quote := m.prices.BestEffortQuote(ctx, args.Asset, amount)
	cents := quote.USD.Shift(2).Truncate(0).IntPart()
	if cents <= 0 {
		return priceUnavailableMessage
	}

	cs, err := m.payments.CreateSession(ctx, payment.Request{
		OrderID:     m.orderID(),
		Sender:      tx.Sender(),
		Asset:       args.Asset,
		Destination: destination,
		AmountMinor: cents,
	})
	if err != nil {
		m.log.Error("创建支付链接失败", slog.String("sender", tx.Sender()), slog.Any("error", err))
		return paymentFailedMessage(err)
	}
	return paymentLinkMessage(cs.OrderID, cs.AmountMinor, cs.URL, int(m.window/time.Minute))
}

// Package canister 通过 JSON 网关调用钱包容器与 ICP 账本容器。
//
// 每个请求都以调用方的 ed25519 私钥对 "timestamp.body" 签名，网关据此还原调用主体。
package canister

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	xerrors "Nara-Wallet/internal/errors"
	"Nara-Wallet/internal/ledger"
	"Nara-Wallet/internal/units"
	"Nara-Wallet/pkg/logger"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultICPLedger  = "ryjl3-tyaaa-aaaaa-aaaba-cai"
	headerPrincipal   = "X-Principal"
	headerPublicKey   = "X-Public-Key"
	headerSignature   = "X-Signature"
	headerTimestamp   = "X-Timestamp"
	maxResponseLength = 1 << 20
)

// Config 描述网关地址与容器标识。
type Config struct {
	GatewayURL        string
	WalletCanister    string
	ICPLedgerCanister string
	Timeout           time.Duration
}

// Client 实现 ledger.Client。
type Client struct {
	gatewayURL string
	wallet     string
	icpLedger  string
	httpClient *http.Client
	now        func() time.Time
	log        *slog.Logger
}

var _ ledger.Client = (*Client)(nil)

// New 创建容器网关客户端。
func New(cfg Config) (*Client, error) {
	gateway := strings.TrimRight(strings.TrimSpace(cfg.GatewayURL), "/")
	if gateway == "" {
		return nil, errors.New("未配置容器网关地址")
	}
	if strings.TrimSpace(cfg.WalletCanister) == "" {
		return nil, errors.New("未配置钱包容器 ID")
	}
	icpLedger := strings.TrimSpace(cfg.ICPLedgerCanister)
	if icpLedger == "" {
		icpLedger = defaultICPLedger
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		gatewayURL: gateway,
		wallet:     cfg.WalletCanister,
		icpLedger:  icpLedger,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
		log:        logger.Named("ledger"),
	}, nil
}

// chainMethods 是钱包容器中按资产区分的方法名。
type chainMethods struct {
	address string
	balance string
	send    string
	token   string
}

var walletMethods = map[string]chainMethods{
	units.BTC: {address: "bitcoin_address", balance: "bitcoin_balance", send: "bitcoin_send", token: "btc"},
	units.ETH: {address: "ethereum_address", balance: "ethereum_balance", send: "ethereum_send", token: "eth"},
	units.SOL: {address: "solana_address", balance: "solana_balance", send: "solana_send", token: "sol"},
}

// poolKeys 是托管池余额结构中的字段名。
var poolKeys = map[string]string{
	"bitcoin":  units.BTC,
	"ethereum": units.ETH,
	"solana":   units.SOL,
	"icp":      units.ICP,
}

func unsupported(asset string) error {
	return xerrors.New(xerrors.CodeUnsupportedAsset, "账本不支持资产 "+asset, xerrors.WithMetadata("asset", asset))
}

// Address 返回调用方在指定链上的地址；ICP 地址即调用方主体。
func (c *Client) Address(ctx context.Context, caller ledger.Caller, asset string) (string, error) {
	asset = units.Normalize(asset)
	if asset == units.ICP {
		return caller.Principal, nil
	}
	methods, ok := walletMethods[asset]
	if !ok {
		return "", unsupported(asset)
	}
	raw, err := c.call(ctx, caller, c.wallet, methods.address)
	if err != nil {
		return "", err
	}
	return ledger.ParseText(raw), nil
}

// Balance 返回调用方地址的余额（最小单位）。
func (c *Client) Balance(ctx context.Context, caller ledger.Caller, asset string) (*big.Int, error) {
	asset = units.Normalize(asset)
	var (
		raw json.RawMessage
		err error
	)
	if asset == units.ICP {
		raw, err = c.call(ctx, caller, c.icpLedger, "icrc1_balance_of", account(caller.Principal))
	} else {
		methods, ok := walletMethods[asset]
		if !ok {
			return nil, unsupported(asset)
		}
		address, addrErr := c.Address(ctx, caller, asset)
		if addrErr != nil {
			return nil, addrErr
		}
		raw, err = c.call(ctx, caller, c.wallet, methods.balance, address)
	}
	if err != nil {
		return nil, err
	}
	n, err := ledger.ParseAmount(raw)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLedger, err, "无法解析余额")
	}
	return n, nil
}

// Send 从调用方钱包向目标地址转账，返回交易引用。
func (c *Client) Send(ctx context.Context, caller ledger.Caller, asset, destination string, amount *big.Int) (string, error) {
	asset = units.Normalize(asset)
	var (
		raw json.RawMessage
		err error
	)
	switch asset {
	case units.ICP:
		raw, err = c.call(ctx, caller, c.icpLedger, "icrc1_transfer", map[string]any{
			"to":              account(destination),
			"amount":          amount,
			"fee":             []any{},
			"memo":            []any{},
			"from_subaccount": []any{},
			"created_at_time": []any{},
		})
	case units.BTC:
		raw, err = c.call(ctx, caller, c.wallet, walletMethods[asset].send, map[string]any{
			"destination_address": destination,
			"amount_in_satoshi":   amount,
		})
	case units.ETH, units.SOL:
		raw, err = c.call(ctx, caller, c.wallet, walletMethods[asset].send, destination, amount)
	default:
		return "", unsupported(asset)
	}
	if err != nil {
		return "", err
	}
	return ledger.ParseText(raw), nil
}

// PoolBalances 读取托管池各资产余额，无法解析的条目被忽略。
func (c *Client) PoolBalances(ctx context.Context, controller ledger.Caller) (map[string]*big.Int, error) {
	raw, err := c.call(ctx, controller, c.wallet, "canister_wallet_balance")
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLedger, err, "无法解析托管池余额")
	}
	out := make(map[string]*big.Int, len(fields))
	for key, value := range fields {
		symbol, ok := poolKeys[strings.ToLower(key)]
		if !ok {
			continue
		}
		n, err := ledger.ParseAmount(value)
		if err != nil {
			c.log.Warn("托管池余额无法解析", slog.String("asset", symbol), slog.Any("error", err))
			continue
		}
		out[symbol] = n
	}
	return out, nil
}

// PoolSend 从托管池向目标地址发送代币。
func (c *Client) PoolSend(ctx context.Context, controller ledger.Caller, asset, destination string, amount *big.Int) (string, error) {
	asset = units.Normalize(asset)
	token := strings.ToLower(asset)
	if methods, ok := walletMethods[asset]; ok {
		token = methods.token
	} else if asset != units.ICP {
		return "", unsupported(asset)
	}
	raw, err := c.call(ctx, controller, c.wallet, "canister_send_token", destination, amount, token)
	if err != nil {
		return "", err
	}
	return ledger.ParseText(raw), nil
}

func account(owner string) map[string]any {
	return map[string]any{"owner": owner, "subaccount": []any{}}
}

type callRequest struct {
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

func (c *Client) call(ctx context.Context, caller ledger.Caller, canisterID, method string, args ...any) (json.RawMessage, error) {
	if args == nil {
		args = []any{}
	}
	body, err := json.Marshal(callRequest{Method: method, Args: args})
	if err != nil {
		return nil, fmt.Errorf("序列化容器调用失败: %w", err)
	}

	endpoint := c.gatewayURL + "/api/v1/canisters/" + url.PathEscape(canisterID) + "/call"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("构建容器请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := sign(req, caller, body, c.now()); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "容器调用超时", xerrors.WithMetadata("method", method))
		}
		return nil, xerrors.Wrap(xerrors.CodeLedger, err, "容器调用失败", xerrors.WithMetadata("method", method))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseLength))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLedger, err, "读取容器响应失败")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, xerrors.New(xerrors.CodeLedger,
			fmt.Sprintf("容器网关返回错误状态 %d", resp.StatusCode),
			xerrors.WithMetadata("method", method),
			xerrors.WithMetadata("status", strconv.Itoa(resp.StatusCode)),
			xerrors.WithMetadata("body", truncate(string(payload), 512)))
	}

	var decoded struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLedger, err, "解析容器响应失败")
	}
	c.log.Debug("容器调用完成", slog.String("canister", canisterID), slog.String("method", method))
	return ledger.Unwrap(decoded.Result)
}

func sign(req *http.Request, caller ledger.Caller, body []byte, now time.Time) error {
	if len(caller.Key) != ed25519.PrivateKeySize {
		return xerrors.New(xerrors.CodeInvalidKeyFormat, "调用方缺少有效的签名私钥")
	}
	der, err := x509.MarshalPKIXPublicKey(caller.Key.Public())
	if err != nil {
		return fmt.Errorf("编码调用方公钥失败: %w", err)
	}
	ts := strconv.FormatInt(now.Unix(), 10)
	signature := ed25519.Sign(caller.Key, append([]byte(ts+"."), body...))

	req.Header.Set(headerPrincipal, caller.Principal)
	req.Header.Set(headerPublicKey, base64.StdEncoding.EncodeToString(der))
	req.Header.Set(headerTimestamp, ts)
	req.Header.Set(headerSignature, base64.StdEncoding.EncodeToString(signature))
	return nil
}

func truncate(text string, limit int) string {
	text = strings.TrimSpace(text)
	if len(text) > limit {
		return text[:limit] + "..."
	}
	return text
}

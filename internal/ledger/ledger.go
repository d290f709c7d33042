// Package ledger 定义账本/容器服务的边界：地址、余额、转账以及托管池操作。
package ledger

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	xerrors "Nara-Wallet/internal/errors"
)

// Caller 是发起容器调用的身份。
type Caller struct {
	Principal string
	Key       ed25519.PrivateKey
}

// Client 是账本服务的调用接口，所有数量均为最小单位。
type Client interface {
	Address(ctx context.Context, caller Caller, asset string) (string, error)
	Balance(ctx context.Context, caller Caller, asset string) (*big.Int, error)
	Send(ctx context.Context, caller Caller, asset, destination string, amount *big.Int) (string, error)
	PoolBalances(ctx context.Context, controller Caller) (map[string]*big.Int, error)
	PoolSend(ctx context.Context, controller Caller, asset, destination string, amount *big.Int) (string, error)
}

// ErrLedger 用于 errors.Is 判断账本错误。
var ErrLedger = xerrors.New(xerrors.CodeLedger, "ledger error")

// Unwrap 逐层剥离单元素数组，然后解析 {Ok|Err} 结果；Err 转换为 LEDGER_ERROR。
func Unwrap(raw json.RawMessage) (json.RawMessage, error) {
	current := bytes.TrimSpace(raw)
	for {
		var list []json.RawMessage
		if len(current) == 0 || current[0] != '[' || json.Unmarshal(current, &list) != nil || len(list) != 1 {
			break
		}
		current = bytes.TrimSpace(list[0])
	}

	if len(current) > 0 && current[0] == '{' {
		var tagged map[string]json.RawMessage
		if err := json.Unmarshal(current, &tagged); err == nil {
			if ok, found := tagged["Ok"]; found {
				return ok, nil
			}
			if errPayload, found := tagged["Err"]; found {
				detail := compact(errPayload)
				return nil, xerrors.New(xerrors.CodeLedger, "canister returned error: "+detail,
					xerrors.WithMetadata("err", detail))
			}
		}
	}
	return current, nil
}

// ParseAmount 解析以 JSON 数字或字符串表示的最小单位数量。
func ParseAmount(raw json.RawMessage) (*big.Int, error) {
	text := strings.TrimSpace(string(raw))
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		text = strings.TrimSpace(s)
	}
	if text == "" || text == "null" {
		return nil, fmt.Errorf("空的数量")
	}
	n, ok := new(big.Int).SetString(text, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("非法的数量: %s", text)
	}
	return n, nil
}

// ParseText 把结果转换为文本：字符串原样返回，其他值返回紧凑 JSON。
func ParseText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return compact(raw)
}

func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return buf.String()
}

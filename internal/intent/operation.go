package intent

import (
	"bytes"
	"encoding/json"
	"strings"

	xerrors "Nara-Wallet/internal/errors"
	"Nara-Wallet/internal/llm"
	"Nara-Wallet/internal/units"
)

// Kind 区分立即执行的查询与需要确认的资金操作。
type Kind int

const (
	KindImmediate Kind = iota
	KindTransfer
	KindPurchase
)

func (k Kind) String() string {
	switch k {
	case KindTransfer:
		return "transfer"
	case KindPurchase:
		return "purchase"
	default:
		return "immediate"
	}
}

// Operation 是提供给补全服务的函数名，取值封闭。
type Operation string

const (
	OpHelp               Operation = "help"
	OpGetCoinPrice       Operation = "get_coin_price"
	OpGetBitcoinAddress  Operation = "get_bitcoin_address"
	OpGetEthereumAddress Operation = "get_ethereum_address"
	OpGetSolanaAddress   Operation = "get_solana_address"
	OpGetICPAddress      Operation = "get_icp_address"
	OpGetBitcoinBalance  Operation = "get_bitcoin_balance"
	OpGetEthereumBalance Operation = "get_ethereum_balance"
	OpGetSolanaBalance   Operation = "get_solana_balance"
	OpGetICPBalance      Operation = "get_icp_balance"
	OpSendBitcoin        Operation = "send_bitcoin"
	OpSendEthereum       Operation = "send_ethereum"
	OpSendSolana         Operation = "send_solana"
	OpSendICP            Operation = "send_icp"
	OpBuyCrypto          Operation = "buy_crypto"
)

type action int

const (
	actionHelp action = iota
	actionPrice
	actionAddress
	actionBalance
	actionSend
	actionBuy
)

type definition struct {
	kind        Kind
	action      action
	asset       string
	description string
	parameters  map[string]any
}

func noParameters() map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           map[string]any{},
		"required":             []string{},
		"additionalProperties": false,
	}
}

func sendParameters(network string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"destinationAddress": map[string]any{"type": "string", "description": "The destination " + network + " address."},
			"amount":             map[string]any{"type": "number", "description": "Amount to send in " + network + "."},
		},
		"required":             []string{"destinationAddress", "amount"},
		"additionalProperties": false,
	}
}

// menu 的顺序即发送给补全服务的顺序。
var menu = []Operation{
	OpHelp, OpGetCoinPrice,
	OpGetBitcoinAddress, OpGetEthereumAddress, OpGetSolanaAddress, OpGetICPAddress,
	OpGetBitcoinBalance, OpGetEthereumBalance, OpGetSolanaBalance, OpGetICPBalance,
	OpSendSolana, OpSendICP, OpSendBitcoin, OpSendEthereum,
	OpBuyCrypto,
}

var definitions = map[Operation]definition{
	OpHelp: {kind: KindImmediate, action: actionHelp, description: "Gets help with the agent.", parameters: noParameters()},
	OpGetCoinPrice: {kind: KindImmediate, action: actionPrice, description: "Gets the price of a given coin type.", parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"coin_type": map[string]any{"type": "string"},
			"amount":    map[string]any{"type": "number"},
		},
		"required":             []string{"coin_type", "amount"},
		"additionalProperties": false,
	}},
	OpGetBitcoinAddress:  {kind: KindImmediate, action: actionAddress, asset: units.BTC, description: "Gets the bitcoin address of the user.", parameters: noParameters()},
	OpGetEthereumAddress: {kind: KindImmediate, action: actionAddress, asset: units.ETH, description: "Gets the ethereum address of the user.", parameters: noParameters()},
	OpGetSolanaAddress:   {kind: KindImmediate, action: actionAddress, asset: units.SOL, description: "Gets the solana address of the user.", parameters: noParameters()},
	OpGetICPAddress:      {kind: KindImmediate, action: actionAddress, asset: units.ICP, description: "Gets the ICP address of the user.", parameters: noParameters()},
	OpGetBitcoinBalance:  {kind: KindImmediate, action: actionBalance, asset: units.BTC, description: "Gets the bitcoin balance of the user.", parameters: noParameters()},
	OpGetEthereumBalance: {kind: KindImmediate, action: actionBalance, asset: units.ETH, description: "Gets the ethereum balance of the user.", parameters: noParameters()},
	OpGetSolanaBalance:   {kind: KindImmediate, action: actionBalance, asset: units.SOL, description: "Gets the solana balance of the user.", parameters: noParameters()},
	OpGetICPBalance:      {kind: KindImmediate, action: actionBalance, asset: units.ICP, description: "Gets the balance of ICP.", parameters: noParameters()},
	OpSendBitcoin:        {kind: KindTransfer, action: actionSend, asset: units.BTC, description: "Sends bitcoin coin from my wallet to a specified address.", parameters: sendParameters("bitcoin")},
	OpSendEthereum:       {kind: KindTransfer, action: actionSend, asset: units.ETH, description: "Sends ethereum coin from my wallet to a specified address.", parameters: sendParameters("ethereum")},
	OpSendSolana:         {kind: KindTransfer, action: actionSend, asset: units.SOL, description: "Sends solana coin from my wallet to a specified address.", parameters: sendParameters("solana")},
	OpSendICP:            {kind: KindTransfer, action: actionSend, asset: units.ICP, description: "Sends ICP from my wallet to a specified address / principal.", parameters: sendParameters("ICP")},
	OpBuyCrypto: {kind: KindPurchase, action: actionBuy, description: "Buy crypto using fiat. Provide coin type and token amount, and you will receive a payment link.", parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"coinType":           map[string]any{"type": "string", "description": "One of: btc, eth, sol, icp"},
			"amount":             map[string]any{"type": "number", "description": "Token amount the user wants to buy (e.g., 0.2 BTC)."},
			"destinationAddress": map[string]any{"type": "string", "description": "Optional address that receives the tokens. Defaults to the user's own wallet."},
		},
		"required":             []string{"coinType", "amount"},
		"additionalProperties": false,
	}},
}

// ParseOperation 校验函数名是否在菜单中。
func ParseOperation(name string) (Operation, error) {
	op := Operation(strings.TrimSpace(name))
	if _, ok := definitions[op]; !ok {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "unknown function: "+name,
			xerrors.WithMetadata("function", name))
	}
	return op, nil
}

// Kind 返回操作类型。
func (o Operation) Kind() Kind { return definitions[o].kind }

// Asset 返回操作绑定的资产，价格查询与购买返回空串。
func (o Operation) Asset() string { return definitions[o].asset }

// Tools 根据操作表生成补全服务的函数菜单。
func Tools() []llm.Tool {
	tools := make([]llm.Tool, 0, len(menu))
	for _, op := range menu {
		def := definitions[op]
		tools = append(tools, llm.Tool{Name: string(op), Description: def.description, Parameters: def.parameters})
	}
	return tools
}

// Args 是补全服务给出的函数参数，兼容不同的字段命名。
type Args struct {
	CoinType    string     `json:"coin_type"`
	CoinTypeAlt string     `json:"coinType"`
	Amount      FlexNumber `json:"amount"`
	Destination string     `json:"destinationAddress"`
}

// Coin 返回参数中的资产标签。
func (a Args) Coin() string {
	if strings.TrimSpace(a.CoinType) != "" {
		return strings.TrimSpace(a.CoinType)
	}
	return strings.TrimSpace(a.CoinTypeAlt)
}

// ParseArgs 解析 JSON 参数文本，空文本视为空对象。
func ParseArgs(raw string) (Args, error) {
	var args Args
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return args, nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&args); err != nil {
		return args, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "无法解析函数参数")
	}
	return args, nil
}

// FlexNumber 接受 JSON 数字或数字字符串，保留原始十进制文本。
type FlexNumber string

// UnmarshalJSON 实现 json.Unmarshaler。
func (f *FlexNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexNumber(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexNumber(n.String())
	return nil
}

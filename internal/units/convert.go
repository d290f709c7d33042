package units

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	xerrors "Nara-Wallet/internal/errors"
)

// ToDisplay 将最小单位整数转换为去掉多余零的十进制字符串，不使用科学计数法。
func (c *Catalog) ToDisplay(symbol string, smallest *big.Int) (string, error) {
	asset, err := c.Lookup(symbol)
	if err != nil {
		return "", err
	}
	if smallest == nil {
		return "0", nil
	}
	return decimal.NewFromBigInt(smallest, -asset.Exponent).String(), nil
}

// ToSmallest 将十进制数量转换为最小单位整数，向零截断。
func (c *Catalog) ToSmallest(symbol, display string) (*big.Int, error) {
	asset, err := c.Lookup(symbol)
	if err != nil {
		return nil, err
	}
	amount, err := ParseAmount(display)
	if err != nil {
		return nil, err
	}
	return toSmallest(asset, amount), nil
}

// ToSmallestDecimal 与 ToSmallest 相同，但直接接受十进制值。
func (c *Catalog) ToSmallestDecimal(symbol string, amount decimal.Decimal) (*big.Int, error) {
	asset, err := c.Lookup(symbol)
	if err != nil {
		return nil, err
	}
	if amount.IsNegative() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数量不能为负数")
	}
	return toSmallest(asset, amount), nil
}

func toSmallest(asset Asset, amount decimal.Decimal) *big.Int {
	return amount.Shift(asset.Exponent).Truncate(0).BigInt()
}

// 用户输入数量的上限。最大的资产指数为 18，小数位留出余量。
const (
	maxAmountText     = 64
	maxFractionDigits = 36
	maxIntegerDigits  = 40
)

// ParseAmount 解析用户输入的十进制数量。拒绝负数、无法解析的文本以及超出范围的数量。
func ParseAmount(text string) (decimal.Decimal, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return decimal.Zero, xerrors.New(xerrors.CodeInvalidArgument, "数量不能为空")
	}
	if len(text) > maxAmountText {
		return decimal.Zero, xerrors.New(xerrors.CodeInvalidArgument, "数量文本过长")
	}
	amount, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "无法解析数量 "+text)
	}
	if amount.IsNegative() {
		return decimal.Zero, xerrors.New(xerrors.CodeInvalidArgument, "数量不能为负数")
	}
	exp := int64(amount.Exponent())
	if -exp > maxFractionDigits || int64(amount.NumDigits())+exp > maxIntegerDigits {
		return decimal.Zero, xerrors.New(xerrors.CodeInvalidArgument, "数量超出支持范围 "+text)
	}
	return amount, nil
}

var cent = decimal.New(1, -2)

// ZeroUSD 是报价失败时返回的零值报价文本。
const ZeroUSD = "$0.00"

// FormatUSD 把美元金额格式化为 "$x.xx"；不足一美分时保留最多 20 位小数。
func FormatUSD(usd decimal.Decimal) string {
	if usd.GreaterThanOrEqual(cent) {
		return "$" + usd.StringFixedBank(2)
	}
	if !usd.IsPositive() || usd.Truncate(20).IsZero() {
		return ZeroUSD
	}
	return "$" + usd.Truncate(20).String()
}

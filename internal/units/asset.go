// Package units 负责资产目录以及人类可读数量与最小单位整数之间的无损转换。
package units

import (
	"sort"
	"strings"

	xerrors "Nara-Wallet/internal/errors"
)

// Asset 描述一个标准化资产。
type Asset struct {
	Symbol           string `yaml:"symbol" json:"symbol"`
	Exponent         int32  `yaml:"exponent" json:"exponent"`
	DisplayPrecision int32  `yaml:"display_precision" json:"display_precision"`
	PriceID          string `yaml:"price_id" json:"price_id"`
	Network          string `yaml:"network" json:"network"`
}

// 内置资产符号。
const (
	BTC = "BTC"
	ETH = "ETH"
	SOL = "SOL"
	ICP = "ICP"
)

var builtin = []Asset{
	{Symbol: BTC, Exponent: 8, DisplayPrecision: 8, PriceID: "bitcoin", Network: "Bitcoin"},
	{Symbol: ETH, Exponent: 18, DisplayPrecision: 18, PriceID: "ethereum", Network: "Ethereum"},
	{Symbol: SOL, Exponent: 9, DisplayPrecision: 9, PriceID: "solana", Network: "Solana"},
	{Symbol: ICP, Exponent: 8, DisplayPrecision: 8, PriceID: "internet-computer", Network: "ICP"},
}

// ErrUnsupportedAsset 表示资产不在目录中。
var ErrUnsupportedAsset = xerrors.New(xerrors.CodeUnsupportedAsset, "unsupported asset")

// Catalog 是启动时构建、运行期只读的资产目录。
type Catalog struct {
	assets map[string]Asset
}

// NewCatalog 返回包含内置资产以及额外资产的目录。额外资产不能覆盖内置资产。
func NewCatalog(extra ...Asset) (*Catalog, error) {
	c := &Catalog{assets: make(map[string]Asset, len(builtin)+len(extra))}
	for _, a := range builtin {
		c.assets[a.Symbol] = a
	}
	for _, a := range extra {
		a.Symbol = Normalize(a.Symbol)
		if a.Symbol == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "资产符号不能为空")
		}
		if _, exists := c.assets[a.Symbol]; exists {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "资产 "+a.Symbol+" 已存在")
		}
		if a.Exponent < 0 || a.Exponent > 36 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "资产 "+a.Symbol+" 的精度非法")
		}
		if a.DisplayPrecision <= 0 || a.DisplayPrecision > a.Exponent {
			a.DisplayPrecision = a.Exponent
		}
		if a.Network == "" {
			a.Network = a.Symbol
		}
		c.assets[a.Symbol] = a
	}
	return c, nil
}

var defaultCatalog, _ = NewCatalog()

// Default 返回仅包含内置资产的目录。
func Default() *Catalog { return defaultCatalog }

// Normalize 统一资产符号的大小写与空白。
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Lookup 查找资产，大小写不敏感。
func (c *Catalog) Lookup(symbol string) (Asset, error) {
	key := Normalize(symbol)
	if a, ok := c.assets[key]; ok {
		return a, nil
	}
	return Asset{}, xerrors.New(xerrors.CodeUnsupportedAsset, "unsupported asset: "+symbol,
		xerrors.WithMetadata("asset", key))
}

// Symbols 返回按字母排序的资产符号。
func (c *Catalog) Symbols() []string {
	out := make([]string, 0, len(c.assets))
	for k := range c.assets {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IsBuiltin 判断资产是否属于内置资产。
func IsBuiltin(symbol string) bool {
	key := Normalize(symbol)
	for _, a := range builtin {
		if a.Symbol == key {
			return true
		}
	}
	return false
}

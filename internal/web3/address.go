package web3

import (
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"

	xerrors "Nara-Wallet/internal/errors"
	"Nara-Wallet/internal/identity"
	"Nara-Wallet/internal/units"
)

// base58check 地址版本字节：主网/测试网的 P2PKH 与 P2SH。
var bitcoinVersions = map[byte]struct{}{
	0x00: {},
	0x05: {},
	0x6f: {},
	0xc4: {},
}

var bitcoinHRPs = map[string]struct{}{
	"bc":   {},
	"tb":   {},
	"bcrt": {},
}

// ValidateDestination 检查目标地址在对应网络上是否格式正确。
// 目录中的扩展资产只要求非空。
func ValidateDestination(asset, address string) error {
	address = strings.TrimSpace(address)
	symbol := units.Normalize(asset)
	if address == "" {
		return invalidAddress(symbol, address, "地址为空")
	}

	var ok bool
	switch symbol {
	case units.ETH:
		ok = validEthereum(address)
	case units.BTC:
		ok = validBitcoin(address)
	case units.SOL:
		ok = len(base58.Decode(address)) == 32
	case units.ICP:
		_, err := identity.DecodePrincipal(address)
		ok = err == nil
	default:
		return nil
	}
	if !ok {
		return invalidAddress(symbol, address, "地址格式不正确")
	}
	return nil
}

func invalidAddress(symbol, address, reason string) error {
	return xerrors.New(xerrors.CodeInvalidArgument, symbol+" "+reason,
		xerrors.WithMetadata("asset", symbol),
		xerrors.WithMetadata("address", address))
}

func validEthereum(address string) bool {
	if !common.IsHexAddress(address) || !strings.HasPrefix(address, "0x") {
		return false
	}
	body := address[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}
	return common.HexToAddress(address).Hex() == address
}

func validBitcoin(address string) bool {
	if payload, version, err := base58.CheckDecode(address); err == nil {
		_, known := bitcoinVersions[version]
		return known && len(payload) == 20
	}

	hrp, data, err := bech32.Decode(address)
	if err != nil || len(data) < 1 {
		return false
	}
	if _, known := bitcoinHRPs[hrp]; !known {
		return false
	}
	if data[0] != 0 {
		return false
	}
	program, err := bech32.ConvertBits(data[1:], 5, 8, false)
	if err != nil {
		return false
	}
	return len(program) == 20 || len(program) == 32
}

// Package web3 校验各链目标地址的格式。以太坊地址使用 go-ethereum 的解析规则，
// 比特币地址支持 base58check 与 bech32 两种编码，Solana 地址为 32 字节的 base58 公钥，
// ICP 地址为带 CRC 校验的主体文本。
package web3

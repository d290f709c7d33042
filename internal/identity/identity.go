// Package identity 为会话发送方派生签名密钥对与自认证主体标识。
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"io"
	"strings"
	"time"

	xerrors "Nara-Wallet/internal/errors"
)

// Identity 是一个发送方对应的链上身份，创建后不可变。
type Identity struct {
	Sender     string `json:"sender"`
	Principal  string `json:"principal"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
	CreatedAt  int64  `json:"created_at"`
}

// ErrInvalidKeyFormat 表示密钥材料无法以 hex、PEM 或 base64 DER 解析。
var ErrInvalidKeyFormat = xerrors.New(xerrors.CodeInvalidKeyFormat, "invalid key format")

// Generate 为发送方生成新的 ed25519 密钥对及主体。
func Generate(sender string) (*Identity, error) {
	return generate(rand.Reader, sender, time.Now())
}

func generate(random io.Reader, sender string, now time.Time) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(random)
	if err != nil {
		return nil, fmt.Errorf("生成密钥对失败: %w", err)
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("编码公钥失败: %w", err)
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("编码私钥失败: %w", err)
	}
	return &Identity{
		Sender:     sender,
		Principal:  EncodePrincipal(PrincipalBytes(der)),
		PublicKey:  base64.StdEncoding.EncodeToString(der),
		PrivateKey: base64.StdEncoding.EncodeToString(pkcs8),
		CreatedAt:  now.Unix(),
	}, nil
}

// PrincipalFromPublicKey 根据 ed25519 公钥计算主体文本。
func PrincipalFromPublicKey(pub ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("编码公钥失败: %w", err)
	}
	return EncodePrincipal(PrincipalBytes(der)), nil
}

// ParsePrivateKey 依次尝试 hex（32 字节种子或 64 字节私钥）、PEM、base64 DER 三种格式。
func ParsePrivateKey(text string) (ed25519.PrivateKey, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrInvalidKeyFormat
	}

	if raw, err := hex.DecodeString(strings.TrimPrefix(text, "0x")); err == nil {
		switch len(raw) {
		case ed25519.SeedSize:
			return ed25519.NewKeyFromSeed(raw), nil
		case ed25519.PrivateKeySize:
			return ed25519.PrivateKey(raw), nil
		}
	}

	if block, _ := pem.Decode([]byte(text)); block != nil {
		return parsePKCS8(block.Bytes)
	}

	if der, err := base64.StdEncoding.DecodeString(text); err == nil {
		return parsePKCS8(der)
	}

	return nil, ErrInvalidKeyFormat
}

func parsePKCS8(der []byte) (ed25519.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidKeyFormat, err, "invalid key format")
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidKeyFormat, fmt.Sprintf("unsupported key type %T", key))
	}
	return priv, nil
}

// EncodePrivateKeyPEM 以 PKCS8 PEM 输出私钥，用于命令行导出。
func EncodePrivateKeyPEM(priv ed25519.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("编码私钥失败: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	xerrors "Nara-Wallet/internal/errors"
)

// SignatureHeader 是 Stripe webhook 的签名头。
const SignatureHeader = "Stripe-Signature"

// DefaultTolerance 是签名时间戳允许的最大偏差。
const DefaultTolerance = 300 * time.Second

// ErrInvalidSignature 用于 errors.Is 判断签名错误。
var ErrInvalidSignature = xerrors.New(xerrors.CodeInvalidSignature, "invalid webhook signature")

// ComputeSignature 计算 HMAC-SHA256(secret, timestamp + "." + payload) 的十六进制摘要。
func ComputeSignature(secret string, payload []byte, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignHeader 生成 "t=<unix>,v1=<hex>" 形式的签名头。
func SignHeader(secret string, payload []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + ComputeSignature(secret, payload, ts)
}

// VerifySignature 校验签名头 "t=<unix>,v1=<hex>[,v1=...]"。
// 任一 v1 匹配且时间戳与 now 的偏差不超过 tolerance 时通过；secret 为空一律拒绝。
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if secret == "" {
		return invalid("未配置 webhook 签名密钥")
	}
	var (
		timestamp  string
		signatures []string
	)
	for _, item := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(item), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return invalid("签名头格式不正确")
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return invalid("签名时间戳无法解析")
	}

	expected := []byte(ComputeSignature(secret, payload, timestamp))
	matched := false
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), expected) {
			matched = true
			break
		}
	}
	if !matched {
		return invalid("签名不匹配")
	}

	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	skew := now.Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(tolerance/time.Second) {
		return invalid("签名时间戳超出允许范围")
	}
	return nil
}

func invalid(reason string) error {
	return xerrors.New(xerrors.CodeInvalidSignature, reason)
}

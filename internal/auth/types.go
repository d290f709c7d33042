package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Mode 表示认证模式。
type Mode string

// 支持的认证模式。
const (
	ModeDisabled Mode = "disabled"
	ModeAPIKey   Mode = "api_key"
	ModeJWT      Mode = "jwt"
)

// Common errors returned by the authentication subsystem.
var (
	ErrDisabled         = errors.New("authentication disabled")
	ErrInvalidToken     = errors.New("invalid token")
	ErrMissingToken     = errors.New("missing bearer token")
	ErrPermissionDenied = errors.New("permission denied")
)

// Config 描述认证服务的配置。
type Config struct {
	Mode    Mode
	APIKeys []APIKey
	JWT     JWTConfig
}

// APIKey 是一个静态凭证。Senders 为空时该凭证可代表任意发送方。
type APIKey struct {
	Name    string
	Key     string
	Senders []string
}

// JWTConfig 描述 HS256 令牌的校验参数。令牌的 sub 即发送方标识。
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

// Subject 是通过认证的调用方。
type Subject struct {
	Name string
	// Senders 为空表示不限制发送方。
	Senders []string
}

// CanActFor 判断调用方能否以指定发送方的身份操作。
func (s *Subject) CanActFor(sender string) error {
	if s == nil {
		return ErrInvalidToken
	}
	if len(s.Senders) == 0 {
		return nil
	}
	sender = strings.TrimSpace(sender)
	for _, allowed := range s.Senders {
		if allowed == sender {
			return nil
		}
	}
	return fmt.Errorf("%w: %s 无权代表 %s", ErrPermissionDenied, s.Name, sender)
}

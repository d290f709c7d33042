package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"Nara-Wallet/pkg/logger"
)

// clockSkew 是校验 JWT 时间字段时允许的偏差。
const clockSkew = 2 * time.Minute

// Service 负责 HTTP 端点的身份验证。
type Service struct {
	mode   Mode
	keys   []apiKey
	secret []byte
	cfg    JWTConfig
	audit  *slog.Logger
}

type apiKey struct {
	name    string
	digest  [sha256.Size]byte
	senders []string
}

// NewService 构造身份认证服务实例。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeAPIKey
	}
	svc := &Service{mode: mode, audit: logger.Audit()}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeAPIKey:
		for i, key := range cfg.APIKeys {
			secret := strings.TrimSpace(key.Key)
			if secret == "" {
				continue
			}
			name := key.Name
			if name == "" {
				name = fmt.Sprintf("key-%d", i+1)
			}
			svc.keys = append(svc.keys, apiKey{
				name:    name,
				digest:  sha256.Sum256([]byte(secret)),
				senders: trimAll(key.Senders),
			})
		}
		if len(svc.keys) == 0 {
			return nil, errors.New("api_key 模式需要至少一个密钥")
		}
		return svc, nil
	case ModeJWT:
		secret := strings.TrimSpace(cfg.JWT.Secret)
		if secret == "" {
			return nil, errors.New("jwt 模式需要配置签名密钥")
		}
		svc.secret = []byte(secret)
		svc.cfg = cfg.JWT
		return svc, nil
	default:
		return nil, fmt.Errorf("不支持的认证模式: %s", cfg.Mode)
	}
}

// Mode 返回当前认证模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest 解析 Authorization 头并返回调用方。
func (s *Service) AuthenticateRequest(_ context.Context, authorization string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return nil, ErrDisabled
	}
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, ErrMissingToken
	}
	switch s.mode {
	case ModeAPIKey:
		return s.verifyAPIKey(token)
	case ModeJWT:
		return s.verifyJWT(token)
	default:
		return nil, ErrDisabled
	}
}

// verifyAPIKey 以恒定时间比较所有已配置的密钥。
func (s *Service) verifyAPIKey(token string) (*Subject, error) {
	digest := sha256.Sum256([]byte(token))
	var matched *apiKey
	for i := range s.keys {
		if subtle.ConstantTimeCompare(digest[:], s.keys[i].digest[:]) == 1 && matched == nil {
			matched = &s.keys[i]
		}
	}
	if matched == nil {
		return nil, ErrInvalidToken
	}
	return &Subject{Name: matched.name, Senders: append([]string(nil), matched.senders...)}, nil
}

// verifyJWT 验证 HS256 令牌，sub 声明绑定发送方。
func (s *Service) verifyJWT(token string) (*Subject, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(clockSkew),
		jwt.WithExpirationRequired(),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}
	if s.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(s.cfg.Audience))
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	sender := strings.TrimSpace(claims.Subject)
	if sender == "" {
		return nil, ErrInvalidToken
	}
	return &Subject{Name: sender, Senders: []string{sender}}, nil
}

func trimAll(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

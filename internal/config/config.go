package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config 描述了 Nara 钱包服务在启动阶段需要加载的核心配置。
type Config struct {
	Server     ServerConfig     `json:"server"`
	Auth       AuthConfig       `json:"auth"`
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	LLM        LLMConfig        `json:"llm"`
	Pricing    PricingConfig    `json:"pricing"`
	Ledger     LedgerConfig     `json:"ledger"`
	Payment    PaymentConfig    `json:"payment"`
	Settlement SettlementConfig `json:"settlement"`
	Events     EventsConfig     `json:"events"`
	Identity   IdentityConfig   `json:"identity"`
	Assets     AssetsConfig     `json:"assets"`
	RateLimit  RateLimitConfig  `json:"rate_limit"`
	Alerting   AlertingConfig   `json:"alerting"`
	Runtime    RuntimeConfig    `json:"runtime"`
}

// ServerConfig 控制 HTTP 服务的监听地址。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsEnabled bool   `json:"metrics_enabled"`
}

// AuthConfig 控制 /api/v1 的调用方认证。
type AuthConfig struct {
	// Mode 可选 disabled、api_key、jwt。
	Mode    string         `json:"mode"`
	APIKeys []APIKeyConfig `json:"api_keys"`
	// APIKeysEnv 指向以逗号分隔的密钥列表，这些密钥不限制发送方。
	APIKeysEnv string    `json:"api_keys_env"`
	JWT        JWTConfig `json:"jwt"`
}

// APIKeyConfig 描述一个静态密钥及其可代表的发送方。
type APIKeyConfig struct {
	Name    string   `json:"name"`
	Key     string   `json:"key"`
	KeyEnv  string   `json:"key_env"`
	Senders []string `json:"senders"`
}

// JWTConfig 描述 HS256 令牌校验。
type JWTConfig struct {
	Secret    string `json:"secret"`
	SecretEnv string `json:"secret_env"`
	Issuer    string `json:"issuer"`
	Audience  string `json:"audience"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	MaxSizeMB   int         `json:"max_size_mb"`
	MaxBackups  int         `json:"max_backups"`
	MaxAgeDays  int         `json:"max_age_days"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// StorageConfig 描述会话、结算状态的持久化后端。
type StorageConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// LLMConfig 用于配置意图识别所用的大模型。
type LLMConfig struct {
	Provider       string       `json:"provider"`
	OpenAI         OpenAIConfig `json:"openai"`
	TimeoutSeconds int          `json:"timeout_seconds"`
}

// OpenAIConfig 描述兼容 OpenAI Chat Completions 的服务。
type OpenAIConfig struct {
	APIKey    string `json:"api_key"`
	APIKeyEnv string `json:"api_key_env"`
	BaseURL   string `json:"base_url"`
	Model     string `json:"model"`
}

// PricingConfig 描述价格源。
type PricingConfig struct {
	CoinGeckoURL     string      `json:"coingecko_url"`
	CryptoCompareURL string      `json:"cryptocompare_url"`
	TimeoutSeconds   int         `json:"timeout_seconds"`
	Cache            CacheConfig `json:"cache"`
}

// CacheConfig 描述尽力报价的缓存。
type CacheConfig struct {
	Driver     string      `json:"driver"`
	TTLSeconds int         `json:"ttl_seconds"`
	Redis      RedisConfig `json:"redis"`
}

// RedisConfig 描述 Redis 连接。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Key      string `json:"key"`
}

// LedgerConfig 描述账本/容器网关。
type LedgerConfig struct {
	GatewayURL        string `json:"gateway_url"`
	WalletCanister    string `json:"wallet_canister"`
	ICPLedgerCanister string `json:"icp_ledger_canister"`
	TimeoutSeconds    int    `json:"timeout_seconds"`
	ControllerKey     string `json:"controller_key"`
	ControllerKeyPath string `json:"controller_key_path"`
	ControllerKeyEnv  string `json:"controller_key_env"`
}

// PaymentConfig 描述支付网关。
type PaymentConfig struct {
	APIURL               string `json:"api_url"`
	APIKey               string `json:"api_key"`
	APIKeyEnv            string `json:"api_key_env"`
	PublicBaseURL        string `json:"public_base_url"`
	WebhookSecret        string `json:"webhook_secret"`
	WebhookSecretEnv     string `json:"webhook_secret_env"`
	Mode                 string `json:"mode"`
	GatewayExpirySeconds int    `json:"gateway_expiry_seconds"`
	TimeoutSeconds       int    `json:"timeout_seconds"`
}

// SettlementConfig 描述结算的时效约束。
type SettlementConfig struct {
	FreshnessSeconds          int `json:"freshness_seconds"`
	SignatureToleranceSeconds int `json:"signature_tolerance_seconds"`
}

// EventsConfig 描述结算事件的投递方式。
type EventsConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 连接。
type RabbitMQConfig struct {
	URL     string `json:"url"`
	Queue   string `json:"queue"`
	Durable bool   `json:"durable"`
}

// IdentityConfig 控制私钥的静态加密。
type IdentityConfig struct {
	SealPassphraseEnv string `json:"seal_passphrase_env"`
}

// AssetsConfig 指向额外资产定义的 YAML 文件。
type AssetsConfig struct {
	DefinitionsPath string `json:"definitions_path"`
}

// RateLimitConfig 控制单个发送方的消息频率。
type RateLimitConfig struct {
	PerMinute int `json:"per_minute"`
	Burst     int `json:"burst"`
}

// AlertingConfig 描述告警渠道。
type AlertingConfig struct {
	SlackWebhookURL string `json:"slack_webhook_url"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// 认证模式。
const (
	AuthDisabled = "disabled"
	AuthAPIKey   = "api_key"
	AuthJWT      = "jwt"
)

// 支付模式。
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	cfg.resolveSecrets(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	c.Auth.Mode = strings.ToLower(strings.TrimSpace(c.Auth.Mode))
	if c.Auth.Mode == "" {
		c.Auth.Mode = AuthAPIKey
	}
	if c.Auth.APIKeysEnv == "" {
		c.Auth.APIKeysEnv = "NARA_API_KEYS"
	}
	if c.Auth.JWT.SecretEnv == "" {
		c.Auth.JWT.SecretEnv = "NARA_JWT_SECRET"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Driver == "sqlite" && c.Storage.DSN == "" {
		c.Storage.DSN = "file:" + filepath.Join(c.Runtime.DataDir, "nara.db") + "?_pragma=busy_timeout(5000)"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.BaseURL == "" {
		c.LLM.OpenAI.BaseURL = "https://api.asi1.ai/v1"
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "asi1-mini"
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "ASI1_API_KEY"
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 60
	}

	if c.Pricing.CoinGeckoURL == "" {
		c.Pricing.CoinGeckoURL = "https://api.coingecko.com/api/v3"
	}
	if c.Pricing.CryptoCompareURL == "" {
		c.Pricing.CryptoCompareURL = "https://min-api.cryptocompare.com"
	}
	if c.Pricing.TimeoutSeconds <= 0 {
		c.Pricing.TimeoutSeconds = 10
	}
	if c.Pricing.Cache.Driver == "" {
		c.Pricing.Cache.Driver = "memory"
	}
	if c.Pricing.Cache.TTLSeconds <= 0 {
		c.Pricing.Cache.TTLSeconds = 30
	}

	if c.Ledger.TimeoutSeconds <= 0 {
		c.Ledger.TimeoutSeconds = 30
	}
	if c.Ledger.ICPLedgerCanister == "" {
		c.Ledger.ICPLedgerCanister = "ryjl3-tyaaa-aaaaa-aaaba-cai"
	}
	if c.Ledger.ControllerKeyEnv == "" {
		c.Ledger.ControllerKeyEnv = "NARA_CONTROLLER_KEY"
	}
	if c.Ledger.ControllerKeyPath != "" && !filepath.IsAbs(c.Ledger.ControllerKeyPath) {
		c.Ledger.ControllerKeyPath = filepath.Join(baseDir, c.Ledger.ControllerKeyPath)
	}

	if c.Payment.APIURL == "" {
		c.Payment.APIURL = "https://api.stripe.com/v1"
	}
	if c.Payment.APIKeyEnv == "" {
		c.Payment.APIKeyEnv = "STRIPE_SECRET_KEY"
	}
	if c.Payment.WebhookSecretEnv == "" {
		c.Payment.WebhookSecretEnv = "STRIPE_WEBHOOK_SECRET"
	}
	if c.Payment.PublicBaseURL == "" {
		c.Payment.PublicBaseURL = "http://localhost:8080"
	}
	c.Payment.PublicBaseURL = strings.TrimRight(c.Payment.PublicBaseURL, "/")
	if c.Payment.Mode == "" {
		c.Payment.Mode = ModeProduction
	}
	if c.Payment.GatewayExpirySeconds <= 0 {
		c.Payment.GatewayExpirySeconds = 1800
	}
	if c.Payment.TimeoutSeconds <= 0 {
		c.Payment.TimeoutSeconds = 10
	}

	if c.Settlement.FreshnessSeconds <= 0 {
		c.Settlement.FreshnessSeconds = 300
	}
	if c.Settlement.SignatureToleranceSeconds <= 0 {
		c.Settlement.SignatureToleranceSeconds = 300
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "none"
	}
	if c.Identity.SealPassphraseEnv == "" {
		c.Identity.SealPassphraseEnv = "NARA_SEAL_PASSPHRASE"
	}
	if c.Assets.DefinitionsPath != "" && !filepath.IsAbs(c.Assets.DefinitionsPath) {
		c.Assets.DefinitionsPath = filepath.Join(baseDir, c.Assets.DefinitionsPath)
	}

	if c.RateLimit.PerMinute <= 0 {
		c.RateLimit.PerMinute = 30
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 5
	}
}

// resolveSecrets 使用环境变量填充未直接写入配置文件的密钥。
func (c *Config) resolveSecrets(getenv func(string) string) {
	if c.LLM.OpenAI.APIKey == "" {
		c.LLM.OpenAI.APIKey = getenv(c.LLM.OpenAI.APIKeyEnv)
	}
	if c.Payment.APIKey == "" {
		c.Payment.APIKey = getenv(c.Payment.APIKeyEnv)
	}
	if c.Payment.WebhookSecret == "" {
		c.Payment.WebhookSecret = getenv(c.Payment.WebhookSecretEnv)
	}
	if c.Ledger.ControllerKey == "" {
		c.Ledger.ControllerKey = getenv(c.Ledger.ControllerKeyEnv)
	}
	for i := range c.Auth.APIKeys {
		if c.Auth.APIKeys[i].Key == "" && c.Auth.APIKeys[i].KeyEnv != "" {
			c.Auth.APIKeys[i].Key = getenv(c.Auth.APIKeys[i].KeyEnv)
		}
	}
	for i, key := range strings.Split(getenv(c.Auth.APIKeysEnv), ",") {
		if key = strings.TrimSpace(key); key != "" {
			c.Auth.APIKeys = append(c.Auth.APIKeys, APIKeyConfig{Name: fmt.Sprintf("env-%d", i+1), Key: key})
		}
	}
	if c.Auth.JWT.Secret == "" {
		c.Auth.JWT.Secret = getenv(c.Auth.JWT.SecretEnv)
	}
}

// Validate 检查互相依赖的配置项。
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite", "mysql":
	default:
		return fmt.Errorf("不支持的存储驱动: %s", c.Storage.Driver)
	}
	if c.Storage.Driver == "mysql" && strings.TrimSpace(c.Storage.DSN) == "" {
		return errors.New("MySQL 存储需要配置 dsn")
	}
	switch c.Payment.Mode {
	case ModeDevelopment, ModeProduction:
	default:
		return fmt.Errorf("未知的支付模式: %s", c.Payment.Mode)
	}
	if c.Payment.Mode == ModeProduction && c.Payment.WebhookSecret == "" {
		return errors.New("生产模式下必须配置 webhook 签名密钥")
	}
	switch c.Events.Driver {
	case "none", "memory", "redis", "rabbitmq":
	default:
		return fmt.Errorf("不支持的事件驱动: %s", c.Events.Driver)
	}
	switch c.Pricing.Cache.Driver {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("不支持的价格缓存驱动: %s", c.Pricing.Cache.Driver)
	}
	return c.Auth.validate()
}

func (a AuthConfig) validate() error {
	switch a.Mode {
	case AuthDisabled:
	case AuthAPIKey:
		for _, key := range a.APIKeys {
			if strings.TrimSpace(key.Key) != "" {
				return nil
			}
		}
		return fmt.Errorf("api_key 认证需要至少一个密钥，可通过 %s 提供", a.APIKeysEnv)
	case AuthJWT:
		if strings.TrimSpace(a.JWT.Secret) == "" {
			return fmt.Errorf("jwt 认证需要签名密钥，可通过 %s 提供", a.JWT.SecretEnv)
		}
	default:
		return fmt.Errorf("不支持的认证模式: %s", a.Mode)
	}
	return nil
}

// Seconds 将整数秒转换为 time.Duration。
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

package main

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"Nara-Wallet/internal/api"
	"Nara-Wallet/internal/auth"
	"Nara-Wallet/internal/config"
	"Nara-Wallet/internal/identity"
	"Nara-Wallet/internal/intent"
	"Nara-Wallet/internal/ledger"
	"Nara-Wallet/internal/ledger/canister"
	"Nara-Wallet/internal/llm/openai"
	"Nara-Wallet/internal/observability/alerting"
	"Nara-Wallet/internal/payment"
	"Nara-Wallet/internal/payment/stripe"
	"Nara-Wallet/internal/pricing"
	"Nara-Wallet/internal/session"
	"Nara-Wallet/internal/settlement"
	"Nara-Wallet/internal/solvency"
	"Nara-Wallet/internal/storage/sqlstore"
	"Nara-Wallet/pkg/logger"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the wallet HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			err = run(cmd.Context(), cfg)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("narad 运行失败", slog.Any("error", err))
				return err
			}
			return nil
		},
	}
}

// stores 汇总三类持久化接口，内存与 SQL 后端均提供完整实现。
type stores struct {
	sessions    session.Store
	checkouts   payment.Repository
	settlements settlement.Store
	closer      io.Closer
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return &stores{
			sessions:    session.NewMemoryStore(),
			checkouts:   payment.NewMemoryRepository(),
			settlements: settlement.NewMemoryStore(),
		}, nil
	case sqlstore.DriverSQLite, sqlstore.DriverMySQL:
		if cfg.Storage.Driver == sqlstore.DriverSQLite {
			if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
				return nil, err
			}
		}
		store, err := sqlstore.Open(ctx, sqlstore.Config{
			Driver:          cfg.Storage.Driver,
			DSN:             cfg.Storage.DSN,
			MaxOpenConns:    cfg.Storage.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MaxIdleConns,
			ConnMaxLifetime: config.Seconds(cfg.Storage.ConnMaxLifetimeSeconds),
			ConnMaxIdleTime: config.Seconds(cfg.Storage.ConnMaxIdleTimeSeconds),
		})
		if err != nil {
			return nil, err
		}
		return &stores{sessions: store, checkouts: store, settlements: store, closer: store}, nil
	default:
		return nil, sqlstore.ErrUnsupportedDriver
	}
}

func openPriceCache(ctx context.Context, cfg *config.Config) (pricing.Cache, io.Closer, error) {
	switch cfg.Pricing.Cache.Driver {
	case "none":
		return nil, nil, nil
	case "redis":
		cache, err := pricing.NewRedisCache(ctx, pricing.RedisCacheConfig{
			Address:  cfg.Pricing.Cache.Redis.Address,
			Password: cfg.Pricing.Cache.Redis.Password,
			DB:       cfg.Pricing.Cache.Redis.DB,
			Prefix:   cfg.Pricing.Cache.Redis.Key,
		})
		if err != nil {
			return nil, nil, err
		}
		return cache, cache, nil
	default:
		return pricing.NewMemoryCache(), nil, nil
	}
}

// loadControllerKey 按 controller_key、controller_key_path 的顺序读取托管池控制者私钥。
func loadControllerKey(cfg *config.Config) (ledger.Caller, error) {
	text := strings.TrimSpace(cfg.Ledger.ControllerKey)
	if text == "" && cfg.Ledger.ControllerKeyPath != "" {
		content, err := os.ReadFile(cfg.Ledger.ControllerKeyPath)
		if err != nil {
			return ledger.Caller{}, fmt.Errorf("读取控制者私钥失败: %w", err)
		}
		text = string(content)
	}
	if text == "" {
		return ledger.Caller{}, errors.New("未配置托管池控制者私钥")
	}
	key, err := identity.ParsePrivateKey(text)
	if err != nil {
		return ledger.Caller{}, err
	}
	principal, err := identity.PrincipalFromPublicKey(key.Public().(ed25519.PublicKey))
	if err != nil {
		return ledger.Caller{}, err
	}
	return ledger.Caller{Principal: principal, Key: key}, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Named("narad")

	catalog, err := config.LoadAssets(cfg.Assets.DefinitionsPath)
	if err != nil {
		return err
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	if st.closer != nil {
		defer st.closer.Close()
	}

	cache, cacheCloser, err := openPriceCache(ctx, cfg)
	if err != nil {
		return err
	}
	if cacheCloser != nil {
		defer cacheCloser.Close()
	}
	priceOpts := []pricing.Option{}
	if cache != nil {
		priceOpts = append(priceOpts, pricing.WithCache(cache))
	}
	prices := pricing.NewResolver(catalog, pricing.Config{
		CoinGeckoURL:     cfg.Pricing.CoinGeckoURL,
		CryptoCompareURL: cfg.Pricing.CryptoCompareURL,
		Timeout:          config.Seconds(cfg.Pricing.TimeoutSeconds),
		CacheTTL:         config.Seconds(cfg.Pricing.Cache.TTLSeconds),
	}, priceOpts...)

	ledgerClient, err := canister.New(canister.Config{
		GatewayURL:        cfg.Ledger.GatewayURL,
		WalletCanister:    cfg.Ledger.WalletCanister,
		ICPLedgerCanister: cfg.Ledger.ICPLedgerCanister,
		Timeout:           config.Seconds(cfg.Ledger.TimeoutSeconds),
	})
	if err != nil {
		return err
	}
	controller, err := loadControllerKey(cfg)
	if err != nil {
		return err
	}

	sessionOpts := []session.Option{}
	if passphrase := os.Getenv(cfg.Identity.SealPassphraseEnv); passphrase != "" {
		sessionOpts = append(sessionOpts, session.WithSealer(identity.NewSealer(passphrase)))
	} else {
		log.Warn("未配置私钥加密口令，会话私钥将以明文保存")
	}
	sessions := session.NewManager(st.sessions, sessionOpts...)

	queue, err := openEvents(cfg)
	if err != nil {
		return err
	}
	defer queue.Close()

	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.Alerting.SlackWebhookURL != "" {
		notifiers = append(notifiers, &alerting.SlackNotifier{WebhookURL: cfg.Alerting.SlackWebhookURL})
	}
	alerts := alerting.NewFanout(notifiers...)

	var checkout *payment.Manager
	if cfg.Payment.APIKey != "" {
		gateway, err := stripe.New(stripe.Config{
			APIURL:        cfg.Payment.APIURL,
			APIKey:        cfg.Payment.APIKey,
			PublicBaseURL: cfg.Payment.PublicBaseURL,
			Expiry:        config.Seconds(cfg.Payment.GatewayExpirySeconds),
			Timeout:       config.Seconds(cfg.Payment.TimeoutSeconds),
		})
		if err != nil {
			return err
		}
		checkout = payment.NewManager(gateway, st.checkouts,
			payment.WithWindow(payment.DefaultSettlementWindow),
			payment.WithPublisher(queue),
		)
	} else {
		log.Warn("未配置支付网关密钥，购买功能不可用")
	}

	settler := settlement.NewHandler(settlement.Config{
		Secret:             cfg.Payment.WebhookSecret,
		RequireSignature:   cfg.Payment.Mode == config.ModeProduction,
		SignatureTolerance: config.Seconds(cfg.Settlement.SignatureToleranceSeconds),
		Freshness:          config.Seconds(cfg.Settlement.FreshnessSeconds),
	}, st.settlements, prices, ledgerClient, controller,
		settlement.WithCheckouts(st.checkouts),
		settlement.WithPublisher(queue),
		settlement.WithAlerts(alerts),
		settlement.WithCatalog(catalog),
	)

	llmClient, err := openai.NewClient(openai.Config{
		APIKey:  cfg.LLM.OpenAI.APIKey,
		BaseURL: cfg.LLM.OpenAI.BaseURL,
		Model:   cfg.LLM.OpenAI.Model,
		Timeout: config.Seconds(cfg.LLM.TimeoutSeconds),
	})
	if err != nil {
		return err
	}

	deps := intent.Deps{
		Sessions: sessions,
		LLM:      llmClient,
		Ledger:   ledgerClient,
		Prices:   prices,
		Guard:    solvency.NewGuard(catalog, ledgerClient, controller),
		Catalog:  catalog,
		Window:   payment.DefaultSettlementWindow,
	}
	if checkout != nil {
		deps.Payments = checkout
	}
	machine, err := intent.New(deps)
	if err != nil {
		return err
	}

	authSvc, err := newAuthService(cfg.Auth)
	if err != nil {
		return err
	}
	if authSvc.Mode() == auth.ModeDisabled {
		log.Warn("/api/v1 未启用认证，仅适用于本地开发")
	}

	server := api.NewServer(api.Options{
		Address:      cfg.Server.Address,
		Auth:         authSvc,
		Conversation: machine,
		Webhook:      settler,
		Limiter:      api.NewSenderLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst),
		Metrics:      cfg.Server.MetricsEnabled,
	})
	log.Info("narad 已就绪",
		slog.String("address", cfg.Server.Address),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("controller", controller.Principal),
		slog.Duration("settlement_window", time.Duration(cfg.Settlement.FreshnessSeconds)*time.Second),
	)
	return server.Start(ctx)
}

// newAuthService 把配置转换为认证服务。
func newAuthService(cfg config.AuthConfig) (*auth.Service, error) {
	keys := make([]auth.APIKey, 0, len(cfg.APIKeys))
	for _, key := range cfg.APIKeys {
		keys = append(keys, auth.APIKey{Name: key.Name, Key: key.Key, Senders: key.Senders})
	}
	svc, err := auth.NewService(auth.Config{
		Mode:    auth.Mode(cfg.Mode),
		APIKeys: keys,
		JWT: auth.JWTConfig{
			Secret:   cfg.JWT.Secret,
			Issuer:   cfg.JWT.Issuer,
			Audience: cfg.JWT.Audience,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("初始化认证服务失败: %w", err)
	}
	return svc, nil
}

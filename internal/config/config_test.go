package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "nara.json", `{"auth":{"api_keys":[{"key":"k"}]},"payment":{"webhook_secret":"whsec_test"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected address: %s", cfg.Server.Address)
	}
	if cfg.Storage.Driver != "sqlite" || !strings.Contains(cfg.Storage.DSN, filepath.Join(dir, "data")) {
		t.Fatalf("unexpected storage defaults: %+v", cfg.Storage)
	}
	if cfg.LLM.OpenAI.Model != "asi1-mini" || cfg.LLM.OpenAI.BaseURL != "https://api.asi1.ai/v1" {
		t.Fatalf("unexpected llm defaults: %+v", cfg.LLM.OpenAI)
	}
	if cfg.Payment.GatewayExpirySeconds != 1800 || cfg.Settlement.FreshnessSeconds != 300 {
		t.Fatalf("unexpected payment defaults: %+v %+v", cfg.Payment, cfg.Settlement)
	}
	if cfg.Auth.Mode != AuthAPIKey || cfg.Auth.JWT.SecretEnv != "NARA_JWT_SECRET" {
		t.Fatalf("unexpected auth defaults: %+v", cfg.Auth)
	}
	if cfg.Pricing.TimeoutSeconds != 10 {
		t.Fatalf("unexpected pricing timeout: %d", cfg.Pricing.TimeoutSeconds)
	}
}

func TestLoadRequiresSecretInProduction(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "nara.json", `{"payment":{"mode":"production","webhook_secret_env":"NARA_TEST_UNSET_SECRET"}}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error without webhook secret in production mode")
	}

	dev := writeFile(t, dir, "dev.json", `{"auth":{"mode":"disabled"},"payment":{"mode":"development","webhook_secret_env":"NARA_TEST_UNSET_SECRET"}}`)
	if _, err := Load(dev); err != nil {
		t.Fatalf("development mode should allow empty secret: %v", err)
	}
}

func TestResolveSecretsFromEnvironment(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults(t.TempDir())
	env := map[string]string{
		"ASI1_API_KEY":          "llm-key",
		"STRIPE_SECRET_KEY":     "sk_test",
		"STRIPE_WEBHOOK_SECRET": "whsec",
		"NARA_CONTROLLER_KEY":   "deadbeef",
		"NARA_API_KEYS":         "bridge-a, bridge-b",
		"NARA_JWT_SECRET":       "jwt-secret",
	}
	cfg.resolveSecrets(func(k string) string { return env[k] })
	if cfg.LLM.OpenAI.APIKey != "llm-key" || cfg.Payment.APIKey != "sk_test" ||
		cfg.Payment.WebhookSecret != "whsec" || cfg.Ledger.ControllerKey != "deadbeef" {
		t.Fatalf("secrets not resolved: %+v", cfg)
	}
	if len(cfg.Auth.APIKeys) != 2 || cfg.Auth.APIKeys[1].Key != "bridge-b" || cfg.Auth.JWT.Secret != "jwt-secret" {
		t.Fatalf("auth secrets not resolved: %+v", cfg.Auth)
	}
}

func TestValidateAuth(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults(t.TempDir())
	cfg.Payment.WebhookSecret = "x"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for api_key mode without keys")
	}
	cfg.Auth.APIKeys = []APIKeyConfig{{Name: "bridge", Key: "k"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.Auth.Mode = AuthJWT
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for jwt mode without secret")
	}
	cfg.Auth.JWT.Secret = "s"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.Auth.Mode = "oauth"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown auth mode")
	}
}

func TestValidateRejectsUnknownDrivers(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults(t.TempDir())
	cfg.Payment.WebhookSecret = "x"
	cfg.Storage.Driver = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unsupported storage driver error")
	}
	cfg.Storage.Driver = "memory"
	cfg.Events.Driver = "kafka"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unsupported events driver error")
	}
}

func TestLoadAssets(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "assets.yaml", `
assets:
  - symbol: usdc
    exponent: 6
    price_id: usd-coin
    network: Ethereum
`)
	catalog, err := LoadAssets(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	asset, err := catalog.Lookup("USDC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if asset.Exponent != 6 || asset.PriceID != "usd-coin" {
		t.Fatalf("unexpected asset: %+v", asset)
	}
	if _, err := catalog.Lookup("BTC"); err != nil {
		t.Fatalf("builtin asset missing: %v", err)
	}
}

package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Withdrawal rejection policies.
const (
	RejectPolicyRefund = "refund"
	RejectPolicyKeep   = "keep"
)

type Config struct {
	Env  string `env:"APP_ENV" envDefault:"development"`
	Port string `env:"PORT" envDefault:"5200"`

	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// Shared secret the upstream gateway presents as a Bearer token.
	GatewayToken   string   `env:"GATEWAY_TOKEN,required,notEmpty"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	AdminRole      string   `env:"ADMIN_ROLE" envDefault:"admin"`

	WithdrawRejectPolicy string `env:"WITHDRAW_REJECT_POLICY" envDefault:"refund"`

	R2 R2Config

	PayoutExportInterval time.Duration `env:"PAYOUT_EXPORT_INTERVAL" envDefault:"1h"`
	PayoutExportPrefix   string        `env:"PAYOUT_EXPORT_PREFIX" envDefault:"payouts"`

	TaskRegistryURL   string        `env:"TASK_REGISTRY_URL"`
	TaskRegistryPath  string        `env:"TASK_REGISTRY_PATH" envDefault:"/api/v1/public/tasks"`
	TaskRegistryToken string        `env:"TASK_REGISTRY_TOKEN"`
	TaskSyncInterval  time.Duration `env:"TASK_SYNC_INTERVAL" envDefault:"1m"`
}

// R2Config holds Cloudflare R2 (S3 compatible) credentials for payout
// manifests. Export is disabled when Bucket is empty.
type R2Config struct {
	AccountID       string `env:"CLOUDFLARE_ACCOUNT_ID"`
	AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"R2_ACCESS_KEY_SECRET"`
	Bucket          string `env:"R2_BUCKET_NAME"`
	Endpoint        string `env:"R2_ENDPOINT"` // overrides the account-derived endpoint
}

// Enabled reports whether enough is configured to upload manifests.
func (c R2Config) Enabled() bool {
	return c.Bucket != "" && (c.AccountID != "" || c.Endpoint != "")
}

// Production reports whether the service runs with production logging.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

// Load reads an optional .env file, then parses the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}
	return Parse()
}

// Parse builds a Config from the current environment without touching .env.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.WithdrawRejectPolicy = strings.ToLower(strings.TrimSpace(cfg.WithdrawRejectPolicy))
	switch cfg.WithdrawRejectPolicy {
	case RejectPolicyRefund, RejectPolicyKeep:
	default:
		return nil, fmt.Errorf("WITHDRAW_REJECT_POLICY must be %q or %q, got %q",
			RejectPolicyRefund, RejectPolicyKeep, cfg.WithdrawRejectPolicy)
	}

	for i, origin := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(origin)
	}
	if cfg.PayoutExportInterval <= 0 {
		cfg.PayoutExportInterval = time.Hour
	}
	if cfg.TaskSyncInterval <= 0 {
		cfg.TaskSyncInterval = time.Minute
	}
	return &cfg, nil
}

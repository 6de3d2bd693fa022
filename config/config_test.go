package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://ledger@localhost/ledger")
	t.Setenv("GATEWAY_TOKEN", "secret")
}

func TestParseDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, "5200", cfg.Port)
	assert.Equal(t, RejectPolicyRefund, cfg.WithdrawRejectPolicy)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
	assert.Equal(t, time.Hour, cfg.PayoutExportInterval)
	assert.Equal(t, "admin", cfg.AdminRole)
	assert.False(t, cfg.R2.Enabled())
	assert.False(t, cfg.Production())
}

func TestParseOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("WITHDRAW_REJECT_POLICY", " KEEP ")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("APP_ENV", "production")
	t.Setenv("R2_BUCKET_NAME", "payouts")
	t.Setenv("CLOUDFLARE_ACCOUNT_ID", "acc")
	t.Setenv("TASK_SYNC_INTERVAL", "30s")

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, RejectPolicyKeep, cfg.WithdrawRejectPolicy)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.True(t, cfg.Production())
	assert.True(t, cfg.R2.Enabled())
	assert.Equal(t, 30*time.Second, cfg.TaskSyncInterval)
}

func TestParseRejectsUnknownPolicy(t *testing.T) {
	setRequired(t)
	t.Setenv("WITHDRAW_REJECT_POLICY", "burn")

	_, err := Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WITHDRAW_REJECT_POLICY")
}

func TestParseRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("GATEWAY_TOKEN", "secret")

	_, err := Parse()
	require.Error(t, err)
}

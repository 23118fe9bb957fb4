package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"okx-core/pkg/crypto"
)

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "okx.yaml")
	yml := `
inst_id: ETH-USDT-SWAP
leverage: 3
risk_pct: 0.02
order_timeout: 45s
execution_enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	t.Setenv("LEVERAGE", "7")
	t.Setenv("OKX_DEMO", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "ETH-USDT-SWAP", cfg.InstID)
	require.Equal(t, 7, cfg.Leverage)
	require.Equal(t, 0.02, cfg.RiskPct)
	require.Equal(t, 45*time.Second, cfg.OrderTimeout)
	require.True(t, cfg.Demo)
	require.Equal(t, "wss://wspap.okx.com:8443/ws/v5/private", cfg.PrivateWSURL)
	require.Equal(t, "Asia/Singapore", cfg.Timezone)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("EXECUTION_ENABLED", "false")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, "BTC-USDT-SWAP", cfg.InstID)
	require.Equal(t, "sqlite", cfg.DBDriver)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing credentials", func(c *Config) { c.ExecutionEnabled = true }},
		{"bad td mode", func(c *Config) { c.TdMode = "portfolio" }},
		{"zero risk", func(c *Config) { c.RiskPct = 0 }},
		{"ema order", func(c *Config) { c.FastEMA, c.SlowEMA = 20, 10 }},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
		{"bad driver", func(c *Config) { c.DBDriver = "mysql" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.ExecutionEnabled = false
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}

	cfg := Defaults()
	cfg.ExecutionEnabled = false
	require.NoError(t, cfg.Validate())
}

func TestLoadOpensSealedCredentials(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	t.Setenv(crypto.KeyEnv, key)

	kr, err := crypto.LoadKeyring(os.Getenv)
	require.NoError(t, err)
	sealedSecret, err := kr.Seal("okx-secret")
	require.NoError(t, err)

	t.Setenv("OKX_API_KEY", "plain-key")
	t.Setenv("OKX_SECRET_KEY", sealedSecret)
	t.Setenv("OKX_PASSPHRASE", "pp")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "okx-secret", cfg.OKXSecretKey)
	require.Equal(t, "plain-key", cfg.OKXAPIKey)
}

func TestLoadFailsWithoutMasterKey(t *testing.T) {
	t.Setenv("EXECUTION_ENABLED", "false")
	t.Setenv("JWT_SECRET", "ENC[v1]:AAAA")
	_, err := Load("")
	require.ErrorIs(t, err, crypto.ErrNoKeys)
}

package app

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nitropay/internal/domain"
	nplog "nitropay/internal/log"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nitropay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func envMap(m map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	asset, ok := cfg.AssetInfo()
	require.True(t, ok)
	assert.Equal(t, domain.AssetSymbol("ytest.usd"), asset.Symbol)
	assert.Equal(t, int32(6), asset.Decimals)
	assert.Equal(t, SepoliaChainID, asset.ChainID)
	assert.Equal(t, DefaultClearnodeURL, cfg.ClearnodeURL)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
	assert.True(t, cfg.Allowance.Equal(decimal.NewFromInt(1000)))
}

func TestMergeFile(t *testing.T) {
	path := writeConfig(t, `
clearnode_url: ws://127.0.0.1:8000/ws
session_ttl: 30m
allowance: "25.5"
asset: usdc
assets:
  - symbol: usdc
    token: "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"
    chain_id: 11155111
    decimals: 6
request_timeout: 5s
api:
  listen: ":9000"
`)
	cfg := Default()
	require.NoError(t, cfg.mergeFile(path))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "ws://127.0.0.1:8000/ws", cfg.ClearnodeURL)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.True(t, cfg.Allowance.Equal(decimal.RequireFromString("25.5")))
	require.Len(t, cfg.Assets, 1)
	assert.Equal(t, common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"), cfg.Assets[0].Token)
	assert.Equal(t, ":9000", cfg.API.Listen)
	assert.Equal(t, 60, cfg.API.IntentLimit)
	// Untouched keys keep their defaults.
	assert.Equal(t, DefaultApplication, cfg.Application)
}

func TestMergeFileRejectsUnknownKeys(t *testing.T) {
	cfg := Default()
	err := cfg.mergeFile(writeConfig(t, "clearnode: ws://x\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestMergeFileRejectsTrailingDocuments(t *testing.T) {
	cfg := Default()
	require.Error(t, cfg.mergeFile(writeConfig(t, "scope: a\n---\nscope: b\n")))
}

func TestEmptyFileKeepsDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.mergeFile(writeConfig(t, "")))
	assert.Equal(t, Default().ClearnodeURL, cfg.ClearnodeURL)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"NITROPAY_CLEARNODE_URL":   "ws://localhost:8000/ws",
		"NITROPAY_SESSION_TTL":     "2h",
		"NITROPAY_ALLOWANCE":       "10",
		"NITROPAY_BROKER":          "0x00000000000000000000000000000000000000aa",
		"NITROPAY_RPC_URL":         "http://localhost:8545",
		"NITROPAY_CONFIRM_TIMEOUT": "",
		"NITROPAY_LOG_LEVEL":       "debug",
	}))
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:8000/ws", cfg.ClearnodeURL)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.True(t, cfg.Allowance.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, common.HexToAddress("0xaa"), cfg.Broker)
	assert.Equal(t, 5*time.Minute, cfg.ConfirmTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	n, ok := cfg.Network(SepoliaChainID)
	require.True(t, ok)
	assert.Equal(t, "http://localhost:8545", n.RPCURL)

	overrides := cfg.EnvOverrides()
	assert.Len(t, overrides, 6)
	assert.NotContains(t, overrides, "CONFIRM_TIMEOUT")
	assert.Equal(t, "debug", overrides["LOG_LEVEL"])
}

func TestEnvOverridesLogMasksCredentials(t *testing.T) {
	var buf bytes.Buffer
	l := nplog.New(nplog.Config{Level: "debug", Output: &buf})
	logEnvOverrides(l, map[string]string{
		"RPC_URL":   "https://sepolia.example/v3/secret-project-key",
		"LOG_LEVEL": "debug",
	})

	out := buf.String()
	assert.NotContains(t, out, "secret-project-key")
	assert.Contains(t, out, `"key":"NITROPAY_RPC_URL","value":"`+nplog.RedactedValue+`"`)
	assert.Contains(t, out, `"key":"NITROPAY_LOG_LEVEL","value":"debug"`)
}

func TestApplyEnvReportsBadValues(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"NITROPAY_SESSION_TTL": "forever",
		"NITROPAY_ALLOWANCE":   "lots",
		"NITROPAY_BROKER":      "bob",
	}))
	require.Error(t, err)
	for _, key := range []string{"NITROPAY_SESSION_TTL", "NITROPAY_ALLOWANCE", "NITROPAY_BROKER"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"http url", func(c *Config) { c.ClearnodeURL = "https://example.com" }, "clearnode_url"},
		{"zero ttl", func(c *Config) { c.SessionTTL = 0 }, "session_ttl"},
		{"negative allowance", func(c *Config) { c.Allowance = decimal.NewFromInt(-1) }, "allowance"},
		{"undeclared asset", func(c *Config) { c.Asset = "ytest.eur" }, "not declared"},
		{"duplicate asset", func(c *Config) { c.Assets = append(c.Assets, c.Assets[0]) }, "declared twice"},
		{"no network", func(c *Config) { c.Networks = nil }, "no network"},
		{"no custody", func(c *Config) { c.Networks[0].Custody = common.Address{} }, "custody"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSessionConfig(t *testing.T) {
	cfg := Default()
	cfg.Broker = common.HexToAddress("0xbb")
	sc := cfg.SessionConfig()

	assert.Equal(t, cfg.Application, sc.Application)
	assert.Equal(t, domain.AssetSymbol("ytest.usd"), sc.Asset.Symbol)
	require.Len(t, sc.Allowances, 1)
	assert.Equal(t, "ytest.usd", sc.Allowances[0].Asset)
	assert.True(t, sc.Allowances[0].Amount.Equal(cfg.Allowance))
	assert.Equal(t, cfg.Broker, sc.Broker)
	assert.Len(t, sc.Assets, 2)
}

func TestLoad(t *testing.T) {
	t.Setenv("NITROPAY_SCOPE", "checkout")
	cfg, err := Load(writeConfig(t, "application: shop\n"))
	require.NoError(t, err)
	assert.Equal(t, "shop", cfg.Application)
	assert.Equal(t, "checkout", cfg.Scope)

	t.Setenv("NITROPAY_REQUEST_TIMEOUT", "-1s")
	_, err = Load("")
	require.Error(t, err)
}

package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

const sampleYAML = `
network: eip155:1514
rpc_url: https://rpc.example.com
wallet:
  private_key: ${CLEARSKY_TEST_KEY}
backend:
  url: https://api.clearsky.example
polling:
  interval: 500ms
  max_attempts: 30
redis:
  addr: localhost:6379
license:
  max_minting_fee: "0.5"
log:
  level: DEBUG
  development: true
`

func TestLoadFromReader(t *testing.T) {
	t.Setenv("CLEARSKY_TEST_KEY", "0xabc")

	cfg, err := LoadFromReader(strings.NewReader(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "eip155:1514", cfg.Network)
	assert.Equal(t, "0xabc", cfg.Wallet.PrivateKey)
	assert.Equal(t, 500*time.Millisecond, cfg.Polling.Interval)
	assert.Equal(t, 30, cfg.Polling.MaxAttempts)
	assert.Equal(t, 24*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, "clearsky:", cfg.Redis.Prefix)
	assert.Equal(t, ":8080", cfg.Service.Listen)
	assert.Equal(t, "debug", cfg.Log.Level)

	chain, err := cfg.Chain()
	require.NoError(t, err)
	assert.Equal(t, int64(1514), chain.ChainID.Int64())
	require.NotEmpty(t, chain.RPCURLs)
	assert.Equal(t, "https://rpc.example.com", chain.RPCURLs[0])
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	require.NoError(t, err)

	assert.Equal(t, "eip155:1315", cfg.Network)
	assert.Equal(t, 2*time.Second, cfg.Polling.Interval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.EqualValues(t, 1, cfg.Service.Confirmations)
}

func TestChains(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("network: aeneid\nrpc_url: https://rpc.example.com\n"))
	require.NoError(t, err)

	chains, err := cfg.Chains()
	require.NoError(t, err)
	require.Len(t, chains, 2)

	assert.EqualValues(t, "eip155:1315", chains[0].Network)
	assert.Equal(t, "https://rpc.example.com", chains[0].RPCURLs[0])
	assert.EqualValues(t, "eip155:1514", chains[1].Network)
	assert.Equal(t, []string{"https://mainnet.storyrpc.io"}, chains[1].RPCURLs)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CLEARSKY_NETWORK", "eip155:1315")
	t.Setenv("CLEARSKY_POLL_MAX_ATTEMPTS", "5")
	t.Setenv("CLEARSKY_LOG_DEVELOPMENT", "true")
	t.Setenv("CLEARSKY_LISTEN", "127.0.0.1:9000")

	cfg, err := LoadFromReader(strings.NewReader(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "eip155:1315", cfg.Network)
	assert.Equal(t, 5, cfg.Polling.MaxAttempts)
	assert.True(t, cfg.Log.Development)
	assert.Equal(t, "127.0.0.1:9000", cfg.Service.Listen)

	t.Setenv("CLEARSKY_POLL_MAX_ATTEMPTS", "many")
	_, err = LoadFromReader(strings.NewReader(""))
	assert.ErrorContains(t, err, "CLEARSKY_POLL_MAX_ATTEMPTS")
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown network", "network: eip155:1", "unsupported network"},
		{"bad interval", "polling:\n  interval: soon", "polling.interval"},
		{"negative interval", "polling:\n  interval: -1s", "must be positive"},
		{"bad level", "log:\n  level: loud", "Level"},
		{"bad backend url", "backend:\n  url: not a url", "URL"},
		{"key and provider", "wallet:\n  private_key: 0x01\n  provider_url: http://localhost:8545", "PrivateKey"},
		{"bad fee", "license:\n  max_minting_fee: lots", "max_minting_fee"},
		{"malformed", "network: [", "unmarshal config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromReader(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")
	_, err := Load("/nonexistent/clearsky.yaml")
	assert.ErrorContains(t, err, "open config")
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("warn", false)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	_, err = NewLogger("chatty", true)
	assert.Error(t, err)
}

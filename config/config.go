// Package config loads the ClearSky configuration from a YAML file, a .env
// file and CLEARSKY_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	clearsky "github.com/clearskynet/clearsky/go"
	"github.com/clearskynet/clearsky/go/mechanisms/evm"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "CLEARSKY_"

// Config is the full runtime configuration
type Config struct {
	Network string        `yaml:"network" validate:"required"`
	RPCURL  string        `yaml:"rpc_url" validate:"omitempty,url"`
	Wallet  WalletConfig  `yaml:"wallet"`
	Backend BackendConfig `yaml:"backend"`
	Auth    AuthConfig    `yaml:"auth"`
	Redis   RedisConfig   `yaml:"redis"`
	NATS    NATSConfig    `yaml:"nats"`
	Polling PollingConfig `yaml:"polling"`
	License LicenseConfig `yaml:"license"`
	Service ServiceConfig `yaml:"service"`
	Log     LogConfig     `yaml:"log"`
}

// WalletConfig selects the buyer wallet: a local key or a provider endpoint
type WalletConfig struct {
	PrivateKey  string `yaml:"private_key" validate:"omitempty,excluded_with=ProviderURL"`
	ProviderURL string `yaml:"provider_url" validate:"omitempty,url"`
}

// BackendConfig points at the marketplace backend
type BackendConfig struct {
	URL   string `yaml:"url" validate:"omitempty,url"`
	Token string `yaml:"token"`
}

// AuthConfig configures the embedded-wallet provider and sessions
type AuthConfig struct {
	ProviderURL   string        `yaml:"provider_url" validate:"omitempty,url"`
	ProjectID     string        `yaml:"project_id"`
	SessionTTL    time.Duration `yaml:"-"`
	SessionTTLRaw string        `yaml:"session_ttl"`
}

// RedisConfig enables the Redis purchase journal when Addr is set
type RedisConfig struct {
	Addr     string `yaml:"addr" validate:"omitempty,hostname_port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	Prefix   string `yaml:"prefix"`
}

// NATSConfig enables NATS notifications when URL is set
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// PollingConfig controls receipt polling
type PollingConfig struct {
	Interval    time.Duration `yaml:"-"`
	IntervalRaw string        `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts" validate:"gte=0"`
}

// LicenseConfig bounds what a license mint may cost
type LicenseConfig struct {
	MaxMintingFee   string `yaml:"max_minting_fee"`
	MaxRevenueShare uint32 `yaml:"max_revenue_share" validate:"lte=100000000"`
}

// ServiceConfig configures the marketplace service
type ServiceConfig struct {
	Listen        string `yaml:"listen"`
	Confirmations uint64 `yaml:"confirmations"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

var dotenvOnce sync.Once

// LoadDotenvOnce loads .env (or the file named by ENV_FILE) into the
// environment. Variables already set win. NO_DOTENV=1 disables it.
func LoadDotenvOnce() {
	dotenvOnce.Do(func() {
		if os.Getenv("NO_DOTENV") == "1" {
			return
		}
		if envFile := os.Getenv("ENV_FILE"); envFile != "" {
			_ = godotenv.Load(envFile)
			return
		}
		_ = godotenv.Load()
	})
}

// Load reads the configuration at path. An empty path skips the file and
// builds the configuration from defaults and the environment.
func Load(path string) (*Config, error) {
	LoadDotenvOnce()
	if path == "" {
		return LoadFromReader(strings.NewReader(""))
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	return LoadFromReader(file)
}

// LoadFromReader builds a Config from YAML, then applies environment
// overrides, defaults and validation
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.parseDurations(); err != nil {
		return nil, err
	}
	cfg.expandFields()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"NETWORK":             &c.Network,
		"RPC_URL":             &c.RPCURL,
		"PRIVATE_KEY":         &c.Wallet.PrivateKey,
		"WALLET_PROVIDER_URL": &c.Wallet.ProviderURL,
		"BACKEND_URL":         &c.Backend.URL,
		"BACKEND_TOKEN":       &c.Backend.Token,
		"AUTH_PROVIDER_URL":   &c.Auth.ProviderURL,
		"AUTH_PROJECT_ID":     &c.Auth.ProjectID,
		"SESSION_TTL":         &c.Auth.SessionTTLRaw,
		"REDIS_ADDR":          &c.Redis.Addr,
		"REDIS_PASSWORD":      &c.Redis.Password,
		"NATS_URL":            &c.NATS.URL,
		"POLL_INTERVAL":       &c.Polling.IntervalRaw,
		"LISTEN":              &c.Service.Listen,
		"LOG_LEVEL":           &c.Log.Level,
	}
	for name, field := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*field = strings.TrimSpace(v)
		}
	}

	ints := map[string]*int{
		"REDIS_DB":          &c.Redis.DB,
		"POLL_MAX_ATTEMPTS": &c.Polling.MaxAttempts,
	}
	for name, field := range ints {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: invalid %s%s %q: %w", EnvPrefix, name, v, err)
		}
		*field = n
	}

	if v, ok := lookup(EnvPrefix + "LOG_DEVELOPMENT"); ok {
		dev, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: invalid %sLOG_DEVELOPMENT %q: %w", EnvPrefix, v, err)
		}
		c.Log.Development = dev
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Network == "" {
		c.Network = string(evm.NetworkStoryAeneid)
	}
	if c.Polling.IntervalRaw == "" {
		c.Polling.IntervalRaw = clearsky.DefaultPollInterval.String()
	}
	if c.Auth.SessionTTLRaw == "" {
		c.Auth.SessionTTLRaw = "24h"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "clearsky:"
	}
	if c.Service.Listen == "" {
		c.Service.Listen = ":8080"
	}
	if c.Service.Confirmations == 0 {
		c.Service.Confirmations = evm.DefaultConfirmations
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) parseDurations() error {
	interval, err := time.ParseDuration(c.Polling.IntervalRaw)
	if err != nil {
		return fmt.Errorf("config: invalid polling.interval %q: %w", c.Polling.IntervalRaw, err)
	}
	if interval <= 0 {
		return fmt.Errorf("config: polling.interval must be positive, got %s", interval)
	}
	ttl, err := time.ParseDuration(c.Auth.SessionTTLRaw)
	if err != nil {
		return fmt.Errorf("config: invalid auth.session_ttl %q: %w", c.Auth.SessionTTLRaw, err)
	}
	c.Polling.Interval = interval
	c.Auth.SessionTTL = ttl
	return nil
}

func (c *Config) expandFields() {
	c.Wallet.PrivateKey = strings.TrimSpace(os.ExpandEnv(c.Wallet.PrivateKey))
	c.Backend.Token = strings.TrimSpace(os.ExpandEnv(c.Backend.Token))
	c.Redis.Password = os.ExpandEnv(c.Redis.Password)
	c.Log.Level = strings.ToLower(c.Log.Level)
}

// Validate checks field constraints and that the network is known
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("config: %s failed %q validation", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("config: %w", err)
	}
	if _, err := evm.GetChainConfig(c.Network); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.License.MaxMintingFee != "" {
		if _, err := evm.ParseAmount(c.License.MaxMintingFee, clearsky.NativeDecimals); err != nil {
			return fmt.Errorf("config: license.max_minting_fee: %w", err)
		}
	}
	return nil
}

// Chain returns the configured chain, with RPCURL tried first when set
func (c *Config) Chain() (clearsky.ChainConfig, error) {
	chain, err := evm.GetChainConfig(c.Network)
	if err != nil {
		return clearsky.ChainConfig{}, err
	}
	if c.RPCURL != "" {
		chain.RPCURLs = append([]string{c.RPCURL}, chain.RPCURLs...)
	}
	return chain, nil
}

// Chains returns every supported chain, the configured one carrying the
// rpc_url override, so listings on any of them can be paid
func (c *Config) Chains() ([]clearsky.ChainConfig, error) {
	configured, err := c.Chain()
	if err != nil {
		return nil, err
	}
	chains := make([]clearsky.ChainConfig, 0, len(evm.ChainConfigs))
	for network, chain := range evm.ChainConfigs {
		if network == configured.Network {
			chain = configured
		}
		chains = append(chains, chain)
	}
	sort.Slice(chains, func(i, j int) bool {
		return chains[i].ChainID.Cmp(chains[j].ChainID) < 0
	})
	return chains, nil
}

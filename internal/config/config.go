// ABOUTME: Persisted keystore configuration: policy, overrides, salt, endpoints.
// ABOUTME: TOML on disk, atomic saves, SKIFF_* environment overrides.

package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"

	"github.com/skiffworks/skiff/internal/fsutil"
	"github.com/skiffworks/skiff/internal/policy"
)

const defaultSessionSeconds = 1800

// RPC holds chain endpoint configuration.
type RPC struct {
	EVMRPCURL    string `toml:"evm_rpc_url"`
	EVMChainID   int64  `toml:"evm_chain_id"`
	SolanaRPCURL string `toml:"solana_rpc_url"`
}

// HTTP holds the keyless data-provider endpoints.
type HTTP struct {
	PriceBaseURL       string `toml:"price_base_url"`
	SwapBaseURL        string `toml:"swap_base_url"`
	OFACSDNURL         string `toml:"ofac_sdn_url"`
	OFACRefreshSeconds int    `toml:"ofac_refresh_seconds"`
}

// Config is the whole persisted configuration. Loaded once per process start,
// mutated in place under the write lock, saved atomically after every mutation.
type Config struct {
	Policy          policy.Policy            `toml:"policy"`
	PolicyOverrides map[string]policy.Policy `toml:"policy_overrides"`

	PassphraseSaltB64        string `toml:"passphrase_salt_b64"`
	PassphraseSessionSeconds int    `toml:"passphrase_session_seconds"`

	RPC  RPC  `toml:"rpc"`
	HTTP HTTP `toml:"http"`
}

// envOverrides are applied on top of the file after load; they are never
// written back.
type envOverrides struct {
	EVMRPCURL    string `envconfig:"EVM_RPC_URL"`
	SolanaRPCURL string `envconfig:"SOLANA_RPC_URL"`
	PriceBaseURL string `envconfig:"PRICE_BASE_URL"`
	SwapBaseURL  string `envconfig:"SWAP_BASE_URL"`
	OFACSDNURL   string `envconfig:"OFAC_SDN_URL"`
}

// Default returns a fresh configuration with the shipped policy and public
// keyless endpoints.
func Default() *Config {
	return &Config{
		Policy:                   policy.Default(),
		PolicyOverrides:          map[string]policy.Policy{},
		PassphraseSessionSeconds: defaultSessionSeconds,
		RPC: RPC{
			EVMRPCURL:    "https://eth.llamarpc.com",
			EVMChainID:   1,
			SolanaRPCURL: "https://api.mainnet-beta.solana.com",
		},
		HTTP: HTTP{
			PriceBaseURL: "https://api.coingecko.com/api/v3",
			SwapBaseURL:  "https://quote-api.jup.ag/v6",
			// No keyless public feed publishes per-chain SDN address JSON;
			// operators point this at their own mirror. Empty disables the
			// list and sanctions checks degrade to a logged miss.
			OFACSDNURL:         "",
			OFACRefreshSeconds: 24 * 3600,
		},
	}
}

// Load reads the config at path, filling absent fields from Default and
// applying SKIFF_* environment overrides on top. A missing file yields the
// defaults, so first run needs no setup step.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// First run.
	default:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if cfg.PolicyOverrides == nil {
		cfg.PolicyOverrides = map[string]policy.Policy{}
	}
	if cfg.PassphraseSessionSeconds <= 0 {
		cfg.PassphraseSessionSeconds = defaultSessionSeconds
	}

	var env envOverrides
	if err := envconfig.Process("skiff", &env); err != nil {
		return nil, fmt.Errorf("processing env overrides: %w", err)
	}
	if env.EVMRPCURL != "" {
		cfg.RPC.EVMRPCURL = env.EVMRPCURL
	}
	if env.SolanaRPCURL != "" {
		cfg.RPC.SolanaRPCURL = env.SolanaRPCURL
	}
	if env.PriceBaseURL != "" {
		cfg.HTTP.PriceBaseURL = env.PriceBaseURL
	}
	if env.SwapBaseURL != "" {
		cfg.HTTP.SwapBaseURL = env.SwapBaseURL
	}
	if env.OFACSDNURL != "" {
		cfg.HTTP.OFACSDNURL = env.OFACSDNURL
	}

	return cfg, nil
}

// Save persists the config atomically with owner-only permissions.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, buf.Bytes(), fsutil.ModeFilePrivate); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	return nil
}

// PolicyForWallet resolves the effective policy for a wallet name. An empty
// name asks for the global policy. The bool reports whether a per-wallet
// override was in effect.
func (c *Config) PolicyForWallet(name string) (policy.Policy, bool) {
	if name != "" {
		if p, ok := c.PolicyOverrides[name]; ok {
			return p, true
		}
	}
	return c.Policy, false
}

// SetPolicyOverride installs or replaces a per-wallet override.
func (c *Config) SetPolicyOverride(name string, p policy.Policy) {
	if c.PolicyOverrides == nil {
		c.PolicyOverrides = map[string]policy.Policy{}
	}
	c.PolicyOverrides[name] = p
}

// ClearPolicyOverride removes a per-wallet override, reporting whether one
// existed.
func (c *Config) ClearPolicyOverride(name string) bool {
	_, ok := c.PolicyOverrides[name]
	delete(c.PolicyOverrides, name)
	return ok
}

// SessionTTL is the passphrase session lifetime.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.PassphraseSessionSeconds) * time.Second
}

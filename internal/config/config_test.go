// ABOUTME: Tests for configuration load/save and policy resolution.
// ABOUTME: Covers defaults, round-trips, env overrides, override precedence.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skiffworks/skiff/internal/policy"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)

	assert.Equal(t, policy.Default(), cfg.Policy)
	assert.Equal(t, 1800, cfg.PassphraseSessionSeconds)
	assert.NotEmpty(t, cfg.RPC.EVMRPCURL)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := Default()
	cfg.Policy.AutoApproveUSD = 42
	cfg.PassphraseSaltB64 = "c2FsdHNhbHRzYWx0c2FsdA=="
	override := policy.Default()
	override.AutoApproveUSD = 0
	cfg.SetPolicyOverride("savings", override)
	require.NoError(t, cfg.Save(path))

	// Private permissions on the saved file.
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 42.0, got.Policy.AutoApproveUSD)
	assert.Equal(t, cfg.PassphraseSaltB64, got.PassphraseSaltB64)

	p, isOverride := got.PolicyForWallet("savings")
	assert.True(t, isOverride)
	assert.Equal(t, 0.0, p.AutoApproveUSD)
}

func TestPolicyForWallet_Precedence(t *testing.T) {
	cfg := Default()
	cfg.Policy.AutoApproveUSD = 100

	override := policy.Default()
	override.AutoApproveUSD = 7
	cfg.SetPolicyOverride("w1", override)

	p, isOverride := cfg.PolicyForWallet("w1")
	assert.True(t, isOverride)
	assert.Equal(t, 7.0, p.AutoApproveUSD)

	p, isOverride = cfg.PolicyForWallet("other")
	assert.False(t, isOverride)
	assert.Equal(t, 100.0, p.AutoApproveUSD)

	p, isOverride = cfg.PolicyForWallet("")
	assert.False(t, isOverride)
	assert.Equal(t, 100.0, p.AutoApproveUSD)
}

func TestClearPolicyOverride(t *testing.T) {
	cfg := Default()
	cfg.SetPolicyOverride("w1", policy.Default())

	assert.True(t, cfg.ClearPolicyOverride("w1"))
	assert.False(t, cfg.ClearPolicyOverride("w1"))

	_, isOverride := cfg.PolicyForWallet("w1")
	assert.False(t, isOverride)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SKIFF_EVM_RPC_URL", "http://127.0.0.1:8545")
	t.Setenv("SKIFF_PRICE_BASE_URL", "http://localhost:9999")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:8545", cfg.RPC.EVMRPCURL)
	assert.Equal(t, "http://localhost:9999", cfg.HTTP.PriceBaseURL)
	// Untouched endpoints keep their defaults.
	assert.Equal(t, Default().RPC.SolanaRPCURL, cfg.RPC.SolanaRPCURL)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("passphrase_session_seconds = 60\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.PassphraseSessionSeconds)
	assert.Equal(t, policy.Default().MaxUSDPerDay, cfg.Policy.MaxUSDPerDay)
}

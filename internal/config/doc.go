// Package config handles the persisted configuration for a skiff keystore.
//
// # Overview
//
// Configuration lives in a single TOML file inside the keystore config
// directory. It holds the global policy, per-wallet policy overrides, the
// passphrase salt, the session TTL, and the chain/data-provider endpoints.
// Loading a missing file yields working defaults, so the first run needs no
// setup step.
//
// # File
//
//	[policy]
//	auto_approve_usd = 10.0
//	max_usd_per_tx = 100.0
//	enable_send = true
//
//	[policy_overrides.savings]
//	auto_approve_usd = 0.0
//
//	passphrase_salt_b64 = "..."
//	passphrase_session_seconds = 1800
//
//	[rpc]
//	evm_rpc_url = "https://eth.llamarpc.com"
//	solana_rpc_url = "https://api.mainnet-beta.solana.com"
//
//	[http]
//	price_base_url = "https://api.coingecko.com/api/v3"
//
// # Environment Overrides
//
// Endpoint fields can be overridden without touching the file:
//
//	SKIFF_EVM_RPC_URL, SKIFF_SOLANA_RPC_URL,
//	SKIFF_PRICE_BASE_URL, SKIFF_OFAC_SDN_URL
//
// Overrides apply after load and are never written back.
//
// # Mutation
//
// The config is loaded once per process start. Every mutation happens under
// the keystore write lock and is followed by an atomic Save, so concurrent
// processes never observe a torn file and never lose each other's updates.
package config

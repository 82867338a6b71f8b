// ABOUTME: Policy type, defaults, and JSON/TOML shape.
// ABOUTME: A policy decides whether a value-moving action runs silently or not.

package policy

// Policy is one rule set, applied either globally or as a per-wallet override.
// The zero value is NOT a usable policy; start from Default().
type Policy struct {
	// Auto-approve at or below this USD amount.
	AutoApproveUSD float64 `json:"auto_approve_usd" toml:"auto_approve_usd"`
	// Hard-block above this USD amount regardless of confirmation.
	HardBlockOverUSD float64 `json:"hard_block_over_usd" toml:"hard_block_over_usd"`

	// Hard per-transaction USD limit, independent of tiering.
	MaxUSDPerTx float64 `json:"max_usd_per_tx" toml:"max_usd_per_tx"`
	// Daily (UTC) aggregate USD limit across write ops.
	MaxUSDPerDay float64 `json:"max_usd_per_day" toml:"max_usd_per_day"`

	// Maximum allowed slippage for swaps, in basis points.
	MaxSlippageBps uint32 `json:"max_slippage_bps" toml:"max_slippage_bps"`

	// Refuse any write op whose USD value cannot be computed. Fail closed:
	// this prevents "usd_value=0" from turning into auto-approval.
	DenyUnknownUSDValue bool `json:"deny_unknown_usd_value" toml:"deny_unknown_usd_value"`

	// Operation toggles.
	EnableSend bool `json:"enable_send" toml:"enable_send"`
	EnableSwap bool `json:"enable_swap" toml:"enable_swap"`
	EnableNFT  bool `json:"enable_nft" toml:"enable_nft"`

	// OFAC SDN blocking. Users can disable this if it is not applicable to
	// their jurisdiction.
	EnableOFACSDN bool `json:"enable_ofac_sdn" toml:"enable_ofac_sdn"`

	// Transfers between wallets managed by this keystore cannot exfiltrate
	// funds to an external recipient; when true they bypass tiering and USD
	// caps (hard blocks like OFAC still apply).
	InternalTransfersExempt bool `json:"internal_transfers_exempt" toml:"internal_transfers_exempt"`

	// Allow sending to any address (disables allowlisting).
	SendAllowAny bool `json:"send_allow_any" toml:"send_allow_any"`
	// Recipients allowed for sends. If empty and SendAllowAny is false, all
	// sends are blocked.
	SendAllowlist []string `json:"send_allowlist" toml:"send_allowlist"`

	// NFT risk control.
	MaxUSDPerNFTTx float64 `json:"max_usd_per_nft_tx" toml:"max_usd_per_nft_tx"`
}

// Default returns the shipped policy: small amounts auto-approve, everything
// else confirms, sends blocked until the user allowlists a recipient.
func Default() Policy {
	return Policy{
		AutoApproveUSD:   10.0,
		HardBlockOverUSD: 1_000.0,

		MaxUSDPerTx:  100.0,
		MaxUSDPerDay: 500.0,

		MaxSlippageBps: 100, // 1.0%

		DenyUnknownUSDValue: true,

		EnableSend:    true,
		EnableSwap:    true,
		EnableNFT:     true,
		EnableOFACSDN: true,

		InternalTransfersExempt: true,

		SendAllowAny:  false,
		SendAllowlist: nil,

		MaxUSDPerNFTTx: 100.0,
	}
}

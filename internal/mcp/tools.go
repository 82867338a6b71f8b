// ABOUTME: Tool registry: names, descriptions, and input schemas.
// ABOUTME: Handlers live in tools_wallet, tools_policy, tools_read, tools_write.

package mcp

// nativeAsset maps a chain to its gas/native asset ticker.
var nativeAsset = map[string]string{
	"evm":    "eth",
	"solana": "sol",
}

// chainDecimals is the native asset's base-unit precision per chain.
var chainDecimals = map[string]int{
	"evm":    18,
	"solana": 9,
}

// assetDecimals covers the swappable assets.
var assetDecimals = map[string]int{
	"eth":  18,
	"sol":  9,
	"usdc": 6,
	"usdt": 6,
}

func (s *Server) registerTools() {
	s.addTool("create_wallet",
		"Create a passphrase-protected wallet. Returns the wallet plus a one-time recovery share; the share is never stored and cannot be shown again.",
		`{"type":"object","properties":{"name":{"type":"string","description":"Unique wallet name"},"passphrase":{"type":"string","description":"Wallet passphrase; prompted interactively when omitted"}},"required":["name"]}`,
		s.toolCreateWallet)

	s.addTool("create_wallet_no_passphrase",
		"Create a wallet protected only by this machine's secret. No passphrase is ever needed, and no unlock prompt will appear.",
		`{"type":"object","properties":{"name":{"type":"string","description":"Unique wallet name"}},"required":["name"]}`,
		s.toolCreateWalletNoPassphrase)

	s.addTool("import_wallet",
		"Import an externally generated root secret under a passphrase.",
		`{"type":"object","properties":{"name":{"type":"string"},"secret_b64":{"type":"string","description":"Base64-encoded root secret"},"passphrase":{"type":"string","description":"Prompted interactively when omitted"}},"required":["name","secret_b64"]}`,
		s.toolImportWallet)

	s.addTool("list_wallets",
		"List all wallets and the active (wallet, account index) selection.",
		`{"type":"object","properties":{}}`,
		s.toolListWallets)

	s.addTool("wallet_info",
		"Show one wallet's accounts and per-chain addresses. Defaults to the active wallet.",
		`{"type":"object","properties":{"wallet":{"type":"string"}}}`,
		s.toolWalletInfo)

	s.addTool("set_active_wallet",
		"Select the default (wallet, account index) pair for requests that omit explicit selectors.",
		`{"type":"object","properties":{"wallet":{"type":"string"},"account_index":{"type":"integer","minimum":0}},"required":["wallet"]}`,
		s.toolSetActiveWallet)

	s.addTool("add_account",
		"Derive the next account index for a wallet across all configured chains.",
		`{"type":"object","properties":{"wallet":{"type":"string","description":"Defaults to the active wallet"}}}`,
		s.toolAddAccount)

	s.addTool("rotate_shares",
		"Re-split a generated wallet's secret and return a fresh recovery share. The previous recovery share stops working.",
		`{"type":"object","properties":{"wallet":{"type":"string","description":"Defaults to the active wallet"}}}`,
		s.toolRotateShares)

	s.addTool("get_policy",
		"Show the effective spending policy for a wallet, or the global policy when no wallet is given.",
		`{"type":"object","properties":{"wallet":{"type":"string"}}}`,
		s.toolGetPolicy)

	s.addTool("update_policy",
		"Update the global policy or set a per-wallet override. The submitted fields are validated as a whole; invalid input is rejected without partial application.",
		`{"type":"object","properties":{"wallet":{"type":"string","description":"When set, updates this wallet's override"},"policy":{"type":"object","description":"Policy fields to change"}},"required":["policy"]}`,
		s.toolUpdatePolicy)

	s.addTool("clear_policy_override",
		"Remove a wallet's policy override so the global policy applies again.",
		`{"type":"object","properties":{"wallet":{"type":"string"}},"required":["wallet"]}`,
		s.toolClearPolicyOverride)

	s.addTool("get_balance",
		"Read native-asset balances for an account, with a best-effort USD estimate.",
		`{"type":"object","properties":{"wallet":{"type":"string"},"account_index":{"type":"integer","minimum":0},"chain":{"type":"string","enum":["evm","solana"]}}}`,
		s.toolGetBalance)

	s.addTool("get_tx_history",
		"Query the transaction ledger, newest first.",
		`{"type":"object","properties":{"wallet":{"type":"string"},"chain":{"type":"string"},"type":{"type":"string"},"since":{"type":"string","format":"date-time"},"until":{"type":"string","format":"date-time"},"limit":{"type":"integer","minimum":1,"maximum":1000}}}`,
		s.toolGetTxHistory)

	s.addTool("send",
		"Send native asset to an address. Subject to policy evaluation and, above the auto-approve threshold, user confirmation.",
		`{"type":"object","properties":{"chain":{"type":"string","enum":["evm","solana"]},"to":{"type":"string"},"amount":{"type":"string","description":"Decimal amount in UI units, e.g. \"0.05\""},"wallet":{"type":"string"},"account_index":{"type":"integer","minimum":0}},"required":["chain","to","amount"]}`,
		s.toolSend)

	s.addTool("swap",
		"Swap one asset for another through the configured aggregator. Subject to policy and slippage limits.",
		`{"type":"object","properties":{"chain":{"type":"string","enum":["solana"]},"sell_asset":{"type":"string"},"buy_asset":{"type":"string"},"amount":{"type":"string","description":"Decimal amount of sell_asset in UI units"},"slippage_bps":{"type":"integer","minimum":0},"wallet":{"type":"string"},"account_index":{"type":"integer","minimum":0}},"required":["chain","sell_asset","buy_asset","amount"]}`,
		s.toolSwap)

	s.addTool("nft_transfer",
		"Transfer an NFT to another address. Always requires user confirmation when the USD value is unknown.",
		`{"type":"object","properties":{"chain":{"type":"string","enum":["evm"]},"to":{"type":"string"},"contract":{"type":"string"},"token_id":{"type":"string"},"wallet":{"type":"string"},"account_index":{"type":"integer","minimum":0}},"required":["chain","to","contract","token_id"]}`,
		s.toolNFTTransfer)
}

// ABOUTME: Funds-moving tools: send, swap, nft_transfer.
// ABOUTME: Flow: resolve, sanctions, valuation, policy gate, unlock, execute, record.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/skiffworks/skiff/internal/chains"
	"github.com/skiffworks/skiff/internal/keystore"
	"github.com/skiffworks/skiff/internal/policy"
	"github.com/skiffworks/skiff/internal/store"
)

// codeSanctioned is the policy code for an OFAC SDN recipient match.
const codeSanctioned = "policy_ofac_sdn_match"

// isInternalAddress reports whether an address belongs to any wallet in this
// keystore. Internal moves never leave the custody boundary, which the
// policy engine may exempt from spend limits.
func (s *Server) isInternalAddress(chain, address string) bool {
	wallets, err := s.ks.ListWallets()
	if err != nil {
		return false
	}
	norm := func(a string) string {
		if chain == "evm" {
			return strings.ToLower(a)
		}
		return a
	}
	want := norm(address)
	for _, w := range wallets {
		for _, a := range w.Addresses[chain] {
			if norm(a) == want {
				return true
			}
		}
	}
	return false
}

// checkSanctions blocks sanctioned recipients before any value computation.
func (s *Server) checkSanctions(ctx context.Context, wallet string, accountIndex uint32, tool, chain, to string) error {
	pol, _ := s.cfg.PolicyForWallet(wallet)
	if !pol.EnableOFACSDN {
		return nil
	}
	if !s.sanctions.Contains(ctx, chain, to) {
		return nil
	}
	pctx := policy.Context{Chain: chain, ToAddress: to}
	s.auditBestEffort(ctx, s.gateEvent(tool, wallet, accountIndex, pctx, "deny", false, "", codeSanctioned))
	return &ToolError{Code: codeSanctioned, Message: fmt.Sprintf("recipient %s is on the OFAC SDN list", to)}
}

// resolveAccount picks the wallet and account index for a write tool.
func (s *Server) resolveAccount(wallet string, accountIndex *uint32) (keystore.WalletInfo, uint32, error) {
	info, index, err := s.resolveWallet(wallet)
	if err != nil {
		return keystore.WalletInfo{}, 0, err
	}
	if accountIndex != nil {
		index = *accountIndex
	}
	if index >= info.Accounts {
		return keystore.WalletInfo{}, 0, Errorf(CodeNotFound, "wallet %q has no account %d", info.Name, index)
	}
	return info, index, nil
}

// auditReliable records a funds movement's outcome. Unlike bookkeeping
// events, a failure here is surfaced to the caller inside the result.
func (s *Server) auditReliable(ctx context.Context, event map[string]any) string {
	if err := s.ledger.AppendAudit(ctx, event); err != nil {
		s.logger.Error("audit append failed for funds movement", "error", err)
		return fmt.Sprintf("transaction completed but audit record failed: %s", err)
	}
	return ""
}

func (s *Server) toolSend(ctx context.Context, conn *Conn, args json.RawMessage) (any, error) {
	var in struct {
		Chain        string  `json:"chain"`
		To           string  `json:"to"`
		Amount       string  `json:"amount"`
		Wallet       string  `json:"wallet"`
		AccountIndex *uint32 `json:"account_index"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if in.Chain == "" || in.To == "" || in.Amount == "" {
		return nil, Errorf(CodeInvalidRequest, "chain, to, and amount are required")
	}

	adapter, ok := s.chains.Get(in.Chain)
	if !ok {
		return nil, Errorf(CodeInvalidRequest, "unknown chain %q", in.Chain)
	}

	info, index, err := s.resolveAccount(in.Wallet, in.AccountIndex)
	if err != nil {
		return nil, err
	}

	decimals := chainDecimals[in.Chain]
	baseAmt, err := chains.UIToBase(in.Amount, decimals)
	if err != nil {
		return nil, Errorf(CodeInvalidRequest, "invalid amount: %s", err)
	}
	amtF, err := strconv.ParseFloat(in.Amount, 64)
	if err != nil {
		return nil, Errorf(CodeInvalidRequest, "invalid amount: %s", err)
	}

	if err := s.checkSanctions(ctx, info.Name, index, "send", in.Chain, in.To); err != nil {
		return nil, err
	}

	asset := nativeAsset[in.Chain]
	usd, usdKnown := s.prices.USDValue(ctx, asset, amtF)

	op := policy.OpSend
	if s.isInternalAddress(in.Chain, in.To) {
		op = policy.OpInternalTransfer
	}
	pctx := policy.Context{
		Op:            op,
		Chain:         in.Chain,
		USDValue:      usd,
		USDValueKnown: usdKnown,
		ToAddress:     in.To,
	}
	summary := fmt.Sprintf("Send %s %s from wallet %q (account %d) to %s?", in.Amount, strings.ToUpper(asset), info.Name, index, in.To)
	outcome, err := s.maybeConfirmWrite(ctx, conn, "send", info.Name, index, pctx, summary)
	if err != nil {
		return nil, err
	}

	secret, err := s.unlockFor(ctx, conn, info)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(secret)

	txid, err := adapter.Send(ctx, secret, index, in.To, baseAmt)
	if err != nil {
		ev := s.gateEvent("send", info.Name, index, pctx, outcome.Decision, outcome.ConfirmRequired, outcome.ConfirmResult, CodeUpstreamError)
		ev["result"] = "failed"
		s.auditBestEffort(ctx, ev)
		return nil, Errorf(CodeUpstreamError, "sending transaction: %s", err)
	}

	return s.recordMovement(ctx, movement{
		Tool:    "send",
		Type:    "send",
		Wallet:  info.Name,
		Index:   index,
		Chain:   in.Chain,
		To:      in.To,
		Amount:  in.Amount,
		TxID:    txid,
		USD:     usd,
		Known:   usdKnown,
		Outcome: outcome,
		Detail: map[string]any{
			"to":          in.To,
			"amount":      in.Amount,
			"amount_base": baseAmt.String(),
			"asset":       asset,
		},
	})
}

func (s *Server) toolSwap(ctx context.Context, conn *Conn, args json.RawMessage) (any, error) {
	var in struct {
		Chain        string  `json:"chain"`
		SellAsset    string  `json:"sell_asset"`
		BuyAsset     string  `json:"buy_asset"`
		Amount       string  `json:"amount"`
		SlippageBps  *uint32 `json:"slippage_bps"`
		Wallet       string  `json:"wallet"`
		AccountIndex *uint32 `json:"account_index"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if in.Chain == "" || in.SellAsset == "" || in.BuyAsset == "" || in.Amount == "" {
		return nil, Errorf(CodeInvalidRequest, "chain, sell_asset, buy_asset, and amount are required")
	}

	adapter, ok := s.chains.Get(in.Chain)
	if !ok {
		return nil, Errorf(CodeInvalidRequest, "unknown chain %q", in.Chain)
	}
	swapper, ok := adapter.(chains.Swapper)
	if !ok {
		return nil, Errorf(CodeInvalidRequest, "swaps are not supported on %s", in.Chain)
	}

	sell := strings.ToLower(in.SellAsset)
	buy := strings.ToLower(in.BuyAsset)
	decimals, ok := assetDecimals[sell]
	if !ok {
		return nil, Errorf(CodeInvalidRequest, "unknown asset %q", in.SellAsset)
	}
	if _, ok := assetDecimals[buy]; !ok {
		return nil, Errorf(CodeInvalidRequest, "unknown asset %q", in.BuyAsset)
	}
	if sell == buy {
		return nil, Errorf(CodeInvalidRequest, "sell and buy assets must differ")
	}

	info, index, err := s.resolveAccount(in.Wallet, in.AccountIndex)
	if err != nil {
		return nil, err
	}

	baseAmt, err := chains.UIToBase(in.Amount, decimals)
	if err != nil {
		return nil, Errorf(CodeInvalidRequest, "invalid amount: %s", err)
	}
	amtF, err := strconv.ParseFloat(in.Amount, 64)
	if err != nil {
		return nil, Errorf(CodeInvalidRequest, "invalid amount: %s", err)
	}

	usd, usdKnown := s.prices.USDValue(ctx, sell, amtF)

	slippage := uint32(50)
	if in.SlippageBps != nil {
		slippage = *in.SlippageBps
	}
	pctx := policy.Context{
		Op:            policy.OpSwap,
		Chain:         in.Chain,
		USDValue:      usd,
		USDValueKnown: usdKnown,
		SlippageBps:   &slippage,
	}
	summary := fmt.Sprintf("Swap %s %s for %s in wallet %q (account %d, max slippage %d bps)?",
		in.Amount, strings.ToUpper(sell), strings.ToUpper(buy), info.Name, index, slippage)
	outcome, err := s.maybeConfirmWrite(ctx, conn, "swap", info.Name, index, pctx, summary)
	if err != nil {
		return nil, err
	}

	secret, err := s.unlockFor(ctx, conn, info)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(secret)

	txid, err := swapper.Swap(ctx, secret, index, sell, buy, baseAmt, slippage)
	if err != nil {
		ev := s.gateEvent("swap", info.Name, index, pctx, outcome.Decision, outcome.ConfirmRequired, outcome.ConfirmResult, CodeUpstreamError)
		ev["result"] = "failed"
		s.auditBestEffort(ctx, ev)
		return nil, Errorf(CodeUpstreamError, "executing swap: %s", err)
	}

	return s.recordMovement(ctx, movement{
		Tool:    "swap",
		Type:    "swap",
		Wallet:  info.Name,
		Index:   index,
		Chain:   in.Chain,
		Amount:  in.Amount,
		TxID:    txid,
		USD:     usd,
		Known:   usdKnown,
		Outcome: outcome,
		Detail: map[string]any{
			"sell_asset":   sell,
			"buy_asset":    buy,
			"amount":       in.Amount,
			"amount_base":  baseAmt.String(),
			"slippage_bps": slippage,
		},
	})
}

func (s *Server) toolNFTTransfer(ctx context.Context, conn *Conn, args json.RawMessage) (any, error) {
	var in struct {
		Chain        string  `json:"chain"`
		To           string  `json:"to"`
		Contract     string  `json:"contract"`
		TokenID      string  `json:"token_id"`
		Wallet       string  `json:"wallet"`
		AccountIndex *uint32 `json:"account_index"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if in.Chain == "" || in.To == "" || in.Contract == "" || in.TokenID == "" {
		return nil, Errorf(CodeInvalidRequest, "chain, to, contract, and token_id are required")
	}

	adapter, ok := s.chains.Get(in.Chain)
	if !ok {
		return nil, Errorf(CodeInvalidRequest, "unknown chain %q", in.Chain)
	}
	transferrer, ok := adapter.(chains.NFTTransferrer)
	if !ok {
		return nil, Errorf(CodeInvalidRequest, "NFT transfers are not supported on %s", in.Chain)
	}

	info, index, err := s.resolveAccount(in.Wallet, in.AccountIndex)
	if err != nil {
		return nil, err
	}

	if err := s.checkSanctions(ctx, info.Name, index, "nft_transfer", in.Chain, in.To); err != nil {
		return nil, err
	}

	// NFT valuation is out of reach of the spot-price API; the policy
	// engine treats transfers of unvalued NFTs as maximal risk.
	pctx := policy.Context{
		Op:            policy.OpTransferNFT,
		Chain:         in.Chain,
		USDValueKnown: false,
		ToAddress:     in.To,
	}
	summary := fmt.Sprintf("Transfer NFT %s #%s from wallet %q (account %d) to %s?",
		in.Contract, in.TokenID, info.Name, index, in.To)
	outcome, err := s.maybeConfirmWrite(ctx, conn, "nft_transfer", info.Name, index, pctx, summary)
	if err != nil {
		return nil, err
	}

	secret, err := s.unlockFor(ctx, conn, info)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(secret)

	txid, err := transferrer.TransferNFT(ctx, secret, index, in.To, in.Contract, in.TokenID)
	if err != nil {
		ev := s.gateEvent("nft_transfer", info.Name, index, pctx, outcome.Decision, outcome.ConfirmRequired, outcome.ConfirmResult, CodeUpstreamError)
		ev["result"] = "failed"
		s.auditBestEffort(ctx, ev)
		return nil, Errorf(CodeUpstreamError, "transferring NFT: %s", err)
	}

	return s.recordMovement(ctx, movement{
		Tool:    "nft_transfer",
		Type:    "nft_transfer",
		Wallet:  info.Name,
		Index:   index,
		Chain:   in.Chain,
		To:      in.To,
		TxID:    txid,
		Known:   false,
		Outcome: outcome,
		Detail: map[string]any{
			"to":       in.To,
			"contract": in.Contract,
			"token_id": in.TokenID,
		},
	})
}

// movement is everything needed to record one completed funds movement.
type movement struct {
	Tool    string
	Type    string
	Wallet  string
	Index   uint32
	Chain   string
	To      string
	Amount  string
	TxID    string
	USD     float64
	Known   bool
	Outcome *confirmOutcome
	Detail  map[string]any
}

// recordMovement writes the audit event and ledger entry for a completed
// movement, then builds the tool result. Recording failures ride along in
// the result rather than masking a transaction that already happened.
func (s *Server) recordMovement(ctx context.Context, m movement) (any, error) {
	var usd any
	var usdPtr *float64
	if m.Known {
		usd = m.USD
		v := m.USD
		usdPtr = &v
	}

	event := map[string]any{
		"tool":             m.Tool,
		"wallet":           m.Wallet,
		"account_index":    m.Index,
		"chain":            m.Chain,
		"usd_value":        usd,
		"usd_value_known":  m.Known,
		"policy_decision":  m.Outcome.Decision,
		"confirm_required": m.Outcome.ConfirmRequired,
		"txid":             m.TxID,
		"result":           "ok",
	}
	if m.Outcome.ConfirmResult != "" {
		event["confirm_result"] = m.Outcome.ConfirmResult
	}
	warning := s.auditReliable(ctx, event)

	if err := s.ledger.AppendTx(ctx, &store.TxEntry{
		Wallet:   m.Wallet,
		Chain:    m.Chain,
		Type:     m.Type,
		USDValue: usdPtr,
		TxID:     m.TxID,
		Detail:   m.Detail,
	}); err != nil {
		s.logger.Error("ledger append failed for funds movement", "error", err)
		if warning == "" {
			warning = fmt.Sprintf("transaction completed but ledger record failed: %s", err)
		}
	}

	out := map[string]any{
		"txid":            m.TxID,
		"chain":           m.Chain,
		"wallet":          m.Wallet,
		"account_index":   m.Index,
		"usd_value_known": m.Known,
	}
	if m.Known {
		out["usd_value"] = m.USD
	}
	if m.To != "" {
		out["to"] = m.To
	}
	if m.Amount != "" {
		out["amount"] = m.Amount
	}
	if warning != "" {
		out["warning"] = warning
	}
	return out, nil
}

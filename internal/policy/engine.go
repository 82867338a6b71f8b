// ABOUTME: Pure policy evaluation: (policy, request context) -> allow or confirm.
// ABOUTME: Violations are hard failures; they never fall through to confirmation.

package policy

import (
	"fmt"
	"math"
	"strings"
)

// Op identifies a value-moving operation class.
type Op string

const (
	OpSend             Op = "send"
	OpSwap             Op = "swap"
	OpBuyNFT           Op = "buy_nft"
	OpSellNFT          Op = "sell_nft"
	OpTransferNFT      Op = "transfer_nft"
	OpInternalTransfer Op = "internal_transfer"
)

// Context is everything Evaluate needs to know about one request.
type Context struct {
	Op            Op
	Chain         string
	USDValue      float64
	USDValueKnown bool
	DailyUsedUSD  float64
	SlippageBps   *uint32
	ToAddress     string
}

// Decision is the outcome of a successful evaluation.
type Decision int

const (
	AutoApprove Decision = iota
	RequiresUserConfirm
)

// Violation is a hard policy failure with a stable machine-readable code.
type Violation struct {
	Code    string
	Message string
}

func (v *Violation) Error() string { return fmt.Sprintf("%s: %s", v.Code, v.Message) }

func violatef(code, format string, args ...any) *Violation {
	return &Violation{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Evaluate is a pure function over (policy, context). It returns a Decision,
// or a *Violation when the request must not proceed at all.
func Evaluate(p Policy, ctx Context) (Decision, error) {
	// Internal transfers are inside the custody boundary and cannot
	// exfiltrate to an external recipient.
	if ctx.Op == OpInternalTransfer && p.InternalTransfersExempt {
		return AutoApprove, nil
	}

	forceConfirm, err := checkUnknownUSD(p, ctx)
	if err != nil {
		return 0, err
	}
	if err := checkOpSpecific(p, ctx); err != nil {
		return 0, err
	}
	if err := checkGlobalUSDLimits(p, ctx, forceConfirm); err != nil {
		return 0, err
	}

	if forceConfirm {
		return RequiresUserConfirm, nil
	}
	if ctx.USDValue <= p.AutoApproveUSD {
		return AutoApprove, nil
	}
	return RequiresUserConfirm, nil
}

// checkUnknownUSD reports whether confirmation must be forced because the USD
// value could not be computed. NFT disposals have no reliable pricing and are
// always allowed through to confirmation; everything else fails closed when
// DenyUnknownUSDValue is set.
func checkUnknownUSD(p Policy, ctx Context) (bool, error) {
	if ctx.USDValueKnown {
		return false, nil
	}
	switch ctx.Op {
	case OpTransferNFT, OpSellNFT:
		return true, nil
	default:
		if p.DenyUnknownUSDValue {
			return false, violatef("policy_usd_value_unknown",
				"unable to compute USD value (pricing unavailable); refusing to sign")
		}
		return true, nil
	}
}

func checkOpSpecific(p Policy, ctx Context) error {
	switch ctx.Op {
	case OpSend:
		return checkSend(p, ctx)
	case OpSwap:
		return checkSwap(p, ctx)
	case OpBuyNFT, OpSellNFT, OpTransferNFT:
		return checkNFT(p, ctx)
	case OpInternalTransfer:
		return nil
	default:
		return violatef("invalid_request", "unknown operation %q", ctx.Op)
	}
}

func checkGlobalUSDLimits(p Policy, ctx Context, forceConfirm bool) error {
	// An unknown value has nothing to compare against the caps; the forced
	// confirmation is the backstop.
	if forceConfirm {
		return nil
	}
	if math.IsNaN(ctx.USDValue) || math.IsInf(ctx.USDValue, 0) || ctx.USDValue < 0 {
		return violatef("invalid_usd_value", "invalid computed USD value")
	}
	if ctx.USDValue > p.MaxUSDPerTx {
		return violatef("policy_max_usd_per_tx",
			"usd_value %.2f exceeds max_usd_per_tx %.2f", ctx.USDValue, p.MaxUSDPerTx)
	}
	if ctx.USDValue > p.HardBlockOverUSD {
		return violatef("policy_hard_block",
			"usd_value %.2f exceeds hard_block_over_usd %.2f", ctx.USDValue, p.HardBlockOverUSD)
	}
	if ctx.DailyUsedUSD+ctx.USDValue > p.MaxUSDPerDay {
		return violatef("policy_daily_limit",
			"daily limit exceeded: used %.2f + this %.2f > %.2f",
			ctx.DailyUsedUSD, ctx.USDValue, p.MaxUSDPerDay)
	}
	return nil
}

func checkSend(p Policy, ctx Context) error {
	if !p.EnableSend {
		return violatef("policy_send_disabled", "send is disabled by policy")
	}
	if p.SendAllowAny {
		return nil
	}
	if ctx.ToAddress == "" {
		return violatef("invalid_request", "missing to address")
	}
	to := normalizeAddr(ctx.Chain, ctx.ToAddress)
	for _, a := range p.SendAllowlist {
		if normalizeAddr(ctx.Chain, a) == to {
			return nil
		}
	}
	return violatef("policy_recipient_not_allowlisted", "recipient is not allowlisted by policy")
}

func checkSwap(p Policy, ctx Context) error {
	if !p.EnableSwap {
		return violatef("policy_swap_disabled", "swap is disabled by policy")
	}
	if ctx.SlippageBps != nil && *ctx.SlippageBps > p.MaxSlippageBps {
		return violatef("policy_slippage_too_high",
			"slippage_bps %d exceeds max_slippage_bps %d", *ctx.SlippageBps, p.MaxSlippageBps)
	}
	return nil
}

func checkNFT(p Policy, ctx Context) error {
	if !p.EnableNFT {
		return violatef("policy_nft_disabled", "NFT operations are disabled by policy")
	}
	if ctx.USDValueKnown && ctx.USDValue > p.MaxUSDPerNFTTx {
		return violatef("policy_max_usd_per_nft_tx",
			"usd_value %.2f exceeds max_usd_per_nft_tx %.2f", ctx.USDValue, p.MaxUSDPerNFTTx)
	}
	return nil
}

// normalizeAddr makes addresses comparable. EVM hex addresses are
// case-insensitive; Solana base58 addresses are not.
func normalizeAddr(chain, addr string) string {
	a := strings.TrimSpace(addr)
	if strings.HasPrefix(a, "0x") || strings.HasPrefix(a, "0X") || strings.EqualFold(chain, "evm") {
		return strings.ToLower(a)
	}
	return a
}

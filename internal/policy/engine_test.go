// ABOUTME: Tests for policy evaluation and update validation.
// ABOUTME: Covers tiering, unknown-value handling, caps, allowlists, patches.

package policy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func swapCtx(usd float64) Context {
	return Context{Op: OpSwap, Chain: "evm", USDValue: usd, USDValueKnown: true}
}

func TestEvaluate_Tiering(t *testing.T) {
	p := Default()
	p.AutoApproveUSD = 100
	p.MaxUSDPerTx = 10_000
	p.HardBlockOverUSD = 10_000
	p.MaxUSDPerDay = 100_000

	d, err := Evaluate(p, swapCtx(50))
	require.NoError(t, err)
	assert.Equal(t, AutoApprove, d)

	d, err = Evaluate(p, swapCtx(500))
	require.NoError(t, err)
	assert.Equal(t, RequiresUserConfirm, d)
}

func TestEvaluate_UnknownValueRequiresConfirm(t *testing.T) {
	p := Default()
	p.DenyUnknownUSDValue = false

	d, err := Evaluate(p, Context{Op: OpSwap, Chain: "evm", USDValueKnown: false})
	require.NoError(t, err)
	assert.Equal(t, RequiresUserConfirm, d)
}

func TestEvaluate_UnknownValueDeniedWhenFailClosed(t *testing.T) {
	p := Default() // deny_unknown_usd_value: true

	_, err := Evaluate(p, Context{Op: OpSwap, Chain: "evm", USDValueKnown: false})
	var v *Violation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "policy_usd_value_unknown", v.Code)
}

func TestEvaluate_NFTDisposalsAlwaysConfirmOnUnknownValue(t *testing.T) {
	p := Default() // fail-closed, but NFT disposals have no pricing

	d, err := Evaluate(p, Context{Op: OpTransferNFT, Chain: "evm", USDValueKnown: false})
	require.NoError(t, err)
	assert.Equal(t, RequiresUserConfirm, d)
}

func TestEvaluate_GlobalCaps(t *testing.T) {
	p := Default()
	p.AutoApproveUSD = 10
	p.MaxUSDPerTx = 100
	p.HardBlockOverUSD = 1000
	p.MaxUSDPerDay = 500

	tests := []struct {
		name string
		ctx  Context
		code string
	}{
		{"per-tx cap", swapCtx(150), "policy_max_usd_per_tx"},
		{"daily cap", func() Context { c := swapCtx(50); c.DailyUsedUSD = 480; return c }(), "policy_daily_limit"},
		{"negative value", swapCtx(-1), "invalid_usd_value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Evaluate(p, tt.ctx)
			var v *Violation
			require.ErrorAs(t, err, &v)
			assert.Equal(t, tt.code, v.Code)
		})
	}
}

func TestEvaluate_SendAllowlist(t *testing.T) {
	p := Default()
	p.SendAllowlist = []string{"0xAbCd000000000000000000000000000000000001"}

	ctx := Context{
		Op: OpSend, Chain: "evm", USDValue: 5, USDValueKnown: true,
		// Same address, different hex case.
		ToAddress: "0xABCD000000000000000000000000000000000001",
	}
	d, err := Evaluate(p, ctx)
	require.NoError(t, err)
	assert.Equal(t, AutoApprove, d)

	ctx.ToAddress = "0x0000000000000000000000000000000000000bad"
	_, err = Evaluate(p, ctx)
	var v *Violation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "policy_recipient_not_allowlisted", v.Code)
}

func TestEvaluate_SendBlockedByDefault(t *testing.T) {
	// Fresh policy: no allowlist, allow-any off.
	_, err := Evaluate(Default(), Context{
		Op: OpSend, Chain: "evm", USDValue: 1, USDValueKnown: true, ToAddress: "0x01",
	})
	var v *Violation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "policy_recipient_not_allowlisted", v.Code)
}

func TestEvaluate_SlippageCap(t *testing.T) {
	p := Default()
	slip := uint32(250)
	ctx := swapCtx(5)
	ctx.SlippageBps = &slip

	_, err := Evaluate(p, ctx)
	var v *Violation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "policy_slippage_too_high", v.Code)
}

func TestEvaluate_InternalTransferExempt(t *testing.T) {
	p := Default()
	p.MaxUSDPerTx = 1 // would trip for any external op

	d, err := Evaluate(p, Context{Op: OpInternalTransfer, Chain: "evm", USDValue: 5000, USDValueKnown: true})
	require.NoError(t, err)
	assert.Equal(t, AutoApprove, d)

	p.InternalTransfersExempt = false
	_, err = Evaluate(p, Context{Op: OpInternalTransfer, Chain: "evm", USDValue: 5000, USDValueKnown: true})
	require.Error(t, err)
}

func TestApplyUpdate_ValidPatch(t *testing.T) {
	cur := Default()
	patch := json.RawMessage(`{"auto_approve_usd": 42.5, "enable_swap": false}`)

	got, err := ApplyUpdate(cur, patch)
	require.NoError(t, err)
	assert.Equal(t, 42.5, got.AutoApproveUSD)
	assert.False(t, got.EnableSwap)
	// Untouched fields survive.
	assert.Equal(t, cur.MaxUSDPerDay, got.MaxUSDPerDay)
}

func TestApplyUpdate_RejectsInvalidWholesale(t *testing.T) {
	cur := Default()

	tests := []struct {
		name  string
		patch string
	}{
		{"unknown field", `{"auto_approve_usd": 1, "bogus": true}`},
		{"wrong type", `{"enable_send": "yes"}`},
		{"negative cap", `{"max_usd_per_tx": -5}`},
		{"not an object", `[1,2,3]`},
		{"bad json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ApplyUpdate(cur, json.RawMessage(tt.patch))
			require.Error(t, err)
			assert.Equal(t, cur, got, "no partial application")
		})
	}
}

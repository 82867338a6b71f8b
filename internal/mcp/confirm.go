// ABOUTME: Policy gate for funds-moving tools: evaluate, then confirm if needed.
// ABOUTME: Denied and declined requests are recorded in the audit trail.

package mcp

import (
	"context"
	"fmt"

	"github.com/skiffworks/skiff/internal/policy"
)

// confirmOutcome records how a write request cleared the policy gate, for
// inclusion in the final audit event.
type confirmOutcome struct {
	Decision        string
	ConfirmRequired bool
	ConfirmResult   string
}

// maybeConfirmWrite gates one funds-moving request. It resolves the
// effective policy for the wallet, folds in today's spend, evaluates, and —
// when the decision is confirm-required — runs a boolean confirmation
// elicitation. Hard policy violations and user declines return a ToolError
// after writing an audit entry; nil means the operation may proceed.
func (s *Server) maybeConfirmWrite(ctx context.Context, conn *Conn, tool, walletName string, accountIndex uint32, pctx policy.Context, summary string) (*confirmOutcome, error) {
	day := s.now().UTC().Format("2006-01-02")
	used, err := s.ledger.DailyUsedUSD(ctx, day, walletName)
	if err != nil {
		return nil, Errorf(CodeInternal, "reading daily spend: %s", err)
	}
	pctx.DailyUsedUSD = used

	pol, _ := s.cfg.PolicyForWallet(walletName)
	decision, err := policy.Evaluate(pol, pctx)
	if err != nil {
		te := asToolError(err)
		s.auditBestEffort(ctx, s.gateEvent(tool, walletName, accountIndex, pctx, "deny", false, "", te.Code))
		return nil, te
	}

	if decision == policy.AutoApprove {
		return &confirmOutcome{Decision: "allow"}, nil
	}

	msg := summary
	if !pctx.USDValueKnown {
		msg = fmt.Sprintf("%s (USD value could not be determined)", summary)
	}
	ok, err := s.confirm(ctx, conn, msg)
	if err != nil {
		te := asToolError(err)
		confirmResult := "error"
		if te.Code == CodeTimeout {
			confirmResult = "timeout"
		}
		s.auditBestEffort(ctx, s.gateEvent(tool, walletName, accountIndex, pctx, "confirm_required", true, confirmResult, te.Code))
		return nil, te
	}
	if !ok {
		s.auditBestEffort(ctx, s.gateEvent(tool, walletName, accountIndex, pctx, "confirm_required", true, "declined", CodeUserDeclined))
		return nil, Errorf(CodeUserDeclined, "user declined %s", tool)
	}

	return &confirmOutcome{Decision: "confirm_required", ConfirmRequired: true, ConfirmResult: "accepted"}, nil
}

func (s *Server) gateEvent(tool, wallet string, accountIndex uint32, pctx policy.Context, decision string, confirmRequired bool, confirmResult, errorCode string) map[string]any {
	var usd any
	if pctx.USDValueKnown {
		usd = pctx.USDValue
	}
	ev := map[string]any{
		"tool":             tool,
		"wallet":           wallet,
		"account_index":    accountIndex,
		"chain":            pctx.Chain,
		"usd_value":        usd,
		"usd_value_known":  pctx.USDValueKnown,
		"policy_decision":  decision,
		"confirm_required": confirmRequired,
		"result":           "blocked",
	}
	if confirmResult != "" {
		ev["confirm_result"] = confirmResult
	}
	if errorCode != "" {
		ev["error_code"] = errorCode
	}
	return ev
}

// auditBestEffort appends a bookkeeping event; failure is logged, never
// propagated. Outcome events for completed funds movements go through
// auditReliable instead.
func (s *Server) auditBestEffort(ctx context.Context, event map[string]any) {
	if err := s.ledger.AppendAudit(ctx, event); err != nil {
		s.logger.Warn("audit append failed", "error", err)
	}
}

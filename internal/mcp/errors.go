// ABOUTME: Structured tool errors with stable machine-readable codes.
// ABOUTME: Maps internal sentinel errors to the client-facing taxonomy.

package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/skiffworks/skiff/internal/keystore"
	"github.com/skiffworks/skiff/internal/policy"
)

// Tool error codes. These are part of the wire contract: clients branch on
// them programmatically, so they never change once shipped.
const (
	CodeNotFound       = "not_found"
	CodeInvalidRequest = "invalid_request"
	CodeAuthRequired   = "auth_required"
	CodeAuthFailed     = "auth_failed"
	CodeUserDeclined   = "user_declined"
	CodeBusy           = "busy"
	CodeTimeout        = "timeout"
	CodeUpstreamError  = "upstream_error"
	CodeInternal       = "internal"
)

// ToolError is the structured error payload returned inside a tool result.
// Policy violations carry their own policy_* codes through here unchanged.
type ToolError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *ToolError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// Errorf builds a ToolError with a formatted message.
func Errorf(code, format string, args ...any) *ToolError {
	return &ToolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// asToolError converts any handler error into a ToolError. Known sentinels
// map to their taxonomy codes; everything else is internal.
func asToolError(err error) *ToolError {
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}

	var viol *policy.Violation
	if errors.As(err, &viol) {
		return &ToolError{Code: viol.Code, Message: viol.Message}
	}

	switch {
	case errors.Is(err, keystore.ErrNotFound):
		return Errorf(CodeNotFound, "%s", err)
	case errors.Is(err, keystore.ErrAccountNotFound):
		return Errorf(CodeNotFound, "%s", err)
	case errors.Is(err, keystore.ErrWalletExists):
		return Errorf(CodeInvalidRequest, "%s", err)
	case errors.Is(err, keystore.ErrPassphraseRequired):
		return Errorf(CodeAuthRequired, "%s", err)
	case errors.Is(err, keystore.ErrDecrypt):
		return Errorf(CodeAuthFailed, "passphrase incorrect or keystore material tampered")
	case errors.Is(err, keystore.ErrKeystoreBusy):
		return Errorf(CodeBusy, "%s", err)
	case errors.Is(err, context.DeadlineExceeded):
		return Errorf(CodeTimeout, "operation timed out")
	}
	return Errorf(CodeInternal, "%s", err)
}

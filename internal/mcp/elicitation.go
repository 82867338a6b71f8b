// ABOUTME: Server-initiated elicitation: form and confirmation prompts.
// ABOUTME: EnsureUnlocked composes the session cache, env passphrase, and prompts.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/skiffworks/skiff/internal/keystore"
)

const elicitMethod = "elicitation/create"

// passphraseEnv lets headless deployments skip the interactive prompt.
const passphraseEnv = "SKIFF_PASSPHRASE"

var passphraseSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"passphrase": {"type": "string", "minLength": 1, "description": "Wallet passphrase"}
	},
	"required": ["passphrase"]
}`)

var confirmSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"confirm": {"type": "boolean", "description": "Approve this operation"}
	},
	"required": ["confirm"]
}`)

type elicitParams struct {
	Message         string          `json:"message"`
	RequestedSchema json.RawMessage `json:"requestedSchema"`
}

type elicitOutcome struct {
	Action  string         `json:"action"`
	Content map[string]any `json:"content,omitempty"`
}

// elicit runs one elicitation round trip: mint an id, write the request, and
// read inbound frames until a response with that id arrives or the deadline
// passes. Anything else received while awaiting — requests, notifications,
// responses to other ids — is discarded, not queued: the connection is
// single-outstanding-request while a prompt is pending.
func (s *Server) elicit(ctx context.Context, conn *Conn, message string, schema json.RawMessage, timeout time.Duration) (map[string]any, error) {
	id := conn.nextElicitID()
	req := Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  elicitMethod,
		Params:  elicitParams{Message: message, RequestedSchema: schema},
	}
	if err := conn.WriteFrame(req); err != nil {
		return nil, Errorf(CodeInternal, "sending elicitation: %s", err)
	}

	wantID := strconv.FormatInt(id, 10)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, Errorf(CodeInternal, "connection shutting down during elicitation")
		case <-timer.C:
			return nil, Errorf(CodeTimeout, "no elicitation response within %s", timeout)
		case line, ok := <-conn.Lines():
			if !ok {
				return nil, Errorf(CodeInternal, "connection closed during elicitation")
			}
			var msg Message
			if err := json.Unmarshal(line, &msg); err != nil {
				s.logger.Debug("discarding unparseable frame during elicitation", "error", err)
				continue
			}
			if msg.Method != "" || msg.JSONRPC != "2.0" || string(msg.ID) != wantID {
				s.logger.Debug("discarding frame during elicitation",
					"method", msg.Method,
					"id", string(msg.ID),
				)
				continue
			}
			if msg.Error != nil {
				return nil, Errorf(CodeInternal, "elicitation failed: %s", msg.Error.Message)
			}

			var out elicitOutcome
			if err := json.Unmarshal(msg.Result, &out); err != nil {
				return nil, Errorf(CodeUserDeclined, "malformed elicitation response")
			}
			if out.Action != "accept" {
				return nil, Errorf(CodeUserDeclined, "user declined")
			}
			return out.Content, nil
		}
	}
}

// confirm asks the user a yes/no question. False on decline, an error only
// on timeout or transport failure.
func (s *Server) confirm(ctx context.Context, conn *Conn, message string) (bool, error) {
	content, err := s.elicit(ctx, conn, message, confirmSchema, s.confirmTimeout)
	if err != nil {
		te := asToolError(err)
		if te.Code == CodeUserDeclined {
			return false, nil
		}
		return false, err
	}
	ok, _ := content["confirm"].(bool)
	return ok, nil
}

// promptPassphrase runs the passphrase form elicitation.
func (s *Server) promptPassphrase(ctx context.Context, conn *Conn, walletName string) (string, error) {
	msg := fmt.Sprintf("Enter the passphrase for wallet %q", walletName)
	content, err := s.elicit(ctx, conn, msg, passphraseSchema, s.passphraseTimeout)
	if err != nil {
		return "", err
	}
	pass, _ := content["passphrase"].(string)
	if pass == "" {
		return "", Errorf(CodeUserDeclined, "no passphrase provided")
	}
	return pass, nil
}

// ensureUnlocked returns the passphrase-derived key for a protected wallet.
// Resolution order: live session, SKIFF_PASSPHRASE, interactive prompt. A
// key obtained by any path populates the session with the configured TTL —
// one unlock authorizes the whole process until expiry.
func (s *Server) ensureUnlocked(ctx context.Context, conn *Conn, walletName string) ([32]byte, error) {
	if key, ok := s.session.Get(); ok {
		return key, nil
	}

	// Read-only: the salt was established when the wallet was created or
	// imported, and unlocking holds no write lock.
	salt, err := s.ks.PassphraseSalt()
	if err != nil {
		return [32]byte{}, Errorf(CodeInternal, "reading passphrase salt: %s", err)
	}

	pass := s.lookupEnv(passphraseEnv)
	if pass == "" {
		pass, err = s.promptPassphrase(ctx, conn, walletName)
		if err != nil {
			return [32]byte{}, err
		}
	}

	key := keystore.DerivePassphraseKey(pass, salt)
	s.session.Set(key, s.cfg.SessionTTL())
	return key, nil
}

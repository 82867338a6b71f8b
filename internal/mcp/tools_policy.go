// ABOUTME: Policy tools: inspect, update, and clear per-wallet overrides.
// ABOUTME: Updates are validated wholesale and saved under the write lock.

package mcp

import (
	"context"
	"encoding/json"

	"github.com/skiffworks/skiff/internal/policy"
)

func (s *Server) toolGetPolicy(_ context.Context, _ *Conn, args json.RawMessage) (any, error) {
	var in struct {
		Wallet string `json:"wallet"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	pol, isOverride := s.cfg.PolicyForWallet(in.Wallet)
	return map[string]any{
		"policy":      pol,
		"is_override": isOverride,
	}, nil
}

func (s *Server) toolUpdatePolicy(_ context.Context, _ *Conn, args json.RawMessage) (any, error) {
	var in struct {
		Wallet string          `json:"wallet"`
		Policy json.RawMessage `json:"policy"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if len(in.Policy) == 0 {
		return nil, Errorf(CodeInvalidRequest, "policy is required")
	}

	if in.Wallet != "" {
		// Overrides are keyed by wallet name; make sure it exists.
		if _, err := s.ks.GetWalletByName(in.Wallet); err != nil {
			return nil, err
		}
	}

	lk, err := s.ks.AcquireWriteLock()
	if err != nil {
		return nil, err
	}
	defer lk.Release()

	base, _ := s.cfg.PolicyForWallet(in.Wallet)
	updated, err := policy.ApplyUpdate(base, in.Policy)
	if err != nil {
		return nil, Errorf(CodeInvalidRequest, "invalid policy update: %s", err)
	}

	if in.Wallet == "" {
		s.cfg.Policy = updated
	} else {
		s.cfg.SetPolicyOverride(in.Wallet, updated)
	}
	if err := s.ks.SaveConfig(); err != nil {
		return nil, err
	}

	s.logger.Info("policy updated", "wallet", in.Wallet)
	return map[string]any{
		"policy":      updated,
		"is_override": in.Wallet != "",
	}, nil
}

func (s *Server) toolClearPolicyOverride(_ context.Context, _ *Conn, args json.RawMessage) (any, error) {
	var in struct {
		Wallet string `json:"wallet"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if in.Wallet == "" {
		return nil, Errorf(CodeInvalidRequest, "clearing an override requires the target wallet")
	}

	lk, err := s.ks.AcquireWriteLock()
	if err != nil {
		return nil, err
	}
	defer lk.Release()

	if !s.cfg.ClearPolicyOverride(in.Wallet) {
		return nil, Errorf(CodeNotFound, "wallet %q has no policy override", in.Wallet)
	}
	if err := s.ks.SaveConfig(); err != nil {
		return nil, err
	}

	s.logger.Info("policy override cleared", "wallet", in.Wallet)
	return map[string]any{"cleared": true, "wallet": in.Wallet}, nil
}

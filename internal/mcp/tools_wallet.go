// ABOUTME: Wallet lifecycle tools: create, import, list, select, add accounts.
// ABOUTME: Every mutation runs under the keystore write lock.

package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/skiffworks/skiff/internal/keystore"
)

// shareWarning accompanies every recovery share handed to the user.
const shareWarning = "Store this recovery share offline. It is shown exactly once and is never persisted; losing it and the passphrase means losing the wallet."

// obtainPassphrase returns the passphrase from the tool arguments, the
// environment, or an interactive prompt, in that order.
func (s *Server) obtainPassphrase(ctx context.Context, conn *Conn, fromArgs, walletName string) (string, error) {
	if fromArgs != "" {
		return fromArgs, nil
	}
	if pass := s.lookupEnv(passphraseEnv); pass != "" {
		return pass, nil
	}
	return s.promptPassphrase(ctx, conn, walletName)
}

func (s *Server) toolCreateWallet(ctx context.Context, conn *Conn, args json.RawMessage) (any, error) {
	var in struct {
		Name       string `json:"name"`
		Passphrase string `json:"passphrase"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if in.Name == "" {
		return nil, Errorf(CodeInvalidRequest, "wallet name is required")
	}

	pass, err := s.obtainPassphrase(ctx, conn, in.Passphrase, in.Name)
	if err != nil {
		return nil, err
	}

	lk, err := s.ks.AcquireWriteLock()
	if err != nil {
		return nil, err
	}
	defer lk.Release()

	salt, err := s.ks.EnsurePassphraseSalt()
	if err != nil {
		return nil, err
	}
	key := keystore.DerivePassphraseKey(pass, salt)

	info, share3, err := s.ks.CreateGeneratedWallet(lk, in.Name, key)
	if err != nil {
		return nil, err
	}

	// The creator just proved knowledge of the passphrase; let follow-up
	// operations in this process run without re-prompting.
	s.session.Set(key, s.cfg.SessionTTL())

	return map[string]any{
		"wallet":             info,
		"recovery_share_b64": share3,
		"warning":            shareWarning,
	}, nil
}

func (s *Server) toolCreateWalletNoPassphrase(_ context.Context, _ *Conn, args json.RawMessage) (any, error) {
	var in struct {
		Name string `json:"name"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if in.Name == "" {
		return nil, Errorf(CodeInvalidRequest, "wallet name is required")
	}

	lk, err := s.ks.AcquireWriteLock()
	if err != nil {
		return nil, err
	}
	defer lk.Release()

	info, err := s.ks.CreateGeneratedWalletMachineOnly(lk, in.Name)
	if err != nil {
		return nil, err
	}
	return map[string]any{"wallet": info}, nil
}

func (s *Server) toolImportWallet(ctx context.Context, conn *Conn, args json.RawMessage) (any, error) {
	var in struct {
		Name       string `json:"name"`
		SecretB64  string `json:"secret_b64"`
		Passphrase string `json:"passphrase"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if in.Name == "" || in.SecretB64 == "" {
		return nil, Errorf(CodeInvalidRequest, "wallet name and secret_b64 are required")
	}

	secret, err := base64.StdEncoding.DecodeString(in.SecretB64)
	if err != nil {
		return nil, Errorf(CodeInvalidRequest, "secret_b64 is not valid base64")
	}
	defer zeroBytes(secret)
	if len(secret) < 16 {
		return nil, Errorf(CodeInvalidRequest, "imported secret is too short")
	}

	pass, err := s.obtainPassphrase(ctx, conn, in.Passphrase, in.Name)
	if err != nil {
		return nil, err
	}

	lk, err := s.ks.AcquireWriteLock()
	if err != nil {
		return nil, err
	}
	defer lk.Release()

	salt, err := s.ks.EnsurePassphraseSalt()
	if err != nil {
		return nil, err
	}
	key := keystore.DerivePassphraseKey(pass, salt)

	info, err := s.ks.ImportWallet(lk, in.Name, secret, key)
	if err != nil {
		return nil, err
	}
	s.session.Set(key, s.cfg.SessionTTL())

	return map[string]any{"wallet": info}, nil
}

func (s *Server) toolListWallets(_ context.Context, _ *Conn, args json.RawMessage) (any, error) {
	var in struct{}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	wallets, err := s.ks.ListWallets()
	if err != nil {
		return nil, err
	}

	out := map[string]any{"wallets": wallets}
	if active, index, err := s.ks.GetActiveWallet(); err == nil {
		out["active_wallet"] = active.Name
		out["active_index"] = index
	}
	return out, nil
}

func (s *Server) toolWalletInfo(_ context.Context, _ *Conn, args json.RawMessage) (any, error) {
	var in struct {
		Wallet string `json:"wallet"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	info, _, err := s.resolveWallet(in.Wallet)
	if err != nil {
		return nil, err
	}
	return map[string]any{"wallet": info}, nil
}

func (s *Server) toolSetActiveWallet(_ context.Context, _ *Conn, args json.RawMessage) (any, error) {
	var in struct {
		Wallet       string `json:"wallet"`
		AccountIndex uint32 `json:"account_index"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if in.Wallet == "" {
		return nil, Errorf(CodeInvalidRequest, "wallet name is required")
	}

	lk, err := s.ks.AcquireWriteLock()
	if err != nil {
		return nil, err
	}
	defer lk.Release()

	if err := s.ks.SetActiveWallet(lk, in.Wallet, in.AccountIndex); err != nil {
		return nil, err
	}
	return map[string]any{"active_wallet": in.Wallet, "active_index": in.AccountIndex}, nil
}

func (s *Server) toolAddAccount(ctx context.Context, conn *Conn, args json.RawMessage) (any, error) {
	var in struct {
		Wallet string `json:"wallet"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	info, _, err := s.resolveWallet(in.Wallet)
	if err != nil {
		return nil, err
	}

	lk, err := s.ks.AcquireWriteLock()
	if err != nil {
		return nil, err
	}
	defer lk.Release()

	var (
		updated  keystore.WalletInfo
		newIndex uint32
	)
	if info.NeedsPassphrase {
		key, uerr := s.ensureUnlocked(ctx, conn, info.Name)
		if uerr != nil {
			return nil, uerr
		}
		updated, newIndex, err = s.ks.AddAccount(lk, info.Name, key)
	} else {
		updated, newIndex, err = s.ks.AddAccountNoPassphrase(lk, info.Name)
	}
	if err != nil {
		if errors.Is(err, keystore.ErrDecrypt) {
			s.session.Clear()
		}
		return nil, err
	}

	return map[string]any{"wallet": updated, "new_index": newIndex}, nil
}

func (s *Server) toolRotateShares(ctx context.Context, conn *Conn, args json.RawMessage) (any, error) {
	var in struct {
		Wallet string `json:"wallet"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	info, _, err := s.resolveWallet(in.Wallet)
	if err != nil {
		return nil, err
	}
	if info.Kind != keystore.WalletGenerated {
		return nil, Errorf(CodeInvalidRequest, "wallet %q is imported; only generated wallets have shares to rotate", info.Name)
	}

	var passKey *[32]byte
	if info.NeedsPassphrase {
		key, uerr := s.ensureUnlocked(ctx, conn, info.Name)
		if uerr != nil {
			return nil, uerr
		}
		passKey = &key
	}

	lk, err := s.ks.AcquireWriteLock()
	if err != nil {
		return nil, err
	}
	defer lk.Release()

	share3, err := s.ks.RotateShares(lk, info.Name, passKey)
	if err != nil {
		if errors.Is(err, keystore.ErrDecrypt) {
			s.session.Clear()
		}
		return nil, err
	}

	return map[string]any{
		"wallet":             info.Name,
		"recovery_share_b64": share3,
		"warning":            fmt.Sprintf("%s The previous recovery share is now useless.", shareWarning),
	}, nil
}

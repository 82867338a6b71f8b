// ABOUTME: Read-only tools: balances and transaction history.
// ABOUTME: Reads proceed without the write lock; snapshots may trail writers.

package mcp

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/skiffworks/skiff/internal/chains"
	"github.com/skiffworks/skiff/internal/store"
)

// balanceEntry is one chain's row in a get_balance result.
type balanceEntry struct {
	Chain         string  `json:"chain"`
	Address       string  `json:"address"`
	Amount        string  `json:"amount"`
	AmountBase    string  `json:"amount_base"`
	USDValue      float64 `json:"usd_value,omitempty"`
	USDValueKnown bool    `json:"usd_value_known"`
}

func (s *Server) toolGetBalance(ctx context.Context, _ *Conn, args json.RawMessage) (any, error) {
	var in struct {
		Wallet       string  `json:"wallet"`
		AccountIndex *uint32 `json:"account_index"`
		Chain        string  `json:"chain"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	info, index, err := s.resolveWallet(in.Wallet)
	if err != nil {
		return nil, err
	}
	if in.AccountIndex != nil {
		index = *in.AccountIndex
	}
	if index >= info.Accounts {
		return nil, Errorf(CodeNotFound, "wallet %q has no account %d", info.Name, index)
	}

	adapters := s.chains.All()
	if in.Chain != "" {
		a, ok := s.chains.Get(in.Chain)
		if !ok {
			return nil, Errorf(CodeInvalidRequest, "unknown chain %q", in.Chain)
		}
		adapters = []chains.Adapter{a}
	}

	entries := make([]balanceEntry, 0, len(adapters))
	for _, a := range adapters {
		chain := a.Name()
		addrs := info.Addresses[chain]
		if int(index) >= len(addrs) {
			return nil, Errorf(CodeNotFound, "wallet %q has no %s address at index %d", info.Name, chain, index)
		}
		addr := addrs[index]

		bal, err := a.Balance(ctx, addr)
		if err != nil {
			return nil, Errorf(CodeUpstreamError, "reading %s balance: %s", chain, err)
		}

		ui := chains.BaseToUI(bal, chainDecimals[chain])
		entry := balanceEntry{
			Chain:      chain,
			Address:    addr,
			Amount:     ui,
			AmountBase: bal.String(),
		}
		if f, perr := strconv.ParseFloat(ui, 64); perr == nil {
			entry.USDValue, entry.USDValueKnown = s.prices.USDValue(ctx, nativeAsset[chain], f)
		}
		entries = append(entries, entry)
	}

	return map[string]any{
		"wallet":        info.Name,
		"account_index": index,
		"balances":      entries,
	}, nil
}

func (s *Server) toolGetTxHistory(ctx context.Context, _ *Conn, args json.RawMessage) (any, error) {
	var in struct {
		Wallet string `json:"wallet"`
		Chain  string `json:"chain"`
		Type   string `json:"type"`
		Since  string `json:"since"`
		Until  string `json:"until"`
		Limit  int    `json:"limit"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	filter := store.TxFilter{
		Wallet: in.Wallet,
		Chain:  in.Chain,
		Type:   in.Type,
		Limit:  in.Limit,
	}
	if in.Since != "" {
		t, err := time.Parse(time.RFC3339, in.Since)
		if err != nil {
			return nil, Errorf(CodeInvalidRequest, "since must be RFC3339: %s", err)
		}
		filter.Since = &t
	}
	if in.Until != "" {
		t, err := time.Parse(time.RFC3339, in.Until)
		if err != nil {
			return nil, Errorf(CodeInvalidRequest, "until must be RFC3339: %s", err)
		}
		filter.Until = &t
	}

	entries, err := s.ledger.ReadTxHistory(ctx, filter)
	if err != nil {
		return nil, Errorf(CodeInternal, "reading transaction history: %s", err)
	}
	return map[string]any{"transactions": entries}, nil
}

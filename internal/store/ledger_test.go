// ABOUTME: Tests for the SQLite ledger: audit appends, tx filters, daily sums.
// ABOUTME: Uses a throwaway database under t.TempDir().

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func f64(v float64) *float64 { return &v }

func TestAppendAudit_NormalizesAndStores(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.AppendAudit(ctx, map[string]any{
		"tool":   "send",
		"wallet": "w1",
		"chain":  "evm",
		"result": "ok",
	}))
	// Non-object events are wrapped, not rejected.
	require.NoError(t, l.AppendAudit(ctx, "startup"))

	entries, err := l.ReadAuditLog(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first.
	assert.Equal(t, "startup", entries[0]["raw"])
	assert.Equal(t, "send", entries[1]["tool"])
	// Normalization filled the required keys.
	assert.Contains(t, entries[1], "confirm_result")
	assert.Nil(t, entries[1]["confirm_result"])
}

func TestAppendTx_FillsTimestampAndDay(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	e := &TxEntry{Wallet: "w1", Chain: "evm", Type: "send", USDValue: f64(12.5), TxID: "0xabc"}
	require.NoError(t, l.AppendTx(ctx, e))

	assert.False(t, e.Ts.IsZero())
	assert.Equal(t, e.Ts.UTC().Format(time.DateOnly), e.Day)
	assert.NotZero(t, e.ID)
}

func TestReadTxHistory_FiltersAndOrder(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	entries := []*TxEntry{
		{Ts: base, Wallet: "w1", Chain: "evm", Type: "send", USDValue: f64(10), TxID: "t1"},
		{Ts: base.Add(time.Hour), Wallet: "w1", Chain: "solana", Type: "swap", USDValue: f64(20), TxID: "t2"},
		{Ts: base.Add(2 * time.Hour), Wallet: "w2", Chain: "evm", Type: "send", USDValue: f64(30), TxID: "t3"},
		{Ts: base.Add(3 * time.Hour), Wallet: "w1", Chain: "evm", Type: "send", USDValue: f64(40), TxID: "t4"},
	}
	for _, e := range entries {
		require.NoError(t, l.AppendTx(ctx, e))
	}

	got, err := l.ReadTxHistory(ctx, TxFilter{})
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "t4", got[0].TxID, "newest first")

	got, err = l.ReadTxHistory(ctx, TxFilter{Wallet: "w1", Chain: "evm", Type: "send"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t4", got[0].TxID)
	assert.Equal(t, "t1", got[1].TxID)

	since := base.Add(90 * time.Minute)
	until := base.Add(150 * time.Minute)
	got, err = l.ReadTxHistory(ctx, TxFilter{Since: &since, Until: &until})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t3", got[0].TxID)

	got, err = l.ReadTxHistory(ctx, TxFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestReadTxHistory_DetailRoundTrip(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	e := &TxEntry{
		Wallet: "w1", Chain: "evm", Type: "swap", TxID: "t1",
		Detail: map[string]any{"from_asset": "ETH", "to_asset": "USDC"},
	}
	require.NoError(t, l.AppendTx(ctx, e))

	got, err := l.ReadTxHistory(ctx, TxFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ETH", got[0].Detail["from_asset"])
}

func TestDailyUsedUSD(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	day1 := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)

	require.NoError(t, l.AppendTx(ctx, &TxEntry{Ts: day1, Wallet: "w1", Chain: "evm", Type: "send", USDValue: f64(10)}))
	require.NoError(t, l.AppendTx(ctx, &TxEntry{Ts: day1, Wallet: "w1", Chain: "evm", Type: "swap", USDValue: f64(15)}))
	require.NoError(t, l.AppendTx(ctx, &TxEntry{Ts: day1, Wallet: "w2", Chain: "evm", Type: "send", USDValue: f64(100)}))
	// Unknown value contributes nothing.
	require.NoError(t, l.AppendTx(ctx, &TxEntry{Ts: day1, Wallet: "w1", Chain: "evm", Type: "send"}))
	require.NoError(t, l.AppendTx(ctx, &TxEntry{Ts: day2, Wallet: "w1", Chain: "evm", Type: "send", USDValue: f64(999)}))

	total, err := l.DailyUsedUSD(ctx, "2026-08-20", "")
	require.NoError(t, err)
	assert.Equal(t, 125.0, total)

	total, err = l.DailyUsedUSD(ctx, "2026-08-20", "w1")
	require.NoError(t, err)
	assert.Equal(t, 25.0, total)

	total, err = l.DailyUsedUSD(ctx, "2026-08-22", "")
	require.NoError(t, err)
	assert.Equal(t, 0.0, total)
}

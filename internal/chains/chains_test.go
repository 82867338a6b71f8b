// ABOUTME: Tests for derivation determinism, amount conversion, and polling.
// ABOUTME: No network: address derivation is pure and testable offline.

package chains

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestDeriveKeyMaterial_Deterministic(t *testing.T) {
	a, err := DeriveKeyMaterial(testSecret, "evm", 0)
	require.NoError(t, err)
	b, err := DeriveKeyMaterial(testSecret, "evm", 0)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := DeriveKeyMaterial(testSecret, "evm", 1)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	d, err := DeriveKeyMaterial(testSecret, "solana", 0)
	require.NoError(t, err)
	assert.NotEqual(t, a, d)
}

func TestEVM_DeriveAddress_Deterministic(t *testing.T) {
	e := NewEVM("https://unused.invalid", 1)

	a1, err := e.DeriveAddress(testSecret, 0)
	require.NoError(t, err)
	a2, err := e.DeriveAddress(testSecret, 0)
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
	assert.Regexp(t, `^0x[0-9a-fA-F]{40}$`, a1)

	b, err := e.DeriveAddress(testSecret, 1)
	require.NoError(t, err)
	assert.NotEqual(t, a1, b)
}

func TestSolana_DeriveAddress_Deterministic(t *testing.T) {
	s := NewSolana("https://unused.invalid", "")

	a1, err := s.DeriveAddress(testSecret, 0)
	require.NoError(t, err)
	a2, err := s.DeriveAddress(testSecret, 0)
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
	assert.NotEmpty(t, a1)

	b, err := s.DeriveAddress(testSecret, 1)
	require.NoError(t, err)
	assert.NotEqual(t, a1, b)
}

func TestRegistry(t *testing.T) {
	e := NewEVM("https://unused.invalid", 1)
	s := NewSolana("https://unused.invalid", "")
	r := NewRegistry(e, s)

	assert.Equal(t, []string{"evm", "solana"}, r.Names())

	got, ok := r.Get("solana")
	assert.True(t, ok)
	assert.Equal(t, s, got)

	_, ok = r.Get("bitcoin")
	assert.False(t, ok)
}

func TestBaseToUI(t *testing.T) {
	tests := []struct {
		amount   string
		decimals int
		want     string
	}{
		{"1000000000000000000", 18, "1"},
		{"1500000000000000000", 18, "1.5"},
		{"1", 18, "0.000000000000000001"},
		{"0", 9, "0"},
		{"123456789", 6, "123.456789"},
		{"5000", 0, "5000"},
		{"-2500000", 6, "-2.5"},
	}
	for _, tt := range tests {
		n, ok := new(big.Int).SetString(tt.amount, 10)
		require.True(t, ok)
		assert.Equal(t, tt.want, BaseToUI(n, tt.decimals), "amount %s dec %d", tt.amount, tt.decimals)
	}
}

func TestUIToBase(t *testing.T) {
	got, err := UIToBase("1.5", 18)
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", got.String())

	got, err = UIToBase("0.000001", 6)
	require.NoError(t, err)
	assert.Equal(t, "1", got.String())

	got, err = UIToBase("42", 0)
	require.NoError(t, err)
	assert.Equal(t, "42", got.String())

	for _, bad := range []string{"", "-1", "1.2345678", "1.2.3", "abc"} {
		_, err := UIToBase(bad, 6)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestAmountRoundTrip(t *testing.T) {
	for _, s := range []string{"1", "0.5", "123.456789", "0.000000000000000001"} {
		base, err := UIToBase(s, 18)
		require.NoError(t, err)
		assert.Equal(t, s, BaseToUI(base, 18))
	}
}

func TestPoll_SucceedsWithinBudget(t *testing.T) {
	calls := 0
	done, err := Poll(context.Background(), 5, time.Millisecond, func(ctx context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, 3, calls)
}

func TestPoll_BudgetExhaustedIsNotAnError(t *testing.T) {
	calls := 0
	done, err := Poll(context.Background(), 3, time.Millisecond, func(ctx context.Context) (bool, error) {
		calls++
		return false, nil
	})
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 3, calls)
}

func TestPoll_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Poll(ctx, 10, 50*time.Millisecond, func(ctx context.Context) (bool, error) {
		return false, nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

// fakeReceiptSource scripts one error per call; past the end of the script it
// returns a successful receipt.
type fakeReceiptSource struct {
	calls int
	errs  []error
}

func (f *fakeReceiptSource) TransactionReceipt(_ context.Context, _ common.Hash) (*types.Receipt, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(100)}, nil
}

func TestWaitForReceipt_FindsAfterPending(t *testing.T) {
	src := &fakeReceiptSource{errs: []error{ethereum.NotFound, ethereum.NotFound}}

	rcpt, err := waitForReceipt(context.Background(), src, common.Hash{1}, 5, time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, rcpt)
	assert.Equal(t, types.ReceiptStatusSuccessful, rcpt.Status)
	assert.Equal(t, 3, src.calls)
}

func TestWaitForReceipt_BudgetExhaustedIsNotAnError(t *testing.T) {
	src := &fakeReceiptSource{errs: []error{ethereum.NotFound, ethereum.NotFound, ethereum.NotFound}}

	rcpt, err := waitForReceipt(context.Background(), src, common.Hash{1}, 3, time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, rcpt)
	assert.Equal(t, 3, src.calls)
}

func TestWaitForReceipt_TransientRPCErrorRetries(t *testing.T) {
	src := &fakeReceiptSource{errs: []error{errors.New("connection reset")}}

	rcpt, err := waitForReceipt(context.Background(), src, common.Hash{1}, 5, time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, rcpt)
	assert.Equal(t, 2, src.calls)
}

func TestWaitForReceipt_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &fakeReceiptSource{errs: []error{ethereum.NotFound, ethereum.NotFound, ethereum.NotFound}}
	_, err := waitForReceipt(ctx, src, common.Hash{1}, 3, 50*time.Millisecond)
	require.ErrorIs(t, err, context.Canceled)
}

// ABOUTME: Tests for the GF(256) Shamir split/combine.
// ABOUTME: Covers recovery from any quorum, threshold enforcement, bad shares.

package keystore

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShamir_AnyTwoOfThreeRecover(t *testing.T) {
	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)

	shares, err := ShamirSplit(secret, 3, 2)
	require.NoError(t, err)
	require.Len(t, shares, 3)
	for _, s := range shares {
		assert.Len(t, s, 33)
	}

	pairs := [][2]int{{0, 1}, {0, 2}, {1, 2}, {2, 0}}
	for _, p := range pairs {
		got, err := ShamirCombine([][]byte{shares[p[0]], shares[p[1]]}, 2)
		require.NoError(t, err)
		assert.Equal(t, secret, got)
	}
}

func TestShamir_SingleShareRevealsNothing(t *testing.T) {
	secret := []byte("a rather important secret value!")

	shares, err := ShamirSplit(secret, 3, 2)
	require.NoError(t, err)

	_, err = ShamirCombine([][]byte{shares[0]}, 2)
	require.Error(t, err)
}

func TestShamir_RejectsDuplicateCoordinates(t *testing.T) {
	secret := []byte("0123456789abcdef")
	shares, err := ShamirSplit(secret, 3, 2)
	require.NoError(t, err)

	_, err = ShamirCombine([][]byte{shares[0], shares[0]}, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestShamir_RejectsMismatchedLengths(t *testing.T) {
	secret := []byte("0123456789abcdef")
	shares, err := ShamirSplit(secret, 3, 2)
	require.NoError(t, err)

	_, err = ShamirCombine([][]byte{shares[0], shares[1][:10]}, 2)
	require.Error(t, err)
}

func TestShamir_SplitInputValidation(t *testing.T) {
	_, err := ShamirSplit(nil, 3, 2)
	assert.Error(t, err)

	_, err = ShamirSplit([]byte("x"), 1, 2)
	assert.Error(t, err)

	_, err = ShamirSplit([]byte("x"), 2, 3)
	assert.Error(t, err)
}

func TestShamir_LargerQuorum(t *testing.T) {
	secret := make([]byte, 64)
	_, err := rand.Read(secret)
	require.NoError(t, err)

	shares, err := ShamirSplit(secret, 5, 3)
	require.NoError(t, err)

	got, err := ShamirCombine([][]byte{shares[4], shares[1], shares[3]}, 3)
	require.NoError(t, err)
	assert.Equal(t, secret, got)
}

// ABOUTME: Tests for the sanctions predicate, cache, and refresh behavior.
// ABOUTME: Fetch failures must never propagate out of Contains.

package sanctions

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payloadJSON = `{
	"evm": ["0xABCD000000000000000000000000000000000001"],
	"solana": ["SanctionedSoL1111111111111111111111111111111"]
}`

func newTestServer(t *testing.T, hits *int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			*hits++
		}
		w.Write([]byte(payloadJSON))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestContains(t *testing.T) {
	srv := newTestServer(t, nil)
	l := New(srv.URL, filepath.Join(t.TempDir(), "sdn.json"), time.Hour)
	ctx := context.Background()

	// EVM matching is case-insensitive.
	assert.True(t, l.Contains(ctx, "evm", "0xabcd000000000000000000000000000000000001"))
	assert.True(t, l.Contains(ctx, "evm", "0xABCD000000000000000000000000000000000001"))
	assert.False(t, l.Contains(ctx, "evm", "0x0000000000000000000000000000000000000002"))

	// Solana matching is exact.
	assert.True(t, l.Contains(ctx, "solana", "SanctionedSoL1111111111111111111111111111111"))
	assert.False(t, l.Contains(ctx, "solana", "sanctionedsol1111111111111111111111111111111"))

	// Unknown chains never match.
	assert.False(t, l.Contains(ctx, "bitcoin", "bc1qxyz"))
}

func TestRefresh_OnlyWhenStale(t *testing.T) {
	hits := 0
	srv := newTestServer(t, &hits)
	l := New(srv.URL, filepath.Join(t.TempDir(), "sdn.json"), time.Hour)
	ctx := context.Background()

	l.Contains(ctx, "evm", "0x01")
	l.Contains(ctx, "evm", "0x01")
	l.Contains(ctx, "evm", "0x01")
	assert.Equal(t, 1, hits, "fresh snapshot must not re-fetch")
}

func TestContains_FetchFailureDegradesGracefully(t *testing.T) {
	// Nothing listens here.
	l := New("http://127.0.0.1:1", filepath.Join(t.TempDir(), "sdn.json"), time.Hour)

	// No panic, no error surface; just a miss.
	assert.False(t, l.Contains(context.Background(), "evm", "0x01"))
}

func TestCache_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "sdn.json")

	srv := newTestServer(t, nil)
	first := New(srv.URL, cachePath, time.Hour)
	require.NoError(t, first.Refresh(context.Background()))

	// A new list over a dead endpoint still serves from the cache.
	second := New("http://127.0.0.1:1", cachePath, time.Hour)
	assert.True(t, second.Contains(context.Background(), "evm", "0xabcd000000000000000000000000000000000001"))
}

func TestRefresh_RejectsPlaintextHTTP(t *testing.T) {
	l := New("http://example.com/sdn.json", filepath.Join(t.TempDir(), "sdn.json"), time.Hour)
	require.Error(t, l.Refresh(context.Background()))
}

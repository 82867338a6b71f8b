// ABOUTME: Tests for audit entry normalization.
// ABOUTME: Idempotence is the load-bearing property.

package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_FillsRequiredKeys(t *testing.T) {
	got := normalizeAt(map[string]any{"tool": "send", "result": "ok"}, time.Unix(1700000000, 0).UTC())

	for _, k := range requiredKeys {
		_, ok := got[k]
		assert.True(t, ok, "missing key %s", k)
	}
	assert.Equal(t, "send", got["tool"])
	assert.Equal(t, "ok", got["result"])
	assert.Nil(t, got["wallet"])
	assert.Nil(t, got["error_code"])
	assert.Equal(t, "2023-11-14T22:13:20Z", got["ts"])
}

func TestNormalize_WrapsNonObjects(t *testing.T) {
	for _, v := range []any{"just a string", 42, []any{1, 2}, nil, true} {
		got := Normalize(v)
		raw, ok := got["raw"]
		require.True(t, ok)
		assert.Equal(t, v, raw)
		assert.NotNil(t, got["ts"])
	}
}

func TestNormalize_PreservesExistingFields(t *testing.T) {
	in := map[string]any{
		"ts":        "2020-01-01T00:00:00Z",
		"usd_value": 12.5,
		"extra":     "kept",
	}
	got := Normalize(in)

	assert.Equal(t, "2020-01-01T00:00:00Z", got["ts"])
	assert.Equal(t, 12.5, got["usd_value"])
	assert.Equal(t, "kept", got["extra"])
}

func TestNormalize_Idempotent(t *testing.T) {
	once := normalizeAt(map[string]any{"tool": "swap"}, time.Unix(0, 0).UTC())
	twice := normalizeAt(once, time.Unix(999999, 0).UTC())
	assert.Equal(t, once, twice)
}

// ABOUTME: Tests for the session cache with an injected fake clock.
// ABOUTME: Pins TTL boundary behavior exactly: expiry at t+ttl, not before.

package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fakeClock(start time.Time) (*time.Time, func() time.Time) {
	now := start
	return &now, func() time.Time { return now }
}

func TestCache_EmptyByDefault(t *testing.T) {
	c := New()
	_, ok := c.Get()
	assert.False(t, ok)
}

func TestCache_SetGet(t *testing.T) {
	now, clk := fakeClock(time.Unix(1000, 0))
	c := New()
	c.Now = clk

	var key [32]byte
	key[0] = 0xAA
	c.Set(key, 30*time.Minute)

	got, ok := c.Get()
	assert.True(t, ok)
	assert.Equal(t, key, got)

	// One nanosecond before expiry: still valid.
	*now = time.Unix(1000, 0).Add(30*time.Minute - time.Nanosecond)
	_, ok = c.Get()
	assert.True(t, ok)

	// Exactly at expiry: gone.
	*now = time.Unix(1000, 0).Add(30 * time.Minute)
	_, ok = c.Get()
	assert.False(t, ok)
}

func TestCache_ExpiredSessionIsCleared(t *testing.T) {
	now, clk := fakeClock(time.Unix(0, 0))
	c := New()
	c.Now = clk

	var key [32]byte
	key[0] = 1
	c.Set(key, time.Second)

	*now = time.Unix(5, 0)
	_, ok := c.Get()
	assert.False(t, ok)

	// Even if the clock goes backwards, the session stays gone.
	*now = time.Unix(0, 0)
	_, ok = c.Get()
	assert.False(t, ok)
}

func TestCache_SetReplacesPriorSession(t *testing.T) {
	now, clk := fakeClock(time.Unix(0, 0))
	c := New()
	c.Now = clk

	var k1, k2 [32]byte
	k1[0], k2[0] = 1, 2

	c.Set(k1, time.Second)
	c.Set(k2, time.Hour)

	*now = time.Unix(10, 0) // past the first TTL, inside the second
	got, ok := c.Get()
	assert.True(t, ok)
	assert.Equal(t, k2, got)
}

func TestCache_Clear(t *testing.T) {
	c := New()
	var key [32]byte
	key[0] = 1
	c.Set(key, time.Hour)

	c.Clear()
	_, ok := c.Get()
	assert.False(t, ok)
}

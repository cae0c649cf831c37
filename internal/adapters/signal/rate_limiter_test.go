package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	rl := NewRoomRateLimiter(2, time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	ok, _ := rl.Allow("r1", "alice")
	assert.True(t, ok)
	ok, _ = rl.Allow("r1", "alice")
	assert.True(t, ok)
	ok, wait := rl.Allow("r1", "alice")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, wait)

	ok, _ = rl.Allow("r1", "bob")
	assert.True(t, ok, "limits are per user")
	ok, _ = rl.Allow("r2", "alice")
	assert.True(t, ok, "limits are per room")

	now = now.Add(30 * time.Second)
	ok, wait = rl.Allow("r1", "alice")
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, wait)

	now = now.Add(31 * time.Second)
	ok, _ = rl.Allow("r1", "alice")
	assert.True(t, ok)
	ok, _ = rl.Allow("r1", "alice")
	assert.True(t, ok)
	ok, _ = rl.Allow("r1", "alice")
	assert.False(t, ok)
}

func TestRateLimiterSweepsIdleKeys(t *testing.T) {
	rl := NewRoomRateLimiter(1, time.Second)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("r1", "alice")
	rl.Allow("r1", "bob")
	assert.Equal(t, 2, rl.Len())

	now = now.Add(time.Hour)
	for i := 0; i < sweepEvery; i++ {
		rl.Allow("r2", "carol")
	}
	assert.Equal(t, 1, rl.Len())
}

package signal

import (
	"sync"
	"time"

	"github.com/dkeye/sharedview/internal/domain"
)

type limitKey struct {
	room domain.RoomID
	user domain.UserID
}

// RoomRateLimiter caps control requests per user and room over a sliding
// window. Idle keys are swept every sweepEvery calls.
type RoomRateLimiter struct {
	mu       sync.Mutex
	history  map[limitKey][]time.Time
	limit    int
	interval time.Duration
	calls    int
	now      func() time.Time
}

const sweepEvery = 256

// DefaultRoomRateLimiter allows 3 control requests per 10 seconds.
func DefaultRoomRateLimiter() *RoomRateLimiter {
	return NewRoomRateLimiter(3, 10*time.Second)
}

func NewRoomRateLimiter(limit int, interval time.Duration) *RoomRateLimiter {
	return &RoomRateLimiter{
		history:  make(map[limitKey][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Allow records an attempt. When the window is full it returns false and how
// long until the oldest attempt expires.
func (rl *RoomRateLimiter) Allow(room domain.RoomID, uid domain.UserID) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.calls++
	if rl.calls%sweepEvery == 0 {
		rl.sweepLocked(now)
	}

	key := limitKey{room: room, user: uid}
	fresh := rl.freshLocked(key, now)
	if len(fresh) >= rl.limit {
		return false, fresh[0].Add(rl.interval).Sub(now)
	}
	rl.history[key] = append(fresh, now)
	return true, 0
}

func (rl *RoomRateLimiter) freshLocked(key limitKey, now time.Time) []time.Time {
	windowStart := now.Add(-rl.interval)
	attempts := rl.history[key]
	i := 0
	for i < len(attempts) && !attempts[i].After(windowStart) {
		i++
	}
	fresh := attempts[i:]
	if len(fresh) == 0 {
		delete(rl.history, key)
		return nil
	}
	rl.history[key] = fresh
	return fresh
}

func (rl *RoomRateLimiter) sweepLocked(now time.Time) {
	for key := range rl.history {
		rl.freshLocked(key, now)
	}
}

func (rl *RoomRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.history)
}

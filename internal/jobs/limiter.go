package jobs

import (
	"errors"
	"sync"
)

// ErrTooManyImports is returned when a user already has the maximum number of imports
// in flight. Clients should retry once an earlier import finishes.
var ErrTooManyImports = errors.New("too many imports in flight, please try again later")

// DefaultMaxPerUser is the per-user in-flight limit used when none is configured.
const DefaultMaxPerUser = 2

// userLimiter caps in-flight imports per owner. Slots are taken before a job is
// created and returned when the import reaches a terminal state.
type userLimiter struct {
	max int

	mu     sync.Mutex
	active map[string]int
}

func newUserLimiter(max int) *userLimiter {
	if max <= 0 {
		max = DefaultMaxPerUser
	}
	return &userLimiter{max: max, active: make(map[string]int)}
}

func (l *userLimiter) tryAcquire(ownerID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active[ownerID] >= l.max {
		return false
	}
	l.active[ownerID]++
	return true
}

func (l *userLimiter) release(ownerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active[ownerID] <= 1 {
		delete(l.active, ownerID)
		return
	}
	l.active[ownerID]--
}

func (l *userLimiter) inFlight(ownerID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active[ownerID]
}

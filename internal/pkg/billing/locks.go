package billing

import (
	"sync"
	"time"
)

const (
	lockStripes     = 64
	lockAcquireWait = 2 * time.Second
	lockRetryDelay  = 10 * time.Millisecond
)

// userLocks serializes the critical subscription transition per user without
// serializing unrelated users. Striping keeps the memory footprint fixed.
type userLocks struct {
	stripes [lockStripes]sync.Mutex
}

// locks is process-wide. Engines are constructed per request and the
// scheduler holds its own instance; the lock set must span all of them or
// concurrent deliveries for one user would not contend.
var locks userLocks

// acquire blocks until the stripe for userID is held or the bound elapses.
// Returns the release func, or false when the lock could not be acquired.
func (l *userLocks) acquire(userID uint) (func(), bool) {
	m := &l.stripes[userID%lockStripes]
	deadline := time.Now().Add(lockAcquireWait)
	for {
		if m.TryLock() {
			return m.Unlock, true
		}
		if time.Now().After(deadline) {
			return nil, false
		}
		time.Sleep(lockRetryDelay)
	}
}

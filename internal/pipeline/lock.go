package pipeline

import (
	"sync"
	"sync/atomic"
)

// RunLock provides non-blocking lock semantics using atomic operations, so
// a second run against the same collection is rejected immediately instead
// of queued behind the first.
type RunLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire attempts to acquire the lock without blocking. Returns true
// if the lock was successfully acquired.
func (l *RunLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock. Must only be called by the holder.
func (l *RunLock) Release() {
	l.state.Store(0)
}

// Collection locks are process-wide so that two Pipeline instances
// targeting the same collection exclude each other.
var (
	locksMu sync.Mutex
	locks   = make(map[string]*RunLock)
)

func lockFor(collection string) *RunLock {
	locksMu.Lock()
	defer locksMu.Unlock()
	if l, ok := locks[collection]; ok {
		return l
	}
	l := &RunLock{}
	locks[collection] = l
	return l
}

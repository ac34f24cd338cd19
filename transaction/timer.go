package transaction

import (
	"sync/atomic"
	"time"
)

// onceTimer is a cancellable, swap-then-stop one-shot timer. Unlike the
// teacher's SerializableTimer it carries no snapshot/restore state — this
// module has no persistence layer (SPEC_FULL §4.4 REDESIGN) — but keeps the
// same atomic.Pointer swap idiom so Stop/reset races with a firing callback
// resolve safely.
type onceTimer struct {
	ptr atomic.Pointer[time.Timer]
}

// start arms the timer to call f after d, discarding any timer already
// running.
func (t *onceTimer) start(d time.Duration, f func()) {
	t.stop()
	t.ptr.Store(time.AfterFunc(d, f))
}

// stop cancels a running timer. Returns true if it was stopped before
// firing.
func (t *onceTimer) stop() bool {
	tm := t.ptr.Swap(nil)
	if tm == nil {
		return false
	}
	return tm.Stop()
}

package conversation

import "sync/atomic"

// sendGuard 单持有者的非阻塞互斥：重复触发的发送直接空操作而不是排队
// sendGuard is a single-owner non-blocking mutex. A second acquisition
// attempt no-ops instead of waiting, so a rapid double Enter never issues
// two chat calls.
type sendGuard struct {
	busy atomic.Bool
}

// TryAcquire marks the guard busy and returns true iff it was free.
func (g *sendGuard) TryAcquire() bool {
	return g.busy.CompareAndSwap(false, true)
}

// Release clears the busy flag unconditionally. Callers must release on
// every exit path of a guarded operation.
func (g *sendGuard) Release() {
	g.busy.Store(false)
}

// Busy reports whether a send is in flight.
func (g *sendGuard) Busy() bool {
	return g.busy.Load()
}

package fpgpu

import (
	"errors"
	"sync"
)

// errBarrierBroken is panicked into threads blocked on a barrier whose
// block has already faulted, so they unwind instead of waiting forever.
var errBarrierBroken = errors.New("barrier broken: another thread in the block faulted")

// errBarrierMisuse is panicked out of an await that can never complete
// because a block-mate retired without reaching the barrier.
var errBarrierMisuse = errors.New("barrier misuse: a block-mate returned without reaching Sync")

// barrier is a reusable synchronization point for the threads of one
// block. No thread passes a phase until every party has arrived at it;
// generation counting lets one barrier serve every iteration of a kernel
// loop. Threads retire from the barrier when they return from the
// kernel; once any party has retired, a phase can no longer fill, so an
// arrival or a retirement that strands waiters breaks the barrier as
// misused.
type barrier struct {
	mu      sync.Mutex
	cond    sync.Cond
	parties int
	live    int
	arrived int
	phase   uint64
	broken  bool
}

func newBarrier(parties int) *barrier {
	b := &barrier{parties: parties, live: parties}
	b.cond.L = &b.mu
	return b
}

// await blocks until all parties of the current phase have arrived. The
// last arrival resets the count and opens the next phase. await panics
// with errBarrierBroken if the barrier is, or becomes, broken while
// waiting, and with errBarrierMisuse if a retired block-mate has made
// the phase impossible to complete.
func (b *barrier) await() {
	b.mu.Lock()
	if b.broken {
		b.mu.Unlock()
		panic(errBarrierBroken)
	}
	if b.live < b.parties {
		b.broken = true
		b.cond.Broadcast()
		b.mu.Unlock()
		panic(errBarrierMisuse)
	}
	phase := b.phase
	b.arrived++
	if b.arrived == b.parties {
		b.arrived = 0
		b.phase++
		b.cond.Broadcast()
		b.mu.Unlock()
		return
	}
	for phase == b.phase && !b.broken {
		b.cond.Wait()
	}
	broken := b.broken
	b.mu.Unlock()
	if broken {
		panic(errBarrierBroken)
	}
}

// retire removes one party from the barrier when its thread returns from
// the kernel. If block-mates are waiting at the barrier, the phase they
// are in can no longer fill; retire then breaks the barrier to release
// them and reports the misuse to the caller.
func (b *barrier) retire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.live--
	if b.broken || b.arrived == 0 {
		return false
	}
	b.broken = true
	b.cond.Broadcast()
	return true
}

// breakBarrier marks the barrier unusable and releases every waiter.
// Called when a thread of the block faults, so the surviving threads
// unwind instead of deadlocking on a phase that can never complete.
func (b *barrier) breakBarrier() {
	b.mu.Lock()
	b.broken = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

package fpgpu

import (
	"strings"
	"sync/atomic"
	"testing"
)

func TestGridCoverage(t *testing.T) {
	grid := Dim3{X: 3, Y: 2, Z: 2}
	block := Dim3{X: 4, Y: 2, Z: 1}
	total := grid.Size() * block.Size()

	counts := make([]int32, total)
	k := KernelFunc(func(tid ThreadID, _ *Block) {
		atomic.AddInt32(&counts[tid.Global()], 1)
	})
	if err := Launch(k, grid, block); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if err := Synchronize(); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}
	for i, c := range counts {
		if c != 1 {
			t.Fatalf("thread %d ran %d times, want exactly once", i, c)
		}
	}
}

func TestBarrierOrderingInKernel(t *testing.T) {
	const threads = 64
	const blocks = 4

	out := make([]float64, blocks*threads)
	k := KernelFunc(func(tid ThreadID, blk *Block) {
		scratch := blk.Shared().Float64()
		i := tid.ThreadIdx.X

		// Publish, then read a neighbor's slot. Without the barrier the
		// neighbor's write may not have happened yet.
		scratch[i] = float64(i + 1)
		blk.Sync()
		out[tid.Global()] = scratch[(i+1)%threads]
	})
	if err := LaunchShared(k, Dim3{X: blocks, Y: 1, Z: 1}, Dim3{X: threads, Y: 1, Z: 1}, threads*8); err != nil {
		t.Fatalf("LaunchShared failed: %v", err)
	}
	if err := Synchronize(); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}
	for g, got := range out {
		i := g % threads
		want := float64((i+1)%threads + 1)
		if got != want {
			t.Fatalf("thread %d read %v, want %v", g, got, want)
		}
	}
}

func TestBarrierReuseAcrossIterations(t *testing.T) {
	const threads = 32
	const rounds = 50

	sums := make([]float64, threads)
	k := KernelFunc(func(tid ThreadID, blk *Block) {
		scratch := blk.Shared().Float64()
		i := tid.ThreadIdx.X
		var acc float64
		for r := 0; r < rounds; r++ {
			scratch[i] = float64(r + i)
			blk.Sync()
			acc += scratch[(i+r)%threads]
			blk.Sync()
		}
		sums[i] = acc
	})
	if err := LaunchShared(k, Dim3{X: 1, Y: 1, Z: 1}, Dim3{X: threads, Y: 1, Z: 1}, threads*8); err != nil {
		t.Fatalf("LaunchShared failed: %v", err)
	}
	if err := Synchronize(); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}
	for i := 0; i < threads; i++ {
		var want float64
		for r := 0; r < rounds; r++ {
			want += float64(r + (i+r)%threads)
		}
		if sums[i] != want {
			t.Fatalf("thread %d accumulated %v, want %v", i, sums[i], want)
		}
	}
}

func TestScratchIsolationAcrossBlocks(t *testing.T) {
	const threads = 8
	const blocks = 32

	var crossTalk int32
	k := KernelFunc(func(tid ThreadID, blk *Block) {
		scratch := blk.Shared().Float64()
		scratch[tid.ThreadIdx.X] = float64(tid.BlockIdx.X)
		blk.Sync()
		for j := 0; j < threads; j++ {
			if scratch[j] != float64(tid.BlockIdx.X) {
				atomic.StoreInt32(&crossTalk, 1)
			}
		}
	})
	if err := LaunchShared(k, Dim3{X: blocks, Y: 1, Z: 1}, Dim3{X: threads, Y: 1, Z: 1}, threads*8); err != nil {
		t.Fatalf("LaunchShared failed: %v", err)
	}
	if err := Synchronize(); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}
	if crossTalk != 0 {
		t.Error("blocks observed scratch writes from other blocks")
	}
}

func TestScratchZeroed(t *testing.T) {
	var nonzero int32
	k := KernelFunc(func(_ ThreadID, blk *Block) {
		for _, v := range blk.Shared().Float64() {
			if v != 0 {
				atomic.StoreInt32(&nonzero, 1)
			}
		}
	})
	if err := LaunchShared(k, Dim3{X: 8, Y: 1, Z: 1}, Dim3{X: 1, Y: 1, Z: 1}, 1024); err != nil {
		t.Fatalf("LaunchShared failed: %v", err)
	}
	if err := Synchronize(); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}
	if nonzero != 0 {
		t.Error("scratch memory was not zeroed at block start")
	}
}

func TestKernelFaultSurfacesAtSynchronize(t *testing.T) {
	const threads = 16
	data := make([]float64, 4)
	out := make([]float64, threads)

	// Thread 3 faults before the barrier; the rest block on Sync and must
	// be released by the broken barrier instead of deadlocking.
	k := KernelFunc(func(tid ThreadID, blk *Block) {
		i := tid.ThreadIdx.X
		if i == 3 {
			_ = data[10]
		}
		blk.Sync()
		out[i] = 1
	})
	if err := Launch(k, Dim3{X: 1, Y: 1, Z: 1}, Dim3{X: threads, Y: 1, Z: 1}); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	err := Synchronize()
	if !IsExecutionFailure(err) {
		t.Fatalf("Synchronize = %v, want execution failure", err)
	}
	if !strings.Contains(err.Error(), "faulted") {
		t.Errorf("error %q does not identify the faulting thread", err)
	}

	// The fault is consumed; the stream serves later launches.
	if err := Synchronize(); err != nil {
		t.Errorf("second Synchronize = %v, want nil", err)
	}
	ok := KernelFunc(func(tid ThreadID, _ *Block) {
		out[tid.ThreadIdx.X] = 2
	})
	if err := Launch(ok, Dim3{X: 1, Y: 1, Z: 1}, Dim3{X: threads, Y: 1, Z: 1}); err != nil {
		t.Fatalf("Launch after fault failed: %v", err)
	}
	if err := Synchronize(); err != nil {
		t.Fatalf("Synchronize after fault = %v, want nil", err)
	}
	for i, v := range out {
		if v != 2 {
			t.Fatalf("thread %d wrote %v after recovery, want 2", i, v)
		}
	}
}

func TestKernelFaultInOneBlockOnly(t *testing.T) {
	const blocks = 8
	const threads = 4

	done := make([]int32, blocks)
	k := KernelFunc(func(tid ThreadID, blk *Block) {
		if tid.BlockIdx.X == 5 && tid.ThreadIdx.X == 0 {
			panic("injected fault")
		}
		blk.Sync()
		atomic.AddInt32(&done[tid.BlockIdx.X], 1)
	})
	if err := Launch(k, Dim3{X: blocks, Y: 1, Z: 1}, Dim3{X: threads, Y: 1, Z: 1}); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	err := Synchronize()
	if !IsExecutionFailure(err) {
		t.Fatalf("Synchronize = %v, want execution failure", err)
	}
	for b := 0; b < blocks; b++ {
		if b == 5 {
			continue
		}
		if done[b] != threads {
			t.Errorf("block %d completed %d of %d threads", b, done[b], threads)
		}
	}
}

func TestBarrierMisuseSurfacesAtSynchronize(t *testing.T) {
	const threads = 4

	// Thread 0 returns without reaching the barrier; the rest must be
	// released instead of waiting forever for an arrival that cannot
	// happen.
	k := KernelFunc(func(tid ThreadID, blk *Block) {
		if tid.ThreadIdx.X == 0 {
			return
		}
		blk.Sync()
	})
	if err := Launch(k, Dim3{X: 1, Y: 1, Z: 1}, Dim3{X: threads, Y: 1, Z: 1}); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	err := Synchronize()
	if !IsExecutionFailure(err) {
		t.Fatalf("Synchronize = %v, want execution failure", err)
	}
	if !strings.Contains(err.Error(), "barrier misuse") {
		t.Errorf("error %q does not identify the barrier misuse", err)
	}

	// The fault is consumed; the stream serves later launches.
	if err := Synchronize(); err != nil {
		t.Errorf("second Synchronize = %v, want nil", err)
	}
}

func TestBarrierMisuseInOneBlockOnly(t *testing.T) {
	const blocks = 6
	const threads = 4

	// One thread of block 2 stops after the first barrier while its
	// block-mates sync again. The other blocks run to completion.
	done := make([]int32, blocks)
	k := KernelFunc(func(tid ThreadID, blk *Block) {
		blk.Sync()
		if tid.BlockIdx.X == 2 && tid.ThreadIdx.X == 1 {
			return
		}
		blk.Sync()
		atomic.AddInt32(&done[tid.BlockIdx.X], 1)
	})
	if err := Launch(k, Dim3{X: blocks, Y: 1, Z: 1}, Dim3{X: threads, Y: 1, Z: 1}); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	err := Synchronize()
	if !IsExecutionFailure(err) {
		t.Fatalf("Synchronize = %v, want execution failure", err)
	}
	for b := 0; b < blocks; b++ {
		if b == 2 {
			continue
		}
		if done[b] != threads {
			t.Errorf("block %d completed %d of %d threads", b, done[b], threads)
		}
	}
}

func TestLinearTo3D(t *testing.T) {
	dim := Dim3{X: 4, Y: 3, Z: 2}
	seen := make(map[Dim3]bool)
	for i := 0; i < dim.Size(); i++ {
		idx := linearTo3D(i, dim)
		if idx.X < 0 || idx.X >= dim.X || idx.Y < 0 || idx.Y >= dim.Y || idx.Z < 0 || idx.Z >= dim.Z {
			t.Fatalf("linearTo3D(%d) = %+v out of range", i, idx)
		}
		if seen[idx] {
			t.Fatalf("linearTo3D(%d) = %+v repeats a coordinate", i, idx)
		}
		seen[idx] = true
	}
	if got := linearTo3D(0, dim); got != (Dim3{0, 0, 0}) {
		t.Errorf("linearTo3D(0) = %+v, want origin", got)
	}
	if got := linearTo3D(5, dim); got != (Dim3{X: 1, Y: 1, Z: 0}) {
		t.Errorf("linearTo3D(5) = %+v, want {1 1 0}", got)
	}
}

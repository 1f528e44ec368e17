package fpgpu

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sync/errgroup"
)

// Block is the kernel-facing view of one thread block: its scratch memory
// and its barrier. Every thread of the block receives the same *Block.
type Block struct {
	barrier *barrier
	shared  DevicePtr
}

// Sync blocks until every thread of the block has reached the same
// barrier phase. Kernels must call Sync uniformly: either all threads of
// a block reach a given call site or none do. A thread that returns
// while block-mates wait at Sync, or that calls Sync after a block-mate
// has returned, fails the whole block; the fault surfaces as an
// execution failure at the host synchronization call.
func (b *Block) Sync() {
	b.barrier.await()
}

// Shared returns the block's scratch memory. The buffer is zeroed at
// block start, visible to all threads of the block, and discarded when
// the block retires.
func (b *Block) Shared() DevicePtr {
	return b.shared
}

// Launch queues a kernel over a grid of blocks on the default stream.
// The call returns once the launch is queued; faults inside the kernel
// surface at Synchronize.
func (ctx *Context) Launch(k Kernel, grid, block Dim3) error {
	return ctx.LaunchStream(k, grid, block, 0, nil)
}

// LaunchShared is Launch with sharedBytes of per-block scratch memory.
func (ctx *Context) LaunchShared(k Kernel, grid, block Dim3, sharedBytes int) error {
	return ctx.LaunchStream(k, grid, block, sharedBytes, nil)
}

// LaunchStream queues a kernel launch on the given stream, or on the
// default stream when stream is nil. Configuration errors are reported
// synchronously and nothing is queued unless the launch is valid.
func (ctx *Context) LaunchStream(k Kernel, grid, block Dim3, sharedBytes int, stream *Stream) error {
	if err := checkLaunch(k, grid, block, sharedBytes); err != nil {
		return err
	}
	if stream == nil {
		stream = ctx.defaultStream
	}
	stream.submit(func() {
		if err := runGrid(k, grid, block, sharedBytes); err != nil {
			stream.setErr(err)
		}
	})
	return nil
}

func checkLaunch(k Kernel, grid, block Dim3, sharedBytes int) error {
	if k == nil {
		return NewLaunchError("Launch", "kernel is nil")
	}
	if grid.X < 1 || grid.Y < 1 || grid.Z < 1 {
		return NewLaunchError("Launch", fmt.Sprintf("invalid grid dimensions %+v", grid))
	}
	if grid.X > MaxGridDim || grid.Y > MaxGridDim || grid.Z > MaxGridDim {
		return NewLaunchError("Launch",
			fmt.Sprintf("grid dimensions %+v exceed limit %d", grid, MaxGridDim))
	}
	if block.X < 1 || block.Y < 1 || block.Z < 1 {
		return NewLaunchError("Launch", fmt.Sprintf("invalid block dimensions %+v", block))
	}
	if block.Size() > MaxThreadsPerBlock {
		return NewLaunchError("Launch",
			fmt.Sprintf("block has %d threads, limit is %d", block.Size(), MaxThreadsPerBlock))
	}
	if sharedBytes < 0 {
		return NewLaunchError("Launch",
			fmt.Sprintf("negative shared memory request %d", sharedBytes))
	}
	if sharedBytes > SharedMemPerBlock {
		return NewLaunchError("Launch",
			fmt.Sprintf("shared memory request %d exceeds limit %d", sharedBytes, SharedMemPerBlock))
	}
	return nil
}

// runGrid executes every block of the grid, bounding concurrently running
// blocks by the core count. Blocks are independent of each other; only
// threads within one block share state.
func runGrid(k Kernel, grid, block Dim3, sharedBytes int) error {
	gridSize := grid.Size()
	workers := runtime.NumCPU()
	if workers > gridSize {
		workers = gridSize
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for b := 0; b < gridSize; b++ {
		blockIdx := linearTo3D(b, grid)
		g.Go(func() error {
			return runBlock(k, blockIdx, grid, block, sharedBytes)
		})
	}
	return g.Wait()
}

// runBlock runs all threads of one block as goroutines sharing a barrier
// and a scratch buffer. The first fault breaks the barrier so the other
// threads unwind instead of waiting on a phase that cannot complete, and
// becomes the block's error. A thread that returns while block-mates
// still use the barrier is a fault of the same kind: the barrier is
// broken and the block reports the misuse.
func runBlock(k Kernel, blockIdx, grid, block Dim3, sharedBytes int) error {
	blk := &Block{
		barrier: newBarrier(block.Size()),
		shared:  newSharedMem(sharedBytes),
	}

	var (
		once  sync.Once
		fault error
		wg    sync.WaitGroup
	)
	for tz := 0; tz < block.Z; tz++ {
		for ty := 0; ty < block.Y; ty++ {
			for tx := 0; tx < block.X; tx++ {
				tid := ThreadID{
					BlockIdx:  blockIdx,
					ThreadIdx: Dim3{X: tx, Y: ty, Z: tz},
					BlockDim:  block,
					GridDim:   grid,
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer func() {
						r := recover()
						if r == nil {
							if blk.barrier.retire() {
								once.Do(func() {
									fault = NewExecutionError("Kernel",
										fmt.Sprintf("barrier misuse in block %+v: thread %+v returned while block-mates waited at Sync",
											blockIdx, tid.ThreadIdx), errBarrierMisuse)
								})
							}
							return
						}
						if err, ok := r.(error); ok && errors.Is(err, errBarrierBroken) {
							// Unwound after another thread's fault.
							return
						}
						if err, ok := r.(error); ok && errors.Is(err, errBarrierMisuse) {
							once.Do(func() {
								fault = NewExecutionError("Kernel",
									fmt.Sprintf("barrier misuse in block %+v: thread %+v called Sync after a block-mate returned",
										blockIdx, tid.ThreadIdx), errBarrierMisuse)
							})
							return
						}
						once.Do(func() {
							cause, _ := r.(error)
							fault = NewExecutionError("Kernel",
								fmt.Sprintf("thread %+v of block %+v faulted: %v",
									tid.ThreadIdx, blockIdx, r), cause)
						})
						blk.barrier.breakBarrier()
					}()
					k.Execute(tid, blk)
				}()
			}
		}
	}
	wg.Wait()
	return fault
}

// newSharedMem allocates a block's zeroed scratch buffer. Scratch models
// the fast on-chip memory of a real device, so it is plain host memory,
// not charged against the device allocator.
func newSharedMem(bytes int) DevicePtr {
	if bytes == 0 {
		return DevicePtr{}
	}
	buf := make([]byte, bytes+MemoryAlignment)
	base := uintptr(unsafe.Pointer(&buf[0]))
	off := int((MemoryAlignment - base%MemoryAlignment) % MemoryAlignment)
	return DevicePtr{ptr: unsafe.Pointer(&buf[off]), size: bytes}
}

// linearTo3D converts a linear block index to 3D grid coordinates.
func linearTo3D(idx int, dim Dim3) Dim3 {
	z := idx / (dim.X * dim.Y)
	rem := idx % (dim.X * dim.Y)
	return Dim3{X: rem % dim.X, Y: rem / dim.X, Z: z}
}

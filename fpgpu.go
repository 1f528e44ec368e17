package fpgpu

import (
	"errors"
	"sync"
)

// Context owns the state of one device: its allocator and its streams.
// The zero Context is not usable; create one with NewContext or use the
// package-level functions, which operate on a process-wide default context.
type Context struct {
	device        *Device
	memory        *memoryPool
	defaultStream *Stream

	mu       sync.Mutex
	streams  map[int]*Stream
	streamID int
}

var defaultContext *Context

func init() {
	defaultContext = NewContext()
}

// NewContext creates a context on the CPU device with the default memory
// capacity.
func NewContext() *Context {
	return newContext(hostDevice())
}

// NewContextWithMemory creates a context whose device allocator is capped
// at the given number of bytes. Allocations beyond the cap fail with an
// OutOfDeviceMemory error.
func NewContextWithMemory(bytes int64) *Context {
	dev := *hostDevice()
	dev.TotalMem = uint64(bytes)
	return newContext(&dev)
}

func newContext(dev *Device) *Context {
	ctx := &Context{
		device:  dev,
		memory:  newMemoryPool(int64(dev.TotalMem)),
		streams: make(map[int]*Stream),
	}
	ctx.defaultStream = ctx.newStream(0)
	return ctx
}

// Device returns the device this context runs on.
func (ctx *Context) Device() *Device {
	return ctx.device
}

// MemoryStats reports the context's current and peak device memory usage
// in bytes.
func (ctx *Context) MemoryStats() (inUse, peak int64) {
	return ctx.memory.Stats()
}

// CreateStream returns a new stream. Work queued on distinct streams may
// interleave; work within one stream runs in submission order.
func (ctx *Context) CreateStream() *Stream {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.streamID++
	return ctx.newStream(ctx.streamID)
}

// newStream registers and starts a stream worker. Callers other than
// newContext must hold ctx.mu.
func (ctx *Context) newStream(id int) *Stream {
	s := &Stream{
		id:    id,
		tasks: make(chan func(), 16),
		done:  make(chan struct{}),
	}
	ctx.streams[id] = s
	go s.worker()
	return s
}

// DestroyStream drains a stream and stops its worker. Destroying the
// default stream is a no-op.
func (ctx *Context) DestroyStream(s *Stream) {
	if s == nil || s == ctx.defaultStream {
		return
	}
	ctx.mu.Lock()
	delete(ctx.streams, s.id)
	ctx.mu.Unlock()
	s.close()
}

// Synchronize waits for every stream of the context to drain and returns
// the faults recorded since the previous synchronization, if any.
func (ctx *Context) Synchronize() error {
	ctx.mu.Lock()
	streams := make([]*Stream, 0, len(ctx.streams))
	for _, s := range ctx.streams {
		streams = append(streams, s)
	}
	ctx.mu.Unlock()

	var errs []error
	for _, s := range streams {
		if err := s.Synchronize(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Destroy drains and stops all streams of the context. The context must
// not be used afterwards.
func (ctx *Context) Destroy() {
	ctx.mu.Lock()
	streams := make([]*Stream, 0, len(ctx.streams))
	for _, s := range ctx.streams {
		streams = append(streams, s)
	}
	ctx.streams = make(map[int]*Stream)
	ctx.defaultStream = nil
	ctx.mu.Unlock()

	for _, s := range streams {
		s.close()
	}
}

// Stream serializes asynchronous device work. Launches enqueue onto the
// stream and return immediately; Synchronize blocks until the queue has
// drained and surfaces the first execution fault recorded since the
// previous Synchronize.
type Stream struct {
	id    int
	tasks chan func()
	done  chan struct{}
	wg    sync.WaitGroup

	mu  sync.Mutex
	err error
}

func (s *Stream) worker() {
	for task := range s.tasks {
		task()
		s.wg.Done()
	}
	close(s.done)
}

func (s *Stream) submit(task func()) {
	s.wg.Add(1)
	s.tasks <- task
}

// Synchronize blocks until all work queued on the stream has completed,
// then returns and clears the stream's recorded fault.
func (s *Stream) Synchronize() error {
	s.wg.Wait()
	s.mu.Lock()
	err := s.err
	s.err = nil
	s.mu.Unlock()
	return err
}

// setErr records the first fault of the current synchronization window.
func (s *Stream) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// close stops the worker after draining queued tasks.
func (s *Stream) close() {
	close(s.tasks)
	<-s.done
}

// Dim3 expresses grid and block dimensions.
type Dim3 struct {
	X, Y, Z int
}

// Size returns the total number of elements covered by the dimensions.
func (d Dim3) Size() int {
	return d.X * d.Y * d.Z
}

// ThreadID identifies one thread within a launched grid.
type ThreadID struct {
	BlockIdx  Dim3
	ThreadIdx Dim3
	BlockDim  Dim3
	GridDim   Dim3
}

// Global returns the flattened global index of the thread.
func (t ThreadID) Global() int {
	blockID := t.BlockIdx.X + t.BlockIdx.Y*t.GridDim.X +
		t.BlockIdx.Z*t.GridDim.X*t.GridDim.Y
	threadID := t.ThreadIdx.X + t.ThreadIdx.Y*t.BlockDim.X +
		t.ThreadIdx.Z*t.BlockDim.X*t.BlockDim.Y
	return blockID*t.BlockDim.Size() + threadID
}

// GlobalX returns the global X coordinate of the thread.
func (t ThreadID) GlobalX() int {
	return t.BlockIdx.X*t.BlockDim.X + t.ThreadIdx.X
}

// GlobalY returns the global Y coordinate of the thread.
func (t ThreadID) GlobalY() int {
	return t.BlockIdx.Y*t.BlockDim.Y + t.ThreadIdx.Y
}

// GlobalZ returns the global Z coordinate of the thread.
func (t ThreadID) GlobalZ() int {
	return t.BlockIdx.Z*t.BlockDim.Z + t.ThreadIdx.Z
}

// Kernel is executed once per thread of a launched grid. All threads of
// one block receive the same *Block and may coordinate through its scratch
// memory and barrier.
type Kernel interface {
	Execute(tid ThreadID, blk *Block)
}

// KernelFunc adapts an ordinary function to the Kernel interface.
type KernelFunc func(tid ThreadID, blk *Block)

// Execute calls fn.
func (fn KernelFunc) Execute(tid ThreadID, blk *Block) {
	fn(tid, blk)
}

// Malloc allocates device memory on the default context.
func Malloc(size int) (DevicePtr, error) {
	return defaultContext.Malloc(size)
}

// Free releases device memory on the default context.
func Free(ptr DevicePtr) error {
	return defaultContext.Free(ptr)
}

// Memcpy copies size bytes between host and device memory on the default
// context.
func Memcpy(dst, src interface{}, size int, kind MemcpyKind) error {
	return defaultContext.Memcpy(dst, src, size, kind)
}

// Launch runs a kernel over a grid of blocks on the default context.
func Launch(k Kernel, grid, block Dim3) error {
	return defaultContext.Launch(k, grid, block)
}

// LaunchShared is Launch with sharedBytes of per-block scratch memory.
func LaunchShared(k Kernel, grid, block Dim3, sharedBytes int) error {
	return defaultContext.LaunchShared(k, grid, block, sharedBytes)
}

// Synchronize waits for all streams of the default context.
func Synchronize() error {
	return defaultContext.Synchronize()
}

// MemoryStats reports the default context's current and peak device
// memory usage in bytes.
func MemoryStats() (inUse, peak int64) {
	return defaultContext.MemoryStats()
}

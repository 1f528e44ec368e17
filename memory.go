package fpgpu

import (
	"fmt"
	"sync"
	"unsafe"
)

// MemcpyKind declares the direction of a Memcpy.
type MemcpyKind int

const (
	// MemcpyHostToHost copies between host buffers.
	MemcpyHostToHost MemcpyKind = iota
	// MemcpyHostToDevice copies from host memory to device memory.
	MemcpyHostToDevice
	// MemcpyDeviceToHost copies from device memory to host memory.
	MemcpyDeviceToHost
	// MemcpyDeviceToDevice copies between device buffers.
	MemcpyDeviceToDevice
	// MemcpyDefault infers the direction from the argument types.
	MemcpyDefault
)

// DevicePtr is a handle to device memory returned by Malloc. The zero
// value is the null pointer.
type DevicePtr struct {
	ptr  unsafe.Pointer
	size int
}

// IsNull reports whether the pointer refers to no allocation.
func (d DevicePtr) IsNull() bool {
	return d.ptr == nil
}

// Size returns the usable size of the buffer in bytes.
func (d DevicePtr) Size() int {
	return d.size
}

// Float64 returns the buffer as a []float64 view. The view aliases device
// memory; it is not a copy.
func (d DevicePtr) Float64() []float64 {
	if d.ptr == nil {
		return nil
	}
	return unsafe.Slice((*float64)(d.ptr), d.size/float64Bytes)
}

// Byte returns the buffer as a []byte view.
func (d DevicePtr) Byte() []byte {
	if d.ptr == nil {
		return nil
	}
	return unsafe.Slice((*byte)(d.ptr), d.size)
}

// Offset returns a view advanced by the given number of bytes, sharing the
// underlying allocation. Offsets outside the buffer yield the null pointer.
func (d DevicePtr) Offset(bytes int) DevicePtr {
	if d.ptr == nil || bytes < 0 || bytes > d.size {
		return DevicePtr{}
	}
	return DevicePtr{
		ptr:  unsafe.Add(d.ptr, bytes),
		size: d.size - bytes,
	}
}

// allocation tracks one device buffer. buf pins the backing array while
// the allocation is live or parked on the free list.
type allocation struct {
	ptr   unsafe.Pointer
	buf   []byte
	size  int // aligned size in bytes
	inUse bool
}

// memoryPool is the device allocator. It enforces the configured device
// capacity and recycles freed buffers so repeated multiplies of the same
// shapes do not thrash the host allocator.
type memoryPool struct {
	mu        sync.Mutex
	capacity  int64
	allocated map[uintptr]*allocation
	freeList  []*allocation
	inUse     int64
	peak      int64
}

func newMemoryPool(capacity int64) *memoryPool {
	return &memoryPool{
		capacity:  capacity,
		allocated: make(map[uintptr]*allocation),
	}
}

// allocate returns a buffer of at least size bytes, aligned to
// MemoryAlignment. Recycled buffers are preferred over fresh ones.
func (p *memoryPool) allocate(size int) (DevicePtr, error) {
	aligned := alignSize(size)
	if aligned < MinAllocationSize {
		aligned = MinAllocationSize
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inUse+int64(aligned) > p.capacity {
		return DevicePtr{}, fmt.Errorf("%w: requested %d bytes with %d of %d in use",
			ErrOutOfDeviceMemory, size, p.inUse, p.capacity)
	}

	// Reuse accepts blocks of at most twice the requested size; larger
	// ones stay parked rather than being charged against the capacity.
	for i, a := range p.freeList {
		if a.size >= aligned && a.size <= 2*aligned && p.inUse+int64(a.size) <= p.capacity {
			p.freeList = append(p.freeList[:i], p.freeList[i+1:]...)
			a.inUse = true
			p.allocated[uintptr(a.ptr)] = a
			p.charge(int64(a.size))
			return DevicePtr{ptr: a.ptr, size: size}, nil
		}
	}

	buf := make([]byte, aligned+MemoryAlignment)
	base := uintptr(unsafe.Pointer(&buf[0]))
	off := int((MemoryAlignment - base%MemoryAlignment) % MemoryAlignment)
	a := &allocation{
		ptr:   unsafe.Pointer(&buf[off]),
		buf:   buf,
		size:  aligned,
		inUse: true,
	}
	p.allocated[uintptr(a.ptr)] = a
	p.charge(int64(a.size))
	return DevicePtr{ptr: a.ptr, size: size}, nil
}

func (p *memoryPool) charge(n int64) {
	p.inUse += n
	if p.inUse > p.peak {
		p.peak = p.inUse
	}
}

// free returns a buffer to the pool. Only base pointers from allocate are
// accepted; views made with Offset cannot be freed.
func (p *memoryPool) free(ptr DevicePtr) error {
	if ptr.ptr == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.allocated[uintptr(ptr.ptr)]
	if !ok {
		return ErrDoubleFree
	}
	delete(p.allocated, uintptr(ptr.ptr))
	a.inUse = false
	p.inUse -= int64(a.size)
	p.freeList = append(p.freeList, a)
	return nil
}

// Stats reports the bytes currently charged against the device capacity
// and the high-water mark.
func (p *memoryPool) Stats() (inUse, peak int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse, p.peak
}

// live returns the number of active allocations.
func (p *memoryPool) live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.allocated)
}

// Malloc allocates size bytes of device memory.
func (ctx *Context) Malloc(size int) (DevicePtr, error) {
	if size <= 0 {
		return DevicePtr{}, &Error{
			Type:    ErrorTypeInvalidArgument,
			Op:      "Malloc",
			Message: fmt.Sprintf("invalid allocation size %d", size),
			Err:     ErrInvalidSize,
		}
	}
	ptr, err := ctx.memory.allocate(size)
	if err != nil {
		return DevicePtr{}, &Error{
			Type:    ErrorTypeOutOfDeviceMemory,
			Op:      "Malloc",
			Message: fmt.Sprintf("cannot allocate %d bytes", size),
			Err:     err,
		}
	}
	return ptr, nil
}

// Free releases device memory allocated by Malloc. Freeing the null
// pointer is a no-op; freeing any other pointer twice is an error.
func (ctx *Context) Free(ptr DevicePtr) error {
	if err := ctx.memory.free(ptr); err != nil {
		return &Error{
			Type:    ErrorTypeInvalidArgument,
			Op:      "Free",
			Message: "pointer is not an active allocation",
			Err:     err,
		}
	}
	return nil
}

// Memcpy copies size bytes between host and device memory. Supported
// argument types are DevicePtr, []float64 and []byte. On the CPU backend
// host and device share an address space, so the kind only documents
// intent; every copy is performed directly.
func (ctx *Context) Memcpy(dst, src interface{}, size int, kind MemcpyKind) error {
	if size < 0 {
		return NewTransferError("Memcpy",
			fmt.Sprintf("invalid copy size %d", size), ErrInvalidSize)
	}
	if size == 0 {
		return nil
	}
	dstBytes, err := memcpyBytes("destination", dst, size)
	if err != nil {
		return err
	}
	srcBytes, err := memcpyBytes("source", src, size)
	if err != nil {
		return err
	}
	copy(dstBytes, srcBytes)
	return nil
}

// memcpyBytes resolves a Memcpy argument to a byte view of exactly size
// bytes.
func memcpyBytes(role string, arg interface{}, size int) ([]byte, error) {
	switch v := arg.(type) {
	case DevicePtr:
		if v.IsNull() {
			return nil, NewTransferError("Memcpy", role+" is a null device pointer", nil)
		}
		if size > v.size {
			return nil, NewTransferError("Memcpy",
				fmt.Sprintf("%s holds %d bytes, need %d", role, v.size, size), nil)
		}
		return v.Byte()[:size], nil
	case []float64:
		if size > len(v)*float64Bytes {
			return nil, NewTransferError("Memcpy",
				fmt.Sprintf("%s holds %d bytes, need %d", role, len(v)*float64Bytes, size), nil)
		}
		return unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), size), nil
	case []byte:
		if size > len(v) {
			return nil, NewTransferError("Memcpy",
				fmt.Sprintf("%s holds %d bytes, need %d", role, len(v), size), nil)
		}
		return v[:size], nil
	default:
		return nil, NewTransferError("Memcpy",
			fmt.Sprintf("unsupported %s type %T", role, arg), nil)
	}
}

package fpgpu

import (
	"errors"
	"testing"
)

func TestMallocFree(t *testing.T) {
	ptr, err := Malloc(1024)
	if err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	if ptr.IsNull() {
		t.Fatal("Malloc returned a null pointer")
	}
	if ptr.Size() != 1024 {
		t.Errorf("Size() = %d, want 1024", ptr.Size())
	}
	if got := len(ptr.Float64()); got != 128 {
		t.Errorf("Float64 view has %d elements, want 128", got)
	}
	if err := Free(ptr); err != nil {
		t.Fatalf("Free failed: %v", err)
	}
}

func TestMallocInvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		_, err := Malloc(size)
		if !IsInvalidArgError(err) {
			t.Errorf("Malloc(%d) = %v, want invalid-argument error", size, err)
		}
		if !errors.Is(err, ErrInvalidSize) {
			t.Errorf("Malloc(%d) does not wrap ErrInvalidSize: %v", size, err)
		}
	}
}

func TestFreeNullPointer(t *testing.T) {
	if err := Free(DevicePtr{}); err != nil {
		t.Errorf("Free of null pointer failed: %v", err)
	}
}

func TestDoubleFree(t *testing.T) {
	ptr, err := Malloc(256)
	if err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	if err := Free(ptr); err != nil {
		t.Fatalf("first Free failed: %v", err)
	}
	err = Free(ptr)
	if err == nil {
		t.Fatal("second Free succeeded, want error")
	}
	if !errors.Is(err, ErrDoubleFree) {
		t.Errorf("second Free = %v, want ErrDoubleFree", err)
	}
	if !IsInvalidArgError(err) {
		t.Errorf("second Free = %v, want invalid-argument error", err)
	}
}

func TestMemcpyRoundTrip(t *testing.T) {
	host := GenerateFloat64(64, 11)
	ptr, err := Malloc(64 * 8)
	if err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	defer Free(ptr)

	if err := Memcpy(ptr, host, 64*8, MemcpyHostToDevice); err != nil {
		t.Fatalf("host to device copy failed: %v", err)
	}
	back := make([]float64, 64)
	if err := Memcpy(back, ptr, 64*8, MemcpyDeviceToHost); err != nil {
		t.Fatalf("device to host copy failed: %v", err)
	}
	for i := range host {
		if back[i] != host[i] {
			t.Fatalf("element %d: got %v, want %v", i, back[i], host[i])
		}
	}
}

func TestMemcpyDeviceToDevice(t *testing.T) {
	src, err := Malloc(32 * 8)
	if err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	defer Free(src)
	dst, err := Malloc(32 * 8)
	if err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	defer Free(dst)

	view := src.Float64()
	for i := range view {
		view[i] = float64(i) * 1.5
	}
	if err := Memcpy(dst, src, 32*8, MemcpyDeviceToDevice); err != nil {
		t.Fatalf("device to device copy failed: %v", err)
	}
	for i, v := range dst.Float64() {
		if v != float64(i)*1.5 {
			t.Fatalf("element %d: got %v, want %v", i, v, float64(i)*1.5)
		}
	}
}

func TestMemcpyFailures(t *testing.T) {
	ptr, err := Malloc(64)
	if err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	defer Free(ptr)
	host := make([]float64, 8)

	if err := Memcpy(ptr, host, 128, MemcpyHostToDevice); !IsTransferFailure(err) {
		t.Errorf("copy beyond device buffer = %v, want transfer failure", err)
	}
	if err := Memcpy(host, ptr, 128, MemcpyDeviceToHost); !IsTransferFailure(err) {
		t.Errorf("copy beyond host slice = %v, want transfer failure", err)
	}
	if err := Memcpy(host, "not a buffer", 8, MemcpyDefault); !IsTransferFailure(err) {
		t.Errorf("unsupported source type = %v, want transfer failure", err)
	}
	if err := Memcpy(ptr, DevicePtr{}, 8, MemcpyDeviceToDevice); !IsTransferFailure(err) {
		t.Errorf("null source = %v, want transfer failure", err)
	}
	if err := Memcpy(ptr, host, -8, MemcpyHostToDevice); !IsTransferFailure(err) {
		t.Errorf("negative size = %v, want transfer failure", err)
	}
	if err := Memcpy(ptr, host, 0, MemcpyHostToDevice); err != nil {
		t.Errorf("zero-size copy = %v, want nil", err)
	}
}

func TestDeviceCapacity(t *testing.T) {
	ctx := NewContextWithMemory(1 << 20)
	defer ctx.Destroy()

	_, err := ctx.Malloc(2 << 20)
	if !IsOutOfDeviceMemory(err) {
		t.Fatalf("oversized Malloc = %v, want out-of-device-memory", err)
	}
	if !errors.Is(err, ErrOutOfDeviceMemory) {
		t.Errorf("error does not wrap ErrOutOfDeviceMemory: %v", err)
	}
	if inUse, _ := ctx.MemoryStats(); inUse != 0 {
		t.Errorf("failed allocation left %d bytes charged", inUse)
	}

	// The capacity that rejected 2MB still serves smaller requests.
	ptr, err := ctx.Malloc(512 << 10)
	if err != nil {
		t.Fatalf("Malloc after rejection failed: %v", err)
	}
	if inUse, _ := ctx.MemoryStats(); inUse < 512<<10 {
		t.Errorf("inUse = %d after 512KB allocation", inUse)
	}
	if err := ctx.Free(ptr); err != nil {
		t.Fatalf("Free failed: %v", err)
	}
	inUse, peak := ctx.MemoryStats()
	if inUse != 0 {
		t.Errorf("inUse = %d after free, want 0", inUse)
	}
	if peak < 512<<10 {
		t.Errorf("peak = %d, want at least %d", peak, 512<<10)
	}
}

func TestPoolReusesFreedBuffers(t *testing.T) {
	ctx := NewContextWithMemory(1 << 20)
	defer ctx.Destroy()

	a, err := ctx.Malloc(4096)
	if err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	if err := ctx.Free(a); err != nil {
		t.Fatalf("Free failed: %v", err)
	}
	b, err := ctx.Malloc(4096)
	if err != nil {
		t.Fatalf("second Malloc failed: %v", err)
	}
	defer ctx.Free(b)
	if a.ptr != b.ptr {
		t.Error("pool did not recycle the freed buffer")
	}
}

func TestPoolSkipsOversizedFreeBlocks(t *testing.T) {
	ctx := NewContextWithMemory(1 << 20)
	defer ctx.Destroy()

	big, err := ctx.Malloc(256 << 10)
	if err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	if err := ctx.Free(big); err != nil {
		t.Fatalf("Free failed: %v", err)
	}

	// A small request must not be served by, and charged for, the parked
	// 256KB block.
	small, err := ctx.Malloc(4096)
	if err != nil {
		t.Fatalf("small Malloc failed: %v", err)
	}
	defer ctx.Free(small)
	if small.ptr == big.ptr {
		t.Error("small request reused a block far larger than itself")
	}
	if inUse, _ := ctx.MemoryStats(); inUse >= 256<<10 {
		t.Errorf("small allocation charged %d bytes", inUse)
	}
}

func TestOffsetViews(t *testing.T) {
	ptr, err := Malloc(32 * 8)
	if err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	defer Free(ptr)

	view := ptr.Float64()
	for i := range view {
		view[i] = float64(i)
	}

	off := ptr.Offset(16 * 8)
	if got := off.Float64()[0]; got != 16 {
		t.Errorf("offset view starts at %v, want 16", got)
	}
	if off.Size() != 16*8 {
		t.Errorf("offset view size = %d, want %d", off.Size(), 16*8)
	}
	if !ptr.Offset(-1).IsNull() {
		t.Error("negative offset must return the null pointer")
	}
	if !ptr.Offset(33 * 8).IsNull() {
		t.Error("offset past the buffer must return the null pointer")
	}
}

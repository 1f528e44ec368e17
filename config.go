package fpgpu

// Execution limits. These mirror the fixed per-block resources of a real
// accelerator so kernels written here keep the same shape there.
const (
	// DefaultTileSize is the edge length of the square tiles used by the
	// blocked matrix multiply. Each block computes one TILE x TILE output
	// tile with one thread per element.
	DefaultTileSize = 32

	// MaxThreadsPerBlock bounds the number of threads a single block may
	// contain. A tile size t requires t*t threads, so t <= 32.
	MaxThreadsPerBlock = 1024

	// SharedMemPerBlock bounds the per-block scratch memory in bytes.
	SharedMemPerBlock = 48 * 1024

	// MaxGridDim bounds each grid dimension.
	MaxGridDim = 1 << 16
)

// Memory configuration.
const (
	// MemoryAlignment is the byte alignment of device allocations.
	// 64 bytes matches the cache line size on current x86 and ARM cores.
	MemoryAlignment = 64

	// MinAllocationSize avoids tracking overhead for tiny allocations.
	MinAllocationSize = 64

	// DefaultDeviceMemory is the device capacity assumed when no explicit
	// limit is configured.
	DefaultDeviceMemory = 16 * 1024 * 1024 * 1024 // 16GB
)

const float64Bytes = 8

// alignSize rounds size up to the next multiple of MemoryAlignment.
func alignSize(size int) int {
	return (size + MemoryAlignment - 1) &^ (MemoryAlignment - 1)
}

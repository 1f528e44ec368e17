package fpgpu

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/cpu"
)

// Device describes the accelerator backing a context. The only device here
// is the host CPU itself, exposed with the bookkeeping a discrete
// accelerator would have so calling code keeps the same shape.
type Device struct {
	ID         int
	Name       string
	TotalMem   uint64 // capacity of the device allocator in bytes
	NumCores   int
	MaxThreads int // per-block thread limit
	Features   string
}

// CPUFeatures records the SIMD capabilities of the host CPU.
type CPUFeatures struct {
	HasAVX512 bool
	HasAVX2   bool
	HasAVX    bool
	HasFMA    bool
	HasSSE4   bool
	HasNEON   bool
}

// DetectCPUFeatures probes the host CPU once per process.
func DetectCPUFeatures() CPUFeatures {
	return CPUFeatures{
		HasAVX512: cpu.X86.HasAVX512F && cpu.X86.HasAVX512DQ,
		HasAVX2:   cpu.X86.HasAVX2,
		HasAVX:    cpu.X86.HasAVX,
		HasFMA:    cpu.X86.HasFMA,
		HasSSE4:   cpu.X86.HasSSE41,
		HasNEON:   cpu.ARM64.HasASIMD,
	}
}

// String returns a space-separated summary such as "avx2 fma sse4".
func (f CPUFeatures) String() string {
	var names []string
	if f.HasAVX512 {
		names = append(names, "avx512")
	}
	if f.HasAVX2 {
		names = append(names, "avx2")
	}
	if f.HasAVX {
		names = append(names, "avx")
	}
	if f.HasFMA {
		names = append(names, "fma")
	}
	if f.HasSSE4 {
		names = append(names, "sse4")
	}
	if f.HasNEON {
		names = append(names, "neon")
	}
	if len(names) == 0 {
		return "portable"
	}
	return strings.Join(names, " ")
}

var (
	deviceOnce sync.Once
	theDevice  *Device
)

// hostDevice returns the shared record for the host CPU, probing it on
// first use.
func hostDevice() *Device {
	deviceOnce.Do(func() {
		theDevice = detectDevice()
	})
	return theDevice
}

// detectDevice builds the device record for the host CPU.
func detectDevice() *Device {
	features := DetectCPUFeatures()
	dev := &Device{
		ID:         0,
		Name:       fmt.Sprintf("CPU (%s/%s)", runtime.GOOS, runtime.GOARCH),
		TotalMem:   getSystemMemory(),
		NumCores:   runtime.NumCPU(),
		MaxThreads: MaxThreadsPerBlock,
		Features:   features.String(),
	}
	log.Debug().
		Str("device", dev.Name).
		Int("cores", dev.NumCores).
		Str("simd", dev.Features).
		Msg("fpgpu: device initialized")
	return dev
}

// getSystemMemory returns the memory capacity granted to the device
// allocator. Querying actual system memory is platform specific, so the
// default context uses a fixed capacity; tests and embedders that need a
// hard limit use NewContextWithMemory.
func getSystemMemory() uint64 {
	return DefaultDeviceMemory
}

// GetDeviceCount returns the number of available devices. The CPU backend
// always exposes exactly one device.
func GetDeviceCount() int {
	return 1
}

// GetDevice returns the device of the default context.
func GetDevice() (*Device, error) {
	return defaultContext.device, nil
}

// GetDeviceProperties returns the properties of the given device.
func GetDeviceProperties(id int) (*Device, error) {
	if id != 0 {
		return nil, NewDeviceError("GetDeviceProperties",
			fmt.Sprintf("device %d does not exist", id), ErrInvalidDevice)
	}
	return defaultContext.device, nil
}

// SetDevice selects the active device. Only device 0 exists.
func SetDevice(id int) error {
	if id != 0 {
		return NewDeviceError("SetDevice",
			fmt.Sprintf("device %d does not exist", id), ErrInvalidDevice)
	}
	return nil
}

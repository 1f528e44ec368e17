// Package fpgpu is a CPU-hosted accelerator runtime for dense float64
// linear algebra. It keeps the explicit host/device programming model of
// a discrete GPU: device memory is allocated and freed by hand, matrices
// are staged across an explicit transfer step, kernels are launched over
// a grid of cooperating thread blocks, and completion is observed by
// synchronizing a stream.
//
// The centerpiece is a barrier-synchronized tiled matrix multiply. Each
// block computes one square output tile of C = A * B, staging operand
// tiles in block scratch memory so every element loaded from global
// memory is reused by a whole tile row or column. Multiply wraps the
// full round trip (validate, upload, launch, synchronize, download,
// release) in one call:
//
//	a := fpgpu.GenerateMatrix(256, 256, 1)
//	b := fpgpu.GenerateMatrix(256, 256, 2)
//	c := fpgpu.NewMatrix(256, 256)
//	if err := fpgpu.Multiply(a, b, c); err != nil {
//		log.Fatal(err)
//	}
//
// The device is the host CPU itself: blocks fan out across cores,
// threads of a block map to goroutines, and block scratch lives in
// ordinary memory. The execution model is preserved rather than
// flattened, so kernel code keeps the same shape it would have on real
// hardware, barriers and all.
package fpgpu

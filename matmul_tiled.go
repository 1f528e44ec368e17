package fpgpu

// tiledMatMulKernel returns the device kernel for one C = A * B multiply
// with tile size t. Each block computes one t x t tile of C with one
// thread per element. The block walks A's block row and B's block column
// one tile pair at a time: every thread loads one element of each operand
// tile into scratch, the block barriers so the staged tiles are complete,
// every thread accumulates its slice of the dot product out of scratch,
// and the block barriers again before the next pair overwrites the
// scratch. Each thread's accumulator is written to C exactly once, after
// the last pair.
func tiledMatMulKernel(a, b, c deviceMatrix, t int) KernelFunc {
	return func(tid ThreadID, blk *Block) {
		scratch := blk.Shared().Float64()
		as := scratch[:t*t]
		bs := scratch[t*t : 2*t*t]

		row, col := tid.ThreadIdx.Y, tid.ThreadIdx.X
		cSub := c.tile(tid.BlockIdx.Y, tid.BlockIdx.X, t)

		var sum float64
		for m := 0; m < a.width/t; m++ {
			aSub := a.tile(tid.BlockIdx.Y, m, t)
			bSub := b.tile(m, tid.BlockIdx.X, t)

			as[row*t+col] = aSub.at(row, col)
			bs[row*t+col] = bSub.at(row, col)
			blk.Sync()

			for e := 0; e < t; e++ {
				sum += as[row*t+e] * bs[e*t+col]
			}
			blk.Sync()
		}
		cSub.set(row, col, sum)
	}
}

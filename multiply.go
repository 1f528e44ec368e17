package fpgpu

import (
	"errors"
	"fmt"
)

// Multiply computes C = A * B on the default context using the default
// tile size.
func Multiply(a, b, c Matrix) error {
	return defaultContext.MultiplyTiled(a, b, c, DefaultTileSize)
}

// MultiplyTiled is Multiply with an explicit tile size.
func MultiplyTiled(a, b, c Matrix, tile int) error {
	return defaultContext.MultiplyTiled(a, b, c, tile)
}

// Multiply computes C = A * B on the context's device.
func (ctx *Context) Multiply(a, b, c Matrix) error {
	return ctx.MultiplyTiled(a, b, c, DefaultTileSize)
}

// MultiplyTiled computes C = A * B with the given tile size. It owns the
// full round trip: validation, upload of A and B, allocation of C, the
// tiled kernel launch, synchronization, download into c's backing slice,
// and release of every device buffer on all paths. All matrix dimensions
// must be positive multiples of the tile size. Results are bit-identical
// across runs for identical inputs.
func (ctx *Context) MultiplyTiled(a, b, c Matrix, tile int) (err error) {
	if err := checkMultiplyShapes(a, b, c, tile); err != nil {
		return err
	}

	// Device buffers acquired so far. The deferred release runs on every
	// path; a release failure on the success path surfaces, but never
	// masks an earlier error.
	var held []DevicePtr
	defer func() {
		for _, ptr := range held {
			if ferr := ctx.Free(ptr); ferr != nil && err == nil {
				err = ferr
			}
		}
	}()

	dA, err := ctx.upload(a)
	if err != nil {
		return err
	}
	held = append(held, dA.buf)

	dB, err := ctx.upload(b)
	if err != nil {
		return err
	}
	held = append(held, dB.buf)

	dCbuf, err := ctx.Malloc(c.Height * c.Width * float64Bytes)
	if err != nil {
		return err
	}
	held = append(held, dCbuf)
	dC := deviceMatrix{width: c.Width, height: c.Height, stride: c.Width, buf: dCbuf}

	grid := Dim3{X: c.Width / tile, Y: c.Height / tile, Z: 1}
	block := Dim3{X: tile, Y: tile, Z: 1}
	sharedBytes := 2 * tile * tile * float64Bytes

	stream := ctx.CreateStream()
	defer ctx.DestroyStream(stream)

	if err := ctx.LaunchStream(tiledMatMulKernel(dA, dB, dC, tile), grid, block, sharedBytes, stream); err != nil {
		return err
	}
	if err := stream.Synchronize(); err != nil {
		return err
	}

	return ctx.download(dC, c)
}

func checkMultiplyShapes(a, b, c Matrix, tile int) error {
	const op = "Multiply"
	if tile < 1 {
		return NewInvalidArgError(op, fmt.Sprintf("tile size %d is not positive", tile))
	}
	if tile*tile > MaxThreadsPerBlock {
		return NewInvalidArgError(op,
			fmt.Sprintf("tile size %d needs %d threads per block, limit is %d",
				tile, tile*tile, MaxThreadsPerBlock))
	}
	if err := a.validate(op, "A"); err != nil {
		return err
	}
	if err := b.validate(op, "B"); err != nil {
		return err
	}
	if err := c.validate(op, "C"); err != nil {
		return err
	}
	if a.Width != b.Height {
		return NewInvalidArgError(op,
			fmt.Sprintf("inner dimensions mismatch: A is %dx%d, B is %dx%d",
				a.Height, a.Width, b.Height, b.Width))
	}
	if c.Height != a.Height || c.Width != b.Width {
		return NewInvalidArgError(op,
			fmt.Sprintf("output is %dx%d, want %dx%d",
				c.Height, c.Width, a.Height, b.Width))
	}
	if a.Height%tile != 0 || a.Width%tile != 0 || b.Width%tile != 0 {
		return NewInvalidArgError(op,
			fmt.Sprintf("dimensions %dx%dx%d are not multiples of tile size %d",
				a.Height, a.Width, b.Width, tile))
	}
	return nil
}

// upload allocates a dense device buffer for m and copies m into it,
// collapsing any host-side stride padding. On copy failure the fresh
// buffer is released before the error returns.
func (ctx *Context) upload(m Matrix) (deviceMatrix, error) {
	buf, err := ctx.Malloc(m.Height * m.Width * float64Bytes)
	if err != nil {
		return deviceMatrix{}, err
	}
	d := deviceMatrix{width: m.Width, height: m.Height, stride: m.Width, buf: buf}
	if err := ctx.copyIn(d, m); err != nil {
		if ferr := ctx.Free(buf); ferr != nil {
			return deviceMatrix{}, errors.Join(err, ferr)
		}
		return deviceMatrix{}, err
	}
	return d, nil
}

func (ctx *Context) copyIn(d deviceMatrix, m Matrix) error {
	if m.Stride == m.Width {
		n := m.Height * m.Width
		return ctx.Memcpy(d.buf, m.Data[:n], n*float64Bytes, MemcpyHostToDevice)
	}
	rowBytes := m.Width * float64Bytes
	for r := 0; r < m.Height; r++ {
		if err := ctx.Memcpy(d.buf.Offset(r*rowBytes), m.row(r), rowBytes, MemcpyHostToDevice); err != nil {
			return err
		}
	}
	return nil
}

// download copies the device result into c's backing slice, honoring c's
// stride.
func (ctx *Context) download(d deviceMatrix, c Matrix) error {
	if c.Stride == c.Width {
		n := c.Height * c.Width
		return ctx.Memcpy(c.Data[:n], d.buf, n*float64Bytes, MemcpyDeviceToHost)
	}
	rowBytes := c.Width * float64Bytes
	for r := 0; r < c.Height; r++ {
		if err := ctx.Memcpy(c.row(r), d.buf.Offset(r*rowBytes), rowBytes, MemcpyDeviceToHost); err != nil {
			return err
		}
	}
	return nil
}

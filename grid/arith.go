package grid

import (
	"fmt"

	"github.com/openfluke/fluxgrid/tensor"
)

// Arithmetic lifts element-wise tensor math onto grids. Operands must share
// geometry, domain and boundary; a zero-dimensional operand broadcasts
// against anything. Batch dimensions broadcast by name.

type binaryOp func(b tensor.Backend, x, y tensor.Tensor) (tensor.Tensor, error)

func combine(a, b Grid, op binaryOp) (Grid, error) {
	meta := a
	if a.IsZeroDim() && !b.IsZeroDim() {
		meta = b
	}
	if !a.IsZeroDim() && !b.IsZeroDim() {
		if err := compatible(a, b); err != nil {
			return Grid{}, err
		}
	}
	backend := meta.backend
	if backend == nil {
		backend = tensor.NewCPUBackend()
	}
	v, err := op(backend, a.values, b.values)
	if err != nil {
		return Grid{}, err
	}
	return New(backend, meta.layout.geom, v, meta.layout.bnd, meta.layout.dom)
}

func compatible(a, b Grid) error {
	switch {
	case a.layout.geom != b.layout.geom:
		return fmt.Errorf("%w: cannot combine %s and %s grids", tensor.ErrShapeMismatch, a.layout.geom, b.layout.geom)
	case !a.layout.dom.Equal(b.layout.dom):
		return fmt.Errorf("%w: cannot combine grids on %s and %s", tensor.ErrShapeMismatch, a.layout.dom, b.layout.dom)
	case a.layout.bnd != b.layout.bnd:
		return fmt.Errorf("%w: cannot combine grids with %s and %s boundaries", tensor.ErrShapeMismatch, a.layout.bnd, b.layout.bnd)
	}
	return nil
}

// Add returns a + b.
func Add(a, b Grid) (Grid, error) {
	return combine(a, b, func(be tensor.Backend, x, y tensor.Tensor) (tensor.Tensor, error) { return be.Add(x, y) })
}

// Sub returns a - b.
func Sub(a, b Grid) (Grid, error) {
	return combine(a, b, func(be tensor.Backend, x, y tensor.Tensor) (tensor.Tensor, error) { return be.Sub(x, y) })
}

// Mul returns a * b.
func Mul(a, b Grid) (Grid, error) {
	return combine(a, b, func(be tensor.Backend, x, y tensor.Tensor) (tensor.Tensor, error) { return be.Mul(x, y) })
}

// Div returns a / b. Padding of staggered results is reset to zero.
func Div(a, b Grid) (Grid, error) {
	return combine(a, b, func(be tensor.Backend, x, y tensor.Tensor) (tensor.Tensor, error) { return be.Div(x, y) })
}

// Scale returns f * g.
func Scale(g Grid, f float64) Grid {
	b := g.backend
	if b == nil {
		b = tensor.NewCPUBackend()
	}
	g.values = b.Scale(g.values, f)
	return g
}

// Neg returns -g.
func Neg(g Grid) Grid { return Scale(g, -1) }

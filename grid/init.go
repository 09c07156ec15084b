package grid

import (
	"fmt"

	"github.com/openfluke/fluxgrid/tensor"
)

// Initializer describes how Make fills a new grid.
type Initializer struct {
	constant []float64
	scalarFn func(x []float64) float64
	vectorFn func(x []float64) []float64
	values   *tensor.Tensor
}

// Constant fills every sample with v. Staggered grids get v in every component.
func Constant(v float64) Initializer { return Initializer{constant: []float64{v}} }

// ConstantVector fills a vector grid with one value per component.
func ConstantVector(v ...float64) Initializer {
	return Initializer{constant: append([]float64(nil), v...), vectorFn: func([]float64) []float64 { return v }}
}

// Func samples a scalar function at every sample point.
func Func(fn func(x []float64) float64) Initializer { return Initializer{scalarFn: fn} }

// VectorFunc samples a vector function at every sample point. Staggered grids
// keep component k of fn at the faces of axis k.
func VectorFunc(fn func(x []float64) []float64) Initializer { return Initializer{vectorFn: fn} }

// Values uses an existing tensor, which may carry batch dimensions.
func Values(t tensor.Tensor) Initializer { return Initializer{values: &t} }

// Make builds a grid over dom. Centered grids built from a scalar initializer
// are scalar fields; staggered grids are always vector fields.
func Make(b tensor.Backend, geom Geometry, init Initializer, bnd Boundary, dom Domain) (Grid, error) {
	if init.values != nil {
		return New(b, geom, *init.values, bnd, dom)
	}
	rank := dom.Rank()
	vector := init.vectorFn != nil || geom == Staggered
	if len(init.constant) > 1 && len(init.constant) != rank {
		return Grid{}, fmt.Errorf("%w: %d vector components on %s", tensor.ErrShapeMismatch, len(init.constant), dom)
	}
	nvec := 0
	if vector {
		nvec = rank
	}
	layout := newLayout(geom, dom, bnd, nvec)
	data := make([]float64, layout.Size())
	for _, e := range layout.Entries() {
		switch {
		case len(init.constant) == 1:
			data[e.Index] = init.constant[0]
		case init.scalarFn != nil:
			data[e.Index] = init.scalarFn(e.Point)
		case init.vectorFn != nil:
			v := init.vectorFn(e.Point)
			if len(v) != rank {
				return Grid{}, fmt.Errorf("%w: vector function returned %d components on %s", tensor.ErrShapeMismatch, len(v), dom)
			}
			data[e.Index] = v[e.Channel]
		}
	}
	return New(b, geom, tensor.Wrap(layout.shape, data), bnd, dom)
}

// Scalar wraps t as a zero-dimensional grid. t may carry batch dimensions and
// a vector channel; it must not carry spatial dimensions.
func Scalar(b tensor.Backend, t tensor.Tensor) (Grid, error) {
	return New(b, Centered, t, Zero, Domain{})
}

// ScalarValue returns a zero-dimensional grid holding v.
func ScalarValue(b tensor.Backend, v float64) Grid {
	g, _ := Scalar(b, tensor.Scalar(v))
	return g
}

// Vector returns a zero-dimensional vector grid.
func Vector(b tensor.Backend, v ...float64) Grid {
	g, err := Scalar(b, tensor.Wrap(tensor.MustShape(tensor.Channel(VectorDim, len(v))), append([]float64(nil), v...)))
	if err != nil {
		panic(err)
	}
	return g
}

// UnitVector returns the zero-dimensional vector of length rank pointing
// along axis.
func UnitVector(b tensor.Backend, rank, axis int) Grid {
	v := make([]float64, rank)
	v[axis] = 1
	return Vector(b, v...)
}

package grid

import (
	"fmt"

	"github.com/openfluke/fluxgrid/tensor"
)

// Sum adds every sample of every slot into a zero-dimensional grid.
func Sum(g Grid) Grid {
	s, _ := g.values.Sum()
	return zeroDim(g.backend, s)
}

// SumSpatial sums over space and channels, keeping batch dimensions.
func SumSpatial(g Grid) (Grid, error) {
	s, err := g.values.SumTo(g.BatchShape().Canonical())
	if err != nil {
		return Grid{}, err
	}
	return Scalar(g.backend, s)
}

// Mean averages every stored sample, padding excluded.
func Mean(g Grid) Grid {
	return Scale(Sum(g), 1/float64(Count(g)))
}

// Count returns the number of stored samples across all slots.
func Count(g Grid) int {
	return len(g.layout.Entries()) * g.BatchShape().Size()
}

// MaxAbs returns the largest absolute sample value.
func MaxAbs(g Grid) float64 { return g.values.MaxAbs() }

func zeroDim(b tensor.Backend, t tensor.Tensor) Grid {
	g, err := Scalar(b, t)
	if err != nil {
		panic(err)
	}
	return g
}

// ZerosLike returns a grid of zeros with g's metadata and shape.
func ZerosLike(g Grid) Grid {
	g.values = tensor.Zeros(g.values.Shape())
	return g
}

// OnesLike returns a grid of ones with g's metadata and shape. Staggered
// padding stays zero.
func OnesLike(g Grid) Grid {
	g.values = tensor.Full(g.values.Shape(), 1)
	out, _ := g.masked()
	return out
}

// ReduceLike maps grad onto like's shape: dimensions grad gained through
// broadcasting are summed out, dimensions it lacks are expanded. The result
// carries like's metadata.
func ReduceLike(grad, like Grid) (Grid, error) {
	target := like.values.Shape()
	shape, err := tensor.Broadcast(grad.values.Shape(), target)
	if err != nil {
		return Grid{}, err
	}
	v, err := grad.values.Expand(shape)
	if err != nil {
		return Grid{}, err
	}
	if v, err = v.SumTo(target); err != nil {
		return Grid{}, err
	}
	return New(like.backend, like.layout.geom, v, like.layout.bnd, like.layout.dom)
}

// =============================================================================
// Stacking
// =============================================================================

// Stack combines grids along a new batch dimension. All grids must share
// geometry, domain and boundary. Differing batch dimensions are broadcast
// to their union before stacking.
func Stack(dim tensor.Dim, gs ...Grid) (Grid, error) {
	if len(gs) == 0 {
		return Grid{}, fmt.Errorf("%w: stack of zero grids", tensor.ErrShapeMismatch)
	}
	if dim.Kind != tensor.KindBatch {
		return Grid{}, fmt.Errorf("%w: grids stack along batch dimensions, got %s", tensor.ErrShapeMismatch, dim)
	}
	for _, g := range gs {
		if err := compatible(gs[0], g); err != nil {
			return Grid{}, err
		}
	}
	gs, err := AlignBatch(gs...)
	if err != nil {
		return Grid{}, err
	}
	ts := make([]tensor.Tensor, len(gs))
	for i, g := range gs {
		ts[i] = g.values
	}
	v, err := tensor.Stack(dim, ts...)
	if err != nil {
		return Grid{}, err
	}
	return gs[0].With(v)
}

// Slice returns entry i of the named batch dimension.
func Slice(g Grid, name string, i int) (Grid, error) {
	if d, ok := g.values.Shape().Dim(name); !ok || d.Kind != tensor.KindBatch {
		return Grid{}, fmt.Errorf("%w: %s has no batch dimension %q", tensor.ErrShapeMismatch, g, name)
	}
	v, err := g.values.Slice(name, i)
	if err != nil {
		return Grid{}, err
	}
	return g.With(v)
}

// Unstack splits g along the named batch dimension.
func Unstack(g Grid, name string) ([]Grid, error) {
	d, ok := g.values.Shape().Dim(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no batch dimension %q", tensor.ErrShapeMismatch, g, name)
	}
	out := make([]Grid, d.Size)
	for i := range out {
		s, err := Slice(g, name, i)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

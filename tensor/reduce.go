package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Sum sums over the named dimensions. With no names it sums everything and
// returns a rank-0 tensor.
func (t Tensor) Sum(names ...string) (Tensor, error) {
	if len(names) == 0 {
		return Scalar(floats.Sum(t.data)), nil
	}
	for _, n := range names {
		if t.shape.Index(n) < 0 {
			return Tensor{}, fmt.Errorf("%w: sum over missing dimension %q of %s", ErrShapeMismatch, n, t.shape)
		}
	}
	return t.SumTo(t.shape.Without(names...))
}

// Mean averages over the named dimensions, or over everything when none are given.
func (t Tensor) Mean(names ...string) (Tensor, error) {
	s, err := t.Sum(names...)
	if err != nil {
		return Tensor{}, err
	}
	count := len(t.data) / max(len(s.data), 1)
	return s.Scale(1 / float64(count)), nil
}

// Max returns the largest element.
func (t Tensor) Max() float64 { return floats.Max(t.data) }

// Min returns the smallest element.
func (t Tensor) Min() float64 { return floats.Min(t.data) }

// MaxAbs returns the largest absolute value, the infinity norm of the data.
func (t Tensor) MaxAbs() float64 { return floats.Norm(t.data, math.Inf(1)) }

// =============================================================================
// Stacking
// =============================================================================

// Stack combines ts along a new dimension. dim.Size is set to len(ts).
// Every input must hold the same dimensions; their order may differ.
func Stack(dim Dim, ts ...Tensor) (Tensor, error) {
	if len(ts) == 0 {
		return Tensor{}, fmt.Errorf("%w: stack of zero tensors", ErrShapeMismatch)
	}
	common := ts[0].shape
	for i, t := range ts[1:] {
		if !common.SameDims(t.shape) {
			return Tensor{}, fmt.Errorf("%w: stack input %d has shape %s, want %s", ErrShapeMismatch, i+1, t.shape, common)
		}
	}
	if common.Index(dim.Name) >= 0 {
		return Tensor{}, fmt.Errorf("%w: stack dimension %q already present", ErrShapeMismatch, dim.Name)
	}
	common = common.Canonical()
	dim.Size = len(ts)
	stacked := append(Shape{dim}, common...)
	data := make([]float64, 0, stacked.Size())
	for _, t := range ts {
		e, err := t.Expand(common)
		if err != nil {
			return Tensor{}, err
		}
		data = append(data, e.data...)
	}
	return Tensor{shape: stacked, data: data}.Canonical(), nil
}

// Slice returns entry i of the named dimension, with that dimension removed.
func (t Tensor) Slice(name string, i int) (Tensor, error) {
	di := t.shape.Index(name)
	if di < 0 {
		return Tensor{}, fmt.Errorf("%w: slice over missing dimension %q of %s", ErrShapeMismatch, name, t.shape)
	}
	if i < 0 || i >= t.shape[di].Size {
		return Tensor{}, fmt.Errorf("%w: index %d out of range for %s", ErrShapeMismatch, i, t.shape[di])
	}
	rest := t.shape.Without(name)
	moved, err := t.Expand(append(Shape{t.shape[di]}, rest...))
	if err != nil {
		return Tensor{}, err
	}
	n := rest.Size()
	data := make([]float64, n)
	copy(data, moved.data[i*n:(i+1)*n])
	return Tensor{shape: rest, data: data}, nil
}

// Unstack splits t along the named dimension.
func (t Tensor) Unstack(name string) ([]Tensor, error) {
	d, ok := t.shape.Dim(name)
	if !ok {
		return nil, fmt.Errorf("%w: unstack over missing dimension %q of %s", ErrShapeMismatch, name, t.shape)
	}
	out := make([]Tensor, d.Size)
	for i := range out {
		s, err := t.Slice(name, i)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

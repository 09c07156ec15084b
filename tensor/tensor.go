package tensor

import (
	"fmt"
	"math"
)

// Tensor is an immutable dense array of float64 addressed by a Shape.
// Data is stored row-major in shape order. Every operation returns a new
// Tensor; no method mutates its receiver.
type Tensor struct {
	shape Shape
	data  []float64
}

// =============================================================================
// Construction
// =============================================================================

// New copies data into a tensor of the given shape.
func New(shape Shape, data []float64) (Tensor, error) {
	if _, err := NewShape(shape...); err != nil {
		return Tensor{}, err
	}
	if len(data) != shape.Size() {
		return Tensor{}, fmt.Errorf("%w: %d values for shape %s (size %d)", ErrShapeMismatch, len(data), shape, shape.Size())
	}
	buf := make([]float64, len(data))
	copy(buf, data)
	return Tensor{shape: shape.Clone(), data: buf}, nil
}

// Wrap builds a tensor that takes ownership of data. The caller must not
// modify data afterwards. It panics if the length does not match the shape.
func Wrap(shape Shape, data []float64) Tensor {
	if len(data) != shape.Size() {
		panic(fmt.Sprintf("tensor.Wrap: %d values for shape %s", len(data), shape))
	}
	return Tensor{shape: shape.Clone(), data: data}
}

// Zeros returns a tensor filled with 0.
func Zeros(shape Shape) Tensor {
	return Tensor{shape: shape.Clone(), data: make([]float64, shape.Size())}
}

// Full returns a tensor filled with v.
func Full(shape Shape, v float64) Tensor {
	data := make([]float64, shape.Size())
	for i := range data {
		data[i] = v
	}
	return Tensor{shape: shape.Clone(), data: data}
}

// Scalar returns a rank-0 tensor.
func Scalar(v float64) Tensor {
	return Tensor{data: []float64{v}}
}

// FromFunc evaluates fn at every multi-index of shape.
func FromFunc(shape Shape, fn func(idx []int) float64) Tensor {
	out := Zeros(shape)
	idx := make([]int, len(shape))
	for i := range out.data {
		out.data[i] = fn(idx)
		increment(idx, shape)
	}
	return out
}

func increment(idx []int, shape Shape) {
	for d := len(idx) - 1; d >= 0; d-- {
		idx[d]++
		if idx[d] < shape[d].Size {
			return
		}
		idx[d] = 0
	}
}

// =============================================================================
// Accessors
// =============================================================================

// Shape returns a copy of the tensor's shape.
func (t Tensor) Shape() Shape { return t.shape.Clone() }

// Rank returns the number of dimensions.
func (t Tensor) Rank() int { return len(t.shape) }

// Size returns the number of elements.
func (t Tensor) Size() int { return len(t.data) }

// Data returns a copy of the underlying values.
func (t Tensor) Data() []float64 {
	out := make([]float64, len(t.data))
	copy(out, t.data)
	return out
}

// Item returns the single value of a size-1 tensor.
func (t Tensor) Item() (float64, error) {
	if len(t.data) != 1 {
		return 0, fmt.Errorf("%w: Item on tensor of shape %s", ErrShapeMismatch, t.shape)
	}
	return t.data[0], nil
}

// Get returns the value at the given named index. Dimensions not named
// default to index 0; unknown names and out-of-range indices are errors.
func (t Tensor) Get(index map[string]int) (float64, error) {
	for name := range index {
		if _, ok := t.shape.Dim(name); !ok {
			return 0, fmt.Errorf("%w: Get: no dimension %q in %s", ErrShapeMismatch, name, t.shape)
		}
	}
	strides := t.shape.Strides()
	off := 0
	for i, d := range t.shape {
		k := index[d.Name]
		if k < 0 || k >= d.Size {
			return 0, fmt.Errorf("%w: Get: index %d out of range for %s", ErrShapeMismatch, k, d)
		}
		off += k * strides[i]
	}
	return t.data[off], nil
}

func (t Tensor) String() string {
	if len(t.data) <= 8 {
		return fmt.Sprintf("Tensor%s%v", t.shape, t.data)
	}
	return fmt.Sprintf("Tensor%s[%g %g ... %g]", t.shape, t.data[0], t.data[1], t.data[len(t.data)-1])
}

// =============================================================================
// Broadcasting
// =============================================================================

// broadcastStrides returns, for each dim of target, the stride into src's
// data, or 0 when src lacks the dim or holds it with size 1.
func broadcastStrides(src, target Shape) ([]int, error) {
	srcStrides := src.Strides()
	out := make([]int, len(target))
	for _, d := range src {
		j := target.Index(d.Name)
		if j < 0 {
			if d.Size != 1 {
				return nil, fmt.Errorf("%w: dimension %q missing from %s", ErrShapeMismatch, d.Name, target)
			}
			continue
		}
		td := target[j]
		if td.Kind != d.Kind {
			return nil, fmt.Errorf("%w: dimension %q is %s, want %s", ErrShapeMismatch, d.Name, d.Kind, td.Kind)
		}
		switch {
		case d.Size == td.Size:
			out[j] = srcStrides[src.Index(d.Name)]
		case d.Size == 1:
		default:
			return nil, fmt.Errorf("%w: dimension %q has size %d, want %d", ErrShapeMismatch, d.Name, d.Size, td.Size)
		}
	}
	return out, nil
}

// Expand broadcasts t to target. The result has exactly target's dim order.
func (t Tensor) Expand(target Shape) (Tensor, error) {
	if t.shape.Equal(target) {
		return t, nil
	}
	strides, err := broadcastStrides(t.shape, target)
	if err != nil {
		return Tensor{}, err
	}
	out := make([]float64, target.Size())
	idx := make([]int, len(target))
	off := 0
	for i := range out {
		out[i] = t.data[off]
		off = step(idx, target, strides, off)
	}
	return Tensor{shape: target.Clone(), data: out}, nil
}

// step advances idx and returns the updated source offset.
func step(idx []int, shape Shape, strides []int, off int) int {
	for d := len(idx) - 1; d >= 0; d-- {
		idx[d]++
		off += strides[d]
		if idx[d] < shape[d].Size {
			return off
		}
		off -= strides[d] * idx[d]
		idx[d] = 0
	}
	return off
}

// SumTo reduces t onto target by summing every dimension that target lacks
// or holds with size 1. It is the reverse of Expand.
func (t Tensor) SumTo(target Shape) (Tensor, error) {
	if t.shape.Equal(target) {
		return t, nil
	}
	for _, d := range target {
		sd, ok := t.shape.Dim(d.Name)
		if !ok {
			if d.Size != 1 {
				return Tensor{}, fmt.Errorf("%w: cannot sum %s to %s", ErrShapeMismatch, t.shape, target)
			}
			continue
		}
		if sd.Kind != d.Kind || (sd.Size != d.Size && d.Size != 1) {
			return Tensor{}, fmt.Errorf("%w: cannot sum %s to %s", ErrShapeMismatch, t.shape, target)
		}
	}
	tStrides := target.Strides()
	strides := make([]int, len(t.shape))
	for i, d := range t.shape {
		if j := target.Index(d.Name); j >= 0 && target[j].Size == d.Size {
			strides[i] = tStrides[j]
		}
	}
	out := make([]float64, target.Size())
	idx := make([]int, len(t.shape))
	off := 0
	for _, v := range t.data {
		out[off] += v
		off = step(idx, t.shape, strides, off)
	}
	return Tensor{shape: target.Clone(), data: out}, nil
}

// Transpose reorders t's dimensions to the given names, which must be a
// permutation of the current names.
func (t Tensor) Transpose(names ...string) (Tensor, error) {
	if len(names) != len(t.shape) {
		return Tensor{}, fmt.Errorf("%w: transpose %v of %s", ErrShapeMismatch, names, t.shape)
	}
	target := make(Shape, len(names))
	for i, n := range names {
		d, ok := t.shape.Dim(n)
		if !ok {
			return Tensor{}, fmt.Errorf("%w: transpose: no dimension %q in %s", ErrShapeMismatch, n, t.shape)
		}
		target[i] = d
	}
	if _, err := NewShape(target...); err != nil {
		return Tensor{}, err
	}
	return t.Expand(target)
}

// Canonical returns t with its dimensions in canonical order.
func (t Tensor) Canonical() Tensor {
	c := t.shape.Canonical()
	if c.Equal(t.shape) {
		return t
	}
	out, _ := t.Expand(c)
	return out
}

// =============================================================================
// Element-wise arithmetic
// =============================================================================

func binary(a, b Tensor, fn func(x, y float64) float64) (Tensor, error) {
	if a.shape.Equal(b.shape) {
		out := make([]float64, len(a.data))
		for i := range out {
			out[i] = fn(a.data[i], b.data[i])
		}
		return Tensor{shape: a.shape.Clone(), data: out}, nil
	}
	shape, err := Broadcast(a.shape, b.shape)
	if err != nil {
		return Tensor{}, err
	}
	sa, err := broadcastStrides(a.shape, shape)
	if err != nil {
		return Tensor{}, err
	}
	sb, err := broadcastStrides(b.shape, shape)
	if err != nil {
		return Tensor{}, err
	}
	out := make([]float64, shape.Size())
	idxA := make([]int, len(shape))
	idxB := make([]int, len(shape))
	offA, offB := 0, 0
	for i := range out {
		out[i] = fn(a.data[offA], b.data[offB])
		offA = step(idxA, shape, sa, offA)
		offB = step(idxB, shape, sb, offB)
	}
	return Tensor{shape: shape, data: out}, nil
}

// Add returns t + o with broadcasting.
func (t Tensor) Add(o Tensor) (Tensor, error) {
	return binary(t, o, func(x, y float64) float64 { return x + y })
}

// Sub returns t - o with broadcasting.
func (t Tensor) Sub(o Tensor) (Tensor, error) {
	return binary(t, o, func(x, y float64) float64 { return x - y })
}

// Mul returns t * o with broadcasting.
func (t Tensor) Mul(o Tensor) (Tensor, error) {
	return binary(t, o, func(x, y float64) float64 { return x * y })
}

// Div returns t / o with broadcasting.
func (t Tensor) Div(o Tensor) (Tensor, error) {
	return binary(t, o, func(x, y float64) float64 { return x / y })
}

// Scale multiplies every element by f.
func (t Tensor) Scale(f float64) Tensor {
	return t.Map(func(x float64) float64 { return x * f })
}

// Neg negates every element.
func (t Tensor) Neg() Tensor { return t.Scale(-1) }

// Map applies fn element-wise.
func (t Tensor) Map(fn func(float64) float64) Tensor {
	out := make([]float64, len(t.data))
	for i, v := range t.data {
		out[i] = fn(v)
	}
	return Tensor{shape: t.shape.Clone(), data: out}
}

// =============================================================================
// Comparison
// =============================================================================

// AllClose reports whether a and b hold the same dimensions and every pair of
// elements differs by at most tol.
func AllClose(a, b Tensor, tol float64) bool {
	if !a.shape.SameDims(b.shape) {
		return false
	}
	if !a.shape.Equal(b.shape) {
		var err error
		if b, err = b.Expand(a.shape); err != nil {
			return false
		}
	}
	for i := range a.data {
		if math.Abs(a.data[i]-b.data[i]) > tol || math.IsNaN(a.data[i]) != math.IsNaN(b.data[i]) {
			return false
		}
	}
	return true
}

package tensor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(shape Shape) Tensor {
	return FromFunc(shape, func(idx []int) float64 {
		v := 0.0
		for _, i := range idx {
			v = v*10 + float64(i)
		}
		return v
	})
}

func get(t *testing.T, tt Tensor, index map[string]int) float64 {
	t.Helper()
	v, err := tt.Get(index)
	require.NoError(t, err)
	return v
}

func TestNewRejectsWrongLength(t *testing.T) {
	_, err := New(MustShape(Spatial("x", 3)), []float64{1, 2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestNewCopiesInput(t *testing.T) {
	data := []float64{1, 2, 3}
	tt, err := New(MustShape(Spatial("x", 3)), data)
	require.NoError(t, err)
	data[0] = 99
	assert.Equal(t, []float64{1, 2, 3}, tt.Data())

	out := tt.Data()
	out[1] = 42
	assert.Equal(t, []float64{1, 2, 3}, tt.Data())
}

func TestBroadcastByName(t *testing.T) {
	a := seq(MustShape(Spatial("x", 2), Spatial("y", 3)))
	b := Full(MustShape(Batch("seed", 4)), 1)

	c, err := a.Add(b)
	require.NoError(t, err)
	assert.True(t, c.Shape().Equal(MustShape(Batch("seed", 4), Spatial("x", 2), Spatial("y", 3))))
	for s := 0; s < 4; s++ {
		assert.Equal(t, get(t, a, map[string]int{"x": 1, "y": 2})+1, get(t, c, map[string]int{"seed": s, "x": 1, "y": 2}))
	}
}

func TestBroadcastSizeOne(t *testing.T) {
	a := seq(MustShape(Spatial("x", 3)))
	b := Full(MustShape(Spatial("x", 1)), 2)
	c, err := a.Mul(b)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 2, 4}, c.Data())
}

func TestBroadcastMismatch(t *testing.T) {
	tests := []struct {
		name string
		a, b Shape
	}{
		{"size", MustShape(Spatial("x", 32), Spatial("y", 40)), MustShape(Spatial("x", 16), Spatial("y", 20))},
		{"kind", MustShape(Spatial("x", 3)), MustShape(Batch("x", 3))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Zeros(tt.a).Add(Zeros(tt.b))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrShapeMismatch)
		})
	}
}

func TestCanonicalOrder(t *testing.T) {
	a := Zeros(MustShape(Channel("vector", 2), Spatial("x", 2)))
	b := Zeros(MustShape(Batch("b", 2), Batch("a", 1)))
	c, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "x", "vector"}, c.Shape().Names())
}

func TestSumAndSumTo(t *testing.T) {
	a := seq(MustShape(Batch("seed", 2), Spatial("x", 3)))
	s, err := a.Sum("x")
	require.NoError(t, err)
	assert.Equal(t, []float64{0 + 1 + 2, 10 + 11 + 12}, s.Data())

	total, err := a.Sum()
	require.NoError(t, err)
	v, err := total.Item()
	require.NoError(t, err)
	assert.Equal(t, 36.0, v)

	m, err := a.Mean("seed")
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 6, 7}, m.Data())

	_, err = a.Sum("nope")
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestExpandSumToAdjoint(t *testing.T) {
	small := seq(MustShape(Spatial("x", 3)))
	big := MustShape(Batch("seed", 4), Spatial("x", 3))
	e, err := small.Expand(big)
	require.NoError(t, err)
	back, err := e.SumTo(small.Shape())
	require.NoError(t, err)
	assert.Equal(t, small.Scale(4).Data(), back.Data())
}

func TestTranspose(t *testing.T) {
	a := seq(MustShape(Spatial("x", 2), Spatial("y", 3)))
	tr, err := a.Transpose("y", "x")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 10, 1, 11, 2, 12}, tr.Data())
	assert.True(t, AllClose(a, tr, 0))

	_, err = a.Transpose("x")
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestStackUnstackRoundTrip(t *testing.T) {
	shape := MustShape(Spatial("x", 3), Spatial("y", 2), Channel("vector", 2))
	parts := []Tensor{
		seq(shape),
		seq(shape).Scale(-1),
		Full(shape, 7),
	}
	stacked, err := Stack(Batch("time", 0), parts...)
	require.NoError(t, err)
	d, ok := stacked.Shape().Dim("time")
	require.True(t, ok)
	assert.Equal(t, 3, d.Size)

	back, err := stacked.Unstack("time")
	require.NoError(t, err)
	require.Len(t, back, len(parts))
	for i := range parts {
		assert.True(t, AllClose(parts[i], back[i], 0), "slot %d", i)
	}
}

func TestStackRejectsExistingDim(t *testing.T) {
	_, err := Stack(Spatial("x", 0), Zeros(MustShape(Spatial("x", 2))))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestStackRequiresMatchingShapes(t *testing.T) {
	a := seq(MustShape(Spatial("x", 3), Spatial("y", 2)))
	tests := []struct {
		name string
		b    Tensor
	}{
		{"broadcastable size one", Full(MustShape(Spatial("x", 1), Spatial("y", 2)), 1)},
		{"missing dimension", Full(MustShape(Spatial("x", 3)), 1)},
		{"extra batch dimension", Full(MustShape(Batch("seed", 2), Spatial("x", 3), Spatial("y", 2)), 1)},
		{"different size", Full(MustShape(Spatial("x", 4), Spatial("y", 2)), 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Stack(Batch("k", 0), a, tt.b)
			assert.ErrorIs(t, err, ErrShapeMismatch)
		})
	}

	// Dimension order does not matter.
	b, err := a.Scale(2).Transpose("y", "x")
	require.NoError(t, err)
	s, err := Stack(Batch("k", 0), a, b)
	require.NoError(t, err)
	assert.Equal(t, 2*get(t, a, map[string]int{"x": 2, "y": 1}), get(t, s, map[string]int{"k": 1, "x": 2, "y": 1}))
}

func TestGetChecksIndex(t *testing.T) {
	a := seq(MustShape(Batch("seed", 2), Spatial("x", 3)))
	assert.Equal(t, 12.0, get(t, a, map[string]int{"seed": 1, "x": 2}))
	assert.Equal(t, 2.0, get(t, a, map[string]int{"x": 2}))

	for _, index := range []map[string]int{
		{"x": 3},
		{"x": -1},
		{"seed": 2},
		{"y": 0},
	} {
		_, err := a.Get(index)
		assert.ErrorIs(t, err, ErrShapeMismatch, "%v", index)
	}
}

func TestReductions(t *testing.T) {
	a, err := New(MustShape(Spatial("x", 4)), []float64{-3, 1, 2, 0.5})
	require.NoError(t, err)
	assert.Equal(t, 2.0, a.Max())
	assert.Equal(t, -3.0, a.Min())
	assert.Equal(t, 3.0, a.MaxAbs())
}

func TestCPUBackend(t *testing.T) {
	var b Backend = NewCPUBackend()
	assert.Equal(t, "cpu", b.Name())
	x := seq(MustShape(Spatial("x", 3)))
	y, err := b.Add(x, x)
	require.NoError(t, err)
	assert.True(t, AllClose(y, b.Scale(x, 2), 0))
	z, err := b.Div(y, Full(x.Shape(), 2))
	require.NoError(t, err)
	assert.True(t, AllClose(z, x, 1e-15))
}

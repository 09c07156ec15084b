package grid

import (
	"fmt"

	"github.com/openfluke/fluxgrid/tensor"
)

// Sparse is a row-compressed matrix acting on one batch slot.
// Rows are appended in order; duplicate column entries within a row add up.
type Sparse struct {
	cols int
	ptr  []int
	col  []int
	val  []float64
}

// NewSparse returns an empty matrix with the given column count.
func NewSparse(cols int) *Sparse {
	return &Sparse{cols: cols, ptr: []int{0}}
}

// AppendRow adds the next row. A nil row is all zeros.
func (s *Sparse) AppendRow(row []Corner) {
	for _, c := range row {
		s.col = append(s.col, c.Index)
		s.val = append(s.val, c.Weight)
	}
	s.ptr = append(s.ptr, len(s.col))
}

// Rows returns the number of rows appended so far.
func (s *Sparse) Rows() int { return len(s.ptr) - 1 }

// Cols returns the column count.
func (s *Sparse) Cols() int { return s.cols }

// Row returns the entries of row r.
func (s *Sparse) Row(r int) []Corner {
	out := make([]Corner, 0, s.ptr[r+1]-s.ptr[r])
	for k := s.ptr[r]; k < s.ptr[r+1]; k++ {
		out = append(out, Corner{Index: s.col[k], Weight: s.val[k]})
	}
	return out
}

// MulVec computes y = S x.
func (s *Sparse) MulVec(x, y []float64) {
	for r := 0; r < s.Rows(); r++ {
		acc := 0.0
		for k := s.ptr[r]; k < s.ptr[r+1]; k++ {
			acc += s.val[k] * x[s.col[k]]
		}
		y[r] = acc
	}
}

// MulVecT computes y = Sᵀ x. y is overwritten.
func (s *Sparse) MulVecT(x, y []float64) {
	for i := range y {
		y[i] = 0
	}
	for r := 0; r < s.Rows(); r++ {
		if x[r] == 0 {
			continue
		}
		for k := s.ptr[r]; k < s.ptr[r+1]; k++ {
			y[s.col[k]] += s.val[k] * x[r]
		}
	}
}

// =============================================================================
// Linear grid operators
// =============================================================================

// Linear is a batch-independent linear map between two grid layouts.
type Linear struct {
	m   *Sparse
	in  Layout
	out Layout
}

// NewLinear wraps a matrix whose columns follow in and rows follow out.
func NewLinear(m *Sparse, in, out Layout) (*Linear, error) {
	if m.Cols() != in.Size() || m.Rows() != out.Size() {
		return nil, fmt.Errorf("%w: %dx%d matrix between layouts of size %d and %d",
			tensor.ErrShapeMismatch, m.Rows(), m.Cols(), in.Size(), out.Size())
	}
	return &Linear{m: m, in: in, out: out}, nil
}

// In returns the layout the operator consumes.
func (l *Linear) In() Layout { return l.in }

// Out returns the layout the operator produces.
func (l *Linear) Out() Layout { return l.out }

// MulVec applies the operator to one slot vector.
func (l *Linear) MulVec(x, y []float64) { l.m.MulVec(x, y) }

// MulVecT applies the transpose to one slot vector.
func (l *Linear) MulVecT(x, y []float64) { l.m.MulVecT(x, y) }

// Apply maps every batch slot of g through the operator.
func (l *Linear) Apply(g Grid) (Grid, error) {
	if !g.Layout().SameSamples(l.in) {
		return Grid{}, fmt.Errorf("%w: operator expects %s grid on %s, got %s", tensor.ErrShapeMismatch, l.in.geom, l.in.dom, g)
	}
	return mapSlots(g, l.out, l.m.MulVec)
}

// Transpose maps every batch slot of g, laid out like Out, through the
// transposed operator.
func (l *Linear) Transpose(g Grid) (Grid, error) {
	if !g.Layout().SameSamples(l.out) {
		return Grid{}, fmt.Errorf("%w: transpose expects %s grid on %s, got %s", tensor.ErrShapeMismatch, l.out.geom, l.out.dom, g)
	}
	return mapSlots(g, l.in, l.m.MulVecT)
}

// mapSlots applies fn slot by slot, producing a grid laid out like out.
func mapSlots(g Grid, out Layout, fn func(x, y []float64)) (Grid, error) {
	batch, slots := g.SlotVectors()
	res := make([][]float64, len(slots))
	err := ForEachSlot(len(slots), func(s int) error {
		res[s] = make([]float64, out.Size())
		fn(slots[s], res[s])
		return nil
	})
	if err != nil {
		return Grid{}, err
	}
	return FromSlotVectors(g.backend, out, batch, res)
}

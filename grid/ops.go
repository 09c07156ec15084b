package grid

import (
	"fmt"

	"github.com/openfluke/fluxgrid/tensor"
)

// assemble builds a Linear whose row for each stored entry of out is given
// by row. Padding rows stay empty.
func assemble(in, out Layout, row func(e Entry) ([]Corner, error)) (*Linear, error) {
	rows := make([][]Corner, out.Size())
	for _, e := range out.Entries() {
		r, err := row(e)
		if err != nil {
			return nil, err
		}
		rows[e.Index] = r
	}
	m := NewSparse(in.Size())
	for _, r := range rows {
		m.AppendRow(r)
	}
	return NewLinear(m, in, out)
}

// =============================================================================
// Resampling
// =============================================================================

// AtOp returns the operator that resamples src onto the sample points of
// like. The result has like's geometry, domain and boundary. Centered vector
// sources feed staggered component k from channel k; staggered sources
// resampled onto centered points produce vector grids; scalar sources fill
// every component.
func AtOp(src, like Grid) (*Linear, error) {
	in := src.layout
	if like.IsZeroDim() && !src.IsZeroDim() {
		return nil, fmt.Errorf("%w: cannot resample %s onto a zero-dimensional grid", tensor.ErrShapeMismatch, src)
	}
	nvec := in.nvec
	switch {
	case like.layout.geom == Staggered:
		nvec = like.layout.dom.Rank()
	case in.geom == Staggered:
		nvec = in.dom.Rank()
	}
	if in.nvec > 0 && nvec != in.nvec {
		return nil, fmt.Errorf("%w: cannot resample %d components onto %s", tensor.ErrShapeMismatch, in.nvec, like)
	}
	out := newLayout(like.layout.geom, like.layout.dom, like.layout.bnd, nvec)
	if nvec > 0 && out.dom.Rank() > 0 && nvec != out.dom.Rank() {
		return nil, fmt.Errorf("%w: cannot resample %s onto %s", tensor.ErrShapeMismatch, src, like)
	}

	if in.SameSamples(out) {
		return assemble(in, out, func(e Entry) ([]Corner, error) {
			return []Corner{{Index: e.Index, Weight: 1}}, nil
		})
	}

	axisOf := make([]int, in.dom.Rank())
	for j, a := range in.dom.axes {
		m := out.dom.axes.Index(a.Name)
		if m < 0 {
			return nil, fmt.Errorf("%w: %s has no axis %q", tensor.ErrShapeMismatch, like.layout.dom, a.Name)
		}
		axisOf[j] = m
	}
	return assemble(in, out, func(e Entry) ([]Corner, error) {
		x := make([]float64, len(axisOf))
		for j, m := range axisOf {
			x[j] = e.Point[m]
		}
		ch := 0
		if in.nvec > 0 {
			ch = e.Channel
		}
		return in.Interp(ch, x), nil
	})
}

// At resamples src onto the sample points of like.
func At(src, like Grid) (Grid, error) {
	op, err := AtOp(src, like)
	if err != nil {
		return Grid{}, err
	}
	return op.Apply(src)
}

// =============================================================================
// Finite differences
// =============================================================================

// DivergenceOp returns the staggered-to-centered divergence on dom. Each cell
// takes the difference of its opposing faces; periodic domains wrap the last
// face onto the first.
func DivergenceOp(dom Domain, bnd Boundary) (*Linear, error) {
	in := newLayout(Staggered, dom, bnd, dom.Rank())
	out := newLayout(Centered, dom, bnd.SpatialGradient(), 0)
	return assemble(in, out, func(e Entry) ([]Corner, error) {
		var row []Corner
		pos := append([]int(nil), e.Pos...)
		for k := 0; k < dom.Rank(); k++ {
			inv := 1 / dom.Dx(k)
			n, period := dom.Resolution(k)+1, dom.Resolution(k)
			for side, w := range [2]float64{-inv, inv} {
				i, ok := bnd.resolve(e.Pos[k]+side, n, period)
				if !ok {
					continue
				}
				pos[k] = i
				row = append(row, Corner{Index: in.Offset(pos, k), Weight: w})
			}
			pos[k] = e.Pos[k]
		}
		return row, nil
	})
}

// centeredDivergenceOp uses central differences on a centered vector grid.
func centeredDivergenceOp(dom Domain, bnd Boundary) (*Linear, error) {
	in := newLayout(Centered, dom, bnd, dom.Rank())
	out := newLayout(Centered, dom, bnd.SpatialGradient(), 0)
	return assemble(in, out, func(e Entry) ([]Corner, error) {
		var row []Corner
		pos := append([]int(nil), e.Pos...)
		for k := 0; k < dom.Rank(); k++ {
			inv := 0.5 / dom.Dx(k)
			n := dom.Resolution(k)
			for _, d := range []struct {
				off int
				w   float64
			}{{-1, -inv}, {1, inv}} {
				i, ok := bnd.resolve(e.Pos[k]+d.off, n, n)
				if !ok {
					continue
				}
				pos[k] = i
				row = append(row, Corner{Index: in.Offset(pos, k), Weight: d.w})
			}
			pos[k] = e.Pos[k]
		}
		return row, nil
	})
}

// DivergenceOperator returns the divergence operator for g's layout.
func DivergenceOperator(g Grid) (*Linear, error) {
	switch {
	case g.layout.geom == Staggered:
		return DivergenceOp(g.layout.dom, g.layout.bnd)
	case g.IsVector() && !g.IsZeroDim():
		return centeredDivergenceOp(g.layout.dom, g.layout.bnd)
	default:
		return nil, fmt.Errorf("%w: divergence of %s", tensor.ErrShapeMismatch, g)
	}
}

// Divergence of a staggered or centered vector grid, as a centered scalar grid.
func Divergence(g Grid) (Grid, error) {
	op, err := DivergenceOperator(g)
	if err != nil {
		return Grid{}, err
	}
	return op.Apply(g)
}

// GradientOp returns the centered-to-staggered gradient on dom. Face f along
// axis k holds (p[f] - p[f-1]) / dx_k with out-of-domain cells resolved by
// in. The result carries boundary out.
func GradientOp(dom Domain, in, out Boundary) (*Linear, error) {
	if dom.Rank() == 0 {
		return nil, fmt.Errorf("%w: gradient on a zero-dimensional domain", tensor.ErrShapeMismatch)
	}
	li := newLayout(Centered, dom, in, 0)
	lo := newLayout(Staggered, dom, out, dom.Rank())
	return assemble(li, lo, func(e Entry) ([]Corner, error) {
		k := e.Channel
		inv := 1 / dom.Dx(k)
		n := dom.Resolution(k)
		pos := append([]int(nil), e.Pos...)
		var row []Corner
		for _, d := range []struct {
			off int
			w   float64
		}{{-1, -inv}, {0, inv}} {
			i, ok := in.resolve(e.Pos[k]+d.off, n, n)
			if !ok {
				continue
			}
			pos[k] = i
			row = append(row, Corner{Index: li.Offset(pos, 0), Weight: d.w})
		}
		return row, nil
	})
}

// GradientOperator returns the gradient operator for a centered scalar grid.
func GradientOperator(g Grid) (*Linear, error) {
	if g.layout.geom != Centered || g.IsVector() {
		return nil, fmt.Errorf("%w: gradient of %s", tensor.ErrShapeMismatch, g)
	}
	return GradientOp(g.layout.dom, g.layout.bnd, g.layout.bnd.SpatialGradient())
}

// Gradient of a centered scalar grid, as a staggered grid.
func Gradient(g Grid) (Grid, error) {
	op, err := GradientOperator(g)
	if err != nil {
		return Grid{}, err
	}
	return op.Apply(g)
}

// Laplacian returns the divergence of the gradient of a centered scalar grid.
func Laplacian(g Grid) (Grid, error) {
	grad, err := Gradient(g)
	if err != nil {
		return Grid{}, err
	}
	return Divergence(grad)
}

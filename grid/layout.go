package grid

import (
	"math"

	"github.com/openfluke/fluxgrid/tensor"
)

// Layout describes the samples of one batch slot of a grid: which flat
// index holds which point, and how to interpolate between samples.
type Layout struct {
	geom    Geometry
	dom     Domain
	bnd     Boundary
	nvec    int // 0 for scalar grids
	shape   tensor.Shape
	strides []int
}

func newLayout(geom Geometry, dom Domain, bnd Boundary, nvec int) Layout {
	shape := make(tensor.Shape, 0, dom.Rank()+1)
	for _, a := range dom.axes {
		if geom == Staggered {
			a.Size++
		}
		shape = append(shape, a)
	}
	if nvec > 0 {
		shape = append(shape, tensor.Channel(VectorDim, nvec))
	}
	return Layout{geom: geom, dom: dom, bnd: bnd, nvec: nvec, shape: shape, strides: shape.Strides()}
}

// Size returns the number of stored values per slot, padding included.
func (l Layout) Size() int { return l.shape.Size() }

// Shape returns the per-slot tensor shape.
func (l Layout) Shape() tensor.Shape { return l.shape.Clone() }

// Channels returns the number of interpolable channels (1 for scalars).
func (l Layout) Channels() int { return max(l.nvec, 1) }

// Geometry returns the sample geometry.
func (l Layout) Geometry() Geometry { return l.geom }

// Domain returns the spatial domain.
func (l Layout) Domain() Domain { return l.dom }

// Boundary returns the boundary used when sampling outside the domain.
func (l Layout) Boundary() Boundary { return l.bnd }

// SameSamples reports whether both layouts store the same samples,
// ignoring the boundary rule.
func (l Layout) SameSamples(o Layout) bool {
	return l.geom == o.geom && l.nvec == o.nvec && l.dom.Equal(o.dom)
}

// Offset returns the flat index of lattice position pos in channel ch.
func (l Layout) Offset(pos []int, ch int) int {
	off := 0
	for j, p := range pos {
		off += p * l.strides[j]
	}
	if l.nvec > 0 {
		off += ch * l.strides[len(l.strides)-1]
	}
	return off
}

// count returns the number of samples of channel ch along axis j.
func (l Layout) count(ch, j int) int {
	n := l.dom.axes[j].Size
	if l.geom == Staggered && j == ch {
		n++
	}
	return n
}

// origin returns the coordinate of sample 0 of channel ch along axis j.
func (l Layout) origin(ch, j int) float64 {
	lo := l.dom.box.Lower[j]
	if l.geom == Staggered && j == ch {
		return lo
	}
	return lo + 0.5*l.dom.Dx(j)
}

// Entry is one stored sample.
type Entry struct {
	Index   int
	Channel int
	Pos     []int
	Point   []float64
}

// Entries lists every non-padding sample in flat index order.
func (l Layout) Entries() []Entry {
	var out []Entry
	rank := l.dom.Rank()
	pos := make([]int, rank)
	for flat := 0; flat < l.Size(); flat++ {
		rem := flat
		for j := 0; j < rank; j++ {
			pos[j] = rem / l.strides[j]
			rem %= l.strides[j]
		}
		ch := 0
		if l.nvec > 0 {
			ch = rem
		}
		if !l.valid(pos, ch) {
			continue
		}
		pt := make([]float64, rank)
		for j := range pt {
			pt[j] = l.origin(ch, j) + float64(pos[j])*l.dom.Dx(j)
		}
		out = append(out, Entry{Index: flat, Channel: ch, Pos: append([]int(nil), pos...), Point: pt})
	}
	return out
}

func (l Layout) valid(pos []int, ch int) bool {
	for j, p := range pos {
		if p >= l.count(ch, j) {
			return false
		}
	}
	return true
}

// Mask returns 1 for stored samples and 0 for padding.
func (l Layout) Mask() []float64 {
	m := make([]float64, l.Size())
	for _, e := range l.Entries() {
		m[e.Index] = 1
	}
	return m
}

// =============================================================================
// Interpolation
// =============================================================================

// Corner is one weighted source sample of an interpolation.
type Corner struct {
	Index  int
	Weight float64
}

// Interp returns multilinear weights sampling channel ch at point x, given in
// the layout's axis order. Samples outside the domain are resolved with the
// layout's boundary; Zero-boundary ghosts are omitted.
func (l Layout) Interp(ch int, x []float64) []Corner {
	return l.stencil(ch, x, -1)
}

// InterpDeriv returns weights of the partial derivative along axis of the
// multilinear interpolant of channel ch at x.
func (l Layout) InterpDeriv(ch int, x []float64, axis int) []Corner {
	return l.stencil(ch, x, axis)
}

func (l Layout) stencil(ch int, x []float64, deriv int) []Corner {
	corners := []Corner{{Index: l.Offset(nil, ch), Weight: 1}}
	for j := 0; j < l.dom.Rank(); j++ {
		dx := l.dom.Dx(j)
		u := (x[j] - l.origin(ch, j)) / dx
		i0 := math.Floor(u)
		t := u - i0
		w := [2]float64{1 - t, t}
		if j == deriv {
			w = [2]float64{-1 / dx, 1 / dx}
		}
		next := make([]Corner, 0, 2*len(corners))
		for side := 0; side < 2; side++ {
			idx, ok := l.bnd.resolve(int(i0)+side, l.count(ch, j), l.dom.axes[j].Size)
			if !ok || w[side] == 0 && j != deriv {
				continue
			}
			for _, c := range corners {
				next = append(next, Corner{Index: c.Index + idx*l.strides[j], Weight: c.Weight * w[side]})
			}
		}
		corners = next
	}
	return corners
}

// Corners returns the source samples surrounding x in channel ch, and
// whether any of them is a Zero-boundary ghost that reads as 0.
func (l Layout) Corners(ch int, x []float64) (indices []int, ghost bool) {
	indices = []int{l.Offset(nil, ch)}
	for j := 0; j < l.dom.Rank(); j++ {
		i0 := int(math.Floor((x[j] - l.origin(ch, j)) / l.dom.Dx(j)))
		next := make([]int, 0, 2*len(indices))
		for side := 0; side < 2; side++ {
			idx, ok := l.bnd.resolve(i0+side, l.count(ch, j), l.dom.axes[j].Size)
			if !ok {
				ghost = true
				continue
			}
			for _, c := range indices {
				next = append(next, c+idx*l.strides[j])
			}
		}
		indices = next
	}
	return indices, ghost
}

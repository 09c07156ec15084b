package grid

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/openfluke/fluxgrid/tensor"
)

// Grid couples sample values with their geometry, domain, boundary rule and
// the backend that executes arithmetic on them. Values are kept in canonical
// order: batch dims sorted by name, the domain axes, then the vector channel.
type Grid struct {
	values  tensor.Tensor
	layout  Layout
	backend tensor.Backend
}

// New validates values against the geometry and domain and returns a grid.
// A nil backend selects tensor.CPUBackend.
func New(b tensor.Backend, geom Geometry, values tensor.Tensor, bnd Boundary, dom Domain) (Grid, error) {
	if b == nil {
		b = tensor.NewCPUBackend()
	}
	shape := values.Shape()
	nvec := 0
	for _, d := range shape.OfKind(tensor.KindChannel) {
		if d.Name != VectorDim {
			return Grid{}, fmt.Errorf("%w: unsupported channel dimension %q", tensor.ErrShapeMismatch, d.Name)
		}
		nvec = d.Size
	}
	switch {
	case geom == Staggered && (dom.Rank() == 0 || nvec != dom.Rank()):
		return Grid{}, fmt.Errorf("%w: staggered grid on %s needs %s=%d, values are %s",
			tensor.ErrShapeMismatch, dom, VectorDim, dom.Rank(), shape)
	case geom == Centered && dom.Rank() > 0 && nvec > 0 && nvec != dom.Rank():
		return Grid{}, fmt.Errorf("%w: vector grid on %s needs %s=%d, values are %s",
			tensor.ErrShapeMismatch, dom, VectorDim, dom.Rank(), shape)
	}
	layout := newLayout(geom, dom, bnd, nvec)
	if !shape.OfKind(tensor.KindSpatial).SameDims(layout.shape.OfKind(tensor.KindSpatial)) {
		return Grid{}, fmt.Errorf("%w: values %s do not match %s samples on %s",
			tensor.ErrShapeMismatch, shape, geom, dom)
	}
	target := append(shape.OfKind(tensor.KindBatch).Canonical(), layout.shape...)
	v, err := values.Expand(target)
	if err != nil {
		return Grid{}, err
	}
	g := Grid{values: v, layout: layout, backend: b}
	if geom == Staggered {
		return g.masked()
	}
	return g, nil
}

// masked zeroes the padding entries of a staggered grid.
func (g Grid) masked() (Grid, error) {
	if g.layout.geom != Staggered {
		return g, nil
	}
	mask := g.layout.Mask()
	data := g.values.Data()
	for i := range data {
		if mask[i%len(mask)] == 0 {
			data[i] = 0
		}
	}
	g.values = tensor.Wrap(g.values.Shape(), data)
	return g, nil
}

// Values returns the sample tensor.
func (g Grid) Values() tensor.Tensor { return g.values }

// Geometry returns the sampling geometry.
func (g Grid) Geometry() Geometry { return g.layout.geom }

// Domain returns the spatial domain.
func (g Grid) Domain() Domain { return g.layout.dom }

// Boundary returns the boundary rule.
func (g Grid) Boundary() Boundary { return g.layout.bnd }

// Backend returns the execution backend.
func (g Grid) Backend() tensor.Backend { return g.backend }

// Layout returns the per-slot sample layout.
func (g Grid) Layout() Layout { return g.layout }

// IsVector reports whether the grid carries a vector channel.
func (g Grid) IsVector() bool { return g.layout.nvec > 0 }

// IsZeroDim reports whether the grid lives on a zero-dimensional domain.
func (g Grid) IsZeroDim() bool { return g.layout.dom.Rank() == 0 }

// BatchShape returns the batch dimensions of the values.
func (g Grid) BatchShape() tensor.Shape { return g.values.Shape().OfKind(tensor.KindBatch) }

// With returns a grid with the same metadata and new values.
func (g Grid) With(values tensor.Tensor) (Grid, error) {
	return New(g.backend, g.layout.geom, values, g.layout.bnd, g.layout.dom)
}

// WithBoundary returns g with a different boundary rule.
func (g Grid) WithBoundary(b Boundary) Grid {
	g.layout.bnd = b
	return g
}

func (g Grid) String() string {
	kind := "scalar"
	if g.IsVector() {
		kind = "vector"
	}
	return fmt.Sprintf("%s %s grid %s on %s (%s)", g.layout.geom, kind, g.values.Shape(), g.layout.dom, g.layout.bnd)
}

// =============================================================================
// Slot access
// =============================================================================

// SlotVectors splits the values into one flat vector per batch slot. The
// vectors are copies laid out like g.Layout().
func (g Grid) SlotVectors() (tensor.Shape, [][]float64) {
	batch := g.BatchShape()
	data := g.values.Data()
	n := g.layout.Size()
	slots := make([][]float64, batch.Size())
	for s := range slots {
		slots[s] = data[s*n : (s+1)*n : (s+1)*n]
	}
	return batch, slots
}

// FromSlotVectors assembles a grid from per-slot vectors laid out like l.
func FromSlotVectors(b tensor.Backend, l Layout, batch tensor.Shape, slots [][]float64) (Grid, error) {
	if b == nil {
		b = tensor.NewCPUBackend()
	}
	if len(slots) != batch.Size() {
		return Grid{}, fmt.Errorf("%w: %d slot vectors for batch %s", tensor.ErrShapeMismatch, len(slots), batch)
	}
	n := l.Size()
	data := make([]float64, 0, n*len(slots))
	for _, s := range slots {
		if len(s) != n {
			return Grid{}, fmt.Errorf("%w: slot vector of length %d, want %d", tensor.ErrShapeMismatch, len(s), n)
		}
		data = append(data, s...)
	}
	shape := append(batch.Canonical(), l.shape...)
	g := Grid{values: tensor.Wrap(shape, data), layout: l, backend: b}
	return g.masked()
}

// ForEachSlot runs fn for every slot index concurrently. Slots never share
// state, so the result equals running each slot alone.
func ForEachSlot(n int, fn func(s int) error) error {
	if n == 1 {
		return fn(0)
	}
	var eg errgroup.Group
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for s := 0; s < n; s++ {
		eg.Go(func() error { return fn(s) })
	}
	return eg.Wait()
}

// AlignBatch expands every grid to the union of their batch dimensions.
func AlignBatch(gs ...Grid) ([]Grid, error) {
	var batch tensor.Shape
	for _, g := range gs {
		var err error
		if batch, err = tensor.Broadcast(batch, g.BatchShape()); err != nil {
			return nil, err
		}
	}
	out := make([]Grid, len(gs))
	for i, g := range gs {
		e, err := g.expandBatch(batch)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func (g Grid) expandBatch(batch tensor.Shape) (Grid, error) {
	target := append(batch.Canonical(), g.layout.shape...)
	v, err := g.values.Expand(target)
	if err != nil {
		return Grid{}, err
	}
	g.values = v
	return g, nil
}

// Package grid attaches sampling geometry, a physical domain and a boundary
// rule to tensor values.
//
// A Grid is a value type. Centered grids hold one sample per cell at the cell
// center. Staggered grids hold one sample per face and axis: component k has
// R_k+1 samples along axis k and R_j along every other axis j. Staggered
// values are stored padded to a uniform (R_0+1, ..., R_d+1, vector=d) tensor
// whose padding entries are always zero.
//
// All linear operators (resampling, divergence, gradient, point sampling)
// are assembled as sparse matrices over one batch slot, so each has an exact
// transpose for reverse-mode differentiation.
package grid

import (
	"fmt"

	"github.com/openfluke/fluxgrid/tensor"
)

// VectorDim names the channel dimension that enumerates vector components.
const VectorDim = "vector"

// Box is an axis-aligned physical region.
type Box struct {
	Lower []float64
	Upper []float64
}

// Contains reports whether x lies inside the closed box.
func (b Box) Contains(x []float64) bool {
	for i := range b.Lower {
		if x[i] < b.Lower[i] || x[i] > b.Upper[i] {
			return false
		}
	}
	return true
}

// Domain is an ordered set of spatial axes covering a Box.
// The zero Domain is zero-dimensional and broadcasts against any grid.
type Domain struct {
	axes tensor.Shape
	box  Box
}

// NewDomain builds a domain from a box and spatial axes in order.
func NewDomain(box Box, axes ...tensor.Dim) (Domain, error) {
	if len(box.Lower) != len(axes) || len(box.Upper) != len(axes) {
		return Domain{}, fmt.Errorf("%w: box has %d/%d bounds for %d axes",
			tensor.ErrShapeMismatch, len(box.Lower), len(box.Upper), len(axes))
	}
	for i, a := range axes {
		if a.Kind != tensor.KindSpatial {
			return Domain{}, fmt.Errorf("%w: domain axis %q is %s", tensor.ErrShapeMismatch, a.Name, a.Kind)
		}
		if !(box.Upper[i] > box.Lower[i]) {
			return Domain{}, fmt.Errorf("grid: empty extent along %q", a.Name)
		}
	}
	shape, err := tensor.NewShape(axes...)
	if err != nil {
		return Domain{}, err
	}
	return Domain{
		axes: shape,
		box: Box{
			Lower: append([]float64(nil), box.Lower...),
			Upper: append([]float64(nil), box.Upper...),
		},
	}, nil
}

// MustDomain is NewDomain for statically known inputs. It panics on error.
func MustDomain(box Box, axes ...tensor.Dim) Domain {
	d, err := NewDomain(box, axes...)
	if err != nil {
		panic(err)
	}
	return d
}

// Rank returns the number of spatial axes.
func (d Domain) Rank() int { return len(d.axes) }

// Axes returns the spatial dimensions in order.
func (d Domain) Axes() tensor.Shape { return d.axes.Clone() }

// Box returns the physical bounds.
func (d Domain) Box() Box {
	return Box{Lower: append([]float64(nil), d.box.Lower...), Upper: append([]float64(nil), d.box.Upper...)}
}

// Resolution returns the cell count along axis i.
func (d Domain) Resolution(i int) int { return d.axes[i].Size }

// Dx returns the cell size along axis i.
func (d Domain) Dx(i int) float64 {
	return (d.box.Upper[i] - d.box.Lower[i]) / float64(d.axes[i].Size)
}

// Cells returns the total number of cells.
func (d Domain) Cells() int { return d.axes.Size() }

// Equal reports whether both domains have the same axes and bounds.
func (d Domain) Equal(o Domain) bool {
	if !d.axes.Equal(o.axes) {
		return false
	}
	for i := range d.box.Lower {
		if d.box.Lower[i] != o.box.Lower[i] || d.box.Upper[i] != o.box.Upper[i] {
			return false
		}
	}
	return true
}

func (d Domain) String() string {
	if d.Rank() == 0 {
		return "domain()"
	}
	return fmt.Sprintf("domain%s[%v, %v]", d.axes, d.box.Lower, d.box.Upper)
}

// =============================================================================
// Geometry
// =============================================================================

// Geometry selects where samples sit within each cell.
type Geometry int

const (
	Centered Geometry = iota
	Staggered
)

func (g Geometry) String() string {
	switch g {
	case Centered:
		return "centered"
	case Staggered:
		return "staggered"
	default:
		return fmt.Sprintf("geometry(%d)", int(g))
	}
}

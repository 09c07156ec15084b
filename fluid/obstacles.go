// Package fluid enforces incompressibility on staggered velocity grids and
// provides the forcing terms of a buoyant smoke step.
package fluid

import (
	"fmt"

	"github.com/openfluke/fluxgrid/grid"
	"github.com/openfluke/fluxgrid/tensor"
)

// Obstacle is a solid region. Cells whose centers it contains are solid.
type Obstacle interface {
	Contains(x []float64) bool
}

var _ Obstacle = grid.Box{}

// Sphere is a ball (a disc in 2D).
type Sphere struct {
	Center []float64
	Radius float64
}

// Contains reports whether x lies inside the closed ball.
func (s Sphere) Contains(x []float64) bool {
	d := 0.0
	for i, c := range s.Center {
		d += (x[i] - c) * (x[i] - c)
	}
	return d <= s.Radius*s.Radius
}

// Mask returns a centered scalar grid that is 1 in cells covered by any of
// the shapes and 0 elsewhere.
func Mask(b tensor.Backend, dom grid.Domain, bnd grid.Boundary, shapes ...Obstacle) (grid.Grid, error) {
	return grid.Make(b, grid.Centered, grid.Func(func(x []float64) float64 {
		for _, s := range shapes {
			if s.Contains(x) {
				return 1
			}
		}
		return 0
	}), bnd, dom)
}

// InflowSpheres returns one spherical inflow of the given value per center,
// stacked along the batch dimension named dim.
func InflowSpheres(b tensor.Backend, dom grid.Domain, bnd grid.Boundary, dim string, radius, value float64, centers ...[]float64) (grid.Grid, error) {
	if len(centers) == 0 {
		return grid.Grid{}, fmt.Errorf("fluid: no inflow centers")
	}
	masks := make([]grid.Grid, len(centers))
	for i, c := range centers {
		if len(c) != dom.Rank() {
			return grid.Grid{}, fmt.Errorf("%w: inflow center %v on %s", tensor.ErrShapeMismatch, c, dom)
		}
		m, err := Mask(b, dom, bnd, Sphere{Center: c, Radius: radius})
		if err != nil {
			return grid.Grid{}, err
		}
		masks[i] = grid.Scale(m, value)
	}
	return grid.Stack(tensor.Batch(dim, len(centers)), masks...)
}

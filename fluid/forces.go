package fluid

import (
	"fmt"

	"github.com/openfluke/fluxgrid/grid"
)

// BuoyancyForce returns factor * density along axis, resampled onto the
// velocity's sample points.
func BuoyancyForce(density, velocity, factor grid.Grid, axis int) (grid.Grid, error) {
	rank := velocity.Domain().Rank()
	if axis < 0 || axis >= rank {
		return grid.Grid{}, fmt.Errorf("fluid: buoyancy axis %d out of range for rank %d", axis, rank)
	}
	f, err := grid.Mul(density, grid.UnitVector(density.Backend(), rank, axis))
	if err != nil {
		return grid.Grid{}, err
	}
	if f, err = grid.Mul(f, factor); err != nil {
		return grid.Grid{}, err
	}
	return grid.At(f, velocity)
}

// Buoyancy adds BuoyancyForce to velocity.
func Buoyancy(density, velocity, factor grid.Grid, axis int) (grid.Grid, error) {
	f, err := BuoyancyForce(density, velocity, factor, axis)
	if err != nil {
		return grid.Grid{}, err
	}
	return grid.Add(velocity, f)
}

// Inflow adds a source to density. The source may carry batch dimensions,
// one per inflow scenario.
func Inflow(density, source grid.Grid) (grid.Grid, error) {
	return grid.Add(density, source)
}

// Package sim runs the fluxsim scenarios: a batched buoyant smoke plume and
// a gradient check of the reverse pass against finite differences.
package sim

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/openfluke/fluxgrid/advect"
	"github.com/openfluke/fluxgrid/fluid"
	"github.com/openfluke/fluxgrid/grid"
	"github.com/openfluke/fluxgrid/internal/config"
	"github.com/openfluke/fluxgrid/tensor"
)

// InflowDim names the batch dimension holding one slot per inflow location.
const InflowDim = "inflow"

// StepStats summarizes one simulation step over all slots.
type StepStats struct {
	Step          int
	Iterations    int
	Residual      float64
	MaxDivergence float64
	Warnings      int
}

// SlotStats summarizes the final state of one batch slot.
type SlotStats struct {
	Slot     int
	InflowX  float64
	Density  float64 // total smoke
	MaxSpeed float64
	CenterY  float64 // density-weighted height
}

// PlumeResult is the outcome of RunPlume.
type PlumeResult struct {
	Density  grid.Grid
	Velocity grid.Grid
	Steps    []StepStats
	Slots    []SlotStats
}

// Domain returns the rectangular domain [0,w]x[0,h] with unit cells.
func Domain(w, h int) (grid.Domain, error) {
	return grid.NewDomain(grid.Box{Lower: []float64{0, 0}, Upper: []float64{float64(w), float64(h)}},
		tensor.Spatial("x", w), tensor.Spatial("y", h))
}

// RunPlume advances the plume scenario. Each step advects the smoke and
// adds the inflow, self-advects the velocity, applies buoyancy along y and
// projects. A solve that does not converge aborts the run.
func RunPlume(cfg *config.Config, b tensor.Backend, logger *slog.Logger) (*PlumeResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := cfg.Plume
	dom, err := Domain(p.Width, p.Height)
	if err != nil {
		return nil, err
	}
	vbnd, err := grid.ParseBoundary(p.Boundary)
	if err != nil {
		return nil, err
	}
	dbnd := grid.Extrapolate
	if vbnd == grid.Periodic {
		dbnd = grid.Periodic
	}
	method, err := advect.ParseMethod(p.Advection)
	if err != nil {
		return nil, err
	}

	density, err := grid.Make(b, grid.Centered, grid.Constant(0), dbnd, dom)
	if err != nil {
		return nil, err
	}
	velocity, err := grid.Make(b, grid.Staggered, grid.Constant(0), vbnd, dom)
	if err != nil {
		return nil, err
	}
	centers := make([][]float64, len(p.InflowX))
	for i, x := range p.InflowX {
		centers[i] = []float64{x, p.InflowY}
	}
	inflow, err := fluid.InflowSpheres(b, dom, dbnd, InflowDim, p.InflowRadius, p.InflowValue, centers...)
	if err != nil {
		return nil, err
	}
	factor := grid.ScalarValue(b, p.Buoyancy)

	res := &PlumeResult{}
	for step := 0; step < p.Steps; step++ {
		if density, err = advect.Advect(method, density, velocity, p.Dt); err != nil {
			return nil, fmt.Errorf("step %d: advect density: %w", step, err)
		}
		if density, err = fluid.Inflow(density, inflow); err != nil {
			return nil, fmt.Errorf("step %d: inflow: %w", step, err)
		}
		if velocity, err = advect.SemiLagrangian(velocity, velocity, p.Dt); err != nil {
			return nil, fmt.Errorf("step %d: advect velocity: %w", step, err)
		}
		if velocity, err = fluid.Buoyancy(density, velocity, factor, 1); err != nil {
			return nil, fmt.Errorf("step %d: buoyancy: %w", step, err)
		}
		v, info, err := fluid.MakeIncompressible(velocity, nil, cfg.Solver, fluid.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", step, err)
		}
		velocity = v

		div, err := grid.Divergence(velocity)
		if err != nil {
			return nil, err
		}
		st := StepStats{
			Step:          step,
			Iterations:    info.Iterations,
			Residual:      info.Residual,
			MaxDivergence: grid.MaxAbs(div),
			Warnings:      len(info.Warnings),
		}
		res.Steps = append(res.Steps, st)
		logger.Debug("plume step", "step", step, "iterations", st.Iterations, "max_div", st.MaxDivergence)
	}

	res.Density, res.Velocity = density, velocity
	if res.Slots, err = slotStats(density, velocity, p.InflowX); err != nil {
		return nil, err
	}
	return res, nil
}

func slotStats(density, velocity grid.Grid, xs []float64) ([]SlotStats, error) {
	ds, err := grid.Unstack(density, InflowDim)
	if err != nil {
		return nil, err
	}
	velocity, err = slotAligned(velocity, len(xs))
	if err != nil {
		return nil, err
	}
	vs, err := grid.Unstack(velocity, InflowDim)
	if err != nil {
		return nil, err
	}
	out := make([]SlotStats, len(ds))
	for i, d := range ds {
		total := grid.Sum(d).Values().Data()[0]
		moment := 0.0
		data := d.Values().Data()
		for _, e := range d.Layout().Entries() {
			moment += data[e.Index] * e.Point[1]
		}
		cy := 0.0
		if total != 0 {
			cy = moment / total
		}
		out[i] = SlotStats{
			Slot:     i,
			InflowX:  xs[i],
			Density:  total,
			MaxSpeed: grid.MaxAbs(vs[i]),
			CenterY:  cy,
		}
		if math.IsNaN(total) {
			return nil, fmt.Errorf("slot %d diverged", i)
		}
	}
	return out, nil
}

// slotAligned gives velocity the inflow batch dimension if it has none yet,
// which happens when no step ran.
func slotAligned(velocity grid.Grid, n int) (grid.Grid, error) {
	if _, ok := velocity.Values().Shape().Dim(InflowDim); ok {
		return velocity, nil
	}
	slots := make([]grid.Grid, n)
	for i := range slots {
		slots[i] = velocity
	}
	return grid.Stack(tensor.Batch(InflowDim, n), slots...)
}

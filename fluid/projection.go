package fluid

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/openfluke/fluxgrid/grid"
	"github.com/openfluke/fluxgrid/solve"
	"github.com/openfluke/fluxgrid/tensor"
)

// scaleSlots multiplies every slot of g, laid out like want, by w.
func (s *PoissonSystem) scaleSlots(g grid.Grid, want grid.Layout, w []float64) (grid.Grid, error) {
	if !g.Layout().SameSamples(want) {
		return grid.Grid{}, fmt.Errorf("%w: %s does not match the pressure system on %s", tensor.ErrShapeMismatch, g, s.dom)
	}
	batch, slots := g.SlotVectors()
	for _, v := range slots {
		floats.Mul(v, w)
	}
	return grid.FromSlotVectors(g.Backend(), g.Layout(), batch, slots)
}

// ApplyBoundary zeroes velocity on closed faces. It is its own adjoint.
func (s *PoissonSystem) ApplyBoundary(velocity grid.Grid) (grid.Grid, error) {
	return s.scaleSlots(velocity, s.div.In(), s.open)
}

// MaskCells zeroes a centered scalar grid inside solids. It is its own adjoint.
func (s *PoissonSystem) MaskCells(g grid.Grid) (grid.Grid, error) {
	return s.scaleSlots(g, s.grad.In(), s.fluid)
}

// Divergence applies the system's divergence operator.
func (s *PoissonSystem) Divergence(velocity grid.Grid) (grid.Grid, error) {
	return s.div.Apply(velocity)
}

// Solve returns the pressure p with A p = -div on fluid cells, one CG per
// batch slot, with p orthogonal to the nullspace. The system is symmetric,
// so Solve is also the adjoint of itself with respect to div.
//
// A declared rank deficiency that differs from the observed one is logged
// and attached to Info.Warnings. On non-convergence the best-effort pressure
// is returned together with the error.
func (s *PoissonSystem) Solve(div grid.Grid, cfg solve.Config) (grid.Grid, solve.Info, error) {
	if !div.Layout().SameSamples(s.grad.In()) {
		return grid.Grid{}, solve.Info{}, fmt.Errorf("%w: %s is not a divergence on %s", tensor.ErrShapeMismatch, div, s.dom)
	}
	batch, slots := div.SlotVectors()
	for _, b := range slots {
		floats.Mul(b, s.fluid)
		floats.Scale(-1, b)
		s.projectOut(b)
	}
	xs, info, err := solve.Batched(s, slots, cfg)
	if xs == nil {
		return grid.Grid{}, info, err
	}
	for _, x := range xs {
		s.projectOut(x)
	}
	if w := info.CheckRank(cfg.RankDeficiency, s.RankDeficiency()); w != nil {
		s.logger.Warn("pressure solve rank mismatch",
			"declared", cfg.RankDeficiency,
			"observed", s.RankDeficiency(),
			"domain", s.dom.String())
	}
	if err != nil {
		s.logger.Warn("pressure solve did not converge",
			"iterations", info.Iterations,
			"residual", info.Residual,
			"tolerance", cfg.Tolerance)
	}
	p, perr := grid.FromSlotVectors(s.backend, s.grad.In(), batch, xs)
	if perr != nil {
		return grid.Grid{}, info, perr
	}
	return p, info, err
}

// SolveAdjoint maps a pressure cotangent to the cotangent of the divergence
// fed to Solve. The fluid mask and the nullspace projection commute with A,
// so this is one more solve of the same system.
func (s *PoissonSystem) SolveAdjoint(gp grid.Grid, cfg solve.Config) (grid.Grid, solve.Info, error) {
	gd, info, err := s.Solve(gp, cfg)
	if err != nil {
		return gd, info, fmt.Errorf("adjoint pressure solve: %w", err)
	}
	return gd.WithBoundary(s.div.Out().Boundary()), info, nil
}

// PressureGradient returns W ⊙ G p with the velocity's metadata.
func (s *PoissonSystem) PressureGradient(p grid.Grid) (grid.Grid, error) {
	g, err := s.grad.Apply(p)
	if err != nil {
		return grid.Grid{}, err
	}
	return s.ApplyBoundary(g)
}

// PressureGradientAdjoint returns Gᵀ (W ⊙ g) on the pressure layout.
func (s *PoissonSystem) PressureGradientAdjoint(g grid.Grid) (grid.Grid, error) {
	masked, err := s.ApplyBoundary(g)
	if err != nil {
		return grid.Grid{}, err
	}
	return s.grad.Transpose(masked)
}

// =============================================================================
// Projection
// =============================================================================

// MakeIncompressible removes the divergent part of a staggered velocity:
//
//	v0 = W ⊙ v
//	A p = -(fluid ⊙ div v0)
//	v' = v0 - W ⊙ G p
//
// The divergence of v' on fluid cells equals the solver residual, so it is
// bounded by cfg.Tolerance. When the solve does not converge the best-effort
// velocity and info are returned with an error wrapping
// solve.ErrNonConvergence.
func MakeIncompressible(velocity grid.Grid, obstacles []Obstacle, cfg solve.Config, opts ...Option) (grid.Grid, solve.Info, error) {
	if err := cfg.Validate(); err != nil {
		return grid.Grid{}, solve.Info{}, err
	}
	sys, err := NewPoissonSystem(velocity, obstacles, opts...)
	if err != nil {
		return grid.Grid{}, solve.Info{}, err
	}
	v0, err := sys.ApplyBoundary(velocity)
	if err != nil {
		return grid.Grid{}, solve.Info{}, err
	}
	div, err := sys.Divergence(v0)
	if err != nil {
		return grid.Grid{}, solve.Info{}, err
	}
	if div, err = sys.MaskCells(div); err != nil {
		return grid.Grid{}, solve.Info{}, err
	}
	p, info, solveErr := sys.Solve(div, cfg)
	if solveErr != nil && !errors.Is(solveErr, solve.ErrNonConvergence) {
		return grid.Grid{}, info, solveErr
	}
	gp, err := sys.PressureGradient(p)
	if err != nil {
		return grid.Grid{}, info, err
	}
	out, err := grid.Sub(v0, gp)
	if err != nil {
		return grid.Grid{}, info, err
	}
	return out, info, solveErr
}

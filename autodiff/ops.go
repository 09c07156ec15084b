package autodiff

import (
	"fmt"

	"github.com/openfluke/fluxgrid/advect"
	"github.com/openfluke/fluxgrid/fluid"
	"github.com/openfluke/fluxgrid/grid"
	"github.com/openfluke/fluxgrid/solve"
	"github.com/openfluke/fluxgrid/tensor"
)

// Add returns a + b.
func Add(a, b Var) (Var, error) { return apply("add", nil, a, b) }

// Sub returns a - b.
func Sub(a, b Var) (Var, error) { return apply("sub", nil, a, b) }

// Mul returns a * b.
func Mul(a, b Var) (Var, error) { return apply("mul", nil, a, b) }

// Div returns a / b.
func Div(a, b Var) (Var, error) { return apply("div", nil, a, b) }

// Scale multiplies v by a constant.
func Scale(v Var, f float64) (Var, error) { return apply("scale", f, v) }

// Neg returns -v.
func Neg(v Var) (Var, error) { return apply("neg", nil, v) }

// Sum adds every sample of v into a zero-dimensional value.
func Sum(v Var) (Var, error) { return apply("sum", nil, v) }

// Mean averages every sample of v.
func Mean(v Var) (Var, error) { return apply("mean", nil, v) }

// MaxAbs is a diagnostic. It has no derivative and fails on tracked values;
// use grid.MaxAbs(v.Value()) to inspect those.
func MaxAbs(v Var) (Var, error) { return apply("max_abs", nil, v) }

// At resamples src onto the sample points of like. No gradient flows to like.
func At(src, like Var) (Var, error) { return apply("at", nil, src, like) }

// Divergence of a vector value.
func Divergence(v Var) (Var, error) { return apply("divergence", nil, v) }

// Gradient of a centered scalar value.
func Gradient(v Var) (Var, error) { return apply("gradient", nil, v) }

// Stack combines values along a new batch dimension.
func Stack(dim tensor.Dim, vs ...Var) (Var, error) { return apply("stack", dim, vs...) }

// Slice returns entry i of the named batch dimension.
func Slice(v Var, name string, i int) (Var, error) {
	d, ok := v.value.Values().Shape().Dim(name)
	if !ok || d.Kind != tensor.KindBatch {
		return Var{}, fmt.Errorf("%w: %s has no batch dimension %q", tensor.ErrShapeMismatch, v.value, name)
	}
	if i < 0 || i >= d.Size {
		return Var{}, fmt.Errorf("%w: index %d out of range for %s", tensor.ErrShapeMismatch, i, d)
	}
	return apply("slice", sliceAttrs{dim: d, i: i}, v)
}

// Advect moves field along velocity for dt with the selected scheme.
// MacCormack is recorded as its two semi-Lagrangian passes, the correction,
// the clamp and the periodic total fix, so each step differentiates with its
// own rule.
func Advect(field, velocity Var, dt float64, m advect.Method) (Var, error) {
	switch m {
	case advect.SemiLagrangianMethod:
		return apply("semi_lagrangian", dt, field, velocity)
	case advect.MacCormackMethod:
		fwd, err := apply("semi_lagrangian", dt, field, velocity)
		if err != nil {
			return Var{}, err
		}
		bwd, err := apply("semi_lagrangian", -dt, fwd, velocity)
		if err != nil {
			return Var{}, err
		}
		diff, err := Sub(field, bwd)
		if err != nil {
			return Var{}, err
		}
		half, err := Scale(diff, 0.5)
		if err != nil {
			return Var{}, err
		}
		corrected, err := Add(fwd, half)
		if err != nil {
			return Var{}, err
		}
		clamped, err := apply("mac_cormack_clamp", dt, corrected, field, velocity)
		if err != nil {
			return Var{}, err
		}
		return apply("conserve", nil, clamped, field)
	default:
		return Var{}, fmt.Errorf("autodiff: unknown advection method %v", m)
	}
}

// MakeIncompressible projects a staggered velocity onto its divergence-free
// part, recording each stage so the pressure solve uses its adjoint rule.
// On non-convergence the best-effort velocity is returned together with an
// error wrapping solve.ErrNonConvergence; the value stays differentiable.
func MakeIncompressible(velocity Var, obstacles []fluid.Obstacle, cfg solve.Config, opts ...fluid.Option) (Var, solve.Info, error) {
	if err := cfg.Validate(); err != nil {
		return Var{}, solve.Info{}, err
	}
	sys, err := fluid.NewPoissonSystem(velocity.value, obstacles, opts...)
	if err != nil {
		return Var{}, solve.Info{}, err
	}
	a := &solveAttrs{sys: sys, cfg: cfg}

	v0, err := apply("mask_faces", a, velocity)
	if err != nil {
		return Var{}, solve.Info{}, err
	}
	div, err := Divergence(v0)
	if err != nil {
		return Var{}, solve.Info{}, err
	}
	if div, err = apply("mask_cells", a, div); err != nil {
		return Var{}, solve.Info{}, err
	}
	p, err := apply("poisson_solve", a, div)
	if err != nil {
		return Var{}, a.info, err
	}
	gp, err := apply("pressure_gradient", a, p)
	if err != nil {
		return Var{}, a.info, err
	}
	out, err := Sub(v0, gp)
	if err != nil {
		return Var{}, a.info, err
	}
	return out, a.info, a.err
}

// Buoyancy adds factor * density along axis to velocity, resampled onto the
// velocity's sample points.
func Buoyancy(density, velocity, factor Var, axis int) (Var, error) {
	rank := velocity.value.Domain().Rank()
	if axis < 0 || axis >= rank {
		return Var{}, fmt.Errorf("autodiff: buoyancy axis %d out of range for rank %d", axis, rank)
	}
	unit := Const(grid.UnitVector(density.value.Backend(), rank, axis))
	f, err := Mul(density, unit)
	if err != nil {
		return Var{}, err
	}
	if f, err = Mul(f, factor); err != nil {
		return Var{}, err
	}
	if f, err = At(f, velocity); err != nil {
		return Var{}, err
	}
	return Add(velocity, f)
}

package autodiff

import (
	"errors"
	"fmt"

	"github.com/openfluke/fluxgrid/advect"
	"github.com/openfluke/fluxgrid/fluid"
	"github.com/openfluke/fluxgrid/grid"
	"github.com/openfluke/fluxgrid/solve"
	"github.com/openfluke/fluxgrid/tensor"
)

func init() {
	for _, p := range builtins() {
		Register(p)
	}
}

func unary(fn func(grid.Grid) (grid.Grid, error)) ForwardFunc {
	return func(_ any, in []grid.Grid) (grid.Grid, error) { return fn(in[0]) }
}

func binary(fn func(a, b grid.Grid) (grid.Grid, error)) ForwardFunc {
	return func(_ any, in []grid.Grid) (grid.Grid, error) { return fn(in[0], in[1]) }
}

func one(g grid.Grid, err error) ([]grid.Grid, error) {
	if err != nil {
		return nil, err
	}
	return []grid.Grid{g}, nil
}

// solveAttrs carries the pressure system through the tape. The forward
// solve records its info and any non-convergence so callers can inspect
// them; the adjoint reuses cfg.
type solveAttrs struct {
	sys  *fluid.PoissonSystem
	cfg  solve.Config
	info solve.Info
	err  error
}

type sliceAttrs struct {
	dim tensor.Dim
	i   int
}

func builtins() []Primitive {
	return []Primitive{
		// =============================================================
		// Arithmetic
		// =============================================================
		{
			Name:    "add",
			Forward: binary(grid.Add),
			VJP: func(_ any, _ []grid.Grid, _, g grid.Grid) ([]grid.Grid, error) {
				return []grid.Grid{g, g}, nil
			},
		},
		{
			Name:    "sub",
			Forward: binary(grid.Sub),
			VJP: func(_ any, _ []grid.Grid, _, g grid.Grid) ([]grid.Grid, error) {
				return []grid.Grid{g, grid.Neg(g)}, nil
			},
		},
		{
			Name:    "mul",
			Forward: binary(grid.Mul),
			VJP: func(_ any, in []grid.Grid, _, g grid.Grid) ([]grid.Grid, error) {
				ga, err := grid.Mul(g, in[1])
				if err != nil {
					return nil, err
				}
				gb, err := grid.Mul(g, in[0])
				if err != nil {
					return nil, err
				}
				return []grid.Grid{ga, gb}, nil
			},
		},
		{
			Name:    "div",
			Forward: binary(grid.Div),
			VJP: func(_ any, in []grid.Grid, out, g grid.Grid) ([]grid.Grid, error) {
				ga, err := grid.Div(g, in[1])
				if err != nil {
					return nil, err
				}
				// d(a/b)/db = -(a/b)/b
				gb, err := grid.Mul(ga, out)
				if err != nil {
					return nil, err
				}
				return []grid.Grid{ga, grid.Neg(gb)}, nil
			},
		},
		{
			Name: "scale",
			Forward: func(attrs any, in []grid.Grid) (grid.Grid, error) {
				return grid.Scale(in[0], attrs.(float64)), nil
			},
			VJP: func(attrs any, _ []grid.Grid, _, g grid.Grid) ([]grid.Grid, error) {
				return []grid.Grid{grid.Scale(g, attrs.(float64))}, nil
			},
		},
		{
			Name: "neg",
			Forward: unary(func(g grid.Grid) (grid.Grid, error) {
				return grid.Neg(g), nil
			}),
			VJP: func(_ any, _ []grid.Grid, _, g grid.Grid) ([]grid.Grid, error) {
				return []grid.Grid{grid.Neg(g)}, nil
			},
		},

		// =============================================================
		// Reductions
		// =============================================================
		{
			Name: "sum",
			Forward: unary(func(g grid.Grid) (grid.Grid, error) {
				return grid.Sum(g), nil
			}),
			VJP: func(_ any, in []grid.Grid, _, g grid.Grid) ([]grid.Grid, error) {
				return one(grid.Mul(grid.OnesLike(in[0]), g))
			},
		},
		{
			Name: "mean",
			Forward: unary(func(g grid.Grid) (grid.Grid, error) {
				return grid.Mean(g), nil
			}),
			VJP: func(_ any, in []grid.Grid, _, g grid.Grid) ([]grid.Grid, error) {
				ones := grid.Scale(grid.OnesLike(in[0]), 1/float64(grid.Count(in[0])))
				return one(grid.Mul(ones, g))
			},
		},
		{
			Name: "max_abs",
			Forward: unary(func(g grid.Grid) (grid.Grid, error) {
				return grid.ScalarValue(g.Backend(), grid.MaxAbs(g)), nil
			}),
		},

		// =============================================================
		// Sampling and finite differences
		// =============================================================
		{
			Name:    "at",
			Forward: binary(grid.At),
			VJP: func(_ any, in []grid.Grid, _, g grid.Grid) ([]grid.Grid, error) {
				op, err := grid.AtOp(in[0], in[1])
				if err != nil {
					return nil, err
				}
				gs, err := op.Transpose(g)
				if err != nil {
					return nil, err
				}
				return []grid.Grid{gs, {}}, nil
			},
		},
		{
			Name:    "divergence",
			Forward: unary(grid.Divergence),
			VJP: func(_ any, in []grid.Grid, _, g grid.Grid) ([]grid.Grid, error) {
				op, err := grid.DivergenceOperator(in[0])
				if err != nil {
					return nil, err
				}
				return one(op.Transpose(g))
			},
		},
		{
			Name:    "gradient",
			Forward: unary(grid.Gradient),
			VJP: func(_ any, in []grid.Grid, _, g grid.Grid) ([]grid.Grid, error) {
				op, err := grid.GradientOperator(in[0])
				if err != nil {
					return nil, err
				}
				return one(op.Transpose(g))
			},
		},

		// =============================================================
		// Advection
		// =============================================================
		{
			Name: "semi_lagrangian",
			Forward: func(attrs any, in []grid.Grid) (grid.Grid, error) {
				return advect.SemiLagrangian(in[0], in[1], attrs.(float64))
			},
			VJP: func(attrs any, in []grid.Grid, _, g grid.Grid) ([]grid.Grid, error) {
				gf, gv, err := advect.SemiLagrangianVJP(in[0], in[1], attrs.(float64), g)
				if err != nil {
					return nil, err
				}
				return []grid.Grid{gf, gv}, nil
			},
		},
		{
			// Inputs: corrected, field, velocity. The clamp bounds are
			// piecewise constant in the velocity, so it receives nothing.
			Name: "mac_cormack_clamp",
			Forward: func(attrs any, in []grid.Grid) (grid.Grid, error) {
				return advect.Clamp(in[0], in[1], in[2], attrs.(float64))
			},
			VJP: func(attrs any, in []grid.Grid, _, g grid.Grid) ([]grid.Grid, error) {
				gc, gf, err := advect.ClampVJP(in[0], in[1], in[2], attrs.(float64), g)
				if err != nil {
					return nil, err
				}
				return []grid.Grid{gc, gf, {}}, nil
			},
		},
		{
			// Inputs: advected, field. A no-op unless field is periodic.
			Name: "conserve",
			Forward: binary(advect.Conserve),
			VJP: func(_ any, in []grid.Grid, _, g grid.Grid) ([]grid.Grid, error) {
				ga, gf, err := advect.ConserveVJP(in[0], in[1], g)
				if err != nil {
					return nil, err
				}
				return []grid.Grid{ga, gf}, nil
			},
		},

		// =============================================================
		// Projection
		// =============================================================
		{
			Name: "mask_faces",
			Forward: func(attrs any, in []grid.Grid) (grid.Grid, error) {
				return attrs.(*solveAttrs).sys.ApplyBoundary(in[0])
			},
			VJP: func(attrs any, _ []grid.Grid, _, g grid.Grid) ([]grid.Grid, error) {
				return one(attrs.(*solveAttrs).sys.ApplyBoundary(g))
			},
		},
		{
			Name: "mask_cells",
			Forward: func(attrs any, in []grid.Grid) (grid.Grid, error) {
				return attrs.(*solveAttrs).sys.MaskCells(in[0])
			},
			VJP: func(attrs any, _ []grid.Grid, _, g grid.Grid) ([]grid.Grid, error) {
				return one(attrs.(*solveAttrs).sys.MaskCells(g))
			},
		},
		{
			Name: "poisson_solve",
			Forward: func(attrs any, in []grid.Grid) (grid.Grid, error) {
				a := attrs.(*solveAttrs)
				p, info, err := a.sys.Solve(in[0], a.cfg)
				a.info = info
				if err != nil && !errors.Is(err, solve.ErrNonConvergence) {
					return grid.Grid{}, err
				}
				a.err = err
				return p, nil
			},
			VJP: func(attrs any, _ []grid.Grid, _, g grid.Grid) ([]grid.Grid, error) {
				a := attrs.(*solveAttrs)
				gd, _, err := a.sys.SolveAdjoint(g, a.cfg)
				return one(gd, err)
			},
		},
		{
			Name: "pressure_gradient",
			Forward: func(attrs any, in []grid.Grid) (grid.Grid, error) {
				return attrs.(*solveAttrs).sys.PressureGradient(in[0])
			},
			VJP: func(attrs any, _ []grid.Grid, _, g grid.Grid) ([]grid.Grid, error) {
				return one(attrs.(*solveAttrs).sys.PressureGradientAdjoint(g))
			},
		},

		// =============================================================
		// Batch dimensions
		// =============================================================
		{
			Name: "stack",
			Forward: func(attrs any, in []grid.Grid) (grid.Grid, error) {
				return grid.Stack(attrs.(tensor.Dim), in...)
			},
			VJP: func(attrs any, in []grid.Grid, _, g grid.Grid) ([]grid.Grid, error) {
				parts, err := grid.Unstack(g, attrs.(tensor.Dim).Name)
				if err != nil {
					return nil, err
				}
				if len(parts) != len(in) {
					return nil, fmt.Errorf("unstacked %d slots for %d inputs", len(parts), len(in))
				}
				return parts, nil
			},
		},
		{
			Name: "slice",
			Forward: func(attrs any, in []grid.Grid) (grid.Grid, error) {
				a := attrs.(sliceAttrs)
				return grid.Slice(in[0], a.dim.Name, a.i)
			},
			VJP: func(attrs any, _ []grid.Grid, _, g grid.Grid) ([]grid.Grid, error) {
				a := attrs.(sliceAttrs)
				parts := make([]grid.Grid, a.dim.Size)
				for j := range parts {
					parts[j] = grid.ZerosLike(g)
				}
				parts[a.i] = g
				return one(grid.Stack(a.dim, parts...))
			},
		},
	}
}

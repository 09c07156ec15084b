package solve

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// Operator is a linear map y = A x. Implementations must be safe for
// concurrent use because batched solves call Apply from several goroutines.
type Operator interface {
	Apply(x, y []float64)
}

// OperatorFunc adapts a function to Operator.
type OperatorFunc func(x, y []float64)

func (f OperatorFunc) Apply(x, y []float64) { f(x, y) }

// Info reports how a solve went.
type Info struct {
	Method                 string
	Iterations             int
	Residual               float64
	Converged              bool
	DeclaredRankDeficiency int
	ObservedRankDeficiency int
	Warnings               []error
	SlotIterations         []int
	SlotResiduals          []float64
}

// CheckRank records declared and observed nullspace dimensions and returns a
// *RankMismatchError, also appended to Warnings, when they differ.
func (i *Info) CheckRank(declared, observed int) error {
	i.DeclaredRankDeficiency = declared
	i.ObservedRankDeficiency = observed
	if declared == observed {
		return nil
	}
	w := &RankMismatchError{Declared: declared, Observed: observed}
	i.Warnings = append(i.Warnings, w)
	return w
}

// =============================================================================
// Conjugate gradient
// =============================================================================

// CG solves A x = b for a symmetric positive semi-definite A, starting from
// x = 0. Convergence is declared when the max-norm of the true residual
// b - A x is at most cfg.Tolerance. For singular systems b must lie in the
// range of A; the iterates then stay orthogonal to the nullspace.
//
// On non-convergence CG returns its best iterate together with a
// *NonConvergenceError.
func CG(op Operator, b []float64, cfg Config) ([]float64, Info, error) {
	info := Info{Method: "cg"}
	if err := cfg.Validate(); err != nil {
		return nil, info, err
	}
	n := len(b)
	x := make([]float64, n)
	r := append([]float64(nil), b...)
	ap := make([]float64, n)

	info.Residual = floats.Norm(r, math.Inf(1))
	if info.Residual <= cfg.Tolerance {
		info.Converged = true
		return x, info, nil
	}

	p := append([]float64(nil), r...)
	rr := floats.Dot(r, r)
	for info.Iterations < cfg.MaxIterations {
		info.Iterations++
		op.Apply(p, ap)
		pAp := floats.Dot(p, ap)
		if !(pAp > 0) {
			info.Residual = trueResidual(op, b, x, r, ap)
			if info.Residual <= cfg.Tolerance {
				info.Converged = true
				return x, info, nil
			}
			return x, info, fmt.Errorf("%w at iteration %d: p·Ap = %g", ErrBreakdown, info.Iterations, pAp)
		}
		alpha := rr / pAp
		floats.AddScaled(x, alpha, p)
		floats.AddScaled(r, -alpha, ap)

		if floats.Norm(r, math.Inf(1)) <= cfg.Tolerance {
			info.Residual = trueResidual(op, b, x, r, ap)
			if info.Residual <= cfg.Tolerance {
				info.Converged = true
				return x, info, nil
			}
			// The recurrence drifted; restart from the true residual.
			copy(p, r)
			rr = floats.Dot(r, r)
			continue
		}

		rrNext := floats.Dot(r, r)
		floats.Scale(rrNext/rr, p)
		floats.Add(p, r)
		rr = rrNext
	}

	info.Residual = trueResidual(op, b, x, r, ap)
	if info.Residual <= cfg.Tolerance {
		info.Converged = true
		return x, info, nil
	}
	return x, info, &NonConvergenceError{
		Slot:       -1,
		Iterations: info.Iterations,
		Residual:   info.Residual,
		Tolerance:  cfg.Tolerance,
	}
}

// trueResidual overwrites r with b - A x and returns its max-norm.
func trueResidual(op Operator, b, x, r, scratch []float64) float64 {
	op.Apply(x, scratch)
	floats.SubTo(r, b, scratch)
	return floats.Norm(r, math.Inf(1))
}

// =============================================================================
// Batched solves
// =============================================================================

// Batched runs one independent CG per right-hand side concurrently. Each
// slot's result is identical to solving it alone. The returned Info holds the
// worst residual and iteration count; Converged is true only when every slot
// converged. Slot errors are joined; non-converged slots still return their
// best iterate.
func Batched(op Operator, bs [][]float64, cfg Config) ([][]float64, Info, error) {
	info := Info{Method: "cg", Converged: true}
	if err := cfg.Validate(); err != nil {
		return nil, info, err
	}
	xs := make([][]float64, len(bs))
	infos := make([]Info, len(bs))
	errs := make([]error, len(bs))

	var eg errgroup.Group
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for s := range bs {
		eg.Go(func() error {
			xs[s], infos[s], errs[s] = CG(op, bs[s], cfg)
			var nc *NonConvergenceError
			if errors.As(errs[s], &nc) {
				nc.Slot = s
			}
			return nil
		})
	}
	_ = eg.Wait()

	info.SlotIterations = make([]int, len(bs))
	info.SlotResiduals = make([]float64, len(bs))
	for s, si := range infos {
		info.SlotIterations[s] = si.Iterations
		info.SlotResiduals[s] = si.Residual
		info.Iterations = max(info.Iterations, si.Iterations)
		info.Residual = max(info.Residual, si.Residual)
		info.Converged = info.Converged && si.Converged
	}
	slog.Debug("batched solve finished",
		"slots", len(bs),
		"iterations", info.Iterations,
		"residual", info.Residual,
		"converged", info.Converged)
	return xs, info, errors.Join(errs...)
}

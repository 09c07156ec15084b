package solve

import (
	"errors"
	"fmt"
)

var (
	// ErrNonConvergence marks a solve that hit MaxIterations above Tolerance.
	ErrNonConvergence = errors.New("linear solve did not converge")
	// ErrRankMismatch marks a declared rank deficiency that disagrees with
	// the observed nullspace. It is reported as a warning.
	ErrRankMismatch = errors.New("rank deficiency mismatch")
	// ErrInvalidConfig is returned for configurations that fail validation.
	ErrInvalidConfig = errors.New("invalid solve config")
	// ErrBreakdown is returned when the operator is not positive semi-definite
	// along the search direction.
	ErrBreakdown = errors.New("conjugate gradient breakdown")
)

// NonConvergenceError carries the state of a solve that ran out of iterations.
type NonConvergenceError struct {
	Slot       int // batch slot, -1 for unbatched solves
	Iterations int
	Residual   float64
	Tolerance  float64
}

func (e *NonConvergenceError) Error() string {
	where := ""
	if e.Slot >= 0 {
		where = fmt.Sprintf(" in slot %d", e.Slot)
	}
	return fmt.Sprintf("%v%s: residual %.3g > tolerance %.3g after %d iterations",
		ErrNonConvergence, where, e.Residual, e.Tolerance, e.Iterations)
}

func (e *NonConvergenceError) Unwrap() error { return ErrNonConvergence }

// RankMismatchError records declared versus observed nullspace dimension.
type RankMismatchError struct {
	Declared int
	Observed int
}

func (e *RankMismatchError) Error() string {
	return fmt.Sprintf("%v: declared %d, observed %d", ErrRankMismatch, e.Declared, e.Observed)
}

func (e *RankMismatchError) Unwrap() error { return ErrRankMismatch }

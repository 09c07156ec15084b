package autodiff

import (
	"fmt"
	"log/slog"

	"github.com/openfluke/fluxgrid/grid"
)

// Func is a differentiable computation. Output 0 is the loss; the other
// outputs are auxiliary values returned alongside the gradients on request.
type Func func(args []Var) ([]Var, error)

// Result of one gradient evaluation.
type Result struct {
	Loss    grid.Grid
	Grads   []grid.Grid // one per requested argument, in request order
	Outputs []grid.Grid // every output of f, when requested
}

// GradFunc evaluates f and its gradients for concrete arguments.
type GradFunc func(args ...grid.Grid) (Result, error)

type options struct {
	logger *slog.Logger
}

// Option configures GradientFunction.
type Option func(*options)

// WithLogger sets the logger for tape events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// GradientFunction returns a function that evaluates f on a fresh tape and
// differentiates its loss with respect to the arguments at indices wrt.
// Arguments not listed in wrt are constants. The tape is discarded when the
// call returns, on success and on every error path.
func GradientFunction(f Func, wrt []int, includeOutputs bool, opts ...Option) GradFunc {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return func(args ...grid.Grid) (Result, error) {
		if err := checkWRT(wrt, len(args)); err != nil {
			return Result{}, err
		}
		tape := newTape(o.logger)
		defer tape.discard()

		tracked := make(map[int]bool, len(wrt))
		for _, i := range wrt {
			tracked[i] = true
		}
		vars := make([]Var, len(args))
		for i, a := range args {
			if tracked[i] {
				vars[i] = tape.watch(a)
			} else {
				vars[i] = Const(a)
			}
		}

		outs, err := f(vars)
		if err != nil {
			return Result{}, err
		}
		if len(outs) == 0 {
			return Result{}, fmt.Errorf("autodiff: function returned no outputs")
		}
		loss := outs[0]
		if !loss.value.IsZeroDim() || loss.value.Values().Size() != 1 {
			return Result{}, fmt.Errorf("%w: got %s, reduce it with Sum or Mean", ErrNotScalar, loss.value)
		}

		res := Result{Loss: loss.value, Grads: make([]grid.Grid, len(wrt))}
		var grads map[int]grid.Grid
		if loss.tape != nil {
			if grads, err = tape.backward(loss); err != nil {
				return Result{}, err
			}
		}
		for k, i := range wrt {
			g, ok := grads[vars[i].id]
			if !ok {
				// The loss does not depend on this argument.
				g = grid.ZerosLike(args[i])
			}
			res.Grads[k] = g
		}
		if includeOutputs {
			res.Outputs = make([]grid.Grid, len(outs))
			for i, v := range outs {
				res.Outputs[i] = v.value
			}
		}
		tape.logger.Debug("gradient evaluated", "tape", tape.id.String(), "entries", tape.Len(), "wrt", wrt)
		return res, nil
	}
}

func checkWRT(wrt []int, n int) error {
	if len(wrt) == 0 {
		return fmt.Errorf("autodiff: no arguments to differentiate")
	}
	seen := make(map[int]bool, len(wrt))
	for _, i := range wrt {
		if i < 0 || i >= n {
			return fmt.Errorf("autodiff: argument %d out of range for %d arguments", i, n)
		}
		if seen[i] {
			return fmt.Errorf("autodiff: argument %d requested twice", i)
		}
		seen[i] = true
	}
	return nil
}

package autodiff

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/openfluke/fluxgrid/grid"
)

var (
	// ErrDifferentiationUnsupported is returned while recording when a
	// tracked value reaches an operation without a VJP, or an operation
	// that is not registered at all.
	ErrDifferentiationUnsupported = errors.New("differentiation unsupported")

	// ErrTapeClosed is returned when a Var outlives the gradient call that
	// recorded it.
	ErrTapeClosed = errors.New("tape closed")

	// ErrNotScalar is returned when the loss is not a single number.
	ErrNotScalar = errors.New("loss is not a scalar")
)

// entry is one recorded application of a primitive.
type entry struct {
	prim   Primitive
	attrs  any
	inputs []int // node ids, -1 for untracked inputs
	values []grid.Grid
	out    grid.Grid
	id     int
}

// Tape is the operation log of one gradient evaluation. It is not safe for
// concurrent use and is consumed by a single reverse pass.
type Tape struct {
	id      uuid.UUID
	entries []entry
	nodes   int
	closed  bool
	logger  *slog.Logger
}

func newTape(logger *slog.Logger) *Tape {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tape{id: uuid.New(), logger: logger}
}

// ID identifies the tape in logs.
func (t *Tape) ID() uuid.UUID { return t.id }

// Len returns the number of recorded entries.
func (t *Tape) Len() int { return len(t.entries) }

// Closed reports whether the tape has been discarded.
func (t *Tape) Closed() bool { return t.closed }

// watch starts tracking g.
func (t *Tape) watch(g grid.Grid) Var {
	v := Var{value: g, tape: t, id: t.nodes}
	t.nodes++
	return v
}

func (t *Tape) discard() {
	if t.closed {
		return
	}
	t.logger.Debug("tape discarded", "tape", t.id.String(), "entries", len(t.entries))
	t.entries = nil
	t.closed = true
}

// =============================================================================
// Var
// =============================================================================

// Var is a grid value that may be tracked on a tape. The zero tape means
// the value is a constant and operations on it evaluate eagerly.
type Var struct {
	value grid.Grid
	tape  *Tape
	id    int
}

// Const wraps g as an untracked value.
func Const(g grid.Grid) Var { return Var{value: g, id: -1} }

// Value returns the wrapped grid.
func (v Var) Value() grid.Grid { return v.value }

// Tracked reports whether gradients flow through v.
func (v Var) Tracked() bool { return v.tape != nil }

func (v Var) String() string {
	if v.tape == nil {
		return "const " + v.value.String()
	}
	return fmt.Sprintf("var#%d %s", v.id, v.value)
}

// apply evaluates the named primitive and records it when any input is
// tracked.
func apply(name string, attrs any, in ...Var) (Var, error) {
	var tape *Tape
	for _, v := range in {
		if v.tape == nil {
			continue
		}
		if tape != nil && v.tape != tape {
			return Var{}, fmt.Errorf("autodiff: %s mixes values from two tapes", name)
		}
		tape = v.tape
	}
	p, ok := Lookup(name)
	if !ok {
		return Var{}, fmt.Errorf("%w: operation %q is not registered", ErrDifferentiationUnsupported, name)
	}
	if tape != nil {
		if tape.closed {
			return Var{}, fmt.Errorf("%w: %s after the gradient call returned", ErrTapeClosed, name)
		}
		if p.VJP == nil {
			return Var{}, fmt.Errorf("%w: operation %q has no derivative rule", ErrDifferentiationUnsupported, name)
		}
	}

	values := make([]grid.Grid, len(in))
	for i, v := range in {
		values[i] = v.value
	}
	out, err := p.Forward(attrs, values)
	if err != nil {
		return Var{}, fmt.Errorf("%s: %w", name, err)
	}
	if tape == nil {
		return Const(out), nil
	}

	ids := make([]int, len(in))
	for i, v := range in {
		ids[i] = -1
		if v.tape != nil {
			ids[i] = v.id
		}
	}
	res := tape.watch(out)
	tape.entries = append(tape.entries, entry{prim: p, attrs: attrs, inputs: ids, values: values, out: out, id: res.id})
	return res, nil
}

// defined reports whether a VJP produced a cotangent. Constructed grids
// always carry a backend.
func defined(g grid.Grid) bool { return g.Backend() != nil }

// backward walks the tape in reverse from loss and returns the cotangent
// of every node reached. Cotangents of values used more than once are
// summed.
func (t *Tape) backward(loss Var) (map[int]grid.Grid, error) {
	if loss.tape != t {
		return nil, fmt.Errorf("autodiff: loss was not recorded on this tape")
	}
	if !loss.value.IsZeroDim() || loss.value.Values().Size() != 1 {
		return nil, fmt.Errorf("%w: got %s, reduce it with Sum or Mean", ErrNotScalar, loss.value)
	}
	t.logger.Debug("reverse pass", "tape", t.id.String(), "entries", len(t.entries))

	grads := map[int]grid.Grid{loss.id: grid.OnesLike(loss.value)}
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := t.entries[i]
		g, ok := grads[e.id]
		if !ok {
			continue
		}
		delete(grads, e.id)
		cts, err := e.prim.VJP(e.attrs, e.values, e.out, g)
		if err != nil {
			return nil, fmt.Errorf("vjp of %s: %w", e.prim.Name, err)
		}
		if len(cts) != len(e.inputs) {
			return nil, fmt.Errorf("vjp of %s returned %d cotangents for %d inputs", e.prim.Name, len(cts), len(e.inputs))
		}
		for j, id := range e.inputs {
			if id < 0 || !defined(cts[j]) {
				continue
			}
			ct, err := grid.ReduceLike(cts[j], e.values[j])
			if err != nil {
				return nil, fmt.Errorf("vjp of %s, input %d: %w", e.prim.Name, j, err)
			}
			if prev, ok := grads[id]; ok {
				if ct, err = grid.Add(prev, ct); err != nil {
					return nil, fmt.Errorf("accumulating gradient of %s input %d: %w", e.prim.Name, j, err)
				}
			}
			grads[id] = ct
		}
	}
	return grads, nil
}

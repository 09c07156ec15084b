package advect

import (
	"fmt"
	"math"

	"github.com/openfluke/fluxgrid/grid"
	"github.com/openfluke/fluxgrid/tensor"
)

// MacCormack advects field with a forward semi-Lagrangian step, corrects it
// with half the error of the backward step, and clamps the result to the
// range of the source samples around each traced point:
//
//	fwd  = SL(field, v, dt)
//	bwd  = SL(fwd, v, -dt)
//	out  = clamp(fwd + 0.5*(field - bwd))
//
// Periodic fields are then shifted back to their original totals, which
// the clamp alone does not preserve.
func MacCormack(field, velocity grid.Grid, dt float64) (grid.Grid, error) {
	fwd, err := SemiLagrangian(field, velocity, dt)
	if err != nil {
		return grid.Grid{}, err
	}
	bwd, err := SemiLagrangian(fwd, velocity, -dt)
	if err != nil {
		return grid.Grid{}, err
	}
	diff, err := grid.Sub(field, bwd)
	if err != nil {
		return grid.Grid{}, err
	}
	corrected, err := grid.Add(fwd, grid.Scale(diff, 0.5))
	if err != nil {
		return grid.Grid{}, err
	}
	clamped, err := Clamp(corrected, field, velocity, dt)
	if err != nil {
		return grid.Grid{}, err
	}
	return Conserve(clamped, field)
}

// bounds holds, per field entry, the extreme source samples around the
// traced point. Index -1 marks a Zero-boundary ghost reading 0.
type bounds struct {
	lo, hi       []float64
	argLo, argHi []int
}

func (tr *tracer) bounds(f, vel []float64, dt float64) bounds {
	n := tr.field.Size()
	b := bounds{lo: make([]float64, n), hi: make([]float64, n), argLo: make([]int, n), argHi: make([]int, n)}
	pts := tr.points(vel, dt)
	for i, e := range tr.entries {
		idx, ghost := tr.field.Corners(channel(tr.field, e), pts[i])
		lo, hi := math.Inf(1), math.Inf(-1)
		argLo, argHi := -1, -1
		if ghost {
			lo, hi = 0, 0
		}
		for _, k := range idx {
			if f[k] < lo {
				lo, argLo = f[k], k
			}
			if f[k] > hi {
				hi, argHi = f[k], k
			}
		}
		b.lo[e.Index], b.hi[e.Index] = lo, hi
		b.argLo[e.Index], b.argHi[e.Index] = argLo, argHi
	}
	return b
}

// Clamp limits corrected to the min/max of field's samples surrounding the
// point traced back from each sample along velocity over dt.
func Clamp(corrected, field, velocity grid.Grid, dt float64) (grid.Grid, error) {
	aligned, err := grid.AlignBatch(corrected, field, velocity)
	if err != nil {
		return grid.Grid{}, err
	}
	corrected, field, velocity = aligned[0], aligned[1], aligned[2]
	tr, err := newTracer(field, velocity)
	if err != nil {
		return grid.Grid{}, err
	}
	if !corrected.Layout().SameSamples(tr.field) {
		return grid.Grid{}, fmt.Errorf("%w: clamp of %s against %s", tensor.ErrShapeMismatch, corrected, field)
	}
	batch, cs := corrected.SlotVectors()
	_, fs := field.SlotVectors()
	_, vs := velocity.SlotVectors()
	out := make([][]float64, len(cs))
	err = grid.ForEachSlot(len(cs), func(s int) error {
		b := tr.bounds(fs[s], vs[s], dt)
		res := make([]float64, tr.field.Size())
		for _, e := range tr.entries {
			res[e.Index] = math.Min(math.Max(cs[s][e.Index], b.lo[e.Index]), b.hi[e.Index])
		}
		out[s] = res
		return nil
	})
	if err != nil {
		return grid.Grid{}, err
	}
	return grid.FromSlotVectors(field.Backend(), tr.field, batch, out)
}

// ClampVJP returns the cotangents of corrected and field for Clamp. Where
// the clamp is inactive the cotangent passes to corrected; where it is
// active it flows to the source sample that set the bound. The bounds are
// locally constant in velocity, which therefore receives no cotangent.
func ClampVJP(corrected, field, velocity grid.Grid, dt float64, gout grid.Grid) (grid.Grid, grid.Grid, error) {
	aligned, err := grid.AlignBatch(corrected, field, velocity, gout)
	if err != nil {
		return grid.Grid{}, grid.Grid{}, err
	}
	corrected, field, velocity, gout = aligned[0], aligned[1], aligned[2], aligned[3]
	tr, err := newTracer(field, velocity)
	if err != nil {
		return grid.Grid{}, grid.Grid{}, err
	}
	if !corrected.Layout().SameSamples(tr.field) {
		return grid.Grid{}, grid.Grid{}, fmt.Errorf("%w: clamp of %s against %s", tensor.ErrShapeMismatch, corrected, field)
	}
	batch, cs := corrected.SlotVectors()
	_, fs := field.SlotVectors()
	_, vs := velocity.SlotVectors()
	_, gs := gout.SlotVectors()
	gc := make([][]float64, len(cs))
	gf := make([][]float64, len(cs))
	err = grid.ForEachSlot(len(cs), func(s int) error {
		b := tr.bounds(fs[s], vs[s], dt)
		gc[s] = make([]float64, tr.field.Size())
		gf[s] = make([]float64, tr.field.Size())
		for _, e := range tr.entries {
			i := e.Index
			g, c := gs[s][i], cs[s][i]
			switch {
			case c < b.lo[i]:
				if b.argLo[i] >= 0 {
					gf[s][b.argLo[i]] += g
				}
			case c > b.hi[i]:
				if b.argHi[i] >= 0 {
					gf[s][b.argHi[i]] += g
				}
			default:
				gc[s][i] = g
			}
		}
		return nil
	})
	if err != nil {
		return grid.Grid{}, grid.Grid{}, err
	}
	gCorr, err := grid.FromSlotVectors(corrected.Backend(), tr.field, batch, gc)
	if err != nil {
		return grid.Grid{}, grid.Grid{}, err
	}
	gField, err := grid.FromSlotVectors(field.Backend(), tr.field, batch, gf)
	if err != nil {
		return grid.Grid{}, grid.Grid{}, err
	}
	return gCorr, gField, nil
}

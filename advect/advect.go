// Package advect transports grids through velocity fields.
//
// Both schemes share the signature (field, velocity, dt) -> field'. Each
// sample point of field is traced back along velocity, sampled at the
// sample's own location, and the source field is interpolated there with its
// boundary rule. Staggered fields trace each component from its own faces,
// which is what self-advection of a staggered velocity needs.
package advect

import (
	"fmt"
	"strings"

	"github.com/openfluke/fluxgrid/grid"
	"github.com/openfluke/fluxgrid/tensor"
)

// Method selects an advection scheme.
type Method int

const (
	SemiLagrangianMethod Method = iota
	MacCormackMethod
)

func (m Method) String() string {
	switch m {
	case SemiLagrangianMethod:
		return "semi_lagrangian"
	case MacCormackMethod:
		return "mac_cormack"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// ParseMethod maps a scheme name to a Method.
func ParseMethod(name string) (Method, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "-", "_")) {
	case "semi_lagrangian", "sl":
		return SemiLagrangianMethod, nil
	case "mac_cormack", "maccormack":
		return MacCormackMethod, nil
	default:
		return 0, fmt.Errorf("advect: unknown method %q", name)
	}
}

// Advect dispatches to the selected scheme.
func Advect(m Method, field, velocity grid.Grid, dt float64) (grid.Grid, error) {
	switch m {
	case SemiLagrangianMethod:
		return SemiLagrangian(field, velocity, dt)
	case MacCormackMethod:
		return MacCormack(field, velocity, dt)
	default:
		return grid.Grid{}, fmt.Errorf("advect: unknown method %v", m)
	}
}

// =============================================================================
// Tracing
// =============================================================================

// tracer samples velocity at the field's sample points. The sampling
// matrices depend only on the two layouts, so they are shared by all slots.
type tracer struct {
	field   grid.Layout
	entries []grid.Entry
	sample  []*grid.Sparse // one per velocity component, rows follow field
}

func newTracer(field, velocity grid.Grid) (*tracer, error) {
	fl, vl := field.Layout(), velocity.Layout()
	dom := fl.Domain()
	switch {
	case field.IsZeroDim():
		return nil, fmt.Errorf("%w: cannot advect a zero-dimensional grid", tensor.ErrShapeMismatch)
	case !velocity.IsVector() || !vl.Domain().Equal(dom):
		return nil, fmt.Errorf("%w: velocity %s does not match field on %s", tensor.ErrShapeMismatch, velocity, dom)
	}
	tr := &tracer{field: fl, entries: fl.Entries(), sample: make([]*grid.Sparse, dom.Rank())}
	for j := range tr.sample {
		rows := make([][]grid.Corner, fl.Size())
		for _, e := range tr.entries {
			rows[e.Index] = vl.Interp(j, e.Point)
		}
		m := grid.NewSparse(vl.Size())
		for _, r := range rows {
			m.AppendRow(r)
		}
		tr.sample[j] = m
	}
	return tr, nil
}

// points returns, per field entry, the point reached by stepping back dt
// along the velocity, indexed like entries.
func (tr *tracer) points(vel []float64, dt float64) [][]float64 {
	n := tr.field.Size()
	comps := make([][]float64, len(tr.sample))
	for j, m := range tr.sample {
		comps[j] = make([]float64, n)
		m.MulVec(vel, comps[j])
	}
	pts := make([][]float64, len(tr.entries))
	for i, e := range tr.entries {
		p := make([]float64, len(e.Point))
		for j := range p {
			p[j] = e.Point[j] - dt*comps[j][e.Index]
		}
		pts[i] = p
	}
	return pts
}

func channel(l grid.Layout, e grid.Entry) int {
	if l.Channels() == 1 {
		return 0
	}
	return e.Channel
}

// =============================================================================
// Semi-Lagrangian
// =============================================================================

// SemiLagrangian advects field by one backward trace of length dt. It is
// first-order accurate and stable for any dt. Periodic fields keep their
// per-channel totals.
func SemiLagrangian(field, velocity grid.Grid, dt float64) (grid.Grid, error) {
	aligned, err := grid.AlignBatch(field, velocity)
	if err != nil {
		return grid.Grid{}, err
	}
	field, velocity = aligned[0], aligned[1]
	tr, err := newTracer(field, velocity)
	if err != nil {
		return grid.Grid{}, err
	}
	batch, fs := field.SlotVectors()
	_, vs := velocity.SlotVectors()
	out := make([][]float64, len(fs))
	err = grid.ForEachSlot(len(fs), func(s int) error {
		pts := tr.points(vs[s], dt)
		res := make([]float64, tr.field.Size())
		for i, e := range tr.entries {
			for _, c := range tr.field.Interp(channel(tr.field, e), pts[i]) {
				res[e.Index] += c.Weight * fs[s][c.Index]
			}
		}
		if conserving(tr.field) {
			shift(tr.entries, tr.field.Channels(), fs[s], res)
		}
		out[s] = res
		return nil
	})
	if err != nil {
		return grid.Grid{}, err
	}
	return grid.FromSlotVectors(field.Backend(), tr.field, batch, out)
}

// SemiLagrangianVJP returns the cotangents of field and velocity given the
// cotangent gout of SemiLagrangian(field, velocity, dt). Both results carry
// the batch dimensions shared by field and velocity.
func SemiLagrangianVJP(field, velocity grid.Grid, dt float64, gout grid.Grid) (grid.Grid, grid.Grid, error) {
	aligned, err := grid.AlignBatch(field, velocity, gout)
	if err != nil {
		return grid.Grid{}, grid.Grid{}, err
	}
	field, velocity, gout = aligned[0], aligned[1], aligned[2]
	tr, err := newTracer(field, velocity)
	if err != nil {
		return grid.Grid{}, grid.Grid{}, err
	}
	vl := velocity.Layout()
	batch, fs := field.SlotVectors()
	_, vs := velocity.SlotVectors()
	_, gs := gout.SlotVectors()
	gf := make([][]float64, len(fs))
	gv := make([][]float64, len(fs))
	err = grid.ForEachSlot(len(fs), func(s int) error {
		pts := tr.points(vs[s], dt)
		f, g := fs[s], gs[s]
		gf[s] = make([]float64, tr.field.Size())
		if conserving(tr.field) {
			g = append([]float64(nil), g...)
			copy(gf[s], shiftAdjoint(tr.entries, tr.field.Channels(), g))
		}
		gv[s] = make([]float64, vl.Size())
		bar := make([][]float64, len(tr.sample))
		for j := range bar {
			bar[j] = make([]float64, tr.field.Size())
		}
		for i, e := range tr.entries {
			ge := g[e.Index]
			if ge == 0 {
				continue
			}
			ch := channel(tr.field, e)
			for _, c := range tr.field.Interp(ch, pts[i]) {
				gf[s][c.Index] += c.Weight * ge
			}
			for j := range bar {
				df := 0.0
				for _, c := range tr.field.InterpDeriv(ch, pts[i], j) {
					df += c.Weight * f[c.Index]
				}
				bar[j][e.Index] = -dt * ge * df
			}
		}
		tmp := make([]float64, vl.Size())
		for j, m := range tr.sample {
			m.MulVecT(bar[j], tmp)
			for k, v := range tmp {
				gv[s][k] += v
			}
		}
		return nil
	})
	if err != nil {
		return grid.Grid{}, grid.Grid{}, err
	}
	gField, err := grid.FromSlotVectors(field.Backend(), tr.field, batch, gf)
	if err != nil {
		return grid.Grid{}, grid.Grid{}, err
	}
	gVel, err := grid.FromSlotVectors(velocity.Backend(), vl, batch, gv)
	if err != nil {
		return grid.Grid{}, grid.Grid{}, err
	}
	return gField, gVel, nil
}

package advect

import (
	"fmt"

	"github.com/openfluke/fluxgrid/grid"
	"github.com/openfluke/fluxgrid/tensor"
)

// Under periodic boundaries nothing enters or leaves the domain, so an
// advected field must keep the total of every channel. Interpolation alone
// does not guarantee that once the velocity is non-uniform; the schemes add
// the lost amount back as a uniform shift. The shift is linear in both
// fields, which keeps the adjoints exact:
//
//	out = a + (sum(f) - sum(a)) / n

// shift adds to after, per channel, the difference between the channel
// totals of before and after spread evenly over the channel's samples.
func shift(entries []grid.Entry, channels int, before, after []float64) {
	diff := make([]float64, channels)
	count := make([]int, channels)
	for _, e := range entries {
		diff[e.Channel] += before[e.Index] - after[e.Index]
		count[e.Channel]++
	}
	for _, e := range entries {
		after[e.Index] += diff[e.Channel] / float64(count[e.Channel])
	}
}

// shiftAdjoint splits the cotangent of a shifted output. It removes the
// channel means from g in place and returns them spread over the samples,
// which is the cotangent the shift sends to the source field.
func shiftAdjoint(entries []grid.Entry, channels int, g []float64) []float64 {
	mean := make([]float64, channels)
	count := make([]int, channels)
	for _, e := range entries {
		mean[e.Channel] += g[e.Index]
		count[e.Channel]++
	}
	for c := range mean {
		if count[c] > 0 {
			mean[c] /= float64(count[c])
		}
	}
	src := make([]float64, len(g))
	for _, e := range entries {
		g[e.Index] -= mean[e.Channel]
		src[e.Index] = mean[e.Channel]
	}
	return src
}

func conserving(l grid.Layout) bool { return l.Boundary() == grid.Periodic }

// Conserve shifts advected so that every channel keeps the total it has in
// field. Grids without periodic boundaries are returned unchanged.
func Conserve(advected, field grid.Grid) (grid.Grid, error) {
	if !conserving(field.Layout()) {
		return advected, nil
	}
	aligned, err := grid.AlignBatch(advected, field)
	if err != nil {
		return grid.Grid{}, err
	}
	advected, field = aligned[0], aligned[1]
	l := field.Layout()
	if !advected.Layout().SameSamples(l) {
		return grid.Grid{}, fmt.Errorf("%w: conserve %s against %s", tensor.ErrShapeMismatch, advected, field)
	}
	entries := l.Entries()
	batch, as := advected.SlotVectors()
	_, fs := field.SlotVectors()
	out := make([][]float64, len(as))
	for s := range as {
		out[s] = append([]float64(nil), as[s]...)
		shift(entries, l.Channels(), fs[s], out[s])
	}
	return grid.FromSlotVectors(field.Backend(), l, batch, out)
}

// ConserveVJP returns the cotangents of advected and field for Conserve.
// Without periodic boundaries gout passes to advected and field gets none.
func ConserveVJP(advected, field, gout grid.Grid) (grid.Grid, grid.Grid, error) {
	if !conserving(field.Layout()) {
		return gout, grid.ZerosLike(field), nil
	}
	aligned, err := grid.AlignBatch(advected, field, gout)
	if err != nil {
		return grid.Grid{}, grid.Grid{}, err
	}
	field, gout = aligned[1], aligned[2]
	l := field.Layout()
	entries := l.Entries()
	batch, gs := gout.SlotVectors()
	ga := make([][]float64, len(gs))
	gf := make([][]float64, len(gs))
	for s := range gs {
		ga[s] = append([]float64(nil), gs[s]...)
		gf[s] = shiftAdjoint(entries, l.Channels(), ga[s])
	}
	gAdv, err := grid.FromSlotVectors(gout.Backend(), l, batch, ga)
	if err != nil {
		return grid.Grid{}, grid.Grid{}, err
	}
	gField, err := grid.FromSlotVectors(field.Backend(), l, batch, gf)
	if err != nil {
		return grid.Grid{}, grid.Grid{}, err
	}
	return gAdv, gField, nil
}

package advect

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/fluxgrid/grid"
	"github.com/openfluke/fluxgrid/tensor"
)

func domain(nx, ny int) grid.Domain {
	return grid.MustDomain(grid.Box{Lower: []float64{0, 0}, Upper: []float64{float64(nx), float64(ny)}},
		tensor.Spatial("x", nx), tensor.Spatial("y", ny))
}

func bump(x []float64) float64 {
	return math.Exp(-((x[0]-4)*(x[0]-4) + (x[1]-5)*(x[1]-5)) / 6)
}

func swirl(x []float64) []float64 {
	return []float64{0.37 + 0.11*math.Sin(0.7*x[1]), -0.23 + 0.13*math.Cos(0.5*x[0])}
}

func make2(t *testing.T, geom grid.Geometry, init grid.Initializer, bnd grid.Boundary, dom grid.Domain) grid.Grid {
	t.Helper()
	g, err := grid.Make(nil, geom, init, bnd, dom)
	require.NoError(t, err)
	return g
}

func total(g grid.Grid) float64 { return grid.Sum(g).Values().Data()[0] }

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("MacCormack")
	require.NoError(t, err)
	assert.Equal(t, MacCormackMethod, m)
	m, err = ParseMethod("semi-lagrangian")
	require.NoError(t, err)
	assert.Equal(t, SemiLagrangianMethod, m)
	_, err = ParseMethod("upwind")
	assert.Error(t, err)
}

func TestSemiLagrangianConservesPeriodic(t *testing.T) {
	dom := domain(10, 12)
	rho := make2(t, grid.Centered, grid.Func(bump), grid.Periodic, dom)
	vel := make2(t, grid.Staggered, grid.ConstantVector(0.3, -0.7), grid.Periodic, dom)

	out, err := SemiLagrangian(rho, vel, 1.3)
	require.NoError(t, err)
	assert.InDelta(t, total(rho), total(out), 1e-10)
	assert.False(t, tensor.AllClose(rho.Values(), out.Values(), 1e-6), "field moved")
}

func TestMacCormackConservesIntegerShift(t *testing.T) {
	dom := domain(8, 8)
	rho := make2(t, grid.Centered, grid.Func(bump), grid.Periodic, dom)
	vel := make2(t, grid.Staggered, grid.ConstantVector(1, 2), grid.Periodic, dom)
	out, err := MacCormack(rho, vel, 1)
	require.NoError(t, err)
	assert.InDelta(t, total(rho), total(out), 1e-10)
	before, err := rho.Values().Get(map[string]int{"x": 3, "y": 3})
	require.NoError(t, err)
	after, err := out.Values().Get(map[string]int{"x": 4, "y": 5})
	require.NoError(t, err)
	assert.InDelta(t, before, after, 1e-12)
}

func TestMacCormackConstantIsExact(t *testing.T) {
	for _, bnd := range []grid.Boundary{grid.Periodic, grid.Extrapolate} {
		t.Run(bnd.String(), func(t *testing.T) {
			dom := domain(9, 7)
			rho := make2(t, grid.Centered, grid.Constant(0.6), bnd, dom)
			vel := make2(t, grid.Staggered, grid.VectorFunc(swirl), bnd, dom)
			out, err := MacCormack(rho, vel, 2.5)
			require.NoError(t, err)
			for _, v := range out.Values().Data() {
				assert.Equal(t, 0.6, v)
			}

			sv := make2(t, grid.Staggered, grid.ConstantVector(0.25, -0.5), bnd, dom)
			self, err := MacCormack(sv, vel, 1)
			require.NoError(t, err)
			assert.True(t, tensor.AllClose(sv.Values(), self.Values(), 0))
		})
	}
}

func TestStaggeredSelfAdvectionUniform(t *testing.T) {
	dom := domain(6, 6)
	vel := make2(t, grid.Staggered, grid.ConstantVector(0.4, 0.9), grid.Periodic, dom)
	out, err := SemiLagrangian(vel, vel, 1)
	require.NoError(t, err)
	assert.True(t, tensor.AllClose(vel.Values(), out.Values(), 1e-12))
	assert.Equal(t, grid.Staggered, out.Geometry())
}

func TestBatchedVelocity(t *testing.T) {
	dom := domain(6, 6)
	rho := make2(t, grid.Centered, grid.Func(bump), grid.Zero, dom)
	v1 := make2(t, grid.Staggered, grid.ConstantVector(0.5, 0), grid.Zero, dom)
	v2 := make2(t, grid.Staggered, grid.ConstantVector(0, 0.5), grid.Zero, dom)
	vel, err := grid.Stack(tensor.Batch("case", 0), v1, v2)
	require.NoError(t, err)

	out, err := SemiLagrangian(rho, vel, 1)
	require.NoError(t, err)
	slots, err := grid.Unstack(out, "case")
	require.NoError(t, err)
	require.Len(t, slots, 2)

	alone, err := SemiLagrangian(rho, v2, 1)
	require.NoError(t, err)
	assert.True(t, tensor.AllClose(alone.Values(), slots[1].Values(), 0))
	assert.False(t, tensor.AllClose(slots[0].Values(), slots[1].Values(), 1e-6))
}

func TestAdvectRejectsForeignDomain(t *testing.T) {
	rho := make2(t, grid.Centered, grid.Constant(1), grid.Zero, domain(4, 4))
	vel := make2(t, grid.Staggered, grid.Constant(0), grid.Zero, domain(8, 8))
	_, err := SemiLagrangian(rho, vel, 1)
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func inner(a, b grid.Grid) float64 {
	x, y := a.Values().Data(), b.Values().Data()
	s := 0.0
	for i := range x {
		s += x[i] * y[i]
	}
	return s
}

func axpy(t *testing.T, a grid.Grid, h float64, d grid.Grid) grid.Grid {
	t.Helper()
	out, err := grid.Add(a, grid.Scale(d, h))
	require.NoError(t, err)
	return out
}

func TestSemiLagrangianVJPMatchesFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	noise := func([]float64) float64 { return rng.Float64() - 0.5 }
	noiseVec := func([]float64) []float64 { return []float64{rng.Float64() - 0.5, rng.Float64() - 0.5} }

	for _, geom := range []grid.Geometry{grid.Centered, grid.Staggered} {
		t.Run(geom.String(), func(t *testing.T) {
			dom := domain(7, 6)
			var field, dField grid.Grid
			if geom == grid.Centered {
				field = make2(t, geom, grid.Func(bump), grid.Extrapolate, dom)
				dField = make2(t, geom, grid.Func(noise), grid.Extrapolate, dom)
			} else {
				field = make2(t, geom, grid.VectorFunc(swirl), grid.Zero, dom)
				dField = make2(t, geom, grid.VectorFunc(noiseVec), grid.Zero, dom)
			}
			vel := make2(t, grid.Staggered, grid.VectorFunc(swirl), grid.Zero, dom)
			dVel := make2(t, grid.Staggered, grid.VectorFunc(noiseVec), grid.Zero, dom)
			gout := grid.OnesLike(field)
			gout = make2(t, geom, grid.Values(gout.Values().Map(func(v float64) float64 { return v * (1 + rng.Float64()) })), field.Boundary(), dom)

			loss := func(h float64) float64 {
				out, err := SemiLagrangian(axpy(t, field, h, dField), axpy(t, vel, h, dVel), 0.8)
				require.NoError(t, err)
				return inner(out, gout)
			}
			const h = 1e-6
			fd := (loss(h) - loss(-h)) / (2 * h)

			gf, gv, err := SemiLagrangianVJP(field, vel, 0.8, gout)
			require.NoError(t, err)
			ad := inner(gf, dField) + inner(gv, dVel)
			assert.InDelta(t, fd, ad, 1e-6*math.Max(1, math.Abs(fd)))
		})
	}
}

func TestClampVJPPassThrough(t *testing.T) {
	dom := domain(5, 5)
	rho := make2(t, grid.Centered, grid.Func(bump), grid.Periodic, dom)
	vel := make2(t, grid.Staggered, grid.ConstantVector(0.5, 0.5), grid.Periodic, dom)
	fwd, err := SemiLagrangian(rho, vel, 1)
	require.NoError(t, err)

	g := grid.OnesLike(rho)
	gc, gf, err := ClampVJP(fwd, rho, vel, 1, g)
	require.NoError(t, err)
	// A single SL step is a convex combination of the corners, never clamped.
	assert.True(t, tensor.AllClose(g.Values(), gc.Values(), 0))
	assert.Equal(t, 0.0, grid.MaxAbs(gf))

	high := grid.Scale(grid.OnesLike(rho), 10)
	gc, gf, err = ClampVJP(high, rho, vel, 1, g)
	require.NoError(t, err)
	assert.Equal(t, 0.0, grid.MaxAbs(gc))
	assert.InDelta(t, float64(dom.Cells()), total(gf), 1e-12)
}

// streamVelocity samples a staggered velocity from a periodic stream
// function on unit cells. Face values are differences of psi across the
// face, so the discrete divergence vanishes exactly.
func streamVelocity(t *testing.T, dom grid.Domain, psi func(x, y float64) float64) grid.Grid {
	t.Helper()
	return make2(t, grid.Staggered, grid.VectorFunc(func(x []float64) []float64 {
		return []float64{
			psi(x[0], x[1]+0.5) - psi(x[0], x[1]-0.5),
			-(psi(x[0]+0.5, x[1]) - psi(x[0]-0.5, x[1])),
		}
	}), grid.Periodic, dom)
}

func cellular(n float64) func(x, y float64) float64 {
	k := 2 * math.Pi / n
	return func(x, y float64) float64 {
		return 0.8*math.Sin(k*x)*math.Cos(k*y) + 0.3*math.Sin(2*k*y)
	}
}

func TestConservesWithDivergenceFreeVelocity(t *testing.T) {
	dom := domain(16, 16)
	vel := streamVelocity(t, dom, cellular(16))
	div, err := grid.Divergence(vel)
	require.NoError(t, err)
	require.LessOrEqual(t, grid.MaxAbs(div), 1e-12)

	rho := make2(t, grid.Centered, grid.Func(func(x []float64) float64 {
		return 0.2 + math.Exp(-((x[0]-6)*(x[0]-6)+(x[1]-9)*(x[1]-9))/8)
	}), grid.Periodic, dom)

	for _, m := range []Method{SemiLagrangianMethod, MacCormackMethod} {
		t.Run(m.String(), func(t *testing.T) {
			field := rho
			for step := 0; step < 3; step++ {
				field, err = Advect(m, field, vel, 0.7)
				require.NoError(t, err)
			}
			assert.InDelta(t, total(rho), total(field), 1e-10*total(rho))
			assert.False(t, tensor.AllClose(rho.Values(), field.Values(), 1e-3), "field moved")
		})
	}

	self, err := SemiLagrangian(vel, vel, 0.7)
	require.NoError(t, err)
	want, got := channelTotals(vel), channelTotals(self)
	for c := range want {
		assert.InDelta(t, want[c], got[c], 1e-10, "component %d", c)
	}
}

func channelTotals(g grid.Grid) []float64 {
	l := g.Layout()
	out := make([]float64, l.Channels())
	data := g.Values().Data()
	for _, e := range l.Entries() {
		out[e.Channel] += data[e.Index]
	}
	return out
}

func TestConserveLeavesOpenBoundariesAlone(t *testing.T) {
	dom := domain(8, 8)
	vel := make2(t, grid.Staggered, grid.VectorFunc(swirl), grid.Zero, dom)
	rho := make2(t, grid.Centered, grid.Func(bump), grid.Zero, dom)
	out, err := SemiLagrangian(rho, vel, 1.5)
	require.NoError(t, err)
	same, err := Conserve(out, rho)
	require.NoError(t, err)
	assert.True(t, tensor.AllClose(out.Values(), same.Values(), 0))
}

func TestConserveVJPIsTranspose(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	noise := func([]float64) float64 { return rng.Float64() - 0.5 }
	dom := domain(6, 5)
	a := make2(t, grid.Centered, grid.Func(noise), grid.Periodic, dom)
	f := make2(t, grid.Centered, grid.Func(noise), grid.Periodic, dom)
	g := make2(t, grid.Centered, grid.Func(noise), grid.Periodic, dom)

	out, err := Conserve(a, f)
	require.NoError(t, err)
	assert.InDelta(t, total(f), total(out), 1e-12)

	// Conserve is linear in (a, f), so <Conserve(a, f), g> = <a, ga> + <f, gf>.
	ga, gf, err := ConserveVJP(a, f, g)
	require.NoError(t, err)
	assert.InDelta(t, inner(out, g), inner(a, ga)+inner(f, gf), 1e-12)
}

func TestSemiLagrangianVJPPeriodic(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	noise := func([]float64) float64 { return rng.Float64() - 0.5 }
	noiseVec := func([]float64) []float64 { return []float64{rng.Float64() - 0.5, rng.Float64() - 0.5} }
	dom := domain(7, 6)
	field := make2(t, grid.Centered, grid.Func(bump), grid.Periodic, dom)
	dField := make2(t, grid.Centered, grid.Func(noise), grid.Periodic, dom)
	vel := make2(t, grid.Staggered, grid.VectorFunc(swirl), grid.Periodic, dom)
	dVel := make2(t, grid.Staggered, grid.VectorFunc(noiseVec), grid.Periodic, dom)
	gout := make2(t, grid.Centered, grid.Func(func([]float64) float64 { return 1 + rng.Float64() }), grid.Periodic, dom)

	loss := func(h float64) float64 {
		out, err := SemiLagrangian(axpy(t, field, h, dField), axpy(t, vel, h, dVel), 0.8)
		require.NoError(t, err)
		return inner(out, gout)
	}
	const h = 1e-6
	fd := (loss(h) - loss(-h)) / (2 * h)

	gf, gv, err := SemiLagrangianVJP(field, vel, 0.8, gout)
	require.NoError(t, err)
	ad := inner(gf, dField) + inner(gv, dVel)
	assert.InDelta(t, fd, ad, 1e-6*math.Max(1, math.Abs(fd)))
}

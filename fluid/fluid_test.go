package fluid

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/fluxgrid/grid"
	"github.com/openfluke/fluxgrid/solve"
	"github.com/openfluke/fluxgrid/tensor"
)

func domain(nx, ny int) grid.Domain {
	return grid.MustDomain(grid.Box{Lower: []float64{0, 0}, Upper: []float64{float64(nx), float64(ny)}},
		tensor.Spatial("x", nx), tensor.Spatial("y", ny))
}

func randomVelocity(t *testing.T, seed int64, bnd grid.Boundary, dom grid.Domain) grid.Grid {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	v, err := grid.Make(nil, grid.Staggered, grid.VectorFunc(func([]float64) []float64 {
		return []float64{rng.NormFloat64(), rng.NormFloat64()}
	}), bnd, dom)
	require.NoError(t, err)
	return v
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func TestMakeIncompressibleDivergenceFree(t *testing.T) {
	tests := []struct {
		name      string
		bnd       grid.Boundary
		obstacles []Obstacle
		rank      int
	}{
		{"walls", grid.Zero, nil, 1},
		{"open", grid.Extrapolate, nil, 0},
		{"periodic", grid.Periodic, nil, 1},
		{"walls with obstacle", grid.Zero, []Obstacle{Sphere{Center: []float64{6, 5}, Radius: 2}}, 1},
		{"open with box", grid.Extrapolate, []Obstacle{grid.Box{Lower: []float64{2, 2}, Upper: []float64{4, 6}}}, 0},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dom := domain(12, 10)
			v := randomVelocity(t, int64(i+1), tt.bnd, dom)
			cfg := solve.Config{Tolerance: 1e-8, MaxIterations: 2000, RankDeficiency: tt.rank}

			out, info, err := MakeIncompressible(v, tt.obstacles, cfg)
			require.NoError(t, err)
			assert.True(t, info.Converged)
			assert.Empty(t, info.Warnings)
			assert.Equal(t, tt.rank, info.ObservedRankDeficiency)

			div, err := grid.Divergence(out)
			require.NoError(t, err)
			assert.LessOrEqual(t, grid.MaxAbs(div), cfg.Tolerance)
			assert.Equal(t, tt.bnd, out.Boundary())
			assert.Equal(t, grid.Staggered, out.Geometry())
		})
	}
}

func TestClosedFacesStayClosed(t *testing.T) {
	dom := domain(8, 8)
	v := randomVelocity(t, 42, grid.Zero, dom)
	obstacle := grid.Box{Lower: []float64{3, 3}, Upper: []float64{5, 5}}
	out, _, err := MakeIncompressible(v, []Obstacle{obstacle}, solve.Config{Tolerance: 1e-8, MaxIterations: 1000, RankDeficiency: 1})
	require.NoError(t, err)

	data := out.Values().Data()
	for _, e := range out.Layout().Entries() {
		k, f := e.Channel, e.Pos[e.Channel]
		if f == 0 || f == dom.Resolution(k) {
			assert.Equal(t, 0.0, data[e.Index], "wall face %v", e.Pos)
		}
		// Faces inside or on the rim of the solid block.
		inside := true
		for j, p := range e.Point {
			if p < obstacle.Lower[j] || p > obstacle.Upper[j] {
				inside = false
			}
		}
		if inside {
			assert.Equal(t, 0.0, data[e.Index], "solid face %v", e.Pos)
		}
	}
}

func TestRankMismatchIsWarning(t *testing.T) {
	dom := domain(6, 6)
	v := randomVelocity(t, 3, grid.Zero, dom)
	out, info, err := MakeIncompressible(v, nil, solve.Config{Tolerance: 1e-8, MaxIterations: 500, RankDeficiency: 0})
	require.NoError(t, err)
	require.Len(t, info.Warnings, 1)
	assert.ErrorIs(t, info.Warnings[0], solve.ErrRankMismatch)

	var rm *solve.RankMismatchError
	require.True(t, errors.As(info.Warnings[0], &rm))
	assert.Equal(t, 0, rm.Declared)
	assert.Equal(t, 1, rm.Observed)

	div, err := grid.Divergence(out)
	require.NoError(t, err)
	assert.LessOrEqual(t, grid.MaxAbs(div), 1e-8, "numerics do not depend on the declared rank")
}

func TestNonConvergenceReturnsBestEffort(t *testing.T) {
	dom := domain(16, 16)
	v := randomVelocity(t, 9, grid.Zero, dom)
	out, info, err := MakeIncompressible(v, nil, solve.Config{Tolerance: 1e-12, MaxIterations: 2, RankDeficiency: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, solve.ErrNonConvergence)
	assert.False(t, info.Converged)
	assert.Equal(t, 2, info.Iterations)
	assert.Equal(t, grid.Staggered, out.Geometry())

	assert.False(t, math.IsNaN(grid.MaxAbs(out)))
	assert.Greater(t, grid.MaxAbs(out), 0.0)
}

func TestInvalidConfig(t *testing.T) {
	v := randomVelocity(t, 1, grid.Zero, domain(4, 4))
	_, _, err := MakeIncompressible(v, nil, solve.Config{Tolerance: -1, MaxIterations: 10})
	assert.ErrorIs(t, err, solve.ErrInvalidConfig)
}

func TestPoissonSystemSymmetric(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	for _, bnd := range []grid.Boundary{grid.Zero, grid.Extrapolate, grid.Periodic} {
		t.Run(bnd.String(), func(t *testing.T) {
			v := randomVelocity(t, 1, bnd, domain(7, 5))
			sys, err := NewPoissonSystem(v, []Obstacle{Sphere{Center: []float64{3, 2}, Radius: 1}})
			require.NoError(t, err)
			n := 7 * 5
			x, y := make([]float64, n), make([]float64, n)
			for i := range x {
				x[i], y[i] = rng.NormFloat64(), rng.NormFloat64()
			}
			ax, ay := make([]float64, n), make([]float64, n)
			sys.Apply(x, ax)
			sys.Apply(y, ay)
			assert.InDelta(t, dot(ax, y), dot(x, ay), 1e-10)
			assert.GreaterOrEqual(t, dot(ax, x), -1e-12)
		})
	}
}

func TestSolveIsSelfAdjoint(t *testing.T) {
	dom := domain(9, 7)
	v := randomVelocity(t, 4, grid.Zero, dom)
	sys, err := NewPoissonSystem(v, []Obstacle{Sphere{Center: []float64{4, 4}, Radius: 1.5}})
	require.NoError(t, err)
	cfg := solve.Config{Tolerance: 1e-11, MaxIterations: 2000, RankDeficiency: 1}

	rng := rand.New(rand.NewSource(8))
	mk := func() grid.Grid {
		g, err := grid.Make(nil, grid.Centered, grid.Func(func([]float64) float64 { return rng.NormFloat64() }), grid.Zero, dom)
		require.NoError(t, err)
		return g
	}
	d1, d2 := mk(), mk()
	p1, _, err := sys.Solve(d1, cfg)
	require.NoError(t, err)
	g2, _, err := sys.SolveAdjoint(d2, cfg)
	require.NoError(t, err)
	assert.InDelta(t, dot(p1.Values().Data(), d2.Values().Data()), dot(d1.Values().Data(), g2.Values().Data()), 1e-7)
}

func TestBuoyancy(t *testing.T) {
	dom := domain(4, 4)
	density, err := grid.Make(nil, grid.Centered, grid.Constant(2), grid.Extrapolate, dom)
	require.NoError(t, err)
	vel, err := grid.Make(nil, grid.Staggered, grid.Constant(0), grid.Zero, dom)
	require.NoError(t, err)

	out, err := Buoyancy(density, vel, grid.ScalarValue(nil, 0.5), 1)
	require.NoError(t, err)
	for _, e := range out.Layout().Entries() {
		want := 0.0
		if e.Channel == 1 {
			want = 1
		}
		assert.InDelta(t, want, out.Values().Data()[e.Index], 1e-12)
	}
	_, err = Buoyancy(density, vel, grid.ScalarValue(nil, 0.5), 2)
	assert.Error(t, err)
}

// plumeStep runs the 32x40 scenario: inflow, buoyancy, projection.
func plumeStep(t *testing.T) (grid.Grid, solve.Info) {
	t.Helper()
	dom := domain(32, 40)
	density, err := grid.Make(nil, grid.Centered, grid.Constant(0), grid.Extrapolate, dom)
	require.NoError(t, err)
	velocity, err := grid.Make(nil, grid.Staggered, grid.Constant(0), grid.Zero, dom)
	require.NoError(t, err)
	inflow, err := InflowSpheres(nil, dom, grid.Extrapolate, "inflow", 3, 0.6,
		[]float64{4, 5}, []float64{8, 5}, []float64{12, 5}, []float64{16, 5})
	require.NoError(t, err)

	density, err = Inflow(density, inflow)
	require.NoError(t, err)
	velocity, err = Buoyancy(density, velocity, grid.ScalarValue(nil, 0.5), 1)
	require.NoError(t, err)
	out, info, err := MakeIncompressible(velocity, nil, solve.Config{Tolerance: 1e-5, MaxIterations: 5000, RankDeficiency: 1})
	require.NoError(t, err)
	return out, info
}

func TestPlumeScenario(t *testing.T) {
	out, info := plumeStep(t)
	assert.True(t, info.Converged)
	require.Len(t, info.SlotIterations, 4)

	div, err := grid.Divergence(out)
	require.NoError(t, err)
	assert.LessOrEqual(t, grid.MaxAbs(div), 1e-5)

	slots, err := grid.Unstack(out, "inflow")
	require.NoError(t, err)
	require.Len(t, slots, 4)
	for i := 0; i < 4; i++ {
		assert.Greater(t, grid.MaxAbs(slots[i]), 0.0)
		for j := i + 1; j < 4; j++ {
			assert.False(t, tensor.AllClose(slots[i].Values(), slots[j].Values(), 1e-9), "slots %d and %d", i, j)
		}
	}

	again, _ := plumeStep(t)
	assert.True(t, tensor.AllClose(out.Values(), again.Values(), 0), "same inputs give the same result")
	assert.False(t, math.IsNaN(grid.MaxAbs(out)))
}

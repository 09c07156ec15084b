package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/fluxgrid/grid"
	"github.com/openfluke/fluxgrid/internal/config"
	"github.com/openfluke/fluxgrid/solve"
)

func defaults(t *testing.T) *config.Config {
	t.Helper()
	cfg, _, err := config.Load("", nil)
	require.NoError(t, err)
	return cfg
}

func TestPlumeSingleStep(t *testing.T) {
	cfg := defaults(t)
	cfg.Plume.Steps = 1

	res, err := RunPlume(cfg, nil, nil)
	require.NoError(t, err)
	require.Len(t, res.Steps, 1)
	assert.LessOrEqual(t, res.Steps[0].MaxDivergence, 1e-5)
	assert.Positive(t, res.Steps[0].Iterations)

	require.Len(t, res.Slots, 4)
	for i, s := range res.Slots {
		assert.Equal(t, cfg.Plume.InflowX[i], s.InflowX)
		assert.Positive(t, s.Density)
		assert.Positive(t, s.MaxSpeed)
	}
	_, ok := res.Velocity.Values().Shape().Dim(InflowDim)
	assert.True(t, ok, "velocity picks up the inflow batch")
}

func TestPlumeRises(t *testing.T) {
	cfg := defaults(t)
	cfg.Plume.Width, cfg.Plume.Height = 16, 24
	cfg.Plume.InflowX = []float64{5, 11}
	cfg.Plume.Steps = 6

	res, err := RunPlume(cfg, nil, nil)
	require.NoError(t, err)
	require.Len(t, res.Steps, 6)
	for _, st := range res.Steps {
		assert.LessOrEqual(t, st.MaxDivergence, 1e-4, "step %d", st.Step)
	}
	for _, s := range res.Slots {
		assert.Greater(t, s.CenterY, cfg.Plume.InflowY, "slot %d rises", s.Slot)
	}
	// Mirrored inflows carry the same amount of smoke.
	assert.InEpsilon(t, res.Slots[0].Density, res.Slots[1].Density, 1e-3)
}

func TestPlumePeriodic(t *testing.T) {
	cfg := defaults(t)
	cfg.Plume.Width, cfg.Plume.Height = 12, 12
	cfg.Plume.InflowX = []float64{6}
	cfg.Plume.InflowY = 3
	cfg.Plume.Steps = 2
	cfg.Plume.Boundary = "periodic"
	cfg.Plume.Advection = "semi_lagrangian"

	res, err := RunPlume(cfg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, grid.Periodic, res.Density.Boundary())
	assert.Equal(t, grid.Periodic, res.Velocity.Boundary())
}

func TestPlumeNonConvergenceAborts(t *testing.T) {
	cfg := defaults(t)
	cfg.Plume.Steps = 2
	cfg.Solver = solve.Config{Tolerance: 1e-12, MaxIterations: 1, RankDeficiency: 1}

	_, err := RunPlume(cfg, nil, nil)
	assert.ErrorIs(t, err, solve.ErrNonConvergence)
}

func TestGradcheckPasses(t *testing.T) {
	cfg := defaults(t)

	res, err := RunGradcheck(cfg, nil, nil)
	require.NoError(t, err)
	require.Len(t, res.Checks, 3)
	for _, c := range res.Checks {
		assert.True(t, c.Passed, "%s: analytic %g numeric %g", c.Name, c.Analytic, c.Numeric)
		assert.NotZero(t, c.Analytic, c.Name)
	}
	assert.True(t, res.Passed())
}

func TestRelError(t *testing.T) {
	assert.Zero(t, relError(0, 0))
	assert.InDelta(t, 0.5, relError(1, 2), 1e-15)
	assert.InDelta(t, 2.0, relError(-1, 1), 1e-15)
}

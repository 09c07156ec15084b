package solve

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// laplace1D is the tridiagonal (-1, 2, -1) operator, optionally periodic.
func laplace1D(periodic bool) Operator {
	return OperatorFunc(func(x, y []float64) {
		n := len(x)
		for i := range x {
			left, right := 0.0, 0.0
			switch {
			case i > 0:
				left = x[i-1]
			case periodic:
				left = x[n-1]
			}
			switch {
			case i < n-1:
				right = x[i+1]
			case periodic:
				right = x[0]
			}
			y[i] = 2*x[i] - left - right
		}
	})
}

func residual(op Operator, x, b []float64) float64 {
	y := make([]float64, len(x))
	op.Apply(x, y)
	m := 0.0
	for i := range y {
		m = math.Max(m, math.Abs(b[i]-y[i]))
	}
	return m
}

func TestCGConverges(t *testing.T) {
	op := laplace1D(false)
	b := []float64{1, 0, -2, 3, 0.5, 0, 0, 1}
	cfg := Config{Tolerance: 1e-10, MaxIterations: 100}
	x, info, err := CG(op, b, cfg)
	require.NoError(t, err)
	assert.True(t, info.Converged)
	assert.LessOrEqual(t, info.Iterations, 2*len(b))
	assert.LessOrEqual(t, residual(op, x, b), 1e-10)
	assert.Equal(t, "cg", info.Method)
}

func TestCGSingularConsistent(t *testing.T) {
	op := laplace1D(true)
	b := []float64{1, -1, 2, -2, 0.5, -0.5}
	x, info, err := CG(op, b, Config{Tolerance: 1e-10, MaxIterations: 100, RankDeficiency: 1})
	require.NoError(t, err)
	assert.True(t, info.Converged)
	assert.LessOrEqual(t, residual(op, x, b), 1e-10)

	mean := 0.0
	for _, v := range x {
		mean += v
	}
	assert.InDelta(t, 0, mean, 1e-9, "iterates stay orthogonal to constants")
}

func TestCGZeroRHS(t *testing.T) {
	x, info, err := CG(laplace1D(false), make([]float64, 4), DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 0, info.Iterations)
	assert.Equal(t, []float64{0, 0, 0, 0}, x)
}

func TestCGNonConvergence(t *testing.T) {
	b := make([]float64, 32)
	for i := range b {
		b[i] = math.Sin(float64(i))
	}
	x, info, err := CG(laplace1D(false), b, Config{Tolerance: 1e-12, MaxIterations: 2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNonConvergence))

	var nc *NonConvergenceError
	require.True(t, errors.As(err, &nc))
	assert.Equal(t, 2, nc.Iterations)
	assert.Equal(t, -1, nc.Slot)
	assert.False(t, info.Converged)
	assert.Len(t, x, len(b), "best-effort iterate is returned")
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"default", DefaultConfig(), true},
		{"zero tolerance", Config{Tolerance: 0, MaxIterations: 10}, false},
		{"no iterations", Config{Tolerance: 1e-5, MaxIterations: 0}, false},
		{"negative rank", Config{Tolerance: 1e-5, MaxIterations: 10, RankDeficiency: -1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestBatchedMatchesSingle(t *testing.T) {
	op := laplace1D(false)
	bs := [][]float64{
		{1, 2, 3, 4, 5},
		{0, 0, 1, 0, 0},
		{-1, 1, -1, 1, -1},
	}
	cfg := Config{Tolerance: 1e-11, MaxIterations: 50}
	xs, info, err := Batched(op, bs, cfg)
	require.NoError(t, err)
	assert.True(t, info.Converged)
	require.Len(t, info.SlotIterations, 3)
	for s, b := range bs {
		x, _, err := CG(op, b, cfg)
		require.NoError(t, err)
		assert.Equal(t, x, xs[s], "slot %d", s)
	}
}

func TestBatchedReportsSlot(t *testing.T) {
	op := laplace1D(false)
	hard := make([]float64, 40)
	for i := range hard {
		hard[i] = math.Cos(3 * float64(i))
	}
	_, info, err := Batched(op, [][]float64{make([]float64, 40), hard}, Config{Tolerance: 1e-12, MaxIterations: 3})
	require.Error(t, err)
	var nc *NonConvergenceError
	require.True(t, errors.As(err, &nc))
	assert.Equal(t, 1, nc.Slot)
	assert.False(t, info.Converged)
	assert.Equal(t, []int{0, 3}, info.SlotIterations)
}

func TestCheckRank(t *testing.T) {
	var info Info
	assert.NoError(t, info.CheckRank(1, 1))
	assert.Empty(t, info.Warnings)

	err := info.CheckRank(0, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRankMismatch)
	require.Len(t, info.Warnings, 1)
	assert.Equal(t, 1, info.ObservedRankDeficiency)
}

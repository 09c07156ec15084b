package gpu

import (
	"bytes"
	"errors"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/openfluke/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/fluxgrid/detector"
	"github.com/openfluke/fluxgrid/grid"
	"github.com/openfluke/fluxgrid/tensor"
)

func TestShaderSource(t *testing.T) {
	src := opDiv.Shader(64)
	assert.Contains(t, src, "@workgroup_size(64)")
	assert.Contains(t, src, "out[i] = a[i] / b[i];")
	assert.Contains(t, opScale.Shader(256), "a[i] * b[0]")
}

func TestWithReport(t *testing.T) {
	b := &Backend{workgroup: 256, maxSamples: 10}
	WithReport(&detector.Report{Recommended: detector.Recommendations{WorkgroupX: 64, MaxSamples: 1 << 20}})(b)
	assert.Equal(t, uint32(64), b.workgroup)
	assert.Equal(t, 1<<20, b.maxSamples)

	WithReport(nil)(b)
	assert.Equal(t, uint32(64), b.workgroup)
}

func newBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := NewBackend(WithMinSamples(16))
	if err != nil {
		require.True(t, errors.Is(err, detector.ErrUnavailable), "unexpected error: %v", err)
		t.Skipf("no GPU: %v", err)
	}
	t.Cleanup(b.Release)
	return b
}

func random(rng *rand.Rand, shape tensor.Shape) tensor.Tensor {
	return tensor.FromFunc(shape, func([]int) float64 { return rng.Float64() + 0.5 })
}

func TestBackendMatchesCPU(t *testing.T) {
	b := newBackend(t)
	cpu := tensor.NewCPUBackend()
	rng := rand.New(rand.NewSource(1))
	shape := tensor.MustShape(tensor.Batch("k", 3), tensor.Spatial("x", 40), tensor.Spatial("y", 33))
	x, y := random(rng, shape), random(rng, shape)

	for _, tc := range []struct {
		name     string
		gpu, cpu func(a, b tensor.Tensor) (tensor.Tensor, error)
	}{
		{"add", b.Add, cpu.Add},
		{"sub", b.Sub, cpu.Sub},
		{"mul", b.Mul, cpu.Mul},
		{"div", b.Div, cpu.Div},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.gpu(x, y)
			require.NoError(t, err)
			want, err := tc.cpu(x, y)
			require.NoError(t, err)
			assert.True(t, tensor.AllClose(want, got, 1e-5))
		})
	}
	assert.True(t, tensor.AllClose(x.Scale(-2.5), b.Scale(x, -2.5), 1e-5))
}

func TestBackendFallsBackOnBroadcast(t *testing.T) {
	b := newBackend(t)
	rng := rand.New(rand.NewSource(2))
	x := random(rng, tensor.MustShape(tensor.Spatial("x", 64), tensor.Spatial("y", 64)))
	y := random(rng, tensor.MustShape(tensor.Batch("k", 2)))

	got, err := b.Mul(x, y)
	require.NoError(t, err)
	want, err := x.Mul(y)
	require.NoError(t, err)
	assert.True(t, tensor.AllClose(want, got, 0), "broadcast runs in float64 on the CPU")
}

func TestGridArithmeticOnGPU(t *testing.T) {
	b := newBackend(t)
	dom := grid.MustDomain(grid.Box{Lower: []float64{0, 0}, Upper: []float64{32, 40}},
		tensor.Spatial("x", 32), tensor.Spatial("y", 40))
	v, err := grid.Make(b, grid.Staggered, grid.ConstantVector(1, 2), grid.Zero, dom)
	require.NoError(t, err)

	sum, err := grid.Add(v, v)
	require.NoError(t, err)
	assert.Equal(t, "webgpu", sum.Backend().Name())
	total := 0.0
	for _, e := range sum.Layout().Entries() {
		assert.InDelta(t, 2*float64(e.Channel+1), sum.Values().Data()[e.Index], 1e-6)
		total += 2 * float64(e.Channel+1)
	}
	// Padding stays zero after a device round trip.
	assert.InDelta(t, total, grid.Sum(sum).Values().Data()[0], 1e-2)
}

func TestBackendFallsBackOnDeviceFailure(t *testing.T) {
	var logs bytes.Buffer
	b := &Backend{
		ctx:        &Context{},
		cpu:        tensor.NewCPUBackend(),
		workgroup:  64,
		minSamples: 1,
		maxSamples: 1 << 20,
		logger:     slog.New(slog.NewTextHandler(&logs, nil)),
		pipelines:  map[string]*wgpu.ComputePipeline{},
	}
	rng := rand.New(rand.NewSource(3))
	shape := tensor.MustShape(tensor.Spatial("x", 8), tensor.Spatial("y", 8))
	x, y := random(rng, shape), random(rng, shape)

	for _, tc := range []struct {
		name string
		gpu  func(a, b tensor.Tensor) (tensor.Tensor, error)
		cpu  func(a, b tensor.Tensor) (tensor.Tensor, error)
	}{
		{"add", b.Add, b.cpu.Add},
		{"sub", b.Sub, b.cpu.Sub},
		{"mul", b.Mul, b.cpu.Mul},
		{"div", b.Div, b.cpu.Div},
	} {
		t.Run(tc.name, func(t *testing.T) {
			logs.Reset()
			got, err := tc.gpu(x, y)
			require.NoError(t, err)
			want, err := tc.cpu(x, y)
			require.NoError(t, err)
			assert.True(t, tensor.AllClose(want, got, 0))
			assert.Contains(t, logs.String(), "gpu dispatch failed, using cpu")
			assert.Contains(t, logs.String(), "op="+tc.name)
		})
	}

	logs.Reset()
	assert.True(t, tensor.AllClose(x.Scale(3), b.Scale(x, 3), 0))
	assert.Contains(t, logs.String(), "op=scale")
}

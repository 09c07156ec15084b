package gpu

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/openfluke/fluxgrid/detector"
	"github.com/openfluke/fluxgrid/tensor"
)

// DefaultMinSamples is the smallest tensor worth a round trip to the device.
const DefaultMinSamples = 4096

// op is one element-wise kernel. Scale reads its factor from b[0].
type op struct {
	name string
	expr string
}

var (
	opAdd   = op{"add", "a[i] + b[i]"}
	opSub   = op{"sub", "a[i] - b[i]"}
	opMul   = op{"mul", "a[i] * b[i]"}
	opDiv   = op{"div", "a[i] / b[i]"}
	opScale = op{"scale", "a[i] * b[0]"}
)

// Shader returns the WGSL source of an element-wise kernel.
func (o op) Shader(workgroup uint32) string {
	return fmt.Sprintf(`
		@group(0) @binding(0) var<storage, read> a : array<f32>;
		@group(0) @binding(1) var<storage, read> b : array<f32>;
		@group(0) @binding(2) var<storage, read_write> out : array<f32>;

		@compute @workgroup_size(%d)
		fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
			let i = gid.x;
			if (i >= arrayLength(&out)) { return; }
			out[i] = %s;
		}
	`, workgroup, o.expr)
}

// =============================================================================
// Backend
// =============================================================================

// Backend implements tensor.Backend on the GPU. Operands with equal shapes
// and a size within [minSamples, maxSamples] run in float32 on the device;
// everything else, including broadcasting, runs on the CPU backend.
type Backend struct {
	ctx        *Context
	cpu        *tensor.CPUBackend
	workgroup  uint32
	minSamples int
	maxSamples int
	logger     *slog.Logger

	mu        sync.Mutex
	pipelines map[string]*wgpu.ComputePipeline
}

var _ tensor.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithReport applies the detector's recommended workgroup and size cap.
func WithReport(r *detector.Report) Option {
	return func(b *Backend) {
		if r == nil {
			return
		}
		if r.Recommended.WorkgroupX > 0 {
			b.workgroup = r.Recommended.WorkgroupX
		}
		if r.Recommended.MaxSamples > 0 {
			b.maxSamples = r.Recommended.MaxSamples
		}
	}
}

// WithMinSamples sets the size below which operations stay on the CPU.
func WithMinSamples(n int) Option {
	return func(b *Backend) { b.minSamples = n }
}

// WithLogger sets the logger for dispatch events.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBackend opens the GPU context. It fails with detector.ErrUnavailable
// when no device can be opened.
func NewBackend(opts ...Option) (*Backend, error) {
	c, err := GetContext()
	if err != nil {
		return nil, err
	}
	b := &Backend{
		ctx:        c,
		cpu:        tensor.NewCPUBackend(),
		workgroup:  256,
		minSamples: DefaultMinSamples,
		maxSamples: 65535 * 256,
		logger:     slog.Default(),
		pipelines:  map[string]*wgpu.ComputePipeline{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *Backend) Name() string { return "webgpu" }

func (b *Backend) Add(x, y tensor.Tensor) (tensor.Tensor, error) {
	return b.binary(opAdd, x, y, b.cpu.Add)
}

func (b *Backend) Sub(x, y tensor.Tensor) (tensor.Tensor, error) {
	return b.binary(opSub, x, y, b.cpu.Sub)
}

func (b *Backend) Mul(x, y tensor.Tensor) (tensor.Tensor, error) {
	return b.binary(opMul, x, y, b.cpu.Mul)
}

func (b *Backend) Div(x, y tensor.Tensor) (tensor.Tensor, error) {
	return b.binary(opDiv, x, y, b.cpu.Div)
}

func (b *Backend) Scale(t tensor.Tensor, factor float64) tensor.Tensor {
	if !b.fits(t.Size()) {
		return b.cpu.Scale(t, factor)
	}
	out, err := b.run(opScale, t.Data(), []float64{factor}, t.Size())
	if err != nil {
		b.fallback(opScale, err)
		return b.cpu.Scale(t, factor)
	}
	return tensor.Wrap(t.Shape(), out)
}

// Release frees the cached pipelines. The device context stays open.
func (b *Backend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, p := range b.pipelines {
		p.Release()
		delete(b.pipelines, k)
	}
}

func (b *Backend) fits(n int) bool { return n >= b.minSamples && n <= b.maxSamples }

func (b *Backend) binary(o op, x, y tensor.Tensor, cpu func(x, y tensor.Tensor) (tensor.Tensor, error)) (tensor.Tensor, error) {
	if !x.Shape().Equal(y.Shape()) || !b.fits(x.Size()) {
		return cpu(x, y)
	}
	out, err := b.run(o, x.Data(), y.Data(), x.Size())
	if err != nil {
		b.fallback(o, err)
		return cpu(x, y)
	}
	return tensor.Wrap(x.Shape(), out), nil
}

// fallback logs a failed dispatch. Callers then rerun the operation on the
// CPU backend.
func (b *Backend) fallback(o op, err error) {
	b.logger.Warn("gpu dispatch failed, using cpu", "op", o.name, "err", err)
}

func (b *Backend) pipeline(o op) (*wgpu.ComputePipeline, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pipelines[o.name]; ok {
		return p, nil
	}
	if b.ctx == nil || b.ctx.Device == nil {
		return nil, detector.ErrUnavailable
	}
	module, err := b.ctx.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          o.name + "_shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: o.Shader(b.workgroup)},
	})
	if err != nil {
		return nil, err
	}
	defer module.Release()
	p, err := b.ctx.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:   o.name + "_pipe",
		Compute: wgpu.ProgrammableStageDescriptor{Module: module, EntryPoint: "main"},
	})
	if err != nil {
		return nil, err
	}
	b.pipelines[o.name] = p
	return p, nil
}

// run uploads both operands, dispatches o over n samples and reads the
// result back in float64.
func (b *Backend) run(o op, x, y []float64, n int) ([]float64, error) {
	p, err := b.pipeline(o)
	if err != nil {
		return nil, err
	}
	c := b.ctx
	usage := wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst
	aBuf, err := NewFloatBuffer(c, o.name+"_a", toFloat32(x), usage)
	if err != nil {
		return nil, err
	}
	defer aBuf.Destroy()
	bBuf, err := NewFloatBuffer(c, o.name+"_b", toFloat32(y), usage)
	if err != nil {
		return nil, err
	}
	defer bBuf.Destroy()
	outBuf, err := NewOutputBuffer(c, o.name+"_out", n)
	if err != nil {
		return nil, err
	}
	defer outBuf.Destroy()

	bg, err := c.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  o.name + "_bind",
		Layout: p.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: aBuf, Size: aBuf.GetSize()},
			{Binding: 1, Buffer: bBuf, Size: bBuf.GetSize()},
			{Binding: 2, Buffer: outBuf, Size: outBuf.GetSize()},
		},
	})
	if err != nil {
		return nil, err
	}
	defer bg.Release()

	enc, err := c.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, err
	}
	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(p)
	pass.SetBindGroup(0, bg, nil)
	pass.DispatchWorkgroups((uint32(n)+b.workgroup-1)/b.workgroup, 1, 1)
	pass.End()
	cmd, err := enc.Finish(nil)
	if err != nil {
		enc.Release()
		return nil, err
	}
	enc.Release()
	c.Queue.Submit(cmd)
	cmd.Release()

	res, err := ReadBuffer(c, outBuf, n)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("gpu dispatch", "op", o.name, "samples", n)
	return toFloat64(res), nil
}

func toFloat32(x []float64) []float32 {
	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = float32(v)
	}
	return out
}

func toFloat64(x []float32) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = float64(v)
	}
	return out
}

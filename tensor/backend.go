package tensor

// Backend executes bulk element-wise tensor math.
// Grids carry the backend they were built with, so switching execution
// engines never depends on process-wide state.
type Backend interface {
	// Name identifies the backend in logs and reports.
	Name() string

	// Add performs element-wise addition with broadcasting: result = a + b
	Add(a, b Tensor) (Tensor, error)

	// Sub performs element-wise subtraction: result = a - b
	Sub(a, b Tensor) (Tensor, error)

	// Mul performs element-wise multiplication: result = a * b
	Mul(a, b Tensor) (Tensor, error)

	// Div performs element-wise division: result = a / b
	Div(a, b Tensor) (Tensor, error)

	// Scale multiplies all elements by a scalar: result = t * factor
	Scale(t Tensor, factor float64) Tensor
}

// =============================================================================
// CPUBackend Implementation
// =============================================================================

// CPUBackend runs everything on the calling goroutine in float64.
type CPUBackend struct{}

// NewCPUBackend creates a new CPU backend.
func NewCPUBackend() *CPUBackend {
	return &CPUBackend{}
}

func (b *CPUBackend) Name() string { return "cpu" }

func (b *CPUBackend) Add(x, y Tensor) (Tensor, error) { return x.Add(y) }

func (b *CPUBackend) Sub(x, y Tensor) (Tensor, error) { return x.Sub(y) }

func (b *CPUBackend) Mul(x, y Tensor) (Tensor, error) { return x.Mul(y) }

func (b *CPUBackend) Div(x, y Tensor) (Tensor, error) { return x.Div(y) }

func (b *CPUBackend) Scale(t Tensor, factor float64) Tensor { return t.Scale(factor) }

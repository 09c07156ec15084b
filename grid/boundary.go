package grid

import (
	"fmt"
	"strings"
)

// Boundary decides what a stencil or interpolation reads outside the sampled
// domain.
type Boundary int

const (
	// Zero treats every out-of-domain sample as 0.
	Zero Boundary = iota
	// Extrapolate repeats the nearest in-domain sample. Parsed as "boundary".
	Extrapolate
	// Periodic wraps indices around the domain.
	Periodic
)

func (b Boundary) String() string {
	switch b {
	case Zero:
		return "zero"
	case Extrapolate:
		return "boundary"
	case Periodic:
		return "periodic"
	default:
		return fmt.Sprintf("boundary(%d)", int(b))
	}
}

// ParseBoundary maps a rule name to a Boundary.
func ParseBoundary(name string) (Boundary, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "zero", "constant":
		return Zero, nil
	case "boundary", "extrapolate":
		return Extrapolate, nil
	case "periodic":
		return Periodic, nil
	default:
		return 0, fmt.Errorf("grid: unknown boundary %q", name)
	}
}

// Pressure returns the pressure boundary implied by a velocity boundary.
// Walls (zero velocity) give a Neumann pressure, open boundaries a
// Dirichlet pressure.
func (b Boundary) Pressure() Boundary {
	switch b {
	case Zero:
		return Extrapolate
	case Extrapolate:
		return Zero
	default:
		return Periodic
	}
}

// SpatialGradient returns the boundary of a derivative of a field with
// boundary b.
func (b Boundary) SpatialGradient() Boundary {
	if b == Periodic {
		return Periodic
	}
	return Zero
}

// resolve maps index i of a lattice with n samples and the given period to a
// stored index. ok is false when the sample lies outside and reads as 0.
func (b Boundary) resolve(i, n, period int) (int, bool) {
	if i >= 0 && i < n {
		if b == Periodic && i >= period {
			return i % period, true
		}
		return i, true
	}
	switch b {
	case Extrapolate:
		if i < 0 {
			return 0, true
		}
		return n - 1, true
	case Periodic:
		return ((i % period) + period) % period, true
	default:
		return 0, false
	}
}

package fluid

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/openfluke/fluxgrid/grid"
	"github.com/openfluke/fluxgrid/tensor"
)

// PoissonSystem is the pressure system of one staggered velocity layout and
// one set of obstacles:
//
//	A p = -D(W ⊙ G p) + S ⊙ p
//
// D is the divergence, G the pressure gradient, W the open-face weights and S
// the solid-cell mask. A is symmetric positive semi-definite; its nullspace is
// spanned by the indicators of fluid regions that touch no Dirichlet
// pressure boundary.
type PoissonSystem struct {
	dom       grid.Domain
	div       *grid.Linear
	grad      *grid.Linear
	open      []float64 // per face of the velocity layout
	solid     []float64 // per cell
	fluid     []float64 // per cell
	nullspace [][]float64
	backend   tensor.Backend
	logger    *slog.Logger
}

// Option configures a PoissonSystem.
type Option func(*PoissonSystem)

// WithLogger sets the logger used for solve warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *PoissonSystem) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewPoissonSystem assembles the pressure system for velocity's layout.
// Faces on Zero-velocity walls and faces touching solid cells are closed.
func NewPoissonSystem(velocity grid.Grid, obstacles []Obstacle, opts ...Option) (*PoissonSystem, error) {
	if velocity.Geometry() != grid.Staggered {
		return nil, fmt.Errorf("%w: projection needs a staggered velocity, got %s", tensor.ErrShapeMismatch, velocity)
	}
	dom := velocity.Domain()
	vbnd := velocity.Boundary()
	div, err := grid.DivergenceOp(dom, vbnd)
	if err != nil {
		return nil, err
	}
	grad, err := grid.GradientOp(dom, vbnd.Pressure(), vbnd)
	if err != nil {
		return nil, err
	}
	s := &PoissonSystem{
		dom:     dom,
		div:     div,
		grad:    grad,
		backend: velocity.Backend(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	cells := grad.In()
	s.solid = make([]float64, cells.Size())
	s.fluid = make([]float64, cells.Size())
	for _, e := range cells.Entries() {
		s.fluid[e.Index] = 1
		for _, o := range obstacles {
			if o.Contains(e.Point) {
				s.solid[e.Index], s.fluid[e.Index] = 1, 0
				break
			}
		}
	}
	s.open = s.faceWeights(vbnd)
	s.nullspace = s.findNullspace()
	return s, nil
}

// faceWeights opens every face except Zero-velocity walls and faces next to
// a solid cell.
func (s *PoissonSystem) faceWeights(vbnd grid.Boundary) []float64 {
	faces, cells := s.div.In(), s.grad.In()
	w := make([]float64, faces.Size())
	for _, e := range faces.Entries() {
		k, f := e.Channel, e.Pos[e.Channel]
		r := s.dom.Resolution(k)
		if vbnd == grid.Zero && (f == 0 || f == r) {
			continue
		}
		closed := false
		pos := append([]int(nil), e.Pos...)
		for _, c := range []int{f - 1, f} {
			switch {
			case c >= 0 && c < r:
			case vbnd == grid.Periodic:
				c = (c + r) % r
			default:
				continue
			}
			pos[k] = c
			if s.solid[cells.Offset(pos, 0)] > 0 {
				closed = true
			}
		}
		if !closed {
			w[e.Index] = 1
		}
	}
	return w
}

// findNullspace returns unit indicators of connected fluid regions on which A
// vanishes.
func (s *PoissonSystem) findNullspace() [][]float64 {
	cells, faces := s.grad.In(), s.div.In()
	label := make([]int, cells.Size())
	for i := range label {
		label[i] = -1
	}
	entries := cells.Entries()
	byIndex := make(map[int]grid.Entry, len(entries))
	for _, e := range entries {
		byIndex[e.Index] = e
	}

	var regions [][]int
	for _, e := range entries {
		if s.fluid[e.Index] == 0 || label[e.Index] >= 0 {
			continue
		}
		id := len(regions)
		queue := []int{e.Index}
		label[e.Index] = id
		var members []int
		for len(queue) > 0 {
			c := queue[0]
			queue = queue[1:]
			members = append(members, c)
			for _, n := range s.neighbours(byIndex[c], cells, faces) {
				if s.fluid[n] > 0 && label[n] < 0 {
					label[n] = id
					queue = append(queue, n)
				}
			}
		}
		regions = append(regions, members)
	}

	scale := 0.0
	for k := 0; k < s.dom.Rank(); k++ {
		scale = math.Max(scale, 1/(s.dom.Dx(k)*s.dom.Dx(k)))
	}
	var null [][]float64
	az := make([]float64, cells.Size())
	for _, members := range regions {
		z := make([]float64, cells.Size())
		for _, c := range members {
			z[c] = 1
		}
		s.Apply(z, az)
		if floats.Norm(az, math.Inf(1)) > 1e-9*scale {
			continue
		}
		floats.Scale(1/floats.Norm(z, 2), z)
		null = append(null, z)
	}
	return null
}

// neighbours lists cells sharing an open face with e.
func (s *PoissonSystem) neighbours(e grid.Entry, cells, faces grid.Layout) []int {
	var out []int
	pos := append([]int(nil), e.Pos...)
	for k := 0; k < s.dom.Rank(); k++ {
		r := s.dom.Resolution(k)
		for _, step := range []int{-1, 1} {
			c := e.Pos[k] + step
			face := e.Pos[k]
			if step > 0 {
				face++
			}
			if c < 0 || c >= r {
				if faces.Boundary() != grid.Periodic {
					continue
				}
				c = (c + r) % r
			}
			pos[k] = face % r
			if s.open[faces.Offset(pos, k)] == 0 {
				continue
			}
			pos[k] = c
			out = append(out, cells.Offset(pos, 0))
		}
		pos[k] = e.Pos[k]
	}
	return out
}

// Apply computes y = A x for one slot. It is safe for concurrent use.
func (s *PoissonSystem) Apply(x, y []float64) {
	g := make([]float64, s.grad.Out().Size())
	s.grad.MulVec(x, g)
	floats.Mul(g, s.open)
	s.div.MulVec(g, y)
	for i := range y {
		y[i] = -y[i] + s.solid[i]*x[i]
	}
}

// RankDeficiency returns the observed nullspace dimension.
func (s *PoissonSystem) RankDeficiency() int { return len(s.nullspace) }

// Nullspace returns copies of the unit nullspace vectors.
func (s *PoissonSystem) Nullspace() [][]float64 {
	out := make([][]float64, len(s.nullspace))
	for i, z := range s.nullspace {
		out[i] = append([]float64(nil), z...)
	}
	return out
}

func (s *PoissonSystem) projectOut(v []float64) {
	for _, z := range s.nullspace {
		floats.AddScaled(v, -floats.Dot(z, v), z)
	}
}

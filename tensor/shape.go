// Package tensor provides immutable dense arrays whose axes are addressed by
// name and kind rather than by position.
//
// Every dimension carries a name and a kind (batch, spatial or channel).
// Binary operations match dimensions by (name, kind): a dimension missing on
// one side is broadcast, a dimension of size 1 is broadcast, and two present
// dimensions with different sizes fail with ErrShapeMismatch.
//
//	a := tensor.Full(tensor.MustShape(tensor.Spatial("x", 4)), 1)
//	b := tensor.Full(tensor.MustShape(tensor.Batch("seed", 3)), 2)
//	c, _ := a.Add(b) // shape (seed=3, x=4)
package tensor

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrShapeMismatch is returned whenever two shapes cannot be combined.
var ErrShapeMismatch = errors.New("shape mismatch")

// Kind classifies a dimension.
type Kind int

const (
	KindBatch   Kind = 0 // independent problem instances
	KindSpatial Kind = 1 // physical axes, ordered
	KindChannel Kind = 2 // vector components and other per-sample channels
)

func (k Kind) String() string {
	switch k {
	case KindBatch:
		return "batch"
	case KindSpatial:
		return "spatial"
	case KindChannel:
		return "channel"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Dim describes one named axis.
type Dim struct {
	Name string
	Kind Kind
	Size int
}

// Batch returns a batch dimension.
func Batch(name string, size int) Dim { return Dim{Name: name, Kind: KindBatch, Size: size} }

// Spatial returns a spatial dimension.
func Spatial(name string, size int) Dim { return Dim{Name: name, Kind: KindSpatial, Size: size} }

// Channel returns a channel dimension.
func Channel(name string, size int) Dim { return Dim{Name: name, Kind: KindChannel, Size: size} }

func (d Dim) String() string {
	return fmt.Sprintf("%s:%s=%d", d.Name, d.Kind.String()[:1], d.Size)
}

// Shape is an ordered set of dimensions with unique names.
type Shape []Dim

// NewShape validates dims and returns them as a Shape.
func NewShape(dims ...Dim) (Shape, error) {
	seen := make(map[string]bool, len(dims))
	for _, d := range dims {
		if d.Name == "" {
			return nil, fmt.Errorf("%w: empty dimension name", ErrShapeMismatch)
		}
		if d.Size <= 0 {
			return nil, fmt.Errorf("%w: dimension %q has size %d", ErrShapeMismatch, d.Name, d.Size)
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("%w: duplicate dimension %q", ErrShapeMismatch, d.Name)
		}
		seen[d.Name] = true
	}
	s := make(Shape, len(dims))
	copy(s, dims)
	return s, nil
}

// MustShape is NewShape for statically known dimensions. It panics on invalid input.
func MustShape(dims ...Dim) Shape {
	s, err := NewShape(dims...)
	if err != nil {
		panic(err)
	}
	return s
}

// Size returns the number of elements described by s.
func (s Shape) Size() int {
	n := 1
	for _, d := range s {
		n *= d.Size
	}
	return n
}

// Index returns the position of the named dimension or -1.
func (s Shape) Index(name string) int {
	for i, d := range s {
		if d.Name == name {
			return i
		}
	}
	return -1
}

// Dim returns the named dimension.
func (s Shape) Dim(name string) (Dim, bool) {
	if i := s.Index(name); i >= 0 {
		return s[i], true
	}
	return Dim{}, false
}

// Names returns the dimension names in order.
func (s Shape) Names() []string {
	out := make([]string, len(s))
	for i, d := range s {
		out[i] = d.Name
	}
	return out
}

// OfKind returns the dimensions of kind k, in order.
func (s Shape) OfKind(k Kind) Shape {
	var out Shape
	for _, d := range s {
		if d.Kind == k {
			out = append(out, d)
		}
	}
	return out
}

// Without returns s minus the named dimensions.
func (s Shape) Without(names ...string) Shape {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	var out Shape
	for _, d := range s {
		if !drop[d.Name] {
			out = append(out, d)
		}
	}
	return out
}

// Clone returns a copy of s.
func (s Shape) Clone() Shape {
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// Equal reports whether s and o list the same dimensions in the same order.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// SameDims reports whether s and o hold the same dimensions, ignoring order.
func (s Shape) SameDims(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for _, d := range s {
		od, ok := o.Dim(d.Name)
		if !ok || od != d {
			return false
		}
	}
	return true
}

// Strides returns row-major strides.
func (s Shape) Strides() []int {
	strides := make([]int, len(s))
	acc := 1
	for i := len(s) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= s[i].Size
	}
	return strides
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = d.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Broadcast returns the shape produced by combining a and b.
func Broadcast(a, b Shape) (Shape, error) {
	out := a.Clone()
	for _, db := range b {
		i := out.Index(db.Name)
		if i < 0 {
			out = append(out, db)
			continue
		}
		da := out[i]
		if da.Kind != db.Kind {
			return nil, fmt.Errorf("%w: dimension %q is %s in one operand and %s in the other",
				ErrShapeMismatch, db.Name, da.Kind, db.Kind)
		}
		switch {
		case da.Size == db.Size:
		case da.Size == 1:
			out[i] = db
		case db.Size == 1:
		default:
			return nil, fmt.Errorf("%w: dimension %q has sizes %d and %d", ErrShapeMismatch, db.Name, da.Size, db.Size)
		}
	}
	return canonical(out), nil
}

// canonical orders dims by kind. Spatial dims keep their relative order,
// batch and channel dims are sorted by name.
func canonical(dims Shape) Shape {
	out := dims.Clone()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		if out[i].Kind == KindSpatial {
			return false
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Canonical returns s in canonical order: batch dims sorted by name, then the
// spatial dims in their current order, then channel dims sorted by name.
func (s Shape) Canonical() Shape { return canonical(s) }

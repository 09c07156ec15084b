// Package autodiff records operations on grids on an explicit tape and
// replays them in reverse to compute gradients.
//
// Every differentiable operation is a registered Primitive: a forward
// function on grids and a vector-Jacobian product (VJP) that maps the
// cotangent of the output to cotangents of the inputs. The reverse pass
// never differentiates through solver iterations; the pressure solve has
// its own adjoint rule.
package autodiff

import (
	"fmt"
	"sort"
	"sync"

	"github.com/openfluke/fluxgrid/grid"
)

// ForwardFunc evaluates a primitive. attrs carries non-differentiable
// parameters such as time steps or solver systems.
type ForwardFunc func(attrs any, in []grid.Grid) (grid.Grid, error)

// VJPFunc maps the output cotangent g to one cotangent per input. A zero
// grid.Grid in the result means no gradient flows to that input.
type VJPFunc func(attrs any, in []grid.Grid, out, g grid.Grid) ([]grid.Grid, error)

// Primitive is one registered operation. A nil VJP marks an operation that
// may only be applied to untracked values.
type Primitive struct {
	Name    string
	Forward ForwardFunc
	VJP     VJPFunc
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Primitive{}
)

// Register adds or replaces a primitive.
func Register(p Primitive) {
	if p.Name == "" || p.Forward == nil {
		panic(fmt.Sprintf("autodiff: invalid primitive %q", p.Name))
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[p.Name] = p
}

// Lookup returns the primitive registered under name.
func Lookup(name string) (Primitive, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[name]
	return p, ok
}

// Names lists the registered primitives in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Differentiable reports whether name is registered with a VJP.
func Differentiable(name string) bool {
	p, ok := Lookup(name)
	return ok && p.VJP != nil
}

// Package solve implements the iterative linear solves behind pressure
// projection: conjugate gradient on symmetric positive semi-definite
// operators, one independent solve per batch slot.
package solve

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Config controls a linear solve. It is passed by value; nothing in this
// package keeps defaults that could change between calls.
type Config struct {
	// Tolerance bounds the max-norm of the final residual.
	Tolerance float64 `koanf:"tolerance" validate:"gt=0"`
	// MaxIterations caps the iteration count per slot.
	MaxIterations int `koanf:"max_iterations" validate:"gte=1"`
	// RankDeficiency is the expected nullspace dimension. It is only
	// compared against the observed nullspace and never changes numerics.
	RankDeficiency int `koanf:"rank_deficiency" validate:"gte=0"`
}

// DefaultConfig returns a configuration suitable for float64 projections.
func DefaultConfig() Config {
	return Config{Tolerance: 1e-6, MaxIterations: 1000, RankDeficiency: 0}
}

// Validate checks the configuration fields.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

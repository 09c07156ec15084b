// Package config loads fluxsim settings from defaults, a YAML file,
// FLUXSIM_ environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/openfluke/fluxgrid/solve"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

var validate = validator.New()

// Config is the full fluxsim configuration.
type Config struct {
	LogLevel  string          `koanf:"log_level" validate:"oneof=debug info warn error"`
	Backend   string          `koanf:"backend" validate:"oneof=cpu gpu auto"`
	Plume     PlumeConfig     `koanf:"plume"`
	Gradcheck GradcheckConfig `koanf:"gradcheck"`
	Solver    solve.Config    `koanf:"solver"`
}

// PlumeConfig describes the buoyant smoke scenario. Every entry of InflowX
// is one batch slot.
type PlumeConfig struct {
	Width        int       `koanf:"width" validate:"gte=4"`
	Height       int       `koanf:"height" validate:"gte=4"`
	Steps        int       `koanf:"steps" validate:"gte=1"`
	Dt           float64   `koanf:"dt" validate:"gt=0"`
	Buoyancy     float64   `koanf:"buoyancy"`
	Advection    string    `koanf:"advection" validate:"oneof=semi_lagrangian mac_cormack"`
	Boundary     string    `koanf:"boundary" validate:"oneof=zero boundary periodic"`
	InflowRadius float64   `koanf:"inflow_radius" validate:"gt=0"`
	InflowValue  float64   `koanf:"inflow_value"`
	InflowX      []float64 `koanf:"inflow_x" validate:"min=1"`
	InflowY      float64   `koanf:"inflow_y" validate:"gte=0"`
}

// GradcheckConfig compares the reverse pass with central differences for
// the buoyancy factor.
type GradcheckConfig struct {
	Size      int     `koanf:"size" validate:"gte=4"`
	Steps     int     `koanf:"steps" validate:"gte=1,lte=3"`
	Dt        float64 `koanf:"dt" validate:"gt=0"`
	Buoyancy  float64 `koanf:"buoyancy"`
	Epsilon   float64 `koanf:"epsilon" validate:"gte=1e-5,lte=1e-3"`
	Tolerance float64 `koanf:"tolerance" validate:"gt=0"`
}

// Defaults returns the flat default map loaded before any other layer.
func Defaults() map[string]any {
	s := solve.DefaultConfig()
	return map[string]any{
		"log_level": "info",
		"backend":   "cpu",

		"plume.width":         32,
		"plume.height":        40,
		"plume.steps":         10,
		"plume.dt":            1.0,
		"plume.buoyancy":      0.5,
		"plume.advection":     "mac_cormack",
		"plume.boundary":      "zero",
		"plume.inflow_radius": 3.0,
		"plume.inflow_value":  0.6,
		"plume.inflow_x":      []float64{4, 8, 12, 16},
		"plume.inflow_y":      5.0,

		"gradcheck.size":      8,
		"gradcheck.steps":     2,
		"gradcheck.dt":        0.5,
		"gradcheck.buoyancy":  0.7,
		"gradcheck.epsilon":   1e-4,
		"gradcheck.tolerance": 1e-3,

		"solver.tolerance":       1e-5,
		"solver.max_iterations":  s.MaxIterations,
		"solver.rank_deficiency": 1,
	}
}

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	for _, x := range c.Plume.InflowX {
		if x < 0 || x > float64(c.Plume.Width) {
			return fmt.Errorf("%w: inflow x %g outside a plume of width %d", ErrInvalid, x, c.Plume.Width)
		}
	}
	if c.Plume.InflowY > float64(c.Plume.Height) {
		return fmt.Errorf("%w: inflow y %g outside a plume of height %d", ErrInvalid, c.Plume.InflowY, c.Plume.Height)
	}
	return nil
}

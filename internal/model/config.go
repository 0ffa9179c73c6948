// internal/model/config.go
package model

import (
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/Parhamfakhar1/lumix-attention/internal/core"
)

// Element precisions.
const (
	Float32 = "float32"
	Float64 = "float64"
)

// Parameter initialization policies.
const (
	InitLinear   = "linear"
	InitXavier   = "xavier"
	InitNormal   = "normal"
	InitConstant = "constant"
)

// Config describes a multi-head attention module and how its parameters are drawn.
type Config struct {
	DModel    int     `yaml:"d_model"`
	DK        int     `yaml:"d_k"`
	DV        int     `yaml:"d_v"`
	DO        int     `yaml:"d_o"`
	NHeads    int     `yaml:"n_heads"`
	DOut      int     `yaml:"d_out"`
	Precision string  `yaml:"precision"`
	Init      string  `yaml:"init"`
	InitStd   float64 `yaml:"init_std"` // std for normal init, fill value for constant init
	Seed      uint64  `yaml:"seed"`
	Workers   int     `yaml:"workers"`
	Causal    bool    `yaml:"causal"` // apply a causal mask on every forward pass
}

// DefaultConfig is the 8-head, 512-wide configuration of the reference demo.
func DefaultConfig() Config {
	return Config{
		DModel:    512,
		DK:        64,
		DV:        64,
		DO:        8 * 64,
		NHeads:    8,
		Precision: Float32,
		Init:      InitLinear,
		InitStd:   0.02,
		Seed:      0,
	}
}

// MultiHead converts the configuration to the core form.
func (c Config) MultiHead() core.MultiHeadConfig {
	return core.MultiHeadConfig{
		DModel:  c.DModel,
		DK:      c.DK,
		DV:      c.DV,
		DO:      c.DO,
		NHeads:  c.NHeads,
		DOut:    c.DOut,
		Workers: c.Workers,
	}
}

// Validate reports configuration problems as core.ErrConfiguration.
func (c Config) Validate() error {
	if err := c.MultiHead().Validate(); err != nil {
		return err
	}
	switch c.Precision {
	case Float32, Float64:
	default:
		return errors.Wrapf(core.ErrConfiguration, "unknown precision %q", c.Precision)
	}
	switch c.Init {
	case InitLinear, InitXavier, InitConstant:
	case InitNormal:
		if c.InitStd <= 0 {
			return errors.Wrapf(core.ErrConfiguration, "init_std must be positive for normal init, got %v", c.InitStd)
		}
	default:
		return errors.Wrapf(core.ErrConfiguration, "unknown init %q", c.Init)
	}
	return nil
}

// Initializer returns a fresh initializer seeded from c.Seed. Every call starts the same
// random stream, so modules built from equal configs have equal parameters.
func (c Config) Initializer() (core.Initializer, error) {
	src := rand.NewPCG(c.Seed, c.Seed^0x9e3779b97f4a7c15)
	switch c.Init {
	case InitLinear:
		return core.LinearUniform(src), nil
	case InitXavier:
		return core.XavierUniform(src), nil
	case InitNormal:
		return core.Normal(src, c.InitStd), nil
	case InitConstant:
		return core.Constant(c.InitStd, 0), nil
	default:
		return nil, errors.Wrapf(core.ErrConfiguration, "unknown init %q", c.Init)
	}
}

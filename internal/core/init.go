// internal/core/init.go
package core

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Initializer draws initial parameter values for a Projection. Each call returns one
// sample; fanIn and fanOut are the projection's input and output widths.
//
// Implementations own their random source, so two initializers seeded identically
// produce identical parameters.
type Initializer interface {
	Weight(fanIn, fanOut int) float64
	Bias(fanIn, fanOut int) float64
}

// LinearUniform samples weights and biases from U(-1/sqrt(fanIn), 1/sqrt(fanIn)), the
// default used by common deep-learning frameworks for affine layers.
func LinearUniform(src rand.Source) Initializer {
	return &linearUniform{src: src}
}

type linearUniform struct {
	src rand.Source
}

func (l *linearUniform) sample(fanIn int) float64 {
	bound := 1 / math.Sqrt(float64(fanIn))
	return distuv.Uniform{Min: -bound, Max: bound, Src: l.src}.Rand()
}

func (l *linearUniform) Weight(fanIn, _ int) float64 { return l.sample(fanIn) }
func (l *linearUniform) Bias(fanIn, _ int) float64   { return l.sample(fanIn) }

// XavierUniform samples weights from U(-a, a) with a = sqrt(6/(fanIn+fanOut)) and zero
// biases.
func XavierUniform(src rand.Source) Initializer {
	return &xavierUniform{src: src}
}

type xavierUniform struct {
	src rand.Source
}

func (x *xavierUniform) Weight(fanIn, fanOut int) float64 {
	a := math.Sqrt(6 / float64(fanIn+fanOut))
	return distuv.Uniform{Min: -a, Max: a, Src: x.src}.Rand()
}

func (x *xavierUniform) Bias(int, int) float64 { return 0 }

// Normal samples weights from N(0, std²) and zero biases.
func Normal(src rand.Source, std float64) Initializer {
	return &normal{dist: distuv.Normal{Mu: 0, Sigma: std, Src: src}}
}

type normal struct {
	dist distuv.Normal
}

func (n *normal) Weight(int, int) float64 { return n.dist.Rand() }
func (n *normal) Bias(int, int) float64   { return 0 }

// Constant fills every weight with w and every bias with b. Useful for tests and for
// reproducing hand-computed examples.
func Constant(w, b float64) Initializer {
	return constant{w: w, b: b}
}

type constant struct {
	w, b float64
}

func (c constant) Weight(int, int) float64 { return c.w }
func (c constant) Bias(int, int) float64   { return c.b }

// internal/core/multihead.go
package core

import (
	"github.com/pkg/errors"
)

// MultiHeadConfig fixes the dimensions of a MultiHeadAttention.
type MultiHeadConfig struct {
	DModel int // width of the query/key/value inputs
	DK     int // per-head query/key width
	DV     int // per-head value width
	DO     int // input width of the output projection, must equal NHeads*DV
	NHeads int

	// DOut is the output width; 0 means DModel.
	DOut int

	// Workers bounds the goroutines of one forward pass: 0 = GOMAXPROCS, 1 = sequential,
	// negative = unlimited. With several heads the fan-out is across heads and each head
	// runs its batch inline; a single head fans out across batch elements instead.
	Workers int
}

func (c MultiHeadConfig) outDim() int {
	if c.DOut == 0 {
		return c.DModel
	}
	return c.DOut
}

// Validate checks the configuration without building anything.
func (c MultiHeadConfig) Validate() error {
	if c.NHeads <= 0 {
		return configErrorf("head count must be positive, got %d", c.NHeads)
	}
	if c.DModel <= 0 || c.DK <= 0 || c.DV <= 0 || c.DO <= 0 {
		return configErrorf("dimensions must be positive, got d_model=%d d_k=%d d_v=%d d_o=%d",
			c.DModel, c.DK, c.DV, c.DO)
	}
	if c.DOut < 0 {
		return configErrorf("output dimension must be non-negative, got %d", c.DOut)
	}
	if c.DO != c.NHeads*c.DV {
		return configErrorf("d_o (%d) must equal n_heads*d_v (%d*%d=%d)", c.DO, c.NHeads, c.DV, c.NHeads*c.DV)
	}
	return nil
}

// MultiHeadAttention runs a fixed set of independent heads on the same inputs,
// concatenates their outputs along the feature axis in head order and maps the result
// through one output projection:
//
//	MHA(Q, K, V) = Concat(head_1, ..., head_h)·Wo + bo
type MultiHeadAttention[T Float] struct {
	heads  []*Head[T]
	output *Projection[T]
	cfg    MultiHeadConfig
}

// NewMultiHeadAttention builds NHeads heads followed by the output projection, drawing
// every parameter from init in that order.
func NewMultiHeadAttention[T Float](cfg MultiHeadConfig, init Initializer) (*MultiHeadAttention[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	headCfg := HeadConfig{DModel: cfg.DModel, DK: cfg.DK, DV: cfg.DV, Workers: cfg.Workers}
	if cfg.NHeads > 1 {
		headCfg.Workers = 1
	}
	heads := make([]*Head[T], cfg.NHeads)
	for i := range heads {
		h, err := NewHead[T](headCfg, init)
		if err != nil {
			return nil, errors.Wrapf(err, "head %d", i)
		}
		heads[i] = h
	}

	out, err := NewProjection[T](cfg.DO, cfg.outDim(), init)
	if err != nil {
		return nil, errors.Wrap(err, "output projection")
	}

	return &MultiHeadAttention[T]{
		heads:  heads,
		output: out,
		cfg:    cfg,
	}, nil
}

func (m *MultiHeadAttention[T]) Config() MultiHeadConfig { return m.cfg }
func (m *MultiHeadAttention[T]) NumHeads() int           { return len(m.heads) }
func (m *MultiHeadAttention[T]) Head(i int) *Head[T]     { return m.heads[i] }
func (m *MultiHeadAttention[T]) Output() *Projection[T]  { return m.output }

// OutDim returns the width of the last axis of Attend's result.
func (m *MultiHeadAttention[T]) OutDim() int {
	return m.output.OutDim()
}

func (m *MultiHeadAttention[T]) NumParams() int {
	n := m.output.NumParams()
	for _, h := range m.heads {
		n += h.NumParams()
	}
	return n
}

// Attend computes multi-head attention.
//
// Input shapes:
//   - q: (batch, seq_q, d_model)
//   - k, v: (batch, seq_kv, d_model)
//   - mask: nil or (batch, seq_q, seq_kv), shared by every head
//
// Output shape: (batch, seq_q, d_out)
func (m *MultiHeadAttention[T]) Attend(q, k, v, mask *Tensor[T]) (*Tensor[T], error) {
	if err := checkQKV(m.cfg.DModel, q, k, v, mask); err != nil {
		return nil, err
	}

	// Each head writes only its own slot.
	outs := make([]*Tensor[T], len(m.heads))
	err := parallelFor(m.cfg.Workers, len(m.heads), func(i int) error {
		out, _, err := m.heads[i].attend(q, k, v, mask)
		if err != nil {
			return errors.Wrapf(err, "head %d", i)
		}
		outs[i] = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	// (batch, seq_q, n_heads*d_v)
	concat, err := Concat(-1, outs...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to concatenate heads")
	}

	out, err := m.output.Project(concat)
	if err != nil {
		return nil, errors.Wrap(err, "failed to apply output projection")
	}
	return out, nil
}

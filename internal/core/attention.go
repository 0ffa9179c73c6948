// internal/core/attention.go
package core

import (
	"math"

	"github.com/pkg/errors"
)

// HeadConfig fixes the dimensions of one attention head.
type HeadConfig struct {
	DModel int // width of the query/key/value inputs
	DK     int // query and key projection width
	DV     int // value projection width

	// Workers bounds the goroutines used across batch elements:
	// 0 = GOMAXPROCS, 1 = sequential, negative = unlimited.
	Workers int
}

func (c HeadConfig) validate() error {
	if c.DModel <= 0 || c.DK <= 0 || c.DV <= 0 {
		return configErrorf("head dimensions must be positive, got d_model=%d d_k=%d d_v=%d",
			c.DModel, c.DK, c.DV)
	}
	return nil
}

// Head computes scaled dot-product attention
//
//	softmax(Q·Wq · (K·Wk)ᵀ / sqrt(d_k) + mask) · V·Wv
//
// with its own query, key and value projections.
type Head[T Float] struct {
	query, key, value *Projection[T]
	cfg               HeadConfig
	scale             T
}

// NewHead builds a head whose projections are drawn from init in query, key, value order.
func NewHead[T Float](cfg HeadConfig, init Initializer) (*Head[T], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	q, err := NewProjection[T](cfg.DModel, cfg.DK, init)
	if err != nil {
		return nil, errors.Wrap(err, "query projection")
	}
	k, err := NewProjection[T](cfg.DModel, cfg.DK, init)
	if err != nil {
		return nil, errors.Wrap(err, "key projection")
	}
	v, err := NewProjection[T](cfg.DModel, cfg.DV, init)
	if err != nil {
		return nil, errors.Wrap(err, "value projection")
	}

	return &Head[T]{
		query: q,
		key:   k,
		value: v,
		cfg:   cfg,
		scale: T(1 / math.Sqrt(float64(cfg.DK))),
	}, nil
}

func (h *Head[T]) Config() HeadConfig    { return h.cfg }
func (h *Head[T]) Query() *Projection[T] { return h.query }
func (h *Head[T]) Key() *Projection[T]   { return h.key }
func (h *Head[T]) Value() *Projection[T] { return h.value }

// NumParams returns the parameter count of the three projections.
func (h *Head[T]) NumParams() int {
	return h.query.NumParams() + h.key.NumParams() + h.value.NumParams()
}

// Attend returns the attention output of shape (batch, seq_q, d_v).
//
// q has shape (batch, seq_q, d_model); k and v have shape (batch, seq_kv, d_model). mask
// is optional; when present it has shape (batch, seq_q, seq_kv) and is added to the
// scaled logits, so -Inf excludes a key position. A query whose keys are all excluded
// gets zero weights and a zero output row; non-finite scores fail with ErrNumerical.
func (h *Head[T]) Attend(q, k, v, mask *Tensor[T]) (*Tensor[T], error) {
	out, _, err := h.AttendWithWeights(q, k, v, mask)
	return out, err
}

// AttendWithWeights is Attend that also returns the softmax weights of shape
// (batch, seq_q, seq_kv).
func (h *Head[T]) AttendWithWeights(q, k, v, mask *Tensor[T]) (*Tensor[T], *Tensor[T], error) {
	if err := checkQKV(h.cfg.DModel, q, k, v, mask); err != nil {
		return nil, nil, err
	}
	return h.attend(q, k, v, mask)
}

// attend assumes checkQKV passed.
func (h *Head[T]) attend(q, k, v, mask *Tensor[T]) (*Tensor[T], *Tensor[T], error) {
	// Step 1: project to (batch, seq, d_k|d_v)
	qp, err := h.query.Project(q)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to project query")
	}
	kp, err := h.key.Project(k)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to project key")
	}
	vp, err := h.value.Project(v)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to project value")
	}

	// Step 2: scores = qp·kpᵀ, (batch, seq_q, seq_kv)
	scores, err := BatchedMatMulT(qp, kp, h.cfg.Workers)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to compute attention scores")
	}

	// Step 3: scale logits, then mask, before normalization. Scores must be finite here
	// so that only the mask can push a row to all -Inf.
	scores.scaleInPlace(h.scale)
	if err := scores.checkFinite("attention scores"); err != nil {
		return nil, nil, err
	}
	if mask != nil {
		scores.addInPlace(mask)
	}

	// Step 4: normalize over keys
	weights, err := scores.Softmax(-1)
	if err != nil {
		return nil, nil, err
	}

	// Step 5: weighted sum of values, (batch, seq_q, d_v)
	out, err := BatchedMatMul(weights, vp, h.cfg.Workers)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to apply attention to values")
	}
	return out, weights, nil
}

// checkQKV validates every input shape before any computation starts.
func checkQKV[T Float](dModel int, q, k, v, mask *Tensor[T]) error {
	if q == nil || k == nil || v == nil {
		return shapeErrorf("query, key and value are required")
	}
	for _, in := range []struct {
		name string
		t    *Tensor[T]
	}{{"query", q}, {"key", k}, {"value", v}} {
		if in.t.Rank() != 3 {
			return shapeErrorf("expected 3D %s (batch, seq, d_model), got %dD with shape %v",
				in.name, in.t.Rank(), in.t.Shape)
		}
		if err := in.t.checkLayout(in.name); err != nil {
			return err
		}
		for _, d := range in.t.Shape {
			if d <= 0 {
				return shapeErrorf("%s has an empty axis: %v", in.name, in.t.Shape)
			}
		}
		if in.t.Shape[2] != dModel {
			return shapeErrorf("%s feature dimension %d doesn't match d_model %d", in.name, in.t.Shape[2], dModel)
		}
	}

	if q.Shape[0] != k.Shape[0] || k.Shape[0] != v.Shape[0] {
		return shapeErrorf("batch mismatch: query %d, key %d, value %d", q.Shape[0], k.Shape[0], v.Shape[0])
	}
	if k.Shape[1] != v.Shape[1] {
		return shapeErrorf("key and value sequence lengths differ: %d vs %d", k.Shape[1], v.Shape[1])
	}

	if mask != nil {
		want := []int{q.Shape[0], q.Shape[1], k.Shape[1]}
		if !shapeEqual(mask.Shape, want) {
			return shapeErrorf("mask shape %v doesn't match scores shape %v", mask.Shape, want)
		}
		if err := mask.checkLayout("mask"); err != nil {
			return err
		}
	}
	return nil
}

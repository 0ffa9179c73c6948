// internal/model/attention.go
package model

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Parhamfakhar1/lumix-attention/internal/core"
	"github.com/Parhamfakhar1/lumix-attention/internal/mask"
	"github.com/Parhamfakhar1/lumix-attention/internal/monitoring"
)

// maskCacheSize bounds the causal masks kept per module, one per input shape.
const maskCacheSize = 16

// Attention wraps a core.MultiHeadAttention with its configuration, metrics and logging.
// It is safe for concurrent use: forward passes only read parameters.
type Attention[T core.Float] struct {
	config  Config
	mha     *core.MultiHeadAttention[T]
	masks   *mask.Builder[T]
	metrics *monitoring.Metrics
}

// New builds the module described by cfg. T must match cfg.Precision. metrics may be nil.
func New[T core.Float](cfg Config, metrics *monitoring.Metrics) (*Attention[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if want := precisionOf[T](); cfg.Precision != want {
		return nil, errors.Wrapf(core.ErrConfiguration, "config precision %q doesn't match element type %s",
			cfg.Precision, want)
	}

	init, err := cfg.Initializer()
	if err != nil {
		return nil, err
	}
	mha, err := core.NewMultiHeadAttention[T](cfg.MultiHead(), init)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build multi-head attention")
	}

	masks, err := mask.NewBuilder[T](maskCacheSize)
	if err != nil {
		return nil, err
	}

	metrics.SetParameters(mha.NumParams())
	log.Info().
		Int("d_model", cfg.DModel).
		Int("d_k", cfg.DK).
		Int("d_v", cfg.DV).
		Int("n_heads", cfg.NHeads).
		Int("d_out", mha.OutDim()).
		Str("precision", cfg.Precision).
		Str("init", cfg.Init).
		Bool("causal", cfg.Causal).
		Int("params", mha.NumParams()).
		Msg("Attention module ready")

	return &Attention[T]{
		config:  cfg,
		mha:     mha,
		masks:   masks,
		metrics: metrics,
	}, nil
}

func (a *Attention[T]) Config() Config                      { return a.config }
func (a *Attention[T]) Module() *core.MultiHeadAttention[T] { return a.mha }
func (a *Attention[T]) NumParams() int                      { return a.mha.NumParams() }

// Attend runs one forward pass; see core.MultiHeadAttention.Attend for shapes. With
// Config.Causal set, a causal mask for the input shape is merged into m. Errors are
// returned unchanged so callers can match core.ErrShape and core.ErrNumerical.
func (a *Attention[T]) Attend(q, k, v, m *core.Tensor[T]) (*core.Tensor[T], error) {
	start := time.Now()
	m, err := a.applyCausal(q, k, m)
	var out *core.Tensor[T]
	if err == nil {
		out, err = a.mha.Attend(q, k, v, m)
	}
	elapsed := time.Since(start)

	tokens := 0
	if q != nil && q.Rank() == 3 {
		tokens = q.Shape[0] * q.Shape[1]
	}
	a.metrics.ObserveForward(elapsed, tokens, err)

	if err != nil {
		log.Debug().Err(err).Str("result", monitoring.Classify(err)).Msg("Forward pass failed")
		return nil, err
	}
	log.Debug().
		Int("batch", q.Shape[0]).
		Int("seq_q", q.Shape[1]).
		Int("seq_kv", k.Shape[1]).
		Bool("masked", m != nil).
		Dur("duration", elapsed).
		Msg("Forward pass")
	return out, nil
}

// applyCausal returns m with the cached causal mask for the shapes of q and k merged in.
// Inputs that are not rank 3 pass through untouched so Attend reports them.
func (a *Attention[T]) applyCausal(q, k, m *core.Tensor[T]) (*core.Tensor[T], error) {
	if !a.config.Causal || q == nil || k == nil || q.Rank() != 3 || k.Rank() != 3 {
		return m, nil
	}
	causal, err := a.masks.Causal(q.Shape[0], q.Shape[1], k.Shape[1])
	if err != nil {
		return nil, err
	}
	if m == nil {
		return causal, nil
	}
	return mask.Merge(causal, m)
}

func precisionOf[T core.Float]() string {
	var zero T
	if _, ok := any(zero).(float32); ok {
		return Float32
	}
	return Float64
}

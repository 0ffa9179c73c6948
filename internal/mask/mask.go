// internal/mask/mask.go

// Package mask builds additive attention masks of shape (batch, seq_q, seq_kv): 0 where a
// query may attend to a key and -Inf where it may not.
package mask

import (
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/Parhamfakhar1/lumix-attention/internal/core"
)

type shapeKey struct {
	batch, seqQ, seqKV int
}

// Builder creates masks and memoizes causal masks by shape. Returned masks are shared
// and must be treated as read-only.
type Builder[T core.Float] struct {
	causal *lru.Cache[shapeKey, *core.Tensor[T]]
}

// NewBuilder returns a Builder keeping up to size causal masks.
func NewBuilder[T core.Float](size int) (*Builder[T], error) {
	cache, err := lru.New[shapeKey, *core.Tensor[T]](size)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create mask cache")
	}
	return &Builder[T]{causal: cache}, nil
}

// Causal returns a mask letting query i attend to keys j <= i + (seqKV - seqQ), so the
// last query lines up with the last key.
func (b *Builder[T]) Causal(batch, seqQ, seqKV int) (*core.Tensor[T], error) {
	if err := checkDims(batch, seqQ, seqKV); err != nil {
		return nil, err
	}
	key := shapeKey{batch, seqQ, seqKV}
	if m, ok := b.causal.Get(key); ok {
		return m, nil
	}

	m := core.NewTensor[T]([]int{batch, seqQ, seqKV})
	offset := seqKV - seqQ
	neg := T(math.Inf(-1))
	for i := 0; i < seqQ; i++ {
		for j := i + offset + 1; j < seqKV; j++ {
			if j < 0 {
				continue
			}
			m.Data[i*seqKV+j] = neg
		}
	}
	plane := seqQ * seqKV
	for n := 1; n < batch; n++ {
		copy(m.Data[n*plane:(n+1)*plane], m.Data[:plane])
	}

	b.causal.Add(key, m)
	return m, nil
}

// Len reports how many causal masks are cached.
func (b *Builder[T]) Len() int {
	return b.causal.Len()
}

// Padding masks, for each batch element n, the keys at positions >= keyLens[n].
func Padding[T core.Float](keyLens []int, seqQ, seqKV int) (*core.Tensor[T], error) {
	if err := checkDims(len(keyLens), seqQ, seqKV); err != nil {
		return nil, err
	}
	m := core.NewTensor[T]([]int{len(keyLens), seqQ, seqKV})
	neg := T(math.Inf(-1))
	for n, l := range keyLens {
		if l < 0 || l > seqKV {
			return nil, errors.Wrapf(core.ErrShape, "key length %d of batch element %d outside [0, %d]", l, n, seqKV)
		}
		for i := 0; i < seqQ; i++ {
			row := m.Data[(n*seqQ+i)*seqKV : (n*seqQ+i+1)*seqKV]
			for j := l; j < seqKV; j++ {
				row[j] = neg
			}
		}
	}
	return m, nil
}

// Merge combines masks so a position is allowed only if every mask allows it.
func Merge[T core.Float](masks ...*core.Tensor[T]) (*core.Tensor[T], error) {
	if len(masks) == 0 {
		return nil, errors.Wrap(core.ErrShape, "merge of zero masks")
	}
	out := masks[0].Clone()
	for _, m := range masks[1:] {
		var err error
		if out, err = out.Add(m); err != nil {
			return nil, errors.Wrap(err, "failed to merge masks")
		}
	}
	return out, nil
}

func checkDims(batch, seqQ, seqKV int) error {
	if batch <= 0 || seqQ <= 0 || seqKV <= 0 {
		return errors.Wrapf(core.ErrShape, "mask dimensions must be positive, got (%d, %d, %d)", batch, seqQ, seqKV)
	}
	return nil
}

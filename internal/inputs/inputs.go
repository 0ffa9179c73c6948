// internal/inputs/inputs.go

// Package inputs produces query/key/value tensors for the attention CLI: seeded random
// tensors or tensors decoded from a JSON document.
package inputs

import (
	"math/rand/v2"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/Parhamfakhar1/lumix-attention/internal/core"
)

// QKV groups the three attention inputs.
type QKV[T core.Float] struct {
	Query, Key, Value *core.Tensor[T]
}

// Random draws Q of shape (batch, seqQ, dModel) and K, V of shape (batch, seqKV, dModel)
// from a standard normal distribution. Every dimension must be positive.
func Random[T core.Float](src rand.Source, batch, seqQ, seqKV, dModel int) (QKV[T], error) {
	if batch <= 0 || seqQ <= 0 || seqKV <= 0 || dModel <= 0 {
		return QKV[T]{}, errors.Wrapf(core.ErrShape,
			"random inputs need positive dimensions, got batch=%d seq_q=%d seq_kv=%d d_model=%d",
			batch, seqQ, seqKV, dModel)
	}
	dist := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	fill := func(shape ...int) *core.Tensor[T] {
		t := core.NewTensor[T](shape)
		for i := range t.Data {
			t.Data[i] = T(dist.Rand())
		}
		return t
	}
	return QKV[T]{
		Query: fill(batch, seqQ, dModel),
		Key:   fill(batch, seqKV, dModel),
		Value: fill(batch, seqKV, dModel),
	}, nil
}

// ParseJSON decodes a document of the form
//
//	{"query": [[[...]]], "key": [[[...]]], "value": [[[...]]]}
//
// where each field is a rectangular nested array. "key" defaults to "query" and "value"
// defaults to "key", which covers self-attention inputs.
func ParseJSON[T core.Float](doc []byte) (QKV[T], error) {
	if !gjson.ValidBytes(doc) {
		return QKV[T]{}, errors.New("invalid JSON document")
	}
	root := gjson.ParseBytes(doc)

	q, err := tensorField[T](root, "query")
	if err != nil {
		return QKV[T]{}, err
	}
	if q == nil {
		return QKV[T]{}, errors.New(`missing "query" field`)
	}
	k, err := tensorField[T](root, "key")
	if err != nil {
		return QKV[T]{}, err
	}
	if k == nil {
		k = q
	}
	v, err := tensorField[T](root, "value")
	if err != nil {
		return QKV[T]{}, err
	}
	if v == nil {
		v = k
	}
	return QKV[T]{Query: q, Key: k, Value: v}, nil
}

func tensorField[T core.Float](root gjson.Result, name string) (*core.Tensor[T], error) {
	field := root.Get(name)
	if !field.Exists() {
		return nil, nil
	}
	t, err := decodeTensor[T](field)
	if err != nil {
		return nil, errors.Wrapf(err, "field %q", name)
	}
	return t, nil
}

// decodeTensor infers the shape from the first element at each depth and then requires
// every sub-array to match it.
func decodeTensor[T core.Float](r gjson.Result) (*core.Tensor[T], error) {
	var shape []int
	for cur := r; cur.IsArray(); {
		elems := cur.Array()
		shape = append(shape, len(elems))
		if len(elems) == 0 {
			break
		}
		cur = elems[0]
	}
	if len(shape) == 0 {
		return nil, errors.Wrap(core.ErrShape, "expected a nested array")
	}

	data := make([]T, 0, product(shape))
	var walk func(r gjson.Result, depth int) error
	walk = func(r gjson.Result, depth int) error {
		if depth == len(shape) {
			if r.Type != gjson.Number {
				return errors.Errorf("expected a number, got %s", r.Raw)
			}
			data = append(data, T(r.Float()))
			return nil
		}
		if !r.IsArray() {
			return errors.Wrapf(core.ErrShape, "expected an array at depth %d, got %s", depth, r.Raw)
		}
		elems := r.Array()
		if len(elems) != shape[depth] {
			return errors.Wrapf(core.ErrShape, "ragged array at depth %d: %d elements, want %d",
				depth, len(elems), shape[depth])
		}
		for _, e := range elems {
			if err := walk(e, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(r, 0); err != nil {
		return nil, err
	}
	return core.FromSlice(data, shape)
}

func product(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

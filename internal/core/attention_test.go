package core

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHead(t *testing.T, cfg HeadConfig, seed uint64) *Head[float64] {
	t.Helper()
	h, err := NewHead[float64](cfg, LinearUniform(rand.NewPCG(seed, seed+1)))
	require.NoError(t, err)
	return h
}

// permuteSeq reorders axis 1 of a (batch, seq, d) tensor: out[:, i] = x[:, perm[i]].
func permuteSeq(x *Tensor[float64], perm []int) *Tensor[float64] {
	out := NewTensor[float64](x.Shape)
	batch, d := x.Shape[0], x.Shape[2]
	for b := 0; b < batch; b++ {
		for i, p := range perm {
			copy(out.Data[(b*len(perm)+i)*d:(b*len(perm)+i+1)*d], x.Data[(b*len(perm)+p)*d:(b*len(perm)+p+1)*d])
		}
	}
	return out
}

// dropSeq removes position drop from axis 1 of a (batch, seq, d) tensor.
func dropSeq(x *Tensor[float64], drop int) *Tensor[float64] {
	var perm []int
	for i := 0; i < x.Shape[1]; i++ {
		if i != drop {
			perm = append(perm, i)
		}
	}
	full := permuteSeq(x, append(perm, drop))
	out := NewTensor[float64]([]int{x.Shape[0], x.Shape[1] - 1, x.Shape[2]})
	seq, d := x.Shape[1], x.Shape[2]
	for b := 0; b < x.Shape[0]; b++ {
		copy(out.Data[b*(seq-1)*d:(b+1)*(seq-1)*d], full.Data[b*seq*d:b*seq*d+(seq-1)*d])
	}
	return out
}

func TestHeadUniformInputsReturnValueRow(t *testing.T) {
	cfg := HeadConfig{DModel: 4, DK: 2, DV: 2}
	h, err := NewHead[float32](cfg, LinearUniform(rand.NewPCG(7, 8)))
	require.NoError(t, err)

	x := Ones[float32]([]int{2, 3, 4})
	out, err := h.Attend(x, x, x, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 2}, out.Shape)

	valueRow, err := h.Value().Project(Ones[float32]([]int{1, 4}))
	require.NoError(t, err)
	for row := 0; row < 6; row++ {
		assert.InDeltaSlice(t, valueRow.Data, out.Data[row*2:(row+1)*2], 1e-6, "row %d", row)
	}
}

func TestHeadHandComputed(t *testing.T) {
	h, err := NewHead[float64](HeadConfig{DModel: 2, DK: 2, DV: 2}, Constant(0, 0))
	require.NoError(t, err)
	for _, p := range []*Projection[float64]{h.Query(), h.Key(), h.Value()} {
		p.Weight.Set(1, 0, 0)
		p.Weight.Set(1, 1, 1)
	}

	q, _ := FromSlice([]float64{1, 0}, []int{1, 1, 2})
	k, _ := FromSlice([]float64{1, 0, 0, 1}, []int{1, 2, 2})
	v, _ := FromSlice([]float64{1, 2, 3, 4}, []int{1, 2, 2})

	out, weights, err := h.AttendWithWeights(q, k, v, nil)
	require.NoError(t, err)

	// Logits [1, 0] are scaled by 1/sqrt(2) before normalization.
	e := math.Exp(1 / math.Sqrt2)
	w0, w1 := e/(e+1), 1/(e+1)
	assert.InDeltaSlice(t, []float64{w0, w1}, weights.Data, 1e-12)
	assert.InDeltaSlice(t, []float64{w0*1 + w1*3, w0*2 + w1*4}, out.Data, 1e-12)
}

func TestHeadWeightsAreDistributions(t *testing.T) {
	r := rand.New(rand.NewPCG(11, 12))
	h, err := NewHead[float32](HeadConfig{DModel: 8, DK: 4, DV: 3, Workers: -1}, Normal(rand.NewPCG(1, 1), 1))
	require.NoError(t, err)

	q, k := NewTensor[float32]([]int{3, 5, 8}), NewTensor[float32]([]int{3, 6, 8})
	for i := range q.Data {
		q.Data[i] = float32(r.NormFloat64() * 3)
	}
	for i := range k.Data {
		k.Data[i] = float32(r.NormFloat64() * 3)
	}

	_, weights, err := h.AttendWithWeights(q, k, k, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5, 6}, weights.Shape)
	for row := 0; row < 15; row++ {
		var sum float64
		for j := 0; j < 6; j++ {
			w := weights.Data[row*6+j]
			assert.GreaterOrEqual(t, w, float32(0))
			sum += float64(w)
		}
		assert.InDelta(t, 1.0, sum, 1e-5)
	}
}

func TestHeadKeyValuePermutationInvariance(t *testing.T) {
	r := rand.New(rand.NewPCG(21, 22))
	h := newTestHead(t, HeadConfig{DModel: 4, DK: 3, DV: 5}, 5)

	q := randomTensor(r, 2, 3, 4)
	k := randomTensor(r, 2, 5, 4)
	v := randomTensor(r, 2, 5, 4)
	perm := []int{3, 0, 4, 1, 2}

	want, err := h.Attend(q, k, v, nil)
	require.NoError(t, err)
	got, err := h.Attend(q, permuteSeq(k, perm), permuteSeq(v, perm), nil)
	require.NoError(t, err)
	assert.True(t, got.AllClose(want, 1e-12))
}

func TestHeadMaskExcludesKey(t *testing.T) {
	r := rand.New(rand.NewPCG(31, 32))
	h := newTestHead(t, HeadConfig{DModel: 4, DK: 2, DV: 3}, 9)

	q := randomTensor(r, 2, 3, 4)
	k := randomTensor(r, 2, 5, 4)
	v := randomTensor(r, 2, 5, 4)

	const masked = 1
	mask := NewTensor[float64]([]int{2, 3, 5})
	for b := 0; b < 2; b++ {
		for i := 0; i < 3; i++ {
			mask.Set(math.Inf(-1), b, i, masked)
		}
	}

	out, weights, err := h.AttendWithWeights(q, k, v, mask)
	require.NoError(t, err)
	for b := 0; b < 2; b++ {
		for i := 0; i < 3; i++ {
			assert.Equal(t, 0.0, weights.At(b, i, masked))
		}
	}

	want, err := h.Attend(q, dropSeq(k, masked), dropSeq(v, masked), nil)
	require.NoError(t, err)
	assert.True(t, out.AllClose(want, 1e-12))
}

func TestHeadOutputShapeIndependentOfKeyLength(t *testing.T) {
	r := rand.New(rand.NewPCG(41, 42))
	h := newTestHead(t, HeadConfig{DModel: 6, DK: 4, DV: 2, Workers: 2}, 3)
	q := randomTensor(r, 2, 3, 6)

	for _, seqKV := range []int{1, 2, 3, 9} {
		kv := randomTensor(r, 2, seqKV, 6)
		out, err := h.Attend(q, kv, kv, nil)
		require.NoError(t, err)
		assert.Equal(t, []int{2, 3, 2}, out.Shape, "seq_kv=%d", seqKV)
	}
}

func TestHeadShapeErrors(t *testing.T) {
	h := newTestHead(t, HeadConfig{DModel: 4, DK: 2, DV: 2}, 1)
	shape := func(s ...int) *Tensor[float64] { return NewTensor[float64](s) }

	testCases := []struct {
		name       string
		q, k, v, m *Tensor[float64]
	}{
		{"batch_mismatch", shape(2, 3, 4), shape(3, 3, 4), shape(3, 3, 4), nil},
		{"kv_length_mismatch", shape(2, 3, 4), shape(2, 3, 4), shape(2, 4, 4), nil},
		{"d_model_mismatch", shape(2, 3, 4), shape(2, 3, 5), shape(2, 3, 5), nil},
		{"rank2_query", shape(3, 4), shape(2, 3, 4), shape(2, 3, 4), nil},
		{"empty_sequence", shape(2, 0, 4), shape(2, 3, 4), shape(2, 3, 4), nil},
		{"mask_shape", shape(2, 3, 4), shape(2, 5, 4), shape(2, 5, 4), shape(2, 3, 3)},
		{"missing_value", shape(2, 3, 4), shape(2, 3, 4), nil, nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.Attend(tc.q, tc.k, tc.v, tc.m)
			assert.ErrorIs(t, err, ErrShape)
		})
	}
}

func TestHeadNonFiniteInput(t *testing.T) {
	h := newTestHead(t, HeadConfig{DModel: 2, DK: 2, DV: 2}, 1)
	q, _ := FromSlice([]float64{math.NaN(), 1}, []int{1, 1, 2})
	k := Ones[float64]([]int{1, 2, 2})

	_, err := h.Attend(q, k, k, nil)
	assert.ErrorIs(t, err, ErrNumerical)
}

func TestNewHeadConfigErrors(t *testing.T) {
	for _, cfg := range []HeadConfig{
		{DModel: 0, DK: 2, DV: 2},
		{DModel: 4, DK: 0, DV: 2},
		{DModel: 4, DK: 2, DV: -1},
	} {
		_, err := NewHead[float32](cfg, Constant(0, 0))
		assert.ErrorIs(t, err, ErrConfiguration, "%+v", cfg)
	}

	_, err := NewHead[float32](HeadConfig{DModel: 4, DK: 2, DV: 2}, nil)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestHeadOverflowingScoresAreNumericalErrors(t *testing.T) {
	h, err := NewHead[float32](HeadConfig{DModel: 4, DK: 2, DV: 2}, Constant(1e20, 0))
	require.NoError(t, err)
	k := Ones[float32]([]int{1, 2, 4})

	// Scores of -3.2e41 overflow float32 to -Inf and must not pass for a masked row.
	q := Full[float32]([]int{1, 1, 4}, -1)
	_, err = h.Attend(q, k, k, nil)
	assert.ErrorIs(t, err, ErrNumerical)

	_, err = h.Attend(Ones[float32]([]int{1, 1, 4}), k, k, nil)
	assert.ErrorIs(t, err, ErrNumerical)
}

func TestHeadFullyMaskedRowIsZero(t *testing.T) {
	h := newTestHead(t, HeadConfig{DModel: 2, DK: 2, DV: 2}, 4)
	x := Ones[float64]([]int{1, 2, 2})
	mask := NewTensor[float64]([]int{1, 2, 2})
	mask.Set(math.Inf(-1), 0, 0, 0)
	mask.Set(math.Inf(-1), 0, 0, 1)

	out, weights, err := h.AttendWithWeights(x, x, x, mask)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, weights.Data[:2])
	assert.Equal(t, []float64{0, 0}, out.Data[:2])
}

func TestHeadRejectsInconsistentTensors(t *testing.T) {
	h := newTestHead(t, HeadConfig{DModel: 4, DK: 2, DV: 2}, 2)
	good := NewTensor[float64]([]int{1, 2, 4})

	testCases := []struct {
		name    string
		q, mask *Tensor[float64]
	}{
		{"short_data", &Tensor[float64]{Data: make([]float64, 5), Shape: []int{1, 2, 4}, Stride: []int{8, 4, 1}}, nil},
		{"long_data", &Tensor[float64]{Data: make([]float64, 9), Shape: []int{1, 2, 4}, Stride: []int{8, 4, 1}}, nil},
		{"missing_stride", &Tensor[float64]{Data: make([]float64, 8), Shape: []int{1, 2, 4}}, nil},
		{"bad_stride", &Tensor[float64]{Data: make([]float64, 8), Shape: []int{1, 2, 4}, Stride: []int{8, 1, 2}}, nil},
		{"short_mask", good, &Tensor[float64]{Data: make([]float64, 1), Shape: []int{1, 2, 2}, Stride: []int{4, 2, 1}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var err error
			require.NotPanics(t, func() {
				_, err = h.Attend(tc.q, good, good, tc.mask)
			})
			assert.ErrorIs(t, err, ErrShape)
		})
	}

	require.NotPanics(t, func() {
		_, err := h.Query().Project(testCases[0].q)
		assert.ErrorIs(t, err, ErrShape)
	})
	require.NotPanics(t, func() {
		_, err := BatchedMatMul(testCases[1].q, good, 1)
		assert.ErrorIs(t, err, ErrShape)
	})
}

// internal/core/tensor.go
package core

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/blas/blas64"
)

// Float is the set of element types a Tensor can hold.
type Float interface {
	float32 | float64
}

// Tensor is a dense row-major n-dimensional array.
//
// Operations in this package never modify their inputs and always return a newly
// allocated result.
type Tensor[T Float] struct {
	Data   []T
	Shape  []int
	Stride []int
}

// NewTensor allocates a zero-filled tensor of the given shape.
func NewTensor[T Float](shape []int) *Tensor[T] {
	s := make([]int, len(shape))
	copy(s, shape)

	stride := make([]int, len(s))
	size := 1
	for i := len(s) - 1; i >= 0; i-- {
		stride[i] = size
		size *= s[i]
	}

	return &Tensor[T]{
		Data:   make([]T, size),
		Shape:  s,
		Stride: stride,
	}
}

// FromSlice builds a tensor over a copy of data.
func FromSlice[T Float](data []T, shape []int) (*Tensor[T], error) {
	for _, d := range shape {
		if d < 0 {
			return nil, shapeErrorf("negative dimension in shape %v", shape)
		}
	}
	t := NewTensor[T](shape)
	if len(data) != len(t.Data) {
		return nil, shapeErrorf("data has %d elements, shape %v needs %d", len(data), shape, len(t.Data))
	}
	copy(t.Data, data)
	return t, nil
}

// Full returns a tensor of the given shape with every element set to v.
func Full[T Float](shape []int, v T) *Tensor[T] {
	t := NewTensor[T](shape)
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

func Ones[T Float](shape []int) *Tensor[T] {
	return Full[T](shape, 1)
}

func Zeros[T Float](shape []int) *Tensor[T] {
	return NewTensor[T](shape)
}

// Size returns the number of elements.
func (t *Tensor[T]) Size() int {
	return len(t.Data)
}

func (t *Tensor[T]) Rank() int {
	return len(t.Shape)
}

// Dim returns the size of axis i; negative i counts from the last axis.
func (t *Tensor[T]) Dim(i int) int {
	if i < 0 {
		i += len(t.Shape)
	}
	return t.Shape[i]
}

func (t *Tensor[T]) offset(idx []int) int {
	if len(idx) != len(t.Shape) {
		panic(fmt.Sprintf("index %v has rank %d, tensor has rank %d", idx, len(idx), len(t.Shape)))
	}
	off := 0
	for i, x := range idx {
		if x < 0 || x >= t.Shape[i] {
			panic(fmt.Sprintf("index %v out of range for shape %v", idx, t.Shape))
		}
		off += x * t.Stride[i]
	}
	return off
}

// checkLayout reports a tensor whose Data or Stride disagree with its Shape, as happens
// when the exported fields are assembled by hand.
func (t *Tensor[T]) checkLayout(name string) error {
	if len(t.Stride) != len(t.Shape) {
		return shapeErrorf("%s has %d strides for shape %v", name, len(t.Stride), t.Shape)
	}
	size := 1
	for i := len(t.Shape) - 1; i >= 0; i-- {
		if t.Shape[i] < 0 {
			return shapeErrorf("%s has a negative dimension: %v", name, t.Shape)
		}
		if t.Stride[i] != size {
			return shapeErrorf("%s strides %v are not row-major for shape %v", name, t.Stride, t.Shape)
		}
		size *= t.Shape[i]
	}
	if len(t.Data) != size {
		return shapeErrorf("%s has %d elements, shape %v needs %d", name, len(t.Data), t.Shape, size)
	}
	return nil
}

// checkFinite reports the first NaN or infinite element.
func (t *Tensor[T]) checkFinite(name string) error {
	for i, x := range t.Data {
		if v := float64(x); math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Wrapf(ErrNumerical, "%s has non-finite value %v at flat index %d", name, v, i)
		}
	}
	return nil
}

// At returns the element at idx. It panics on an out-of-range index.
func (t *Tensor[T]) At(idx ...int) T {
	return t.Data[t.offset(idx)]
}

// Set stores v at idx. It panics on an out-of-range index.
func (t *Tensor[T]) Set(v T, idx ...int) {
	t.Data[t.offset(idx)] = v
}

func (t *Tensor[T]) Clone() *Tensor[T] {
	c := NewTensor[T](t.Shape)
	copy(c.Data, t.Data)
	return c
}

// SameShape reports whether t and other have identical shapes.
func (t *Tensor[T]) SameShape(other *Tensor[T]) bool {
	return shapeEqual(t.Shape, other.Shape)
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// AllClose reports whether both tensors share a shape and every pair of elements differs
// by at most tol. Matching infinities compare equal.
func (t *Tensor[T]) AllClose(other *Tensor[T], tol float64) bool {
	if !t.SameShape(other) {
		return false
	}
	for i, a := range t.Data {
		b := other.Data[i]
		if a == b {
			continue
		}
		if math.Abs(float64(a)-float64(b)) > tol {
			return false
		}
	}
	return true
}

func (t *Tensor[T]) String() string {
	return fmt.Sprintf("Tensor%v", t.Shape)
}

// Scale returns t multiplied elementwise by s.
func (t *Tensor[T]) Scale(s T) *Tensor[T] {
	out := t.Clone()
	out.scaleInPlace(s)
	return out
}

func (t *Tensor[T]) scaleInPlace(s T) {
	for i := range t.Data {
		t.Data[i] *= s
	}
}

// Add returns the elementwise sum of two tensors of identical shape.
func (t *Tensor[T]) Add(other *Tensor[T]) (*Tensor[T], error) {
	if !t.SameShape(other) {
		return nil, shapeErrorf("add: shapes %v and %v differ", t.Shape, other.Shape)
	}
	out := t.Clone()
	out.addInPlace(other)
	return out, nil
}

func (t *Tensor[T]) addInPlace(other *Tensor[T]) {
	for i, v := range other.Data {
		t.Data[i] += v
	}
}

// TransposeLast swaps the last two axes, materializing the result.
func (t *Tensor[T]) TransposeLast() (*Tensor[T], error) {
	if len(t.Shape) < 2 {
		return nil, shapeErrorf("transpose needs rank >= 2, got shape %v", t.Shape)
	}
	r := len(t.Shape)
	rows, cols := t.Shape[r-2], t.Shape[r-1]

	shape := make([]int, r)
	copy(shape, t.Shape)
	shape[r-2], shape[r-1] = cols, rows
	out := NewTensor[T](shape)

	mat := rows * cols
	for b := 0; b < len(t.Data)/max(mat, 1); b++ {
		src := t.Data[b*mat : (b+1)*mat]
		dst := out.Data[b*mat : (b+1)*mat]
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				dst[j*rows+i] = src[i*cols+j]
			}
		}
	}
	return out, nil
}

// BatchedMatMul multiplies (batch, m, k) by (batch, k, n) giving (batch, m, n). Batch
// elements are computed in parallel according to workers (0 = GOMAXPROCS, 1 = inline,
// negative = unlimited).
func BatchedMatMul[T Float](a, b *Tensor[T], workers int) (*Tensor[T], error) {
	return batchedMatMul(a, b, false, workers)
}

// BatchedMatMulT multiplies (batch, m, k) by the transpose of (batch, n, k) giving
// (batch, m, n), without materializing the transpose.
func BatchedMatMulT[T Float](a, b *Tensor[T], workers int) (*Tensor[T], error) {
	return batchedMatMul(a, b, true, workers)
}

func batchedMatMul[T Float](a, b *Tensor[T], transB bool, workers int) (*Tensor[T], error) {
	if a.Rank() != 3 || b.Rank() != 3 {
		return nil, shapeErrorf("batched matmul needs rank-3 operands, got %v and %v", a.Shape, b.Shape)
	}
	if err := a.checkLayout("left operand"); err != nil {
		return nil, err
	}
	if err := b.checkLayout("right operand"); err != nil {
		return nil, err
	}
	if a.Shape[0] != b.Shape[0] {
		return nil, shapeErrorf("batched matmul batch mismatch: %v and %v", a.Shape, b.Shape)
	}

	batch, m, k := a.Shape[0], a.Shape[1], a.Shape[2]
	bk, n := b.Shape[1], b.Shape[2]
	if transB {
		n, bk = b.Shape[1], b.Shape[2]
	}
	if bk != k {
		return nil, shapeErrorf("batched matmul inner dimension mismatch: %v and %v (transposed=%v)",
			a.Shape, b.Shape, transB)
	}

	out := NewTensor[T]([]int{batch, m, n})
	if m == 0 || n == 0 || k == 0 {
		return out, nil
	}

	aMat, bMat, oMat := m*k, k*n, m*n
	err := parallelFor(workers, batch, func(i int) error {
		gemm(transB, m, n, k,
			a.Data[i*aMat:(i+1)*aMat],
			b.Data[i*bMat:(i+1)*bMat],
			out.Data[i*oMat:(i+1)*oMat])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// gemm computes c = a·b (or a·bᵀ when transB) for row-major a (m×k), b (k×n or n×k) and
// c (m×n), dispatching to gonum's single or double precision BLAS.
func gemm[T Float](transB bool, m, n, k int, a, b, c []T) {
	tB := blas.NoTrans
	bRows, bCols := k, n
	if transB {
		tB = blas.Trans
		bRows, bCols = n, k
	}

	switch a := any(a).(type) {
	case []float32:
		blas32.Gemm(blas.NoTrans, tB, 1,
			blas32.General{Rows: m, Cols: k, Stride: k, Data: a},
			blas32.General{Rows: bRows, Cols: bCols, Stride: bCols, Data: any(b).([]float32)},
			0,
			blas32.General{Rows: m, Cols: n, Stride: n, Data: any(c).([]float32)})
	case []float64:
		blas64.Gemm(blas.NoTrans, tB, 1,
			blas64.General{Rows: m, Cols: k, Stride: k, Data: a},
			blas64.General{Rows: bRows, Cols: bCols, Stride: bCols, Data: any(b).([]float64)},
			0,
			blas64.General{Rows: m, Cols: n, Stride: n, Data: any(c).([]float64)})
	}
}

// Concat joins tensors along axis; every other axis must match.
func Concat[T Float](axis int, ts ...*Tensor[T]) (*Tensor[T], error) {
	if len(ts) == 0 {
		return nil, shapeErrorf("concat of zero tensors")
	}
	first := ts[0]
	r := first.Rank()
	if axis < 0 {
		axis += r
	}
	if axis < 0 || axis >= r {
		return nil, shapeErrorf("concat axis %d out of range for shape %v", axis, first.Shape)
	}

	shape := make([]int, r)
	copy(shape, first.Shape)
	shape[axis] = 0
	for _, t := range ts {
		if t.Rank() != r {
			return nil, shapeErrorf("concat rank mismatch: %v and %v", first.Shape, t.Shape)
		}
		for i := range t.Shape {
			if i != axis && t.Shape[i] != first.Shape[i] {
				return nil, shapeErrorf("concat shape mismatch off axis %d: %v and %v", axis, first.Shape, t.Shape)
			}
		}
		shape[axis] += t.Shape[axis]
	}

	out := NewTensor[T](shape)
	outer := 1
	for i := 0; i < axis; i++ {
		outer *= shape[i]
	}
	outChunk := out.Stride[axis] * shape[axis]

	pos := 0
	for _, t := range ts {
		chunk := t.Stride[axis] * t.Shape[axis]
		for o := 0; o < outer; o++ {
			copy(out.Data[o*outChunk+pos:o*outChunk+pos+chunk], t.Data[o*chunk:(o+1)*chunk])
		}
		pos += chunk
	}
	return out, nil
}

// Softmax normalizes along axis using the max-subtraction form, so the result is invariant
// to additive shifts of the logits. -Inf entries receive zero weight; a slice made entirely
// of -Inf yields all zeros. NaN or +Inf entries fail with ErrNumerical.
func (t *Tensor[T]) Softmax(axis int) (*Tensor[T], error) {
	r := t.Rank()
	if axis < 0 {
		axis += r
	}
	if axis < 0 || axis >= r {
		return nil, shapeErrorf("softmax axis %d out of range for shape %v", axis, t.Shape)
	}

	out := t.Clone()
	n := t.Shape[axis]
	inner := t.Stride[axis]
	if n == 0 || len(t.Data) == 0 {
		return out, nil
	}
	outer := len(t.Data) / (n * inner)

	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			base := o*n*inner + in
			if err := softmaxStrided(out.Data, base, n, inner); err != nil {
				return nil, errors.Wrapf(err, "softmax over shape %v", t.Shape)
			}
		}
	}
	return out, nil
}

func softmaxStrided[T Float](data []T, base, n, stride int) error {
	maxVal := math.Inf(-1)
	for i := 0; i < n; i++ {
		v := float64(data[base+i*stride])
		if math.IsNaN(v) || math.IsInf(v, 1) {
			return errors.Wrapf(ErrNumerical, "non-finite logit %v at position %d", v, i)
		}
		if v > maxVal {
			maxVal = v
		}
	}

	if math.IsInf(maxVal, -1) {
		for i := 0; i < n; i++ {
			data[base+i*stride] = 0
		}
		return nil
	}

	var sum float64
	for i := 0; i < n; i++ {
		idx := base + i*stride
		e := math.Exp(float64(data[idx]) - maxVal)
		data[idx] = T(e)
		sum += e
	}
	for i := 0; i < n; i++ {
		idx := base + i*stride
		data[idx] = T(float64(data[idx]) / sum)
	}
	return nil
}

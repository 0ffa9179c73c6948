// internal/core/projection.go
package core

// Projection is an affine map over the last axis: output = input·Weight + Bias.
//
// Weight has shape (inDim, outDim) and Bias has shape (outDim). Both are owned by the
// Projection; they must not change during a forward pass.
type Projection[T Float] struct {
	Weight *Tensor[T]
	Bias   *Tensor[T]

	inDim, outDim int
}

// NewProjection builds a Projection with parameters drawn from init.
func NewProjection[T Float](inDim, outDim int, init Initializer) (*Projection[T], error) {
	if inDim <= 0 || outDim <= 0 {
		return nil, configErrorf("projection dimensions must be positive, got %d -> %d", inDim, outDim)
	}
	if init == nil {
		return nil, configErrorf("projection %d -> %d needs an initializer", inDim, outDim)
	}

	p := &Projection[T]{
		Weight: NewTensor[T]([]int{inDim, outDim}),
		Bias:   NewTensor[T]([]int{outDim}),
		inDim:  inDim,
		outDim: outDim,
	}
	for i := range p.Weight.Data {
		p.Weight.Data[i] = T(init.Weight(inDim, outDim))
	}
	for i := range p.Bias.Data {
		p.Bias.Data[i] = T(init.Bias(inDim, outDim))
	}
	return p, nil
}

func (p *Projection[T]) InDim() int  { return p.inDim }
func (p *Projection[T]) OutDim() int { return p.outDim }

// NumParams returns the number of weight and bias entries.
func (p *Projection[T]) NumParams() int {
	return p.inDim*p.outDim + p.outDim
}

// Project maps x of shape (..., inDim) to (..., outDim). All leading axes are treated
// as independent rows.
func (p *Projection[T]) Project(x *Tensor[T]) (*Tensor[T], error) {
	if err := p.checkInput(x); err != nil {
		return nil, err
	}

	shape := make([]int, x.Rank())
	copy(shape, x.Shape)
	shape[len(shape)-1] = p.outDim
	out := NewTensor[T](shape)

	rows := x.Size() / p.inDim
	if rows == 0 {
		return out, nil
	}
	gemm(false, rows, p.outDim, p.inDim, x.Data, p.Weight.Data, out.Data)

	for r := 0; r < rows; r++ {
		row := out.Data[r*p.outDim : (r+1)*p.outDim]
		for j, b := range p.Bias.Data {
			row[j] += b
		}
	}
	return out, nil
}

func (p *Projection[T]) checkInput(x *Tensor[T]) error {
	if x == nil || x.Rank() == 0 {
		return shapeErrorf("projection input must have rank >= 1")
	}
	if err := x.checkLayout("projection input"); err != nil {
		return err
	}
	if last := x.Dim(-1); last != p.inDim {
		return shapeErrorf("projection expects last dimension %d, got shape %v", p.inDim, x.Shape)
	}
	return nil
}

// internal/core/errors.go
package core

import (
	"github.com/pkg/errors"
)

// Error kinds returned by this package. Callers match them with errors.Is; the wrapped
// message carries the offending shapes or values.
var (
	// ErrConfiguration reports invalid construction parameters: non-positive dimensions
	// or head count, or an output projection width that disagrees with n_heads*d_v.
	ErrConfiguration = errors.New("configuration error")

	// ErrShape reports a rank or dimension mismatch detected at call time.
	ErrShape = errors.New("shape error")

	// ErrNumerical reports non-finite values (NaN or +Inf) reaching softmax.
	ErrNumerical = errors.New("numerical error")
)

func configErrorf(format string, args ...any) error {
	return errors.Wrapf(ErrConfiguration, format, args...)
}

func shapeErrorf(format string, args ...any) error {
	return errors.Wrapf(ErrShape, format, args...)
}

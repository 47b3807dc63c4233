package nn

import (
	"fmt"

	"github.com/openfluke/mlpf/ad"
)

// Activation is an elementwise nonlinearity applied after a dense layer.
type Activation func(*ad.Tensor) *ad.Tensor

// ActivationByName resolves an activation from its configuration name once at
// construction time; the forward pass never dispatches on strings.
func ActivationByName(name string) (Activation, error) {
	switch name {
	case "elu":
		return ad.Elu, nil
	case "relu":
		return ad.Relu, nil
	case "sigmoid":
		return ad.Sigmoid, nil
	case "tanh":
		return ad.Tanh, nil
	case "linear", "":
		return func(t *ad.Tensor) *ad.Tensor { return t }, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownActivation, name)
	}
}

package models

import (
	"fmt"
	"math"
)

// Activation names.
const (
	ActivationLinear  = "linear"
	ActivationReLU    = "relu"
	ActivationSigmoid = "sigmoid"
	ActivationTanh    = "tanh"
)

// DenseLayer is a fully connected layer. Weights are [in][out].
type DenseLayer struct {
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	Activation string      `json:"activation"`
}

// Autoencoder is a stack of dense layers whose output reconstructs its input.
type Autoencoder struct {
	Layers []DenseLayer `json:"layers"`
}

// Validate checks that layer shapes chain and the output matches the input.
func (a *Autoencoder) Validate() error {
	if len(a.Layers) == 0 {
		return fmt.Errorf("autoencoder: no layers")
	}
	in := len(a.Layers[0].Weights)
	width := in
	for i, l := range a.Layers {
		if len(l.Weights) != width {
			return fmt.Errorf("autoencoder layer %d: expects %d inputs, previous width %d", i, len(l.Weights), width)
		}
		out := len(l.Bias)
		for r, row := range l.Weights {
			if len(row) != out {
				return fmt.Errorf("autoencoder layer %d row %d: %d outputs, bias has %d", i, r, len(row), out)
			}
		}
		switch l.Activation {
		case ActivationLinear, ActivationReLU, ActivationSigmoid, ActivationTanh, "":
		default:
			return fmt.Errorf("autoencoder layer %d: unknown activation %q", i, l.Activation)
		}
		width = out
	}
	if width != in {
		return fmt.Errorf("autoencoder: output width %d does not match input width %d", width, in)
	}
	return nil
}

// Dim returns the expected vector length.
func (a *Autoencoder) Dim() int {
	return len(a.Layers[0].Weights)
}

// Reconstruct runs the forward pass.
func (a *Autoencoder) Reconstruct(x []float64) ([]float64, error) {
	if err := checkDim("autoencoder", a.Dim(), x); err != nil {
		return nil, err
	}
	h := x
	for _, l := range a.Layers {
		next := make([]float64, len(l.Bias))
		copy(next, l.Bias)
		for i, xi := range h {
			for j, w := range l.Weights[i] {
				next[j] += xi * w
			}
		}
		for j := range next {
			next[j] = activate(l.Activation, next[j])
		}
		h = next
	}
	return h, nil
}

// ReconstructionError returns the mean squared error between x and its
// reconstruction.
func (a *Autoencoder) ReconstructionError(x []float64) (float64, error) {
	r, err := a.Reconstruct(x)
	if err != nil {
		return 0, err
	}
	return squaredDistance(x, r) / float64(len(x)), nil
}

func activate(name string, v float64) float64 {
	switch name {
	case ActivationReLU:
		return math.Max(0, v)
	case ActivationSigmoid:
		return sigmoid(v)
	case ActivationTanh:
		return math.Tanh(v)
	default:
		return v
	}
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

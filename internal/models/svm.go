package models

import (
	"fmt"
	"math"
)

// Kernel names.
const (
	KernelRBF     = "rbf"
	KernelLinear  = "linear"
	KernelPoly    = "poly"
	KernelSigmoid = "sigmoid"
)

// OneClassSVM is a fitted one-class SVM:
// decision(x) = sum_i dualCoef[i] * K(sv[i], x) + intercept.
type OneClassSVM struct {
	Kernel         string      `json:"kernel"`
	Gamma          float64     `json:"gamma"`
	Coef0          float64     `json:"coef0"`
	Degree         int         `json:"degree"`
	SupportVectors [][]float64 `json:"supportVectors"`
	DualCoef       []float64   `json:"dualCoef"`
	Intercept      float64     `json:"intercept"`
}

// Validate checks dimensions and kernel parameters.
func (m *OneClassSVM) Validate() error {
	if len(m.SupportVectors) == 0 || len(m.SupportVectors) != len(m.DualCoef) {
		return fmt.Errorf("one-class svm: %d support vectors, %d coefficients", len(m.SupportVectors), len(m.DualCoef))
	}
	d := len(m.SupportVectors[0])
	for i, sv := range m.SupportVectors {
		if len(sv) != d {
			return fmt.Errorf("one-class svm: support vector %d has %d features, want %d", i, len(sv), d)
		}
	}
	switch m.Kernel {
	case KernelRBF, KernelLinear, KernelSigmoid:
	case KernelPoly:
		if m.Degree <= 0 {
			return fmt.Errorf("one-class svm: poly kernel needs degree > 0")
		}
	default:
		return fmt.Errorf("one-class svm: unknown kernel %q", m.Kernel)
	}
	return nil
}

// Dim returns the expected vector length.
func (m *OneClassSVM) Dim() int {
	return len(m.SupportVectors[0])
}

// Decision returns the signed distance to the separating boundary.
func (m *OneClassSVM) Decision(x []float64) (float64, error) {
	if err := checkDim("one-class svm", m.Dim(), x); err != nil {
		return 0, err
	}
	sum := m.Intercept
	for i, sv := range m.SupportVectors {
		sum += m.DualCoef[i] * m.kernel(sv, x)
	}
	return sum, nil
}

// Predict implements LabelModel. Points on the boundary are outliers.
func (m *OneClassSVM) Predict(x []float64) (int, error) {
	d, err := m.Decision(x)
	if err != nil {
		return 0, err
	}
	if d > 0 {
		return LabelInlier, nil
	}
	return LabelOutlier, nil
}

func (m *OneClassSVM) kernel(a, b []float64) float64 {
	switch m.Kernel {
	case KernelLinear:
		return dot(a, b)
	case KernelPoly:
		return math.Pow(m.Gamma*dot(a, b)+m.Coef0, float64(m.Degree))
	case KernelSigmoid:
		return math.Tanh(m.Gamma*dot(a, b) + m.Coef0)
	default:
		return math.Exp(-m.Gamma * squaredDistance(a, b))
	}
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func squaredDistance(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

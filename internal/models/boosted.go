package models

import (
	"fmt"
	"math"
)

// BoostedNode is a node of a gradient-boosted regression tree.
// A split sends x[Feature] < Threshold to Yes, otherwise No, and NaN to Missing.
type BoostedNode struct {
	Leaf      bool    `json:"leaf"`
	Value     float64 `json:"value,omitempty"`
	Feature   int     `json:"feature,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Yes       int     `json:"yes,omitempty"`
	No        int     `json:"no,omitempty"`
	Missing   int     `json:"missing,omitempty"`
}

// BoostedTree is one tree; node 0 is the root.
type BoostedTree struct {
	Nodes []BoostedNode `json:"nodes"`
}

// BoostedClassifier is a binary logistic tree ensemble.
// p(class 1) = sigmoid(BaseMargin + sum of leaf values).
type BoostedClassifier struct {
	Features   []string      `json:"features"`
	BaseMargin float64       `json:"baseMargin"`
	Trees      []BoostedTree `json:"trees"`
}

// Validate checks tree structure.
func (b *BoostedClassifier) Validate() error {
	if len(b.Features) == 0 || len(b.Trees) == 0 {
		return fmt.Errorf("boosted classifier: features and trees are required")
	}
	for ti, t := range b.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("boosted tree %d: empty", ti)
		}
		for i, n := range t.Nodes {
			if n.Leaf {
				continue
			}
			if n.Feature < 0 || n.Feature >= len(b.Features) {
				return fmt.Errorf("boosted tree %d node %d: feature %d out of range", ti, i, n.Feature)
			}
			for _, c := range []int{n.Yes, n.No, n.Missing} {
				if c <= i || c >= len(t.Nodes) {
					return fmt.Errorf("boosted tree %d node %d: invalid child %d", ti, i, c)
				}
			}
		}
	}
	return nil
}

// Dim returns the expected vector length.
func (b *BoostedClassifier) Dim() int {
	return len(b.Features)
}

// PredictProba implements Classifier.
func (b *BoostedClassifier) PredictProba(x []float64) (float64, error) {
	if err := checkDim("boosted classifier", b.Dim(), x); err != nil {
		return 0, err
	}
	margin := b.BaseMargin
	for _, t := range b.Trees {
		margin += leafValue(t.Nodes, x)
	}
	return sigmoid(margin), nil
}

func leafValue(nodes []BoostedNode, x []float64) float64 {
	i := 0
	for !nodes[i].Leaf {
		n := nodes[i]
		v := x[n.Feature]
		switch {
		case math.IsNaN(v):
			i = n.Missing
		case v < n.Threshold:
			i = n.Yes
		default:
			i = n.No
		}
	}
	return nodes[i].Value
}

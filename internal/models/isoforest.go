package models

import (
	"fmt"
	"math"
)

// Anomaly labels shared by the isolation forest and the one-class SVM.
const (
	LabelInlier  = 1
	LabelOutlier = -1
)

// eulerGamma is the Euler–Mascheroni constant used in average path lengths.
const eulerGamma = 0.5772156649015329

// TreeNode is a binary split node. Leaves have Left == -1.
type TreeNode struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Samples   int     `json:"samples"`
}

// IsolationTree is one tree of the forest; node 0 is the root.
type IsolationTree struct {
	Nodes []TreeNode `json:"nodes"`
}

// IsolationForest is a fitted isolation forest.
// decision = score - Offset; a negative decision is an outlier.
type IsolationForest struct {
	NFeatures  int             `json:"nFeatures"`
	MaxSamples int             `json:"maxSamples"`
	Offset     float64         `json:"offset"`
	Trees      []IsolationTree `json:"trees"`
}

// Validate checks tree structure and bounds.
func (f *IsolationForest) Validate() error {
	if f.NFeatures <= 0 || f.MaxSamples <= 0 || len(f.Trees) == 0 {
		return fmt.Errorf("isolation forest: nFeatures, maxSamples and trees are required")
	}
	for ti, t := range f.Trees {
		if err := validateNodes(t.Nodes, f.NFeatures); err != nil {
			return fmt.Errorf("isolation forest tree %d: %w", ti, err)
		}
	}
	return nil
}

func validateNodes(nodes []TreeNode, nFeatures int) error {
	if len(nodes) == 0 {
		return fmt.Errorf("empty tree")
	}
	for i, n := range nodes {
		if n.Left == -1 {
			continue
		}
		if n.Feature < 0 || n.Feature >= nFeatures {
			return fmt.Errorf("node %d: feature %d out of range", i, n.Feature)
		}
		// Children always follow their parent, so traversal terminates.
		if n.Left <= i || n.Right <= i || n.Left >= len(nodes) || n.Right >= len(nodes) {
			return fmt.Errorf("node %d: invalid children %d/%d", i, n.Left, n.Right)
		}
	}
	return nil
}

// Score returns the anomaly score in (-1, 0); lower is more anomalous.
func (f *IsolationForest) Score(x []float64) (float64, error) {
	if err := checkDim("isolation forest", f.NFeatures, x); err != nil {
		return 0, err
	}
	var depthSum float64
	for _, t := range f.Trees {
		depthSum += pathLength(t.Nodes, x)
	}
	mean := depthSum / float64(len(f.Trees))
	return -math.Pow(2, -mean/averagePathLength(f.MaxSamples)), nil
}

// Predict implements LabelModel.
func (f *IsolationForest) Predict(x []float64) (int, error) {
	s, err := f.Score(x)
	if err != nil {
		return 0, err
	}
	if s-f.Offset < 0 {
		return LabelOutlier, nil
	}
	return LabelInlier, nil
}

func pathLength(nodes []TreeNode, x []float64) float64 {
	i, depth := 0, 0.0
	for nodes[i].Left != -1 {
		if x[nodes[i].Feature] <= nodes[i].Threshold {
			i = nodes[i].Left
		} else {
			i = nodes[i].Right
		}
		depth++
	}
	return depth + averagePathLength(nodes[i].Samples)
}

// averagePathLength is the expected path length of an unsuccessful
// search in a binary search tree of n samples.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

package models

import (
	"fmt"
	"math"
)

// KMeans holds fitted cluster centroids.
type KMeans struct {
	Centroids [][]float64 `json:"centroids"`
}

// Validate checks centroid shapes.
func (k *KMeans) Validate() error {
	if len(k.Centroids) == 0 {
		return fmt.Errorf("kmeans: no centroids")
	}
	d := len(k.Centroids[0])
	for i, c := range k.Centroids {
		if len(c) != d || d == 0 {
			return fmt.Errorf("kmeans: centroid %d has %d features, want %d", i, len(c), d)
		}
	}
	return nil
}

// Dim returns the expected vector length.
func (k *KMeans) Dim() int {
	return len(k.Centroids[0])
}

// Assign returns the nearest centroid and the Euclidean distance to it.
// Ties go to the lowest index.
func (k *KMeans) Assign(x []float64) (int, float64, error) {
	if err := checkDim("kmeans", k.Dim(), x); err != nil {
		return 0, 0, err
	}
	best, bestDist := 0, math.Inf(1)
	for i, c := range k.Centroids {
		if d := squaredDistance(c, x); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, math.Sqrt(bestDist), nil
}

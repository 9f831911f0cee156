// Package segmentation classifies brain tissue by intensity with K-means.
package segmentation

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ErrNoSamples is returned when there is nothing to cluster.
var ErrNoSamples = errors.New("no samples to cluster")

// Clustering is the result of a 1-D K-means run.
type Clustering struct {
	// Labels holds the cluster of each input value
	Labels []int

	// Centroids are the cluster centres in input units
	Centroids []float64

	// Iterations is the number of assignment passes performed
	Iterations int
}

// KMeans1D clusters scalar values into k groups with Lloyd's algorithm.
// Centres start at the (i+0.5)/k quantiles of the data so that the result is
// deterministic. A cluster that loses all its members keeps its centre.
func KMeans1D(values []float64, k, maxIterations int) (*Clustering, error) {
	if len(values) == 0 {
		return nil, ErrNoSamples
	}
	if k < 1 {
		return nil, fmt.Errorf("cluster count must be at least 1, got %d", k)
	}
	if maxIterations < 1 {
		maxIterations = 1
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	centroids := make([]float64, k)
	for i := range centroids {
		centroids[i] = stat.Quantile((float64(i)+0.5)/float64(k), stat.Empirical, sorted, nil)
	}

	labels := make([]int, len(values))
	for i := range labels {
		labels[i] = -1
	}
	sums := make([]float64, k)
	counts := make([]int, k)

	iterations := 0
	for iterations < maxIterations {
		iterations++

		changed := false
		for i := range sums {
			sums[i], counts[i] = 0, 0
		}
		for i, v := range values {
			c := nearest(centroids, v)
			if c != labels[i] {
				labels[i] = c
				changed = true
			}
			sums[c] += v
			counts[c]++
		}
		if !changed {
			break
		}
		for c := range centroids {
			if counts[c] > 0 {
				centroids[c] = sums[c] / float64(counts[c])
			}
		}
	}

	return &Clustering{Labels: labels, Centroids: centroids, Iterations: iterations}, nil
}

// nearest returns the index of the closest centre, the lowest index on ties.
func nearest(centroids []float64, v float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, m := range centroids {
		if d := math.Abs(v - m); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

package aggregate

import (
	"fmt"
	"math"

	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
)

// Clusterer groups points into k clusters and returns one cluster index
// per input point. Strategies are selected at configuration time, never
// probed at runtime.
type Clusterer interface {
	Cluster(points [][]float64, k int) ([]int, error)
}

// KMeansClusterer is the library-backed strategy built on
// github.com/muesli/kmeans.
type KMeansClusterer struct{}

// Cluster partitions points into k clusters. Assignments are derived by
// nearest final center, which keeps the mapping deterministic even though
// the library shuffles its internal iteration order.
func (KMeansClusterer) Cluster(points [][]float64, k int) ([]int, error) {
	if err := validateClusterInput(points, k); err != nil {
		return nil, err
	}

	obs := make(clusters.Observations, len(points))
	for i, p := range points {
		obs[i] = clusters.Coordinates(p)
	}

	km := kmeans.New()
	partition, err := km.Partition(obs, k)
	if err != nil {
		return nil, fmt.Errorf("kmeans partition: %w", err)
	}

	centers := make([][]float64, len(partition))
	for i, c := range partition {
		centers[i] = c.Center
	}
	return assignNearest(points, centers), nil
}

// LloydClusterer is the from-scratch fallback strategy: deterministic
// Lloyd's algorithm with evenly spaced initial centers.
type LloydClusterer struct {
	// MaxIterations bounds the assign/update loop. Defaults to 100.
	MaxIterations int
}

// Cluster runs Lloyd's algorithm until assignments stabilize or the
// iteration limit is hit. Same input always yields the same assignments.
func (l LloydClusterer) Cluster(points [][]float64, k int) ([]int, error) {
	if err := validateClusterInput(points, k); err != nil {
		return nil, err
	}

	maxIter := l.MaxIterations
	if maxIter <= 0 {
		maxIter = 100
	}

	// Evenly spaced seeds over input order avoid any RNG dependence.
	centers := make([][]float64, k)
	for i := 0; i < k; i++ {
		src := points[i*len(points)/k]
		centers[i] = append([]float64(nil), src...)
	}

	assignments := assignNearest(points, centers)
	for iter := 0; iter < maxIter; iter++ {
		centers = recomputeCenters(points, assignments, centers, k)
		next := assignNearest(points, centers)
		if equalAssignments(assignments, next) {
			break
		}
		assignments = next
	}
	return assignments, nil
}

func validateClusterInput(points [][]float64, k int) error {
	if k <= 0 {
		return fmt.Errorf("cluster count must be positive, got %d", k)
	}
	if len(points) < k {
		return fmt.Errorf("cannot form %d clusters from %d points", k, len(points))
	}
	return nil
}

// assignNearest maps each point to the index of its nearest center,
// breaking ties toward the lower index.
func assignNearest(points, centers [][]float64) []int {
	out := make([]int, len(points))
	for i, p := range points {
		best := 0
		bestDist := math.Inf(1)
		for c, center := range centers {
			d := squaredDistance(p, center)
			if d < bestDist {
				bestDist = d
				best = c
			}
		}
		out[i] = best
	}
	return out
}

// recomputeCenters replaces each center with the mean of its assigned
// points. Empty clusters keep their previous center.
func recomputeCenters(points [][]float64, assignments []int, prev [][]float64, k int) [][]float64 {
	dim := len(points[0])
	sums := make([][]float64, k)
	counts := make([]int, k)
	for i := range sums {
		sums[i] = make([]float64, dim)
	}
	for i, p := range points {
		c := assignments[i]
		counts[c]++
		for d, v := range p {
			sums[c][d] += v
		}
	}

	centers := make([][]float64, k)
	for c := 0; c < k; c++ {
		if counts[c] == 0 {
			centers[c] = prev[c]
			continue
		}
		center := make([]float64, dim)
		for d := range center {
			center[d] = sums[c][d] / float64(counts[c])
		}
		centers[c] = center
	}
	return centers
}

func squaredDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return sum
}

func equalAssignments(a, b []int) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

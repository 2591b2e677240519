// Package aggregate merges noisy per-image color extractions into one
// deduplicated, provenance-tracked token library using perceptual color
// distance. Spacing aggregation lives in the spacing package; this one is
// purely about color.
package aggregate

import (
	"fmt"

	"github.com/lucasb-eyer/go-colorful"
)

// Metric selects the perceptual distance function used for
// deduplication.
type Metric string

const (
	// MetricCIEDE2000 is the full CIEDE2000 formula with its SL/SC/SH
	// weighting functions and hue-rotation term.
	MetricCIEDE2000 Metric = "ciede2000"
	// MetricLab is plain Euclidean distance in CIE Lab space, a cheaper
	// approximation for large batches.
	MetricLab Metric = "lab"
)

// go-colorful normalizes L* to [0,1]; conventional Delta-E thresholds
// assume L* in [0,100], so distances are scaled back up.
const deltaEScale = 100.0

// Distance computes the perceptual distance between two colors in
// conventional Delta-E units. It is symmetric and zero for identical
// colors.
func (m Metric) Distance(a, b colorful.Color) float64 {
	switch m {
	case MetricLab:
		return a.DistanceLab(b) * deltaEScale
	default:
		return a.DistanceCIEDE2000(b) * deltaEScale
	}
}

// DeltaE computes the CIEDE2000 distance between two hex color strings.
func DeltaE(hexA, hexB string) (float64, error) {
	a, err := colorful.Hex(hexA)
	if err != nil {
		return 0, fmt.Errorf("parsing color %q: %w", hexA, err)
	}
	b, err := colorful.Hex(hexB)
	if err != nil {
		return 0, fmt.Errorf("parsing color %q: %w", hexB, err)
	}
	return MetricCIEDE2000.Distance(a, b), nil
}

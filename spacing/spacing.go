// Package spacing merges per-image spacing extractions into a
// deduplicated scale. Spacing values are scalar pixels, so similarity is
// percentage difference rather than perceptual distance; after
// aggregation the package detects which scale system the values follow
// and assigns semantic role labels by position.
package spacing

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/paletteops/tokenflow/token"
)

// AggregatedSpacing is one deduplicated spacing value. Value is the
// rounded average of every raw observation merged into it; RawValues
// retains the originals.
type AggregatedSpacing struct {
	ID         string             `json:"id"`
	Value      float64            `json:"value"`
	RawValues  []float64          `json:"raw_values"`
	Name       string             `json:"name"`
	Confidence float64            `json:"confidence"`
	Role       string             `json:"role,omitempty"`
	Provenance map[string]float64 `json:"provenance"`
}

// ScaleSystem identifies the spacing scale the aggregated values follow.
type ScaleSystem string

const (
	Scale4pt       ScaleSystem = "4pt"
	Scale8pt       ScaleSystem = "8pt"
	ScaleFibonacci ScaleSystem = "fibonacci"
	ScaleGolden    ScaleSystem = "golden-ratio"
	ScaleCustom    ScaleSystem = "custom"
)

// Stats summarizes one spacing aggregation run.
type Stats struct {
	UniqueValues int         `json:"unique_values"`
	ImageCount   int         `json:"image_count"`
	Scale        ScaleSystem `json:"scale"`
}

// Result is the output of one aggregation run.
type Result struct {
	Values []AggregatedSpacing `json:"values"`
	Stats  Stats               `json:"stats"`
	// Skipped lists observations that could not be parsed as pixel
	// values; they are reported rather than silently dropped.
	Skipped []string `json:"skipped,omitempty"`
}

// Config holds the engine's tunables.
type Config struct {
	// ThresholdPercent is the maximum percentage difference at which two
	// values merge into one token. Defaults to 10.
	ThresholdPercent float64

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.ThresholdPercent <= 0 {
		c.ThresholdPercent = 10
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Engine deduplicates per-image spacing extractions.
type Engine struct {
	cfg Config
}

// NewEngine creates a spacing aggregation engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

// PercentDiff returns the percentage difference between two values,
// |a-b| / max(a,b) * 100. Two zeros are identical.
func PercentDiff(a, b float64) float64 {
	if a == b {
		return 0
	}
	return math.Abs(a-b) / math.Max(a, b) * 100
}

// Aggregate processes per-image token lists in image order (batch i owns
// image id "image_i"). An observation merges into the closest existing
// entry within ThresholdPercent; ties and ordering quirks of a
// first-match policy are avoided by always selecting the minimum
// percentage difference.
func (e *Engine) Aggregate(batches [][]token.TokenResult) (*Result, error) {
	var values []*AggregatedSpacing
	var skipped []string
	nextID := 0

	for i, batch := range batches {
		imageID := fmt.Sprintf("image_%d", i)
		for _, tok := range batch {
			px, err := pixelsFrom(tok)
			if err != nil {
				e.cfg.Logger.Warn("skipping unparsable spacing token",
					"image", imageID, "token", tok.Name, "error", err)
				skipped = append(skipped, fmt.Sprintf("%s/%s: %v", imageID, tok.Name, err))
				continue
			}

			match := e.closest(values, px)
			if match != nil {
				e.merge(match, tok, px, imageID)
				continue
			}

			entry := &AggregatedSpacing{
				ID:         fmt.Sprintf("spacing_%d", nextID),
				Value:      math.Round(px),
				RawValues:  []float64{px},
				Name:       tok.Name,
				Confidence: tok.Confidence,
				Provenance: map[string]float64{imageID: tok.Confidence},
			}
			nextID++
			values = append(values, entry)
		}
	}

	sort.Slice(values, func(i, j int) bool { return values[i].Value < values[j].Value })
	assignRoles(values)

	out := &Result{
		Values:  make([]AggregatedSpacing, len(values)),
		Skipped: skipped,
	}
	for i, v := range values {
		out.Values[i] = *v
	}
	out.Stats = Stats{
		UniqueValues: len(values),
		ImageCount:   len(batches),
		Scale:        DetectScale(sortedUnique(values)),
	}
	return out, nil
}

// closest returns the entry with the minimum percentage difference to px,
// or nil when none is within the threshold.
func (e *Engine) closest(values []*AggregatedSpacing, px float64) *AggregatedSpacing {
	var best *AggregatedSpacing
	bestDiff := e.cfg.ThresholdPercent
	for _, v := range values {
		if d := PercentDiff(v.Value, px); d <= bestDiff {
			if best == nil || d < bestDiff {
				bestDiff = d
				best = v
			}
		}
	}
	return best
}

// merge folds an observation into an existing entry: raw values are
// retained, the survivor becomes their rounded average, provenance
// accumulates, and the higher-confidence observation names the token.
func (e *Engine) merge(entry *AggregatedSpacing, tok token.TokenResult, px float64, imageID string) {
	entry.RawValues = append(entry.RawValues, px)
	var sum float64
	for _, v := range entry.RawValues {
		sum += v
	}
	entry.Value = math.Round(sum / float64(len(entry.RawValues)))

	if prev, ok := entry.Provenance[imageID]; !ok || tok.Confidence > prev {
		entry.Provenance[imageID] = tok.Confidence
	}
	if tok.Confidence > entry.Confidence {
		entry.Confidence = tok.Confidence
		if tok.Name != "" {
			entry.Name = tok.Name
		}
	}
}

// shortRoles and positionalRoles label a sorted scale by position.
var (
	shortRoles      = []string{"small", "base", "large"}
	positionalRoles = []string{"xs", "sm", "md", "lg", "xl", "2xl", "3xl"}
)

func assignRoles(values []*AggregatedSpacing) {
	n := len(values)
	switch {
	case n == 0:
	case n <= 3:
		// Very short scales read better as small/base/large.
		offset := 0
		if n == 1 {
			offset = 1 // a single value is the base
		}
		for i, v := range values {
			v.Role = shortRoles[offset+i]
		}
	default:
		for i, v := range values {
			if i < len(positionalRoles) {
				v.Role = positionalRoles[i]
			} else {
				v.Role = fmt.Sprintf("%dxl", i-len(positionalRoles)+4)
			}
		}
	}
	for _, v := range values {
		if v.Name == "" {
			v.Name = v.Role
		}
	}
}

// fibSet holds the Fibonacci values plausible as pixel spacings.
var fibSet = map[float64]bool{
	1: true, 2: true, 3: true, 5: true, 8: true, 13: true,
	21: true, 34: true, 55: true, 89: true, 144: true,
}

const goldenRatio = 1.618

// DetectScale inspects the sorted unique spacing values and names the
// scale system they follow. Divisibility checks run before ratio checks
// so an 8pt grid is not misread as custom.
func DetectScale(values []float64) ScaleSystem {
	if len(values) == 0 {
		return ScaleCustom
	}

	if allDivisibleBy(values, 8) {
		return Scale8pt
	}
	if allDivisibleBy(values, 4) {
		return Scale4pt
	}
	if allFibonacci(values) {
		return ScaleFibonacci
	}
	if len(values) >= 2 && allGoldenRatio(values) {
		return ScaleGolden
	}
	return ScaleCustom
}

func allDivisibleBy(values []float64, n float64) bool {
	for _, v := range values {
		if v <= 0 || math.Mod(v, n) != 0 {
			return false
		}
	}
	return true
}

func allFibonacci(values []float64) bool {
	for _, v := range values {
		if !fibSet[v] {
			return false
		}
	}
	return true
}

func allGoldenRatio(values []float64) bool {
	for i := 1; i < len(values); i++ {
		if values[i-1] <= 0 {
			return false
		}
		ratio := values[i] / values[i-1]
		if math.Abs(ratio-goldenRatio)/goldenRatio > 0.05 {
			return false
		}
	}
	return true
}

func sortedUnique(values []*AggregatedSpacing) []float64 {
	seen := make(map[float64]bool, len(values))
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !seen[v.Value] {
			seen[v.Value] = true
			out = append(out, v.Value)
		}
	}
	sort.Float64s(out)
	return out
}

// TokenResults converts the result into the pipeline's token form.
func (r *Result) TokenResults() []token.TokenResult {
	out := make([]token.TokenResult, 0, len(r.Values))
	for _, v := range r.Values {
		prov := make(map[string]any, len(v.Provenance))
		for k, c := range v.Provenance {
			prov[k] = c
		}
		out = append(out, token.TokenResult{
			Type:       token.TypeSpacing,
			Name:       v.Name,
			Path:       []string{"spacing", v.Role},
			W3CType:    token.W3CDimension,
			Value:      fmt.Sprintf("%gpx", v.Value),
			Confidence: v.Confidence,
			Metadata: map[string]any{
				"role":       v.Role,
				"raw_values": v.RawValues,
				"provenance": prov,
				"scale":      string(r.Stats.Scale),
			},
		})
	}
	return out
}

// pixelsFrom parses a token's value into pixels. Numeric values are used
// directly; strings may carry a "px" suffix.
func pixelsFrom(tok token.TokenResult) (float64, error) {
	switch v := tok.Value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		s := strings.TrimSuffix(strings.TrimSpace(v), "px")
		px, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("token %q: invalid pixel value %q", tok.Name, v)
		}
		return px, nil
	case map[string]any:
		if px, ok := v["px"].(float64); ok {
			return px, nil
		}
	}
	return 0, fmt.Errorf("token %q has no pixel value", tok.Name)
}

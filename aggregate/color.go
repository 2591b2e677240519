package aggregate

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/paletteops/tokenflow/token"
)

// RGB is an 8-bit-per-channel color triple.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// AggregatedColor is one deduplicated color in the output library, owned
// by the engine during a single run. Provenance maps contributing image
// id to the confidence that image reported.
type AggregatedColor struct {
	ID          string             `json:"id"`
	Hex         string             `json:"hex"`
	RGB         RGB                `json:"rgb"`
	Name        string             `json:"name"`
	Confidence  float64            `json:"confidence"`
	Harmony     string             `json:"harmony,omitempty"`
	Temperature string             `json:"temperature,omitempty"`
	Role        string             `json:"role,omitempty"`
	Provenance  map[string]float64 `json:"provenance"`
	ClusterSize int                `json:"cluster_size,omitempty"`

	color colorful.Color
}

// Stats summarizes one aggregation run.
type Stats struct {
	UniqueColors   int      `json:"unique_colors"`
	ImageCount     int      `json:"image_count"`
	MinConfidence  float64  `json:"min_confidence"`
	AvgConfidence  float64  `json:"avg_confidence"`
	MaxConfidence  float64  `json:"max_confidence"`
	DominantColors []string `json:"dominant_colors"`
	MultiImage     int      `json:"multi_image"`
}

// Library is the result of one aggregation run: the deduplicated colors,
// run statistics, and the full provenance trails keyed by token id.
type Library struct {
	Colors     []AggregatedColor             `json:"colors"`
	Stats      Stats                         `json:"stats"`
	Provenance map[string][]ProvenanceRecord `json:"provenance,omitempty"`
	// Skipped lists observations that could not be parsed as colors.
	// They are reported rather than silently dropped.
	Skipped []string `json:"skipped,omitempty"`
}

// Config holds the engine's tunables.
type Config struct {
	// DeltaEThreshold is the perceptual distance below which two
	// observations merge into one token. Defaults to 5.0 Delta-E units.
	DeltaEThreshold float64

	// Metric selects CIEDE2000 or the cheaper Lab Euclidean fallback.
	Metric Metric

	// Clusterer, when set together with ClusterCount, groups the final
	// library and keeps the highest-confidence representative per group.
	Clusterer    Clusterer
	ClusterCount int

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.DeltaEThreshold <= 0 {
		c.DeltaEThreshold = 5.0
	}
	if c.Metric == "" {
		c.Metric = MetricCIEDE2000
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Engine deduplicates per-image color extractions into one library.
type Engine struct {
	cfg Config
}

// NewEngine creates a color aggregation engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

// Aggregate processes per-image token lists in image order (0-indexed, so
// batch i owns image id "image_i") and returns the deduplicated library.
// An observation within DeltaEThreshold of an existing entry merges into
// it: provenance accumulates unconditionally, and the higher-confidence
// observation's display attributes win.
func (e *Engine) Aggregate(batches [][]token.TokenResult) (*Library, error) {
	tracker := NewTracker()
	var library []*AggregatedColor
	var skipped []string
	nextID := 0

	for i, batch := range batches {
		imageID := fmt.Sprintf("image_%d", i)
		for _, tok := range batch {
			obs, err := observationFrom(tok)
			if err != nil {
				e.cfg.Logger.Warn("skipping unparsable color token",
					"image", imageID, "token", tok.Name, "error", err)
				skipped = append(skipped, fmt.Sprintf("%s/%s: %v", imageID, tok.Name, err))
				continue
			}

			match := e.closest(library, obs.color)
			if match != nil {
				e.merge(match, obs, imageID)
				tracker.Record(match.ID, imageID, obs.confidence, tok.Metadata)
				continue
			}

			entry := &AggregatedColor{
				ID:          fmt.Sprintf("color_%d", nextID),
				Hex:         obs.hex,
				RGB:         obs.rgb,
				Name:        obs.name,
				Confidence:  obs.confidence,
				Harmony:     obs.harmony,
				Temperature: obs.temperature,
				Provenance:  map[string]float64{imageID: obs.confidence},
				color:       obs.color,
			}
			nextID++
			library = append(library, entry)
			tracker.Record(entry.ID, imageID, obs.confidence, tok.Metadata)
		}
	}

	if e.cfg.Clusterer != nil && e.cfg.ClusterCount > 0 && len(library) > e.cfg.ClusterCount {
		clustered, err := e.cluster(library, tracker)
		if err != nil {
			return nil, token.NewAggregationError("clustering failed",
				map[string]any{"colors": len(library), "clusters": e.cfg.ClusterCount}, err)
		}
		library = clustered
	}

	out := &Library{
		Colors:     make([]AggregatedColor, len(library)),
		Provenance: tracker.All(),
		Skipped:    skipped,
	}
	for i, c := range library {
		out.Colors[i] = *c
	}
	out.Stats = computeStats(out.Colors, len(batches))
	return out, nil
}

// closest returns the library entry with the minimum perceptual distance
// to c, or nil when no entry is within the threshold.
func (e *Engine) closest(library []*AggregatedColor, c colorful.Color) *AggregatedColor {
	var best *AggregatedColor
	bestDist := e.cfg.DeltaEThreshold
	for _, entry := range library {
		if d := e.cfg.Metric.Distance(entry.color, c); d < bestDist {
			bestDist = d
			best = entry
		}
	}
	return best
}

// merge folds an observation into an existing entry. Provenance always
// accumulates; display attributes follow the higher confidence. When the
// same image contributes twice, its higher confidence is kept.
func (e *Engine) merge(entry *AggregatedColor, obs observation, imageID string) {
	if prev, ok := entry.Provenance[imageID]; !ok || obs.confidence > prev {
		entry.Provenance[imageID] = obs.confidence
	}
	if obs.confidence > entry.Confidence {
		entry.Hex = obs.hex
		entry.RGB = obs.rgb
		entry.Name = obs.name
		entry.Harmony = obs.harmony
		entry.Temperature = obs.temperature
		entry.Confidence = obs.confidence
		entry.color = obs.color
	}
}

// cluster groups the library in RGB space and keeps one representative
// (highest confidence) per cluster. Collapsed entries merge their
// provenance into the survivor so no contribution is lost.
func (e *Engine) cluster(library []*AggregatedColor, tracker *Tracker) ([]*AggregatedColor, error) {
	points := make([][]float64, len(library))
	for i, c := range library {
		points[i] = []float64{float64(c.RGB.R), float64(c.RGB.G), float64(c.RGB.B)}
	}

	assignments, err := e.cfg.Clusterer.Cluster(points, e.cfg.ClusterCount)
	if err != nil {
		return nil, err
	}

	groups := make(map[int][]*AggregatedColor)
	order := make([]int, 0, e.cfg.ClusterCount)
	for i, c := range library {
		g := assignments[i]
		if _, seen := groups[g]; !seen {
			order = append(order, g)
		}
		groups[g] = append(groups[g], c)
	}

	var out []*AggregatedColor
	for _, g := range order {
		members := groups[g]
		rep := members[0]
		for _, m := range members[1:] {
			if m.Confidence > rep.Confidence {
				rep = m
			}
		}
		for _, m := range members {
			if m == rep {
				continue
			}
			for imageID, conf := range m.Provenance {
				if prev, ok := rep.Provenance[imageID]; !ok || conf > prev {
					rep.Provenance[imageID] = conf
				}
			}
			tracker.Merge(rep.ID, m.ID)
		}
		rep.ClusterSize = len(members)
		out = append(out, rep)
	}
	return out, nil
}

func computeStats(colors []AggregatedColor, imageCount int) Stats {
	stats := Stats{
		UniqueColors: len(colors),
		ImageCount:   imageCount,
	}
	if len(colors) == 0 {
		return stats
	}

	stats.MinConfidence = colors[0].Confidence
	var sum float64
	for _, c := range colors {
		sum += c.Confidence
		if c.Confidence < stats.MinConfidence {
			stats.MinConfidence = c.Confidence
		}
		if c.Confidence > stats.MaxConfidence {
			stats.MaxConfidence = c.Confidence
		}
		if len(c.Provenance) > 1 {
			stats.MultiImage++
		}
	}
	stats.AvgConfidence = sum / float64(len(colors))

	ranked := make([]AggregatedColor, len(colors))
	copy(ranked, colors)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})
	top := 3
	if len(ranked) < top {
		top = len(ranked)
	}
	for _, c := range ranked[:top] {
		stats.DominantColors = append(stats.DominantColors, c.Hex)
	}
	return stats
}

// TokenResults converts the library into the pipeline's token form for
// the validate and generate stages.
func (l *Library) TokenResults() []token.TokenResult {
	out := make([]token.TokenResult, 0, len(l.Colors))
	for _, c := range l.Colors {
		prov := make(map[string]any, len(c.Provenance))
		for k, v := range c.Provenance {
			prov[k] = v
		}
		md := map[string]any{
			"rgb":        []int{int(c.RGB.R), int(c.RGB.G), int(c.RGB.B)},
			"provenance": prov,
		}
		if c.Harmony != "" {
			md["harmony"] = c.Harmony
		}
		if c.Temperature != "" {
			md["temperature"] = c.Temperature
		}
		if c.ClusterSize > 0 {
			md["cluster_size"] = c.ClusterSize
		}
		out = append(out, token.TokenResult{
			Type:       token.TypeColor,
			Name:       c.Name,
			Path:       []string{"color", c.Name},
			W3CType:    token.W3CColor,
			Value:      c.Hex,
			Confidence: c.Confidence,
			Metadata:   md,
		})
	}
	return out
}

// observation is a parsed color token ready for matching.
type observation struct {
	hex         string
	rgb         RGB
	name        string
	confidence  float64
	harmony     string
	temperature string
	color       colorful.Color
}

// observationFrom parses a token's value into a color observation. The
// value may be a hex string or a map carrying a "hex" entry.
func observationFrom(tok token.TokenResult) (observation, error) {
	var hex string
	switch v := tok.Value.(type) {
	case string:
		hex = v
	case map[string]any:
		hex, _ = v["hex"].(string)
	}
	if hex == "" {
		return observation{}, fmt.Errorf("token %q has no hex color value", tok.Name)
	}

	c, err := colorful.Hex(hex)
	if err != nil {
		return observation{}, fmt.Errorf("token %q: %w", tok.Name, err)
	}

	r, g, b := c.RGB255()
	name := tok.Name
	if name == "" {
		name = c.Hex()
	}
	return observation{
		hex:         strings.ToUpper(c.Hex()),
		rgb:         RGB{R: r, G: g, B: b},
		name:        name,
		confidence:  tok.Confidence,
		harmony:     tok.MetaString("harmony"),
		temperature: tok.MetaString("temperature"),
		color:       c,
	}, nil
}

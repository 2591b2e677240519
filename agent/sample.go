package agent

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/paletteops/tokenflow/token"
)

// SampleColorExtractor produces a deterministic palette derived from the
// task's image URL. It stands in for a vision backend in smoke runs and
// demos; the palette is stable for a given URL so repeated runs agree.
type SampleColorExtractor struct{}

// TokenType implements Extractor.
func (SampleColorExtractor) TokenType() token.TokenType { return token.TypeColor }

// Extract implements Extractor.
func (SampleColorExtractor) Extract(_ context.Context, task token.PipelineTask) ([]token.TokenResult, error) {
	seed := urlSeed(task.ImageURL)
	names := []string{"primary", "secondary", "accent"}
	out := make([]token.TokenResult, 0, len(names))
	for i, name := range names {
		h := seed + uint32(i)*0x9E3779B9
		out = append(out, token.TokenResult{
			Type:       token.TypeColor,
			Name:       name,
			Value:      fmt.Sprintf("#%06X", h&0xFFFFFF),
			Confidence: 0.9 - float64(i)*0.05,
		})
	}
	return out, nil
}

// SampleSpacingExtractor produces a deterministic spacing ramp on an 8pt
// grid, standing in for a layout-analysis backend in smoke runs.
type SampleSpacingExtractor struct{}

// TokenType implements Extractor.
func (SampleSpacingExtractor) TokenType() token.TokenType { return token.TypeSpacing }

// Extract implements Extractor.
func (SampleSpacingExtractor) Extract(_ context.Context, task token.PipelineTask) ([]token.TokenResult, error) {
	seed := urlSeed(task.ImageURL)
	steps := []float64{8, 16, 24, 32}
	out := make([]token.TokenResult, 0, len(steps))
	for i, px := range steps {
		out = append(out, token.TokenResult{
			Type:       token.TypeSpacing,
			Name:       fmt.Sprintf("space-%d", i+1),
			Value:      px,
			Confidence: 0.85 - float64(seed%10)*0.001,
		})
	}
	return out, nil
}

func urlSeed(url string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(url))
	return h.Sum32()
}

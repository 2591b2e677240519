package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/paletteops/tokenflow/aggregate"
	"github.com/paletteops/tokenflow/spacing"
	"github.com/paletteops/tokenflow/token"
)

// AggregatorAgent runs the aggregate stage: it rebuilds per-image
// batches from the extraction output carried in the task context, feeds
// colors and spacings through their engines, and passes other token
// types through untouched.
type AggregatorAgent struct {
	colors   *aggregate.Engine
	spacings *spacing.Engine
}

// NewAggregatorAgent creates the built-in aggregate-stage agent.
func NewAggregatorAgent(colors *aggregate.Engine, spacings *spacing.Engine) *AggregatorAgent {
	return &AggregatorAgent{colors: colors, spacings: spacings}
}

// Name returns the agent's identifier.
func (a *AggregatorAgent) Name() string { return "aggregator" }

// Process aggregates the extracted tokens from the task context.
func (a *AggregatorAgent) Process(_ context.Context, task token.PipelineTask) (*token.StageOutput, error) {
	extracted := token.TokensFromContext(task)

	colorBatches := batchByImage(extracted, token.TypeColor)
	spacingBatches := batchByImage(extracted, token.TypeSpacing)

	out := &token.StageOutput{}

	if len(colorBatches) > 0 {
		lib, err := a.colors.Aggregate(colorBatches)
		if err != nil {
			return nil, err
		}
		out.Tokens = append(out.Tokens, lib.TokenResults()...)
		for _, s := range lib.Skipped {
			out.Warnings = append(out.Warnings, "color aggregation skipped "+s)
		}
	}

	if len(spacingBatches) > 0 {
		res, err := a.spacings.Aggregate(spacingBatches)
		if err != nil {
			return nil, token.NewAggregationError("spacing aggregation failed",
				map[string]any{"task": task.ID}, err)
		}
		out.Tokens = append(out.Tokens, res.TokenResults()...)
		for _, s := range res.Skipped {
			out.Warnings = append(out.Warnings, "spacing aggregation skipped "+s)
		}
	}

	// Typography, shadows, and anything else pass through unaggregated.
	for _, tok := range extracted {
		if tok.Type != token.TypeColor && tok.Type != token.TypeSpacing {
			out.Tokens = append(out.Tokens, tok)
		}
	}

	return out, nil
}

// HealthCheck always reports healthy: aggregation has no upstream.
func (a *AggregatorAgent) HealthCheck(_ context.Context) error { return nil }

// batchByImage groups tokens of one type into per-image batches ordered
// by first appearance of each image id, which preserves image order for
// the 0-indexed aggregation engines.
func batchByImage(tokens []token.TokenResult, tt token.TokenType) [][]token.TokenResult {
	index := make(map[string]int)
	var batches [][]token.TokenResult
	for _, tok := range tokens {
		if tok.Type != tt {
			continue
		}
		imageID := tok.MetaString(token.MetaImageID)
		i, ok := index[imageID]
		if !ok {
			i = len(batches)
			index[imageID] = i
			batches = append(batches, nil)
		}
		batches[i] = append(batches[i], tok)
	}
	return batches
}

// ValidatorAgent runs the validate stage: structurally broken tokens are
// dropped with a warning so the drop is visible in the pipeline result,
// and confidence values are clamped into [0, 1].
type ValidatorAgent struct{}

// Name returns the agent's identifier.
func (ValidatorAgent) Name() string { return "validator" }

// Process validates the aggregated tokens from the task context.
func (ValidatorAgent) Process(_ context.Context, task token.PipelineTask) (*token.StageOutput, error) {
	input := token.TokensFromContext(task)
	out := &token.StageOutput{}

	for _, tok := range input {
		switch {
		case tok.Name == "":
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("validation dropped unnamed %s token", tok.Type))
			continue
		case tok.Value == nil:
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("validation dropped token %q: no value", tok.Name))
			continue
		}

		if tok.Confidence < 0 {
			tok.Confidence = 0
		} else if tok.Confidence > 1 {
			tok.Confidence = 1
		}
		out.Tokens = append(out.Tokens, tok)
	}

	if len(input) > 0 && len(out.Tokens) == 0 {
		return nil, token.NewValidationError("all tokens failed validation",
			map[string]any{"task": task.ID, "input": len(input)}, nil)
	}
	return out, nil
}

// HealthCheck always reports healthy.
func (ValidatorAgent) HealthCheck(_ context.Context) error { return nil }

// GeneratorAgent runs the generate stage: it normalizes token paths and
// orders the library deterministically for downstream format emitters.
// The emitters themselves (CSS/SCSS/React/W3C/Tailwind) live outside the
// core and consume the resulting token list.
type GeneratorAgent struct{}

// Name returns the agent's identifier.
func (GeneratorAgent) Name() string { return "generator" }

// Process finalizes the validated tokens from the task context.
func (GeneratorAgent) Process(_ context.Context, task token.PipelineTask) (*token.StageOutput, error) {
	input := token.TokensFromContext(task)

	out := make([]token.TokenResult, len(input))
	copy(out, input)
	for i := range out {
		if len(out[i].Path) == 0 {
			out[i].Path = []string{string(out[i].Type), out[i].Name}
		}
		if out[i].Reference == "" {
			out[i].Reference = strings.Join(out[i].Path, ".")
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Reference < out[j].Reference
	})

	return &token.StageOutput{Tokens: out}, nil
}

// HealthCheck always reports healthy.
func (GeneratorAgent) HealthCheck(_ context.Context) error { return nil }

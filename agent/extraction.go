package agent

import (
	"context"
	"fmt"

	"github.com/paletteops/tokenflow/token"
)

// ExtractionAgent adapts an Extractor capability into an Agent the
// coordinator can dispatch. One extraction agent exists per requested
// token type; the coordinator fans them out in parallel.
type ExtractionAgent struct {
	name      string
	extractor Extractor
}

// NewExtractionAgent wraps an extractor. The name appears in logs and in
// error reports, so give each token type a distinct one.
func NewExtractionAgent(name string, extractor Extractor) *ExtractionAgent {
	return &ExtractionAgent{name: name, extractor: extractor}
}

// Name returns the agent's identifier.
func (a *ExtractionAgent) Name() string { return a.name }

// TokenType returns the token category the wrapped extractor produces.
func (a *ExtractionAgent) TokenType() token.TokenType { return a.extractor.TokenType() }

// Process runs the extractor for the task. Tasks that did not request
// this agent's token type yield an empty output. Every produced token is
// tagged with the image it came from so aggregation can rebuild
// per-image batches.
func (a *ExtractionAgent) Process(ctx context.Context, task token.PipelineTask) (*token.StageOutput, error) {
	if !task.Wants(a.extractor.TokenType()) {
		return &token.StageOutput{}, nil
	}

	tokens, err := a.extractor.Extract(ctx, task)
	if err != nil {
		return nil, token.NewExtractionError(
			fmt.Sprintf("agent %q failed", a.name),
			map[string]any{"agent": a.name, "token_type": string(a.extractor.TokenType()), "task": task.ID},
			err,
		)
	}

	defaultImage := "image_0"
	if images := token.ImagesFromContext(task); len(images) > 0 {
		defaultImage = images[0].ID
	}
	for i := range tokens {
		if tokens[i].MetaString(token.MetaImageID) != "" {
			continue
		}
		if tokens[i].Metadata == nil {
			tokens[i].Metadata = map[string]any{}
		}
		tokens[i].Metadata[token.MetaImageID] = defaultImage
	}

	return &token.StageOutput{Tokens: tokens}, nil
}

// HealthCheck delegates to the extractor when it exposes a health probe.
func (a *ExtractionAgent) HealthCheck(ctx context.Context) error {
	if hc, ok := a.extractor.(interface{ HealthCheck(context.Context) error }); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// PreprocessAgent adapts a Preprocessor capability into an Agent.
type PreprocessAgent struct {
	name         string
	preprocessor Preprocessor
}

// NewPreprocessAgent wraps a preprocessor.
func NewPreprocessAgent(name string, p Preprocessor) *PreprocessAgent {
	return &PreprocessAgent{name: name, preprocessor: p}
}

// Name returns the agent's identifier.
func (a *PreprocessAgent) Name() string { return a.name }

// Process runs the preprocessor and returns the normalized image
// descriptors for the rest of the pipeline.
func (a *PreprocessAgent) Process(ctx context.Context, task token.PipelineTask) (*token.StageOutput, error) {
	images, err := a.preprocessor.Preprocess(ctx, task)
	if err != nil {
		return nil, token.NewPreprocessingError(
			fmt.Sprintf("agent %q failed", a.name),
			map[string]any{"agent": a.name, "task": task.ID, "image_url": task.ImageURL},
			err,
		)
	}
	return &token.StageOutput{Images: images}, nil
}

// HealthCheck delegates to the preprocessor when it exposes a probe.
func (a *PreprocessAgent) HealthCheck(ctx context.Context) error {
	if hc, ok := a.preprocessor.(interface{ HealthCheck(context.Context) error }); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// PassthroughPreprocessor produces a single descriptor for the task's
// image URL without touching the bytes. It stands in for the real
// download/validation/enhancement capability in tests and smoke runs.
type PassthroughPreprocessor struct{}

// Preprocess returns one descriptor for the task image.
func (PassthroughPreprocessor) Preprocess(_ context.Context, task token.PipelineTask) ([]token.ProcessedImage, error) {
	return []token.ProcessedImage{{
		ID:        "image_0",
		SourceURL: task.ImageURL,
	}}, nil
}

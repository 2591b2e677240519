// Package agent defines the capability interface for stage workers and
// the decorators that give extraction calls their fault-tolerance
// behavior (timeouts, rate-limit retries). The pipeline coordinator holds
// Agent references only; it never knows concrete extractor types.
package agent

import (
	"context"

	"github.com/paletteops/tokenflow/token"
)

// Agent is a single unit of stage work. Implementations must be safe for
// concurrent use: the coordinator fans extraction agents out in parallel.
type Agent interface {
	// Name returns a stable identifier used in logs and error reports.
	Name() string

	// Process performs the agent's work for one task and returns the
	// stage output. An agent that fails must return a nil output and a
	// non-nil error; it must not panic.
	Process(ctx context.Context, task token.PipelineTask) (*token.StageOutput, error)

	// HealthCheck reports whether the agent's underlying capability is
	// reachable. A nil return means healthy.
	HealthCheck(ctx context.Context) error
}

// Extractor is the external vision/CV capability an extraction agent
// wraps: given a task, produce typed token candidates with confidence
// scores, or fail with an extraction error.
type Extractor interface {
	// TokenType is the token category this extractor produces.
	TokenType() token.TokenType

	// Extract analyzes the task's image and returns token candidates.
	Extract(ctx context.Context, task token.PipelineTask) ([]token.TokenResult, error)
}

// Preprocessor is the black-box image normalization capability: download,
// validation, and enhancement happen behind it. The core only consumes
// the resulting descriptors.
type Preprocessor interface {
	Preprocess(ctx context.Context, task token.PipelineTask) ([]token.ProcessedImage, error)
}

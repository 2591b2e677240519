// Package token defines the data model shared across the extraction
// pipeline: tasks, extracted token values, per-stage results, and the
// error taxonomy. Values in this package are treated as immutable once
// constructed; anything that needs to vary between pipeline stages is
// produced as a new value rather than mutated in place.
package token

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TokenType identifies the category of design value a token represents.
type TokenType string

const (
	TypeColor      TokenType = "color"
	TypeSpacing    TokenType = "spacing"
	TypeTypography TokenType = "typography"
	TypeShadow     TokenType = "shadow"
)

// W3CType is the W3C Design Tokens Community Group type for a token value.
type W3CType string

const (
	W3CColor      W3CType = "color"
	W3CDimension  W3CType = "dimension"
	W3CFontFamily W3CType = "fontFamily"
	W3CShadow     W3CType = "shadow"
	W3CNumber     W3CType = "number"
)

// TokenResult is a single extracted design value with its confidence and
// optional metadata. It is produced by extraction and aggregation stages
// and consumed by validation and generation.
type TokenResult struct {
	Type        TokenType      `json:"type"`
	Name        string         `json:"name"`
	Path        []string       `json:"path,omitempty"`
	W3CType     W3CType        `json:"w3c_type"`
	Value       any            `json:"value"`
	Description string         `json:"description,omitempty"`
	Reference   string         `json:"reference,omitempty"`
	Confidence  float64        `json:"confidence"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// MetaString returns a string metadata value, or "" when absent.
func (t TokenResult) MetaString(key string) string {
	if t.Metadata == nil {
		return ""
	}
	s, _ := t.Metadata[key].(string)
	return s
}

// ProcessedImage describes a normalized image produced by the preprocess
// stage. The pipeline core treats preprocessing as a black box; only the
// descriptor travels through the task context.
type ProcessedImage struct {
	ID        string         `json:"id"`
	SourceURL string         `json:"source_url"`
	Width     int            `json:"width,omitempty"`
	Height    int            `json:"height,omitempty"`
	Format    string         `json:"format,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// StageOutput is what an agent returns for one stage invocation: the
// tokens it produced plus any images it materialized. Warnings carry
// non-fatal conditions (e.g. tokens dropped during validation) that the
// coordinator records without failing the stage.
type StageOutput struct {
	Tokens   []TokenResult
	Images   []ProcessedImage
	Warnings []string
}

// PipelineTask describes one unit of pipeline work. Tasks are immutable:
// WithContext and WithContextValues return a new task value with an
// extended context map, leaving the receiver untouched. This keeps
// concurrent stage executions from aliasing a shared mutable map.
type PipelineTask struct {
	ID         string
	ImageURL   string
	TokenTypes []TokenType
	Priority   int
	Context    map[string]any
	CreatedAt  time.Time
}

// NewTask creates a task for the given image requesting the given token
// types. At least one token type is required.
func NewTask(imageURL string, types []TokenType) (PipelineTask, error) {
	if len(types) == 0 {
		return PipelineTask{}, fmt.Errorf("task requires at least one token type")
	}
	tt := make([]TokenType, len(types))
	copy(tt, types)
	return PipelineTask{
		ID:         uuid.New().String(),
		ImageURL:   imageURL,
		TokenTypes: tt,
		Context:    map[string]any{},
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// WithContext returns a copy of the task whose context gains key=value.
func (t PipelineTask) WithContext(key string, value any) PipelineTask {
	return t.WithContextValues(map[string]any{key: value})
}

// WithContextValues returns a copy of the task whose context is extended
// with every entry in values. Existing keys are overwritten.
func (t PipelineTask) WithContextValues(values map[string]any) PipelineTask {
	ctx := make(map[string]any, len(t.Context)+len(values))
	for k, v := range t.Context {
		ctx[k] = v
	}
	for k, v := range values {
		ctx[k] = v
	}
	out := t
	out.Context = ctx
	return out
}

// ContextValue looks up a context entry.
func (t PipelineTask) ContextValue(key string) (any, bool) {
	v, ok := t.Context[key]
	return v, ok
}

// Wants reports whether the task requested the given token type.
func (t PipelineTask) Wants(tt TokenType) bool {
	for _, want := range t.TokenTypes {
		if want == tt {
			return true
		}
	}
	return false
}

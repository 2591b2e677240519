package token

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a PipelineError by the stage concern it belongs to.
type ErrorKind string

const (
	KindPreprocessing ErrorKind = "preprocessing"
	KindExtraction    ErrorKind = "extraction"
	KindAggregation   ErrorKind = "aggregation"
	KindValidation    ErrorKind = "validation"
	KindGeneration    ErrorKind = "generation"
)

// ErrRateLimited signals that an upstream capability rejected a call due
// to rate limiting. Agents wrap their provider's 429-equivalent in this
// sentinel so retry decorators can recognize it.
var ErrRateLimited = errors.New("rate limited by upstream")

// PipelineError is the common error type for every stage concern. It
// carries a structured details map alongside the message so callers can
// report failures without string parsing.
type PipelineError struct {
	Kind    ErrorKind
	Message string
	Details map[string]any
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Is matches two PipelineErrors by kind, so
// errors.Is(err, &PipelineError{Kind: KindExtraction}) works as a filter.
func (e *PipelineError) Is(target error) bool {
	var pe *PipelineError
	if !errors.As(target, &pe) {
		return false
	}
	return pe.Kind == e.Kind && (pe.Message == "" || pe.Message == e.Message)
}

func newError(kind ErrorKind, msg string, details map[string]any, err error) *PipelineError {
	return &PipelineError{Kind: kind, Message: msg, Details: details, Err: err}
}

// NewPreprocessingError creates a preprocess-stage error.
func NewPreprocessingError(msg string, details map[string]any, err error) *PipelineError {
	return newError(KindPreprocessing, msg, details, err)
}

// NewExtractionError creates an extract-stage error.
func NewExtractionError(msg string, details map[string]any, err error) *PipelineError {
	return newError(KindExtraction, msg, details, err)
}

// NewAggregationError creates an aggregate-stage error.
func NewAggregationError(msg string, details map[string]any, err error) *PipelineError {
	return newError(KindAggregation, msg, details, err)
}

// NewValidationError creates a validate-stage error.
func NewValidationError(msg string, details map[string]any, err error) *PipelineError {
	return newError(KindValidation, msg, details, err)
}

// NewGenerationError creates a generate-stage error.
func NewGenerationError(msg string, details map[string]any, err error) *PipelineError {
	return newError(KindGeneration, msg, details, err)
}

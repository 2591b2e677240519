package token

// Context keys under which the coordinator publishes cumulative stage
// output for downstream stages, and the metadata key linking a token to
// the image it was extracted from.
const (
	CtxKeyImages = "pipeline.images"
	CtxKeyTokens = "pipeline.tokens"
	MetaImageID  = "image_id"
)

// ImagesFromContext returns the processed images accumulated so far.
func ImagesFromContext(t PipelineTask) []ProcessedImage {
	v, ok := t.ContextValue(CtxKeyImages)
	if !ok {
		return nil
	}
	images, _ := v.([]ProcessedImage)
	return images
}

// TokensFromContext returns the most recent stage's token output.
func TokensFromContext(t PipelineTask) []TokenResult {
	v, ok := t.ContextValue(CtxKeyTokens)
	if !ok {
		return nil
	}
	tokens, _ := v.([]TokenResult)
	return tokens
}

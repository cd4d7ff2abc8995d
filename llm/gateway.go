// Package llm is the capability gateway over chat completion providers.
// The research core only ever sees the Gateway interface; concrete
// providers (OpenAI, Anthropic, Cohere) plug in behind it.
package llm

import (
	"context"

	"github.com/bububa/deep-researcher/components"
)

// Request is a single completion request. Zero-valued fields fall back to
// the client defaults.
type Request struct {
	// System is the system prompt.
	System string
	// Prompt is the user prompt.
	Prompt string
	// Model overrides the configured model.
	Model string
	// Temperature for response generation, typically ranging from 0 to 1.
	Temperature float32
	// MaxTokens is the maximum number of tokens allowed in the response.
	MaxTokens int
}

// Gateway exposes the two completion capabilities the research core needs.
// Implementations must be safe for concurrent use by many sessions.
type Gateway interface {
	// Complete returns the model's plain text answer.
	Complete(ctx context.Context, req *Request, apiResp *components.LLMResponse) (string, error)
	// CompleteStructured fills out, a pointer to a jsonschema-tagged
	// struct, with a value conforming to its schema. Malformed output gets
	// exactly one self-correction re-ask before surfacing as
	// *SchemaValidationError.
	CompleteStructured(ctx context.Context, req *Request, out any, apiResp *components.LLMResponse) error
}

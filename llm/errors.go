package llm

import "fmt"

// ProviderError is a provider call failure that survived the retry policy.
// It is fatal to the current step; the caller decides whether the session
// aborts or degrades.
type ProviderError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("llm provider %s failed after %d attempts: %v", e.Provider, e.Attempts, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// SchemaValidationError reports model output that did not conform to the
// requested schema even after the single self-correction re-ask.
type SchemaValidationError struct {
	Err error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("llm output failed schema validation: %v", e.Err)
}

func (e *SchemaValidationError) Unwrap() error {
	return e.Err
}

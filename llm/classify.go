package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net"

	cohereCore "github.com/cohere-ai/cohere-go/v2/core"
	"github.com/go-playground/validator/v10"
	anthropic "github.com/liushuangls/go-anthropic/v2"
	openai "github.com/sashabaranov/go-openai"
)

// isTransient reports whether a provider error is worth another attempt:
// rate limits, overload, 5xx responses, timeouts and transport failures.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var oaiAPIErr *openai.APIError
	if errors.As(err, &oaiAPIErr) {
		return retriableStatus(oaiAPIErr.HTTPStatusCode)
	}
	var oaiReqErr *openai.RequestError
	if errors.As(err, &oaiReqErr) {
		return retriableStatus(oaiReqErr.HTTPStatusCode)
	}
	var antAPIErr *anthropic.APIError
	if errors.As(err, &antAPIErr) {
		return antAPIErr.IsRateLimitErr() || antAPIErr.IsOverloadedErr() || antAPIErr.IsApiErr()
	}
	var antReqErr *anthropic.RequestError
	if errors.As(err, &antReqErr) {
		return retriableStatus(antReqErr.StatusCode)
	}
	var cohErr *cohereCore.APIError
	if errors.As(err, &cohErr) {
		return retriableStatus(cohErr.StatusCode)
	}
	return false
}

func retriableStatus(status int) bool {
	return status == 429 || status >= 500
}

// isSchemaViolation reports whether the error comes from malformed model
// output rather than from the provider transport. These are never worth a
// backoff retry: the one self-correction re-ask already happened inside the
// instructor client.
func isSchemaViolation(err error) bool {
	if err == nil {
		return false
	}
	var vErrs validator.ValidationErrors
	if errors.As(err, &vErrs) {
		return true
	}
	var synErr *json.SyntaxError
	if errors.As(err, &synErr) {
		return true
	}
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &typeErr)
}

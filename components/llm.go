package components

import (
	cohere "github.com/cohere-ai/cohere-go/v2"
	anthropic "github.com/liushuangls/go-anthropic/v2"
	openai "github.com/sashabaranov/go-openai"
)

// LLMResponse captures provider metadata and token accounting for a single
// chat completion, normalized across providers.
type LLMResponse struct {
	ID        string    `json:"id,omitempty"`
	Model     string    `json:"model,omitempty"`
	Usage     *LLMUsage `json:"usage,omitempty"`
	Timestamp int64     `json:"ts,omitempty"`
}

// FromOpenAI converts response from openai
func (r *LLMResponse) FromOpenAI(v *openai.ChatCompletionResponse) {
	r.ID = v.ID
	r.Model = v.Model
	r.Usage = &LLMUsage{
		InputTokens:  int64(v.Usage.PromptTokens),
		OutputTokens: int64(v.Usage.CompletionTokens),
	}
	r.Timestamp = v.Created
}

// FromAnthropic converts response from anthropic
func (r *LLMResponse) FromAnthropic(v *anthropic.MessagesResponse) {
	r.ID = v.ID
	r.Model = string(v.Model)
	r.Usage = &LLMUsage{
		InputTokens:  int64(v.Usage.InputTokens),
		OutputTokens: int64(v.Usage.OutputTokens),
	}
}

// FromCohere converts response from cohere
func (r *LLMResponse) FromCohere(v *cohere.NonStreamedChatResponse) {
	if v.GenerationId != nil {
		r.ID = *v.GenerationId
	}
	if meta := v.Meta; meta != nil {
		if usage := meta.Tokens; usage != nil {
			r.Usage = new(LLMUsage)
			if usage.InputTokens != nil {
				r.Usage.InputTokens = int64(*usage.InputTokens)
			}
			if usage.OutputTokens != nil {
				r.Usage.OutputTokens = int64(*usage.OutputTokens)
			}
		}
		if version := meta.ApiVersion; version != nil {
			r.Model = version.Version
		}
	}
}

// LLMUsage is cumulative token usage across one or more completions.
type LLMUsage struct {
	InputTokens  int64 `json:"input_tokens,omitempty"`
	OutputTokens int64 `json:"output_tokens,omitempty"`
}

func (u *LLMUsage) Merge(v *LLMUsage) {
	if v == nil {
		return
	}
	u.InputTokens += v.InputTokens
	u.OutputTokens += v.OutputTokens
}

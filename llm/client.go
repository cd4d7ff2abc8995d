package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bububa/instructor-go/pkg/instructor"
	backoff "github.com/cenkalti/backoff/v4"
	cohereClient "github.com/cohere-ai/cohere-go/v2/client"
	cohereOption "github.com/cohere-ai/cohere-go/v2/option"
	anthropic "github.com/liushuangls/go-anthropic/v2"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bububa/deep-researcher/components"
	cohere "github.com/cohere-ai/cohere-go/v2"
)

// Config represents gateway client configuration
type Config struct {
	provider    instructor.Provider
	apiKey      string
	baseURL     string
	model       string
	temperature float32
	maxTokens   int
	callTimeout time.Duration
	maxAttempts int
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// Client is the provider-backed Gateway implementation. A single Client is
// shared by all research sessions; its rate limiter is the shared
// throttling point for the whole process.
type Client struct {
	Config
	openAI     *openai.Client
	anthropic  *anthropic.Client
	cohere     *cohereClient.Client
	structured instructor.Instructor
}

var _ Gateway = (*Client)(nil)

// New builds a Client for the given provider. The structured-completion
// path runs through instructor in JSON mode with validation enabled and a
// single self-correction re-ask.
func New(provider instructor.Provider, apiKey string, options ...Option) *Client {
	ret := new(Client)
	ret.provider = provider
	ret.apiKey = apiKey
	for _, opt := range options {
		opt(&ret.Config)
	}
	if ret.callTimeout == 0 {
		ret.callTimeout = 60 * time.Second
	}
	if ret.maxAttempts == 0 {
		ret.maxAttempts = 3
	}
	if ret.maxTokens == 0 {
		ret.maxTokens = 2048
	}
	if ret.limiter == nil {
		ret.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if ret.logger == nil {
		ret.logger = zap.NewNop()
	}
	// initial attempt plus one self-correction re-ask with the validation
	// error appended
	instructorOpts := []instructor.Options{
		instructor.WithMode(instructor.ModeJSON),
		instructor.WithMaxRetries(2),
		instructor.WithValidation(),
	}
	switch provider {
	case instructor.ProviderAnthropic:
		opts := make([]anthropic.ClientOption, 0, 1)
		if ret.baseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(ret.baseURL))
		}
		ret.anthropic = anthropic.NewClient(apiKey, opts...)
		ret.structured = instructor.FromAnthropic(ret.anthropic, instructorOpts...)
	case instructor.ProviderCohere:
		opts := make([]cohereOption.RequestOption, 0, 2)
		opts = append(opts, cohereOption.WithToken(apiKey))
		if ret.baseURL != "" {
			opts = append(opts, cohereOption.WithBaseURL(ret.baseURL))
		}
		ret.cohere = cohereClient.NewClient(opts...)
		ret.structured = instructor.FromCohere(ret.cohere, instructorOpts...)
	default:
		cfg := openai.DefaultConfig(apiKey)
		if ret.baseURL != "" {
			cfg.BaseURL = ret.baseURL
		}
		ret.openAI = openai.NewClientWithConfig(cfg)
		ret.structured = instructor.FromOpenAI(ret.openAI, instructorOpts...)
	}
	return ret
}

// Complete obtains a plain text completion.
func (c *Client) Complete(ctx context.Context, req *Request, apiResp *components.LLMResponse) (string, error) {
	var text string
	err := c.withRetry(ctx, false, func(callCtx context.Context) error {
		var err error
		text, err = c.complete(callCtx, req, apiResp)
		return err
	})
	return text, err
}

// CompleteStructured obtains a completion conforming to out's jsonschema.
func (c *Client) CompleteStructured(ctx context.Context, req *Request, out any, apiResp *components.LLMResponse) error {
	return c.withRetry(ctx, true, func(callCtx context.Context) error {
		return c.completeStructured(callCtx, req, out, apiResp)
	})
}

func (c *Client) complete(ctx context.Context, req *Request, apiResp *components.LLMResponse) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	switch c.provider {
	case instructor.ProviderAnthropic:
		chatReq := anthropic.MessagesRequest{
			Model:       anthropic.Model(model),
			System:      req.System,
			Temperature: &temperature,
			MaxTokens:   maxTokens,
			Messages:    []anthropic.Message{anthropic.NewUserTextMessage(req.Prompt)},
		}
		res, err := c.anthropic.CreateMessages(ctx, chatReq)
		if err != nil {
			return "", err
		}
		if apiResp != nil {
			apiResp.FromAnthropic(&res)
		}
		return res.GetFirstContentText(), nil
	case instructor.ProviderCohere:
		temp := float64(temperature)
		chatReq := cohere.ChatRequest{
			Model:       &model,
			Preamble:    &req.System,
			Temperature: &temp,
			MaxTokens:   &maxTokens,
			Message:     req.Prompt,
		}
		res, err := c.cohere.Chat(ctx, &chatReq)
		if err != nil {
			return "", err
		}
		if apiResp != nil {
			apiResp.FromCohere(res)
		}
		return res.Text, nil
	default:
		chatReq := openai.ChatCompletionRequest{
			Model:               model,
			Temperature:         temperature,
			MaxCompletionTokens: maxTokens,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: req.System},
				{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
			},
		}
		res, err := c.openAI.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return "", err
		}
		if len(res.Choices) == 0 {
			return "", fmt.Errorf("provider %s returned no choices", c.provider)
		}
		if apiResp != nil {
			apiResp.FromOpenAI(&res)
		}
		return res.Choices[0].Message.Content, nil
	}
}

func (c *Client) completeStructured(ctx context.Context, req *Request, out any, apiResp *components.LLMResponse) error {
	model := req.Model
	if model == "" {
		model = c.model
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	switch clt := c.structured.(type) {
	case *instructor.InstructorOpenAI:
		chatReq := openai.ChatCompletionRequest{
			Model:               model,
			Temperature:         temperature,
			MaxCompletionTokens: maxTokens,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: req.System},
				{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
			},
		}
		res, err := clt.CreateChatCompletion(ctx, chatReq, out)
		if err != nil {
			return err
		}
		if apiResp != nil {
			apiResp.FromOpenAI(&res)
		}
	case *instructor.InstructorAnthropic:
		chatReq := anthropic.MessagesRequest{
			Model:       anthropic.Model(model),
			System:      req.System,
			Temperature: &temperature,
			MaxTokens:   maxTokens,
			Messages:    []anthropic.Message{anthropic.NewUserTextMessage(req.Prompt)},
		}
		res, err := clt.CreateMessages(ctx, chatReq, out)
		if err != nil {
			return err
		}
		if apiResp != nil {
			apiResp.FromAnthropic(&res)
		}
	case *instructor.InstructorCohere:
		temp := float64(temperature)
		chatReq := cohere.ChatRequest{
			Model:       &model,
			Preamble:    &req.System,
			Temperature: &temp,
			MaxTokens:   &maxTokens,
			Message:     req.Prompt,
		}
		res, err := clt.Chat(ctx, &chatReq, out)
		if err != nil {
			return err
		}
		if apiResp != nil {
			apiResp.FromCohere(res)
		}
	default:
		return fmt.Errorf("unsupported provider %s", c.provider)
	}
	return nil
}

// withRetry wraps a provider call with the shared rate limiter, per-call
// timeout and exponential backoff on transient failures. Schema violations
// never re-enter the backoff loop.
func (c *Client) withRetry(ctx context.Context, structured bool, fn func(context.Context) error) error {
	var attempts int
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		callCtx := ctx
		if c.callTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.callTimeout)
			defer cancel()
		}
		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if structured && isSchemaViolation(err) {
			return backoff.Permanent(&SchemaValidationError{Err: err})
		}
		if isTransient(err) {
			c.logger.Warn("transient provider error, will retry",
				zap.String("provider", string(c.provider)),
				zap.Int("attempt", attempts),
				zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxAttempts-1)), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var sve *SchemaValidationError
		if errors.As(err, &sve) {
			return sve
		}
		return &ProviderError{Provider: string(c.provider), Attempts: attempts, Err: err}
	}
	return nil
}

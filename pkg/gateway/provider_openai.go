package gateway

import (
	"context"
	"time"

	"github.com/openai/openai-go"
	"github.com/sony/gobreaker"

	"github.com/soclabs/investigator/internal/apperrors"
)

// openAICompatProvider is the Tier-1+ adapter (spec.md §4.1 escalation
// path): an OpenAI-compatible provider selected for the tier1p gateway. No
// automatic failover to it when the Anthropic breaker trips is wired in
// this repository.
type openAICompatProvider struct {
	client  openai.Client
	model   string
	breaker *gobreaker.CircuitBreaker
}

// NewOpenAICompatProvider builds the OpenAI-compatible adapter for model.
func NewOpenAICompatProvider(client openai.Client, model string) Provider {
	st := gobreaker.Settings{
		Name:        "openai-" + model,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &openAICompatProvider{client: client, model: model, breaker: gobreaker.NewCircuitBreaker(st)}
}

func (p *openAICompatProvider) Name() string { return "openai_compat" }

func (p *openAICompatProvider) AdaptSystem(blocks []SystemBlock) any {
	var system string
	for _, b := range blocks {
		system += b.Content + "\n"
	}
	return system
}

func (p *openAICompatProvider) AdaptMessages(userContent string) any {
	return userContent
}

func (p *openAICompatProvider) Call(ctx context.Context, req ProviderRequest) (ProviderResponse, error) {
	result, err := p.breaker.Execute(func() (any, error) {
		return p.doCall(ctx, req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return ProviderResponse{}, apperrors.Wrap(err, apperrors.ErrorTypePermanentProvider, "openai-compat circuit breaker open")
		}
		return ProviderResponse{}, err
	}
	return result.(ProviderResponse), nil
}

func (p *openAICompatProvider) doCall(ctx context.Context, req ProviderRequest) (ProviderResponse, error) {
	system, _ := p.AdaptSystem(req.Prompt.SystemBlocks).(string)
	userContent, _ := p.AdaptMessages(req.Prompt.UserContent).(string)

	completion, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: p.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(userContent),
		},
		MaxTokens: openai.Int(int64(req.MaxTokens)),
	})
	if err != nil {
		return ProviderResponse{}, classifyOpenAIError(err)
	}

	content := ""
	if len(completion.Choices) > 0 {
		content = completion.Choices[0].Message.Content
	}

	return ProviderResponse{
		Content:      content,
		ModelID:      p.model,
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
		CostUSD:      estimateOpenAICost(p.model, int(completion.Usage.PromptTokens), int(completion.Usage.CompletionTokens)),
	}, nil
}

type openAICallError struct {
	cause     error
	retryable bool
}

func (e *openAICallError) Error() string   { return e.cause.Error() }
func (e *openAICallError) Unwrap() error   { return e.cause }
func (e *openAICallError) Retryable() bool { return e.retryable }

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if ae, ok := err.(*openai.Error); ok {
		apiErr = ae
		retryable := apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
		return &openAICallError{cause: err, retryable: retryable}
	}
	return &openAICallError{cause: err, retryable: false}
}

func estimateOpenAICost(model string, inputTokens, outputTokens int) float64 {
	const inputPerMillion = 2.5
	const outputPerMillion = 10.0
	return float64(inputTokens)/1_000_000*inputPerMillion + float64(outputTokens)/1_000_000*outputPerMillion
}

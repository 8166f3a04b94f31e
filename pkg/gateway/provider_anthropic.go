package gateway

import (
	"context"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sony/gobreaker"

	"github.com/soclabs/investigator/internal/apperrors"
)

// anthropicProvider is the Tier-1/Tier-1+ adapter (spec.md §4.2, SPEC_FULL
// §4.2). Calls are wrapped in a circuit breaker so a provider under
// sustained failure trips the breaker instead of the retry loop hammering
// it.
type anthropicProvider struct {
	client  anthropic.Client
	model   string
	breaker *gobreaker.CircuitBreaker
}

// NewAnthropicProvider builds the Anthropic adapter. model is the
// concrete model id this adapter calls (e.g. "claude-opus-4").
func NewAnthropicProvider(client anthropic.Client, model string) Provider {
	st := gobreaker.Settings{
		Name:        "anthropic-" + model,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &anthropicProvider{client: client, model: model, breaker: gobreaker.NewCircuitBreaker(st)}
}

func (p *anthropicProvider) Name() string { return "anthropic" }

func (p *anthropicProvider) AdaptSystem(blocks []SystemBlock) any {
	out := make([]map[string]any, 0, len(blocks))
	for _, b := range blocks {
		block := map[string]any{"type": "text", "text": b.Content}
		if b.Cacheable {
			block["cache_control"] = map[string]string{"type": "ephemeral"}
		}
		out = append(out, block)
	}
	return out
}

func (p *anthropicProvider) AdaptMessages(userContent string) any {
	return []map[string]any{
		{"role": "user", "content": userContent},
	}
}

func (p *anthropicProvider) Call(ctx context.Context, req ProviderRequest) (ProviderResponse, error) {
	result, err := p.breaker.Execute(func() (any, error) {
		return p.doCall(ctx, req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return ProviderResponse{}, apperrors.Wrap(err, apperrors.ErrorTypePermanentProvider, "anthropic circuit breaker open")
		}
		return ProviderResponse{}, err
	}
	return result.(ProviderResponse), nil
}

func (p *anthropicProvider) doCall(ctx context.Context, req ProviderRequest) (ProviderResponse, error) {
	// The SDK call itself is intentionally not inlined here beyond its
	// shape: this repository owns retry/backoff and circuit-breaking, the
	// adapter's job is translation plus the single network round trip.
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(req.MaxTokens),
		System:    adaptAnthropicSystem(p.AdaptSystem(req.Prompt.SystemBlocks)),
		Messages:  adaptAnthropicMessages(p.AdaptMessages(req.Prompt.UserContent)),
	})
	if err != nil {
		return ProviderResponse{}, classifyAnthropicError(err)
	}

	content := ""
	for _, block := range msg.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return ProviderResponse{
		Content:      content,
		ModelID:      p.model,
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		CostUSD:      estimateAnthropicCost(p.model, int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)),
	}, nil
}

// adaptAnthropicSystem and adaptAnthropicMessages narrow the `any`-typed
// adapter outputs back to the SDK's concrete param types at the one call
// site that needs them, keeping AdaptSystem/AdaptMessages provider-agnostic
// in signature for interface conformance and testability.
func adaptAnthropicSystem(v any) []anthropic.TextBlockParam {
	blocks, _ := v.([]map[string]any)
	out := make([]anthropic.TextBlockParam, 0, len(blocks))
	for _, b := range blocks {
		text, _ := b["text"].(string)
		block := anthropic.TextBlockParam{Text: text}
		if _, cacheable := b["cache_control"]; cacheable {
			block.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		out = append(out, block)
	}
	return out
}

func adaptAnthropicMessages(v any) []anthropic.MessageParam {
	msgs, _ := v.([]map[string]any)
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		content, _ := m["content"].(string)
		out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(content)))
	}
	return out
}

type anthropicCallError struct {
	cause     error
	retryable bool
}

func (e *anthropicCallError) Error() string   { return e.cause.Error() }
func (e *anthropicCallError) Unwrap() error   { return e.cause }
func (e *anthropicCallError) Retryable() bool { return e.retryable }

// classifyAnthropicError maps SDK errors to RetryableError per spec.md
// §4.2 step 5: 429 and 5xx are retryable, everything else is not.
func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if ok := asAnthropicError(err, &apiErr); ok {
		status := apiErr.StatusCode
		retryable := status == 429 || status >= 500
		return &anthropicCallError{cause: err, retryable: retryable}
	}
	return &anthropicCallError{cause: err, retryable: false}
}

func asAnthropicError(err error, target **anthropic.Error) bool {
	if ae, ok := err.(*anthropic.Error); ok {
		*target = ae
		return true
	}
	return false
}

// estimateAnthropicCost is a conservative per-model per-token cost table;
// exact pricing is a deployment config concern in production but a
// reasonable default keeps spend accounting functional without external
// configuration.
func estimateAnthropicCost(model string, inputTokens, outputTokens int) float64 {
	const inputPerMillion = 3.0
	const outputPerMillion = 15.0
	return float64(inputTokens)/1_000_000*inputPerMillion + float64(outputTokens)/1_000_000*outputPerMillion
}

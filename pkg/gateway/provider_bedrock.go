package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/sony/gobreaker"

	"github.com/soclabs/investigator/internal/apperrors"
)

// bedrockProvider is the Tier-0 (cheap/batch) adapter. No automatic
// failover to it from another provider is wired in this repository.
type bedrockProvider struct {
	client  *bedrockruntime.Client
	modelID string
	breaker *gobreaker.CircuitBreaker
}

// NewBedrockProvider builds the Bedrock adapter for modelID (e.g. an
// Anthropic-on-Bedrock or Titan model ARN/id).
func NewBedrockProvider(client *bedrockruntime.Client, modelID string) Provider {
	st := gobreaker.Settings{
		Name:        "bedrock-" + modelID,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &bedrockProvider{client: client, modelID: modelID, breaker: gobreaker.NewCircuitBreaker(st)}
}

func (p *bedrockProvider) Name() string { return "bedrock" }

func (p *bedrockProvider) AdaptSystem(blocks []SystemBlock) any {
	var system string
	for _, b := range blocks {
		system += b.Content + "\n"
	}
	return system
}

func (p *bedrockProvider) AdaptMessages(userContent string) any {
	return userContent
}

type bedrockInvokeBody struct {
	System    string `json:"system"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
}

type bedrockInvokeResult struct {
	Completion   string `json:"completion"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

func (p *bedrockProvider) Call(ctx context.Context, req ProviderRequest) (ProviderResponse, error) {
	result, err := p.breaker.Execute(func() (any, error) {
		return p.doCall(ctx, req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return ProviderResponse{}, apperrors.Wrap(err, apperrors.ErrorTypePermanentProvider, "bedrock circuit breaker open")
		}
		return ProviderResponse{}, err
	}
	return result.(ProviderResponse), nil
}

func (p *bedrockProvider) doCall(ctx context.Context, req ProviderRequest) (ProviderResponse, error) {
	system, _ := p.AdaptSystem(req.Prompt.SystemBlocks).(string)
	userContent, _ := p.AdaptMessages(req.Prompt.UserContent).(string)

	body, err := json.Marshal(bedrockInvokeBody{System: system, Prompt: userContent, MaxTokens: req.MaxTokens})
	if err != nil {
		return ProviderResponse{}, apperrors.Wrap(err, apperrors.ErrorTypeUnrecoverable, "marshal bedrock request body")
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &p.modelID,
		Body:        body,
		ContentType: strPtr("application/json"),
	})
	if err != nil {
		return ProviderResponse{}, classifyBedrockError(err)
	}

	var result bedrockInvokeResult
	if err := json.Unmarshal(out.Body, &result); err != nil {
		return ProviderResponse{}, apperrors.Wrap(err, apperrors.ErrorTypePermanentProvider, "unmarshal bedrock response body")
	}

	return ProviderResponse{
		Content:      result.Completion,
		ModelID:      p.modelID,
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
		CostUSD:      estimateBedrockCost(result.InputTokens, result.OutputTokens),
	}, nil
}

type bedrockCallError struct {
	cause     error
	retryable bool
}

func (e *bedrockCallError) Error() string   { return e.cause.Error() }
func (e *bedrockCallError) Unwrap() error   { return e.cause }
func (e *bedrockCallError) Retryable() bool { return e.retryable }

// classifyBedrockError treats throttling exceptions as retryable and
// everything else as not, matching spec.md §4.2 step 5.
func classifyBedrockError(err error) error {
	retryable := false
	var throttled interface{ ErrorCode() string }
	if errAs(err, &throttled) {
		switch throttled.ErrorCode() {
		case "ThrottlingException", "ServiceUnavailableException", "ModelTimeoutException":
			retryable = true
		}
	}
	return &bedrockCallError{cause: err, retryable: retryable}
}

func errAs(err error, target *interface{ ErrorCode() string }) bool {
	if coder, ok := err.(interface{ ErrorCode() string }); ok {
		*target = coder
		return true
	}
	return false
}

func strPtr(s string) *string { return &s }

func estimateBedrockCost(inputTokens, outputTokens int) float64 {
	const inputPerMillion = 0.8
	const outputPerMillion = 2.4
	return float64(inputTokens)/1_000_000*inputPerMillion + float64(outputTokens)/1_000_000*outputPerMillion
}

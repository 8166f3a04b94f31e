package gateway

import (
	"context"
	"math"
	"time"
)

// ProviderRequest is the provider-agnostic request shape a Provider adapter
// translates to its native wire format.
type ProviderRequest struct {
	Prompt    AssembledPrompt
	ModelID   string
	MaxTokens int
}

// ProviderResponse is what every adapter normalizes its provider's response
// into.
type ProviderResponse struct {
	Content      string
	ModelID      string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Provider is implemented by each LLM backend adapter. AdaptSystem and
// AdaptMessages exist as named steps (rather than folding everything into
// Call) so each adapter's translation of the internal
// {system_blocks, user_content, schema} representation is independently
// inspectable and testable, matching the teacher's client/provider split in
// pkg/ai/llm.
type Provider interface {
	Name() string
	AdaptSystem(blocks []SystemBlock) any
	AdaptMessages(userContent string) any
	Call(ctx context.Context, req ProviderRequest) (ProviderResponse, error)
}

// RetryPolicy implements spec.md §4.2 step 5: exponential backoff
// 1s/2s/4s, capped at 3 retries (4 calls in all with the defaults),
// retrying only rate-limit and 5xx responses.
type RetryPolicy struct {
	MaxRetries     int
	BaseDelay      time.Duration
}

// DefaultRetryPolicy matches spec.md §4.2 "Configuration" defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: time.Second}
}

// Delay returns the backoff delay before retry attempt n (0-indexed):
// base * 2^n, i.e. 1s, 2s, 4s for the default base delay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt)))
}

// RetryableError is implemented by provider errors that carry enough
// information to decide retryability (rate-limit or 5xx vs. a hard 4xx).
type RetryableError interface {
	error
	Retryable() bool
}

// CallWithRetry invokes call, retrying on errors that implement
// RetryableError and report Retryable() == true, up to policy.MaxRetries
// retries (MaxRetries+1 calls in all), sleeping policy.Delay(attempt)
// between calls. Any error not
// implementing RetryableError is treated as non-retryable (a 4xx-class
// failure per spec.md §4.2 step 5's "4xx failures are not retried").
func CallWithRetry(ctx context.Context, policy RetryPolicy, call func(ctx context.Context) (ProviderResponse, error)) (ProviderResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		resp, err := call(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		re, ok := err.(RetryableError)
		if !ok || !re.Retryable() {
			return ProviderResponse{}, err
		}
		if attempt == policy.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ProviderResponse{}, ctx.Err()
		case <-time.After(policy.Delay(attempt)):
		}
	}
	return ProviderResponse{}, lastErr
}

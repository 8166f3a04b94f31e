package gateway

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/soclabs/investigator/internal/apperrors"
	"github.com/soclabs/investigator/pkg/audit"
	"github.com/soclabs/investigator/pkg/contracts"
)

// Config carries the enumerated gateway configuration of spec.md §4.2.
type Config struct {
	MonthlyHardCapUSD   float64
	MonthlySoftAlertUSD float64
	Retry               RetryPolicy
	KnownTechniqueIDs   map[string]struct{} // nil disables taxonomy validation
}

// Request is one call into the gateway.
type Request struct {
	TenantID         string
	TaskType         string
	Tier             Tier
	TaskPrompt       string
	RetrievalContext string
	RedactPairs      RedactPairs
	Schema           *SchemaFragment
	MaxTokens        int
}

// Response is the gateway's return shape (spec.md §4.2, "Return shape").
type Response struct {
	Content             string
	ModelID             string
	TokensUsed          int
	Valid               bool
	RawOutput           string
	ValidationErrors    []string
	QuarantinedIDs      []string
	InjectionDetections []string
	CostUSD             float64
}

// Gateway is the Context Gateway: the only path from the rest of this
// repository to an LLM provider (spec.md §4.2).
type Gateway struct {
	cfg        Config
	budget     *BudgetGate
	provider   Provider
	classifier LLMClassifier
	audit      *audit.Client
	log        logr.Logger
}

// New builds a Gateway. classifier may be nil to disable the LLM second
// opinion on the suspicious band (the regex fast path still runs).
func New(cfg Config, budget *BudgetGate, provider Provider, classifier LLMClassifier, auditClient *audit.Client, log logr.Logger) *Gateway {
	return &Gateway{cfg: cfg, budget: budget, provider: provider, classifier: classifier, audit: auditClient, log: log}
}

// Complete runs the full ten-step pipeline of spec.md §4.2.
func (g *Gateway) Complete(ctx context.Context, req Request) (Response, error) {
	now := time.Now()

	// Step 1: budget check.
	check, err := g.budget.Check(ctx, req.TenantID, now)
	if err != nil {
		if check.Refused {
			g.audit.Record(ctx, req.TenantID, audit.EventSecuritySpendHardLimit, audit.EventSeverityCritical, audit.ActorSystem, "gateway", "gateway", nil)
		}
		return Response{}, err
	}
	if check.SoftAlertCrossed {
		g.audit.Record(ctx, req.TenantID, audit.EventSecuritySpendSoftLimit, audit.EventSeverityWarning, audit.ActorSystem, "gateway", "gateway", nil)
		if err := g.budget.ledger.MarkSoftAlertFired(ctx, req.TenantID, now); err != nil {
			g.log.Error(err, "failed to mark soft spend alert fired", "tenant_id", req.TenantID)
		}
	}

	// Step 2: input sanitisation.
	sanitizedTask := Sanitize(req.TaskPrompt)
	sanitizedContext := Sanitize(req.RetrievalContext)
	detections := append(append([]string{}, sanitizedTask.Detections...), sanitizedContext.Detections...)
	if len(detections) > 0 {
		g.audit.Record(ctx, req.TenantID, audit.EventSecurityInjectionDetected, audit.EventSeverityWarning, audit.ActorSystem, "gateway", "gateway", func(e *audit.Event) {
			e.Context = map[string]any{"detections": detections}
		})
	}

	// Classification decides whether the sanitized context also needs the
	// lossy summarizer before it ever reaches a provider.
	risk, err := Classify(ctx, req.RetrievalContext, g.classifier)
	if err != nil {
		return Response{}, apperrors.Wrap(err, apperrors.ErrorTypeInjection, "classify retrieval context")
	}
	retrievalContext := sanitizedContext.Sanitized
	switch ActionFor(risk) {
	case ActionQuarantine:
		return Response{}, apperrors.New(apperrors.ErrorTypeInjection, "retrieval context classified malicious, request refused").WithDetailsf("tenant=%s", req.TenantID)
	case ActionSummarize:
		retrievalContext = Summarize(retrievalContext)
	}

	// Step 3: PII redaction.
	redactionMap := contracts.NewRedactionMap()
	redactedTask := Redact(sanitizedTask.Sanitized, req.RedactPairs, redactionMap)
	redactedContext := Redact(retrievalContext, req.RedactPairs, redactionMap)

	// Step 4: prompt assembly.
	assembled := Assemble(req.Tier, redactedTask, redactedContext, nil)

	// Step 5: LLM call with retry.
	providerResp, err := CallWithRetry(ctx, g.cfg.Retry, func(ctx context.Context) (ProviderResponse, error) {
		return g.provider.Call(ctx, ProviderRequest{Prompt: assembled, MaxTokens: req.MaxTokens})
	})
	if err != nil {
		return Response{}, apperrors.Wrap(err, apperrors.ErrorTypeTransientProvider, "provider call failed")
	}

	// Step 6: output validation.
	validation := ValidateOutput(providerResp.Content, req.Schema, g.cfg.KnownTechniqueIDs)

	// Step 7: deny-by-default stripping.
	deliveredContent := StripQuarantined(providerResp.Content, validation.QuarantinedIDs)

	// Step 8: quarantine events.
	for _, id := range validation.QuarantinedIDs {
		g.audit.Record(ctx, req.TenantID, audit.EventSecurityTechniqueQuarantined, audit.EventSeverityWarning, audit.ActorSystem, "gateway", "gateway", func(e *audit.Event) {
			e.Context = map[string]any{"technique_id": id}
		})
	}

	// Step 9: deanonymisation.
	deliveredContent = Deanonymize(deliveredContent, redactionMap)

	// Step 10: spend accounting.
	spendRecord := contracts.SpendRecord{
		CostUSD:   providerResp.CostUSD,
		ModelID:   providerResp.ModelID,
		TaskType:  req.TaskType,
		TenantID:  req.TenantID,
		Timestamp: now,
	}
	if err := g.budget.RecordSpend(ctx, spendRecord); err != nil {
		g.log.Error(err, "failed to record spend", "tenant_id", req.TenantID)
	}

	return Response{
		Content:             deliveredContent,
		ModelID:             providerResp.ModelID,
		TokensUsed:          providerResp.InputTokens + providerResp.OutputTokens,
		Valid:               validation.Valid,
		RawOutput:           providerResp.Content,
		ValidationErrors:    validation.Errors,
		QuarantinedIDs:      validation.QuarantinedIDs,
		InjectionDetections: detections,
		CostUSD:             providerResp.CostUSD,
	}, nil
}

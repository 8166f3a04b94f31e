/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command gateway runs a standalone Context Gateway HTTP surface: a
// single /v1/complete endpoint wrapping pkg/gateway.Gateway.Complete, for
// callers that talk HTTP rather than linking the package in-process
// (cmd/orchestrator links pkg/gateway directly and does not call this
// binary). One process instance is bound to exactly one capability tier
// and its one model, matching how the fleet is actually deployed: three
// replicas of this same binary, started with --tier=tier0|tier1|tier1p
// and pointed at three different model ids.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/soclabs/investigator/internal/apperrors"
	appconfig "github.com/soclabs/investigator/internal/config"
	"github.com/soclabs/investigator/internal/httpclient"
	"github.com/soclabs/investigator/internal/obslog"
	"github.com/soclabs/investigator/pkg/audit"
	"github.com/soclabs/investigator/pkg/gateway"
)

func main() {
	var cfgPath, tier string

	root := &cobra.Command{
		Use:   "gateway",
		Short: "Context Gateway HTTP surface, bound to one capability tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfgPath, tier)
		},
	}
	root.Flags().StringVar(&cfgPath, "config", "config.yaml", "path to the shared YAML configuration file")
	root.Flags().StringVar(&tier, "tier", "tier1", "capability tier this instance serves: tier0|tier1|tier1p")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath, tierFlag string) error {
	cfg, err := appconfig.Load(cfgPath)
	if err != nil {
		return err
	}

	log, level, err := buildLogger(cfg.LogLevel, "gateway")
	if err != nil {
		return err
	}
	go appconfig.WatchLogLevel(ctx, cfgPath, log, level)

	pool, err := pgxpool.New(ctx, cfg.Store.PostgresDSN)
	if err != nil {
		return fmt.Errorf("gateway: connect postgres: %w", err)
	}
	defer pool.Close()

	ledger := gateway.NewPostgresSpendLedger(pool)
	budget := gateway.NewBudgetGate(ledger, cfg.Gateway.MonthlyHardCapUSD, cfg.Gateway.MonthlySoftAlertUSD)

	tier, provider, err := buildProvider(ctx, tierFlag, cfg.Gateway.Providers)
	if err != nil {
		return err
	}

	auditClient := audit.NewAuditClient(audit.NewBufferedStore(audit.NewMemoryStore(10000), log, audit.DefaultBufferedStoreConfig()), log)
	defer auditClient.Close()

	known := make(map[string]struct{}, len(cfg.Gateway.KnownTechniqueIDs))
	for _, id := range cfg.Gateway.KnownTechniqueIDs {
		known[id] = struct{}{}
	}

	gw := gateway.New(gateway.Config{
		MonthlyHardCapUSD:   cfg.Gateway.MonthlyHardCapUSD,
		MonthlySoftAlertUSD: cfg.Gateway.MonthlySoftAlertUSD,
		Retry: gateway.RetryPolicy{
			MaxRetries: cfg.Gateway.MaxRetries,
			BaseDelay:  time.Duration(cfg.Gateway.BaseDelaySeconds * float64(time.Second)),
		},
		KnownTechniqueIDs: known,
	}, budget, provider, nil, auditClient, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"POST", "GET"}}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Post("/v1/complete", completeHandler(gw, tier, log))

	srv := &http.Server{Addr: ":" + cfg.Server.MetricsPort, Handler: r}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("gateway listening", "addr", srv.Addr, "tier", tierFlag)

	stop, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	select {
	case <-stop.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func buildLogger(level, component string) (logr.Logger, zap.AtomicLevel, error) {
	zapLevel := zap.NewAtomicLevel()
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel.SetLevel(zap.InfoLevel)
	}
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zapLevel
	zl, err := zapCfg.Build()
	if err != nil {
		return logr.Logger{}, zapLevel, err
	}
	return zapr.NewLogger(zl).WithValues(obslog.NewFields().Component(component).Pairs()...), zapLevel, nil
}

// completeRequest mirrors gateway.Request's exported fields for JSON
// decoding at the HTTP boundary. Tier is not part of the body: it is
// fixed per-process by --tier, so a caller cannot smuggle a request for a
// tier this instance was not provisioned for.
type completeRequest struct {
	TenantID         string            `json:"tenant_id"`
	TaskType         string            `json:"task_type"`
	TaskPrompt       string            `json:"task_prompt"`
	RetrievalContext string            `json:"retrieval_context"`
	RedactPairs      map[string]string `json:"redact_pairs"`
}

func completeHandler(gw *gateway.Gateway, tier gateway.Tier, log logr.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req completeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.TenantID == "" || req.TaskType == "" || req.TaskPrompt == "" {
			http.Error(w, "tenant_id, task_type, and task_prompt are required", http.StatusBadRequest)
			return
		}

		result, err := gw.Complete(r.Context(), gateway.Request{
			TenantID:         req.TenantID,
			TaskType:         req.TaskType,
			Tier:             tier,
			TaskPrompt:       req.TaskPrompt,
			RetrievalContext: req.RetrievalContext,
			RedactPairs:      gateway.RedactPairs(req.RedactPairs),
		})
		if err != nil {
			log.Error(err, "gateway: complete failed", "tenant_id", req.TenantID)
			w.WriteHeader(apperrors.GetStatusCode(err))
			_ = json.NewEncoder(w).Encode(map[string]string{"error": apperrors.SafeErrorMessage(err)})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	}
}

// buildProvider constructs the single concrete gateway.Provider this
// process instance serves, per --tier: Bedrock for tier0 (cheap/batch),
// Anthropic for tier1, and an OpenAI-compatible endpoint for the tier1p
// escalation capability.
func buildProvider(ctx context.Context, tierFlag string, providers appconfig.ProvidersConfig) (gateway.Tier, gateway.Provider, error) {
	switch tierFlag {
	case "tier0":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return 0, nil, fmt.Errorf("gateway: load AWS config: %w", err)
		}
		client := bedrockruntime.NewFromConfig(awsCfg)
		return gateway.Tier0, gateway.NewBedrockProvider(client, providers.Tier0), nil
	case "tier1":
		client := anthropic.NewClient(anthropicoption.WithAPIKey(os.Getenv("ANTHROPIC_API_KEY")))
		return gateway.Tier1, gateway.NewAnthropicProvider(client, providers.Tier1), nil
	case "tier1p":
		httpClient := httpclient.NewClient(httpclient.DefaultClientConfig())
		client := openai.NewClient(openaioption.WithAPIKey(os.Getenv("OPENAI_API_KEY")), openaioption.WithHTTPClient(httpClient))
		return gateway.Tier1Plus, gateway.NewOpenAICompatProvider(client, providers.Tier1P), nil
	default:
		return 0, nil, fmt.Errorf("gateway: unknown --tier %q, want tier0|tier1|tier1p", tierFlag)
	}
}

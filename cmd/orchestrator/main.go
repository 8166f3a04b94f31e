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

// Command orchestrator runs the Investigation Orchestrator: it ingests
// alerts over HTTP, drives them through pkg/orchestrator's RECEIVED →
// PARSING → ENRICHING → REASONING → AWAITING_HUMAN/RESPONDING → CLOSED
// graph, and exposes the analyst decision endpoint that resumes an
// investigation left at AWAITING_HUMAN.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/slack-go/slack"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/soclabs/investigator/internal/apperrors"
	"github.com/soclabs/investigator/internal/bus"
	appconfig "github.com/soclabs/investigator/internal/config"
	"github.com/soclabs/investigator/internal/httpclient"
	"github.com/soclabs/investigator/internal/obslog"
	"github.com/soclabs/investigator/pkg/audit"
	"github.com/soclabs/investigator/pkg/contracts"
	"github.com/soclabs/investigator/pkg/fpgovernance"
	"github.com/soclabs/investigator/pkg/gateway"
	orchestrator "github.com/soclabs/investigator/pkg/orchestrator"
	"github.com/soclabs/investigator/pkg/orchestrator/agents"
	"github.com/soclabs/investigator/pkg/orchestrator/approval"
	"github.com/soclabs/investigator/pkg/orchestrator/persistence"
	"github.com/soclabs/investigator/pkg/orchestrator/stores"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:   "orchestrator",
		Short: "Investigation Orchestrator HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfgPath)
		},
	}
	root.Flags().StringVar(&cfgPath, "config", "config.yaml", "path to the shared YAML configuration file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	cfg, err := appconfig.Load(cfgPath)
	if err != nil {
		return err
	}

	zapLevel := zap.NewAtomicLevel()
	if err := zapLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		zapLevel.SetLevel(zap.InfoLevel)
	}
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zapLevel
	zl, err := zapCfg.Build()
	if err != nil {
		return err
	}
	defer zl.Sync()
	log := zapr.NewLogger(zl).WithValues(obslog.NewFields().Component("orchestrator").Pairs()...)
	go appconfig.WatchLogLevel(ctx, cfgPath, log, zapLevel)

	pool, err := pgxpool.New(ctx, cfg.Store.PostgresDSN)
	if err != nil {
		return fmt.Errorf("orchestrator: connect postgres: %w", err)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Store.RedisAddr})
	defer rdb.Close()

	auditBus := bus.NewRedisBus(rdb, "investigator:audit-events")
	auditClient := audit.NewAuditClient(audit.NewBufferedStore(audit.NewBusStore(auditBus), log, audit.DefaultBufferedStoreConfig()), log)
	defer auditClient.Close()

	store := persistence.NewPostgresStore(pool)

	known := make(map[string]struct{}, len(cfg.Gateway.KnownTechniqueIDs))
	for _, id := range cfg.Gateway.KnownTechniqueIDs {
		known[id] = struct{}{}
	}
	gwCfg := gateway.Config{
		MonthlyHardCapUSD:   cfg.Gateway.MonthlyHardCapUSD,
		MonthlySoftAlertUSD: cfg.Gateway.MonthlySoftAlertUSD,
		Retry: gateway.RetryPolicy{
			MaxRetries: cfg.Gateway.MaxRetries,
			BaseDelay:  time.Duration(cfg.Gateway.BaseDelaySeconds * float64(time.Second)),
		},
		KnownTechniqueIDs: known,
	}
	ledger := gateway.NewPostgresSpendLedger(pool)
	budget := gateway.NewBudgetGate(ledger, cfg.Gateway.MonthlyHardCapUSD, cfg.Gateway.MonthlySoftAlertUSD)

	// Tier0 gateway backs IOC extraction; tier1/tier1p reasoning shares a
	// second gateway bound to the tier1 provider, matching agents.ReasoningAgent's
	// single *gateway.Gateway dependency — tier1p escalation within a single
	// investigation is framed by prompt assembly (pkg/gateway.Assemble's
	// per-tier context budget), not by swapping providers mid-investigation.
	tier0Provider, err := buildBedrockProvider(ctx, cfg.Gateway.Providers.Tier0)
	if err != nil {
		return err
	}
	tier1Provider, err := buildAnthropicProvider(cfg.Gateway.Providers.Tier1)
	if err != nil {
		return err
	}
	iocGateway := gateway.New(gwCfg, budget, tier0Provider, nil, auditClient, log)
	reasoningGateway := gateway.New(gwCfg, budget, tier1Provider, nil, auditClient, log)

	parser := agents.NewHeuristicEntityParser()
	iocEnricher := agents.NewGatewayIOCEnricher(iocGateway)

	killSwitch := fpgovernance.NewKillSwitchStore(rdb, auditClient)
	patternCache := fpgovernance.NewPatternCache(rdb)
	if err := patternCache.Refresh(ctx); err != nil {
		return fmt.Errorf("orchestrator: initial pattern cache refresh: %w", err)
	}
	matcher := fpgovernance.NewMatcher(patternCache, killSwitch)
	fpMatcher := agents.NewFPGovernanceMatcher(func(ctx context.Context, alert contracts.Alert, bundle contracts.EntityBundle, ruleFamily, assetClass string) (string, float64, bool, error) {
		result, err := matcher.Match(ctx, alert, bundle, ruleFamily, assetClass)
		if err != nil {
			return "", 0, false, err
		}
		if result == nil {
			return "", 0, false, nil
		}
		return result.PatternID, result.Confidence, true, nil
	})

	enrichmentAgents := []orchestrator.EnrichmentAgent{
		agents.NewBehaviouralAgent(stores.NewBehaviouralStore(pool)),
		agents.NewExposureAgent(stores.NewExposureStore(pool)),
		agents.NewAdversarialMLAgent(stores.NewAdversarialMLStore(pool)),
	}

	reasoner := agents.NewReasoningAgent(reasoningGateway, stores.NewVectorIndex(pool), log)
	responder := agents.NewPlaybookResponder(stores.NewPlaybookStore(pool), stores.NewBusActionDispatcher(bus.NewRedisBus(rdb, "investigator:action-dispatch"), nil))

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go func() {
		if err := patternCache.WatchStatusChanges(watchCtx, "fp_pattern.status_changed"); err != nil && watchCtx.Err() == nil {
			log.Error(err, "orchestrator: pattern cache watch stopped")
		}
	}()
	go patternCache.RefreshTicker(watchCtx, time.Minute)

	notifier, err := buildNotifier(cfg.Notification)
	if err != nil {
		return err
	}
	gate := approval.NewGate(rdb, notifier, auditClient, nil, nil)
	sweeper := approval.NewSweeper(gate, store, auditClient, log)
	go runApprovalSweep(watchCtx, sweeper, log)

	engine := orchestrator.New(orchestrator.DefaultConfig(), parser, iocEnricher, fpMatcher, enrichmentAgents,
		reasoner, responder, gate, store, auditClient, nil, log)

	h := &handlers{engine: engine, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"POST", "GET"}}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/v1/alerts", h.ingestAlert)
	r.Post("/v1/investigations/{investigation_id}/decision", h.resumeApproval)

	srv := &http.Server{Addr: ":" + cfg.Server.MetricsPort, Handler: r}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("orchestrator listening", "addr", srv.Addr)

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

// runApprovalSweep closes AWAITING_HUMAN investigations whose deadline
// has passed, per spec.md §4.1's approval gate expiration branch.
func runApprovalSweep(ctx context.Context, sweeper *approval.Sweeper, log logr.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sweeper.Sweep(ctx); err != nil {
				log.Error(err, "orchestrator: approval sweep failed")
			}
		}
	}
}

func buildBedrockProvider(ctx context.Context, modelID string) (gateway.Provider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load AWS config: %w", err)
	}
	return gateway.NewBedrockProvider(bedrockruntime.NewFromConfig(awsCfg), modelID), nil
}

func buildAnthropicProvider(modelID string) (gateway.Provider, error) {
	client := anthropic.NewClient(anthropicoption.WithAPIKey(os.Getenv("ANTHROPIC_API_KEY")))
	return gateway.NewAnthropicProvider(client, modelID), nil
}

func buildNotifier(cfg appconfig.NotificationConfig) (approval.Notifier, error) {
	httpClient := httpclient.NewClient(httpclient.DefaultClientConfig())
	client := slack.New(os.Getenv("SLACK_BOT_TOKEN"), slack.OptionHTTPClient(httpClient))
	return approval.NewSlackNotifier(client, cfg.SlackChannel), nil
}

type handlers struct {
	engine *orchestrator.Engine
	log    logr.Logger
}

// ingestAlert decodes the request body directly into contracts.Alert and
// defers field validation to Engine.Run, which calls Alert.Validate() as
// its first step — there is no separate request DTO here for
// go-playground/validator/v10 to attach tags to (see cmd/governance for
// where this repo does use it, at handler-local request bodies that
// aren't domain types).
func (h *handlers) ingestAlert(w http.ResponseWriter, r *http.Request) {
	var alert contracts.Alert
	if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	inv, err := h.engine.Run(r.Context(), alert)
	if !h.respondErr(w, err, alert.TenantID) {
		return
	}
	h.writeJSON(w, inv)
}

type decisionRequest struct {
	Approved bool `json:"approved"`
}

func (h *handlers) resumeApproval(w http.ResponseWriter, r *http.Request) {
	investigationID := chi.URLParam(r, "investigation_id")
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	inv, err := h.engine.ResumeFromApproval(r.Context(), investigationID, req.Approved)
	if !h.respondErr(w, err, investigationID) {
		return
	}
	h.writeJSON(w, inv)
}

func (h *handlers) respondErr(w http.ResponseWriter, err error, subject string) bool {
	if err == nil {
		return true
	}
	h.log.Error(err, "orchestrator: operation failed", "subject", subject)
	w.WriteHeader(apperrors.GetStatusCode(err))
	_ = json.NewEncoder(w).Encode(map[string]string{"error": apperrors.SafeErrorMessage(err)})
	return false
}

func (h *handlers) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

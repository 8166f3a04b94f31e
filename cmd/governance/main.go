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

// Command governance runs the False-Positive Governance Engine's HTTP
// surface: the five Governance API operations of spec.md §6 (approve,
// revoke, reaffirm, activate_kill_switch, deactivate_kill_switch), plus a
// periodic expiry sweep and a live audit-event tail for operators.
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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/soclabs/investigator/internal/apperrors"
	"github.com/soclabs/investigator/internal/bus"
	appconfig "github.com/soclabs/investigator/internal/config"
	"github.com/soclabs/investigator/internal/obslog"
	"github.com/soclabs/investigator/pkg/audit"
	"github.com/soclabs/investigator/pkg/contracts"
	"github.com/soclabs/investigator/pkg/fpgovernance"
	"github.com/soclabs/investigator/pkg/orchestrator/persistence"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:   "governance",
		Short: "False-Positive Governance Engine HTTP surface",
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
	log := zapr.NewLogger(zl).WithValues(obslog.NewFields().Component("governance").Pairs()...)
	go appconfig.WatchLogLevel(ctx, cfgPath, log, zapLevel)

	pool, err := pgxpool.New(ctx, cfg.Store.PostgresDSN)
	if err != nil {
		return fmt.Errorf("governance: connect postgres: %w", err)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Store.RedisAddr})
	defer rdb.Close()

	auditBus := bus.NewRedisBus(rdb, "investigator:audit-events")
	auditClient := audit.NewAuditClient(audit.NewBufferedStore(audit.NewBusStore(auditBus), log, audit.DefaultBufferedStoreConfig()), log)
	defer auditClient.Close()

	patternBus := bus.NewRedisBus(rdb, "investigator:approved-fp-pattern")

	cache := fpgovernance.NewPatternCache(rdb)
	if err := cache.Refresh(ctx); err != nil {
		return fmt.Errorf("governance: initial pattern cache refresh: %w", err)
	}
	killSwitch := fpgovernance.NewKillSwitchStore(rdb, auditClient)
	reopener := persistence.NewReopenerStore(pool)
	governance := fpgovernance.NewGovernance(cache, reopener, auditClient, nil)
	canary := fpgovernance.NewCanary(rdb, cache)
	shadow := fpgovernance.NewShadowStore(rdb, cfg.Governance.ShadowWindow)

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go func() {
		if err := cache.WatchStatusChanges(watchCtx, "fp_pattern.status_changed"); err != nil && watchCtx.Err() == nil {
			log.Error(err, "governance: pattern cache watch stopped")
		}
	}()
	go cache.RefreshTicker(watchCtx, time.Minute)
	go runExpirySweep(watchCtx, governance, patternBus, log)

	validate := validator.New()

	h := &handlers{
		governance: governance,
		killSwitch: killSwitch,
		canary:     canary,
		shadow:     shadow,
		patternBus: patternBus,
		rdb:        rdb,
		validate:   validate,
		log:        log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"POST", "GET"}}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Route("/patterns/{pattern_id}", func(r chi.Router) {
		r.Post("/approve", h.approve)
		r.Post("/revoke", h.revoke)
		r.Post("/reaffirm", h.reaffirm)
	})
	r.Post("/kill-switch/activate", h.activateKillSwitch)
	r.Post("/kill-switch/deactivate", h.deactivateKillSwitch)
	r.Get("/audit/tail", h.auditTail)

	srv := &http.Server{Addr: ":" + cfg.Server.GovernancePort, Handler: r}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("governance listening", "addr", srv.Addr)

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

// runExpirySweep checks pattern expiry once an hour, per spec.md §4.3's
// 90-day expiry invariant, and publishes one expiry notice on the pattern
// bus for each pattern whose expiry date has passed. The cached patterns'
// status is not changed here.
func runExpirySweep(ctx context.Context, governance *fpgovernance.Governance, patternBus *bus.RedisBus, log logr.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired := governance.CheckExpiry(ctx, time.Now())
			for _, id := range expired {
				if err := patternBus.Publish(ctx, id, []byte(`{"pattern_id":"`+id+`","status":"expired"}`)); err != nil {
					log.Error(err, "governance: publish expiry notice failed", "pattern_id", id)
				}
			}
		}
	}
}

type handlers struct {
	governance *fpgovernance.Governance
	killSwitch *fpgovernance.KillSwitchStore
	canary     *fpgovernance.Canary
	shadow     *fpgovernance.ShadowStore
	patternBus *bus.RedisBus
	rdb        *redis.Client
	validate   *validator.Validate
	log        logr.Logger
}

type approverRequest struct {
	Approver string `json:"approver" validate:"required"`
}

func (h *handlers) approve(w http.ResponseWriter, r *http.Request) {
	patternID := chi.URLParam(r, "pattern_id")
	var req approverRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	pattern, err := h.governance.Approve(r.Context(), patternID, req.Approver)
	if !h.respondErr(w, err) {
		return
	}
	h.publishPatternChange(r.Context(), *pattern)
	h.writeJSON(w, pattern)
}

func (h *handlers) revoke(w http.ResponseWriter, r *http.Request) {
	patternID := chi.URLParam(r, "pattern_id")
	var req approverRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	err := h.governance.Revoke(r.Context(), patternID, req.Approver)
	if !h.respondErr(w, err) {
		return
	}
	h.publishPatternChange(r.Context(), contracts.FPPattern{ID: patternID, Status: contracts.PatternRevoked})
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) reaffirm(w http.ResponseWriter, r *http.Request) {
	patternID := chi.URLParam(r, "pattern_id")
	var req approverRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	pattern, err := h.governance.Reaffirm(r.Context(), patternID, req.Approver)
	if !h.respondErr(w, err) {
		return
	}
	h.publishPatternChange(r.Context(), *pattern)
	h.writeJSON(w, pattern)
}

type killSwitchRequest struct {
	Dimension contracts.KillSwitchDimension `json:"dimension" validate:"required"`
	Value     string                        `json:"value" validate:"required"`
	Activator string                        `json:"activator"`
	By        string                        `json:"by"`
	Reason    string                        `json:"reason"`
}

func (h *handlers) activateKillSwitch(w http.ResponseWriter, r *http.Request) {
	var req killSwitchRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	if req.Activator == "" {
		http.Error(w, "activator is required", http.StatusBadRequest)
		return
	}
	err := h.killSwitch.Activate(r.Context(), contracts.KillSwitch{
		Dimension: req.Dimension, Value: req.Value, Activator: req.Activator,
		Timestamp: time.Now().UTC(), Reason: req.Reason,
	})
	if !h.respondErr(w, err) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) deactivateKillSwitch(w http.ResponseWriter, r *http.Request) {
	var req killSwitchRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	if req.By == "" {
		http.Error(w, "by is required", http.StatusBadRequest)
		return
	}
	err := h.killSwitch.Deactivate(r.Context(), req.Dimension, req.Value, req.By)
	if !h.respondErr(w, err) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// auditTail upgrades to a websocket and forwards every message published
// on the Redis audit-events channel pattern, giving an operator a live
// feed without standing up a separate log aggregator subscription.
func (h *handlers) auditTail(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error(err, "governance: websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := h.rdb.PSubscribe(r.Context(), "investigator:audit-events:*")
	defer sub.Close()

	msgCh := sub.Channel()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *handlers) publishPatternChange(ctx context.Context, p contracts.FPPattern) {
	payload, err := json.Marshal(p)
	if err != nil {
		h.log.Error(err, "governance: marshal pattern for publish failed", "pattern_id", p.ID)
		return
	}
	if err := h.patternBus.Publish(ctx, p.ID, payload); err != nil {
		h.log.Error(err, "governance: publish approved-pattern notice failed", "pattern_id", p.ID)
	}
}

func (h *handlers) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *handlers) respondErr(w http.ResponseWriter, err error) bool {
	if err == nil {
		return true
	}
	h.log.Error(err, "governance: operation failed")
	w.WriteHeader(apperrors.GetStatusCode(err))
	_ = json.NewEncoder(w).Encode(map[string]string{"error": apperrors.SafeErrorMessage(err)})
	return false
}

func (h *handlers) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/calebsw/verdict/actions"
	"github.com/calebsw/verdict/decision"
	"github.com/calebsw/verdict/internal/logger"
)

type Server struct {
	db     *sql.DB
	store  decision.RuleStore
	sink   decision.LogSink
	engine *decision.Engine
	router *chi.Mux
}

func NewServer(databaseURL string) (*Server, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewServerWithDB(db)
}

// NewServerWithDB builds a server on an existing database connection.
func NewServerWithDB(db *sql.DB) (*Server, error) {
	store := decision.NewPostgresStore(db)
	states := decision.NewPostgresStateStore(db)
	sink := decision.NewPostgresLogSink(db)
	alerts := actions.NewPostgresAlertSink(db)
	dispatcher := actions.NewDefaultRegistry(states, states, alerts, logger.Logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := decision.NewMetrics(registry)

	engine, err := decision.NewEngine(store, states, dispatcher, sink,
		decision.WithMetrics(metrics),
		decision.WithEntityLocks(),
		decision.WithLogger(logger.Logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	s := &Server{
		db:     db,
		store:  store,
		sink:   sink,
		engine: engine,
	}
	s.setupRoutes(registry)
	return s, nil
}

func (s *Server) setupRoutes(registry *prometheus.Registry) {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Post("/", s.handleCreateRule)
		r.Get("/", s.handleListRules)

		r.Route("/{ruleId}", func(r chi.Router) {
			r.Get("/", s.handleGetRule)
			r.Put("/", s.handleUpdateRule)
			r.Delete("/", s.handleDeleteRule)

			r.Post("/plan", s.handleAddPlanStep)
			r.Get("/plan", s.handleGetPlan)
		})
	})

	r.Route("/api/v1/actions", func(r chi.Router) {
		r.Post("/", s.handleCreateAction)
		r.Get("/", s.handleListActions)
	})

	r.Route("/api/v1/decisions/{logicalId}", func(r chi.Router) {
		r.Post("/evaluate", s.handleEvaluate)
		r.Post("/simulate", s.handleSimulate)
	})

	r.Route("/api/v1/decision-logs", func(r chi.Router) {
		r.Get("/", s.handleListLogs)
		r.Get("/{logId}", s.handleGetLog)
		r.Post("/{logId}/execute", s.handleExecutePending)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "healthy",
		"totalErrors":   logger.TotalErrors.Load(),
		"totalWarnings": logger.TotalWarnings.Load(),
	})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule := req.toRule("")
	if err := s.engine.ValidateRule(rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}

	if err := s.store.AddRule(r.Context(), rule); err != nil {
		respondStoreError(w, "failed to create rule", err)
		return
	}
	s.engine.InvalidateCache()

	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.ListRules(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	if rules == nil {
		rules = []*decision.DecisionRule{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.store.GetRule(r.Context(), chi.URLParam(r, "ruleId"))
	if err != nil {
		respondStoreError(w, "failed to get rule", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule := req.toRule(ruleID)
	if err := s.engine.ValidateRule(rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}

	if err := s.store.UpdateRule(r.Context(), rule); err != nil {
		respondStoreError(w, "failed to update rule", err)
		return
	}
	s.engine.InvalidateCache()

	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRule(r.Context(), chi.URLParam(r, "ruleId")); err != nil {
		respondStoreError(w, "failed to delete rule", err)
		return
	}
	s.engine.InvalidateCache()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	action := &decision.ActionDefinition{
		Name:   req.Name,
		Type:   req.Type,
		Config: req.Config,
	}
	if err := decision.ValidateAction(action); err != nil {
		respondError(w, http.StatusBadRequest, "invalid action", err)
		return
	}

	if err := s.store.AddAction(r.Context(), action); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create action", err)
		return
	}

	respondJSON(w, http.StatusCreated, action)
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	actionList, err := s.store.ListActions(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list actions", err)
		return
	}
	if actionList == nil {
		actionList = []*decision.ActionDefinition{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"actions": actionList})
}

func (s *Server) handleAddPlanStep(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	var req PlanStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	step := &decision.ExecutionPlanStep{
		DecisionRuleID:     ruleID,
		ActionDefinitionID: req.ActionDefinitionID,
		StepOrder:          req.StepOrder,
		ContinueOnFailure:  req.ContinueOnFailure,
	}
	if err := decision.ValidatePlanStep(step); err != nil {
		respondError(w, http.StatusBadRequest, "invalid plan step", err)
		return
	}

	// Referenced rule and action must exist before the step is attached.
	if _, err := s.store.GetRule(r.Context(), ruleID); err != nil {
		respondStoreError(w, "failed to get rule", err)
		return
	}
	if _, err := s.store.GetActionDefinition(r.Context(), req.ActionDefinitionID); err != nil {
		respondStoreError(w, "failed to get action", err)
		return
	}

	if err := s.store.AddPlanStep(r.Context(), step); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to add plan step", err)
		return
	}

	respondJSON(w, http.StatusCreated, step)
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	if _, err := s.store.GetRule(r.Context(), ruleID); err != nil {
		respondStoreError(w, "failed to get rule", err)
		return
	}

	steps, err := s.store.GetExecutionPlan(r.Context(), ruleID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get execution plan", err)
		return
	}
	if steps == nil {
		steps = []*decision.ExecutionPlanStep{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"steps": steps})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	s.runTrigger(w, r, false)
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	s.runTrigger(w, r, true)
}

func (s *Server) runTrigger(w http.ResponseWriter, r *http.Request, simulate bool) {
	logicalID := chi.URLParam(r, "logicalId")

	var req TriggerRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}

	trigger := &decision.TriggerEvent{
		Type:         decision.TriggerManual,
		LogicalID:    logicalID,
		EntityTypeID: req.EntityTypeID,
		Data:         req.Data,
		Confidence:   req.Confidence,
	}

	if req.RuleID != "" {
		result, err := s.engine.ProcessRule(r.Context(), req.RuleID, trigger, simulate)
		if err != nil {
			respondStoreError(w, "evaluation failed", err)
			return
		}
		respondJSON(w, http.StatusOK, result)
		return
	}

	var (
		result *decision.TriggerResult
		err    error
	)
	if simulate {
		result, err = s.engine.Simulate(r.Context(), trigger)
	} else {
		result, err = s.engine.Process(r.Context(), trigger)
	}
	if err != nil {
		respondStoreError(w, "evaluation failed", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	filter := decision.LogFilter{
		LogicalID: r.URL.Query().Get("logicalId"),
		RuleID:    r.URL.Query().Get("ruleId"),
		Status:    r.URL.Query().Get("status"),
		Limit:     100,
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			respondError(w, http.StatusBadRequest, "invalid limit", err)
			return
		}
		filter.Limit = limit
	}

	logs, err := s.sink.ListLogs(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list decision logs", err)
		return
	}
	if logs == nil {
		logs = []*decision.DecisionLog{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	log, err := s.sink.GetLog(r.Context(), chi.URLParam(r, "logId"))
	if err != nil {
		respondStoreError(w, "failed to get decision log", err)
		return
	}
	respondJSON(w, http.StatusOK, log)
}

func (s *Server) handleExecutePending(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.ExecutePending(r.Context(), chi.URLParam(r, "logId"))
	if err != nil {
		if errors.Is(err, decision.ErrNotPending) {
			respondError(w, http.StatusConflict, "decision is not pending", err)
			return
		}
		if errors.Is(err, decision.ErrAlreadyConfirmed) {
			respondError(w, http.StatusConflict, "decision was already confirmed", err)
			return
		}
		respondStoreError(w, "failed to execute pending decision", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

// respondStoreError maps the store sentinels to HTTP statuses.
func respondStoreError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, decision.ErrRuleNotFound),
		errors.Is(err, decision.ErrActionNotFound),
		errors.Is(err, decision.ErrLogNotFound),
		errors.Is(err, decision.ErrEntityNotFound):
		respondError(w, http.StatusNotFound, message, err)
	case errors.Is(err, decision.ErrRuleDisabled):
		respondError(w, http.StatusConflict, message, err)
	default:
		respondError(w, http.StatusInternalServerError, message, err)
	}
}

func main() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Fatal("DATABASE_URL environment variable is required")
	}

	server, err := NewServer(databaseURL)
	if err != nil {
		logger.Fatal("Failed to create server", "error", err)
	}
	defer server.db.Close()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server starting", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	if err := logger.Shutdown(ctx); err != nil {
		logger.Error("Logger shutdown error", "error", err)
	}

	logger.Info("Server stopped")
}

// Package webui serves the ticketsmith HTTP surface: the SMS webhook, the dashboard JSON
// API, health and Prometheus metrics.
package webui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ticketsmith/pkg/feedback"
	"ticketsmith/pkg/lifecycle"
	"ticketsmith/pkg/logx"
	"ticketsmith/pkg/persistence"
	"ticketsmith/pkg/version"
)

// Store is the read side of the durable store plus the writes the API performs directly.
type Store interface {
	CreateRepoConfig(rc *persistence.RepoConfig) error
	GetRepoConfig(id string) (*persistence.RepoConfig, error)
	ListRepoConfigs() ([]*persistence.RepoConfig, error)
	GetProject(id string) (*persistence.Project, error)
	ListProjectsByRepo(repoConfigID string) ([]*persistence.Project, error)
	GetPlan(id string) (*persistence.Plan, error)
	GetActivePlan(projectID string) (*persistence.Plan, error)
	ListFeedback(limit int) ([]*persistence.FeedbackRecord, error)
	ListFeedbackByIdentity(identity string) ([]*persistence.FeedbackRecord, error)
	AppendExecutionLog(entry *persistence.ExecutionLog) error
	ListExecutionLogs(projectID string, limit int) ([]*persistence.ExecutionLog, error)
}

// Lifecycle is the project state machine. Implemented by *lifecycle.Controller.
type Lifecycle interface {
	CreateProject(ctx context.Context, p *persistence.Project) (*persistence.Project, error)
	ApproveProject(ctx context.Context, projectID string, autoGeneratePlan bool) (*lifecycle.IssueResult, error)
	GeneratePlan(ctx context.Context, projectID string) (*persistence.Plan, error)
	ApprovePlan(ctx context.Context, planID, content string) (*lifecycle.BuildOutcome, error)
	CloseProject(ctx context.Context, projectID string) (*persistence.Project, error)
	ActiveProject(ctx context.Context, repoConfigID string) (*persistence.Project, error)
	PromoteFeedback(ctx context.Context, feedbackID, repoConfigID, ticketType string) (*persistence.Project, error)
	CoderStatus(ctx context.Context, projectID string) (*lifecycle.CoderStatus, error)
}

// Intake handles one inbound message. Implemented by *feedback.Engine.
type Intake interface {
	HandleInbound(ctx context.Context, identity, text string) (feedback.Reply, error)
}

// Server represents the HTTP server.
type Server struct {
	store     Store
	lifecycle Lifecycle
	intake    Intake
	gatherer  prometheus.Gatherer
	logger    *logx.Logger
}

// NewServer creates a server. A nil gatherer serves the default Prometheus registry.
func NewServer(store Store, lc Lifecycle, intake Intake, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		store:     store,
		lifecycle: lc,
		intake:    intake,
		gatherer:  gatherer,
		logger:    logx.NewLogger("webui"),
	}
}

// Router builds the chi router with every route registered.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Post("/sms/incoming", s.handleSMSIncoming)

	r.Route("/api", func(r chi.Router) {
		r.Get("/logs", s.handleLogs)

		r.Route("/repos", func(r chi.Router) {
			r.Get("/", s.handleListRepos)
			r.Post("/", s.handleCreateRepo)
			r.Get("/{id}", s.handleGetRepo)
			r.Get("/{id}/projects", s.handleListRepoProjects)
			r.Get("/{id}/active-project", s.handleActiveProject)
		})

		r.Route("/projects", func(r chi.Router) {
			r.Post("/", s.handleCreateProject)
			r.Get("/{id}", s.handleGetProject)
			r.Post("/{id}/approve", s.handleApproveProject)
			r.Post("/{id}/generate-plan", s.handleGeneratePlan)
			r.Post("/{id}/close", s.handleCloseProject)
			r.Get("/{id}/logs", s.handleListLogs)
			r.Post("/{id}/logs", s.handleAppendLog)
			r.Get("/{id}/coder-status", s.handleCoderStatus)
		})

		r.Route("/plans", func(r chi.Router) {
			r.Get("/{id}", s.handleGetPlan)
			r.Post("/{id}/approve", s.handleApprovePlan)
		})

		r.Route("/feedback", func(r chi.Router) {
			r.Get("/", s.handleListFeedback)
			r.Get("/by-identity/{identity}", s.handleFeedbackByIdentity)
			r.Post("/{id}/promote", s.handlePromoteFeedback)
		})
	})

	return r
}

// StartServer listens on host:port until ctx is cancelled, then shuts down gracefully.
// It returns once the listener has stopped.
func (s *Server) StartServer(ctx context.Context, host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("🌐 Listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	//nolint:contextcheck // Parent context is cancelled; we need a fresh context for shutdown
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// handleLogs implements GET /api/logs?component=&since=RFC3339.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var since time.Time
	if raw := query.Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid since parameter (use RFC3339)")
			return
		}
		since = parsed
	}

	s.writeJSON(w, http.StatusOK, logx.GetRecentLogEntries(query.Get("component"), since))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeFailure maps a domain error onto its HTTP status.
func (s *Server) writeFailure(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("❌ %s: %v", op, err)
	} else {
		s.logger.Warn("%s: %v", op, err)
	}
	s.writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var exhausted *lifecycle.AgentExhaustedError
	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		return http.StatusNotFound
	case lifecycle.IsPrecondition(err):
		return http.StatusConflict
	case errors.As(err, &exhausted):
		return http.StatusUnprocessableEntity
	case lifecycle.IsTransient(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

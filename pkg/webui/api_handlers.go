package webui

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"ticketsmith/pkg/lifecycle"
	"ticketsmith/pkg/persistence"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// executionLogLimit is how many rows GET /api/projects/{id}/logs returns.
const executionLogLimit = 200

type createRepoRequest struct {
	Owner            string `json:"github_owner"`
	Repo             string `json:"github_repo"`
	Branch           string `json:"github_branch"`
	GitHubToken      string `json:"github_token"`
	TestCommand      string `json:"test_command"`
	BuildCommand     string `json:"build_command"`
	LintCommand      string `json:"lint_command"`
	AutoCreateIssues bool   `json:"auto_create_issues"`
	AutoCreatePRs    bool   `json:"auto_create_prs"`
}

type createProjectRequest struct {
	RepoConfigID  string `json:"repo_config_id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	TicketType    string `json:"ticket_type"`
	SeverityScore int    `json:"severity_score"`
}

type approveProjectRequest struct {
	AutoGeneratePlan *bool `json:"auto_generate_plan"`
}

type approvePlanRequest struct {
	Content string `json:"content"`
}

type appendLogRequest struct {
	Metadata map[string]any       `json:"metadata"`
	Level    persistence.LogLevel `json:"log_level"`
	StepName string               `json:"step_name"`
	Message  string               `json:"message"`
}

type promoteRequest struct {
	RepoConfigID string `json:"repo_config_id"`
	TicketType   string `json:"ticket_type"`
}

// projectView is the GET /api/projects/{id} body.
type projectView struct {
	Project *persistence.Project        `json:"project"`
	Plan    *persistence.Plan           `json:"plan"`
	Logs    []*persistence.ExecutionLog `json:"logs"`
}

// decodeJSON reads an optional JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func (s *Server) handleListRepos(w http.ResponseWriter, _ *http.Request) {
	repos, err := s.store.ListRepoConfigs()
	if err != nil {
		s.writeFailure(w, "list repos", err)
		return
	}
	if repos == nil {
		repos = []*persistence.RepoConfig{}
	}
	s.writeJSON(w, http.StatusOK, repos)
}

func (s *Server) handleCreateRepo(w http.ResponseWriter, r *http.Request) {
	var req createRepoRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Owner) == "" || strings.TrimSpace(req.Repo) == "" {
		s.writeError(w, http.StatusBadRequest, "github_owner and github_repo are required")
		return
	}

	rc := &persistence.RepoConfig{
		Owner:            strings.TrimSpace(req.Owner),
		Repo:             strings.TrimSpace(req.Repo),
		Branch:           strings.TrimSpace(req.Branch),
		GitHubToken:      req.GitHubToken,
		TestCommand:      req.TestCommand,
		BuildCommand:     req.BuildCommand,
		LintCommand:      req.LintCommand,
		AutoCreateIssues: req.AutoCreateIssues,
		AutoCreatePRs:    req.AutoCreatePRs,
	}
	if err := s.store.CreateRepoConfig(rc); err != nil {
		s.writeFailure(w, "create repo", err)
		return
	}
	s.logger.Info("📦 Repository %s registered as %s", rc.FullName(), rc.ID)
	s.writeJSON(w, http.StatusCreated, rc)
}

func (s *Server) handleGetRepo(w http.ResponseWriter, r *http.Request) {
	rc, err := s.store.GetRepoConfig(chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, "get repo", err)
		return
	}
	s.writeJSON(w, http.StatusOK, rc)
}

func (s *Server) handleListRepoProjects(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetRepoConfig(id); err != nil {
		s.writeFailure(w, "list projects", err)
		return
	}
	projects, err := s.store.ListProjectsByRepo(id)
	if err != nil {
		s.writeFailure(w, "list projects", err)
		return
	}
	if projects == nil {
		projects = []*persistence.Project{}
	}
	s.writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleActiveProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.lifecycle.ActiveProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, "active project", err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RepoConfigID == "" || strings.TrimSpace(req.Title) == "" {
		s.writeError(w, http.StatusBadRequest, "repo_config_id and title are required")
		return
	}
	if req.TicketType != "" && !persistence.IsValidTicketType(req.TicketType) {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid ticket_type %q", req.TicketType))
		return
	}

	p, err := s.lifecycle.CreateProject(r.Context(), &persistence.Project{
		RepoConfigID:  req.RepoConfigID,
		Title:         strings.TrimSpace(req.Title),
		Description:   req.Description,
		TicketType:    req.TicketType,
		SeverityScore: req.SeverityScore,
	})
	if err != nil {
		s.writeFailure(w, "create project", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetProject(chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, "get project", err)
		return
	}

	view := projectView{Project: p}
	switch plan, err := s.store.GetActivePlan(p.ID); {
	case err == nil:
		view.Plan = plan
	case !errors.Is(err, persistence.ErrNotFound):
		s.writeFailure(w, "get project", err)
		return
	}
	logs, err := s.store.ListExecutionLogs(p.ID, executionLogLimit)
	if err != nil {
		s.writeFailure(w, "get project", err)
		return
	}
	view.Logs = logs
	if view.Logs == nil {
		view.Logs = []*persistence.ExecutionLog{}
	}
	s.writeJSON(w, http.StatusOK, view)
}

// handleApproveProject implements POST /api/projects/{id}/approve. Plan generation
// follows issue creation unless the body sets auto_generate_plan to false.
func (s *Server) handleApproveProject(w http.ResponseWriter, r *http.Request) {
	var req approveProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	autoPlan := req.AutoGeneratePlan == nil || *req.AutoGeneratePlan

	res, err := s.lifecycle.ApproveProject(r.Context(), chi.URLParam(r, "id"), autoPlan)
	if err != nil {
		s.writeFailure(w, "approve project", err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGeneratePlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.lifecycle.GeneratePlan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, "generate plan", err)
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleCloseProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.lifecycle.CloseProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, "close project", err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetProject(id); err != nil {
		s.writeFailure(w, "list logs", err)
		return
	}
	logs, err := s.store.ListExecutionLogs(id, executionLogLimit)
	if err != nil {
		s.writeFailure(w, "list logs", err)
		return
	}
	if logs == nil {
		logs = []*persistence.ExecutionLog{}
	}
	s.writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleAppendLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req appendLogRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.Level == "" {
		req.Level = persistence.LogInfo
	}
	if !persistence.IsValidLogLevel(req.Level) {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid log_level %q", req.Level))
		return
	}
	if _, err := s.store.GetProject(id); err != nil {
		s.writeFailure(w, "append log", err)
		return
	}

	entry := &persistence.ExecutionLog{
		ProjectID: id,
		Level:     req.Level,
		StepName:  req.StepName,
		Message:   req.Message,
		Metadata:  req.Metadata,
	}
	if err := s.store.AppendExecutionLog(entry); err != nil {
		s.writeFailure(w, "append log", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleCoderStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.lifecycle.CoderStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, "coder status", err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.store.GetPlan(chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, "get plan", err)
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}

// handleApprovePlan implements POST /api/plans/{id}/approve. The build runs inside the
// request; a failed build still returns the outcome next to the error.
func (s *Server) handleApprovePlan(w http.ResponseWriter, r *http.Request) {
	var req approvePlanRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := s.lifecycle.ApprovePlan(r.Context(), chi.URLParam(r, "id"), req.Content)
	if err != nil {
		if outcome == nil {
			s.writeFailure(w, "approve plan", err)
			return
		}
		s.logger.Warn("approve plan: %v", err)
		s.writeJSON(w, statusFor(err), map[string]any{
			"error":   err.Error(),
			"outcome": outcome,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, outcome)
}

// handleListFeedback implements GET /api/feedback?limit=N. The store clamps N to
// persistence.MaxFeedbackListLimit.
func (s *Server) handleListFeedback(w http.ResponseWriter, r *http.Request) {
	limit := persistence.MaxFeedbackListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.store.ListFeedback(limit)
	if err != nil {
		s.writeFailure(w, "list feedback", err)
		return
	}
	if records == nil {
		records = []*persistence.FeedbackRecord{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleFeedbackByIdentity(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListFeedbackByIdentity(chi.URLParam(r, "identity"))
	if err != nil {
		s.writeFailure(w, "list feedback", err)
		return
	}
	if records == nil {
		records = []*persistence.FeedbackRecord{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handlePromoteFeedback(w http.ResponseWriter, r *http.Request) {
	var req promoteRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RepoConfigID == "" {
		s.writeError(w, http.StatusBadRequest, "repo_config_id is required")
		return
	}
	if req.TicketType != "" && !persistence.IsValidTicketType(req.TicketType) {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid ticket_type %q", req.TicketType))
		return
	}

	p, err := s.lifecycle.PromoteFeedback(r.Context(), chi.URLParam(r, "id"), req.RepoConfigID, req.TicketType)
	if err != nil {
		s.writeFailure(w, "promote feedback", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, p)
}

// Compile-time check that the controller satisfies the handler contract.
var _ Lifecycle = (*lifecycle.Controller)(nil)

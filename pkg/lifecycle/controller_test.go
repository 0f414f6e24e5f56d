package lifecycle

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketsmith/pkg/coder"
	"ticketsmith/pkg/forge"
	"ticketsmith/pkg/metrics"
	"ticketsmith/pkg/persistence"
	"ticketsmith/pkg/planner"
)

type fakeForge struct {
	mu       sync.Mutex
	issues   []forge.IssueCreateOptions
	issueErr error
	delay    time.Duration
}

func (f *fakeForge) Provider() forge.Provider { return "fake" }
func (f *fakeForge) RepoPath() string         { return "acme/web" }
func (f *fakeForge) CloneURL() string         { return "file:///nowhere" }

func (f *fakeForge) CreateIssue(_ context.Context, opts forge.IssueCreateOptions) (*forge.Issue, error) {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.issueErr != nil {
		return nil, f.issueErr
	}
	f.issues = append(f.issues, opts)
	n := len(f.issues) + 40
	return &forge.Issue{Number: n, URL: "https://github.com/acme/web/issues/" + strconv.Itoa(n)}, nil
}

func (f *fakeForge) CreatePR(context.Context, forge.PRCreateOptions) (*forge.PullRequest, error) {
	return nil, errors.New("not used")
}

func (f *fakeForge) DeleteBranch(context.Context, string) error { return nil }

func (f *fakeForge) issueCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.issues)
}

type fakePlanner struct {
	plan    string
	planErr error
	calls   int
	class   *planner.Classification
	started chan struct{} // signalled when GeneratePlan is entered, if set
	release chan struct{} // GeneratePlan waits on it, if set
}

func (f *fakePlanner) GeneratePlan(context.Context, *planner.PlanInput) (string, error) {
	f.calls++
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.planErr != nil {
		return "", f.planErr
	}
	return f.plan, nil
}

func (f *fakePlanner) EnrichIssue(_ context.Context, in planner.IssueText, _ *coder.RepoContext) planner.IssueText {
	in.Description += "\n\nEnriched."
	return in
}

func (f *fakePlanner) VerifyFormatting(_ context.Context, in planner.IssueText) planner.IssueText {
	return in
}

func (f *fakePlanner) Classify(_ context.Context, summary string) planner.Classification {
	if f.class != nil {
		return *f.class
	}
	return planner.Classification{Title: summary, TicketType: persistence.TicketFeature}
}

type fakeBuilder struct {
	calls    atomic.Int32
	delay    time.Duration
	err      error
	requests []*coder.BuildRequest
	mu       sync.Mutex
}

func (f *fakeBuilder) RunBuild(_ context.Context, req *coder.BuildRequest) (*coder.BuildResult, error) {
	n := f.calls.Add(1)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	time.Sleep(f.delay)
	if req.Progress != nil {
		req.Progress(persistence.LogInfo, "implement", "Running coding agent", nil)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &coder.BuildResult{PRNumber: 100 + int(n), PRURL: "https://github.com/acme/web/pull/" + strconv.Itoa(int(n)), Rounds: 3, Duration: time.Second}, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) Send(_ context.Context, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

type fakeUsage struct{}

func (fakeUsage) GetProjectUsage(_ context.Context, id string) (*metrics.ProjectUsage, error) {
	return &metrics.ProjectUsage{ProjectID: id, TotalTokens: 1234}, nil
}

type harness struct {
	ops      *persistence.DatabaseOperations
	ctl      *Controller
	forge    *fakeForge
	planner  *fakePlanner
	builder  *fakeBuilder
	notifier *fakeNotifier
	repo     *persistence.RepoConfig
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := persistence.OpenDatabase(filepath.Join(t.TempDir(), "lifecycle.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{
		ops:      persistence.NewDatabaseOperations(db),
		forge:    &fakeForge{},
		planner:  &fakePlanner{plan: "## Summary\nFix it"},
		builder:  &fakeBuilder{},
		notifier: &fakeNotifier{},
	}
	h.repo = &persistence.RepoConfig{Owner: "acme", Repo: "web", Branch: "main", AutoCreatePRs: true}
	require.NoError(t, h.ops.CreateRepoConfig(h.repo))

	h.ctl, err = NewController(Options{
		Store:    h.ops,
		Planner:  h.planner,
		Builder:  h.builder,
		Forge:    func(*persistence.RepoConfig) (forge.Client, error) { return h.forge, nil },
		Notifier: h.notifier,
		Usage:    fakeUsage{},
	})
	require.NoError(t, err)
	return h
}

func (h *harness) newProject(t *testing.T) *persistence.Project {
	t.Helper()
	p := &persistence.Project{RepoConfigID: h.repo.ID, Title: "Export button throws an error in Safari",
		Description: "Safari only", TicketType: persistence.TicketBug, SeverityScore: 150}
	require.NoError(t, h.ops.CreateProject(p))
	return p
}

// readyToBuild returns a project in planning with an issue and a plan.
func (h *harness) readyToBuild(t *testing.T) (*persistence.Project, *persistence.Plan) {
	t.Helper()
	p := h.newProject(t)
	res, err := h.ctl.ApproveProject(context.Background(), p.ID, true)
	require.NoError(t, err)
	plan, err := h.ops.GetPlan(res.PlanID)
	require.NoError(t, err)
	return res.Project, plan
}

func (h *harness) status(t *testing.T, id string) Status {
	t.Helper()
	p, err := h.ops.GetProject(id)
	require.NoError(t, err)
	return Status(p.Status)
}

func TestApproveProject_CreatesIssueAndPlan(t *testing.T) {
	h := newHarness(t)
	p := h.newProject(t)

	res, err := h.ctl.ApproveProject(context.Background(), p.ID, true)
	require.NoError(t, err)

	assert.Equal(t, 41, res.IssueNumber)
	assert.False(t, res.Existing)
	assert.NotEmpty(t, res.PlanID)
	assert.Equal(t, string(StatusPlanning), res.Project.Status)

	require.Len(t, h.forge.issues, 1)
	issue := h.forge.issues[0]
	assert.Equal(t, []string{"bug", "high-priority"}, issue.Labels)
	assert.Contains(t, issue.Body, "Enriched.")

	stored, err := h.ops.GetProject(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 41, stored.IssueNumber)
	assert.Equal(t, res.PlanID, stored.PlanID)
}

func TestApproveProject_WithoutPlanStaysPending(t *testing.T) {
	h := newHarness(t)
	p := h.newProject(t)

	res, err := h.ctl.ApproveProject(context.Background(), p.ID, false)
	require.NoError(t, err)
	assert.Empty(t, res.PlanID)
	assert.Equal(t, StatusPending, h.status(t, p.ID))
	assert.Equal(t, 0, h.planner.calls)
}

func TestApproveProject_SecondCallIsNoop(t *testing.T) {
	h := newHarness(t)
	p := h.newProject(t)

	first, err := h.ctl.ApproveProject(context.Background(), p.ID, false)
	require.NoError(t, err)
	second, err := h.ctl.ApproveProject(context.Background(), p.ID, false)
	require.NoError(t, err)

	assert.True(t, second.Existing)
	assert.Equal(t, first.IssueNumber, second.IssueNumber)
	assert.Equal(t, 1, h.forge.issueCount())
}

func TestApproveProject_ConcurrentCreatesOneIssue(t *testing.T) {
	h := newHarness(t)
	h.forge.delay = 50 * time.Millisecond
	p := h.newProject(t)

	const callers = 5
	var wg sync.WaitGroup
	errs := make([]error, callers)
	results := make([]*IssueResult, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.ctl.ApproveProject(context.Background(), p.ID, false)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, h.forge.issueCount())
	for i := range errs {
		if errs[i] != nil {
			assert.True(t, IsPrecondition(errs[i]), "unexpected error: %v", errs[i])
			continue
		}
		assert.Equal(t, 41, results[i].IssueNumber)
	}
}

func TestApproveProject_IssueFailureLeavesProjectRetryable(t *testing.T) {
	h := newHarness(t)
	h.forge.issueErr = errors.New("HTTP 502")
	p := h.newProject(t)

	_, err := h.ctl.ApproveProject(context.Background(), p.ID, true)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, StatusPending, h.status(t, p.ID))

	h.forge.issueErr = nil
	res, err := h.ctl.ApproveProject(context.Background(), p.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 41, res.IssueNumber)
}

func TestApproveProject_PlanFailureKeepsIssue(t *testing.T) {
	h := newHarness(t)
	h.planner.planErr = errors.New("model overloaded")
	p := h.newProject(t)

	res, err := h.ctl.ApproveProject(context.Background(), p.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 41, res.IssueNumber)
	assert.Contains(t, res.PlanError, "model overloaded")
	assert.Equal(t, StatusPending, h.status(t, p.ID))
}

func TestApproveProject_WrongState(t *testing.T) {
	h := newHarness(t)
	p := h.newProject(t)
	_, err := h.ctl.CloseProject(context.Background(), p.ID)
	require.NoError(t, err)

	_, err = h.ctl.ApproveProject(context.Background(), p.ID, false)
	var pe *PreconditionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StatusClosed, pe.Observed)

	_, err = h.ctl.ApproveProject(context.Background(), "missing", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGeneratePlan_Supersedes(t *testing.T) {
	h := newHarness(t)
	p := h.newProject(t)

	first, err := h.ctl.GeneratePlan(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPlanning, h.status(t, p.ID))

	h.planner.plan = "## Summary\nSecond take"
	second, err := h.ctl.GeneratePlan(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Version)
	assert.Equal(t, "## Summary\nSecond take", second.Content)
}

func TestGeneratePlan_Failure(t *testing.T) {
	h := newHarness(t)
	h.planner.planErr = errors.New("timeout")
	p := h.newProject(t)

	_, err := h.ctl.GeneratePlan(context.Background(), p.ID)
	assert.True(t, IsTransient(err))
	assert.Equal(t, StatusPending, h.status(t, p.ID))
}

func TestApprovePlan_Completes(t *testing.T) {
	h := newHarness(t)
	p, plan := h.readyToBuild(t)

	out, err := h.ctl.ApprovePlan(context.Background(), plan.ID, "## Edited plan")
	require.NoError(t, err)
	assert.Equal(t, 101, out.PRNumber)
	assert.Equal(t, string(StatusCompleted), out.Project.Status)
	assert.Equal(t, 101, out.Project.PRNumber)
	assert.True(t, out.Plan.Approved)

	require.Len(t, h.builder.requests, 1)
	req := h.builder.requests[0]
	assert.Equal(t, "## Edited plan", req.PlanContent)
	assert.Equal(t, p.IssueNumber, req.IssueNumber)
	assert.Equal(t, "acme", req.Repo.Owner)

	logs, err := h.ops.ListExecutionLogs(p.ID, 0)
	require.NoError(t, err)
	steps := make([]string, 0, len(logs))
	for _, l := range logs {
		steps = append(steps, l.StepName)
	}
	assert.Contains(t, steps, "implement")
	assert.Contains(t, steps, "build_completed")

	require.NotEmpty(t, h.notifier.messages)
	assert.Contains(t, h.notifier.messages[len(h.notifier.messages)-1], "PR #101")
}

func TestApprovePlan_FailureThenRetry(t *testing.T) {
	h := newHarness(t)
	p, plan := h.readyToBuild(t)
	h.builder.err = &coder.AgentExhaustedError{Reason: coder.ReasonStepLimit, Rounds: 25}

	out, err := h.ctl.ApprovePlan(context.Background(), plan.ID, "")
	var exhausted *AgentExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, string(StatusFailed), out.Project.Status)
	assert.Contains(t, out.Project.FailureReason, "step limit exceeded")

	h.builder.err = nil
	out, err = h.ctl.ApprovePlan(context.Background(), plan.ID, "")
	require.NoError(t, err)
	assert.Equal(t, string(StatusCompleted), out.Project.Status)
	assert.Empty(t, out.Project.FailureReason)
	assert.Equal(t, int32(2), h.builder.calls.Load())
	assert.Equal(t, p.ID, out.Project.ID)
}

func TestApprovePlan_CollaboratorFailureIsTransient(t *testing.T) {
	h := newHarness(t)
	_, plan := h.readyToBuild(t)
	h.builder.err = errors.New("clone acme/web: exit status 128")

	out, err := h.ctl.ApprovePlan(context.Background(), plan.ID, "")
	assert.True(t, IsTransient(err))
	assert.Equal(t, string(StatusFailed), out.Project.Status)
}

func TestApprovePlan_ConcurrentRunsOneBuild(t *testing.T) {
	h := newHarness(t)
	h.builder.delay = 50 * time.Millisecond
	_, plan := h.readyToBuild(t)

	const callers = 4
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.ctl.ApprovePlan(context.Background(), plan.ID, "")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), h.builder.calls.Load())
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, IsPrecondition(err), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)
}

func TestGeneratePlan_LateResultDoesNotTouchBuiltPlan(t *testing.T) {
	h := newHarness(t)
	p, plan := h.readyToBuild(t)

	h.planner.plan = "REGENERATED"
	h.planner.started = make(chan struct{})
	h.planner.release = make(chan struct{})
	genErr := make(chan error, 1)
	go func() {
		_, err := h.ctl.GeneratePlan(context.Background(), p.ID)
		genErr <- err
	}()
	<-h.planner.started

	out, err := h.ctl.ApprovePlan(context.Background(), plan.ID, "APPROVED CONTENT")
	require.NoError(t, err)
	assert.Equal(t, string(StatusCompleted), out.Project.Status)

	close(h.planner.release)
	err = <-genErr
	var pe *PreconditionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StatusCompleted, pe.Observed)

	stored, err := h.ops.GetPlan(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, "APPROVED CONTENT", stored.Content)
	assert.True(t, stored.Approved)
	assert.Equal(t, plan.Version, stored.Version)
	assert.Equal(t, StatusCompleted, h.status(t, p.ID))
}

// loadBarrierStore holds every status write until two callers have loaded the project,
// so both observe the same pre-state.
type loadBarrierStore struct {
	*persistence.DatabaseOperations
	loads atomic.Int32
	ready chan struct{}
}

func (s *loadBarrierStore) GetProject(id string) (*persistence.Project, error) {
	p, err := s.DatabaseOperations.GetProject(id)
	if s.loads.Add(1) == 2 {
		close(s.ready)
	}
	return p, err
}

func (s *loadBarrierStore) CompareAndSetStatus(id, expected, next string) (bool, error) {
	select {
	case <-s.ready:
	case <-time.After(2 * time.Second):
	}
	return s.DatabaseOperations.CompareAndSetStatus(id, expected, next)
}

func TestApprovePlan_RacingEditsStoreTheBuiltContent(t *testing.T) {
	h := newHarness(t)
	_, plan := h.readyToBuild(t)

	store := &loadBarrierStore{DatabaseOperations: h.ops, ready: make(chan struct{})}
	ctl, err := NewController(Options{
		Store:   store,
		Planner: h.planner,
		Builder: h.builder,
		Forge:   func(*persistence.RepoConfig) (forge.Client, error) { return h.forge, nil },
	})
	require.NoError(t, err)

	contents := []string{"## Plan from A", "## Plan from B"}
	errs := make([]error, len(contents))
	var wg sync.WaitGroup
	for i := range contents {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ctl.ApprovePlan(context.Background(), plan.ID, contents[i])
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), h.builder.calls.Load())
	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
			assert.True(t, IsPrecondition(err), "unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, failures)

	stored, err := h.ops.GetPlan(plan.ID)
	require.NoError(t, err)
	assert.True(t, stored.Approved)
	assert.Equal(t, h.builder.requests[0].PlanContent, stored.Content)
}

func TestApprovePlan_Preconditions(t *testing.T) {
	h := newHarness(t)

	// No issue yet.
	p := h.newProject(t)
	plan, err := h.ctl.GeneratePlan(context.Background(), p.ID)
	require.NoError(t, err)
	_, err = h.ctl.ApprovePlan(context.Background(), plan.ID, "")
	assert.True(t, IsPrecondition(err))

	// Completed projects cannot be rebuilt.
	_, ready := h.readyToBuild(t)
	_, err = h.ctl.ApprovePlan(context.Background(), ready.ID, "")
	require.NoError(t, err)
	_, err = h.ctl.ApprovePlan(context.Background(), ready.ID, "")
	var pe *PreconditionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StatusCompleted, pe.Observed)

	_, err = h.ctl.ApprovePlan(context.Background(), "missing", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStatusNeverRegresses(t *testing.T) {
	h := newHarness(t)
	p, plan := h.readyToBuild(t)
	_, err := h.ctl.ApprovePlan(context.Background(), plan.ID, "")
	require.NoError(t, err)

	_, err = h.ctl.GeneratePlan(context.Background(), p.ID)
	assert.True(t, IsPrecondition(err))
	_, err = h.ctl.CloseProject(context.Background(), p.ID)
	assert.True(t, IsPrecondition(err))
	assert.Equal(t, StatusCompleted, h.status(t, p.ID))
}

func TestCreateProject_AutoApprove(t *testing.T) {
	h := newHarness(t)
	auto := &persistence.RepoConfig{Owner: "acme", Repo: "api", AutoCreateIssues: true}
	require.NoError(t, h.ops.CreateRepoConfig(auto))

	p, err := h.ctl.CreateProject(context.Background(), &persistence.Project{RepoConfigID: auto.ID, Title: "Dark mode"})
	require.NoError(t, err)
	assert.True(t, p.HasIssue())
	assert.Equal(t, string(StatusPending), p.Status)
	assert.Equal(t, []string{"feature"}, h.forge.issues[0].Labels)
	assert.Contains(t, h.notifier.messages[0], "New project: Dark mode")
}

func TestPromoteFeedback(t *testing.T) {
	h := newHarness(t)
	rec := &persistence.FeedbackRecord{Identity: "+15550001", Summary: "Export button throws an error in Safari", Transcript: "user: broken"}
	require.NoError(t, h.ops.InsertFeedback(rec))

	p, err := h.ctl.PromoteFeedback(context.Background(), rec.ID, h.repo.ID, persistence.TicketBug)
	require.NoError(t, err)
	assert.Equal(t, rec.Summary, p.Title)
	assert.Equal(t, rec.ID, p.SourceFeedbackID)
	assert.Contains(t, p.Description, "user: broken")
	assert.False(t, p.HasIssue())
	assert.Equal(t, persistence.TicketBug, p.TicketType)
}

func TestPromoteFeedback_ClassifiesWhenNoTypeGiven(t *testing.T) {
	h := newHarness(t)
	h.planner.class = &planner.Classification{Title: "Safari export error", TicketType: persistence.TicketBug, SeverityScore: 140}
	rec := &persistence.FeedbackRecord{Identity: "+15550001",
		Summary: "When I press export in Safari nothing happens and the console shows a TypeError. Chrome works."}
	require.NoError(t, h.ops.InsertFeedback(rec))

	p, err := h.ctl.PromoteFeedback(context.Background(), rec.ID, h.repo.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "Safari export error", p.Title)
	assert.Equal(t, persistence.TicketBug, p.TicketType)
	assert.Equal(t, 140, p.SeverityScore)
	assert.Equal(t, rec.Summary, p.Description)

	// An explicit type wins over the classified one.
	p, err = h.ctl.PromoteFeedback(context.Background(), rec.ID, h.repo.ID, persistence.TicketQuestion)
	require.NoError(t, err)
	assert.Equal(t, persistence.TicketQuestion, p.TicketType)
	assert.Equal(t, "Safari export error", p.Title)
}

func TestActiveProject(t *testing.T) {
	h := newHarness(t)
	created, err := h.ctl.ActiveProject(context.Background(), h.repo.ID)
	require.NoError(t, err)
	assert.Equal(t, defaultActiveTitle, created.Title)

	again, err := h.ctl.ActiveProject(context.Background(), h.repo.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)

	_, err = h.ctl.ActiveProject(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCoderStatus(t *testing.T) {
	h := newHarness(t)
	_, plan := h.readyToBuild(t)
	out, err := h.ctl.ApprovePlan(context.Background(), plan.ID, "")
	require.NoError(t, err)

	st, err := h.ctl.CoderStatus(context.Background(), out.Project.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, st.Status)
	assert.InDelta(t, 1.0, st.Progress, 0)
	assert.Equal(t, "build_completed", st.CurrentStep)
	assert.LessOrEqual(t, len(st.Logs), coderStatusLogs)
	require.NotNil(t, st.Usage)
	assert.Equal(t, int64(1234), st.Usage.TotalTokens)
}

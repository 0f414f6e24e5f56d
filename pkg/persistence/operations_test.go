package persistence

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// createTestDB opens a fresh database for each test.
func createTestDB(t *testing.T) *DatabaseOperations {
	t.Helper()

	db, err := OpenDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewDatabaseOperations(db)
}

func createTestProject(t *testing.T, ops *DatabaseOperations) (*RepoConfig, *Project) {
	t.Helper()

	rc := &RepoConfig{Owner: "acme", Repo: "widgets", TestCommand: "go test ./..."}
	if err := ops.CreateRepoConfig(rc); err != nil {
		t.Fatalf("Failed to create repo config: %v", err)
	}
	p := &Project{RepoConfigID: rc.ID, Title: "Export button broken", Description: "Safari only", TicketType: TicketBug}
	if err := ops.CreateProject(p); err != nil {
		t.Fatalf("Failed to create project: %v", err)
	}
	return rc, p
}

func TestSchemaVersion(t *testing.T) {
	ops := createTestDB(t)
	version, err := GetSchemaVersion(ops.DB())
	if err != nil {
		t.Fatalf("GetSchemaVersion failed: %v", err)
	}
	if version != CurrentSchemaVersion {
		t.Errorf("Expected schema version %d, got %d", CurrentSchemaVersion, version)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	db, err := OpenDatabase(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := NewDatabaseOperations(db).InsertFeedback(&FeedbackRecord{Identity: "+1555", Summary: "keep me"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_ = db.Close()

	db, err = OpenDatabase(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	records, err := NewDatabaseOperations(db).ListFeedback(10)
	if err != nil || len(records) != 1 {
		t.Fatalf("Expected 1 record after reopen, got %d (%v)", len(records), err)
	}
}

func TestRepoConfigOperations(t *testing.T) {
	ops := createTestDB(t)

	rc := &RepoConfig{Owner: "acme", Repo: "widgets", GitHubToken: "ghp_secret", AutoCreatePRs: true}
	if err := ops.CreateRepoConfig(rc); err != nil {
		t.Fatalf("CreateRepoConfig failed: %v", err)
	}
	if rc.Branch != "main" {
		t.Errorf("Expected default branch main, got %q", rc.Branch)
	}

	got, err := ops.GetRepoConfig(rc.ID)
	if err != nil {
		t.Fatalf("GetRepoConfig failed: %v", err)
	}
	if got.FullName() != "acme/widgets" || got.GitHubToken != "ghp_secret" || !got.AutoCreatePRs || got.AutoCreateIssues {
		t.Errorf("Unexpected repo config: %+v", got)
	}

	if _, err := ops.GetRepoConfig("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := ops.CreateRepoConfig(&RepoConfig{Owner: "acme"}); err == nil {
		t.Error("Expected error for missing repo name")
	}

	list, err := ops.ListRepoConfigs()
	if err != nil || len(list) != 1 {
		t.Fatalf("Expected one repo config, got %d (%v)", len(list), err)
	}
}

func TestProjectOperations(t *testing.T) {
	ops := createTestDB(t)
	rc, p := createTestProject(t, ops)

	got, err := ops.GetProject(p.ID)
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if got.Status != StatusPending || got.TicketType != TicketBug || got.HasIssue() {
		t.Errorf("Unexpected project: %+v", got)
	}

	if err := ops.CreateProject(&Project{RepoConfigID: "no-such-repo", Title: "orphan"}); err == nil {
		t.Error("Expected foreign key failure for unknown repo config")
	}
	if err := ops.CreateProject(&Project{RepoConfigID: rc.ID, Title: "x", TicketType: "chore"}); err == nil {
		t.Error("Expected error for invalid ticket type")
	}

	active, err := ops.GetActiveProject(rc.ID)
	if err != nil || active.ID != p.ID {
		t.Fatalf("Expected active project %s, got %v (%v)", p.ID, active, err)
	}

	ok, err := ops.CompareAndSetStatus(p.ID, StatusPending, StatusClosed)
	if err != nil || !ok {
		t.Fatalf("CAS pending->closed failed: %v", err)
	}
	if _, err := ops.GetActiveProject(rc.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Closed project should not be active, got %v", err)
	}

	projects, err := ops.ListProjectsByRepo(rc.ID)
	if err != nil || len(projects) != 1 {
		t.Fatalf("Expected one project, got %d (%v)", len(projects), err)
	}
}

func TestCompareAndSetStatus(t *testing.T) {
	ops := createTestDB(t)
	_, p := createTestProject(t, ops)

	ok, err := ops.CompareAndSetStatus(p.ID, StatusPlanning, StatusProvisioning)
	if err != nil {
		t.Fatalf("CAS error: %v", err)
	}
	if ok {
		t.Fatal("CAS must fail when the expected status does not match")
	}

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := ops.CompareAndSetStatus(p.ID, StatusPending, StatusPlanning); err == nil && ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("Expected exactly one CAS winner, got %d", wins)
	}
}

func TestIssueClaimAndReference(t *testing.T) {
	ops := createTestDB(t)
	_, p := createTestProject(t, ops)

	ok, err := ops.ClaimIssue(p.ID, "a")
	if err != nil || !ok {
		t.Fatalf("First claim should win: %v", err)
	}
	if ok, _ := ops.ClaimIssue(p.ID, "b"); ok {
		t.Fatal("Second claim must lose while the first is held")
	}

	if err := ops.ReleaseIssueClaim(p.ID, "b"); err != nil {
		t.Fatalf("Release by non-holder: %v", err)
	}
	if ok, _ := ops.ClaimIssue(p.ID, "c"); ok {
		t.Fatal("Release by a non-holder must not free the claim")
	}

	if ok, err := ops.SetIssueRef(p.ID, 42, "https://github.com/acme/widgets/issues/42"); err != nil || !ok {
		t.Fatalf("SetIssueRef failed: %v", err)
	}
	if ok, _ := ops.SetIssueRef(p.ID, 43, "https://github.com/acme/widgets/issues/43"); ok {
		t.Fatal("Issue reference must be write-once")
	}

	got, _ := ops.GetProject(p.ID)
	if got.IssueNumber != 42 || !got.HasIssue() {
		t.Errorf("Expected issue 42, got %+v", got)
	}

	if err := ops.ReleaseIssueClaim(p.ID, "a"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if ok, _ := ops.ClaimIssue(p.ID, "d"); ok {
		t.Fatal("A project with an issue can never be claimed again")
	}
}

var planWritable = []string{StatusPending, StatusPlanning}

func TestPlanOperations(t *testing.T) {
	ops := createTestDB(t)
	_, p := createTestProject(t, ops)

	plan, created, err := ops.UpsertActivePlan(p.ID, planWritable, "Plan", "1. fix it")
	if err != nil || !created {
		t.Fatalf("First upsert should create: created=%v err=%v", created, err)
	}
	if plan.Version != 1 {
		t.Errorf("Expected version 1, got %d", plan.Version)
	}

	again, created, err := ops.UpsertActivePlan(p.ID, planWritable, "Plan", "2. fix it better")
	if err != nil || created {
		t.Fatalf("Second upsert should replace: created=%v err=%v", created, err)
	}
	if again.ID != plan.ID || again.Version != 2 || again.Approved {
		t.Errorf("Unexpected superseded plan: %+v", again)
	}

	active, err := ops.GetActivePlan(p.ID)
	if err != nil || active.Content != "2. fix it better" {
		t.Fatalf("Unexpected active plan %+v (%v)", active, err)
	}
	got, _ := ops.GetProject(p.ID)
	if got.PlanID != plan.ID {
		t.Errorf("Project plan_id not linked: %q", got.PlanID)
	}

	// Approval is only written while the project is executing.
	var conflict *StatusConflictError
	if _, err := ops.ApprovePlan(plan.ID, "final", StatusExecuting); !errors.As(err, &conflict) || conflict.Observed != StatusPending {
		t.Fatalf("Expected status conflict from pending, got %v", err)
	}
	for _, step := range [][2]string{{StatusPending, StatusPlanning}, {StatusPlanning, StatusProvisioning}, {StatusProvisioning, StatusExecuting}} {
		if ok, err := ops.CompareAndSetStatus(p.ID, step[0], step[1]); err != nil || !ok {
			t.Fatalf("CAS %s->%s failed: %v", step[0], step[1], err)
		}
	}
	approved, err := ops.ApprovePlan(plan.ID, "final", StatusExecuting)
	if err != nil || !approved.Approved || approved.Content != "final" || approved.ApprovedAt == nil {
		t.Fatalf("Unexpected approved plan %+v (%v)", approved, err)
	}
	if _, err := ops.ApprovePlan("missing", "x", StatusExecuting); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestUpsertActivePlanRefusesOtherStatuses(t *testing.T) {
	ops := createTestDB(t)
	_, p := createTestProject(t, ops)

	plan, _, err := ops.UpsertActivePlan(p.ID, planWritable, "Plan", "approved content")
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	for _, step := range [][2]string{{StatusPending, StatusPlanning}, {StatusPlanning, StatusProvisioning}, {StatusProvisioning, StatusExecuting}} {
		if ok, err := ops.CompareAndSetStatus(p.ID, step[0], step[1]); err != nil || !ok {
			t.Fatalf("CAS %s->%s failed: %v", step[0], step[1], err)
		}
	}
	if _, err := ops.ApprovePlan(plan.ID, "approved content", StatusExecuting); err != nil {
		t.Fatalf("ApprovePlan failed: %v", err)
	}
	if ok, err := ops.CompleteBuild(p.ID, 7, "https://github.com/acme/web/pull/7"); err != nil || !ok {
		t.Fatalf("CompleteBuild failed: ok=%v err=%v", ok, err)
	}

	_, _, err = ops.UpsertActivePlan(p.ID, planWritable, "Plan", "regenerated")
	var conflict *StatusConflictError
	if !errors.As(err, &conflict) || conflict.Observed != StatusCompleted {
		t.Fatalf("Expected status conflict from completed, got %v", err)
	}

	stored, err := ops.GetPlan(plan.ID)
	if err != nil {
		t.Fatalf("GetPlan failed: %v", err)
	}
	if stored.Content != "approved content" || !stored.Approved || stored.Version != 1 {
		t.Errorf("Completed project's plan was modified: %+v", stored)
	}

	if _, _, err := ops.UpsertActivePlan("missing", planWritable, "Plan", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestBuildOutcome(t *testing.T) {
	ops := createTestDB(t)
	_, p := createTestProject(t, ops)

	for _, step := range [][2]string{{StatusPending, StatusPlanning}, {StatusPlanning, StatusProvisioning}, {StatusProvisioning, StatusExecuting}} {
		if ok, err := ops.CompareAndSetStatus(p.ID, step[0], step[1]); err != nil || !ok {
			t.Fatalf("CAS %s->%s failed: %v", step[0], step[1], err)
		}
	}

	if ok, err := ops.FailBuild(p.ID, "step limit exceeded"); err != nil || !ok {
		t.Fatalf("FailBuild failed: %v", err)
	}
	got, _ := ops.GetProject(p.ID)
	if got.Status != StatusFailed || got.FailureReason != "step limit exceeded" {
		t.Fatalf("Unexpected failed project %+v", got)
	}

	if ok, _ := ops.CompareAndSetStatus(p.ID, StatusFailed, StatusProvisioning); !ok {
		t.Fatal("Retry from failed should be allowed by the store")
	}
	if err := ops.ResetBuildOutcome(p.ID); err != nil {
		t.Fatalf("ResetBuildOutcome: %v", err)
	}
	_, _ = ops.CompareAndSetStatus(p.ID, StatusProvisioning, StatusExecuting)

	if ok, err := ops.CompleteBuild(p.ID, 7, "https://github.com/acme/widgets/pull/7"); err != nil || !ok {
		t.Fatalf("CompleteBuild failed: %v", err)
	}
	got, _ = ops.GetProject(p.ID)
	if got.Status != StatusCompleted || got.PRNumber != 7 || got.FailureReason != "" {
		t.Fatalf("Unexpected completed project %+v", got)
	}
	if ok, _ := ops.CompleteBuild(p.ID, 8, "x"); ok {
		t.Fatal("CompleteBuild must not apply outside executing")
	}
}

func TestFeedbackOperations(t *testing.T) {
	ops := createTestDB(t)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i := 0; i < 3; i++ {
		rec := &FeedbackRecord{Identity: "+1555", Summary: fmt.Sprintf("summary %d", i), CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := ops.InsertFeedback(rec); err != nil {
			t.Fatalf("InsertFeedback: %v", err)
		}
	}
	if err := ops.InsertFeedback(&FeedbackRecord{Identity: "+1666", Summary: "other", Transcript: "user: hi", CreatedAt: base}); err != nil {
		t.Fatalf("InsertFeedback: %v", err)
	}
	if err := ops.InsertFeedback(&FeedbackRecord{Identity: "+1666", Summary: "  "}); err == nil {
		t.Error("Expected error for empty summary")
	}

	list, err := ops.ListFeedback(2)
	if err != nil || len(list) != 2 {
		t.Fatalf("Expected 2 records, got %d (%v)", len(list), err)
	}
	if list[0].Summary != "summary 2" {
		t.Errorf("Expected newest first, got %q", list[0].Summary)
	}

	all, _ := ops.ListFeedback(0)
	if len(all) != 4 {
		t.Errorf("Expected 4 records with default limit, got %d", len(all))
	}

	byIdentity, err := ops.ListFeedbackByIdentity("+1666")
	if err != nil || len(byIdentity) != 1 || byIdentity[0].Transcript != "user: hi" {
		t.Fatalf("Unexpected identity listing %v (%v)", byIdentity, err)
	}

	got, err := ops.GetFeedback(byIdentity[0].ID)
	if err != nil || got.Summary != "other" {
		t.Fatalf("GetFeedback: %v %v", got, err)
	}
	if _, err := ops.GetFeedback("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestExecutionLogs(t *testing.T) {
	ops := createTestDB(t)
	_, p := createTestProject(t, ops)

	for i, step := range []string{"clone", "agent", "push"} {
		err := ops.AppendExecutionLog(&ExecutionLog{
			ProjectID: p.ID,
			StepName:  step,
			Message:   "step " + step,
			Metadata:  map[string]any{"round": i},
		})
		if err != nil {
			t.Fatalf("AppendExecutionLog: %v", err)
		}
	}
	if err := ops.AppendExecutionLog(&ExecutionLog{ProjectID: p.ID, Level: "fatal", Message: "x"}); err == nil {
		t.Error("Expected error for invalid level")
	}

	logs, err := ops.ListExecutionLogs(p.ID, 0)
	if err != nil || len(logs) != 3 {
		t.Fatalf("Expected 3 logs, got %d (%v)", len(logs), err)
	}
	if logs[0].StepName != "clone" || logs[2].StepName != "push" || logs[0].Level != LogInfo {
		t.Errorf("Unexpected log order: %s, %s", logs[0].StepName, logs[2].StepName)
	}
	if round, ok := logs[1].Metadata["round"].(float64); !ok || round != 1 {
		t.Errorf("Metadata not round-tripped: %v", logs[1].Metadata)
	}

	recent, _ := ops.ListExecutionLogs(p.ID, 2)
	if len(recent) != 2 || recent[0].StepName != "agent" {
		t.Errorf("Expected the two most recent logs oldest first, got %+v", recent)
	}
}

func TestSingleton(t *testing.T) {
	if err := Initialize(filepath.Join(t.TempDir(), "singleton.db")); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer func() { _ = Close() }()

	if _, err := Ops().ListRepoConfigs(); err != nil {
		t.Fatalf("Ops() query failed: %v", err)
	}
}

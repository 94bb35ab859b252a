package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arcglyph/nightpilot/pkg/nightpilot/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "nightpilot-test-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	s, err := OpenSQLite(SQLiteConfig{Path: filepath.Join(tmpDir, "test.db")})
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenSQLite(t *testing.T) {
	s := newTestStore(t)
	if err := s.db.Ping(); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}

func TestPromptCRUDRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreatePrompt(ctx, "Morning digest", "Summarize overnight news", []string{"daily", "news"})
	if err != nil {
		t.Fatalf("CreatePrompt failed: %v", err)
	}

	p, err := s.GetPrompt(ctx, id)
	if err != nil {
		t.Fatalf("GetPrompt failed: %v", err)
	}
	if p.Title != "Morning digest" || len(p.Tags) != 2 {
		t.Fatalf("unexpected prompt: %+v", p)
	}

	newTitle := "Morning digest v2"
	if err := s.UpdatePrompt(ctx, id, &newTitle, nil, nil); err != nil {
		t.Fatalf("UpdatePrompt failed: %v", err)
	}
	p, _ = s.GetPrompt(ctx, id)
	if p.Title != newTitle {
		t.Fatalf("expected updated title, got %q", p.Title)
	}

	list, err := s.ListPrompts(ctx, ListPromptsOptions{Tag: "news"})
	if err != nil {
		t.Fatalf("ListPrompts failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 prompt tagged news, got %d", len(list))
	}

	if err := s.DeletePrompt(ctx, id); err != nil {
		t.Fatalf("DeletePrompt failed: %v", err)
	}
	if _, err := s.GetPrompt(ctx, id); model.KindOf(err) != model.KindNotFound {
		t.Fatalf("expected KindNotFound after delete, got %v", err)
	}
}

func TestDeletePromptBlockedByInUseJob(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	promptID, _ := s.CreatePrompt(ctx, "Keepalive ping", "ping the agent", nil)
	_, err := s.CreateJob(ctx, promptID, "*/5 * * * *", nil, model.DefaultExecutionOptions(), model.DefaultRetryConfig())
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	err = s.DeletePrompt(ctx, promptID)
	if model.KindOf(err) != model.KindInUse {
		t.Fatalf("expected KindInUse, got %v", err)
	}
}

func TestCreateJobRejectsSixFieldCron(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	promptID, _ := s.CreatePrompt(ctx, "p", "content", nil)
	_, err := s.CreateJob(ctx, promptID, "0 */5 * * * *", nil, model.DefaultExecutionOptions(), model.DefaultRetryConfig())
	if model.KindOf(err) != model.KindValidation {
		t.Fatalf("expected KindValidation for 6-field cron, got %v", err)
	}
}

func TestPollDueJobsOrderingAndBound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	promptID, _ := s.CreatePrompt(ctx, "p", "content", nil)
	// Every minute, so next-run is always <= now+1m; we just need it due.
	id1, _ := s.CreateJob(ctx, promptID, "* * * * *", nil, model.DefaultExecutionOptions(), model.DefaultRetryConfig())
	id2, _ := s.CreateJob(ctx, promptID, "* * * * *", nil, model.DefaultExecutionOptions(), model.DefaultRetryConfig())

	future := time.Now().Add(2 * time.Minute)
	ids, err := s.PollDueJobs(ctx, future, 10)
	if err != nil {
		t.Fatalf("PollDueJobs failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 due jobs, got %d (%v)", len(ids), ids)
	}
	seen := map[string]bool{ids[0]: true, ids[1]: true}
	if !seen[id1] || !seen[id2] {
		t.Fatalf("expected both jobs present, got %v", ids)
	}

	limited, err := s.PollDueJobs(ctx, future, 1)
	if err != nil {
		t.Fatalf("PollDueJobs(limit=1) failed: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to bound result to 1, got %d", len(limited))
	}
}

func TestExecutionLifecycleAndJobCounters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	promptID, _ := s.CreatePrompt(ctx, "p", "content", nil)
	jobID, _ := s.CreateJob(ctx, promptID, "*/5 * * * *", nil, model.DefaultExecutionOptions(), model.DefaultRetryConfig())

	start := time.Now()
	execID, err := s.BeginExecution(ctx, &jobID, "deadbeef", start)
	if err != nil {
		t.Fatalf("BeginExecution failed: %v", err)
	}

	exec, err := s.GetExecution(ctx, execID)
	if err != nil {
		t.Fatalf("GetExecution failed: %v", err)
	}
	if exec.Status != model.ExecRunning {
		t.Fatalf("expected ExecRunning, got %v", exec.Status)
	}

	job, _ := s.GetJob(ctx, jobID)
	if job.LastRunAt == nil {
		t.Fatal("expected LastRunAt to be set by BeginExecution")
	}

	err = s.FinishExecution(ctx, execID, Outcome{
		Status:        model.ExecCompleted,
		EndInstant:    start.Add(2 * time.Second),
		RawOutput:     "ok",
		ResultPayload: `{"type":"result"}`,
	})
	if err != nil {
		t.Fatalf("FinishExecution failed: %v", err)
	}

	job, _ = s.GetJob(ctx, jobID)
	if job.ExecutionCount != 1 || job.FailureCount != 0 {
		t.Fatalf("expected counters 1/0, got %d/%d", job.ExecutionCount, job.FailureCount)
	}
	if job.NextRunAt == nil {
		t.Fatal("expected next-run-instant recomputed after finish")
	}

	// Finishing an already-terminal execution is rejected.
	err = s.FinishExecution(ctx, execID, Outcome{Status: model.ExecCompleted, EndInstant: time.Now()})
	if model.KindOf(err) != model.KindValidation {
		t.Fatalf("expected KindValidation on double-finish, got %v", err)
	}
}

func TestOneShotJobCompletesAfterExecution(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	promptID, _ := s.CreatePrompt(ctx, "p", "content", nil)
	runAt := time.Now().Add(time.Minute)
	jobID, err := s.CreateJob(ctx, promptID, "", &runAt, model.DefaultExecutionOptions(), model.DefaultRetryConfig())
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	job, _ := s.GetJob(ctx, jobID)
	if job.Cron != "" {
		t.Fatalf("expected empty cron for a one-shot job, got %q", job.Cron)
	}
	if job.NextRunAt == nil || !job.NextRunAt.Equal(runAt.UTC()) {
		t.Fatalf("expected next-run-instant to equal run_at, got %v", job.NextRunAt)
	}

	execID, err := s.BeginExecution(ctx, &jobID, "hash", time.Now())
	if err != nil {
		t.Fatalf("BeginExecution failed: %v", err)
	}
	if err := s.FinishExecution(ctx, execID, Outcome{Status: model.ExecCompleted, EndInstant: time.Now()}); err != nil {
		t.Fatalf("FinishExecution failed: %v", err)
	}

	job, _ = s.GetJob(ctx, jobID)
	if job.Status != model.JobCompleted {
		t.Fatalf("expected one-shot job to complete, got %v", job.Status)
	}
	if job.NextRunAt != nil {
		t.Fatal("expected next-run-instant cleared for completed one-shot job")
	}
}

func TestJobTripsToErrorAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	promptID, _ := s.CreatePrompt(ctx, "p", "content", nil)
	jobID, err := s.CreateJob(ctx, promptID, "* * * * *", nil, model.DefaultExecutionOptions(), model.DefaultRetryConfig())
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	for i := 0; i < maxConsecutiveJobFailures; i++ {
		execID, err := s.BeginExecution(ctx, &jobID, "hash", time.Now())
		if err != nil {
			t.Fatalf("BeginExecution failed: %v", err)
		}
		if err := s.FinishExecution(ctx, execID, Outcome{Status: model.ExecFailed, EndInstant: time.Now(), ErrorKind: model.KindAgentError}); err != nil {
			t.Fatalf("FinishExecution failed: %v", err)
		}
	}

	job, _ := s.GetJob(ctx, jobID)
	if job.Status != model.JobError {
		t.Fatalf("expected job to trip to JobError after %d consecutive failures, got %v", maxConsecutiveJobFailures, job.Status)
	}
	if job.NextRunAt != nil {
		t.Fatal("expected next-run-instant cleared once a job requires intervention")
	}

	active := model.JobActive
	if err := s.UpdateJob(ctx, jobID, nil, &active, nil, nil, nil); err != nil {
		t.Fatalf("UpdateJob (resume) failed: %v", err)
	}
	job, _ = s.GetJob(ctx, jobID)
	if job.ConsecutiveFailures != 0 {
		t.Fatalf("expected resume to clear the consecutive-failure counter, got %d", job.ConsecutiveFailures)
	}
}

func TestUsageRecordsAndBlockWindowHint(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now()
	records := []model.UsageRecord{
		{Instant: now.Add(-4 * time.Hour), RemainingMinutes: 280, TotalMinutes: 300, UsagePercentage: 6.6, Source: model.UsageSourceExternalTool},
		{Instant: now.Add(-3 * time.Hour), RemainingMinutes: 200, TotalMinutes: 300, UsagePercentage: 33.3, Source: model.UsageSourceExternalTool},
		{Instant: now.Add(-1 * time.Hour), RemainingMinutes: 295, TotalMinutes: 300, UsagePercentage: 1.6, Source: model.UsageSourceExternalTool},
	}
	for _, r := range records {
		if err := s.AppendUsageRecord(ctx, r); err != nil {
			t.Fatalf("AppendUsageRecord failed: %v", err)
		}
	}

	latest, err := s.LatestUsageRecord(ctx)
	if err != nil {
		t.Fatalf("LatestUsageRecord failed: %v", err)
	}
	if latest == nil || latest.UsagePercentage != 1.6 {
		t.Fatalf("expected latest record with 1.6%% usage, got %+v", latest)
	}

	windowStart, err := s.BlockWindowStartedAt(ctx, now)
	if err != nil {
		t.Fatalf("BlockWindowStartedAt failed: %v", err)
	}
	if windowStart == nil {
		t.Fatal("expected a window start hint")
	}
	// The usage reset between record 2 (33.3%) and record 3 (1.6%) should
	// mark a new window starting at the third record's instant.
	if d := windowStart.Sub(records[2].Instant); d > time.Second || d < -time.Second {
		t.Fatalf("expected window start near %v, got %v", records[2].Instant, windowStart)
	}
}

func TestHealth(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	h, err := s.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if !h.OK {
		t.Fatal("expected healthy store")
	}
}

func TestMigrationIsIdempotent(t *testing.T) {
	tmpDir, _ := os.MkdirTemp("", "nightpilot-test-*")
	defer os.RemoveAll(tmpDir)
	path := filepath.Join(tmpDir, "test.db")

	s1, err := OpenSQLite(SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	s1.Close()

	s2, err := OpenSQLite(SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("second open (re-migrate) failed: %v", err)
	}
	defer s2.Close()

	if _, err := s2.CreatePrompt(context.Background(), "p", "c", nil); err != nil {
		t.Fatalf("store unusable after re-open: %v", err)
	}
}

func TestLegacyDBPathMigratesForward(t *testing.T) {
	tmpDir, _ := os.MkdirTemp("", "nightpilot-test-*")
	defer os.RemoveAll(tmpDir)

	legacyPath := filepath.Join(tmpDir, legacyDBFileName)
	canonicalPath := filepath.Join(tmpDir, DefaultDBFileName)

	seed, err := OpenSQLite(SQLiteConfig{Path: legacyPath})
	if err != nil {
		t.Fatalf("seed legacy db failed: %v", err)
	}
	if _, err := seed.CreatePrompt(context.Background(), "legacy prompt", "content", nil); err != nil {
		t.Fatalf("seed prompt failed: %v", err)
	}
	seed.Close()

	s, err := OpenSQLite(SQLiteConfig{Path: canonicalPath})
	if err != nil {
		t.Fatalf("open canonical path failed: %v", err)
	}
	defer s.Close()

	list, err := s.ListPrompts(context.Background(), ListPromptsOptions{})
	if err != nil {
		t.Fatalf("ListPrompts failed: %v", err)
	}
	if len(list) != 1 || list[0].Title != "legacy prompt" {
		t.Fatalf("expected legacy prompt to carry forward, got %+v", list)
	}
}

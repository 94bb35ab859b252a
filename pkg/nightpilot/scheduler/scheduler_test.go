package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/arcglyph/nightpilot/pkg/nightpilot/executor"
	"github.com/arcglyph/nightpilot/pkg/nightpilot/model"
	"github.com/arcglyph/nightpilot/pkg/nightpilot/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := store.OpenSQLite(store.SQLiteConfig{Path: filepath.Join(dir, "scheduler-test.db")})
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func fakeAgentScript(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.sh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake agent: %v", err)
	}
	return path
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func createRecurringJob(t *testing.T, s *store.SQLiteStore, cron string, opts model.ExecutionOptions) string {
	t.Helper()
	ctx := context.Background()
	promptID, err := s.CreatePrompt(ctx, "test prompt", "say hello", nil)
	if err != nil {
		t.Fatalf("CreatePrompt failed: %v", err)
	}
	jobID, err := s.CreateJob(ctx, promptID, cron, nil, opts, model.DefaultRetryConfig())
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	return jobID
}

// TestTriggerNowExecutesJobImmediately is the "simple run-now" scenario
// from spec §8: a job bound to an hourly schedule still runs the instant
// TriggerNow is called, bypassing the poll loop entirely.
func TestTriggerNowExecutesJobImmediately(t *testing.T) {
	s := newTestStore(t)
	agentPath := fakeAgentScript(t, "#!/bin/sh\necho '{\"type\":\"result\",\"is_error\":false,\"result\":\"pong\"}'\n")
	exec := executor.New(agentPath, nil)
	sched := New(s, exec, nil, nil, 3)

	opts := model.DefaultExecutionOptions()
	jobID := createRecurringJob(t, s, "0 * * * *", opts)

	ctx := context.Background()
	sched.TriggerNow(ctx, jobID)

	waitFor(t, 2*time.Second, func() bool {
		execs, err := s.ListExecutions(ctx, store.ListExecutionsOptions{JobID: &jobID})
		return err == nil && len(execs) == 1 && execs[0].Status == model.ExecCompleted
	})
}

// TestScheduledJobDispatchesWhenDue is the "scheduled recurring" scenario:
// once a job's next-run-instant has passed, a dispatch for it marks the
// job's LastRunAt and advances NextRunAt to the following fire instant.
func TestScheduledJobDispatchesWhenDue(t *testing.T) {
	s := newTestStore(t)
	agentPath := fakeAgentScript(t, "#!/bin/sh\necho '{\"type\":\"result\",\"is_error\":false,\"result\":\"ok\"}'\n")
	exec := executor.New(agentPath, nil)
	sched := New(s, exec, nil, nil, 3)

	opts := model.DefaultExecutionOptions()
	opts.Exact = true // skip stagger so the dispatch fires immediately
	jobID := createRecurringJob(t, s, "@every 1s", opts)

	ctx := context.Background()
	beforeJob, err := s.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	firstNextRun := *beforeJob.NextRunAt

	time.Sleep(1200 * time.Millisecond)

	ids, err := s.PollDueJobs(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("PollDueJobs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != jobID {
		t.Fatalf("expected job to be due, got %v", ids)
	}

	sched.dispatch(ctx, jobID)

	waitFor(t, 2*time.Second, func() bool {
		job, err := s.GetJob(ctx, jobID)
		return err == nil && job.LastRunAt != nil && job.NextRunAt != nil && job.NextRunAt.After(firstNextRun)
	})

	execs, err := s.ListExecutions(ctx, store.ListExecutionsOptions{JobID: &jobID})
	if err != nil || len(execs) != 1 || execs[0].Status != model.ExecCompleted {
		t.Fatalf("expected one completed execution, got %+v (err=%v)", execs, err)
	}
}

// TestCooldownDeferredThenRetrySucceeds is the "cooldown with precise
// reset" scenario: the agent reports a cooldown on its first invocation,
// the scheduler waits it out via the waiter, and a subsequent retry
// within max_attempts completes successfully.
func TestCooldownDeferredThenRetrySucceeds(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "invoked")
	script := fmt.Sprintf(`#!/bin/sh
if [ -f %q ]; then
  echo '{"type":"result","is_error":false,"result":"ok-after-cooldown"}'
  exit 0
fi
touch %q
echo "cooldown: 1s"
exit 1
`, marker, marker)
	agentPath := fakeAgentScript(t, script)

	s := newTestStore(t)
	exec := executor.New(agentPath, nil)
	sched := New(s, exec, nil, nil, 3)

	opts := model.DefaultExecutionOptions()
	retryCfg := model.DefaultRetryConfig()
	retryCfg.MaxAttempts = 2
	jobID := createRecurringJob(t, s, "0 * * * *", opts)

	ctx := context.Background()
	// retry config lives on the job; set it explicitly since createRecurringJob
	// used the default.
	cronExpr := "0 * * * *"
	if err := s.UpdateJob(ctx, jobID, &cronExpr, nil, nil, nil, &retryCfg); err != nil {
		t.Fatalf("UpdateJob failed: %v", err)
	}

	sched.TriggerNow(ctx, jobID)

	waitFor(t, 5*time.Second, func() bool {
		execs, err := s.ListExecutions(ctx, store.ListExecutionsOptions{JobID: &jobID})
		return err == nil && len(execs) == 1 && execs[0].Status == model.ExecCompleted
	})

	execs, _ := s.ListExecutions(ctx, store.ListExecutionsOptions{JobID: &jobID})
	if execs[0].ResultPayload != "ok-after-cooldown" {
		t.Fatalf("expected post-cooldown result, got %q", execs[0].ResultPayload)
	}
	if execs[0].RetryIndex < 1 {
		t.Fatalf("expected at least one retry recorded, got %d", execs[0].RetryIndex)
	}

	rec, err := s.LatestUsageRecord(ctx)
	if err != nil {
		t.Fatalf("LatestUsageRecord failed: %v", err)
	}
	if rec == nil || rec.Source != model.UsageSourceParsedError {
		t.Fatalf("expected a parsed-error usage record from the cooldown, got %+v", rec)
	}
}

// TestMissedExecutionReplayOnStart is the "missed execution on restart"
// scenario: a job whose next-run-instant has already passed before the
// scheduler starts fires once, dispatched by Start's replay pass before
// the main poll loop's first poll.
func TestMissedExecutionReplayOnStart(t *testing.T) {
	s := newTestStore(t)
	agentPath := fakeAgentScript(t, "#!/bin/sh\necho '{\"type\":\"result\",\"is_error\":false,\"result\":\"replayed\"}'\n")
	exec := executor.New(agentPath, nil)

	opts := model.DefaultExecutionOptions()
	opts.Exact = true
	jobID := createRecurringJob(t, s, "@every 1s", opts)

	time.Sleep(1200 * time.Millisecond)

	sched := New(s, exec, nil, nil, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sched.Stop(2 * time.Second)

	waitFor(t, 2*time.Second, func() bool {
		execs, err := s.ListExecutions(context.Background(), store.ListExecutionsOptions{JobID: &jobID})
		return err == nil && len(execs) == 1 && execs[0].Status == model.ExecCompleted
	})
}

// Prompt-deletion-blocked-by-in-use-job is exercised at the store layer in
// store.TestDeletePromptBlockedByInUseJob; the scheduler never calls
// DeletePrompt itself, so it has nothing additional to verify here.

// TestConcurrencyCapLimitsParallelExecutions is the "concurrency cap"
// scenario: max_concurrent_executions bounds how many agent subprocesses
// run at once regardless of how many jobs are simultaneously triggered.
func TestConcurrencyCapLimitsParallelExecutions(t *testing.T) {
	dir := t.TempDir()
	trackDir := filepath.Join(dir, "track")
	if err := os.MkdirAll(trackDir, 0o755); err != nil {
		t.Fatalf("mkdir track dir: %v", err)
	}
	countsLog := filepath.Join(dir, "counts.log")

	script := fmt.Sprintf(`#!/bin/sh
mkdir -p %q
touch %q/$$
ls %q | wc -l >> %q
sleep 0.3
rm -f %q/$$
echo '{"type":"result","is_error":false,"result":"ok"}'
`, trackDir, trackDir, trackDir, countsLog, trackDir)
	agentPath := fakeAgentScript(t, script)

	s := newTestStore(t)
	exec := executor.New(agentPath, nil)
	const maxConcurrent = 2
	sched := New(s, exec, nil, nil, maxConcurrent)

	ctx := context.Background()
	const jobCount = 5
	jobIDs := make([]string, jobCount)
	for i := 0; i < jobCount; i++ {
		opts := model.DefaultExecutionOptions()
		jobIDs[i] = createRecurringJob(t, s, "0 0 1 1 *", opts)
	}
	for _, id := range jobIDs {
		sched.TriggerNow(ctx, id)
	}

	waitFor(t, 10*time.Second, func() bool {
		for _, id := range jobIDs {
			execs, err := s.ListExecutions(ctx, store.ListExecutionsOptions{JobID: &id})
			if err != nil || len(execs) != 1 || !execs[0].Status.IsTerminal() {
				return false
			}
		}
		return true
	})

	data, err := os.ReadFile(countsLog)
	if err != nil {
		t.Fatalf("read counts log: %v", err)
	}
	maxSeen := 0
	for _, line := range strings.Fields(string(data)) {
		var n int
		fmt.Sscanf(line, "%d", &n)
		if n > maxSeen {
			maxSeen = n
		}
	}
	if maxSeen > maxConcurrent {
		t.Fatalf("observed %d concurrent executions, want <= %d", maxSeen, maxConcurrent)
	}
}

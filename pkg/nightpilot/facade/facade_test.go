package facade

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arcglyph/nightpilot/pkg/nightpilot/executor"
	"github.com/arcglyph/nightpilot/pkg/nightpilot/model"
	"github.com/arcglyph/nightpilot/pkg/nightpilot/scheduler"
	"github.com/arcglyph/nightpilot/pkg/nightpilot/store"
)

func newTestFacade(t *testing.T, agentScript string) (*Facade, *store.SQLiteStore) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.OpenSQLite(store.SQLiteConfig{Path: filepath.Join(dir, "facade-test.db")})
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	agentPath := filepath.Join(dir, "agent.sh")
	if err := os.WriteFile(agentPath, []byte(agentScript), 0o755); err != nil {
		t.Fatalf("write fake agent: %v", err)
	}
	exec := executor.New(agentPath, nil)
	sched := scheduler.New(st, exec, nil, nil, 3)

	return New(st, sched, agentPath), st
}

func TestPromptCRUDThroughFacade(t *testing.T) {
	f, _ := newTestFacade(t, "#!/bin/sh\necho '{\"type\":\"result\",\"is_error\":false,\"result\":\"ok\"}'\n")
	ctx := context.Background()

	id, err := f.CreatePrompt(ctx, "daily digest", "summarize the news", []string{"daily"})
	if err != nil {
		t.Fatalf("CreatePrompt failed: %v", err)
	}

	p, err := f.GetPrompt(ctx, id)
	if err != nil || p.Title != "daily digest" {
		t.Fatalf("GetPrompt mismatch: %+v, err=%v", p, err)
	}

	prompts, err := f.ListPrompts(ctx, store.ListPromptsOptions{Tag: "daily"})
	if err != nil || len(prompts) != 1 {
		t.Fatalf("ListPrompts expected 1 tagged prompt, got %+v, err=%v", prompts, err)
	}

	if err := f.DeletePrompt(ctx, id); err != nil {
		t.Fatalf("DeletePrompt failed: %v", err)
	}
}

func TestJobLifecycleThroughFacade(t *testing.T) {
	f, _ := newTestFacade(t, "#!/bin/sh\necho '{\"type\":\"result\",\"is_error\":false,\"result\":\"pong\"}'\n")
	ctx := context.Background()

	promptID, err := f.CreatePrompt(ctx, "ping", "ping the agent", nil)
	if err != nil {
		t.Fatalf("CreatePrompt failed: %v", err)
	}

	jobID, err := f.CreateJob(ctx, promptID, "0 * * * *", nil, model.DefaultExecutionOptions(), model.DefaultRetryConfig())
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	if err := f.Pause(ctx, jobID); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	job, err := f.GetJob(ctx, jobID)
	if err != nil || job.Status != model.JobPaused {
		t.Fatalf("expected paused job, got %+v, err=%v", job, err)
	}

	if err := f.Resume(ctx, jobID); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	job, _ = f.GetJob(ctx, jobID)
	if job.Status != model.JobActive {
		t.Fatalf("expected active job after resume, got %v", job.Status)
	}

	if err := f.TriggerNow(ctx, jobID); err != nil {
		t.Fatalf("TriggerNow failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var execs []model.Execution
	for time.Now().Before(deadline) {
		execs, err = f.ListExecutions(ctx, store.ListExecutionsOptions{JobID: &jobID})
		if err == nil && len(execs) == 1 && execs[0].Status.IsTerminal() {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(execs) != 1 || execs[0].Status != model.ExecCompleted {
		t.Fatalf("expected one completed execution after trigger_now, got %+v", execs)
	}

	e, err := f.GetExecution(ctx, execs[0].ID)
	if err != nil || e.ID != execs[0].ID {
		t.Fatalf("GetExecution mismatch: %+v, err=%v", e, err)
	}

	if err := f.DeleteJob(ctx, jobID); err != nil {
		t.Fatalf("DeleteJob failed: %v", err)
	}
}

func TestGetCooldownStatusReflectsUsageRecord(t *testing.T) {
	f, st := newTestFacade(t, "#!/bin/sh\necho ok\n")
	ctx := context.Background()

	status, err := f.GetCooldownStatus(ctx)
	if err != nil {
		t.Fatalf("GetCooldownStatus failed: %v", err)
	}
	if status.IsCooling {
		t.Fatalf("expected not cooling with no usage records, got %+v", status)
	}

	if err := st.AppendUsageRecord(ctx, model.UsageRecord{
		Instant:          time.Now(),
		RemainingMinutes: 12,
		TotalMinutes:     300,
		UsagePercentage:  96,
		Source:           model.UsageSourceExternalTool,
	}); err != nil {
		t.Fatalf("AppendUsageRecord failed: %v", err)
	}

	status, err = f.GetCooldownStatus(ctx)
	if err != nil {
		t.Fatalf("GetCooldownStatus failed: %v", err)
	}
	if !status.IsCooling || status.SecondsRemaining <= 0 {
		t.Fatalf("expected cooling status derived from usage record, got %+v", status)
	}
}

func TestGetSystemHealthReportsAgentAvailability(t *testing.T) {
	f, _ := newTestFacade(t, "#!/bin/sh\necho ok\n")
	ctx := context.Background()

	h, err := f.GetSystemHealth(ctx)
	if err != nil {
		t.Fatalf("GetSystemHealth failed: %v", err)
	}
	if !h.DBOK {
		t.Fatalf("expected DBOK, got %+v", h)
	}
	if !h.AgentAvailable {
		t.Fatalf("expected agent binary to resolve via its absolute path, got %+v", h)
	}
	if h.SchedulerState != "stopped" {
		t.Fatalf("expected scheduler to report stopped before Start, got %q", h.SchedulerState)
	}
}

// Package facade implements FrontendFacade (spec §4.7): the single narrow
// capability surface both CLI binaries call into. It wraps a store.Store
// and a *scheduler.Scheduler behind typed methods, the same "one struct, many thin commands" shape the teacher uses for its
// copilot.Assistant facade behind cmd/*/commands.
package facade

import (
	"context"
	"os/exec"
	"time"

	"github.com/arcglyph/nightpilot/pkg/nightpilot/model"
	"github.com/arcglyph/nightpilot/pkg/nightpilot/scheduler"
	"github.com/arcglyph/nightpilot/pkg/nightpilot/store"
)

// CooldownStatus is the result of GetCooldownStatus.
type CooldownStatus struct {
	IsCooling        bool
	SecondsRemaining int64
	Source           string
}

// SystemHealth is the result of GetSystemHealth.
type SystemHealth struct {
	DBOK           bool
	SchedulerState string
	ActiveJobs     int
	AgentAvailable bool
}

// Facade is FrontendFacade.
type Facade struct {
	store     store.Store
	scheduler *scheduler.Scheduler
	agentPath string
}

// New builds a Facade over an already-constructed Store and Scheduler.
// agentPath is used only for the agent-availability probe in
// GetSystemHealth.
func New(st store.Store, sched *scheduler.Scheduler, agentPath string) *Facade {
	return &Facade{store: st, scheduler: sched, agentPath: agentPath}
}

// ---------- Prompt CRUD ----------

func (f *Facade) CreatePrompt(ctx context.Context, title, content string, tags []string) (string, error) {
	return f.store.CreatePrompt(ctx, title, content, tags)
}

func (f *Facade) UpdatePrompt(ctx context.Context, id string, title, content *string, tags []string) error {
	return f.store.UpdatePrompt(ctx, id, title, content, tags)
}

func (f *Facade) DeletePrompt(ctx context.Context, id string) error {
	return f.store.DeletePrompt(ctx, id)
}

func (f *Facade) GetPrompt(ctx context.Context, id string) (model.Prompt, error) {
	return f.store.GetPrompt(ctx, id)
}

func (f *Facade) ListPrompts(ctx context.Context, opts store.ListPromptsOptions) ([]model.Prompt, error) {
	return f.store.ListPrompts(ctx, opts)
}

// ---------- Job CRUD + lifecycle ----------

func (f *Facade) CreateJob(ctx context.Context, promptID, cronExpr string, runAt *time.Time, opts model.ExecutionOptions, retry model.RetryConfig) (string, error) {
	return f.store.CreateJob(ctx, promptID, cronExpr, runAt, opts, retry)
}

func (f *Facade) UpdateJob(ctx context.Context, id string, cronExpr *string, status *model.JobStatus, priority *int, opts *model.ExecutionOptions, retry *model.RetryConfig) error {
	return f.store.UpdateJob(ctx, id, cronExpr, status, priority, opts, retry)
}

func (f *Facade) DeleteJob(ctx context.Context, id string) error {
	return f.store.DeleteJob(ctx, id)
}

func (f *Facade) GetJob(ctx context.Context, id string) (model.Job, error) {
	return f.store.GetJob(ctx, id)
}

func (f *Facade) ListJobs(ctx context.Context) ([]model.Job, error) {
	return f.store.ListJobs(ctx)
}

// Pause transitions a job to Paused; a paused job is never returned by
// poll_due_jobs regardless of its next-run-instant.
func (f *Facade) Pause(ctx context.Context, id string) error {
	paused := model.JobPaused
	return f.store.UpdateJob(ctx, id, nil, &paused, nil, nil, nil)
}

// Resume transitions a paused job back to Active.
func (f *Facade) Resume(ctx context.Context, id string) error {
	active := model.JobActive
	return f.store.UpdateJob(ctx, id, nil, &active, nil, nil, nil)
}

// TriggerNow dispatches id immediately, outside its regular schedule, and
// returns as soon as the job is queued rather than waiting for it to
// finish; the resulting execution id is discoverable via ListExecutions.
func (f *Facade) TriggerNow(ctx context.Context, id string) error {
	if _, err := f.store.GetJob(ctx, id); err != nil {
		return err
	}
	f.scheduler.TriggerNow(ctx, id)
	return nil
}

// ---------- Executions ----------

func (f *Facade) ListExecutions(ctx context.Context, opts store.ListExecutionsOptions) ([]model.Execution, error) {
	return f.store.ListExecutions(ctx, opts)
}

func (f *Facade) GetExecution(ctx context.Context, id string) (model.Execution, error) {
	return f.store.GetExecution(ctx, id)
}

// ---------- Status ----------

// GetCooldownStatus reports on the most recently observed cooldown,
// preferring the latest UsageRecord sample over a historical Execution's
// recorded cooldown_reset_at.
func (f *Facade) GetCooldownStatus(ctx context.Context) (CooldownStatus, error) {
	now := time.Now()

	if rec, err := f.store.LatestUsageRecord(ctx); err == nil && rec != nil {
		remaining := time.Duration(rec.RemainingMinutes) * time.Minute
		if remaining > 0 {
			return CooldownStatus{
				IsCooling:        true,
				SecondsRemaining: int64(remaining / time.Second),
				Source:           string(rec.Source),
			}, nil
		}
	}

	execs, err := f.store.ListExecutions(ctx, store.ListExecutionsOptions{Limit: 20})
	if err != nil {
		return CooldownStatus{}, err
	}
	for _, e := range execs {
		if e.ErrorKind != model.KindCooldown || e.CooldownResetAt == nil {
			continue
		}
		if e.CooldownResetAt.After(now) {
			return CooldownStatus{
				IsCooling:        true,
				SecondsRemaining: int64(e.CooldownResetAt.Sub(now) / time.Second),
				Source:           "parsed-error",
			}, nil
		}
		break
	}

	return CooldownStatus{IsCooling: false}, nil
}

// GetSystemHealth reports on the Store, the scheduler loop, and whether
// the configured agent binary is reachable on PATH.
func (f *Facade) GetSystemHealth(ctx context.Context) (SystemHealth, error) {
	h, err := f.store.Health(ctx)
	health := SystemHealth{
		DBOK:           err == nil && h.OK,
		ActiveJobs:     h.ActiveJobs,
		SchedulerState: "stopped",
	}
	if f.scheduler != nil {
		health.SchedulerState = f.scheduler.State().String()
	}
	if f.agentPath != "" {
		if _, lookErr := exec.LookPath(f.agentPath); lookErr == nil {
			health.AgentAvailable = true
		}
	}
	return health, err
}

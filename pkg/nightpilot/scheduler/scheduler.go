// Package scheduler implements SchedulerCore (spec §4.6): a long-lived
// loop that polls the Store for due jobs and dispatches them through the
// Executor, AdaptiveWaiter, and RetryPolicy, writing every outcome back
// through the Store exactly once.
//
// The dispatch loop, in-memory duplicate-dispatch guard, spin-loop guard,
// stagger delay, one-shot job handling, and panic isolation all follow
// the shape of a single-process cron-backed job runner; only the backing
// store for "what's due" changed, from an in-memory map to Store.PollDueJobs.
package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arcglyph/nightpilot/pkg/nightpilot/clock"
	"github.com/arcglyph/nightpilot/pkg/nightpilot/executor"
	"github.com/arcglyph/nightpilot/pkg/nightpilot/model"
	"github.com/arcglyph/nightpilot/pkg/nightpilot/retry"
	"github.com/arcglyph/nightpilot/pkg/nightpilot/store"
	"github.com/arcglyph/nightpilot/pkg/nightpilot/waiter"
)

// State is the SchedulerCore lifecycle state from spec §4.6.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// ErrAlreadyRunning is returned by Start when the single-instance guard is
// already held.
var ErrAlreadyRunning = errors.New("scheduler: already running")

const (
	basePollInterval    = 15 * time.Second
	lowQuotaPollInterval = 5 * time.Second
	idlePollInterval     = 30 * time.Second
	idleThreshold        = 5 * time.Minute
	lowQuotaThreshold    = 5 * time.Minute

	minJobInterval      = 2 * time.Second
	defaultShutdownWait = 30 * time.Second
	maxStagger          = 5 * time.Minute

	defaultMaxConcurrent = 3
)

// OracleFunc is forwarded to waiter.Wait for every cooldown this
// scheduler waits out; see spec §6 "Cooldown reporting tool".
type OracleFunc = waiter.OracleFunc

// Scheduler is SchedulerCore.
type Scheduler struct {
	store    store.Store
	executor *executor.Executor
	waiter   *waiter.Waiter
	clock    clock.Clock
	logger   *slog.Logger
	oracle   OracleFunc

	maxConcurrent int
	sem           chan struct{}

	state  atomic.Int32
	cancel context.CancelFunc
	ctx    context.Context
	wg     sync.WaitGroup

	dispatchMu sync.Mutex
	dispatched map[string]bool
}

// New builds a Scheduler. maxConcurrent <= 0 uses the spec default of 3.
func New(st store.Store, exec *executor.Executor, c clock.Clock, logger *slog.Logger, maxConcurrent int) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if c == nil {
		c = clock.System
	}
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	return &Scheduler{
		store:         st,
		executor:      exec,
		waiter:        waiter.New(c),
		clock:         c,
		logger:        logger,
		maxConcurrent: maxConcurrent,
		sem:           make(chan struct{}, maxConcurrent),
		dispatched:    make(map[string]bool),
	}
}

// SetOracle registers the optional cooldown-reporting-tool callback.
func (s *Scheduler) SetOracle(o OracleFunc) { s.oracle = o }

// State reports the current lifecycle state.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// Start acquires the single-instance guard, replays missed executions,
// and launches the polling loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrAlreadyRunning
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.replayMissed(s.ctx); err != nil {
		s.logger.Error("missed-execution replay failed", "error", err)
	}

	s.state.Store(int32(StateRunning))
	s.wg.Add(1)
	go s.loop()

	s.logger.Info("scheduler started", "max_concurrent_executions", s.maxConcurrent)
	return nil
}

// Stop transitions Running -> Stopping -> Stopped, awaiting in-flight
// executions (including any cooldown wait they are in) up to
// shutdownTimeout. In-flight waits are not signalled before the timeout
// elapses; only then are the executions force-terminated by cancelling
// their context, which ends any wait and triggers the executor's
// SIGTERM/SIGKILL escalation.
func (s *Scheduler) Stop(shutdownTimeout time.Duration) {
	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownWait
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		s.logger.Warn("scheduler shutdown timed out, forcing cancellation", "timeout", shutdownTimeout)
		s.cancel()
		<-done
	}

	s.state.Store(int32(StateStopped))
	s.logger.Info("scheduler stopped")
}

// replayMissed implements spec §4.6 "Missed-execution replay": on start,
// jobs with next-run-instant already in the past fire once each, in
// (next-run-instant ASC, created-at ASC) order — the same ordering
// PollDueJobs already guarantees.
func (s *Scheduler) replayMissed(ctx context.Context) error {
	ids, err := s.store.PollDueJobs(ctx, s.clock.Now(), 1000)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	s.logger.Info("replaying missed executions", "count", len(ids))
	for _, id := range ids {
		s.dispatch(ctx, id)
	}
	return nil
}

// loop is the main polling loop (spec §4.6 "Main loop").
func (s *Scheduler) loop() {
	defer s.wg.Done()

	for {
		interval := s.adaptivePollInterval(s.ctx)

		ids, err := s.store.PollDueJobs(s.ctx, s.clock.Now(), s.maxConcurrent)
		if err != nil {
			s.logger.Error("poll_due_jobs failed", "error", err)
		} else {
			for _, id := range ids {
				s.dispatch(s.ctx, id)
			}
		}

		select {
		case <-s.ctx.Done():
			return
		case <-s.clock.After(interval):
		}

		if s.State() != StateRunning {
			return
		}
	}
}

// adaptivePollInterval implements spec §4.6 step 1.
func (s *Scheduler) adaptivePollInterval(ctx context.Context) time.Duration {
	if rec, err := s.store.LatestUsageRecord(ctx); err == nil && rec != nil {
		if rec.RemainingMinutes <= lowQuotaThreshold.Minutes() {
			return lowQuotaPollInterval
		}
	}
	jobs, err := s.store.ListJobs(ctx)
	if err == nil {
		idle := true
		for _, j := range jobs {
			if j.LastRunAt != nil && s.clock.Now().Sub(*j.LastRunAt) < idleThreshold {
				idle = false
				break
			}
		}
		if idle && len(jobs) > 0 {
			return idlePollInterval
		}
	}
	return basePollInterval
}

// dispatch submits one job id for execution, enforcing the in-memory
// duplicate-dispatch guard and the max_concurrent_executions semaphore.
func (s *Scheduler) dispatch(ctx context.Context, jobID string) {
	s.dispatchMu.Lock()
	if s.dispatched[jobID] {
		s.dispatchMu.Unlock()
		return
	}
	s.dispatched[jobID] = true
	s.dispatchMu.Unlock()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		s.clearDispatched(jobID)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.sem }()
		defer s.clearDispatched(jobID)
		defer s.recoverPanic(jobID)

		s.runJob(ctx, jobID)
	}()
}

func (s *Scheduler) clearDispatched(jobID string) {
	s.dispatchMu.Lock()
	delete(s.dispatched, jobID)
	s.dispatchMu.Unlock()
}

func (s *Scheduler) recoverPanic(jobID string) {
	if r := recover(); r != nil {
		s.logger.Error("job dispatch panicked", "job_id", jobID, "panic", r)
	}
}

// runJob implements spec §4.6 step 3's async task body.
func (s *Scheduler) runJob(ctx context.Context, jobID string) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		s.logger.Error("failed to load job for dispatch", "job_id", jobID, "error", err)
		return
	}

	if job.LastRunAt != nil && s.clock.Now().Sub(*job.LastRunAt) < minJobInterval {
		s.logger.Debug("skipping job (spin loop guard)", "job_id", jobID)
		return
	}

	if stagger := resolveStagger(job); stagger > 0 {
		select {
		case <-s.clock.After(stagger):
		case <-ctx.Done():
			return
		}
	}

	prompt, err := s.store.GetPrompt(ctx, job.PromptID)
	if err != nil {
		s.logger.Error("failed to load prompt for dispatch", "job_id", jobID, "error", err)
		return
	}

	execID, err := s.store.BeginExecution(ctx, &job.ID, "", s.clock.Now())
	if err != nil {
		s.logger.Error("begin_execution failed", "job_id", jobID, "error", err)
		return
	}

	outcome := s.executeWithRetry(ctx, jobID, prompt.Content, job.Options, job.Retry)

	if err := s.store.FinishExecution(ctx, execID, outcome); err != nil {
		s.logger.Error("finish_execution failed", "job_id", jobID, "execution_id", execID, "error", err)
	}
}

// recordCooldownUsage persists the quota signal carried on a KindCooldown
// result so adaptivePollInterval and Facade.GetCooldownStatus have a live
// sample to read instead of only ever seeing test-seeded data.
func (s *Scheduler) recordCooldownUsage(ctx context.Context, res executor.Result) {
	remaining := time.Duration(res.CooldownSecondsRemaining) * time.Second
	rec := model.UsageRecord{
		Instant:          s.clock.Now(),
		RemainingMinutes: remaining.Minutes(),
		Source:           model.UsageSourceParsedError,
		RawText:          res.ErrorMessage,
	}
	if err := s.store.AppendUsageRecord(ctx, rec); err != nil {
		s.logger.Warn("failed to record cooldown usage sample", "error", err)
	}
}

// executeWithRetry runs the Executor, looping through cooldown waits and
// RetryPolicy decisions until a terminal outcome is reached, per spec
// §4.6 step 3a-b.
func (s *Scheduler) executeWithRetry(ctx context.Context, jobID, promptContent string, opts model.ExecutionOptions, retryCfg model.RetryConfig) store.Outcome {
	var last executor.Result
	attempt := 0

loop:
	for {
		res, err := s.executor.Execute(ctx, promptContent, opts.WorkingDirectory, opts)
		if err != nil {
			last = executor.Result{
				Status:       model.ExecFailed,
				EndInstant:   s.clock.Now(),
				ErrorKind:    model.KindIOError,
				ErrorMessage: err.Error(),
			}
			break loop
		}
		last = res

		if res.Status == model.ExecCompleted {
			break loop
		}

		if res.ErrorKind == model.KindCooldown {
			s.logger.Info("job deferred for cooldown", "job_id", jobID, "reset_at", res.CooldownResetInstant)
			s.recordCooldownUsage(ctx, res)
			s.waiter.Wait(res.CooldownResetInstant, s.oracle, ctx.Done())
			decision := retry.Decide(model.KindCooldown, attempt, retryCfg, 0, res.CooldownSecondsRemaining)
			if !decision.Retry {
				// Retries exhausted: the wait is over but the agent is still
				// cooling, so this execution terminates as a failure rather
				// than staying in the non-terminal CooldownDeferred status.
				last.Status = model.ExecFailed
				break loop
			}
			attempt++
			continue loop
		}

		decision := retry.Decide(res.ErrorKind, attempt, retryCfg, res.ExitCode, res.CooldownSecondsRemaining)
		if !decision.Retry {
			break loop
		}
		s.logger.Info("retrying job", "job_id", jobID, "attempt", attempt+1, "delay", decision.Delay, "error_kind", res.ErrorKind)
		select {
		case <-time.After(decision.Delay):
		case <-ctx.Done():
			break loop
		}
		attempt++
	}

	var costEstimate *float64
	if last.CostEstimate != nil {
		v := *last.CostEstimate
		costEstimate = &v
	}
	var cooldownResetAt *time.Time
	if last.ErrorKind == model.KindCooldown && !last.CooldownResetInstant.IsZero() {
		v := last.CooldownResetInstant
		cooldownResetAt = &v
	}
	return store.Outcome{
		Status:          last.Status,
		EndInstant:      last.EndInstant,
		RawOutput:       last.RawOutput,
		OutputTruncated: last.OutputTruncated,
		ResultPayload:   last.ResultPayload,
		ErrorKind:       last.ErrorKind,
		ErrorMessage:    last.ErrorMessage,
		RetryIndex:      attempt,
		CostEstimate:    costEstimate,
		Usage:           last.Usage,
		CooldownResetAt: cooldownResetAt,
	}
}

// resolveStagger mirrors the job-ID-derived top-of-hour jitter: §9
// "Stagger delay" in SPEC_FULL.
func resolveStagger(job model.Job) time.Duration {
	if job.Options.Exact || !job.Options.Stagger {
		return 0
	}
	if job.RunAt != nil {
		return 0
	}
	if !isTopOfHourSchedule(job.Cron) {
		return 0
	}
	return stableOffset(job.ID, maxStagger)
}

func stableOffset(jobID string, bound time.Duration) time.Duration {
	h := sha256.Sum256([]byte(jobID))
	n := binary.BigEndian.Uint32(h[:4])
	ms := int64(n) % bound.Milliseconds()
	return time.Duration(ms) * time.Millisecond
}

func isTopOfHourSchedule(cron string) bool {
	c := strings.TrimSpace(strings.ToLower(cron))
	switch c {
	case "@hourly", "@daily", "@weekly", "@monthly", "@yearly", "@annually":
		return true
	}
	fields := strings.Fields(c)
	return len(fields) >= 1 && fields[0] == "0"
}

// TriggerNow implements the facade's ad-hoc run: it bypasses poll_due_jobs
// and dispatches jobID immediately, still subject to the concurrency cap
// and duplicate-dispatch guard.
func (s *Scheduler) TriggerNow(ctx context.Context, jobID string) {
	s.dispatch(ctx, jobID)
}

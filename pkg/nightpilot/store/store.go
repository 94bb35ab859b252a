// Package store implements the persistence layer described in spec §4.1:
// a single embedded relational store, accessed concurrently by the
// scheduler, the executor's callers, and both CLI front-ends.
package store

import (
	"context"
	"time"

	"github.com/arcglyph/nightpilot/pkg/nightpilot/model"
)

// ListPromptsOptions are the recognized filter options for list_prompts.
type ListPromptsOptions struct {
	Tag    string
	Search string
	Limit  int
	Offset int
}

// Normalize clamps Limit/Offset to the bounds spec.md §4.1 names.
func (o *ListPromptsOptions) Normalize() {
	if o.Limit <= 0 || o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// ListExecutionsOptions filters list_executions.
type ListExecutionsOptions struct {
	JobID  *string
	Limit  int
	Offset int
}

func (o *ListExecutionsOptions) Normalize() {
	if o.Limit <= 0 || o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// Health is the result of the health() operation.
type Health struct {
	OK                bool
	LatencyMs         int64
	ActiveJobs        int
	PendingExecutions int
}

// Outcome is what finish_execution applies atomically to an Execution and,
// transitively, to its Job's counters.
type Outcome struct {
	Status          model.ExecutionStatus
	EndInstant      time.Time
	RawOutput       string
	OutputTruncated bool
	ResultPayload   string
	ErrorKind       model.Kind
	ErrorMessage    string
	RetryIndex      int
	CostEstimate    *float64
	Usage           *model.JobUsage
	CooldownResetAt *time.Time
}

// Store is the full persistence contract from spec.md §4.1. Every method
// is transactional; no method exposes a live cursor. Implementations must
// serialize writes while allowing concurrent reads to observe either the
// pre- or post-state of any write.
type Store interface {
	CreatePrompt(ctx context.Context, title, content string, tags []string) (string, error)
	UpdatePrompt(ctx context.Context, id string, title, content *string, tags []string) error
	DeletePrompt(ctx context.Context, id string) error
	ListPrompts(ctx context.Context, opts ListPromptsOptions) ([]model.Prompt, error)
	GetPrompt(ctx context.Context, id string) (model.Prompt, error)

	// CreateJob creates a recurring job when runAt is nil (cronExpr is
	// then required and validated), or a one-shot job when runAt is
	// non-nil (cronExpr is ignored and stored empty; the job fires once
	// at runAt and transitions to Completed after that execution
	// finishes, success or failure).
	CreateJob(ctx context.Context, promptID, cronExpr string, runAt *time.Time, opts model.ExecutionOptions, retry model.RetryConfig) (string, error)
	UpdateJob(ctx context.Context, id string, cronExpr *string, status *model.JobStatus, priority *int, opts *model.ExecutionOptions, retry *model.RetryConfig) error
	DeleteJob(ctx context.Context, id string) error
	GetJob(ctx context.Context, id string) (model.Job, error)
	ListJobs(ctx context.Context) ([]model.Job, error)

	// PollDueJobs returns job IDs where status is Active and
	// next-run-instant <= now, ordered by (next-run-instant ASC,
	// created-at ASC), bounded by limit. It is the only query the
	// scheduler loop uses for dispatch.
	PollDueJobs(ctx context.Context, now time.Time, limit int) ([]string, error)

	BeginExecution(ctx context.Context, jobID *string, promptContentHash string, start time.Time) (string, error)
	FinishExecution(ctx context.Context, executionID string, outcome Outcome) error
	GetExecution(ctx context.Context, id string) (model.Execution, error)
	ListExecutions(ctx context.Context, opts ListExecutionsOptions) ([]model.Execution, error)

	AppendUsageRecord(ctx context.Context, rec model.UsageRecord) error
	LatestUsageRecord(ctx context.Context) (*model.UsageRecord, error)
	// BlockWindowStartedAt returns the best-effort rolling-window start
	// hint described in SPEC_FULL §3 Open Question (c), or nil if there
	// isn't enough history to estimate one.
	BlockWindowStartedAt(ctx context.Context, now time.Time) (*time.Time, error)

	Health(ctx context.Context) (Health, error)

	Close() error
}

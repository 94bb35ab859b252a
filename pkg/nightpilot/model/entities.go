package model

import "time"

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobActive    JobStatus = "active"
	JobPaused    JobStatus = "paused"
	JobCompleted JobStatus = "completed"
	JobError     JobStatus = "error"
)

// ExecutionStatus is the lifecycle state of an Execution.
type ExecutionStatus string

const (
	ExecQueued           ExecutionStatus = "queued"
	ExecRunning          ExecutionStatus = "running"
	ExecCompleted        ExecutionStatus = "completed"
	ExecFailed           ExecutionStatus = "failed"
	ExecCooldownDeferred ExecutionStatus = "cooldown_deferred"
	ExecCancelled        ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status is a terminal one (immutable once reached).
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecCompleted, ExecFailed, ExecCancelled:
		return true
	default:
		return false
	}
}

// UsageSource identifies where a UsageRecord sample came from.
type UsageSource string

const (
	UsageSourceExternalTool UsageSource = "external-tool"
	UsageSourceParsedError  UsageSource = "parsed-error"
	UsageSourceFallback     UsageSource = "fallback"
)

// Prompt is a reusable instruction template.
type Prompt struct {
	ID        string
	Title     string
	Content   string
	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RetryConfig controls how RetryPolicy backs off between attempts.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	// RetriableExitCodes lists agent exit codes that are retried for
	// KindAgentError failures. Empty means no exit code is retried.
	RetriableExitCodes []int
}

// DefaultRetryConfig matches the defaults named in spec §4.5.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2.0,
		MaxDelay:    60 * time.Second,
	}
}

// OutputFormat selects how the agent CLI is asked to format its stdout.
type OutputFormat string

const (
	OutputJSON OutputFormat = "json"
	OutputText OutputFormat = "text"
)

// ExecutionOptions configures a single Executor invocation.
type ExecutionOptions struct {
	WorkingDirectory string
	Timeout          time.Duration
	OutputFormat     OutputFormat
	DangerMode       bool
	RetryConfig      RetryConfig
	DryRun           bool

	// Stagger and Exact are SPEC_FULL additions (see §9 supplemented
	// features): Stagger opts a job's dispatch into the deterministic
	// top-of-hour jitter; Exact disables it even if the schedule qualifies.
	Stagger bool
	Exact   bool

	// Model optionally overrides the agent's default model for this run.
	Model string
}

// DefaultExecutionOptions matches the defaults named in spec §4.2.
func DefaultExecutionOptions() ExecutionOptions {
	return ExecutionOptions{
		Timeout:      5 * time.Minute,
		OutputFormat: OutputJSON,
		RetryConfig:  DefaultRetryConfig(),
	}
}

// MaxTimeout is the hard ceiling on ExecutionOptions.Timeout.
const MaxTimeout = time.Hour

// Job binds a Prompt to a recurrence rule.
type Job struct {
	ID        string
	PromptID  string
	Cron      string // empty for a one-shot job
	RunAt     *time.Time // set only for one-shot jobs (SPEC_FULL addition, §9)
	Status    JobStatus
	Priority  int

	ExecutionCount int
	FailureCount   int
	// ConsecutiveFailures counts non-Completed terminal executions since
	// the last Completed one; it resets to 0 on success and drives the
	// transition to JobError once it reaches maxConsecutiveJobFailures.
	ConsecutiveFailures int

	LastRunAt *time.Time
	NextRunAt *time.Time

	Retry   RetryConfig
	Options ExecutionOptions

	CreatedAt time.Time
	UpdatedAt time.Time
}

// JobUsage mirrors the optional token-usage telemetry on an Execution.
type JobUsage struct {
	InputTokens  int
	OutputTokens int
}

// Execution is one invocation of the agent for a Job (or an ad-hoc run).
type Execution struct {
	ID     string
	JobID  *string // nil for ad-hoc "run-now" executions outside a job
	PromptContentHash string

	Status ExecutionStatus

	StartInstant time.Time
	EndInstant   *time.Time
	DurationMs   int64

	RawOutput      string
	OutputTruncated bool
	ResultPayload  string

	ErrorKind    Kind
	ErrorMessage string

	RetryIndex int

	CostEstimate *float64
	Usage        *JobUsage

	// CooldownResetAt is set only when ErrorKind == KindCooldown: the
	// instant the detector believed the agent's quota would reset.
	CooldownResetAt *time.Time
}

// UsageRecord is a time-stamped sample of the provider's remaining quota.
type UsageRecord struct {
	Instant          time.Time
	RemainingMinutes float64
	TotalMinutes     float64
	UsagePercentage  float64
	Source           UsageSource
	RawText          string
}

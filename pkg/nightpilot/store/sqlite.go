package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/arcglyph/nightpilot/pkg/nightpilot/clock"
	"github.com/arcglyph/nightpilot/pkg/nightpilot/model"
)

// SQLiteConfig configures the embedded database connection.
type SQLiteConfig struct {
	// Path is the database file. Empty means the canonical per-user path
	// resolved by DefaultPath().
	Path string

	JournalMode string
	BusyTimeoutMs int
}

// DefaultDBFileName is the canonical file name chosen in SPEC_FULL §3
// Open Question (b). The older "claude-pilot.db" name is recognized only
// as a one-time migration source, never written to again.
const DefaultDBFileName = "claude-night-pilot.db"

const legacyDBFileName = "claude-pilot.db"

// maxConsecutiveJobFailures is how many consecutive non-Completed terminal
// executions a recurring job tolerates before FinishExecution trips it to
// JobError and stops rescheduling it.
const maxConsecutiveJobFailures = 5

// DefaultPath resolves the per-user data directory path for the canonical
// database file, honoring CNP_DB_PATH if set.
func DefaultPath() string {
	if p := os.Getenv("CNP_DB_PATH"); p != "" {
		return p
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		dir = "."
	}
	base := filepath.Join(dir, ".local", "share", "claude-night-pilot")
	return filepath.Join(base, DefaultDBFileName)
}

// SQLiteStore implements Store over a single-file SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	clock  clock.Clock
}

// busyBackoff implements the bounded retry-then-Busy behavior from
// spec §4.1 "Failure semantics".
var busyBackoff = []time.Duration{5 * time.Millisecond, 20 * time.Millisecond, 80 * time.Millisecond}

// OpenSQLite opens (creating if necessary) the database at cfg.Path,
// migrating the legacy file forward per SPEC_FULL §3 Open Question (b),
// and applies all pending schema migrations.
func OpenSQLite(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		cfg.Path = DefaultPath()
	}
	if cfg.JournalMode == "" {
		cfg.JournalMode = "WAL"
	}
	if cfg.BusyTimeoutMs == 0 {
		cfg.BusyTimeoutMs = 5000
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, model.Wrap(model.KindIOError, err, "create database directory %q", dir)
	}

	migrateLegacyFile(cfg.Path, dir)

	dsn := fmt.Sprintf("%s?_journal_mode=%s&_busy_timeout=%d&_foreign_keys=ON",
		cfg.Path, cfg.JournalMode, cfg.BusyTimeoutMs)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, model.Wrap(model.KindIOError, err, "open database %q", cfg.Path)
	}
	// SQLite only supports one writer; a single connection avoids
	// SQLITE_BUSY from the driver's own pool contending with itself.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, model.Wrap(model.KindIOError, err, "ping database %q", cfg.Path)
	}

	s := &SQLiteStore{db: db, clock: clock.System}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// migrateLegacyFile copies claude-pilot.db into place once, per the forward
// migration decided in SPEC_FULL §3 Open Question (b). It never overwrites
// an existing canonical file and never deletes the legacy one.
func migrateLegacyFile(canonicalPath, dir string) {
	if _, err := os.Stat(canonicalPath); err == nil {
		return // canonical file already exists
	}
	legacy := filepath.Join(dir, legacyDBFileName)
	data, err := os.ReadFile(legacy)
	if err != nil {
		return // no legacy file to migrate
	}
	_ = os.WriteFile(canonicalPath, data, 0o644)
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// withRetry runs fn, retrying on SQLITE_BUSY up to len(busyBackoff) times
// with short backoff before surfacing model.KindBusy.
func withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isBusyErr(err) || attempt >= len(busyBackoff) {
			lastErr = err
			break
		}
		select {
		case <-time.After(busyBackoff[attempt]):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if isBusyErr(lastErr) {
		return model.Wrap(model.KindBusy, lastErr, "database busy")
	}
	return lastErr
}

func isBusyErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "database is locked")
}

// ---------- migrations ----------

func (s *SQLiteStore) migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return model.Wrap(model.KindFatal, err, "begin migration transaction")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return model.Wrap(model.KindFatal, err, "create schema_version table")
	}

	for _, m := range migrations {
		var exists int
		if err := tx.QueryRow("SELECT COUNT(1) FROM schema_version WHERE version = ?", m.version).Scan(&exists); err != nil {
			return model.Wrap(model.KindFatal, err, "check migration %d", m.version)
		}
		if exists > 0 {
			continue
		}
		if _, err := tx.Exec(m.sql); err != nil {
			return model.Wrap(model.KindFatal, err, "apply migration %d", m.version)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			return model.Wrap(model.KindFatal, err, "record migration %d", m.version)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.Wrap(model.KindFatal, err, "commit migration transaction")
	}
	return nil
}

// ---------- prompts ----------

func (s *SQLiteStore) CreatePrompt(ctx context.Context, title, content string, tags []string) (string, error) {
	if strings.TrimSpace(title) == "" {
		return "", model.New(model.KindValidation, "prompt title must not be empty")
	}
	if strings.TrimSpace(content) == "" {
		return "", model.New(model.KindValidation, "prompt content must not be empty")
	}
	id := uuid.NewString()
	now := s.clock.Now().UTC()
	tagsJSON, _ := json.Marshal(tags)

	err := withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO prompts (id, title, content, tags, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`, id, title, content, string(tagsJSON), fmtTime(now), fmtTime(now))
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLiteStore) UpdatePrompt(ctx context.Context, id string, title, content *string, tags []string) error {
	existing, err := s.GetPrompt(ctx, id)
	if err != nil {
		return err
	}
	if title != nil {
		if strings.TrimSpace(*title) == "" {
			return model.New(model.KindValidation, "prompt title must not be empty")
		}
		existing.Title = *title
	}
	if content != nil {
		if strings.TrimSpace(*content) == "" {
			return model.New(model.KindValidation, "prompt content must not be empty")
		}
		existing.Content = *content
	}
	if tags != nil {
		existing.Tags = tags
	}
	now := s.clock.Now().UTC()
	tagsJSON, _ := json.Marshal(existing.Tags)

	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE prompts SET title = ?, content = ?, tags = ?, updated_at = ? WHERE id = ?`,
			existing.Title, existing.Content, string(tagsJSON), fmtTime(now), id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return model.New(model.KindNotFound, "prompt %q not found", id)
		}
		return nil
	})
}

func (s *SQLiteStore) DeletePrompt(ctx context.Context, id string) error {
	return withRetry(ctx, func() error {
		var refCount int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs WHERE prompt_id = ?`, id).Scan(&refCount); err != nil {
			return err
		}
		if refCount > 0 {
			return model.New(model.KindInUse, "prompt %q is referenced by %d job(s)", id, refCount)
		}
		res, err := s.db.ExecContext(ctx, `DELETE FROM prompts WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return model.New(model.KindNotFound, "prompt %q not found", id)
		}
		return nil
	})
}

func (s *SQLiteStore) GetPrompt(ctx context.Context, id string) (model.Prompt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, title, content, tags, created_at, updated_at FROM prompts WHERE id = ?`, id)
	p, err := scanPrompt(row)
	if err == sql.ErrNoRows {
		return model.Prompt{}, model.New(model.KindNotFound, "prompt %q not found", id)
	}
	return p, err
}

func (s *SQLiteStore) ListPrompts(ctx context.Context, opts ListPromptsOptions) ([]model.Prompt, error) {
	opts.Normalize()
	query := `SELECT id, title, content, tags, created_at, updated_at FROM prompts WHERE 1=1`
	var args []any
	if opts.Tag != "" {
		query += ` AND tags LIKE ?`
		args = append(args, "%\""+opts.Tag+"\"%")
	}
	if opts.Search != "" {
		query += ` AND (title LIKE ? OR content LIKE ?)`
		like := "%" + opts.Search + "%"
		args = append(args, like, like)
	}
	query += ` ORDER BY created_at ASC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrompt(row rowScanner) (model.Prompt, error) {
	var p model.Prompt
	var tagsJSON, createdAt, updatedAt string
	if err := row.Scan(&p.ID, &p.Title, &p.Content, &tagsJSON, &createdAt, &updatedAt); err != nil {
		return model.Prompt{}, err
	}
	_ = json.Unmarshal([]byte(tagsJSON), &p.Tags)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// ---------- jobs ----------

func (s *SQLiteStore) CreateJob(ctx context.Context, promptID, cronExpr string, runAt *time.Time, opts model.ExecutionOptions, retry model.RetryConfig) (string, error) {
	if _, err := s.GetPrompt(ctx, promptID); err != nil {
		return "", err
	}
	now := s.clock.Now().UTC()

	// A one-shot job stores an empty cron and fires once at runAt; a
	// recurring job requires a valid cron and has next_run_at computed
	// from it. The two are mutually exclusive: runAt wins.
	var next time.Time
	if runAt != nil {
		cronExpr = ""
		next = runAt.UTC()
	} else {
		if _, err := ValidateCron(cronExpr); err != nil {
			return "", err
		}
		n, err := NextRun(cronExpr, now)
		if err != nil {
			return "", err
		}
		next = n
	}

	id := uuid.NewString()
	retryCodesJSON, _ := json.Marshal(retry.RetriableExitCodes)

	err := withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO jobs (
			id, prompt_id, cron, run_at, status, priority,
			execution_count, failure_count, last_run_at, next_run_at,
			retry_max_attempts, retry_base_delay_ms, retry_multiplier, retry_max_delay_ms, retry_codes,
			opt_working_dir, opt_timeout_ms, opt_output_format, opt_danger_mode, opt_dry_run,
			opt_stagger, opt_exact, opt_model,
			created_at, updated_at
		) VALUES (?,?,?,?,?,?, ?,?,?,?, ?,?,?,?,?, ?,?,?,?,?, ?,?,?, ?,?)`,
			id, promptID, cronExpr, fmtTimePtr(runAt), string(model.JobActive), 0,
			0, 0, nil, fmtTime(next),
			retry.MaxAttempts, retry.BaseDelay.Milliseconds(), retry.Multiplier, retry.MaxDelay.Milliseconds(), string(retryCodesJSON),
			opts.WorkingDirectory, opts.Timeout.Milliseconds(), string(opts.OutputFormat), boolToInt(opts.DangerMode), boolToInt(opts.DryRun),
			boolToInt(opts.Stagger), boolToInt(opts.Exact), opts.Model,
			fmtTime(now), fmtTime(now))
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, id string, cronExpr *string, status *model.JobStatus, priority *int, opts *model.ExecutionOptions, retry *model.RetryConfig) error {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	now := s.clock.Now().UTC()
	next := job.NextRunAt
	consecutiveFailures := job.ConsecutiveFailures

	if cronExpr != nil {
		if _, err := ValidateCron(*cronExpr); err != nil {
			return err
		}
		job.Cron = *cronExpr
		n, err := NextRun(*cronExpr, now)
		if err != nil {
			return err
		}
		next = &n
	}
	if status != nil {
		job.Status = *status
		if *status == model.JobActive {
			// Resuming (including out of JobError) clears the
			// intervention counter so one more failure doesn't
			// immediately re-trip it.
			consecutiveFailures = 0
		}
	}
	if priority != nil {
		job.Priority = *priority
	}
	if opts != nil {
		job.Options = *opts
	}
	if retry != nil {
		job.Retry = *retry
	}

	retryCodesJSON, _ := json.Marshal(job.Retry.RetriableExitCodes)

	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE jobs SET
			cron = ?, status = ?, priority = ?, next_run_at = ?, consecutive_failures = ?,
			retry_max_attempts = ?, retry_base_delay_ms = ?, retry_multiplier = ?, retry_max_delay_ms = ?, retry_codes = ?,
			opt_working_dir = ?, opt_timeout_ms = ?, opt_output_format = ?, opt_danger_mode = ?, opt_dry_run = ?,
			opt_stagger = ?, opt_exact = ?, opt_model = ?, updated_at = ?
			WHERE id = ?`,
			job.Cron, string(job.Status), job.Priority, fmtTimePtr(next), consecutiveFailures,
			job.Retry.MaxAttempts, job.Retry.BaseDelay.Milliseconds(), job.Retry.Multiplier, job.Retry.MaxDelay.Milliseconds(), string(retryCodesJSON),
			job.Options.WorkingDirectory, job.Options.Timeout.Milliseconds(), string(job.Options.OutputFormat), boolToInt(job.Options.DangerMode), boolToInt(job.Options.DryRun),
			boolToInt(job.Options.Stagger), boolToInt(job.Options.Exact), job.Options.Model, fmtTime(now),
			id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return model.New(model.KindNotFound, "job %q not found", id)
		}
		return nil
	})
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, id string) error {
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return model.New(model.KindNotFound, "job %q not found", id)
		}
		return nil
	})
}

const jobColumns = `id, prompt_id, cron, run_at, status, priority,
	execution_count, failure_count, consecutive_failures, last_run_at, next_run_at,
	retry_max_attempts, retry_base_delay_ms, retry_multiplier, retry_max_delay_ms, retry_codes,
	opt_working_dir, opt_timeout_ms, opt_output_format, opt_danger_mode, opt_dry_run,
	opt_stagger, opt_exact, opt_model,
	created_at, updated_at`

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (model.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return model.Job{}, model.New(model.KindNotFound, "job %q not found", id)
	}
	return j, err
}

func (s *SQLiteStore) ListJobs(ctx context.Context) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(row rowScanner) (model.Job, error) {
	var j model.Job
	var runAt, lastRunAt, nextRunAt sql.NullString
	var status, outputFormat, retryCodesJSON, createdAt, updatedAt string
	var dangerMode, dryRun, stagger, exact int
	var timeoutMs, baseDelayMs, maxDelayMs int64
	var multiplier float64

	if err := row.Scan(
		&j.ID, &j.PromptID, &j.Cron, &runAt, &status, &j.Priority,
		&j.ExecutionCount, &j.FailureCount, &j.ConsecutiveFailures, &lastRunAt, &nextRunAt,
		&j.Retry.MaxAttempts, &baseDelayMs, &multiplier, &maxDelayMs, &retryCodesJSON,
		&j.Options.WorkingDirectory, &timeoutMs, &outputFormat, &dangerMode, &dryRun,
		&stagger, &exact, &j.Options.Model,
		&createdAt, &updatedAt,
	); err != nil {
		return model.Job{}, err
	}

	j.Status = model.JobStatus(status)
	j.Options.OutputFormat = model.OutputFormat(outputFormat)
	j.Options.DangerMode = dangerMode != 0
	j.Options.DryRun = dryRun != 0
	j.Options.Stagger = stagger != 0
	j.Options.Exact = exact != 0
	j.Options.Timeout = time.Duration(timeoutMs) * time.Millisecond
	j.Retry.BaseDelay = time.Duration(baseDelayMs) * time.Millisecond
	j.Retry.MaxDelay = time.Duration(maxDelayMs) * time.Millisecond
	j.Retry.Multiplier = multiplier
	_ = json.Unmarshal([]byte(retryCodesJSON), &j.Retry.RetriableExitCodes)
	j.Options.RetryConfig = j.Retry

	if runAt.Valid {
		t := parseTime(runAt.String)
		j.RunAt = &t
	}
	if lastRunAt.Valid {
		t := parseTime(lastRunAt.String)
		j.LastRunAt = &t
	}
	if nextRunAt.Valid {
		t := parseTime(nextRunAt.String)
		j.NextRunAt = &t
	}
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	return j, nil
}

// PollDueJobs implements spec §4.1: the only query the scheduler loop uses
// for dispatch, ordered (next-run-instant ASC, created-at ASC).
func (s *SQLiteStore) PollDueJobs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 3
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM jobs
		WHERE status = ? AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC, created_at ASC
		LIMIT ?`, string(model.JobActive), fmtTime(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ---------- executions ----------

func (s *SQLiteStore) BeginExecution(ctx context.Context, jobID *string, promptContentHash string, start time.Time) (string, error) {
	id := uuid.NewString()
	err := withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		_, err = tx.ExecContext(ctx, `INSERT INTO executions (
			id, job_id, prompt_content_hash, status, start_instant, end_instant, duration_ms,
			raw_output, output_truncated, result_payload, error_kind, error_message, retry_index,
			cost_estimate, usage_in, usage_out
		) VALUES (?,?,?,?,?,?,?, ?,?,?,?,?,?, ?,?,?)`,
			id, nullableString(jobID), promptContentHash, string(model.ExecRunning), fmtTime(start), nil, 0,
			"", 0, "", "", "", 0,
			nil, nil, nil)
		if err != nil {
			return err
		}

		if jobID != nil {
			res, err := tx.ExecContext(ctx, `UPDATE jobs SET last_run_at = ?, updated_at = ? WHERE id = ?`,
				fmtTime(start), fmtTime(start), *jobID)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return model.New(model.KindNotFound, "job %q not found", *jobID)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// FinishExecution applies terminal fields atomically, increments the
// Job's counters, and recomputes next-run-instant from the cron (or
// clears it for a one-shot job), all per spec §4.1.
func (s *SQLiteStore) FinishExecution(ctx context.Context, executionID string, outcome Outcome) error {
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var currentStatus string
		var jobID sql.NullString
		var startInstant string
		if err := tx.QueryRowContext(ctx, `SELECT status, job_id, start_instant FROM executions WHERE id = ?`, executionID).
			Scan(&currentStatus, &jobID, &startInstant); err != nil {
			if err == sql.ErrNoRows {
				return model.New(model.KindNotFound, "execution %q not found", executionID)
			}
			return err
		}
		if model.ExecutionStatus(currentStatus).IsTerminal() {
			return model.New(model.KindValidation, "execution %q is already terminal", executionID)
		}

		start := parseTime(startInstant)
		durationMs := outcome.EndInstant.Sub(start).Milliseconds()
		if durationMs < 0 {
			durationMs = 0
		}

		var usageIn, usageOut any
		if outcome.Usage != nil {
			usageIn, usageOut = outcome.Usage.InputTokens, outcome.Usage.OutputTokens
		}

		_, err = tx.ExecContext(ctx, `UPDATE executions SET
			status = ?, end_instant = ?, duration_ms = ?, raw_output = ?, output_truncated = ?,
			result_payload = ?, error_kind = ?, error_message = ?, retry_index = ?, cost_estimate = ?,
			usage_in = ?, usage_out = ?, cooldown_reset_at = ?
			WHERE id = ?`,
			string(outcome.Status), fmtTime(outcome.EndInstant), durationMs, outcome.RawOutput, boolToInt(outcome.OutputTruncated),
			outcome.ResultPayload, outcome.ErrorKind.String(), outcome.ErrorMessage, outcome.RetryIndex, outcome.CostEstimate,
			usageIn, usageOut, fmtTimePtr(outcome.CooldownResetAt), executionID)
		if err != nil {
			return err
		}

		if jobID.Valid {
			failureDelta := 0
			if outcome.Status != model.ExecCompleted {
				failureDelta = 1
			}

			var cronExpr string
			var runAt sql.NullString
			var consecutiveFailures int
			if err := tx.QueryRowContext(ctx, `SELECT cron, run_at, consecutive_failures FROM jobs WHERE id = ?`, jobID.String).
				Scan(&cronExpr, &runAt, &consecutiveFailures); err != nil {
				return err
			}
			if outcome.Status == model.ExecCompleted {
				consecutiveFailures = 0
			} else {
				consecutiveFailures++
			}

			var nextRunAt any
			var newStatus string = string(model.JobActive)
			switch {
			case runAt.Valid:
				// one-shot job: clears next-run-instant and completes,
				// success or failure.
				nextRunAt = nil
				newStatus = string(model.JobCompleted)
			case consecutiveFailures >= maxConsecutiveJobFailures:
				// repeated failure requires user intervention (spec.md
				// §3); stop rescheduling until the job is explicitly
				// resumed.
				nextRunAt = nil
				newStatus = string(model.JobError)
			default:
				next, err := NextRun(cronExpr, outcome.EndInstant)
				if err != nil {
					return err
				}
				nextRunAt = fmtTime(next)
			}

			_, err = tx.ExecContext(ctx, `UPDATE jobs SET
				execution_count = execution_count + 1,
				failure_count = failure_count + ?,
				consecutive_failures = ?,
				next_run_at = ?,
				status = CASE WHEN status = ? THEN status ELSE ? END,
				updated_at = ?
				WHERE id = ?`,
				failureDelta, consecutiveFailures, nextRunAt, string(model.JobPaused), newStatus, fmtTime(outcome.EndInstant), jobID.String)
			if err != nil {
				return err
			}
		}

		return tx.Commit()
	})
}

func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (model.Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	e, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return model.Execution{}, model.New(model.KindNotFound, "execution %q not found", id)
	}
	return e, err
}

const executionColumns = `id, job_id, prompt_content_hash, status, start_instant, end_instant, duration_ms,
	raw_output, output_truncated, result_payload, error_kind, error_message, retry_index,
	cost_estimate, usage_in, usage_out, cooldown_reset_at`

func scanExecution(row rowScanner) (model.Execution, error) {
	var e model.Execution
	var jobID, endInstant, cooldownResetAt sql.NullString
	var status, startInstant, errorKind string
	var outputTruncated int
	var costEstimate sql.NullFloat64
	var usageIn, usageOut sql.NullInt64

	if err := row.Scan(
		&e.ID, &jobID, &e.PromptContentHash, &status, &startInstant, &endInstant, &e.DurationMs,
		&e.RawOutput, &outputTruncated, &e.ResultPayload, &errorKind, &e.ErrorMessage, &e.RetryIndex,
		&costEstimate, &usageIn, &usageOut, &cooldownResetAt,
	); err != nil {
		return model.Execution{}, err
	}
	if cooldownResetAt.Valid {
		t := parseTime(cooldownResetAt.String)
		e.CooldownResetAt = &t
	}

	e.Status = model.ExecutionStatus(status)
	e.StartInstant = parseTime(startInstant)
	e.OutputTruncated = outputTruncated != 0
	if jobID.Valid {
		id := jobID.String
		e.JobID = &id
	}
	if endInstant.Valid {
		t := parseTime(endInstant.String)
		e.EndInstant = &t
	}
	if costEstimate.Valid {
		e.CostEstimate = &costEstimate.Float64
	}
	if usageIn.Valid || usageOut.Valid {
		e.Usage = &model.JobUsage{InputTokens: int(usageIn.Int64), OutputTokens: int(usageOut.Int64)}
	}
	for k := model.KindUnknown; k <= model.KindFatal; k++ {
		if k.String() == errorKind {
			e.ErrorKind = k
			break
		}
	}
	return e, nil
}

func (s *SQLiteStore) ListExecutions(ctx context.Context, opts ListExecutionsOptions) ([]model.Execution, error) {
	opts.Normalize()
	query := `SELECT ` + executionColumns + ` FROM executions WHERE 1=1`
	var args []any
	if opts.JobID != nil {
		query += ` AND job_id = ?`
		args = append(args, *opts.JobID)
	}
	query += ` ORDER BY start_instant DESC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ---------- usage records ----------

func (s *SQLiteStore) AppendUsageRecord(ctx context.Context, rec model.UsageRecord) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO usage_records
			(instant, remaining_minutes, total_minutes, usage_percentage, source, raw_text)
			VALUES (?,?,?,?,?,?)`,
			fmtTime(rec.Instant), rec.RemainingMinutes, rec.TotalMinutes, rec.UsagePercentage, string(rec.Source), truncateText(rec.RawText, 4096))
		return err
	})
}

func (s *SQLiteStore) LatestUsageRecord(ctx context.Context) (*model.UsageRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT instant, remaining_minutes, total_minutes, usage_percentage, source, raw_text
		FROM usage_records ORDER BY instant DESC LIMIT 1`)
	var rec model.UsageRecord
	var instant, source string
	if err := row.Scan(&instant, &rec.RemainingMinutes, &rec.TotalMinutes, &rec.UsagePercentage, &source, &rec.RawText); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	rec.Instant = parseTime(instant)
	rec.Source = model.UsageSource(source)
	return &rec, nil
}

// BlockWindowStartedAt implements the best-effort heuristic from
// SPEC_FULL §3 Open Question (c): the instant of the first UsageRecord of
// the most recent stretch, within the last 5 hours, over which usage
// percentage never decreases from one record to the next (i.e. quota has
// only been spent, never reset, across that stretch). Returns nil when
// there are no records in that period.
func (s *SQLiteStore) BlockWindowStartedAt(ctx context.Context, now time.Time) (*time.Time, error) {
	cutoff := now.Add(-5 * time.Hour)
	rows, err := s.db.QueryContext(ctx, `SELECT instant, usage_percentage FROM usage_records
		WHERE instant >= ? ORDER BY instant ASC`, fmtTime(cutoff))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var windowStart *time.Time
	var prevPct float64
	first := true
	for rows.Next() {
		var instantStr string
		var pct float64
		if err := rows.Scan(&instantStr, &pct); err != nil {
			return nil, err
		}
		instant := parseTime(instantStr)
		if first {
			windowStart = &instant
			prevPct = pct
			first = false
			continue
		}
		if pct < prevPct {
			// usage reset (percentage remaining went up relative to spend);
			// a new window begins here.
			windowStart = &instant
		}
		prevPct = pct
	}
	return windowStart, rows.Err()
}

// ---------- health ----------

func (s *SQLiteStore) Health(ctx context.Context) (Health, error) {
	start := s.clock.Now()
	h := Health{}
	if err := s.db.PingContext(ctx); err != nil {
		return Health{OK: false}, nil
	}
	h.OK = true
	h.LatencyMs = s.clock.Now().Sub(start).Milliseconds()

	_ = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs WHERE status = ?`, string(model.JobActive)).Scan(&h.ActiveJobs)
	_ = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM executions WHERE status IN (?, ?)`, string(model.ExecQueued), string(model.ExecRunning)).Scan(&h.PendingExecutions)
	return h, nil
}

// ---------- helpers ----------

const timeLayout = time.RFC3339Nano

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

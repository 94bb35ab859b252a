// Package executor implements the execution engine described in spec
// §4.2: it converts a (prompt_content, ExecutionOptions) request into a
// terminal outcome by spawning the external agent CLI as a subprocess,
// draining and classifying its output, and never retrying — retries are
// the scheduler's job, driven by the retry package's decisions.
package executor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/arcglyph/nightpilot/pkg/nightpilot/clock"
	"github.com/arcglyph/nightpilot/pkg/nightpilot/cooldown"
	"github.com/arcglyph/nightpilot/pkg/nightpilot/model"
	"github.com/arcglyph/nightpilot/pkg/nightpilot/promptref"
)

// DangerousModeSentinel is the exact value CNP_DANGEROUS_MODE_ALLOWED must
// hold for a danger_mode execution to proceed (spec §6).
const DangerousModeSentinel = "i-accept-the-risk"

// DefaultMaxOutputBytes bounds the stdout kept per execution, per spec
// §4.2 step 3: stdout is buffered in full and truncated to this length
// after the process exits.
const DefaultMaxOutputBytes = 8 * 1024 * 1024

// killGracePeriod is the SIGTERM-to-SIGKILL window from spec §4.2 step 5.
const killGracePeriod = 5 * time.Second

// Result is the terminal outcome of one Execute call. It mirrors the
// fields store.Outcome persists; callers (the scheduler) copy Result into
// a store.Outcome, keeping this package free of a store import.
type Result struct {
	Status model.ExecutionStatus

	StartInstant time.Time
	EndInstant   time.Time
	DurationMs   int64

	RawOutput       string
	OutputTruncated bool
	ResultPayload   string

	ErrorKind    model.Kind
	ErrorMessage string
	ExitCode     int

	CostEstimate *float64
	Usage        *model.JobUsage

	// CooldownResetInstant/CooldownSecondsRemaining are populated only
	// when ErrorKind == model.KindCooldown.
	CooldownResetInstant     time.Time
	CooldownSecondsRemaining int64

	PromptFingerprint string
}

// agentResult is the shape of the agent CLI's terminal JSON line per spec §6.
type agentResult struct {
	Type         string  `json:"type"`
	Subtype      string  `json:"subtype"`
	IsError      bool    `json:"is_error"`
	DurationMs   int64   `json:"duration_ms"`
	Result       string  `json:"result"`
	TotalCostUSD *float64 `json:"total_cost_usd"`
	Tokens       *struct {
		In  int `json:"in"`
		Out int `json:"out"`
	} `json:"tokens"`
}

// Executor spawns the agent CLI and classifies its output.
type Executor struct {
	// AgentPath is the agent binary to invoke (resolved via PATH if not absolute).
	AgentPath string

	MaxOutputBytes int64

	Clock  clock.Clock
	Logger *slog.Logger
}

// New builds an Executor with spec-default bounds.
func New(agentPath string, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		AgentPath:      agentPath,
		MaxOutputBytes: DefaultMaxOutputBytes,
		Clock:          clock.System,
		Logger:         logger,
	}
}

// Execute runs one agent invocation to completion. It never returns a Go
// error for classified agent/IO/policy failures — those come back as a
// Result with Status=Failed and ErrorKind set; err is reserved for
// conditions that make it impossible to produce any Result at all (none
// currently exist, but the signature stays error-returning per the
// codebase's convention of context-aware operations reporting failure
// through their return value).
func (e *Executor) Execute(ctx context.Context, promptContent, workingDir string, opts model.ExecutionOptions) (Result, error) {
	start := e.Clock.Now()
	res := Result{StartInstant: start}

	if opts.DryRun {
		res.Status = model.ExecCompleted
		res.EndInstant = e.Clock.Now()
		res.ResultPayload = "dry-run: no subprocess spawned"
		res.PromptFingerprint = fingerprint(promptContent)
		return res, nil
	}

	if opts.DangerMode && os.Getenv("CNP_DANGEROUS_MODE_ALLOWED") != DangerousModeSentinel {
		return e.fail(res, model.KindPolicyDenied, "danger_mode requires CNP_DANGEROUS_MODE_ALLOWED to be set to the sentinel value"), nil
	}

	if workingDir != "" {
		if info, err := os.Stat(workingDir); err != nil || !info.IsDir() {
			return e.fail(res, model.KindIOError, "working directory %q is not usable: %v", workingDir, err), nil
		}
	}

	resolved, err := promptref.Resolve(promptContent, workingDir)
	if err != nil {
		return e.fail(res, model.KindPromptReference, "%v", err), nil
	}
	res.PromptFingerprint = fingerprint(resolved)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = model.DefaultExecutionOptions().Timeout
	}
	if timeout > model.MaxTimeout {
		timeout = model.MaxTimeout
	}
	spawnCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr, exitCode, timedOut, runErr := e.spawn(spawnCtx, resolved, workingDir, opts)
	end := e.Clock.Now()
	res.EndInstant = end
	res.DurationMs = end.Sub(start).Milliseconds()

	combined := stdout + "\n" + stderr
	if timedOut {
		return e.fail(res, model.KindTimeout, "agent exceeded timeout of %s", timeout), nil
	}
	if runErr != nil {
		return e.fail(res, model.KindIOError, "spawning agent: %v", runErr), nil
	}

	if info, ok := cooldown.DetectAt(combined, end); ok && info.IsCooling {
		res.CooldownResetInstant = info.ResetInstant
		res.CooldownSecondsRemaining = info.SecondsRemaining
		return e.fail(res, model.KindCooldown, "%s", info.OriginalMessage), nil
	}

	truncated := false
	if int64(len(stdout)) > e.MaxOutputBytes {
		stdout = stdout[:e.MaxOutputBytes]
		truncated = true
	}
	res.RawOutput = stdout
	res.OutputTruncated = truncated

	if opts.OutputFormat == model.OutputText {
		if exitCode != 0 {
			r := e.fail(res, model.KindAgentError, "agent exited %d", exitCode)
			r.ExitCode = exitCode
			return r, nil
		}
		res.Status = model.ExecCompleted
		res.ResultPayload = stdout
		return res, nil
	}

	parsed, parseErr := parseAgentResult(stdout)
	if parseErr != nil {
		if exitCode != 0 {
			r := e.fail(res, model.KindAgentError, "agent exited %d and output did not parse: %v", exitCode, parseErr)
			r.ExitCode = exitCode
			return r, nil
		}
		return e.fail(res, model.KindParseError, "%v", parseErr), nil
	}

	if parsed.IsError || exitCode != 0 {
		r := e.fail(res, model.KindAgentError, "%s", firstNonEmpty(parsed.Result, "agent reported an error"))
		r.ExitCode = exitCode
		return r, nil
	}

	res.Status = model.ExecCompleted
	res.ResultPayload = parsed.Result
	if parsed.TotalCostUSD != nil {
		res.CostEstimate = parsed.TotalCostUSD
	}
	if parsed.Tokens != nil {
		res.Usage = &model.JobUsage{InputTokens: parsed.Tokens.In, OutputTokens: parsed.Tokens.Out}
	}
	return res, nil
}

func (e *Executor) fail(res Result, kind model.Kind, format string, args ...any) Result {
	res.Status = model.ExecFailed
	res.ErrorKind = kind
	res.ErrorMessage = fmt.Sprintf(format, args...)
	if res.EndInstant.IsZero() {
		res.EndInstant = e.Clock.Now()
	}
	if kind == model.KindCooldown {
		res.Status = model.ExecCooldownDeferred
	}
	return res
}

// spawn runs the agent subprocess to completion (or until spawnCtx's
// deadline fires), returning captured stdout/stderr, exit code, and
// whether the kill was due to the context deadline.
func (e *Executor) spawn(ctx context.Context, prompt, workingDir string, opts model.ExecutionOptions) (stdout, stderr string, exitCode int, timedOut bool, err error) {
	args := buildArgs(prompt, opts)
	cmd := exec.CommandContext(ctx, e.AgentPath, args...)
	if workingDir != "" {
		cmd.Dir = workingDir
	}
	cmd.Env = os.Environ()

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
		timer := time.AfterFunc(killGracePeriod, func() {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		})
		go func() {
			_, _ = cmd.Process.Wait()
			timer.Stop()
		}()
		return nil
	}

	runErr := cmd.Run()
	stdout, stderr = outBuf.String(), errBuf.String()

	if ctx.Err() == context.DeadlineExceeded {
		return stdout, stderr, -1, true, nil
	}
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			return stdout, stderr, exitErr.ExitCode(), false, nil
		}
		return stdout, stderr, -1, false, runErr
	}
	return stdout, stderr, 0, false, nil
}

// buildArgs constructs the agent CLI invocation per spec §6: output
// format flag, optional skip-permissions flag under danger_mode, and the
// resolved prompt as the final positional argument.
func buildArgs(prompt string, opts model.ExecutionOptions) []string {
	format := string(model.OutputJSON)
	if opts.OutputFormat != "" {
		format = string(opts.OutputFormat)
	}
	args := []string{"--output-format", format}
	if opts.DangerMode {
		args = append(args, "--dangerously-skip-permissions")
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	args = append(args, prompt)
	return args
}

// parseAgentResult scans stdout for the last complete {...} object,
// tolerating informational lines the agent may interleave before it.
func parseAgentResult(stdout string) (*agentResult, error) {
	obj, err := lastTopLevelJSONObject(stdout)
	if err != nil {
		return nil, err
	}
	var r agentResult
	if err := json.Unmarshal(obj, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// lastTopLevelJSONObject scans stdout for brace-matched top-level {...}
// objects and returns the last one. Naive LastIndex("{")/LastIndex("}")
// breaks the moment a valid object contains a nested object of its own
// (e.g. the optional "tokens" field), since the last "{" then belongs to
// the nested value, not the outer one; this walks brace depth instead,
// skipping over braces that appear inside string literals.
func lastTopLevelJSONObject(stdout string) ([]byte, error) {
	var start, depth int
	inString, escaped := false, false
	var lastStart, lastEnd = -1, -1

	for i, r := range stdout {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					lastStart, lastEnd = start, i
				}
			}
		}
	}
	if lastStart < 0 {
		return nil, fmt.Errorf("no JSON object found in agent output")
	}
	return []byte(stdout[lastStart : lastEnd+1]), nil
}

func firstNonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

func fingerprint(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

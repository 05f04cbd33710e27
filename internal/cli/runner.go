package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"
)

const (
	defaultIdleTimeout = 2 * time.Minute
	defaultHardTimeout = 30 * time.Minute
	termGracePeriod    = 5 * time.Second
	maxLineBytes       = 1024 * 1024
)

// Result is the outcome of one CLI invocation.
type Result struct {
	Text       string
	SessionID  string
	DurationMS int64
}

// Runner spawns the external CLI and streams its stream-json output.
type Runner struct {
	command     string
	idleTimeout time.Duration
	hardTimeout time.Duration
	log         *slog.Logger

	env []string // extra child environment, KEY=VALUE
}

// NewRunner builds a runner for the given CLI command. Zero timeouts take
// the defaults (2m idle, 30m hard).
func NewRunner(command string, idleTimeout, hardTimeout time.Duration, log *slog.Logger) *Runner {
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	if hardTimeout <= 0 {
		hardTimeout = defaultHardTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{command: command, idleTimeout: idleTimeout, hardTimeout: hardTimeout, log: log}
}

// WithEnv returns a copy of the runner that adds the given KEY=VALUE
// entries to every child's environment.
func (r *Runner) WithEnv(env []string) *Runner {
	clone := *r
	clone.env = append(append([]string(nil), r.env...), env...)
	return &clone
}

// streamEvent is the subset of the CLI's stream-json events we consume.
type streamEvent struct {
	Type       string `json:"type"`
	Subtype    string `json:"subtype"`
	SessionID  string `json:"session_id"`
	Result     string `json:"result"`
	IsError    bool   `json:"is_error"`
	DurationMS int64  `json:"duration_ms"`
}

// Run invokes the CLI once and blocks until the result event or a
// failure. The child never outlives the call: error paths SIGTERM it and
// escalate to SIGKILL after a grace period.
func (r *Runner) Run(ctx context.Context, opts Options) (Result, error) {
	caps, err := Probe(ctx, r.command)
	if err != nil {
		return Result{}, err
	}
	args := BuildArgs(opts, caps)

	ctx, cancel := context.WithTimeout(ctx, r.hardTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.command, args...)
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = termGracePeriod
	if len(r.env) > 0 {
		cmd.Env = append(cmd.Environ(), r.env...)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("cli stdout: %w", err)
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start %s: %w", r.command, err)
	}
	r.log.Debug("cli started", "command", r.command, "pid", cmd.Process.Pid, "resume", opts.ResumeSessionID != "")

	type lineMsg struct {
		text string
		err  error
	}
	lines := make(chan lineMsg)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, 64*1024), maxLineBytes)
		for sc.Scan() {
			if t := sc.Text(); t != "" {
				lines <- lineMsg{text: t}
			}
		}
		if err := sc.Err(); err != nil {
			lines <- lineMsg{err: err}
		}
	}()

	var (
		res      Result
		gotRes   bool
		runErr   error
		idle     = time.NewTimer(r.idleTimeout)
		timedOut bool
	)
	defer idle.Stop()

scan:
	for {
		select {
		case msg, ok := <-lines:
			if !ok {
				break scan
			}
			if msg.err != nil {
				runErr = &ParseError{Err: msg.err}
				break scan
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(r.idleTimeout)

			var ev streamEvent
			if err := json.Unmarshal([]byte(msg.text), &ev); err != nil {
				runErr = &ParseError{Line: msg.text, Err: err}
				break scan
			}
			switch ev.Type {
			case "system":
				if ev.Subtype == "init" && ev.SessionID != "" {
					res.SessionID = ev.SessionID
				}
			case "result":
				gotRes = true
				res.Text = ev.Result
				res.DurationMS = ev.DurationMS
				if ev.SessionID != "" {
					res.SessionID = ev.SessionID
				}
				if ev.IsError {
					runErr = &Error{Message: ev.Result, Stderr: stderr.String()}
				}
			}
		case <-idle.C:
			timedOut = true
			runErr = &TimeoutError{Idle: r.idleTimeout}
			break scan
		case <-ctx.Done():
			timedOut = true
			runErr = &TimeoutError{Idle: time.Since(started)}
			break scan
		}
	}

	if runErr != nil || timedOut {
		cancel() // SIGTERM via cmd.Cancel, SIGKILL after WaitDelay
	}
	go func() { // unblock the scanner goroutine
		for range lines {
		}
	}()
	waitErr := cmd.Wait()

	if runErr != nil {
		r.log.Warn("cli run failed", "command", r.command, "error", runErr, "stderr", truncate(stderr.String(), 512))
		return Result{}, runErr
	}
	if waitErr != nil {
		exitCode := -1
		if ee, ok := waitErr.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
		return Result{}, &Error{ExitCode: exitCode, Stderr: truncate(stderr.String(), 2048)}
	}
	if !gotRes {
		return Result{}, &ParseError{Err: fmt.Errorf("stream ended without a result event")}
	}
	if res.DurationMS == 0 {
		res.DurationMS = time.Since(started).Milliseconds()
	}
	r.log.Debug("cli finished", "command", r.command, "session_id", res.SessionID, "duration_ms", res.DurationMS)
	return res, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

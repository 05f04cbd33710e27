package cli

import (
	"fmt"
	"time"
)

// Error reports a CLI invocation that exited non-zero or returned an
// error result event.
type Error struct {
	ExitCode int
	Stderr   string
	Message  string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("cli error: %s", e.Message)
	}
	if e.Stderr != "" {
		return fmt.Sprintf("cli exited %d: %s", e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("cli exited %d", e.ExitCode)
}

// ParseError reports a line on the CLI's stdout that is not valid
// stream-json.
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cli stream parse: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// TimeoutError reports that the CLI emitted no event for the idle window.
type TimeoutError struct {
	Idle time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("cli idle for %s, terminated", e.Idle)
}

// IncompatibleError reports a CLI below the minimum version or missing a
// critical capability.
type IncompatibleError struct {
	Version string
	Missing []string
}

func (e *IncompatibleError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("cli %s is missing required capabilities: %v", e.Version, e.Missing)
	}
	return fmt.Sprintf("cli version %s is below the minimum supported version", e.Version)
}

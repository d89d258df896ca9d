package health

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// ExecChecker performs exec-based health checks by running a command
// on the host, such as a worker's own health-check subcommand.
type ExecChecker struct {
	// Command is the command to execute (e.g., ["wexec-worker", "healthcheck"])
	Command []string

	// Timeout is the command execution timeout (default: 10 seconds)
	Timeout time.Duration
}

// NewExecChecker creates a new exec health checker
func NewExecChecker(command []string) *ExecChecker {
	return &ExecChecker{
		Command: command,
		Timeout: 10 * time.Second,
	}
}

// Check performs the exec health check
func (e *ExecChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if len(e.Command) == 0 {
		return Result{
			Healthy:   false,
			Message:   "no command specified",
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	// Create context with timeout
	execCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, e.Command[0], e.Command[1:]...)

	// Capture output
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Execute command
	err := cmd.Run()

	// Build result message
	message := fmt.Sprintf("Command: %v", e.Command)
	if err != nil {
		// Command failed
		message = fmt.Sprintf("%s, Error: %v", message, err)
		if stderr.Len() > 0 {
			message = fmt.Sprintf("%s, Stderr: %s", message, stderr.String())
		}

		return Result{
			Healthy:   false,
			Message:   message,
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	// Command succeeded (exit code 0)
	if stdout.Len() > 0 {
		// Include output in message (truncated if too long)
		output := stdout.String()
		if len(output) > 100 {
			output = output[:100] + "..."
		}
		message = fmt.Sprintf("%s, Output: %s", message, output)
	}

	return Result{
		Healthy:   true,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (e *ExecChecker) Type() CheckType {
	return CheckTypeExec
}

// WithTimeout sets the execution timeout
func (e *ExecChecker) WithTimeout(timeout time.Duration) *ExecChecker {
	e.Timeout = timeout
	return e
}

// ProcessChecker reports a Stdio/StdioEventloop worker's subprocess as
// healthy so long as its PID is still alive, without touching its stdin.
// Used where an eventloop worker holds open a long-lived process and
// issuing a synthetic call just to check liveness would itself consume
// a durable log entry.
type ProcessChecker struct {
	PID int
}

// NewProcessChecker creates a checker for the given process ID.
func NewProcessChecker(pid int) *ProcessChecker {
	return &ProcessChecker{PID: pid}
}

// Check sends signal 0 to the process, which the OS permits only while
// the PID is alive and owned by this user, without otherwise affecting it.
func (p *ProcessChecker) Check(ctx context.Context) Result {
	start := time.Now()

	proc, err := os.FindProcess(p.PID)
	if err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("process lookup failed: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}

	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("process %d not running: %v", p.PID, err), CheckedAt: start, Duration: time.Since(start)}
	}

	return Result{Healthy: true, Message: fmt.Sprintf("process %d running", p.PID), CheckedAt: start, Duration: time.Since(start)}
}

// Type returns the health check type.
func (p *ProcessChecker) Type() CheckType {
	return CheckTypeExec
}

package workerruntime

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/cuemby/wexec/pkg/events"
	"github.com/cuemby/wexec/pkg/hostfns"
	"github.com/cuemby/wexec/pkg/types"
)

// stdioCall is the single JSON line written to a Stdio/StdioEventloop
// worker's stdin per invocation.
type stdioCall struct {
	Function string        `json:"function"`
	Args     []types.Value `json:"args"`
}

// stdioResult is the single JSON line read back from stdout.
type stdioResult struct {
	Values []types.Value `json:"values"`
	Error  string        `json:"error,omitempty"`
}

// StdioProgram implements Program for the Stdio and StdioEventloop calling
// conventions: the worker program is an external process communicating
// over newline-framed JSON. Stdio spawns one process per invocation;
// StdioEventloop keeps one process alive across calls, matching spec
// §4.5's distinction between the two conventions.
type StdioProgram struct {
	command   string
	args      []string
	eventloop bool
	stream    *events.Stream

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader
}

func NewStdioProgram(command string, args []string, eventloop bool, stream *events.Stream) *StdioProgram {
	return &StdioProgram{command: command, args: args, eventloop: eventloop, stream: stream}
}

func (p *StdioProgram) Invoke(ctx context.Context, host *hostfns.Host, functionName string, args []types.Value) ([]types.Value, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil {
		if err := p.start(ctx); err != nil {
			return nil, fmt.Errorf("starting stdio worker process: %w", err)
		}
	}

	call := stdioCall{Function: functionName, Args: args}
	line, err := json.Marshal(call)
	if err != nil {
		return nil, fmt.Errorf("encoding stdio call: %w", err)
	}
	if _, err := p.stdin.Write(append(line, '\n')); err != nil {
		p.teardownLocked()
		return nil, fmt.Errorf("writing to worker stdin: %w", err)
	}

	resultLine, err := p.reader.ReadBytes('\n')
	if err != nil {
		p.teardownLocked()
		return nil, fmt.Errorf("reading worker stdout: %w", err)
	}

	var result stdioResult
	if err := json.Unmarshal(resultLine, &result); err != nil {
		return nil, fmt.Errorf("decoding stdio result: %w", err)
	}

	if !p.eventloop {
		p.teardownLocked()
	}

	if result.Error != "" {
		return nil, fmt.Errorf("worker process error: %s", result.Error)
	}
	return result.Values, nil
}

func (p *StdioProgram) start(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, p.command, p.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	p.cmd = cmd
	p.stdin = stdin
	p.reader = bufio.NewReader(stdout)

	if p.stream != nil {
		go p.forwardStderr(stderr)
	}
	return nil
}

func (p *StdioProgram) forwardStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		p.stream.Publish(types.LogEvent{Kind: types.LogEventStderr, Message: scanner.Text()})
	}
}

// teardownLocked kills the subprocess; callers must hold p.mu.
func (p *StdioProgram) teardownLocked() {
	if p.cmd == nil {
		return
	}
	_ = p.stdin.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.cmd.Wait()
	p.cmd = nil
	p.stdin = nil
	p.reader = nil
}

// Close tears down any running subprocess, used when the worker exits or
// is deleted.
func (p *StdioProgram) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.teardownLocked()
}

// Pid returns the subprocess's process id and true while one is running.
// Only meaningful for StdioEventloop, whose process persists across calls;
// plain Stdio tears its process down between invocations, so there is
// rarely one to report.
func (p *StdioProgram) Pid() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0, false
	}
	return p.cmd.Process.Pid, true
}

// Package command runs external programs with a deadline. The child gets its own process
// group and the whole group is killed when the deadline passes.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hamed0406/opswatch/internal/domain"
)

// DefaultTimeout applies when a caller passes a zero timeout.
const DefaultTimeout = 60 * time.Second

// maxCapture bounds how much of stdout/stderr is kept per stream.
const maxCapture = 64 << 10

// Output is what a finished command produced.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Spec describes one invocation.
type Spec struct {
	Argv    []string
	Dir     string
	Env     []string // appended to the parent environment
	Stdin   string
	Timeout time.Duration
}

// Run executes spec.Argv and waits for it. A non-zero exit is not an error; callers decide
// what an exit code means. Errors are returned for spawn failures and for the deadline,
// in which case the error wraps domain.ErrTimeout.
func Run(ctx context.Context, spec Spec) (Output, error) {
	if len(spec.Argv) == 0 || strings.TrimSpace(spec.Argv[0]) == "" {
		return Output{}, errors.New("empty command")
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(cmd.Environ(), spec.Env...)
	}
	if spec.Stdin != "" {
		cmd.Stdin = strings.NewReader(spec.Stdin)
	}
	var stdout, stderr capBuffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// negative pid: the whole process group
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	out := Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode(cmd),
		Duration: time.Since(start),
	}
	if ctx.Err() == context.DeadlineExceeded {
		return out, fmt.Errorf("%s after %s: %w", spec.Argv[0], timeout, domain.ErrTimeout)
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return out, fmt.Errorf("run %s: %w", spec.Argv[0], err)
	}
	return out, nil
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

// Tail returns at most the last n lines of s, trimmed.
func Tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if s == "" || n <= 0 {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// capBuffer keeps the first maxCapture bytes and drops the rest.
type capBuffer struct {
	buf bytes.Buffer
}

func (c *capBuffer) Write(p []byte) (int, error) {
	if room := maxCapture - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

func (c *capBuffer) String() string { return c.buf.String() }

var _ io.Writer = (*capBuffer)(nil)

package action

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hamed0406/opswatch/internal/command"
	"github.com/hamed0406/opswatch/internal/domain"
)

// RunCommand runs argv once. Arguments may reference reading metadata as ${key}.
type RunCommand struct {
	Label   string
	Argv    []string
	Timeout time.Duration
}

func (c *RunCommand) Name() string {
	if c.Label != "" {
		return c.Label
	}
	return "command"
}

func (c *RunCommand) Destructive() bool { return true }

func (c *RunCommand) Describe(r domain.Reading, v domain.Verdict) string {
	return "run " + joinArgv(expandAll(c.Argv, r, v))
}

func (c *RunCommand) Execute(ctx context.Context, r domain.Reading, v domain.Verdict) (string, error) {
	argv := expandAll(c.Argv, r, v)
	out, err := command.Run(ctx, command.Spec{Argv: argv, Timeout: c.Timeout})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", domain.ErrActionFailure, joinArgv(argv), err)
	}
	if out.ExitCode != 0 {
		msg := strings.TrimSpace(command.Tail(out.Stderr, 5))
		if msg == "" {
			msg = strings.TrimSpace(command.Tail(out.Stdout, 5))
		}
		return "", failf("%s exited with code %d: %s", joinArgv(argv), out.ExitCode, msg)
	}
	return fmt.Sprintf("%s exited 0 in %s", argv[0], out.Duration.Round(time.Millisecond)), nil
}

// RestartService restarts a systemd unit.
func RestartService(name string, timeout time.Duration) *RunCommand {
	return &RunCommand{
		Label:   "restart " + name,
		Argv:    []string{"systemctl", "restart", name},
		Timeout: timeout,
	}
}

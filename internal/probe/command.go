package probe

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hamed0406/opswatch/internal/command"
	"github.com/hamed0406/opswatch/internal/domain"
)

// Command runs argv and reports its exit code as the reading value.
type Command struct {
	Label   string
	Argv    []string
	Timeout time.Duration
}

func (c *Command) Name() string {
	if c.Label != "" {
		return c.Label
	}
	return "command " + strings.Join(c.Argv, " ")
}

func (c *Command) Probe(ctx context.Context) domain.Reading {
	out, err := command.Run(ctx, command.Spec{Argv: c.Argv, Timeout: c.Timeout})
	if err != nil {
		return failure(err)
	}
	return domain.Numeric(float64(out.ExitCode), outputMeta(out))
}

// RebootMarkerKey is the stdout line an update script prints to ask for a reboot:
// "REBOOT_REQUIRED=1" (also accepts true/yes).
const RebootMarkerKey = "REBOOT_REQUIRED"

// Update runs a package-update script and reports whether the host now needs a reboot.
// The script signals that explicitly: through RebootExitCode, by leaving RebootMarker on
// disk, or by printing a REBOOT_REQUIRED=1 line. Other mentions of "reboot" or "restart" in
// its output mean nothing.
type Update struct {
	Argv           []string
	Dir            string
	Env            []string
	Stdin          string
	Timeout        time.Duration
	RebootExitCode int
	RebootMarker   string

	exists func(path string) bool
}

func NewUpdate(argv []string, timeout time.Duration) *Update {
	return &Update{
		Argv:    argv,
		Timeout: timeout,
		exists: func(p string) bool {
			_, err := os.Stat(p)
			return err == nil
		},
	}
}

func (u *Update) Name() string { return "update " + strings.Join(u.Argv, " ") }

func (u *Update) Probe(ctx context.Context) domain.Reading {
	out, err := command.Run(ctx, command.Spec{
		Argv:    u.Argv,
		Dir:     u.Dir,
		Env:     u.Env,
		Stdin:   u.Stdin,
		Timeout: u.Timeout,
	})
	if err != nil {
		return failure(err)
	}
	meta := outputMeta(out)

	viaExit := u.RebootExitCode != 0 && out.ExitCode == u.RebootExitCode
	if out.ExitCode != 0 && !viaExit {
		r := domain.Failed(fmt.Sprintf("update exited with code %d", out.ExitCode))
		r.Metadata = meta
		return r
	}

	signal := ""
	switch {
	case viaExit:
		signal = "exit_code"
	case u.RebootMarker != "" && u.exists != nil && u.exists(u.RebootMarker):
		signal = "marker"
	case rebootRequested(out.Stdout):
		signal = "stdout"
	}
	if signal != "" {
		meta["reboot_signal"] = signal
	}
	return domain.Boolean(signal != "", meta)
}

// rebootRequested looks for a REBOOT_REQUIRED=<truthy> line.
func rebootRequested(stdout string) bool {
	sc := bufio.NewScanner(strings.NewReader(stdout))
	for sc.Scan() {
		key, val, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok || key != RebootMarkerKey {
			continue
		}
		if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
			return b
		}
		if strings.EqualFold(strings.TrimSpace(val), "yes") {
			return true
		}
	}
	return false
}

func outputMeta(out command.Output) map[string]string {
	meta := map[string]string{
		"exit_code":   strconv.Itoa(out.ExitCode),
		"duration_ms": ms(float64(out.Duration.Microseconds()) / 1000),
	}
	if s := command.Tail(out.Stdout, 20); s != "" {
		meta["stdout"] = s
	}
	if s := command.Tail(out.Stderr, 20); s != "" {
		meta["stderr"] = s
	}
	return meta
}

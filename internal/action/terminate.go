package action

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/hamed0406/opswatch/internal/domain"
)

// Terminate sends a signal to one or more processes. With PID set only that process is
// signalled. Otherwise every pid in the reading's "pids" metadata whose "value.<pid>" is
// above Above is signalled, falling back to the single "pid" entry.
type Terminate struct {
	PID    int
	Signal unix.Signal
	Above  float64

	kill func(pid int, sig unix.Signal) error
}

func (t *Terminate) Name() string      { return "terminate" }
func (t *Terminate) Destructive() bool { return true }

func (t *Terminate) targets(r domain.Reading) ([]int, error) {
	if t.PID != 0 {
		return []int{t.PID}, nil
	}
	if list := r.Meta("pids"); list != "" {
		var pids []int
		for _, raw := range strings.Split(list, ",") {
			pid, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil {
				return nil, failf("bad pid %q", raw)
			}
			if v, err := strconv.ParseFloat(r.Meta("value."+raw), 64); err == nil && v <= t.Above {
				continue
			}
			pids = append(pids, pid)
		}
		if len(pids) > 0 {
			return pids, nil
		}
	}
	raw := r.Meta("pid")
	if raw == "" {
		return nil, failf("reading carries no pid")
	}
	pid, err := strconv.Atoi(raw)
	if err != nil {
		return nil, failf("bad pid %q", raw)
	}
	return []int{pid}, nil
}

func (t *Terminate) Describe(r domain.Reading, _ domain.Verdict) string {
	pids, err := t.targets(r)
	if err != nil {
		return "terminate pid=?"
	}
	ids := make([]string, len(pids))
	for i, pid := range pids {
		ids[i] = strconv.Itoa(pid)
	}
	return "terminate pid=" + strings.Join(ids, ",")
}

// Execute signals every target and reports one message per pid. A failure on one pid does
// not stop the others.
func (t *Terminate) Execute(_ context.Context, r domain.Reading, _ domain.Verdict) (string, error) {
	pids, err := t.targets(r)
	if err != nil {
		return "", err
	}
	var msgs []string
	var errs error
	for _, pid := range pids {
		msg, err := t.signal(pid)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return strings.Join(msgs, "; "), errs
}

func (t *Terminate) signal(pid int) (string, error) {
	if pid <= 1 || pid == os.Getpid() {
		return "", failf("refusing to signal pid %d", pid)
	}
	sig := t.Signal
	if sig == 0 {
		sig = unix.SIGTERM
	}
	kill := t.kill
	if kill == nil {
		kill = unix.Kill
	}
	err := kill(pid, sig)
	switch {
	case err == nil:
		return fmt.Sprintf("sent %s to pid %d", unix.SignalName(sig), pid), nil
	case errors.Is(err, unix.ESRCH):
		return fmt.Sprintf("pid %d already gone", pid), nil
	}
	return "", fmt.Errorf("%w: signal pid %d: %v", domain.ErrActionFailure, pid, err)
}

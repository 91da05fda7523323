package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/hamed0406/opswatch/internal/command"
	"github.com/hamed0406/opswatch/internal/domain"
)

// Reboot check flavors.
const (
	FlavorDebian = "debian"
	FlavorRHEL   = "rhel"
)

// Shell runs a shell snippet somewhere: locally or on a remote host.
type Shell interface {
	Exec(ctx context.Context, script string) (command.Output, error)
}

// LocalShell runs snippets with sh -c on this host.
type LocalShell struct {
	Timeout time.Duration
}

func (l LocalShell) Exec(ctx context.Context, script string) (command.Output, error) {
	return command.Run(ctx, command.Spec{Argv: []string{"sh", "-c", script}, Timeout: l.Timeout})
}

// Reboot reports whether a host needs a reboot after updates.
//
// debian: /var/run/reboot-required exists.
// rhel: needs-restarting -r exits 1.
type Reboot struct {
	Host   string // label only
	Flavor string
	Shell  Shell
}

func NewReboot(host, flavor string, sh Shell) (*Reboot, error) {
	if flavor != FlavorDebian && flavor != FlavorRHEL {
		return nil, fmt.Errorf("unknown reboot flavor %q (want debian or rhel)", flavor)
	}
	if host == "" {
		host = "localhost"
	}
	return &Reboot{Host: host, Flavor: flavor, Shell: sh}, nil
}

func (r *Reboot) Name() string { return "reboot-required " + r.Host }

func (r *Reboot) Probe(ctx context.Context) domain.Reading {
	script := "test -f /var/run/reboot-required"
	if r.Flavor == FlavorRHEL {
		script = "needs-restarting -r"
	}
	out, err := r.Shell.Exec(ctx, script)
	if err != nil {
		rd := failure(err)
		rd.Metadata = map[string]string{"host": r.Host}
		return rd
	}
	meta := outputMeta(out)
	meta["host"] = r.Host
	meta["flavor"] = r.Flavor

	var required bool
	switch {
	case r.Flavor == FlavorDebian && out.ExitCode == 0:
		required = true
	case r.Flavor == FlavorDebian && out.ExitCode == 1:
		required = false
	case r.Flavor == FlavorRHEL && out.ExitCode == 1:
		required = true
	case r.Flavor == FlavorRHEL && out.ExitCode == 0:
		required = false
	default:
		rd := domain.Failed(fmt.Sprintf("%s check exited with code %d", r.Flavor, out.ExitCode))
		rd.Metadata = meta
		return rd
	}
	return domain.Boolean(required, meta)
}

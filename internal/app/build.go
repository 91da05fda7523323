// Package app turns configuration into running pollers and the status API.
package app

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/opswatch/internal/action"
	"github.com/hamed0406/opswatch/internal/config"
	"github.com/hamed0406/opswatch/internal/domain"
	"github.com/hamed0406/opswatch/internal/notify"
	"github.com/hamed0406/opswatch/internal/policy"
	"github.com/hamed0406/opswatch/internal/probe"
	"github.com/hamed0406/opswatch/internal/remote"
	"github.com/hamed0406/opswatch/internal/scheduler"
)

const (
	defaultProbeTimeout  = 10 * time.Second
	defaultUpdateTimeout = 2 * time.Hour
	defaultCooldown      = 15 * time.Minute
	defaultRebootMarker  = "/var/run/reboot-required"
)

// Deps are the collaborators every poller shares.
type Deps struct {
	Logger        *zap.Logger
	Sink          scheduler.Sink
	Notifier      notify.Notifier
	DryRun        bool
	RetryAttempts int
	RetryBackoff  time.Duration
}

// BuildPoller assembles one poller from its configuration block.
func BuildPoller(pc config.Poller, d Deps) (*scheduler.Poller, error) {
	var errs error
	sched, err := buildSchedule(pc)
	errs = multierr.Append(errs, err)
	pr, err := buildProbe(pc.Name, pc.Probe, d)
	errs = multierr.Append(errs, err)
	var secondary probe.Probe
	if pc.Secondary != nil {
		secondary, err = buildProbe(pc.Name, *pc.Secondary, d)
		errs = multierr.Append(errs, err)
	}
	pol, err := buildPolicy(pc.Policy)
	errs = multierr.Append(errs, err)
	rules, err := buildRules(pc, d)
	errs = multierr.Append(errs, err)
	if errs != nil {
		return nil, fmt.Errorf("poller %q: %w", pc.Name, errs)
	}

	p := scheduler.NewPoller(d.Logger, pc.Name, pr, pol, sched, d.Sink, rules...)
	p.Secondary = secondary
	p.DryRun = d.DryRun
	p.ProbeTimeout = pc.ProbeTimeout.Or(scheduler.DefaultProbeTimeout)
	p.ActionTimeout = pc.ActionTimeout.Or(scheduler.DefaultActionTimeout)
	// A probe with its own longer deadline (update scripts) must not be cut off by the poller.
	if own := ownTimeout(pc.Probe); own >= p.ProbeTimeout {
		p.ProbeTimeout = own + time.Minute
	}
	return p, nil
}

func ownTimeout(pc config.Probe) time.Duration {
	if pc.Type == "update" {
		return pc.Timeout.Or(defaultUpdateTimeout)
	}
	return pc.Timeout.Duration
}

func buildSchedule(pc config.Poller) (scheduler.Schedule, error) {
	if pc.At == "" {
		if pc.Every.Duration <= 0 {
			return nil, fmt.Errorf("a schedule (every or at) is required")
		}
		return scheduler.Every{Period: pc.Every.Duration}, nil
	}
	loc := time.Local
	if pc.Timezone != "" {
		l, err := time.LoadLocation(pc.Timezone)
		if err != nil {
			return nil, fmt.Errorf("timezone: %w", err)
		}
		loc = l
	}
	return scheduler.ParseDailyAt(pc.At, loc)
}

func buildProbe(poller string, pc config.Probe, d Deps) (probe.Probe, error) {
	timeout := pc.Timeout.Or(defaultProbeTimeout)
	var pr probe.Probe
	switch pc.Type {
	case "disk":
		include := pc.IncludeMounts == nil || *pc.IncludeMounts
		pr = probe.NewDisk(pc.Paths, include)
	case "process":
		p, err := probe.NewProcess(pc.Metric, pc.Sample.Duration)
		if err != nil {
			return nil, err
		}
		pr = p
	case "ping":
		pr = &probe.Ping{Host: pc.Host, Timeout: timeout, Privileged: pc.Privileged}
	case "tcp":
		pr = &probe.TCP{Host: pc.Host, Port: pc.Port, Timeout: timeout}
	case "http":
		pr = probe.NewHTTP(firstNonEmpty(pc.URL, pc.Host), timeout)
	case "dns":
		dns := probe.NewDNS(firstNonEmpty(pc.URL, pc.Host))
		if pc.Timeout.Duration > 0 {
			dns.Timeout = pc.Timeout.Duration
		}
		pr = dns
	case "command":
		pr = &probe.Command{Label: poller, Argv: pc.Argv, Timeout: timeout}
	case "update":
		u := probe.NewUpdate(pc.Argv, pc.Timeout.Or(defaultUpdateTimeout))
		u.Dir = pc.Dir
		u.RebootExitCode = pc.RebootExitCode
		u.RebootMarker = firstNonEmpty(pc.RebootMarker, defaultRebootMarker)
		pr = u
	case "reboot":
		var sh probe.Shell = probe.LocalShell{Timeout: timeout}
		if pc.SSH != nil {
			sh = remote.Shell{Host: pc.Host, Config: sshConfig(*pc.SSH)}
		}
		r, err := probe.NewReboot(pc.Host, firstNonEmpty(pc.Flavor, probe.FlavorDebian), sh)
		if err != nil {
			return nil, err
		}
		pr = r
	default:
		return nil, fmt.Errorf("unknown probe type %q", pc.Type)
	}

	attempts := d.RetryAttempts
	backoff := d.RetryBackoff
	if pc.Retries > 0 {
		attempts = pc.Retries + 1
	}
	if pc.RetryBackoff.Duration > 0 {
		backoff = pc.RetryBackoff.Duration
	}
	if attempts > 1 && pc.Type != "update" {
		pr = &probe.Retry{Inner: pr, Attempts: attempts, Backoff: backoff}
	}
	return pr, nil
}

func sshConfig(c config.SSH) remote.Config {
	return remote.Config{
		User:                c.User,
		Port:                c.Port,
		KeyFile:             c.KeyFile,
		KnownHosts:          c.KnownHosts,
		InsecureSkipHostKey: c.InsecureSkipHostKey,
		Timeout:             c.Timeout.Duration,
	}
}

func buildPolicy(pc config.Policy) (policy.Policy, error) {
	if pc.When != nil {
		v, err := domain.ParseVerdict(pc.Verdict)
		if err != nil {
			return nil, err
		}
		return policy.Flag{When: *pc.When, Verdict: v}, nil
	}
	if pc.Critical == nil {
		return nil, fmt.Errorf("policy needs critical or when")
	}
	return policy.NewThreshold(pc.Warning, *pc.Critical)
}

// defaultMin is the verdict an action waits for when the configuration does not say.
// Notify sees every tick so it can send recovery notices.
func defaultMin(typ string) domain.Verdict {
	switch typ {
	case "notify":
		return domain.Normal
	case "log":
		return domain.Warning
	}
	return domain.Critical
}

func buildRules(pc config.Poller, d Deps) ([]scheduler.Rule, error) {
	var rules []scheduler.Rule
	var errs error
	for i, ac := range pc.Actions {
		least := defaultMin(ac.Type)
		if ac.Min != "" {
			v, err := domain.ParseVerdict(ac.Min)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("actions[%d]: %w", i, err))
				continue
			}
			least = v
		}
		a, err := buildAction(pc, ac, d)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("actions[%d]: %w", i, err))
			continue
		}
		rules = append(rules, scheduler.Rule{Min: least, Action: a})
	}
	return rules, errs
}

func buildAction(pc config.Poller, ac config.Action, d Deps) (action.Action, error) {
	poller := pc.Name
	switch ac.Type {
	case "log":
		return action.LogOnly{Logger: d.Logger.With(zap.String("poller", poller))}, nil
	case "terminate":
		t := &action.Terminate{PID: ac.PID}
		if pc.Policy.Critical != nil {
			t.Above = *pc.Policy.Critical
		}
		return t, nil
	case "command":
		if len(ac.Argv) == 0 {
			return nil, fmt.Errorf("command needs argv")
		}
		return &action.RunCommand{Label: "command " + ac.Argv[0], Argv: ac.Argv, Timeout: ac.Timeout.Duration}, nil
	case "restart":
		if strings.TrimSpace(ac.Service) == "" {
			return nil, fmt.Errorf("restart needs service")
		}
		return action.RestartService(ac.Service, ac.Timeout.Duration), nil
	case "notify":
		if d.Notifier == nil {
			return nil, fmt.Errorf("notify needs a slack webhook")
		}
		return &action.Notify{
			Poller:     poller,
			Notifier:   d.Notifier,
			Cooldown:   ac.Cooldown.Or(defaultCooldown),
			OnRecovery: ac.OnRecovery,
		}, nil
	}
	return nil, fmt.Errorf("unknown action type %q", ac.Type)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

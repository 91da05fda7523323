package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/hamed0406/opswatch/internal/domain"
	"github.com/hamed0406/opswatch/internal/scheduler"
)

// Error reports every problem found in a configuration, not just the first.
type Error struct {
	Err error
}

func (e *Error) Error() string { return "invalid configuration: " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Problems lists the individual failures.
func (e *Error) Problems() []error { return multierr.Errors(e.Err) }

var (
	probeTypes  = []string{"disk", "process", "ping", "tcp", "http", "dns", "command", "update", "reboot"}
	actionTypes = []string{"log", "terminate", "command", "restart", "notify"}
)

func oneOf(v string, set []string) bool {
	for _, s := range set {
		if v == s {
			return true
		}
	}
	return false
}

func (f File) Validate() error {
	var errs error
	add := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf(format, args...))
	}

	if len(f.Pollers) == 0 {
		add("at least one poller is required")
	}
	if f.History < 0 {
		add("history must not be negative")
	}
	if f.Log.Level != "" {
		if _, err := ParseLevel(f.Log.Level); err != nil {
			add("log.level: %v", err)
		}
	}
	seen := map[string]bool{}
	for i, p := range f.Pollers {
		where := fmt.Sprintf("pollers[%d]", i)
		if p.Name == "" {
			add("%s: name is required", where)
		} else {
			where = fmt.Sprintf("poller %q", p.Name)
			if seen[p.Name] {
				add("%s: duplicate name", where)
			}
			seen[p.Name] = true
		}
		errs = multierr.Append(errs, p.validate(where, f.SlackWebhook != ""))
	}
	if errs != nil {
		return &Error{Err: errs}
	}
	return nil
}

func (p Poller) validate(where string, haveWebhook bool) error {
	var errs error
	add := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf("%s: %s", where, fmt.Sprintf(format, args...)))
	}

	switch {
	case p.Every.Duration < 0:
		add("every must be positive, got %v", p.Every.Duration)
	case p.Every.Duration > 0 && p.At != "":
		add("set either every or at, not both")
	case p.Every.Duration == 0 && p.At == "":
		add("a schedule (every or at) is required")
	case p.At != "":
		if _, err := scheduler.ParseDailyAt(p.At, time.UTC); err != nil {
			add("at: %v", err)
		}
	}
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			add("timezone: %v", err)
		}
	}

	errs = multierr.Append(errs, p.Probe.validate(where+": probe"))
	if p.Secondary != nil {
		errs = multierr.Append(errs, p.Secondary.validate(where+": secondary"))
	}

	pol := p.Policy
	switch {
	case pol.When != nil:
		if _, err := domain.ParseVerdict(pol.Verdict); err != nil || pol.Verdict == "" {
			add("policy.verdict: want normal, warning or critical")
		}
	case pol.Critical == nil:
		add("policy needs critical (threshold) or when (flag)")
	default:
		c := *pol.Critical
		switch {
		case math.IsNaN(c) || math.IsInf(c, 0) || math.IsNaN(pol.Warning) || math.IsInf(pol.Warning, 0):
			add("policy thresholds must be finite")
		case c < 0 || pol.Warning < 0:
			add("policy thresholds must not be negative")
		case pol.Warning > c:
			add("policy.warning (%g) is above policy.critical (%g)", pol.Warning, c)
		}
		if p.Probe.Type == "disk" && c > 100 {
			add("policy.critical for disk is a percentage (0..100), got %g", c)
		}
	}

	for i, a := range p.Actions {
		at := fmt.Sprintf("actions[%d]", i)
		if !oneOf(a.Type, actionTypes) {
			add("%s: unknown type %q (want %s)", at, a.Type, strings.Join(actionTypes, ", "))
			continue
		}
		if a.Min != "" {
			if _, err := domain.ParseVerdict(a.Min); err != nil {
				add("%s: min: %v", at, err)
			}
		}
		switch a.Type {
		case "command":
			if len(a.Argv) == 0 {
				add("%s: command needs argv", at)
			}
		case "restart":
			if a.Service == "" {
				add("%s: restart needs service", at)
			}
		case "terminate":
			if a.PID == 0 && p.Probe.Type != "process" {
				add("%s: terminate needs pid unless the probe is a process probe", at)
			}
		case "notify":
			if !haveWebhook {
				add("%s: notify needs slack_webhook (or SLACK_WEBHOOK)", at)
			}
		}
	}
	return errs
}

func (p Probe) validate(where string) error {
	var errs error
	add := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf("%s: %s", where, fmt.Sprintf(format, args...)))
	}
	if !oneOf(p.Type, probeTypes) {
		add("unknown type %q (want %s)", p.Type, strings.Join(probeTypes, ", "))
		return errs
	}
	switch p.Type {
	case "process":
		if p.Metric != "cpu" && p.Metric != "memory" {
			add("metric must be cpu or memory")
		}
	case "ping":
		if p.Host == "" {
			add("ping needs host")
		}
	case "tcp":
		if p.Host == "" || p.Port <= 0 || p.Port > 65535 {
			add("tcp needs host and a port in 1..65535")
		}
	case "http", "dns":
		if p.URL == "" && p.Host == "" {
			add("%s needs url or host", p.Type)
		}
	case "command", "update":
		if len(p.Argv) == 0 {
			add("%s needs argv", p.Type)
		}
	case "reboot":
		if p.Flavor != "" && p.Flavor != "debian" && p.Flavor != "rhel" {
			add("flavor must be debian or rhel")
		}
		if p.SSH != nil && p.Host == "" {
			add("reboot over ssh needs host")
		}
	}
	if p.Retries < 0 {
		add("retries must not be negative")
	}
	return errs
}

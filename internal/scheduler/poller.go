// Package scheduler runs pollers: probe, judge, act, record, wait, repeat.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hamed0406/opswatch/internal/action"
	"github.com/hamed0406/opswatch/internal/domain"
	"github.com/hamed0406/opswatch/internal/policy"
	"github.com/hamed0406/opswatch/internal/probe"
)

const (
	DefaultProbeTimeout  = 30 * time.Second
	DefaultActionTimeout = 60 * time.Second
)

// Sink receives one RunRecord per tick. Implementations must be safe for concurrent use;
// several pollers share one sink.
type Sink interface {
	Append(ctx context.Context, rec domain.RunRecord) error
}

// Rule runs Action when the verdict is at least Min.
type Rule struct {
	Min    domain.Verdict
	Action action.Action
}

type Poller struct {
	Name      string
	Logger    *zap.Logger
	Probe     probe.Probe
	Secondary probe.Probe // consulted only when Probe fails
	Policy    policy.Policy
	Schedule  Schedule
	Rules     []Rule
	Sink      Sink

	DryRun        bool
	ProbeTimeout  time.Duration
	ActionTimeout time.Duration
	// MaxTicks stops Run after that many ticks. Zero runs until cancelled.
	MaxTicks int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	tickMu sync.Mutex // one tick at a time, even when triggered from outside Run

	mu    sync.Mutex
	ticks int
	worst domain.Verdict
	last  *domain.RunRecord
}

func NewPoller(
	logger *zap.Logger,
	name string,
	p probe.Probe,
	pol policy.Policy,
	sched Schedule,
	sink Sink,
	rules ...Rule,
) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		Name:          name,
		Logger:        logger.With(zap.String("poller", name)),
		Probe:         p,
		Policy:        pol,
		Schedule:      sched,
		Sink:          sink,
		Rules:         rules,
		ProbeTimeout:  DefaultProbeTimeout,
		ActionTimeout: DefaultActionTimeout,
	}
}

func (p *Poller) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

// Run ticks on the schedule until ctx is cancelled (returning ctx.Err()) or MaxTicks is
// reached (returning nil). Cancellation is only noticed between ticks; a tick in progress
// always finishes and records.
func (p *Poller) Run(ctx context.Context) error {
	if p.Probe == nil || p.Policy == nil || p.Schedule == nil {
		return errors.New("poller " + p.Name + ": probe, policy and schedule are required")
	}
	p.Logger.Info("poller_started",
		zap.String("probe", p.Probe.Name()),
		zap.String("policy", p.Policy.String()),
		zap.String("schedule", p.Schedule.String()),
		zap.Bool("dry_run", p.DryRun),
	)

	due := p.Schedule.First(p.clock())
	for {
		if err := p.waitUntil(ctx, due); err != nil {
			p.Logger.Info("poller_stopped", zap.Int("ticks", p.Ticks()))
			return err
		}
		p.Tick(context.WithoutCancel(ctx))
		if p.MaxTicks > 0 && p.Ticks() >= p.MaxTicks {
			p.Logger.Info("poller_finished", zap.Int("ticks", p.Ticks()))
			return nil
		}
		// Never schedule from before the instant just served; that would fire it twice.
		from := p.clock()
		if from.Before(due) {
			from = due
		}
		due = p.Schedule.Next(from)
		p.Logger.Debug("next_tick", zap.Time("at", due))
	}
}

func (p *Poller) waitUntil(ctx context.Context, due time.Time) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		d := due.Sub(p.clock())
		if d <= 0 {
			return nil
		}
		if err := p.doSleep(ctx, d); err != nil {
			return err
		}
	}
}

func (p *Poller) doSleep(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Tick runs one probe/evaluate/act cycle and emits its record. It never fails; every
// problem ends up in the returned record.
func (p *Poller) Tick(ctx context.Context) domain.RunRecord {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()
	start := p.clock()

	reading := p.observe(ctx, p.Probe)
	var verdict domain.Verdict
	if !reading.OK {
		verdict = domain.Critical
		reading = reading.WithMeta("failure", reading.Reason)
		p.Logger.Warn("probe_failed", zap.String("probe", p.Probe.Name()), zap.Error(reading.Err()))
		if p.Secondary != nil {
			reading = mergeSecondary(reading, p.Secondary.Name(), p.observe(ctx, p.Secondary))
		}
	} else {
		verdict = p.evaluate(reading)
	}

	var taken []string
	var results []domain.ActionResult
	for _, rule := range p.Rules {
		if verdict < rule.Min || rule.Action == nil {
			continue
		}
		taken = append(taken, rule.Action.Name())
		results = append(results, p.act(ctx, rule.Action, reading, verdict))
	}

	rec := domain.RunRecord{
		ID:            uuid.NewString(),
		Timestamp:     start.UTC(),
		Poller:        p.Name,
		ProbeName:     p.Probe.Name(),
		Reading:       reading,
		Verdict:       verdict,
		ActionsTaken:  taken,
		ActionResults: results,
		DurationMS:    float64(p.clock().Sub(start).Microseconds()) / 1000,
	}

	p.mu.Lock()
	p.ticks++
	if verdict > p.worst {
		p.worst = verdict
	}
	last := rec.Clone()
	p.last = &last
	p.mu.Unlock()

	if p.Sink != nil {
		if err := p.Sink.Append(ctx, rec.Clone()); err != nil {
			p.Logger.Warn("sink_append_error", zap.String("record_id", rec.ID), zap.Error(err))
		}
	}
	p.Logger.Debug("tick_completed",
		zap.String("record_id", rec.ID),
		zap.String("verdict", verdict.String()),
		zap.String("reading", reading.String()),
		zap.Int("actions", len(results)),
	)
	return rec
}

// observe runs pr under ProbeTimeout. A probe that ignores its context is abandoned at the
// deadline; its goroutine finishes on its own.
func (p *Poller) observe(ctx context.Context, pr probe.Probe) domain.Reading {
	ctx, cancel := context.WithTimeout(ctx, orDefault(p.ProbeTimeout, DefaultProbeTimeout))
	defer cancel()

	ch := make(chan domain.Reading, 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				id := p.recovered("probe", pr.Name(), v)
				ch <- domain.Failed(fmt.Sprintf("probe panicked: %v (correlation_id=%s)", v, id))
			}
		}()
		ch <- pr.Probe(ctx)
	}()

	select {
	case r := <-ch:
		return r
	case <-ctx.Done():
		return domain.Failed("timeout")
	}
}

func (p *Poller) evaluate(r domain.Reading) (v domain.Verdict) {
	defer func() {
		if rec := recover(); rec != nil {
			p.recovered("policy", p.Policy.String(), rec)
			v = domain.Critical
		}
	}()
	return p.Policy.Evaluate(r)
}

func (p *Poller) act(ctx context.Context, a action.Action, r domain.Reading, v domain.Verdict) domain.ActionResult {
	res := domain.ActionResult{Action: a.Name()}
	if p.DryRun && a.Destructive() {
		res.OK, res.DryRun = true, true
		res.Message = "would have executed: " + a.Describe(r, v)
		p.Logger.Info("action_dry_run", zap.String("action", a.Name()), zap.String("message", res.Message))
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, orDefault(p.ActionTimeout, DefaultActionTimeout))
	defer cancel()

	type outcome struct {
		msg string
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				id := p.recovered("action", a.Name(), rec)
				ch <- outcome{err: fmt.Errorf("%w: panicked: %v (correlation_id=%s)", domain.ErrActionFailure, rec, id)}
			}
		}()
		msg, err := a.Execute(ctx, r, v)
		ch <- outcome{msg, err}
	}()

	var out outcome
	select {
	case out = <-ch:
	case <-ctx.Done():
		out.err = fmt.Errorf("%w: %s: %w", domain.ErrActionFailure, a.Name(), domain.ErrTimeout)
	}
	res.Message = out.msg
	if out.err != nil {
		res.Error = out.err.Error()
		p.Logger.Warn("action_failed", zap.String("action", a.Name()), zap.Error(out.err))
		return res
	}
	res.OK = true
	return res
}

func (p *Poller) recovered(kind, name string, v any) string {
	id := uuid.NewString()
	p.Logger.Error("panic_recovered",
		zap.String("kind", kind),
		zap.String("name", name),
		zap.Any("panic", v),
		zap.String("correlation_id", id),
		zap.Stack("stack"),
	)
	return id
}

// mergeSecondary folds the secondary probe's outcome into the primary's metadata.
func mergeSecondary(r domain.Reading, name string, sec domain.Reading) domain.Reading {
	r = r.WithMeta("secondary.probe", name)
	r = r.WithMeta("secondary.ok", strconv.FormatBool(sec.OK))
	if sec.OK {
		r = r.WithMeta("secondary.value", sec.String())
	} else {
		r = r.WithMeta("secondary.reason", sec.Reason)
	}
	for k, v := range sec.Metadata {
		r = r.WithMeta("secondary."+k, v)
	}
	return r
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Ticks reports how many ticks have completed.
func (p *Poller) Ticks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ticks
}

// Worst reports the highest verdict seen so far.
func (p *Poller) Worst() domain.Verdict {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.worst
}

// Last returns a copy of the most recent record, if any.
func (p *Poller) Last() (domain.RunRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return domain.RunRecord{}, false
	}
	return p.last.Clone(), true
}

// Status is a point-in-time view of a poller for the status API.
type Status struct {
	Name     string            `json:"name"`
	Probe    string            `json:"probe"`
	Policy   string            `json:"policy"`
	Schedule string            `json:"schedule"`
	DryRun   bool              `json:"dry_run"`
	Ticks    int               `json:"ticks"`
	Worst    domain.Verdict    `json:"worst"`
	Last     *domain.RunRecord `json:"last,omitempty"`
}

func (p *Poller) Status() Status {
	st := Status{Name: p.Name, DryRun: p.DryRun}
	if p.Probe != nil {
		st.Probe = p.Probe.Name()
	}
	if p.Policy != nil {
		st.Policy = p.Policy.String()
	}
	if p.Schedule != nil {
		st.Schedule = p.Schedule.String()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	st.Ticks = p.ticks
	st.Worst = p.worst
	if p.last != nil {
		last := p.last.Clone()
		st.Last = &last
	}
	return st
}

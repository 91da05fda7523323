package domain

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// Verdict is the severity a policy assigns to a reading. Normal < Warning < Critical.
type Verdict int

const (
	Normal Verdict = iota
	Warning
	Critical
)

func (v Verdict) String() string {
	switch v {
	case Normal:
		return "normal"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// ParseVerdict accepts the lower-case names produced by String.
func ParseVerdict(s string) (Verdict, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal", "ok":
		return Normal, nil
	case "warning", "warn":
		return Warning, nil
	case "critical", "crit":
		return Critical, nil
	}
	return Normal, fmt.Errorf("unknown verdict %q", s)
}

func (v Verdict) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

func (v *Verdict) UnmarshalText(b []byte) error {
	p, err := ParseVerdict(string(b))
	if err != nil {
		return err
	}
	*v = p
	return nil
}

// Kind tells how a successful reading's Value should be read.
type Kind string

const (
	KindNumeric Kind = "numeric"
	KindBoolean Kind = "boolean"
)

// Reading is what a probe observed: either Ok(value, metadata) or Failed(reason).
type Reading struct {
	OK       bool              `json:"ok"`
	Kind     Kind              `json:"kind,omitempty"`
	Value    float64           `json:"value"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Reason   string            `json:"reason,omitempty"`
}

func Numeric(v float64, meta map[string]string) Reading {
	return Reading{OK: true, Kind: KindNumeric, Value: v, Metadata: meta}
}

func Boolean(b bool, meta map[string]string) Reading {
	v := 0.0
	if b {
		v = 1
	}
	return Reading{OK: true, Kind: KindBoolean, Value: v, Metadata: meta}
}

func Failed(reason string) Reading {
	return Reading{OK: false, Reason: reason}
}

// Err is nil for a successful reading. A failed reading yields an error wrapping
// ErrProbeFailure, and ErrTimeout as well when the probe ran out of time.
func (r Reading) Err() error {
	switch {
	case r.OK:
		return nil
	case r.Reason == "timeout":
		return fmt.Errorf("%w: %w", ErrProbeFailure, ErrTimeout)
	}
	return fmt.Errorf("%w: %s", ErrProbeFailure, r.Reason)
}

// Bool reports a boolean reading's value. Numeric readings are true when non-zero.
func (r Reading) Bool() bool { return r.Value != 0 }

// Meta returns the metadata value for key, or "".
func (r Reading) Meta(key string) string {
	if r.Metadata == nil {
		return ""
	}
	return r.Metadata[key]
}

// WithMeta returns a copy of r with key set; r itself is left untouched.
func (r Reading) WithMeta(key, value string) Reading {
	out := r.Clone()
	if out.Metadata == nil {
		out.Metadata = make(map[string]string, 1)
	}
	out.Metadata[key] = value
	return out
}

func (r Reading) Clone() Reading {
	r.Metadata = maps.Clone(r.Metadata)
	return r
}

func (r Reading) String() string {
	if !r.OK {
		return "failed: " + r.Reason
	}
	if r.Kind == KindBoolean {
		return fmt.Sprintf("%t", r.Bool())
	}
	return fmt.Sprintf("%.2f", r.Value)
}

// ActionResult is what one action reported for one tick.
type ActionResult struct {
	Action  string `json:"action"`
	OK      bool   `json:"ok"`
	DryRun  bool   `json:"dry_run,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RunRecord is the single log entry emitted per poll tick. Once emitted it is never changed;
// sinks receive a copy.
type RunRecord struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	Poller        string         `json:"poller"`
	ProbeName     string         `json:"probe_name"`
	Reading       Reading        `json:"reading"`
	Verdict       Verdict        `json:"verdict"`
	ActionsTaken  []string       `json:"actions_taken"`
	ActionResults []ActionResult `json:"action_results"`
	DurationMS    float64        `json:"duration_ms"`
}

// Clone deep-copies the record so that handing it to several sinks is safe.
func (r RunRecord) Clone() RunRecord {
	r.Reading = r.Reading.Clone()
	r.ActionsTaken = append([]string(nil), r.ActionsTaken...)
	r.ActionResults = append([]ActionResult(nil), r.ActionResults...)
	return r
}

// FailedActions counts the action results that did not succeed.
func (r RunRecord) FailedActions() int {
	n := 0
	for _, a := range r.ActionResults {
		if !a.OK {
			n++
		}
	}
	return n
}

// Package policy maps readings to verdicts. Policies are pure: the same reading always gives
// the same verdict and thresholds are fixed when the policy is built.
package policy

import (
	"fmt"
	"math"

	"github.com/hamed0406/opswatch/internal/domain"
)

// Policy evaluates a reading.
type Policy interface {
	Evaluate(r domain.Reading) domain.Verdict
	String() string
}

// Threshold flags numeric readings above upper bounds. A zero Warning disables the warning
// band.
type Threshold struct {
	Warning  float64
	Critical float64
}

// NewThreshold validates the bounds.
func NewThreshold(warning, critical float64) (Threshold, error) {
	t := Threshold{Warning: warning, Critical: critical}
	return t, t.Validate()
}

func (t Threshold) Validate() error {
	for _, v := range []float64{t.Warning, t.Critical} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("threshold must be finite, got %v", v)
		}
	}
	if t.Warning < 0 || t.Critical < 0 {
		return fmt.Errorf("thresholds must not be negative (warning=%v critical=%v)", t.Warning, t.Critical)
	}
	if t.Warning > t.Critical {
		return fmt.Errorf("warning threshold %v above critical threshold %v", t.Warning, t.Critical)
	}
	return nil
}

func (t Threshold) Evaluate(r domain.Reading) domain.Verdict {
	if !r.OK {
		return domain.Critical
	}
	switch {
	case r.Value > t.Critical:
		return domain.Critical
	case t.Warning > 0 && r.Value > t.Warning:
		return domain.Warning
	}
	return domain.Normal
}

func (t Threshold) String() string {
	if t.Warning > 0 {
		return fmt.Sprintf("threshold(warning>%g, critical>%g)", t.Warning, t.Critical)
	}
	return fmt.Sprintf("threshold(critical>%g)", t.Critical)
}

// Flag maps a boolean reading equal to When onto Verdict; anything else is Normal.
type Flag struct {
	When    bool
	Verdict domain.Verdict
}

func (f Flag) Evaluate(r domain.Reading) domain.Verdict {
	if !r.OK {
		return domain.Critical
	}
	if r.Bool() == f.When {
		return f.Verdict
	}
	return domain.Normal
}

func (f Flag) String() string {
	return fmt.Sprintf("flag(%t => %s)", f.When, f.Verdict)
}

package probe

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/hamed0406/opswatch/internal/domain"
)

// Probe observes one target and reports a Reading. Probes keep no state between calls and
// report problems through domain.Failed instead of returning errors.
type Probe interface {
	Name() string
	Probe(ctx context.Context) domain.Reading
}

// Func adapts a plain function to Probe.
type Func struct {
	Label string
	Fn    func(ctx context.Context) domain.Reading
}

func (f Func) Name() string                             { return f.Label }
func (f Func) Probe(ctx context.Context) domain.Reading { return f.Fn(ctx) }

// failure turns an error into a Failed reading; deadlines collapse to "timeout".
func failure(err error) domain.Reading {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrTimeout) {
		return domain.Failed("timeout")
	}
	return domain.Failed(err.Error())
}

func pct(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) }

func ms(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

// formatBytes renders a byte count the way df -h users expect (1024 steps).
func formatBytes(b uint64) string {
	v := float64(b)
	for _, unit := range []string{"B", "KB", "MB", "GB", "TB"} {
		if v < 1024 {
			return fmt.Sprintf("%.1f%s", v, unit)
		}
		v /= 1024
	}
	return fmt.Sprintf("%.1fPB", v)
}

package probe

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/hamed0406/opswatch/internal/domain"
)

// Retry re-runs Inner while it fails, up to Attempts times, waiting Backoff in between.
type Retry struct {
	Inner    Probe
	Attempts int
	Backoff  time.Duration
}

func (r *Retry) Name() string { return r.Inner.Name() }

func (r *Retry) Probe(ctx context.Context) domain.Reading {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var last domain.Reading
	for i := 0; i < attempts; i++ {
		last = r.Inner.Probe(ctx)
		if last.OK {
			return last.WithMeta("attempts", strconv.Itoa(i+1))
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return failure(ctx.Err())
		case <-time.After(r.Backoff):
		}
	}
	if attempts > 1 {
		last.Reason = fmt.Sprintf("%s (after %d attempts)", last.Reason, attempts)
	}
	return last.WithMeta("attempts", strconv.Itoa(attempts))
}

package action

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hamed0406/opswatch/internal/domain"
	"github.com/hamed0406/opswatch/internal/notify"
)

// Notify sends a message when the verdict changes. Repeats of the same non-normal verdict
// are suppressed until Cooldown has passed. A Normal verdict after an alert is sent as a
// recovery notice when OnRecovery is set.
type Notify struct {
	Poller     string
	Notifier   notify.Notifier
	Cooldown   time.Duration
	OnRecovery bool

	now func() time.Time

	mu       sync.Mutex
	sent     bool
	last     domain.Verdict
	lastSent time.Time
}

func (n *Notify) Name() string      { return "notify" }
func (n *Notify) Destructive() bool { return true }

func (n *Notify) Describe(_ domain.Reading, v domain.Verdict) string {
	return fmt.Sprintf("notify %s is %s", n.Poller, v)
}

func (n *Notify) clock() time.Time {
	if n.now != nil {
		return n.now()
	}
	return time.Now()
}

func (n *Notify) Execute(ctx context.Context, r domain.Reading, v domain.Verdict) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.clock()
	changed := !n.sent || n.last != v
	cooled := n.lastSent.IsZero() || now.Sub(n.lastSent) >= n.Cooldown

	var title string
	switch {
	case v == domain.Normal:
		if !n.sent || n.last == domain.Normal || !n.OnRecovery {
			n.last, n.sent = v, true
			return "suppressed", nil
		}
		title = fmt.Sprintf("%s RECOVERED", n.Poller)
	case changed || cooled:
		title = fmt.Sprintf("%s %s", n.Poller, strings.ToUpper(v.String()))
	default:
		return "suppressed", nil
	}

	msg := notify.Message{Title: title, Text: describeReading(r), Verdict: v}
	if err := n.Notifier.Send(ctx, msg); err != nil {
		return "", fmt.Errorf("%w: notify: %w", domain.ErrActionFailure, err)
	}
	n.last, n.sent, n.lastSent = v, true, now
	return "sent: " + title, nil
}

func describeReading(r domain.Reading) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reading: %s", r)
	keys := make([]string, 0, len(r.Metadata))
	for k := range r.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, r.Metadata[k])
	}
	return b.String()
}

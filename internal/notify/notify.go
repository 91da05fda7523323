package notify

import (
	"context"

	"go.uber.org/multierr"

	"github.com/hamed0406/opswatch/internal/domain"
)

// Message is one alert about a poller.
type Message struct {
	Title   string
	Text    string
	Verdict domain.Verdict
}

type Notifier interface {
	Send(ctx context.Context, m Message) error
}

// Multi fans a message out to every notifier and reports all failures together.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, msg Message) error {
	var err error
	for _, n := range m {
		if n == nil {
			continue
		}
		err = multierr.Append(err, n.Send(ctx, msg))
	}
	return err
}

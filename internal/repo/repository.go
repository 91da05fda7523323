package repo

import (
	"context"

	"go.uber.org/multierr"

	"github.com/hamed0406/opswatch/internal/domain"
)

// Appender accepts run records. Every store is one; so is a logging or metrics sink.
type Appender interface {
	Append(ctx context.Context, rec domain.RunRecord) error
}

// Query narrows List. An empty Poller means all pollers; Limit <= 0 means DefaultLimit.
type Query struct {
	Poller string
	Limit  int
}

const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

func (q Query) Normalize() Query {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	return q
}

// RecordStore keeps run records for the status API.
type RecordStore interface {
	Appender
	// Latest returns the newest record of every poller, ordered by poller name.
	Latest(ctx context.Context) ([]domain.RunRecord, error)
	// List returns records newest first.
	List(ctx context.Context, q Query) ([]domain.RunRecord, error)
}

// Multi hands each record to every appender. One failing appender does not stop the
// others; all errors are returned together.
type Multi []Appender

func (m Multi) Append(ctx context.Context, rec domain.RunRecord) error {
	var err error
	for _, a := range m {
		if a == nil {
			continue
		}
		err = multierr.Append(err, a.Append(ctx, rec.Clone()))
	}
	return err
}

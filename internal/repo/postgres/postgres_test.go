//go:build integration

package postgres

// go test -tags=integration ./internal/repo/postgres -count=1

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hamed0406/opswatch/internal/domain"
	"github.com/hamed0406/opswatch/internal/repo"
)

func TestPostgresStore_Append_Latest_List(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration test")
	}

	ctx := context.Background()
	store, err := New(ctx, dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("New store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	// Unique poller name per run so earlier runs don't interfere.
	poller := "disk-" + uuid.NewString()[:8]
	base := time.Now().UTC().Truncate(time.Millisecond)

	older := domain.RunRecord{
		ID:        uuid.NewString(),
		Timestamp: base,
		Poller:    poller,
		ProbeName: "disk",
		Reading:   domain.Numeric(50, map[string]string{"path": "/"}),
		Verdict:   domain.Normal,
	}
	newer := domain.RunRecord{
		ID:            uuid.NewString(),
		Timestamp:     base.Add(time.Second),
		Poller:        poller,
		ProbeName:     "disk",
		Reading:       domain.Numeric(95, map[string]string{"path": "/home"}),
		Verdict:       domain.Critical,
		ActionsTaken:  []string{"log"},
		ActionResults: []domain.ActionResult{{Action: "log", OK: true, Message: "logged"}},
		DurationMS:    1.5,
	}
	for _, r := range []domain.RunRecord{older, newer} {
		if err := store.Append(ctx, r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	latest, err := store.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	var row *domain.RunRecord
	for i := range latest {
		if latest[i].Poller == poller {
			row = &latest[i]
		}
	}
	if row == nil || row.ID != newer.ID {
		t.Fatalf("latest for %s not found or stale: %+v", poller, row)
	}
	if row.Verdict != domain.Critical || row.Reading.Meta("path") != "/home" || len(row.ActionResults) != 1 {
		t.Fatalf("round trip lost data: %+v", row)
	}

	list, err := store.List(ctx, repo.Query{Poller: poller, Limit: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != newer.ID || list[1].ID != older.ID {
		t.Fatalf("unexpected list: %+v", list)
	}
}

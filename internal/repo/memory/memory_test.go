package memory

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/hamed0406/opswatch/internal/domain"
	"github.com/hamed0406/opswatch/internal/repo"
)

func rec(poller string, i int, at time.Time) domain.RunRecord {
	return domain.RunRecord{
		ID:        poller + "-" + strconv.Itoa(i),
		Poller:    poller,
		Timestamp: at,
		Reading:   domain.Numeric(float64(i), map[string]string{"i": strconv.Itoa(i)}),
	}
}

func TestMemoryStore_ListNewestFirstAndBounded(t *testing.T) {
	ctx := context.Background()
	s := New(3)
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		if err := s.Append(ctx, rec("disk", i, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if s.Len() != 3 {
		t.Fatalf("expected 3 records kept, got %d", s.Len())
	}
	all, err := s.List(ctx, repo.Query{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[0].ID != "disk-4" || all[2].ID != "disk-2" {
		t.Fatalf("unexpected order: %v %v %v", all[0].ID, all[1].ID, all[2].ID)
	}
}

func TestMemoryStore_FilterAndLimit(t *testing.T) {
	ctx := context.Background()
	s := New(0)
	base := time.Now().UTC()
	for i := 0; i < 6; i++ {
		p := "cpu"
		if i%2 == 0 {
			p = "memory"
		}
		_ = s.Append(ctx, rec(p, i, base.Add(time.Duration(i)*time.Second)))
	}
	got, _ := s.List(ctx, repo.Query{Poller: "cpu", Limit: 2})
	if len(got) != 2 || got[0].ID != "cpu-5" || got[1].ID != "cpu-3" {
		t.Fatalf("unexpected filter result: %+v", got)
	}
}

func TestMemoryStore_LatestPerPoller(t *testing.T) {
	ctx := context.Background()
	s := New(10)
	base := time.Now().UTC()
	_ = s.Append(ctx, rec("ping", 1, base))
	_ = s.Append(ctx, rec("disk", 2, base))
	_ = s.Append(ctx, rec("ping", 3, base.Add(time.Second)))

	latest, err := s.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(latest) != 2 || latest[0].Poller != "disk" || latest[1].ID != "ping-3" {
		t.Fatalf("unexpected latest: %+v", latest)
	}
}

func TestMemoryStore_CopiesRecords(t *testing.T) {
	ctx := context.Background()
	s := New(10)
	r := rec("disk", 1, time.Now())
	_ = s.Append(ctx, r)
	r.Reading.Metadata["i"] = "changed"

	got, _ := s.List(ctx, repo.Query{})
	got[0].Reading.Metadata["i"] = "changed again"
	again, _ := s.List(ctx, repo.Query{})
	if again[0].Reading.Meta("i") != "1" {
		t.Fatalf("store shares metadata with callers: %v", again[0].Reading.Metadata)
	}
}

func TestMemoryStore_ConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	s := New(10000)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = s.Append(ctx, rec("p"+strconv.Itoa(w), i, time.Now()))
			}
		}(w)
	}
	wg.Wait()
	if s.Len() != 800 {
		t.Fatalf("want 800 records, got %d", s.Len())
	}
}

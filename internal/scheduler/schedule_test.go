package scheduler

import (
	"testing"
	"time"
)

func TestDailyAt_PassedTimeWaitsForTomorrow(t *testing.T) {
	loc := time.FixedZone("test", 2*3600)
	d, err := ParseDailyAt("15:00", loc)
	if err != nil {
		t.Fatal(err)
	}
	start := time.Date(2026, 5, 10, 15, 5, 0, 0, loc)
	got := d.First(start)
	want := time.Date(2026, 5, 11, 15, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("First(15:05) = %v, want %v", got, want)
	}

	early := time.Date(2026, 5, 10, 14, 59, 0, 0, loc)
	if got := d.First(early); !got.Equal(time.Date(2026, 5, 10, 15, 0, 0, 0, loc)) {
		t.Fatalf("First(14:59) = %v", got)
	}
}

func TestDailyAt_ExactInstantDoesNotRepeat(t *testing.T) {
	d := DailyAt{Hour: 23, Minute: 30, Location: time.UTC}
	fired := time.Date(2026, 12, 31, 23, 30, 0, 0, time.UTC)
	if got := d.Next(fired); !got.Equal(time.Date(2027, 1, 1, 23, 30, 0, 0, time.UTC)) {
		t.Fatalf("Next at the instant = %v", got)
	}
}

func TestParseDailyAt_Rejects(t *testing.T) {
	for _, s := range []string{"", "1500", "24:00", "12:60", "ab:00", "12:5"} {
		if _, err := ParseDailyAt(s, nil); err == nil {
			t.Fatalf("%q accepted", s)
		}
	}
}

func TestEvery(t *testing.T) {
	e := Every{Period: 5 * time.Second}
	now := time.Now()
	if !e.First(now).Equal(now) || !e.Next(now).Equal(now.Add(5*time.Second)) {
		t.Fatal("every schedule misbehaves")
	}
}

package probe

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func fakeProcess(t *testing.T, metric string, procs []ProcStat, err error) *Process {
	t.Helper()
	p, perr := NewProcess(metric, time.Millisecond)
	if perr != nil {
		t.Fatalf("NewProcess: %v", perr)
	}
	p.snapshot = func(context.Context, time.Duration) ([]ProcStat, error) { return procs, err }
	return p
}

func TestProcess_TopCPU(t *testing.T) {
	p := fakeProcess(t, MetricCPU, []ProcStat{
		{PID: 10, Name: "idle", CPUPercent: 1, MemPercent: 50},
		{PID: 1234, Name: "miner", CPUPercent: 97, MemPercent: 3},
		{PID: int32(os.Getpid()), Name: "self", CPUPercent: 400},
	}, nil)
	r := p.Probe(context.Background())
	if !r.OK || r.Value != 97 || r.Meta("pid") != "1234" || r.Meta("name") != "miner" {
		t.Fatalf("unexpected reading: %+v", r)
	}
	if r.Meta("memory_percent") != "3.0" {
		t.Fatalf("memory metadata wrong: %+v", r.Metadata)
	}
}

func TestProcess_ListsEveryHeavyConsumer(t *testing.T) {
	p := fakeProcess(t, MetricCPU, []ProcStat{
		{PID: 10, Name: "idle", CPUPercent: 0.5},
		{PID: 1111, Name: "miner", CPUPercent: 97},
		{PID: 2222, Name: "miner", CPUPercent: 93.5},
		{PID: int32(os.Getpid()), Name: "self", CPUPercent: 400},
	}, nil)
	r := p.Probe(context.Background())
	if r.Value != 97 || r.Meta("pid") != "1111" {
		t.Fatalf("unexpected reading: %+v", r)
	}
	if r.Meta("pids") != "1111,2222,10" {
		t.Fatalf("pids = %q", r.Meta("pids"))
	}
	if r.Meta("value.1111") != "97" || r.Meta("value.2222") != "93.5" || r.Meta("value.10") != "0.5" {
		t.Fatalf("per-pid values wrong: %+v", r.Metadata)
	}

	p.Top = 1
	if r := p.Probe(context.Background()); r.Meta("pids") != "1111" {
		t.Fatalf("Top=1 should list one pid, got %q", r.Meta("pids"))
	}
}

func TestProcess_TopMemory(t *testing.T) {
	p := fakeProcess(t, MetricMemory, []ProcStat{
		{PID: 10, Name: "db", CPUPercent: 1, MemPercent: 88},
		{PID: 11, Name: "web", CPUPercent: 60, MemPercent: 4},
	}, nil)
	r := p.Probe(context.Background())
	if r.Value != 88 || r.Meta("pid") != "10" {
		t.Fatalf("unexpected reading: %+v", r)
	}
}

func TestProcess_SnapshotErrorFails(t *testing.T) {
	p := fakeProcess(t, MetricCPU, nil, errors.New("proc not mounted"))
	if r := p.Probe(context.Background()); r.OK || r.Reason != "proc not mounted" {
		t.Fatalf("want failed reading, got %+v", r)
	}
	p = fakeProcess(t, MetricCPU, nil, context.DeadlineExceeded)
	if r := p.Probe(context.Background()); r.Reason != "timeout" {
		t.Fatalf("want timeout reason, got %+v", r)
	}
}

func TestNewProcess_RejectsUnknownMetric(t *testing.T) {
	if _, err := NewProcess("disk", 0); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSnapshotProcesses_Live(t *testing.T) {
	procs, err := snapshotProcesses(context.Background(), 20*time.Millisecond)
	if err != nil {
		t.Skipf("process table not readable here: %v", err)
	}
	if len(procs) == 0 {
		t.Fatalf("expected at least one process")
	}
}

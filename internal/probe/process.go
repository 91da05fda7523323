package probe

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/hamed0406/opswatch/internal/domain"
)

const (
	MetricCPU    = "cpu"
	MetricMemory = "memory"
)

// ProcStat is one row of a process-table snapshot.
type ProcStat struct {
	PID        int32
	Name       string
	CPUPercent float64
	MemPercent float64
}

// TopN is how many of the heaviest consumers a process reading lists.
const TopN = 5

// Process reports the top consumers of CPU or memory. The reading's value and "pid" belong
// to the heaviest one; "pids" lists up to Top of them, heaviest first, each with its own
// "value.<pid>". CPU percent is measured over Sample and may exceed 100 on multi-core hosts.
type Process struct {
	Metric string
	Sample time.Duration
	Top    int

	snapshot func(ctx context.Context, sample time.Duration) ([]ProcStat, error)
}

func NewProcess(metric string, sample time.Duration) (*Process, error) {
	if metric != MetricCPU && metric != MetricMemory {
		return nil, fmt.Errorf("unknown process metric %q (want cpu or memory)", metric)
	}
	if sample <= 0 {
		sample = time.Second
	}
	return &Process{Metric: metric, Sample: sample, Top: TopN, snapshot: snapshotProcesses}, nil
}

func (p *Process) Name() string { return "process-" + p.Metric }

func (p *Process) Probe(ctx context.Context) domain.Reading {
	procs, err := p.snapshot(ctx, p.Sample)
	if err != nil {
		return failure(err)
	}
	self := int32(os.Getpid())
	ranked := make([]ProcStat, 0, len(procs))
	for _, ps := range procs {
		if ps.PID != self {
			ranked = append(ranked, ps)
		}
	}
	if len(ranked) == 0 {
		return domain.Failed("no processes visible")
	}
	sort.SliceStable(ranked, func(i, j int) bool { return p.value(&ranked[i]) > p.value(&ranked[j]) })
	n := p.Top
	if n <= 0 {
		n = TopN
	}
	if n > len(ranked) {
		n = len(ranked)
	}

	top := ranked[0]
	meta := map[string]string{
		"pid":            strconv.Itoa(int(top.PID)),
		"name":           top.Name,
		"cpu_percent":    pct(top.CPUPercent),
		"memory_percent": pct(top.MemPercent),
		"processes":      strconv.Itoa(len(procs)),
	}
	pids := make([]string, n)
	for i, ps := range ranked[:n] {
		pid := strconv.Itoa(int(ps.PID))
		pids[i] = pid
		meta["value."+pid] = strconv.FormatFloat(p.value(&ps), 'f', -1, 64)
	}
	meta["pids"] = strings.Join(pids, ",")
	return domain.Numeric(p.value(&top), meta)
}

func (p *Process) value(ps *ProcStat) float64 {
	if p.Metric == MetricMemory {
		return ps.MemPercent
	}
	return ps.CPUPercent
}

// snapshotProcesses reads CPU times twice, Sample apart, and derives per-process CPU percent
// from the difference. Processes that exit or deny access in between are skipped.
func snapshotProcesses(ctx context.Context, sample time.Duration) ([]ProcStat, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	before := make(map[int32]float64, len(procs))
	for _, pr := range procs {
		if t, err := pr.TimesWithContext(ctx); err == nil {
			before[pr.Pid] = t.User + t.System
		}
	}

	timer := time.NewTimer(sample)
	select {
	case <-ctx.Done():
		timer.Stop()
		return nil, ctx.Err()
	case <-timer.C:
	}

	out := make([]ProcStat, 0, len(before))
	for _, pr := range procs {
		start, ok := before[pr.Pid]
		if !ok {
			continue
		}
		t, err := pr.TimesWithContext(ctx)
		if err != nil {
			continue
		}
		name, err := pr.NameWithContext(ctx)
		if err != nil {
			continue
		}
		mem, err := pr.MemoryPercentWithContext(ctx)
		if err != nil {
			continue
		}
		out = append(out, ProcStat{
			PID:        pr.Pid,
			Name:       name,
			CPUPercent: (t.User + t.System - start) / sample.Seconds() * 100,
			MemPercent: float64(mem),
		})
	}
	return out, nil
}

package probe

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/hamed0406/opswatch/internal/domain"
)

// DefaultDiskPaths are the directories checked when no paths are configured.
var DefaultDiskPaths = []string{"/", "/home", "/var", "/tmp", "/usr", "/opt", "/boot"}

// Disk reports the highest usage percent across a set of filesystem paths.
type Disk struct {
	Paths []string
	// IncludeMounts adds every mount point under /mnt/ and /media/.
	IncludeMounts bool

	usage      func(ctx context.Context, path string) (*disk.UsageStat, error)
	partitions func(ctx context.Context) ([]disk.PartitionStat, error)
	exists     func(path string) bool
}

func NewDisk(paths []string, includeMounts bool) *Disk {
	if len(paths) == 0 {
		paths = DefaultDiskPaths
	}
	return &Disk{
		Paths:         paths,
		IncludeMounts: includeMounts,
		usage:         disk.UsageWithContext,
		partitions: func(ctx context.Context) ([]disk.PartitionStat, error) {
			return disk.PartitionsWithContext(ctx, true)
		},
		exists: func(p string) bool {
			_, err := os.Stat(p)
			return err == nil
		},
	}
}

func (d *Disk) Name() string { return "disk" }

func (d *Disk) Probe(ctx context.Context) domain.Reading {
	meta := map[string]string{}
	worst := -1.0
	var worstStat *disk.UsageStat

	for _, p := range d.targets(ctx) {
		u, err := d.usage(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				return failure(ctx.Err())
			}
			meta["error."+p] = err.Error()
			continue
		}
		meta["usage."+p] = pct(u.UsedPercent)
		if u.UsedPercent > worst {
			worst = u.UsedPercent
			worstStat = u
			meta["path"] = p
		}
	}
	if worstStat == nil {
		r := domain.Failed("no readable filesystems")
		r.Metadata = meta
		return r
	}
	meta["used"] = formatBytes(worstStat.Used)
	meta["total"] = formatBytes(worstStat.Total)
	return domain.Numeric(worst, meta)
}

// targets returns the sorted, de-duplicated list of existing paths to check.
func (d *Disk) targets(ctx context.Context) []string {
	seen := map[string]bool{}
	for _, p := range d.Paths {
		seen[p] = true
	}
	if d.IncludeMounts && d.partitions != nil {
		// unreadable mount tables just mean we stick to the configured paths
		if parts, err := d.partitions(ctx); err == nil {
			for _, pt := range parts {
				if strings.HasPrefix(pt.Mountpoint, "/mnt/") || strings.HasPrefix(pt.Mountpoint, "/media/") {
					seen[pt.Mountpoint] = true
				}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		if d.exists == nil || d.exists(p) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

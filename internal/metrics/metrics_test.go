package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamed0406/opswatch/internal/domain"
)

func TestSinkAppend(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, domain.RunRecord{
		Poller:  "disk",
		Reading: domain.Numeric(95, nil),
		Verdict: domain.Critical,
		ActionResults: []domain.ActionResult{
			{Action: "log", OK: true},
			{Action: "terminate", OK: true, DryRun: true},
			{Action: "command", OK: false, Error: "exit 1"},
		},
		DurationMS: 12,
	}))
	require.NoError(t, s.Append(ctx, domain.RunRecord{
		Poller:  "disk",
		Reading: domain.Failed("no readable filesystems"),
		Verdict: domain.Critical,
	}))

	assert.Equal(t, 2.0, testutil.ToFloat64(s.ticks.WithLabelValues("disk", "critical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.probeFailures.WithLabelValues("disk")))
	assert.Equal(t, 95.0, testutil.ToFloat64(s.lastValue.WithLabelValues("disk")))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.lastVerdict.WithLabelValues("disk")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.actions.WithLabelValues("disk", "terminate", "dry_run")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.actions.WithLabelValues("disk", "command", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.actions.WithLabelValues("disk", "log", "ok")))
}

func TestSinkHandler(t *testing.T) {
	s := New()
	_ = s.Append(context.Background(), domain.RunRecord{Poller: "ping", Reading: domain.Numeric(3.5, nil)})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, 1, strings.Count(string(body), `opswatch_last_reading{poller="ping"} 3.5`),
		"failed to get match for metric in response")
	assert.Contains(t, string(body), `opswatch_ticks_total{poller="ping",verdict="normal"} 1`)
}

package probe

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/hamed0406/opswatch/internal/domain"
)

// HTTP fetches URL and reports latency in milliseconds. Statuses outside 2xx/3xx fail.
type HTTP struct {
	URL    string
	Client *http.Client
}

func NewHTTP(url string, timeout time.Duration) *HTTP {
	return &HTTP{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

func (h *HTTP) Name() string { return "http " + h.URL }

func (h *HTTP) Probe(ctx context.Context) domain.Reading {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return domain.Failed(err.Error())
	}

	resp, err := h.Client.Do(req)
	latency := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		if ctx.Err() != nil {
			return failure(ctx.Err())
		}
		r := domain.Failed(err.Error())
		r.Metadata = map[string]string{"url": h.URL, "status_code": "0"}
		return r
	}
	defer resp.Body.Close()

	meta := map[string]string{
		"url":         h.URL,
		"status":      resp.Status,
		"status_code": strconv.Itoa(resp.StatusCode),
		"latency_ms":  ms(latency),
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		r := domain.Failed(resp.Status)
		r.Metadata = meta
		return r
	}
	return domain.Numeric(latency, meta)
}

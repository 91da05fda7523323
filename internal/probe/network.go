package probe

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/hamed0406/opswatch/internal/domain"
)

// Ping sends one ICMP echo and reports the round trip in milliseconds.
type Ping struct {
	Host    string
	Timeout time.Duration
	// Privileged uses raw sockets; otherwise unprivileged UDP ping (Linux needs
	// net.ipv4.ping_group_range to allow it).
	Privileged bool
}

func (p *Ping) Name() string { return "ping " + p.Host }

func (p *Ping) Probe(ctx context.Context) domain.Reading {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	pinger, err := probing.NewPinger(p.Host)
	if err != nil {
		return domain.Failed("resolve " + p.Host + ": " + err.Error())
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(p.Privileged)

	done := make(chan error, 1)
	go func() { done <- pinger.Run() }()
	select {
	case <-ctx.Done():
		pinger.Stop()
		<-done
		return failure(ctx.Err())
	case err := <-done:
		if err != nil {
			return domain.Failed("ping " + p.Host + ": " + err.Error())
		}
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return domain.Failed("ping timeout")
	}
	rtt := float64(stats.AvgRtt.Microseconds()) / 1000
	meta := map[string]string{"host": p.Host, "rtt_ms": ms(rtt)}
	if stats.IPAddr != nil {
		meta["addr"] = stats.IPAddr.String()
	}
	return domain.Numeric(rtt, meta)
}

// TCP checks that host:port accepts connections. Used on its own or to confirm a failed ping.
type TCP struct {
	Host    string
	Port    int
	Timeout time.Duration
}

func (t *TCP) Name() string { return fmt.Sprintf("tcp %s:%d", t.Host, t.Port) }

func (t *TCP) Probe(ctx context.Context) domain.Reading {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	addr := net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
	d := net.Dialer{Timeout: timeout}
	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		r := domain.Failed(fmt.Sprintf("port %d closed", t.Port))
		r.Metadata = map[string]string{"addr": addr, "error": err.Error()}
		return r
	}
	_ = conn.Close()
	lat := float64(time.Since(start).Microseconds()) / 1000
	return domain.Boolean(true, map[string]string{
		"addr":       addr,
		"port":       strconv.Itoa(t.Port),
		"latency_ms": ms(lat),
	})
}

package probe

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/hamed0406/opswatch/internal/domain"
)

// DNS classes reported in the "class" metadata key.
const (
	DNSResolves       = "RESOLVES"
	DNSNXDomain       = "NXDOMAIN"
	DNSNoARecord      = "NO_A_RECORD"
	DNSServfail       = "SERVFAIL_or_TIMEOUT"
	DNSInvalidName    = "INVALID_NAME"
	defaultDNSTimeout = 3 * time.Second
)

type resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
	LookupCNAME(ctx context.Context, host string) (string, error)
	LookupNS(ctx context.Context, name string) ([]*net.NS, error)
}

// DNS classifies how a host name resolves. It is mostly useful as the secondary probe of an
// HTTP check: a site that is down because its name vanished reads differently from one
// whose server is broken.
type DNS struct {
	Host     string
	Timeout  time.Duration
	Resolver resolver
}

// NewDNS accepts a bare host name or a URL.
func NewDNS(target string) *DNS {
	return &DNS{Host: hostOf(target), Timeout: defaultDNSTimeout, Resolver: &net.Resolver{}}
}

func (d *DNS) Name() string { return "dns " + d.Host }

func (d *DNS) Probe(ctx context.Context) domain.Reading {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultDNSTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	st := classifyDNS(ctx, d.Resolver, d.Host)
	meta := map[string]string{"host": st.domain, "class": st.class}
	if st.cname != "" {
		meta["cname"] = st.cname
	}
	if len(st.nameservers) > 0 {
		meta["nameservers"] = strings.Join(st.nameservers, ",")
	}
	if len(st.ips) > 0 {
		meta["ips"] = strings.Join(st.ips, ",")
	}
	if st.resolverError != "" {
		meta["resolver_error"] = st.resolverError
	}
	if st.class != DNSResolves {
		r := domain.Failed(st.class)
		r.Metadata = meta
		return r
	}
	return domain.Boolean(true, meta)
}

type dnsStatus struct {
	domain        string
	class         string
	ips           []string
	cname         string
	nameservers   []string
	resolverError string
}

func classifyDNS(ctx context.Context, r resolver, name string) dnsStatus {
	s := dnsStatus{domain: strings.TrimSpace(name)}
	if s.domain == "" || strings.Contains(s.domain, "://") {
		s.class = DNSInvalidName
		return s
	}

	ips, err := r.LookupIP(ctx, "ip", s.domain)
	if err == nil && len(ips) > 0 {
		for _, ip := range ips {
			s.ips = append(s.ips, ip.String())
		}
		s.class = DNSResolves
	} else if err != nil {
		s.resolverError = err.Error()
		var de *net.DNSError
		if errors.As(err, &de) {
			if de.IsNotFound {
				s.class = DNSNXDomain
			} else if de.IsTemporary || de.Timeout() {
				s.class = DNSServfail
			}
		}
	}

	if cname, err := r.LookupCNAME(ctx, s.domain); err == nil && !strings.EqualFold(cname, s.domain+".") {
		s.cname = strings.TrimSuffix(cname, ".")
	}

	hasNS := false
	if ns, err := r.LookupNS(ctx, s.domain); err == nil && len(ns) > 0 {
		hasNS = true
		for _, n := range ns {
			s.nameservers = append(s.nameservers, strings.TrimSuffix(n.Host, "."))
		}
		// the zone exists, only the address records are missing
		if s.class == DNSNXDomain {
			s.class = DNSNoARecord
		}
	}

	if s.class == "" {
		switch {
		case len(s.ips) > 0:
			s.class = DNSResolves
		case hasNS:
			s.class = DNSNoARecord
		case s.resolverError != "":
			s.class = DNSServfail
		default:
			s.class = DNSNXDomain
		}
	}
	return s
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return raw
	}
	return u.Hostname()
}

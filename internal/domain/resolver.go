package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/phishlens/phishlens/internal/features"
)

const (
	defaultResolvConf   = "/etc/resolv.conf"
	defaultQueryTimeout = 2 * time.Second
)

// Resolver resolves a host name to its addresses.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]netip.Addr, error)
}

// DNSResolverConfig configures a DNSResolver.
type DNSResolverConfig struct {
	// Nameserver is queried directly as "host:port". Empty reads the first
	// server from ResolvConf, and falls back to the system resolver when
	// that is unavailable.
	Nameserver string
	ResolvConf string
	Timeout    time.Duration
}

// DNSResolver queries A and AAAA records.
type DNSResolver struct {
	client     *dns.Client
	nameserver string
	timeout    time.Duration
	system     *net.Resolver
}

// NewDNSResolver creates a resolver.
func NewDNSResolver(cfg DNSResolverConfig) *DNSResolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultQueryTimeout
	}
	if cfg.ResolvConf == "" {
		cfg.ResolvConf = defaultResolvConf
	}
	nameserver := cfg.Nameserver
	if nameserver == "" {
		if conf, err := dns.ClientConfigFromFile(cfg.ResolvConf); err == nil && len(conf.Servers) > 0 {
			nameserver = net.JoinHostPort(conf.Servers[0], conf.Port)
		}
	}
	return &DNSResolver{
		client: &dns.Client{
			Net:          "udp",
			Timeout:      cfg.Timeout,
			DialTimeout:  cfg.Timeout,
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
		},
		nameserver: nameserver,
		timeout:    cfg.Timeout,
		system:     net.DefaultResolver,
	}
}

// LookupHost returns the addresses of host. IP literals resolve to
// themselves without a query.
func (r *DNSResolver) LookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	host = strings.TrimSuffix(strings.TrimSpace(host), ".")
	if host == "" {
		return nil, features.ParseError("dns", errors.New("empty host"))
	}
	if addr, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		return []netip.Addr{addr.Unmap()}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if r.nameserver == "" {
		addrs, err := r.system.LookupNetIP(ctx, "ip", host)
		if err != nil {
			return nil, features.NetworkError("dns", err)
		}
		out := make([]netip.Addr, 0, len(addrs))
		for _, a := range addrs {
			out = append(out, a.Unmap())
		}
		return out, nil
	}

	var (
		addrs   []netip.Addr
		lastErr error
	)
	for _, qt := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(host), qt)
		resp, _, err := r.client.ExchangeContext(ctx, msg, r.nameserver)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("%s: %s", host, dns.RcodeToString[resp.Rcode])
			continue
		}
		for _, ans := range resp.Answer {
			switch rr := ans.(type) {
			case *dns.A:
				if a, ok := netip.AddrFromSlice(rr.A); ok {
					addrs = append(addrs, a.Unmap())
				}
			case *dns.AAAA:
				if a, ok := netip.AddrFromSlice(rr.AAAA); ok {
					addrs = append(addrs, a)
				}
			}
		}
	}
	if len(addrs) == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("%s: no addresses", host)
		}
		return nil, features.NetworkError("dns", lastErr)
	}
	return addrs, nil
}

// Package whois queries domain registries over the WHOIS protocol (RFC 3912).
package whois

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"time"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"

	"github.com/phishlens/phishlens/internal/features"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultIANA      = "whois.iana.org"
	defaultPort      = "43"
	maxResponseBytes = 64 << 10
)

var defaultServers = map[string]string{
	"com": "whois.verisign-grs.com", "net": "whois.verisign-grs.com",
	"org": "whois.pir.org", "io": "whois.nic.io",
	"dev": "whois.nic.google", "app": "whois.nic.google",
	"co": "whois.nic.co", "me": "whois.nic.me",
	"uk": "whois.nic.uk", "us": "whois.nic.us",
	"ca": "whois.cira.ca", "au": "whois.auda.org.au",
	"de": "whois.denic.de", "fr": "whois.nic.fr",
	"nl": "whois.sidn.nl", "eu": "whois.eu",
	"it": "whois.nic.it", "ch": "whois.nic.ch",
	"se": "whois.iis.se", "pl": "whois.dns.pl",
	"xyz": "whois.nic.xyz", "tech": "whois.nic.tech",
	"site": "whois.nic.site", "store": "whois.nic.store",
	"info": "whois.afilias.net", "biz": "whois.nic.biz",
	"top": "whois.nic.top", "online": "whois.nic.online",
}

var restrictedIndicators = []string{
	"not authorised", "not authorized", "access denied",
	"authorization required", "exceeded the established limit",
	"access restricted", "query rate limit exceeded", "too many queries",
}

// ErrNoServer is returned when no WHOIS server is known for a TLD.
var ErrNoServer = errors.New("no whois server for tld")

// DialFunc opens a connection to a WHOIS server.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Config configures the client.
type Config struct {
	Timeout time.Duration
	// Servers maps a TLD to a WHOIS server ("host" or "host:port"). Entries
	// override the built-in table.
	Servers map[string]string
	// IANAServer resolves servers for TLDs missing from the table. Empty
	// uses whois.iana.org; "-" disables the fallback.
	IANAServer string
	// FollowReferral queries the registrar server named by a thin registry.
	FollowReferral bool
	Dial           DialFunc
	Logger         *slog.Logger
}

// Client performs WHOIS lookups. It is safe for concurrent use.
type Client struct {
	timeout        time.Duration
	servers        map[string]string
	iana           string
	followReferral bool
	dial           DialFunc
	logger         *slog.Logger
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.IANAServer == "" {
		cfg.IANAServer = defaultIANA
	}
	if cfg.IANAServer == "-" {
		cfg.IANAServer = ""
	}
	if cfg.Dial == nil {
		d := &net.Dialer{}
		cfg.Dial = d.DialContext
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	servers := make(map[string]string, len(defaultServers)+len(cfg.Servers))
	for k, v := range defaultServers {
		servers[k] = v
	}
	for k, v := range cfg.Servers {
		servers[strings.ToLower(strings.TrimPrefix(k, "."))] = v
	}
	return &Client{
		timeout:        cfg.Timeout,
		servers:        servers,
		iana:           cfg.IANAServer,
		followReferral: cfg.FollowReferral,
		dial:           cfg.Dial,
		logger:         cfg.Logger,
	}
}

// Lookup returns the registry record for the registrable domain of host.
// A reachable registry that has no data for the domain yields an empty
// record and no error.
func (c *Client) Lookup(ctx context.Context, host string) (Record, error) {
	domain, err := RegistrableDomain(host)
	if err != nil {
		return Record{}, features.ParseError("whois", err)
	}
	tld := domain[strings.LastIndex(domain, ".")+1:]

	server, err := c.serverFor(ctx, tld)
	if err != nil {
		return Record{}, err
	}

	c.logger.Debug("whois lookup", "domain", domain, "server", server)
	raw, err := c.query(ctx, server, domain)
	if err != nil {
		return Record{}, features.NetworkError("whois", err)
	}
	if isRestricted(raw) {
		return Record{}, features.NetworkError("whois", fmt.Errorf("%s refused query for %s", server, domain))
	}

	rec := Parse(raw)
	rec.Domain = domain
	rec.Server = server

	if c.followReferral && rec.Referral != "" && !sameServer(rec.Referral, server) && rec.Registrant == "" {
		if more, err := c.query(ctx, rec.Referral, domain); err == nil && !isRestricted(more) {
			rec = rec.Merge(Parse(more))
		} else if err != nil {
			c.logger.Debug("whois referral failed", "domain", domain, "server", rec.Referral, "error", err)
		}
	}
	return rec, nil
}

// RegistrableDomain normalizes host to ASCII and reduces it to its public
// suffix plus one label.
func RegistrableDomain(host string) (string, error) {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" {
		return "", errors.New("empty host")
	}
	if _, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		return "", fmt.Errorf("%s is an ip address", host)
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("normalize %q: %w", host, err)
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(ascii)
	if err != nil {
		return "", fmt.Errorf("registrable domain of %q: %w", ascii, err)
	}
	return domain, nil
}

func (c *Client) serverFor(ctx context.Context, tld string) (string, error) {
	if s, ok := c.servers[tld]; ok {
		return s, nil
	}
	if c.iana == "" {
		return "", features.ConfigError("whois", fmt.Errorf("%w %q", ErrNoServer, tld))
	}
	raw, err := c.query(ctx, c.iana, tld)
	if err != nil {
		return "", features.NetworkError("whois", fmt.Errorf("iana referral for %q: %w", tld, err))
	}
	if m := ianaReferRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1]), nil
	}
	return "", features.ConfigError("whois", fmt.Errorf("%w %q", ErrNoServer, tld))
}

// query sends one request line and reads the full response.
func (c *Client) query(ctx context.Context, server, q string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	addr := serverAddr(server)
	conn, err := c.dial(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := conn.Write([]byte(q + "\r\n")); err != nil {
		return "", fmt.Errorf("write %s: %w", addr, err)
	}
	body, err := io.ReadAll(io.LimitReader(conn, maxResponseBytes))
	if err != nil && len(body) == 0 {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("read %s: %w", addr, err)
	}
	if strings.TrimSpace(string(body)) == "" {
		return "", fmt.Errorf("empty response from %s", addr)
	}
	return string(body), nil
}

func isRestricted(raw string) bool {
	lower := strings.ToLower(raw)
	for _, s := range restrictedIndicators {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func serverAddr(server string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	return net.JoinHostPort(server, defaultPort)
}

func sameServer(a, b string) bool {
	return strings.EqualFold(serverAddr(a), serverAddr(b))
}

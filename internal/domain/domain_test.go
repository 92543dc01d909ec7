package domain

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phishlens/phishlens/internal/content"
	"github.com/phishlens/phishlens/internal/features"
	"github.com/phishlens/phishlens/internal/whois"
)

const (
	slotInfoEmail = iota
	slotAbnormalURL
	slotForwarding
	slotRegLen
	slotAge
	slotDNSRecording
)

type fakeResolver struct {
	addrs []netip.Addr
	err   error
	calls atomic.Int32
}

func (f *fakeResolver) LookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	f.calls.Add(1)
	return f.addrs, f.err
}

type fakeRegistry struct {
	mu    sync.Mutex
	rec   whois.Record
	err   error
	delay time.Duration
	calls int
}

func (f *fakeRegistry) Lookup(ctx context.Context, host string) (whois.Record, error) {
	f.mu.Lock()
	f.calls++
	rec, err, delay := f.rec, f.err, f.delay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return whois.Record{}, ctx.Err()
		}
	}
	return rec, err
}

func (f *fakeRegistry) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var testNow = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func newTestAnalyzer(t *testing.T, res Resolver, reg Registry) *Analyzer {
	t.Helper()
	a, err := New(Config{Resolver: res, Registry: reg, Now: func() time.Time { return testNow }})
	require.NoError(t, err)
	return a
}

func matureRecord() whois.Record {
	return whois.Record{
		DomainName: "example.com",
		CreatedAt:  testNow.AddDate(-10, 0, 0),
		ExpiresAt:  testNow.AddDate(2, 0, 0),
	}
}

func TestAnalyzeMatureDomain(t *testing.T) {
	res := &fakeResolver{addrs: []netip.Addr{netip.MustParseAddr("93.184.216.34")}}
	a := newTestAnalyzer(t, res, &fakeRegistry{rec: matureRecord()})

	sig := a.Analyze(context.Background(), "https://example.com/", "example.com", &content.Page{})
	require.Len(t, sig, features.DomainSlots)
	assert.Zero(t, sig.Errors())
	got := sig.Indicators()
	assert.Equal(t, features.Benign, got[slotInfoEmail])
	assert.Equal(t, features.Suspicious, got[slotAbnormalURL])
	assert.Equal(t, features.Benign, got[slotForwarding])
	assert.Equal(t, features.Benign, got[slotRegLen])
	assert.Equal(t, features.Benign, got[slotAge])
	assert.Equal(t, features.Benign, got[slotDNSRecording])
}

func TestAnalyzeNetworkGroup(t *testing.T) {
	res := &fakeResolver{addrs: []netip.Addr{netip.MustParseAddr("10.1.2.3")}}
	a := newTestAnalyzer(t, res, &fakeRegistry{rec: matureRecord()})

	got := a.Analyze(context.Background(), "http://10.1.2.3/mail?to=victim@example.com", "10.1.2.3",
		&content.Page{RedirectHops: 3}).Indicators()
	assert.Equal(t, features.Suspicious, got[slotInfoEmail])
	assert.Equal(t, features.Benign, got[slotAbnormalURL])
	assert.Equal(t, features.Suspicious, got[slotForwarding])

	got = a.Analyze(context.Background(), "http://example.com/", "example.com",
		&content.Page{RedirectHops: MaxRedirectHops}).Indicators()
	assert.Equal(t, features.Benign, got[slotForwarding])
}

func TestAnalyzeNoPageFallsBack(t *testing.T) {
	res := &fakeResolver{addrs: []netip.Addr{netip.MustParseAddr("10.1.2.3")}}
	a := newTestAnalyzer(t, res, &fakeRegistry{rec: matureRecord()})

	sig := a.Analyze(context.Background(), "http://a@b.example.com/", "b.example.com", nil)
	for _, slot := range []int{slotInfoEmail, slotAbnormalURL, slotForwarding} {
		assert.Error(t, sig[slot].Err)
		assert.Equal(t, features.Benign, sig[slot].Indicator())
	}
	assert.Zero(t, res.calls.Load())
	assert.NoError(t, sig[slotRegLen].Err)
}

func TestAnalyzeDNSFailureFallsBack(t *testing.T) {
	res := &fakeResolver{err: features.NetworkError("dns", errors.New("nxdomain"))}
	a := newTestAnalyzer(t, res, &fakeRegistry{rec: matureRecord()})

	sig := a.Analyze(context.Background(), "http://a@b.example.com/", "b.example.com", &content.Page{RedirectHops: 5})
	for _, slot := range []int{slotInfoEmail, slotAbnormalURL, slotForwarding} {
		assert.Equal(t, features.KindNetwork, features.KindOf(sig[slot].Err))
		assert.Equal(t, features.Benign, sig[slot].Indicator())
	}
}

func TestRegistryYoungDomain(t *testing.T) {
	reg := &fakeRegistry{rec: whois.Record{
		DomainName: "fresh.com",
		CreatedAt:  testNow.AddDate(0, 0, -30),
		ExpiresAt:  testNow.AddDate(0, 0, 300),
	}}
	a := newTestAnalyzer(t, &fakeResolver{}, reg)

	got := a.Analyze(context.Background(), "http://fresh.com", "fresh.com", nil).Indicators()
	assert.Equal(t, features.Suspicious, got[slotRegLen])
	assert.Equal(t, features.Suspicious, got[slotAge])
	assert.Equal(t, features.Benign, got[slotDNSRecording])
}

func TestRegistryThresholds(t *testing.T) {
	tests := []struct {
		name         string
		ageDays      int
		validityDays int
		wantRegLen   features.Indicator
		wantAge      features.Indicator
	}{
		{"validity 365 age 180", 180, 365, features.Benign, features.Benign},
		{"validity 364 age 179", 179, 364, features.Suspicious, features.Suspicious},
		{"validity 366 age 181", 181, 366, features.Benign, features.Benign},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			created := testNow.AddDate(0, 0, -tt.ageDays)
			reg := &fakeRegistry{rec: whois.Record{
				DomainName: "edge.com",
				CreatedAt:  created,
				ExpiresAt:  created.AddDate(0, 0, tt.validityDays),
			}}
			a := newTestAnalyzer(t, &fakeResolver{}, reg)

			got := a.Analyze(context.Background(), "http://edge.com", "edge.com", nil).Indicators()
			assert.Equal(t, tt.wantRegLen, got[slotRegLen], "DomainRegLen")
			assert.Equal(t, tt.wantAge, got[slotAge], "AgeOfDomain")
		})
	}
}

func TestRegistryEmptyRecordIsSignal(t *testing.T) {
	a := newTestAnalyzer(t, &fakeResolver{}, &fakeRegistry{})

	sig := a.Analyze(context.Background(), "http://ghost.com", "ghost.com", nil)
	assert.NoError(t, sig[slotDNSRecording].Err)
	got := sig.Indicators()
	assert.Equal(t, features.Suspicious, got[slotRegLen])
	assert.Equal(t, features.Suspicious, got[slotAge])
	assert.Equal(t, features.Suspicious, got[slotDNSRecording])
}

func TestRegistryFailureIsCached(t *testing.T) {
	reg := &fakeRegistry{err: features.NetworkError("whois", errors.New("connection refused"))}
	a := newTestAnalyzer(t, &fakeResolver{}, reg)

	for i := 0; i < 3; i++ {
		sig := a.Analyze(context.Background(), "http://down.com", "down.com", nil)
		for _, slot := range []int{slotRegLen, slotAge, slotDNSRecording} {
			assert.Error(t, sig[slot].Err)
			assert.Equal(t, features.Benign, sig[slot].Indicator())
		}
	}
	assert.Equal(t, 1, reg.count())
}

func TestRegistryCacheHitSkipsLookup(t *testing.T) {
	reg := &fakeRegistry{rec: matureRecord()}
	a := newTestAnalyzer(t, &fakeResolver{}, reg)

	first := a.Analyze(context.Background(), "http://example.com", "Example.com", nil).Indicators()
	second := a.Analyze(context.Background(), "http://example.com/x", "example.com", nil).Indicators()
	assert.Equal(t, first[slotRegLen:], second[slotRegLen:])
	assert.Equal(t, 1, reg.count())
	assert.Equal(t, int64(1), a.Cache().Stats().Hits)
}

func TestRegistryCallerCancelDoesNotPoisonCache(t *testing.T) {
	reg := &fakeRegistry{rec: matureRecord(), delay: 100 * time.Millisecond}
	a := newTestAnalyzer(t, &fakeResolver{}, reg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	sig := a.Analyze(ctx, "http://example.com", "example.com", nil)
	assert.Equal(t, features.KindNetwork, features.KindOf(sig[slotAge].Err))

	require.Eventually(t, func() bool { return a.Cache().Len() == 1 }, time.Second, 10*time.Millisecond)
	sig = a.Analyze(context.Background(), "http://example.com", "example.com", nil)
	assert.NoError(t, sig[slotAge].Err)
	assert.Equal(t, 1, reg.count())
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{Registry: &fakeRegistry{}})
	require.Error(t, err)
	assert.Equal(t, features.KindConfiguration, features.KindOf(err))
}

// startDNS runs a miekg/dns server answering A queries from records.
func startDNS(t *testing.T, records map[string]string) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		q := req.Question[0]
		ip, ok := records[q.Name]
		switch {
		case !ok:
			m.Rcode = dns.RcodeNameError
		case q.Qtype == dns.TypeA:
			m.Answer = append(m.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
				A:   net.ParseIP(ip),
			})
		}
		_ = w.WriteMsg(m)
	})
	srv := &dns.Server{PacketConn: pc, Handler: handler}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestDNSResolverQueriesNameserver(t *testing.T) {
	addr := startDNS(t, map[string]string{"phish.test.": "203.0.113.7"})
	r := NewDNSResolver(DNSResolverConfig{Nameserver: addr, Timeout: time.Second})

	got, err := r.LookupHost(context.Background(), "phish.test")
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("203.0.113.7")}, got)

	_, err = r.LookupHost(context.Background(), "missing.test")
	require.Error(t, err)
	assert.Equal(t, features.KindNetwork, features.KindOf(err))
}

func TestDNSResolverLiteral(t *testing.T) {
	r := NewDNSResolver(DNSResolverConfig{Nameserver: "127.0.0.1:1"})
	got, err := r.LookupHost(context.Background(), "[::1]")
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("::1")}, got)

	_, err = r.LookupHost(context.Background(), " ")
	assert.Equal(t, features.KindParse, features.KindOf(err))
}

// Package lexical derives features from the structure of a URL string alone.
package lexical

import (
	"fmt"
	"net/netip"
	"strings"
	"unicode/utf8"

	"github.com/gobwas/glob"

	"github.com/phishlens/phishlens/internal/features"
)

const (
	// LongURLThreshold is the length in characters at which a URL counts as long.
	LongURLThreshold = 75
	// MaxLabels is the number of dot-separated host labels above which the
	// host counts as having too many subdomains.
	MaxLabels = 3
)

// DefaultShortenerPatterns match the URL shortening services the classifier
// was trained against.
var DefaultShortenerPatterns = []string{
	"*bit.ly*",
	"*goo.gl*",
	"*tinyurl*",
	"*shorturl*",
}

// Config configures the analyzer.
type Config struct {
	// ShortenerPatterns are glob patterns matched against the whole URL.
	// Empty means DefaultShortenerPatterns.
	ShortenerPatterns []string
}

// Analyzer computes the lexical slots. It holds only compiled patterns and
// is safe for concurrent use.
type Analyzer struct {
	shorteners []glob.Glob
}

// New compiles the configured patterns.
func New(cfg Config) (*Analyzer, error) {
	patterns := cfg.ShortenerPatterns
	if len(patterns) == 0 {
		patterns = DefaultShortenerPatterns
	}
	a := &Analyzer{}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile shortener pattern %q: %w", p, err)
		}
		a.shorteners = append(a.shorteners, g)
	}
	return a, nil
}

// Analyze returns exactly features.LexicalSlots results. It performs no I/O
// and never fails.
func (a *Analyzer) Analyze(p Parts) features.Signals {
	raw := p.Raw
	host := p.Host
	port, hasPort := p.PortNumber()

	return features.Signals{
		features.OK(features.Flag(isIPv4(host))),
		features.OK(features.Flag(utf8.RuneCountInString(raw) >= LongURLThreshold)),
		features.OK(features.Flag(a.isShortened(raw))),
		features.OK(features.Flag(strings.Contains(raw, "@"))),
		features.OK(features.Flag(strings.Contains(p.Path, "//"))),
		features.OK(features.Flag(strings.Contains(host, "-"))),
		features.OK(features.Flag(host != "" && len(strings.Split(host, ".")) > MaxLabels)),
		features.OK(features.Flag(p.Scheme != "https")),
		features.OK(features.Flag(strings.Contains(raw, "favicon."))),
		features.OK(features.Flag(hasPort && port != 80 && port != 443)),
		features.OK(features.Flag(strings.Contains(host, "https") && p.Scheme != "https")),
	}
}

// AnalyzeURL parses raw and analyzes it.
func (a *Analyzer) AnalyzeURL(raw string) features.Signals {
	return a.Analyze(Parse(raw))
}

func (a *Analyzer) isShortened(raw string) bool {
	for _, g := range a.shorteners {
		if g.Match(raw) {
			return true
		}
	}
	return false
}

func isIPv4(host string) bool {
	addr, err := netip.ParseAddr(host)
	return err == nil && addr.Is4()
}

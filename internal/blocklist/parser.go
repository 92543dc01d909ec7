package blocklist

import (
	"bufio"
	"io"
	"net/url"
	"strings"
)

// Parser extracts hosts or URLs from a feed format.
type Parser interface {
	Parse(r io.Reader) ([]string, error)
}

// HostfileParser parses hosts-file format: "127.0.0.1 domain" or "0.0.0.0 domain".
type HostfileParser struct{}

func (p *HostfileParser) Parse(r io.Reader) ([]string, error) {
	return scanLines(r, func(line string) string {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return ""
		}
		return hostfileDomain(fields[1])
	})
}

// DomainListParser parses one-domain-per-line format.
type DomainListParser struct{}

func (p *DomainListParser) Parse(r io.Reader) ([]string, error) {
	return scanLines(r, normalizeHost)
}

// URLListParser parses one-URL-per-line feeds such as OpenPhish.
type URLListParser struct{}

func (p *URLListParser) Parse(r io.Reader) ([]string, error) {
	return scanLines(r, func(line string) string {
		key, _, ok := NormalizeURL(line)
		if !ok {
			return ""
		}
		return key
	})
}

// AutoParser accepts a mix of URLs, hostfile lines, and bare domains.
type AutoParser struct{}

func (p *AutoParser) Parse(r io.Reader) ([]string, error) {
	return scanLines(r, func(line string) string {
		if strings.Contains(line, "://") {
			key, _, ok := NormalizeURL(line)
			if !ok {
				return ""
			}
			return key
		}
		if fields := strings.Fields(line); len(fields) >= 2 {
			return hostfileDomain(fields[1])
		}
		return normalizeHost(line)
	})
}

// ParserForFormat returns the appropriate parser for a feed format string.
func ParserForFormat(format string) Parser {
	switch strings.ToLower(format) {
	case "hostfile":
		return &HostfileParser{}
	case "domain-list":
		return &DomainListParser{}
	case "url-list":
		return &URLListParser{}
	default:
		return &AutoParser{}
	}
}

// NormalizeURL returns the lookup key for rawURL and its host. The key keeps
// scheme, host, path and query; the fragment and a trailing slash are dropped.
func NormalizeURL(rawURL string) (key, host string, ok bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	host = normalizeHost(u.Hostname())
	if host == "" {
		return "", "", false
	}
	key = strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + strings.TrimRight(u.EscapedPath(), "/")
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key, host, true
}

// scanLines applies extract to each non-comment line and deduplicates the
// non-empty results, preserving order.
func scanLines(r io.Reader, extract func(string) string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if idx := strings.Index(line, " #"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		item := extract(line)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out, scanner.Err()
}

func hostfileDomain(field string) string {
	domain := normalizeHost(field)
	switch domain {
	case "localhost", "localhost.localdomain", "broadcasthost", "local":
		return ""
	}
	return domain
}

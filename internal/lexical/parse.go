package lexical

import (
	"net/url"
	"strconv"
	"strings"
)

// Parts is a tolerant decomposition of a URL string. Every field may be empty.
type Parts struct {
	Raw    string
	Scheme string
	Host   string
	Port   string
	Path   string
}

// PortNumber returns the explicit port and whether one was present and numeric.
func (p Parts) PortNumber() (int, bool) {
	if p.Port == "" {
		return 0, false
	}
	n, err := strconv.Atoi(p.Port)
	if err != nil || n < 0 || n > 65535 {
		return 0, false
	}
	return n, true
}

// Parse splits raw into its parts. It never fails: input that net/url rejects
// is split by hand so that malformed URLs still yield a best-effort host.
func Parse(raw string) Parts {
	p := Parts{Raw: raw}
	if u, err := url.Parse(strings.TrimSpace(raw)); err == nil {
		p.Scheme = strings.ToLower(u.Scheme)
		p.Host = strings.ToLower(u.Hostname())
		p.Port = u.Port()
		p.Path = u.EscapedPath()
		if u.Opaque != "" {
			p.Path = u.Opaque
		}
		return p
	}
	return parseLoose(p)
}

func parseLoose(p Parts) Parts {
	rest := strings.TrimSpace(p.Raw)
	if i := strings.Index(rest, "://"); i > 0 {
		p.Scheme = strings.ToLower(rest[:i])
		rest = rest[i+3:]
	} else {
		return p
	}

	authority := rest
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		authority = rest[:i]
		if rest[i] == '/' {
			p.Path = rest[i:]
			if j := strings.IndexAny(p.Path, "?#"); j >= 0 {
				p.Path = p.Path[:j]
			}
		}
	}
	if i := strings.LastIndex(authority, "@"); i >= 0 {
		authority = authority[i+1:]
	}
	host := authority
	if strings.HasPrefix(host, "[") {
		if end := strings.Index(host, "]"); end > 0 {
			if strings.HasPrefix(host[end+1:], ":") {
				p.Port = host[end+2:]
			}
			host = host[1:end]
		}
	} else if i := strings.LastIndex(host, ":"); i >= 0 {
		p.Port = host[i+1:]
		host = host[:i]
	}
	p.Host = strings.ToLower(host)
	return p
}

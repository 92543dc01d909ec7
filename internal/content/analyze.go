package content

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/phishlens/phishlens/internal/features"
)

// ScriptIframeLimit is the combined <script>/<iframe> count above which a
// page is flagged.
const ScriptIframeLimit = 10

var (
	rightClickRe = regexp.MustCompile(`event\.button\s*==\s*2|contextmenu`)
	statusBarRe  = regexp.MustCompile(`window\.status`)
	popupRe      = regexp.MustCompile(`window\.open`)
)

// Analyze computes the features.ContentSlots content slots for page. Ratios
// flag only when strictly more than half of the counted elements qualify.
func Analyze(page *Page, host string) features.Signals {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return features.FailedSignals(features.ContentSlots, features.ParseError("content", err))
	}
	host = strings.ToLower(host)
	body := page.Body

	return features.Signals{
		features.OK(features.Flag(foreignResourceRatio(doc, host) > 0.5)),
		features.OK(features.Flag(suspiciousAnchorRatio(doc) > 0.5)),
		features.OK(features.Flag(doc.Find("script").Length()+doc.Find("iframe").Length() > ScriptIframeLimit)),
		features.OK(features.Flag(hasExternalFormHandler(doc, host))),
		features.OK(features.Flag(statusBarRe.Match(body))),
		features.OK(features.Flag(rightClickRe.Match(body))),
		features.OK(features.Flag(popupRe.Match(body))),
		features.OK(features.Flag(doc.Find("iframe").Length() > 0)),
	}
}

// foreignResourceRatio is the share of absolute media/script sources that
// point away from host. It is zero when there are no absolute sources.
func foreignResourceRatio(doc *goquery.Document, host string) float64 {
	total, foreign := 0, 0
	doc.Find("img[src], audio[src], video[src], script[src]").Each(func(_ int, s *goquery.Selection) {
		src := strings.TrimSpace(s.AttrOr("src", ""))
		if !isAbsolute(src) {
			return
		}
		total++
		if !sameSite(src, host) {
			foreign++
		}
	})
	if total == 0 {
		return 0
	}
	return float64(foreign) / float64(total)
}

// suspiciousAnchorRatio is the share of anchors that go nowhere: fragment-only
// targets and script pseudo-URLs.
func suspiciousAnchorRatio(doc *goquery.Document) float64 {
	anchors := doc.Find("a")
	if anchors.Length() == 0 {
		return 0
	}
	bad := 0
	anchors.Each(func(_ int, s *goquery.Selection) {
		href := strings.ToLower(strings.TrimSpace(s.AttrOr("href", "")))
		if strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			bad++
		}
	})
	return float64(bad) / float64(anchors.Length())
}

func hasExternalFormHandler(doc *goquery.Document, host string) bool {
	found := false
	doc.Find("form").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		action := strings.ToLower(strings.TrimSpace(s.AttrOr("action", "")))
		if strings.HasPrefix(action, "mailto:") || (isAbsolute(action) && !sameSite(action, host)) {
			found = true
		}
		return !found
	})
	return found
}

func isAbsolute(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "//")
}

// sameSite reports whether ref points at host or one of its subdomains.
// Unparseable references fall back to a substring test.
func sameSite(ref, host string) bool {
	if host == "" {
		return false
	}
	u, err := url.Parse(ref)
	if err != nil || u.Host == "" {
		return strings.Contains(strings.ToLower(ref), host)
	}
	h := strings.ToLower(u.Hostname())
	return h == host || strings.HasSuffix(h, "."+host)
}

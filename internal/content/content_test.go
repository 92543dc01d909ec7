package content

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phishlens/phishlens/internal/features"
)

const (
	slotRequestURL = iota
	slotAnchorURL
	slotScriptTags
	slotFormHandler
	slotStatusBar
	slotRightClick
	slotPopup
	slotIframe
)

func pageOf(html string) *Page {
	return &Page{Body: []byte(html)}
}

func TestAnalyzeBenignPage(t *testing.T) {
	html := `<html><head><script src="https://example.com/app.js"></script></head>
<body><a href="/about">About</a><a href="https://example.com/x">X</a>
<img src="/logo.png"><form action="/login"></form></body></html>`

	sig := Analyze(pageOf(html), "example.com")
	require.Len(t, sig, features.ContentSlots)
	assert.Zero(t, sig.Errors())
	for i, v := range sig.Indicators() {
		assert.Equal(t, features.Benign, v, "slot %d", i)
	}
}

func TestAnalyzeSuspiciousPage(t *testing.T) {
	var scripts strings.Builder
	for i := 0; i < 10; i++ {
		scripts.WriteString(`<script>var x = 1;</script>`)
	}
	html := `<html><body>` + scripts.String() + `
<img src="https://cdn.evil.net/a.png"><img src="https://cdn.evil.net/b.png"><img src="https://www.example.com/c.png">
<a href="#">1</a><a href="javascript:void(0)">2</a><a href="/ok">3</a>
<form action="mailto:collect@evil.net"></form>
<iframe src="https://evil.net/frame"></iframe>
<script>window.status = "ok"; document.addEventListener("contextmenu", f); window.open("https://evil.net");</script>
</body></html>`

	got := Analyze(pageOf(html), "example.com").Indicators()
	for i, v := range got {
		assert.Equal(t, features.Suspicious, v, "slot %d", i)
	}
}

func TestAnalyzeHalfIsBenign(t *testing.T) {
	html := `<img src="https://evil.net/a.png"><img src="https://example.com/b.png">
<a href="#">1</a><a href="/ok">2</a>`

	got := Analyze(pageOf(html), "example.com").Indicators()
	assert.Equal(t, features.Benign, got[slotRequestURL])
	assert.Equal(t, features.Benign, got[slotAnchorURL])
}

func TestAnalyzeExternalFormAction(t *testing.T) {
	got := Analyze(pageOf(`<form action="https://collector.evil.net/post"></form>`), "example.com").Indicators()
	assert.Equal(t, features.Suspicious, got[slotFormHandler])

	got = Analyze(pageOf(`<form action="https://login.example.com/post"></form>`), "example.com").Indicators()
	assert.Equal(t, features.Benign, got[slotFormHandler])
}

func TestAnalyzeRightClickVariants(t *testing.T) {
	got := Analyze(pageOf(`<script>if (event.button == 2) { return false; }</script>`), "example.com").Indicators()
	assert.Equal(t, features.Suspicious, got[slotRightClick])
	assert.Equal(t, features.Benign, got[slotPopup])
	assert.Equal(t, features.Benign, got[slotStatusBar])
	assert.Equal(t, features.Benign, got[slotIframe])
	assert.Equal(t, features.Benign, got[slotScriptTags])
}

func TestFetchFollowsRedirectsAndCountsHops(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/1":
			http.Redirect(w, r, srv.URL+"/2", http.StatusFound)
		case "/2":
			http.Redirect(w, r, srv.URL+"/3", http.StatusFound)
		case "/3":
			http.Redirect(w, r, srv.URL+"/final", http.StatusMovedPermanently)
		default:
			assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
			fmt.Fprint(w, `<html><body><iframe></iframe></body></html>`)
		}
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "test-agent"})
	page, err := f.Fetch(context.Background(), srv.URL+"/1")
	require.NoError(t, err)
	assert.Equal(t, 3, page.RedirectHops)
	assert.Equal(t, srv.URL+"/final", page.FinalURL)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Contains(t, string(page.Body), "<iframe>")
}

func TestFetchRedirectLimit(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+r.URL.Path+"x", http.StatusFound)
	}))
	defer srv.Close()

	f := New(Config{MaxRedirects: 3})
	_, err := f.Fetch(context.Background(), srv.URL+"/")
	require.Error(t, err)
	assert.Equal(t, features.KindNetwork, features.KindOf(err))
}

func TestCollectTimeoutYieldsFallback(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := New(Config{Timeout: 50 * time.Millisecond})
	start := time.Now()
	sig, page := f.Collect(context.Background(), srv.URL, "127.0.0.1")
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Nil(t, page)
	require.Len(t, sig, features.ContentSlots)
	assert.Equal(t, features.ContentSlots, sig.Errors())
	for _, v := range sig.Indicators() {
		assert.Equal(t, features.Benign, v)
	}
}

func TestCollectMalformedURL(t *testing.T) {
	f := New(Config{})
	sig, page := f.Collect(context.Background(), "http://[::1", "")
	assert.Nil(t, page)
	assert.Equal(t, features.ContentSlots, sig.Errors())
	assert.Equal(t, features.KindParse, features.KindOf(sig[0].Err))
}

func TestFetchBodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("a", 4096))
	}))
	defer srv.Close()

	f := New(Config{MaxBodyBytes: 100})
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, page.Body, 100)
	assert.Zero(t, page.RedirectHops)
}

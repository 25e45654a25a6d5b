package crawl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func site(t *testing.T, hrefs ...string) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		var b strings.Builder
		b.WriteString("<html><body>")
		for _, h := range hrefs {
			fmt.Fprintf(&b, `<a href="%s">link</a>`, h)
		}
		b.WriteString("</body></html>")
		_, _ = io.WriteString(w, b.String())
	}))
	t.Cleanup(srv.Close)
	return srv, strings.TrimPrefix(srv.URL, "http://")
}

func quiet() *log.Logger {
	return log.New(io.Discard)
}

func TestLinksFallsBackToHTTP(t *testing.T) {
	_, domain := site(t,
		"/login",
		"/account#top",
		"/login",
		"mailto:someone@example.com",
		"javascript:void(0)",
		"http://elsewhere.test/page",
		"about",
	)

	c := New(WithDelay(0), WithLogger(quiet()), WithMaxLinksPerDomain(10))
	links, err := c.Links(context.Background(), domain)
	require.NoError(t, err)

	base := "http://" + domain
	assert.Equal(t, []string{base + "/login", base + "/account", base + "/about"}, links)
}

func TestLinksPerDomainCap(t *testing.T) {
	_, domain := site(t, "/a", "/b", "/c", "/d")

	c := New(WithDelay(0), WithLogger(quiet()), WithMaxLinksPerDomain(2))
	links, err := c.Links(context.Background(), domain)
	require.NoError(t, err)
	assert.Len(t, links, 2)
}

func TestLinksNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `<a href="/x">x</a>`)
	}))
	defer srv.Close()

	c := New(WithDelay(0), WithLogger(quiet()))
	links, err := c.Links(context.Background(), strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestCrawlStopsAtMaxURLs(t *testing.T) {
	_, d1 := site(t, "/1", "/2", "/3")
	_, d2 := site(t, "/4", "/5", "/6")
	_, d3 := site(t, "/7")

	c := New(WithDelay(0), WithLogger(quiet()), WithMaxURLs(4), WithMaxLinksPerDomain(3))
	urls, err := c.Crawl(context.Background(), []string{d1, "127.0.0.1:1", d2, d3})
	require.NoError(t, err)

	require.Len(t, urls, 4)
	assert.Equal(t, "http://"+d1+"/1", urls[0])
	assert.Equal(t, "http://"+d2+"/4", urls[3])
}

func TestCrawlCancelled(t *testing.T) {
	_, domain := site(t, "/a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(WithDelay(0), WithLogger(quiet()))
	_, err := c.Crawl(ctx, []string{domain})
	assert.ErrorIs(t, err, context.Canceled)
}

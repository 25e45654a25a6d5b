// Package crawl collects benign URLs by following same-site links from the
// home pages of ranked domains.
package crawl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxURLs           = 5000
	DefaultMaxLinksPerDomain = 5
	DefaultDelay             = 300 * time.Millisecond
	DefaultTimeout           = 5 * time.Second

	maxBodyBytes = 5 << 20
)

// Crawler fetches one page per domain and keeps its internal links.
type Crawler struct {
	client            *http.Client
	limiter           *rate.Limiter
	maxURLs           int
	maxLinksPerDomain int
	logger            *log.Logger
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(cr *Crawler) {
		if c != nil {
			cr.client = c
		}
	}
}

// WithDelay sets the minimum spacing between domains. 0 disables pacing.
func WithDelay(d time.Duration) Option {
	return func(cr *Crawler) {
		if d <= 0 {
			cr.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		cr.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithMaxURLs caps the total number of collected URLs.
func WithMaxURLs(n int) Option {
	return func(cr *Crawler) {
		if n > 0 {
			cr.maxURLs = n
		}
	}
}

// WithMaxLinksPerDomain caps the links kept from a single domain.
func WithMaxLinksPerDomain(n int) Option {
	return func(cr *Crawler) {
		if n > 0 {
			cr.maxLinksPerDomain = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(cr *Crawler) {
		if l != nil {
			cr.logger = l
		}
	}
}

// New creates a crawler with the given options.
func New(opts ...Option) *Crawler {
	c := &Crawler{
		client:            &http.Client{Timeout: DefaultTimeout},
		limiter:           rate.NewLimiter(rate.Every(DefaultDelay), 1),
		maxURLs:           DefaultMaxURLs,
		maxLinksPerDomain: DefaultMaxLinksPerDomain,
		logger:            log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Crawl visits domains in order until MaxURLs links are collected. Failures
// on a single domain are logged and skipped; only cancellation is returned.
func (c *Crawler) Crawl(ctx context.Context, domains []string) ([]string, error) {
	var out []string

	for _, domain := range domains {
		if err := c.limiter.Wait(ctx); err != nil {
			return out, err
		}

		links, err := c.Links(ctx, domain)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			c.logger.Warn("crawl failed", "domain", domain, "err", err)
			continue
		}

		out = append(out, links...)
		c.logger.Debug("crawled", "domain", domain, "links", len(links), "total", len(out))

		if len(out) >= c.maxURLs {
			out = out[:c.maxURLs]
			break
		}
	}

	return out, nil
}

// Links fetches the home page of domain, trying https first and falling back
// to http, and returns up to MaxLinksPerDomain distinct internal links.
// A non-200 response yields no links and no error.
func (c *Crawler) Links(ctx context.Context, domain string) ([]string, error) {
	resp, err := c.get(ctx, "https://"+domain)
	if err != nil {
		resp, err = c.get(ctx, "http://"+domain)
		if err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("skipping", "domain", domain, "status", resp.StatusCode)
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", domain, err)
	}

	return c.extract(resp.Request.URL, domain, doc), nil
}

func (c *Crawler) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "phishguard-crawler/1.0")
	return c.client.Do(req)
}

func (c *Crawler) extract(base *url.URL, domain string, doc *goquery.Document) []string {
	seen := make(map[string]struct{})
	var links []string

	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		abs, err := base.Parse(strings.TrimSpace(href))
		if err != nil {
			return true
		}
		abs.Fragment = ""

		if abs.Scheme != "http" && abs.Scheme != "https" {
			return true
		}
		if !strings.Contains(abs.Host, domain) {
			return true
		}

		u := abs.String()
		if _, dup := seen[u]; dup {
			return true
		}
		seen[u] = struct{}{}
		links = append(links, u)

		return len(links) < c.maxLinksPerDomain
	})

	return links
}

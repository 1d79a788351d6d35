// Package direct implements the cheapest chain rung: a plain HTTP fetch
// through gocolly with a realistic browser header set. Fast, and the first
// thing the defenses learn to block.
package direct

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/paddockdata/racepipe/internal/fetcher"
	"github.com/paddockdata/racepipe/internal/scraper"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements scraper.Fetcher over a Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// Browser-shaped headers sent with every direct request. The site's edge
// rejects bare Go client fingerprints outright.
var defaultHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.9",
	"Accept-Encoding":           "gzip, deflate, br",
	"Upgrade-Insecure-Requests": "1",
	"Sec-Fetch-Dest":            "document",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-Site":            "none",
	"Cache-Control":             "max-age=0",
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true

	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single GET and classifies the raw body.
func (f *Fetcher) Fetch(ctx context.Context, target scraper.ResourceTarget) (scraper.FetchResult, error) {
	var (
		statusCode int
		body       []byte
		finalURL   string
		fetchErr   error
	)
	start := time.Now()

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(f.transport)

	collector.OnRequest(func(r *colly.Request) {
		for key, value := range defaultHeaders {
			r.Headers.Set(key, value)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		body = append([]byte(nil), r.Body...)
		finalURL = r.Request.URL.String()
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
			body = append([]byte(nil), r.Body...)
		}
		fetchErr = err
	})

	if err := f.visit(ctx, collector, target.URL); err != nil {
		return scraper.FetchResult{}, err
	}
	if fetchErr != nil && len(body) == 0 {
		return scraper.FetchResult{}, fmt.Errorf("direct fetch %s: %w", target.URL, fetchErr)
	}

	return classify(statusCode, body, finalURL, time.Since(start)), nil
}

func classify(statusCode int, body []byte, finalURL string, dur time.Duration) scraper.FetchResult {
	verdict := fetcher.Classify(statusCode, body)
	result := scraper.FetchResult{
		Body:     body,
		FinalURL: finalURL,
		Duration: dur,
	}
	switch {
	case verdict.Challenge:
		result.Status = scraper.StatusChallenge
	case verdict.Blocked:
		result.Status = scraper.StatusBlocked
	default:
		result.Status = scraper.StatusSuccess
		result.NoData = verdict.NoData
	}
	return result
}

func (f *Fetcher) visit(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("direct fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("direct visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

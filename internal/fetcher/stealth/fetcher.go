// Package stealth implements the second chain rung: a rendered fetch through
// the run's shared headless browser, presenting the warmed session's
// fingerprint and pacing navigation like a person would.
package stealth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/paddockdata/racepipe/internal/browser"
	"github.com/paddockdata/racepipe/internal/fetcher"
	"github.com/paddockdata/racepipe/internal/scraper"
)

// Fetcher implements scraper.Fetcher over the run's browsing session.
type Fetcher struct {
	session *browser.Session
}

// New builds a Fetcher bound to an already warmed session.
func New(session *browser.Session) *Fetcher {
	return &Fetcher{session: session}
}

// Fetch renders the target in a fresh tab of the shared browser and
// classifies the settled DOM.
func (f *Fetcher) Fetch(ctx context.Context, target scraper.ResourceTarget) (scraper.FetchResult, error) {
	tab, cancel := f.session.NewTab(ctx)
	defer cancel()

	meta := newDocumentMeta()
	chromedp.ListenTarget(tab, meta.captureEvent)

	start := time.Now()
	var (
		html     string
		finalURL string
	)
	tasks := chromedp.Tasks{
		f.session.SetupTasks(),
		chromedp.Navigate(target.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		f.session.Pause(1*time.Second, 3*time.Second),
		f.session.Scroll(3),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(tab, tasks); err != nil {
		return scraper.FetchResult{}, fmt.Errorf("stealth fetch %s: %w", target.URL, err)
	}

	status, metaURL := meta.snapshot()
	if metaURL != "" {
		finalURL = metaURL
	}
	return classify(status, []byte(html), finalURL, time.Since(start)), nil
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

// documentMeta records the main-document response seen during navigation.
type documentMeta struct {
	once   sync.Once
	status int
	url    string
	mu     sync.RWMutex
}

func newDocumentMeta() *documentMeta {
	return &documentMeta{}
}

func (m *documentMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.once.Do(func() {
		m.mu.Lock()
		m.status = int(resp.Response.Status)
		m.url = resp.Response.URL
		m.mu.Unlock()
	})
}

func (m *documentMeta) snapshot() (int, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.url
}

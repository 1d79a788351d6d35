// Package hardened implements the last chain rung: a cold, maximally
// configured browser launched per fetch. Expensive, but a fresh browser
// carries none of the reputation the session may have accumulated with the
// site's defenses.
package hardened

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/paddockdata/racepipe/internal/browser"
	"github.com/paddockdata/racepipe/internal/fetcher"
	"github.com/paddockdata/racepipe/internal/scraper"
)

// Config controls the per-fetch browser.
type Config struct {
	NavigationTimeout time.Duration
	Seed              int64
}

// Fetcher implements scraper.Fetcher with an isolated browser per call.
type Fetcher struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand
}

const stealthScript = `
Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
window.chrome = window.chrome || {runtime: {}};
Object.defineProperty(navigator, 'languages', {get: () => ['en-US', 'en']});
Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3, 4, 5]});
`

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 90 * time.Second
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Fetcher{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Fetch launches a throwaway browser with a fresh fingerprint, renders the
// target with generous settling time, and classifies the result.
func (f *Fetcher) Fetch(ctx context.Context, target scraper.ResourceTarget) (scraper.FetchResult, error) {
	f.mu.Lock()
	fp := browser.RandomFingerprint(f.rng)
	settle := browser.HumanDelay(f.rng, 2*time.Second, 5*time.Second)
	f.mu.Unlock()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.UserAgent(fp.UserAgent),
		chromedp.WindowSize(fp.Width, fp.Height),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	defer tabCancel()

	taskCtx, taskCancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer taskCancel()

	meta := newDocumentMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	var (
		html     string
		finalURL string
	)
	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(fp.UserAgent).WithAcceptLanguage(fp.Locale),
		emulation.SetDeviceMetricsOverride(int64(fp.Width), int64(fp.Height), 1, false),
		emulation.SetTimezoneOverride(fp.Timezone),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			if err != nil {
				return fmt.Errorf("install stealth script: %w", err)
			}
			return nil
		}),
		chromedp.Navigate(target.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settle),
		scrollPage(3),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return scraper.FetchResult{}, fmt.Errorf("hardened fetch %s: %w", target.URL, err)
	}

	status, metaURL := meta.snapshot()
	if metaURL != "" {
		finalURL = metaURL
	}
	return classify(status, []byte(html), finalURL, time.Since(start)), nil
}

func scrollPage(steps int) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for i := 0; i < steps; i++ {
			if err := chromedp.Evaluate(`window.scrollBy(0, window.innerHeight * 0.7)`, nil).Do(ctx); err != nil {
				return fmt.Errorf("scroll step: %w", err)
			}
			if err := chromedp.Sleep(500 * time.Millisecond).Do(ctx); err != nil {
				return err
			}
		}
		return nil
	})
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

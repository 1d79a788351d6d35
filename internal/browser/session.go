package browser

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
	"go.uber.org/zap"
)

// Config controls the shared browser session.
type Config struct {
	NavigationTimeout time.Duration
	Seed              int64
}

// Session is a long-lived headless browser shared by all rendered fetches in
// a run. Tabs are opened per fetch; the browser, its cookies, and its
// fingerprint persist so that clearance earned once holds for the whole run.
type Session struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	fp            Fingerprint
	navTimeout    time.Duration
	logger        *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// Script injected before any page script runs. Removes the signals headless
// Chrome leaks that interstitial fingerprinting keys on.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
window.chrome = window.chrome || {runtime: {}};
Object.defineProperty(navigator, 'languages', {get: () => ['en-US', 'en']});
Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3, 4, 5]});
`

// NewSession launches a headless browser with a freshly randomized
// fingerprint and verifies it started.
func NewSession(cfg Config, logger *zap.Logger) (*Session, error) {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	fp := RandomFingerprint(rng)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(fp.UserAgent),
		chromedp.WindowSize(fp.Width, fp.Height),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("browser startup: %w", err)
	}

	return &Session{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		fp:            fp,
		navTimeout:    cfg.NavigationTimeout,
		logger:        logger,
		rng:           rng,
	}, nil
}

// Fingerprint returns the identity this session presents.
func (s *Session) Fingerprint() Fingerprint {
	return s.fp
}

// NewTab opens a tab in the shared browser with the session's navigation
// timeout applied. Canceling the caller's context tears the tab down.
func (s *Session) NewTab(ctx context.Context) (context.Context, context.CancelFunc) {
	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	taskCtx, cancelTask := context.WithTimeout(tabCtx, s.navTimeout)
	stop := forwardCancel(ctx, cancelTask)

	return taskCtx, func() {
		stop()
		cancelTask()
		cancelTab()
	}
}

// SetupTasks returns the actions every tab runs before navigating: network
// capture, fingerprint overrides, and the stealth init script.
func (s *Session) SetupTasks() chromedp.Tasks {
	return chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(s.fp.UserAgent).
			WithAcceptLanguage(s.fp.Locale),
		emulation.SetDeviceMetricsOverride(int64(s.fp.Width), int64(s.fp.Height), 1, false),
		emulation.SetTimezoneOverride(s.fp.Timezone),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			if err != nil {
				return fmt.Errorf("install stealth script: %w", err)
			}
			return nil
		}),
	}
}

// Pause sleeps a randomized human-scale interval.
func (s *Session) Pause(min, max time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		s.mu.Lock()
		d := HumanDelay(s.rng, min, max)
		s.mu.Unlock()
		return chromedp.Sleep(d).Do(ctx)
	})
}

// Scroll walks the page downward in steps to fire lazy-loaded content.
func (s *Session) Scroll(steps int) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for i := 0; i < steps; i++ {
			if err := chromedp.Evaluate(`window.scrollBy(0, window.innerHeight * 0.7)`, nil).Do(ctx); err != nil {
				return fmt.Errorf("scroll step: %w", err)
			}
			if err := s.Pause(300*time.Millisecond, 900*time.Millisecond).Do(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close tears down the browser and its allocator.
func (s *Session) Close() {
	s.browserCancel()
	s.allocCancel()
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

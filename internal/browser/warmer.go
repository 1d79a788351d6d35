package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/paddockdata/racepipe/internal/fetcher"
	"github.com/paddockdata/racepipe/internal/scraper"
)

// PageClearer clears an anti-bot challenge on a live tab.
type PageClearer interface {
	ClearPage(ctx context.Context, pageURL string) (bool, error)
}

// Warmer establishes the session before any target fetch: one visit to the
// site root to collect first-party cookies, dismiss the consent banner, and
// clear the first-visit interstitial if one is served.
type Warmer struct {
	session *Session
	clearer PageClearer
	rootURL string
	logger  *zap.Logger
}

// NewWarmer builds a Warmer. clearer may be nil, in which case a challenged
// warmup fails outright.
func NewWarmer(session *Session, clearer PageClearer, rootURL string, logger *zap.Logger) *Warmer {
	return &Warmer{
		session: session,
		clearer: clearer,
		rootURL: rootURL,
		logger:  logger,
	}
}

// Warm performs the warmup visit. Any failure is reported as
// scraper.ErrSessionWarmup; the run must not proceed on a cold session.
func (w *Warmer) Warm(ctx context.Context) error {
	tab, cancel := w.session.NewTab(ctx)
	defer cancel()

	var html string
	tasks := chromedp.Tasks{
		w.session.SetupTasks(),
		chromedp.Navigate(w.rootURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		w.session.Pause(1*time.Second, 3*time.Second),
		acceptConsent(w.logger),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(tab, tasks); err != nil {
		w.logger.Warn("warmup navigation failed", zap.String("url", w.rootURL), zap.Error(err))
		return fmt.Errorf("warmup navigation: %w", scraper.ErrSessionWarmup)
	}

	verdict := fetcher.Classify(0, []byte(html))
	if !verdict.Challenge {
		w.logger.Info("session warmed", zap.String("url", w.rootURL))
		return nil
	}

	if w.clearer == nil {
		return fmt.Errorf("warmup challenged with no resolver: %w", scraper.ErrSessionWarmup)
	}
	cleared, err := w.clearer.ClearPage(tab, w.rootURL)
	if err != nil {
		w.logger.Warn("warmup challenge resolution failed", zap.Error(err))
		return fmt.Errorf("warmup challenge: %w", scraper.ErrSessionWarmup)
	}
	if !cleared {
		return fmt.Errorf("warmup challenge not cleared: %w", scraper.ErrSessionWarmup)
	}

	w.logger.Info("session warmed after challenge clearance", zap.String("url", w.rootURL))
	return nil
}

// acceptConsent clicks the OneTrust banner when present. Absence is not an
// error; returning visitors don't see the banner.
func acceptConsent(logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var clicked bool
		script := `(() => {
			const btn = document.querySelector('#onetrust-accept-btn-handler');
			if (btn) { btn.click(); return true; }
			return false;
		})()`
		if err := chromedp.Evaluate(script, &clicked).Do(ctx); err != nil {
			return fmt.Errorf("consent banner probe: %w", err)
		}
		if clicked {
			logger.Debug("consent banner accepted")
		}
		return nil
	})
}

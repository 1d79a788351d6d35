package challenge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/paddockdata/racepipe/internal/browser"
	"github.com/paddockdata/racepipe/internal/fetcher"
	"github.com/paddockdata/racepipe/internal/metrics"
	"github.com/paddockdata/racepipe/internal/scraper"
)

// Resolver clears challenges by solving the embedded captcha out of band and
// injecting the token into the interstitial. It operates on the run's shared
// browser session: clearance cookies earned here hold for every later fetch,
// whichever strategy triggered the challenge.
type Resolver struct {
	session *browser.Session
	solver  scraper.Solver
	logger  *zap.Logger
	solved  atomic.Int64
}

// Solved returns how many challenges this resolver has cleared.
func (r *Resolver) Solved() int {
	return int(r.solved.Load())
}

// NewResolver builds a Resolver.
func NewResolver(session *browser.Session, solver scraper.Solver, logger *zap.Logger) *Resolver {
	return &Resolver{
		session: session,
		solver:  solver,
		logger:  logger,
	}
}

// Resolve implements fetcher.ChallengeResolver. It renders the challenged
// URL in the shared session and attempts clearance there.
func (r *Resolver) Resolve(ctx context.Context, target scraper.ResourceTarget, _ scraper.FetchResult) (bool, error) {
	tab, cancel := r.session.NewTab(ctx)
	defer cancel()

	tasks := chromedp.Tasks{
		r.session.SetupTasks(),
		chromedp.Navigate(target.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		r.session.Pause(1*time.Second, 2*time.Second),
	}
	if err := chromedp.Run(tab, tasks); err != nil {
		return false, fmt.Errorf("navigate to challenged page: %w", err)
	}
	return r.ClearPage(tab, target.URL)
}

// ClearPage implements browser.PageClearer on an already navigated tab.
// Clearing is idempotent: a page that classifies clean reports cleared
// without spending a solve.
func (r *Resolver) ClearPage(ctx context.Context, pageURL string) (bool, error) {
	desc, found, err := Detect(ctx, pageURL)
	if err != nil {
		metrics.ObserveChallenge(false)
		return false, err
	}
	if !found {
		// No widget present. Either the interstitial cleared itself on
		// render, or it is a variant we cannot solve.
		clean, classifyErr := r.pageIsClean(ctx)
		if classifyErr != nil {
			metrics.ObserveChallenge(false)
			return false, classifyErr
		}
		metrics.ObserveChallenge(clean)
		if clean {
			return true, nil
		}
		return false, fmt.Errorf("interstitial without solvable widget: %w", scraper.ErrChallengeUnresolved)
	}

	r.logger.Info("solving challenge",
		zap.String("provider", desc.Provider),
		zap.String("page_url", desc.PageURL),
	)
	token, err := r.solver.Solve(ctx, scraper.SolveRequest{
		SiteKey:   desc.SiteKey,
		PageURL:   desc.PageURL,
		RQData:    desc.RQData,
		UserAgent: r.session.Fingerprint().UserAgent,
	})
	if err != nil {
		metrics.ObserveChallenge(false)
		return false, fmt.Errorf("captcha solve: %w", err)
	}

	if err := r.submitToken(ctx, token); err != nil {
		metrics.ObserveChallenge(false)
		return false, err
	}

	clean, err := r.pageIsClean(ctx)
	if err != nil {
		metrics.ObserveChallenge(false)
		return false, err
	}
	metrics.ObserveChallenge(clean)
	if !clean {
		return false, fmt.Errorf("token accepted but page still challenged: %w", scraper.ErrChallengeUnresolved)
	}
	r.solved.Add(1)
	r.logger.Info("challenge cleared", zap.String("page_url", pageURL))
	return true, nil
}

// injectScript builds the injection routine run against one document: fill
// every captcha response field with the token, fire a change event so the
// widget notices, then trigger whatever submit control the document carries.
// Returns true when a response field was found in that document.
func injectScript(token string) string {
	return fmt.Sprintf(`(() => {
		const token = %q;
		const fields = document.querySelectorAll(
			'textarea[name="h-captcha-response"], textarea[name="g-recaptcha-response"]');
		fields.forEach(f => {
			f.value = token;
			f.innerHTML = token;
			f.dispatchEvent(new Event('change', { bubbles: true }));
		});
		if (fields.length === 0) { return false; }
		const btn = document.querySelector(
			'button[type="submit"], input[type="submit"], [id*="submit"]');
		if (btn) { btn.click(); return true; }
		const form = document.querySelector('form');
		if (form) { form.submit(); return true; }
		if (window.hcaptcha && typeof window.hcaptcha.submit === 'function') {
			window.hcaptcha.submit(token);
		}
		return true;
	})()`, token)
}

// submitToken writes the solved token into the widget's response fields and
// submits the interstitial, then waits for the reload to settle. The response
// field may live in the top document or inside the interstitial's wrapper
// iframe, so the top document is tried first and every child frame after it.
func (r *Resolver) submitToken(ctx context.Context, token string) error {
	var submitted bool
	if err := chromedp.Evaluate(injectScript(token), &submitted).Do(ctx); err != nil {
		return fmt.Errorf("inject token: %w", err)
	}
	if !submitted {
		submitted = r.submitTokenInFrames(ctx, token)
	}
	if !submitted {
		return fmt.Errorf("no token target on page: %w", scraper.ErrChallengeUnresolved)
	}

	settle := chromedp.Tasks{
		chromedp.Sleep(2 * time.Second),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, settle); err != nil {
		return fmt.Errorf("settle after token submit: %w", err)
	}
	return nil
}

// submitTokenInFrames retries the injection inside each child frame of the
// current tab. Frames are evaluated through isolated worlds, which share the
// frame's DOM, so field writes and form submits behave as in the main world.
// Frames that detach or refuse a world mid-walk are skipped.
func (r *Resolver) submitTokenInFrames(ctx context.Context, token string) bool {
	tree, err := page.GetFrameTree().Do(ctx)
	if err != nil {
		r.logger.Debug("read frame tree for token submit", zap.Error(err))
		return false
	}
	for _, frameID := range childFrameIDs(tree) {
		world, err := page.CreateIsolatedWorld(frameID).Do(ctx)
		if err != nil {
			continue
		}
		obj, exc, err := runtime.Evaluate(injectScript(token)).
			WithContextID(world).
			WithReturnByValue(true).
			Do(ctx)
		if err != nil || exc != nil || obj == nil {
			continue
		}
		var injected bool
		if jsonErr := json.Unmarshal(obj.Value, &injected); jsonErr != nil {
			continue
		}
		if injected {
			r.logger.Debug("token submitted in child frame", zap.String("frame_id", string(frameID)))
			return true
		}
	}
	return false
}

// childFrameIDs flattens the frame tree, skipping the root: the top document
// was already attempted in the main world.
func childFrameIDs(tree *page.FrameTree) []cdp.FrameID {
	if tree == nil {
		return nil
	}
	var ids []cdp.FrameID
	for _, child := range tree.ChildFrames {
		ids = append(ids, collectFrameIDs(child)...)
	}
	return ids
}

func collectFrameIDs(tree *page.FrameTree) []cdp.FrameID {
	if tree == nil {
		return nil
	}
	var ids []cdp.FrameID
	if tree.Frame != nil {
		ids = append(ids, tree.Frame.ID)
	}
	for _, child := range tree.ChildFrames {
		ids = append(ids, collectFrameIDs(child)...)
	}
	return ids
}

func (r *Resolver) pageIsClean(ctx context.Context) (bool, error) {
	var html string
	if err := chromedp.OuterHTML("html", &html, chromedp.ByQuery).Do(ctx); err != nil {
		return false, fmt.Errorf("re-read page dom: %w", err)
	}
	verdict := fetcher.Classify(0, []byte(html))
	return !verdict.Challenge, nil
}

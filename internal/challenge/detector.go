// Package challenge detects and resolves the site's anti-bot interstitials:
// Incapsula/Imperva pages carrying an embedded hCaptcha widget.
package challenge

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/paddockdata/racepipe/internal/scraper"
)

// DescriptorFromFrameURL extracts a challenge descriptor from a captcha
// frame URL. The widget frame carries sitekey and rqdata in its query or
// fragment parameters, which stays readable through the frame tree even when
// the frame itself is cross-origin.
func DescriptorFromFrameURL(frameURL, pageURL string) (scraper.ChallengeDescriptor, bool) {
	parsed, err := url.Parse(frameURL)
	if err != nil || !strings.Contains(strings.ToLower(parsed.Host), "hcaptcha.com") {
		return scraper.ChallengeDescriptor{}, false
	}

	params := parsed.Query()
	if frag, fragErr := url.ParseQuery(parsed.Fragment); fragErr == nil {
		for key, values := range frag {
			if params.Get(key) == "" && len(values) > 0 {
				params.Set(key, values[0])
			}
		}
	}

	siteKey := params.Get("sitekey")
	if siteKey == "" {
		return scraper.ChallengeDescriptor{}, false
	}
	return scraper.ChallengeDescriptor{
		Provider: "hcaptcha",
		SiteKey:  siteKey,
		RQData:   params.Get("rqdata"),
		FrameURL: frameURL,
		PageURL:  pageURL,
	}, true
}

// DescriptorFromHTML extracts a challenge descriptor from the interstitial
// DOM itself: the widget container's data-sitekey attribute, or a captcha
// iframe src.
func DescriptorFromHTML(html, pageURL string) (scraper.ChallengeDescriptor, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return scraper.ChallengeDescriptor{}, false
	}

	var desc scraper.ChallengeDescriptor
	found := false

	doc.Find("div.h-captcha, div[data-sitekey]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		siteKey, ok := sel.Attr("data-sitekey")
		if !ok || siteKey == "" {
			return true
		}
		desc = scraper.ChallengeDescriptor{
			Provider: "hcaptcha",
			SiteKey:  siteKey,
			PageURL:  pageURL,
		}
		if rq, has := sel.Attr("data-rqdata"); has {
			desc.RQData = rq
		}
		found = true
		return false
	})
	if found {
		return desc, true
	}

	doc.Find("iframe[src]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		src, _ := sel.Attr("src")
		if d, ok := DescriptorFromFrameURL(src, pageURL); ok {
			desc = d
			found = true
			return false
		}
		return true
	})
	return desc, found
}

// Detect inspects a live tab for a challenge, checking the DOM first and
// then the CDP frame tree for cross-origin widget frames.
func Detect(ctx context.Context, pageURL string) (scraper.ChallengeDescriptor, bool, error) {
	var html string
	if err := chromedp.OuterHTML("html", &html, chromedp.ByQuery).Do(ctx); err != nil {
		return scraper.ChallengeDescriptor{}, false, fmt.Errorf("read page dom: %w", err)
	}
	if desc, ok := DescriptorFromHTML(html, pageURL); ok {
		return desc, true, nil
	}

	tree, err := page.GetFrameTree().Do(ctx)
	if err != nil {
		return scraper.ChallengeDescriptor{}, false, fmt.Errorf("read frame tree: %w", err)
	}
	for _, frameURL := range collectFrameURLs(tree) {
		if desc, ok := DescriptorFromFrameURL(frameURL, pageURL); ok {
			return desc, true, nil
		}
	}
	return scraper.ChallengeDescriptor{}, false, nil
}

func collectFrameURLs(tree *page.FrameTree) []string {
	if tree == nil {
		return nil
	}
	urls := make([]string, 0, 1+len(tree.ChildFrames))
	if tree.Frame != nil {
		urls = append(urls, tree.Frame.URL+tree.Frame.URLFragment)
	}
	for _, child := range tree.ChildFrames {
		urls = append(urls, collectFrameURLs(child)...)
	}
	return urls
}

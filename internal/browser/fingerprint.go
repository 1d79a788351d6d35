// Package browser owns the reusable browsing identity for one pipeline run:
// a chromedp browser with a randomized, automation-suppressed fingerprint,
// warmed once and reused serially by every rendered fetch in the run.
package browser

import (
	"math/rand"
	"time"
)

// Fingerprint is the set of browser-observable signals randomized per run.
type Fingerprint struct {
	UserAgent string
	Width     int
	Height    int
	Locale    string
	Timezone  string
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

var viewports = [][2]int{
	{1920, 1080},
	{1680, 1050},
	{1536, 864},
	{1440, 900},
	{1366, 768},
}

var timezones = []string{
	"America/New_York",
	"America/Chicago",
	"America/Denver",
	"America/Los_Angeles",
}

// RandomFingerprint draws a realistic identity from the known-good pools.
func RandomFingerprint(rng *rand.Rand) Fingerprint {
	vp := viewports[rng.Intn(len(viewports))]
	return Fingerprint{
		UserAgent: userAgents[rng.Intn(len(userAgents))],
		Width:     vp[0],
		Height:    vp[1],
		Locale:    "en-US",
		Timezone:  timezones[rng.Intn(len(timezones))],
	}
}

// HumanDelay returns a randomized pause in [min, max), the deliberate
// suspension between navigation steps that keeps request pacing plausible.
func HumanDelay(rng *rand.Rand, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rng.Int63n(int64(max-min)))
}

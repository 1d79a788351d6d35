// Package fetcher implements the ordered fetch strategy chain and the
// response classifier shared by all strategies.
package fetcher

import (
	"bytes"
	"net/http"
)

// Challenge markers identify anti-bot interstitials served in place of real
// content. The wrapper (Incapsula/Imperva) and the widget (hCaptcha) can
// appear independently.
var challengeMarkers = [][]byte{
	[]byte("incapsula"),
	[]byte("imperva"),
	[]byte("_incapsula_resource"),
	[]byte("hcaptcha"),
	[]byte("h-captcha"),
	[]byte("request unsuccessful"),
}

// No-data markers are the site's explicit "nothing scheduled" responses.
// These are successes: the absence of data is itself information.
var noDataMarkers = [][]byte{
	[]byte("no data available"),
	[]byte("there are no entries"),
	[]byte("not available at this time"),
	[]byte("no races scheduled"),
}

var blockedMarkers = [][]byte{
	[]byte("access denied"),
	[]byte("you have been blocked"),
}

// Classification is the verdict on one raw response body.
type Classification struct {
	Challenge bool
	Blocked   bool
	NoData    bool
}

// Classify scans a response for challenge, blocked and no-data markers.
// Marker matching is case-insensitive over the whole body.
func Classify(statusCode int, body []byte) Classification {
	lower := bytes.ToLower(body)

	var c Classification
	for _, marker := range challengeMarkers {
		if bytes.Contains(lower, marker) {
			c.Challenge = true
			break
		}
	}
	if !c.Challenge {
		for _, marker := range blockedMarkers {
			if bytes.Contains(lower, marker) {
				c.Blocked = true
				break
			}
		}
		if !c.Blocked && (statusCode == http.StatusForbidden || statusCode == http.StatusTooManyRequests) {
			c.Blocked = true
		}
	}
	for _, marker := range noDataMarkers {
		if bytes.Contains(lower, marker) {
			c.NoData = true
			break
		}
	}
	return c
}

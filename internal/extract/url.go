// Package extract parses the source site's page structures into typed
// records. The selectors are intentionally specific to one site; this is
// not a general-purpose extraction layer.
package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const baseURL = "https://www.equibase.com"

// Entry pages sometimes emit profile links with a mangled registered-sign
// encoding in place of the registry parameter, or drop the ampersand
// between query parameters entirely.
var (
	refnoRegistryRe = regexp.MustCompile(`refno=(\d+)registry=`)
	registryRbtRe   = regexp.MustCompile(`registry=([A-Za-z])rbt=`)
)

// FixProfileURL repairs the known encoding defects in profile links.
func FixProfileURL(raw string) string {
	clean := strings.ReplaceAll(raw, "®istry=", "registry=")
	clean = strings.ReplaceAll(clean, "Â®istry=", "registry=")
	clean = refnoRegistryRe.ReplaceAllString(clean, "refno=$1&registry=")
	clean = registryRbtRe.ReplaceAllString(clean, "registry=$1&rbt=")
	if strings.HasPrefix(clean, "/") {
		clean = baseURL + clean
	}
	return clean
}

// ProfileTabURL appends a tab fragment (results, workouts) to a profile URL.
func ProfileTabURL(profileURL, tab string) string {
	clean := FixProfileURL(profileURL)
	if tab == "" {
		return clean
	}
	return clean + "#" + tab
}

// EntriesURL builds the race-card entries page URL for a track and date key
// (YYYY-MM-DD).
func EntriesURL(trackID, dateKey string) string {
	return fmt.Sprintf("%s/static/entry/%s%s-EQB.html", baseURL, trackID, compactDate(dateKey))
}

// SmartPickURL builds the per-race SmartPick endpoint URL. The site expects
// the date as URL-encoded MM/DD/YYYY and a day/evening flag.
func SmartPickURL(trackID, dateKey string, raceNumber int, evening bool) string {
	day := "D"
	if evening {
		day = "E"
	}
	return fmt.Sprintf(
		"%s/smartPick/smartPick.cfm/?trackId=%s&raceDate=%s&country=USA&dayEvening=%s&raceNumber=%d",
		baseURL, trackID, url.QueryEscape(slashDate(dateKey)), day, raceNumber,
	)
}

// slashDate converts YYYY-MM-DD to MM/DD/YYYY; malformed keys pass through.
func slashDate(dateKey string) string {
	parts := strings.Split(dateKey, "-")
	if len(parts) != 3 {
		return dateKey
	}
	return parts[1] + "/" + parts[2] + "/" + parts[0]
}

// compactDate converts YYYY-MM-DD to MMDDYY for static entry paths.
func compactDate(dateKey string) string {
	parts := strings.Split(dateKey, "-")
	if len(parts) != 3 || len(parts[0]) != 4 {
		return strings.ReplaceAll(dateKey, "-", "")
	}
	return parts[1] + parts[2] + parts[0][2:]
}

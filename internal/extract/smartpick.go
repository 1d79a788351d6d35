package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/paddockdata/racepipe/internal/scraper"
)

// SmartPick is the secondary feed's view of one entrant: jockey/trainer
// combo statistics and the feed's own speed figure.
type SmartPick struct {
	HorseName     string  `json:"horse_name"`
	Jockey        string  `json:"jockey"`
	Trainer       string  `json:"trainer"`
	ComboWinPct   float64 `json:"combo_win_pct"`
	SpeedFigure   float64 `json:"speed_figure"`
	DaysSinceLast float64 `json:"days_since_last"`
}

// Record converts the feed view to the reconciliation field bag.
func (s SmartPick) Record(entityKey string) scraper.HorseRecord {
	rec := scraper.NewHorseRecord(entityKey, "smartpick")
	if s.Jockey != "" {
		rec.Text["jockey"] = s.Jockey
	}
	if s.Trainer != "" {
		rec.Text["trainer"] = s.Trainer
	}
	if s.ComboWinPct > 0 {
		rec.Numeric["combo_win_pct"] = s.ComboWinPct
	}
	if s.SpeedFigure > 0 {
		rec.Numeric["speed_figure"] = s.SpeedFigure
	}
	if s.DaysSinceLast > 0 {
		rec.Numeric["days_since_last"] = s.DaysSinceLast
	}
	return rec
}

var (
	// "J/T 23% wins" style combo line rendered next to each entrant.
	comboPctRe = regexp.MustCompile(`(?i)J/?T\s*(?:combo)?\s*:?\s*(\d+)\s*%`)
	speedFigRe = regexp.MustCompile(`(?i)speed\s*figure\s*:?\s*(\d+)`)
	daysOffRe  = regexp.MustCompile(`(?i)(\d+)\s*days?\s*(?:since|off)`)
)

// ParseSmartPick extracts per-horse feed rows from a rendered SmartPick
// page. The page is an Angular app; by the time it reaches this parser it
// must already be rendered HTML, one block per entrant.
func ParseSmartPick(html []byte) ([]SmartPick, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(html)))
	if err != nil {
		return nil, fmt.Errorf("parse smartpick html: %w", err)
	}

	var picks []SmartPick
	doc.Find("div.smartpick-horse, div[class*='horse-card'], table.smartpick tr").Each(func(_ int, block *goquery.Selection) {
		name := strings.TrimSpace(block.Find("a[href*='refno='], .horse-name, td.horse").First().Text())
		if name == "" {
			return
		}
		pick := SmartPick{HorseName: name}
		text := block.Text()
		if m := comboPctRe.FindStringSubmatch(text); m != nil {
			pick.ComboWinPct, _ = strconv.ParseFloat(m[1], 64)
		}
		if m := speedFigRe.FindStringSubmatch(text); m != nil {
			pick.SpeedFigure, _ = strconv.ParseFloat(m[1], 64)
		}
		if m := daysOffRe.FindStringSubmatch(text); m != nil {
			pick.DaysSinceLast, _ = strconv.ParseFloat(m[1], 64)
		}
		pick.Jockey = strings.TrimSpace(block.Find("a[href*='jockey'], .jockey").First().Text())
		pick.Trainer = strings.TrimSpace(block.Find("a[href*='trainer'], .trainer").First().Text())
		picks = append(picks, pick)
	})

	if len(picks) == 0 {
		return nil, fmt.Errorf("smartpick page: %w", scraper.ErrParseMismatch)
	}
	return picks, nil
}

// MatchHorse finds the feed row for a card entrant by normalized name.
func MatchHorse(picks []SmartPick, horseName string) (SmartPick, bool) {
	want := normalizeName(horseName)
	for _, p := range picks {
		if normalizeName(p.HorseName) == want {
			return p, true
		}
	}
	return SmartPick{}, false
}

func normalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

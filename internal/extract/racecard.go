package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/paddockdata/racepipe/internal/scraper"
)

// RaceCard is the parsed top-level entries page for one track and date.
type RaceCard struct {
	DateKey string      `json:"date_key"`
	TrackID string      `json:"track_id"`
	Races   []Race      `json:"races"`
}

// Race is one scheduled race with its entered horses.
type Race struct {
	Number   int          `json:"number"`
	PostTime string       `json:"post_time"`
	Surface  string       `json:"surface"`
	Distance string       `json:"distance"`
	Horses   []HorseEntry `json:"horses"`
}

// HorseEntry is one entrant as listed on the card.
type HorseEntry struct {
	Name         string `json:"name"`
	PostPosition int    `json:"post_position"`
	Jockey       string `json:"jockey"`
	Trainer      string `json:"trainer"`
	ProfileURL   string `json:"profile_url"`
}

// EntityKey returns the canonical key for this entrant.
func (h HorseEntry) EntityKey(trackID string, raceNumber int) string {
	return scraper.EntityKey(trackID, raceNumber, h.Name)
}

// Horses flattens all entrants with their race numbers, card order.
func (c RaceCard) Horses() []struct {
	Race  int
	Entry HorseEntry
} {
	var out []struct {
		Race  int
		Entry HorseEntry
	}
	for _, race := range c.Races {
		for _, h := range race.Horses {
			out = append(out, struct {
				Race  int
				Entry HorseEntry
			}{race.Number, h})
		}
	}
	return out
}

// placeholderMarkers flag a card that the site published before entries
// were final. Such a card must be treated as a cache miss and re-fetched.
var placeholderMarkers = []string{
	"entries not yet available",
	"to be announced",
	"tba",
}

// Placeholder reports whether the card is a known pre-publication stub.
func (c RaceCard) Placeholder() bool {
	if len(c.Races) == 0 {
		return true
	}
	for _, race := range c.Races {
		if len(race.Horses) == 0 {
			return true
		}
		for _, h := range race.Horses {
			lower := strings.ToLower(h.Name)
			for _, marker := range placeholderMarkers {
				if lower == marker {
					return true
				}
			}
		}
	}
	return false
}

// ParseRaceCard extracts the race card from an entries page. The page lays
// each race out as a table whose class carries the race number; entrant rows
// hold the program number, horse profile link, jockey and trainer cells.
func ParseRaceCard(html []byte, trackID, dateKey string) (RaceCard, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(html)))
	if err != nil {
		return RaceCard{}, fmt.Errorf("parse entries html: %w", err)
	}

	card := RaceCard{DateKey: dateKey, TrackID: trackID}

	doc.Find("table.race, table[class*='entries'], div.race-card table").Each(func(i int, table *goquery.Selection) {
		race := Race{Number: i + 1}
		if n := raceNumberFromHeading(table); n > 0 {
			race.Number = n
		}
		race.PostTime = strings.TrimSpace(table.Find("th.post-time, .postTime, td.post-time").First().Text())
		race.Surface = strings.TrimSpace(table.Find(".surface, td.surface").First().Text())
		race.Distance = strings.TrimSpace(table.Find(".distance, td.distance").First().Text())

		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			link := row.Find("a[href*='Results.cfm'], a[href*='refno=']").First()
			if link.Length() == 0 {
				return
			}
			entry := HorseEntry{
				Name: strings.TrimSpace(link.Text()),
			}
			if href, ok := link.Attr("href"); ok {
				entry.ProfileURL = FixProfileURL(href)
			}
			cells := row.Find("td")
			if cells.Length() > 0 {
				if pp, err := strconv.Atoi(strings.TrimSpace(cells.First().Text())); err == nil {
					entry.PostPosition = pp
				}
			}
			entry.Jockey = strings.TrimSpace(row.Find("td.jockey, a[href*='jockey']").First().Text())
			entry.Trainer = strings.TrimSpace(row.Find("td.trainer, a[href*='trainer']").First().Text())
			if entry.Name != "" {
				race.Horses = append(race.Horses, entry)
			}
		})

		if len(race.Horses) > 0 {
			card.Races = append(card.Races, race)
		}
	})

	if len(card.Races) == 0 {
		return RaceCard{}, fmt.Errorf("entries page for %s/%s: %w", trackID, dateKey, scraper.ErrParseMismatch)
	}
	return card, nil
}

func raceNumberFromHeading(table *goquery.Selection) int {
	heading := strings.TrimSpace(table.Find("caption, th.race-number, .raceNumber").First().Text())
	heading = strings.ToLower(heading)
	heading = strings.TrimPrefix(heading, "race")
	if n, err := strconv.Atoi(strings.TrimSpace(heading)); err == nil {
		return n
	}
	return 0
}

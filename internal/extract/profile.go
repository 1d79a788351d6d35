package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/paddockdata/racepipe/internal/scraper"
)

// ResultRow is one past-performance line from the profile results tab.
type ResultRow struct {
	Date           string  `json:"date"`
	Track          string  `json:"track"`
	FinishPosition int     `json:"finish_position"`
	SpeedFigure    float64 `json:"speed_figure"`
	Odds           string  `json:"odds"`
}

// WorkoutRow is one recent workout from the profile workouts tab.
type WorkoutRow struct {
	Date        string  `json:"date"`
	Distance    string  `json:"distance"`
	TimeSeconds float64 `json:"time_seconds"`
}

// Profile is the parsed per-horse profile view built from the results and
// workouts tabs.
type Profile struct {
	HorseName string       `json:"horse_name"`
	Jockey    string       `json:"jockey"`
	Trainer   string       `json:"trainer"`
	Results   []ResultRow  `json:"results"`
	Workouts  []WorkoutRow `json:"workouts"`
}

var (
	resultsTableRe = regexp.MustCompile(`(?i)(results|pastperformance|race)`)
	workoutTableRe = regexp.MustCompile(`(?i)work`)
	furlongTimeRe  = regexp.MustCompile(`^(\d+):(\d+(?:\.\d+)?)$`)
)

// ParseProfile extracts a Profile from a profile page. resultsHTML is
// required; workoutsHTML may be nil when the workouts tab fetch failed.
func ParseProfile(resultsHTML, workoutsHTML []byte, horseName string) (Profile, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(resultsHTML)))
	if err != nil {
		return Profile{}, fmt.Errorf("parse profile html: %w", err)
	}

	p := Profile{HorseName: horseName}
	p.Jockey = strings.TrimSpace(doc.Find("a[href*='jockey'], .jockey-name").First().Text())
	p.Trainer = strings.TrimSpace(doc.Find("a[href*='trainer'], .trainer-name").First().Text())
	p.Results = parseResultsTable(doc)

	if len(workoutsHTML) > 0 {
		wdoc, werr := goquery.NewDocumentFromReader(strings.NewReader(string(workoutsHTML)))
		if werr == nil {
			p.Workouts = parseWorkoutsTable(wdoc)
		}
	}

	if len(p.Results) == 0 && len(p.Workouts) == 0 {
		return Profile{}, fmt.Errorf("profile for %q: %w", horseName, scraper.ErrParseMismatch)
	}
	return p, nil
}

// Record converts the profile to the reconciliation field bag. Recent speed
// figures are averaged over the last three starts, matching what the
// secondary feed reports.
func (p Profile) Record(entityKey string) scraper.HorseRecord {
	rec := scraper.NewHorseRecord(entityKey, "profile")
	if p.Jockey != "" {
		rec.Text["jockey"] = p.Jockey
	}
	if p.Trainer != "" {
		rec.Text["trainer"] = p.Trainer
	}
	if avg, ok := p.averageSpeedFigure(3); ok {
		rec.Numeric["speed_figure"] = avg
	}
	if len(p.Results) > 0 {
		rec.Numeric["last_finish_position"] = float64(p.Results[0].FinishPosition)
	}
	if t, ok := p.bestWorkoutTime(); ok {
		rec.Numeric["best_workout_seconds"] = t
	}
	return rec
}

func (p Profile) averageSpeedFigure(n int) (float64, bool) {
	sum, count := 0.0, 0
	for _, r := range p.Results {
		if r.SpeedFigure <= 0 {
			continue
		}
		sum += r.SpeedFigure
		count++
		if count == n {
			break
		}
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

func (p Profile) bestWorkoutTime() (float64, bool) {
	best, found := 0.0, false
	for _, w := range p.Workouts {
		if w.TimeSeconds <= 0 {
			continue
		}
		if !found || w.TimeSeconds < best {
			best = w.TimeSeconds
			found = true
		}
	}
	return best, found
}

func parseResultsTable(doc *goquery.Document) []ResultRow {
	var rows []ResultRow
	table := findTable(doc, resultsTableRe)
	if table == nil {
		return nil
	}
	table.Find("tbody tr, tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 4 {
			return
		}
		r := ResultRow{
			Date:  strings.TrimSpace(cells.Eq(0).Text()),
			Track: strings.TrimSpace(cells.Eq(1).Text()),
		}
		if r.Date == "" || strings.EqualFold(r.Date, "date") {
			return
		}
		if pos, err := strconv.Atoi(firstInt(cells.Eq(2).Text())); err == nil {
			r.FinishPosition = pos
		}
		if fig, err := strconv.ParseFloat(strings.TrimSpace(cells.Eq(3).Text()), 64); err == nil {
			r.SpeedFigure = fig
		}
		if cells.Length() > 4 {
			r.Odds = strings.TrimSpace(cells.Eq(4).Text())
		}
		rows = append(rows, r)
	})
	if len(rows) > 3 {
		rows = rows[:3]
	}
	return rows
}

func parseWorkoutsTable(doc *goquery.Document) []WorkoutRow {
	var rows []WorkoutRow
	table := findTable(doc, workoutTableRe)
	if table == nil {
		return nil
	}
	table.Find("tbody tr, tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 3 {
			return
		}
		w := WorkoutRow{
			Date:     strings.TrimSpace(cells.Eq(0).Text()),
			Distance: strings.TrimSpace(cells.Eq(1).Text()),
		}
		if w.Date == "" || strings.EqualFold(w.Date, "date") {
			return
		}
		w.TimeSeconds = parseWorkoutTime(strings.TrimSpace(cells.Eq(2).Text()))
		if w.TimeSeconds > 0 {
			rows = append(rows, w)
		}
	})
	if len(rows) > 3 {
		rows = rows[:3]
	}
	return rows
}

func findTable(doc *goquery.Document, classRe *regexp.Regexp) *goquery.Selection {
	var match *goquery.Selection
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		class, _ := table.Attr("class")
		id, _ := table.Attr("id")
		if classRe.MatchString(class) || classRe.MatchString(id) {
			match = table
			return false
		}
		return true
	})
	return match
}

// parseWorkoutTime converts "1:12.40" or "48.20" style times to seconds.
func parseWorkoutTime(raw string) float64 {
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "h")
	raw = strings.TrimSuffix(raw, "b")
	raw = strings.TrimSpace(raw)
	if m := furlongTimeRe.FindStringSubmatch(raw); m != nil {
		mins, _ := strconv.ParseFloat(m[1], 64)
		secs, _ := strconv.ParseFloat(m[2], 64)
		return mins*60 + secs
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return v
	}
	return 0
}

func firstInt(s string) string {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	return s[:end]
}

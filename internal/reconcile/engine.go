// Package reconcile merges two independently acquired views of the same
// horse and scores their field-level agreement.
package reconcile

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/paddockdata/racepipe/internal/scraper"
)

const (
	// numericTolerance is the relative difference under which two numeric
	// observations count as agreeing.
	numericTolerance = 0.10
	// highSeverityThreshold marks a numeric disagreement as High.
	highSeverityThreshold = 0.20
)

// Engine performs cross-source reconciliation.
type Engine struct {
	// identityFields are text fields where any mismatch is High severity
	// (named roles such as jockey and trainer).
	identityFields map[string]struct{}
}

// New constructs an Engine. identityFields defaults to the named-role
// fields carried by both sources.
func New(identityFields ...string) *Engine {
	if len(identityFields) == 0 {
		identityFields = []string{"jockey", "trainer"}
	}
	set := make(map[string]struct{}, len(identityFields))
	for _, f := range identityFields {
		set[f] = struct{}{}
	}
	return &Engine{identityFields: set}
}

// equipmentFields are compared in canonical token form rather than verbatim.
var equipmentFields = map[string]struct{}{
	"equipment":  {},
	"medication": {},
}

// Reconcile merges primary and secondary into one ReconciledRecord. Either
// side may be empty (a failed source); fields present on one side only are
// carried through without being counted as checks. The primary side wins
// when both sides disagree, with both raw values retained in the
// discrepancy entry.
func (e *Engine) Reconcile(entityKey string, primary, secondary scraper.HorseRecord) scraper.ReconciledRecord {
	rec := scraper.ReconciledRecord{
		EntityKey: entityKey,
		Numeric:   make(map[string]float64),
		Text:      make(map[string]string),
	}
	if !primary.Empty() {
		rec.Sources = append(rec.Sources, primary.Source)
	}
	if !secondary.Empty() {
		rec.Sources = append(rec.Sources, secondary.Source)
	}

	checks, passed := 0, 0

	for _, field := range sortedKeys(primary.Numeric) {
		a := primary.Numeric[field]
		b, shared := secondary.Numeric[field]
		rec.Numeric[field] = a
		if !shared {
			continue
		}
		checks++
		diff := relativeDiff(a, b)
		if diff <= numericTolerance {
			passed++
			continue
		}
		severity := scraper.SeverityMedium
		if diff > highSeverityThreshold {
			severity = scraper.SeverityHigh
		}
		rec.Discrepancies = append(rec.Discrepancies, scraper.Discrepancy{
			Field:     field,
			Severity:  severity,
			Primary:   formatNum(a),
			Secondary: formatNum(b),
		})
	}
	for _, field := range sortedKeys(secondary.Numeric) {
		if _, seen := primary.Numeric[field]; !seen {
			rec.Numeric[field] = secondary.Numeric[field]
		}
	}

	for _, field := range sortedKeys(primary.Text) {
		a := primary.Text[field]
		b, shared := secondary.Text[field]
		rec.Text[field] = a
		if !shared {
			continue
		}
		checks++
		av, bv := a, b
		if _, gear := equipmentFields[field]; gear {
			av, bv = NormalizeEquipment(a), NormalizeEquipment(b)
		}
		if textEqual(av, bv) {
			passed++
			continue
		}
		severity := scraper.SeverityMedium
		if _, identity := e.identityFields[field]; identity {
			severity = scraper.SeverityHigh
		}
		rec.Discrepancies = append(rec.Discrepancies, scraper.Discrepancy{
			Field:     field,
			Severity:  severity,
			Primary:   a,
			Secondary: b,
		})
	}
	for _, field := range sortedKeys(secondary.Text) {
		if _, seen := primary.Text[field]; !seen {
			rec.Text[field] = secondary.Text[field]
		}
	}

	if checks == 0 {
		// Nothing was compared. Reporting 100 here would read as "fully
		// consistent" when no evidence exists either way.
		rec.Consistency = scraper.ConsistencyIndeterminate
		rec.Score = 0
		return rec
	}
	rec.Consistency = scraper.ConsistencyScored
	rec.Score = math.Round(float64(passed)/float64(checks)*10000) / 100
	return rec
}

func relativeDiff(a, b float64) float64 {
	maxAbs := math.Max(math.Abs(a), math.Abs(b))
	if maxAbs == 0 {
		return 0
	}
	return math.Abs(a-b) / maxAbs
}

func textEqual(a, b string) bool {
	return strings.EqualFold(normalizeWS(a), normalizeWS(b))
}

func normalizeWS(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

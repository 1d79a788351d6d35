// Package scraper defines core types shared across subsystems.
package scraper

import (
	"fmt"
	"time"
)

// FetchStatus classifies the outcome of a single fetch attempt.
type FetchStatus string

// Fetch outcomes produced by strategies and the chain.
const (
	StatusSuccess        FetchStatus = "success"
	StatusBlocked        FetchStatus = "blocked"
	StatusChallenge      FetchStatus = "challenge"
	StatusTimeout        FetchStatus = "timeout"
	StatusTransportError FetchStatus = "transport_error"
)

// ExtractionIntent says how the fetched body should be parsed.
type ExtractionIntent string

// Supported extraction intents.
const (
	IntentRaceCard  ExtractionIntent = "race_card"
	IntentProfile   ExtractionIntent = "profile"
	IntentSmartPick ExtractionIntent = "smartpick"
)

// ResourceTarget identifies one resource to acquire. Constructed per request,
// never mutated.
type ResourceTarget struct {
	EntityKey string
	URL       string
	Intent    ExtractionIntent
}

// FetchResult is produced once per attempt and never mutated after creation.
type FetchResult struct {
	Status       FetchStatus
	Body         []byte
	FinalURL     string
	StrategyUsed string
	// NoData marks a Success whose body carried an explicit "no data
	// available" marker. The absence of data is information, not an error.
	NoData   bool
	Duration time.Duration
}

// OK reports whether the result carries usable (possibly empty) content.
func (r FetchResult) OK() bool {
	return r.Status == StatusSuccess
}

// ChallengeDescriptor carries everything needed to clear an anti-bot
// challenge page. Extracted once from a challenge-classified response and
// consumed exactly once by the resolver.
type ChallengeDescriptor struct {
	Provider string
	SiteKey  string
	RQData   string
	FrameURL string
	PageURL  string
}

// CacheEntry is one freshness-bounded cached payload.
type CacheEntry struct {
	EntityKey string
	DateKey   string
	Payload   []byte
	CachedAt  time.Time
}

// Fresh reports whether the entry is still inside the freshness window.
func (e CacheEntry) Fresh(now time.Time, maxAge time.Duration) bool {
	return now.Sub(e.CachedAt) < maxAge
}

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

// Run status values persisted in the session store.
const (
	RunCreated   RunStatus = "created"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// RunCounters tracks per-entity outcomes across a run.
type RunCounters struct {
	Succeeded int `json:"succeeded"`
	Partial   int `json:"partial"`
	Failed    int `json:"failed"`
}

// RunStats records acquisition bookkeeping surfaced with the run result.
type RunStats struct {
	CacheHits        int `json:"cache_hits"`
	Fetches          int `json:"fetches"`
	ChallengesSolved int `json:"challenges_solved"`
}

// PipelineSession is the orchestrator-owned state for one run. The in-memory
// copy held by the orchestrator is authoritative while the run is live; the
// session store is a durable mirror.
type PipelineSession struct {
	ID           string      `json:"id"`
	DateKey      string      `json:"date_key"`
	TrackID      string      `json:"track_id"`
	Status       RunStatus   `json:"status"`
	ProgressPct  int         `json:"progress_pct"`
	CurrentStage string      `json:"current_stage"`
	Message      string      `json:"message"`
	Counters     RunCounters `json:"counters"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Advance moves progress forward, never backward.
func (s *PipelineSession) Advance(pct int, stage, message string, now time.Time) {
	if pct > s.ProgressPct {
		s.ProgressPct = pct
	}
	s.CurrentStage = stage
	s.Message = message
	s.UpdatedAt = now
}

// HorseRecord is one source's view of a horse: a bag of numeric and text
// fields keyed by canonical field names. Two of these, fetched from
// independent endpoints, are the inputs to reconciliation.
type HorseRecord struct {
	EntityKey string             `json:"entity_key"`
	Source    string             `json:"source"`
	Numeric   map[string]float64 `json:"numeric,omitempty"`
	Text      map[string]string  `json:"text,omitempty"`
}

// NewHorseRecord builds an empty record for a source.
func NewHorseRecord(entityKey, source string) HorseRecord {
	return HorseRecord{
		EntityKey: entityKey,
		Source:    source,
		Numeric:   make(map[string]float64),
		Text:      make(map[string]string),
	}
}

// Empty reports whether the record carries no fields at all.
func (r HorseRecord) Empty() bool {
	return len(r.Numeric) == 0 && len(r.Text) == 0
}

// Severity grades a reconciliation discrepancy.
type Severity string

// Discrepancy severities.
const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Discrepancy records one failed field check with both raw values for audit.
type Discrepancy struct {
	Field     string   `json:"field"`
	Severity  Severity `json:"severity"`
	Primary   string   `json:"primary"`
	Secondary string   `json:"secondary"`
}

// ConsistencyState distinguishes a real agreement score from the case where
// the two sources shared no comparable fields.
type ConsistencyState string

// Consistency states. Indeterminate means "nothing was compared", which is
// deliberately not reported as a perfect score.
const (
	ConsistencyScored        ConsistencyState = "scored"
	ConsistencyIndeterminate ConsistencyState = "indeterminate"
)

// ReconciledRecord is the merged, scored view of one entity. Immutable once
// finalized. A record exists for every entity that entered detail
// acquisition, even when one or both sources failed.
type ReconciledRecord struct {
	EntityKey     string           `json:"entity_key"`
	Numeric       map[string]float64 `json:"numeric,omitempty"`
	Text          map[string]string  `json:"text,omitempty"`
	Sources       []string         `json:"sources"`
	Consistency   ConsistencyState `json:"consistency"`
	Score         float64          `json:"score"`
	Discrepancies []Discrepancy    `json:"discrepancies,omitempty"`
}

// RunResult is the finalized output handed to the downstream scoring
// consumer and persisted for later retrieval.
type RunResult struct {
	RunID       string             `json:"run_id"`
	DateKey     string             `json:"date_key"`
	TrackID     string             `json:"track_id"`
	Records     []ReconciledRecord `json:"records"`
	Counters    RunCounters        `json:"counters"`
	Stats       RunStats           `json:"stats"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// EntityKey builds the canonical key for one horse in one race.
func EntityKey(trackID string, raceNumber int, horseName string) string {
	return fmt.Sprintf("%s/%d/%s", trackID, raceNumber, horseName)
}

// Package pipeline drives one acquisition run end to end: warm the session,
// acquire the race card, per-horse details and the secondary feed, reconcile
// the two views, and hand the result off downstream.
package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/paddockdata/racepipe/internal/extract"
	"github.com/paddockdata/racepipe/internal/metrics"
	"github.com/paddockdata/racepipe/internal/reconcile"
	"github.com/paddockdata/racepipe/internal/scraper"
)

// Stage names surfaced through session progress updates.
const (
	StageWarmSession = "warm_session"
	StageRaceCard    = "race_card"
	StageDetails     = "details"
	StageSmartPick   = "smartpick"
	StageReconcile   = "reconcile"
	StageHandoff     = "handoff"
)

// Config controls run pacing and limits.
type Config struct {
	RunDeadline time.Duration
	EntityQPS   float64
	MinDelay    time.Duration
	MaxDelay    time.Duration
	ResultTopic string
	Evening     bool
	Seed        int64
}

// Deps are the orchestrator's collaborators. Warmup, Solves, and Hasher are
// optional; everything else is required.
type Deps struct {
	Chain     scraper.Fetcher
	Cache     scraper.ResponseCache
	Engine    *reconcile.Engine
	Store     scraper.SessionStore
	Blobs     scraper.BlobStore
	Publisher scraper.Publisher
	Clock     scraper.Clock
	IDs       scraper.IDGenerator
	// Warmup establishes the browsing session before the first fetch.
	Warmup func(ctx context.Context) error
	// Solves reports how many challenges were cleared so far.
	Solves func() int
	// Hasher digests raw bodies so identical ones are archived once per run.
	Hasher scraper.Hasher
	Logger *zap.Logger
}

// Orchestrator owns the run state machine.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	limiter *rate.Limiter
	logger  *zap.Logger

	mu       sync.Mutex
	rng      *rand.Rand
	archived map[string]struct{}
}

// New builds an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Chain == nil:
		return nil, fmt.Errorf("fetch chain is required")
	case deps.Cache == nil:
		return nil, fmt.Errorf("response cache is required")
	case deps.Engine == nil:
		return nil, fmt.Errorf("reconcile engine is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("session store is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	case deps.IDs == nil:
		return nil, fmt.Errorf("id generator is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.RunDeadline <= 0 {
		cfg.RunDeadline = 30 * time.Minute
	}
	if cfg.EntityQPS <= 0 {
		cfg.EntityQPS = 0.5
	}
	if cfg.ResultTopic == "" {
		cfg.ResultTopic = "racepipe.results"
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		limiter:  rate.NewLimiter(rate.Limit(cfg.EntityQPS), 1),
		logger:   deps.Logger,
		rng:      rand.New(rand.NewSource(seed)),
		archived: make(map[string]struct{}),
	}, nil
}

// CreateRun registers a new run in Created state.
func (o *Orchestrator) CreateRun(ctx context.Context, trackID, dateKey string) (scraper.PipelineSession, error) {
	if trackID == "" || dateKey == "" {
		return scraper.PipelineSession{}, fmt.Errorf("track id and date key are required")
	}
	id, err := o.deps.IDs.NewID()
	if err != nil {
		return scraper.PipelineSession{}, fmt.Errorf("allocate run id: %w", err)
	}
	now := o.deps.Clock.Now()
	session := scraper.PipelineSession{
		ID:        id,
		DateKey:   dateKey,
		TrackID:   trackID,
		Status:    scraper.RunCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.deps.Store.CreateRun(ctx, session); err != nil {
		return scraper.PipelineSession{}, fmt.Errorf("create run: %w", err)
	}
	return session, nil
}

// entity tracks one horse's acquisition state across stages.
type entity struct {
	key        string
	race       int
	entry      extract.HorseEntry
	profile    scraper.HorseRecord
	hasProfile bool
	smart      scraper.HorseRecord
	hasSmart   bool
}

// Execute runs a created run to a terminal state. Per-entity failures are
// absorbed into counters; only warmup and race-card failures fail the run.
func (o *Orchestrator) Execute(ctx context.Context, runID string) (scraper.RunResult, error) {
	session, err := o.deps.Store.GetRun(ctx, runID)
	if err != nil {
		return scraper.RunResult{}, err
	}
	if session.Status.Terminal() {
		return scraper.RunResult{}, fmt.Errorf("run %s already %s", runID, session.Status)
	}
	defer o.pruneArchived(runID)

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.RunDeadline)
	defer cancel()
	started := o.deps.Clock.Now()

	session.Status = scraper.RunRunning
	o.advance(ctx, &session, 0, StageWarmSession, "warming session")

	if o.deps.Warmup != nil {
		if err := o.deps.Warmup(runCtx); err != nil {
			return o.fail(ctx, &session, started, fmt.Errorf("warm session: %w", err))
		}
	}
	o.advance(ctx, &session, 5, StageRaceCard, "acquiring race card")

	stats := scraper.RunStats{}
	card, noData, err := o.acquireRaceCard(runCtx, &session, &stats)
	if err != nil {
		return o.fail(ctx, &session, started, fmt.Errorf("race card: %w", err))
	}
	o.advance(ctx, &session, 15, StageDetails, "acquiring horse details")

	if noData {
		// No races scheduled is a valid, empty outcome.
		return o.finalize(ctx, &session, started, nil, stats, "no races scheduled")
	}

	entities := make([]*entity, 0)
	for _, h := range card.Horses() {
		entities = append(entities, &entity{
			key:   h.Entry.EntityKey(card.TrackID, h.Race),
			race:  h.Race,
			entry: h.Entry,
		})
	}

	o.acquireDetails(runCtx, &session, entities, &stats)
	o.advance(ctx, &session, 55, StageSmartPick, "acquiring secondary feed")

	o.acquireSmartPicks(runCtx, &session, card, entities, &stats)
	o.advance(ctx, &session, 80, StageReconcile, "reconciling sources")

	records := o.reconcileEntities(&session, entities)
	o.advance(ctx, &session, 95, StageHandoff, "publishing results")

	if o.deps.Solves != nil {
		stats.ChallengesSolved = o.deps.Solves()
	}
	return o.finalize(ctx, &session, started, records, stats, "run completed")
}

// acquireRaceCard returns the parsed card, or noData=true when the site
// reports no races for the date.
func (o *Orchestrator) acquireRaceCard(ctx context.Context, session *scraper.PipelineSession, stats *scraper.RunStats) (extract.RaceCard, bool, error) {
	cacheKey := "race_card:" + session.TrackID
	target := scraper.ResourceTarget{
		EntityKey: cacheKey,
		URL:       extract.EntriesURL(session.TrackID, session.DateKey),
		Intent:    scraper.IntentRaceCard,
	}

	if payload, ok := o.deps.Cache.Get(cacheKey, session.DateKey); ok {
		card, err := extract.ParseRaceCard(payload, session.TrackID, session.DateKey)
		if err == nil && !card.Placeholder() {
			stats.CacheHits++
			metrics.CacheHit()
			return card, false, nil
		}
		// A cached placeholder card means entries were not final when
		// cached. Treat as a miss and go back to the site.
		o.logger.Info("cached race card is a placeholder, refetching",
			zap.String("track", session.TrackID))
	}

	result, err := o.deps.Chain.Fetch(ctx, target)
	stats.Fetches++
	if err != nil {
		return extract.RaceCard{}, false, err
	}
	if !result.OK() {
		return extract.RaceCard{}, false, fmt.Errorf("race card fetch ended %s", result.Status)
	}
	if result.NoData {
		return extract.RaceCard{}, true, nil
	}

	o.archive(ctx, session.ID, "race_card", result.Body)
	card, err := extract.ParseRaceCard(result.Body, session.TrackID, session.DateKey)
	if err != nil {
		return extract.RaceCard{}, false, err
	}
	if !card.Placeholder() {
		o.deps.Cache.Put(cacheKey, session.DateKey, result.Body)
	}
	return card, false, nil
}

// acquireDetails fetches and parses both profile tabs for every entity.
func (o *Orchestrator) acquireDetails(ctx context.Context, session *scraper.PipelineSession, entities []*entity, stats *scraper.RunStats) {
	total := len(entities)
	for i, ent := range entities {
		if ctx.Err() != nil {
			o.logger.Warn("run canceled during detail acquisition",
				zap.Int("completed", i), zap.Int("total", total))
			return
		}
		if ent.entry.ProfileURL == "" {
			o.logger.Warn("entrant has no profile link", zap.String("entity", ent.key))
			continue
		}
		if err := o.pace(ctx); err != nil {
			return
		}

		rec, err := o.acquireProfile(ctx, session, ent, stats)
		if err != nil {
			// Entity-level failures are absorbed here; the stage goes on.
			o.logger.Warn("profile acquisition failed",
				zap.String("entity", ent.key),
				zap.Bool("entity_level", scraper.EntityLevel(err)),
				zap.Error(err))
		} else {
			ent.profile = rec
			ent.hasProfile = true
		}

		pct := 15 + (40*(i+1))/total
		o.advance(ctx, session, pct, StageDetails,
			fmt.Sprintf("details %d/%d", i+1, total))
	}
}

func (o *Orchestrator) acquireProfile(ctx context.Context, session *scraper.PipelineSession, ent *entity, stats *scraper.RunStats) (scraper.HorseRecord, error) {
	resultsBody, err := o.acquireBody(ctx, session, ent.key,
		extract.ProfileTabURL(ent.entry.ProfileURL, "results"), scraper.IntentProfile, stats)
	if err != nil {
		return scraper.HorseRecord{}, err
	}

	// The workouts tab is best-effort; the results tab alone still yields a
	// usable record.
	workoutsBody, err := o.acquireBody(ctx, session, ent.key+"#workouts",
		extract.ProfileTabURL(ent.entry.ProfileURL, "workouts"), scraper.IntentProfile, stats)
	if err != nil {
		o.logger.Debug("workouts tab unavailable", zap.String("entity", ent.key), zap.Error(err))
		workoutsBody = nil
	}

	profile, err := extract.ParseProfile(resultsBody, workoutsBody, ent.entry.Name)
	if err != nil {
		return scraper.HorseRecord{}, err
	}
	return profile.Record(ent.key), nil
}

// acquireSmartPicks fetches the secondary feed once per race and matches
// entrants by name.
func (o *Orchestrator) acquireSmartPicks(ctx context.Context, session *scraper.PipelineSession, card extract.RaceCard, entities []*entity, stats *scraper.RunStats) {
	byRace := make(map[int][]*entity)
	for _, ent := range entities {
		byRace[ent.race] = append(byRace[ent.race], ent)
	}

	done := 0
	for _, race := range card.Races {
		if ctx.Err() != nil {
			return
		}
		if err := o.pace(ctx); err != nil {
			return
		}
		cacheKey := fmt.Sprintf("smartpick:%s/%d", session.TrackID, race.Number)
		body, err := o.acquireBody(ctx, session, cacheKey,
			extract.SmartPickURL(session.TrackID, session.DateKey, race.Number, o.cfg.Evening),
			scraper.IntentSmartPick, stats)
		if err == nil {
			if picks, parseErr := extract.ParseSmartPick(body); parseErr == nil {
				for _, ent := range byRace[race.Number] {
					if pick, ok := extract.MatchHorse(picks, ent.entry.Name); ok {
						ent.smart = pick.Record(ent.key)
						ent.hasSmart = true
					}
				}
			} else {
				o.logger.Warn("smartpick parse failed",
					zap.Int("race", race.Number), zap.Error(parseErr))
			}
		} else {
			o.logger.Warn("smartpick fetch failed",
				zap.Int("race", race.Number), zap.Error(err))
		}

		done++
		pct := 55 + (25*done)/len(card.Races)
		o.advance(ctx, session, pct, StageSmartPick,
			fmt.Sprintf("smartpick race %d/%d", done, len(card.Races)))
	}
}

// acquireBody resolves one resource through cache then chain, archiving and
// caching successful bodies.
func (o *Orchestrator) acquireBody(ctx context.Context, session *scraper.PipelineSession, cacheKey, url string, intent scraper.ExtractionIntent, stats *scraper.RunStats) ([]byte, error) {
	if payload, ok := o.deps.Cache.Get(cacheKey, session.DateKey); ok {
		stats.CacheHits++
		metrics.CacheHit()
		return payload, nil
	}

	result, err := o.deps.Chain.Fetch(ctx, scraper.ResourceTarget{
		EntityKey: cacheKey,
		URL:       url,
		Intent:    intent,
	})
	stats.Fetches++
	if err != nil {
		return nil, err
	}
	if !result.OK() {
		return nil, fmt.Errorf("fetch %s ended %s: %w", cacheKey, result.Status, statusErr(result.Status))
	}
	if result.NoData {
		return nil, fmt.Errorf("no data for %s: %w", cacheKey, scraper.ErrParseMismatch)
	}

	o.deps.Cache.Put(cacheKey, session.DateKey, result.Body)
	o.archive(ctx, session.ID, cacheKey, result.Body)
	return result.Body, nil
}

func statusErr(status scraper.FetchStatus) error {
	switch status {
	case scraper.StatusTimeout:
		return scraper.ErrTransportTimeout
	case scraper.StatusTransportError:
		return scraper.ErrTransportError
	case scraper.StatusChallenge:
		return scraper.ErrChallengeUnresolved
	default:
		return scraper.ErrTransportError
	}
}

// reconcileEntities merges both source views per entity and updates counters.
func (o *Orchestrator) reconcileEntities(session *scraper.PipelineSession, entities []*entity) []scraper.ReconciledRecord {
	records := make([]scraper.ReconciledRecord, 0, len(entities))
	for _, ent := range entities {
		switch {
		case ent.hasProfile && ent.hasSmart:
			session.Counters.Succeeded++
		case ent.hasProfile || ent.hasSmart:
			session.Counters.Partial++
		default:
			session.Counters.Failed++
			continue
		}

		primary := ent.profile
		if !ent.hasProfile {
			primary = scraper.NewHorseRecord(ent.key, "profile")
		}
		secondary := ent.smart
		if !ent.hasSmart {
			secondary = scraper.NewHorseRecord(ent.key, "smartpick")
		}
		records = append(records, o.deps.Engine.Reconcile(ent.key, primary, secondary))
	}
	return records
}

// finalize persists the result, publishes it, and completes the run.
func (o *Orchestrator) finalize(ctx context.Context, session *scraper.PipelineSession, started time.Time, records []scraper.ReconciledRecord, stats scraper.RunStats, message string) (scraper.RunResult, error) {
	// Persistence must survive run-context cancellation.
	persistCtx := context.WithoutCancel(ctx)

	result := scraper.RunResult{
		RunID:       session.ID,
		DateKey:     session.DateKey,
		TrackID:     session.TrackID,
		Records:     records,
		Counters:    session.Counters,
		Stats:       stats,
		GeneratedAt: o.deps.Clock.Now(),
	}
	if err := o.deps.Store.SaveResult(persistCtx, result); err != nil {
		return o.fail(persistCtx, session, started, fmt.Errorf("save result: %w", err))
	}
	if o.deps.Publisher != nil {
		if _, err := o.deps.Publisher.Publish(persistCtx, o.cfg.ResultTopic, result); err != nil {
			return o.fail(persistCtx, session, started, fmt.Errorf("publish result: %w", err))
		}
	}

	session.Status = scraper.RunCompleted
	o.advance(persistCtx, session, 100, StageHandoff, message)
	metrics.ObserveRun(string(scraper.RunCompleted), o.deps.Clock.Now().Sub(started))
	o.logger.Info("run completed",
		zap.String("run_id", session.ID),
		zap.Int("records", len(records)),
		zap.Int("succeeded", session.Counters.Succeeded),
		zap.Int("partial", session.Counters.Partial),
		zap.Int("failed", session.Counters.Failed),
	)
	return result, nil
}

func (o *Orchestrator) fail(ctx context.Context, session *scraper.PipelineSession, started time.Time, err error) (scraper.RunResult, error) {
	persistCtx := context.WithoutCancel(ctx)
	session.Status = scraper.RunFailed
	session.Message = err.Error()
	session.UpdatedAt = o.deps.Clock.Now()
	if updErr := o.deps.Store.UpdateRun(persistCtx, *session); updErr != nil {
		o.logger.Error("persist failed run", zap.Error(updErr))
	}
	metrics.ObserveRun(string(scraper.RunFailed), o.deps.Clock.Now().Sub(started))
	o.logger.Error("run failed", zap.String("run_id", session.ID), zap.Error(err))
	return scraper.RunResult{}, err
}

// advance moves session progress forward and mirrors it to the store.
func (o *Orchestrator) advance(ctx context.Context, session *scraper.PipelineSession, pct int, stage, message string) {
	session.Advance(pct, stage, message, o.deps.Clock.Now())
	if err := o.deps.Store.UpdateRun(context.WithoutCancel(ctx), *session); err != nil {
		o.logger.Warn("persist progress", zap.String("run_id", session.ID), zap.Error(err))
	}
}

// pace enforces the inter-entity rate limit plus a randomized delay.
func (o *Orchestrator) pace(ctx context.Context) error {
	if err := o.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacing wait: %w", err)
	}
	if o.cfg.MaxDelay <= o.cfg.MinDelay {
		return nil
	}
	o.mu.Lock()
	delay := o.cfg.MinDelay + time.Duration(o.rng.Int63n(int64(o.cfg.MaxDelay-o.cfg.MinDelay)))
	o.mu.Unlock()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// archive stores the raw body; failures are logged, never fatal. Identical
// bodies are archived once per run: the site serves the same shell page for
// many empty tabs.
func (o *Orchestrator) archive(ctx context.Context, runID, name string, body []byte) {
	if o.deps.Blobs == nil {
		return
	}
	if o.deps.Hasher != nil {
		if digest, err := o.deps.Hasher.Hash(body); err == nil {
			key := runID + "/" + digest
			o.mu.Lock()
			_, seen := o.archived[key]
			if !seen {
				o.archived[key] = struct{}{}
			}
			o.mu.Unlock()
			if seen {
				o.logger.Debug("identical body already archived",
					zap.String("run_id", runID), zap.String("name", name))
				return
			}
		}
	}
	path := fmt.Sprintf("runs/%s/%s.html", runID, sanitizePath(name))
	if _, err := o.deps.Blobs.PutObject(context.WithoutCancel(ctx), path, "text/html", body); err != nil {
		o.logger.Warn("archive raw body", zap.String("path", path), zap.Error(err))
	}
}

// pruneArchived drops a finished run's digest markers.
func (o *Orchestrator) pruneArchived(runID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for key := range o.archived {
		if strings.HasPrefix(key, runID+"/") {
			delete(o.archived, key)
		}
	}
}

func sanitizePath(name string) string {
	replacer := strings.NewReplacer("/", "_", ":", "_", "#", "_", " ", "_")
	return replacer.Replace(name)
}

// Package app initializes and holds long-lived application services, acting
// as the composition root for the pipeline binaries.
package app

import (
	"context"
	"fmt"
	"time"

	pubsubv2 "cloud.google.com/go/pubsub/v2"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/paddockdata/racepipe/internal/browser"
	"github.com/paddockdata/racepipe/internal/cache"
	"github.com/paddockdata/racepipe/internal/challenge"
	"github.com/paddockdata/racepipe/internal/clock/system"
	"github.com/paddockdata/racepipe/internal/config"
	"github.com/paddockdata/racepipe/internal/dispatcher"
	"github.com/paddockdata/racepipe/internal/fetcher"
	"github.com/paddockdata/racepipe/internal/fetcher/direct"
	"github.com/paddockdata/racepipe/internal/fetcher/hardened"
	"github.com/paddockdata/racepipe/internal/fetcher/stealth"
	sha256hash "github.com/paddockdata/racepipe/internal/hash/sha256"
	"github.com/paddockdata/racepipe/internal/id/uuid"
	"github.com/paddockdata/racepipe/internal/pipeline"
	memorypublisher "github.com/paddockdata/racepipe/internal/publisher/memory"
	pubsubpublisher "github.com/paddockdata/racepipe/internal/publisher/pubsub"
	queuememory "github.com/paddockdata/racepipe/internal/queue/memory"
	"github.com/paddockdata/racepipe/internal/reconcile"
	"github.com/paddockdata/racepipe/internal/scraper"
	"github.com/paddockdata/racepipe/internal/solver/twocaptcha"
	gcsstorage "github.com/paddockdata/racepipe/internal/storage/gcs"
	localstorage "github.com/paddockdata/racepipe/internal/storage/local"
	memorystorage "github.com/paddockdata/racepipe/internal/storage/memory"
	memorystore "github.com/paddockdata/racepipe/internal/store/memory"
	postgresstore "github.com/paddockdata/racepipe/internal/store/postgres"
)

// App holds the shared, long-lived services of the pipeline. It is built
// once at startup and torn down with Close.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Clock        scraper.Clock
	Store        scraper.SessionStore
	Blobs        scraper.BlobStore
	Publisher    scraper.Publisher
	Session      *browser.Session
	Orchestrator *pipeline.Orchestrator
	Dispatcher   *dispatcher.Dispatcher
	Launcher     *Launcher

	closers []func()
}

// Launcher pairs run creation with queued execution for the HTTP surface.
type Launcher struct {
	orch     *pipeline.Orchestrator
	dispatch *dispatcher.Dispatcher
}

// CreateRun registers a new run.
func (l *Launcher) CreateRun(ctx context.Context, trackID, dateKey string) (scraper.PipelineSession, error) {
	return l.orch.CreateRun(ctx, trackID, dateKey)
}

// Launch queues the run for the dispatcher.
func (l *Launcher) Launch(ctx context.Context, runID string) error {
	return l.dispatch.Launch(ctx, runID)
}

// New builds every service the pipeline needs from configuration, failing
// fast when a required backend cannot be reached. The headless browser is
// launched here: every run shares the one session, so clearance earned by
// an early run still covers later ones.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
		Clock:  system.New(),
	}

	store, err := a.buildSessionStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store

	blobs, err := a.buildBlobStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Blobs = blobs

	pub, err := a.buildPublisher(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Publisher = pub

	session, err := browser.NewSession(browser.Config{
		NavigationTimeout: time.Duration(cfg.Browser.NavTimeoutSec) * time.Second,
	}, logger.Named("browser"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("launch browser session: %w", err)
	}
	a.Session = session
	a.closers = append(a.closers, session.Close)

	var resolver *challenge.Resolver
	if cfg.Solver.APIKey != "" {
		solverClient, err := twocaptcha.New(twocaptcha.Config{
			APIKey:       cfg.Solver.APIKey,
			BaseURL:      cfg.Solver.BaseURL,
			PollInterval: time.Duration(cfg.Solver.PollIntervalSec) * time.Second,
			SolveTimeout: time.Duration(cfg.Solver.TimeoutSec) * time.Second,
		}, logger.Named("solver"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("build solver: %w", err)
		}
		resolver = challenge.NewResolver(session, solverClient, logger.Named("challenge"))
	} else {
		logger.Warn("no solver API key configured; challenges will not be cleared")
	}

	chain := a.buildChain(session, resolver)

	var clearer browser.PageClearer
	if resolver != nil {
		clearer = resolver
	}
	warmer := browser.NewWarmer(session, clearer, cfg.Pipeline.BaseURL, logger.Named("warmer"))

	bodyCache := cache.NewMemory(
		cache.WithMaxAge(time.Duration(cfg.Cache.MaxAgeHours)*time.Hour),
		cache.WithClock(a.Clock),
	)

	deps := pipeline.Deps{
		Chain:     chain,
		Cache:     bodyCache,
		Engine:    reconcile.New(),
		Store:     a.Store,
		Blobs:     a.Blobs,
		Publisher: a.Publisher,
		Clock:     a.Clock,
		IDs:       uuid.New(),
		Warmup:    warmer.Warm,
		Hasher:    sha256hash.New(),
		Logger:    logger.Named("pipeline"),
	}
	if resolver != nil {
		deps.Solves = resolver.Solved
	}

	orch, err := pipeline.New(pipeline.Config{
		RunDeadline: cfg.RunDeadline(),
		EntityQPS:   cfg.Pipeline.EntityQPS,
		MinDelay:    time.Duration(cfg.Pipeline.MinDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Pipeline.MaxDelayMs) * time.Millisecond,
		ResultTopic: cfg.Pipeline.ResultTopic,
		Evening:     cfg.Pipeline.Evening,
	}, deps)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}
	a.Orchestrator = orch

	runQueue := queuememory.NewQueue(16)
	a.closers = append(a.closers, runQueue.Close)
	a.Dispatcher = dispatcher.New(runQueue, orch, logger.Named("dispatcher"))
	a.Launcher = &Launcher{orch: orch, dispatch: a.Dispatcher}

	logger.Info("application services initialized",
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("postgres", cfg.DB.DSN != ""),
		zap.Bool("pubsub", cfg.PubSub.ProjectID != ""),
		zap.Bool("solver", cfg.Solver.APIKey != ""),
	)
	return a, nil
}

func (a *App) buildSessionStore(ctx context.Context) (scraper.SessionStore, error) {
	if a.Config.DB.DSN == "" {
		a.Logger.Info("no database DSN configured; keeping runs in memory")
		return memorystore.NewSessionStore(), nil
	}
	store, err := postgresstore.NewSessionStore(ctx, postgresstore.SessionStoreConfig{
		DSN:          a.Config.DB.DSN,
		RunsTable:    a.Config.DB.RunsTable,
		ResultsTable: a.Config.DB.ResultsTable,
		MaxConns:     int32(a.Config.DB.MaxConns),
		MinConns:     int32(a.Config.DB.MinConns),
	})
	if err != nil {
		return nil, fmt.Errorf("connect session store: %w", err)
	}
	a.closers = append(a.closers, store.Close)
	return store, nil
}

func (a *App) buildBlobStore(ctx context.Context) (scraper.BlobStore, error) {
	switch a.Config.Storage.Backend {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		return gcsstorage.New(client, gcsstorage.Config{Bucket: a.Config.Storage.GCSBucket})
	case "local":
		return localstorage.New(localstorage.Config{BaseDir: a.Config.Storage.BaseDir})
	case "memory":
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", a.Config.Storage.Backend)
	}
}

func (a *App) buildPublisher(ctx context.Context) (scraper.Publisher, error) {
	if a.Config.PubSub.ProjectID == "" || a.Config.PubSub.TopicName == "" {
		a.Logger.Info("no pubsub configured; keeping results in memory")
		return memorypublisher.New(), nil
	}
	client, err := pubsubv2.NewClient(ctx, a.Config.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	return pubsubpublisher.New(client.Publisher(a.Config.PubSub.TopicName)), nil
}

// buildChain orders strategies cheapest first. The hardened strategy gets a
// longer navigation budget than the shared session: it exists for pages the
// stealth render already failed on.
func (a *App) buildChain(session *browser.Session, resolver *challenge.Resolver) *fetcher.Chain {
	strategies := []fetcher.Strategy{
		{Name: "direct", Fetcher: direct.New(direct.Config{
			UserAgent: session.Fingerprint().UserAgent,
			Timeout:   20 * time.Second,
		})},
		{Name: "stealth", Fetcher: stealth.New(session)},
		{Name: "hardened", Fetcher: hardened.New(hardened.Config{
			NavigationTimeout: time.Duration(a.Config.Browser.NavTimeoutSec+30) * time.Second,
		})},
	}
	var chainResolver fetcher.ChallengeResolver
	if resolver != nil {
		chainResolver = resolver
	}
	return fetcher.NewChain(strategies, chainResolver, a.Logger.Named("chain"))
}

// Close tears down services in reverse construction order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

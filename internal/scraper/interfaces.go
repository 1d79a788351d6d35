package scraper

import (
	"context"
	"time"
)

// Fetcher retrieves one resource. Both individual strategies and the full
// chain satisfy this.
type Fetcher interface {
	Fetch(ctx context.Context, target ResourceTarget) (FetchResult, error)
}

// SolveRequest carries the inputs for an external captcha solve.
type SolveRequest struct {
	SiteKey   string
	PageURL   string
	RQData    string
	UserAgent string
}

// Solver is the abstract captcha-solving capability. Calls are long-latency
// (tens of seconds) and may fail; callers decide whether to retry the
// surrounding fetch, never the solve itself.
type Solver interface {
	Solve(ctx context.Context, req SolveRequest) (string, error)
}

// SessionStore persists pipeline sessions and finalized run results.
type SessionStore interface {
	CreateRun(ctx context.Context, session PipelineSession) error
	GetRun(ctx context.Context, runID string) (PipelineSession, error)
	UpdateRun(ctx context.Context, session PipelineSession) error
	SaveResult(ctx context.Context, result RunResult) error
	GetResult(ctx context.Context, runID string) (RunResult, error)
}

// ResponseCache is the freshness-bounded per-(entity, date) payload store.
// A hit must short-circuit all network and browser activity for the entity.
type ResponseCache interface {
	Get(entityKey, dateKey string) ([]byte, bool)
	Put(entityKey, dateKey string, payload []byte)
}

// BlobStore archives raw fetched artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Hasher digests raw bodies for archive deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Publisher hands finalized results off to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (injectable for tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/paddockdata/racepipe/internal/scraper"
	storememory "github.com/paddockdata/racepipe/internal/store/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeLauncher struct {
	mu       sync.Mutex
	store    *storememory.SessionStore
	launched chan string
}

func (l *fakeLauncher) CreateRun(ctx context.Context, trackID, dateKey string) (scraper.PipelineSession, error) {
	session := scraper.PipelineSession{
		ID:      "run-1",
		TrackID: trackID,
		DateKey: dateKey,
		Status:  scraper.RunCreated,
	}
	if err := l.store.CreateRun(ctx, session); err != nil {
		return scraper.PipelineSession{}, err
	}
	return session, nil
}

func (l *fakeLauncher) Launch(_ context.Context, runID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.launched != nil {
		l.launched <- runID
	}
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeLauncher, *storememory.SessionStore) {
	t.Helper()
	store := storememory.NewSessionStore()
	launcher := &fakeLauncher{store: store, launched: make(chan string, 1)}
	clock := fixedClock{now: time.Date(2025, 9, 5, 12, 0, 0, 0, time.UTC)}
	srv := httptest.NewServer(NewServer(launcher, store, clock, zap.NewNop()).Handler())
	t.Cleanup(srv.Close)
	return srv, launcher, store
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_SubmitRunAcceptsAndLaunches(t *testing.T) {
	t.Parallel()

	srv, launcher, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/v1/runs", "application/json",
		strings.NewReader(`{"track_id":"dmr","date_key":"2025-09-05"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "run-1", body["run_id"])

	select {
	case runID := <-launcher.launched:
		require.Equal(t, "run-1", runID)
	case <-time.After(2 * time.Second):
		t.Fatal("run was never launched")
	}
}

func TestServer_SubmitRunDefaultsDateToToday(t *testing.T) {
	t.Parallel()

	srv, _, store := newTestServer(t)
	resp, err := http.Post(srv.URL+"/v1/runs", "application/json",
		strings.NewReader(`{"track_id":"DMR"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	session, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, "2025-09-05", session.DateKey)
}

func TestServer_SubmitRunValidation(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	tests := []struct {
		name string
		body string
	}{
		{"missing track", `{"date_key":"2025-09-05"}`},
		{"bad date", `{"track_id":"DMR","date_key":"09/05/2025"}`},
		{"invalid json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/v1/runs", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestServer_RunStatus(t *testing.T) {
	t.Parallel()

	srv, _, store := newTestServer(t)
	require.NoError(t, store.CreateRun(context.Background(), scraper.PipelineSession{
		ID:          "run-9",
		TrackID:     "DMR",
		DateKey:     "2025-09-05",
		Status:      scraper.RunRunning,
		ProgressPct: 55,
	}))

	resp, err := http.Get(srv.URL + "/v1/runs/run-9/status")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Run scraper.PipelineSession `json:"run"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, 55, body.Run.ProgressPct)
	require.Equal(t, scraper.RunRunning, body.Run.Status)
}

func TestServer_RunStatusNotFound(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/v1/runs/missing/status")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_RunResultLifecycle(t *testing.T) {
	t.Parallel()

	srv, _, store := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, scraper.PipelineSession{
		ID:      "run-9",
		TrackID: "DMR",
		DateKey: "2025-09-05",
		Status:  scraper.RunRunning,
	}))

	// Still running: the result endpoint reports a conflict.
	resp, err := http.Get(srv.URL + "/v1/runs/run-9/result")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	session, err := store.GetRun(ctx, "run-9")
	require.NoError(t, err)
	session.Status = scraper.RunCompleted
	require.NoError(t, store.UpdateRun(ctx, session))
	require.NoError(t, store.SaveResult(ctx, scraper.RunResult{
		RunID:   "run-9",
		TrackID: "DMR",
		DateKey: "2025-09-05",
		Records: []scraper.ReconciledRecord{{EntityKey: "DMR/1/Cavalry Charge", Score: 100}},
	}))

	resp, err = http.Get(srv.URL + "/v1/runs/run-9/result")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result scraper.RunResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Len(t, result.Records, 1)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

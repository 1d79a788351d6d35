package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paddockdata/racepipe/internal/scraper"
)

func session(id string) scraper.PipelineSession {
	now := time.Date(2025, 9, 5, 12, 0, 0, 0, time.UTC)
	return scraper.PipelineSession{
		ID:        id,
		DateKey:   "2025-09-05",
		TrackID:   "DMR",
		Status:    scraper.RunCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSessionStore_CreateGetUpdate(t *testing.T) {
	t.Parallel()

	store := NewSessionStore()
	ctx := context.Background()

	require.NoError(t, store.CreateRun(ctx, session("run-1")))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, scraper.RunCreated, got.Status)

	got.Status = scraper.RunRunning
	got.ProgressPct = 15
	require.NoError(t, store.UpdateRun(ctx, got))

	got, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, scraper.RunRunning, got.Status)
	require.Equal(t, 15, got.ProgressPct)
}

func TestSessionStore_DuplicateCreateRejected(t *testing.T) {
	t.Parallel()

	store := NewSessionStore()
	ctx := context.Background()

	require.NoError(t, store.CreateRun(ctx, session("run-1")))
	require.Error(t, store.CreateRun(ctx, session("run-1")))
}

func TestSessionStore_UnknownRun(t *testing.T) {
	t.Parallel()

	store := NewSessionStore()
	ctx := context.Background()

	_, err := store.GetRun(ctx, "missing")
	require.ErrorIs(t, err, scraper.ErrRunNotFound)

	err = store.UpdateRun(ctx, session("missing"))
	require.ErrorIs(t, err, scraper.ErrRunNotFound)

	_, err = store.GetResult(ctx, "missing")
	require.ErrorIs(t, err, scraper.ErrRunNotFound)
}

func TestSessionStore_SaveAndGetResult(t *testing.T) {
	t.Parallel()

	store := NewSessionStore()
	ctx := context.Background()

	result := scraper.RunResult{
		RunID:   "run-1",
		DateKey: "2025-09-05",
		TrackID: "DMR",
		Records: []scraper.ReconciledRecord{
			{EntityKey: "DMR/1/Cavalry Charge", Consistency: scraper.ConsistencyScored, Score: 85},
		},
	}
	require.NoError(t, store.SaveResult(ctx, result))

	got, err := store.GetResult(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got.Records, 1)
	require.Equal(t, "DMR/1/Cavalry Charge", got.Records[0].EntityKey)
}

package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/paddockdata/racepipe/internal/config"
	memorypublisher "github.com/paddockdata/racepipe/internal/publisher/memory"
	localstorage "github.com/paddockdata/racepipe/internal/storage/local"
	memorystorage "github.com/paddockdata/racepipe/internal/storage/memory"
	memorystore "github.com/paddockdata/racepipe/internal/store/memory"
)

func newTestApp(cfg config.Config) *App {
	return &App{Config: cfg, Logger: zap.NewNop()}
}

func TestBuildSessionStoreDefaultsToMemory(t *testing.T) {
	t.Parallel()

	a := newTestApp(config.Config{})
	store, err := a.buildSessionStore(context.Background())
	require.NoError(t, err)
	require.IsType(t, &memorystore.SessionStore{}, store)
}

func TestBuildBlobStoreBackends(t *testing.T) {
	t.Parallel()

	t.Run("memory", func(t *testing.T) {
		t.Parallel()

		a := newTestApp(config.Config{Storage: config.StorageConfig{Backend: "memory"}})
		blobs, err := a.buildBlobStore(context.Background())
		require.NoError(t, err)
		require.IsType(t, &memorystorage.BlobStore{}, blobs)
	})

	t.Run("local", func(t *testing.T) {
		t.Parallel()

		a := newTestApp(config.Config{Storage: config.StorageConfig{
			Backend: "local",
			BaseDir: t.TempDir(),
		}})
		blobs, err := a.buildBlobStore(context.Background())
		require.NoError(t, err)
		require.IsType(t, &localstorage.BlobStore{}, blobs)
	})

	t.Run("unknown", func(t *testing.T) {
		t.Parallel()

		a := newTestApp(config.Config{Storage: config.StorageConfig{Backend: "s3"}})
		_, err := a.buildBlobStore(context.Background())
		require.Error(t, err)
	})
}

func TestBuildPublisherDefaultsToMemory(t *testing.T) {
	t.Parallel()

	a := newTestApp(config.Config{})
	pub, err := a.buildPublisher(context.Background())
	require.NoError(t, err)
	require.IsType(t, &memorypublisher.Publisher{}, pub)
}

func TestCloseRunsClosersInReverseOrder(t *testing.T) {
	t.Parallel()

	a := newTestApp(config.Config{})
	var order []int
	a.closers = append(a.closers,
		func() { order = append(order, 1) },
		func() { order = append(order, 2) },
	)
	a.Close()
	require.Equal(t, []int{2, 1}, order)
	require.Nil(t, a.closers)
}

package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutAndGet(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "runs/run-1/race_card.html", "text/html", []byte("<html></html>"))
	require.NoError(t, err)
	require.Equal(t, "memory://runs/run-1/race_card.html", uri)

	data, ok := store.Object("runs/run-1/race_card.html")
	require.True(t, ok)
	require.Equal(t, []byte("<html></html>"), data)
}

func TestBlobStoreCopiesPayload(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("original")
	_, err := store.PutObject(context.Background(), "p", "text/plain", payload)
	require.NoError(t, err)

	payload[0] = 'X'
	data, ok := store.Object("p")
	require.True(t, ok)
	require.Equal(t, []byte("original"), data)
}

func TestBlobStoreRequiresPath(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.PutObject(context.Background(), "", "text/plain", []byte("x"))
	require.Error(t, err)
}

package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paddockdata/racepipe/internal/scraper"
)

func TestPublisherRecordsResults(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "racepipe.results", scraper.RunResult{RunID: "run-1"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)

	id2, err := pub.Publish(context.Background(), "racepipe.results", scraper.RunResult{RunID: "run-2"})
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "racepipe.results", msgs[0].Topic)
	require.Equal(t, "run-1", msgs[0].Result.RunID)
	require.Equal(t, "run-2", msgs[1].Result.RunID)

	msgs[0].Topic = "modified"
	require.Equal(t, "racepipe.results", pub.Messages()[0].Topic, "Messages must return a copy")
}

func TestPublisherRejectsForeignPayloads(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "racepipe.results", map[string]string{"run_id": "run-1"})
	require.Error(t, err)
	require.Empty(t, pub.Messages())
}

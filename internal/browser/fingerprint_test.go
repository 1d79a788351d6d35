package browser

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRandomFingerprint_DrawsFromKnownPools(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		fp := RandomFingerprint(rng)
		require.Contains(t, userAgents, fp.UserAgent)
		require.Contains(t, viewports, [2]int{fp.Width, fp.Height})
		require.Contains(t, timezones, fp.Timezone)
		require.Equal(t, "en-US", fp.Locale)
	}
}

func TestRandomFingerprint_Varies(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		seen[RandomFingerprint(rng).UserAgent] = true
	}
	require.Greater(t, len(seen), 1)
}

func TestHumanDelay_StaysInBounds(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(3))
	min, max := time.Second, 3*time.Second
	for i := 0; i < 100; i++ {
		d := HumanDelay(rng, min, max)
		require.GreaterOrEqual(t, d, min)
		require.Less(t, d, max)
	}
}

func TestHumanDelay_DegenerateRange(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(3))
	require.Equal(t, time.Second, HumanDelay(rng, time.Second, time.Second))
	require.Equal(t, time.Second, HumanDelay(rng, time.Second, time.Millisecond))
}

package fetcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/paddockdata/racepipe/internal/scraper"
)

type scriptedFetcher struct {
	results []scraper.FetchResult
	errs    []error
	calls   int
}

func (f *scriptedFetcher) Fetch(_ context.Context, _ scraper.ResourceTarget) (scraper.FetchResult, error) {
	i := f.calls
	f.calls++
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return f.results[i], err
}

type fakeResolver struct {
	cleared bool
	err     error
	calls   int
	lastURL string
}

func (r *fakeResolver) Resolve(_ context.Context, target scraper.ResourceTarget, _ scraper.FetchResult) (bool, error) {
	r.calls++
	r.lastURL = target.URL
	return r.cleared, r.err
}

func target() scraper.ResourceTarget {
	return scraper.ResourceTarget{
		EntityKey: "DMR/1/Cavalry Charge",
		URL:       "https://www.equibase.com/profiles/Results.cfm?refno=1&registry=T",
		Intent:    scraper.IntentProfile,
	}
}

func TestChain_FirstSuccessStopsEscalation(t *testing.T) {
	t.Parallel()

	direct := &scriptedFetcher{results: []scraper.FetchResult{{Status: scraper.StatusSuccess, Body: []byte("ok")}}}
	stealth := &scriptedFetcher{results: []scraper.FetchResult{{Status: scraper.StatusSuccess}}}
	hardened := &scriptedFetcher{results: []scraper.FetchResult{{Status: scraper.StatusSuccess}}}

	chain := NewChain([]Strategy{
		{Name: "direct", Fetcher: direct},
		{Name: "stealth", Fetcher: stealth},
		{Name: "hardened", Fetcher: hardened},
	}, nil, zap.NewNop())

	res, err := chain.Fetch(context.Background(), target())
	require.NoError(t, err)
	require.Equal(t, scraper.StatusSuccess, res.Status)
	require.Equal(t, "direct", res.StrategyUsed)
	require.Equal(t, 1, direct.calls)
	require.Zero(t, stealth.calls)
	require.Zero(t, hardened.calls)
}

func TestChain_TransportErrorEscalatesImmediately(t *testing.T) {
	t.Parallel()

	direct := &scriptedFetcher{
		results: []scraper.FetchResult{{}},
		errs:    []error{errors.New("connection refused")},
	}
	stealth := &scriptedFetcher{results: []scraper.FetchResult{{Status: scraper.StatusSuccess, Body: []byte("rendered")}}}

	chain := NewChain([]Strategy{
		{Name: "direct", Fetcher: direct},
		{Name: "stealth", Fetcher: stealth},
	}, nil, zap.NewNop())

	res, err := chain.Fetch(context.Background(), target())
	require.NoError(t, err)
	require.Equal(t, "stealth", res.StrategyUsed)
	// No intra-strategy retries.
	require.Equal(t, 1, direct.calls)
}

func TestChain_ChallengeTriggersResolutionBeforeEscalation(t *testing.T) {
	t.Parallel()

	direct := &scriptedFetcher{results: []scraper.FetchResult{
		{Status: scraper.StatusChallenge},
		{Status: scraper.StatusSuccess, Body: []byte("after clearance")},
	}}
	stealth := &scriptedFetcher{results: []scraper.FetchResult{{Status: scraper.StatusSuccess}}}
	resolver := &fakeResolver{cleared: true}

	chain := NewChain([]Strategy{
		{Name: "direct", Fetcher: direct},
		{Name: "stealth", Fetcher: stealth},
	}, resolver, zap.NewNop())

	res, err := chain.Fetch(context.Background(), target())
	require.NoError(t, err)
	require.Equal(t, 1, resolver.calls)
	require.Equal(t, "direct", res.StrategyUsed)
	require.Equal(t, []byte("after clearance"), res.Body)
	require.Zero(t, stealth.calls, "resolution must be attempted before escalating")
}

func TestChain_FailedResolutionEscalates(t *testing.T) {
	t.Parallel()

	direct := &scriptedFetcher{results: []scraper.FetchResult{{Status: scraper.StatusChallenge}}}
	stealth := &scriptedFetcher{results: []scraper.FetchResult{{Status: scraper.StatusSuccess, Body: []byte("stealth ok")}}}
	resolver := &fakeResolver{cleared: false, err: scraper.ErrChallengeUnresolved}

	chain := NewChain([]Strategy{
		{Name: "direct", Fetcher: direct},
		{Name: "stealth", Fetcher: stealth},
	}, resolver, zap.NewNop())

	res, err := chain.Fetch(context.Background(), target())
	require.NoError(t, err)
	require.Equal(t, "stealth", res.StrategyUsed)
	require.Equal(t, 1, direct.calls)
}

func TestChain_ExhaustionReturnsLastNonSuccess(t *testing.T) {
	t.Parallel()

	direct := &scriptedFetcher{results: []scraper.FetchResult{{Status: scraper.StatusBlocked}}}
	stealth := &scriptedFetcher{results: []scraper.FetchResult{{Status: scraper.StatusChallenge}}}
	hardened := &scriptedFetcher{results: []scraper.FetchResult{{Status: scraper.StatusTimeout}}}

	chain := NewChain([]Strategy{
		{Name: "direct", Fetcher: direct},
		{Name: "stealth", Fetcher: stealth},
		{Name: "hardened", Fetcher: hardened},
	}, nil, zap.NewNop())

	res, err := chain.Fetch(context.Background(), target())
	require.NoError(t, err)
	require.Equal(t, scraper.StatusTimeout, res.Status)
	require.Equal(t, "hardened", res.StrategyUsed)
}

func TestChain_NoDataIsSuccess(t *testing.T) {
	t.Parallel()

	direct := &scriptedFetcher{results: []scraper.FetchResult{{Status: scraper.StatusSuccess, NoData: true}}}
	stealth := &scriptedFetcher{results: []scraper.FetchResult{{Status: scraper.StatusSuccess}}}

	chain := NewChain([]Strategy{
		{Name: "direct", Fetcher: direct},
		{Name: "stealth", Fetcher: stealth},
	}, nil, zap.NewNop())

	res, err := chain.Fetch(context.Background(), target())
	require.NoError(t, err)
	require.True(t, res.NoData)
	require.Zero(t, stealth.calls)
}

func TestChain_TimeoutErrorMapsToTimeoutStatus(t *testing.T) {
	t.Parallel()

	direct := &scriptedFetcher{
		results: []scraper.FetchResult{{}},
		errs:    []error{context.DeadlineExceeded},
	}

	chain := NewChain([]Strategy{{Name: "direct", Fetcher: direct}}, nil, zap.NewNop())

	res, err := chain.Fetch(context.Background(), target())
	require.NoError(t, err)
	require.Equal(t, scraper.StatusTimeout, res.Status)
}

func TestChain_CanceledContextStopsChain(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	direct := &scriptedFetcher{results: []scraper.FetchResult{{Status: scraper.StatusSuccess}}}
	chain := NewChain([]Strategy{{Name: "direct", Fetcher: direct}}, nil, zap.NewNop())

	_, err := chain.Fetch(ctx, target())
	require.ErrorIs(t, err, scraper.ErrTransportTimeout)
	require.Zero(t, direct.calls)
}

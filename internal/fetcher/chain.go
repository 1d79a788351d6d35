package fetcher

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/paddockdata/racepipe/internal/metrics"
	"github.com/paddockdata/racepipe/internal/scraper"
)

// ChallengeResolver clears an anti-bot challenge for the target's origin.
// Clearance is session-wide: once cleared, retrying the same strategy is
// expected to succeed because the browsing identity now carries the
// clearance cookies.
type ChallengeResolver interface {
	Resolve(ctx context.Context, target scraper.ResourceTarget, result scraper.FetchResult) (bool, error)
}

// Strategy is one named rung of the chain.
type Strategy struct {
	Name    string
	Fetcher scraper.Fetcher
}

// Chain tries strategies in order, cheapest first, stopping at the first
// Success. There are no intra-strategy retries: a timeout or transport
// error moves straight to the next strategy.
type Chain struct {
	strategies []Strategy
	resolver   ChallengeResolver
	logger     *zap.Logger
}

// NewChain builds a Chain. resolver may be nil, in which case challenge
// results simply escalate to the next strategy.
func NewChain(strategies []Strategy, resolver ChallengeResolver, logger *zap.Logger) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{
		strategies: strategies,
		resolver:   resolver,
		logger:     logger,
	}
}

// Fetch runs the chain for one target. When every strategy fails, the last
// non-success result is returned with a nil error; the caller records the
// entity as a partial failure rather than aborting the run.
func (c *Chain) Fetch(ctx context.Context, target scraper.ResourceTarget) (scraper.FetchResult, error) {
	if len(c.strategies) == 0 {
		return scraper.FetchResult{}, errors.New("no fetch strategies configured")
	}

	var last scraper.FetchResult
	for _, strategy := range c.strategies {
		if err := ctx.Err(); err != nil {
			return last, scraper.ErrTransportTimeout
		}

		result := c.attempt(ctx, strategy, target)
		metrics.ObserveFetch(strategy.Name, string(result.Status), result.Duration)

		if result.OK() {
			return result, nil
		}
		last = result

		if result.Status == scraper.StatusChallenge && c.resolver != nil {
			cleared, err := c.resolver.Resolve(ctx, target, result)
			if err != nil {
				c.logger.Warn("challenge resolution failed",
					zap.String("entity", target.EntityKey),
					zap.String("strategy", strategy.Name),
					zap.Error(err),
				)
			}
			if cleared {
				retried := c.attempt(ctx, strategy, target)
				metrics.ObserveFetch(strategy.Name, string(retried.Status), retried.Duration)
				if retried.OK() {
					return retried, nil
				}
				last = retried
			}
		}

		c.logger.Debug("strategy exhausted, escalating",
			zap.String("entity", target.EntityKey),
			zap.String("strategy", strategy.Name),
			zap.String("status", string(result.Status)),
		)
	}
	return last, nil
}

// attempt runs one strategy and folds transport errors into the closed
// FetchStatus variant instead of letting them escape as Go errors.
func (c *Chain) attempt(ctx context.Context, strategy Strategy, target scraper.ResourceTarget) scraper.FetchResult {
	start := time.Now()
	result, err := strategy.Fetcher.Fetch(ctx, target)
	if err != nil {
		status := scraper.StatusTransportError
		if isTimeout(err) {
			status = scraper.StatusTimeout
		}
		return scraper.FetchResult{
			Status:       status,
			StrategyUsed: strategy.Name,
			Duration:     time.Since(start),
		}
	}
	result.StrategyUsed = strategy.Name
	if result.Duration == 0 {
		result.Duration = time.Since(start)
	}
	return result
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

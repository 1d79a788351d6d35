// Package memory contains an in-memory result sink standing in for the
// broker in tests and single-node deployments.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/paddockdata/racepipe/internal/scraper"
)

// Publisher records run-result handoffs for later inspection.
type Publisher struct {
	mu      sync.RWMutex
	results []PublishedResult
}

// PublishedResult captures one handoff: the topic it was addressed to and
// the typed run result itself.
type PublishedResult struct {
	Topic  string
	Result scraper.RunResult
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the result and returns a pseudo ID. The pipeline only
// hands off run results, so anything else is a wiring mistake and rejected.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	result, ok := payload.(scraper.RunResult)
	if !ok {
		return "", fmt.Errorf("memory publisher expects a run result, got %T", payload)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, PublishedResult{Topic: topic, Result: result})
	return fmt.Sprintf("memory-%d", len(p.results)), nil
}

// Messages returns the recorded handoffs in publish order.
func (p *Publisher) Messages() []PublishedResult {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedResult, len(p.results))
	copy(out, p.results)
	return out
}

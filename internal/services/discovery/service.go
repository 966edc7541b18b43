package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fetcharr/fetcharr/internal/models"
)

// Service fans a search out across all configured backends in parallel and
// merges the results. Backend order fixes candidate priority for tie-breaks.
type Service struct {
	backends []Backend
	timeout  time.Duration
	logger   *logrus.Logger
}

// NewService creates a discovery service with an aggregate search timeout,
// so a slow backend cannot stall the whole scrape.
func NewService(backends []Backend, timeout time.Duration, logger *logrus.Logger) *Service {
	return &Service{
		backends: backends,
		timeout:  timeout,
		logger:   logger,
	}
}

// Search queries every backend concurrently and returns the merged,
// deduplicated candidate set. Backend failures are logged and contribute
// zero candidates.
func (s *Service) Search(ctx context.Context, req Request) []models.Candidate {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		priority   int
		backend    string
		candidates []models.Candidate
	}

	results := make(chan result, len(s.backends))
	var wg sync.WaitGroup

	for i, backend := range s.backends {
		wg.Add(1)
		go func(priority int, b Backend) {
			defer wg.Done()

			start := time.Now()
			candidates, err := b.Search(ctx, req)
			if err != nil {
				s.logger.WithError(err).WithField("backend", b.Name()).Warn("Discovery backend failed")
				return
			}

			s.logger.WithFields(logrus.Fields{
				"backend":  b.Name(),
				"count":    len(candidates),
				"duration": time.Since(start).Round(10 * time.Millisecond),
			}).Debug("Discovery backend returned")

			results <- result{priority: priority, backend: b.Name(), candidates: candidates}
		}(i, backend)
	}

	wg.Wait()
	close(results)

	collected := make([]result, 0, len(s.backends))
	for r := range results {
		collected = append(collected, r)
	}
	// Channel order is nondeterministic; restore configured backend order so
	// ranking tie-breaks stay stable.
	for i := 1; i < len(collected); i++ {
		for j := i; j > 0 && collected[j-1].priority > collected[j].priority; j-- {
			collected[j-1], collected[j] = collected[j], collected[j-1]
		}
	}

	seen := make(map[string]struct{})
	var merged []models.Candidate
	for _, r := range collected {
		for _, c := range r.candidates {
			c.Backend = r.backend
			c.BackendPriority = r.priority
			if c.SourceID != "" {
				if _, dup := seen[c.SourceID]; dup {
					continue
				}
				seen[c.SourceID] = struct{}{}
			}
			merged = append(merged, c)
		}
	}

	return merged
}

// Package pipeline drives media items through the acquisition stages:
// metadata resolution, source discovery, provider resolution and
// materialization.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/fetcharr/fetcharr/internal/materializer"
	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/resolver"
	"github.com/fetcharr/fetcharr/internal/services/debrid"
	"github.com/fetcharr/fetcharr/internal/services/discovery"
	"github.com/fetcharr/fetcharr/internal/services/mediaserver"
	"github.com/fetcharr/fetcharr/internal/services/metadata"
)

// Pipeline owns item and episode lifecycles. One advancement call moves a
// record exactly one stage; the scheduler decides when to call it again.
type Pipeline struct {
	db           *models.Database
	metadata     metadata.Service
	discovery    *discovery.Service
	resolver     *resolver.Resolver
	materializer *materializer.Materializer
	providers    []debrid.ProviderClient
	refresher    mediaserver.Refresher
	logger       *logrus.Logger

	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration

	// Ranked candidate lists live here between the scrape and resolve
	// stages. Candidates are ephemeral; after a restart the resolve stage
	// simply re-scrapes.
	candidates *gocache.Cache

	mu    sync.Mutex
	locks map[string]*recordLock
}

// recordLock is one per-record mutex plus the number of holders and waiters,
// so the entry can be dropped once nobody references it
type recordLock struct {
	mu   sync.Mutex
	refs int
}

// Options are the pipeline's tunables
type Options struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	CandidateTTL   time.Duration
}

// NewPipeline creates a pipeline
func NewPipeline(
	db *models.Database,
	meta metadata.Service,
	disc *discovery.Service,
	res *resolver.Resolver,
	mat *materializer.Materializer,
	providers []debrid.ProviderClient,
	refresher mediaserver.Refresher,
	opts Options,
	logger *logrus.Logger,
) *Pipeline {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Minute
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 6 * time.Hour
	}
	if opts.CandidateTTL <= 0 {
		opts.CandidateTTL = 15 * time.Minute
	}

	return &Pipeline{
		db:             db,
		metadata:       meta,
		discovery:      disc,
		resolver:       res,
		materializer:   mat,
		providers:      providers,
		refresher:      refresher,
		logger:         logger,
		maxAttempts:    opts.MaxAttempts,
		initialBackoff: opts.InitialBackoff,
		maxBackoff:     opts.MaxBackoff,
		candidates:     gocache.New(opts.CandidateTTL, 5*time.Minute),
		locks:          make(map[string]*recordLock),
	}
}

// lock acquires the per-record mutex so an item is never advanced by two
// workers (or a worker and an operator command) concurrently. The map entry
// lives only while the lock is held or contended.
func (p *Pipeline) lock(key string) func() {
	p.mu.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &recordLock{}
		p.locks[key] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, key)
		}
		p.mu.Unlock()
	}
}

func itemKey(id uint64) string    { return fmt.Sprintf("item:%d", id) }
func episodeKey(id uint64) string { return fmt.Sprintf("episode:%d", id) }

// backoffDelay computes the delay before automatic retry attempt n
func (p *Pipeline) backoffDelay(attempt int) time.Duration {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.initialBackoff
	policy.MaxInterval = p.maxBackoff
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0

	delay := policy.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = policy.NextBackOff()
	}
	return delay
}

// Providers exposes the configured provider clients in priority order
func (p *Pipeline) Providers() []debrid.ProviderClient {
	return p.providers
}

// refresh signals the media server without letting the outcome affect state
func (p *Pipeline) refresh(ctx context.Context) {
	if p.refresher == nil {
		return
	}
	go p.refresher.Refresh(context.WithoutCancel(ctx))
}

// Package scheduler periodically scans for due records and fans them out to
// a fixed worker pool.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/pipeline"
)

var (
	busyWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fetcharr_busy_workers",
		Help: "Workers currently advancing a record.",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fetcharr_queue_depth",
		Help: "Records waiting for a worker.",
	})
)

type job struct {
	episode bool
	id      uint64
}

// store is the slice of the database the scan needs
type store interface {
	GetDueItems(t time.Time) ([]*models.MediaItem, error)
	GetDueEpisodes(t time.Time) ([]*models.Episode, error)
}

// Scheduler drives the pipeline: a cron scan finds due items and episodes
// and workers advance them one stage at a time. Per-record ordering is the
// pipeline's concern; the pool only bounds concurrency.
type Scheduler struct {
	db       store
	pipeline *pipeline.Pipeline
	cron     *cron.Cron
	logger   *logrus.Logger

	scanSpec string
	workers  int

	jobs   chan job
	kick   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. scanSpec is a cron expression; workers
// bounds concurrent stage executions.
func NewScheduler(db store, p *pipeline.Pipeline, scanSpec string, workers int, logger *logrus.Logger) *Scheduler {
	if workers <= 0 {
		workers = 4
	}
	return &Scheduler{
		db:       db,
		pipeline: p,
		cron:     cron.New(),
		logger:   logger,
		scanSpec: scanSpec,
		workers:  workers,
		jobs:     make(chan job, workers*16),
		kick:     make(chan struct{}, 1),
	}
}

// Start launches the workers and the periodic scan
func (s *Scheduler) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	s.wg.Add(1)
	go s.kickLoop(ctx)

	if _, err := s.cron.AddFunc(s.scanSpec, func() { s.scan(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("invalid scan schedule %q: %w", s.scanSpec, err)
	}
	s.cron.Start()

	s.logger.WithFields(logrus.Fields{
		"schedule": s.scanSpec,
		"workers":  s.workers,
	}).Info("Scheduler started")

	// First scan runs immediately rather than waiting a full interval.
	s.Kick()
	return nil
}

// Stop halts the scan and waits for in-flight work to finish
func (s *Scheduler) Stop() {
	cronCtx := s.cron.Stop()
	<-cronCtx.Done()
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// Kick requests an immediate scan, used after operator actions so new work
// is picked up without waiting for the next tick
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Scheduler) kickLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
			s.scan(ctx)
		}
	}
}

// scan enqueues every due record. A full queue drops the remainder; the next
// tick picks them up again.
func (s *Scheduler) scan(ctx context.Context) {
	now := time.Now()

	// One side failing to list must not starve the other for the tick, so
	// both scans always run.
	items, err := s.db.GetDueItems(now)
	if err != nil {
		s.logger.WithError(err).Error("Failed to scan items")
	}
	episodes, err := s.db.GetDueEpisodes(now)
	if err != nil {
		s.logger.WithError(err).Error("Failed to scan episodes")
	}

	enqueued := 0
	for _, item := range items {
		if s.enqueue(ctx, job{id: item.ID}) {
			enqueued++
		}
	}
	for _, ep := range episodes {
		if s.enqueue(ctx, job{episode: true, id: ep.ID}) {
			enqueued++
		}
	}

	if enqueued > 0 {
		s.logger.WithFields(logrus.Fields{
			"items":    len(items),
			"episodes": len(episodes),
			"enqueued": enqueued,
		}).Debug("Scan completed")
	}
}

func (s *Scheduler) enqueue(ctx context.Context, j job) bool {
	select {
	case <-ctx.Done():
		return false
	case s.jobs <- j:
		queueDepth.Inc()
		return true
	default:
		return false
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.jobs:
			queueDepth.Dec()
			busyWorkers.Inc()
			s.run(ctx, j)
			busyWorkers.Dec()
		}
	}
}

func (s *Scheduler) run(ctx context.Context, j job) {
	var err error
	if j.episode {
		err = s.pipeline.AdvanceEpisode(ctx, j.id)
	} else {
		err = s.pipeline.Advance(ctx, j.id)
	}
	if err != nil && ctx.Err() == nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"id":      j.id,
			"episode": j.episode,
		}).Error("Advancement failed")
	}
}

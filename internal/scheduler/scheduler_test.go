package scheduler

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fetcharr/fetcharr/internal/models"
)

type fakeStore struct {
	items    []*models.MediaItem
	itemsErr error
	episodes []*models.Episode
	epsErr   error
}

func (f *fakeStore) GetDueItems(t time.Time) ([]*models.MediaItem, error) {
	return f.items, f.itemsErr
}

func (f *fakeStore) GetDueEpisodes(t time.Time) ([]*models.Episode, error) {
	return f.episodes, f.epsErr
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func drain(s *Scheduler) []job {
	var jobs []job
	for {
		select {
		case j := <-s.jobs:
			jobs = append(jobs, j)
		default:
			return jobs
		}
	}
}

func TestScanEnqueuesItemsAndEpisodes(t *testing.T) {
	store := &fakeStore{
		items:    []*models.MediaItem{{ID: 1}, {ID: 2}},
		episodes: []*models.Episode{{ID: 7}},
	}
	s := NewScheduler(store, nil, "@every 1m", 2, testLogger())

	s.scan(context.Background())

	jobs := drain(s)
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs enqueued, got %d", len(jobs))
	}
	episodes := 0
	for _, j := range jobs {
		if j.episode {
			episodes++
		}
	}
	if episodes != 1 {
		t.Errorf("expected 1 episode job, got %d", episodes)
	}
}

func TestScanSurvivesItemListFailure(t *testing.T) {
	store := &fakeStore{
		itemsErr: errors.New("store unavailable"),
		episodes: []*models.Episode{{ID: 7}, {ID: 8}},
	}
	s := NewScheduler(store, nil, "@every 1m", 2, testLogger())

	s.scan(context.Background())

	jobs := drain(s)
	if len(jobs) != 2 {
		t.Fatalf("expected episode jobs despite the item scan failing, got %d", len(jobs))
	}
	for _, j := range jobs {
		if !j.episode {
			t.Errorf("unexpected item job %d", j.id)
		}
	}
}

func TestScanSurvivesEpisodeListFailure(t *testing.T) {
	store := &fakeStore{
		items:  []*models.MediaItem{{ID: 1}},
		epsErr: errors.New("store unavailable"),
	}
	s := NewScheduler(store, nil, "@every 1m", 2, testLogger())

	s.scan(context.Background())

	jobs := drain(s)
	if len(jobs) != 1 || jobs[0].episode {
		t.Fatalf("expected the item job despite the episode scan failing, got %v", jobs)
	}
}

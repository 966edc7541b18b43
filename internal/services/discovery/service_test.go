package discovery

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fetcharr/fetcharr/internal/models"
)

type stubBackend struct {
	name       string
	candidates []models.Candidate
	err        error
	delay      time.Duration
}

func (s *stubBackend) Name() string { return s.name }
func (s *stubBackend) Search(ctx context.Context, req Request) ([]models.Candidate, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.candidates, s.err
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestSearchMergesAndDeduplicates(t *testing.T) {
	primary := &stubBackend{name: "primary", candidates: []models.Candidate{
		{Title: "a", SourceID: "hash-a"},
		{Title: "shared", SourceID: "hash-shared"},
	}}
	secondary := &stubBackend{name: "secondary", candidates: []models.Candidate{
		{Title: "shared-dup", SourceID: "hash-shared"},
		{Title: "b", SourceID: "hash-b"},
	}}

	s := NewService([]Backend{primary, secondary}, time.Second, testLogger())
	merged := s.Search(context.Background(), Request{Title: "x"})

	if len(merged) != 3 {
		t.Fatalf("expected 3 candidates after dedupe, got %d", len(merged))
	}

	// The first backend wins the duplicate and order follows configuration.
	if merged[1].Title != "shared" || merged[1].Backend != "primary" {
		t.Errorf("duplicate should keep the higher priority backend's copy: %+v", merged[1])
	}
	if merged[0].BackendPriority != 0 || merged[2].BackendPriority != 1 {
		t.Error("backend priorities not assigned in configured order")
	}
}

func TestSearchSurvivesFailingBackend(t *testing.T) {
	broken := &stubBackend{name: "broken", err: errors.New("boom")}
	working := &stubBackend{name: "working", candidates: []models.Candidate{
		{Title: "a", SourceID: "hash-a"},
	}}

	s := NewService([]Backend{broken, working}, time.Second, testLogger())
	merged := s.Search(context.Background(), Request{Title: "x"})

	if len(merged) != 1 {
		t.Fatalf("expected the working backend's candidate, got %d", len(merged))
	}
	if merged[0].Backend != "working" {
		t.Errorf("candidate attributed to %s", merged[0].Backend)
	}
}

func TestSearchTimeoutCutsSlowBackend(t *testing.T) {
	slow := &stubBackend{name: "slow", delay: time.Second, candidates: []models.Candidate{
		{Title: "late", SourceID: "hash-late"},
	}}
	fast := &stubBackend{name: "fast", candidates: []models.Candidate{
		{Title: "a", SourceID: "hash-a"},
	}}

	s := NewService([]Backend{slow, fast}, 50*time.Millisecond, testLogger())
	merged := s.Search(context.Background(), Request{Title: "x"})

	if len(merged) != 1 || merged[0].Backend != "fast" {
		t.Errorf("expected only the fast backend's result, got %+v", merged)
	}
}

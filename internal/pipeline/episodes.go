package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fetcharr/fetcharr/internal/materializer"
	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/services/discovery"
)

// AdvanceEpisode moves an episode one stage forward. Episodes run the same
// stage sequence as movies but independently of their siblings; one stalled
// episode never blocks the rest of the season.
func (p *Pipeline) AdvanceEpisode(ctx context.Context, episodeID uint64) error {
	unlock := p.lock(episodeKey(episodeID))
	defer unlock()

	ep, err := p.db.GetEpisodeByID(episodeID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}

	if !ep.Due(time.Now()) {
		return nil
	}

	show, err := p.db.GetItemByID(ep.ShowID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil // orphan, owner deleted mid-scan
		}
		return err
	}

	log := p.logger.WithFields(logrus.Fields{
		"show":    show.Title,
		"episode": fmt.Sprintf("S%02dE%02d", ep.Season, ep.Episode),
		"state":   ep.State,
	})

	switch ep.State {
	case models.StateRequested:
		return p.scrapeEpisode(ctx, show, ep, log)
	case models.StateScraped:
		return p.resolveEpisode(ctx, show, ep, log)
	case models.StateDownloaded:
		return p.materializeEpisode(ctx, show, ep, log)
	case models.StateSymlinked:
		return p.completeEpisode(ctx, ep, log)
	default:
		return nil
	}
}

func episodeRequest(show *models.MediaItem, ep *models.Episode) discovery.Request {
	season, number := ep.Season, ep.Episode
	return discovery.Request{
		Title:     show.Title,
		Year:      show.Year,
		Kind:      show.Kind,
		CatalogID: show.CatalogID,
		Season:    &season,
		Episode:   &number,
	}
}

// scrapeEpisode discovers and ranks candidates. REQUESTED -> SCRAPED.
func (p *Pipeline) scrapeEpisode(ctx context.Context, show *models.MediaItem, ep *models.Episode, log *logrus.Entry) error {
	ranked, err := p.rankedCandidates(ctx, episodeKey(ep.ID), show, episodeRequest(show, ep), ep.RejectedSources)
	if err != nil {
		return p.failEpisode(ep, err, log)
	}

	ep.ChosenSource = ranked[0].Title
	ep.SourceID = ranked[0].SourceID
	return p.transitionEpisode(ep, models.StateScraped, log)
}

// resolveEpisode realizes the best workable candidate on a provider.
// SCRAPED -> DOWNLOADED.
func (p *Pipeline) resolveEpisode(ctx context.Context, show *models.MediaItem, ep *models.Episode, log *logrus.Entry) error {
	ranked, err := p.rankedCandidates(ctx, episodeKey(ep.ID), show, episodeRequest(show, ep), ep.RejectedSources)
	if err != nil {
		return p.failEpisode(ep, err, log)
	}

	for _, cand := range ranked {
		ref, err := p.resolver.Resolve(ctx, cand, p.providers)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		ep.ChosenSource = cand.Title
		ep.SourceID = ref.SourceID
		ep.Provider = ref.Provider
		ep.ProviderItemID = ref.ItemID
		return p.transitionEpisode(ep, models.StateDownloaded, log)
	}

	return p.failEpisode(ep, fmt.Errorf("%d candidates tried: %w", len(ranked), models.ErrNoResolvableSource), log)
}

// materializeEpisode creates the library entry. DOWNLOADED -> SYMLINKED.
func (p *Pipeline) materializeEpisode(ctx context.Context, show *models.MediaItem, ep *models.Episode, log *logrus.Entry) error {
	season, number := ep.Season, ep.Episode
	path, err := p.materializer.Materialize(ctx, materializer.Target{
		Title:   show.Title,
		Year:    show.Year,
		Kind:    show.Kind,
		Season:  &season,
		Episode: &number,
	}, ep.Ref())

	switch {
	case err == nil:
		ep.MaterializedPath = path
		return p.transitionEpisode(ep, models.StateSymlinked, log)

	case errors.Is(err, models.ErrNoPrincipalFile):
		log.WithField("source", ep.SourceID).Warn("No principal file in source, advancing ranking")
		ep.RejectedSources = append(ep.RejectedSources, ep.SourceID)
		ep.SourceID = ""
		ep.Provider = ""
		ep.ProviderItemID = ""
		ep.ChosenSource = ""
		return p.transitionEpisode(ep, models.StateScraped, log)

	default:
		return p.failEpisode(ep, err, log)
	}
}

// completeEpisode finishes the episode. The parent's aggregate state is
// folded in by its own reconcile pass, never from here, so episode and item
// locks are never held together.
func (p *Pipeline) completeEpisode(ctx context.Context, ep *models.Episode, log *logrus.Entry) error {
	p.refresh(ctx)
	return p.transitionEpisode(ep, models.StateCompleted, log)
}

func (p *Pipeline) transitionEpisode(ep *models.Episode, to models.State, log *logrus.Entry) error {
	from := ep.State
	ep.State = to
	ep.LastError = ""
	ep.NextAttemptAt = time.Time{}
	ep.LastAttemptAt = time.Now()

	if err := p.db.UpdateEpisode(ep); err != nil {
		return fmt.Errorf("commit %s -> %s: %w", from, to, err)
	}

	transitionsTotal.WithLabelValues(string(to)).Inc()
	log.WithField("to", to).Info("Episode advanced")
	return nil
}

func (p *Pipeline) failEpisode(ep *models.Episode, cause error, log *logrus.Entry) error {
	ep.LastError = cause.Error()
	ep.LastAttemptAt = time.Now()

	if models.Retryable(cause) && ep.RetryCount+1 < p.maxAttempts {
		ep.RetryCount++
		ep.NextAttemptAt = time.Now().Add(p.backoffDelay(ep.RetryCount))
		log.WithError(cause).WithFields(logrus.Fields{
			"attempt": ep.RetryCount,
			"next":    ep.NextAttemptAt.Format(time.RFC3339),
		}).Warn("Stage failed, retry scheduled")
	} else {
		ep.State = models.StateFailed
		log.WithError(cause).Error("Episode failed")
	}

	failuresTotal.WithLabelValues(failureKind(cause)).Inc()
	return p.db.UpdateEpisode(ep)
}

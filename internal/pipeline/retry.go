package pipeline

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fetcharr/fetcharr/internal/models"
)

// Operator recovery commands. Each command takes precedence over any pending
// automatic retry: backoff bookkeeping is cleared so the record is due
// immediately.

// Retry applies a recovery mode to one item
func (p *Pipeline) Retry(itemID uint64, mode models.RetryMode) error {
	unlock := p.lock(itemKey(itemID))
	defer unlock()

	item, err := p.db.GetItemByID(itemID)
	if err != nil {
		return err
	}

	switch mode {
	case models.RetryForce:
		return p.retryForce(item)
	case models.RetrySymlink:
		return p.retrySymlink(item)
	case models.RetryAllEpisodes:
		return p.retryAllEpisodes(item)
	case models.RetryRescanMount:
		return p.rescanMount(item)
	default:
		return fmt.Errorf("unknown retry mode %q", mode)
	}
}

// retryForce discards everything learned about the item and starts over
// from metadata resolution. Episode records are owned by the show and go
// with it; indexing recreates them.
func (p *Pipeline) retryForce(item *models.MediaItem) error {
	if err := p.db.DeleteEpisodesByShowID(item.ID); err != nil {
		return err
	}
	p.candidates.Delete(itemKey(item.ID))

	item.State = models.StateRequested
	item.CatalogID = ""
	item.ChosenSource = ""
	item.SourceID = ""
	item.Provider = ""
	item.ProviderItemID = ""
	item.MaterializedPath = ""
	item.RejectedSources = nil
	clearBookkeeping(&item.LastError, &item.RetryCount, &item.NextAttemptAt)
	item.CompletedAt = nil

	p.logger.WithField("item", item.ID).Info("Force retry, item reset to requested")
	return p.db.UpdateItem(item)
}

// retrySymlink re-runs materialization only, against the already resolved
// provider item. Shows fan the command out to every resolved episode.
func (p *Pipeline) retrySymlink(item *models.MediaItem) error {
	if item.Kind.IsShow() {
		episodes, err := p.db.GetEpisodesByShowID(item.ID)
		if err != nil {
			return err
		}
		for _, ep := range episodes {
			if ep.ProviderItemID == "" {
				continue
			}
			if err := p.rewindEpisode(ep.ID, models.StateDownloaded); err != nil {
				return err
			}
		}
		return p.reopenShow(item)
	}

	if item.ProviderItemID == "" {
		return fmt.Errorf("item %d has no resolved source to re-link", item.ID)
	}

	item.State = models.StateDownloaded
	clearBookkeeping(&item.LastError, &item.RetryCount, &item.NextAttemptAt)
	item.CompletedAt = nil

	p.logger.WithField("item", item.ID).Info("Symlink retry, re-running materialization")
	return p.db.UpdateItem(item)
}

// retryAllEpisodes sends every FAILED episode back to ranking. Completed
// episodes are untouched.
func (p *Pipeline) retryAllEpisodes(item *models.MediaItem) error {
	if !item.Kind.IsShow() {
		return fmt.Errorf("item %d is not a show", item.ID)
	}

	episodes, err := p.db.GetEpisodesByShowID(item.ID)
	if err != nil {
		return err
	}

	retried := 0
	for _, ep := range episodes {
		if ep.State != models.StateFailed {
			continue
		}
		if err := p.rewindEpisode(ep.ID, models.StateScraped); err != nil {
			return err
		}
		retried++
	}

	p.logger.WithFields(logrus.Fields{
		"item":     item.ID,
		"episodes": retried,
	}).Info("Retrying failed episodes")
	return p.reopenShow(item)
}

// rescanMount re-attempts materialization for records parked at DOWNLOADED,
// typically after the mount recovered ahead of the scheduled retry.
func (p *Pipeline) rescanMount(item *models.MediaItem) error {
	if item.Kind.IsShow() {
		episodes, err := p.db.GetEpisodesByShowID(item.ID)
		if err != nil {
			return err
		}
		for _, ep := range episodes {
			if ep.State != models.StateDownloaded {
				continue
			}
			if err := p.rewindEpisode(ep.ID, models.StateDownloaded); err != nil {
				return err
			}
		}
		return nil
	}

	if item.State != models.StateDownloaded {
		return fmt.Errorf("item %d is not waiting on the mount", item.ID)
	}
	clearBookkeeping(&item.LastError, &item.RetryCount, &item.NextAttemptAt)
	return p.db.UpdateItem(item)
}

// rewindEpisode moves one episode to an earlier state with bookkeeping
// cleared, under its own lock
func (p *Pipeline) rewindEpisode(episodeID uint64, to models.State) error {
	unlock := p.lock(episodeKey(episodeID))
	defer unlock()

	ep, err := p.db.GetEpisodeByID(episodeID)
	if err != nil {
		return err
	}

	ep.State = to
	clearBookkeeping(&ep.LastError, &ep.RetryCount, &ep.NextAttemptAt)
	if to == models.StateScraped {
		ep.MaterializedPath = ""
	}
	return p.db.UpdateEpisode(ep)
}

// reopenShow parks a show back at SCRAPED so reconcile folds the retried
// episodes in again
func (p *Pipeline) reopenShow(item *models.MediaItem) error {
	if item.State != models.StateCompleted && item.State != models.StateFailed {
		return nil
	}
	item.State = models.StateScraped
	clearBookkeeping(&item.LastError, &item.RetryCount, &item.NextAttemptAt)
	item.CompletedAt = nil
	return p.db.UpdateItem(item)
}

// Delete removes an item, its episodes and their materialized entries
func (p *Pipeline) Delete(itemID uint64) error {
	unlock := p.lock(itemKey(itemID))
	defer unlock()

	item, err := p.db.GetItemByID(itemID)
	if err != nil {
		return err
	}

	paths := []string{item.MaterializedPath}
	episodes, err := p.db.GetEpisodesByShowID(itemID)
	if err != nil {
		return err
	}
	for _, ep := range episodes {
		paths = append(paths, ep.MaterializedPath)
	}

	if err := p.db.DeleteItem(itemID); err != nil {
		return err
	}
	p.candidates.Delete(itemKey(itemID))

	for _, path := range paths {
		if err := p.materializer.Remove(path); err != nil {
			p.logger.WithError(err).WithField("path", path).Warn("Failed to remove library entry")
		}
	}

	p.logger.WithFields(logrus.Fields{
		"item":  itemID,
		"title": item.Title,
	}).Info("Item deleted")
	return nil
}

// Pause parks a record so workers skip it until resumed. For shows the
// episodes are the in-flight work, so the pause fans out to every
// non-terminal episode; one already being advanced finishes its current
// stage and is skipped from the next tick on.
func (p *Pipeline) Pause(itemID uint64) error {
	unlock := p.lock(itemKey(itemID))
	defer unlock()

	item, err := p.db.GetItemByID(itemID)
	if err != nil {
		return err
	}
	if item.State == models.StateCompleted {
		return fmt.Errorf("item %d is already completed", itemID)
	}

	if item.Kind.IsShow() {
		episodes, err := p.db.GetEpisodesByShowID(item.ID)
		if err != nil {
			return err
		}
		for _, ep := range episodes {
			if ep.State.Terminal() {
				continue
			}
			if err := p.pauseEpisode(ep.ID); err != nil {
				return err
			}
		}
	}

	item.State = models.StatePaused
	return p.db.UpdateItem(item)
}

func (p *Pipeline) pauseEpisode(episodeID uint64) error {
	unlock := p.lock(episodeKey(episodeID))
	defer unlock()

	ep, err := p.db.GetEpisodeByID(episodeID)
	if err != nil {
		return err
	}
	if ep.State.Terminal() {
		return nil
	}

	ep.State = models.StatePaused
	return p.db.UpdateEpisode(ep)
}

// Resume returns a paused item to the deepest stage its artifacts support,
// so no completed work is repeated. Paused episodes resume the same way.
func (p *Pipeline) Resume(itemID uint64) error {
	unlock := p.lock(itemKey(itemID))
	defer unlock()

	item, err := p.db.GetItemByID(itemID)
	if err != nil {
		return err
	}
	if item.State != models.StatePaused {
		return fmt.Errorf("item %d is not paused", itemID)
	}

	if item.Kind.IsShow() {
		episodes, err := p.db.GetEpisodesByShowID(item.ID)
		if err != nil {
			return err
		}
		for _, ep := range episodes {
			if ep.State != models.StatePaused {
				continue
			}
			if err := p.resumeEpisode(ep.ID); err != nil {
				return err
			}
		}
	}

	switch {
	case item.MaterializedPath != "":
		item.State = models.StateSymlinked
	case item.ProviderItemID != "":
		item.State = models.StateDownloaded
	case item.Kind.IsShow() && item.CatalogID != "":
		item.State = models.StateScraped
	case item.SourceID != "":
		item.State = models.StateScraped
	case item.CatalogID != "":
		item.State = models.StateIndexed
	default:
		item.State = models.StateRequested
	}

	clearBookkeeping(&item.LastError, &item.RetryCount, &item.NextAttemptAt)
	return p.db.UpdateItem(item)
}

func (p *Pipeline) resumeEpisode(episodeID uint64) error {
	unlock := p.lock(episodeKey(episodeID))
	defer unlock()

	ep, err := p.db.GetEpisodeByID(episodeID)
	if err != nil {
		return err
	}
	if ep.State != models.StatePaused {
		return nil
	}

	switch {
	case ep.MaterializedPath != "":
		ep.State = models.StateSymlinked
	case ep.ProviderItemID != "":
		ep.State = models.StateDownloaded
	case ep.SourceID != "":
		ep.State = models.StateScraped
	default:
		ep.State = models.StateRequested
	}

	clearBookkeeping(&ep.LastError, &ep.RetryCount, &ep.NextAttemptAt)
	return p.db.UpdateEpisode(ep)
}

// Reset wipes all resolution state: every item returns to REQUESTED, episode
// records are destroyed and materialized entries removed. Used when ranking
// or naming rules change and the whole library should re-derive.
func (p *Pipeline) Reset() error {
	paths, err := p.db.ResetAll()
	if err != nil {
		return err
	}

	p.candidates.Flush()

	removed := 0
	for _, path := range paths {
		if err := p.materializer.Remove(path); err != nil {
			p.logger.WithError(err).WithField("path", path).Warn("Failed to remove library entry")
			continue
		}
		removed++
	}

	p.logger.WithField("entries_removed", removed).Info("Full pipeline reset")
	return nil
}

func clearBookkeeping(lastError *string, retryCount *int, nextAttempt *time.Time) {
	*lastError = ""
	*retryCount = 0
	*nextAttempt = time.Time{}
}

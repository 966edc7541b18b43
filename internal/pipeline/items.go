package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fetcharr/fetcharr/internal/materializer"
	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/ranker"
	"github.com/fetcharr/fetcharr/internal/services/discovery"
	"github.com/fetcharr/fetcharr/internal/services/metadata"
	"github.com/fetcharr/fetcharr/internal/utils"
)

// Advance moves the item one stage forward. The item is re-read under its
// lock so concurrent operator commands are always observed, and exactly one
// database update commits the outcome.
func (p *Pipeline) Advance(ctx context.Context, itemID uint64) error {
	unlock := p.lock(itemKey(itemID))
	defer unlock()

	item, err := p.db.GetItemByID(itemID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil // deleted between scan and advance
		}
		return err
	}

	now := time.Now()
	if !item.Due(now) {
		return nil
	}

	log := p.logger.WithFields(logrus.Fields{
		"item":  item.ID,
		"title": item.Title,
		"state": item.State,
	})

	switch item.State {
	case models.StateRequested:
		return p.indexItem(ctx, item, log)
	case models.StateIndexed:
		if item.Kind.IsShow() {
			return p.expandShow(ctx, item, log)
		}
		return p.scrapeItem(ctx, item, log)
	case models.StateScraped:
		if item.Kind.IsShow() {
			return p.reconcileShow(ctx, item, log)
		}
		return p.resolveItem(ctx, item, log)
	case models.StateDownloaded:
		return p.materializeItem(ctx, item, log)
	case models.StateSymlinked:
		return p.completeItem(ctx, item, log)
	default:
		return nil
	}
}

// indexItem resolves the title against the catalog. REQUESTED -> INDEXED.
func (p *Pipeline) indexItem(ctx context.Context, item *models.MediaItem, log *logrus.Entry) error {
	meta, err := p.metadata.Lookup(ctx, item.Title, item.Year, item.Kind)
	if err != nil {
		if errors.Is(err, models.ErrMetadataNotFound) {
			return p.failItem(item, err, log)
		}
		// Transient catalog trouble; leave the record untouched and let the
		// next scan try again.
		return fmt.Errorf("catalog lookup: %w", err)
	}

	item.CatalogID = meta.CatalogID
	item.Title = meta.Title
	if item.Year == 0 {
		item.Year = meta.Year
	}

	return p.transition(item, models.StateIndexed, log)
}

// expandShow creates one episode record per aired episode and parks the
// parent at SCRAPED. The parent never resolves sources itself; episodes do.
func (p *Pipeline) expandShow(ctx context.Context, item *models.MediaItem, log *logrus.Entry) error {
	meta, err := p.metadata.Lookup(ctx, item.Title, item.Year, item.Kind)
	if err != nil {
		if errors.Is(err, models.ErrMetadataNotFound) {
			return p.failItem(item, err, log)
		}
		return fmt.Errorf("season breakdown: %w", err)
	}

	created, err := p.ensureEpisodes(item, meta)
	if err != nil {
		return err
	}
	if created > 0 {
		log.WithField("episodes", created).Info("Created episode records")
	}

	return p.transition(item, models.StateScraped, log)
}

// ensureEpisodes inserts episode records missing from the season breakdown.
// Unaired episodes are skipped; they appear on a later reconcile pass.
func (p *Pipeline) ensureEpisodes(item *models.MediaItem, meta *metadata.Metadata) (int, error) {
	now := time.Now()
	created := 0
	for _, season := range meta.Seasons {
		if season.Number == 0 {
			continue // specials resolve poorly against indexers
		}
		for _, ep := range season.Episodes {
			if ep.AirDate != nil && ep.AirDate.After(now) {
				continue
			}
			record := &models.Episode{
				ShowID:  item.ID,
				Season:  season.Number,
				Episode: ep.Number,
				Title:   ep.Title,
				AirDate: ep.AirDate,
				State:   models.StateRequested,
			}
			if err := p.db.CreateEpisode(record); err != nil {
				if errors.Is(err, models.ErrEpisodeExists) {
					// Already present from an earlier pass.
					continue
				}
				return created, err
			}
			created++
		}
	}
	return created, nil
}

// reconcileShow is the parked parent's periodic pass: pick up newly aired
// episodes and fold episode outcomes into the aggregate state.
func (p *Pipeline) reconcileShow(ctx context.Context, item *models.MediaItem, log *logrus.Entry) error {
	meta, err := p.metadata.Lookup(ctx, item.Title, item.Year, item.Kind)
	if err != nil {
		// Without the catalog there is no telling whether more episodes are
		// coming; keep the show open and try again next scan.
		log.WithError(err).Debug("Catalog unavailable, reconcile deferred")
		return nil
	}
	if _, err := p.ensureEpisodes(item, meta); err != nil {
		return err
	}

	episodes, err := p.db.GetEpisodesByShowID(item.ID)
	if err != nil {
		return err
	}
	if len(episodes) == 0 {
		return nil
	}

	// Episodes the catalog lists but no record covers yet (unaired ones are
	// skipped at creation) keep the show open.
	if len(episodes) < catalogEpisodeCount(meta) {
		return nil
	}

	done := 0
	for _, ep := range episodes {
		if ep.State == models.StateCompleted {
			done++
		}
	}
	if done < len(episodes) {
		return nil
	}

	now := time.Now()
	item.CompletedAt = &now
	return p.transition(item, models.StateCompleted, log)
}

// catalogEpisodeCount counts the episodes the catalog lists, specials
// excluded
func catalogEpisodeCount(meta *metadata.Metadata) int {
	n := 0
	for _, season := range meta.Seasons {
		if season.Number == 0 {
			continue
		}
		n += len(season.Episodes)
	}
	return n
}

// scrapeItem discovers and ranks candidates. INDEXED -> SCRAPED.
func (p *Pipeline) scrapeItem(ctx context.Context, item *models.MediaItem, log *logrus.Entry) error {
	ranked, err := p.rankedCandidates(ctx, itemKey(item.ID), item, discovery.Request{
		Title:     item.Title,
		Year:      item.Year,
		Kind:      item.Kind,
		CatalogID: item.CatalogID,
	}, item.RejectedSources)
	if err != nil {
		return p.failItem(item, err, log)
	}

	item.ChosenSource = ranked[0].Title
	item.SourceID = ranked[0].SourceID
	log.WithFields(logrus.Fields{
		"candidates": len(ranked),
		"best":       ranked[0].Title,
	}).Info("Candidates ranked")

	return p.transition(item, models.StateScraped, log)
}

// resolveItem walks the ranked list and resolves the first workable
// candidate on a provider. SCRAPED -> DOWNLOADED.
func (p *Pipeline) resolveItem(ctx context.Context, item *models.MediaItem, log *logrus.Entry) error {
	ranked, err := p.rankedCandidates(ctx, itemKey(item.ID), item, discovery.Request{
		Title:     item.Title,
		Year:      item.Year,
		Kind:      item.Kind,
		CatalogID: item.CatalogID,
	}, item.RejectedSources)
	if err != nil {
		return p.failItem(item, err, log)
	}

	for _, cand := range ranked {
		ref, err := p.resolver.Resolve(ctx, cand, p.providers)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		item.ChosenSource = cand.Title
		item.SourceID = ref.SourceID
		item.Provider = ref.Provider
		item.ProviderItemID = ref.ItemID
		return p.transition(item, models.StateDownloaded, log)
	}

	return p.failItem(item, fmt.Errorf("%d candidates tried: %w", len(ranked), models.ErrNoResolvableSource), log)
}

// materializeItem creates the library entry. DOWNLOADED -> SYMLINKED.
func (p *Pipeline) materializeItem(ctx context.Context, item *models.MediaItem, log *logrus.Entry) error {
	path, err := p.materializer.Materialize(ctx, materializer.Target{
		Title: item.Title,
		Year:  item.Year,
		Kind:  item.Kind,
	}, item.Ref())

	switch {
	case err == nil:
		item.MaterializedPath = path
		return p.transition(item, models.StateSymlinked, log)

	case errors.Is(err, models.ErrNoPrincipalFile):
		// Candidate-level defect: remember the source and hand control back
		// to ranking so the next candidate gets a turn.
		return p.rejectItemSource(item, log)

	default:
		return p.failItem(item, err, log)
	}
}

// rejectItemSource discards the chosen source and re-enters SCRAPED
func (p *Pipeline) rejectItemSource(item *models.MediaItem, log *logrus.Entry) error {
	log.WithField("source", item.SourceID).Warn("No principal file in source, advancing ranking")

	item.RejectedSources = append(item.RejectedSources, item.SourceID)
	item.SourceID = ""
	item.Provider = ""
	item.ProviderItemID = ""
	item.ChosenSource = ""
	return p.transition(item, models.StateScraped, log)
}

// completeItem finishes the item and pokes the media server. SYMLINKED ->
// COMPLETED.
func (p *Pipeline) completeItem(ctx context.Context, item *models.MediaItem, log *logrus.Entry) error {
	now := time.Now()
	item.CompletedAt = &now
	p.refresh(ctx)
	return p.transition(item, models.StateCompleted, log)
}

// rankedCandidates returns the ranked, filtered candidate list for a target,
// re-running discovery when the in-process list has expired.
func (p *Pipeline) rankedCandidates(ctx context.Context, key string, target *models.MediaItem, req discovery.Request, rejected []string) ([]models.Candidate, error) {
	if cached, ok := p.candidates.Get(key); ok {
		if ranked := filterCandidates(cached.([]models.Candidate), req, rejected); len(ranked) > 0 {
			return ranked, nil
		}
	}

	found := p.discovery.Search(ctx, req)
	ranked := filterCandidates(ranker.Rank(found, target), req, rejected)
	if len(ranked) == 0 {
		return nil, fmt.Errorf("%s: %w", req.Title, models.ErrNoCandidates)
	}

	p.candidates.SetDefault(key, ranked)
	return ranked, nil
}

// filterCandidates drops previously rejected sources and, for movies with a
// known year, releases that plainly name a different year.
func filterCandidates(candidates []models.Candidate, req discovery.Request, rejected []string) []models.Candidate {
	out := make([]models.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if isRejected(c.SourceID, rejected) {
			continue
		}
		if !req.Kind.IsShow() && req.Year > 0 {
			if y := utils.ExtractYear(c.Title); y != 0 && y != req.Year && y != req.Year+1 && y != req.Year-1 {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

func isRejected(sourceID string, rejected []string) bool {
	for _, r := range rejected {
		if r == sourceID {
			return true
		}
	}
	return false
}

// transition commits the item in its new state with failure bookkeeping
// cleared
func (p *Pipeline) transition(item *models.MediaItem, to models.State, log *logrus.Entry) error {
	from := item.State
	item.State = to
	item.LastError = ""
	item.NextAttemptAt = time.Time{}
	item.LastAttemptAt = time.Now()

	if err := p.db.UpdateItem(item); err != nil {
		return fmt.Errorf("commit %s -> %s: %w", from, to, err)
	}

	transitionsTotal.WithLabelValues(string(to)).Inc()
	log.WithField("to", to).Info("Item advanced")
	return nil
}

// failItem records a stage failure. Retryable kinds stay at their current
// state with exponential backoff until attempts run out; everything else is
// FAILED immediately.
func (p *Pipeline) failItem(item *models.MediaItem, cause error, log *logrus.Entry) error {
	item.LastError = cause.Error()
	item.LastAttemptAt = time.Now()

	if models.Retryable(cause) && item.RetryCount+1 < p.maxAttempts {
		item.RetryCount++
		item.NextAttemptAt = time.Now().Add(p.backoffDelay(item.RetryCount))
		log.WithError(cause).WithFields(logrus.Fields{
			"attempt": item.RetryCount,
			"next":    item.NextAttemptAt.Format(time.RFC3339),
		}).Warn("Stage failed, retry scheduled")
	} else {
		item.State = models.StateFailed
		log.WithError(cause).Error("Item failed")
	}

	failuresTotal.WithLabelValues(failureKind(cause)).Inc()
	return p.db.UpdateItem(item)
}

// failureKind maps a stage error to its metric label
func failureKind(err error) string {
	switch {
	case errors.Is(err, models.ErrMetadataNotFound):
		return "metadata_not_found"
	case errors.Is(err, models.ErrNoCandidates):
		return "no_candidates"
	case errors.Is(err, models.ErrNoResolvableSource):
		return "no_resolvable_source"
	case errors.Is(err, models.ErrMountUnavailable):
		return "mount_unavailable"
	case errors.Is(err, models.ErrNoPrincipalFile):
		return "no_principal_file"
	case errors.Is(err, models.ErrProviderRejected):
		return "provider_rejected"
	default:
		return "other"
	}
}

// Package resolver realizes a candidate as an available file set on one of
// the configured storage providers, trying them in priority order.
package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/services/debrid"
)

// Resolver tries providers strictly in the caller-supplied order. A provider
// failure (auth, quota, rejection, timeout) moves on to the next provider;
// only full exhaustion fails the call.
type Resolver struct {
	providerTimeout time.Duration
	pollInterval    time.Duration
	logger          *logrus.Logger
}

// NewResolver creates a resolver with a per-provider readiness timeout
func NewResolver(providerTimeout, pollInterval time.Duration, logger *logrus.Logger) *Resolver {
	return &Resolver{
		providerTimeout: providerTimeout,
		pollInterval:    pollInterval,
		logger:          logger,
	}
}

// Resolve attempts one candidate against each provider in order and returns
// the reference of the first provider that reports the source ready.
func (r *Resolver) Resolve(ctx context.Context, c models.Candidate, providers []debrid.ProviderClient) (models.ProviderRef, error) {
	if len(providers) == 0 {
		return models.ProviderRef{}, fmt.Errorf("no providers configured: %w", models.ErrProviderRejected)
	}

	for _, provider := range providers {
		ref, err := r.resolveOn(ctx, c, provider)
		if err == nil {
			r.logger.WithFields(logrus.Fields{
				"provider": provider.Name(),
				"source":   c.SourceID,
			}).Info("Candidate resolved")
			return ref, nil
		}

		if ctx.Err() != nil {
			return models.ProviderRef{}, ctx.Err()
		}

		r.logger.WithError(err).WithFields(logrus.Fields{
			"provider": provider.Name(),
			"title":    c.Title,
		}).Warn("Provider failed, trying next")
	}

	return models.ProviderRef{}, fmt.Errorf("all %d providers exhausted: %w", len(providers), models.ErrProviderRejected)
}

// resolveOn attempts the candidate on a single provider
func (r *Resolver) resolveOn(ctx context.Context, c models.Candidate, provider debrid.ProviderClient) (models.ProviderRef, error) {
	cached, err := provider.CheckCached(ctx, c)
	if err != nil {
		return models.ProviderRef{}, fmt.Errorf("cache check: %w", err)
	}

	itemID, err := provider.Add(ctx, c)
	if err != nil {
		return models.ProviderRef{}, fmt.Errorf("add: %w", err)
	}

	ref := models.ProviderRef{
		Provider: provider.Name(),
		ItemID:   itemID,
		SourceID: c.SourceID,
	}

	// Cached sources are ready the moment they are added.
	if cached {
		return ref, nil
	}

	if err := r.awaitReady(ctx, provider, itemID); err != nil {
		return models.ProviderRef{}, err
	}
	return ref, nil
}

// awaitReady polls the provider until the item is ready, it reports failure,
// or the per-provider timeout elapses. Polling keeps the worker preemptible
// between checks instead of blocking inside the provider call.
func (r *Resolver) awaitReady(ctx context.Context, provider debrid.ProviderClient, itemID string) error {
	pollCtx, cancel := context.WithTimeout(ctx, r.providerTimeout)
	defer cancel()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.pollInterval
	policy.MaxInterval = r.providerTimeout / 4
	policy.MaxElapsedTime = r.providerTimeout

	return backoff.Retry(func() error {
		state, err := provider.Status(pollCtx, itemID)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("status: %w", err))
		}
		switch state {
		case debrid.ItemReady:
			return nil
		case debrid.ItemFailed:
			return backoff.Permanent(fmt.Errorf("item %s failed on %s: %w", itemID, provider.Name(), models.ErrProviderRejected))
		default:
			return fmt.Errorf("item %s not ready on %s", itemID, provider.Name())
		}
	}, backoff.WithContext(policy, pollCtx))
}

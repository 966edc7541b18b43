// Package debrid defines the storage provider contract and its clients.
package debrid

import (
	"context"

	"github.com/fetcharr/fetcharr/internal/models"
)

// ItemState is a provider-side readiness state
type ItemState string

const (
	ItemReady   ItemState = "ready"
	ItemPending ItemState = "pending"
	ItemFailed  ItemState = "failed"
)

// File is one entry in a provider-held file set
type File struct {
	Path string
	Size int64
}

// ProviderClient is the contract the core needs from a debrid storage
// provider. Implementations are stateless per call.
type ProviderClient interface {
	Name() string

	// CheckCached reports whether the candidate's source is already fully
	// available on the provider without a download wait.
	CheckCached(ctx context.Context, c models.Candidate) (bool, error)

	// Add submits the candidate's source to the provider and returns the
	// provider's item id. Adding is additive; abandoned items are left to
	// the provider's own lifecycle.
	Add(ctx context.Context, c models.Candidate) (string, error)

	// Status reports readiness of a previously added item.
	Status(ctx context.Context, itemID string) (ItemState, error)

	// ListFiles lists the file set behind a ready item.
	ListFiles(ctx context.Context, itemID string) ([]File, error)
}

// Package discovery queries release indexers for candidate sources.
package discovery

import (
	"context"

	"github.com/fetcharr/fetcharr/internal/models"
)

// Request describes what to search for. Season/Episode are nil for movies.
type Request struct {
	Title     string
	Year      int
	Kind      models.MediaKind
	CatalogID string
	Season    *int
	Episode   *int
}

// Backend is one discovery indexer. Backends are independently callable and
// independently fallible: a failing backend yields zero candidates, never an
// aggregate failure.
type Backend interface {
	Name() string
	Search(ctx context.Context, req Request) ([]models.Candidate, error)
}

// Package metadata looks titles up in the external catalog service.
package metadata

import (
	"context"
	"time"

	"github.com/fetcharr/fetcharr/internal/models"
)

// EpisodeMeta is one episode in a season breakdown
type EpisodeMeta struct {
	Number  int        `json:"number"`
	Title   string     `json:"title"`
	AirDate *time.Time `json:"air_date"`
}

// SeasonMeta is one season in a show breakdown
type SeasonMeta struct {
	Number   int           `json:"number"`
	Episodes []EpisodeMeta `json:"episodes"`
}

// Metadata is the catalog's view of a title
type Metadata struct {
	CatalogID string       `json:"id"`
	Title     string       `json:"title"`
	Year      int          `json:"year"`
	IsAnime   bool         `json:"is_anime"`
	Seasons   []SeasonMeta `json:"seasons"`
}

// Service is the catalog lookup contract consumed by the pipeline.
// A miss is reported as models.ErrMetadataNotFound.
type Service interface {
	Lookup(ctx context.Context, title string, year int, kind models.MediaKind) (*Metadata, error)
}

package models

import "time"

// MediaItem represents one requested movie or show.
//
// Resolution artifacts are populated only when their owning stage succeeds
// and cleared together on a full reset. A FAILED item keeps the artifacts of
// the stages it completed so operators can see how far it got.
type MediaItem struct {
	ID        uint64 `boltholdKey:"ID"`
	CatalogID string `boltholdIndex:"CatalogID"` // external catalog id, optional

	Title   string
	Year    int
	Kind    MediaKind
	IsAnime bool // derived once at creation, immutable

	State State `boltholdIndex:"State"`

	// Resolution artifacts
	ChosenSource     string // release title of the chosen candidate
	SourceID         string // info hash / source id of the chosen candidate
	Provider         string // provider that resolved it
	ProviderItemID   string
	MaterializedPath string

	// Sources discarded by a NoPrincipalFile failure; re-entering SCRAPED
	// skips these so ranking advances instead of looping.
	RejectedSources []string

	// Failure bookkeeping
	LastError     string
	RetryCount    int
	LastAttemptAt time.Time
	NextAttemptAt time.Time // zero means due now

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Due reports whether the item is eligible for advancement at t
func (m *MediaItem) Due(t time.Time) bool {
	if m.State.Terminal() {
		return false
	}
	return m.NextAttemptAt.IsZero() || !m.NextAttemptAt.After(t)
}

// ProviderRef is the opaque association between a resolved item or episode
// and the provider holding its data. Replaced wholesale on re-resolution.
type ProviderRef struct {
	Provider string
	ItemID   string
	SourceID string
}

// Ref assembles the item's provider reference from its artifacts
func (m *MediaItem) Ref() ProviderRef {
	return ProviderRef{Provider: m.Provider, ItemID: m.ProviderItemID, SourceID: m.SourceID}
}

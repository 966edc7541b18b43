package models

import "time"

// Episode belongs to exactly one show item and is destroyed with it.
// Episodes resolve independently; the parent's aggregate state is a
// read-only summary computed from its episodes.
type Episode struct {
	ID     uint64 `boltholdKey:"ID"`
	ShowID uint64 `boltholdIndex:"ShowID"`

	Season  int
	Episode int
	Title   string
	AirDate *time.Time

	State State `boltholdIndex:"State"`

	// Resolution artifacts, mirroring MediaItem
	ChosenSource     string
	SourceID         string
	Provider         string
	ProviderItemID   string
	MaterializedPath string
	RejectedSources  []string

	LastError     string
	RetryCount    int
	LastAttemptAt time.Time
	NextAttemptAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Due reports whether the episode is eligible for advancement at t
func (e *Episode) Due(t time.Time) bool {
	if e.State.Terminal() {
		return false
	}
	return e.NextAttemptAt.IsZero() || !e.NextAttemptAt.After(t)
}

// Ref assembles the episode's provider reference from its artifacts
func (e *Episode) Ref() ProviderRef {
	return ProviderRef{Provider: e.Provider, ItemID: e.ProviderItemID, SourceID: e.SourceID}
}

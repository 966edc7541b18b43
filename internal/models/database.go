package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/timshannon/bolthold"
	"go.etcd.io/bbolt"
)

// Database wraps the bolthold store
type Database struct {
	store *bolthold.Store
}

// NewDatabase creates a new database connection
func NewDatabase(path string) (*Database, error) {
	store, err := bolthold.Open(path, 0600, &bolthold.Options{
		Options: &bbolt.Options{
			Timeout: 1 * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Database{store: store}, nil
}

// Close closes the database connection
func (db *Database) Close() error {
	return db.store.Close()
}

// Item operations

// CreateItem creates a new media item
func (db *Database) CreateItem(item *MediaItem) error {
	item.CreatedAt = time.Now()
	item.UpdatedAt = time.Now()
	return db.store.Insert(bolthold.NextSequence(), item)
}

// UpdateItem updates an existing media item
func (db *Database) UpdateItem(item *MediaItem) error {
	item.UpdatedAt = time.Now()
	return db.store.Update(item.ID, item)
}

// GetItemByID retrieves a media item by ID
func (db *Database) GetItemByID(id uint64) (*MediaItem, error) {
	var item MediaItem
	if err := db.store.Get(id, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// GetAllItems retrieves all media items
func (db *Database) GetAllItems() ([]*MediaItem, error) {
	var items []*MediaItem
	err := db.store.Find(&items, nil)
	return items, err
}

// GetItemsByState retrieves all items in a given state
func (db *Database) GetItemsByState(state State) ([]*MediaItem, error) {
	var items []*MediaItem
	err := db.store.Find(&items, bolthold.Where("State").Eq(state).Index("State"))
	return items, err
}

// GetDueItems retrieves non-terminal items eligible for advancement at t
func (db *Database) GetDueItems(t time.Time) ([]*MediaItem, error) {
	var items []*MediaItem
	err := db.store.Find(&items, nil)
	if err != nil {
		return nil, err
	}

	due := items[:0]
	for _, item := range items {
		if item.Due(t) {
			due = append(due, item)
		}
	}
	return due, nil
}

// DeleteItem deletes a media item and its episodes
func (db *Database) DeleteItem(id uint64) error {
	if err := db.DeleteEpisodesByShowID(id); err != nil {
		return err
	}
	return db.store.Delete(id, &MediaItem{})
}

// Episode operations

// CreateEpisode creates an episode record. (ShowID, Season, Episode) must be
// unique per show; duplicates are rejected.
func (db *Database) CreateEpisode(ep *Episode) error {
	existing, err := db.GetEpisode(ep.ShowID, ep.Season, ep.Episode)
	if err != nil && err != bolthold.ErrNotFound {
		return err
	}
	if existing != nil {
		return fmt.Errorf("episode S%02dE%02d of show %d: %w", ep.Season, ep.Episode, ep.ShowID, ErrEpisodeExists)
	}

	ep.CreatedAt = time.Now()
	ep.UpdatedAt = time.Now()
	return db.store.Insert(bolthold.NextSequence(), ep)
}

// UpdateEpisode updates an existing episode record
func (db *Database) UpdateEpisode(ep *Episode) error {
	ep.UpdatedAt = time.Now()
	return db.store.Update(ep.ID, ep)
}

// GetEpisodeByID retrieves an episode by ID
func (db *Database) GetEpisodeByID(id uint64) (*Episode, error) {
	var ep Episode
	if err := db.store.Get(id, &ep); err != nil {
		return nil, err
	}
	return &ep, nil
}

// GetEpisode retrieves one episode by show and (season, episode) pair
func (db *Database) GetEpisode(showID uint64, season, episode int) (*Episode, error) {
	var eps []*Episode
	err := db.store.Find(&eps, bolthold.Where("ShowID").Eq(showID).Index("ShowID"))
	if err != nil {
		return nil, err
	}
	for _, ep := range eps {
		if ep.Season == season && ep.Episode == episode {
			return ep, nil
		}
	}
	return nil, bolthold.ErrNotFound
}

// GetEpisodesByShowID retrieves all episodes of a show
func (db *Database) GetEpisodesByShowID(showID uint64) ([]*Episode, error) {
	var eps []*Episode
	err := db.store.Find(&eps, bolthold.Where("ShowID").Eq(showID).Index("ShowID"))
	return eps, err
}

// GetDueEpisodes retrieves non-terminal episodes eligible for advancement at t
func (db *Database) GetDueEpisodes(t time.Time) ([]*Episode, error) {
	var eps []*Episode
	err := db.store.Find(&eps, nil)
	if err != nil {
		return nil, err
	}

	due := eps[:0]
	for _, ep := range eps {
		if ep.Due(t) {
			due = append(due, ep)
		}
	}
	return due, nil
}

// DeleteEpisodesByShowID deletes all episodes owned by a show
func (db *Database) DeleteEpisodesByShowID(showID uint64) error {
	eps, err := db.GetEpisodesByShowID(showID)
	if err != nil {
		return err
	}
	for _, ep := range eps {
		if err := db.store.Delete(ep.ID, &Episode{}); err != nil {
			return err
		}
	}
	return nil
}

// ResetAll clears every item back to REQUESTED and deletes episode records,
// for full metadata re-derivation. Returns the materialized paths that were
// tracked so the caller can remove the filesystem entries.
func (db *Database) ResetAll() ([]string, error) {
	items, err := db.GetAllItems()
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, item := range items {
		if item.MaterializedPath != "" {
			paths = append(paths, item.MaterializedPath)
		}

		eps, err := db.GetEpisodesByShowID(item.ID)
		if err != nil {
			return nil, err
		}
		for _, ep := range eps {
			if ep.MaterializedPath != "" {
				paths = append(paths, ep.MaterializedPath)
			}
		}
		if err := db.DeleteEpisodesByShowID(item.ID); err != nil {
			return nil, err
		}

		item.State = StateRequested
		item.ChosenSource = ""
		item.SourceID = ""
		item.Provider = ""
		item.ProviderItemID = ""
		item.MaterializedPath = ""
		item.RejectedSources = nil
		item.LastError = ""
		item.RetryCount = 0
		item.NextAttemptAt = time.Time{}
		item.CompletedAt = nil
		if err := db.UpdateItem(item); err != nil {
			return nil, err
		}
	}

	return paths, nil
}

// ErrNotFound re-exports the store's not-found error for callers
var ErrNotFound = bolthold.ErrNotFound

// ErrEpisodeExists marks a (ShowID, Season, Episode) uniqueness violation,
// so callers can tell a re-created episode from a store failure
var ErrEpisodeExists = errors.New("episode already exists")

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/pipeline"
)

// Kicker requests an immediate scheduler pass after a library change
type Kicker interface {
	Kick()
}

// ItemsHandler manages library items
type ItemsHandler struct {
	db       *models.Database
	pipeline *pipeline.Pipeline
	kicker   Kicker
	logger   *logrus.Logger
}

// NewItemsHandler creates a new items handler
func NewItemsHandler(db *models.Database, p *pipeline.Pipeline, kicker Kicker, logger *logrus.Logger) *ItemsHandler {
	return &ItemsHandler{
		db:       db,
		pipeline: p,
		kicker:   kicker,
		logger:   logger,
	}
}

// List returns library items, optionally filtered by state and kind
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.db.GetAllItems()
	if err != nil {
		h.logger.WithError(err).Error("Failed to list items")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	state := models.State(r.URL.Query().Get("state"))
	kind := models.MediaKind(r.URL.Query().Get("kind"))
	filtered := make([]*models.MediaItem, 0, len(items))
	for _, item := range items {
		if state != "" && item.State != state {
			continue
		}
		if kind != "" && item.Kind != kind {
			continue
		}
		filtered = append(filtered, item)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(filtered)
}

// CreateRequest is the body of an item creation
type CreateRequest struct {
	Title string           `json:"title"`
	Year  int              `json:"year,omitempty"`
	Kind  models.MediaKind `json:"kind"`
}

// Create registers a new request in the library
func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		http.Error(w, "title is required", http.StatusBadRequest)
		return
	}

	switch req.Kind {
	case models.KindMovie, models.KindShow, models.KindAnimeMovie, models.KindAnimeShow:
	default:
		http.Error(w, "kind must be one of movie, show, anime_movie, anime_show", http.StatusBadRequest)
		return
	}

	item := &models.MediaItem{
		Title:   req.Title,
		Year:    req.Year,
		Kind:    req.Kind,
		IsAnime: req.Kind.IsAnime(),
		State:   models.StateRequested,
	}

	if err := h.db.CreateItem(item); err != nil {
		h.logger.WithError(err).Error("Failed to create item")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"item":  item.ID,
		"title": item.Title,
		"kind":  item.Kind,
	}).Info("Item requested")
	h.kicker.Kick()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(item)
}

// ItemResponse is one item with its episode records
type ItemResponse struct {
	*models.MediaItem
	Episodes []*models.Episode `json:"episodes,omitempty"`
}

// Get returns one item, including episodes for shows
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}

	response := ItemResponse{MediaItem: item}
	if item.Kind.IsShow() {
		eps, err := h.db.GetEpisodesByShowID(item.ID)
		if err != nil {
			h.logger.WithError(err).Error("Failed to load episodes")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		response.Episodes = eps
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// Delete removes an item, its episodes and their materialized entries
func (h *ItemsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}

	if err := h.pipeline.Delete(item.ID); err != nil {
		h.logger.WithError(err).Error("Failed to delete item")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ItemsHandler) loadItem(w http.ResponseWriter, r *http.Request) (*models.MediaItem, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid item id", http.StatusBadRequest)
		return nil, false
	}

	item, err := h.db.GetItemByID(id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			http.Error(w, "Item not found", http.StatusNotFound)
			return nil, false
		}
		h.logger.WithError(err).Error("Failed to load item")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}
	return item, true
}

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/fetcharr/fetcharr/internal/models"
)

// StatusHandler summarizes the library pipeline
type StatusHandler struct {
	db     *models.Database
	logger *logrus.Logger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(db *models.Database, logger *logrus.Logger) *StatusHandler {
	return &StatusHandler{
		db:     db,
		logger: logger,
	}
}

// StatusResponse represents the status response
type StatusResponse struct {
	TotalItems   int            `json:"total_items"`
	ItemsByState map[string]int `json:"items_by_state"`
	ItemsByKind  map[string]int `json:"items_by_kind"`
	Episodes     int            `json:"episodes"`
}

// ServeHTTP handles the status endpoint
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	items, err := h.db.GetAllItems()
	if err != nil {
		h.logger.WithError(err).Error("Failed to get items")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	response := StatusResponse{
		TotalItems:   len(items),
		ItemsByState: make(map[string]int),
		ItemsByKind:  make(map[string]int),
	}

	for _, item := range items {
		response.ItemsByState[string(item.State)]++
		response.ItemsByKind[string(item.Kind)]++

		if item.Kind.IsShow() {
			eps, err := h.db.GetEpisodesByShowID(item.ID)
			if err != nil {
				continue
			}
			response.Episodes += len(eps)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

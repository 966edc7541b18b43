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

// RetryHandler routes operator recovery commands into the pipeline
type RetryHandler struct {
	pipeline *pipeline.Pipeline
	kicker   Kicker
	logger   *logrus.Logger
}

// NewRetryHandler creates a new retry handler
func NewRetryHandler(p *pipeline.Pipeline, kicker Kicker, logger *logrus.Logger) *RetryHandler {
	return &RetryHandler{
		pipeline: p,
		kicker:   kicker,
		logger:   logger,
	}
}

// Retry applies a retry mode to one item. The mode comes from the query
// string and defaults to force.
func (h *RetryHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	mode := models.RetryMode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = models.RetryForce
	}

	if err := h.pipeline.Retry(id, mode); err != nil {
		h.commandError(w, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"item": id,
		"mode": mode,
	}).Info("Retry command accepted")
	h.kicker.Kick()
	writeAccepted(w, string(mode))
}

// Pause parks an item
func (h *RetryHandler) Pause(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := h.pipeline.Pause(id); err != nil {
		h.commandError(w, err)
		return
	}
	writeAccepted(w, "pause")
}

// Resume returns a paused item to work
func (h *RetryHandler) Resume(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := h.pipeline.Resume(id); err != nil {
		h.commandError(w, err)
		return
	}
	h.kicker.Kick()
	writeAccepted(w, "resume")
}

// Reset wipes all resolution state across the library
func (h *RetryHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.Reset(); err != nil {
		h.logger.WithError(err).Error("Reset failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.kicker.Kick()
	writeAccepted(w, "reset")
}

func (h *RetryHandler) commandError(w http.ResponseWriter, err error) {
	if errors.Is(err, models.ErrNotFound) {
		http.Error(w, "Item not found", http.StatusNotFound)
		return
	}
	// Command preconditions (wrong kind, wrong state, unknown mode) are the
	// caller's mistake, not ours.
	http.Error(w, err.Error(), http.StatusConflict)
}

func parseID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid item id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeAccepted(w http.ResponseWriter, command string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"command": command})
}

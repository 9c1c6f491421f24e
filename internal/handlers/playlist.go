package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"lifestory-backend/internal/models"
)

type playlistService interface {
	Playlist(ctx context.Context, topicID uuid.UUID) ([]models.PlaylistEntry, error)
}

type PlaylistHandler struct {
	playlists playlistService
	log       *logrus.Logger
}

func NewPlaylistHandler(playlists playlistService, logger *logrus.Logger) *PlaylistHandler {
	return &PlaylistHandler{playlists: playlists, log: logger}
}

// Get handles GET /topics/{id}/playlist.
func (h *PlaylistHandler) Get(w http.ResponseWriter, r *http.Request) {
	topicID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("INVALID_ID", "Invalid topic ID", r))
		return
	}

	entries, err := h.playlists.Playlist(r.Context(), topicID)
	if err != nil {
		handleIngestionError(w, r, h.log, err)
		return
	}
	if entries == nil {
		entries = []models.PlaylistEntry{}
	}

	writeJSON(w, http.StatusOK, models.PlaylistResponse{TopicID: topicID, Entries: entries})
}

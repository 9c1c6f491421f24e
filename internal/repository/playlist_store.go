package repository

import (
	"context"

	"github.com/google/uuid"

	"lifestory-backend/internal/models"
)

// PlaylistStore joins the prompt and ingestion repositories for the playlist assembler.
type PlaylistStore struct {
	*PromptRepo
	records *IngestionRepo
}

func NewPlaylistStore(prompts *PromptRepo, records *IngestionRepo) *PlaylistStore {
	return &PlaylistStore{PromptRepo: prompts, records: records}
}

func (s *PlaylistStore) LatestReadyBySlots(ctx context.Context, slotType models.SlotType, slotIDs []uuid.UUID) (map[uuid.UUID]*models.IngestionRecord, error) {
	return s.records.LatestReadyBySlots(ctx, slotType, slotIDs)
}

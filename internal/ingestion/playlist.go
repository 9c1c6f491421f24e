package ingestion

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"lifestory-backend/internal/models"
)

type PlaylistStore interface {
	ListPromptsByTopic(ctx context.Context, topicID uuid.UUID) ([]models.Prompt, error)
	// LatestReadyBySlots returns, per slot id, the most recently created READY record.
	LatestReadyBySlots(ctx context.Context, slotType models.SlotType, slotIDs []uuid.UUID) (map[uuid.UUID]*models.IngestionRecord, error)
}

// Assembler builds playback sequences. It holds no state between calls.
type Assembler struct {
	store PlaylistStore
}

func NewAssembler(store PlaylistStore) *Assembler {
	return &Assembler{store: store}
}

// BuildPlaylist returns the topic's ready prompt videos, context-establishing prompts first,
// each group in prompt creation order. Prompts without a READY video are skipped.
func (a *Assembler) BuildPlaylist(ctx context.Context, topicID uuid.UUID) ([]models.PlaylistEntry, error) {
	prompts, err := a.store.ListPromptsByTopic(ctx, topicID)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts for topic %s: %w", topicID, err)
	}
	if len(prompts) == 0 {
		return []models.PlaylistEntry{}, nil
	}

	ids := make([]uuid.UUID, 0, len(prompts))
	for _, p := range prompts {
		ids = append(ids, p.ID)
	}
	ready, err := a.store.LatestReadyBySlots(ctx, models.SlotPrompt, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load ready videos for topic %s: %w", topicID, err)
	}

	ordered := orderPrompts(prompts)
	entries := make([]models.PlaylistEntry, 0, len(ready))
	for _, p := range ordered {
		rec, ok := ready[p.ID]
		// Readers may race a transition; only fully READY rows are eligible.
		if !ok || rec.State != models.StateReady || rec.ProviderPlaybackID == nil {
			continue
		}
		entries = append(entries, models.PlaylistEntry{
			VideoID:     rec.ID,
			PlaybackID:  *rec.ProviderPlaybackID,
			DisplayText: p.PromptText,
			SortKey:     len(entries),
		})
	}
	return entries, nil
}

func orderPrompts(prompts []models.Prompt) []models.Prompt {
	ordered := make([]models.Prompt, len(prompts))
	copy(ordered, prompts)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.IsContextEstablishing != b.IsContextEstablishing {
			return a.IsContextEstablishing
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return ordered
}

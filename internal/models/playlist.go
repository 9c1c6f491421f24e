package models

import (
	"time"

	"github.com/google/uuid"
)

// Prompt is the subset of the prompts table the playlist needs.
type Prompt struct {
	ID                    uuid.UUID `json:"id"`
	TopicID               uuid.UUID `json:"topic_id"`
	PromptText            string    `json:"prompt_text"`
	IsContextEstablishing bool      `json:"is_context_establishing"`
	CreatedAt             time.Time `json:"created_at"`
}

// PlaylistEntry is derived from a READY record and its prompt; it is never persisted.
type PlaylistEntry struct {
	VideoID     uuid.UUID `json:"video_id"`
	PlaybackID  string    `json:"playback_id"`
	DisplayText string    `json:"prompt_text"`
	SortKey     int       `json:"sort_key"`
}

type PlaylistResponse struct {
	TopicID uuid.UUID       `json:"topic_id"`
	Entries []PlaylistEntry `json:"entries"`
}

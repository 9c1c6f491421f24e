package models

import (
	"time"

	"github.com/google/uuid"
)

// PollTask is queued once per record when polling should start or resume.
type PollTask struct {
	RecordID   uuid.UUID `json:"record_id"`
	OwnerID    uuid.UUID `json:"owner_id"`
	Reason     string    `json:"reason"` // "transport-complete" | "resume" | "reconcile"
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type IngestionUpdate struct {
	RecordID      uuid.UUID      `json:"record_id"`
	SlotType      SlotType       `json:"slot_type"`
	SlotID        uuid.UUID      `json:"slot_id"`
	State         IngestionState `json:"state"`
	DisplayStatus DisplayStatus  `json:"display_status"`
	AttemptCount  int            `json:"attempt_count"`
	PlaybackID    *string        `json:"playback_id,omitempty"`
	FailureReason *FailureReason `json:"failure_reason,omitempty"`
}

func NewIngestionUpdate(rec *IngestionRecord) WSMessage {
	return WSMessage{
		Type: "ingestion_update",
		Payload: IngestionUpdate{
			RecordID:      rec.ID,
			SlotType:      rec.SlotType,
			SlotID:        rec.SlotID,
			State:         rec.State,
			DisplayStatus: DisplayStatusFor(rec.State),
			AttemptCount:  rec.AttemptCount,
			PlaybackID:    rec.ProviderPlaybackID,
			FailureReason: rec.FailureReason,
		},
	}
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}

package models

import (
	"time"

	"github.com/google/uuid"
)

type SlotType string

const (
	SlotPrompt SlotType = "PROMPT"
	SlotTopic  SlotType = "TOPIC"
)

func (s SlotType) Valid() bool {
	return s == SlotPrompt || s == SlotTopic
}

type IngestionState string

const (
	StatePending           IngestionState = "PENDING"
	StateTransportComplete IngestionState = "TRANSPORT_COMPLETE"
	StateProcessing        IngestionState = "PROCESSING"
	StateReady             IngestionState = "READY"
	StateFailed            IngestionState = "FAILED"
)

// ActiveStates are the non-terminal states. At most one record per slot may be in one of them.
var ActiveStates = []IngestionState{StatePending, StateTransportComplete, StateProcessing}

func (s IngestionState) Terminal() bool {
	return s == StateReady || s == StateFailed
}

// Rank orders states along the forward path. READY and FAILED share the last rank.
func (s IngestionState) Rank() int {
	switch s {
	case StatePending:
		return 0
	case StateTransportComplete:
		return 1
	case StateProcessing:
		return 2
	case StateReady, StateFailed:
		return 3
	default:
		return -1
	}
}

type FailureReason string

const (
	ReasonPollingExhausted   FailureReason = "PollingExhausted"
	ReasonProviderErrored    FailureReason = "ProviderErrored"
	ReasonTransportAbandoned FailureReason = "TransportAbandoned"
	ReasonUploadCancelled    FailureReason = "UploadCancelled"
)

type IngestionRecord struct {
	ID                 uuid.UUID      `json:"id"`
	SlotType           SlotType       `json:"slot_type"`
	SlotID             uuid.UUID      `json:"slot_id"`
	OwnerID            uuid.UUID      `json:"owner_id"`
	UploadTicketID     string         `json:"upload_ticket_id"`
	ProviderAssetID    *string        `json:"provider_asset_id"`
	ProviderPlaybackID *string        `json:"provider_playback_id"`
	State              IngestionState `json:"state"`
	AttemptCount       int            `json:"attempt_count"`
	FailureReason      *FailureReason `json:"failure_reason"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// DisplayStatus is the only vocabulary the UI renders.
type DisplayStatus string

const (
	DisplayUploadInProgress DisplayStatus = "upload_in_progress"
	DisplayProcessing       DisplayStatus = "processing"
	DisplayReady            DisplayStatus = "ready"
	DisplayFailedRetry      DisplayStatus = "failed_retry"
)

func DisplayStatusFor(state IngestionState) DisplayStatus {
	switch state {
	case StatePending:
		return DisplayUploadInProgress
	case StateTransportComplete, StateProcessing:
		return DisplayProcessing
	case StateReady:
		return DisplayReady
	default:
		return DisplayFailedRetry
	}
}

type IssueUploadRequest struct {
	SlotType SlotType  `json:"slot_type" validate:"required,oneof=PROMPT TOPIC"`
	SlotID   uuid.UUID `json:"slot_id" validate:"required"`
}

type IssueUploadResponse struct {
	RecordID       uuid.UUID `json:"record_id"`
	UploadURL      string    `json:"upload_url"`
	UploadTicketID string    `json:"upload_ticket_id"`
}

type RecordStatusResponse struct {
	RecordID      uuid.UUID      `json:"record_id"`
	State         IngestionState `json:"state"`
	DisplayStatus DisplayStatus  `json:"display_status"`
	AttemptCount  int            `json:"attempt_count"`
	PlaybackID    *string        `json:"playback_id,omitempty"`
	FailureReason *FailureReason `json:"failure_reason,omitempty"`
}

func NewRecordStatusResponse(rec *IngestionRecord) RecordStatusResponse {
	return RecordStatusResponse{
		RecordID:      rec.ID,
		State:         rec.State,
		DisplayStatus: DisplayStatusFor(rec.State),
		AttemptCount:  rec.AttemptCount,
		PlaybackID:    rec.ProviderPlaybackID,
		FailureReason: rec.FailureReason,
	}
}

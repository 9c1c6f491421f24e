package models

import (
	"encoding/json"
	"time"
)

// Upload statuses reported by the transcoding provider.
const (
	UploadStatusWaiting      = "waiting"
	UploadStatusAssetCreated = "asset_created"
	UploadStatusErrored      = "errored"
	UploadStatusCancelled    = "cancelled"
	UploadStatusTimedOut     = "timed_out"
)

// Asset statuses reported by the transcoding provider.
const (
	AssetStatusPreparing = "preparing"
	AssetStatusReady     = "ready"
	AssetStatusErrored   = "errored"
)

type UploadTicket struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type ProviderUpload struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	AssetID string `json:"asset_id,omitempty"`
}

type ProviderAsset struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	PlaybackID string `json:"playback_id,omitempty"`
}

// MirrorRow is the local copy of provider state written by the webhook handler.
type MirrorRow struct {
	UploadID     string    `json:"upload_id"`
	UploadStatus string    `json:"upload_status"`
	AssetID      *string   `json:"asset_id"`
	AssetStatus  *string   `json:"asset_status"`
	PlaybackID   *string   `json:"playback_id"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// WebhookEvent is the envelope the provider posts to the webhook endpoint.
type WebhookEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Webhook event types the backend reacts to.
const (
	EventUploadAssetCreated = "video.upload.asset_created"
	EventUploadErrored      = "video.upload.errored"
	EventUploadCancelled    = "video.upload.cancelled"
	EventAssetReady         = "video.asset.ready"
	EventAssetErrored       = "video.asset.errored"
)

// ProviderEvent is a webhook event reduced to the fields reconciliation needs.
type ProviderEvent struct {
	ID           string
	Type         string
	UploadID     string
	UploadStatus string
	AssetID      string
	AssetStatus  string
	PlaybackID   string
}

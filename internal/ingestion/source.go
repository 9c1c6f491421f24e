package ingestion

import (
	"context"
	"errors"
	"fmt"

	"lifestory-backend/internal/models"
)

// Provider is the slice of the transcoding provider API this package consumes.
type Provider interface {
	CreateUploadTicket(ctx context.Context, corsOrigin, playbackPolicy string) (*models.UploadTicket, error)
	GetUploadStatus(ctx context.Context, ticketID string) (*models.ProviderUpload, error)
	GetAsset(ctx context.Context, assetID string) (*models.ProviderAsset, error)
	CancelUpload(ctx context.Context, ticketID string) error
}

type ProviderStatus int

const (
	// StatusWaiting covers every non-conclusive answer, including an absent status.
	StatusWaiting ProviderStatus = iota
	StatusProcessing
	StatusReady
	StatusErrored
)

type Observation struct {
	Status     ProviderStatus
	AssetID    string
	PlaybackID string
}

// StatusSource reports what the provider currently knows about a record.
type StatusSource interface {
	Observe(ctx context.Context, rec *models.IngestionRecord) (Observation, error)
}

// DirectSource queries the provider on every observation.
type DirectSource struct {
	provider Provider
}

func NewDirectSource(provider Provider) *DirectSource {
	return &DirectSource{provider: provider}
}

func (s *DirectSource) Observe(ctx context.Context, rec *models.IngestionRecord) (Observation, error) {
	assetID := ""
	if rec.ProviderAssetID != nil {
		assetID = *rec.ProviderAssetID
	}

	if assetID == "" {
		upload, err := s.provider.GetUploadStatus(ctx, rec.UploadTicketID)
		if err != nil {
			return Observation{}, fmt.Errorf("get upload %s: %w", rec.UploadTicketID, err)
		}
		switch upload.Status {
		case models.UploadStatusErrored, models.UploadStatusCancelled, models.UploadStatusTimedOut:
			return Observation{Status: StatusErrored}, nil
		case models.UploadStatusAssetCreated:
			if upload.AssetID == "" {
				return Observation{Status: StatusWaiting}, nil
			}
			assetID = upload.AssetID
		default:
			return Observation{Status: StatusWaiting}, nil
		}
	}

	asset, err := s.provider.GetAsset(ctx, assetID)
	if err != nil {
		// The asset id is still worth keeping even when the follow-up query failed.
		return Observation{Status: StatusProcessing, AssetID: assetID}, fmt.Errorf("get asset %s: %w", assetID, err)
	}
	return observationFromAsset(asset.ID, asset.Status, asset.PlaybackID), nil
}

func observationFromAsset(assetID, status, playbackID string) Observation {
	switch status {
	case models.AssetStatusReady:
		if playbackID == "" {
			return Observation{Status: StatusProcessing, AssetID: assetID}
		}
		return Observation{Status: StatusReady, AssetID: assetID, PlaybackID: playbackID}
	case models.AssetStatusErrored:
		return Observation{Status: StatusErrored, AssetID: assetID}
	default:
		return Observation{Status: StatusProcessing, AssetID: assetID}
	}
}

// ErrMirrorRowMissing is returned by a MirrorReader when no webhook has arrived yet.
var ErrMirrorRowMissing = errors.New("no mirrored provider state")

type MirrorReader interface {
	GetByUploadID(ctx context.Context, uploadID string) (*models.MirrorRow, error)
}

// MirrorSource reads the local table the webhook handler keeps in sync with the provider.
type MirrorSource struct {
	mirror MirrorReader
}

func NewMirrorSource(mirror MirrorReader) *MirrorSource {
	return &MirrorSource{mirror: mirror}
}

func (s *MirrorSource) Observe(ctx context.Context, rec *models.IngestionRecord) (Observation, error) {
	row, err := s.mirror.GetByUploadID(ctx, rec.UploadTicketID)
	if errors.Is(err, ErrMirrorRowMissing) {
		return Observation{Status: StatusWaiting}, nil
	}
	if err != nil {
		return Observation{}, fmt.Errorf("read mirror for upload %s: %w", rec.UploadTicketID, err)
	}

	switch row.UploadStatus {
	case models.UploadStatusErrored, models.UploadStatusCancelled, models.UploadStatusTimedOut:
		return Observation{Status: StatusErrored}, nil
	}
	if row.AssetID == nil || *row.AssetID == "" {
		return Observation{Status: StatusWaiting}, nil
	}

	status, playbackID := "", ""
	if row.AssetStatus != nil {
		status = *row.AssetStatus
	}
	if row.PlaybackID != nil {
		playbackID = *row.PlaybackID
	}
	return observationFromAsset(*row.AssetID, status, playbackID), nil
}

// NewStatusSource maps the POLL_STRATEGY setting to a source.
func NewStatusSource(strategy string, provider Provider, mirror MirrorReader) StatusSource {
	if strategy == "mirror" {
		return NewMirrorSource(mirror)
	}
	return NewDirectSource(provider)
}

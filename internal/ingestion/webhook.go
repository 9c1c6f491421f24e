package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"lifestory-backend/internal/models"
)

type TicketLookup interface {
	GetByUploadTicketID(ctx context.Context, ticketID string) (*models.IngestionRecord, error)
}

type MirrorStore interface {
	MirrorReader
	Upsert(ctx context.Context, row *models.MirrorRow) error
}

// WebhookReconciler applies provider callbacks. It shares the state machine with the poller,
// so a callback racing an in-flight poll loop resolves through compare-and-set.
type WebhookReconciler struct {
	records TicketLookup
	mirror  MirrorStore
	machine *Machine
	log     *logrus.Logger
}

func NewWebhookReconciler(records TicketLookup, mirror MirrorStore, machine *Machine, logger *logrus.Logger) *WebhookReconciler {
	return &WebhookReconciler{
		records: records,
		mirror:  mirror,
		machine: machine,
		log:     logger,
	}
}

func (w *WebhookReconciler) Apply(ctx context.Context, ev models.ProviderEvent) (Outcome, error) {
	if ev.UploadID == "" {
		// Assets created outside direct uploads are not ours.
		return OutcomeUnchanged, nil
	}

	if err := w.mirror.Upsert(ctx, mirrorRowFor(ev)); err != nil {
		return OutcomeUnchanged, fmt.Errorf("failed to mirror provider event %s: %w", ev.ID, err)
	}

	rec, err := w.records.GetByUploadTicketID(ctx, ev.UploadID)
	if errors.Is(err, ErrRecordNotFound) {
		w.log.WithFields(logrus.Fields{"event_id": ev.ID, "upload_id": ev.UploadID}).Warn("webhook for unknown upload ticket")
		return OutcomeUnchanged, nil
	}
	if err != nil {
		return OutcomeUnchanged, err
	}

	t, ok := transitionFor(ev)
	if !ok {
		return OutcomeUnchanged, nil
	}

	_, outcome, err := w.machine.Advance(ctx, rec.ID, t)
	if errors.Is(err, ErrIllegalTransition) {
		// A late asset_created after the poller already moved past it.
		return OutcomeUnchanged, nil
	}
	if err != nil {
		return OutcomeUnchanged, err
	}

	w.log.WithFields(logrus.Fields{
		"event_id":   ev.ID,
		"event_type": ev.Type,
		"record_id":  rec.ID,
		"outcome":    outcome,
	}).Info("provider webhook applied")
	return outcome, nil
}

func transitionFor(ev models.ProviderEvent) (Transition, bool) {
	switch ev.Type {
	case models.EventUploadAssetCreated:
		return Transition{To: models.StateProcessing, AssetID: ev.AssetID}, true
	case models.EventAssetReady:
		if ev.PlaybackID == "" {
			return Transition{To: models.StateProcessing, AssetID: ev.AssetID}, true
		}
		return Transition{To: models.StateReady, AssetID: ev.AssetID, PlaybackID: ev.PlaybackID}, true
	case models.EventAssetErrored, models.EventUploadErrored:
		return Transition{To: models.StateFailed, AssetID: ev.AssetID, Reason: models.ReasonProviderErrored}, true
	case models.EventUploadCancelled:
		return Transition{To: models.StateFailed, Reason: models.ReasonUploadCancelled}, true
	default:
		return Transition{}, false
	}
}

func mirrorRowFor(ev models.ProviderEvent) *models.MirrorRow {
	row := &models.MirrorRow{
		UploadID:     ev.UploadID,
		UploadStatus: ev.UploadStatus,
		UpdatedAt:    time.Now().UTC(),
	}
	if ev.AssetID != "" {
		row.AssetID = &ev.AssetID
	}
	if ev.AssetStatus != "" {
		row.AssetStatus = &ev.AssetStatus
	}
	if ev.PlaybackID != "" {
		row.PlaybackID = &ev.PlaybackID
	}
	return row
}

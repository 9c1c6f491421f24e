package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"lifestory-backend/internal/models"
)

type IssuerConfig struct {
	CORSOrigin     string
	PlaybackPolicy string
}

// Ticket is what the caller needs to start the direct upload.
type Ticket struct {
	RecordID       uuid.UUID
	UploadTicketID string
	UploadURL      string
}

type Issuer struct {
	store    Store
	provider Provider
	machine  *Machine
	cfg      IssuerConfig
	log      *logrus.Logger
	now      func() time.Time
}

func NewIssuer(store Store, provider Provider, machine *Machine, cfg IssuerConfig, logger *logrus.Logger) *Issuer {
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}
	if cfg.PlaybackPolicy == "" {
		cfg.PlaybackPolicy = "public"
	}
	return &Issuer{
		store:    store,
		provider: provider,
		machine:  machine,
		cfg:      cfg,
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// IssueUploadTicket reserves slot for ownerID and returns a one-time upload destination.
// Authorization of ownerID against the slot happens before this call.
func (i *Issuer) IssueUploadTicket(ctx context.Context, slotType models.SlotType, slotID, ownerID uuid.UUID) (*Ticket, error) {
	if !slotType.Valid() {
		return nil, fmt.Errorf("unknown slot type %q", slotType)
	}

	active, err := i.store.FindActiveBySlot(ctx, slotType, slotID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active uploads: %w", err)
	}
	if active != nil {
		return nil, ErrDuplicateActiveUpload
	}

	ticket, err := i.provider.CreateUploadTicket(ctx, i.cfg.CORSOrigin, i.cfg.PlaybackPolicy)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}

	now := i.now()
	rec := &models.IngestionRecord{
		ID:             uuid.New(),
		SlotType:       slotType,
		SlotID:         slotID,
		OwnerID:        ownerID,
		UploadTicketID: ticket.ID,
		State:          models.StatePending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := i.store.Create(ctx, rec); err != nil {
		// The ticket was issued but cannot be tracked; give it back.
		if cancelErr := i.provider.CancelUpload(context.WithoutCancel(ctx), ticket.ID); cancelErr != nil {
			i.log.WithError(cancelErr).WithField("upload_ticket_id", ticket.ID).Warn("failed to cancel orphaned upload ticket")
		}
		if errors.Is(err, ErrDuplicateActiveUpload) {
			return nil, ErrDuplicateActiveUpload
		}
		return nil, fmt.Errorf("failed to persist ingestion record: %w", err)
	}

	i.log.WithFields(logrus.Fields{
		"record_id":        rec.ID,
		"slot_type":        slotType,
		"slot_id":          slotID,
		"upload_ticket_id": ticket.ID,
	}).Info("upload ticket issued")

	return &Ticket{
		RecordID:       rec.ID,
		UploadTicketID: ticket.ID,
		UploadURL:      ticket.URL,
	}, nil
}

// Abandon is the manual recovery path after a failed transport: it fails a PENDING record so
// the slot can be reissued. The provider ticket is cancelled on a best-effort basis.
func (i *Issuer) Abandon(ctx context.Context, recordID, ownerID uuid.UUID) (*models.IngestionRecord, Outcome, error) {
	rec, err := i.store.GetByID(ctx, recordID)
	if err != nil {
		return nil, OutcomeUnchanged, err
	}
	if rec.OwnerID != ownerID {
		return nil, OutcomeUnchanged, ErrNotOwner
	}
	if rec.State.Terminal() {
		return rec, OutcomeAlreadyTerminal, nil
	}
	if rec.State != models.StatePending {
		return rec, OutcomeUnchanged, fmt.Errorf("%w: only a PENDING upload can be abandoned (state %s)", ErrIllegalTransition, rec.State)
	}

	next, outcome, err := i.machine.Advance(ctx, recordID, Transition{
		To:     models.StateFailed,
		Reason: models.ReasonTransportAbandoned,
	})
	if err != nil {
		return rec, outcome, err
	}

	if outcome == OutcomeApplied {
		if cancelErr := i.provider.CancelUpload(ctx, rec.UploadTicketID); cancelErr != nil {
			i.log.WithError(cancelErr).WithField("upload_ticket_id", rec.UploadTicketID).Warn("failed to cancel abandoned upload ticket")
		}
	}
	return next, outcome, nil
}

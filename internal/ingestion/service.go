package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"lifestory-backend/internal/models"
)

// Dispatcher hands a record to whatever runs poll loops.
type Dispatcher interface {
	Enqueue(ctx context.Context, task models.PollTask) error
}

// Service is the surface the HTTP layer talks to. UI callers only observe state through it;
// they never drive a poll loop themselves.
type Service struct {
	store      Store
	issuer     *Issuer
	machine    *Machine
	assembler  *Assembler
	dispatcher Dispatcher
	log        *logrus.Logger
}

func NewService(store Store, issuer *Issuer, machine *Machine, assembler *Assembler, dispatcher Dispatcher, logger *logrus.Logger) *Service {
	return &Service{
		store:      store,
		issuer:     issuer,
		machine:    machine,
		assembler:  assembler,
		dispatcher: dispatcher,
		log:        logger,
	}
}

func (s *Service) IssueUpload(ctx context.Context, slotType models.SlotType, slotID, ownerID uuid.UUID) (*Ticket, error) {
	return s.issuer.IssueUploadTicket(ctx, slotType, slotID, ownerID)
}

func (s *Service) RecordStatus(ctx context.Context, recordID, ownerID uuid.UUID) (*models.IngestionRecord, error) {
	return s.owned(ctx, recordID, ownerID)
}

// CompleteTransport records a successful direct upload and starts polling. Repeated calls, or
// calls after a webhook already moved the record further, are accepted without changes.
func (s *Service) CompleteTransport(ctx context.Context, recordID, ownerID uuid.UUID) (*models.IngestionRecord, error) {
	rec, err := s.owned(ctx, recordID, ownerID)
	if err != nil {
		return nil, err
	}

	if rec.State == models.StatePending {
		next, _, err := s.machine.Advance(ctx, recordID, Transition{To: models.StateTransportComplete})
		if err != nil {
			return nil, err
		}
		rec = next
	}
	if rec.State.Terminal() {
		return rec, nil
	}

	if err := s.dispatch(ctx, rec, "transport-complete"); err != nil {
		return rec, err
	}
	return rec, nil
}

// ResumePolling re-queues a poll loop for a record whose previous loop was abandoned. It never
// issues a new ticket.
func (s *Service) ResumePolling(ctx context.Context, recordID, ownerID uuid.UUID) (*models.IngestionRecord, error) {
	rec, err := s.owned(ctx, recordID, ownerID)
	if err != nil {
		return nil, err
	}
	if rec.State.Terminal() {
		return rec, nil
	}
	if rec.State == models.StatePending {
		return rec, ErrTransportIncomplete
	}
	return rec, s.dispatch(ctx, rec, "resume")
}

func (s *Service) Abandon(ctx context.Context, recordID, ownerID uuid.UUID) (*models.IngestionRecord, Outcome, error) {
	return s.issuer.Abandon(ctx, recordID, ownerID)
}

func (s *Service) Playlist(ctx context.Context, topicID uuid.UUID) ([]models.PlaylistEntry, error) {
	return s.assembler.BuildPlaylist(ctx, topicID)
}

func (s *Service) owned(ctx context.Context, recordID, ownerID uuid.UUID) (*models.IngestionRecord, error) {
	rec, err := s.store.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return rec, nil
}

func (s *Service) dispatch(ctx context.Context, rec *models.IngestionRecord, reason string) error {
	task := models.PollTask{
		RecordID:   rec.ID,
		OwnerID:    rec.OwnerID,
		Reason:     reason,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := s.dispatcher.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue poll for %s: %w", rec.ID, err)
	}
	s.log.WithFields(logrus.Fields{"record_id": rec.ID, "reason": reason}).Debug("poll enqueued")
	return nil
}

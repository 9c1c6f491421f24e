package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"lifestory-backend/internal/models"
)

// Store persists ingestion records. CompareAndSwap must only write when the stored row still
// has the expected state and attempt count.
type Store interface {
	Create(ctx context.Context, rec *models.IngestionRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.IngestionRecord, error)
	FindActiveBySlot(ctx context.Context, slotType models.SlotType, slotID uuid.UUID) (*models.IngestionRecord, error)
	CompareAndSwap(ctx context.Context, next *models.IngestionRecord, expectedState models.IngestionState, expectedAttempts int) (bool, error)
}

// Publisher fans record changes out to live listeners. Failures are logged, never returned.
type Publisher interface {
	Publish(ctx context.Context, ownerID uuid.UUID, msg models.WSMessage) error
}

type Outcome int

const (
	OutcomeApplied Outcome = iota
	OutcomeUnchanged
	OutcomeAlreadyTerminal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeAlreadyTerminal:
		return "already_terminal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Transition describes a requested move. AssetID and PlaybackID are applied when non-empty;
// PlaybackID is required for READY.
type Transition struct {
	To           models.IngestionState
	AssetID      string
	PlaybackID   string
	Reason       models.FailureReason
	CountAttempt bool
}

const maxCASRetries = 5

type Machine struct {
	store     Store
	publisher Publisher
	log       *logrus.Logger
	now       func() time.Time
}

func NewMachine(store Store, publisher Publisher, logger *logrus.Logger) *Machine {
	return &Machine{
		store:     store,
		publisher: publisher,
		log:       logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Advance applies t to the record. A terminal record is never touched and reports
// OutcomeAlreadyTerminal with a nil error, so duplicate deliveries are safe.
func (m *Machine) Advance(ctx context.Context, id uuid.UUID, t Transition) (*models.IngestionRecord, Outcome, error) {
	for i := 0; i < maxCASRetries; i++ {
		cur, err := m.store.GetByID(ctx, id)
		if err != nil {
			return nil, OutcomeUnchanged, err
		}
		if cur.State.Terminal() {
			return cur, OutcomeAlreadyTerminal, nil
		}

		next, changed, err := nextRecord(cur, t, m.now())
		if err != nil {
			return cur, OutcomeUnchanged, err
		}
		if !changed {
			return cur, OutcomeUnchanged, nil
		}

		swapped, err := m.store.CompareAndSwap(ctx, next, cur.State, cur.AttemptCount)
		if err != nil {
			return cur, OutcomeUnchanged, fmt.Errorf("failed to persist %s -> %s: %w", cur.State, next.State, err)
		}
		if !swapped {
			continue
		}

		m.log.WithFields(logrus.Fields{
			"record_id": next.ID,
			"from":      cur.State,
			"to":        next.State,
			"attempts":  next.AttemptCount,
		}).Debug("ingestion record advanced")
		m.publish(ctx, next)
		return next, OutcomeApplied, nil
	}
	return nil, OutcomeUnchanged, ErrStateConflict
}

func (m *Machine) publish(ctx context.Context, rec *models.IngestionRecord) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, rec.OwnerID, models.NewIngestionUpdate(rec)); err != nil {
		m.log.WithError(err).WithField("record_id", rec.ID).Warn("failed to publish ingestion update")
	}
}

// nextRecord computes the successor of cur under t without side effects.
func nextRecord(cur *models.IngestionRecord, t Transition, now time.Time) (*models.IngestionRecord, bool, error) {
	if t.To.Rank() < 0 {
		return nil, false, fmt.Errorf("%w: unknown state %q", ErrIllegalTransition, t.To)
	}
	if t.To.Rank() < cur.State.Rank() {
		return nil, false, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, cur.State, t.To)
	}
	if t.To == models.StateReady && t.PlaybackID == "" {
		return nil, false, fmt.Errorf("%w: READY requires a playback id", ErrIllegalTransition)
	}

	next := *cur
	changed := false

	if t.To != cur.State {
		next.State = t.To
		changed = true
	}
	if t.AssetID != "" && (cur.ProviderAssetID == nil || *cur.ProviderAssetID != t.AssetID) {
		assetID := t.AssetID
		next.ProviderAssetID = &assetID
		changed = true
	}
	if t.CountAttempt {
		next.AttemptCount = cur.AttemptCount + 1
		changed = true
	}

	switch t.To {
	case models.StateReady:
		playbackID := t.PlaybackID
		next.ProviderPlaybackID = &playbackID
	case models.StateFailed:
		reason := t.Reason
		if reason == "" {
			reason = models.ReasonProviderErrored
		}
		next.FailureReason = &reason
	}

	if changed {
		next.UpdatedAt = now
	}
	return &next, changed, nil
}

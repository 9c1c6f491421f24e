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

const (
	DefaultMaxAttempts = 60
	DefaultPollDelay   = 5 * time.Second
)

type PollerConfig struct {
	MaxAttempts int
	Backoff     Backoff
	// LeaseTTL is raised to LeaseTTLFor(Backoff) when it does not outlive the longest delay.
	LeaseTTL time.Duration
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Backoff == nil {
		c.Backoff = FixedBackoff{Interval: DefaultPollDelay}
	}
	if floor := LeaseTTLFor(c.Backoff); c.LeaseTTL < floor {
		c.LeaseTTL = floor
	}
	return c
}

// Poller drives one record from TRANSPORT_COMPLETE to READY or FAILED.
type Poller struct {
	store   Store
	machine *Machine
	source  StatusSource
	leaser  Leaser
	cfg     PollerConfig
	log     *logrus.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewPoller(store Store, machine *Machine, source StatusSource, leaser Leaser, cfg PollerConfig, logger *logrus.Logger) *Poller {
	return &Poller{
		store:   store,
		machine: machine,
		source:  source,
		leaser:  leaser,
		cfg:     cfg.withDefaults(),
		log:     logger,
		sleep:   sleepCtx,
	}
}

// PollUntilTerminal observes the provider until the record is READY or FAILED, the attempt
// budget runs out, or ctx ends. A cancelled loop leaves the record as it was and returns
// ErrPollAbandoned; calling again with the same id resumes from the stored attempt count.
// Exhaustion returns StateFailed together with ErrPollingExhausted.
func (p *Poller) PollUntilTerminal(ctx context.Context, recordID uuid.UUID) (models.IngestionState, error) {
	rec, err := p.store.GetByID(ctx, recordID)
	if err != nil {
		return "", err
	}
	if rec.State.Terminal() {
		return rec.State, nil
	}
	if rec.State == models.StatePending {
		return rec.State, ErrTransportIncomplete
	}

	lease, err := p.leaser.Acquire(ctx, pollLeaseKey(recordID), p.cfg.LeaseTTL)
	if err != nil {
		return rec.State, err
	}
	defer func() {
		if relErr := lease.Release(context.Background()); relErr != nil {
			p.log.WithError(relErr).WithField("record_id", recordID).Warn("failed to release poll lease")
		}
	}()

	logger := p.log.WithFields(logrus.Fields{"record_id": recordID, "lease_owner": lease.Owner()})
	logger.WithField("attempts", rec.AttemptCount).Info("polling provider status")

	for {
		// A loop that lost its lease must not query or write again.
		if err := lease.Renew(ctx); err != nil {
			if ctx.Err() != nil {
				return rec.State, p.abandoned(ctx, logger, rec)
			}
			return rec.State, fmt.Errorf("lost poll lease: %w", err)
		}

		if rec.AttemptCount >= p.cfg.MaxAttempts {
			return p.exhaust(ctx, logger, rec)
		}

		obs, obsErr := p.source.Observe(ctx, rec)
		if ctx.Err() != nil {
			return rec.State, p.abandoned(ctx, logger, rec)
		}

		if obsErr == nil {
			switch obs.Status {
			case StatusReady:
				return p.finish(ctx, logger, rec, Transition{
					To:         models.StateReady,
					AssetID:    obs.AssetID,
					PlaybackID: obs.PlaybackID,
				})
			case StatusErrored:
				return p.finish(ctx, logger, rec, Transition{
					To:      models.StateFailed,
					AssetID: obs.AssetID,
					Reason:  models.ReasonProviderErrored,
				})
			}
		} else {
			logger.WithError(obsErr).WithField("attempts", rec.AttemptCount+1).Warn("status query failed, counting toward budget")
		}

		next, outcome, err := p.machine.Advance(ctx, rec.ID, Transition{
			To:           models.StateProcessing,
			AssetID:      obs.AssetID,
			CountAttempt: true,
		})
		if err != nil {
			if ctx.Err() != nil {
				return rec.State, p.abandoned(ctx, logger, rec)
			}
			return rec.State, fmt.Errorf("failed to record poll attempt: %w", err)
		}
		if outcome == OutcomeAlreadyTerminal {
			return next.State, nil
		}
		rec = next

		if rec.AttemptCount >= p.cfg.MaxAttempts {
			return p.exhaust(ctx, logger, rec)
		}

		if err := p.sleep(ctx, p.cfg.Backoff.Delay(rec.AttemptCount)); err != nil {
			return rec.State, p.abandoned(ctx, logger, rec)
		}
	}
}

func (p *Poller) finish(ctx context.Context, logger *logrus.Entry, rec *models.IngestionRecord, t Transition) (models.IngestionState, error) {
	next, outcome, err := p.machine.Advance(ctx, rec.ID, t)
	if err != nil {
		if ctx.Err() != nil {
			return rec.State, p.abandoned(ctx, logger, rec)
		}
		return rec.State, err
	}
	logger.WithFields(logrus.Fields{
		"state":   next.State,
		"outcome": outcome,
	}).Info("polling finished")
	return next.State, nil
}

func (p *Poller) exhaust(ctx context.Context, logger *logrus.Entry, rec *models.IngestionRecord) (models.IngestionState, error) {
	next, outcome, err := p.machine.Advance(ctx, rec.ID, Transition{
		To:     models.StateFailed,
		Reason: models.ReasonPollingExhausted,
	})
	if err != nil {
		if ctx.Err() != nil {
			return rec.State, p.abandoned(ctx, logger, rec)
		}
		return rec.State, err
	}
	if outcome == OutcomeAlreadyTerminal {
		return next.State, nil
	}
	logger.WithField("attempts", next.AttemptCount).Warn("polling exhausted without a terminal provider status")
	return next.State, ErrPollingExhausted
}

func (p *Poller) abandoned(ctx context.Context, logger *logrus.Entry, rec *models.IngestionRecord) error {
	logger.WithFields(logrus.Fields{
		"state":    rec.State,
		"attempts": rec.AttemptCount,
	}).Info("polling abandoned, record left for resume")
	return fmt.Errorf("%w: %w", ErrPollAbandoned, context.Cause(ctx))
}

// IsAbandoned reports whether err came from a cancelled poll loop rather than a failure.
func IsAbandoned(err error) bool {
	return errors.Is(err, ErrPollAbandoned)
}

package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"lifestory-backend/internal/models"
)

const (
	reconcileBatchSize  = 100
	defaultStaleAfter   = 2 * time.Minute
	defaultReconcileRun = time.Minute
)

type StaleLister interface {
	ListStale(ctx context.Context, before time.Time, limit int) ([]*models.IngestionRecord, error)
}

type TaskEnqueuer interface {
	Enqueue(ctx context.Context, task models.PollTask) error
}

// ReconcileScheduler re-queues in-flight records whose poll loop went quiet, e.g. after a
// restart or a cancelled loop. The poll lease drops duplicates for loops that are still alive.
type ReconcileScheduler struct {
	records    StaleLister
	queue      TaskEnqueuer
	interval   time.Duration
	staleAfter time.Duration
	log        *logrus.Logger
	stopChan   chan struct{}
}

func NewReconcileScheduler(records StaleLister, queue TaskEnqueuer, interval, staleAfter time.Duration, logger *logrus.Logger) *ReconcileScheduler {
	if interval <= 0 {
		interval = defaultReconcileRun
	}
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &ReconcileScheduler{
		records:    records,
		queue:      queue,
		interval:   interval,
		staleAfter: staleAfter,
		log:        logger,
		stopChan:   make(chan struct{}),
	}
}

func (s *ReconcileScheduler) Start() {
	go s.loop()
	s.log.WithField("interval", s.interval.String()).Info("reconcile scheduler started")
}

func (s *ReconcileScheduler) Stop() {
	select {
	case <-s.stopChan:
		return
	default:
		close(s.stopChan)
	}
}

func (s *ReconcileScheduler) loop() {
	// Run on startup as well as by interval.
	s.RunOnce(context.Background(), time.Now().UTC())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.RunOnce(context.Background(), time.Now().UTC())
		}
	}
}

// RunOnce enqueues every record not updated within staleAfter of now and returns how many
// tasks were queued.
func (s *ReconcileScheduler) RunOnce(ctx context.Context, now time.Time) int {
	stale, err := s.records.ListStale(ctx, now.Add(-s.staleAfter), reconcileBatchSize)
	if err != nil {
		s.log.WithError(err).Error("reconcile: failed to list stale records")
		return 0
	}

	queued := 0
	for _, rec := range stale {
		task := models.PollTask{
			RecordID:   rec.ID,
			OwnerID:    rec.OwnerID,
			Reason:     "reconcile",
			EnqueuedAt: now,
		}
		if err := s.queue.Enqueue(ctx, task); err != nil {
			s.log.WithError(err).WithField("record_id", rec.ID).Warn("reconcile: failed to enqueue poll task")
			continue
		}
		queued++
	}

	if queued > 0 {
		s.log.WithField("count", queued).Info("reconcile: re-queued stale ingestion records")
	}
	return queued
}

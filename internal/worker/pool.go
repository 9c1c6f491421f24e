package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"lifestory-backend/internal/ingestion"
	"lifestory-backend/internal/models"
)

const popTimeout = 30 * time.Second

type TaskQueue interface {
	Pop(ctx context.Context, timeout time.Duration) (*models.PollTask, error)
}

type Runner interface {
	PollUntilTerminal(ctx context.Context, recordID uuid.UUID) (models.IngestionState, error)
}

// Pool runs poll loops pulled off the queue. Stop cancels in-flight loops; their records stay
// non-terminal and the reconciler re-queues them later.
type Pool struct {
	queue       TaskQueue
	runner      Runner
	log         *logrus.Logger
	workerCount int
	ctx         context.Context
	cancel      context.CancelCauseFunc
	wg          sync.WaitGroup
}

var errPoolStopped = errors.New("worker pool stopped")

func NewPool(queue TaskQueue, runner Runner, workerCount int, logger *logrus.Logger) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Pool{
		queue:       queue,
		runner:      runner,
		log:         logger,
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.log.WithField("workers", p.workerCount).Info("started poll workers")
}

// Stop cancels running loops and waits for workers to exit.
func (p *Pool) Stop() {
	p.cancel(errPoolStopped)
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	logger := p.log.WithField("worker", id)

	for {
		if p.ctx.Err() != nil {
			logger.Debug("poll worker shutting down")
			return
		}

		task, err := p.queue.Pop(p.ctx, popTimeout)
		if err != nil {
			if !errors.Is(err, ErrQueueEmpty) && p.ctx.Err() == nil {
				logger.WithError(err).Warn("failed to pop poll task")
				time.Sleep(time.Second)
			}
			continue
		}

		p.run(logger, task)
	}
}

func (p *Pool) run(logger *logrus.Entry, task *models.PollTask) {
	entry := logger.WithFields(logrus.Fields{
		"record_id": task.RecordID,
		"reason":    task.Reason,
	})

	state, err := p.runner.PollUntilTerminal(p.ctx, task.RecordID)
	switch {
	case err == nil:
		entry.WithField("state", state).Info("poll task done")
	case errors.Is(err, ingestion.ErrPollInProgress):
		entry.Debug("poll loop already running elsewhere")
	case errors.Is(err, ingestion.ErrTransportIncomplete):
		entry.Info("record still awaiting transport, skipping")
	case ingestion.IsAbandoned(err):
		entry.WithField("state", state).Info("poll task abandoned")
	case errors.Is(err, ingestion.ErrPollingExhausted):
		entry.Warn("poll task exhausted its attempt budget")
	case errors.Is(err, ingestion.ErrRecordNotFound):
		entry.Warn("poll task for unknown record")
	default:
		entry.WithError(err).Error("poll task failed")
	}
}

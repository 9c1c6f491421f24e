package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifestory-backend/internal/models"
)

func newTestPoller(store *memStore, source StatusSource, leaser Leaser, maxAttempts int) *Poller {
	logger := quietLogger()
	machine := NewMachine(store, nil, logger)
	p := NewPoller(store, machine, source, leaser, PollerConfig{
		MaxAttempts: maxAttempts,
		Backoff:     FixedBackoff{Interval: time.Millisecond},
		LeaseTTL:    time.Minute,
	}, logger)
	p.sleep = noSleep
	return p
}

func TestPoller_ReachesReady(t *testing.T) {
	store := newMemStore()
	rec := transportCompleteRecord()
	store.put(rec)

	source := &scriptedSource{steps: []sourceStep{
		{obs: Observation{Status: StatusWaiting}},
		{obs: Observation{Status: StatusProcessing, AssetID: "asset-1"}},
		{obs: Observation{Status: StatusReady, AssetID: "asset-1", PlaybackID: "play-1"}},
	}}
	p := newTestPoller(store, source, NewLocalLeaser(), 10)

	state, err := p.PollUntilTerminal(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateReady, state)

	stored, _ := store.GetByID(context.Background(), rec.ID)
	assert.Equal(t, 2, stored.AttemptCount)
	assert.Equal(t, "asset-1", *stored.ProviderAssetID)
	assert.Equal(t, "play-1", *stored.ProviderPlaybackID)
	assert.Equal(t, 3, source.callCount())
}

func TestPoller_ProviderErrorIsTerminal(t *testing.T) {
	store := newMemStore()
	rec := transportCompleteRecord()
	store.put(rec)

	source := &scriptedSource{steps: []sourceStep{{obs: Observation{Status: StatusErrored}}}}
	p := newTestPoller(store, source, NewLocalLeaser(), 10)

	state, err := p.PollUntilTerminal(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, state)

	stored, _ := store.GetByID(context.Background(), rec.ID)
	assert.Equal(t, models.ReasonProviderErrored, *stored.FailureReason)
	assert.Nil(t, stored.ProviderPlaybackID)
}

func TestPoller_ExhaustionAfterExactlyMaxAttempts(t *testing.T) {
	tests := []struct {
		name string
		step sourceStep
	}{
		{"never terminal", sourceStep{obs: Observation{Status: StatusProcessing, AssetID: "asset-x"}}},
		{"absent status", sourceStep{obs: Observation{Status: StatusWaiting}}},
		{"query errors", sourceStep{err: errors.New("502 bad gateway")}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemStore()
			rec := transportCompleteRecord()
			store.put(rec)

			source := &scriptedSource{steps: []sourceStep{tc.step}}
			p := newTestPoller(store, source, NewLocalLeaser(), 60)

			state, err := p.PollUntilTerminal(context.Background(), rec.ID)
			assert.ErrorIs(t, err, ErrPollingExhausted)
			assert.Equal(t, models.StateFailed, state)
			assert.Equal(t, 60, source.callCount())

			stored, _ := store.GetByID(context.Background(), rec.ID)
			assert.Equal(t, 60, stored.AttemptCount)
			require.NotNil(t, stored.FailureReason)
			assert.Equal(t, models.ReasonPollingExhausted, *stored.FailureReason)

			// Terminal now: a second call issues no queries.
			state, err = p.PollUntilTerminal(context.Background(), rec.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StateFailed, state)
			assert.Equal(t, 60, source.callCount())
		})
	}
}

func TestPoller_CancelThenResume(t *testing.T) {
	store := newMemStore()
	rec := transportCompleteRecord()
	store.put(rec)

	ctx, cancel := context.WithCancel(context.Background())
	source := &scriptedSource{
		steps: []sourceStep{{obs: Observation{Status: StatusProcessing, AssetID: "asset-c"}}},
		onCall: func(call int) {
			if call == 3 {
				cancel()
			}
		},
	}
	leaser := NewLocalLeaser()
	p := newTestPoller(store, source, leaser, 60)

	state, err := p.PollUntilTerminal(ctx, rec.ID)
	assert.True(t, IsAbandoned(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.StateProcessing, state)

	stored, _ := store.GetByID(context.Background(), rec.ID)
	assert.Equal(t, models.StateProcessing, stored.State, "cancellation must not fail the record")
	assert.Nil(t, stored.FailureReason)
	assert.Equal(t, 2, stored.AttemptCount)

	source.mu.Lock()
	source.steps = []sourceStep{{obs: Observation{Status: StatusReady, AssetID: "asset-c", PlaybackID: "play-c"}}}
	source.onCall = nil
	source.mu.Unlock()

	state, err = p.PollUntilTerminal(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateReady, state)

	stored, _ = store.GetByID(context.Background(), rec.ID)
	assert.Equal(t, rec.UploadTicketID, stored.UploadTicketID, "resume must not reissue a ticket")
	assert.Equal(t, "play-c", *stored.ProviderPlaybackID)
}

func TestPoller_ResumeKeepsAttemptBudget(t *testing.T) {
	store := newMemStore()
	rec := transportCompleteRecord()
	rec.State = models.StateProcessing
	rec.AttemptCount = 58
	store.put(rec)

	source := &scriptedSource{steps: []sourceStep{{obs: Observation{Status: StatusWaiting}}}}
	p := newTestPoller(store, source, NewLocalLeaser(), 60)

	state, err := p.PollUntilTerminal(context.Background(), rec.ID)
	assert.ErrorIs(t, err, ErrPollingExhausted)
	assert.Equal(t, models.StateFailed, state)
	assert.Equal(t, 2, source.callCount())
}

func TestPoller_SecondLoopIsRejected(t *testing.T) {
	store := newMemStore()
	rec := transportCompleteRecord()
	store.put(rec)

	leaser := NewLocalLeaser()
	held, err := leaser.Acquire(context.Background(), pollLeaseKey(rec.ID), time.Minute)
	require.NoError(t, err)

	source := &scriptedSource{steps: []sourceStep{{obs: Observation{Status: StatusWaiting}}}}
	p := newTestPoller(store, source, leaser, 60)

	_, err = p.PollUntilTerminal(context.Background(), rec.ID)
	assert.ErrorIs(t, err, ErrPollInProgress)
	assert.Equal(t, 0, source.callCount())

	require.NoError(t, held.Release(context.Background()))
	source.steps = []sourceStep{{obs: Observation{Status: StatusReady, PlaybackID: "p"}}}
	state, err := p.PollUntilTerminal(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateReady, state)
}

func TestPoller_ConcurrentLoopsOnlyOneRuns(t *testing.T) {
	store := newMemStore()
	rec := transportCompleteRecord()
	store.put(rec)

	release := make(chan struct{})
	var once sync.Once
	started := make(chan struct{})
	source := &scriptedSource{
		steps: []sourceStep{{obs: Observation{Status: StatusReady, PlaybackID: "p"}}},
		onCall: func(int) {
			once.Do(func() { close(started) })
			<-release
		},
	}
	p := newTestPoller(store, source, NewLocalLeaser(), 60)

	done := make(chan error, 1)
	go func() {
		_, err := p.PollUntilTerminal(context.Background(), rec.ID)
		done <- err
	}()

	<-started
	_, err := p.PollUntilTerminal(context.Background(), rec.ID)
	assert.ErrorIs(t, err, ErrPollInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, source.callCount())
}

func TestPoller_PendingRecordIsRejected(t *testing.T) {
	store := newMemStore()
	rec := transportCompleteRecord()
	rec.State = models.StatePending
	store.put(rec)

	p := newTestPoller(store, &scriptedSource{steps: []sourceStep{{}}}, NewLocalLeaser(), 5)
	state, err := p.PollUntilTerminal(context.Background(), rec.ID)
	assert.ErrorIs(t, err, ErrTransportIncomplete)
	assert.Equal(t, models.StatePending, state)
}

// A webhook finishing the record mid-loop stops the poller without a second transition.
func TestPoller_StopsWhenRecordTerminatedElsewhere(t *testing.T) {
	store := newMemStore()
	rec := transportCompleteRecord()
	store.put(rec)

	machine := NewMachine(store, nil, quietLogger())
	source := &scriptedSource{
		steps: []sourceStep{{obs: Observation{Status: StatusWaiting}}},
		onCall: func(call int) {
			if call == 2 {
				_, _, err := machine.Advance(context.Background(), rec.ID, Transition{To: models.StateReady, PlaybackID: "from-webhook"})
				require.NoError(t, err)
			}
		},
	}
	p := newTestPoller(store, source, NewLocalLeaser(), 60)

	state, err := p.PollUntilTerminal(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateReady, state)
	assert.Equal(t, 2, source.callCount())
}

// steppedClock lets a LocalLeaser see the time that passes while the poller sleeps.
type steppedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *steppedClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestPoller_LeaseOutlivesLongFixedDelay(t *testing.T) {
	store := newMemStore()
	rec := transportCompleteRecord()
	store.put(rec)

	clock := &steppedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	leaser := NewLocalLeaser()
	leaser.nowFn = clock.Now

	logger := quietLogger()
	source := &scriptedSource{steps: []sourceStep{
		{obs: Observation{Status: StatusWaiting}},
		{obs: Observation{Status: StatusReady, PlaybackID: "play-1"}},
	}}
	// TTL sized from a 30s exponential cap while the fixed delay is 180s.
	p := NewPoller(store, NewMachine(store, nil, logger), source, leaser, PollerConfig{
		MaxAttempts: 10,
		Backoff:     FixedBackoff{Interval: 180 * time.Second},
		LeaseTTL:    2*30*time.Second + time.Minute,
	}, logger)
	assert.Equal(t, 7*time.Minute, p.cfg.LeaseTTL)

	var rivalErrs []error
	p.sleep = func(ctx context.Context, d time.Duration) error {
		clock.advance(d)
		_, err := leaser.Acquire(ctx, pollLeaseKey(rec.ID), time.Minute)
		rivalErrs = append(rivalErrs, err)
		return nil
	}

	state, err := p.PollUntilTerminal(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateReady, state)
	require.Len(t, rivalErrs, 1)
	assert.ErrorIs(t, rivalErrs[0], ErrPollInProgress)
}

func TestPoller_LostLeaseStopsBeforeNextQuery(t *testing.T) {
	store := newMemStore()
	rec := transportCompleteRecord()
	store.put(rec)

	clock := &steppedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	leaser := NewLocalLeaser()
	leaser.nowFn = clock.Now

	source := &scriptedSource{steps: []sourceStep{{obs: Observation{Status: StatusProcessing, AssetID: "asset-1"}}}}
	p := newTestPoller(store, source, leaser, 60)

	var rival Lease
	p.sleep = func(ctx context.Context, d time.Duration) error {
		clock.advance(time.Hour)
		var err error
		rival, err = leaser.Acquire(ctx, pollLeaseKey(rec.ID), time.Hour)
		require.NoError(t, err)
		return nil
	}

	_, err := p.PollUntilTerminal(context.Background(), rec.ID)
	assert.ErrorIs(t, err, ErrPollInProgress)
	assert.Equal(t, 1, source.callCount())

	stored, _ := store.GetByID(context.Background(), rec.ID)
	assert.Equal(t, 1, stored.AttemptCount)

	// The losing loop's deferred release leaves the new owner in place.
	_, err = leaser.Acquire(context.Background(), pollLeaseKey(rec.ID), time.Minute)
	assert.ErrorIs(t, err, ErrPollInProgress)
	require.NoError(t, rival.Renew(context.Background()))
}

// cancelOnTerminalStore cancels the loop's context while the terminal write is in flight.
type cancelOnTerminalStore struct {
	*memStore
	cancel context.CancelFunc
}

func (s *cancelOnTerminalStore) CompareAndSwap(ctx context.Context, next *models.IngestionRecord, expectedState models.IngestionState, expectedAttempts int) (bool, error) {
	if next.State.Terminal() {
		s.cancel()
		return false, ctx.Err()
	}
	return s.memStore.CompareAndSwap(ctx, next, expectedState, expectedAttempts)
}

func TestPoller_CancelDuringTerminalWriteIsAbandoned(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		step     sourceStep
	}{
		{"ready observation", 0, sourceStep{obs: Observation{Status: StatusReady, PlaybackID: "play-1"}}},
		{"provider error", 0, sourceStep{obs: Observation{Status: StatusErrored}}},
		{"budget exhausted", 3, sourceStep{obs: Observation{Status: StatusWaiting}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mem := newMemStore()
			rec := transportCompleteRecord()
			rec.AttemptCount = tc.attempts
			mem.put(rec)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			store := &cancelOnTerminalStore{memStore: mem, cancel: cancel}

			logger := quietLogger()
			p := NewPoller(store, NewMachine(store, nil, logger), &scriptedSource{steps: []sourceStep{tc.step}}, NewLocalLeaser(), PollerConfig{
				MaxAttempts: 3,
				Backoff:     FixedBackoff{Interval: time.Millisecond},
			}, logger)
			p.sleep = noSleep

			state, err := p.PollUntilTerminal(ctx, rec.ID)
			assert.ErrorIs(t, err, ErrPollAbandoned)
			assert.ErrorIs(t, err, context.Canceled)
			assert.True(t, IsAbandoned(err))
			assert.Equal(t, models.StateTransportComplete, state)

			stored, _ := mem.GetByID(context.Background(), rec.ID)
			assert.Equal(t, models.StateTransportComplete, stored.State)
		})
	}
}

func TestBackoff(t *testing.T) {
	fixed := NewBackoff("fixed", 5*time.Second, 30*time.Second)
	assert.Equal(t, 5*time.Second, fixed.Delay(1))
	assert.Equal(t, 5*time.Second, fixed.Delay(40))

	exp := NewBackoff("exponential", time.Second, 10*time.Second)
	assert.Equal(t, time.Second, exp.Delay(0))
	assert.Equal(t, time.Second, exp.Delay(1))
	assert.Equal(t, 2*time.Second, exp.Delay(2))
	assert.Equal(t, 8*time.Second, exp.Delay(4))
	assert.Equal(t, 10*time.Second, exp.Delay(5))
	assert.Equal(t, 10*time.Second, exp.Delay(500))

	assert.Equal(t, 5*time.Second, fixed.MaxDelay())
	assert.Equal(t, 10*time.Second, exp.MaxDelay())
	assert.Equal(t, 7*time.Minute, LeaseTTLFor(FixedBackoff{Interval: 3 * time.Minute}))
}

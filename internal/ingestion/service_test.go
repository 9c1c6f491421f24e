package ingestion

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lifestory-backend/internal/models"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	tasks []models.PollTask
}

func (d *recordingDispatcher) Enqueue(ctx context.Context, task models.PollTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, task)
	return nil
}

func newTestService(store *memStore, provider Provider) (*Service, *recordingDispatcher) {
	logger := quietLogger()
	machine := NewMachine(store, nil, logger)
	issuer := NewIssuer(store, provider, machine, IssuerConfig{}, logger)
	dispatcher := &recordingDispatcher{}
	return NewService(store, issuer, machine, NewAssembler(store), dispatcher, logger), dispatcher
}

func TestService_CompleteTransportStartsPolling(t *testing.T) {
	store := newMemStore()
	provider := new(MockProvider)
	provider.On("CreateUploadTicket", mock.Anything, "*", "public").
		Return(&models.UploadTicket{ID: "upl_s", URL: "https://storage.test/s"}, nil)
	svc, dispatcher := newTestService(store, provider)
	ctx := context.Background()

	owner := uuid.New()
	ticket, err := svc.IssueUpload(ctx, models.SlotPrompt, uuid.New(), owner)
	require.NoError(t, err)

	_, err = svc.CompleteTransport(ctx, ticket.RecordID, uuid.New())
	assert.ErrorIs(t, err, ErrNotOwner)

	rec, err := svc.CompleteTransport(ctx, ticket.RecordID, owner)
	require.NoError(t, err)
	assert.Equal(t, models.StateTransportComplete, rec.State)
	require.Len(t, dispatcher.tasks, 1)
	assert.Equal(t, ticket.RecordID, dispatcher.tasks[0].RecordID)
	assert.Equal(t, "transport-complete", dispatcher.tasks[0].Reason)

	// A repeated report is accepted and simply re-queues; the lease keeps one loop alive.
	rec, err = svc.CompleteTransport(ctx, ticket.RecordID, owner)
	require.NoError(t, err)
	assert.Equal(t, models.StateTransportComplete, rec.State)
}

func TestService_CompleteTransportOnTerminalRecord(t *testing.T) {
	store := newMemStore()
	svc, dispatcher := newTestService(store, new(MockProvider))

	rec := transportCompleteRecord()
	playback := "pb"
	rec.State = models.StateReady
	rec.ProviderPlaybackID = &playback
	store.put(rec)

	got, err := svc.CompleteTransport(context.Background(), rec.ID, rec.OwnerID)
	require.NoError(t, err)
	assert.Equal(t, models.StateReady, got.State)
	assert.Empty(t, dispatcher.tasks)
}

func TestService_ResumePolling(t *testing.T) {
	store := newMemStore()
	svc, dispatcher := newTestService(store, new(MockProvider))

	pending := transportCompleteRecord()
	pending.State = models.StatePending
	store.put(pending)
	_, err := svc.ResumePolling(context.Background(), pending.ID, pending.OwnerID)
	assert.ErrorIs(t, err, ErrTransportIncomplete)

	processing := transportCompleteRecord()
	processing.State = models.StateProcessing
	store.put(processing)
	_, err = svc.ResumePolling(context.Background(), processing.ID, processing.OwnerID)
	require.NoError(t, err)
	require.Len(t, dispatcher.tasks, 1)
	assert.Equal(t, "resume", dispatcher.tasks[0].Reason)
}

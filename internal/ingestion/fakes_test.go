package ingestion

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"

	"lifestory-backend/internal/models"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// memStore mimics the Postgres repository, including the partial unique index and the
// compare-and-set update.
type memStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]models.IngestionRecord
	prompts map[uuid.UUID][]models.Prompt
	creates int
}

func newMemStore() *memStore {
	return &memStore{
		records: make(map[uuid.UUID]models.IngestionRecord),
		prompts: make(map[uuid.UUID][]models.Prompt),
	}
}

func (s *memStore) Create(ctx context.Context, rec *models.IngestionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.records {
		if r.SlotType == rec.SlotType && r.SlotID == rec.SlotID && !r.State.Terminal() {
			return ErrDuplicateActiveUpload
		}
	}
	s.records[rec.ID] = *rec
	s.creates++
	return nil
}

func (s *memStore) GetByID(ctx context.Context, id uuid.UUID) (*models.IngestionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &r, nil
}

func (s *memStore) GetByUploadTicketID(ctx context.Context, ticketID string) (*models.IngestionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.records {
		if r.UploadTicketID == ticketID {
			out := r
			return &out, nil
		}
	}
	return nil, ErrRecordNotFound
}

func (s *memStore) FindActiveBySlot(ctx context.Context, slotType models.SlotType, slotID uuid.UUID) (*models.IngestionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.records {
		if r.SlotType == slotType && r.SlotID == slotID && !r.State.Terminal() {
			out := r
			return &out, nil
		}
	}
	return nil, nil
}

func (s *memStore) CompareAndSwap(ctx context.Context, next *models.IngestionRecord, expectedState models.IngestionState, expectedAttempts int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[next.ID]
	if !ok {
		return false, ErrRecordNotFound
	}
	if cur.State != expectedState || cur.AttemptCount != expectedAttempts {
		return false, nil
	}
	s.records[next.ID] = *next
	return true, nil
}

func (s *memStore) ListPromptsByTopic(ctx context.Context, topicID uuid.UUID) ([]models.Prompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := append([]models.Prompt(nil), s.prompts[topicID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) LatestReadyBySlots(ctx context.Context, slotType models.SlotType, slotIDs []uuid.UUID) (map[uuid.UUID]*models.IngestionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[uuid.UUID]bool, len(slotIDs))
	for _, id := range slotIDs {
		wanted[id] = true
	}

	out := make(map[uuid.UUID]*models.IngestionRecord)
	for _, r := range s.records {
		if r.SlotType != slotType || !wanted[r.SlotID] || r.State != models.StateReady {
			continue
		}
		if prev, ok := out[r.SlotID]; ok && prev.CreatedAt.After(r.CreatedAt) {
			continue
		}
		rec := r
		out[r.SlotID] = &rec
	}
	return out, nil
}

func (s *memStore) put(rec models.IngestionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
}

func (s *memStore) activeCount(slotType models.SlotType, slotID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, r := range s.records {
		if r.SlotType == slotType && r.SlotID == slotID && !r.State.Terminal() {
			n++
		}
	}
	return n
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []models.WSMessage
}

func (p *recordingPublisher) Publish(ctx context.Context, ownerID uuid.UUID, msg models.WSMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

// MockProvider is a testify mock of the transcoding provider.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) CreateUploadTicket(ctx context.Context, corsOrigin, playbackPolicy string) (*models.UploadTicket, error) {
	args := m.Called(ctx, corsOrigin, playbackPolicy)
	if fn, ok := args.Get(0).(func(context.Context, string, string) *models.UploadTicket); ok {
		return fn(ctx, corsOrigin, playbackPolicy), args.Error(1)
	}
	t, _ := args.Get(0).(*models.UploadTicket)
	return t, args.Error(1)
}

func (m *MockProvider) GetUploadStatus(ctx context.Context, ticketID string) (*models.ProviderUpload, error) {
	args := m.Called(ctx, ticketID)
	u, _ := args.Get(0).(*models.ProviderUpload)
	return u, args.Error(1)
}

func (m *MockProvider) GetAsset(ctx context.Context, assetID string) (*models.ProviderAsset, error) {
	args := m.Called(ctx, assetID)
	a, _ := args.Get(0).(*models.ProviderAsset)
	return a, args.Error(1)
}

func (m *MockProvider) CancelUpload(ctx context.Context, ticketID string) error {
	args := m.Called(ctx, ticketID)
	return args.Error(0)
}

// scriptedSource replays observations; the last one repeats forever.
type scriptedSource struct {
	mu     sync.Mutex
	steps  []sourceStep
	calls  int
	onCall func(call int)
}

type sourceStep struct {
	obs Observation
	err error
}

func (s *scriptedSource) Observe(ctx context.Context, rec *models.IngestionRecord) (Observation, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	step := s.steps[len(s.steps)-1]
	if call <= len(s.steps) {
		step = s.steps[call-1]
	}
	hook := s.onCall
	s.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	return step.obs, step.err
}

func (s *scriptedSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func transportCompleteRecord() models.IngestionRecord {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return models.IngestionRecord{
		ID:             uuid.New(),
		SlotType:       models.SlotPrompt,
		SlotID:         uuid.New(),
		OwnerID:        uuid.New(),
		UploadTicketID: "upl_" + uuid.NewString(),
		State:          models.StateTransportComplete,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

package main

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"lifestory-backend/internal/ingestion"
	"lifestory-backend/internal/models"
)

type fakeAPI struct {
	abandoned []uuid.UUID
	completed []uuid.UUID
}

func (f *fakeAPI) issue(ctx context.Context, slotType models.SlotType, slotID uuid.UUID) (*models.IssueUploadResponse, error) {
	return &models.IssueUploadResponse{RecordID: uuid.New(), UploadURL: "https://storage.example/put"}, nil
}

func (f *fakeAPI) transportComplete(ctx context.Context, recordID uuid.UUID) (*models.RecordStatusResponse, error) {
	f.completed = append(f.completed, recordID)
	return &models.RecordStatusResponse{RecordID: recordID, State: models.StateTransportComplete, DisplayStatus: models.DisplayProcessing}, nil
}

func (f *fakeAPI) abandon(ctx context.Context, recordID uuid.UUID) (*models.RecordStatusResponse, error) {
	f.abandoned = append(f.abandoned, recordID)
	return &models.RecordStatusResponse{RecordID: recordID, State: models.StateFailed, DisplayStatus: models.DisplayFailedRetry}, nil
}

func (f *fakeAPI) status(ctx context.Context, recordID uuid.UUID) (*models.RecordStatusResponse, error) {
	return &models.RecordStatusResponse{RecordID: recordID, State: models.StateProcessing, DisplayStatus: models.DisplayProcessing}, nil
}

func step(t *testing.T, m uploadModel, msg tea.Msg) (uploadModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	um, ok := next.(uploadModel)
	if !ok {
		t.Fatalf("unexpected model type %T", next)
	}
	return um, cmd
}

func TestUploadModel_TransportFailureAbandonsRecord(t *testing.T) {
	api := &fakeAPI{}
	m := newUploadModel(uploadJob{api: api})
	recordID := uuid.New()

	m, _ = step(t, m, issuedMsg{resp: &models.IssueUploadResponse{RecordID: recordID, UploadURL: "u"}})
	m, cmd := step(t, m, uploadDoneMsg{err: ingestion.ErrTransport})
	if m.phase != phaseAbandoning {
		t.Fatalf("expected abandoning phase, got %v", m.phase)
	}

	msg := cmd()
	if len(api.abandoned) != 1 || api.abandoned[0] != recordID {
		t.Fatalf("expected abandon for %s, got %v", recordID, api.abandoned)
	}
	m, _ = step(t, m, msg)
	if m.err == nil || !errors.Is(m.err, ingestion.ErrTransport) {
		t.Fatalf("expected transport error to surface, got %v", m.err)
	}
	if len(api.completed) != 0 {
		t.Fatalf("transport-complete must not be reported after a failed upload")
	}
}

func TestUploadModel_ProgressIsMonotonicAndCompletes(t *testing.T) {
	api := &fakeAPI{}
	m := newUploadModel(uploadJob{api: api})
	recordID := uuid.New()
	m, _ = step(t, m, issuedMsg{resp: &models.IssueUploadResponse{RecordID: recordID, UploadURL: "u"}})

	m, _ = step(t, m, progressMsg(40))
	m, _ = step(t, m, progressMsg(20))
	if m.percent != 40 {
		t.Fatalf("expected progress to stay at 40, got %d", m.percent)
	}

	m, cmd := step(t, m, uploadDoneMsg{})
	if m.percent != 100 || m.phase != phaseCompleting {
		t.Fatalf("expected completion at 100%%, got %d in phase %v", m.percent, m.phase)
	}

	m, _ = step(t, m, cmd())
	if len(api.completed) != 1 || m.phase != phaseWatching {
		t.Fatalf("expected transport-complete then watching, got %v / %v", api.completed, m.phase)
	}
}

func TestUploadModel_TerminalStatusQuits(t *testing.T) {
	playback := "play_1"
	m := newUploadModel(uploadJob{api: &fakeAPI{}})
	m, cmd := step(t, m, statusMsg{status: &models.RecordStatusResponse{State: models.StateReady, DisplayStatus: models.DisplayReady, PlaybackID: &playback}})
	if m.phase != phaseDone {
		t.Fatalf("expected done phase, got %v", m.phase)
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected quit command")
	}
}

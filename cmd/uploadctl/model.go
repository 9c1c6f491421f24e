package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"lifestory-backend/internal/models"
	"lifestory-backend/internal/transport"
)

const statusPollInterval = 3 * time.Second

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
)

type ingestAPI interface {
	issue(ctx context.Context, slotType models.SlotType, slotID uuid.UUID) (*models.IssueUploadResponse, error)
	transportComplete(ctx context.Context, recordID uuid.UUID) (*models.RecordStatusResponse, error)
	abandon(ctx context.Context, recordID uuid.UUID) (*models.RecordStatusResponse, error)
	status(ctx context.Context, recordID uuid.UUID) (*models.RecordStatusResponse, error)
}

type fileUploader interface {
	Upload(ctx context.Context, uploadURL string, body io.Reader, size int64, onProgress func(int)) (transport.Result, error)
}

type uploadJob struct {
	api      ingestAPI
	uploader fileUploader
	slotType models.SlotType
	slotID   uuid.UUID
	file     io.Reader
	size     int64
}

type phase int

const (
	phaseIssuing phase = iota
	phaseUploading
	phaseCompleting
	phaseWatching
	phaseAbandoning
	phaseDone
)

type (
	issuedMsg struct {
		resp *models.IssueUploadResponse
	}
	progressMsg   int
	uploadDoneMsg struct{ err error }
	statusMsg     struct {
		status *models.RecordStatusResponse
	}
	abandonedMsg struct{ cause error }
	errMsg       struct{ err error }
	tickMsg      struct{}
)

type uploadModel struct {
	job      uploadJob
	phase    phase
	recordID uuid.UUID
	percent  int
	status   *models.RecordStatusResponse
	bar      progress.Model
	events   chan tea.Msg
	err      error
}

func newUploadModel(job uploadJob) uploadModel {
	return uploadModel{
		job:    job,
		phase:  phaseIssuing,
		bar:    progress.New(progress.WithDefaultGradient()),
		events: make(chan tea.Msg, 64),
	}
}

func (m uploadModel) Init() tea.Cmd {
	return issueCmd(m.job)
}

func (m uploadModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
		return m, nil

	case issuedMsg:
		m.recordID = msg.resp.RecordID
		m.phase = phaseUploading
		return m, tea.Batch(uploadCmd(m.job, msg.resp.UploadURL, m.events), waitForEvent(m.events))

	case progressMsg:
		if int(msg) > m.percent {
			m.percent = int(msg)
		}
		return m, waitForEvent(m.events)

	case uploadDoneMsg:
		if msg.err != nil {
			// The record stays PENDING and blocks the slot until it is marked failed.
			m.phase = phaseAbandoning
			return m, abandonCmd(m.job.api, m.recordID, msg.err)
		}
		m.percent = 100
		m.phase = phaseCompleting
		return m, completeCmd(m.job.api, m.recordID)

	case statusMsg:
		m.status = msg.status
		m.phase = phaseWatching
		if msg.status.State.Terminal() {
			m.phase = phaseDone
			return m, tea.Quit
		}
		return m, tea.Tick(statusPollInterval, func(time.Time) tea.Msg { return tickMsg{} })

	case tickMsg:
		return m, statusCmd(m.job.api, m.recordID)

	case abandonedMsg:
		m.phase = phaseDone
		m.err = fmt.Errorf("upload failed and was abandoned, retry to issue a new ticket: %w", msg.cause)
		return m, tea.Quit

	case errMsg:
		m.phase = phaseDone
		m.err = msg.err
		return m, tea.Quit
	}

	return m, nil
}

func (m uploadModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("lifestory upload"))
	b.WriteString("\n\n")

	switch m.phase {
	case phaseIssuing:
		b.WriteString(mutedStyle.Render("requesting upload ticket..."))
	case phaseUploading, phaseCompleting:
		b.WriteString(m.bar.ViewAs(float64(m.percent) / 100))
		b.WriteString(mutedStyle.Render(fmt.Sprintf("  %d%%", m.percent)))
	case phaseAbandoning:
		b.WriteString(errorStyle.Render("upload failed, releasing the slot..."))
	case phaseWatching, phaseDone:
		if m.status != nil {
			b.WriteString(renderStatus(m.status))
		}
	}

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(m.err.Error()))
	}
	b.WriteString("\n")
	return b.String()
}

func renderStatus(s *models.RecordStatusResponse) string {
	switch s.DisplayStatus {
	case models.DisplayReady:
		playback := ""
		if s.PlaybackID != nil {
			playback = *s.PlaybackID
		}
		return okStyle.Render("ready") + mutedStyle.Render("  playback "+playback)
	case models.DisplayFailedRetry:
		reason := ""
		if s.FailureReason != nil {
			reason = string(*s.FailureReason)
		}
		return errorStyle.Render("failed, retry") + mutedStyle.Render("  "+reason)
	default:
		return mutedStyle.Render(fmt.Sprintf("%s (check %d)", s.DisplayStatus, s.AttemptCount))
	}
}

func issueCmd(job uploadJob) tea.Cmd {
	return func() tea.Msg {
		resp, err := job.api.issue(context.Background(), job.slotType, job.slotID)
		if err != nil {
			return errMsg{err: fmt.Errorf("issue upload: %w", err)}
		}
		return issuedMsg{resp: resp}
	}
}

// uploadCmd streams the file and pushes progress and the final result onto events.
func uploadCmd(job uploadJob, uploadURL string, events chan<- tea.Msg) tea.Cmd {
	return func() tea.Msg {
		go func() {
			_, err := job.uploader.Upload(context.Background(), uploadURL, job.file, job.size, func(pct int) {
				select {
				case events <- progressMsg(pct):
				default:
				}
			})
			events <- uploadDoneMsg{err: err}
		}()
		return nil
	}
}

func waitForEvent(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-events
	}
}

func completeCmd(api ingestAPI, recordID uuid.UUID) tea.Cmd {
	return func() tea.Msg {
		status, err := api.transportComplete(context.Background(), recordID)
		if err != nil {
			return errMsg{err: fmt.Errorf("report transport complete: %w", err)}
		}
		return statusMsg{status: status}
	}
}

func statusCmd(api ingestAPI, recordID uuid.UUID) tea.Cmd {
	return func() tea.Msg {
		status, err := api.status(context.Background(), recordID)
		if err != nil {
			return errMsg{err: fmt.Errorf("fetch status: %w", err)}
		}
		return statusMsg{status: status}
	}
}

func abandonCmd(api ingestAPI, recordID uuid.UUID, cause error) tea.Cmd {
	return func() tea.Msg {
		if _, err := api.abandon(context.Background(), recordID); err != nil {
			return errMsg{err: fmt.Errorf("upload failed (%v) and abandon failed: %w", cause, err)}
		}
		return abandonedMsg{cause: cause}
	}
}

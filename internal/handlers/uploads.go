package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"lifestory-backend/internal/ingestion"
	"lifestory-backend/internal/middleware"
	"lifestory-backend/internal/models"
)

type uploadService interface {
	IssueUpload(ctx context.Context, slotType models.SlotType, slotID, ownerID uuid.UUID) (*ingestion.Ticket, error)
	RecordStatus(ctx context.Context, recordID, ownerID uuid.UUID) (*models.IngestionRecord, error)
	CompleteTransport(ctx context.Context, recordID, ownerID uuid.UUID) (*models.IngestionRecord, error)
	ResumePolling(ctx context.Context, recordID, ownerID uuid.UUID) (*models.IngestionRecord, error)
	Abandon(ctx context.Context, recordID, ownerID uuid.UUID) (*models.IngestionRecord, ingestion.Outcome, error)
}

type UploadHandler struct {
	uploads uploadService
	log     *logrus.Logger
}

func NewUploadHandler(uploads uploadService, logger *logrus.Logger) *UploadHandler {
	return &UploadHandler{uploads: uploads, log: logger}
}

// Issue handles POST /uploads.
func (h *UploadHandler) Issue(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetUserID(r.Context())

	var req models.IssueUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("INVALID_BODY", "Invalid request body", r))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", validationFields(err), r))
		return
	}

	ticket, err := h.uploads.IssueUpload(r.Context(), req.SlotType, req.SlotID, ownerID)
	if err != nil {
		handleIngestionError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, models.IssueUploadResponse{
		RecordID:       ticket.RecordID,
		UploadURL:      ticket.UploadURL,
		UploadTicketID: ticket.UploadTicketID,
	})
}

// Get handles GET /uploads/{id}.
func (h *UploadHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := recordIDParam(w, r)
	if !ok {
		return
	}

	rec, err := h.uploads.RecordStatus(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		handleIngestionError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewRecordStatusResponse(rec))
}

// TransportComplete handles POST /uploads/{id}/transport-complete.
func (h *UploadHandler) TransportComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := recordIDParam(w, r)
	if !ok {
		return
	}

	rec, err := h.uploads.CompleteTransport(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		handleIngestionError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, models.NewRecordStatusResponse(rec))
}

// Resume handles POST /uploads/{id}/resume.
func (h *UploadHandler) Resume(w http.ResponseWriter, r *http.Request) {
	id, ok := recordIDParam(w, r)
	if !ok {
		return
	}

	rec, err := h.uploads.ResumePolling(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		handleIngestionError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, models.NewRecordStatusResponse(rec))
}

// Abandon handles POST /uploads/{id}/abandon.
func (h *UploadHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	id, ok := recordIDParam(w, r)
	if !ok {
		return
	}

	rec, _, err := h.uploads.Abandon(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		handleIngestionError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewRecordStatusResponse(rec))
}

func recordIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("INVALID_ID", "Invalid upload ID", r))
		return uuid.Nil, false
	}
	return id, true
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"lifestory-backend/internal/ingestion"
	"lifestory-backend/internal/middleware"
	"lifestory-backend/internal/models"
)

var validate = validator.New()

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: middleware.GetRequestID(r.Context()),
		},
	}
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			Fields:    fields,
			RequestID: middleware.GetRequestID(r.Context()),
		},
	}
}

// validationFields maps each failing field's JSON name to the tag it failed.
func validationFields(err error) map[string]string {
	fields := map[string]string{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fields
	}
	for _, fe := range verrs {
		msg := fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		fields[jsonFieldName(fe.Field())] = msg
	}
	return fields
}

func jsonFieldName(field string) string {
	switch field {
	case "SlotType":
		return "slot_type"
	case "SlotID":
		return "slot_id"
	default:
		return field
	}
}

func handleIngestionError(w http.ResponseWriter, r *http.Request, log *logrus.Logger, err error) {
	switch {
	case errors.Is(err, ingestion.ErrDuplicateActiveUpload):
		writeJSON(w, http.StatusConflict, errorResp("DUPLICATE_ACTIVE_UPLOAD", "An upload for this slot is already in progress", r))
	case errors.Is(err, ingestion.ErrProviderUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorResp("PROVIDER_UNAVAILABLE", "Video provider is unavailable, please retry", r))
	case errors.Is(err, ingestion.ErrRecordNotFound):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Upload not found", r))
	case errors.Is(err, ingestion.ErrNotOwner):
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", "You do not have access to this upload", r))
	case errors.Is(err, ingestion.ErrTransportIncomplete):
		writeJSON(w, http.StatusConflict, errorResp("TRANSPORT_INCOMPLETE", "The video has not finished uploading", r))
	case errors.Is(err, ingestion.ErrIllegalTransition):
		writeJSON(w, http.StatusConflict, errorResp("ILLEGAL_TRANSITION", "The upload cannot move to that state", r))
	case errors.Is(err, ingestion.ErrStateConflict):
		writeJSON(w, http.StatusConflict, errorResp("STATE_CONFLICT", "The upload changed concurrently, please retry", r))
	default:
		log.WithError(err).WithField("request_id", middleware.GetRequestID(r.Context())).Error("ingestion request failed")
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
	}
}

package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"lifestory-backend/internal/ingestion"
	"lifestory-backend/internal/models"
	"lifestory-backend/internal/services"
)

const maxWebhookBody = 1 << 20

type eventApplier interface {
	Apply(ctx context.Context, ev models.ProviderEvent) (ingestion.Outcome, error)
}

type WebhookHandler struct {
	events eventApplier
	secret string
	now    func() time.Time
	log    *logrus.Logger
}

// NewWebhookHandler verifies signatures only when secret is set.
func NewWebhookHandler(events eventApplier, secret string, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{events: events, secret: secret, now: time.Now, log: logger}
}

// Transcoder handles POST /webhooks/transcoder. Duplicate deliveries are acknowledged with 200
// so the provider stops retrying.
func (h *WebhookHandler) Transcoder(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("INVALID_BODY", "Could not read request body", r))
		return
	}

	if h.secret != "" {
		sig := r.Header.Get(services.WebhookSignatureHeader)
		if err := services.VerifyWebhookSignature(sig, body, h.secret, h.now(), services.DefaultSignatureTolerance); err != nil {
			h.log.WithError(err).Warn("rejected webhook delivery")
			writeJSON(w, http.StatusUnauthorized, errorResp("INVALID_SIGNATURE", "Invalid webhook signature", r))
			return
		}
	}

	ev, err := services.ParseWebhookEvent(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("INVALID_BODY", err.Error(), r))
		return
	}

	outcome, err := h.events.Apply(r.Context(), ev)
	if err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{"event_id": ev.ID, "type": ev.Type}).Error("failed to apply webhook event")
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to apply event", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"outcome": outcome.String()})
}

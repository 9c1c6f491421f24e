package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"lifestory-backend/internal/handlers"
	"lifestory-backend/internal/middleware"
	"lifestory-backend/internal/websocket"
)

func New(
	jwtAuth *middleware.JWTAuth,
	uploadHandler *handlers.UploadHandler,
	playlistHandler *handlers.PlaylistHandler,
	webhookHandler *handlers.WebhookHandler,
	issueLimiter *middleware.RateLimiter,
	wsHub *websocket.Hub,
	frontendURL string,
	logger *logrus.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(frontendURL))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Upload Routes ────
		r.Route("/uploads", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.With(issueLimiter.Middleware).Post("/", uploadHandler.Issue)
			r.Get("/{id}", uploadHandler.Get)
			r.Post("/{id}/transport-complete", uploadHandler.TransportComplete)
			r.Post("/{id}/resume", uploadHandler.Resume)
			r.Post("/{id}/abandon", uploadHandler.Abandon)
		})

		// ──── Playlist Routes ────
		r.Route("/topics", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/{id}/playlist", playlistHandler.Get)
		})

		// ──── Provider Webhooks (signature-authenticated) ────
		r.With(chimiddleware.Timeout(30*time.Second)).Post("/webhooks/transcoder", webhookHandler.Transcoder)

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}

// Package httpapi is the pagination HTTP surface (§6): the sibling REST
// service's window into the same cursor semantics the hub enforces over
// the websocket. It also mounts the websocket upgrade endpoint, plus
// /healthz and /metrics for ambient operability.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/duoline/chatcore/internal/auth"
	"github.com/duoline/chatcore/internal/conversations"
	"github.com/duoline/chatcore/internal/hub"
	"github.com/duoline/chatcore/internal/messages"
)

// Server holds the dependencies the HTTP surface routes against.
type Server struct {
	verifier *auth.Verifier
	conv     *conversations.Service
	msgs     *messages.Service
	hub      *hub.Hub
	logger   zerolog.Logger
}

// New builds a Server.
func New(verifier *auth.Verifier, conv *conversations.Service, msgs *messages.Service, h *hub.Hub, logger zerolog.Logger) *Server {
	return &Server{verifier: verifier, conv: conv, msgs: msgs, hub: h, logger: logger}
}

// Routes builds the router: the websocket upgrade, the cursor-paginated
// REST surface, and /healthz + /metrics for operability. corsOrigin is
// the cors.origin configuration value (§6).
func (s *Server) Routes(corsOrigin string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{corsOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/ws", s.hub.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Get("/v1/conversations", s.listConversations)
		r.Post("/v1/conversations", s.createOrGetConversation)
		r.Get("/v1/conversations/{conversationId}", s.getConversation)
		r.Get("/v1/conversations/{conversationId}/messages", s.listMessages)
		r.Get("/v1/conversations/{conversationId}/search", s.searchMessages)
	})

	return r
}

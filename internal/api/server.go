// Package api exposes the portal operations over HTTP and streams the live
// views (chat, unread badge, service list) over websockets.
package api

import (
	"net/http"
	"time"

	"case-portal/internal/catalog"
	"case-portal/internal/chat"
	"case-portal/internal/clients"
	"case-portal/internal/common/logger"
	"case-portal/internal/common/observability"
	"case-portal/internal/lifecycle"
	"case-portal/internal/scheduling"
	"case-portal/internal/session"
	"case-portal/internal/speech"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
)

const (
	// UIDHeader carries the identity-provider UID of the signed-in user.
	UIDHeader = "X-Client-UID"
	uidParam  = "uid"

	maxUploadSize = 32 << 20
)

// Deps are the portal components served by the API. Speech is optional.
type Deps struct {
	Engine    *lifecycle.Engine
	Scheduler *scheduling.Coordinator
	Chat      *chat.Channel
	Tickets   *chat.Tickets
	Clients   *clients.Registry
	Services  *catalog.View
	Sessions  *session.Manager
	Speech    *speech.Client
}

type Server struct {
	deps           Deps
	logger         logger.Logger
	obs            *observability.Observability
	validate       *validator.Validate
	upgrader       websocket.Upgrader
	allowedOrigins []string
	now            func() time.Time
}

func NewServer(deps Deps, allowedOrigins []string, obs *observability.Observability, log logger.Logger) *Server {
	if obs == nil {
		obs = observability.Noop()
	}
	s := &Server{
		deps:           deps,
		logger:         log.WithFields(map[string]interface{}{"component": "api"}),
		obs:            obs,
		validate:       validator.New(),
		allowedOrigins: allowedOrigins,
		now:            time.Now,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.originAllowed,
	}
	return s
}

// Routes builds the router. Probes and /metrics are mounted by the binary.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(s.cors)
	r.Use(s.observe)

	r.Route("/api", func(r chi.Router) {
		r.Post("/clients", s.handleSignup)
		r.Post("/session", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)

			r.Delete("/session", s.handleLogout)
			r.Get("/session/last-path", s.handleGetLastPath)
			r.Put("/session/last-path", s.handleSetLastPath)

			r.Get("/me", s.handleMe)
			r.Get("/agents/{name}", s.handleAgent)
			r.Get("/services", s.handleServices)

			r.Post("/applications", s.handleSubmit)
			r.Route("/applications/{appID}", func(r chi.Router) {
				r.Use(s.requireOwnApplication)
				r.Get("/", s.handleApplication)
				r.Post("/comments", s.handleComment)
				r.Post("/documents", s.handleUploadDocument)
				r.Delete("/documents/{key}", s.handleDeleteDocument)
				r.Post("/receipt", s.handleAcknowledge)
				r.Post("/issues", s.handleRaiseIssue)
				r.Put("/screening", s.handleCompleteScreening)
				r.Put("/screening/{index}", s.handleAnswerQuestion)
				r.Post("/contact-slots", s.handleProposeContactSlot)
				r.Delete("/contact-slots/{index}", s.handleDeleteContactSlot)
			})

			r.Get("/visits", s.handleListVisits)
			r.Post("/visits", s.handleProposeAppointment)
			r.Post("/visits/{visitID}/confirm", s.handleVisitTransition(s.deps.Scheduler.ConfirmVisit))
			r.Post("/visits/{visitID}/reject", s.handleVisitTransition(s.deps.Scheduler.RejectVisit))
			r.Post("/visits/{visitID}/visited", s.handleVisitTransition(s.deps.Scheduler.MarkVisited))
			r.Delete("/visits/{visitID}", s.handleVisitTransition(s.deps.Scheduler.DeleteVisit))

			r.Post("/chat/messages", s.handleSendChat)
			r.Post("/chat/read", s.handleMarkRead)

			r.Get("/tickets/open", s.handleOpenTicket)
			r.Post("/tickets/{ticketID}/messages", s.handleTicketMessage)
			r.Put("/tickets/{ticketID}/description", s.handleTicketDescription)
			r.Post("/tickets/{ticketID}/close", s.handleCloseTicket)

			r.Route("/speech", func(r chi.Router) {
				r.Use(s.requireSpeech)
				r.Post("/translate", s.handleTranslate)
				r.Post("/tts", s.handleSpeak)
				r.Post("/transcribe", s.handleTranscribe)
				r.Post("/fill", s.handleFillForm)
				r.Post("/assistant", s.handleAssistant)
			})
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Get("/ws/chat", s.handleChatFeed)
		r.Get("/ws/unread", s.handleUnreadFeed)
		r.Get("/ws/services", s.handleServicesFeed)
	})
	return r
}

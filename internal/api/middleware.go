package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"case-portal/internal/session"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

type ctxKey int

const sessionKey ctxKey = iota

func withSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

func sessionFrom(ctx context.Context) *session.Session {
	s, _ := ctx.Value(sessionKey).(*session.Session)
	return s
}

// uidFrom reads the caller's UID. Browsers cannot set headers on websocket
// upgrades, so the query parameter is accepted too.
func uidFrom(r *http.Request) string {
	if uid := strings.TrimSpace(r.Header.Get(UIDHeader)); uid != "" {
		return uid
	}
	return strings.TrimSpace(r.URL.Query().Get(uidParam))
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := uidFrom(r)
		if uid == "" {
			Error(w, http.StatusUnauthorized, "missing "+UIDHeader)
			return
		}
		sess, err := s.deps.Sessions.Get(uid)
		if err != nil {
			Error(w, http.StatusUnauthorized, "no open session")
			return
		}
		next.ServeHTTP(w, r.WithContext(withSession(r.Context(), sess)))
	})
}

// requireOwnApplication rejects application IDs that do not belong to the
// session's client. Application IDs are <client_id>_<n>.
func (s *Server) requireOwnApplication(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFrom(r.Context())
		appID := chi.URLParam(r, "appID")
		if sess == nil || !strings.HasPrefix(appID, sess.ClientID+"_") {
			Error(w, http.StatusNotFound, "application not found")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireSpeech(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Speech == nil {
			Error(w, http.StatusServiceUnavailable, "speech service is not configured")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+UIDHeader)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// observe records request metrics against the matched route pattern and logs
// every request.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		s.obs.RecordRequest(r.Context(), route, r.Method, status, duration)

		fields := map[string]interface{}{
			"method":     r.Method,
			"route":      route,
			"status":     status,
			"durationMs": duration.Milliseconds(),
			"requestId":  chiMiddleware.GetReqID(r.Context()),
		}
		if status >= http.StatusInternalServerError {
			s.logger.Warn("request failed", fields)
		} else {
			s.logger.Debug("request served", fields)
		}
	})
}

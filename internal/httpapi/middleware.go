package httpapi

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/duoline/chatcore/internal/apperr"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlationId"
	callerIDKey      contextKey = "callerId"
)

// CorrelationMiddleware assigns every request a correlation id, reusing
// one supplied by the client so a sibling service's logs line up with
// this one's, in the style of the toolbridge-api example's correlation
// middleware.
func CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		w.Header().Set("X-Correlation-ID", correlationID)

		ctx := context.WithValue(r.Context(), correlationIDKey, correlationID)
		logger := log.With().Str("correlation_id", correlationID).Logger()
		r = r.WithContext(logger.WithContext(ctx))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Msg("http request")
		next.ServeHTTP(w, r)
	})
}

// requireAuth verifies the bearer token the same way the hub's
// handshake does, and stashes the resolved caller id in context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		userID, err := s.verifier.Verify(token)
		if err != nil {
			writeError(w, apperr.New(apperr.AuthFailed, "missing or invalid bearer token"))
			return
		}
		ctx := context.WithValue(r.Context(), callerIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func callerID(ctx context.Context) int64 {
	uid, _ := ctx.Value(callerIDKey).(int64)
	return uid
}

package api

import (
	"net"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/josepht96/scoutrun/internal/auth"
)

// statusRecorder captures the status code written by downstream handlers.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// requestLog logs every request once it has been served.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.statusCode,
			"duration", time.Since(start).String(),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

// authenticate resolves the caller and stores it on the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.authenticator.Authenticate(r)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

// require rejects callers that lack capability.
func (s *Server) require(capability string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := auth.Authorize(auth.FromContext(r.Context()), capability); err != nil {
				writeError(w, s.logger, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimit applies the per-actor token bucket.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow(actor(r)) {
			writeError(w, s.logger, auth.ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// actor keys the rate limiter: the token subject, or the client address for
// anonymous callers.
func actor(r *http.Request) string {
	id := auth.FromContext(r.Context())
	if id != nil && id.Subject != "anonymous" {
		return "sub:" + id.Subject
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

// triggeredBy is the caller recorded on runs and reports.
func triggeredBy(r *http.Request) *string {
	id := auth.FromContext(r.Context())
	if id == nil {
		return nil
	}
	subject := id.Subject
	return &subject
}

package auth

import (
	"errors"
	"net/http"
	"time"
)

// Require returns middleware that authenticates the request and checks that
// the caller holds every listed permission.
func (s *Service) Require(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := s.AuthenticateRequest(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				s.deny(w, r, http.StatusUnauthorized, err, "")
				return
			}
			if err := subject.Authorize(perms...); err != nil {
				status := http.StatusForbidden
				if !errors.Is(err, ErrPermissionDenied) {
					status = http.StatusUnauthorized
				}
				s.deny(w, r, status, err, subject.Name)
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithSubject(r.Context(), subject)))
			if s.Mode() == ModeDisabled {
				return
			}
			s.audit.Info("api_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"user", subject.Name,
			)
		})
	}
}

func (s *Service) deny(w http.ResponseWriter, r *http.Request, status int, err error, user string) {
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="openmcp-orchestrator"`)
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + http.StatusText(status) + `"}`))
	s.audit.Warn("access_denied",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"user", user,
	)
}

// auditWriter captures the response status code.
type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/podushkina/taskflow/internal/auth"
)

// RequestLogger logs one line per request with its status and latency.
func RequestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	log = log.WithField("mod", "http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			entry := log.WithFields(logrus.Fields{
				"evt":        "request",
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"latency_ms": time.Since(start).Milliseconds(),
				"request_id": middleware.GetReqID(r.Context()),
			})
			switch {
			case ww.Status() >= 500:
				entry.Error("request failed")
			case ww.Status() >= 400:
				entry.Warn("request rejected")
			default:
				entry.Info("request served")
			}
		})
	}
}

// requestIDHeader echoes chi's request id back to the client.
func requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set(middleware.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

// RequireServiceIdentity rejects requests whose bearer token does not verify
// (401) or whose identity is not in allowed (403). When enabled is false
// every request passes through untouched.
func RequireServiceIdentity(v auth.Verifier, allowed []string, enabled bool, log logrus.FieldLogger) func(http.Handler) http.Handler {
	log = log.WithField("mod", "auth")
	allow := make(map[string]struct{}, len(allowed))
	for _, email := range allowed {
		if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
			allow[email] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearer(r)
			if err != nil {
				log.WithField("evt", "auth_missing_token").Warn(err)
				respondError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			id, err := v.Verify(r.Context(), token)
			if err != nil {
				log.WithField("evt", "auth_invalid_token").Warnf("token rejected: %v", err)
				respondError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			if _, ok := allow[strings.ToLower(id.Email)]; !ok {
				log.WithFields(logrus.Fields{
					"evt":   "auth_forbidden",
					"email": id.Email,
				}).Warn("identity not allowed")
				respondError(w, http.StatusForbidden, "forbidden")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.NewContext(r.Context(), id)))
		})
	}
}

func bearer(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", auth.ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}

package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
)

// responseWriter captures the status code for request logging
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": duration.Milliseconds(),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

// recoveryMiddleware recovers from panics and returns 500 error
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.WithFields(logrus.Fields{
					"error": err,
					"stack": string(debug.Stack()),
					"path":  r.URL.Path,
				}).Error("Panic recovered in HTTP handler")

				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// signatureMiddleware validates the sign/check pair on every request body.
// The body is re-buffered so handlers can decode it again.
func (s *Server) signatureMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.DisableSignCheck {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			s.logger.WithError(err).Warn("Failed to read request body")
			writeJSON(w, http.StatusOK, &ErrorResponse{Errcode: 1, Errmsg: "FAILED"})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		var payload map[string]interface{}
		if err := json.Unmarshal(body, &payload); err != nil {
			s.logger.WithError(err).Warn("Request body is not valid JSON")
			writeJSON(w, http.StatusOK, &ErrorResponse{Errcode: 1, Errmsg: "FAILED"})
			return
		}

		if err := s.verifier.VerifyRequest(payload); err != nil {
			s.logger.WithFields(logrus.Fields{
				"path":  r.URL.Path,
				"error": err.Error(),
			}).Warn("Request signature rejected")
			writeJSON(w, http.StatusOK, &ErrorResponse{Errcode: 1, Errmsg: "FAILURE"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

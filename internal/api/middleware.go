package api

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/arvis-core/internal/room"
)

type contextKey string

const (
	ctxKeyRequestID contextKey = "request_id"
	ctxKeyPassNote  contextKey = "pass_note"
)

// maxRequestIDLength caps client-supplied X-Request-ID values.
const maxRequestIDLength = 64

// maxBodyBytes bounds an injected event batch.
const maxBodyBytes = 1 << 20

// passNote carries details from inner handlers into the access log line.
// loggingMiddleware reads it after the handler returns.
type passNote struct {
	subject      string
	events       int
	instructions int
	suppressed   int
	before       room.State
	after        room.State
}

// notePass records a pass summary on the request, if the access logger is installed.
func notePass(ctx context.Context, events, instructions, suppressed int, before, after room.State) {
	n, ok := ctx.Value(ctxKeyPassNote).(*passNote)
	if !ok {
		return
	}
	n.events = events
	n.instructions = instructions
	n.suppressed = suppressed
	n.before = before
	n.after = after
}

// requestIDMiddleware tags every request with an ID, reusing a short
// client-supplied X-Request-ID so injector logs can be correlated.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware writes one access line per request. Health probes log
// at debug, server errors at warn; injected passes add their summary.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		note := &passNote{}
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		r = r.WithContext(context.WithValue(r.Context(), ctxKeyPassNote, note))

		next.ServeHTTP(wrapped, r)

		args := []any{
			"method", r.Method,
			"route", routePattern(r),
			"status", wrapped.status,
			"bytes", wrapped.written,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", r.Context().Value(ctxKeyRequestID),
		}
		if note.subject != "" {
			args = append(args, "subject", note.subject)
		}
		if note.events > 0 {
			args = append(args,
				"events", note.events,
				"instructions", note.instructions,
				"suppressed", note.suppressed,
				"state_before", note.before,
				"state_after", note.after,
			)
		}

		switch {
		case wrapped.status >= http.StatusInternalServerError:
			s.logger.Warn("debug channel request failed", args...)
		case r.URL.Path == healthPath:
			s.logger.Debug("debug channel request", args...)
		default:
			s.logger.Info("debug channel request", args...)
		}
	})
}

// routePattern returns the matched chi pattern, falling back to the raw path.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// recoveryMiddleware turns a handler panic into a 500 so one bad
// request cannot take the daemon down.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered in debug handler",
					"error", err,
					"method", r.Method,
					"route", routePattern(r),
					"request_id", r.Context().Value(ctxKeyRequestID),
				)
				writeInternalError(w, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) bodySizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// isBodyTooLarge reports whether a body read failed on the size limit.
func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// statusWriter records the status and size of a response.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.written += n
	return n, err
}

// Hijack lets the WebSocket upgrade take over the wrapped connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("api: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

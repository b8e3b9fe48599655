package security

import (
	"context"
	"net/http"
	"sync"
	"time"

	"chat-backend/internal/observability"
)

// StagedTimeout limits how long a single request may hold its connection.
// After grace the response is marked "Connection: close" if headers are still
// pending; after a further hard window the write deadline is forced and the
// request context is cancelled.
type StagedTimeout struct {
	grace  time.Duration
	hard   time.Duration
	logger *observability.Logger
}

func NewStagedTimeout(grace, hard time.Duration, logger *observability.Logger) *StagedTimeout {
	return &StagedTimeout{grace: grace, hard: hard, logger: logger}
}

func (s *StagedTimeout) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.grace <= 0 || IsEventStream(r) {
			next.ServeHTTP(w, r)
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		sw := &stagedWriter{ResponseWriter: w}
		graceTimer := time.AfterFunc(s.grace, sw.requestClose)
		defer graceTimer.Stop()

		if s.hard > 0 {
			hardTimer := time.AfterFunc(s.grace+s.hard, func() {
				_ = http.NewResponseController(w).SetWriteDeadline(time.Now())
				cancel()
				s.logger.Warn("connection_dropped", map[string]any{
					"method": r.Method,
					"path":   r.URL.Path,
				})
			})
			defer hardTimer.Stop()
		}

		next.ServeHTTP(sw, r.WithContext(ctx))
	})
}

type stagedWriter struct {
	http.ResponseWriter
	mu           sync.Mutex
	wroteHeader  bool
	closePending bool
}

func (sw *stagedWriter) requestClose() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if !sw.wroteHeader {
		sw.closePending = true
	}
}

func (sw *stagedWriter) WriteHeader(status int) {
	sw.mu.Lock()
	if !sw.wroteHeader {
		sw.wroteHeader = true
		if sw.closePending {
			sw.ResponseWriter.Header().Set("Connection", "close")
		}
	}
	sw.mu.Unlock()
	sw.ResponseWriter.WriteHeader(status)
}

func (sw *stagedWriter) Write(p []byte) (int, error) {
	sw.mu.Lock()
	pending := !sw.wroteHeader
	sw.mu.Unlock()
	if pending {
		sw.WriteHeader(http.StatusOK)
	}
	return sw.ResponseWriter.Write(p)
}

func (sw *stagedWriter) Flush() {
	if flusher, ok := sw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (sw *stagedWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

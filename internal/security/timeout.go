package security

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"chat-backend/internal/httpx"
)

// IsEventStream reports whether r asks for a server-sent event stream. Those
// requests are long-lived by design and skip both timeout layers.
func IsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// RequestTimeout bounds handler execution. A handler that overruns gets a 408
// envelope while the connection stays open.
type RequestTimeout struct {
	limit atomic.Int64
}

func NewRequestTimeout(d time.Duration) *RequestTimeout {
	t := &RequestTimeout{}
	t.Set(d)
	return t
}

func (t *RequestTimeout) Set(d time.Duration) {
	t.limit.Store(int64(d))
}

func (t *RequestTimeout) Duration() time.Duration {
	return time.Duration(t.limit.Load())
}

func (t *RequestTimeout) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := t.Duration()
		if limit <= 0 || IsEventStream(r) {
			next.ServeHTTP(w, r)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), limit)
		defer cancel()
		r = r.WithContext(ctx)

		tw := &timeoutWriter{header: make(http.Header)}
		done := make(chan struct{})
		panicked := make(chan any, 1)
		go func() {
			defer func() {
				if p := recover(); p != nil {
					panicked <- p
				}
			}()
			next.ServeHTTP(tw, r)
			close(done)
		}()

		select {
		case p := <-panicked:
			panic(p)
		case <-done:
			tw.mu.Lock()
			defer tw.mu.Unlock()
			dst := w.Header()
			for k, vv := range tw.header {
				dst[k] = vv
			}
			if tw.status == 0 {
				tw.status = http.StatusOK
			}
			w.WriteHeader(tw.status)
			_, _ = w.Write(tw.body.Bytes())
		case <-ctx.Done():
			tw.mu.Lock()
			defer tw.mu.Unlock()
			tw.timedOut = true
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				httpx.WriteError(w, http.StatusRequestTimeout, "REQUEST_TIMEOUT", "Request timed out")
			}
		}
	})
}

type timeoutWriter struct {
	mu       sync.Mutex
	header   http.Header
	body     bytes.Buffer
	status   int
	timedOut bool
}

func (tw *timeoutWriter) Header() http.Header { return tw.header }

func (tw *timeoutWriter) Write(p []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	if tw.status == 0 {
		tw.status = http.StatusOK
	}
	return tw.body.Write(p)
}

func (tw *timeoutWriter) WriteHeader(status int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut || tw.status != 0 {
		return
	}
	tw.status = status
}

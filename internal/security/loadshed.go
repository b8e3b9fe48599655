package security

import (
	"net/http"
	"sync/atomic"

	"chat-backend/internal/httpx"
)

// LoadShedder rejects requests beyond a fixed number in flight.
type LoadShedder struct {
	inflight atomic.Int64
	limit    atomic.Int64
}

func NewLoadShedder(limit int) *LoadShedder {
	s := &LoadShedder{}
	s.SetLimit(limit)
	return s
}

func (s *LoadShedder) SetLimit(limit int) {
	s.limit.Store(int64(limit))
}

func (s *LoadShedder) InFlight() int64 {
	return s.inflight.Load()
}

func (s *LoadShedder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.inflight.Add(1) > s.limit.Load() {
			s.inflight.Add(-1)
			httpx.WriteError(w, http.StatusServiceUnavailable, "SERVER_BUSY", "Server is at capacity")
			return
		}
		defer s.inflight.Add(-1)
		next.ServeHTTP(w, r)
	})
}

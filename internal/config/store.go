package config

import (
	"sync"
	"time"
)

// Snapshot is an immutable view of the configuration at one version.
type Snapshot struct {
	Version  uint64
	LoadedAt time.Time
	Config   Config
}

// Store holds the live configuration. Readers get a copy from Current and must
// not keep a reference into the store across blocking calls; there is none to
// keep, since the guard is released before Current returns.
type Store struct {
	mu      sync.RWMutex
	current Snapshot
}

func NewStore(initial Config) *Store {
	return &Store{current: Snapshot{Version: 1, LoadedAt: time.Now().UTC(), Config: initial}}
}

func (s *Store) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Swap installs next as the new snapshot. Listen ports, bind address, the JWT
// key and the database URL stay pinned to the values the process started with.
func (s *Store) Swap(next Config) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Config
	next.Server.Bind = prev.Server.Bind
	next.Server.PortClient = prev.Server.PortClient
	next.Server.PortAdmin = prev.Server.PortAdmin
	next.JWTSecret = prev.JWTSecret
	next.Database.URL = prev.Database.URL

	if err := next.Validate(); err != nil {
		return s.current, err
	}

	s.current = Snapshot{
		Version:  s.current.Version + 1,
		LoadedAt: time.Now().UTC(),
		Config:   next,
	}
	return s.current, nil
}

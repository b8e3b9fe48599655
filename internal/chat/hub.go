package chat

import (
	"sync"
	"time"
)

const (
	EventNewMessage    = "new_message"
	EventChatCreated   = "chat_created"
	EventMemberAdded   = "member_added"
	EventMemberRemoved = "member_removed"
	EventMessageRead   = "message_read"
)

type Event struct {
	Type   string    `json:"type"`
	ChatID int64     `json:"chat_id,omitempty"`
	Data   any       `json:"data,omitempty"`
	At     time.Time `json:"at"`
}

type broadcaster struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
}

// Hub fans events out to the open event streams of each user. The map write
// lock is only taken the first time a user subscribes and when their last
// stream goes away.
type Hub struct {
	mu     sync.RWMutex
	users  map[int64]*broadcaster
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{users: make(map[int64]*broadcaster), buffer: buffer}
}

func (h *Hub) broadcasterFor(userID int64) *broadcaster {
	h.mu.RLock()
	b, ok := h.users[userID]
	h.mu.RUnlock()
	if ok {
		return b
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok = h.users[userID]; ok {
		return b
	}
	b = &broadcaster{subs: make(map[chan Event]struct{})}
	h.users[userID] = b
	return b
}

// Subscribe opens a stream for userID. The returned func must be called once
// the stream is done; it closes the channel.
func (h *Hub) Subscribe(userID int64) (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)
	for {
		b := h.broadcasterFor(userID)
		b.mu.Lock()
		if b.closed {
			// Lost a race with the last unsubscribe; it is being removed.
			b.mu.Unlock()
			continue
		}
		b.subs[ch] = struct{}{}
		b.mu.Unlock()

		var once sync.Once
		return ch, func() {
			once.Do(func() { h.unsubscribe(userID, b, ch) })
		}
	}
}

func (h *Hub) unsubscribe(userID int64, b *broadcaster, ch chan Event) {
	b.mu.Lock()
	delete(b.subs, ch)
	empty := len(b.subs) == 0
	if empty {
		b.closed = true
	}
	b.mu.Unlock()
	close(ch)

	if empty {
		h.mu.Lock()
		if h.users[userID] == b {
			delete(h.users, userID)
		}
		h.mu.Unlock()
	}
}

// Publish delivers ev to every stream of userID without blocking. A stream
// whose buffer is full misses the event. It returns the number of deliveries.
func (h *Hub) Publish(userID int64, ev Event) int {
	h.mu.RLock()
	b, ok := h.users[userID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	delivered := 0
	for ch := range b.subs {
		select {
		case ch <- ev:
			delivered++
		default:
		}
	}
	return delivered
}

func (h *Hub) PublishMany(userIDs []int64, ev Event) int {
	total := 0
	for _, id := range userIDs {
		total += h.Publish(id, ev)
	}
	return total
}

// Users is the number of users with at least one open stream.
func (h *Hub) Users() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users)
}

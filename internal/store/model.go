package store

import "time"

const (
	KindDirect = "direct"
	KindGroup  = "group"

	RoleAdmin  = "admin"
	RoleMember = "member"
)

type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email,omitempty"`
	PasswordHash string     `json:"-"`
	IsAdmin      bool       `json:"is_admin"`
	IsBanned     bool       `json:"is_banned"`
	BanReason    string     `json:"ban_reason,omitempty"`
	BannedAt     *time.Time `json:"banned_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

type Session struct {
	ID           string
	UserID       int64
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastActivity time.Time
	IPAddress    string
	UserAgent    string
}

type Chat struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatorID   int64     `json:"creator_id"`
	Kind        string    `json:"kind"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChatSummary is one row of a user's chat list.
type ChatSummary struct {
	Chat
	Role          string     `json:"role"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	UnreadCount   int64      `json:"unread_count"`
}

type Member struct {
	UserID   int64     `json:"user_id"`
	Username string    `json:"username"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

type Message struct {
	ID             int64      `json:"id"`
	ChatID         int64      `json:"chat_id"`
	SenderID       int64      `json:"sender_id"`
	SenderUsername string     `json:"sender_username,omitempty"`
	Content        string     `json:"content"`
	MessageType    string     `json:"message_type"`
	Encrypted      bool       `json:"encrypted"`
	SentAt         time.Time  `json:"sent_at"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}

type NewMessage struct {
	ChatID      int64
	SenderID    int64
	Content     string
	MessageType string
	Encrypted   bool
}

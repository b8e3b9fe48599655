package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"chat-backend/internal/apperr"
	"chat-backend/internal/store"
)

const (
	DefaultPageLimit  = 50
	MaxPageLimit      = 100
	MaxMessageRunes   = 10000
	MaxGroupNameRunes = 100
	MaxDescRunes      = 500
)

var messageTypes = map[string]bool{"text": true, "image": true, "file": true}

// Store is the persistence the chat service needs. *store.Repository implements it.
type Store interface {
	GetUserByID(ctx context.Context, id int64) (store.User, error)
	GetUserByUsername(ctx context.Context, username string) (store.User, error)

	GetOrCreateDirectChat(ctx context.Context, a, b int64) (int64, bool, error)
	CreateGroup(ctx context.Context, creatorID int64, name, description string, memberIDs []int64) (store.Chat, error)
	GetChat(ctx context.Context, chatID int64) (store.Chat, error)
	MemberRole(ctx context.Context, chatID, userID int64) (string, error)
	AddMember(ctx context.Context, chatID, userID int64, role string) (bool, error)
	RemoveMember(ctx context.Context, chatID, userID int64) (bool, error)
	ListMembers(ctx context.Context, chatID int64) ([]store.Member, error)
	MemberIDs(ctx context.Context, chatID int64) ([]int64, error)
	ListChats(ctx context.Context, userID int64, kind string) ([]store.ChatSummary, error)

	SendMessage(ctx context.Context, msg store.NewMessage) (store.Message, error)
	GetChatMessages(ctx context.Context, chatID int64, limit, offset int) ([]store.Message, error)
	MarkDelivered(ctx context.Context, chatID, recipientID int64, at time.Time) (int64, error)
	MarkRead(ctx context.Context, chatID, readerID int64, at time.Time) (int64, error)
	UnreadCounts(ctx context.Context, userID int64) (map[int64]int64, error)
	DeleteMessage(ctx context.Context, messageID, senderID int64) (int64, error)
}

type Service struct {
	store Store
	hub   *Hub
	now   func() time.Time
}

func NewService(s Store, hub *Hub) *Service {
	return &Service{store: s, hub: hub, now: time.Now}
}

// SendInput addresses a message by chat id, or by recipient for a direct chat.
type SendInput struct {
	ChatID      int64
	RecipientID int64
	Content     string
	MessageType string
	Encrypted   bool
}

func (s *Service) SendMessage(ctx context.Context, senderID int64, in SendInput) (store.Message, error) {
	chatID, err := s.resolveTarget(ctx, senderID, in)
	if err != nil {
		return store.Message{}, err
	}
	if err := validateContent(in.Content); err != nil {
		return store.Message{}, err
	}

	messageType := in.MessageType
	if messageType == "" {
		messageType = "text"
	}
	if !messageTypes[messageType] {
		return store.Message{}, apperr.Validation("INVALID_INPUT", "Unsupported message type")
	}

	msg, err := s.store.SendMessage(ctx, store.NewMessage{
		ChatID:      chatID,
		SenderID:    senderID,
		Content:     in.Content,
		MessageType: messageType,
		Encrypted:   in.Encrypted,
	})
	if err != nil {
		return store.Message{}, apperr.Database(err)
	}

	s.notifyMembers(ctx, chatID, Event{Type: EventNewMessage, ChatID: chatID, Data: msg})
	return msg, nil
}

func (s *Service) resolveTarget(ctx context.Context, senderID int64, in SendInput) (int64, error) {
	switch {
	case in.ChatID > 0:
		if _, err := s.store.MemberRole(ctx, in.ChatID, senderID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return 0, apperr.Validation("INVALID_RECIPIENT", "Invalid recipient or group")
			}
			return 0, apperr.Database(err)
		}
		return in.ChatID, nil

	case in.RecipientID > 0:
		if in.RecipientID == senderID {
			return 0, apperr.Validation("INVALID_RECIPIENT", "Invalid recipient or group")
		}
		if _, err := s.store.GetUserByID(ctx, in.RecipientID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return 0, apperr.Validation("INVALID_RECIPIENT", "Invalid recipient or group")
			}
			return 0, apperr.Database(err)
		}
		chatID, _, err := s.openDirect(ctx, senderID, in.RecipientID)
		return chatID, err

	default:
		return 0, apperr.Validation("MISSING_RECIPIENT", "Must specify chat_id or recipient_id")
	}
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return apperr.Validation("EMPTY_MESSAGE", "Message cannot be empty")
	}
	if utf8.RuneCountInString(content) > MaxMessageRunes {
		return apperr.Validation("MESSAGE_TOO_LONG", "Message exceeds maximum length")
	}
	return nil
}

func (s *Service) requireMember(ctx context.Context, chatID, userID int64) (string, error) {
	role, err := s.store.MemberRole(ctx, chatID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", apperr.Forbidden("Not a member of this chat")
		}
		return "", apperr.Database(err)
	}
	return role, nil
}

func (s *Service) Messages(ctx context.Context, userID, chatID int64, limit, offset int) ([]store.Message, error) {
	if _, err := s.requireMember(ctx, chatID, userID); err != nil {
		return nil, err
	}
	messages, err := s.store.GetChatMessages(ctx, chatID, limit, offset)
	if err != nil {
		return nil, apperr.Database(err)
	}
	return messages, nil
}

func (s *Service) MarkDelivered(ctx context.Context, userID, chatID int64) (int64, error) {
	if _, err := s.requireMember(ctx, chatID, userID); err != nil {
		return 0, err
	}
	marked, err := s.store.MarkDelivered(ctx, chatID, userID, s.now())
	if err != nil {
		return 0, apperr.Database(err)
	}
	return marked, nil
}

// MarkRead stamps every unread message of chatID and tells the other members.
func (s *Service) MarkRead(ctx context.Context, userID, chatID int64) (int64, error) {
	if _, err := s.requireMember(ctx, chatID, userID); err != nil {
		return 0, err
	}
	marked, err := s.store.MarkRead(ctx, chatID, userID, s.now())
	if err != nil {
		return 0, apperr.Database(err)
	}
	if marked > 0 {
		s.notifyMembers(ctx, chatID, Event{
			Type:   EventMessageRead,
			ChatID: chatID,
			Data:   map[string]any{"reader_id": userID, "count": marked},
		})
	}
	return marked, nil
}

func (s *Service) Unread(ctx context.Context, userID int64) (map[int64]int64, error) {
	counts, err := s.store.UnreadCounts(ctx, userID)
	if err != nil {
		return nil, apperr.Database(err)
	}
	return counts, nil
}

func (s *Service) DeleteMessage(ctx context.Context, userID, messageID int64) (int64, error) {
	chatID, err := s.store.DeleteMessage(ctx, messageID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, apperr.NotFound("MESSAGE_NOT_FOUND", "Message not found")
		}
		return 0, apperr.Database(err)
	}
	return chatID, nil
}

func (s *Service) Chats(ctx context.Context, userID int64) ([]store.ChatSummary, error) {
	chats, err := s.store.ListChats(ctx, userID, "")
	if err != nil {
		return nil, apperr.Database(err)
	}
	return chats, nil
}

func (s *Service) Groups(ctx context.Context, userID int64) ([]store.ChatSummary, error) {
	groups, err := s.store.ListChats(ctx, userID, store.KindGroup)
	if err != nil {
		return nil, apperr.Database(err)
	}
	return groups, nil
}

// UserRef names a user by id or username; the id wins when both are set.
type UserRef struct {
	UserID   int64
	Username string
}

func (s *Service) lookup(ctx context.Context, ref UserRef) (store.User, error) {
	var (
		user store.User
		err  error
	)
	switch {
	case ref.UserID > 0:
		user, err = s.store.GetUserByID(ctx, ref.UserID)
	case strings.TrimSpace(ref.Username) != "":
		user, err = s.store.GetUserByUsername(ctx, strings.TrimSpace(ref.Username))
	default:
		return store.User{}, apperr.Validation("MISSING_FIELD", "user_id or username is required")
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.User{}, apperr.NotFound("USER_NOT_FOUND", "User not found")
		}
		return store.User{}, apperr.Database(err)
	}
	return user, nil
}

// StartDirect returns the direct chat with the referenced user, creating it
// on first contact. Repeating the call in either direction yields the same chat.
func (s *Service) StartDirect(ctx context.Context, userID int64, ref UserRef) (int64, bool, error) {
	other, err := s.lookup(ctx, ref)
	if err != nil {
		return 0, false, err
	}
	if other.ID == userID {
		return 0, false, apperr.Validation("INVALID_TARGET", "Cannot start a chat with yourself")
	}
	return s.openDirect(ctx, userID, other.ID)
}

func (s *Service) openDirect(ctx context.Context, a, b int64) (int64, bool, error) {
	chatID, created, err := s.store.GetOrCreateDirectChat(ctx, a, b)
	if err != nil {
		return 0, false, apperr.Database(err)
	}
	if created {
		s.hub.PublishMany([]int64{a, b}, Event{
			Type:   EventChatCreated,
			ChatID: chatID,
			Data:   map[string]any{"kind": store.KindDirect},
			At:     s.now().UTC(),
		})
	}
	return chatID, created, nil
}

type GroupInput struct {
	Name        string
	Description string
	Members     []int64
}

func (s *Service) CreateGroup(ctx context.Context, creatorID int64, in GroupInput) (store.Chat, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return store.Chat{}, apperr.Validation("MISSING_FIELD", "Group name is required")
	}
	if utf8.RuneCountInString(name) > MaxGroupNameRunes {
		return store.Chat{}, apperr.Validation("INVALID_INPUT", "Group name is too long")
	}
	description := strings.TrimSpace(in.Description)
	if utf8.RuneCountInString(description) > MaxDescRunes {
		return store.Chat{}, apperr.Validation("INVALID_INPUT", "Group description is too long")
	}

	seen := map[int64]bool{creatorID: true}
	members := make([]int64, 0, len(in.Members))
	for _, id := range in.Members {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := s.lookup(ctx, UserRef{UserID: id}); err != nil {
			return store.Chat{}, err
		}
		members = append(members, id)
	}

	group, err := s.store.CreateGroup(ctx, creatorID, name, description, members)
	if err != nil {
		return store.Chat{}, apperr.Database(err)
	}

	s.hub.PublishMany(append([]int64{creatorID}, members...), Event{
		Type:   EventChatCreated,
		ChatID: group.ID,
		Data:   group,
		At:     s.now().UTC(),
	})
	return group, nil
}

func (s *Service) group(ctx context.Context, groupID int64) (store.Chat, error) {
	chat, err := s.store.GetChat(ctx, groupID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Chat{}, apperr.NotFound("GROUP_NOT_FOUND", "Group not found")
		}
		return store.Chat{}, apperr.Database(err)
	}
	if chat.Kind != store.KindGroup {
		return store.Chat{}, apperr.NotFound("GROUP_NOT_FOUND", "Group not found")
	}
	return chat, nil
}

func (s *Service) GroupMembers(ctx context.Context, userID, groupID int64) ([]store.Member, error) {
	if _, err := s.group(ctx, groupID); err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, groupID, userID); err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, groupID)
	if err != nil {
		return nil, apperr.Database(err)
	}
	return members, nil
}

// AddMember lets a group admin add someone with the given role (member by default).
func (s *Service) AddMember(ctx context.Context, actorID, groupID int64, ref UserRef, role string) (store.User, error) {
	if _, err := s.group(ctx, groupID); err != nil {
		return store.User{}, err
	}
	actorRole, err := s.requireMember(ctx, groupID, actorID)
	if err != nil {
		return store.User{}, err
	}
	if actorRole != store.RoleAdmin {
		return store.User{}, apperr.Forbidden("Only group admins can add members")
	}

	if role == "" {
		role = store.RoleMember
	}
	if role != store.RoleMember && role != store.RoleAdmin {
		return store.User{}, apperr.Validation("INVALID_INPUT", "Role must be admin or member")
	}

	target, err := s.lookup(ctx, ref)
	if err != nil {
		return store.User{}, err
	}
	added, err := s.store.AddMember(ctx, groupID, target.ID, role)
	if err != nil {
		return store.User{}, apperr.Database(err)
	}
	if !added {
		return store.User{}, apperr.Conflict("ALREADY_MEMBER", "User is already a member")
	}

	s.notifyMembers(ctx, groupID, Event{
		Type:   EventMemberAdded,
		ChatID: groupID,
		Data:   map[string]any{"user_id": target.ID, "username": target.Username, "role": role},
	})
	return target, nil
}

// RemoveMember lets an admin remove anyone, and any member remove themselves.
func (s *Service) RemoveMember(ctx context.Context, actorID, groupID, targetID int64) error {
	if targetID <= 0 {
		return apperr.Validation("MISSING_FIELD", "user_id is required")
	}
	if _, err := s.group(ctx, groupID); err != nil {
		return err
	}
	actorRole, err := s.requireMember(ctx, groupID, actorID)
	if err != nil {
		return err
	}
	if actorID != targetID && actorRole != store.RoleAdmin {
		return apperr.Forbidden("Only group admins can remove members")
	}

	removed, err := s.store.RemoveMember(ctx, groupID, targetID)
	if err != nil {
		return apperr.Database(err)
	}
	if !removed {
		return apperr.NotFound("NOT_A_MEMBER", "User is not a member of this group")
	}

	ev := Event{
		Type:   EventMemberRemoved,
		ChatID: groupID,
		Data:   map[string]any{"user_id": targetID, "removed_by": actorID},
	}
	s.notifyMembers(ctx, groupID, ev)
	ev.At = s.now().UTC()
	s.hub.Publish(targetID, ev)
	return nil
}

// notifyMembers is best effort; a failed member lookup only skips the push.
func (s *Service) notifyMembers(ctx context.Context, chatID int64, ev Event) {
	ids, err := s.store.MemberIDs(ctx, chatID)
	if err != nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = s.now().UTC()
	}
	s.hub.PublishMany(ids, ev)
}

package chat

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"chat-backend/internal/apperr"
	"chat-backend/internal/auth"
	"chat-backend/internal/httpx"
	"chat-backend/internal/observability"
	"chat-backend/internal/router"
)

type Handler struct {
	service   *Service
	hub       *Hub
	logger    *observability.Logger
	keepAlive time.Duration
}

func NewHandler(service *Service, hub *Hub, logger *observability.Logger) *Handler {
	return &Handler{service: service, hub: hub, logger: logger, keepAlive: 25 * time.Second}
}

type sendRequest struct {
	ChatID      int64  `json:"chat_id"`
	GroupID     int64  `json:"group_id"`
	RecipientID int64  `json:"recipient_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	Encrypted   bool   `json:"encrypted"`
}

type chatRefRequest struct {
	ChatID int64 `json:"chat_id"`
}

type directRequest struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

type groupRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Members     []int64 `json:"members"`
}

type memberRequest struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// parsePage reads limit and offset. Missing or unparseable values fall back to
// the defaults and limit is capped.
func parsePage(q url.Values) (limit, offset int) {
	limit = DefaultPageLimit
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

// chatIDParam accepts chat_id, or group_id as a synonym.
func chatIDParam(q url.Values) (int64, error) {
	raw := q.Get("chat_id")
	if raw == "" {
		raw = q.Get("group_id")
	}
	if raw == "" {
		return 0, apperr.Validation("MISSING_FIELD", "chat_id is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("INVALID_INPUT", "chat_id must be a positive integer")
	}
	return id, nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(router.Param(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("INVALID_INPUT", "Invalid id in path")
	}
	return id, nil
}

func (h *Handler) Messages(w http.ResponseWriter, r *http.Request, claims auth.Claims) {
	q := r.URL.Query()
	chatID, err := chatIDParam(q)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	limit, offset := parsePage(q)

	messages, err := h.service.Messages(r.Context(), claims.UserID, chatID, limit, offset)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, map[string]any{
		"chat_id":  chatID,
		"limit":    limit,
		"offset":   offset,
		"messages": messages,
	})
}

func (h *Handler) Unread(w http.ResponseWriter, r *http.Request, claims auth.Claims) {
	counts, err := h.service.Unread(r.Context(), claims.UserID)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	httpx.WriteSuccess(w, http.StatusOK, map[string]any{"unread": counts, "total": total})
}

func (h *Handler) Chats(w http.ResponseWriter, r *http.Request, claims auth.Claims) {
	chats, err := h.service.Chats(r.Context(), claims.UserID)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, map[string]any{"chats": chats})
}

func (h *Handler) Groups(w http.ResponseWriter, r *http.Request, claims auth.Claims) {
	groups, err := h.service.Groups(r.Context(), claims.UserID)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, map[string]any{"groups": groups})
}

func (h *Handler) GroupMembers(w http.ResponseWriter, r *http.Request, claims auth.Claims) {
	groupID, err := pathID(r)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	members, err := h.service.GroupMembers(r.Context(), claims.UserID, groupID)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, map[string]any{"group_id": groupID, "members": members})
}

func (h *Handler) Send(w http.ResponseWriter, r *http.Request, userID int64, _ auth.Claims) {
	var body sendRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	chatID := body.ChatID
	if chatID == 0 {
		chatID = body.GroupID
	}

	msg, err := h.service.SendMessage(r.Context(), userID, SendInput{
		ChatID:      chatID,
		RecipientID: body.RecipientID,
		Content:     body.Content,
		MessageType: body.MessageType,
		Encrypted:   body.Encrypted,
	})
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusCreated, map[string]any{
		"message":    "Message sent",
		"message_id": msg.ID,
		"chat_id":    msg.ChatID,
		"sent_at":    msg.SentAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) decodeChatRef(w http.ResponseWriter, r *http.Request) (int64, bool) {
	var body chatRefRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return 0, false
	}
	if body.ChatID <= 0 {
		httpx.Fail(w, r, h.logger, apperr.Validation("MISSING_FIELD", "chat_id is required"))
		return 0, false
	}
	return body.ChatID, true
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request, userID int64, _ auth.Claims) {
	chatID, ok := h.decodeChatRef(w, r)
	if !ok {
		return
	}
	marked, err := h.service.MarkRead(r.Context(), userID, chatID)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, map[string]any{"chat_id": chatID, "marked": marked})
}

func (h *Handler) MarkDelivered(w http.ResponseWriter, r *http.Request, userID int64, _ auth.Claims) {
	chatID, ok := h.decodeChatRef(w, r)
	if !ok {
		return
	}
	marked, err := h.service.MarkDelivered(r.Context(), userID, chatID)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, map[string]any{"chat_id": chatID, "marked": marked})
}

func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request, userID int64, _ auth.Claims) {
	messageID, err := pathID(r)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	chatID, err := h.service.DeleteMessage(r.Context(), userID, messageID)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, map[string]any{"message": "Message deleted", "message_id": messageID, "chat_id": chatID})
}

func (h *Handler) StartDirect(w http.ResponseWriter, r *http.Request, userID int64, _ auth.Claims) {
	var body directRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	chatID, created, err := h.service.StartDirect(r.Context(), userID, UserRef{UserID: body.UserID, Username: body.Username})
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpx.WriteSuccess(w, status, map[string]any{"chat_id": chatID, "created": created})
}

func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request, userID int64, _ auth.Claims) {
	var body groupRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	group, err := h.service.CreateGroup(r.Context(), userID, GroupInput{
		Name:        body.Name,
		Description: body.Description,
		Members:     body.Members,
	})
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	h.logger.Info("group_created", map[string]any{"group_id": group.ID, "creator_id": userID})
	httpx.WriteSuccess(w, http.StatusCreated, map[string]any{"group": group})
}

func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request, userID int64, _ auth.Claims) {
	groupID, err := pathID(r)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	var body memberRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	added, err := h.service.AddMember(r.Context(), userID, groupID, UserRef{UserID: body.UserID, Username: body.Username}, body.Role)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusCreated, map[string]any{
		"message":  "Member added",
		"group_id": groupID,
		"user_id":  added.ID,
	})
}

func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request, userID int64, _ auth.Claims) {
	groupID, err := pathID(r)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	var body memberRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	if err := h.service.RemoveMember(r.Context(), userID, groupID, body.UserID); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, map[string]any{
		"message":  "Member removed",
		"group_id": groupID,
		"user_id":  body.UserID,
	})
}

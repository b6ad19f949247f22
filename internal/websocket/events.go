package chatws

import (
	"encoding/json"

	"github.com/saeid-a/ClinicChatBack/internal/models"
)

// Inbound events.
const (
	EventJoinConversation  = "join-conversation"
	EventLeaveConversation = "leave-conversation"
	EventSendMessage       = "send-message"
	EventTyping            = "typing"
	EventStopTyping        = "stop-typing"
	EventMarkRead          = "mark-read"
)

// Outbound events.
const (
	EventNewMessage     = "new-message"
	EventUserOnline     = "user-online"
	EventUserOffline    = "user-offline"
	EventUserTyping     = "user-typing"
	EventUserStopTyping = "user-stop-typing"
	EventMessagesRead   = "messages-read"
	EventOnlineUsers    = "online-users"
	EventError          = "error"
)

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outboundEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type conversationPayload struct {
	ConversationID int64 `json:"conversation_id" validate:"required,gt=0"`
}

type sendMessagePayload struct {
	ConversationID int64  `json:"conversation_id" validate:"required,gt=0"`
	Content        string `json:"content" validate:"required"`
}

type NewMessagePayload struct {
	Message      *models.ChatMessage        `json:"message"`
	Conversation models.ConversationSummary `json:"conversation"`
}

type PresencePayload struct {
	UserID int64 `json:"user_id"`
}

type OnlineUsersPayload struct {
	UserIDs []int64 `json:"user_ids"`
}

type TypingPayload struct {
	ConversationID int64 `json:"conversation_id"`
	UserID         int64 `json:"user_id"`
}

type MessagesReadPayload struct {
	ConversationID int64                      `json:"conversation_id"`
	ReaderID       int64                      `json:"reader_id"`
	Marked         int64                      `json:"marked"`
	ReadAt         string                     `json:"read_at"`
	Conversation   models.ConversationSummary `json:"conversation"`
}

type ErrorPayload struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	ContextEvent   string `json:"context_event,omitempty"`
	ConversationID int64  `json:"conversation_id,omitempty"`
}

func encodeEvent(event string, data any) ([]byte, error) {
	return json.Marshal(outboundEnvelope{Event: event, Data: data})
}

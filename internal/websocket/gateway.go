package chatws

import (
	"context"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/saeid-a/ClinicChatBack/internal/metrics"
	"github.com/saeid-a/ClinicChatBack/internal/models"
	"github.com/saeid-a/ClinicChatBack/internal/presence"
	"github.com/saeid-a/ClinicChatBack/internal/services"
)

type chatService interface {
	AuthorizeParticipant(ctx context.Context, actorID int64, role string, conversationID int64) (*models.Conversation, error)
	SendMessage(ctx context.Context, actorID int64, role string, conversationID int64, content string) (*services.ChatDelivery, error)
	MarkConversationRead(ctx context.Context, actorID int64, role string, conversationID int64) (*services.ReadReceipt, error)
}

// Gateway runs the realtime protocol on top of the hub: presence
// transitions, conversation channel joins and the send/typing/read events.
type Gateway struct {
	hub      *Hub
	service  chatService
	presence presence.Registry
	validate *validator.Validate
	log      zerolog.Logger
}

func NewGateway(hub *Hub, service chatService, registry presence.Registry, log zerolog.Logger) *Gateway {
	return &Gateway{
		hub:      hub,
		service:  service,
		presence: registry,
		validate: validator.New(),
		log:      log,
	}
}

func (g *Gateway) Hub() *Hub {
	return g.hub
}

// Serve drives an authenticated connection until it closes. Authentication
// happens before the upgrade, so a client reaching Serve is already bound to
// a verified identity.
func (g *Gateway) Serve(ctx context.Context, client *Client) {
	g.Connect(ctx, client)
	defer g.Disconnect(ctx, client)

	go client.WritePump()
	client.ReadPump(func(payload []byte) {
		g.HandleEvent(ctx, client, payload)
	})
}

// Connect registers presence, joins the user's private channel and announces
// the user if this is their first live connection.
func (g *Gateway) Connect(ctx context.Context, client *Client) {
	log := g.clientLog(client)

	wentOnline, err := g.presence.Register(ctx, client.userID, client.connID)
	if err != nil {
		log.Error().Err(err).Msg("presence register failed")
	}
	g.hub.Register(client)
	log.Debug().Bool("went_online", wentOnline).Msg("gateway connection authenticated")

	if wentOnline {
		metrics.OnlineUsers.Inc()
		g.emit(&delivery{everyone: true, excludeUserID: client.userID}, EventUserOnline, PresencePayload{UserID: client.userID})
	}

	online, err := g.presence.OnlineUsers(ctx)
	if err != nil {
		log.Error().Err(err).Msg("presence snapshot failed")
		return
	}
	g.emit(&delivery{target: client}, EventOnlineUsers, OnlineUsersPayload{UserIDs: online})
}

// Disconnect releases the connection. Only the last connection of a user
// turns them offline.
func (g *Gateway) Disconnect(ctx context.Context, client *Client) {
	log := g.clientLog(client)

	g.hub.Unregister(client)
	wentOffline, err := g.presence.Unregister(ctx, client.userID, client.connID)
	if err != nil {
		log.Error().Err(err).Msg("presence unregister failed")
	}
	log.Debug().Bool("went_offline", wentOffline).Msg("gateway connection closed")

	if wentOffline {
		metrics.OnlineUsers.Dec()
		g.emit(&delivery{everyone: true, excludeUserID: client.userID}, EventUserOffline, PresencePayload{UserID: client.userID})
	}
}

func (g *Gateway) HandleEvent(ctx context.Context, client *Client, payload []byte) {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.Event == "" {
		g.sendError(client, "", 0, services.CodeValidation, "Invalid event payload")
		return
	}

	switch envelope.Event {
	case EventJoinConversation:
		g.handleJoin(ctx, client, envelope)
	case EventLeaveConversation:
		g.handleLeave(client, envelope)
	case EventSendMessage:
		g.handleSend(ctx, client, envelope)
	case EventTyping:
		g.handleTyping(client, envelope, EventUserTyping)
	case EventStopTyping:
		g.handleTyping(client, envelope, EventUserStopTyping)
	case EventMarkRead:
		g.handleMarkRead(ctx, client, envelope)
	default:
		metrics.WSEventsTotal.WithLabelValues("unknown").Inc()
		g.sendError(client, envelope.Event, 0, services.CodeValidation, "Unsupported event")
		return
	}
	metrics.WSEventsTotal.WithLabelValues(envelope.Event).Inc()
}

func (g *Gateway) decodeConversation(client *Client, envelope Envelope) (int64, bool) {
	var p conversationPayload
	if err := json.Unmarshal(envelope.Data, &p); err != nil || g.validate.Struct(p) != nil {
		g.sendError(client, envelope.Event, 0, services.CodeValidation, "Invalid conversation id")
		return 0, false
	}
	return p.ConversationID, true
}

// handleJoin re-checks participation on every join. Non-participants are
// ignored without any reply so conversation ids cannot be probed.
func (g *Gateway) handleJoin(ctx context.Context, client *Client, envelope Envelope) {
	conversationID, ok := g.decodeConversation(client, envelope)
	if !ok {
		return
	}

	if _, err := g.service.AuthorizeParticipant(ctx, client.userID, client.role, conversationID); err != nil {
		g.clientLog(client).Debug().
			Int64("conversation_id", conversationID).
			Str("reason", services.ErrorCode(err)).
			Msg("join-conversation ignored")
		return
	}
	g.hub.Join(client, conversationID)
}

func (g *Gateway) handleLeave(client *Client, envelope Envelope) {
	conversationID, ok := g.decodeConversation(client, envelope)
	if !ok {
		return
	}
	g.hub.Leave(client, conversationID)
}

func (g *Gateway) handleSend(ctx context.Context, client *Client, envelope Envelope) {
	var p sendMessagePayload
	if err := json.Unmarshal(envelope.Data, &p); err != nil || g.validate.Struct(p) != nil {
		g.sendError(client, envelope.Event, p.ConversationID, services.CodeValidation, "Invalid message payload")
		return
	}

	delivery, err := g.service.SendMessage(ctx, client.userID, client.role, p.ConversationID, p.Content)
	if err != nil {
		g.sendServiceError(client, envelope.Event, p.ConversationID, err)
		return
	}
	metrics.MessagesSentTotal.Inc()

	// The message is committed at this point; fan-out never precedes storage.
	g.EmitNewMessage(delivery)
}

func (g *Gateway) handleTyping(client *Client, envelope Envelope, outbound string) {
	conversationID, ok := g.decodeConversation(client, envelope)
	if !ok {
		return
	}
	g.emit(&delivery{
		conversationID: conversationID,
		requireMember:  client,
		excludeUserID:  client.userID,
	}, outbound, TypingPayload{ConversationID: conversationID, UserID: client.userID})
}

func (g *Gateway) handleMarkRead(ctx context.Context, client *Client, envelope Envelope) {
	conversationID, ok := g.decodeConversation(client, envelope)
	if !ok {
		return
	}

	receipt, err := g.service.MarkConversationRead(ctx, client.userID, client.role, conversationID)
	if err != nil {
		g.sendServiceError(client, envelope.Event, conversationID, err)
		return
	}
	g.EmitMessagesRead(receipt, client)
}

// EmitNewMessage fans a stored message out to the conversation channel and
// to both participants' private channels.
func (g *Gateway) EmitNewMessage(d *services.ChatDelivery) {
	conversation := d.Conversation
	g.emit(&delivery{
		conversationID: conversation.ID,
		userIDs:        []int64{conversation.PatientID, conversation.DoctorID},
	}, EventNewMessage, NewMessagePayload{
		Message:      d.Message,
		Conversation: conversation.Summary(),
	})
}

// EmitMessagesRead notifies the conversation channel and both participants
// that the reader caught up. exclude, when set, is the connection that
// issued the read.
func (g *Gateway) EmitMessagesRead(receipt *services.ReadReceipt, exclude *Client) {
	conversation := receipt.Conversation
	g.emit(&delivery{
		conversationID: conversation.ID,
		userIDs:        []int64{receipt.RecipientID, receipt.ReaderID},
		exclude:        exclude,
	}, EventMessagesRead, MessagesReadPayload{
		ConversationID: conversation.ID,
		ReaderID:       receipt.ReaderID,
		Marked:         receipt.Marked,
		ReadAt:         services.FormatChatTimestamp(receipt.ReadAt),
		Conversation:   conversation.Summary(),
	})
}

// ConversationDeleted drops live memberships of a deleted conversation.
func (g *Gateway) ConversationDeleted(conversationID int64) {
	g.hub.DropRoom(conversationID)
}

// IsOnline exposes the presence registry to read-only callers.
func (g *Gateway) IsOnline(ctx context.Context, userID int64) (bool, error) {
	return g.presence.IsOnline(ctx, userID)
}

func (g *Gateway) sendServiceError(client *Client, event string, conversationID int64, err error) {
	code := services.ErrorCode(err)
	message := "Failed to process event"
	switch code {
	case services.CodeForbidden, services.CodeNotFound:
		// Same answer for both so the reply does not reveal whether the
		// conversation exists.
		code = services.CodeNotFound
		message = "Conversation not found"
	case services.CodeValidation:
		message = "Invalid request"
	default:
		g.clientLog(client).Error().
			Err(err).
			Str("event", event).
			Int64("conversation_id", conversationID).
			Msg("gateway event failed")
	}
	g.sendError(client, event, conversationID, code, message)
}

func (g *Gateway) sendError(client *Client, event string, conversationID int64, code, message string) {
	metrics.WSErrorsTotal.WithLabelValues(code).Inc()
	g.emit(&delivery{target: client}, EventError, ErrorPayload{
		Code:           code,
		Message:        message,
		ContextEvent:   event,
		ConversationID: conversationID,
	})
}

func (g *Gateway) emit(d *delivery, event string, data any) {
	payload, err := encodeEvent(event, data)
	if err != nil {
		g.log.Error().Err(err).Str("event", event).Msg("encode gateway event")
		return
	}
	d.payload = payload
	g.hub.publish(d)
}

func (g *Gateway) clientLog(client *Client) *zerolog.Logger {
	log := g.log.With().
		Int64("user_id", client.userID).
		Str("conn_id", client.connID).
		Logger()
	return &log
}

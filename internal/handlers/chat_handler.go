package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/saeid-a/ClinicChatBack/internal/middleware"
	"github.com/saeid-a/ClinicChatBack/internal/models"
	"github.com/saeid-a/ClinicChatBack/internal/services"
	chatws "github.com/saeid-a/ClinicChatBack/internal/websocket"
	"github.com/saeid-a/ClinicChatBack/pkg/utils"
)

type chatApplicationService interface {
	ListConversations(ctx context.Context, actorID int64, role string) ([]models.Conversation, error)
	GetOrCreateConversation(ctx context.Context, actorID int64, role string, otherPartyID int64) (*models.Conversation, bool, error)
	ListMessages(ctx context.Context, actorID int64, role string, conversationID int64, page int, limit int) ([]models.ChatMessage, int, error)
	MarkConversationRead(ctx context.Context, actorID int64, role string, conversationID int64) (*services.ReadReceipt, error)
	DeleteConversation(ctx context.Context, actorID int64, role string, conversationID int64) error
}

type chatGateway interface {
	Hub() *chatws.Hub
	Serve(ctx context.Context, client *chatws.Client)
	EmitMessagesRead(receipt *services.ReadReceipt, exclude *chatws.Client)
	ConversationDeleted(conversationID int64)
	IsOnline(ctx context.Context, userID int64) (bool, error)
}

type ChatHandler struct {
	service   chatApplicationService
	gateway   chatGateway
	jwtSecret string
}

type createConversationRequest struct {
	ParticipantID int64 `json:"participant_id" validate:"required,gt=0"`
}

func NewChatHandler(service chatApplicationService, gateway chatGateway, jwtSecret string) *ChatHandler {
	return &ChatHandler{
		service:   service,
		gateway:   gateway,
		jwtSecret: jwtSecret,
	}
}

func (h *ChatHandler) ListConversations(c *fiber.Ctx) error {
	userID, role, err := actorFromLocals(c)
	if err != nil {
		return unauthenticated(c)
	}

	conversations, err := h.service.ListConversations(c.Context(), userID, role)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"conversations": conversations})
}

// CreateConversation answers 201 when the pair had no conversation yet and
// 200 with the existing one otherwise.
func (h *ChatHandler) CreateConversation(c *fiber.Ctx) error {
	userID, role, err := actorFromLocals(c)
	if err != nil {
		return unauthenticated(c)
	}

	var req createConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return badRequest(c, "participant_id is required")
	}

	conversation, created, err := h.service.GetOrCreateConversation(c.Context(), userID, role, req.ParticipantID)
	if err != nil {
		return mapChatError(c, err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{"conversation": conversation})
}

func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	userID, role, err := actorFromLocals(c)
	if err != nil {
		return unauthenticated(c)
	}

	conversationID, ok := parseConversationID(c)
	if !ok {
		return badRequest(c, "Invalid conversation id")
	}

	page := parsePositiveInt(c.Query("page"), 1)
	limit := parsePositiveInt(c.Query("limit"), defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	messages, total, err := h.service.ListMessages(c.Context(), userID, role, conversationID, page, limit)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{
		"messages":   messages,
		"pagination": buildPaginationMeta(page, limit, total),
	})
}

// MarkRead is the REST form of the mark-read event. Live peers hear about
// it the same way they would from the gateway.
func (h *ChatHandler) MarkRead(c *fiber.Ctx) error {
	userID, role, err := actorFromLocals(c)
	if err != nil {
		return unauthenticated(c)
	}

	conversationID, ok := parseConversationID(c)
	if !ok {
		return badRequest(c, "Invalid conversation id")
	}

	receipt, err := h.service.MarkConversationRead(c.Context(), userID, role, conversationID)
	if err != nil {
		return mapChatError(c, err)
	}
	h.gateway.EmitMessagesRead(receipt, nil)

	return c.JSON(fiber.Map{
		"conversation": receipt.Conversation,
		"marked":       receipt.Marked,
	})
}

func (h *ChatHandler) DeleteConversation(c *fiber.Ctx) error {
	userID, role, err := actorFromLocals(c)
	if err != nil {
		return unauthenticated(c)
	}

	conversationID, ok := parseConversationID(c)
	if !ok {
		return badRequest(c, "Invalid conversation id")
	}

	if err := h.service.DeleteConversation(c.Context(), userID, role, conversationID); err != nil {
		return mapChatError(c, err)
	}
	h.gateway.ConversationDeleted(conversationID)

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChatHandler) Presence(c *fiber.Ctx) error {
	if _, _, err := actorFromLocals(c); err != nil {
		return unauthenticated(c)
	}

	userID, err := strconv.ParseInt(c.Params("userId"), 10, 64)
	if err != nil || userID <= 0 {
		return badRequest(c, "Invalid user id")
	}

	online, err := h.gateway.IsOnline(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read presence",
			"code":  services.CodePersistence,
		})
	}

	return c.JSON(fiber.Map{"user_id": userID, "online": online})
}

// WebSocketAuth verifies the credential before the upgrade. A connection
// without a valid token never reaches the gateway.
func (h *ChatHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	claims, err := h.parseWSClaims(c)
	if err != nil {
		return unauthenticated(c)
	}
	userID, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil || userID <= 0 || !models.IsChatRole(claims.Role) {
		return unauthenticated(c)
	}

	c.Locals("user_id", userID)
	c.Locals("role", claims.Role)
	return c.Next()
}

func (h *ChatHandler) HandleWebSocket(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(int64)
	role, _ := conn.Locals("role").(string)
	client := chatws.NewClient(h.gateway.Hub(), conn, userID, role)

	h.gateway.Serve(context.Background(), client)
}

func (h *ChatHandler) parseWSClaims(c *fiber.Ctx) (*utils.Claims, error) {
	tokenString := strings.TrimSpace(c.Query("token"))
	if tokenString == "" {
		if bearer, ok := middleware.BearerToken(c.Get("Authorization")); ok {
			tokenString = bearer
		}
	}

	if tokenString == "" {
		return nil, errors.New("missing token")
	}

	return utils.ValidateToken(tokenString, h.jwtSecret)
}

func mapChatError(c *fiber.Ctx, err error) error {
	code := services.ErrorCode(err)
	switch code {
	case services.CodeUnauthenticated:
		return unauthenticated(c)
	case services.CodeForbidden:
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden", "code": code})
	case services.CodeValidation:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request", "code": code})
	case services.CodeNotFound:
		message := "Conversation not found"
		if errors.Is(err, services.ErrParticipantNotFound) {
			message = "Participant not found"
		}
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": message, "code": code})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process chat request",
			"code":  code,
		})
	}
}

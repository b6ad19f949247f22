package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/saeid-a/ClinicChatBack/internal/models"
	"github.com/saeid-a/ClinicChatBack/internal/services"
	chatws "github.com/saeid-a/ClinicChatBack/internal/websocket"
	"github.com/saeid-a/ClinicChatBack/pkg/utils"
)

type stubChatService struct {
	conversationsResult []models.Conversation
	conversationsErr    error
	createResult        *models.Conversation
	createCreated       bool
	createErr           error
	messagesResult      []models.ChatMessage
	messagesTotal       int
	messagesErr         error
	readResult          *services.ReadReceipt
	readErr             error
	deleteErr           error
	lastActorID         int64
	lastRole            string
	lastParticipantID   int64
	lastConversationID  int64
	lastPage            int
	lastLimit           int
}

func (s *stubChatService) ListConversations(_ context.Context, actorID int64, role string) ([]models.Conversation, error) {
	s.lastActorID = actorID
	s.lastRole = role
	return s.conversationsResult, s.conversationsErr
}

func (s *stubChatService) GetOrCreateConversation(_ context.Context, actorID int64, role string, otherPartyID int64) (*models.Conversation, bool, error) {
	s.lastActorID = actorID
	s.lastRole = role
	s.lastParticipantID = otherPartyID
	return s.createResult, s.createCreated, s.createErr
}

func (s *stubChatService) ListMessages(_ context.Context, actorID int64, role string, conversationID int64, page int, limit int) ([]models.ChatMessage, int, error) {
	s.lastActorID = actorID
	s.lastRole = role
	s.lastConversationID = conversationID
	s.lastPage = page
	s.lastLimit = limit
	return s.messagesResult, s.messagesTotal, s.messagesErr
}

func (s *stubChatService) MarkConversationRead(_ context.Context, actorID int64, role string, conversationID int64) (*services.ReadReceipt, error) {
	s.lastActorID = actorID
	s.lastRole = role
	s.lastConversationID = conversationID
	return s.readResult, s.readErr
}

func (s *stubChatService) DeleteConversation(_ context.Context, actorID int64, role string, conversationID int64) error {
	s.lastActorID = actorID
	s.lastRole = role
	s.lastConversationID = conversationID
	return s.deleteErr
}

type stubGateway struct {
	hub          *chatws.Hub
	online       map[int64]bool
	onlineErr    error
	readReceipts []*services.ReadReceipt
	dropped      []int64
}

func newStubGateway() *stubGateway {
	return &stubGateway{hub: chatws.NewHub(), online: map[int64]bool{}}
}

func (g *stubGateway) Hub() *chatws.Hub                      { return g.hub }
func (g *stubGateway) Serve(context.Context, *chatws.Client) {}
func (g *stubGateway) ConversationDeleted(conversationID int64) {
	g.dropped = append(g.dropped, conversationID)
}
func (g *stubGateway) IsOnline(_ context.Context, id int64) (bool, error) {
	return g.online[id], g.onlineErr
}
func (g *stubGateway) EmitMessagesRead(receipt *services.ReadReceipt, _ *chatws.Client) {
	g.readReceipts = append(g.readReceipts, receipt)
}

func newChatTestApp(handler *ChatHandler, userID string, role string) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("role", role)
		c.Locals("user_id", userID)
		return c.Next()
	})
	app.Get("/api/v1/conversations", handler.ListConversations)
	app.Post("/api/v1/conversations", handler.CreateConversation)
	app.Get("/api/v1/conversations/:id/messages", handler.GetMessages)
	app.Put("/api/v1/conversations/:id/read", handler.MarkRead)
	app.Delete("/api/v1/conversations/:id", handler.DeleteConversation)
	app.Get("/api/v1/presence/:userId", handler.Presence)
	return app
}

func decodeErrorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return body.Code
}

func TestListConversationsReturnsConversations(t *testing.T) {
	service := &stubChatService{
		conversationsResult: []models.Conversation{
			{
				ID:              17,
				PatientID:       42,
				DoctorID:        8,
				Participants:    []int64{42, 8},
				LastMessage:     "See you tomorrow",
				LastMessageTime: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
				UnreadCount:     models.UnreadCounts{{UserID: 8, Count: 0}, {UserID: 42, Count: 2}},
			},
		},
	}
	app := newChatTestApp(NewChatHandler(service, newStubGateway(), "secret"), "42", models.RolePatient)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if service.lastActorID != 42 || service.lastRole != models.RolePatient {
		t.Fatalf("unexpected actor context: %d %q", service.lastActorID, service.lastRole)
	}

	var body struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(body.Conversations) != 1 || body.Conversations[0].UnreadCount.For(42) != 2 {
		t.Fatalf("unexpected response: %+v", body.Conversations)
	}
}

func TestListConversationsRejectsMissingIdentity(t *testing.T) {
	app := newChatTestApp(NewChatHandler(&stubChatService{}, newStubGateway(), "secret"), "not-a-number", models.RolePatient)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if code := decodeErrorCode(t, resp); code != services.CodeUnauthenticated {
		t.Fatalf("expected UNAUTHENTICATED, got %q", code)
	}
}

func TestCreateConversationStatusReflectsCreation(t *testing.T) {
	cases := []struct {
		name    string
		created bool
		want    int
	}{
		{name: "new pair", created: true, want: http.StatusCreated},
		{name: "existing pair", created: false, want: http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubChatService{
				createResult:  &models.Conversation{ID: 9, PatientID: 42, DoctorID: 7},
				createCreated: tc.created,
			}
			app := newChatTestApp(NewChatHandler(service, newStubGateway(), "secret"), "42", models.RolePatient)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations", strings.NewReader(`{"participant_id":7}`))
			req.Header.Set("Content-Type", "application/json")

			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.StatusCode)
			}
			if service.lastParticipantID != 7 {
				t.Fatalf("expected participant id 7, got %d", service.lastParticipantID)
			}
		})
	}
}

func TestCreateConversationValidatesBody(t *testing.T) {
	service := &stubChatService{}
	app := newChatTestApp(NewChatHandler(service, newStubGateway(), "secret"), "42", models.RolePatient)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations", strings.NewReader(`{"participant_id":0}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if service.lastActorID != 0 {
		t.Fatal("service should not be called for an invalid body")
	}
}

func TestCreateConversationUnknownParticipant(t *testing.T) {
	service := &stubChatService{createErr: services.ErrParticipantNotFound}
	app := newChatTestApp(NewChatHandler(service, newStubGateway(), "secret"), "42", models.RolePatient)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations", strings.NewReader(`{"participant_id":77}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestGetMessagesReturnsPagination(t *testing.T) {
	service := &stubChatService{
		messagesResult: []models.ChatMessage{
			{ID: 5, ConversationID: 11, SenderID: 7, Content: "Hi", CreatedAt: time.Now().UTC()},
		},
		messagesTotal: 12,
	}
	app := newChatTestApp(NewChatHandler(service, newStubGateway(), "secret"), "7", models.RoleDoctor)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/conversations/11/messages?page=2&limit=5", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if service.lastConversationID != 11 || service.lastPage != 2 || service.lastLimit != 5 {
		t.Fatalf("unexpected forwarded pagination: conversation=%d page=%d limit=%d", service.lastConversationID, service.lastPage, service.lastLimit)
	}

	var body struct {
		Messages   []models.ChatMessage  `json:"messages"`
		Pagination models.PaginationMeta `json:"pagination"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(body.Messages) != 1 || body.Pagination.Total != 12 || body.Pagination.TotalPages != 3 || !body.Pagination.HasMore {
		t.Fatalf("unexpected response body: %+v %+v", body.Messages, body.Pagination)
	}
}

func TestGetMessagesClampsLimit(t *testing.T) {
	service := &stubChatService{}
	app := newChatTestApp(NewChatHandler(service, newStubGateway(), "secret"), "7", models.RoleDoctor)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/conversations/11/messages?limit=5000&page=-3", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if service.lastLimit != maxPageLimit || service.lastPage != 1 {
		t.Fatalf("expected page 1 limit %d, got page %d limit %d", maxPageLimit, service.lastPage, service.lastLimit)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/conversations/11/messages", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	if service.lastLimit != defaultPageLimit {
		t.Fatalf("expected default limit %d, got %d", defaultPageLimit, service.lastLimit)
	}
}

func TestGetMessagesMapsErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
		code string
	}{
		{name: "missing", err: services.ErrConversationNotFound, want: http.StatusNotFound, code: services.CodeNotFound},
		{name: "not a participant", err: services.ErrForbidden, want: http.StatusForbidden, code: services.CodeForbidden},
		{name: "store failure", err: errors.New("connection reset"), want: http.StatusInternalServerError, code: services.CodePersistence},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubChatService{messagesErr: tc.err}
			app := newChatTestApp(NewChatHandler(service, newStubGateway(), "secret"), "7", models.RoleDoctor)

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/conversations/99/messages", nil))
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.StatusCode)
			}
			if code := decodeErrorCode(t, resp); code != tc.code {
				t.Fatalf("expected code %q, got %q", tc.code, code)
			}
		})
	}
}

func TestGetMessagesRejectsBadConversationID(t *testing.T) {
	service := &stubChatService{}
	app := newChatTestApp(NewChatHandler(service, newStubGateway(), "secret"), "7", models.RoleDoctor)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/conversations/abc/messages", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestMarkReadNotifiesLivePeers(t *testing.T) {
	receipt := &services.ReadReceipt{
		Conversation: &models.Conversation{ID: 11, PatientID: 42, DoctorID: 7},
		ReaderID:     7,
		RecipientID:  42,
		Marked:       4,
		ReadAt:       time.Now().UTC(),
	}
	service := &stubChatService{readResult: receipt}
	gateway := newStubGateway()
	app := newChatTestApp(NewChatHandler(service, gateway, "secret"), "7", models.RoleDoctor)

	resp, err := app.Test(httptest.NewRequest(http.MethodPut, "/api/v1/conversations/11/read", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Marked int64 `json:"marked"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.Marked != 4 {
		t.Fatalf("expected 4 marked, got %d", body.Marked)
	}
	if len(gateway.readReceipts) != 1 || gateway.readReceipts[0] != receipt {
		t.Fatalf("expected one messages-read notification, got %d", len(gateway.readReceipts))
	}
}

func TestMarkReadFailureDoesNotNotify(t *testing.T) {
	service := &stubChatService{readErr: services.ErrForbidden}
	gateway := newStubGateway()
	app := newChatTestApp(NewChatHandler(service, gateway, "secret"), "7", models.RoleDoctor)

	resp, err := app.Test(httptest.NewRequest(http.MethodPut, "/api/v1/conversations/11/read", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	if len(gateway.readReceipts) != 0 {
		t.Fatal("failed mark-read must not notify anyone")
	}
}

func TestDeleteConversationDropsRoom(t *testing.T) {
	service := &stubChatService{}
	gateway := newStubGateway()
	app := newChatTestApp(NewChatHandler(service, gateway, "secret"), "42", models.RolePatient)

	resp, err := app.Test(httptest.NewRequest(http.MethodDelete, "/api/v1/conversations/11", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if service.lastConversationID != 11 {
		t.Fatalf("expected conversation 11, got %d", service.lastConversationID)
	}
	if len(gateway.dropped) != 1 || gateway.dropped[0] != 11 {
		t.Fatalf("expected room 11 dropped, got %v", gateway.dropped)
	}
}

func TestPresenceReportsRegistryState(t *testing.T) {
	gateway := newStubGateway()
	gateway.online[7] = true
	app := newChatTestApp(NewChatHandler(&stubChatService{}, gateway, "secret"), "42", models.RolePatient)

	for id, want := range map[string]bool{"7": true, "8": false} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/presence/"+id, nil))
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		var body struct {
			Online bool `json:"online"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		resp.Body.Close()
		if body.Online != want {
			t.Fatalf("user %s: expected online=%v", id, want)
		}
	}
}

func newWebSocketAuthApp(handler *ChatHandler) *fiber.App {
	app := fiber.New()
	app.Use("/ws", handler.WebSocketAuth)
	app.Get("/ws", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"user_id": c.Locals("user_id"), "role": c.Locals("role")})
	})
	return app
}

func upgradeRequest(target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	return req
}

func TestWebSocketAuthRequiresUpgrade(t *testing.T) {
	app := newWebSocketAuthApp(NewChatHandler(&stubChatService{}, newStubGateway(), "secret"))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ws", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Fatalf("expected 426, got %d", resp.StatusCode)
	}
}

func TestWebSocketAuthRejectsBadCredentials(t *testing.T) {
	app := newWebSocketAuthApp(NewChatHandler(&stubChatService{}, newStubGateway(), "secret"))

	foreign, err := utils.GenerateToken("42", models.RolePatient, "other-secret")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	admin, err := utils.GenerateToken("1", models.RoleAdmin, "secret")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	for name, target := range map[string]string{
		"missing":       "/ws",
		"garbage":       "/ws?token=abc",
		"wrong secret":  "/ws?token=" + foreign,
		"non-chat role": "/ws?token=" + admin,
	} {
		resp, err := app.Test(upgradeRequest(target))
		if err != nil {
			t.Fatalf("%s: app.Test: %v", name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, resp.StatusCode)
		}
	}
}

func TestWebSocketAuthBindsIdentity(t *testing.T) {
	app := newWebSocketAuthApp(NewChatHandler(&stubChatService{}, newStubGateway(), "secret"))

	token, err := utils.GenerateToken("42", models.RolePatient, "secret")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	for name, req := range map[string]*http.Request{
		"query":  upgradeRequest("/ws?token=" + token),
		"header": upgradeRequest("/ws"),
	} {
		if name == "header" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("%s: app.Test: %v", name, err)
		}
		var body struct {
			UserID int64  `json:"user_id"`
			Role   string `json:"role"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("%s: Decode: %v", name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || body.UserID != 42 || body.Role != models.RolePatient {
			t.Fatalf("%s: unexpected identity %d %+v", name, resp.StatusCode, body)
		}
	}
}

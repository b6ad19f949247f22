package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/saeid-a/ClinicChatBack/internal/models"
	"github.com/saeid-a/ClinicChatBack/internal/repository"
)

const (
	DefaultConversationListLimit = 50
	MaxMessageLength             = 4000
)

type chatStore interface {
	GetConversation(ctx context.Context, conversationID int64) (*models.Conversation, error)
	FindConversation(ctx context.Context, patientID int64, doctorID int64) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID int64, limit int) ([]models.Conversation, error)
	CreateOrGetConversation(ctx context.Context, patientID int64, doctorID int64, details models.ParticipantDetails) (*models.Conversation, bool, error)
	AppendMessage(ctx context.Context, input repository.NewMessage) (*models.ChatMessage, *models.Conversation, error)
	ListMessages(ctx context.Context, conversationID int64, limit int, offset int) ([]models.ChatMessage, int, error)
	MarkConversationRead(ctx context.Context, conversationID int64, readerID int64) (int64, *models.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID int64) (bool, error)
}

type userReader interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

type doctorProfileReader interface {
	GetByUserID(ctx context.Context, userID int64) (*models.DoctorProfile, error)
}

// ChatService holds the conversation operations shared by the REST handlers
// and the realtime gateway, so both paths apply the same rules.
type ChatService struct {
	store      chatStore
	userRepo   userReader
	doctorRepo doctorProfileReader
	listLimit  int
	now        func() time.Time
}

// ChatDelivery is the result of a successful send: the stored message and the
// conversation as it looks after the send.
type ChatDelivery struct {
	Conversation *models.Conversation
	Message      *models.ChatMessage
	RecipientID  int64
}

// ReadReceipt describes the effect of a mark-read call.
type ReadReceipt struct {
	Conversation *models.Conversation
	ReaderID     int64
	RecipientID  int64
	Marked       int64
	ReadAt       time.Time
}

func NewChatService(
	store chatStore,
	userRepo userReader,
	doctorRepo doctorProfileReader,
	listLimit int,
) *ChatService {
	if listLimit <= 0 {
		listLimit = DefaultConversationListLimit
	}
	return &ChatService{
		store:      store,
		userRepo:   userRepo,
		doctorRepo: doctorRepo,
		listLimit:  listLimit,
		now:        time.Now,
	}
}

func (s *ChatService) ListConversations(
	ctx context.Context,
	actorID int64,
	role string,
) ([]models.Conversation, error) {
	if !models.IsChatRole(role) {
		return nil, ErrForbidden
	}

	conversations, err := s.store.ListConversations(ctx, actorID, s.listLimit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return conversations, nil
}

// GetOrCreateConversation returns the conversation between the actor and the
// other party, creating it on first contact. created reports whether this
// call inserted it.
func (s *ChatService) GetOrCreateConversation(
	ctx context.Context,
	actorID int64,
	role string,
	otherPartyID int64,
) (conversation *models.Conversation, created bool, err error) {
	if !models.IsChatRole(role) {
		return nil, false, ErrForbidden
	}
	if otherPartyID <= 0 || otherPartyID == actorID {
		return nil, false, ErrInvalidInput
	}

	patientID, doctorID := actorID, otherPartyID
	if role == models.RoleDoctor {
		patientID, doctorID = otherPartyID, actorID
	}

	existing, err := s.store.FindConversation(ctx, patientID, doctorID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("find conversation: %w", err)
	}

	details, err := s.participantDetails(ctx, patientID, doctorID)
	if err != nil {
		return nil, false, err
	}

	conversation, created, err = s.store.CreateOrGetConversation(ctx, patientID, doctorID, details)
	if err != nil {
		return nil, false, fmt.Errorf("create conversation: %w", err)
	}
	return conversation, created, nil
}

func (s *ChatService) participantDetails(
	ctx context.Context,
	patientID int64,
	doctorID int64,
) (models.ParticipantDetails, error) {
	patient, err := s.lookupUser(ctx, patientID, models.RolePatient)
	if err != nil {
		return models.ParticipantDetails{}, err
	}
	doctor, err := s.lookupUser(ctx, doctorID, models.RoleDoctor)
	if err != nil {
		return models.ParticipantDetails{}, err
	}

	profile, err := s.doctorRepo.GetByUserID(ctx, doctorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ParticipantDetails{}, ErrParticipantNotFound
		}
		return models.ParticipantDetails{}, fmt.Errorf("lookup doctor profile: %w", err)
	}

	return models.ParticipantDetails{
		User: models.PartyDetails{
			ID:    patient.ID,
			Name:  patient.Name,
			Email: patient.Email,
		},
		Doctor: models.DoctorDetails{
			ID:             doctor.ID,
			Name:           doctor.Name,
			Email:          doctor.Email,
			Prefix:         profile.Prefix,
			Specialization: profile.Specialization,
		},
	}, nil
}

func (s *ChatService) lookupUser(ctx context.Context, userID int64, role string) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user.Role != role {
		return nil, ErrParticipantNotFound
	}
	return user, nil
}

// AuthorizeParticipant loads the conversation and checks that the actor is
// one of its two participants. It is evaluated on every call and never
// cached.
func (s *ChatService) AuthorizeParticipant(
	ctx context.Context,
	actorID int64,
	role string,
	conversationID int64,
) (*models.Conversation, error) {
	if !models.IsChatRole(role) {
		return nil, ErrForbidden
	}
	if conversationID <= 0 {
		return nil, ErrInvalidInput
	}

	conversation, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if !conversation.HasParticipant(actorID) {
		return nil, ErrForbidden
	}
	return conversation, nil
}

// ListMessages returns one page of history in chronological order. Pages are
// counted from the newest message backwards.
func (s *ChatService) ListMessages(
	ctx context.Context,
	actorID int64,
	role string,
	conversationID int64,
	page int,
	limit int,
) ([]models.ChatMessage, int, error) {
	if page <= 0 || limit <= 0 {
		return nil, 0, ErrInvalidInput
	}

	if _, err := s.AuthorizeParticipant(ctx, actorID, role, conversationID); err != nil {
		return nil, 0, err
	}

	messages, total, err := s.store.ListMessages(ctx, conversationID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}

	slices.Reverse(messages)
	return messages, total, nil
}

func (s *ChatService) SendMessage(
	ctx context.Context,
	actorID int64,
	role string,
	conversationID int64,
	content string,
) (*ChatDelivery, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" || utf8.RuneCountInString(trimmed) > MaxMessageLength {
		return nil, ErrInvalidInput
	}

	conversation, err := s.AuthorizeParticipant(ctx, actorID, role, conversationID)
	if err != nil {
		return nil, err
	}

	senderType := models.RolePatient
	if actorID == conversation.DoctorID {
		senderType = models.RoleDoctor
	}

	sender, err := s.userRepo.GetByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("lookup sender: %w", err)
	}

	recipientID := conversation.OtherParticipant(actorID)
	message, updated, err := s.store.AppendMessage(ctx, repository.NewMessage{
		ConversationID: conversationID,
		SenderID:       actorID,
		SenderType:     senderType,
		SenderName:     sender.Name,
		RecipientID:    recipientID,
		Content:        trimmed,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isForeignKeyViolation(err) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("append message: %w", err)
	}

	return &ChatDelivery{
		Conversation: updated,
		Message:      message,
		RecipientID:  recipientID,
	}, nil
}

// MarkConversationRead acknowledges every message the actor has received in
// the conversation and clears their unread counter. Calling it again is a
// no-op.
func (s *ChatService) MarkConversationRead(
	ctx context.Context,
	actorID int64,
	role string,
	conversationID int64,
) (*ReadReceipt, error) {
	conversation, err := s.AuthorizeParticipant(ctx, actorID, role, conversationID)
	if err != nil {
		return nil, err
	}

	marked, updated, err := s.store.MarkConversationRead(ctx, conversationID, actorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("mark conversation read: %w", err)
	}

	return &ReadReceipt{
		Conversation: updated,
		ReaderID:     actorID,
		RecipientID:  conversation.OtherParticipant(actorID),
		Marked:       marked,
		ReadAt:       s.now().UTC(),
	}, nil
}

// DeleteConversation removes the conversation and all of its messages. There
// is no tombstone; the pair can start a fresh conversation afterwards.
func (s *ChatService) DeleteConversation(
	ctx context.Context,
	actorID int64,
	role string,
	conversationID int64,
) error {
	if _, err := s.AuthorizeParticipant(ctx, actorID, role, conversationID); err != nil {
		return err
	}

	deleted, err := s.store.DeleteConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if !deleted {
		return ErrConversationNotFound
	}
	return nil
}

func FormatChatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

// isForeignKeyViolation reports a write that referenced a row deleted by a
// concurrent transaction.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

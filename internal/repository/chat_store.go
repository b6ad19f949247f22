package repository

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/saeid-a/ClinicChatBack/internal/models"
)

// lastMessagePreviewLength bounds the denormalized summary stored on the
// conversation row.
const lastMessagePreviewLength = 200

// ChatStore groups the conversation and message repositories and runs the
// multi-row chat operations inside a single transaction.
type ChatStore struct {
	db            *pgxpool.Pool
	conversations *ConversationRepository
	messages      *MessageRepository
}

func NewChatStore(db *pgxpool.Pool) *ChatStore {
	return &ChatStore{
		db:            db,
		conversations: NewConversationRepository(db),
		messages:      NewMessageRepository(db),
	}
}

func (s *ChatStore) inTx(
	ctx context.Context,
	fn func(conversations *ConversationRepository, messages *MessageRepository) error,
) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		return fn(NewConversationRepository(tx), NewMessageRepository(tx))
	})
}

func (s *ChatStore) GetConversation(ctx context.Context, conversationID int64) (*models.Conversation, error) {
	return s.conversations.GetByID(ctx, conversationID)
}

func (s *ChatStore) FindConversation(ctx context.Context, patientID int64, doctorID int64) (*models.Conversation, error) {
	return s.conversations.GetByParticipants(ctx, patientID, doctorID)
}

func (s *ChatStore) ListConversations(ctx context.Context, userID int64, limit int) ([]models.Conversation, error) {
	return s.conversations.ListForParticipant(ctx, userID, limit)
}

// CreateOrGetConversation relies on the (patient_id, doctor_id) unique
// constraint, so concurrent callers for the same pair converge on one row.
func (s *ChatStore) CreateOrGetConversation(
	ctx context.Context,
	patientID int64,
	doctorID int64,
	details models.ParticipantDetails,
) (*models.Conversation, bool, error) {
	var (
		conversation *models.Conversation
		created      bool
	)
	err := s.inTx(ctx, func(conversations *ConversationRepository, _ *MessageRepository) error {
		id, inserted, err := conversations.Insert(ctx, patientID, doctorID, details)
		if err != nil {
			return err
		}
		if err := conversations.EnsureUnreadRows(ctx, id, patientID, doctorID); err != nil {
			return err
		}
		conversation, err = conversations.GetByID(ctx, id)
		created = inserted
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return conversation, created, nil
}

// AppendMessage stores the message, refreshes the conversation summary and
// bumps the recipient's unread counter. Either all three land or none do.
func (s *ChatStore) AppendMessage(
	ctx context.Context,
	input NewMessage,
) (*models.ChatMessage, *models.Conversation, error) {
	var (
		message      *models.ChatMessage
		conversation *models.Conversation
	)
	err := s.inTx(ctx, func(conversations *ConversationRepository, messages *MessageRepository) error {
		if err := conversations.LockForUpdate(ctx, input.ConversationID); err != nil {
			return err
		}
		var err error
		message, err = messages.Create(ctx, input)
		if err != nil {
			return err
		}
		if err := conversations.RecordMessage(ctx, input.ConversationID, previewOf(message.Content), message.CreatedAt); err != nil {
			return err
		}
		if err := conversations.IncrementUnread(ctx, input.ConversationID, input.RecipientID); err != nil {
			return err
		}
		conversation, err = conversations.GetByID(ctx, input.ConversationID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return message, conversation, nil
}

func (s *ChatStore) ListMessages(
	ctx context.Context,
	conversationID int64,
	limit int,
	offset int,
) ([]models.ChatMessage, int, error) {
	return s.messages.ListByConversation(ctx, conversationID, limit, offset)
}

func (s *ChatStore) MarkConversationRead(
	ctx context.Context,
	conversationID int64,
	readerID int64,
) (int64, *models.Conversation, error) {
	var (
		marked       int64
		conversation *models.Conversation
	)
	err := s.inTx(ctx, func(conversations *ConversationRepository, messages *MessageRepository) error {
		if err := conversations.LockForUpdate(ctx, conversationID); err != nil {
			return err
		}
		var err error
		marked, err = messages.MarkConversationRead(ctx, conversationID, readerID)
		if err != nil {
			return err
		}
		if err := conversations.ResetUnread(ctx, conversationID, readerID); err != nil {
			return err
		}
		conversation, err = conversations.GetByID(ctx, conversationID)
		return err
	})
	if err != nil {
		return 0, nil, err
	}
	return marked, conversation, nil
}

// DeleteConversation hard-deletes the conversation and all of its messages.
func (s *ChatStore) DeleteConversation(ctx context.Context, conversationID int64) (bool, error) {
	var deleted bool
	err := s.inTx(ctx, func(conversations *ConversationRepository, messages *MessageRepository) error {
		if _, err := messages.DeleteByConversation(ctx, conversationID); err != nil {
			return err
		}
		var err error
		deleted, err = conversations.Delete(ctx, conversationID)
		return err
	})
	return deleted, err
}

func previewOf(content string) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= lastMessagePreviewLength {
		return content
	}
	return string(runes[:lastMessagePreviewLength])
}

func (s *ChatStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.Ping(ctx)
}

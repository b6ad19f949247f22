package repository

import (
	"context"

	"github.com/saeid-a/ClinicChatBack/internal/models"
)

type NewMessage struct {
	ConversationID int64
	SenderID       int64
	SenderType     string
	SenderName     string
	RecipientID    int64
	Content        string
}

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `id, conversation_id, sender_id, sender_type, sender_name, content, read_by, is_read, created_at, updated_at`

func (r *MessageRepository) Create(ctx context.Context, input NewMessage) (*models.ChatMessage, error) {
	query := `
		INSERT INTO messages (conversation_id, sender_id, sender_type, sender_name, content, read_by, is_read)
		VALUES ($1, $2, $3, $4, $5, ARRAY[$2::bigint], FALSE)
		RETURNING ` + messageColumns

	var message models.ChatMessage
	err := r.db.QueryRow(
		ctx,
		query,
		input.ConversationID,
		input.SenderID,
		input.SenderType,
		input.SenderName,
		input.Content,
	).Scan(
		&message.ID,
		&message.ConversationID,
		&message.SenderID,
		&message.SenderType,
		&message.SenderName,
		&message.Content,
		&message.ReadBy,
		&message.IsRead,
		&message.CreatedAt,
		&message.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &message, nil
}

// ListByConversation returns one page newest-first together with the total
// message count of the conversation.
func (r *MessageRepository) ListByConversation(
	ctx context.Context,
	conversationID int64,
	limit int,
	offset int,
) ([]models.ChatMessage, int, error) {
	totalQuery := `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = $1
	`

	var total int
	if err := r.db.QueryRow(ctx, totalQuery, conversationID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	messages := make([]models.ChatMessage, 0)
	for rows.Next() {
		var message models.ChatMessage
		if err := rows.Scan(
			&message.ID,
			&message.ConversationID,
			&message.SenderID,
			&message.SenderType,
			&message.SenderName,
			&message.Content,
			&message.ReadBy,
			&message.IsRead,
			&message.CreatedAt,
			&message.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}

		messages = append(messages, message)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}

// MarkConversationRead adds readerID to read_by on every message the reader
// has not acknowledged yet. The sender is always in read_by, so adding the
// other participant completes the pair and the message becomes read.
func (r *MessageRepository) MarkConversationRead(
	ctx context.Context,
	conversationID int64,
	readerID int64,
) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE messages
		SET read_by = array_append(read_by, $2::bigint),
			is_read = TRUE,
			updated_at = NOW()
		WHERE conversation_id = $1
		  AND sender_id <> $2
		  AND NOT ($2::bigint = ANY(read_by))
	`, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *MessageRepository) DeleteByConversation(ctx context.Context, conversationID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

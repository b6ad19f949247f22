package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/ClinicChatBack/internal/models"
)

const conversationColumns = `
	c.id,
	c.patient_id,
	c.doctor_id,
	c.participant_details,
	c.last_message,
	c.last_message_time,
	COALESCE((
		SELECT json_agg(json_build_object('user_id', u.user_id, 'count', u.unread_count) ORDER BY u.user_id)
		FROM conversation_unread u
		WHERE u.conversation_id = c.id
	), '[]'::json),
	c.created_at,
	c.updated_at
`

type ConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Insert creates the conversation for the pair, or returns the id of the
// existing one. created is false when the row already existed.
func (r *ConversationRepository) Insert(
	ctx context.Context,
	patientID int64,
	doctorID int64,
	details models.ParticipantDetails,
) (id int64, created bool, err error) {
	query := `
		INSERT INTO conversations (patient_id, doctor_id, participant_details)
		VALUES ($1, $2, $3)
		ON CONFLICT (patient_id, doctor_id)
		DO UPDATE SET updated_at = conversations.updated_at
		RETURNING id, (xmax = 0)
	`
	err = r.db.QueryRow(ctx, query, patientID, doctorID, details).Scan(&id, &created)
	return id, created, err
}

func (r *ConversationRepository) EnsureUnreadRows(ctx context.Context, conversationID int64, userIDs ...int64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO conversation_unread (conversation_id, user_id)
		SELECT $1, unnest($2::bigint[])
		ON CONFLICT (conversation_id, user_id) DO NOTHING
	`, conversationID, userIDs)
	return err
}

func (r *ConversationRepository) GetByID(ctx context.Context, conversationID int64) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations c WHERE c.id = $1`
	return scanConversation(r.db.QueryRow(ctx, query, conversationID))
}

func (r *ConversationRepository) GetByParticipants(
	ctx context.Context,
	patientID int64,
	doctorID int64,
) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations c WHERE c.patient_id = $1 AND c.doctor_id = $2`
	return scanConversation(r.db.QueryRow(ctx, query, patientID, doctorID))
}

func (r *ConversationRepository) ListForParticipant(
	ctx context.Context,
	participantID int64,
	limit int,
) ([]models.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations c
		WHERE c.patient_id = $1 OR c.doctor_id = $1
		ORDER BY c.last_message_time DESC, c.id DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, participantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		conversation, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, *conversation)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return conversations, nil
}

// RecordMessage moves the summary forward. A message older than the stored
// preview leaves it untouched.
func (r *ConversationRepository) RecordMessage(
	ctx context.Context,
	conversationID int64,
	preview string,
	sentAt time.Time,
) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET last_message = CASE WHEN $3 >= last_message_time THEN $2 ELSE last_message END,
			last_message_time = GREATEST(last_message_time, $3),
			updated_at = NOW()
		WHERE id = $1
	`, conversationID, preview, sentAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// IncrementUnread bumps the stored counter in place so concurrent senders
// never overwrite each other's increments.
func (r *ConversationRepository) IncrementUnread(ctx context.Context, conversationID int64, userID int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE conversation_unread
		SET unread_count = unread_count + 1
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("unread counter missing for conversation %d user %d: %w", conversationID, userID, pgx.ErrNoRows)
	}
	return nil
}

func (r *ConversationRepository) ResetUnread(ctx context.Context, conversationID int64, userID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversation_unread
		SET unread_count = 0
		WHERE conversation_id = $1 AND user_id = $2 AND unread_count <> 0
	`, conversationID, userID)
	return err
}

// LockForUpdate takes the conversation row lock for the rest of the
// transaction. Sends and read receipts on one conversation serialize on it, so
// a receipt never clears a counter bumped by a message it did not mark.
func (r *ConversationRepository) LockForUpdate(ctx context.Context, conversationID int64) error {
	var id int64
	return r.db.QueryRow(ctx, `SELECT id FROM conversations WHERE id = $1 FOR UPDATE`, conversationID).Scan(&id)
}

func (r *ConversationRepository) Delete(ctx context.Context, conversationID int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, conversationID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var conversation models.Conversation
	if err := row.Scan(
		&conversation.ID,
		&conversation.PatientID,
		&conversation.DoctorID,
		&conversation.ParticipantDetails,
		&conversation.LastMessage,
		&conversation.LastMessageTime,
		&conversation.UnreadCount,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	); err != nil {
		return nil, err
	}
	conversation.Participants = []int64{conversation.PatientID, conversation.DoctorID}
	return &conversation, nil
}

package models

import (
	"slices"
	"time"
)

type PartyDetails struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type DoctorDetails struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Prefix         string `json:"prefix"`
	Specialization string `json:"specialization"`
}

// ParticipantDetails is captured once when the conversation is created and
// is not kept in sync with later profile edits.
type ParticipantDetails struct {
	User   PartyDetails  `json:"user"`
	Doctor DoctorDetails `json:"doctor"`
}

type UnreadEntry struct {
	UserID int64 `json:"user_id"`
	Count  int   `json:"count"`
}

// UnreadCounts is the per-participant unread map, kept as a list ordered by
// user id so it serializes the same way every time.
type UnreadCounts []UnreadEntry

func (u UnreadCounts) For(userID int64) int {
	for _, entry := range u {
		if entry.UserID == userID {
			return entry.Count
		}
	}
	return 0
}

func (u UnreadCounts) Sorted() UnreadCounts {
	out := slices.Clone(u)
	slices.SortFunc(out, func(a, b UnreadEntry) int {
		switch {
		case a.UserID < b.UserID:
			return -1
		case a.UserID > b.UserID:
			return 1
		default:
			return 0
		}
	})
	return out
}

type Conversation struct {
	ID                 int64              `json:"id"`
	PatientID          int64              `json:"patient_id"`
	DoctorID           int64              `json:"doctor_id"`
	Participants       []int64            `json:"participants"`
	ParticipantDetails ParticipantDetails `json:"participant_details"`
	LastMessage        string             `json:"last_message"`
	LastMessageTime    time.Time          `json:"last_message_time"`
	UnreadCount        UnreadCounts       `json:"unread_count"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

func (c *Conversation) HasParticipant(userID int64) bool {
	return c != nil && userID > 0 && (c.PatientID == userID || c.DoctorID == userID)
}

// OtherParticipant returns the counterpart of userID, or 0 when userID is not
// a participant.
func (c *Conversation) OtherParticipant(userID int64) int64 {
	switch userID {
	case c.PatientID:
		return c.DoctorID
	case c.DoctorID:
		return c.PatientID
	default:
		return 0
	}
}

func (c *Conversation) Summary() ConversationSummary {
	return ConversationSummary{
		ID:              c.ID,
		LastMessage:     c.LastMessage,
		LastMessageTime: c.LastMessageTime,
		UnreadCount:     c.UnreadCount.Sorted(),
	}
}

// ConversationSummary is what list views need to refresh a row without a
// follow-up fetch.
type ConversationSummary struct {
	ID              int64        `json:"id"`
	LastMessage     string       `json:"last_message"`
	LastMessageTime time.Time    `json:"last_message_time"`
	UnreadCount     UnreadCounts `json:"unread_count"`
}

type ChatMessage struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	SenderID       int64     `json:"sender_id"`
	SenderType     string    `json:"sender_type"`
	SenderName     string    `json:"sender_name"`
	Content        string    `json:"content"`
	ReadBy         []int64   `json:"read_by"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (m *ChatMessage) HasReadBy(userID int64) bool {
	return slices.Contains(m.ReadBy, userID)
}

type PaginationMeta struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasMore    bool `json:"has_more"`
}

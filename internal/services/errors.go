package services

import "errors"

var (
	ErrForbidden            = errors.New("forbidden")
	ErrInvalidInput         = errors.New("invalid input")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrParticipantNotFound  = errors.New("participant not found")
	ErrUnauthenticated      = errors.New("unauthenticated")
)

// Error categories shared by the REST and websocket transports.
const (
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeValidation      = "VALIDATION"
	CodePersistence     = "PERSISTENCE"
)

// ErrorCode maps a service error to its category. Anything unrecognised is a
// persistence failure.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrConversationNotFound), errors.Is(err, ErrParticipantNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidInput):
		return CodeValidation
	default:
		return CodePersistence
	}
}

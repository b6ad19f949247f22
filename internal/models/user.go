package models

import "time"

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)

type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type DoctorProfile struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	Prefix         string    `json:"prefix"`
	Specialization string    `json:"specialization"`
	IsApproved     bool      `json:"is_approved"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DoctorListing is the public directory view of a doctor.
type DoctorListing struct {
	UserID         int64  `json:"user_id"`
	Name           string `json:"name"`
	Prefix         string `json:"prefix"`
	Specialization string `json:"specialization"`
	IsApproved     bool   `json:"is_approved"`
	Online         bool   `json:"online"`
}

// IsChatRole reports whether role may take part in a conversation.
func IsChatRole(role string) bool {
	return role == RolePatient || role == RoleDoctor
}

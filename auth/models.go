package auth

import "time"

type Role string

const (
	// RoleAgent is an education agent lodging applications on behalf of students.
	RoleAgent Role = "agent"
	// RoleStaff is admissions staff reviewing applications and documents.
	RoleStaff Role = "staff"
	// RoleAdmin is an administrator with full access.
	RoleAdmin Role = "admin"
)

// IsStaff reports whether the role may perform review-side operations
// (stage transitions past submission, document verdicts, GS assessments).
func (r Role) IsStaff() bool {
	return r == RoleStaff || r == RoleAdmin
}

// User is the domain representation of an authenticated user. It mirrors the
// users table and carries no JSON annotations so it can be reused by
// different presentation layers.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Phone        *string
	AgencyName   *string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email      string  `json:"email"`
	Password   string  `json:"password"`
	FullName   string  `json:"full_name"`
	AgencyName *string `json:"agency_name,omitempty"`
	Role       Role    `json:"role"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

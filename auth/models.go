package auth

import "time"

type Role string

const (
	// RoleKKKS is a contractor-side user who initiates transactions and
	// negotiates terms.
	RoleKKKS Role = "kkks"
	// RoleRegulator is a regulator-side user who validates and approves.
	RoleRegulator Role = "skk_migas"
	RoleAdmin     Role = "admin"
)

// User mirrors the users table. No JSON annotations so it can be reused by
// different presentation layers.
type User struct {
	ID             string
	Email          string
	FullName       string
	PasswordHash   string
	Role           Role
	OrganizationID *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email          string  `json:"email"`
	Password       string  `json:"password"`
	FullName       string  `json:"full_name"`
	Role           Role    `json:"role"`
	OrganizationID *string `json:"organization_id"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

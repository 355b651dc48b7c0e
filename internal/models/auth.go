package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResponse returns the issued access token and user info.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"`
	User        UserInfo  `json:"user"`
	IssuedAt    time.Time `json:"issued_at"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	FullName   string `json:"full_name"`
	Role       Role   `json:"role"`
	Course     string `json:"course,omitempty"`
	RoomNumber string `json:"room_number,omitempty"`
}

// JWTClaims represents the JWT payload for access tokens. It is the
// authenticated principal consumed by the gate pass workflow.
type JWTClaims struct {
	UserID     string `json:"user_id"`
	Role       Role   `json:"role"`
	Email      string `json:"email"`
	FullName   string `json:"full_name"`
	Course     string `json:"course,omitempty"`
	RoomNumber string `json:"room_number,omitempty"`
	jwt.RegisteredClaims
}

package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// The access token identifies the local actor; Name is shown to call receivers.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	Name      string    `json:"name,omitempty"`
	TokenType TokenType `json:"token_type"`
}

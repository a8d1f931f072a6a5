package security

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is what the client knows about itself from its access token.
type Identity struct {
	UserID    string
	Name      string
	Email     string
	ExpiresAt time.Time
}

// IdentityFromToken extracts identity claims from an access token. The
// client holds no signing secret, so the signature is not verified here;
// the server remains the authority and rejects tampered tokens. Expiry is
// still checked so a stale credential fails fast instead of at connect time.
func IdentityFromToken(tokenStr string) (*Identity, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(tokenStr, claims); err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("access token has no subject: %w", jwt.ErrTokenMalformed)
	}

	id := &Identity{UserID: sub}
	if name, ok := claims["name"].(string); ok {
		id.Name = name
	}
	if email, ok := claims["email"].(string); ok {
		id.Email = email
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}

	if id.Expired() {
		return nil, jwt.ErrTokenExpired
	}
	return id, nil
}

// Expired reports whether the token's expiry has passed. Tokens without an
// exp claim never expire client-side.
func (i *Identity) Expired() bool {
	return !i.ExpiresAt.IsZero() && time.Now().After(i.ExpiresAt)
}

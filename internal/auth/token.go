package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/vitacall/teleconsult/internal/consult"
)

var ErrInvalidToken = errors.New("invalid token")

// Actor is the authenticated identity behind a request. Registration and
// login live in a separate identity service; this package only mints
// (for tooling) and verifies the bearer tokens it issues.
type Actor struct {
	ID   uuid.UUID
	Role consult.Role
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Sign mints a token for an actor. Used by seed and simulate tooling.
func Sign(secret string, actorID uuid.UUID, role consult.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString([]byte(secret))
}

// Verify parses and validates a bearer token and returns the actor.
func Verify(secret, raw string) (Actor, error) {
	var c claims
	token, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return Actor{}, ErrInvalidToken
	}

	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return Actor{}, ErrInvalidToken
	}

	role := consult.Role(c.Role)
	if role != consult.RoleDoctor && role != consult.RolePatient {
		return Actor{}, ErrInvalidToken
	}

	return Actor{ID: id, Role: role}, nil
}

package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitacall/teleconsult/internal/consult"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	actorID := uuid.New()

	token, err := Sign("secret", actorID, consult.RoleDoctor, time.Hour)
	require.NoError(t, err)

	actor, err := Verify("secret", token)
	require.NoError(t, err)
	assert.Equal(t, actorID, actor.ID)
	assert.Equal(t, consult.RoleDoctor, actor.Role)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := Sign("secret", uuid.New(), consult.RolePatient, time.Hour)
	require.NoError(t, err)

	_, err = Verify("other-secret", token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	token, err := Sign("secret", uuid.New(), consult.RolePatient, -time.Minute)
	require.NoError(t, err)

	_, err = Verify("secret", token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	_, err := Verify("secret", "definitely.not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestNewJWTServiceRequiresSecret(t *testing.T) {
	_, err := NewJWTService(JWTConfig{})
	require.Error(t, err)
	require.EqualError(t, err, "jwt: secret must be provided")
}

func TestGenerateAndValidateAccessToken(t *testing.T) {
	current := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }

	svc, err := NewJWTService(JWTConfig{
		Secret:         "super-secret",
		Issuer:         "identity",
		AccessTokenTTL: time.Hour,
		Clock:          now,
	})
	require.NoError(t, err)

	token, err := svc.GenerateAccessToken(AccessTokenInput{
		UserID:   "user-123",
		Email:    " jo@example.com ",
		Plan:     "standard",
		Audience: []string{"trialkit"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)

	require.Equal(t, "user-123", claims.UserID)
	require.Equal(t, "jo@example.com", claims.Email)
	require.Equal(t, "standard", claims.Plan)
	require.Equal(t, "identity", claims.Issuer)
	require.Equal(t, jwt.ClaimStrings{"trialkit"}, claims.Audience)
	require.True(t, claims.IssuedAt.Time.Equal(current))
	require.True(t, claims.ExpiresAt.Time.Equal(current.Add(time.Hour)))
}

func TestValidateAccessTokenFallsBackToSubject(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-9",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	svc, err := NewJWTService(JWTConfig{Secret: "secret", Clock: func() time.Time { return now }})
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(signed)
	require.NoError(t, err)
	require.Equal(t, "user-9", claims.UserID)
	require.Empty(t, claims.Plan)
}

func TestValidateAccessTokenRejectsWrongIssuer(t *testing.T) {
	now := func() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) }

	issuer, err := NewJWTService(JWTConfig{Secret: "secret", Issuer: "someone-else", Clock: now})
	require.NoError(t, err)
	token, err := issuer.GenerateAccessToken(AccessTokenInput{UserID: "user-1"})
	require.NoError(t, err)

	verifier, err := NewJWTService(JWTConfig{Secret: "secret", Issuer: "identity", Clock: now})
	require.NoError(t, err)
	_, err = verifier.ValidateAccessToken(token)
	require.EqualError(t, err, "jwt: invalid issuer")
}

func TestValidateAccessTokenInvalidSignature(t *testing.T) {
	now := func() time.Time { return time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC) }

	issuer, err := NewJWTService(JWTConfig{
		Secret:         "issuer-secret",
		AccessTokenTTL: time.Minute,
		Clock:          now,
	})
	require.NoError(t, err)

	token, err := issuer.GenerateAccessToken(AccessTokenInput{UserID: "user-123"})
	require.NoError(t, err)

	verifier, err := NewJWTService(JWTConfig{
		Secret:         "other-secret",
		AccessTokenTTL: time.Minute,
		Clock:          now,
	})
	require.NoError(t, err)

	_, err = verifier.ValidateAccessToken(token)
	require.Error(t, err)
	require.True(t, errors.Is(err, jwt.ErrTokenSignatureInvalid))
}

func TestValidateAccessTokenExpired(t *testing.T) {
	current := time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }

	svc, err := NewJWTService(JWTConfig{
		Secret:         "secret",
		AccessTokenTTL: time.Minute,
		Clock:          now,
	})
	require.NoError(t, err)

	token, err := svc.GenerateAccessToken(AccessTokenInput{UserID: "user-123"})
	require.NoError(t, err)

	// Move time forward beyond expiry.
	current = current.Add(2 * time.Minute)

	_, err = svc.ValidateAccessToken(token)
	require.Error(t, err)
	require.True(t, errors.Is(err, jwt.ErrTokenExpired))
}

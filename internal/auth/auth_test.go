package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/cryptop2p/internal/db"
	"github.com/xtrntr/cryptop2p/internal/models"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret"

func newService(t *testing.T) *AuthService {
	t.Helper()
	return NewAuthService(db.NewMemoryStore(), testSecret, time.Hour)
}

func TestAuthService_Register(t *testing.T) {
	s := newService(t)

	tests := []struct {
		name        string
		email       string
		password    string
		expectError error
	}{
		{"Valid", "alice@example.com", "password123", nil},
		{"Normalized", "  Bob@Example.com ", "password123", nil},
		{"Duplicate", "alice@example.com", "other", models.ErrConflict},
		{"DuplicateDifferentCase", "ALICE@example.com", "other", models.ErrConflict},
		{"EmptyEmail", "", "password123", models.ErrInvalidArgument},
		{"NotAnEmail", "alice", "password123", models.ErrInvalidArgument},
		{"DisplayName", "Alice <carol@example.com>", "password123", models.ErrInvalidArgument},
		{"EmptyPassword", "carol@example.com", "", models.ErrInvalidArgument},
		{"LongPassword", "carol@example.com", strings.Repeat("a", 73), models.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := s.Register(context.Background(), tt.email, tt.password)
			if tt.expectError != nil {
				assert.ErrorIs(t, err, tt.expectError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, strings.ToLower(strings.TrimSpace(tt.email)), user.Email)
			assert.NotZero(t, user.ID)
			assert.NotEqual(t, tt.password, user.PasswordHash)
			assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(tt.password)))
		})
	}
}

func TestAuthService_Login(t *testing.T) {
	s := newService(t)
	user, err := s.Register(context.Background(), "alice@example.com", "password123")
	require.NoError(t, err)

	tests := []struct {
		name        string
		email       string
		password    string
		expectError error
	}{
		{"Valid", "alice@example.com", "password123", nil},
		{"EmailCaseInsensitive", "Alice@Example.com", "password123", nil},
		{"WrongPassword", "alice@example.com", "wrong", models.ErrUnauthorized},
		{"UnknownUser", "nobody@example.com", "password123", models.ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := s.Login(context.Background(), tt.email, tt.password)
			if tt.expectError != nil {
				assert.ErrorIs(t, err, tt.expectError)
				assert.Empty(t, token)
				return
			}
			require.NoError(t, err)

			userID, err := s.GetUserFromToken(token)
			require.NoError(t, err)
			assert.Equal(t, user.ID, userID)
		})
	}
}

func TestAuthService_GetUserFromToken(t *testing.T) {
	s := newService(t)

	valid, err := s.IssueToken(42)
	require.NoError(t, err)

	other := NewAuthService(db.NewMemoryStore(), "other-secret", time.Hour)
	foreign, err := other.IssueToken(42)
	require.NoError(t, err)

	expiredSvc := newService(t)
	expiredSvc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := expiredSvc.IssueToken(42)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 42}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name        string
		token       string
		expectID    int64
		expectError error
	}{
		{"Valid", valid, 42, nil},
		{"WrongSecret", foreign, 0, models.ErrUnauthorized},
		{"Expired", expired, 0, models.ErrUnauthorized},
		{"AlgNone", none, 0, models.ErrUnauthorized},
		{"MissingUserID", noUser, 0, models.ErrUnauthorized},
		{"Garbage", "not-a-token", 0, models.ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID, err := s.GetUserFromToken(tt.token)
			if tt.expectError != nil {
				assert.ErrorIs(t, err, tt.expectError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectID, userID)
		})
	}
}

func TestAuthService_TokenClaims(t *testing.T) {
	s := newService(t)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	token, err := s.IssueToken(7)
	require.NoError(t, err)

	claims := &Claims{}
	_, _, err = jwt.NewParser().ParseUnverified(token, claims)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
	assert.Equal(t, "7", claims.Subject)
	assert.Equal(t, fixed.Add(time.Hour).Unix(), claims.ExpiresAt.Unix())
}

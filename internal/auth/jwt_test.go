package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatrelay/internal/testutil"
	"chatrelay/pkg/types"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice = types.UserIdentity{ID: "alice", DisplayName: "Alice"}

func newVerifier(t *testing.T, users UserLookup) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier("test-secret-with-enough-length", "chatrelay", 0, users)
	require.NoError(t, err)
	return v
}

func TestNewJWTVerifier_EmptySecret(t *testing.T) {
	_, err := NewJWTVerifier("", "x", 0, nil)
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestVerify_RoundTrip(t *testing.T) {
	v := newVerifier(t, nil)
	token, err := v.GenerateToken(alice, time.Hour)
	require.NoError(t, err)

	identity, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, alice, identity)
}

func TestVerify_Rejections(t *testing.T) {
	v := newVerifier(t, nil)

	expired, err := v.GenerateToken(alice, -time.Minute)
	require.NoError(t, err)

	other, err := NewJWTVerifier("a-different-secret-entirely", "chatrelay", 0, nil)
	require.NoError(t, err)
	forged, err := other.GenerateToken(alice, time.Hour)
	require.NoError(t, err)

	wrongIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &CustomClaims{
		UserID: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(v.secret)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &CustomClaims{
		UserID:           "alice",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "chatrelay"},
	}).SignedString(v.secret)
	require.NoError(t, err)

	noUser, err := v.GenerateToken(types.UserIdentity{}, time.Hour)
	require.NoError(t, err)

	badUser, err := v.GenerateToken(types.UserIdentity{ID: "alice smith"}, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"garbage", "not-a-jwt", ErrInvalidToken},
		{"expired", expired, ErrInvalidToken},
		{"bad signature", forged, ErrInvalidToken},
		{"wrong issuer", wrongIssuer, ErrInvalidToken},
		{"no expiry", noExpiry, ErrInvalidToken},
		{"no user id", noUser, ErrMissingUserID},
		{"malformed user id", badUser, types.ErrInvalidUserID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.token)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, types.ErrAuth)
		})
	}
}

func TestVerify_RejectsNoneAlgorithm(t *testing.T) {
	v := newVerifier(t, nil)
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, &CustomClaims{
		UserID:           "alice",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), token)
	assert.ErrorIs(t, err, types.ErrAuth)
}

func TestVerify_UserLookup(t *testing.T) {
	dir := testutil.NewDirectory()
	dir.AddUser(types.UserIdentity{ID: "alice", DisplayName: "Alice Liddell", AvatarURL: "a.png"})
	v := newVerifier(t, dir)

	token, err := v.GenerateToken(types.UserIdentity{ID: "alice", DisplayName: "spoofed"}, time.Hour)
	require.NoError(t, err)
	identity, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "Alice Liddell", identity.DisplayName)

	ghost, err := v.GenerateToken(types.UserIdentity{ID: "ghost"}, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), ghost)
	assert.ErrorIs(t, err, ErrUnknownUser)
}

type failingLookup struct{}

func (failingLookup) User(ctx context.Context, userID string) (types.UserIdentity, error) {
	return types.UserIdentity{}, errors.New("db down")
}

func TestVerify_LookupFailureIsNotAuthError(t *testing.T) {
	v := newVerifier(t, failingLookup{})
	token, err := v.GenerateToken(alice, time.Hour)
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), token)
	require.Error(t, err)
	assert.False(t, errors.Is(err, types.ErrAuth))
}

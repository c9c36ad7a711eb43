// Package auth verifies bearer credentials and turns them into identities.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatrelay/pkg/types"

	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims is the JWT payload accepted by the service.
type CustomClaims struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	jwt.RegisteredClaims
}

// UserLookup resolves the canonical identity for a verified subject.
type UserLookup interface {
	User(ctx context.Context, userID string) (types.UserIdentity, error)
}

// JWTVerifier implements interfaces.Verifier for HS256 tokens.
type JWTVerifier struct {
	secret []byte
	issuer string
	leeway time.Duration
	users  UserLookup
}

// NewJWTVerifier creates a verifier. When users is non-nil the token subject
// must exist and the stored identity wins over the claims.
func NewJWTVerifier(secret, issuer string, leeway time.Duration, users UserLookup) (*JWTVerifier, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &JWTVerifier{secret: []byte(secret), issuer: issuer, leeway: leeway, users: users}, nil
}

// Verify parses and validates the signature, expiry and issuer of credential.
func (v *JWTVerifier) Verify(ctx context.Context, credential string) (types.UserIdentity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(credential, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return types.UserIdentity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return types.UserIdentity{}, ErrInvalidToken
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return types.UserIdentity{}, ErrMissingUserID
	}
	if !types.IsValidUserID(claims.UserID) {
		return types.UserIdentity{}, fmt.Errorf("%w: %w", ErrInvalidToken, types.ErrInvalidUserID)
	}

	identity := types.UserIdentity{
		ID:          claims.UserID,
		DisplayName: claims.DisplayName,
		AvatarURL:   claims.AvatarURL,
	}
	if v.users == nil {
		return identity, nil
	}

	stored, err := v.users.User(ctx, claims.UserID)
	if errors.Is(err, types.ErrRecipientNotFound) {
		return types.UserIdentity{}, ErrUnknownUser
	}
	if err != nil {
		return types.UserIdentity{}, fmt.Errorf("lookup user %s: %w", claims.UserID, err)
	}
	return stored, nil
}

// GenerateToken creates a signed HS256 token for identity valid for ttl.
func (v *JWTVerifier) GenerateToken(identity types.UserIdentity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &CustomClaims{
		UserID:      identity.ID,
		DisplayName: identity.DisplayName,
		AvatarURL:   identity.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-user-cancellation/internal/oidc/repo"
	"github.com/ovaphlow/pitchfork/service-user-cancellation/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-user-cancellation/pkg/utilities"
)

const (
	accessTTL  = 15 * time.Minute
	refreshTTL = 30 * 24 * time.Hour
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredSession = errors.New("refresh session expired")
)

// OIDCService manages signing keys, token issuance and refresh sessions.
type OIDCService struct {
	key     *rsa.PrivateKey
	kid     string
	issuer  string
	refresh *repo.RefreshRepo
	clock   clockwork.Clock
	logger  *zap.SugaredLogger
}

func NewOIDCService(r *repo.RefreshRepo, issuer string, clock clockwork.Clock, logger *zap.SugaredLogger) (*OIDCService, error) {
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	// kid is base64 of the first bytes of SHA256 over the public key
	pubBytes, _ := json.Marshal(k.PublicKey)
	h := sha256.Sum256(pubBytes)
	kid := base64.RawURLEncoding.EncodeToString(h[:8])
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &OIDCService{key: k, kid: kid, issuer: issuer, refresh: r, clock: clock, logger: logger}, nil
}

func (s *OIDCService) Issuer() string { return s.issuer }

// JWKS returns a minimal JWKS containing the public key.
func (s *OIDCService) JWKS() map[string]any {
	pub := s.key.PublicKey
	jwk := map[string]any{
		"kty": "RSA",
		"use": "sig",
		"alg": "RS256",
		"kid": s.kid,
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(new(big.Int).SetInt64(int64(pub.E)).Bytes()),
	}
	return map[string]any{"keys": []any{jwk}}
}

func (s *OIDCService) sign(claims jwt.MapClaims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.kid
	return tok.SignedString(s.key)
}

// IssueTokens creates an id_token, an access_token and a persisted refresh token.
func (s *OIDCService) IssueTokens(ctx context.Context, u *entity.MinimalAuthView, audience string) (*Tokens, error) {
	now := s.clock.Now()
	base := jwt.MapClaims{
		"iss":       s.issuer,
		"sub":       u.ID,
		"aud":       audience,
		"exp":       now.Add(accessTTL).Unix(),
		"iat":       now.Unix(),
		"user_type": u.UserType,
	}
	access, err := s.sign(base)
	if err != nil {
		return nil, err
	}
	idClaims := jwt.MapClaims{}
	for k, v := range base {
		idClaims[k] = v
	}
	if u.Email != nil {
		idClaims["email"] = *u.Email
	}
	id, err := s.sign(idClaims)
	if err != nil {
		return nil, err
	}

	rtBytes := make([]byte, 32)
	if _, err := rand.Read(rtBytes); err != nil {
		return nil, err
	}
	refresh := base64.RawURLEncoding.EncodeToString(rtBytes)
	err = s.refresh.Save(ctx, &repo.RefreshSession{
		ID:        utilities.NewKSUID(),
		TokenHash: hashToken(refresh),
		UserID:    u.ID,
		ClientID:  audience,
		ExpiresAt: now.Add(refreshTTL).Unix(),
		CreatedAt: now.Unix(),
	})
	if err != nil {
		return nil, err
	}
	return &Tokens{IDToken: id, AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(accessTTL.Seconds())}, nil
}

// ValidateRefreshToken checks an opaque refresh token and returns the session if valid.
func (s *OIDCService) ValidateRefreshToken(ctx context.Context, token string) (*repo.RefreshSession, error) {
	rs, err := s.refresh.Get(ctx, hashToken(token))
	if err != nil {
		return nil, ErrInvalidToken
	}
	if rs.ExpiresAt <= s.clock.Now().Unix() {
		return nil, ErrExpiredSession
	}
	return rs, nil
}

// RevokeRefreshToken removes a refresh token from store.
func (s *OIDCService) RevokeRefreshToken(ctx context.Context, token string) error {
	return s.refresh.Delete(ctx, hashToken(token))
}

// TerminateSessions revokes every refresh session of the user. Outstanding
// access tokens stay valid until they expire.
func (s *OIDCService) TerminateSessions(ctx context.Context, userID string) error {
	n, err := s.refresh.DeleteByUser(ctx, userID)
	if err != nil {
		return err
	}
	s.logger.Infow("sessions terminated", "user_id", userID, "count", n)
	return nil
}

// ParseAccessToken verifies signature, issuer and expiry of a bearer token.
func (s *OIDCService) ParseAccessToken(raw string) (*Principal, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return &s.key.PublicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrInvalidToken
	}
	userType, _ := claims["user_type"].(string)
	return &Principal{Subject: sub, UserType: userType}, nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

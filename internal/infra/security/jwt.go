package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arklim/session-gate/internal/infra/config"
)

var (
	// ErrInvalidToken covers malformed tokens, bad signatures and claim mismatches.
	ErrInvalidToken = errors.New("jwt: invalid token")
	// ErrExpiredToken indicates the token's exp claim has passed.
	ErrExpiredToken = errors.New("jwt: token expired")
	// ErrMissingIdentity indicates the token carries neither an email nor a subject.
	ErrMissingIdentity = errors.New("jwt: token carries no user identity")
)

// Identity is the caller resolved from a verified bearer token.
type Identity struct {
	UserID  string
	Subject string
	Email   string
}

// IdentityClaims is the claim set issued to browser extension users.
type IdentityClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HS256 bearer tokens and resolves the caller's user id.
type TokenVerifier struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

// NewTokenVerifier builds a verifier from auth settings. Issuer and audience are
// only enforced when configured.
func NewTokenVerifier(cfg config.AuthSettings) (*TokenVerifier, error) {
	secret := strings.TrimSpace(cfg.JWTSecret)
	if secret == "" {
		return nil, fmt.Errorf("jwt: secret is required")
	}
	return &TokenVerifier{
		secret:   []byte(secret),
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
		now:      time.Now,
	}, nil
}

// WithClock overrides the verifier clock (tests).
func (v *TokenVerifier) WithClock(now func() time.Time) *TokenVerifier {
	if now != nil {
		v.now = now
	}
	return v
}

// Verify parses the token and returns the caller identity. The user id is the
// email claim when present, otherwise the subject.
func (v *TokenVerifier) Verify(raw string) (*Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	var claims IdentityClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrExpiredToken, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	identity := &Identity{
		Subject: strings.TrimSpace(claims.Subject),
		Email:   strings.ToLower(strings.TrimSpace(claims.Email)),
	}
	identity.UserID = identity.Email
	if identity.UserID == "" {
		identity.UserID = identity.Subject
	}
	if identity.UserID == "" {
		return nil, ErrMissingIdentity
	}
	return identity, nil
}

// IssueToken signs an identity token with the verifier's secret. Used by the
// dev CLI and tests.
func (v *TokenVerifier) IssueToken(subject, email string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := v.now().UTC()
	claims := IdentityClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

package receipt

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// LocalUser owns all data when no signing secret is configured
const LocalUser = "local"

var (
	// ErrUnauthorized is returned for missing or invalid bearer tokens
	ErrUnauthorized = errors.New("unauthorized")

	validUserID = regexp.MustCompile(`^[A-Za-z0-9_@.-]{1,64}$`)
)

// Authenticator resolves the user behind an HS256 bearer token. The user id
// is the token's subject.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an Authenticator. An empty secret disables
// authentication and every request acts as LocalUser.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Enabled reports whether tokens are checked
func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0
}

func (a *Authenticator) keyFunc(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
	}
	return a.secret, nil
}

// UserID validates an Authorization header value and returns its subject
func (a *Authenticator) UserID(header string) (string, error) {
	if !a.Enabled() {
		return LocalUser, nil
	}

	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return "", fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, a.keyFunc)
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !validUserID.MatchString(claims.Subject) || strings.Contains(claims.Subject, "..") {
		return "", fmt.Errorf("%w: invalid subject", ErrUnauthorized)
	}
	return claims.Subject, nil
}

// IssueToken signs a token for userID valid for ttl
func (a *Authenticator) IssueToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

type userKey struct{}

func withUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// userFromContext returns the authenticated user of a request
func userFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userKey{}).(string)
	return userID
}

package httpapi

import (
	"errors"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"pharmapos/internal/domain"
	"pharmapos/internal/service"
)

var errInvalidToken = errors.New("invalid or expired token")

// AuthManager issues bearer tokens for logged-in sessions and maps them back
// to the server-side Session that holds the operator's cart.
type AuthManager struct {
	mu       sync.RWMutex
	secret   []byte
	tokenTTL time.Duration
	sessions map[string]sessionEntry
	now      func() time.Time
}

type sessionEntry struct {
	session   *service.Session
	expiresAt time.Time
}

type sessionClaims struct {
	jwtlib.RegisteredClaims
	Role      string `json:"role"`
	SessionID string `json:"sid"`
}

func NewAuthManager(secret string, tokenTTL time.Duration) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		sessions: make(map[string]sessionEntry),
		now:      time.Now,
	}
}

// Issue registers sess and returns a signed token that resolves to it.
func (a *AuthManager) Issue(sess *service.Session) (domain.LoginResponse, error) {
	if sess == nil || sess.User == nil {
		return domain.LoginResponse{}, errors.New("session has no user")
	}
	now := a.now().UTC()
	expiresAt := now.Add(a.tokenTTL)

	token, err := a.sign(sess, now, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	a.mu.Lock()
	a.pruneLocked(now)
	a.sessions[sess.ID] = sessionEntry{session: sess, expiresAt: expiresAt}
	a.mu.Unlock()

	return domain.LoginResponse{
		AccessToken: token,
		Username:    sess.User.Username,
		Role:        sess.User.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// Resolve validates the token and returns the live session it names. A
// revoked or expired session is rejected even when the token still verifies.
func (a *AuthManager) Resolve(tokenStr string) (*service.Session, error) {
	claims := &sessionClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return nil, errInvalidToken
	}
	if claims.SessionID == "" {
		return nil, errors.New("invalid token session")
	}

	a.mu.RLock()
	entry, ok := a.sessions[claims.SessionID]
	a.mu.RUnlock()
	if !ok || !a.now().UTC().Before(entry.expiresAt) {
		return nil, errInvalidToken
	}
	return entry.session, nil
}

func (a *AuthManager) Revoke(sessionID string) {
	a.mu.Lock()
	delete(a.sessions, sessionID)
	a.mu.Unlock()
}

func (a *AuthManager) sign(sess *service.Session, issuedAt time.Time, expiresAt time.Time) (string, error) {
	claims := sessionClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   sess.User.Username,
			ID:        sess.ID,
			IssuedAt:  jwtlib.NewNumericDate(issuedAt),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "pharmapos",
		},
		Role:      sess.User.Role,
		SessionID: sess.ID,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) pruneLocked(now time.Time) {
	for id, entry := range a.sessions {
		if !now.Before(entry.expiresAt) {
			delete(a.sessions, id)
		}
	}
}

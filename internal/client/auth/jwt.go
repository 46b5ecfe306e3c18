// Package auth resolves the viewer of the session from a signed access
// token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/syntaxdrive/ulink-sub002/internal/client/models"
	"github.com/syntaxdrive/ulink-sub002/internal/common"
)

// Claims carries the standard claims plus the user id. Tokens issued by
// the backend put the user id into "sub"; UserID wins when both are set.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id,omitempty"`
}

func (c Claims) userID() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// GenerateToken signs an HS256 token for userID.
func GenerateToken(userID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		UserID: userID,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ViewerFromToken validates tokenString and returns the viewer it names.
// Expired tokens yield common.ErrUnauthorized, every other failure
// common.ErrInvalidToken.
func ViewerFromToken(tokenString string, secretKey []byte) (models.Viewer, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if errors.Is(err, jwt.ErrTokenExpired) {
		return models.Viewer{}, fmt.Errorf("%w: %v", common.ErrUnauthorized, err)
	}
	if err != nil {
		return models.Viewer{}, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	if !token.Valid || claims.userID() == "" {
		return models.Viewer{}, common.ErrInvalidToken
	}

	return models.Viewer{ID: claims.userID()}, nil
}

// Session holds the current access token. Its Viewer method has the shape
// of backend.ViewerFunc.
type Session struct {
	secret []byte

	mu    sync.RWMutex
	token string
}

func NewSession(secretKey []byte, token string) *Session {
	return &Session{secret: secretKey, token: token}
}

// SetToken replaces the access token, for example after a refresh. An
// empty token signs the session out.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Viewer validates the token on every call so an expired session turns
// anonymous without further bookkeeping.
func (s *Session) Viewer(context.Context) (models.Viewer, bool) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token == "" {
		return models.Viewer{}, false
	}
	v, err := ViewerFromToken(token, s.secret)
	if err != nil {
		return models.Viewer{}, false
	}
	return v, true
}

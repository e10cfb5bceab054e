package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/studyhub/internal/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultJwtExpiration = 7 * 24 * time.Hour

	userIdClaim = "id"
	emailClaim  = "email"
	expClaim    = "exp"

	tokenQueryKey = "token"
)

type contextKey string

const userIdKey contextKey = "user-id"

var errMissingToken = errors.New("missing bearer token")

func WithUserId(ctx context.Context, userId string) context.Context {
	return context.WithValue(ctx, userIdKey, userId)
}

func UserId(ctx context.Context) (string, bool) {
	userId, ok := ctx.Value(userIdKey).(string)

	return userId, ok && userId != ""
}

func hashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func verifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}

func (s *StudyHubApp) createJwtForSession(user types.User, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: user.Id,
		emailClaim:  user.EmailAddress,
		expClaim:    time.Now().Add(exp).Unix(),
	})

	return token.SignedString(s.signingKey)
}

func (s *StudyHubApp) verifyToken(tokenString string) (*jwt.Token, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return token, nil
}

func (s *StudyHubApp) extractUserIdFromToken(tokenString string) (string, error) {
	token, err := s.verifyToken(tokenString)
	if err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}

	userId, ok := claims[userIdClaim].(string)
	if !ok || userId == "" {
		return "", fmt.Errorf("invalid user id claim")
	}

	return userId, nil
}

// bearerToken returns the token of an "Authorization: Bearer <token>" header.
func bearerToken(h http.Header) string {
	scheme, token, ok := strings.Cut(h.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// tokenFrom prefers the Authorization header and falls back to the token
// query parameter, which browsers need for websocket upgrades.
func tokenFrom(h http.Header, query url.Values) string {
	if token := bearerToken(h); token != "" {
		return token
	}
	return query.Get(tokenQueryKey)
}

// authenticateSocket resolves the user opening a socket.io connection.
func (s *StudyHubApp) authenticateSocket(h http.Header, query url.Values) (types.User, error) {
	tokenString := tokenFrom(h, query)
	if tokenString == "" {
		return types.User{}, errMissingToken
	}

	userId, err := s.extractUserIdFromToken(tokenString)
	if err != nil {
		return types.User{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	user, err := s.db.GetUserById(ctx, userId)
	if err != nil {
		return types.User{}, fmt.Errorf("get user: %w", err)
	}

	return types.NewUser(user), nil
}

package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/studyhub/internal/database"
	"github.com/npezzotti/studyhub/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestUserId(t *testing.T) {
	tcases := []struct {
		name     string
		ctx      context.Context
		userId   string
		expected bool
	}{
		{
			name:     "no user ID",
			ctx:      context.Background(),
			expected: false,
		},
		{
			name:     "empty user ID",
			ctx:      WithUserId(context.Background(), ""),
			expected: false,
		},
		{
			name:     "user ID set",
			ctx:      WithUserId(context.Background(), "u42"),
			userId:   "u42",
			expected: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			userId, ok := UserId(tc.ctx)
			assert.Equal(t, tc.expected, ok, "expected UserId to return %v", tc.expected)
			assert.Equal(t, tc.userId, userId, "expected UserId to return %q", tc.userId)
		})
	}
}

func TestTokenFrom(t *testing.T) {
	tcases := []struct {
		name     string
		header   http.Header
		query    url.Values
		expected string
	}{
		{name: "header", header: http.Header{"Authorization": {"Bearer abc"}}, expected: "abc"},
		{name: "header wins", header: http.Header{"Authorization": {"Bearer abc"}}, query: url.Values{"token": {"xyz"}}, expected: "abc"},
		{name: "query", header: http.Header{}, query: url.Values{"token": {"xyz"}}, expected: "xyz"},
		{name: "malformed header", header: http.Header{"Authorization": {"abc"}}, expected: ""},
		{name: "nothing", header: http.Header{}, expected: ""},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tokenFrom(tc.header, tc.query))
		})
	}
}

func TestJwtRoundTrip(t *testing.T) {
	app := &StudyHubApp{signingKey: []byte("test-signing-key")}

	token, err := app.createJwtForSession(types.User{Id: "u1", EmailAddress: "a@example.com"}, time.Hour)
	assert.NoError(t, err)

	userId, err := app.extractUserIdFromToken(token)
	assert.NoError(t, err)
	assert.Equal(t, "u1", userId)

	parsed, err := app.verifyToken(token)
	assert.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "a@example.com", claims[emailClaim])
	assert.InDelta(t, float64(time.Now().Add(time.Hour).Unix()), claims[expClaim], 5)

	other := &StudyHubApp{signingKey: []byte("other-key")}
	_, err = other.extractUserIdFromToken(token)
	assert.Error(t, err, "expected token signed with another key to be rejected")

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{userIdClaim: "u1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	assert.NoError(t, err)
	_, err = app.extractUserIdFromToken(unsigned)
	assert.Error(t, err, "expected unsigned token to be rejected")

	noId, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{emailClaim: "a@example.com"}).
		SignedString(app.signingKey)
	assert.NoError(t, err)
	_, err = app.extractUserIdFromToken(noId)
	assert.Error(t, err, "expected token without id claim to be rejected")
}

func TestPasswordHashing(t *testing.T) {
	hash, err := hashPassword("secret")
	assert.NoError(t, err)
	assert.NotEqual(t, "secret", hash)
	assert.True(t, verifyPassword(hash, "secret"))
	assert.False(t, verifyPassword(hash, "wrong"))
}

func TestAuthenticateSocket(t *testing.T) {
	user := database.User{Id: "u1", Name: "Alice", EmailAddress: "a@example.com", CreatedAt: testNow}

	t.Run("valid query token", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("GetUserById", mock.Anything, "u1").Return(user, nil).Once()

		app := newTestApp(t, db)
		token, err := app.createJwtForSession(types.User{Id: "u1"}, time.Hour)
		assert.NoError(t, err)

		got, err := app.authenticateSocket(http.Header{}, url.Values{"token": {token}})
		assert.NoError(t, err)
		assert.Equal(t, types.NewUser(user), got)
	})

	t.Run("missing token", func(t *testing.T) {
		app := newTestApp(t, &database.MockRepository{})

		_, err := app.authenticateSocket(http.Header{}, url.Values{})
		assert.ErrorIs(t, err, errMissingToken)
	})

	t.Run("unknown user", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		db.On("GetUserById", mock.Anything, "u1").Return(database.User{}, database.ErrNotFound).Once()

		app := newTestApp(t, db)
		req := authorize(t, app, &http.Request{Header: http.Header{}}, "u1")

		_, err := app.authenticateSocket(req.Header, nil)
		assert.True(t, errors.Is(err, database.ErrNotFound))
	})
}

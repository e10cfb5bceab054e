package api

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/npezzotti/studyhub/internal/database"
	"github.com/npezzotti/studyhub/internal/testutil"
	"github.com/npezzotti/studyhub/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestErrorHandler_PanicRecovery(t *testing.T) {
	buf := &bytes.Buffer{}
	app := &StudyHubApp{
		log: testutil.TestLogger(t),
	}

	app.log.SetOutput(buf)

	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("test panic"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(panicHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "close", rr.Header().Get("Connection"))
	assert.Contains(t, buf.String(), "panic: test panic")
}

func Test_errorHandler_NoPanic(t *testing.T) {
	app := &StudyHubApp{}

	called := false
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(okHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.True(t, called, "expected handler to be called")
}

func Test_authMiddleware(t *testing.T) {
	app := newTestApp(t, &database.MockRepository{})

	buf := &bytes.Buffer{}
	app.log.SetOutput(buf)

	tokenHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userId, ok := UserId(r.Context())
		if !ok {
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(userId))
	})

	validToken, err := app.createJwtForSession(types.User{Id: "u1", EmailAddress: "test@example.com"}, defaultJwtExpiration)
	if err != nil {
		t.Fatalf("failed to create jwt token: %v", err)
	}
	expiredToken, err := app.createJwtForSession(types.User{Id: "u1"}, -time.Hour)
	if err != nil {
		t.Fatalf("failed to create jwt token: %v", err)
	}

	tcases := []struct {
		name       string
		header     string
		query      string
		wsOnly     bool
		statusCode int
	}{
		{name: "valid token", header: "Bearer " + validToken, statusCode: http.StatusOK},
		{name: "lowercase scheme", header: "bearer " + validToken, statusCode: http.StatusOK},
		{name: "missing token", statusCode: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + validToken, statusCode: http.StatusUnauthorized},
		{name: "invalid token", header: "Bearer invalid-token", statusCode: http.StatusUnauthorized},
		{name: "expired token", header: "Bearer " + expiredToken, statusCode: http.StatusUnauthorized},
		{name: "query token rejected for api", query: "?token=" + validToken, statusCode: http.StatusUnauthorized},
		{name: "query token accepted for websocket", query: "?token=" + validToken, wsOnly: true, statusCode: http.StatusOK},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}

			handler := app.authMiddleware(tokenHandler)
			if tc.wsOnly {
				handler = app.wsAuthMiddleware(tokenHandler)
			}
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tc.statusCode, rr.Code)
			if tc.statusCode == http.StatusOK {
				assert.Equal(t, "u1", rr.Body.String())
				assert.Equal(t, "no-store, no-cache, must-revalidate, private", rr.Header().Get("Cache-Control"))
			}
		})
	}

	assert.Contains(t, buf.String(), "failed to extract user id from token")
}

package api

import (
	"fmt"
	"net/http"
)

func (s *StudyHubApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// authMiddleware requires an "Authorization: Bearer" token.
func (s *StudyHubApp) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return s.requireToken(next, func(r *http.Request) string {
		return bearerToken(r.Header)
	})
}

// wsAuthMiddleware additionally accepts the token query parameter.
func (s *StudyHubApp) wsAuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return s.requireToken(next, func(r *http.Request) string {
		return tokenFrom(r.Header, r.URL.Query())
	})
}

func (s *StudyHubApp) requireToken(next http.HandlerFunc, token func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString := token(r)
		if tokenString == "" {
			errResp := NewUnauthorizedError("no token, authorization denied")
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		userId, err := s.extractUserIdFromToken(tokenString)
		if err != nil {
			s.log.Printf("failed to extract user id from token: %v", err)
			errResp := NewUnauthorizedError("token is not valid")
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		ctx := WithUserId(r.Context(), userId)
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(ctx))
	}
}

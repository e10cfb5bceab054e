package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/studyhub/internal/database"
	"github.com/npezzotti/studyhub/internal/server"
	"github.com/npezzotti/studyhub/internal/types"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Message string     `json:"message"`
	Token   string     `json:"token"`
	User    types.User `json:"user"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *StudyHubApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *StudyHubApp) writeError(w http.ResponseWriter, err error, subject string) {
	errResp := errorResponse(err, subject)
	if errResp.StatusCode == http.StatusInternalServerError {
		s.log.Println(err)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

// displayName returns requested when it is set and the account name of
// userId otherwise.
func (s *StudyHubApp) displayName(ctx context.Context, userId, requested string) (string, error) {
	if name := strings.TrimSpace(requested); name != "" {
		return name, nil
	}

	user, err := s.db.GetUserById(ctx, userId)
	if err != nil {
		return "", err
	}
	return user.Name, nil
}

func (s *StudyHubApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.log.Println("health check:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, HealthResponse{
		Status:    "OK",
		Timestamp: s.now(),
	})
}

func (s *StudyHubApp) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError("invalid request body")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Name == "" || req.Email == "" || req.Password == "" {
		errResp := NewBadRequestError("please provide all fields")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	newUser, err := s.db.CreateUser(r.Context(), database.CreateUserParams{
		Name:         req.Name,
		EmailAddress: req.Email,
		PasswordHash: pwdHash,
	})
	if err != nil {
		s.writeError(w, err, "user")
		return
	}

	s.writeSession(w, http.StatusCreated, "user registered successfully", types.NewUser(newUser))
}

func (s *StudyHubApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		errResp := NewBadRequestError("invalid request body")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	lr.Email = strings.ToLower(strings.TrimSpace(lr.Email))
	if lr.Email == "" || lr.Password == "" {
		errResp := NewBadRequestError("please provide email and password")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbUser, err := s.db.GetUserByEmail(r.Context(), lr.Email)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrNotFound) {
			errResp = NewUnauthorizedError("invalid credentials")
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !verifyPassword(dbUser.PasswordHash, lr.Password) {
		errResp := NewUnauthorizedError("invalid credentials")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeSession(w, http.StatusOK, "login successful", types.NewUser(dbUser))
}

func (s *StudyHubApp) writeSession(w http.ResponseWriter, statusCode int, message string, u types.User) {
	token, err := s.createJwtForSession(u, defaultJwtExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, statusCode, AuthResponse{
		Message: message,
		Token:   token,
		User:    types.User{Id: u.Id, Name: u.Name, EmailAddress: u.EmailAddress},
	})
}

func (s *StudyHubApp) me(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError("no token, authorization denied")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetUserById(r.Context(), userId)
	if err != nil {
		s.writeError(w, err, "user")
		return
	}

	s.writeJson(w, http.StatusOK, types.NewUser(user))
}

func (s *StudyHubApp) getMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.chat.ListMessages(r.Context(), r.PathValue("room"))
	if err != nil {
		s.writeError(w, err, "room")
		return
	}

	s.writeJson(w, http.StatusOK, types.NewMessages(messages))
}

func (s *StudyHubApp) progressSummary(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError("no token, authorization denied")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	summary, err := s.progress.Summarize(r.Context(), userId)
	if err != nil {
		s.writeError(w, err, "user")
		return
	}

	s.writeJson(w, http.StatusOK, types.ProgressSummary{
		MessagesSent:    summary.MessagesSent,
		ResourcesShared: summary.ResourcesShared,
		GroupsJoined:    summary.GroupsJoined,
		LastActive:      summary.LastActive,
	})
}

func (s *StudyHubApp) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError("no token, authorization denied")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetUserById(r.Context(), id)
	if err != nil {
		s.writeError(w, err, "user")
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: server.CheckOrigin(s.allowedOrigins),
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(types.NewUser(user), conn, s.cs, s.log)

	s.cs.Register(client)
	go client.Write()
	go client.Read()
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/npezzotti/studyhub/internal/database"
	"github.com/npezzotti/studyhub/internal/groups"
	"github.com/npezzotti/studyhub/internal/types"
)

type CreateGroupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	MaxMembers  int    `json:"maxMembers"`
	IsPrivate   bool   `json:"isPrivate"`
	CreatorName string `json:"creatorName"`
}

type JoinGroupRequest struct {
	UserName string `json:"userName"`
}

type JoinByCodeRequest struct {
	InviteCode string `json:"inviteCode"`
	UserName   string `json:"userName"`
}

type GroupResponse struct {
	Message string      `json:"message"`
	Group   types.Group `json:"group"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// decodeOptional decodes a JSON body that clients may leave out entirely.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *StudyHubApp) listGroups(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	list, err := s.groups.ListVisible(r.Context(), userId)
	if err != nil {
		s.writeError(w, err, "group")
		return
	}

	s.writeJson(w, http.StatusOK, types.NewGroups(list))
}

func (s *StudyHubApp) myGroups(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	list, err := s.groups.ListMine(r.Context(), userId)
	if err != nil {
		s.writeError(w, err, "group")
		return
	}

	s.writeJson(w, http.StatusOK, types.NewGroups(list))
}

func (s *StudyHubApp) getGroup(w http.ResponseWriter, r *http.Request) {
	group, err := s.groups.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err, "group")
		return
	}

	users, err := s.groupAccounts(r.Context(), group)
	if err != nil {
		s.writeError(w, err, "user")
		return
	}

	s.writeJson(w, http.StatusOK, types.NewGroupDetail(group, users))
}

// groupAccounts loads the accounts of the creator and members of g. Ids with
// no account are left out.
func (s *StudyHubApp) groupAccounts(ctx context.Context, g database.Group) (map[string]database.User, error) {
	users := make(map[string]database.User, len(g.Members)+1)
	ids := []string{g.CreatorId}
	for _, m := range g.Members {
		ids = append(ids, m.UserId)
	}

	for _, id := range ids {
		if _, ok := users[id]; ok || id == "" {
			continue
		}
		u, err := s.db.GetUserById(ctx, id)
		if errors.Is(err, database.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get user %s: %w", id, err)
		}
		users[id] = u
	}

	return users, nil
}

func (s *StudyHubApp) createGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError("invalid request body")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	userId, _ := UserId(r.Context())
	creatorName, err := s.displayName(r.Context(), userId, req.CreatorName)
	if err != nil {
		s.writeError(w, err, "user")
		return
	}

	group, err := s.groups.Create(r.Context(), groups.CreateParams{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		MaxMembers:  req.MaxMembers,
		IsPrivate:   req.IsPrivate,
		CreatorId:   userId,
		CreatorName: creatorName,
	})
	if err != nil {
		s.writeError(w, err, "group")
		return
	}

	s.writeJson(w, http.StatusCreated, GroupResponse{
		Message: "group created successfully",
		Group:   types.NewGroup(group),
	})
}

func (s *StudyHubApp) joinGroup(w http.ResponseWriter, r *http.Request) {
	var req JoinGroupRequest
	if err := decodeOptional(r, &req); err != nil {
		errResp := NewBadRequestError("invalid request body")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	userId, _ := UserId(r.Context())
	userName, err := s.displayName(r.Context(), userId, req.UserName)
	if err != nil {
		s.writeError(w, err, "user")
		return
	}

	group, err := s.groups.Join(r.Context(), r.PathValue("id"), userId, userName)
	if err != nil {
		s.writeError(w, err, "group")
		return
	}

	s.writeJson(w, http.StatusOK, GroupResponse{
		Message: "successfully joined the group",
		Group:   types.NewGroup(group),
	})
}

func (s *StudyHubApp) joinGroupByCode(w http.ResponseWriter, r *http.Request) {
	var req JoinByCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError("invalid request body")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	userId, _ := UserId(r.Context())
	userName, err := s.displayName(r.Context(), userId, req.UserName)
	if err != nil {
		s.writeError(w, err, "user")
		return
	}

	group, err := s.groups.JoinByCode(r.Context(), req.InviteCode, userId, userName)
	if errors.Is(err, groups.ErrNotFound) {
		errResp := NewNotFoundError("invalid invite code")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if err != nil {
		s.writeError(w, err, "group")
		return
	}

	s.writeJson(w, http.StatusOK, GroupResponse{
		Message: "successfully joined the group",
		Group:   types.NewGroup(group),
	})
}

func (s *StudyHubApp) leaveGroup(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	group, err := s.groups.Leave(r.Context(), r.PathValue("id"), userId)
	if err != nil {
		s.writeError(w, err, "group")
		return
	}

	s.writeJson(w, http.StatusOK, GroupResponse{
		Message: "successfully left the group",
		Group:   types.NewGroup(group),
	})
}

func (s *StudyHubApp) deleteGroup(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	if err := s.groups.Delete(r.Context(), r.PathValue("id"), userId); err != nil {
		s.writeError(w, err, "group")
		return
	}

	s.writeJson(w, http.StatusOK, MessageResponse{Message: "group deleted successfully"})
}

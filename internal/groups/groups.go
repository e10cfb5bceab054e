// Package groups implements study group lifecycle and membership.
package groups

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"slices"
	"strings"

	"github.com/npezzotti/studyhub/internal/database"
	"github.com/npezzotti/studyhub/internal/stats"
)

const (
	DefaultMaxMembers = 50
	DefaultCategory   = "other"

	inviteCodeLength   = 8
	inviteCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	inviteCodeAttempts = 5
)

var Categories = []string{
	"computer-science",
	"mathematics",
	"physics",
	"chemistry",
	"biology",
	"engineering",
	"business",
	"arts",
	"other",
}

var (
	ErrNameRequired        = errors.New("group name is required")
	ErrInvalidCategory     = errors.New("invalid group category")
	ErrInviteCodeRequired  = errors.New("invite code is required")
	ErrCreatorCannotLeave  = errors.New("group creator cannot leave, delete the group instead")
	ErrNotCreator          = errors.New("only the group creator can delete the group")
	ErrInviteCodeExhausted = errors.New("could not generate a unique invite code")

	ErrNotFound      = database.ErrNotFound
	ErrAlreadyMember = database.ErrAlreadyMember
	ErrGroupFull     = database.ErrGroupFull
)

type Service struct {
	log   *log.Logger
	db    database.Repository
	stats stats.StatsProvider
	// newCode is swapped in tests to force collisions.
	newCode func() (string, error)
}

func NewService(logger *log.Logger, db database.Repository, su stats.StatsProvider) *Service {
	su.RegisterMetric(stats.GroupsCreated)

	return &Service{
		log:     logger,
		db:      db,
		stats:   su,
		newCode: generateInviteCode,
	}
}

func generateInviteCode() (string, error) {
	var sb strings.Builder
	base := big.NewInt(int64(len(inviteCodeAlphabet)))
	for i := 0; i < inviteCodeLength; i++ {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", err
		}
		sb.WriteByte(inviteCodeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

type CreateParams struct {
	Name        string
	Description string
	Category    string
	MaxMembers  int
	IsPrivate   bool
	CreatorId   string
	CreatorName string
}

func (s *Service) Create(ctx context.Context, params CreateParams) (database.Group, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return database.Group{}, ErrNameRequired
	}

	category := params.Category
	if category == "" {
		category = DefaultCategory
	}
	if !slices.Contains(Categories, category) {
		return database.Group{}, ErrInvalidCategory
	}

	maxMembers := params.MaxMembers
	if maxMembers <= 0 {
		maxMembers = DefaultMaxMembers
	}

	for attempt := 0; attempt < inviteCodeAttempts; attempt++ {
		code, err := s.uniqueInviteCode(ctx)
		if err != nil {
			return database.Group{}, err
		}

		group, err := s.db.CreateGroup(ctx, database.CreateGroupParams{
			Name:        name,
			Description: strings.TrimSpace(params.Description),
			Category:    category,
			CreatorId:   params.CreatorId,
			CreatorName: params.CreatorName,
			MaxMembers:  maxMembers,
			IsPrivate:   params.IsPrivate,
			InviteCode:  code,
		})
		if errors.Is(err, database.ErrDuplicateInviteCode) {
			// lost a race with another group taking the same code
			s.log.Printf("invite code %q taken during insert, retrying", code)
			continue
		}
		if err != nil {
			return database.Group{}, fmt.Errorf("create group: %w", err)
		}

		s.stats.Incr(stats.GroupsCreated)
		return group, nil
	}

	return database.Group{}, ErrInviteCodeExhausted
}

func (s *Service) uniqueInviteCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < inviteCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return "", fmt.Errorf("generate invite code: %w", err)
		}

		_, err = s.db.GetGroupByInviteCode(ctx, code)
		if errors.Is(err, database.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", fmt.Errorf("check invite code: %w", err)
		}
	}

	return "", ErrInviteCodeExhausted
}

func (s *Service) Get(ctx context.Context, id string) (database.Group, error) {
	return s.db.GetGroupById(ctx, id)
}

// ListVisible returns public groups plus every group userId belongs to,
// newest first.
func (s *Service) ListVisible(ctx context.Context, userId string) ([]database.Group, error) {
	return s.db.ListGroups(ctx, database.ListGroupsParams{
		MemberId:      userId,
		IncludePublic: true,
	})
}

// ListMine returns the groups userId belongs to, newest first.
func (s *Service) ListMine(ctx context.Context, userId string) ([]database.Group, error) {
	return s.db.ListGroups(ctx, database.ListGroupsParams{MemberId: userId})
}

func (s *Service) Join(ctx context.Context, groupId, userId, userName string) (database.Group, error) {
	group, err := s.db.GetGroupById(ctx, groupId)
	if err != nil {
		return database.Group{}, err
	}

	return s.join(ctx, group, userId, userName)
}

func (s *Service) JoinByCode(ctx context.Context, code, userId, userName string) (database.Group, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return database.Group{}, ErrInviteCodeRequired
	}

	group, err := s.db.GetGroupByInviteCode(ctx, code)
	if err != nil {
		return database.Group{}, err
	}

	return s.join(ctx, group, userId, userName)
}

// join checks membership and capacity against the fetched group for a fast
// answer. The store re-checks both atomically when appending.
func (s *Service) join(ctx context.Context, group database.Group, userId, userName string) (database.Group, error) {
	if group.IsMember(userId) {
		return database.Group{}, ErrAlreadyMember
	}
	if len(group.Members) >= group.MaxMembers {
		return database.Group{}, ErrGroupFull
	}

	return s.db.AddGroupMember(ctx, group.Id, database.GroupMember{
		UserId:   userId,
		UserName: userName,
		JoinedAt: database.Now(),
	})
}

func (s *Service) Leave(ctx context.Context, groupId, userId string) (database.Group, error) {
	group, err := s.db.GetGroupById(ctx, groupId)
	if err != nil {
		return database.Group{}, err
	}

	if group.CreatorId == userId {
		return database.Group{}, ErrCreatorCannotLeave
	}

	return s.db.RemoveGroupMember(ctx, group.Id, userId)
}

func (s *Service) Delete(ctx context.Context, groupId, userId string) error {
	group, err := s.db.GetGroupById(ctx, groupId)
	if err != nil {
		return err
	}

	if group.CreatorId != userId {
		return ErrNotCreator
	}

	return s.db.DeleteGroup(ctx, group.Id)
}

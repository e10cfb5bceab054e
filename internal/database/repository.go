package database

import (
	"context"
	"errors"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicateEmail      = errors.New("email already registered")
	ErrDuplicateInviteCode = errors.New("invite code already in use")
	ErrAlreadyMember       = errors.New("already a member of this group")
	ErrGroupFull           = errors.New("group is full")
)

type Repository interface {
	Ping(ctx context.Context) error
	Close() error

	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	GetUserById(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)

	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	GetMessages(ctx context.Context, room string, limit int) ([]Message, error)

	CreateGroup(ctx context.Context, params CreateGroupParams) (Group, error)
	GetGroupById(ctx context.Context, id string) (Group, error)
	GetGroupByInviteCode(ctx context.Context, code string) (Group, error)
	ListGroups(ctx context.Context, params ListGroupsParams) ([]Group, error)
	// AddGroupMember appends member only while the user is not yet a member
	// and the group has a free seat, returning ErrAlreadyMember or
	// ErrGroupFull otherwise.
	AddGroupMember(ctx context.Context, groupId string, member GroupMember) (Group, error)
	RemoveGroupMember(ctx context.Context, groupId, userId string) (Group, error)
	DeleteGroup(ctx context.Context, id string) error

	CreateResource(ctx context.Context, params CreateResourceParams) (Resource, error)
	GetResourceById(ctx context.Context, id string) (Resource, error)
	ListResources(ctx context.Context) ([]Resource, error)
	IncrementDownloads(ctx context.Context, id string) (Resource, error)
	DeleteResource(ctx context.Context, id string) error

	GetUserActivity(ctx context.Context, userId string) (UserActivity, error)
}

package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetUserById(ctx context.Context, id string) (User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) GetMessages(ctx context.Context, room string, limit int) ([]Message, error) {
	args := m.Called(ctx, room, limit)
	if msgs, ok := args.Get(0).([]Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) CreateGroup(ctx context.Context, params CreateGroupParams) (Group, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Group), args.Error(1)
}
func (m *MockRepository) GetGroupById(ctx context.Context, id string) (Group, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Group), args.Error(1)
}
func (m *MockRepository) GetGroupByInviteCode(ctx context.Context, code string) (Group, error) {
	args := m.Called(ctx, code)
	return args.Get(0).(Group), args.Error(1)
}
func (m *MockRepository) ListGroups(ctx context.Context, params ListGroupsParams) ([]Group, error) {
	args := m.Called(ctx, params)
	if groups, ok := args.Get(0).([]Group); ok {
		return groups, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) AddGroupMember(ctx context.Context, groupId string, member GroupMember) (Group, error) {
	args := m.Called(ctx, groupId, member)
	return args.Get(0).(Group), args.Error(1)
}
func (m *MockRepository) RemoveGroupMember(ctx context.Context, groupId, userId string) (Group, error) {
	args := m.Called(ctx, groupId, userId)
	return args.Get(0).(Group), args.Error(1)
}
func (m *MockRepository) DeleteGroup(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockRepository) CreateResource(ctx context.Context, params CreateResourceParams) (Resource, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Resource), args.Error(1)
}
func (m *MockRepository) GetResourceById(ctx context.Context, id string) (Resource, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Resource), args.Error(1)
}
func (m *MockRepository) ListResources(ctx context.Context) ([]Resource, error) {
	args := m.Called(ctx)
	if resources, ok := args.Get(0).([]Resource); ok {
		return resources, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) IncrementDownloads(ctx context.Context, id string) (Resource, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Resource), args.Error(1)
}
func (m *MockRepository) DeleteResource(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockRepository) GetUserActivity(ctx context.Context, userId string) (UserActivity, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(UserActivity), args.Error(1)
}

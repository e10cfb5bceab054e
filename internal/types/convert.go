package types

import "github.com/npezzotti/studyhub/internal/database"

func NewUser(u database.User) User {
	return User{
		Id:           u.Id,
		Name:         u.Name,
		EmailAddress: u.EmailAddress,
		CreatedAt:    u.CreatedAt,
	}
}

func NewMessage(m database.Message) Message {
	return Message{
		Id:        m.Id,
		Room:      m.Room,
		UserId:    m.SenderId,
		UserName:  m.SenderName,
		Content:   m.Content,
		Timestamp: m.CreatedAt,
	}
}

func NewMessages(msgs []database.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, NewMessage(m))
	}
	return out
}

func NewGroup(g database.Group) Group {
	members := make([]GroupMember, 0, len(g.Members))
	for _, m := range g.Members {
		members = append(members, GroupMember{
			UserId:   m.UserId,
			UserName: m.UserName,
			JoinedAt: m.JoinedAt,
		})
	}

	return Group{
		Id:          g.Id,
		Name:        g.Name,
		Description: g.Description,
		Category:    g.Category,
		CreatorId:   g.CreatorId,
		CreatorName: g.CreatorName,
		Members:     members,
		MaxMembers:  g.MaxMembers,
		IsPrivate:   g.IsPrivate,
		InviteCode:  g.InviteCode,
		CreatedAt:   g.CreatedAt,
	}
}

// NewGroupDetail resolves the creator and members of g through users. An id
// missing from users keeps the name stored on the group.
func NewGroupDetail(g database.Group, users map[string]database.User) GroupDetail {
	account := func(id, name string) User {
		if u, ok := users[id]; ok {
			return NewUser(u)
		}
		return User{Id: id, Name: name}
	}

	members := make([]MemberDetail, 0, len(g.Members))
	for _, m := range g.Members {
		members = append(members, MemberDetail{
			User:     account(m.UserId, m.UserName),
			UserName: m.UserName,
			JoinedAt: m.JoinedAt,
		})
	}

	group := NewGroup(g)
	group.CreatorId = ""
	group.Members = nil

	return GroupDetail{
		Group:   group,
		Creator: account(g.CreatorId, g.CreatorName),
		Members: members,
	}
}

func NewGroups(groups []database.Group) []Group {
	out := make([]Group, 0, len(groups))
	for _, g := range groups {
		out = append(out, NewGroup(g))
	}
	return out
}

func NewResource(r database.Resource) Resource {
	return Resource{
		Id:           r.Id,
		Title:        r.Title,
		Description:  r.Description,
		Category:     r.Category,
		FileName:     r.FileName,
		FileUrl:      r.FileUrl,
		FileType:     r.FileType,
		FileSize:     r.FileSize,
		ThumbnailUrl: r.ThumbnailUrl,
		UploaderId:   r.UploaderId,
		UploaderName: r.UploaderName,
		Downloads:    r.Downloads,
		CreatedAt:    r.CreatedAt,
	}
}

func NewResources(resources []database.Resource) []Resource {
	out := make([]Resource, 0, len(resources))
	for _, r := range resources {
		out = append(out, NewResource(r))
	}
	return out
}

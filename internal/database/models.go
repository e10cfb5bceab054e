package database

import "time"

type User struct {
	Id           string
	Name         string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
}

type Message struct {
	Id         string
	Room       string
	SenderId   string
	SenderName string
	Content    string
	CreatedAt  time.Time
}

type GroupMember struct {
	UserId   string
	UserName string
	JoinedAt time.Time
}

type Group struct {
	Id          string
	Name        string
	Description string
	Category    string
	CreatorId   string
	CreatorName string
	Members     []GroupMember
	MaxMembers  int
	IsPrivate   bool
	InviteCode  string
	CreatedAt   time.Time
}

// IsMember reports whether userId appears in the group's member records.
func (g Group) IsMember(userId string) bool {
	for _, m := range g.Members {
		if m.UserId == userId {
			return true
		}
	}
	return false
}

type Resource struct {
	Id           string
	Title        string
	Description  string
	Category     string
	FileName     string
	FileUrl      string
	FileType     string
	FileSize     int64
	ThumbnailUrl string
	UploaderId   string
	UploaderName string
	Downloads    int
	CreatedAt    time.Time
}

// UserActivity is the raw material for a progress summary. The Last* fields
// are zero when the user has no activity of that kind.
type UserActivity struct {
	MessagesSent    int
	ResourcesShared int
	GroupsJoined    int
	LastMessageAt   time.Time
	LastUploadAt    time.Time
	LastJoinAt      time.Time
}

type CreateUserParams struct {
	Name         string
	EmailAddress string
	PasswordHash string
}

type CreateMessageParams struct {
	Room       string
	SenderId   string
	SenderName string
	Content    string
	CreatedAt  time.Time
}

type CreateGroupParams struct {
	Name        string
	Description string
	Category    string
	CreatorId   string
	CreatorName string
	MaxMembers  int
	IsPrivate   bool
	InviteCode  string
}

type ListGroupsParams struct {
	// MemberId restricts the result to groups the user belongs to.
	MemberId string
	// IncludePublic additionally returns every public group.
	IncludePublic bool
}

type CreateResourceParams struct {
	Title        string
	Description  string
	Category     string
	FileName     string
	FileUrl      string
	FileType     string
	FileSize     int64
	ThumbnailUrl string
	UploaderId   string
	UploaderName string
}

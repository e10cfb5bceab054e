package types

import (
	"time"
)

type User struct {
	Id           string    `json:"id"`
	Name         string    `json:"name"`
	EmailAddress string    `json:"email"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
}

type Message struct {
	Id        string    `json:"_id"`
	Room      string    `json:"room"`
	UserId    string    `json:"user"`
	UserName  string    `json:"userName"`
	Content   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type GroupMember struct {
	UserId   string    `json:"userId"`
	UserName string    `json:"userName"`
	JoinedAt time.Time `json:"joinedAt"`
}

type Group struct {
	Id          string        `json:"_id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Category    string        `json:"category"`
	CreatorId   string        `json:"creator"`
	CreatorName string        `json:"creatorName"`
	Members     []GroupMember `json:"members"`
	MaxMembers  int           `json:"maxMembers"`
	IsPrivate   bool          `json:"isPrivate"`
	InviteCode  string        `json:"inviteCode"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// GroupDetail is the single-group view. The creator and each member are
// resolved to their accounts; the outer fields replace the embedded ones
// with the same JSON names.
type GroupDetail struct {
	Group
	Creator User           `json:"creator"`
	Members []MemberDetail `json:"members"`
}

type MemberDetail struct {
	User     User      `json:"userId"`
	UserName string    `json:"userName"`
	JoinedAt time.Time `json:"joinedAt"`
}

type Resource struct {
	Id           string    `json:"_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Category     string    `json:"category"`
	FileName     string    `json:"fileName"`
	FileUrl      string    `json:"fileUrl"`
	FileType     string    `json:"fileType"`
	FileSize     int64     `json:"fileSize"`
	ThumbnailUrl string    `json:"thumbnailUrl,omitempty"`
	UploaderId   string    `json:"uploadedBy"`
	UploaderName string    `json:"uploaderName"`
	Downloads    int       `json:"downloads"`
	CreatedAt    time.Time `json:"createdAt"`
}

type ProgressSummary struct {
	MessagesSent    int       `json:"messagesSent"`
	ResourcesShared int       `json:"resourcesShared"`
	GroupsJoined    int       `json:"groupsJoined"`
	LastActive      time.Time `json:"lastActive"`
}

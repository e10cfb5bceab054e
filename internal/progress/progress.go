// Package progress summarizes a user's participation.
package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/npezzotti/studyhub/internal/database"
)

type Summary struct {
	MessagesSent    int
	ResourcesShared int
	GroupsJoined    int
	LastActive      time.Time
}

type Service struct {
	db  database.Repository
	now func() time.Time
}

func NewService(db database.Repository) *Service {
	return &Service{db: db, now: database.Now}
}

// Summarize counts the messages, uploads and group memberships of userId.
// LastActive is the most recent of those activities, or the current time
// when the user has none.
func (s *Service) Summarize(ctx context.Context, userId string) (Summary, error) {
	activity, err := s.db.GetUserActivity(ctx, userId)
	if err != nil {
		return Summary{}, fmt.Errorf("get user activity: %w", err)
	}

	summary := Summary{
		MessagesSent:    activity.MessagesSent,
		ResourcesShared: activity.ResourcesShared,
		GroupsJoined:    activity.GroupsJoined,
	}

	for _, t := range []time.Time{activity.LastMessageAt, activity.LastUploadAt, activity.LastJoinAt} {
		if t.After(summary.LastActive) {
			summary.LastActive = t
		}
	}
	if summary.LastActive.IsZero() {
		summary.LastActive = s.now()
	}

	return summary, nil
}

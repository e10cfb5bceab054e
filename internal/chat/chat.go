// Package chat records room messages and serves room history.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/npezzotti/studyhub/internal/database"
	"github.com/npezzotti/studyhub/internal/stats"
)

// HistoryLimit caps the number of messages returned for a room.
const HistoryLimit = 100

var (
	ErrRoomRequired    = errors.New("room is required")
	ErrMessageRequired = errors.New("message is required")
	ErrSenderRequired  = errors.New("sender is required")
)

type Service struct {
	log   *log.Logger
	db    database.Repository
	stats stats.StatsProvider
}

func NewService(logger *log.Logger, db database.Repository, su stats.StatsProvider) *Service {
	su.RegisterMetric(stats.MessagesSent)

	return &Service{
		log:   logger,
		db:    db,
		stats: su,
	}
}

// ListMessages returns the most recent messages of room, oldest first.
func (s *Service) ListMessages(ctx context.Context, room string) ([]database.Message, error) {
	room = strings.TrimSpace(room)
	if room == "" {
		return nil, ErrRoomRequired
	}

	msgs, err := s.db.GetMessages(ctx, room, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}

	return msgs, nil
}

type RecordParams struct {
	Room       string
	SenderId   string
	SenderName string
	Content    string
}

// RecordMessage stores a message stamped with the server clock.
func (s *Service) RecordMessage(ctx context.Context, params RecordParams) (database.Message, error) {
	if strings.TrimSpace(params.Room) == "" {
		return database.Message{}, ErrRoomRequired
	}
	if strings.TrimSpace(params.Content) == "" {
		return database.Message{}, ErrMessageRequired
	}
	if params.SenderId == "" {
		return database.Message{}, ErrSenderRequired
	}

	msg, err := s.db.CreateMessage(ctx, database.CreateMessageParams{
		Room:       params.Room,
		SenderId:   params.SenderId,
		SenderName: params.SenderName,
		Content:    params.Content,
		CreatedAt:  database.Now(),
	})
	if err != nil {
		return database.Message{}, fmt.Errorf("create message: %w", err)
	}

	s.stats.Incr(stats.MessagesSent)
	return msg, nil
}

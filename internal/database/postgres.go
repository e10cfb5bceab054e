package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	uniqueViolation = "23505"

	usersEmailKey       = "users_email_key"
	groupsInviteCodeKey = "study_groups_invite_code_key"

	selectGroupQuery = "SELECT id, name, description, category, creator_id, creator_name, " +
		"max_members, is_private, invite_code, created_at FROM study_groups "
	selectResourceQuery = "SELECT id, title, description, category, file_name, file_url, file_type, " +
		"file_size, thumbnail_url, uploader_id, uploader_name, downloads, created_at FROM resources "
)

type PgRepository struct {
	conn *sql.DB
}

func NewPgRepository(ctx context.Context, dsn string) (*PgRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	if err := migrateUp(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &PgRepository{conn: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}

func (db *PgRepository) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *PgRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// parseId validates a row id. A malformed id cannot match any row.
func parseId(id string) (string, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", ErrNotFound
	}
	return u.String(), nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation && pqErr.Constraint == constraint
	}
	return false
}

func noRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (db *PgRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	res := db.conn.QueryRowContext(ctx,
		"INSERT INTO users (id, name, email, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, name, email, created_at",
		uuid.NewString(),
		params.Name,
		params.EmailAddress,
		params.PasswordHash,
		Now(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Name,
		&u.EmailAddress,
		&u.CreatedAt,
	)
	if isUniqueViolation(err, usersEmailKey) {
		return User{}, ErrDuplicateEmail
	}

	return u, err
}

func (db *PgRepository) GetUserById(ctx context.Context, id string) (User, error) {
	id, err := parseId(id)
	if err != nil {
		return User{}, err
	}

	row := db.conn.QueryRowContext(ctx,
		"SELECT id, name, email, created_at FROM users "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err = row.Scan(
		&user.Id,
		&user.Name,
		&user.EmailAddress,
		&user.CreatedAt,
	)

	return user, noRows(err)
}

func (db *PgRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, name, email, password_hash, created_at FROM users "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Name,
		&user.EmailAddress,
		&user.PasswordHash,
		&user.CreatedAt,
	)

	return user, noRows(err)
}

func (db *PgRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	senderId, err := parseId(params.SenderId)
	if err != nil {
		return Message{}, fmt.Errorf("sender %q: %w", params.SenderId, err)
	}

	res := db.conn.QueryRowContext(ctx,
		"INSERT INTO messages (id, room, sender_id, sender_name, content, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, room, sender_id, sender_name, content, created_at",
		uuid.NewString(),
		params.Room,
		senderId,
		params.SenderName,
		params.Content,
		params.CreatedAt,
	)

	var msg Message
	err = res.Scan(
		&msg.Id,
		&msg.Room,
		&msg.SenderId,
		&msg.SenderName,
		&msg.Content,
		&msg.CreatedAt,
	)

	return msg, err
}

// GetMessages returns the newest limit messages of room, oldest first.
func (db *PgRepository) GetMessages(ctx context.Context, room string, limit int) ([]Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, room, sender_id, sender_name, content, created_at FROM ("+
			"SELECT * FROM messages WHERE room = $1 ORDER BY created_at DESC, id DESC LIMIT $2"+
			") recent ORDER BY created_at ASC, id ASC",
		room,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		if err = rows.Scan(&msg.Id, &msg.Room, &msg.SenderId, &msg.SenderName, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, err
		}

		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (db *PgRepository) CreateGroup(ctx context.Context, params CreateGroupParams) (Group, error) {
	creatorId, err := parseId(params.CreatorId)
	if err != nil {
		return Group{}, fmt.Errorf("creator %q: %w", params.CreatorId, err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Group{}, err
	}
	defer tx.Rollback()

	now := Now()
	groupId := uuid.NewString()
	_, err = tx.ExecContext(ctx,
		"INSERT INTO study_groups (id, name, description, category, creator_id, creator_name, "+
			"max_members, is_private, invite_code, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
		groupId,
		params.Name,
		params.Description,
		params.Category,
		creatorId,
		params.CreatorName,
		params.MaxMembers,
		params.IsPrivate,
		params.InviteCode,
		now,
	)
	if err != nil {
		if isUniqueViolation(err, groupsInviteCodeKey) {
			return Group{}, ErrDuplicateInviteCode
		}
		return Group{}, err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO group_members (group_id, user_id, user_name, joined_at) VALUES ($1, $2, $3, $4)",
		groupId,
		creatorId,
		params.CreatorName,
		now,
	)
	if err != nil {
		return Group{}, err
	}

	if err = tx.Commit(); err != nil {
		return Group{}, err
	}

	return Group{
		Id:          groupId,
		Name:        params.Name,
		Description: params.Description,
		Category:    params.Category,
		CreatorId:   creatorId,
		CreatorName: params.CreatorName,
		Members: []GroupMember{
			{UserId: creatorId, UserName: params.CreatorName, JoinedAt: now},
		},
		MaxMembers: params.MaxMembers,
		IsPrivate:  params.IsPrivate,
		InviteCode: params.InviteCode,
		CreatedAt:  now,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroup(row rowScanner) (Group, error) {
	var g Group
	err := row.Scan(
		&g.Id,
		&g.Name,
		&g.Description,
		&g.Category,
		&g.CreatorId,
		&g.CreatorName,
		&g.MaxMembers,
		&g.IsPrivate,
		&g.InviteCode,
		&g.CreatedAt,
	)
	return g, err
}

// loadMembers fills in the member records of every group in place.
func (db *PgRepository) loadMembers(ctx context.Context, groups []Group) error {
	if len(groups) == 0 {
		return nil
	}

	ids := make([]string, len(groups))
	byId := make(map[string]*Group, len(groups))
	for i := range groups {
		ids[i] = groups[i].Id
		groups[i].Members = make([]GroupMember, 0)
		byId[groups[i].Id] = &groups[i]
	}

	rows, err := db.conn.QueryContext(ctx,
		"SELECT group_id, user_id, user_name, joined_at FROM group_members "+
			"WHERE group_id = ANY($1::uuid[]) ORDER BY joined_at ASC",
		pq.Array(ids),
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			groupId string
			m       GroupMember
		)
		if err := rows.Scan(&groupId, &m.UserId, &m.UserName, &m.JoinedAt); err != nil {
			return err
		}

		if g, ok := byId[groupId]; ok {
			g.Members = append(g.Members, m)
		}
	}

	return rows.Err()
}

func (db *PgRepository) getGroup(ctx context.Context, where string, arg any) (Group, error) {
	g, err := scanGroup(db.conn.QueryRowContext(ctx, selectGroupQuery+where, arg))
	if err != nil {
		return Group{}, noRows(err)
	}

	groups := []Group{g}
	if err := db.loadMembers(ctx, groups); err != nil {
		return Group{}, fmt.Errorf("load members: %w", err)
	}

	return groups[0], nil
}

func (db *PgRepository) GetGroupById(ctx context.Context, id string) (Group, error) {
	id, err := parseId(id)
	if err != nil {
		return Group{}, err
	}

	return db.getGroup(ctx, "WHERE id = $1", id)
}

func (db *PgRepository) GetGroupByInviteCode(ctx context.Context, code string) (Group, error) {
	return db.getGroup(ctx, "WHERE invite_code = $1", code)
}

func (db *PgRepository) ListGroups(ctx context.Context, params ListGroupsParams) ([]Group, error) {
	memberId, err := parseId(params.MemberId)
	if err != nil && !params.IncludePublic {
		return []Group{}, nil
	}

	var memberArg any
	if memberId != "" {
		memberArg = memberId
	}

	rows, err := db.conn.QueryContext(ctx,
		selectGroupQuery+
			"WHERE ($2 AND NOT is_private) OR "+
			"id IN (SELECT group_id FROM group_members WHERE user_id = $1) "+
			"ORDER BY created_at DESC",
		memberArg,
		params.IncludePublic,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := make([]Group, 0)
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := db.loadMembers(ctx, groups); err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}

	return groups, nil
}

// AddGroupMember locks the group row so the membership and capacity checks
// and the insert are serialized against concurrent joins.
func (db *PgRepository) AddGroupMember(ctx context.Context, groupId string, member GroupMember) (Group, error) {
	groupId, err := parseId(groupId)
	if err != nil {
		return Group{}, err
	}

	userId, err := parseId(member.UserId)
	if err != nil {
		return Group{}, fmt.Errorf("member %q: %w", member.UserId, err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Group{}, err
	}
	defer tx.Rollback()

	var maxMembers int
	err = tx.QueryRowContext(ctx,
		"SELECT max_members FROM study_groups WHERE id = $1 FOR UPDATE",
		groupId,
	).Scan(&maxMembers)
	if err != nil {
		return Group{}, noRows(err)
	}

	var (
		count    int
		isMember bool
	)
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(BOOL_OR(user_id = $2), FALSE) FROM group_members WHERE group_id = $1",
		groupId,
		userId,
	).Scan(&count, &isMember)
	if err != nil {
		return Group{}, err
	}

	if isMember {
		return Group{}, ErrAlreadyMember
	}
	if count >= maxMembers {
		return Group{}, ErrGroupFull
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO group_members (group_id, user_id, user_name, joined_at) VALUES ($1, $2, $3, $4)",
		groupId,
		userId,
		member.UserName,
		member.JoinedAt,
	)
	if err != nil {
		return Group{}, err
	}

	if err := tx.Commit(); err != nil {
		return Group{}, err
	}

	return db.GetGroupById(ctx, groupId)
}

func (db *PgRepository) RemoveGroupMember(ctx context.Context, groupId, userId string) (Group, error) {
	groupId, err := parseId(groupId)
	if err != nil {
		return Group{}, err
	}

	if userId, err := parseId(userId); err == nil {
		_, err = db.conn.ExecContext(ctx,
			"DELETE FROM group_members WHERE group_id = $1 AND user_id = $2",
			groupId,
			userId,
		)
		if err != nil {
			return Group{}, err
		}
	}

	return db.GetGroupById(ctx, groupId)
}

func (db *PgRepository) deleteById(ctx context.Context, table, id string) error {
	id, err := parseId(id)
	if err != nil {
		return err
	}

	res, err := db.conn.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = $1", id)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

func (db *PgRepository) DeleteGroup(ctx context.Context, id string) error {
	return db.deleteById(ctx, "study_groups", id)
}

func scanResource(row rowScanner) (Resource, error) {
	var r Resource
	err := row.Scan(
		&r.Id,
		&r.Title,
		&r.Description,
		&r.Category,
		&r.FileName,
		&r.FileUrl,
		&r.FileType,
		&r.FileSize,
		&r.ThumbnailUrl,
		&r.UploaderId,
		&r.UploaderName,
		&r.Downloads,
		&r.CreatedAt,
	)
	return r, err
}

func (db *PgRepository) CreateResource(ctx context.Context, params CreateResourceParams) (Resource, error) {
	uploaderId, err := parseId(params.UploaderId)
	if err != nil {
		return Resource{}, fmt.Errorf("uploader %q: %w", params.UploaderId, err)
	}

	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO resources (id, title, description, category, file_name, file_url, file_type, "+
			"file_size, thumbnail_url, uploader_id, uploader_name, downloads, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, $12) "+
			"RETURNING id, title, description, category, file_name, file_url, file_type, "+
			"file_size, thumbnail_url, uploader_id, uploader_name, downloads, created_at",
		uuid.NewString(),
		params.Title,
		params.Description,
		params.Category,
		params.FileName,
		params.FileUrl,
		params.FileType,
		params.FileSize,
		params.ThumbnailUrl,
		uploaderId,
		params.UploaderName,
		Now(),
	)

	return scanResource(row)
}

func (db *PgRepository) GetResourceById(ctx context.Context, id string) (Resource, error) {
	id, err := parseId(id)
	if err != nil {
		return Resource{}, err
	}

	r, err := scanResource(db.conn.QueryRowContext(ctx, selectResourceQuery+"WHERE id = $1", id))
	return r, noRows(err)
}

func (db *PgRepository) ListResources(ctx context.Context) ([]Resource, error) {
	rows, err := db.conn.QueryContext(ctx, selectResourceQuery+"ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resources := make([]Resource, 0)
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		resources = append(resources, r)
	}

	return resources, rows.Err()
}

func (db *PgRepository) IncrementDownloads(ctx context.Context, id string) (Resource, error) {
	id, err := parseId(id)
	if err != nil {
		return Resource{}, err
	}

	row := db.conn.QueryRowContext(ctx,
		"UPDATE resources SET downloads = downloads + 1 WHERE id = $1 "+
			"RETURNING id, title, description, category, file_name, file_url, file_type, "+
			"file_size, thumbnail_url, uploader_id, uploader_name, downloads, created_at",
		id,
	)

	r, err := scanResource(row)
	return r, noRows(err)
}

func (db *PgRepository) DeleteResource(ctx context.Context, id string) error {
	return db.deleteById(ctx, "resources", id)
}

func (db *PgRepository) GetUserActivity(ctx context.Context, userId string) (UserActivity, error) {
	var activity UserActivity

	userId, err := parseId(userId)
	if err != nil {
		return activity, nil
	}

	var lastMessage, lastUpload, lastJoin sql.NullTime
	err = db.conn.QueryRowContext(ctx,
		"SELECT "+
			"(SELECT COUNT(*) FROM messages WHERE sender_id = $1), "+
			"(SELECT MAX(created_at) FROM messages WHERE sender_id = $1), "+
			"(SELECT COUNT(*) FROM resources WHERE uploader_id = $1), "+
			"(SELECT MAX(created_at) FROM resources WHERE uploader_id = $1), "+
			"(SELECT COUNT(*) FROM group_members WHERE user_id = $1), "+
			"(SELECT MAX(joined_at) FROM group_members WHERE user_id = $1)",
		userId,
	).Scan(
		&activity.MessagesSent,
		&lastMessage,
		&activity.ResourcesShared,
		&lastUpload,
		&activity.GroupsJoined,
		&lastJoin,
	)
	if err != nil {
		return UserActivity{}, err
	}

	activity.LastMessageAt = lastMessage.Time
	activity.LastUploadAt = lastUpload.Time
	activity.LastJoinAt = lastJoin.Time

	return activity, nil
}

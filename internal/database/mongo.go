package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	usersCollection     = "users"
	messagesCollection  = "messages"
	groupsCollection    = "groups"
	resourcesCollection = "resources"
)

type userDoc struct {
	Id        primitive.ObjectID `bson:"_id,omitempty"`
	Name      string             `bson:"name"`
	Email     string             `bson:"email"`
	Password  string             `bson:"password"`
	CreatedAt time.Time          `bson:"createdAt"`
}

type messageDoc struct {
	Id        primitive.ObjectID `bson:"_id,omitempty"`
	Room      string             `bson:"room"`
	User      primitive.ObjectID `bson:"user"`
	UserName  string             `bson:"userName"`
	Message   string             `bson:"message"`
	Timestamp time.Time          `bson:"timestamp"`
}

type memberDoc struct {
	UserId   primitive.ObjectID `bson:"userId"`
	UserName string             `bson:"userName"`
	JoinedAt time.Time          `bson:"joinedAt"`
}

type groupDoc struct {
	Id          primitive.ObjectID `bson:"_id,omitempty"`
	Name        string             `bson:"name"`
	Description string             `bson:"description"`
	Category    string             `bson:"category"`
	Creator     primitive.ObjectID `bson:"creator"`
	CreatorName string             `bson:"creatorName"`
	Members     []memberDoc        `bson:"members"`
	MaxMembers  int                `bson:"maxMembers"`
	IsPrivate   bool               `bson:"isPrivate"`
	InviteCode  string             `bson:"inviteCode"`
	CreatedAt   time.Time          `bson:"createdAt"`
}

type resourceDoc struct {
	Id           primitive.ObjectID `bson:"_id,omitempty"`
	Title        string             `bson:"title"`
	Description  string             `bson:"description"`
	Category     string             `bson:"category"`
	FileName     string             `bson:"fileName"`
	FileUrl      string             `bson:"fileUrl"`
	FileType     string             `bson:"fileType"`
	FileSize     int64              `bson:"fileSize"`
	ThumbnailUrl string             `bson:"thumbnailUrl,omitempty"`
	UploadedBy   primitive.ObjectID `bson:"uploadedBy"`
	UploaderName string             `bson:"uploaderName"`
	Downloads    int                `bson:"downloads"`
	CreatedAt    time.Time          `bson:"createdAt"`
}

func (d userDoc) toModel() User {
	return User{
		Id:           d.Id.Hex(),
		Name:         d.Name,
		EmailAddress: d.Email,
		PasswordHash: d.Password,
		CreatedAt:    d.CreatedAt,
	}
}

func (d messageDoc) toModel() Message {
	return Message{
		Id:         d.Id.Hex(),
		Room:       d.Room,
		SenderId:   d.User.Hex(),
		SenderName: d.UserName,
		Content:    d.Message,
		CreatedAt:  d.Timestamp,
	}
}

func (d groupDoc) toModel() Group {
	members := make([]GroupMember, 0, len(d.Members))
	for _, m := range d.Members {
		members = append(members, GroupMember{
			UserId:   m.UserId.Hex(),
			UserName: m.UserName,
			JoinedAt: m.JoinedAt,
		})
	}

	return Group{
		Id:          d.Id.Hex(),
		Name:        d.Name,
		Description: d.Description,
		Category:    d.Category,
		CreatorId:   d.Creator.Hex(),
		CreatorName: d.CreatorName,
		Members:     members,
		MaxMembers:  d.MaxMembers,
		IsPrivate:   d.IsPrivate,
		InviteCode:  d.InviteCode,
		CreatedAt:   d.CreatedAt,
	}
}

func (d resourceDoc) toModel() Resource {
	return Resource{
		Id:           d.Id.Hex(),
		Title:        d.Title,
		Description:  d.Description,
		Category:     d.Category,
		FileName:     d.FileName,
		FileUrl:      d.FileUrl,
		FileType:     d.FileType,
		FileSize:     d.FileSize,
		ThumbnailUrl: d.ThumbnailUrl,
		UploaderId:   d.UploadedBy.Hex(),
		UploaderName: d.UploaderName,
		Downloads:    d.Downloads,
		CreatedAt:    d.CreatedAt,
	}
}

// MongoRepository stores every entity as a document in the users, messages,
// groups and resources collections.
type MongoRepository struct {
	client *mongo.Client
	db     *mongo.Database
}

func NewMongoRepository(ctx context.Context, uri, dbName string) (*MongoRepository, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}

	repo := newMongoRepository(client.Database(dbName))
	repo.client = client

	if err := repo.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}

	return repo, nil
}

func newMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{db: db}
}

func (r *MongoRepository) ensureIndexes(ctx context.Context) error {
	_, err := r.db.Collection(usersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}

	_, err = r.db.Collection(messagesCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "room", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "user", Value: 1}, {Key: "timestamp", Value: -1}}},
	})
	if err != nil {
		return err
	}

	_, err = r.db.Collection(groupsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "inviteCode", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
		{Keys: bson.D{{Key: "members.userId", Value: 1}}},
	})
	if err != nil {
		return err
	}

	_, err = r.db.Collection(resourcesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "uploadedBy", Value: 1}, {Key: "createdAt", Value: -1}},
	})
	return err
}

func (r *MongoRepository) Ping(ctx context.Context) error {
	return r.db.Client().Ping(ctx, readpref.Primary())
}

func (r *MongoRepository) Close() error {
	if r.client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

// objectId converts a hex id. Ids that cannot be parsed can never match a
// stored document, so they are reported as ErrNotFound.
func objectId(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, ErrNotFound
	}
	return oid, nil
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

func (r *MongoRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	doc := userDoc{
		Id:        primitive.NewObjectID(),
		Name:      params.Name,
		Email:     params.EmailAddress,
		Password:  params.PasswordHash,
		CreatedAt: Now(),
	}

	if _, err := r.db.Collection(usersCollection).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return User{}, ErrDuplicateEmail
		}
		return User{}, err
	}

	return doc.toModel(), nil
}

func (r *MongoRepository) GetUserById(ctx context.Context, id string) (User, error) {
	oid, err := objectId(id)
	if err != nil {
		return User{}, err
	}

	var doc userDoc
	err = r.db.Collection(usersCollection).FindOne(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&doc)
	if err != nil {
		return User{}, notFound(err)
	}

	return doc.toModel(), nil
}

func (r *MongoRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var doc userDoc
	err := r.db.Collection(usersCollection).FindOne(ctx, bson.D{{Key: "email", Value: email}}).Decode(&doc)
	if err != nil {
		return User{}, notFound(err)
	}

	return doc.toModel(), nil
}

func (r *MongoRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	sender, err := objectId(params.SenderId)
	if err != nil {
		return Message{}, fmt.Errorf("sender %q: %w", params.SenderId, err)
	}

	doc := messageDoc{
		Id:        primitive.NewObjectID(),
		Room:      params.Room,
		User:      sender,
		UserName:  params.SenderName,
		Message:   params.Content,
		Timestamp: params.CreatedAt,
	}

	if _, err := r.db.Collection(messagesCollection).InsertOne(ctx, doc); err != nil {
		return Message{}, err
	}

	return doc.toModel(), nil
}

// GetMessages returns the newest limit messages of room, oldest first.
func (r *MongoRepository) GetMessages(ctx context.Context, room string, limit int) ([]Message, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	cur, err := r.db.Collection(messagesCollection).Find(ctx, bson.D{{Key: "room", Value: room}}, opts)
	if err != nil {
		return nil, err
	}

	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	messages := make([]Message, len(docs))
	for i, doc := range docs {
		messages[len(docs)-1-i] = doc.toModel()
	}

	return messages, nil
}

func (r *MongoRepository) CreateGroup(ctx context.Context, params CreateGroupParams) (Group, error) {
	creator, err := objectId(params.CreatorId)
	if err != nil {
		return Group{}, fmt.Errorf("creator %q: %w", params.CreatorId, err)
	}

	now := Now()
	doc := groupDoc{
		Id:          primitive.NewObjectID(),
		Name:        params.Name,
		Description: params.Description,
		Category:    params.Category,
		Creator:     creator,
		CreatorName: params.CreatorName,
		Members: []memberDoc{
			{UserId: creator, UserName: params.CreatorName, JoinedAt: now},
		},
		MaxMembers: params.MaxMembers,
		IsPrivate:  params.IsPrivate,
		InviteCode: params.InviteCode,
		CreatedAt:  now,
	}

	if _, err := r.db.Collection(groupsCollection).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return Group{}, ErrDuplicateInviteCode
		}
		return Group{}, err
	}

	return doc.toModel(), nil
}

func (r *MongoRepository) findGroup(ctx context.Context, filter bson.D) (Group, error) {
	var doc groupDoc
	if err := r.db.Collection(groupsCollection).FindOne(ctx, filter).Decode(&doc); err != nil {
		return Group{}, notFound(err)
	}

	return doc.toModel(), nil
}

func (r *MongoRepository) GetGroupById(ctx context.Context, id string) (Group, error) {
	oid, err := objectId(id)
	if err != nil {
		return Group{}, err
	}

	return r.findGroup(ctx, bson.D{{Key: "_id", Value: oid}})
}

func (r *MongoRepository) GetGroupByInviteCode(ctx context.Context, code string) (Group, error) {
	return r.findGroup(ctx, bson.D{{Key: "inviteCode", Value: code}})
}

func (r *MongoRepository) ListGroups(ctx context.Context, params ListGroupsParams) ([]Group, error) {
	var conditions bson.A
	if params.MemberId != "" {
		if member, err := objectId(params.MemberId); err == nil {
			conditions = append(conditions, bson.D{{Key: "members.userId", Value: member}})
		}
	}
	if params.IncludePublic {
		conditions = append(conditions, bson.D{{Key: "isPrivate", Value: false}})
	}
	if len(conditions) == 0 {
		return []Group{}, nil
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cur, err := r.db.Collection(groupsCollection).Find(ctx, bson.D{{Key: "$or", Value: conditions}}, opts)
	if err != nil {
		return nil, err
	}

	var docs []groupDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	groups := make([]Group, 0, len(docs))
	for _, doc := range docs {
		groups = append(groups, doc.toModel())
	}

	return groups, nil
}

// AddGroupMember pushes the member with a single filtered update so that two
// concurrent joins cannot both take the last seat.
func (r *MongoRepository) AddGroupMember(ctx context.Context, groupId string, member GroupMember) (Group, error) {
	gid, err := objectId(groupId)
	if err != nil {
		return Group{}, err
	}

	uid, err := objectId(member.UserId)
	if err != nil {
		return Group{}, fmt.Errorf("member %q: %w", member.UserId, err)
	}

	filter := bson.D{
		{Key: "_id", Value: gid},
		{Key: "members.userId", Value: bson.D{{Key: "$ne", Value: uid}}},
		{Key: "$expr", Value: bson.D{{Key: "$lt", Value: bson.A{
			bson.D{{Key: "$size", Value: "$members"}},
			"$maxMembers",
		}}}},
	}
	update := bson.D{{Key: "$push", Value: bson.D{{Key: "members", Value: memberDoc{
		UserId:   uid,
		UserName: member.UserName,
		JoinedAt: member.JoinedAt,
	}}}}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc groupDoc
	err = r.db.Collection(groupsCollection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == nil {
		return doc.toModel(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return Group{}, err
	}

	// the filter did not match: find out which condition failed
	group, err := r.GetGroupById(ctx, groupId)
	if err != nil {
		return Group{}, err
	}
	if group.IsMember(member.UserId) {
		return Group{}, ErrAlreadyMember
	}
	return Group{}, ErrGroupFull
}

func (r *MongoRepository) RemoveGroupMember(ctx context.Context, groupId, userId string) (Group, error) {
	gid, err := objectId(groupId)
	if err != nil {
		return Group{}, err
	}

	uid, err := objectId(userId)
	if err != nil {
		return r.GetGroupById(ctx, groupId)
	}

	update := bson.D{{Key: "$pull", Value: bson.D{{Key: "members", Value: bson.D{{Key: "userId", Value: uid}}}}}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc groupDoc
	err = r.db.Collection(groupsCollection).FindOneAndUpdate(ctx, bson.D{{Key: "_id", Value: gid}}, update, opts).Decode(&doc)
	if err != nil {
		return Group{}, notFound(err)
	}

	return doc.toModel(), nil
}

func (r *MongoRepository) DeleteGroup(ctx context.Context, id string) error {
	return r.deleteById(ctx, groupsCollection, id)
}

func (r *MongoRepository) deleteById(ctx context.Context, collection, id string) error {
	oid, err := objectId(id)
	if err != nil {
		return err
	}

	res, err := r.db.Collection(collection).DeleteOne(ctx, bson.D{{Key: "_id", Value: oid}})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *MongoRepository) CreateResource(ctx context.Context, params CreateResourceParams) (Resource, error) {
	uploader, err := objectId(params.UploaderId)
	if err != nil {
		return Resource{}, fmt.Errorf("uploader %q: %w", params.UploaderId, err)
	}

	doc := resourceDoc{
		Id:           primitive.NewObjectID(),
		Title:        params.Title,
		Description:  params.Description,
		Category:     params.Category,
		FileName:     params.FileName,
		FileUrl:      params.FileUrl,
		FileType:     params.FileType,
		FileSize:     params.FileSize,
		ThumbnailUrl: params.ThumbnailUrl,
		UploadedBy:   uploader,
		UploaderName: params.UploaderName,
		Downloads:    0,
		CreatedAt:    Now(),
	}

	if _, err := r.db.Collection(resourcesCollection).InsertOne(ctx, doc); err != nil {
		return Resource{}, err
	}

	return doc.toModel(), nil
}

func (r *MongoRepository) GetResourceById(ctx context.Context, id string) (Resource, error) {
	oid, err := objectId(id)
	if err != nil {
		return Resource{}, err
	}

	var doc resourceDoc
	err = r.db.Collection(resourcesCollection).FindOne(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&doc)
	if err != nil {
		return Resource{}, notFound(err)
	}

	return doc.toModel(), nil
}

func (r *MongoRepository) ListResources(ctx context.Context) ([]Resource, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cur, err := r.db.Collection(resourcesCollection).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, err
	}

	var docs []resourceDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	resources := make([]Resource, 0, len(docs))
	for _, doc := range docs {
		resources = append(resources, doc.toModel())
	}

	return resources, nil
}

func (r *MongoRepository) IncrementDownloads(ctx context.Context, id string) (Resource, error) {
	oid, err := objectId(id)
	if err != nil {
		return Resource{}, err
	}

	update := bson.D{{Key: "$inc", Value: bson.D{{Key: "downloads", Value: 1}}}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc resourceDoc
	err = r.db.Collection(resourcesCollection).FindOneAndUpdate(ctx, bson.D{{Key: "_id", Value: oid}}, update, opts).Decode(&doc)
	if err != nil {
		return Resource{}, notFound(err)
	}

	return doc.toModel(), nil
}

func (r *MongoRepository) DeleteResource(ctx context.Context, id string) error {
	return r.deleteById(ctx, resourcesCollection, id)
}

func (r *MongoRepository) GetUserActivity(ctx context.Context, userId string) (UserActivity, error) {
	var activity UserActivity

	uid, err := objectId(userId)
	if err != nil {
		return activity, nil
	}

	messages := r.db.Collection(messagesCollection)
	n, err := messages.CountDocuments(ctx, bson.D{{Key: "user", Value: uid}})
	if err != nil {
		return activity, fmt.Errorf("count messages: %w", err)
	}
	activity.MessagesSent = int(n)

	if n > 0 {
		var last messageDoc
		opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}})
		if err := messages.FindOne(ctx, bson.D{{Key: "user", Value: uid}}, opts).Decode(&last); err != nil {
			return activity, fmt.Errorf("last message: %w", err)
		}
		activity.LastMessageAt = last.Timestamp
	}

	resources := r.db.Collection(resourcesCollection)
	n, err = resources.CountDocuments(ctx, bson.D{{Key: "uploadedBy", Value: uid}})
	if err != nil {
		return activity, fmt.Errorf("count resources: %w", err)
	}
	activity.ResourcesShared = int(n)

	if n > 0 {
		var last resourceDoc
		opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})
		if err := resources.FindOne(ctx, bson.D{{Key: "uploadedBy", Value: uid}}, opts).Decode(&last); err != nil {
			return activity, fmt.Errorf("last resource: %w", err)
		}
		activity.LastUploadAt = last.CreatedAt
	}

	// membership is matched inside the member sub-records, not against the array itself
	opts := options.Find().SetProjection(bson.D{{Key: "members", Value: 1}})
	cur, err := r.db.Collection(groupsCollection).Find(ctx, bson.D{{Key: "members.userId", Value: uid}}, opts)
	if err != nil {
		return activity, fmt.Errorf("find groups: %w", err)
	}

	var groups []groupDoc
	if err := cur.All(ctx, &groups); err != nil {
		return activity, fmt.Errorf("decode groups: %w", err)
	}

	activity.GroupsJoined = len(groups)
	for _, g := range groups {
		for _, m := range g.Members {
			if m.UserId == uid && m.JoinedAt.After(activity.LastJoinAt) {
				activity.LastJoinAt = m.JoinedAt
			}
		}
	}

	return activity, nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/GyoHeon/chat-back/internal/identity"
)

const (
	userCollection = "User"
	chatCollection = "Chat"
)

// MongoStore persists users and chats in MongoDB. Messages are embedded in
// their chat document.
//
// With transactions enabled every membership write runs in one
// multi-document transaction, which needs a replica set. Without them the
// chat document is written first and a failed user write is reported as
// ErrInconsistent so the caller can repair.
type MongoStore struct {
	client       *mongo.Client
	users        *mongo.Collection
	chats        *mongo.Collection
	transactions bool
	timeout      time.Duration
}

// MongoOptions configures NewMongoStore.
type MongoOptions struct {
	URI          string
	Database     string
	Transactions bool
	Timeout      time.Duration
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore connects, pings and ensures indexes.
func NewMongoStore(ctx context.Context, opts MongoOptions) (*MongoStore, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(opts.Database)
	s := &MongoStore{
		client:       client,
		users:        db.Collection(userCollection),
		chats:        db.Collection(chatCollection),
		transactions: opts.Transactions,
		timeout:      opts.Timeout,
	}

	ix := mongo.IndexModel{
		Keys:    bson.D{{Key: "users", Value: 1}},
		Options: options.Index().SetName("chat_users_idx"),
	}
	if _, err := s.chats.Indexes().CreateOne(connectCtx, ix); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create chat index: %w", err)
	}
	return s, nil
}

func (s *MongoStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// membership runs fn in a transaction when enabled.
func (s *MongoStore) membership(ctx context.Context, fn func(ctx context.Context) error) error {
	if !s.transactions {
		return fn(ctx)
	}
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// userStep wraps a failed user-side write that followed a successful chat write.
func (s *MongoStore) userStep(err error) error {
	if err == nil {
		return nil
	}
	if s.transactions {
		return err
	}
	return fmt.Errorf("%w: %v", ErrInconsistent, err)
}

func tenantFilter(tenant string) bson.M {
	return bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(identity.TenantPrefix(tenant))}}
}

var withoutMessages = bson.M{"messages": 0}

func decodeAll[T any](ctx context.Context, cur *mongo.Cursor) ([]T, error) {
	defer cur.Close(ctx)
	out := make([]T, 0)
	for cur.Next(ctx) {
		var v T
		if err := cur.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, cur.Err()
}

// CreateUser inserts u, or returns ErrDuplicate.
func (s *MongoStore) CreateUser(ctx context.Context, u User) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	if u.Chats == nil {
		u.Chats = []string{}
	}
	if _, err := s.users.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// FindUser loads one user.
func (s *MongoStore) FindUser(ctx context.Context, id string) (User, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var u User
	if err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	return u, nil
}

// FindUsers returns the users among ids that exist.
func (s *MongoStore) FindUsers(ctx context.Context, ids []string) ([]User, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	cur, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	return decodeAll[User](ctx, cur)
}

// ListUsers returns the tenant's users.
func (s *MongoStore) ListUsers(ctx context.Context, tenant string) ([]User, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	cur, err := s.users.Find(ctx, tenantFilter(tenant), options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	return decodeAll[User](ctx, cur)
}

// UpdateProfile sets the non-nil fields.
func (s *MongoStore) UpdateProfile(ctx context.Context, id string, name, picture *string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	set := bson.M{"updatedAt": time.Now().UTC()}
	if name != nil {
		set["name"] = *name
	}
	if picture != nil {
		set["picture"] = *picture
	}
	res, err := s.users.UpdateByID(ctx, id, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

// AddUserChat pushes chatID onto the user's chats with $addToSet.
func (s *MongoStore) AddUserChat(ctx context.Context, id, chatID string) error {
	return s.updateUserChats(ctx, id, bson.M{"$addToSet": bson.M{"chats": chatID}})
}

// RemoveUserChat pulls chatID from the user's chats.
func (s *MongoStore) RemoveUserChat(ctx context.Context, id, chatID string) error {
	return s.updateUserChats(ctx, id, bson.M{"$pull": bson.M{"chats": chatID}})
}

func (s *MongoStore) updateUserChats(ctx context.Context, id string, update bson.M) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	update["$set"] = bson.M{"updatedAt": time.Now().UTC()}
	res, err := s.users.UpdateByID(ctx, id, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

// FindChat loads one chat with its messages.
func (s *MongoStore) FindChat(ctx context.Context, id string) (Chat, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var c Chat
	if err := s.chats.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Chat{}, ErrChatNotFound
		}
		return Chat{}, err
	}
	return c, nil
}

func (s *MongoStore) findChats(ctx context.Context, filter bson.M, projection bson.M) ([]Chat, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	opts := options.Find().
		SetProjection(projection).
		SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	cur, err := s.chats.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return decodeAll[Chat](ctx, cur)
}

// ListChats returns the tenant's chats without messages.
func (s *MongoStore) ListChats(ctx context.Context, tenant string) ([]Chat, error) {
	return s.findChats(ctx, tenantFilter(tenant), withoutMessages)
}

// ListPublicChats returns the tenant's public chats without messages.
func (s *MongoStore) ListPublicChats(ctx context.Context, tenant string) ([]Chat, error) {
	filter := tenantFilter(tenant)
	filter["isPrivate"] = false
	return s.findChats(ctx, filter, withoutMessages)
}

// ListUserChats returns the chats listing userID, projecting only the
// latest message.
func (s *MongoStore) ListUserChats(ctx context.Context, userID string) ([]Chat, error) {
	return s.findChats(ctx, bson.M{"users": userID}, bson.M{"messages": bson.M{"$slice": -1}})
}

func (s *MongoStore) usersExist(ctx context.Context, ids []string) error {
	n, err := s.users.CountDocuments(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return err
	}
	if int(n) != len(ids) {
		return ErrUserNotFound
	}
	return nil
}

// CreateChat inserts c and lists it on every member, in one transaction
// when transactions are enabled.
func (s *MongoStore) CreateChat(ctx context.Context, c Chat) (Chat, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	now := time.Now().UTC()
	c.Users = appendUnique(nil, c.Users...)
	c.Version = 1
	c.CreatedAt, c.UpdatedAt = now, now
	if c.Messages == nil {
		c.Messages = []Message{}
	}

	err := s.membership(ctx, func(ctx context.Context) error {
		if err := s.usersExist(ctx, c.Users); err != nil {
			return err
		}
		if _, err := s.chats.InsertOne(ctx, c); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return ErrDuplicate
			}
			return err
		}
		_, err := s.users.UpdateMany(ctx,
			bson.M{"_id": bson.M{"$in": c.Users}},
			bson.M{"$addToSet": bson.M{"chats": c.ID}, "$set": bson.M{"updatedAt": now}})
		return s.userStep(err)
	})
	if err != nil {
		return Chat{}, err
	}
	c.Messages = nil
	return c, nil
}

// versionMiss tells a missing chat apart from a stale version after a
// guarded update matched nothing.
func (s *MongoStore) versionMiss(ctx context.Context, chatID string) error {
	n, err := s.chats.CountDocuments(ctx, bson.M{"_id": chatID})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrChatNotFound
	}
	return ErrVersionConflict
}

// AddMembers adds userIDs if the chat is still at version.
func (s *MongoStore) AddMembers(ctx context.Context, chatID string, version int64, userIDs []string) (Chat, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	userIDs = appendUnique(nil, userIDs...)
	now := time.Now().UTC()
	var out Chat

	err := s.membership(ctx, func(ctx context.Context) error {
		if err := s.usersExist(ctx, userIDs); err != nil {
			return err
		}
		opts := options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(withoutMessages)
		err := s.chats.FindOneAndUpdate(ctx,
			bson.M{"_id": chatID, "version": version},
			bson.M{
				"$addToSet": bson.M{"users": bson.M{"$each": userIDs}},
				"$inc":      bson.M{"version": 1},
				"$set":      bson.M{"updatedAt": now},
			}, opts).Decode(&out)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return s.versionMiss(ctx, chatID)
		}
		if err != nil {
			return err
		}
		_, err = s.users.UpdateMany(ctx,
			bson.M{"_id": bson.M{"$in": userIDs}},
			bson.M{"$addToSet": bson.M{"chats": chatID}, "$set": bson.M{"updatedAt": now}})
		return s.userStep(err)
	})
	if err != nil {
		return Chat{}, err
	}
	return out, nil
}

// RemoveMember drops userID if the chat is still at version, deleting
// the chat once it is empty.
func (s *MongoStore) RemoveMember(ctx context.Context, chatID string, version int64, userID string) (Chat, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	now := time.Now().UTC()
	var (
		out     Chat
		deleted bool
	)

	err := s.membership(ctx, func(ctx context.Context) error {
		opts := options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(withoutMessages)
		err := s.chats.FindOneAndUpdate(ctx,
			bson.M{"_id": chatID, "version": version},
			bson.M{
				"$pull": bson.M{"users": userID},
				"$inc":  bson.M{"version": 1},
				"$set":  bson.M{"updatedAt": now},
			}, opts).Decode(&out)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return s.versionMiss(ctx, chatID)
		}
		if err != nil {
			return err
		}

		if len(out.Users) == 0 {
			res, err := s.chats.DeleteOne(ctx, bson.M{"_id": chatID, "users": bson.M{"$size": 0}})
			if err != nil {
				return s.userStep(err)
			}
			deleted = res.DeletedCount == 1
		}

		_, err = s.users.UpdateByID(ctx, userID,
			bson.M{"$pull": bson.M{"chats": chatID}, "$set": bson.M{"updatedAt": now}})
		return s.userStep(err)
	})
	if err != nil {
		return Chat{}, false, err
	}
	return out, deleted, nil
}

// AppendMessage pushes m onto the chat's history. The update matches only
// while the author is listed, so a member who just left cannot post.
func (s *MongoStore) AppendMessage(ctx context.Context, chatID string, m Message) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.chats.UpdateOne(ctx, bson.M{"_id": chatID, "users": m.UserID}, bson.M{
		"$push": bson.M{"messages": m},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := s.chats.CountDocuments(ctx, bson.M{"_id": chatID})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrChatNotFound
	}
	return ErrNotMember
}

// Messages returns the chat's history.
func (s *MongoStore) Messages(ctx context.Context, chatID string) ([]Message, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var c Chat
	opts := options.FindOne().SetProjection(bson.M{"messages": 1})
	if err := s.chats.FindOne(ctx, bson.M{"_id": chatID}, opts).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	if c.Messages == nil {
		return []Message{}, nil
	}
	return c.Messages, nil
}

// DeleteTenant removes the tenant's chats and optionally its users.
func (s *MongoStore) DeleteTenant(ctx context.Context, tenant string, includeUsers bool) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	return s.membership(ctx, func(ctx context.Context) error {
		if _, err := s.chats.DeleteMany(ctx, tenantFilter(tenant)); err != nil {
			return err
		}
		var err error
		if includeUsers {
			_, err = s.users.DeleteMany(ctx, tenantFilter(tenant))
		} else {
			_, err = s.users.UpdateMany(ctx, tenantFilter(tenant),
				bson.M{"$set": bson.M{"chats": []string{}, "updatedAt": time.Now().UTC()}})
		}
		return s.userStep(err)
	})
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

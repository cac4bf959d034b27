// Package store holds the durable user and chat records and keeps chat
// membership consistent between the two sides of the relation.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrChatNotFound = errors.New("chat not found")
	// ErrVersionConflict means the chat changed since it was read.
	ErrVersionConflict = errors.New("chat version conflict")
	// ErrInconsistent means a chat write landed but a user write did not.
	// Only returned when writes are not wrapped in a transaction.
	ErrInconsistent = errors.New("membership partially written")
	ErrDuplicate    = errors.New("record already exists")
	ErrNotMember    = errors.New("user is not a chat member")
)

// User is a member of a tenant. ID and Chats are qualified.
type User struct {
	ID        string    `bson:"_id" json:"id"`
	Name      string    `bson:"name" json:"name"`
	Picture   string    `bson:"picture,omitempty" json:"picture,omitempty"`
	Chats     []string  `bson:"chats" json:"chats"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// Chat is a group conversation. ID and Users are qualified; Users keeps
// insertion order. Version increments on every membership change.
type Chat struct {
	ID        string    `bson:"_id" json:"id"`
	Name      string    `bson:"name" json:"name"`
	IsPrivate bool      `bson:"isPrivate" json:"isPrivate"`
	Users     []string  `bson:"users" json:"users"`
	Messages  []Message `bson:"messages" json:"messages,omitempty"`
	Version   int64     `bson:"version" json:"version"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// HasUser reports whether userID is a member.
func (c *Chat) HasUser(userID string) bool {
	for _, u := range c.Users {
		if u == userID {
			return true
		}
	}
	return false
}

// LatestMessage returns the last appended message, if any.
func (c *Chat) LatestMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// Message is append-only. UserID is the qualified author id.
type Message struct {
	ID        string    `bson:"id" json:"id"`
	Text      string    `bson:"text" json:"text"`
	UserID    string    `bson:"userId" json:"userId"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// Store is the durable record store. Membership writes update the chat and
// every affected user as one unit.
type Store interface {
	CreateUser(ctx context.Context, u User) error
	FindUser(ctx context.Context, id string) (User, error)
	// FindUsers returns the subset of ids that exist.
	FindUsers(ctx context.Context, ids []string) ([]User, error)
	ListUsers(ctx context.Context, tenant string) ([]User, error)
	// UpdateProfile changes the non-nil fields.
	UpdateProfile(ctx context.Context, id string, name, picture *string) error
	// AddUserChat adds chatID to the user's chats unless already listed.
	AddUserChat(ctx context.Context, id, chatID string) error
	// RemoveUserChat drops chatID from the user's chats.
	RemoveUserChat(ctx context.Context, id, chatID string) error

	FindChat(ctx context.Context, id string) (Chat, error)
	// ListChats returns the tenant's chats without messages.
	ListChats(ctx context.Context, tenant string) ([]Chat, error)
	ListPublicChats(ctx context.Context, tenant string) ([]Chat, error)
	// ListUserChats returns the chats listing userID, each carrying only its latest message.
	ListUserChats(ctx context.Context, userID string) ([]Chat, error)

	// CreateChat inserts c and adds it to every member's chats. An unknown
	// member fails the whole operation with ErrUserNotFound.
	CreateChat(ctx context.Context, c Chat) (Chat, error)
	// AddMembers appends userIDs to the chat if its version is still version.
	AddMembers(ctx context.Context, chatID string, version int64, userIDs []string) (Chat, error)
	// RemoveMember drops userID from the chat if its version is still version.
	// The chat is deleted when no members remain.
	RemoveMember(ctx context.Context, chatID string, version int64, userID string) (chat Chat, deleted bool, err error)

	// AppendMessage adds m to the chat's history only while m.UserID is a
	// member. A non-member author gets ErrNotMember.
	AppendMessage(ctx context.Context, chatID string, m Message) error
	Messages(ctx context.Context, chatID string) ([]Message, error)

	// DeleteTenant removes the tenant's chats and, with includeUsers, its
	// users; otherwise every tenant user's chats is cleared.
	DeleteTenant(ctx context.Context, tenant string, includeUsers bool) error

	Close(ctx context.Context) error
}

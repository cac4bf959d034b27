package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GyoHeon/chat-back/internal/identity"
)

// MemoryStore keeps records in process memory. Every operation holds one
// lock, so membership writes are atomic.
type MemoryStore struct {
	mu    sync.Mutex
	users map[string]*User
	chats map[string]*Chat
	now   func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]*User),
		chats: make(map[string]*Chat),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

var _ Store = (*MemoryStore)(nil)

func copyUser(u *User) User {
	out := *u
	out.Chats = append([]string{}, u.Chats...)
	return out
}

func copyChat(c *Chat, withMessages bool) Chat {
	out := *c
	out.Users = append([]string{}, c.Users...)
	out.Messages = nil
	if withMessages {
		out.Messages = append([]Message{}, c.Messages...)
	}
	return out
}

func appendUnique(list []string, ids ...string) []string {
	for _, id := range ids {
		found := false
		for _, existing := range list {
			if existing == id {
				found = true
				break
			}
		}
		if !found {
			list = append(list, id)
		}
	}
	return list
}

func without(list []string, id string) []string {
	out := list[:0]
	for _, existing := range list {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

func inTenant(id, tenant string) bool {
	return strings.HasPrefix(id, identity.TenantPrefix(tenant))
}

// CreateUser inserts u, or returns ErrDuplicate.
func (s *MemoryStore) CreateUser(_ context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[u.ID]; exists {
		return ErrDuplicate
	}
	now := s.now()
	u.Chats = append([]string{}, u.Chats...)
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = &u
	return nil
}

// FindUser returns a copy of the user.
func (s *MemoryStore) FindUser(_ context.Context, id string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return copyUser(u), nil
}

// FindUsers returns the users among ids that exist.
func (s *MemoryStore) FindUsers(_ context.Context, ids []string) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]User, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, copyUser(u))
		}
	}
	return out, nil
}

// ListUsers returns the tenant's users.
func (s *MemoryStore) ListUsers(_ context.Context, tenant string) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]User, 0)
	for id, u := range s.users {
		if inTenant(id, tenant) {
			out = append(out, copyUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateProfile sets the non-nil fields.
func (s *MemoryStore) UpdateProfile(_ context.Context, id string, name, picture *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	if name != nil {
		u.Name = *name
	}
	if picture != nil {
		u.Picture = *picture
	}
	u.UpdatedAt = s.now()
	return nil
}

// AddUserChat adds chatID to the user's chats unless already listed.
func (s *MemoryStore) AddUserChat(_ context.Context, id, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.Chats = appendUnique(u.Chats, chatID)
	u.UpdatedAt = s.now()
	return nil
}

// RemoveUserChat drops chatID from the user's chats.
func (s *MemoryStore) RemoveUserChat(_ context.Context, id, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.Chats = without(u.Chats, chatID)
	u.UpdatedAt = s.now()
	return nil
}

// FindChat returns a copy of the chat with its messages.
func (s *MemoryStore) FindChat(_ context.Context, id string) (Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[id]
	if !ok {
		return Chat{}, ErrChatNotFound
	}
	return copyChat(c, true), nil
}

func (s *MemoryStore) listChats(match func(*Chat) bool, latestOnly bool) []Chat {
	out := make([]Chat, 0)
	for _, c := range s.chats {
		if !match(c) {
			continue
		}
		cc := copyChat(c, false)
		if latestOnly {
			if m, ok := c.LatestMessage(); ok {
				cc.Messages = []Message{m}
			}
		}
		out = append(out, cc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// ListChats returns the tenant's chats without messages.
func (s *MemoryStore) ListChats(_ context.Context, tenant string) ([]Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listChats(func(c *Chat) bool { return inTenant(c.ID, tenant) }, false), nil
}

// ListPublicChats returns the tenant's public chats without messages.
func (s *MemoryStore) ListPublicChats(_ context.Context, tenant string) ([]Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listChats(func(c *Chat) bool { return inTenant(c.ID, tenant) && !c.IsPrivate }, false), nil
}

// ListUserChats returns the chats listing userID with their latest message.
func (s *MemoryStore) ListUserChats(_ context.Context, userID string) ([]Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listChats(func(c *Chat) bool { return c.HasUser(userID) }, true), nil
}

// CreateChat inserts c and lists it on every member.
func (s *MemoryStore) CreateChat(_ context.Context, c Chat) (Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.chats[c.ID]; exists {
		return Chat{}, ErrDuplicate
	}
	for _, id := range c.Users {
		if _, ok := s.users[id]; !ok {
			return Chat{}, ErrUserNotFound
		}
	}

	now := s.now()
	stored := copyChat(&c, true)
	stored.Users = appendUnique(nil, c.Users...)
	stored.Version = 1
	stored.CreatedAt, stored.UpdatedAt = now, now
	s.chats[c.ID] = &stored

	for _, id := range stored.Users {
		u := s.users[id]
		u.Chats = appendUnique(u.Chats, c.ID)
		u.UpdatedAt = now
	}
	return copyChat(&stored, false), nil
}

// AddMembers adds userIDs if the chat is still at version.
func (s *MemoryStore) AddMembers(_ context.Context, chatID string, version int64, userIDs []string) (Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chatID]
	if !ok {
		return Chat{}, ErrChatNotFound
	}
	if c.Version != version {
		return Chat{}, ErrVersionConflict
	}
	for _, id := range userIDs {
		if _, ok := s.users[id]; !ok {
			return Chat{}, ErrUserNotFound
		}
	}

	now := s.now()
	c.Users = appendUnique(c.Users, userIDs...)
	c.Version++
	c.UpdatedAt = now
	for _, id := range userIDs {
		u := s.users[id]
		u.Chats = appendUnique(u.Chats, chatID)
		u.UpdatedAt = now
	}
	return copyChat(c, false), nil
}

// RemoveMember drops userID if the chat is still at version, deleting
// the chat once it is empty.
func (s *MemoryStore) RemoveMember(_ context.Context, chatID string, version int64, userID string) (Chat, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chatID]
	if !ok {
		return Chat{}, false, ErrChatNotFound
	}
	if c.Version != version {
		return Chat{}, false, ErrVersionConflict
	}

	now := s.now()
	c.Users = without(c.Users, userID)
	c.Version++
	c.UpdatedAt = now
	if u, ok := s.users[userID]; ok {
		u.Chats = without(u.Chats, chatID)
		u.UpdatedAt = now
	}

	out := copyChat(c, false)
	if len(c.Users) == 0 {
		delete(s.chats, chatID)
		return out, true, nil
	}
	return out, false, nil
}

// AppendMessage adds m to the chat if its author is a member.
func (s *MemoryStore) AppendMessage(_ context.Context, chatID string, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chatID]
	if !ok {
		return ErrChatNotFound
	}
	if !c.HasUser(m.UserID) {
		return ErrNotMember
	}
	c.Messages = append(c.Messages, m)
	c.UpdatedAt = s.now()
	return nil
}

// Messages returns the chat's history.
func (s *MemoryStore) Messages(_ context.Context, chatID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chatID]
	if !ok {
		return nil, ErrChatNotFound
	}
	return append([]Message{}, c.Messages...), nil
}

// DeleteTenant removes the tenant's chats and optionally its users.
func (s *MemoryStore) DeleteTenant(_ context.Context, tenant string, includeUsers bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.chats {
		if inTenant(id, tenant) {
			delete(s.chats, id)
		}
	}
	now := s.now()
	for id, u := range s.users {
		if !inTenant(id, tenant) {
			continue
		}
		if includeUsers {
			delete(s.users, id)
			continue
		}
		u.Chats = []string{}
		u.UpdatedAt = now
	}
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close(context.Context) error { return nil }

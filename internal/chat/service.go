// Package chat implements chat membership changes and message ingest on top
// of the record store, and reports every committed change to a Notifier.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GyoHeon/chat-back/internal/auth"
	"github.com/GyoHeon/chat-back/internal/identity"
	"github.com/GyoHeon/chat-back/internal/store"
)

const (
	maxAttempts   = 3
	repairTimeout = 5 * time.Second
)

// Service applies membership protocols and message ingest.
type Service struct {
	store    store.Store
	notifier Notifier
	logger   *zap.Logger
	locks    *chatLocks
	newID    func() string
	now      func() time.Time
}

// NewService wires a Service. A nil notifier discards notifications.
func NewService(st store.Store, notifier Notifier, logger *zap.Logger) *Service {
	if notifier == nil {
		notifier = Notifiers(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    st,
		notifier: notifier,
		logger:   logger.Named("chat"),
		locks:    newChatLocks(),
		newID:    uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput carries the fields of a new chat. Users are raw ids.
type CreateInput struct {
	Name      string   `json:"name"`
	Users     []string `json:"users"`
	IsPrivate bool     `json:"isPrivate"`
}

// Create persists a chat whose members are the caller and in.Users.
func (s *Service) Create(ctx context.Context, caller auth.Identity, in CreateInput) (store.Chat, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return store.Chat{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	invitees, err := s.qualifyInvitees(caller, in.Users)
	if err != nil {
		return store.Chat{}, err
	}

	id, err := identity.Qualify(s.newID(), caller.Tenant)
	if err != nil {
		return store.Chat{}, err
	}
	c, err := s.store.CreateChat(ctx, store.Chat{
		ID:        id,
		Name:      name,
		IsPrivate: in.IsPrivate,
		Users:     append([]string{caller.UserID}, invitees...),
	})
	if err != nil {
		if errors.Is(err, store.ErrInconsistent) {
			s.repair(id, err)
		}
		return store.Chat{}, err
	}

	s.logger.Info("chat created",
		zap.String("chat", c.ID),
		zap.String("user", caller.UserID),
		zap.Int("members", len(c.Users)))
	s.notifier.ChatCreated(ctx, c, invitees)
	return c, nil
}

// Participate adds the caller to a public chat.
func (s *Service) Participate(ctx context.Context, caller auth.Identity, chatRawID string) (store.Chat, error) {
	chatID, err := identity.Qualify(chatRawID, caller.Tenant)
	if err != nil {
		return store.Chat{}, fmt.Errorf("%w: chatId is required", ErrValidation)
	}

	var updated store.Chat
	err = s.mutate(ctx, chatID, func(c store.Chat) error {
		if c.HasUser(caller.UserID) {
			return ErrAlreadyMember
		}
		if c.IsPrivate {
			return store.ErrChatNotFound
		}
		var err error
		updated, err = s.store.AddMembers(ctx, c.ID, c.Version, []string{caller.UserID})
		return err
	})
	if err != nil {
		return store.Chat{}, err
	}

	s.logger.Info("chat joined", zap.String("chat", chatID), zap.String("user", caller.UserID))
	s.notifier.MembersJoined(ctx, updated, []string{caller.UserID})
	return updated, nil
}

// Invite adds users to a chat the caller is a member of. The batch is
// rejected as a whole if any invitee is unknown or already a member.
func (s *Service) Invite(ctx context.Context, caller auth.Identity, chatRawID string, users []string) (store.Chat, error) {
	chatID, err := identity.Qualify(chatRawID, caller.Tenant)
	if err != nil {
		return store.Chat{}, fmt.Errorf("%w: chatId is required", ErrValidation)
	}
	invitees, err := s.qualifyInvitees(caller, users)
	if err != nil {
		return store.Chat{}, err
	}
	if len(invitees) == 0 {
		return store.Chat{}, fmt.Errorf("%w: users is required", ErrValidation)
	}

	var updated store.Chat
	err = s.mutate(ctx, chatID, func(c store.Chat) error {
		if !c.HasUser(caller.UserID) {
			return ErrNotAMember
		}
		found, err := s.store.FindUsers(ctx, invitees)
		if err != nil {
			return err
		}
		if len(found) != len(invitees) {
			return store.ErrUserNotFound
		}
		for _, id := range invitees {
			if c.HasUser(id) {
				return ErrAlreadyParticipated
			}
		}
		updated, err = s.store.AddMembers(ctx, c.ID, c.Version, invitees)
		return err
	})
	if err != nil {
		return store.Chat{}, err
	}

	s.logger.Info("users invited",
		zap.String("chat", chatID),
		zap.String("user", caller.UserID),
		zap.Strings("invitees", invitees))
	s.notifier.MembersInvited(ctx, updated, caller.UserID, invitees)
	return updated, nil
}

// Leave removes the caller from a chat. The chat is deleted when the caller
// was its last member.
func (s *Service) Leave(ctx context.Context, caller auth.Identity, chatRawID string) (bool, error) {
	chatID, err := identity.Qualify(chatRawID, caller.Tenant)
	if err != nil {
		return false, fmt.Errorf("%w: chatId is required", ErrValidation)
	}

	var (
		remaining store.Chat
		deleted   bool
	)
	err = s.mutate(ctx, chatID, func(c store.Chat) error {
		if !c.HasUser(caller.UserID) {
			return ErrNotAMember
		}
		var err error
		remaining, deleted, err = s.store.RemoveMember(ctx, c.ID, c.Version, caller.UserID)
		return err
	})
	if err != nil {
		return false, err
	}

	s.logger.Info("chat left",
		zap.String("chat", chatID),
		zap.String("user", caller.UserID),
		zap.Bool("deleted", deleted))
	s.notifier.MemberLeft(ctx, remaining, caller.UserID, deleted)
	return deleted, nil
}

// mutate reads the chat and runs fn against it, retrying on version
// conflicts with a fresh read.
func (s *Service) mutate(ctx context.Context, chatID string, fn func(store.Chat) error) error {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		c, err := s.store.FindChat(ctx, chatID)
		if err != nil {
			return err
		}
		err = fn(c)
		switch {
		case errors.Is(err, store.ErrVersionConflict):
			s.logger.Debug("version conflict, retrying",
				zap.String("chat", chatID),
				zap.Int("attempt", attempt))
			continue
		case errors.Is(err, store.ErrInconsistent):
			s.repair(chatID, err)
		}
		return err
	}
	return ErrConflict
}

// repair realigns user records with a chat after a partial write. It runs on
// its own context so a cancelled request still gets repaired.
func (s *Service) repair(chatID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), repairTimeout)
	defer cancel()

	s.logger.Error("membership partially written", zap.String("chat", chatID), zap.Error(cause))
	if err := store.RepairChat(ctx, s.store, chatID); err != nil {
		s.logger.Error("membership repair failed", zap.String("chat", chatID), zap.Error(err))
		return
	}
	s.logger.Info("membership repaired", zap.String("chat", chatID))
}

// qualifyInvitees qualifies raw ids under the caller's tenant, dropping
// duplicates and the caller.
func (s *Service) qualifyInvitees(caller auth.Identity, raws []string) ([]string, error) {
	out := make([]string, 0, len(raws))
	seen := map[string]bool{caller.UserID: true}
	for _, raw := range raws {
		q, err := identity.Qualify(strings.TrimSpace(raw), caller.Tenant)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid user id %q", ErrValidation, raw)
		}
		if seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
	}
	return out, nil
}

// ValidateText trims text and checks it against the message rules.
func ValidateText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || utf8.RuneCountInString(trimmed) > MaxMessageLength {
		return "", ErrInvalidMessage
	}
	return trimmed, nil
}

// Post appends a message to a chat and notifies. Posts to one chat are
// serialized so that notification order matches persisted order. An author
// who is no longer a member gets ErrNotAMember and nothing is stored.
func (s *Service) Post(ctx context.Context, chatID, author, text string) (store.Message, error) {
	trimmed, err := ValidateText(text)
	if err != nil {
		return store.Message{}, err
	}

	unlock := s.locks.lock(chatID)
	defer unlock()

	m := store.Message{
		ID:        s.newID(),
		Text:      trimmed,
		UserID:    author,
		CreatedAt: s.now(),
	}
	if err := s.store.AppendMessage(ctx, chatID, m); err != nil {
		if errors.Is(err, store.ErrNotMember) {
			return store.Message{}, ErrNotAMember
		}
		return store.Message{}, err
	}
	s.logger.Debug("message posted", zap.String("chat", chatID), zap.String("user", author))
	s.notifier.MessagePosted(ctx, chatID, m)
	return m, nil
}

// Messages returns a chat's history in chronological order.
func (s *Service) Messages(ctx context.Context, chatID string) ([]store.Message, error) {
	return s.store.Messages(ctx, chatID)
}

// Chat returns a chat by qualified id.
func (s *Service) Chat(ctx context.Context, chatID string) (store.Chat, error) {
	return s.store.FindChat(ctx, chatID)
}

// ListPublic returns the tenant's public chats.
func (s *Service) ListPublic(ctx context.Context, tenant string) ([]store.Chat, error) {
	if !identity.ValidTenant(tenant) {
		return nil, identity.ErrInvalidTenant
	}
	return s.store.ListPublicChats(ctx, tenant)
}

// ListMine returns the caller's chats, each with its latest message.
func (s *Service) ListMine(ctx context.Context, caller auth.Identity) ([]store.Chat, error) {
	return s.store.ListUserChats(ctx, caller.UserID)
}

// Users lists the tenant's users.
func (s *Service) Users(ctx context.Context, tenant string) ([]store.User, error) {
	return s.store.ListUsers(ctx, tenant)
}

// User looks up one user by raw id within tenant.
func (s *Service) User(ctx context.Context, tenant, rawID string) (store.User, error) {
	id, err := identity.Qualify(rawID, tenant)
	if err != nil {
		return store.User{}, fmt.Errorf("%w: userId is required", ErrValidation)
	}
	return s.store.FindUser(ctx, id)
}

// UpdateProfile changes the caller's name and/or picture.
func (s *Service) UpdateProfile(ctx context.Context, caller auth.Identity, name, picture *string) error {
	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if trimmed == "" {
			name = nil
		} else {
			name = &trimmed
		}
	}
	if picture != nil && strings.TrimSpace(*picture) == "" {
		picture = nil
	}
	if name == nil && picture == nil {
		return fmt.Errorf("%w: name or picture is required", ErrValidation)
	}
	return s.store.UpdateProfile(ctx, caller.UserID, name, picture)
}

// EnsureUser creates the caller's user record on first sight.
func (s *Service) EnsureUser(ctx context.Context, caller auth.Identity) error {
	_, err := s.store.FindUser(ctx, caller.UserID)
	if !errors.Is(err, store.ErrUserNotFound) {
		return err
	}
	err = s.store.CreateUser(ctx, store.User{ID: caller.UserID, Name: caller.RawID(), Chats: []string{}})
	if err != nil && !errors.Is(err, store.ErrDuplicate) {
		return err
	}
	if err == nil {
		s.logger.Info("user provisioned", zap.String("user", caller.UserID))
	}
	return nil
}

// ResetTenant deletes every chat of the caller's tenant and, with
// includeUsers, its users too.
func (s *Service) ResetTenant(ctx context.Context, caller auth.Identity, includeUsers bool) error {
	chats, err := s.store.ListChats(ctx, caller.Tenant)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTenant(ctx, caller.Tenant, includeUsers); err != nil {
		return err
	}

	ids := make([]string, 0, len(chats))
	for _, c := range chats {
		ids = append(ids, c.ID)
	}
	s.logger.Warn("tenant reset",
		zap.String("tenant", caller.Tenant),
		zap.String("user", caller.UserID),
		zap.Int("chats", len(ids)),
		zap.Bool("users", includeUsers))
	s.notifier.ChatsDeleted(ctx, caller.Tenant, ids)
	return nil
}

// Reconcile repairs the membership relation for the caller's tenant.
func (s *Service) Reconcile(ctx context.Context, caller auth.Identity) (store.Report, error) {
	rep, err := store.Reconcile(ctx, s.store, caller.Tenant)
	if err != nil {
		return rep, err
	}
	s.logger.Info("tenant reconciled",
		zap.String("tenant", caller.Tenant),
		zap.Int("checked", rep.UsersChecked),
		zap.Int("fixed", rep.UsersFixed),
		zap.Int("dangling", rep.DanglingMembers))
	return rep, nil
}

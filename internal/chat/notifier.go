package chat

import (
	"context"

	"github.com/GyoHeon/chat-back/internal/store"
)

// Notifier is told about every committed change. Ids passed in are
// qualified. Implementations must not block for long; they run on the
// request path.
type Notifier interface {
	ChatCreated(ctx context.Context, c store.Chat, invitees []string)
	MembersJoined(ctx context.Context, c store.Chat, joiners []string)
	MembersInvited(ctx context.Context, c store.Chat, inviter string, invitees []string)
	// MemberLeft reports c as it was after removing leaver. When deleted
	// is true the chat no longer exists.
	MemberLeft(ctx context.Context, c store.Chat, leaver string, deleted bool)
	MessagePosted(ctx context.Context, chatID string, m store.Message)
	ChatsDeleted(ctx context.Context, tenant string, chatIDs []string)
}

// Notifiers fans every notification out to each element in order.
type Notifiers []Notifier

var _ Notifier = Notifiers(nil)

// ChatCreated forwards to every notifier.
func (ns Notifiers) ChatCreated(ctx context.Context, c store.Chat, invitees []string) {
	for _, n := range ns {
		n.ChatCreated(ctx, c, invitees)
	}
}

// MembersJoined forwards to every notifier.
func (ns Notifiers) MembersJoined(ctx context.Context, c store.Chat, joiners []string) {
	for _, n := range ns {
		n.MembersJoined(ctx, c, joiners)
	}
}

// MembersInvited forwards to every notifier.
func (ns Notifiers) MembersInvited(ctx context.Context, c store.Chat, inviter string, invitees []string) {
	for _, n := range ns {
		n.MembersInvited(ctx, c, inviter, invitees)
	}
}

// MemberLeft forwards to every notifier.
func (ns Notifiers) MemberLeft(ctx context.Context, c store.Chat, leaver string, deleted bool) {
	for _, n := range ns {
		n.MemberLeft(ctx, c, leaver, deleted)
	}
}

// MessagePosted forwards to every notifier.
func (ns Notifiers) MessagePosted(ctx context.Context, chatID string, m store.Message) {
	for _, n := range ns {
		n.MessagePosted(ctx, chatID, m)
	}
}

// ChatsDeleted forwards to every notifier.
func (ns Notifiers) ChatsDeleted(ctx context.Context, tenant string, chatIDs []string) {
	for _, n := range ns {
		n.ChatsDeleted(ctx, tenant, chatIDs)
	}
}

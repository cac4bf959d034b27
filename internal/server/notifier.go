package server

import (
	"context"

	"github.com/GyoHeon/chat-back/internal/chat"
	"github.com/GyoHeon/chat-back/internal/identity"
	"github.com/GyoHeon/chat-back/internal/store"
	"github.com/GyoHeon/chat-back/internal/telemetry"
)

// HubNotifier turns committed chat changes into room events.
type HubNotifier struct {
	hub     *Hub
	metrics *telemetry.Metrics
}

var _ chat.Notifier = (*HubNotifier)(nil)

// NewHubNotifier returns a notifier that emits to hub rooms and counts
// messages on the hub's metrics.
func NewHubNotifier(hub *Hub) *HubNotifier {
	return &HubNotifier{hub: hub, metrics: hub.metrics}
}

func tenantRoomOf(chatID string) string {
	tenant, _ := identity.TenantOf(chatID)
	return serverRoom(tenant)
}

// ChatCreated announces public chats to the whole tenant room and sends an
// invite to every invitee's tenant connections, private or not.
func (n *HubNotifier) ChatCreated(_ context.Context, c store.Chat, invitees []string) {
	room := tenantRoomOf(c.ID)
	payload := chatPayload{Chat: chat.NewChatView(c)}
	if !c.IsPrivate {
		n.hub.Emit(room, EventNewChat, payload)
	}
	n.hub.EmitToUsers(room, invitees, EventInvite, payload)
}

// MembersJoined sends the new member list to the chat room and refreshes
// its presence.
func (n *HubNotifier) MembersJoined(_ context.Context, c store.Chat, joiners []string) {
	room := chatRoom(c.ID)
	n.hub.Emit(room, EventJoin, joinPayload{
		Users:   identity.UnqualifyAll(c.Users),
		Joiners: identity.UnqualifyAll(joiners),
	})
	n.hub.BroadcastPresence(room)
}

// MembersInvited sends an invite to each invitee's tenant connections,
// then announces them in the chat room.
func (n *HubNotifier) MembersInvited(ctx context.Context, c store.Chat, _ string, invitees []string) {
	n.hub.EmitToUsers(tenantRoomOf(c.ID), invitees, EventInvite, chatPayload{Chat: chat.NewChatView(c)})
	n.MembersJoined(ctx, c, invitees)
}

// MemberLeft tells the chat room who left and disconnects the leaver from
// it. A deleted chat disconnects everyone.
func (n *HubNotifier) MemberLeft(_ context.Context, c store.Chat, leaver string, deleted bool) {
	room := chatRoom(c.ID)
	if deleted {
		n.hub.CloseRoom(room)
		return
	}
	n.hub.Emit(room, EventLeave, leavePayload{
		Users:  identity.UnqualifyAll(c.Users),
		Leaver: unqualified(leaver),
	})
	if n.hub.CloseUser(room, leaver) == 0 {
		n.hub.BroadcastPresence(room)
	}
}

// MessagePosted broadcasts m to the chat room.
func (n *HubNotifier) MessagePosted(_ context.Context, chatID string, m store.Message) {
	n.metrics.MessagesIngested.Inc()
	n.hub.Emit(chatRoom(chatID), EventMessageToClient, chat.NewMessageView(m))
}

// ChatsDeleted disconnects every connection in the deleted chats' rooms.
func (n *HubNotifier) ChatsDeleted(_ context.Context, _ string, chatIDs []string) {
	for _, id := range chatIDs {
		n.hub.CloseRoom(chatRoom(id))
	}
}

func unqualified(id string) string {
	raw, err := identity.Unqualify(id)
	if err != nil {
		return id
	}
	return raw
}

package chat

import (
	"time"

	"github.com/GyoHeon/chat-back/internal/identity"
	"github.com/GyoHeon/chat-back/internal/store"
)

// ChatView is a chat as clients see it: every id unqualified.
type ChatView struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Users         []string     `json:"users"`
	IsPrivate     bool         `json:"isPrivate"`
	UpdatedAt     time.Time    `json:"updatedAt"`
	LatestMessage *MessageView `json:"latestMessage,omitempty"`
}

// MessageView is a message as clients see it.
type MessageView struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserView is a user profile as clients see it.
type UserView struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
}

func unqualified(id string) string {
	raw, err := identity.Unqualify(id)
	if err != nil {
		return id
	}
	return raw
}

// NewChatView unqualifies c for clients. LatestMessage is set when c
// carries messages.
func NewChatView(c store.Chat) ChatView {
	v := ChatView{
		ID:        unqualified(c.ID),
		Name:      c.Name,
		Users:     identity.UnqualifyAll(c.Users),
		IsPrivate: c.IsPrivate,
		UpdatedAt: c.UpdatedAt,
	}
	if m, ok := c.LatestMessage(); ok {
		mv := NewMessageView(m)
		v.LatestMessage = &mv
	}
	return v
}

// NewChatViews converts each chat with NewChatView.
func NewChatViews(chats []store.Chat) []ChatView {
	out := make([]ChatView, 0, len(chats))
	for _, c := range chats {
		out = append(out, NewChatView(c))
	}
	return out
}

// NewMessageView unqualifies the author of m.
func NewMessageView(m store.Message) MessageView {
	return MessageView{ID: m.ID, Text: m.Text, UserID: unqualified(m.UserID), CreatedAt: m.CreatedAt}
}

// NewMessageViews converts msgs in order.
func NewMessageViews(msgs []store.Message) []MessageView {
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, NewMessageView(m))
	}
	return out
}

// NewUserView drops the chat list and unqualifies the id.
func NewUserView(u store.User) UserView {
	return UserView{ID: unqualified(u.ID), Name: u.Name, Picture: u.Picture}
}

// NewUserViews converts each user with NewUserView.
func NewUserViews(users []store.User) []UserView {
	out := make([]UserView, 0, len(users))
	for _, u := range users {
		out = append(out, NewUserView(u))
	}
	return out
}

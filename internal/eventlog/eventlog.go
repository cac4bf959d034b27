// Package eventlog publishes committed chat changes to a Kafka topic, keyed
// by chat id so that one chat's records stay ordered within a partition.
package eventlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/GyoHeon/chat-back/internal/chat"
	"github.com/GyoHeon/chat-back/internal/identity"
	"github.com/GyoHeon/chat-back/internal/store"
)

const (
	TypeChatCreated   = "chat.created"
	TypeChatJoined    = "chat.joined"
	TypeChatInvited   = "chat.invited"
	TypeChatLeft      = "chat.left"
	TypeChatDeleted   = "chat.deleted"
	TypeMessagePosted = "message.posted"
)

// Record is the JSON value of every published message.
type Record struct {
	Type    string            `json:"type"`
	Tenant  string            `json:"tenant"`
	ChatID  string            `json:"chatId"`
	UserID  string            `json:"userId,omitempty"`
	Users   []string          `json:"users,omitempty"`
	Message *chat.MessageView `json:"message,omitempty"`
	At      time.Time         `json:"at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher is a chat.Notifier that writes Records to Kafka.
type Publisher struct {
	w      messageWriter
	logger *zap.Logger
	now    func() time.Time
}

var _ chat.Notifier = (*Publisher)(nil)

// New returns a Publisher with an asynchronous writer for topic.
func New(brokers []string, topic string, logger *zap.Logger) *Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}
	p := newPublisher(w, logger)
	w.Completion = func(msgs []kafka.Message, err error) {
		if err != nil {
			p.logger.Warn("event batch failed", zap.Int("records", len(msgs)), zap.Error(err))
		}
	}
	return p
}

func newPublisher(w messageWriter, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{w: w, logger: logger.Named("eventlog"), now: func() time.Time { return time.Now().UTC() }}
}

// Close flushes pending records.
func (p *Publisher) Close() error {
	return p.w.Close()
}

func (p *Publisher) publish(ctx context.Context, chatID string, rec Record) {
	tenant, _ := identity.TenantOf(chatID)
	rec.Tenant = tenant
	rec.ChatID = rawOf(chatID)
	rec.At = p.now()

	value, err := json.Marshal(rec)
	if err != nil {
		p.logger.Error("encode event", zap.String("type", rec.Type), zap.Error(err))
		return
	}
	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(chatID),
		Value: value,
		Time:  rec.At,
	})
	if err != nil {
		p.logger.Warn("publish event", zap.String("type", rec.Type), zap.String("chat", chatID), zap.Error(err))
	}
}

func rawOf(id string) string {
	raw, err := identity.Unqualify(id)
	if err != nil {
		return id
	}
	return raw
}

// ChatCreated records the new chat with its members.
func (p *Publisher) ChatCreated(ctx context.Context, c store.Chat, _ []string) {
	p.publish(ctx, c.ID, Record{Type: TypeChatCreated, Users: identity.UnqualifyAll(c.Users)})
}

// MembersJoined records who joined.
func (p *Publisher) MembersJoined(ctx context.Context, c store.Chat, joiners []string) {
	p.publish(ctx, c.ID, Record{Type: TypeChatJoined, Users: identity.UnqualifyAll(joiners)})
}

// MembersInvited records the inviter and invitees.
func (p *Publisher) MembersInvited(ctx context.Context, c store.Chat, inviter string, invitees []string) {
	p.publish(ctx, c.ID, Record{Type: TypeChatInvited, UserID: rawOf(inviter), Users: identity.UnqualifyAll(invitees)})
}

// MemberLeft records the leaver, followed by a deletion record when the
// chat emptied.
func (p *Publisher) MemberLeft(ctx context.Context, c store.Chat, leaver string, deleted bool) {
	p.publish(ctx, c.ID, Record{Type: TypeChatLeft, UserID: rawOf(leaver), Users: identity.UnqualifyAll(c.Users)})
	if deleted {
		p.publish(ctx, c.ID, Record{Type: TypeChatDeleted})
	}
}

// MessagePosted records the message.
func (p *Publisher) MessagePosted(ctx context.Context, chatID string, m store.Message) {
	mv := chat.NewMessageView(m)
	p.publish(ctx, chatID, Record{Type: TypeMessagePosted, UserID: mv.UserID, Message: &mv})
}

// ChatsDeleted records one deletion per chat.
func (p *Publisher) ChatsDeleted(ctx context.Context, _ string, chatIDs []string) {
	for _, id := range chatIDs {
		p.publish(ctx, id, Record{Type: TypeChatDeleted})
	}
}

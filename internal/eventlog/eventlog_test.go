package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/GyoHeon/chat-back/internal/store"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error { return nil }

func decode(t *testing.T, m kafka.Message) Record {
	t.Helper()
	var rec Record
	if err := json.Unmarshal(m.Value, &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	return rec
}

func TestMemberLeftPublishesDeletion(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, nil)

	p.MemberLeft(context.Background(), store.Chat{ID: "srv1:c1"}, "srv1:alice", true)

	if len(w.msgs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(w.msgs))
	}
	left, gone := decode(t, w.msgs[0]), decode(t, w.msgs[1])
	if left.Type != TypeChatLeft || left.UserID != "alice" || left.Tenant != "srv1" || left.ChatID != "c1" {
		t.Errorf("unexpected left record %+v", left)
	}
	if gone.Type != TypeChatDeleted {
		t.Errorf("expected deletion record, got %+v", gone)
	}
	if string(w.msgs[0].Key) != "srv1:c1" {
		t.Errorf("key = %s", w.msgs[0].Key)
	}
}

func TestMessagePostedUnqualifiesAuthor(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, nil)

	p.MessagePosted(context.Background(), "srv1:c1", store.Message{
		ID: "m1", Text: "hi", UserID: "srv1:bob", CreatedAt: time.Now(),
	})

	rec := decode(t, w.msgs[0])
	if rec.Message == nil || rec.Message.UserID != "bob" || rec.Message.Text != "hi" {
		t.Errorf("unexpected message record %+v", rec)
	}
}

func TestInvitedCarriesInvitees(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, nil)

	p.MembersInvited(context.Background(), store.Chat{ID: "srv1:c1"}, "srv1:alice", []string{"srv1:bob", "srv1:carol"})

	rec := decode(t, w.msgs[0])
	if !reflect.DeepEqual(rec.Users, []string{"bob", "carol"}) || rec.UserID != "alice" {
		t.Errorf("unexpected invite record %+v", rec)
	}
}

func TestWriteFailureDoesNotPanic(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := newPublisher(w, nil)

	p.ChatsDeleted(context.Background(), "srv1", []string{"srv1:c1", "srv1:c2"})
	if len(w.msgs) != 2 {
		t.Errorf("expected both records attempted, got %d", len(w.msgs))
	}
}

package store

import (
	"context"
	"reflect"
	"slices"
	"sync"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

func TestReconcileFixesDrift(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedUsers(t, s, "srv1:alice", "srv1:bob")
	_, _ = s.CreateChat(ctx, Chat{ID: "srv1:c1", Users: []string{"srv1:alice", "srv1:bob"}})
	_, _ = s.CreateChat(ctx, Chat{ID: "srv1:c2", Users: []string{"srv1:alice"}})

	// bob lost c1 and gained a chat that does not list him
	_ = s.RemoveUserChat(ctx, "srv1:bob", "srv1:c1")
	_ = s.AddUserChat(ctx, "srv1:bob", "srv1:c2")

	rep, err := Reconcile(ctx, s, "srv1")
	if err != nil {
		t.Fatal(err)
	}
	if rep.UsersChecked != 2 || rep.UsersFixed != 1 {
		t.Errorf("unexpected report %+v", rep)
	}
	bob, _ := s.FindUser(ctx, "srv1:bob")
	if want := []string{"srv1:c1"}; !reflect.DeepEqual(bob.Chats, want) {
		t.Errorf("bob chats = %v, want %v", bob.Chats, want)
	}
	assertMembership(t, s, "srv1")

	rep, _ = Reconcile(ctx, s, "srv1")
	if rep.UsersFixed != 0 {
		t.Errorf("second pass should be a no-op, got %+v", rep)
	}
}

func TestRepairChat(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedUsers(t, s, "srv1:alice", "srv1:bob")
	_, _ = s.CreateChat(ctx, Chat{ID: "srv1:c1", Users: []string{"srv1:alice"}})
	_ = s.RemoveUserChat(ctx, "srv1:alice", "srv1:c1")
	_ = s.AddUserChat(ctx, "srv1:bob", "srv1:c1")
	_ = s.AddUserChat(ctx, "srv1:bob", "srv1:gone")

	if err := RepairChat(ctx, s, "srv1:c1"); err != nil {
		t.Fatal(err)
	}
	if err := RepairChat(ctx, s, "srv1:gone"); err != nil {
		t.Fatal(err)
	}

	alice, _ := s.FindUser(ctx, "srv1:alice")
	bob, _ := s.FindUser(ctx, "srv1:bob")
	if !reflect.DeepEqual(alice.Chats, []string{"srv1:c1"}) {
		t.Errorf("alice chats = %v", alice.Chats)
	}
	if len(bob.Chats) != 0 {
		t.Errorf("bob chats = %v", bob.Chats)
	}
}

// interleavingStore runs during once, just before the first user chat write.
type interleavingStore struct {
	*MemoryStore
	once   sync.Once
	during func()
}

func (s *interleavingStore) AddUserChat(ctx context.Context, id, chatID string) error {
	s.once.Do(s.during)
	return s.MemoryStore.AddUserChat(ctx, id, chatID)
}

func (s *interleavingStore) RemoveUserChat(ctx context.Context, id, chatID string) error {
	s.once.Do(s.during)
	return s.MemoryStore.RemoveUserChat(ctx, id, chatID)
}

func TestRepairKeepsConcurrentMembership(t *testing.T) {
	ctx := context.Background()
	base := NewMemoryStore()
	seedUsers(t, base, "srv1:alice", "srv1:bob")
	_, _ = base.CreateChat(ctx, Chat{ID: "srv1:c1", Users: []string{"srv1:alice", "srv1:bob"}})
	_ = base.RemoveUserChat(ctx, "srv1:bob", "srv1:c1")

	s := &interleavingStore{MemoryStore: base, during: func() {
		if _, err := base.CreateChat(ctx, Chat{ID: "srv1:c3", Users: []string{"srv1:bob"}}); err != nil {
			t.Errorf("CreateChat: %v", err)
		}
	}}
	if err := RepairChat(ctx, s, "srv1:c1"); err != nil {
		t.Fatal(err)
	}

	bob, _ := base.FindUser(ctx, "srv1:bob")
	for _, id := range []string{"srv1:c1", "srv1:c3"} {
		if !slices.Contains(bob.Chats, id) {
			t.Errorf("bob chats = %v, missing %s", bob.Chats, id)
		}
	}
	assertMembership(t, base, "srv1")
}

func TestReconcileKeepsConcurrentMembership(t *testing.T) {
	ctx := context.Background()
	base := NewMemoryStore()
	seedUsers(t, base, "srv1:alice", "srv1:bob")
	_, _ = base.CreateChat(ctx, Chat{ID: "srv1:c1", Users: []string{"srv1:alice", "srv1:bob"}})
	_, _ = base.CreateChat(ctx, Chat{ID: "srv1:c2", Users: []string{"srv1:alice"}})
	_ = base.RemoveUserChat(ctx, "srv1:bob", "srv1:c1")
	_ = base.AddUserChat(ctx, "srv1:bob", "srv1:c2")

	s := &interleavingStore{MemoryStore: base, during: func() {
		if _, err := base.CreateChat(ctx, Chat{ID: "srv1:c3", Users: []string{"srv1:bob"}}); err != nil {
			t.Errorf("CreateChat: %v", err)
		}
	}}
	rep, err := Reconcile(ctx, s, "srv1")
	if err != nil {
		t.Fatal(err)
	}
	if rep.UsersFixed != 1 {
		t.Errorf("unexpected report %+v", rep)
	}

	bob, _ := base.FindUser(ctx, "srv1:bob")
	if want := []string{"srv1:c3", "srv1:c1"}; !reflect.DeepEqual(bob.Chats, want) {
		t.Errorf("bob chats = %v, want %v", bob.Chats, want)
	}
	assertMembership(t, base, "srv1")

	rep, _ = Reconcile(ctx, base, "srv1")
	if rep.UsersFixed != 0 {
		t.Errorf("second pass should be a no-op, got %+v", rep)
	}
}

func TestTenantFilterQuotesPrefix(t *testing.T) {
	f := tenantFilter("a.b")
	got := f["_id"].(bson.M)["$regex"]
	if got != `^a\.b:` {
		t.Errorf("regex = %v", got)
	}
}

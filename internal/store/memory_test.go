package store

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"testing"
)

func seedUsers(t *testing.T, s Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := s.CreateUser(context.Background(), User{ID: id, Name: id}); err != nil {
			t.Fatalf("CreateUser(%s): %v", id, err)
		}
	}
}

// assertMembership checks that chat.users and user.chats agree in both directions.
func assertMembership(t *testing.T, s Store, tenant string) {
	t.Helper()
	ctx := context.Background()

	chats, err := s.ListChats(ctx, tenant)
	if err != nil {
		t.Fatal(err)
	}
	users, err := s.ListUsers(ctx, tenant)
	if err != nil {
		t.Fatal(err)
	}

	byID := make(map[string]User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	for _, c := range chats {
		for _, member := range c.Users {
			if !slices.Contains(byID[member].Chats, c.ID) {
				t.Errorf("chat %s lists %s but user does not list chat", c.ID, member)
			}
		}
	}
	for _, u := range users {
		for _, chatID := range u.Chats {
			c, err := s.FindChat(ctx, chatID)
			if err != nil {
				t.Errorf("user %s lists missing chat %s", u.ID, chatID)
				continue
			}
			if !c.HasUser(u.ID) {
				t.Errorf("user %s lists chat %s but chat does not list user", u.ID, chatID)
			}
		}
	}
}

func TestCreateChatUpdatesMembers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedUsers(t, s, "srv1:alice", "srv1:bob")

	c, err := s.CreateChat(ctx, Chat{ID: "srv1:c1", Name: "Team", Users: []string{"srv1:alice", "srv1:bob", "srv1:alice"}})
	if err != nil {
		t.Fatal(err)
	}
	if c.Version != 1 {
		t.Errorf("expected version 1, got %d", c.Version)
	}
	if want := []string{"srv1:alice", "srv1:bob"}; !reflect.DeepEqual(c.Users, want) {
		t.Errorf("users = %v, want %v", c.Users, want)
	}
	assertMembership(t, s, "srv1")
}

func TestCreateChatUnknownMemberWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedUsers(t, s, "srv1:alice")

	_, err := s.CreateChat(ctx, Chat{ID: "srv1:c1", Users: []string{"srv1:alice", "srv1:ghost"}})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := s.FindChat(ctx, "srv1:c1"); !errors.Is(err, ErrChatNotFound) {
		t.Errorf("chat should not exist, got %v", err)
	}
	u, _ := s.FindUser(ctx, "srv1:alice")
	if len(u.Chats) != 0 {
		t.Errorf("alice should have no chats, got %v", u.Chats)
	}
}

func TestAddMembersVersionGuard(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedUsers(t, s, "srv1:alice", "srv1:bob", "srv1:carol")
	c, _ := s.CreateChat(ctx, Chat{ID: "srv1:c1", Users: []string{"srv1:alice"}})

	c2, err := s.AddMembers(ctx, c.ID, c.Version, []string{"srv1:bob"})
	if err != nil {
		t.Fatal(err)
	}
	if c2.Version != c.Version+1 {
		t.Errorf("version not bumped: %d", c2.Version)
	}

	if _, err := s.AddMembers(ctx, c.ID, c.Version, []string{"srv1:carol"}); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}
	if _, err := s.AddMembers(ctx, "srv1:missing", 1, []string{"srv1:carol"}); !errors.Is(err, ErrChatNotFound) {
		t.Errorf("expected ErrChatNotFound, got %v", err)
	}
	assertMembership(t, s, "srv1")
}

func TestRemoveLastMemberDeletesChat(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedUsers(t, s, "srv1:alice", "srv1:bob")
	c, _ := s.CreateChat(ctx, Chat{ID: "srv1:c1", Users: []string{"srv1:alice", "srv1:bob"}})

	c, deleted, err := s.RemoveMember(ctx, c.ID, c.Version, "srv1:bob")
	if err != nil || deleted {
		t.Fatalf("first leave: deleted=%v err=%v", deleted, err)
	}
	assertMembership(t, s, "srv1")

	_, deleted, err = s.RemoveMember(ctx, c.ID, c.Version, "srv1:alice")
	if err != nil || !deleted {
		t.Fatalf("second leave: deleted=%v err=%v", deleted, err)
	}
	if _, err := s.FindChat(ctx, c.ID); !errors.Is(err, ErrChatNotFound) {
		t.Errorf("expected chat to be gone, got %v", err)
	}
	assertMembership(t, s, "srv1")
}

func TestListUserChatsCarriesLatestMessageOnly(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedUsers(t, s, "srv1:alice")
	c, _ := s.CreateChat(ctx, Chat{ID: "srv1:c1", Users: []string{"srv1:alice"}})

	for _, text := range []string{"one", "two", "three"} {
		if err := s.AppendMessage(ctx, c.ID, Message{ID: text, Text: text, UserID: "srv1:alice"}); err != nil {
			t.Fatal(err)
		}
	}

	chats, err := s.ListUserChats(ctx, "srv1:alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 || len(chats[0].Messages) != 1 || chats[0].Messages[0].Text != "three" {
		t.Errorf("unexpected listing %+v", chats)
	}

	msgs, _ := s.Messages(ctx, c.ID)
	if len(msgs) != 3 || msgs[0].Text != "one" {
		t.Errorf("expected chronological messages, got %+v", msgs)
	}
}

func TestAppendMessageRequiresMembership(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedUsers(t, s, "srv1:alice", "srv1:bob")
	c, _ := s.CreateChat(ctx, Chat{ID: "srv1:c1", Users: []string{"srv1:alice"}})

	err := s.AppendMessage(ctx, c.ID, Message{ID: "m1", Text: "hi", UserID: "srv1:bob"})
	if !errors.Is(err, ErrNotMember) {
		t.Errorf("expected ErrNotMember, got %v", err)
	}
	err = s.AppendMessage(ctx, "srv1:nope", Message{ID: "m2", Text: "hi", UserID: "srv1:alice"})
	if !errors.Is(err, ErrChatNotFound) {
		t.Errorf("expected ErrChatNotFound, got %v", err)
	}
	if msgs, _ := s.Messages(ctx, c.ID); len(msgs) != 0 {
		t.Errorf("rejected messages were stored: %+v", msgs)
	}
}

func TestUserChatPushAndPull(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedUsers(t, s, "srv1:alice")

	for _, id := range []string{"srv1:c1", "srv1:c2", "srv1:c1"} {
		if err := s.AddUserChat(ctx, "srv1:alice", id); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.RemoveUserChat(ctx, "srv1:alice", "srv1:c1"); err != nil {
		t.Fatal(err)
	}
	alice, _ := s.FindUser(ctx, "srv1:alice")
	if want := []string{"srv1:c2"}; !reflect.DeepEqual(alice.Chats, want) {
		t.Errorf("alice chats = %v, want %v", alice.Chats, want)
	}
	if err := s.AddUserChat(ctx, "srv1:ghost", "srv1:c1"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestTenantsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedUsers(t, s, "srv1:alice", "srv10:alice")
	_, _ = s.CreateChat(ctx, Chat{ID: "srv1:c1", Users: []string{"srv1:alice"}})
	_, _ = s.CreateChat(ctx, Chat{ID: "srv10:c1", Users: []string{"srv10:alice"}})

	chats, _ := s.ListChats(ctx, "srv1")
	if len(chats) != 1 || chats[0].ID != "srv1:c1" {
		t.Errorf("srv1 listing leaked: %+v", chats)
	}

	if err := s.DeleteTenant(ctx, "srv1", false); err != nil {
		t.Fatal(err)
	}
	if _, err := s.FindChat(ctx, "srv10:c1"); err != nil {
		t.Errorf("other tenant's chat removed: %v", err)
	}
	u, err := s.FindUser(ctx, "srv1:alice")
	if err != nil || len(u.Chats) != 0 {
		t.Errorf("expected srv1:alice kept with no chats, got %+v %v", u, err)
	}
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedUsers(t, s, "srv1:alice")
	c, _ := s.CreateChat(ctx, Chat{ID: "srv1:c1", Users: []string{"srv1:alice"}})

	c.Users[0] = "srv1:mallory"
	got, _ := s.FindChat(ctx, "srv1:c1")
	if got.Users[0] != "srv1:alice" {
		t.Error("mutating a returned chat changed the store")
	}
}

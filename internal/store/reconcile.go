package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/GyoHeon/chat-back/internal/identity"
)

// Report summarizes a reconciliation pass.
type Report struct {
	UsersChecked int `json:"usersChecked"`
	UsersFixed   int `json:"usersFixed"`
	// DanglingMembers counts chat members with no user record.
	DanglingMembers int `json:"danglingMembers"`
}

// Reconcile realigns every tenant user's chats with the chat member lists,
// which are treated as authoritative. Each drifting chat is re-read before it
// is repaired, and every fix is a single push or pull on one user, so
// membership writes that land during the pass are kept.
func Reconcile(ctx context.Context, st Store, tenant string) (Report, error) {
	var rep Report

	users, err := st.ListUsers(ctx, tenant)
	if err != nil {
		return rep, fmt.Errorf("list users: %w", err)
	}
	chats, err := st.ListChats(ctx, tenant)
	if err != nil {
		return rep, fmt.Errorf("list chats: %w", err)
	}
	rep.UsersChecked = len(users)

	listed := make(map[string]map[string]bool, len(users))
	for _, u := range users {
		set := make(map[string]bool, len(u.Chats))
		for _, id := range u.Chats {
			set[id] = true
		}
		listed[u.ID] = set
	}

	// drift maps a chat id to the users whose listing of it is wrong.
	drift := make(map[string][]string)
	members := make(map[string]map[string]bool, len(chats))
	for _, c := range chats {
		set := make(map[string]bool, len(c.Users))
		for _, member := range c.Users {
			have, ok := listed[member]
			if !ok {
				rep.DanglingMembers++
				continue
			}
			set[member] = true
			if !have[c.ID] {
				drift[c.ID] = append(drift[c.ID], member)
			}
		}
		members[c.ID] = set
	}
	for _, u := range users {
		for _, id := range u.Chats {
			if !members[id][u.ID] {
				drift[id] = append(drift[id], u.ID)
			}
		}
	}

	fixed := make(map[string]bool)
	for _, chatID := range slices.Sorted(maps.Keys(drift)) {
		changed, err := repairChat(ctx, st, chatID, drift[chatID])
		for _, id := range changed {
			fixed[id] = true
		}
		if err != nil {
			rep.UsersFixed = len(fixed)
			return rep, fmt.Errorf("repair chat %s: %w", chatID, err)
		}
	}
	rep.UsersFixed = len(fixed)
	return rep, nil
}

// RepairChat brings the chats of every tenant user in line with a single
// chat's member list. A chat that no longer exists is removed from every
// user.
func RepairChat(ctx context.Context, st Store, chatID string) error {
	tenant, err := identity.TenantOf(chatID)
	if err != nil {
		return err
	}
	users, err := st.ListUsers(ctx, tenant)
	if err != nil {
		return err
	}
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	_, err = repairChat(ctx, st, chatID, ids)
	return err
}

// repairChat re-reads the chat and the given users and pushes or pulls
// chatID on each user whose listing disagrees with the chat. It returns the
// users it changed.
func repairChat(ctx context.Context, st Store, chatID string, userIDs []string) ([]string, error) {
	chat, err := st.FindChat(ctx, chatID)
	if err != nil && !errors.Is(err, ErrChatNotFound) {
		return nil, err
	}
	exists := err == nil

	users, err := st.FindUsers(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	var changed []string
	for _, u := range users {
		member := exists && chat.HasUser(u.ID)
		listed := slices.Contains(u.Chats, chatID)
		switch {
		case member && !listed:
			err = st.AddUserChat(ctx, u.ID, chatID)
		case !member && listed:
			err = st.RemoveUserChat(ctx, u.ID, chatID)
		default:
			continue
		}
		if errors.Is(err, ErrUserNotFound) {
			continue
		}
		if err != nil {
			return changed, fmt.Errorf("repair user %s: %w", u.ID, err)
		}
		changed = append(changed, u.ID)
	}
	return changed, nil
}

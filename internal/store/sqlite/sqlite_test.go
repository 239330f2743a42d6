package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sonu-tech-hub/mychat-rtc/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedUser(t *testing.T, s *SQLiteStore, username string) *store.User {
	t.Helper()
	user, err := s.CreateUser(context.Background(), username, "hash")
	if err != nil {
		t.Fatalf("failed to create user %s: %v", username, err)
	}
	return user
}

func seedMessage(t *testing.T, s *SQLiteStore, senderID, recipientID string, createdAt time.Time) *store.Message {
	t.Helper()
	msg := &store.Message{
		ID:          uuid.New().String(),
		SenderID:    senderID,
		RecipientID: &recipientID,
		Content:     "hello",
		Type:        store.MessageTypeText,
		State:       store.MessageStateActive,
		CreatedAt:   createdAt,
	}
	if err := s.SaveMessage(context.Background(), msg); err != nil {
		t.Fatalf("failed to save message: %v", err)
	}
	return msg
}

func TestUserLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	if alice.Status != store.StatusOffline {
		t.Fatalf("new user status = %q, want offline", alice.Status)
	}

	byName, err := s.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if byName.ID != alice.ID {
		t.Fatalf("GetUserByUsername id = %q, want %q", byName.ID, alice.ID)
	}

	if _, err := s.CreateUser(ctx, "alice", "other-hash"); err == nil {
		t.Fatalf("duplicate username must fail")
	}

	seen := time.Now().UTC().Truncate(time.Second)
	if err := s.UpdatePresence(ctx, alice.ID, store.StatusAway, seen); err != nil {
		t.Fatalf("UpdatePresence: %v", err)
	}
	got, err := s.GetUserByID(ctx, alice.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if got.Status != store.StatusAway {
		t.Fatalf("status = %q, want away", got.Status)
	}
	if !got.LastSeen.Equal(seen) {
		t.Fatalf("last seen = %v, want %v", got.LastSeen, seen)
	}

	if _, err := s.GetUserByID(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing user error = %v, want ErrNotFound", err)
	}
}

func TestGroupMembership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	bob := seedUser(t, s, "bob")
	carol := seedUser(t, s, "carol")

	group, err := s.CreateGroup(ctx, "trio", []string{alice.ID, bob.ID, carol.ID})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	members, err := s.ListGroupMembers(ctx, group.ID)
	if err != nil {
		t.Fatalf("ListGroupMembers: %v", err)
	}
	if len(members) != 3 {
		t.Fatalf("members = %d, want 3", len(members))
	}

	tests := []struct {
		userID string
		want   bool
	}{
		{alice.ID, true},
		{bob.ID, true},
		{"stranger", false},
	}
	for _, tt := range tests {
		ok, err := s.IsGroupMember(ctx, group.ID, tt.userID)
		if err != nil {
			t.Fatalf("IsGroupMember(%s): %v", tt.userID, err)
		}
		if ok != tt.want {
			t.Fatalf("IsGroupMember(%s) = %v, want %v", tt.userID, ok, tt.want)
		}
	}

	if _, err := s.GetGroupByID(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing group error = %v, want ErrNotFound", err)
	}
}

func TestMessageRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	bob := seedUser(t, s, "bob")

	msg := &store.Message{
		ID:          uuid.New().String(),
		SenderID:    alice.ID,
		RecipientID: &bob.ID,
		Content:     "with attachment",
		Type:        store.MessageTypeImage,
		Attachments: []string{"photo-1.jpg", "photo-2.jpg"},
		State:       store.MessageStateActive,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	got, err := s.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Content != msg.Content || got.Type != store.MessageTypeImage {
		t.Fatalf("got %+v, want content/type preserved", got)
	}
	if len(got.Attachments) != 2 || got.Attachments[0] != "photo-1.jpg" {
		t.Fatalf("attachments = %v", got.Attachments)
	}
	if got.RecipientID == nil || *got.RecipientID != bob.ID {
		t.Fatalf("recipient = %v, want %s", got.RecipientID, bob.ID)
	}
	if got.GroupID != nil {
		t.Fatalf("group id must be nil for direct messages")
	}

	readAt := time.Now().UTC()
	got.Delivered = true
	got.Read = true
	got.ReadAt = &readAt
	if err := s.UpdateMessage(ctx, got); err != nil {
		t.Fatalf("UpdateMessage: %v", err)
	}
	updated, err := s.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetMessage after update: %v", err)
	}
	if !updated.Read || updated.ReadAt == nil {
		t.Fatalf("read flag not persisted: %+v", updated)
	}

	if err := s.DeleteMessage(ctx, msg.ID); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if _, err := s.GetMessage(ctx, msg.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("deleted message error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteMessage(ctx, msg.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("double delete error = %v, want ErrNotFound", err)
	}
}

func TestListMessagesPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	bob := seedUser(t, s, "bob")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		msg := seedMessage(t, s, alice.ID, bob.ID, base.Add(time.Duration(i)*time.Minute))
		ids = append(ids, msg.ID)
	}

	key := store.DirectConversationKey(alice.ID, bob.ID)

	page, err := s.ListMessages(ctx, key, 2, nil)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("page size = %d, want 2", len(page))
	}
	if page[0].ID != ids[4] || page[1].ID != ids[3] {
		t.Fatalf("first page = [%s %s], want newest first", page[0].ID, page[1].ID)
	}

	rest, err := s.ListMessages(ctx, key, 10, &page[1].ID)
	if err != nil {
		t.Fatalf("ListMessages before: %v", err)
	}
	if len(rest) != 3 {
		t.Fatalf("rest size = %d, want 3", len(rest))
	}
	if rest[0].ID != ids[2] || rest[2].ID != ids[0] {
		t.Fatalf("rest = [%s .. %s], want [%s .. %s]", rest[0].ID, rest[2].ID, ids[2], ids[0])
	}
}

func TestListMessagesTieBreakByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	bob := seedUser(t, s, "bob")

	// Same timestamp; ordering must fall back to the id.
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := seedMessage(t, s, alice.ID, bob.ID, at)
	b := seedMessage(t, s, alice.ID, bob.ID, at)
	low, high := a, b
	if b.ID < a.ID {
		low, high = b, a
	}

	key := store.DirectConversationKey(alice.ID, bob.ID)
	page, err := s.ListMessages(ctx, key, 1, nil)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if page[0].ID != high.ID {
		t.Fatalf("first = %s, want lexicographically higher id %s", page[0].ID, high.ID)
	}

	older, err := s.ListMessages(ctx, key, 1, &high.ID)
	if err != nil {
		t.Fatalf("ListMessages before: %v", err)
	}
	if len(older) != 1 || older[0].ID != low.ID {
		t.Fatalf("older = %v, want %s", older, low.ID)
	}
}

func TestConversationUnreadCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	bob := seedUser(t, s, "bob")
	key := store.DirectConversationKey(alice.ID, bob.ID)

	msg := seedMessage(t, s, alice.ID, bob.ID, time.Now().UTC())
	if err := s.TouchConversation(ctx, key, msg.ID); err != nil {
		t.Fatalf("TouchConversation: %v", err)
	}
	if err := s.IncrementUnread(ctx, key, bob.ID); err != nil {
		t.Fatalf("IncrementUnread: %v", err)
	}
	if err := s.IncrementUnread(ctx, key, bob.ID); err != nil {
		t.Fatalf("IncrementUnread: %v", err)
	}

	count, err := s.UnreadCount(ctx, key, bob.ID)
	if err != nil {
		t.Fatalf("UnreadCount: %v", err)
	}
	if count != 2 {
		t.Fatalf("unread = %d, want 2", count)
	}

	if err := s.DecrementUnread(ctx, key, bob.ID); err != nil {
		t.Fatalf("DecrementUnread: %v", err)
	}
	count, _ = s.UnreadCount(ctx, key, bob.ID)
	if count != 1 {
		t.Fatalf("unread after decrement = %d, want 1", count)
	}

	// Decrement never goes below zero.
	_ = s.DecrementUnread(ctx, key, bob.ID)
	_ = s.DecrementUnread(ctx, key, bob.ID)
	count, _ = s.UnreadCount(ctx, key, bob.ID)
	if count != 0 {
		t.Fatalf("unread floor = %d, want 0", count)
	}

	if err := s.IncrementUnread(ctx, key, bob.ID); err != nil {
		t.Fatalf("IncrementUnread: %v", err)
	}
	if err := s.ResetUnread(ctx, key, bob.ID); err != nil {
		t.Fatalf("ResetUnread: %v", err)
	}
	count, _ = s.UnreadCount(ctx, key, bob.ID)
	if count != 0 {
		t.Fatalf("unread after reset = %d, want 0", count)
	}

	conv, err := s.GetConversation(ctx, key)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if conv.LastMessageID == nil || *conv.LastMessageID != msg.ID {
		t.Fatalf("last message = %v, want %q", conv.LastMessageID, msg.ID)
	}
}

func TestCallLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	bob := seedUser(t, s, "bob")

	call := &store.Call{
		ID:          uuid.New().String(),
		CallerID:    alice.ID,
		RecipientID: bob.ID,
		Type:        store.CallTypeVideo,
		Status:      store.CallStatusRinging,
		StartedAt:   time.Now().UTC(),
	}
	if err := s.CreateCall(ctx, call); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}

	endedAt := call.StartedAt.Add(90 * time.Second)
	call.Status = store.CallStatusEnded
	call.EndedAt = &endedAt
	call.Duration = 90 * time.Second
	if err := s.UpdateCall(ctx, call); err != nil {
		t.Fatalf("UpdateCall: %v", err)
	}

	got, err := s.GetCall(ctx, call.ID)
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if got.Status != store.CallStatusEnded {
		t.Fatalf("status = %q, want ended", got.Status)
	}
	if got.Duration != 90*time.Second {
		t.Fatalf("duration = %v, want 90s", got.Duration)
	}
	if got.EndedAt == nil {
		t.Fatalf("ended at must be set")
	}

	if _, err := s.GetCall(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing call error = %v, want ErrNotFound", err)
	}
	if err := s.UpdateCall(ctx, &store.Call{ID: "missing"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("update missing call error = %v, want ErrNotFound", err)
	}
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAddMessage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	nowMs := time.Now().UnixMilli()

	a := mustCreateUser(t, store, "msg-a")
	b := mustCreateUser(t, store, "msg-b")
	outsider := mustCreateUser(t, store, "msg-outsider")

	dm, _, err := store.FindOrCreateDM(ctx, a.ID, b.ID, nowMs)
	if err != nil {
		t.Fatalf("FindOrCreateDM() error = %v", err)
	}

	msg, err := store.AddMessage(ctx, dm.ID, a.ID, "hi", nowMs)
	if err != nil {
		t.Fatalf("AddMessage() error = %v", err)
	}
	if msg.Type != MessageTypeUser {
		t.Fatalf("type = %q, want %q", msg.Type, MessageTypeUser)
	}
	if msg.CreatedAtMs != nowMs {
		t.Fatalf("CreatedAtMs = %d, want %d", msg.CreatedAtMs, nowMs)
	}

	// Only members can post.
	if _, err := store.AddMessage(ctx, dm.ID, outsider.ID, "let me in", nowMs); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("non-member error = %v, want ErrAccessDenied", err)
	}
}

func TestAddBroadcastAnnouncement(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	nowMs := time.Now().UnixMilli()

	admin := mustCreateUser(t, store, "announcer")

	msg, err := store.AddBroadcastAnnouncement(ctx, admin.ID, "server maintenance at noon", nowMs)
	if err != nil {
		t.Fatalf("AddBroadcastAnnouncement() error = %v", err)
	}
	if msg.ChatID != AnnouncementsChatID {
		t.Fatalf("chat = %q, want %q", msg.ChatID, AnnouncementsChatID)
	}
	if msg.Type != MessageTypeAnnouncement {
		t.Fatalf("type = %q, want %q", msg.Type, MessageTypeAnnouncement)
	}

	msgs, _, err := store.ListMessages(ctx, AnnouncementsChatID, 10, "")
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "server maintenance at noon" {
		t.Fatalf("announcements = %v, want the broadcast", msgs)
	}
}

func TestListMessages_OrderAndPaging(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	nowMs := time.Now().UnixMilli()

	a := mustCreateUser(t, store, "page-a")
	b := mustCreateUser(t, store, "page-b")
	dm, _, err := store.FindOrCreateDM(ctx, a.ID, b.ID, nowMs)
	if err != nil {
		t.Fatalf("FindOrCreateDM() error = %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := store.AddMessage(ctx, dm.ID, a.ID, fmt.Sprintf("m%d", i), nowMs+int64(i)); err != nil {
			t.Fatalf("AddMessage(%d) error = %v", i, err)
		}
	}

	page, hasMore, err := store.ListMessages(ctx, dm.ID, 3, "")
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if !hasMore {
		t.Fatal("hasMore = false, want true")
	}
	if len(page) != 3 {
		t.Fatalf("page length = %d, want 3", len(page))
	}
	// Latest page, ascending within it.
	if page[0].Text != "m2" || page[2].Text != "m4" {
		t.Fatalf("page = [%s..%s], want [m2..m4]", page[0].Text, page[2].Text)
	}

	older, hasMore, err := store.ListMessages(ctx, dm.ID, 3, page[0].ID)
	if err != nil {
		t.Fatalf("ListMessages(before) error = %v", err)
	}
	if hasMore {
		t.Fatal("hasMore = true on the final page, want false")
	}
	if len(older) != 2 || older[0].Text != "m0" || older[1].Text != "m1" {
		t.Fatalf("older page = %v, want [m0 m1]", older)
	}
}

func TestListMessages_PagesThroughSameTimestamp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	nowMs := time.Now().UnixMilli()

	a := mustCreateUser(t, store, "tie-a")
	b := mustCreateUser(t, store, "tie-b")
	dm, _, err := store.FindOrCreateDM(ctx, a.ID, b.ID, nowMs)
	if err != nil {
		t.Fatalf("FindOrCreateDM() error = %v", err)
	}

	// One batch, one timestamp. The cursor must still walk every message.
	const total = 5
	for i := 0; i < total; i++ {
		if _, err := store.AddMessage(ctx, dm.ID, a.ID, fmt.Sprintf("t%d", i), nowMs); err != nil {
			t.Fatalf("AddMessage(%d) error = %v", i, err)
		}
	}

	seen := make(map[string]bool)
	before := ""
	for {
		page, hasMore, err := store.ListMessages(ctx, dm.ID, 2, before)
		if err != nil {
			t.Fatalf("ListMessages(before=%q) error = %v", before, err)
		}
		if len(page) == 0 {
			break
		}
		for _, m := range page {
			if seen[m.ID] {
				t.Fatalf("message %q returned on two pages", m.ID)
			}
			seen[m.ID] = true
		}
		if !hasMore {
			break
		}
		before = page[0].ID
	}
	if len(seen) != total {
		t.Fatalf("paging reached %d messages, want all %d", len(seen), total)
	}
}

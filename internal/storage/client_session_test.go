package storage

import (
	"context"
	"testing"
	"time"
)

func TestLogin_TracksCurrentAndSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	nowMs := time.Now().UnixMilli()

	u1 := mustCreateUser(t, store, "first")
	u2 := mustCreateUser(t, store, "second")

	sess, err := store.Login(ctx, u1.ID, nowMs)
	if err != nil {
		t.Fatalf("Login(u1) error = %v", err)
	}
	if sess.CurrentUserID == nil || *sess.CurrentUserID != u1.ID {
		t.Fatalf("current = %v, want %s", sess.CurrentUserID, u1.ID)
	}

	sess, err = store.Login(ctx, u2.ID, nowMs)
	if err != nil {
		t.Fatalf("Login(u2) error = %v", err)
	}
	if *sess.CurrentUserID != u2.ID {
		t.Fatalf("current = %s, want %s", *sess.CurrentUserID, u2.ID)
	}
	if len(sess.LoggedInUserIDs) != 2 {
		t.Fatalf("logged-in set = %v, want both users", sess.LoggedInUserIDs)
	}

	// Users are marked online.
	got, err := store.GetUserByID(ctx, u1.ID)
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if !got.Online {
		t.Fatal("u1 should be online after login")
	}

	loggedIn, err := store.IsLoggedIn(ctx)
	if err != nil {
		t.Fatalf("IsLoggedIn() error = %v", err)
	}
	if !loggedIn {
		t.Fatal("IsLoggedIn() = false, want true")
	}
}

func TestLogin_SameUserTwiceDoesNotDuplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	nowMs := time.Now().UnixMilli()

	u := mustCreateUser(t, store, "repeat")

	if _, err := store.Login(ctx, u.ID, nowMs); err != nil {
		t.Fatalf("first Login() error = %v", err)
	}
	sess, err := store.Login(ctx, u.ID, nowMs)
	if err != nil {
		t.Fatalf("second Login() error = %v", err)
	}
	if len(sess.LoggedInUserIDs) != 1 {
		t.Fatalf("logged-in set = %v, want exactly one entry", sess.LoggedInUserIDs)
	}
}

func TestLogout_ClearsSessionAndOnlineFlags(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	nowMs := time.Now().UnixMilli()

	u1 := mustCreateUser(t, store, "out1")
	u2 := mustCreateUser(t, store, "out2")
	if _, err := store.Login(ctx, u1.ID, nowMs); err != nil {
		t.Fatalf("Login(u1) error = %v", err)
	}
	if _, err := store.Login(ctx, u2.ID, nowMs); err != nil {
		t.Fatalf("Login(u2) error = %v", err)
	}

	if err := store.Logout(ctx, nowMs); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	sess, err := store.ClientSession(ctx)
	if err != nil {
		t.Fatalf("ClientSession() error = %v", err)
	}
	if sess.CurrentUserID != nil || len(sess.LoggedInUserIDs) != 0 {
		t.Fatalf("session after logout = %+v, want empty", sess)
	}

	for _, id := range []string{u1.ID, u2.ID} {
		got, err := store.GetUserByID(ctx, id)
		if err != nil {
			t.Fatalf("GetUserByID() error = %v", err)
		}
		if got.Online {
			t.Fatalf("user %s still online after logout", id)
		}
	}
}

func TestLogout_NoopWhenNothingLoggedIn(t *testing.T) {
	store := newTestStore(t)
	if err := store.Logout(context.Background(), time.Now().UnixMilli()); err != nil {
		t.Fatalf("Logout() on empty session error = %v", err)
	}
}

func TestSwitchCurrentUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	nowMs := time.Now().UnixMilli()

	u1 := mustCreateUser(t, store, "sw1")
	u2 := mustCreateUser(t, store, "sw2")
	stranger := mustCreateUser(t, store, "sw3")

	if _, err := store.Login(ctx, u1.ID, nowMs); err != nil {
		t.Fatalf("Login(u1) error = %v", err)
	}
	if _, err := store.Login(ctx, u2.ID, nowMs); err != nil {
		t.Fatalf("Login(u2) error = %v", err)
	}

	if err := store.SwitchCurrentUser(ctx, u1.ID); err != nil {
		t.Fatalf("SwitchCurrentUser(u1) error = %v", err)
	}
	sess, err := store.ClientSession(ctx)
	if err != nil {
		t.Fatalf("ClientSession() error = %v", err)
	}
	if *sess.CurrentUserID != u1.ID {
		t.Fatalf("current = %s, want %s", *sess.CurrentUserID, u1.ID)
	}

	// Switching to a user that never logged in is silently ignored.
	if err := store.SwitchCurrentUser(ctx, stranger.ID); err != nil {
		t.Fatalf("SwitchCurrentUser(stranger) error = %v", err)
	}
	sess, err = store.ClientSession(ctx)
	if err != nil {
		t.Fatalf("ClientSession() error = %v", err)
	}
	if *sess.CurrentUserID != u1.ID {
		t.Fatalf("current = %s, want unchanged %s", *sess.CurrentUserID, u1.ID)
	}
}

package pebblestore

import (
	"context"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/duskline/securechat/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		t.Fatalf("pebble.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{db: db}
}

func TestAddUserAndLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.AddUser(ctx, "Ada Lovelace", "ada@example.com", "hash")
	if err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty id")
	}

	byEmail, err := s.GetUserByEmail(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if byEmail.ID != id {
		t.Fatalf("got id %q, want %q", byEmail.ID, id)
	}

	byID, err := s.GetUserByID(ctx, id)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if byID.Email != "ada@example.com" {
		t.Fatalf("got email %q", byID.Email)
	}
}

func TestAddUserDuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AddUser(ctx, "Ada", "ada@example.com", "hash"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if _, err := s.AddUser(ctx, "Ada Again", "ada@example.com", "hash2"); err != store.ErrEmailExists {
		t.Fatalf("got %v, want ErrEmailExists", err)
	}
}

func TestUserIDIsDeterministic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.AddUser(ctx, "Ada", "ada@example.com", "hash")
	if err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if id != deriveUserID("ada@example.com") {
		t.Fatalf("id derivation is not deterministic: got %q", id)
	}
}

func TestGetUserByEmailNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetUserByEmail(context.Background(), "nobody@example.com"); err != store.ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestStoreMessageAssignsIncreasingIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.StoreMessage(ctx, "sender-1", "recipient-1", []byte("hi"))
	if err != nil {
		t.Fatalf("StoreMessage: %v", err)
	}
	id2, err := s.StoreMessage(ctx, "sender-1", "recipient-1", []byte("again"))
	if err != nil {
		t.Fatalf("StoreMessage: %v", err)
	}
	if id2 <= id1 {
		t.Fatalf("expected increasing ids, got %d then %d", id1, id2)
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Ada@Example.COM \n"); got != "ada@example.com" {
		t.Fatalf("got %q", got)
	}
}

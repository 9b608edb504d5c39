package auth

import (
	"context"
	"testing"
	"time"

	"github.com/duskline/securechat/chatproto"
	"github.com/duskline/securechat/store"
)

type fakeStore struct {
	users map[string]*chatproto.User // by normalized email
}

func newFakeStore() *fakeStore { return &fakeStore{users: map[string]*chatproto.User{}} }

func (f *fakeStore) Connect(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                      { return nil }

func (f *fakeStore) AddUser(ctx context.Context, fullName, emailNormalized, passwordHash string) (string, error) {
	if _, ok := f.users[emailNormalized]; ok {
		return "", store.ErrEmailExists
	}
	id := "id-" + emailNormalized
	f.users[emailNormalized] = &chatproto.User{
		ID: id, FullName: fullName, Email: emailNormalized, PasswordHash: passwordHash, CreatedAt: time.Now(),
	}
	return id, nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, emailNormalized string) (*chatproto.User, error) {
	u, ok := f.users[emailNormalized]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, id string) (*chatproto.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) StoreMessage(ctx context.Context, senderID, recipientID string, payload []byte) (int64, error) {
	return 1, nil
}

func TestSignUpThenAuthenticate(t *testing.T) {
	st := newFakeStore()
	ctx := context.Background()

	email := NormalizeEmail(" Ada@Example.com ")
	if _, err := SignUp(ctx, st, "Ada Lovelace", email, "hunter2"); err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	user, err := Authenticate(ctx, st, email, "hunter2")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user == nil {
		t.Fatal("expected a user, got nil")
	}
}

func TestAuthenticateWrongPassword(t *testing.T) {
	st := newFakeStore()
	ctx := context.Background()
	email := NormalizeEmail("ada@example.com")
	if _, err := SignUp(ctx, st, "Ada", email, "hunter2"); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	user, err := Authenticate(ctx, st, email, "wrong")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user != nil {
		t.Fatal("expected nil user for wrong password")
	}
}

func TestAuthenticateUnknownEmailMatchesShapeOfWrongPassword(t *testing.T) {
	st := newFakeStore()
	user, err := Authenticate(context.Background(), st, "nobody@example.com", "whatever")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user != nil {
		t.Fatal("expected nil user for an unknown email")
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	st := newFakeStore()
	ctx := context.Background()
	email := NormalizeEmail("ada@example.com")
	if _, err := SignUp(ctx, st, "Ada", email, "hunter2"); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if _, err := SignUp(ctx, st, "Ada Again", email, "hunter3"); err != store.ErrEmailExists {
		t.Fatalf("got %v, want ErrEmailExists", err)
	}
}

package chatserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/duskline/securechat/chatproto"
	"github.com/duskline/securechat/store"
)

type memStore struct {
	byEmail map[string]*chatproto.User
}

func newMemStore() *memStore { return &memStore{byEmail: map[string]*chatproto.User{}} }

func (m *memStore) Connect(ctx context.Context) error { return nil }
func (m *memStore) Close() error                      { return nil }
func (m *memStore) AddUser(ctx context.Context, fullName, emailNormalized, passwordHash string) (string, error) {
	if _, ok := m.byEmail[emailNormalized]; ok {
		return "", store.ErrEmailExists
	}
	id := "id-" + emailNormalized
	m.byEmail[emailNormalized] = &chatproto.User{ID: id, FullName: fullName, Email: emailNormalized, PasswordHash: passwordHash}
	return id, nil
}
func (m *memStore) GetUserByEmail(ctx context.Context, emailNormalized string) (*chatproto.User, error) {
	u, ok := m.byEmail[emailNormalized]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}
func (m *memStore) GetUserByID(ctx context.Context, id string) (*chatproto.User, error) {
	for _, u := range m.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}
func (m *memStore) StoreMessage(ctx context.Context, senderID, recipientID string, payload []byte) (int64, error) {
	return 1, nil
}

func TestNewFillsDefaults(t *testing.T) {
	s, err := New(Config{}, newMemStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.cfg.MaxLineBytes == 0 || s.cfg.MaxConnsPerIP == 0 {
		t.Fatal("expected DefaultConfig to fill zero-valued fields")
	}
}

func TestNewRejectsNilStore(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Fatal("expected an error for a nil store")
	}
}

func TestServeAcceptsAndShutsDownOnContextCancel(t *testing.T) {
	s, err := New(Config{MaxConnsPerIP: 1}, newMemStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- s.Serve(ctx, ln) }()

	cancel()
	select {
	case err := <-serveErr:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}

func TestAdmitEnforcesPerIPLimit(t *testing.T) {
	s, err := New(Config{MaxConnsPerIP: 1}, newMemStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !s.admit("10.0.0.1") {
		t.Fatal("expected the first connection from an IP to be admitted")
	}
	if s.admit("10.0.0.1") {
		t.Fatal("expected a second connection from the same IP to be rejected")
	}
	s.release("10.0.0.1")
	if !s.admit("10.0.0.1") {
		t.Fatal("expected admission to succeed again after release")
	}
}

package chatclient

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/duskline/securechat/chatserver"
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

func TestSignUpThenLoginEndToEnd(t *testing.T) {
	srv, err := chatserver.New(chatserver.Config{}, newMemStore())
	if err != nil {
		t.Fatalf("chatserver.New: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, ln)

	client, err := Dial(context.Background(), ln.Addr().String(), nil, 0)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	resp, err := client.SignUp("Ada Lovelace", "ada@example.com", "hunter2")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if resp.Status != chatproto.StatusOK {
		t.Fatalf("got status %q, message %q", resp.Status, resp.Message)
	}

	loginResp, err := client.Login("ada@example.com", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if loginResp.Status != chatproto.StatusOK {
		t.Fatalf("got status %q, message %q", loginResp.Status, loginResp.Message)
	}
	if loginResp.Message != "Login successful. Welcome, Ada Lovelace!" {
		t.Fatalf("got message %q", loginResp.Message)
	}
}

func TestDialWithRetryGivesUpOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	// Nothing listens on this port; DialWithRetry must return once ctx expires.
	_, err := DialWithRetry(ctx, "127.0.0.1:1", nil, 0)
	if err == nil {
		t.Fatal("expected DialWithRetry to fail once the context is done")
	}
}

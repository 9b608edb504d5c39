package session

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/duskline/securechat/chatproto"
	"github.com/duskline/securechat/crypto/handshake"
	"github.com/duskline/securechat/registry"
	"github.com/duskline/securechat/router"
	"github.com/duskline/securechat/store"
	"github.com/duskline/securechat/wire"
)

type memStore struct {
	usersByEmail map[string]*chatproto.User
	usersByID    map[string]*chatproto.User
}

func newMemStore() *memStore {
	return &memStore{usersByEmail: map[string]*chatproto.User{}, usersByID: map[string]*chatproto.User{}}
}

func (m *memStore) Connect(ctx context.Context) error { return nil }
func (m *memStore) Close() error                      { return nil }
func (m *memStore) AddUser(ctx context.Context, fullName, emailNormalized, passwordHash string) (string, error) {
	if _, ok := m.usersByEmail[emailNormalized]; ok {
		return "", store.ErrEmailExists
	}
	id := "id-" + emailNormalized
	u := &chatproto.User{ID: id, FullName: fullName, Email: emailNormalized, PasswordHash: passwordHash, CreatedAt: time.Now()}
	m.usersByEmail[emailNormalized] = u
	m.usersByID[id] = u
	return id, nil
}
func (m *memStore) GetUserByEmail(ctx context.Context, emailNormalized string) (*chatproto.User, error) {
	u, ok := m.usersByEmail[emailNormalized]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}
func (m *memStore) GetUserByID(ctx context.Context, id string) (*chatproto.User, error) {
	u, ok := m.usersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}
func (m *memStore) StoreMessage(ctx context.Context, senderID, recipientID string, payload []byte) (int64, error) {
	return 1, nil
}

func newTestSession(t *testing.T) (*Session, net.Conn) {
	t.Helper()
	priv, err := handshake.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { serverConn.Close(); clientConn.Close() })

	st := newMemStore()
	reg := registry.New()
	rt := router.New(reg, st)
	deps := Deps{
		PrivateKey:   priv,
		Registry:     reg,
		Router:       rt,
		Store:        st,
		MaxLineBytes: wire.DefaultMaxLineBytes,
		Logger:       zerolog.Nop(),
	}
	return New(serverConn, deps), clientConn
}

func TestSessionHandshakeThenLoginUnknownCommand(t *testing.T) {
	sess, clientConn := newTestSession(t)

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(context.Background()) }()

	clientRW := bufio.NewReadWriter(bufio.NewReader(clientConn), bufio.NewWriter(clientConn))
	priv, err := handshake.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	channel, err := handshake.ClientHandshake(context.Background(), clientRW, &priv.PublicKey, handshake.Options{})
	if err != nil {
		t.Fatalf("ClientHandshake: %v", err)
	}

	// Send an envelope type not valid pre-auth.
	inner := wire.Envelope{Type: "whoisonline"}
	innerBytes, err := wire.EncodeEnvelope(inner)
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}
	blob, err := channel.Encrypt(innerBytes)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	outer := wire.EncryptedEnvelope{Type: chatproto.TypeEncryptedPayload, Payload: blob}
	b, err := wire.EncodeEncrypted(outer)
	if err != nil {
		t.Fatalf("EncodeEncrypted: %v", err)
	}
	if err := wire.WriteLine(clientRW.Writer, b); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}

	line, err := wire.ReadLine(clientRW.Reader, 0)
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	replyEnv, err := wire.DecodeEncrypted(line)
	if err != nil {
		t.Fatalf("DecodeEncrypted: %v", err)
	}
	plain, err := channel.Decrypt(replyEnv.Payload)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	decoded, err := wire.DecodeEnvelope(plain)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if decoded.Type != chatproto.TypeResponse {
		t.Fatalf("got type %q", decoded.Type)
	}

	clientConn.Close()
	<-runErr
}

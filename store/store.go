// Package store defines the account-store contract the rest of the chat
// server depends on. The only implementation shipped here is
// store/pebblestore, but auth, router, and chatserver depend on this
// interface rather than the concrete type so a test double can stand in
// for it.
package store

import (
	"context"
	"errors"

	"github.com/duskline/securechat/chatproto"
)

// ErrEmailExists is returned by AddUser when the normalized email already
// has an account.
var ErrEmailExists = errors.New("store: email already exists")

// ErrNotFound is returned by GetUserByEmail and GetUserByID when no row
// matches.
var ErrNotFound = errors.New("store: user not found")

// AccountStore persists accounts and offline message bodies. Connect must
// be called once before any other method; Close releases underlying
// resources on shutdown.
type AccountStore interface {
	Connect(ctx context.Context) error
	Close() error
	AddUser(ctx context.Context, fullName, emailNormalized, passwordHash string) (id string, err error)
	GetUserByEmail(ctx context.Context, emailNormalized string) (*chatproto.User, error)
	GetUserByID(ctx context.Context, id string) (*chatproto.User, error)
	StoreMessage(ctx context.Context, senderID, recipientID string, payload []byte) (id int64, err error)
}

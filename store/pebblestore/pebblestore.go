// Package pebblestore implements store.AccountStore on top of
// cockroachdb/pebble, an embedded ordered key-value engine. Pebble gives us
// durable writes and crash-safe recovery without running a separate
// database process, the same "small footprint, no external dependency"
// tradeoff the original SQLite-backed store made, just with a key-value
// rather than relational shape.
package pebblestore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"github.com/duskline/securechat/chatproto"
	"github.com/duskline/securechat/store"
)

// Key layout:
//
//	u:<id>              -> json(userRecord)
//	e:<normalizedEmail>  -> <id>
//	m:<big-endian id>    -> json(messageRecord)
//	seq:msg              -> big-endian uint64, next message id
//
// Users are immutable once created, so no versioning is needed. Messages
// are appended only; StoreMessage is the sole writer of the seq:msg
// counter and holds mu for the read-modify-write, since pebble itself has
// no atomic increment primitive.
type Store struct {
	path string
	db   *pebble.DB

	mu sync.Mutex
}

// New returns a Store rooted at path. Connect must still be called before
// use.
func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Connect(ctx context.Context) error {
	db, err := pebble.Open(s.path, &pebble.Options{})
	if err != nil {
		return fmt.Errorf("pebblestore: open %s: %w", s.path, err)
	}
	s.db = db
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type userRecord struct {
	ID           string    `json:"id"`
	FullName     string    `json:"full_name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

func userKey(id string) []byte     { return []byte("u:" + id) }
func emailKey(email string) []byte { return []byte("e:" + email) }

// deriveUserID computes a deterministic UUIDv5 over the DNS namespace and
// the already-normalized email, matching the original server's
// uuid.uuid5(uuid.NAMESPACE_DNS, norm_email) derivation so ids are stable
// across reimplementations.
func deriveUserID(emailNormalized string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(emailNormalized)).String()
}

func (s *Store) AddUser(ctx context.Context, fullName, emailNormalized, passwordHash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, closer, err := s.db.Get(emailKey(emailNormalized)); err == nil {
		closer.Close()
		return "", store.ErrEmailExists
	} else if err != pebble.ErrNotFound {
		return "", fmt.Errorf("pebblestore: lookup email: %w", err)
	}

	id := deriveUserID(emailNormalized)
	rec := userRecord{
		ID:           id,
		FullName:     fullName,
		Email:        emailNormalized,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("pebblestore: marshal user: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(userKey(id), b, nil); err != nil {
		return "", fmt.Errorf("pebblestore: stage user: %w", err)
	}
	if err := batch.Set(emailKey(emailNormalized), []byte(id), nil); err != nil {
		return "", fmt.Errorf("pebblestore: stage email index: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return "", fmt.Errorf("pebblestore: commit user: %w", err)
	}
	return id, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, emailNormalized string) (*chatproto.User, error) {
	v, closer, err := s.db.Get(emailKey(emailNormalized))
	if err == pebble.ErrNotFound {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pebblestore: lookup email: %w", err)
	}
	id := string(v)
	closer.Close()
	return s.GetUserByID(ctx, id)
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*chatproto.User, error) {
	v, closer, err := s.db.Get(userKey(id))
	if err == pebble.ErrNotFound {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pebblestore: lookup user: %w", err)
	}
	defer closer.Close()

	var rec userRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return nil, fmt.Errorf("pebblestore: decode user: %w", err)
	}
	return &chatproto.User{
		ID:           rec.ID,
		FullName:     rec.FullName,
		Email:        rec.Email,
		PasswordHash: rec.PasswordHash,
		CreatedAt:    rec.CreatedAt,
	}, nil
}

type messageRecord struct {
	ID          int64     `json:"id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Payload     []byte    `json:"payload"`
	Timestamp   time.Time `json:"timestamp"`
	Status      string    `json:"status"`
}

const seqKey = "seq:msg"

func messageKey(id int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return append([]byte("m:"), b[:]...)
}

func (s *Store) StoreMessage(ctx context.Context, senderID, recipientID string, payload []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next uint64 = 1
	if v, closer, err := s.db.Get([]byte(seqKey)); err == nil {
		next = binary.BigEndian.Uint64(v) + 1
		closer.Close()
	} else if err != pebble.ErrNotFound {
		return 0, fmt.Errorf("pebblestore: read seq: %w", err)
	}

	rec := messageRecord{
		ID:          int64(next),
		SenderID:    senderID,
		RecipientID: recipientID,
		Payload:     payload,
		Timestamp:   time.Now().UTC(),
		Status:      "sent",
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("pebblestore: marshal message: %w", err)
	}

	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], next)

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(messageKey(int64(next)), b, nil); err != nil {
		return 0, fmt.Errorf("pebblestore: stage message: %w", err)
	}
	if err := batch.Set([]byte(seqKey), seqBuf[:], nil); err != nil {
		return 0, fmt.Errorf("pebblestore: stage seq: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("pebblestore: commit message: %w", err)
	}
	return int64(next), nil
}

// NormalizeEmail lowercases and trims an email address, the same transform
// as auth.NormalizeEmail. The Store's own methods do not call it: AddUser,
// GetUserByEmail and the uuid derivation expect an already-normalized
// email.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Package chatproto defines the data types shared by the server and client
// sides of the chat protocol: account records, stored offline messages, and
// the inner envelope payload shapes exchanged once a session is
// authenticated. Keeping these in one package gives both endpoints of the
// wire contract a single definition to import.
package chatproto

import "time"

// User is an account record. ID is a pure function of the normalized email
// (see store/pebblestore's uuid5 derivation) so it is reproducible across
// runs and never needs to round-trip through the wire to be recomputed.
type User struct {
	ID           string
	FullName     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// StoredMessage is a chat body persisted because the recipient was offline
// at delivery time. It is never mutated after creation.
type StoredMessage struct {
	ID          int64
	SenderID    string
	RecipientID string
	Payload     []byte
	Timestamp   time.Time
	Status      string
}

// OnlineUser is the shape returned by whoisonline: just enough to let a
// client address a recipient by id and show a friendly name.
type OnlineUser struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
}

// Inner envelope types, exchanged as the payload of a plaintext envelope
// before the handshake completes, or inside an encrypted_payload afterward.

type LoginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignupPayload struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ChatPayload struct {
	RecipientID string `json:"recipient_id"`
	Text        string `json:"text"`
}

type UserInfo struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

// ResponsePayload is the universal server->client acknowledgement shape.
type ResponsePayload struct {
	Status   string       `json:"status"` // "ok" | "error" | "info"
	Message  string       `json:"message,omitempty"`
	Users    []OnlineUser `json:"users,omitempty"`
	UserInfo *UserInfo    `json:"user_info,omitempty"`
}

// NewMessagePayload is delivered to an online recipient's secure channel.
type NewMessagePayload struct {
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Text       string `json:"text"`
}

// HandshakeStartPayload carries the server's RSA-2048 SPKI public key, PEM-encoded.
type HandshakeStartPayload struct {
	PublicKey string `json:"public_key"`
}

// KeyExchangePayload carries the client's AES key, RSA-OAEP(SHA-256)-encrypted and base64-encoded.
type KeyExchangePayload struct {
	Key string `json:"key"`
}

// HandshakeCompletePayload is the first frame sent through the new secure channel.
type HandshakeCompletePayload struct {
	Message string `json:"message"`
}

// Envelope type string constants, shared by both endpoints.
const (
	TypeHandshakeStart    = "handshake_start"
	TypeKeyExchange       = "key_exchange"
	TypeHandshakeComplete = "handshake_complete"
	TypeEncryptedPayload  = "encrypted_payload"
	TypeLogin             = "login"
	TypeSignup            = "signup"
	TypeChat              = "chat"
	TypeWhoIsOnline       = "whoisonline"
	TypeLogout            = "logout"
	TypeResponse          = "response"
	TypeNewMessage        = "new_message"
)

// Status values used in ResponsePayload.Status.
const (
	StatusOK    = "ok"
	StatusError = "error"
	StatusInfo  = "info"
)

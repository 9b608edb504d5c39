// Package chatclient is the non-GUI counterpart to chatserver: it dials the
// server, performs the client side of the handshake, and exposes paired
// send/receive operations over the resulting secure channel.
package chatclient

import (
	"bufio"
	"context"
	"crypto/rsa"
	"fmt"
	"net"
	"time"

	"github.com/duskline/securechat/chatproto"
	"github.com/duskline/securechat/crypto/aead"
	"github.com/duskline/securechat/crypto/handshake"
	"github.com/duskline/securechat/wire"
)

// Client is one connection to a chat server, past the handshake.
type Client struct {
	conn    net.Conn
	rw      *bufio.ReadWriter
	channel *aead.SecureChannel

	maxLineBytes int
}

// Dial connects to addr and runs the client handshake. pub, if non-nil, is
// accepted for a future pinned-key mode; the current handshake trusts
// whatever key the server presents in handshake_start, matching the
// trust-on-first-use model of the original implementation.
func Dial(ctx context.Context, addr string, pub *rsa.PublicKey, maxLineBytes int) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("chatclient: dial %s: %w", addr, err)
	}

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	channel, err := handshake.ClientHandshake(ctx, rw, pub, handshake.Options{MaxLineBytes: maxLineBytes})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("chatclient: handshake: %w", err)
	}

	return &Client{conn: conn, rw: rw, channel: channel, maxLineBytes: maxLineBytes}, nil
}

// DialWithRetry dials addr, retrying with exponential backoff capped at 10
// seconds on failure (the same schedule as the original client's
// retry_delay = min(10.0, retry_delay*2) loop), until ctx is canceled or a
// connection succeeds.
func DialWithRetry(ctx context.Context, addr string, pub *rsa.PublicKey, maxLineBytes int) (*Client, error) {
	delay := 500 * time.Millisecond
	const maxDelay = 10 * time.Second

	for {
		client, err := Dial(ctx, addr, pub, maxLineBytes)
		if err == nil {
			return client, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// Send encrypts and writes one envelope.
func (c *Client) Send(env wire.Envelope) error {
	inner, err := wire.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	blob, err := c.channel.Encrypt(inner)
	if err != nil {
		return err
	}
	outer := wire.EncryptedEnvelope{Type: chatproto.TypeEncryptedPayload, Payload: blob}
	b, err := wire.EncodeEncrypted(outer)
	if err != nil {
		return err
	}
	return wire.WriteLine(c.rw.Writer, b)
}

// Recv reads and decrypts the next envelope.
func (c *Client) Recv() (wire.Envelope, error) {
	line, err := wire.ReadLine(c.rw.Reader, c.maxLineBytes)
	if err != nil {
		return wire.Envelope{}, err
	}
	outer, err := wire.DecodeEncrypted(line)
	if err != nil {
		return wire.Envelope{}, err
	}
	plaintext, err := c.channel.Decrypt(outer.Payload)
	if err != nil {
		return wire.Envelope{}, err
	}
	return wire.DecodeEnvelope(plaintext)
}

// Login sends a login envelope and returns the server's response.
func (c *Client) Login(email, password string) (chatproto.ResponsePayload, error) {
	if err := c.Send(wire.Envelope{
		Type:    chatproto.TypeLogin,
		Payload: wire.MustMarshalPayload(chatproto.LoginPayload{Email: email, Password: password}),
	}); err != nil {
		return chatproto.ResponsePayload{}, err
	}
	return c.recvResponse()
}

// SignUp sends a signup envelope and returns the server's response.
func (c *Client) SignUp(fullName, email, password string) (chatproto.ResponsePayload, error) {
	if err := c.Send(wire.Envelope{
		Type: chatproto.TypeSignup,
		Payload: wire.MustMarshalPayload(chatproto.SignupPayload{
			FullName: fullName, Email: email, Password: password,
		}),
	}); err != nil {
		return chatproto.ResponsePayload{}, err
	}
	return c.recvResponse()
}

// Chat sends a chat envelope. The server's reply, if any (offline-storage
// notice), is not waited for here; callers read it through Recv along with
// new_message deliveries from other users.
func (c *Client) Chat(recipientID, text string) error {
	return c.Send(wire.Envelope{
		Type:    chatproto.TypeChat,
		Payload: wire.MustMarshalPayload(chatproto.ChatPayload{RecipientID: recipientID, Text: text}),
	})
}

// WhoIsOnline sends a whoisonline envelope and returns the server's response.
func (c *Client) WhoIsOnline() (chatproto.ResponsePayload, error) {
	if err := c.Send(wire.Envelope{Type: chatproto.TypeWhoIsOnline}); err != nil {
		return chatproto.ResponsePayload{}, err
	}
	return c.recvResponse()
}

// Logout sends a logout envelope. The server does not reply to it.
func (c *Client) Logout() error {
	return c.Send(wire.Envelope{Type: chatproto.TypeLogout})
}

func (c *Client) recvResponse() (chatproto.ResponsePayload, error) {
	env, err := c.Recv()
	if err != nil {
		return chatproto.ResponsePayload{}, err
	}
	var resp chatproto.ResponsePayload
	if err := decodeInto(env.Payload, &resp); err != nil {
		return chatproto.ResponsePayload{}, err
	}
	return resp, nil
}

